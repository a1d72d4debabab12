package sitegen

import "time"

// Meter observes quota decisions and provider calls for monitoring/logging.
type Meter interface {
	// OnQuota is called after every ledger decision or status read.
	OnQuota(event QuotaEvent)

	// OnRoute is called when a provider is about to be tried.
	OnRoute(event RouteEvent)

	// OnResult is called when a provider returns a result.
	OnResult(event ResultEvent)
}

// QuotaOp names the ledger operation behind a QuotaEvent.
type QuotaOp string

const (
	QuotaOpStatus  QuotaOp = "status"
	QuotaOpConsume QuotaOp = "consume"
)

// QuotaEvent describes a ledger operation.
type QuotaEvent struct {
	SubjectID string
	Op        QuotaOp
	Granted   bool
	Status    QuotaStatus
	PeriodKey string
	Error     error
}

// RouteEvent describes a provider attempt.
type RouteEvent struct {
	Provider    string
	Model       string
	AttemptNum  int
	EstimatedIn int64
}

// ResultEvent describes the outcome of a provider call.
type ResultEvent struct {
	Provider string
	Model    string
	Success  bool
	Duration time.Duration
	Usage    Usage
	Error    error
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (noopMeter) OnQuota(QuotaEvent)   {}
func (noopMeter) OnRoute(RouteEvent)   {}
func (noopMeter) OnResult(ResultEvent) {}
