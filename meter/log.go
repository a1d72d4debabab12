package meter

import (
	log "github.com/sirupsen/logrus"

	"github.com/ineyio/sitegen"
)

// LogMeter logs ledger decisions and provider calls using logrus.
type LogMeter struct {
	Logger log.FieldLogger
}

var _ sitegen.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, the logrus standard logger is used.
func NewLogMeter(logger log.FieldLogger) *LogMeter {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnQuota(e sitegen.QuotaEvent) {
	entry := m.Logger.WithFields(log.Fields{
		"subject": e.SubjectID,
		"op":      string(e.Op),
		"period":  e.PeriodKey,
	})
	if e.Error != nil {
		entry.WithError(e.Error).Error("quota_error")
		return
	}

	entry = entry.WithFields(log.Fields{
		"used":      e.Status.Used,
		"total":     e.Status.Total,
		"remaining": e.Status.Remaining,
	})
	switch {
	case e.Op == sitegen.QuotaOpConsume && !e.Granted:
		entry.Warn("quota_denied")
	case e.Op == sitegen.QuotaOpConsume:
		entry.Info("quota_granted")
	default:
		entry.Debug("quota_status")
	}
}

func (m *LogMeter) OnRoute(e sitegen.RouteEvent) {
	m.Logger.WithFields(log.Fields{
		"provider":         e.Provider,
		"model":            e.Model,
		"attempt":          e.AttemptNum,
		"estimated_tokens": e.EstimatedIn,
	}).Info("route")
}

func (m *LogMeter) OnResult(e sitegen.ResultEvent) {
	entry := m.Logger.WithFields(log.Fields{
		"provider":    e.Provider,
		"model":       e.Model,
		"duration_ms": e.Duration.Milliseconds(),
	})
	if e.Success {
		entry.WithFields(log.Fields{
			"prompt_tokens":     e.Usage.PromptTokens,
			"completion_tokens": e.Usage.CompletionTokens,
		}).Info("result")
		return
	}
	entry.WithError(e.Error).Warn("result_error")
}
