package sitegen

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// assistantReply is stored as the assistant turn of a freshly generated frame's chat.
const assistantReply = "Your website has been generated. Ask for changes to refine it."

// ProviderBinding is one entry of the ordered failover list: a provider with
// the model and credentials to call it with.
type ProviderBinding struct {
	Provider Provider
	Model    string
	Auth     Auth
}

// Gateway turns a prompt into a persisted frame. It is the only caller of
// providers, and every provider call is preceded by a granted ledger decision.
type Gateway struct {
	ledger    *Ledger
	projects  ProjectStore
	providers []ProviderBinding
	meter     Meter
	health    *HealthTracker
	policy    Policy
	logger    log.FieldLogger
	clock     Clock

	temperature *float64
	maxTokens   *int
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithMeter sets the meter.
func WithMeter(m Meter) GatewayOption {
	return func(g *Gateway) { g.meter = m }
}

// WithHealthTracker sets the health tracker.
func WithHealthTracker(h *HealthTracker) GatewayOption {
	return func(g *Gateway) { g.health = h }
}

// WithPolicy sets the ordering of the failover list.
func WithPolicy(p Policy) GatewayOption {
	return func(g *Gateway) { g.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// WithGatewayClock sets the time source used for Retry-After hints.
func WithGatewayClock(c Clock) GatewayOption {
	return func(g *Gateway) { g.clock = c }
}

// WithTemperature sets the sampling temperature sent to providers.
func WithTemperature(t float64) GatewayOption {
	return func(g *Gateway) { g.temperature = Float64Ptr(t) }
}

// WithMaxTokens caps the completion length requested from providers.
func WithMaxTokens(n int) GatewayOption {
	return func(g *Gateway) { g.maxTokens = IntPtr(n) }
}

// NewGateway creates a Gateway. Providers are tried in the given order unless
// a Policy reorders them.
func NewGateway(ledger *Ledger, projects ProjectStore, providers []ProviderBinding, opts ...GatewayOption) (*Gateway, error) {
	if ledger == nil {
		return nil, fmt.Errorf("sitegen: ledger is required")
	}
	if projects == nil {
		return nil, fmt.Errorf("sitegen: project store is required")
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("sitegen: at least one provider is required")
	}
	for i, b := range providers {
		if b.Provider == nil {
			return nil, fmt.Errorf("sitegen: provider %d is nil", i)
		}
	}

	g := &Gateway{
		ledger:    ledger,
		projects:  projects,
		providers: providers,
	}
	for _, opt := range opts {
		opt(g)
	}

	// Apply defaults after options.
	if g.meter == nil {
		g.meter = noopMeter{}
	}
	if g.health == nil {
		g.health = NewHealthTracker()
	}
	if g.policy == nil {
		g.policy = orderedPolicy{}
	}
	if g.logger == nil {
		g.logger = log.StandardLogger()
	}
	if g.clock == nil {
		g.clock = SystemClock()
	}

	return g, nil
}

// GenerateRequest asks for a new frame in a project.
type GenerateRequest struct {
	SubjectID string
	ProjectID string
	Prompt    string
}

// GenerateResult is a persisted frame with the quota left after the grant.
type GenerateResult struct {
	Frame   Frame
	Chat    Chat
	Status  QuotaStatus
	Routing RoutingInfo
	Usage   Usage
}

// Generate checks project ownership, validates the prompt, consumes one unit
// of the subject's quota and then calls providers until one succeeds.
//
// A denied quota check returns a *QuotaError. A consumed unit is not returned
// when every provider fails.
func (g *Gateway) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	if err := ValidateSubject(req.SubjectID); err != nil {
		return GenerateResult{}, err
	}
	if _, err := OwnedProject(ctx, g.projects, req.SubjectID, req.ProjectID); err != nil {
		return GenerateResult{}, err
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return GenerateResult{}, fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}

	decision, err := g.ledger.TryConsume(ctx, req.SubjectID)
	if err != nil {
		return GenerateResult{}, err
	}
	if !decision.Granted {
		return GenerateResult{}, &QuotaError{
			SubjectID:  req.SubjectID,
			Status:     decision.Status,
			RetryAfter: decision.ResetAt.Sub(g.clock.Now()),
		}
	}

	logger := g.logger.WithFields(log.Fields{
		"subject": req.SubjectID,
		"project": req.ProjectID,
	})

	resp, routing, err := g.complete(ctx, prompt, logger)
	if err != nil {
		logger.WithError(err).Warn("generation failed")
		return GenerateResult{}, err
	}

	frame, err := g.projects.CreateFrame(ctx, Frame{
		ID:        NewFrameID(),
		ProjectID: req.ProjectID,
		Design:    ParseBundle(resp.Content),
	})
	if err != nil {
		return GenerateResult{}, fmt.Errorf("sitegen: save frame: %w", err)
	}

	chat := Chat{
		FrameID: frame.ID,
		OwnerID: req.SubjectID,
		Messages: []Message{
			{Role: "user", Content: prompt},
			{Role: "assistant", Content: assistantReply},
		},
	}
	if err := g.projects.SaveChat(ctx, chat); err != nil {
		return GenerateResult{}, fmt.Errorf("sitegen: save chat: %w", err)
	}

	logger.WithFields(log.Fields{
		"frame":    frame.ID,
		"provider": routing.Provider,
		"attempts": routing.Attempts,
		"used":     decision.Status.Used,
	}).Info("frame generated")

	return GenerateResult{
		Frame:   frame,
		Chat:    chat,
		Status:  decision.Status,
		Routing: routing,
		Usage:   resp.Usage,
	}, nil
}

// complete runs the failover loop over the configured providers.
func (g *Gateway) complete(ctx context.Context, prompt string, logger log.FieldLogger) (ProviderResponse, RoutingInfo, error) {
	messages := []Message{{Role: "user", Content: BuildPrompt(prompt)}}
	estimated := EstimateTokens(messages)

	var lastErr error
	attempts := 0
	for _, b := range g.policy.Select(g.buildCandidates()) {
		name := b.Name()
		if !g.health.Allow(name) {
			logger.WithField("provider", name).Debug("skipping unhealthy provider")
			continue
		}
		attempts++

		g.meter.OnRoute(RouteEvent{
			Provider:    name,
			Model:       b.Model,
			AttemptNum:  attempts,
			EstimatedIn: estimated,
		})

		start := time.Now()
		resp, err := b.Provider.Generate(ctx, ProviderRequest{
			Auth:        b.Auth,
			Model:       b.Model,
			Messages:    messages,
			Temperature: g.temperature,
			MaxTokens:   g.maxTokens,
		})
		duration := time.Since(start)
		if err == nil && strings.TrimSpace(resp.Content) == "" {
			err = fmt.Errorf("%w: %s returned no content", ErrProviderUnavailable, name)
		}

		if err != nil {
			g.health.RecordFailure(name)
			g.meter.OnResult(ResultEvent{
				Provider: name,
				Model:    b.Model,
				Success:  false,
				Duration: duration,
				Error:    err,
			})

			if IsFatal(err) || ctx.Err() != nil {
				return ProviderResponse{}, RoutingInfo{}, &GatewayError{
					Err:      err,
					Provider: name,
					Model:    b.Model,
					Attempts: attempts,
				}
			}

			logger.WithError(err).WithField("provider", name).Warn("provider failed, trying next")
			lastErr = err
			continue
		}

		g.health.RecordSuccess(name)
		g.meter.OnResult(ResultEvent{
			Provider: name,
			Model:    b.Model,
			Success:  true,
			Duration: duration,
			Usage:    resp.Usage,
		})

		return resp, RoutingInfo{Provider: name, Model: b.Model, Attempts: attempts}, nil
	}

	if lastErr == nil {
		return ProviderResponse{}, RoutingInfo{}, &GatewayError{Err: ErrNoProviders, Attempts: attempts}
	}
	return ProviderResponse{}, RoutingInfo{}, &GatewayError{
		Err:      fmt.Errorf("%w: %w", ErrAllFailed, lastErr),
		Attempts: attempts,
	}
}

// OwnedProject loads a project and checks that subjectID owns it.
func OwnedProject(ctx context.Context, store ProjectStore, subjectID, projectID string) (Project, error) {
	if projectID == "" {
		return Project{}, fmt.Errorf("%w: project id is required", ErrInvalidRequest)
	}
	p, err := store.GetProject(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	if p.OwnerID != subjectID {
		return Project{}, ErrForbidden
	}
	return p, nil
}
