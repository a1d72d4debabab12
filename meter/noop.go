package meter

import "github.com/ineyio/sitegen"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ sitegen.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnQuota(sitegen.QuotaEvent)   {}
func (m *NoopMeter) OnRoute(sitegen.RouteEvent)   {}
func (m *NoopMeter) OnResult(sitegen.ResultEvent) {}
