package meter

import "github.com/ineyio/sitegen"

// Multi fans every event out to each meter in order.
type Multi []sitegen.Meter

var _ sitegen.Meter = Multi(nil)

func (m Multi) OnQuota(e sitegen.QuotaEvent) {
	for _, mm := range m {
		mm.OnQuota(e)
	}
}

func (m Multi) OnRoute(e sitegen.RouteEvent) {
	for _, mm := range m {
		mm.OnRoute(e)
	}
}

func (m Multi) OnResult(e sitegen.ResultEvent) {
	for _, mm := range m {
		mm.OnResult(e)
	}
}
