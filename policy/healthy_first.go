package policy

import (
	"sort"

	"github.com/ineyio/sitegen"
)

// HealthyFirst tries providers with a closed circuit before half-open ones,
// keeping the configured order inside each group. A half-open provider is only
// probed once every healthy provider has failed.
type HealthyFirst struct{}

var _ sitegen.Policy = (*HealthyFirst)(nil)

// Select orders candidates: healthy, then half-open, then unhealthy.
func (p *HealthyFirst) Select(candidates []sitegen.Candidate) []sitegen.Candidate {
	result := make([]sitegen.Candidate, len(candidates))
	copy(result, candidates)

	sort.SliceStable(result, func(i, j int) bool {
		ri, rj := rank(result[i].Health), rank(result[j].Health)
		if ri != rj {
			return ri < rj
		}
		return result[i].Position < result[j].Position
	})

	return result
}

func rank(h sitegen.HealthState) int {
	switch h {
	case sitegen.HealthHealthy:
		return 0
	case sitegen.HealthHalfOpen:
		return 1
	default:
		return 2
	}
}

// ByName returns the policy registered under name: "ordered" or "healthy_first".
func ByName(name string) (sitegen.Policy, bool) {
	switch name {
	case "", sitegen.PolicyOrdered:
		return &Ordered{}, true
	case sitegen.PolicyHealthyFirst:
		return &HealthyFirst{}, true
	default:
		return nil, false
	}
}
