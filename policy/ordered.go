// Package policy provides orderings for the gateway's provider failover list.
package policy

import "github.com/ineyio/sitegen"

// Ordered tries providers in the configured order.
type Ordered struct{}

var _ sitegen.Policy = (*Ordered)(nil)

// Select returns a copy of candidates in their configured order.
func (p *Ordered) Select(candidates []sitegen.Candidate) []sitegen.Candidate {
	result := make([]sitegen.Candidate, len(candidates))
	copy(result, candidates)
	return result
}
