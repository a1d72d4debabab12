package sitegen

// Candidate is a provider binding considered for one generation.
type Candidate struct {
	ProviderBinding

	// Position is the binding's index in the configured failover list.
	Position int
	Health   HealthState
}

// Name returns the provider name.
func (c Candidate) Name() string { return c.Provider.Name() }

// buildCandidates snapshots the health of every configured binding.
func (g *Gateway) buildCandidates() []Candidate {
	candidates := make([]Candidate, 0, len(g.providers))
	for i, b := range g.providers {
		candidates = append(candidates, Candidate{
			ProviderBinding: b,
			Position:        i,
			Health:          g.health.GetHealth(b.Provider.Name()),
		})
	}
	return candidates
}
