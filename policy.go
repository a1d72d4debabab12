package sitegen

// Policy orders the failover list for a single generation.
type Policy interface {
	// Select orders candidates by priority. Returns ordered slice (highest priority first).
	Select(candidates []Candidate) []Candidate
}

// orderedPolicy keeps the configured order.
type orderedPolicy struct{}

func (orderedPolicy) Select(candidates []Candidate) []Candidate { return candidates }
