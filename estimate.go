package sitegen

// EstimateTokens gives a rough prompt size: about four characters per token
// plus a small per-message and per-request overhead.
func EstimateTokens(messages []Message) int64 {
	var total int64
	for _, m := range messages {
		total += int64(len(m.Content))/4 + 4
	}
	return total + 3
}
