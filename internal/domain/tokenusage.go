package domain

// UsageCounts is the set of token counters carried by both the running
// Total and the most recent Last snapshot of a TokenUsage.
type UsageCounts struct {
	TotalTokens           int64 `json:"total_tokens"`
	InputTokens           int64 `json:"input_tokens"`
	CachedInputTokens     int64 `json:"cached_input_tokens"`
	OutputTokens          int64 `json:"output_tokens"`
	ReasoningOutputTokens int64 `json:"reasoning_output_tokens"`
}

// Add returns the element-wise sum of two UsageCounts.
func (u UsageCounts) Add(o UsageCounts) UsageCounts {
	return UsageCounts{
		TotalTokens:           u.TotalTokens + o.TotalTokens,
		InputTokens:           u.InputTokens + o.InputTokens,
		CachedInputTokens:     u.CachedInputTokens + o.CachedInputTokens,
		OutputTokens:          u.OutputTokens + o.OutputTokens,
		ReasoningOutputTokens: u.ReasoningOutputTokens + o.ReasoningOutputTokens,
	}
}

// TokenUsage is the per-chat token accounting side-channel. Last is
// overwritten by each usage event; Total is monotonically non-decreasing
// within a session (spec §3).
type TokenUsage struct {
	Total               UsageCounts `json:"total"`
	Last                UsageCounts `json:"last"`
	ModelContextWindow  *int64      `json:"model_context_window,omitempty"`
}

// Accumulate folds a newly observed usage snapshot into usage, returning
// the updated value: Total grows by the new Last, and Last is replaced.
func (usage TokenUsage) Accumulate(last UsageCounts, modelContextWindow *int64) TokenUsage {
	usage.Total = usage.Total.Add(last)
	usage.Last = last
	if modelContextWindow != nil {
		usage.ModelContextWindow = modelContextWindow
	}
	return usage
}
