// Package usage aggregates token counts across agent invocations.
package usage

import (
	"fmt"

	"brain/internal/types"
)

// InputDetail breaks input tokens into cached and uncached counts.
type InputDetail struct {
	Total    int64   `json:"total"`
	Uncached int64   `json:"uncached"`
	Cached   int64   `json:"cached"`
	CachePct float64 `json:"cache_pct"`
}

// OutputDetail breaks output tokens into regular and reasoning counts.
type OutputDetail struct {
	Total        int64   `json:"total"`
	Regular      int64   `json:"regular"`
	Reasoning    int64   `json:"reasoning"`
	ReasoningPct float64 `json:"reasoning_pct"`
}

// TokenDetail is the hierarchical token accounting record. Values merge as a
// monoid: Merge is associative and commutative, and Zero is its identity.
// Percentages are derived from the counters on every merge.
type TokenDetail struct {
	Input          InputDetail  `json:"input"`
	Output         OutputDetail `json:"output"`
	GrandTotal     int64        `json:"grand_total"`
	EffectiveTotal int64        `json:"effective_total"`
}

// Zero returns the monoid identity.
func Zero() TokenDetail {
	return TokenDetail{}
}

// FromUsage converts one model response's usage metadata into a TokenDetail.
func FromUsage(u types.UsageMetadata) TokenDetail {
	d := TokenDetail{
		Input: InputDetail{
			Total:    int64(u.InputTokens),
			Cached:   int64(u.CachedContentTokens),
			Uncached: int64(u.InputTokens - u.CachedContentTokens),
		},
		Output: OutputDetail{
			Total:     int64(u.OutputTokens),
			Reasoning: int64(u.ThinkingTokens),
			Regular:   int64(u.OutputTokens - u.ThinkingTokens),
		},
	}
	if d.Input.Uncached < 0 {
		d.Input.Uncached = 0
	}
	if d.Output.Regular < 0 {
		d.Output.Regular = 0
	}
	return normalize(d)
}

// Merge combines two TokenDetails into a new one. Pure function: neither
// argument is mutated.
func Merge(a, b TokenDetail) TokenDetail {
	return normalize(TokenDetail{
		Input: InputDetail{
			Total:    a.Input.Total + b.Input.Total,
			Uncached: a.Input.Uncached + b.Input.Uncached,
			Cached:   a.Input.Cached + b.Input.Cached,
		},
		Output: OutputDetail{
			Total:     a.Output.Total + b.Output.Total,
			Regular:   a.Output.Regular + b.Output.Regular,
			Reasoning: a.Output.Reasoning + b.Output.Reasoning,
		},
	})
}

// MergeAll folds any number of TokenDetails, starting from Zero.
func MergeAll(details ...TokenDetail) TokenDetail {
	total := Zero()
	for _, d := range details {
		total = Merge(total, d)
	}
	return total
}

// normalize recomputes percentages and totals from the raw counters.
func normalize(d TokenDetail) TokenDetail {
	d.Input.CachePct = 0
	if d.Input.Total > 0 {
		d.Input.CachePct = 100 * float64(d.Input.Cached) / float64(d.Input.Total)
	}
	d.Output.ReasoningPct = 0
	if d.Output.Total > 0 {
		d.Output.ReasoningPct = 100 * float64(d.Output.Reasoning) / float64(d.Output.Total)
	}
	d.GrandTotal = d.Input.Total + d.Output.Total
	// Cached input tokens are discounted from the effective count.
	d.EffectiveTotal = d.Input.Uncached + d.Output.Total
	return d
}

// String renders a compact single-line summary for logs.
func (d TokenDetail) String() string {
	return fmt.Sprintf("in=%d (cached=%d) out=%d (reasoning=%d) total=%d effective=%d",
		d.Input.Total, d.Input.Cached, d.Output.Total, d.Output.Reasoning,
		d.GrandTotal, d.EffectiveTotal)
}
