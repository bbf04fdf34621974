package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"brain/internal/types"
)

func detail(in, cached, out, reasoning int64) TokenDetail {
	return FromUsage(types.UsageMetadata{
		InputTokens:         int(in),
		CachedContentTokens: int(cached),
		OutputTokens:        int(out),
		ThinkingTokens:      int(reasoning),
	})
}

func TestMergeMonoidLaws(t *testing.T) {
	a := detail(100, 40, 30, 10)
	b := detail(7, 0, 13, 13)
	c := detail(1000, 999, 1, 0)

	t.Run("zero is identity", func(t *testing.T) {
		for _, d := range []TokenDetail{a, b, c, Zero()} {
			assert.Equal(t, d, Merge(d, Zero()))
			assert.Equal(t, d, Merge(Zero(), d))
		}
	})

	t.Run("commutative", func(t *testing.T) {
		assert.Equal(t, Merge(a, b), Merge(b, a))
		assert.Equal(t, Merge(a, c), Merge(c, a))
	})

	t.Run("associative", func(t *testing.T) {
		assert.Equal(t, Merge(Merge(a, b), c), Merge(a, Merge(b, c)))
	})

	t.Run("arguments not mutated", func(t *testing.T) {
		before := a
		Merge(a, b)
		assert.Equal(t, before, a)
	})
}

func TestMergeRecomputesDerivedFields(t *testing.T) {
	a := detail(100, 40, 30, 10)
	b := detail(100, 60, 70, 0)

	m := Merge(a, b)
	assert.Equal(t, int64(200), m.Input.Total)
	assert.Equal(t, int64(100), m.Input.Cached)
	assert.Equal(t, int64(100), m.Input.Uncached)
	assert.Equal(t, int64(100), m.Output.Total)
	assert.Equal(t, int64(10), m.Output.Reasoning)
	assert.Equal(t, int64(90), m.Output.Regular)

	// Percentages come from the merged counters, not from averaging inputs.
	assert.InDelta(t, 50.0, m.Input.CachePct, 1e-9)
	assert.InDelta(t, 10.0, m.Output.ReasoningPct, 1e-9)

	assert.Equal(t, int64(300), m.GrandTotal)
	// Cached input is discounted: uncached input plus all output.
	assert.Equal(t, int64(200), m.EffectiveTotal)
}

func TestMergeAllFoldsFromZero(t *testing.T) {
	a := detail(10, 0, 5, 0)
	b := detail(20, 10, 0, 0)
	c := detail(0, 0, 15, 5)

	total := MergeAll(a, b, c)
	assert.Equal(t, Merge(Merge(a, b), c), total)
	assert.Equal(t, int64(50), total.GrandTotal)
	assert.Equal(t, int64(40), total.EffectiveTotal)

	assert.Equal(t, Zero(), MergeAll())
	assert.Equal(t, a, MergeAll(a))
}

func TestFromUsageClampsInconsistentCounts(t *testing.T) {
	// Cached exceeding input and thinking exceeding output both clamp to zero
	// instead of going negative.
	d := FromUsage(types.UsageMetadata{
		InputTokens:         5,
		CachedContentTokens: 9,
		OutputTokens:        3,
		ThinkingTokens:      7,
	})
	assert.Equal(t, int64(0), d.Input.Uncached)
	assert.Equal(t, int64(0), d.Output.Regular)
	assert.Equal(t, int64(8), d.GrandTotal)
	assert.Equal(t, int64(3), d.EffectiveTotal)
}
