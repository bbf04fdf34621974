package agents

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"brain/internal/logging"
	"brain/internal/retry"
	"brain/internal/types"
	"brain/internal/usage"
)

// Scout extracts atomic, typed entities with polarity from free text.
type Scout struct {
	llm        types.LLMClient
	maxRetries int
}

// NewScout creates a Scout over the given model client.
func NewScout(llm types.LLMClient, maxJSONRetries int) *Scout {
	if maxJSONRetries <= 0 {
		maxJSONRetries = 3
	}
	return &Scout{llm: llm, maxRetries: maxJSONRetries}
}

// ScoutResult is the outcome of one extraction pass.
type ScoutResult struct {
	Entities []*types.ScoutEntity
	Usage    usage.TokenDetail
}

// scoutWire is the model's response shape.
type scoutWire struct {
	Entities []*types.ScoutEntity `json:"entities"`
}

// Extract decomposes text into atomic entities. Empty text yields an empty
// result without a model call. Persistent malformed output degrades to an
// empty entity list; transport failures surface as an error for the chunk.
func (s *Scout) Extract(ctx context.Context, text string, targeting *types.Node, brain string) (*ScoutResult, error) {
	result := &ScoutResult{}
	text = strings.TrimSpace(text)
	if text == "" {
		return result, nil
	}

	timer := logging.StartTimer(logging.CategoryScout, "extract")
	defer timer.Stop()
	logging.Scout("Extract: brain=%s text_len=%d", brain, len(text))

	prompt := buildScoutPrompt(text, targeting)
	resp, err := retry.DoValue(ctx, retry.AdapterPolicy(), "scout.extract", func(ctx context.Context) (*types.LLMResponse, error) {
		r, err := s.llm.GenerateJSON(ctx, prompt, 0, s.maxRetries)
		if err != nil && r != nil {
			// Usage spent on failed attempts still counts.
			result.Usage = usage.Merge(result.Usage, usage.FromUsage(r.Usage))
		}
		return r, retry.Transient(err)
	})
	if err != nil {
		logging.ScoutError("Extract: model failed for brain=%s: %v", brain, err)
		return result, err
	}
	result.Usage = usage.Merge(result.Usage, usage.FromUsage(resp.Usage))

	var wire scoutWire
	if err := json.Unmarshal([]byte(resp.Text), &wire); err != nil {
		// Malformed despite the client's internal retries: degrade to empty.
		logging.ScoutError("Extract: unparseable entity list, returning empty: %v", err)
		return result, nil
	}

	for _, e := range wire.Entities {
		if e == nil || strings.TrimSpace(e.Name) == "" {
			continue
		}
		e.Name = strings.TrimSpace(e.Name)
		e.Type = strings.ToUpper(strings.TrimSpace(e.Type))
		if e.UUID == "" {
			e.UUID = uuid.NewString()
		}
		if !e.Polarity.Valid() {
			e.Polarity = types.PolarityNeutral
		}
		normalizeEntityDates(e)
		result.Entities = append(result.Entities, e)
	}

	logging.Scout("Extract: brain=%s entities=%d usage=[%s]", brain, len(result.Entities), result.Usage.String())
	return result, nil
}

// dateLayouts are the input formats tolerated for happened_at values.
var dateLayouts = []string{
	"02/01/2006",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	time.RFC3339,
}

// normalizeEntityDates rewrites the happened_at property to DD/MM/YYYY.
func normalizeEntityDates(e *types.ScoutEntity) {
	if e.Properties == nil {
		return
	}
	raw := types.ExtractString(e.Properties["happened_at"])
	if raw == "" {
		return
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			e.Properties["happened_at"] = t.Format("02/01/2006")
			return
		}
	}
}
