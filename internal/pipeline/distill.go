package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/disinfo-zone/voidwire-sub000/internal/sources"
	"github.com/disinfo-zone/voidwire-sub000/internal/telemetry"
	"github.com/disinfo-zone/voidwire-sub000/provider"
)

// Distiller condenses raw fetched items into typed signals via the
// language-model gateway.
type Distiller struct {
	llm       provider.Provider
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewDistiller builds the distillation stage.
func NewDistiller(llm provider.Provider, tel *telemetry.Telemetry, logger *log.Logger) *Distiller {
	if logger == nil {
		logger = log.New(log.Writer(), "[DISTILL] ", log.LstdFlags)
	}
	return &Distiller{llm: llm, telemetry: tel, logger: logger}
}

// distilledItem is the shape the model must emit per signal.
type distilledItem struct {
	Summary        string   `json:"summary"`
	Domain         string   `json:"domain"`
	Intensity      string   `json:"intensity"`
	Directionality string   `json:"directionality"`
	Entities       []string `json:"entities"`
	ItemIndexes    []int    `json:"item_indexes"`
}

// Distill turns raw items into signals scoped to the given date and run.
// Signal identities are synthesized from date, run number and sequence.
func (d *Distiller) Distill(ctx context.Context, items []sources.RawItem, date, runID string, runNumber int) ([]Signal, error) {
	if len(items) == 0 {
		return nil, nil
	}

	var b strings.Builder
	for i, it := range items {
		body := it.Body
		if len(body) > 600 {
			body = body[:600]
		}
		fmt.Fprintf(&b, "[%d] source=%s title=%q\n%s\n\n", i, it.Source, it.Title, body)
	}

	messages := []provider.Message{
		{Role: "system", Content: distillSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("DATE: %s\n\nITEMS:\n%s", date, b.String())},
	}
	text, usage, err := d.llm.Generate(ctx, provider.SlotDistill, messages, 0.3)
	if d.telemetry != nil && usage.Model != "" {
		d.telemetry.RecordLLMUsage(usage.Model, usage.PromptTokens, usage.CompletionTokens)
	}
	if err != nil {
		return nil, fmt.Errorf("distillation request: %w", err)
	}

	var parsed []distilledItem
	if err := json.Unmarshal([]byte(stripCodeFences(text)), &parsed); err != nil {
		return nil, fmt.Errorf("parsing distillation output: %w", err)
	}

	signals := make([]Signal, 0, len(parsed))
	for _, item := range parsed {
		if strings.TrimSpace(item.Summary) == "" {
			continue
		}
		sig := Signal{
			ID:             fmt.Sprintf("%s:%d:%03d", date, runNumber, len(signals)+1),
			DateContext:    date,
			RunID:          runID,
			Seq:            len(signals) + 1,
			Summary:        strings.TrimSpace(item.Summary),
			Domain:         coerceEnum(item.Domain, Domains, "culture"),
			Intensity:      coerceEnum(item.Intensity, []string{IntensityMajor, IntensityModerate, IntensityMinor}, IntensityMinor),
			Directionality: coerceEnum(item.Directionality, Directionalities, "stable"),
			Entities:       item.Entities,
		}
		for _, idx := range item.ItemIndexes {
			if idx < 0 || idx >= len(items) {
				continue
			}
			sig.Sources = append(sig.Sources, SourceRef{Name: items[idx].Source, URL: items[idx].URL})
			if items[idx].SourceWeight > sig.SourceWeight {
				sig.SourceWeight = items[idx].SourceWeight
			}
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

// EmbedSignals attaches embedding vectors to signals in place. The caller
// decides whether a failure is fatal; here it never is.
func (d *Distiller) EmbedSignals(ctx context.Context, signals []Signal) error {
	if len(signals) == 0 {
		return nil
	}
	texts := make([]string, len(signals))
	for i, sig := range signals {
		texts[i] = sig.Summary
	}
	vecs, err := d.llm.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding signals: %w", err)
	}
	if len(vecs) != len(signals) {
		return fmt.Errorf("embedding count mismatch: got %d for %d signals", len(vecs), len(signals))
	}
	for i := range signals {
		signals[i].Embedding = vecs[i]
	}
	return nil
}

func coerceEnum(value string, allowed []string, fallback string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if v == a {
			return a
		}
	}
	return fallback
}

const distillSystemPrompt = `You distill the day's raw news items into discrete cultural signals for an esoteric daily bulletin. Merge items describing the same underlying event.

Respond ONLY with a valid JSON array, each element:
{
  "summary": "one dense sentence",
  "domain": "politics|conflict|economy|technology|science|culture|environment|health|esoteric",
  "intensity": "major|moderate|minor",
  "directionality": "rising|falling|stable|volatile",
  "entities": ["named entities involved"],
  "item_indexes": [indexes of the source items]
}
Emit at most 30 signals. Do not include any other text.`
