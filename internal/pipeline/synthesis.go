package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/disinfo-zone/voidwire-sub000/config"
	"github.com/disinfo-zone/voidwire-sub000/internal/ephemeris"
	"github.com/disinfo-zone/voidwire-sub000/internal/telemetry"
	"github.com/disinfo-zone/voidwire-sub000/provider"
)

// Synthesizer drives the two-pass generation protocol. It never returns
// an error: on exhaustion it produces the fixed fallback artifact and a
// diagnostic for the run record.
type Synthesizer struct {
	llm       provider.Provider
	cfg       config.SynthesisConfig
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewSynthesizer builds the synthesis coordinator.
func NewSynthesizer(llm provider.Provider, cfg config.SynthesisConfig, tel *telemetry.Telemetry, logger *log.Logger) *Synthesizer {
	if logger == nil {
		logger = log.New(log.Writer(), "[SYNTH] ", log.LstdFlags)
	}
	return &Synthesizer{llm: llm, cfg: cfg.Normalize(), telemetry: tel, logger: logger}
}

// proseContent is the structured shape Pass B must produce.
type proseContent struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Sections []string `json:"sections"`
}

// Synthesize runs Pass A (plan, one attempt, failure tolerated) then Pass
// B (prose, bounded attempts at decreasing temperature with one repair
// re-prompt per attempt).
func (s *Synthesizer) Synthesize(ctx context.Context, eph ephemeris.Ephemeris, selected []Signal, threads []ThreadRef, date string, skyOnly bool) SynthesisResult {
	plan := s.planPass(ctx, eph, selected, threads, date, skyOnly)

	temperature := s.cfg.StartTemperature
	var lastErr error
	for attempt := 0; attempt < s.cfg.ProseAttempts; attempt++ {
		if attempt > 0 {
			temperature -= s.cfg.TemperatureStep
			if temperature < s.cfg.FloorTemperature {
				temperature = s.cfg.FloorTemperature
			}
		}

		content, err := s.prosePass(ctx, plan, eph, selected, threads, date, skyOnly, temperature)
		if err != nil {
			lastErr = err
			s.logger.Printf("prose attempt %d (temp %.2f) failed: %v", attempt+1, temperature, err)
			continue
		}
		return SynthesisResult{
			Artifact: Artifact{
				Title:    content.Title,
				Body:     content.Body,
				Sections: content.Sections,
				SkyOnly:  skyOnly,
			},
			Plan: plan,
		}
	}

	diag := "synthesis exhausted all attempts"
	if lastErr != nil {
		diag = fmt.Sprintf("synthesis exhausted all attempts: %v", lastErr)
	}
	return SynthesisResult{
		Artifact:   fallbackArtifact(skyOnly),
		Plan:       plan,
		Diagnostic: diag,
		Fallback:   true,
	}
}

// planPass makes a single planning attempt. Any failure degrades to a
// nil plan rather than aborting.
func (s *Synthesizer) planPass(ctx context.Context, eph ephemeris.Ephemeris, selected []Signal, threads []ThreadRef, date string, skyOnly bool) json.RawMessage {
	messages := []provider.Message{
		{Role: "system", Content: planSystemPrompt},
		{Role: "user", Content: s.contextPrompt(eph, selected, threads, date, skyOnly)},
	}
	text, usage, err := s.llm.Generate(ctx, provider.SlotPlan, messages, 0.4)
	s.recordUsage(usage)
	if err != nil {
		s.logger.Printf("plan pass failed, continuing without a plan: %v", err)
		return nil
	}
	cleaned := stripCodeFences(text)
	if !json.Valid([]byte(cleaned)) {
		s.logger.Printf("plan pass returned invalid JSON, continuing without a plan")
		return nil
	}
	return json.RawMessage(cleaned)
}

// prosePass makes one generation attempt at the given temperature, with
// exactly one repair re-prompt on parse or validation failure.
func (s *Synthesizer) prosePass(ctx context.Context, plan json.RawMessage, eph ephemeris.Ephemeris, selected []Signal, threads []ThreadRef, date string, skyOnly bool, temperature float64) (proseContent, error) {
	userPrompt := s.contextPrompt(eph, selected, threads, date, skyOnly)
	if len(plan) > 0 {
		userPrompt += "\n\nPLAN:\n" + string(plan)
	}
	messages := []provider.Message{
		{Role: "system", Content: proseSystemPrompt},
		{Role: "user", Content: userPrompt},
	}

	text, usage, err := s.llm.Generate(ctx, provider.SlotProse, messages, temperature)
	s.recordUsage(usage)
	if err != nil {
		return proseContent{}, err
	}

	content, parseErr := parseProse(text)
	if parseErr == nil {
		return content, nil
	}

	repair := append(messages,
		provider.Message{Role: "assistant", Content: text},
		provider.Message{Role: "user", Content: fmt.Sprintf("Your previous output was invalid: %v. Respond again with only the corrected JSON object.", parseErr)},
	)
	repaired, usage, err := s.llm.Generate(ctx, provider.SlotProse, repair, temperature)
	s.recordUsage(usage)
	if err != nil {
		return proseContent{}, fmt.Errorf("repair request failed after %v: %w", parseErr, err)
	}
	content, err = parseProse(repaired)
	if err != nil {
		return proseContent{}, fmt.Errorf("repair output still invalid: %w", err)
	}
	return content, nil
}

func parseProse(text string) (proseContent, error) {
	var content proseContent
	if err := json.Unmarshal([]byte(stripCodeFences(text)), &content); err != nil {
		return proseContent{}, fmt.Errorf("parsing prose JSON: %w", err)
	}
	if strings.TrimSpace(content.Title) == "" {
		return proseContent{}, fmt.Errorf("missing required field: title")
	}
	if strings.TrimSpace(content.Body) == "" {
		return proseContent{}, fmt.Errorf("missing required field: body")
	}
	return content, nil
}

func (s *Synthesizer) contextPrompt(eph ephemeris.Ephemeris, selected []Signal, threads []ThreadRef, date string, skyOnly bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "DATE: %s\n\n", date)

	ephJSON, _ := json.Marshal(eph)
	fmt.Fprintf(&b, "SKY:\n%s\n", ephJSON)

	if skyOnly {
		b.WriteString("\nNo cultural signals are available today. Work from the sky alone.\n")
		return b.String()
	}

	if len(selected) > 0 {
		b.WriteString("\nSIGNALS:\n")
		for _, sig := range selected {
			marker := "-"
			if sig.WasWildCard {
				marker = "~"
			}
			fmt.Fprintf(&b, "%s [%s/%s/%s] %s\n", marker, sig.Domain, sig.Intensity, sig.Directionality, sig.Summary)
		}
	}
	if len(threads) > 0 {
		b.WriteString("\nONGOING THREADS:\n")
		for _, th := range threads {
			fmt.Fprintf(&b, "- (%s, seen %dx) %s\n", th.Domain, th.Appearances, th.Summary)
		}
	}
	return b.String()
}

func (s *Synthesizer) recordUsage(usage provider.Usage) {
	if s.telemetry == nil || usage.Model == "" {
		return
	}
	s.telemetry.RecordLLMUsage(usage.Model, usage.PromptTokens, usage.CompletionTokens)
}

// fallbackArtifact is the fixed payload used when generation is
// exhausted. Deliberately versionless and constant.
func fallbackArtifact(skyOnly bool) Artifact {
	return Artifact{
		Title:    "Transmission Interrupted",
		Body:     "The wire carries no voice today. The sky turns regardless; consult it directly and return tomorrow.",
		SkyOnly:  skyOnly,
		Fallback: true,
	}
}

// stripCodeFences removes a markdown code fence wrapper if the model
// added one around its JSON.
func stripCodeFences(text string) string {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "```") {
		if idx := strings.Index(t, "\n"); idx >= 0 {
			t = t[idx+1:]
		}
		t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	}
	return strings.TrimSpace(t)
}

const planSystemPrompt = `You are the planning stage of a daily esoteric bulletin. Given today's sky and the day's cultural signals, produce a terse editorial plan.

Respond ONLY with valid JSON:
{
  "angle": "the day's central tension or theme",
  "sky_emphasis": ["aspects or placements worth foregrounding"],
  "signal_emphasis": ["signal summaries worth foregrounding"],
  "tone": "one word"
}
Do not include any other text.`

const proseSystemPrompt = `You are the voice of a daily esoteric bulletin: oracular but concrete, never vague. Weave the sky and the day's signals into one coherent dispatch.

Respond ONLY with valid JSON:
{
  "title": "bulletin title",
  "body": "the full bulletin prose",
  "sections": ["optional short section strings"]
}
Do not include any other text or explanation.`
