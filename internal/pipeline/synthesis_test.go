package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/disinfo-zone/voidwire-sub000/config"
	"github.com/disinfo-zone/voidwire-sub000/internal/ephemeris"
	"github.com/disinfo-zone/voidwire-sub000/provider"
)

// generateCall records one Generate invocation on the stub gateway.
type generateCall struct {
	slot        provider.Slot
	temperature float64
	messages    []provider.Message
}

// stubProvider scripts Generate responses per call order and records the
// calls it receives.
type stubProvider struct {
	calls     []generateCall
	responses []func(call generateCall) (string, error)
	vectors   [][]float32
	embedErr  error
}

func (p *stubProvider) Generate(ctx context.Context, slot provider.Slot, messages []provider.Message, temperature float64) (string, provider.Usage, error) {
	call := generateCall{slot: slot, temperature: temperature, messages: messages}
	p.calls = append(p.calls, call)
	if len(p.responses) == 0 {
		return "", provider.Usage{}, errors.New("stub exhausted")
	}
	next := p.responses[0]
	p.responses = p.responses[1:]
	text, err := next(call)
	return text, provider.Usage{Model: "stub", PromptTokens: 10, CompletionTokens: 10}, err
}

func (p *stubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if p.embedErr != nil {
		return nil, p.embedErr
	}
	if p.vectors != nil {
		return p.vectors, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (p *stubProvider) ModelForSlot(slot provider.Slot) string { return "stub" }

func ok(text string) func(generateCall) (string, error) {
	return func(generateCall) (string, error) { return text, nil }
}

func fail(msg string) func(generateCall) (string, error) {
	return func(generateCall) (string, error) { return "", errors.New(msg) }
}

const validProse = `{"title": "The Day Turns", "body": "Prose for the day.", "sections": ["one"]}`

func newTestSynthesizer(p provider.Provider) *Synthesizer {
	return NewSynthesizer(p, config.SynthesisConfig{}, nil, nil)
}

func TestSynthesizeHappyPath(t *testing.T) {
	stub := &stubProvider{responses: []func(generateCall) (string, error){
		ok(`{"angle": "tension", "tone": "dry"}`),
		ok(validProse),
	}}
	s := newTestSynthesizer(stub)

	res := s.Synthesize(context.Background(), ephemeris.Compute("2025-03-01"), nil, nil, "2025-03-01", false)
	if res.Fallback {
		t.Fatalf("unexpected fallback: %s", res.Diagnostic)
	}
	if res.Artifact.Title != "The Day Turns" {
		t.Fatalf("title = %q", res.Artifact.Title)
	}
	if len(res.Plan) == 0 {
		t.Fatalf("plan not retained")
	}
	if len(stub.calls) != 2 {
		t.Fatalf("expected 2 calls (plan + prose), got %d", len(stub.calls))
	}
	if stub.calls[0].slot != provider.SlotPlan || stub.calls[0].temperature != 0.4 {
		t.Fatalf("plan call = %v at %v", stub.calls[0].slot, stub.calls[0].temperature)
	}
	if stub.calls[1].slot != provider.SlotProse || stub.calls[1].temperature != 0.7 {
		t.Fatalf("prose call = %v at %v", stub.calls[1].slot, stub.calls[1].temperature)
	}
}

func TestSynthesizePlanFailureTolerated(t *testing.T) {
	stub := &stubProvider{responses: []func(generateCall) (string, error){
		fail("plan model down"),
		ok(validProse),
	}}
	s := newTestSynthesizer(stub)

	res := s.Synthesize(context.Background(), ephemeris.Compute("2025-03-01"), nil, nil, "2025-03-01", false)
	if res.Fallback {
		t.Fatalf("plan failure must not force fallback: %s", res.Diagnostic)
	}
	if len(res.Plan) != 0 {
		t.Fatalf("expected nil plan after plan failure")
	}
}

func TestSynthesizeRepairRecovers(t *testing.T) {
	stub := &stubProvider{responses: []func(generateCall) (string, error){
		ok(`{"angle": "a"}`),
		ok(`not json at all`),
		func(call generateCall) (string, error) {
			// Repair re-prompt carries the invalid output and an
			// instruction to correct it.
			last := call.messages[len(call.messages)-1]
			if last.Role != "user" {
				return "", fmt.Errorf("repair prompt ended with role %s", last.Role)
			}
			return validProse, nil
		},
	}}
	s := newTestSynthesizer(stub)

	res := s.Synthesize(context.Background(), ephemeris.Compute("2025-03-01"), nil, nil, "2025-03-01", false)
	if res.Fallback {
		t.Fatalf("repair should have recovered: %s", res.Diagnostic)
	}
	if len(stub.calls) != 3 {
		t.Fatalf("expected plan + prose + repair, got %d calls", len(stub.calls))
	}
	if stub.calls[2].temperature != stub.calls[1].temperature {
		t.Fatalf("repair ran at %v, attempt ran at %v", stub.calls[2].temperature, stub.calls[1].temperature)
	}
}

func TestSynthesizeTemperatureLadderAndFallback(t *testing.T) {
	stub := &stubProvider{responses: []func(generateCall) (string, error){
		fail("plan down"),
		fail("attempt 1"),
		fail("attempt 2"),
		fail("attempt 3"),
	}}
	s := newTestSynthesizer(stub)

	res := s.Synthesize(context.Background(), ephemeris.Compute("2025-03-01"), nil, nil, "2025-03-01", true)
	if !res.Fallback {
		t.Fatalf("expected fallback after exhaustion")
	}
	if res.Artifact.Title != "Transmission Interrupted" {
		t.Fatalf("fallback title = %q", res.Artifact.Title)
	}
	if !res.Artifact.SkyOnly || !res.Artifact.Fallback {
		t.Fatalf("fallback artifact flags = %+v", res.Artifact)
	}
	if res.Diagnostic == "" {
		t.Fatalf("missing diagnostic")
	}

	// Transport failures consume the attempt without a repair re-prompt,
	// so calls are plan + 3 prose attempts stepping 0.7 -> 0.6 -> 0.5.
	if len(stub.calls) != 4 {
		t.Fatalf("expected 4 calls, got %d", len(stub.calls))
	}
	wantTemps := []float64{0.7, 0.6, 0.5}
	for i, want := range wantTemps {
		got := stub.calls[i+1].temperature
		if diff := got - want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("attempt %d temperature = %v, want %v", i+1, got, want)
		}
	}
}

func TestSynthesizeRepairStillInvalidExhausts(t *testing.T) {
	stub := &stubProvider{responses: []func(generateCall) (string, error){
		ok(`{}`),
		ok(`{"title": "", "body": ""}`), // attempt 1: missing fields
		ok(`broken`),                    // attempt 1 repair: still invalid
		ok("```json\n" + validProse + "\n```"), // attempt 2: fenced but valid
	}}
	s := newTestSynthesizer(stub)

	res := s.Synthesize(context.Background(), ephemeris.Compute("2025-03-01"), nil, nil, "2025-03-01", false)
	if res.Fallback {
		t.Fatalf("attempt 2 should have succeeded: %s", res.Diagnostic)
	}
	if res.Artifact.Title != "The Day Turns" {
		t.Fatalf("title = %q", res.Artifact.Title)
	}
	if len(stub.calls) != 4 {
		t.Fatalf("expected 4 calls, got %d", len(stub.calls))
	}
}
