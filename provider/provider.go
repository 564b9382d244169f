package provider

import (
	"context"
	"fmt"

	"github.com/disinfo-zone/voidwire-sub000/config"
	openai_provider "github.com/disinfo-zone/voidwire-sub000/provider/openai"
)

// Slot names the pipeline stages that route to (possibly different) models.
type Slot string

const (
	SlotDistill   Slot = "distill"
	SlotPlan      Slot = "plan"
	SlotProse     Slot = "prose"
	SlotEmbedding Slot = "embedding"
)

// Message represents a message in a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for a single gateway call.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	Model            string
}

// Provider is the language-model gateway every pipeline stage talks to.
// Generate returns raw text; callers own parsing and repair of
// JSON-shaped output.
type Provider interface {
	Generate(ctx context.Context, slot Slot, messages []Message, temperature float64) (string, Usage, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelForSlot(slot Slot) string
}

// NewProvider builds the gateway from configuration. Only the openai
// provider type is implemented.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}
	for _, p := range cfg.Providers {
		switch p.Type {
		case "openai":
			return &routedProvider{client: openai_provider.NewClient(p), routing: cfg.Routing}, nil
		default:
			return nil, fmt.Errorf("unsupported LLM provider type: %s", p.Type)
		}
	}
	return nil, fmt.Errorf("no valid LLM providers found")
}

// routedProvider resolves slots to model API names before delegating to
// the HTTP client.
type routedProvider struct {
	client  *openai_provider.Client
	routing config.LLMRoutingConfig
}

func (r *routedProvider) ModelForSlot(slot Slot) string {
	var model string
	switch slot {
	case SlotDistill:
		model = r.routing.Distill
	case SlotPlan:
		model = r.routing.Plan
	case SlotProse:
		model = r.routing.Prose
	case SlotEmbedding:
		model = r.routing.Embedding
	}
	if model == "" {
		model = r.routing.Fallback
	}
	return model
}

func (r *routedProvider) Generate(ctx context.Context, slot Slot, messages []Message, temperature float64) (string, Usage, error) {
	model := r.ModelForSlot(slot)
	if model == "" {
		return "", Usage{}, fmt.Errorf("no model routed for slot %q and no fallback configured", slot)
	}
	msgs := make([]openai_provider.Message, len(messages))
	for i, m := range messages {
		msgs[i] = openai_provider.Message{Role: m.Role, Content: m.Content}
	}
	text, usage, err := r.client.ChatCompletion(ctx, model, msgs, temperature)
	if err != nil {
		return "", Usage{}, err
	}
	return text, Usage{PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens, Model: model}, nil
}

func (r *routedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	model := r.ModelForSlot(SlotEmbedding)
	if model == "" {
		return nil, fmt.Errorf("no embedding model configured")
	}
	return r.client.CreateEmbedding(ctx, model, texts)
}
