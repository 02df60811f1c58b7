package agentrt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"constellation/internal/config"
	"constellation/internal/domain"
)

// ErrModelUnavailable is returned when no chat model is configured.
var ErrModelUnavailable = errors.New("model unavailable")

// Generator is the part of an eino chat model the runtime needs.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Runtime turns stored thread messages into a model call.
type Runtime struct {
	Model        Generator
	Instructions string
	Timeout      time.Duration
}

// New builds the runtime for the configured provider. Provider "none" yields
// a runtime whose Reply always fails with ErrModelUnavailable.
func New(ctx context.Context, cfg config.LLMConfig) (*Runtime, error) {
	rt := &Runtime{
		Instructions: cfg.Instructions,
		Timeout:      time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	switch cfg.Provider {
	case "", "none":
		return rt, nil
	case "openai":
		mc := &openai.ChatModelConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     rt.Timeout,
		}
		if cfg.MaxTokens > 0 {
			maxTokens := cfg.MaxTokens
			mc.MaxTokens = &maxTokens
		}
		m, err := openai.NewChatModel(ctx, mc)
		if err != nil {
			return nil, fmt.Errorf("create openai chat model: %w", err)
		}
		rt.Model = m
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		m, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: baseURL,
			Model:   cfg.Model,
			Timeout: rt.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create ollama chat model: %w", err)
		}
		rt.Model = m
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	return rt, nil
}

// Available reports whether a model is configured.
func (r *Runtime) Available() bool {
	return r != nil && r.Model != nil
}

// Messages converts thread history into model input, led by the system
// instructions.
func (r *Runtime) Messages(history []domain.ThreadMessage) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(history)+1)
	if strings.TrimSpace(r.Instructions) != "" {
		msgs = append(msgs, schema.SystemMessage(r.Instructions))
	}
	for _, m := range history {
		switch m.Role {
		case domain.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(m.Content, nil))
		case domain.RoleSystem:
			msgs = append(msgs, schema.SystemMessage(m.Content))
		default:
			msgs = append(msgs, schema.UserMessage(m.Content))
		}
	}
	return msgs
}

// Reply asks the model to answer the last message of history.
func (r *Runtime) Reply(ctx context.Context, history []domain.ThreadMessage) (string, error) {
	if !r.Available() {
		return "", ErrModelUnavailable
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	out, err := r.Model.Generate(ctx, r.Messages(history))
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	if out == nil {
		return "", errors.New("generate reply: empty response")
	}
	return out.Content, nil
}
