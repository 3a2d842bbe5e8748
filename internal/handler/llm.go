package handler

import (
	"context"
	"fmt"
	"time"

	"shopbot/internal/bus"
	"shopbot/internal/conversation"
	"shopbot/internal/domain"
	"shopbot/internal/metrics"
	"shopbot/internal/order"
	"shopbot/internal/toolcall"
)

const (
	llmMaxTokens   = 1024
	llmTemperature = 0.7
)

// generalLLM handles messages no scripted path claims: prior turns plus the
// current message go to the LLM, and any tool-call blocks in its reply are
// executed and substituted before the text reaches the user.
func (h *Handler) generalLLM(ctx context.Context, c *conversation.Context, msg domain.InboundMessage) (order.Reply, error) {
	var defs []domain.ToolDefinition
	if h.tools != nil {
		defs = h.tools.Definitions()
	}
	system := toolcall.EncodeSystemPrompt(h.systemPrompt, defs)

	messages := make([]domain.ChatMessage, 0, len(c.History)+1)
	for _, turn := range c.History {
		messages = append(messages, domain.ChatMessage{Role: turn.Role, Content: turn.Text})
	}
	messages = append(messages, domain.ChatMessage{Role: "user", Content: msg.Body})

	start := time.Now()
	text, err := h.provider.Generate(ctx, domain.GenerateRequest{
		System:      system,
		Messages:    messages,
		MaxTokens:   llmMaxTokens,
		Temperature: llmTemperature,
	})
	metrics.LLMLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		h.emit(bus.EventProviderError, map[string]any{"error": err.Error()})
		return order.Reply{}, fmt.Errorf("llm generate: %w", err)
	}

	if h.codec != nil {
		text = h.codec.Apply(ctx, text)
	}

	return order.Reply{Body: text}, nil
}
