package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tmatias/aichat/internal/config"
	"github.com/tmatias/aichat/internal/trace"
)

// defaultReasoningBudget is used when reasoning is enabled without an
// explicit token budget.
const defaultReasoningBudget = 1024

// AnthropicProvider streams from the Anthropic Messages API. The backend
// carries reasoning as structured thinking blocks, so no inline tag
// scanning is needed: text deltas map to EventTextDelta, thinking deltas to
// EventReasoningDelta.
type AnthropicProvider struct {
	client          anthropic.Client
	name            string
	model           string
	maxTokens       int
	temperature     float64
	caps            Capabilities
	reasoningBudget int
}

func NewAnthropicProvider(cfg config.Model) *AnthropicProvider {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	return &AnthropicProvider{
		client:      anthropic.NewClient(opts...),
		name:        cfg.Name,
		model:       cfg.ModelID,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		caps: Capabilities{
			Images:    cfg.SupportsImages,
			Documents: cfg.SupportsDocuments,
			Reasoning: cfg.SupportsReasoning,
		},
		reasoningBudget: cfg.ReasoningBudget,
	}
}

func (p *AnthropicProvider) Name() string {
	return p.name
}

func (p *AnthropicProvider) Capabilities() Capabilities {
	return p.caps
}

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	temperature := p.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	system, messages := buildAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if p.caps.Reasoning {
		budget := p.reasoningBudget
		if budget <= 0 {
			budget = defaultReasoningBudget
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(budget))
	} else {
		// Thinking and temperature are mutually exclusive on this API.
		params.Temperature = anthropic.Float(temperature)
	}

	debugRaw := req.DebugRaw

	return newEventStream(ctx, p.name, func(ctx context.Context, events chan<- Event) error {
		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		send := func(ev Event) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case events <- ev:
				return nil
			}
		}

		stopReason := ""
		for stream.Next() {
			event := stream.Current()
			if debugRaw {
				trace.Frame(p.name, "event", event.RawJSON())
			}
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						if err := send(Event{Type: EventTextDelta, Text: delta.Text}); err != nil {
							return err
						}
					}
				case anthropic.ThinkingDelta:
					if delta.Thinking != "" {
						if err := send(Event{Type: EventReasoningDelta, Text: delta.Thinking}); err != nil {
							return err
						}
					}
				}
			case anthropic.MessageDeltaEvent:
				if ev.Delta.StopReason != "" {
					stopReason = string(ev.Delta.StopReason)
				}
			case anthropic.MessageStopEvent:
				return send(Event{Type: EventDone, StopReason: stopReason})
			}
		}
		if err := stream.Err(); err != nil {
			return classifyAnthropicError(p.name, err)
		}
		// The stream ended without a message_stop frame; treat the exchange
		// as complete rather than losing accumulated text.
		return send(Event{Type: EventDone, StopReason: stopReason})
	}), nil
}

// classifyAnthropicError maps SDK errors onto the error taxonomy.
func classifyAnthropicError(provider string, err error) *ProviderError {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return &ProviderError{
			Kind:     classifyStatus(apierr.StatusCode, apierr.Error()),
			Provider: provider,
			Err:      err,
		}
	}
	return classifyTransport(provider, err)
}

// buildAnthropicMessages converts messages into typed content blocks,
// hoisting system turns into the system prompt the way the API requires.
func buildAnthropicMessages(messages []Message) (string, []anthropic.MessageParam) {
	var systemLines []string
	out := make([]anthropic.MessageParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if strings.TrimSpace(m.Text) != "" {
				systemLines = append(systemLines, m.Text)
			}
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(buildAnthropicBlocks(m)...))
		case RoleAssistant:
			if strings.TrimSpace(m.Text) == "" {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
		}
	}
	return strings.Join(systemLines, "\n\n"), out
}

func buildAnthropicBlocks(m Message) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(m.Images)+len(m.Documents))
	if m.Text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(m.Text))
	}
	for _, img := range m.Images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(
			detectImageMime(img),
			base64.StdEncoding.EncodeToString(img),
		))
	}
	for _, doc := range m.Documents {
		blocks = append(blocks, documentBlock(doc))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropic.NewTextBlock(""))
	}
	return blocks
}

// documentBlock maps a document attachment onto the API's document source
// types: PDFs go as base64, everything else as plain text.
func documentBlock(doc Document) anthropic.ContentBlockParamUnion {
	if strings.HasSuffix(strings.ToLower(doc.Filename), ".pdf") {
		return anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{
			Data: base64.StdEncoding.EncodeToString(doc.Data),
		})
	}
	block := anthropic.NewDocumentBlock(anthropic.PlainTextSourceParam{
		Data: string(doc.Data),
	})
	if block.OfDocument != nil {
		block.OfDocument.Title = anthropic.String(doc.Filename)
	}
	return block
}
