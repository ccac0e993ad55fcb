package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tmatias/aichat/internal/config"
	"github.com/tmatias/aichat/internal/trace"
)

// localHTTPTimeout bounds one full streaming exchange against a local server.
const localHTTPTimeout = 10 * time.Minute

var localHTTPClient = &http.Client{Timeout: localHTTPTimeout}

// LocalProvider streams from an OpenAI-compatible endpoint (Ollama,
// LM Studio, llama.cpp). The wire format is line-delimited SSE: one JSON
// chunk per `data:` line, terminated by a `[DONE]` sentinel. Local models
// carry reasoning inline as tagged text spans rather than a structured
// channel, so content deltas run through a tag-aware splitter before they
// are emitted.
type LocalProvider struct {
	name        string
	baseURL     string
	model       string
	apiKey      string
	maxTokens   int
	temperature float64
	caps        Capabilities
	tags        []TagPair
}

func NewLocalProvider(cfg config.Model) *LocalProvider {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "not-needed"
	}
	return &LocalProvider{
		name:        cfg.Name,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		apiKey:      apiKey,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		caps: Capabilities{
			Images:    cfg.SupportsImages,
			Documents: cfg.SupportsDocuments,
			Reasoning: cfg.SupportsReasoning,
		},
		tags: ReasoningTagsFor(cfg.ReasoningTags),
	}
}

func (p *LocalProvider) Name() string {
	return p.name
}

func (p *LocalProvider) Capabilities() Capabilities {
	return p.caps
}

func (p *LocalProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	temperature := p.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	payload := localChatRequest{
		Model:       p.model,
		Messages:    buildLocalMessages(req.Messages),
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	apiURL := p.baseURL + "/chat/completions"
	debugRaw := req.DebugRaw

	// The HTTP request is made inside the goroutine so the stream goroutine
	// owns resp.Body for its whole lifetime.
	return newEventStream(ctx, p.name, func(ctx context.Context, events chan<- Event) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := localHTTPClient.Do(httpReq)
		if err != nil {
			return classifyTransport(p.name, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			return statusError(p.name, resp.StatusCode, string(respBody))
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		splitter := newTagSplitter(p.tags)
		send := func(ev Event) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case events <- ev:
				return nil
			}
		}
		emitSpans := func(spans []span) error {
			for _, sp := range spans {
				kind := EventTextDelta
				if sp.reasoning {
					kind = EventReasoningDelta
				}
				if err := send(Event{Type: kind, Text: sp.text}); err != nil {
					return err
				}
			}
			return nil
		}

		stopReason := ""
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" || strings.HasPrefix(line, ":") {
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			if debugRaw {
				trace.Frame(p.name, "sse", data)
			}
			if data == "[DONE]" {
				stopReason = "stop"
				break
			}

			var chunk localStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return protocolError(p.name, fmt.Errorf("unparseable frame: %w", err))
			}
			if chunk.Error != nil {
				return statusError(p.name, chunk.Error.Code, chunk.Error.Message)
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			// Some servers expose reasoning as a structured field; pass it
			// through without tag scanning.
			if choice.Delta.ReasoningContent != "" {
				if err := send(Event{Type: EventReasoningDelta, Text: choice.Delta.ReasoningContent}); err != nil {
					return err
				}
			}
			if choice.Delta.Content != "" {
				if err := emitSpans(splitter.Feed(choice.Delta.Content)); err != nil {
					return err
				}
			}
			if choice.FinishReason != "" {
				stopReason = choice.FinishReason
			}
		}
		if err := scanner.Err(); err != nil {
			return classifyTransport(p.name, err)
		}

		if err := emitSpans(splitter.Flush()); err != nil {
			return err
		}
		return send(Event{Type: EventDone, StopReason: stopReason})
	}), nil
}

type localChatRequest struct {
	Model     string         `json:"model"`
	Messages  []localMessage `json:"messages"`
	MaxTokens int            `json:"max_tokens,omitempty"`
	// Always serialized: an explicit temperature of 0 must reach the wire
	// rather than falling back to the server default.
	Temperature float64 `json:"temperature"`
	Stream      bool    `json:"stream"`
}

type localMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type localContentPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *localImageURL `json:"image_url,omitempty"`
}

type localImageURL struct {
	URL string `json:"url"`
}

type localStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// buildLocalMessages converts messages to the OpenAI chat format. Messages
// with attachments use the multimodal content-array form; plain text stays a
// bare string.
func buildLocalMessages(messages []Message) []localMessage {
	out := make([]localMessage, 0, len(messages))
	for _, m := range messages {
		if len(m.Images) == 0 && len(m.Documents) == 0 {
			out = append(out, localMessage{Role: string(m.Role), Content: m.Text})
			continue
		}

		parts := make([]localContentPart, 0, 1+len(m.Images)+len(m.Documents))
		if m.Text != "" {
			parts = append(parts, localContentPart{Type: "text", Text: m.Text})
		}
		for _, img := range m.Images {
			parts = append(parts, localContentPart{
				Type:     "image_url",
				ImageURL: &localImageURL{URL: imageDataURL(img)},
			})
		}
		for _, doc := range m.Documents {
			parts = append(parts, localContentPart{
				Type: "text",
				Text: formatInlineDocument(doc),
			})
		}
		out = append(out, localMessage{Role: string(m.Role), Content: parts})
	}
	return out
}

func imageDataURL(data []byte) string {
	return "data:" + detectImageMime(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// detectImageMime sniffs the image format from magic bytes, defaulting to
// PNG when unknown.
func detectImageMime(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return "image/png"
	case bytes.HasPrefix(data, []byte("\xff\xd8\xff")):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	default:
		return "image/png"
	}
}

// formatInlineDocument embeds a text document into the prompt. Binary
// documents are referenced by name only.
func formatInlineDocument(doc Document) string {
	lower := strings.ToLower(doc.Filename)
	if strings.HasSuffix(lower, ".txt") || strings.HasSuffix(lower, ".md") {
		return fmt.Sprintf("\n\n[Document: %s]\n%s\n", doc.Filename, string(doc.Data))
	}
	return fmt.Sprintf("\n\n[Document: %s]\n", doc.Filename)
}
