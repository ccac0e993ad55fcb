package llm

import "context"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Document is a file attachment sent alongside a message.
type Document struct {
	Filename string
	Data     []byte
}

// Message is one turn of a conversation. Text is always present; images and
// documents are optional and subject to the provider's capability flags.
type Message struct {
	Role      Role
	Text      string
	Images    [][]byte
	Documents []Document
}

// UserText builds a text-only user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// AssistantText builds a text-only assistant message.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Text: text}
}

// Capabilities describes what a provider/model combination accepts.
type Capabilities struct {
	Images    bool
	Documents bool
	Reasoning bool
}

// Request is a single exchange sent to a provider. A zero MaxTokens falls
// back to the provider's configured default; Temperature is a pointer so an
// explicit 0 (deterministic sampling) survives, nil meaning "use the
// configured value".
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature *float64
	DebugRaw    bool
}

// EventType discriminates normalized stream events.
type EventType int

const (
	// EventTextDelta carries a fragment of final-answer text.
	EventTextDelta EventType = iota
	// EventReasoningDelta carries a fragment of model reasoning.
	EventReasoningDelta
	// EventDone terminates a successful stream.
	EventDone
	// EventError terminates a failed stream. No events follow it.
	EventError
)

// Event is the normalized unit every adapter emits. Events are delivered in
// wire order; kinds are never reordered or merged across the content and
// reasoning split.
type Event struct {
	Type       EventType
	Text       string
	StopReason string
	Err        *ProviderError
}

// Stream is a pull-based event sequence. Recv returns io.EOF once the
// stream is exhausted. Close releases the underlying transport and is safe
// to call more than once.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Provider translates conversations into backend requests and yields
// normalized events. Exactly two implementations exist: the Anthropic cloud
// backend and the local OpenAI-compatible backend. Extend by adding a
// variant, not by runtime feature probing.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Stream(ctx context.Context, req Request) (Stream, error)
}
