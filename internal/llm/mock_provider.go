package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockTurn represents a single scripted exchange from the mock provider.
type MockTurn struct {
	Text      string        // Answer text to emit, chunked for realistic streaming
	Reasoning string        // Reasoning text emitted before the answer
	Delay     time.Duration // Optional delay before responding (for cancellation tests)
	Err       *ProviderError
	// FailAfterChunks emits that many text chunks before Err fires,
	// simulating a mid-stream failure with partial output.
	FailAfterChunks int
}

// MockProvider is a configurable provider for testing. It returns scripted
// turns and records all requests for verification.
type MockProvider struct {
	name      string
	caps      Capabilities
	turns     []MockTurn
	turnIndex int
	Requests  []Request
	mu        sync.Mutex
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

func (m *MockProvider) Name() string {
	return m.name
}

func (m *MockProvider) Capabilities() Capabilities {
	return m.caps
}

// WithCapabilities sets the provider capabilities and returns the provider
// for chaining.
func (m *MockProvider) WithCapabilities(c Capabilities) *MockProvider {
	m.caps = c
	return m
}

// AddTurn adds a scripted turn and returns the provider for chaining.
func (m *MockProvider) AddTurn(t MockTurn) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
	return m
}

// AddTextResponse is a convenience method to add a simple text response.
func (m *MockProvider) AddTextResponse(text string) *MockProvider {
	return m.AddTurn(MockTurn{Text: text})
}

// AddError adds a turn that fails immediately with the given kind.
func (m *MockProvider) AddError(kind ErrorKind, err error) *MockProvider {
	return m.AddTurn(MockTurn{Err: &ProviderError{Kind: kind, Provider: m.name, Err: err}})
}

// Stream implements the Provider interface.
func (m *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)

	if m.turnIndex >= len(m.turns) {
		m.mu.Unlock()
		return nil, fmt.Errorf("mock provider: no more turns configured (expected turn %d, have %d)", m.turnIndex, len(m.turns))
	}

	turn := m.turns[m.turnIndex]
	m.turnIndex++
	m.mu.Unlock()

	return newEventStream(ctx, m.name, func(ctx context.Context, ch chan<- Event) error {
		if turn.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(turn.Delay):
			}
		}

		if turn.Err != nil && turn.FailAfterChunks == 0 && turn.Text == "" && turn.Reasoning == "" {
			return turn.Err
		}

		if turn.Reasoning != "" {
			for _, chunk := range chunkText(turn.Reasoning, 10) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case ch <- Event{Type: EventReasoningDelta, Text: chunk}:
				}
			}
		}

		emitted := 0
		for _, chunk := range chunkText(turn.Text, 10) {
			if turn.Err != nil && turn.FailAfterChunks > 0 && emitted >= turn.FailAfterChunks {
				return turn.Err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ch <- Event{Type: EventTextDelta, Text: chunk}:
				emitted++
			}
		}
		if turn.Err != nil {
			return turn.Err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch <- Event{Type: EventDone, StopReason: "stop"}:
		}
		return nil
	}), nil
}

// chunkText splits text into chunks of approximately the given size,
// breaking at word boundaries when possible.
func chunkText(text string, chunkSize int) []string {
	if len(text) == 0 {
		return nil
	}
	if len(text) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= chunkSize {
			chunks = append(chunks, text)
			break
		}

		breakPoint := chunkSize
		for i := chunkSize; i > chunkSize/2; i-- {
			if text[i] == ' ' {
				breakPoint = i + 1
				break
			}
		}

		chunks = append(chunks, text[:breakPoint])
		text = text[breakPoint:]
	}
	return chunks
}
