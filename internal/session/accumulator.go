package session

import (
	"strings"
	"sync"
)

// Accumulator holds the growing response text for one exchange. It is owned
// by a single Controller; the streaming goroutine is the only writer, and
// readers only ever see copies.
type Accumulator struct {
	mu        sync.Mutex
	content   strings.Builder
	reasoning strings.Builder
	finalized bool
}

// Snapshot is a read-only copy of accumulator state, safe to retain.
type Snapshot struct {
	Content   string
	Reasoning string
	Finalized bool
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

func (a *Accumulator) AppendContent(s string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.content.WriteString(s)
}

func (a *Accumulator) AppendReasoning(s string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reasoning.WriteString(s)
}

// Finalize marks the response complete. Partial text accumulated before a
// failure or cancellation stays readable; only the flag distinguishes a
// finished response from an interrupted one.
func (a *Accumulator) Finalize() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finalized = true
}

func (a *Accumulator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		Content:   a.content.String(),
		Reasoning: a.reasoning.String(),
		Finalized: a.finalized,
	}
}
