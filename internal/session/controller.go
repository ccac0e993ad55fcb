// Package session owns the lifecycle of one in-flight exchange: it opens
// the selected provider, normalizes its stream into the caller's bounded
// event channel, accumulates text for snapshots and capture, and guarantees
// clean teardown on cancellation.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tmatias/aichat/internal/capture"
	"github.com/tmatias/aichat/internal/document"
	"github.com/tmatias/aichat/internal/llm"
)

// State tracks the exchange lifecycle. One controller runs exactly one
// exchange; a new exchange needs a new controller.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateFinalizing
	StateComplete
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateComplete:
		return "complete"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Warning reports an attachment the selected model could not accept. The
// attachment is stripped and the exchange proceeds; capability problems are
// never fatal.
type Warning struct {
	Kind    llm.ErrorKind
	Message string
}

// Options tunes one exchange. A nil Temperature keeps the model's
// configured value; a pointer to 0 requests deterministic sampling.
type Options struct {
	MaxTokens   int
	Temperature *float64
	DebugRaw    bool
}

// outBuffer bounds the delivery channel to the caller.
const outBuffer = 16

// Controller drives a single exchange through
// Idle → Connecting → Streaming → Finalizing → {Complete|Cancelled|Failed}.
type Controller struct {
	id       string
	provider llm.Provider

	state atomic.Int32
	acc   *Accumulator

	out      chan llm.Event
	stopped  chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	cancel   context.CancelFunc

	// Delivery queue between the wire reader and the forwarder. Consecutive
	// same-kind deltas coalesce while the caller is slow, so a stalled
	// consumer bounds memory at the already-buffered text instead of one
	// allocation per frame.
	qmu     sync.Mutex
	qcond   *sync.Cond
	queue   []llm.Event
	qclosed bool

	mu      sync.Mutex
	match   *document.Match
	doc     *document.Generated
	failure *llm.ProviderError

	// docTail keeps the trailing window of content scanned incrementally
	// for document markers. docHinted latches once a natural-language
	// trigger phrase has been seen; the hint alone never yields a document,
	// it only keeps the full scan alive after the construct scrolls out of
	// the window.
	docTail   string
	docHinted bool
}

// New builds an idle controller around an opened provider.
func New(provider llm.Provider) *Controller {
	c := &Controller{
		id:       uuid.NewString(),
		provider: provider,
		acc:      NewAccumulator(),
		out:      make(chan llm.Event, outBuffer),
		stopped:  make(chan struct{}),
	}
	c.qcond = sync.NewCond(&c.qmu)
	return c
}

func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

// Start validates attachments against the provider's capabilities, strips
// what the model cannot accept (reported as warnings, never as failures)
// and begins streaming. The returned channel is closed once the exchange
// reaches a terminal state. Start on a non-idle controller is rejected.
func (c *Controller) Start(ctx context.Context, messages []llm.Message, opts Options) (<-chan llm.Event, []Warning, error) {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return nil, nil, fmt.Errorf("session: exchange already started (state %s)", c.State())
	}

	filtered, warnings := FilterAttachments(messages, c.provider.Capabilities(), c.provider.Name())

	streamCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	req := llm.Request{
		Messages:    filtered,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		DebugRaw:    opts.DebugRaw,
	}

	c.wg.Add(2)
	go c.pump(streamCtx, req)
	go c.forward(streamCtx)

	return c.out, warnings, nil
}

// Cancel aborts an exchange from Connecting or Streaming. It closes the
// underlying transport and blocks until both session goroutines have
// stopped, so once Cancel returns, no further events are delivered. The
// accumulator snapshot stays readable.
func (c *Controller) Cancel() {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateCancelled)) &&
		!c.state.CompareAndSwap(int32(StateStreaming), int32(StateCancelled)) {
		return
	}
	c.stop()
	c.wg.Wait()
	// The forwarder has exited and closed out; discard anything it had
	// already buffered for a slow caller so the channel yields nothing
	// from here on.
	for range c.out {
	}
}

func (c *Controller) stop() {
	c.stopOnce.Do(func() {
		close(c.stopped)
		if c.cancel != nil {
			c.cancel()
		}
		c.qmu.Lock()
		c.qclosed = true
		c.qmu.Unlock()
		c.qcond.Broadcast()
	})
}

// Snapshot returns a copy of the partial or complete response text. Valid
// in every state, including after cancellation and failure.
func (c *Controller) Snapshot() Snapshot {
	return c.acc.Snapshot()
}

// Failure returns the terminal error for a failed exchange, or nil.
func (c *Controller) Failure() *llm.ProviderError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// PendingDocument reports the latest incremental detection match, letting a
// UI react before the stream completes.
func (c *Controller) PendingDocument() *document.Match {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.match
}

// Document returns the document extracted at finalization, or nil.
func (c *Controller) Document() *document.Generated {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc
}

// BuildCapture assembles a transfer payload from the accumulated response
// and any detected document. Fails with capture.ErrNothingToCapture on an
// empty response.
func (c *Controller) BuildCapture(prov capture.Provenance) (*capture.Payload, error) {
	if prov.SourceID == "" {
		prov.SourceID = c.id
	}
	if prov.Model == "" {
		prov.Model = c.provider.Name()
	}
	snap := c.acc.Snapshot()
	return capture.Build(snap.Content, c.Document(), prov)
}

// pump reads the provider stream, appends text into the accumulator
// synchronously with emission, and enqueues events for delivery.
func (c *Controller) pump(ctx context.Context, req llm.Request) {
	defer c.wg.Done()
	defer func() {
		c.qmu.Lock()
		c.qclosed = true
		c.qmu.Unlock()
		c.qcond.Broadcast()
	}()

	stream, err := c.provider.Stream(ctx, req)
	if err != nil {
		c.failWith(asProviderError(c.provider.Name(), err))
		return
	}
	defer stream.Close()

	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			if c.State() == StateCancelled {
				return
			}
			c.failWith(asProviderError(c.provider.Name(), err))
			return
		}

		c.state.CompareAndSwap(int32(StateConnecting), int32(StateStreaming))

		switch ev.Type {
		case llm.EventTextDelta:
			c.acc.AppendContent(ev.Text)
			c.scanIncremental(ev.Text)
			c.enqueue(ev)
		case llm.EventReasoningDelta:
			c.acc.AppendReasoning(ev.Text)
			c.enqueue(ev)
		case llm.EventDone:
			c.finalize(ev)
			return
		case llm.EventError:
			c.failWith(ev.Err)
			return
		}
	}
}

// forward drains the delivery queue into the caller's bounded channel.
func (c *Controller) forward(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.out)

	for {
		c.qmu.Lock()
		for len(c.queue) == 0 && !c.qclosed {
			c.qcond.Wait()
		}
		batch := c.queue
		c.queue = nil
		closed := c.qclosed
		c.qmu.Unlock()

		for _, ev := range batch {
			select {
			case <-c.stopped:
				return
			case <-ctx.Done():
				return
			case c.out <- ev:
			}
		}
		if closed {
			c.qmu.Lock()
			drained := len(c.queue) == 0
			c.qmu.Unlock()
			if drained {
				return
			}
		}
	}
}

// enqueue appends an event for delivery, coalescing consecutive same-kind
// deltas so the queue never grows faster than the text itself.
func (c *Controller) enqueue(ev llm.Event) {
	c.qmu.Lock()
	if n := len(c.queue); n > 0 &&
		(ev.Type == llm.EventTextDelta || ev.Type == llm.EventReasoningDelta) &&
		c.queue[n-1].Type == ev.Type {
		c.queue[n-1].Text += ev.Text
	} else {
		c.queue = append(c.queue, ev)
	}
	c.qmu.Unlock()
	c.qcond.Signal()
}

// finalize runs document detection over the complete response and moves the
// exchange to Complete. Skipped entirely on failure.
func (c *Controller) finalize(done llm.Event) {
	if !c.state.CompareAndSwap(int32(StateStreaming), int32(StateFinalizing)) &&
		!c.state.CompareAndSwap(int32(StateConnecting), int32(StateFinalizing)) {
		return
	}
	c.acc.Finalize()

	snap := c.acc.Snapshot()
	if m := document.Detect(snap.Content); m != nil {
		generated := document.FromMatch(m, c.provider.Name(), time.Now())
		c.mu.Lock()
		c.match = m
		c.doc = generated
		c.mu.Unlock()
	}

	c.state.Store(int32(StateComplete))
	c.enqueue(done)
}

// failWith records the terminal error and delivers a single EventError.
// Partial text already accumulated is preserved for display and audit.
func (c *Controller) failWith(pe *llm.ProviderError) {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateFailed)) &&
		!c.state.CompareAndSwap(int32(StateStreaming), int32(StateFailed)) {
		return
	}
	c.mu.Lock()
	c.failure = pe
	c.mu.Unlock()
	c.enqueue(llm.Event{Type: llm.EventError, Err: pe})
}

// scanIncremental runs the cheap per-delta document scan over a bounded
// trailing window of the content.
func (c *Controller) scanIncremental(delta string) {
	c.docTail += delta
	if len(c.docTail) > document.DefaultWindow {
		c.docTail = c.docTail[len(c.docTail)-document.DefaultWindow:]
	}
	if !c.docHinted && document.HasTrigger(c.docTail) {
		c.docHinted = true
	}
	if document.DetectIncremental(c.docTail, document.DefaultWindow) == nil && !c.docHinted {
		return
	}
	// Re-derive the body from the full accumulated content so the
	// incremental match agrees with what final detection will produce.
	if full := document.Detect(c.acc.Snapshot().Content); full != nil {
		c.mu.Lock()
		c.match = full
		c.mu.Unlock()
	}
}

// FilterAttachments strips images and documents the model cannot accept,
// returning one warning per removed attachment. The text-only request still
// proceeds.
func FilterAttachments(messages []llm.Message, caps llm.Capabilities, modelName string) ([]llm.Message, []Warning) {
	var warnings []Warning
	out := make([]llm.Message, len(messages))
	for i, m := range messages {
		filtered := m
		if len(m.Images) > 0 && !caps.Images {
			for range m.Images {
				warnings = append(warnings, Warning{
					Kind:    llm.ErrCapability,
					Message: fmt.Sprintf("image attachment removed: model %s does not support images", modelName),
				})
			}
			filtered.Images = nil
		}
		if len(m.Documents) > 0 && !caps.Documents {
			for _, doc := range m.Documents {
				warnings = append(warnings, Warning{
					Kind:    llm.ErrCapability,
					Message: fmt.Sprintf("document %q removed: model %s does not support documents", doc.Filename, modelName),
				})
			}
			filtered.Documents = nil
		}
		out[i] = filtered
	}
	return out, warnings
}

func asProviderError(provider string, err error) *llm.ProviderError {
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &llm.ProviderError{Kind: llm.ErrConnection, Provider: provider, Err: err}
}
