package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tmatias/aichat/internal/capture"
	"github.com/tmatias/aichat/internal/llm"
)

func startAndDrain(t *testing.T, c *Controller, messages []llm.Message) []llm.Event {
	t.Helper()
	ch, _, err := c.Start(context.Background(), messages, Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	var events []llm.Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func textOf(events []llm.Event, kind llm.EventType) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == kind {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

func TestControllerHappyPath(t *testing.T) {
	p := llm.NewMockProvider("mock").AddTextResponse("The quick brown fox jumps over the lazy dog.")
	c := New(p)

	events := startAndDrain(t, c, []llm.Message{llm.UserText("hi")})

	if got := textOf(events, llm.EventTextDelta); got != "The quick brown fox jumps over the lazy dog." {
		t.Fatalf("delivered content = %q", got)
	}
	last := events[len(events)-1]
	if last.Type != llm.EventDone {
		t.Fatalf("last event = %+v, want Done", last)
	}
	if c.State() != StateComplete {
		t.Fatalf("state = %s, want complete", c.State())
	}

	snap := c.Snapshot()
	if snap.Content != "The quick brown fox jumps over the lazy dog." {
		t.Fatalf("snapshot content = %q", snap.Content)
	}
	if !snap.Finalized {
		t.Fatal("snapshot not finalized")
	}
}

func TestControllerReasoningSeparated(t *testing.T) {
	p := llm.NewMockProvider("mock").AddTurn(llm.MockTurn{
		Reasoning: "first work out the plan",
		Text:      "the answer",
	})
	c := New(p)

	events := startAndDrain(t, c, []llm.Message{llm.UserText("hi")})

	if got := textOf(events, llm.EventReasoningDelta); got != "first work out the plan" {
		t.Fatalf("reasoning = %q", got)
	}
	snap := c.Snapshot()
	if snap.Content != "the answer" || snap.Reasoning != "first work out the plan" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestControllerStartTwiceRejected(t *testing.T) {
	p := llm.NewMockProvider("mock").AddTextResponse("once")
	c := New(p)

	startAndDrain(t, c, []llm.Message{llm.UserText("hi")})

	if _, _, err := c.Start(context.Background(), []llm.Message{llm.UserText("again")}, Options{}); err == nil {
		t.Fatal("second Start succeeded")
	}
}

func TestControllerCancelDeliversNothingAfter(t *testing.T) {
	p := llm.NewMockProvider("mock").AddTurn(llm.MockTurn{
		Text:  "this response is slow to arrive",
		Delay: 500 * time.Millisecond,
	})
	c := New(p)

	ch, _, err := c.Start(context.Background(), []llm.Message{llm.UserText("hi")}, Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	c.Cancel()

	if c.State() != StateCancelled {
		t.Fatalf("state = %s, want cancelled", c.State())
	}

	// Cancel has returned: the channel must be closed with nothing pending.
	for ev := range ch {
		t.Fatalf("event delivered after Cancel: %+v", ev)
	}

	// Second Cancel is a no-op.
	c.Cancel()

	// The snapshot stays readable after cancellation.
	if snap := c.Snapshot(); snap.Finalized {
		t.Fatalf("cancelled snapshot marked finalized: %+v", snap)
	}
}

func TestControllerMidStreamFailureKeepsPartials(t *testing.T) {
	p := llm.NewMockProvider("mock").AddTurn(llm.MockTurn{
		Text:            "partial text that gets cut off midway through",
		FailAfterChunks: 2,
		Err:             &llm.ProviderError{Kind: llm.ErrRateLimited, Provider: "mock", Err: errors.New("throttled")},
	})
	c := New(p)

	events := startAndDrain(t, c, []llm.Message{llm.UserText("hi")})

	last := events[len(events)-1]
	if last.Type != llm.EventError || last.Err.Kind != llm.ErrRateLimited {
		t.Fatalf("last event = %+v, want rate_limited error", last)
	}
	if c.State() != StateFailed {
		t.Fatalf("state = %s, want failed", c.State())
	}
	if f := c.Failure(); f == nil || f.Kind != llm.ErrRateLimited {
		t.Fatalf("failure = %+v", f)
	}

	snap := c.Snapshot()
	if snap.Content == "" {
		t.Fatal("partial content discarded on failure")
	}
	if got := textOf(events, llm.EventTextDelta); got != snap.Content {
		t.Fatalf("delivered %q, accumulated %q", got, snap.Content)
	}
}

func TestControllerConnectionFailure(t *testing.T) {
	p := llm.NewMockProvider("mock").AddError(llm.ErrConnection, errors.New("dial refused"))
	c := New(p)

	events := startAndDrain(t, c, []llm.Message{llm.UserText("hi")})

	if len(events) != 1 || events[0].Type != llm.EventError {
		t.Fatalf("events = %+v, want single error", events)
	}
	if events[0].Err.Kind != llm.ErrConnection {
		t.Fatalf("kind = %s", events[0].Err.Kind)
	}
	if c.State() != StateFailed {
		t.Fatalf("state = %s", c.State())
	}
}

func TestControllerCapabilityWarnings(t *testing.T) {
	p := llm.NewMockProvider("mock").AddTextResponse("text only")
	c := New(p)

	messages := []llm.Message{{
		Role:      llm.RoleUser,
		Text:      "describe these",
		Images:    [][]byte{[]byte("fake-image")},
		Documents: []llm.Document{{Filename: "a.md", Data: []byte("x")}},
	}}

	ch, warnings, err := c.Start(context.Background(), messages, Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for range ch {
	}

	if len(warnings) != 2 {
		t.Fatalf("warnings = %+v, want 2", warnings)
	}
	for _, w := range warnings {
		if w.Kind != llm.ErrCapability {
			t.Fatalf("warning kind = %s", w.Kind)
		}
	}
	if c.State() != StateComplete {
		t.Fatalf("state = %s, capability problems must not be fatal", c.State())
	}

	// The provider saw the stripped request.
	req := p.Requests[0]
	if len(req.Messages[0].Images) != 0 || len(req.Messages[0].Documents) != 0 {
		t.Fatalf("attachments not stripped: %+v", req.Messages[0])
	}
	if req.Messages[0].Text != "describe these" {
		t.Fatalf("text altered: %q", req.Messages[0].Text)
	}
}

func TestControllerNoWarningsWhenSupported(t *testing.T) {
	p := llm.NewMockProvider("mock").
		WithCapabilities(llm.Capabilities{Images: true, Documents: true}).
		AddTextResponse("ok")
	c := New(p)

	messages := []llm.Message{{
		Role:   llm.RoleUser,
		Text:   "look",
		Images: [][]byte{[]byte("img")},
	}}
	ch, warnings, err := c.Start(context.Background(), messages, Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for range ch {
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings = %+v", warnings)
	}
	if len(p.Requests[0].Messages[0].Images) != 1 {
		t.Fatal("supported attachment was stripped")
	}
}

func TestControllerDetectsDocument(t *testing.T) {
	response := "Here you go.\n\n<!-- DOCUMENT: notes.md -->\n# Notes\n\n- one\n- two\n"
	p := llm.NewMockProvider("mock").AddTextResponse(response)
	c := New(p)

	startAndDrain(t, c, []llm.Message{llm.UserText("write notes")})

	doc := c.Document()
	if doc == nil {
		t.Fatal("no document detected")
	}
	if doc.Filename != "notes.md" {
		t.Fatalf("filename = %q", doc.Filename)
	}
	if doc.Title != "Notes" {
		t.Fatalf("title = %q", doc.Title)
	}
	if !strings.Contains(doc.Content, "- two") {
		t.Fatalf("content = %q", doc.Content)
	}
	if doc.Model != "mock" {
		t.Fatalf("model = %q", doc.Model)
	}
}

func TestControllerNoDocumentOnPlainText(t *testing.T) {
	p := llm.NewMockProvider("mock").AddTextResponse("Here is the document you wanted, in prose.")
	c := New(p)

	startAndDrain(t, c, []llm.Message{llm.UserText("hi")})

	if doc := c.Document(); doc != nil {
		t.Fatalf("trigger phrase alone produced a document: %+v", doc)
	}
}

func TestControllerBuildCapture(t *testing.T) {
	p := llm.NewMockProvider("mock").AddTextResponse("captured content")
	c := New(p)

	startAndDrain(t, c, []llm.Message{llm.UserText("hi")})

	payload, err := c.BuildCapture(capture.Provenance{})
	if err != nil {
		t.Fatalf("BuildCapture: %v", err)
	}
	if payload.Content != "captured content" {
		t.Fatalf("content = %q", payload.Content)
	}
	if payload.Provenance.SourceID != c.ID() {
		t.Fatalf("source id = %q, want session id", payload.Provenance.SourceID)
	}
	if payload.Provenance.Model != "mock" {
		t.Fatalf("model = %q", payload.Provenance.Model)
	}
}

func TestControllerBuildCaptureEmpty(t *testing.T) {
	p := llm.NewMockProvider("mock").AddTextResponse("")
	c := New(p)

	startAndDrain(t, c, []llm.Message{llm.UserText("hi")})

	if _, err := c.BuildCapture(capture.Provenance{}); !errors.Is(err, capture.ErrNothingToCapture) {
		t.Fatalf("err = %v, want ErrNothingToCapture", err)
	}
}

// stallProvider emits its scripted deltas immediately, then holds the
// stream open until the context is cancelled. It pins the controller in
// Streaming so tests can observe mid-exchange behavior.
type stallProvider struct {
	events []llm.Event
}

func (p *stallProvider) Name() string { return "stall" }

func (p *stallProvider) Capabilities() llm.Capabilities { return llm.Capabilities{} }
func (p *stallProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	return &stallStream{ctx: ctx, events: p.events}, nil
}

type stallStream struct {
	ctx    context.Context
	events []llm.Event
	idx    int
}

func (s *stallStream) Recv() (llm.Event, error) {
	if s.idx < len(s.events) {
		ev := s.events[s.idx]
		s.idx++
		return ev, nil
	}
	<-s.ctx.Done()
	return llm.Event{}, s.ctx.Err()
}

func (s *stallStream) Close() error { return nil }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestControllerCancelDiscardsBufferedEvents(t *testing.T) {
	p := &stallProvider{events: []llm.Event{
		{Type: llm.EventTextDelta, Text: "one "},
		{Type: llm.EventTextDelta, Text: "two "},
		{Type: llm.EventTextDelta, Text: "three"},
	}}
	c := New(p)

	// The caller never consumes, so the deltas pile up in the delivery
	// channel.
	ch, _, err := c.Start(context.Background(), []llm.Message{llm.UserText("hi")}, Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return c.Snapshot().Content == "one two three" })

	c.Cancel()

	for ev := range ch {
		t.Fatalf("event delivered after Cancel: %+v", ev)
	}
	if c.State() != StateCancelled {
		t.Fatalf("state = %s", c.State())
	}
	// The text is not lost, only its delivery.
	if snap := c.Snapshot(); snap.Content != "one two three" {
		t.Fatalf("snapshot = %q", snap.Content)
	}
}

func TestControllerTriggerHintKeepsScanAlive(t *testing.T) {
	// The marker arrives inside a delta so large that it is out of the
	// trailing window by the time the scan runs; the trigger phrase seen
	// earlier keeps the full scan alive.
	big := "<!-- DOCUMENT: notes.md -->\n# Notes\n" + strings.Repeat("x", 5000)
	p := &stallProvider{events: []llm.Event{
		{Type: llm.EventTextDelta, Text: "I've created the document.\n"},
		{Type: llm.EventTextDelta, Text: big},
	}}
	c := New(p)

	ch, _, err := c.Start(context.Background(), []llm.Message{llm.UserText("hi")}, Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	go func() {
		for range ch {
		}
	}()

	waitFor(t, func() bool { return c.PendingDocument() != nil })

	m := c.PendingDocument()
	if m.Filename != "notes.md" {
		t.Fatalf("pending match = %+v", m)
	}
	c.Cancel()
}

func TestFilterAttachmentsPreservesOrder(t *testing.T) {
	messages := []llm.Message{
		llm.UserText("first"),
		{Role: llm.RoleUser, Text: "second", Images: [][]byte{[]byte("i")}},
		llm.AssistantText("third"),
	}
	filtered, warnings := FilterAttachments(messages, llm.Capabilities{}, "m")
	if len(filtered) != 3 {
		t.Fatalf("got %d messages", len(filtered))
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %+v", warnings)
	}
	if filtered[0].Text != "first" || filtered[1].Text != "second" || filtered[2].Text != "third" {
		t.Fatalf("order broken: %+v", filtered)
	}
	// The original slice is untouched.
	if len(messages[1].Images) != 1 {
		t.Fatal("input messages mutated")
	}
}
