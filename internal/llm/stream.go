package llm

import (
	"context"
	"errors"
	"io"
)

type channelStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events <-chan Event
}

// newEventStream runs fn on its own goroutine and exposes the events it
// emits through a bounded channel. An error returned by fn becomes a single
// terminal EventError; nothing follows it.
func newEventStream(ctx context.Context, provider string, fn func(context.Context, chan<- Event) error) Stream {
	streamCtx, cancel := context.WithCancel(ctx)
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		if err := fn(streamCtx, ch); err != nil {
			var pe *ProviderError
			if !errors.As(err, &pe) {
				pe = classifyTransport(provider, err)
			}
			select {
			case ch <- Event{Type: EventError, Err: pe}:
			case <-streamCtx.Done():
			}
		}
	}()
	return &channelStream{ctx: streamCtx, cancel: cancel, events: ch}
}

func (s *channelStream) Recv() (Event, error) {
	// Non-blocking drain: consume any buffered event before checking
	// ctx.Done() so a terminal event is not dropped when both are ready.
	select {
	case event, ok := <-s.events:
		if !ok {
			return Event{}, io.EOF
		}
		return event, nil
	default:
	}

	select {
	case <-s.ctx.Done():
		return Event{}, s.ctx.Err()
	case event, ok := <-s.events:
		if !ok {
			return Event{}, io.EOF
		}
		return event, nil
	}
}

func (s *channelStream) Close() error {
	s.cancel()
	return nil
}
