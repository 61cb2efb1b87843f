package llm

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

type Status int

const (
	StatusOK Status = iota
	StatusDone
	StatusTruncated
	StatusBlocked
	StatusError
)

type StreamEvent struct {
	Chunk   *Chunk
	Status  Status
	Usage   Usage
	Refusal string
	Error   error
}

// StreamBuilder is the push side of a Stream. One producer goroutine calls
// Add for each chunk and exactly one of the terminal methods (Done,
// Truncated, Blocked, Unexpected, Abort) when the provider finishes.
type StreamBuilder struct {
	ch      chan *StreamEvent
	done    chan struct{}
	wclosed bool // producer finished; owned by the producer goroutine
	closed  atomic.Bool

	mu       sync.Mutex
	closeErr error
}

func NewStreamBuilder(size int) *StreamBuilder {
	return &StreamBuilder{
		ch:   make(chan *StreamEvent, size),
		done: make(chan struct{}),
	}
}

func (sb *StreamBuilder) Add(chunks ...*Chunk) error {
	for _, c := range chunks {
		if err := sb.send(&StreamEvent{Chunk: c}); err != nil {
			return err
		}
	}
	return nil
}

func (sb *StreamBuilder) Done(stats Usage) error {
	return sb.finish(&StreamEvent{Status: StatusDone, Usage: stats})
}

func (sb *StreamBuilder) Truncated(stats Usage) error {
	return sb.finish(&StreamEvent{Status: StatusTruncated, Usage: stats})
}

func (sb *StreamBuilder) Blocked(stats Usage, refusal string) error {
	return sb.finish(&StreamEvent{Status: StatusBlocked, Usage: stats, Refusal: refusal})
}

func (sb *StreamBuilder) Unexpected(stats Usage, err error) error {
	return sb.finish(&StreamEvent{Status: StatusError, Usage: stats, Error: err})
}

// Abort terminates the stream with err and no usage. Chunks already queued
// still reach the consumer before the error does.
func (sb *StreamBuilder) Abort(err error) error {
	return sb.Unexpected(Usage{}, err)
}

func (sb *StreamBuilder) finish(evt *StreamEvent) error {
	if err := sb.send(evt); err != nil {
		return err
	}
	sb.wclosed = true
	close(sb.ch)
	return nil
}

func (sb *StreamBuilder) send(evt *StreamEvent) error {
	if sb.wclosed {
		return io.ErrClosedPipe
	}
	select {
	case sb.ch <- evt:
		return nil
	case <-sb.done:
		return io.ErrClosedPipe
	}
}

func (sb *StreamBuilder) Stream() Stream {
	return (*streamImpl)(sb)
}

type streamImpl StreamBuilder

func (s *streamImpl) Next() (*Chunk, error) {
	sb := (*StreamBuilder)(s)
	sb.mu.Lock()
	err := sb.closeErr
	sb.mu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case evt, ok := <-sb.ch:
		if !ok {
			return nil, io.EOF
		}
		switch evt.Status {
		case StatusOK:
			return evt.Chunk, nil
		case StatusDone:
			err = Done(evt.Usage)
		case StatusTruncated:
			err = Truncated(evt.Usage)
		case StatusBlocked:
			err = Blocked(evt.Usage, evt.Refusal)
		case StatusError:
			err = Error(evt.Usage, evt.Error)
		default:
			err = fmt.Errorf("llm: unexpected stream status: %v", evt.Status)
		}
		s.CloseWithError(err)
		return nil, err
	case <-sb.done:
		sb.mu.Lock()
		err = sb.closeErr
		sb.mu.Unlock()
		if err == nil {
			err = io.EOF
		}
		return nil, err
	}
}

func (s *streamImpl) Close() error {
	return s.CloseWithError(io.EOF)
}

func (s *streamImpl) CloseWithError(err error) error {
	sb := (*StreamBuilder)(s)
	if !sb.closed.CompareAndSwap(false, true) {
		return nil
	}
	sb.mu.Lock()
	sb.closeErr = err
	sb.mu.Unlock()
	close(sb.done)
	return nil
}
