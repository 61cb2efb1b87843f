package relay

import (
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by controller operations after the relay has been
// closed from either side.
var ErrClosed = errors.New("relay: closed")

// Source is a pull-based record producer. Next blocks until a record is
// available, the source is exhausted (io.EOF), or it fails. Close releases
// the producer's resources and must unblock a concurrent Next.
type Source[T any] interface {
	Next() (T, error)
	Close() error
}

// New creates a relay and returns its consumer and producer handles.
func New[T any]() (*Reader[T], *Controller[T]) {
	s := &state[T]{}
	s.cond = sync.NewCond(&s.mu)
	return &Reader[T]{s: s}, &Controller[T]{s: s}
}

type state[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	queue []T       // appended records, served before the active source
	src   Source[T] // active source, nil when detached
	gen   uint64    // bumped whenever src changes; stale pulls drop their error

	done     bool  // controller finished
	closeErr error // terminal error, nil means clean end
	rclosed  bool  // reader gave up
}

// Reader is the consumer handle. A single goroutine pulls it.
type Reader[T any] struct {
	s *state[T]
}

// Next returns the next record. Queued records come first, then records
// pulled from the active source. It blocks while the relay is open and
// neither has data. After completion it returns io.EOF, or the error the
// relay was closed with.
func (r *Reader[T]) Next() (T, error) {
	var zero T
	s := r.s
	s.mu.Lock()
	for {
		if s.rclosed {
			s.mu.Unlock()
			return zero, ErrClosed
		}
		if len(s.queue) > 0 {
			rec := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return rec, nil
		}
		if src := s.src; src != nil {
			gen := s.gen
			s.mu.Unlock()
			rec, err := src.Next()
			s.mu.Lock()
			if err == nil {
				// A record obtained while a switch landed was produced
				// before the switch took effect; it is delivered, not
				// dropped.
				s.mu.Unlock()
				return rec, nil
			}
			if s.gen != gen {
				// Superseded mid-pull; the old source's error is not ours.
				continue
			}
			s.src = nil
			s.gen++
			if err == io.EOF {
				// Source drained. The relay stays open; the controller
				// decides whether more follows.
				continue
			}
			s.done = true
			s.closeErr = err
			s.cond.Broadcast()
			s.mu.Unlock()
			return zero, err
		}
		if s.done {
			err := s.closeErr
			s.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return zero, err
		}
		s.cond.Wait()
	}
}

// Close cancels the relay from the consumer side. The active source is
// closed so its producer stops and releases resources. Idempotent.
func (r *Reader[T]) Close() error {
	s := r.s
	s.mu.Lock()
	if s.rclosed {
		s.mu.Unlock()
		return nil
	}
	s.rclosed = true
	src := s.src
	s.src = nil
	s.gen++
	s.cond.Broadcast()
	s.mu.Unlock()
	if src != nil {
		src.Close()
	}
	return nil
}

// Controller is the producer handle, owned by exactly one goroutine.
type Controller[T any] struct {
	s *state[T]
}

// Append queues records for delivery ahead of the active source.
func (c *Controller[T]) Append(recs ...T) error {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || s.rclosed {
		return ErrClosed
	}
	s.queue = append(s.queue, recs...)
	s.cond.Broadcast()
	return nil
}

// Switch installs src as the active source, superseding and closing any
// previous one. Records already delivered keep their order; the superseded
// source receives no further reads.
func (c *Controller[T]) Switch(src Source[T]) error {
	s := c.s
	s.mu.Lock()
	if s.done || s.rclosed {
		s.mu.Unlock()
		src.Close()
		return ErrClosed
	}
	prev := s.src
	s.src = src
	s.gen++
	s.cond.Broadcast()
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return nil
}

// Close completes the relay. The Reader drains queued records and then
// sees io.EOF. Idempotent.
func (c *Controller[T]) Close() error {
	return c.close(nil)
}

// CloseWithError completes the relay with err as the terminal result.
// Queued records still drain first. A nil err is equivalent to Close.
// Idempotent; the first close wins.
func (c *Controller[T]) CloseWithError(err error) error {
	return c.close(err)
}

func (c *Controller[T]) close(err error) error {
	s := c.s
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	s.closeErr = err
	src := s.src
	s.src = nil
	s.gen++
	s.cond.Broadcast()
	s.mu.Unlock()
	if src != nil {
		src.Close()
	}
	return nil
}
