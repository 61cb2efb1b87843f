package llm

import (
	"errors"
	"fmt"
)

// ErrDone is returned when the stream is done.
var ErrDone = errors.New("llm: done")

func Done(stats Usage) *State {
	return &State{
		usage:  stats,
		status: StatusDone,
		err:    ErrDone,
	}
}

func Blocked(stats Usage, refusal string) *State {
	return &State{
		usage:  stats,
		status: StatusBlocked,
		err:    fmt.Errorf("llm: generate blocked: %s", refusal),
	}
}

func Truncated(stats Usage) *State {
	return &State{
		usage:  stats,
		status: StatusTruncated,
		err:    errors.New("llm: generate truncated"),
	}
}

func Error(stats Usage, err error) *State {
	return &State{
		usage:  stats,
		status: StatusError,
		err:    fmt.Errorf("llm: generate error: %w", err),
	}
}

// State is the terminal condition of a stream, delivered as an error.
type State struct {
	usage  Usage
	status Status
	err    error
}

func (s State) Usage() Usage {
	return s.usage
}

func (s State) Status() Status {
	return s.status
}

func (s State) Unwrap() error {
	return s.err
}

func (s State) Error() string {
	switch s.status {
	case StatusDone:
		return "llm: generate done"
	case StatusTruncated:
		return s.err.Error()
	case StatusBlocked:
		return s.err.Error()
	case StatusError:
		return s.err.Error()
	default:
		return fmt.Sprintf("llm: unexpected stream status: %v", s.status)
	}
}
