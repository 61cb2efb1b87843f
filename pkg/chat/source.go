package chat

import (
	"errors"
	"io"

	"github.com/skeinworks/skein/pkg/llm"
	"github.com/skeinworks/skein/pkg/relay"
	"github.com/skeinworks/skein/pkg/wire"
)

var _ relay.Source[wire.Record] = (*segmentSource)(nil)

// segmentSource adapts one generation stream to a relay source. Text
// chunks come out as wire.Text records. The provider's terminal state is
// handed back to the pipeline on the terminal channel instead of
// surfacing as a relay error, so the relay stays open for trailing
// annotations and follow-up segments; only a hard stream error tears the
// relay down.
type segmentSource struct {
	stream   llm.Stream
	onText   func(string)
	terminal chan error
}

func newSegmentSource(stream llm.Stream, onText func(string)) *segmentSource {
	return &segmentSource{
		stream:   stream,
		onText:   onText,
		terminal: make(chan error, 1),
	}
}

func (s *segmentSource) Next() (wire.Record, error) {
	chunk, err := s.stream.Next()
	if err != nil {
		s.deliver(err)
		var state *llm.State
		if errors.As(err, &state) {
			switch state.Status() {
			case llm.StatusDone, llm.StatusTruncated, llm.StatusBlocked:
				// A reported finish detaches the source; the pipeline
				// decides what follows on the relay.
				return nil, io.EOF
			}
		}
		return nil, err
	}
	if s.onText != nil {
		s.onText(chunk.Text)
	}
	return wire.Text(chunk.Text), nil
}

// Close stops the underlying stream. Reached when the consumer abandons
// the relay mid-generation; the terminal delivery unblocks the pipeline.
func (s *segmentSource) Close() error {
	s.deliver(relay.ErrClosed)
	return s.stream.Close()
}

// deliver hands the terminal error to the pipeline exactly once.
func (s *segmentSource) deliver(err error) {
	select {
	case s.terminal <- err:
	default:
	}
}
