package chat

import "github.com/skeinworks/skein/pkg/wire"

// Stage labels on progress records.
const (
	labelBuilder  = "builder"
	labelSummary  = "summary"
	labelResponse = "response"
)

// emitter hands out the order values for one request's progress records.
// Orders are strictly increasing from 1 and never reused; the counter is
// owned by the pipeline goroutine, so no locking.
type emitter struct {
	order int
}

func (e *emitter) next() int {
	e.order++
	return e.order
}

// inProgress marks a stage as started.
func (e *emitter) inProgress(label string) *wire.Progress {
	return &wire.Progress{Label: label, Status: wire.StatusInProgress, Order: e.next()}
}

// complete marks a stage as finished.
func (e *emitter) complete(label string) *wire.Progress {
	return &wire.Progress{Label: label, Status: wire.StatusComplete, Order: e.next()}
}

// message reports a stage failure without completing the stage: the status
// stays in-progress and the message carries the error detail.
func (e *emitter) message(label, msg string) *wire.Progress {
	return &wire.Progress{Label: label, Status: wire.StatusInProgress, Order: e.next(), Message: msg}
}
