// Package relay provides a single-consumer output stream whose record
// source can be replaced while the stream stays open.
//
// A relay is created with two handles, io.Pipe style:
//
//	out, ctl := relay.New[Record]()
//
// The Reader belongs to the consumer (e.g. the goroutine writing an HTTP
// response body) and is pulled from exactly once at a time. The Controller
// belongs to the producer side and supports two ways of feeding records:
//
//   - Append queues records directly. Queued records are always served
//     before the active source is pulled.
//   - Switch installs a Source the relay pulls from on demand. Each call
//     fully supersedes the previous source: records already delivered keep
//     their order, the superseded source is closed and no further reads are
//     issued against it, and a new active source takes over.
//
// When the active source is exhausted (io.EOF) the relay detaches it and
// stays open, waiting for the controller to Append, Switch again, or Close.
// Any other source error terminates the stream. Close and CloseWithError
// are idempotent; the Reader drains queued records before it observes the
// terminal result. Closing the Reader cancels the relay from the consumer
// side: the active source is closed so its producer stops, and subsequent
// controller operations fail with ErrClosed.
package relay
