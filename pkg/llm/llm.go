// Package llm provides a streaming text-generation boundary over multiple
// model providers.
//
// A Generator turns a Request into a Stream of text Chunks. The stream's
// terminal condition is delivered as an error value: a *State carrying the
// finish status and the token usage the provider reported, extracted with
// errors.As:
//
//	stream, err := llm.GenerateStream(ctx, "gpt-4o", req)
//	for {
//		chunk, err := stream.Next()
//		if err != nil {
//			var state *llm.State
//			if errors.As(err, &state) {
//				// state.Status(), state.Usage()
//			}
//			break
//		}
//		// chunk.Text
//	}
//
// Providers push chunks through a StreamBuilder from their own puller
// goroutine; OpenAIGenerator and GeminiGenerator are the built-in
// implementations. A Mux routes requests to registered generators by name.
package llm

import "context"

// Role identifies the producer of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Chunk is one text fragment of a generation stream.
type Chunk struct {
	Text string
}

// Stream is a pull-based sequence of chunks. Next blocks until a chunk is
// available or the stream terminates; the terminal error is a *State for
// provider-reported finishes. Close and CloseWithError may be called from
// the consumer side to abandon the stream and stop the producer.
type Stream interface {
	Next() (*Chunk, error)
	Close() error
	CloseWithError(error) error
}

// Usage counts tokens for one generation call or an accumulation of them.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens,omitzero"`
	CompletionTokens int64 `json:"completion_tokens,omitzero"`
	TotalTokens      int64 `json:"total_tokens,omitzero"`
}

// Add merges v into u.
func (u *Usage) Add(v Usage) {
	u.PromptTokens += v.PromptTokens
	u.CompletionTokens += v.CompletionTokens
	u.TotalTokens += v.TotalTokens
}

// Params are per-model generation parameters.
type Params struct {
	MaxTokens        int     `json:"max_tokens,omitzero" yaml:"max_tokens,omitzero"`
	Temperature      float32 `json:"temperature,omitzero" yaml:"temperature,omitzero"`
	TopP             float32 `json:"top_p,omitzero" yaml:"top_p,omitzero"`
	TopK             float32 `json:"top_k,omitzero" yaml:"top_k,omitzero"`
	FrequencyPenalty float32 `json:"frequency_penalty,omitzero" yaml:"frequency_penalty,omitzero"`
	PresencePenalty  float32 `json:"presence_penalty,omitzero" yaml:"presence_penalty,omitzero"`
}

// Request is one generation call.
type Request struct {
	// System is the system instruction; may be empty.
	System string
	// Messages is the conversation, oldest first.
	Messages []*Message
	// Params overrides the generator's configured parameters when set.
	Params *Params
}

// Generator produces a stream of text for a request. The name is the
// pattern the call was routed with.
type Generator interface {
	GenerateStream(ctx context.Context, name string, req *Request) (Stream, error)
}
