package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/skeinworks/skein/pkg/llm"
)

// replayedTurns is how many trailing conversation turns are replayed
// verbatim to the generator when a summary stands in for older context.
const replayedTurns = 3

// BuilderConfig enables the builder stage for a request.
type BuilderConfig struct {
	// BackendURL is the builder service endpoint.
	BackendURL string `json:"backendUrl"`
	// APIKey is the bearer credential; falls back to the settings cookie.
	APIKey string `json:"apiKey,omitzero"`
	// Options is passed through to the backend as builderOptions.
	Options map[string]any `json:"options,omitzero"`
}

// Request is the body of POST /api/chat.
type Request struct {
	// Messages is the conversation, oldest first. Roles are "user" and
	// "model"; "assistant" is accepted as an alias for "model".
	Messages []*llm.Message `json:"messages"`
	// ChatID groups requests into one conversation.
	ChatID string `json:"chatId"`
	// Files maps file paths to contents. Only the summary stage sees them.
	Files map[string]string `json:"files,omitzero"`
	// PromptID selects a system prompt template; empty means the default.
	PromptID string `json:"promptId,omitzero"`
	// ContextOptimization enables the summary stage when files are present.
	ContextOptimization bool `json:"contextOptimization,omitzero"`
	// Builder, when present, enables the builder stage.
	Builder *BuilderConfig `json:"builder,omitzero"`
	// Model overrides the server's default model.
	Model string `json:"model,omitzero"`
}

var requestSchema = sync.OnceValues(func() (*jsonschema.Resolved, error) {
	schema, err := jsonschema.For[Request](nil)
	if err != nil {
		return nil, err
	}
	return schema.Resolve(nil)
})

// DecodeRequest decodes and validates one chat request body. Any error is
// a client error: the request must be rejected before a stream is opened.
func DecodeRequest(r io.Reader) (*Request, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	schema, err := requestSchema()
	if err != nil {
		return nil, fmt.Errorf("request schema: %w", err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	req := &Request{}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if err := req.normalize(); err != nil {
		return nil, err
	}
	return req, nil
}

// normalize applies role aliases and the semantic checks the schema cannot
// express.
func (r *Request) normalize() error {
	if r.ChatID == "" {
		return errors.New("chatId must not be empty")
	}
	if len(r.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	for i, m := range r.Messages {
		if m == nil {
			return fmt.Errorf("message %d: null", i)
		}
		switch m.Role {
		case llm.RoleUser, llm.RoleModel:
		case "assistant":
			m.Role = llm.RoleModel
		default:
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}
	if r.Builder != nil && r.Builder.BackendURL == "" {
		return errors.New("builder.backendUrl must not be empty")
	}
	return nil
}

// MessageSliceID is the index of the first message replayed verbatim to
// the generator when a summary substitutes for older context:
// max(0, messageCount-3).
func (r *Request) MessageSliceID() int {
	if n := len(r.Messages) - replayedTurns; n > 0 {
		return n
	}
	return 0
}
