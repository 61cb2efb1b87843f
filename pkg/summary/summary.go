// Package summary condenses chat history into a compact context briefing.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/skeinworks/skein/pkg/llm"

	_ "embed"
)

//go:embed prompt.txt
var systemPrompt string

// Option configures Summarize behavior.
type Option func(*config)

type config struct {
	gen llm.Generator
}

// WithGenerator routes generation through gen instead of the default mux.
func WithGenerator(gen llm.Generator) Option {
	return func(c *config) {
		c.gen = gen
	}
}

// Summarize condenses msgs into a briefing by running model. It drains the
// whole stream and returns the text with the reported token usage.
// A truncated generation still returns the partial briefing.
func Summarize(ctx context.Context, model string, msgs []*llm.Message, opts ...Option) (string, llm.Usage, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	req := &llm.Request{
		System:   systemPrompt,
		Messages: msgs,
	}

	var (
		stream llm.Stream
		err    error
	)
	if cfg.gen != nil {
		stream, err = cfg.gen.GenerateStream(ctx, model, req)
	} else {
		stream, err = llm.GenerateStream(ctx, model, req)
	}
	if err != nil {
		return "", llm.Usage{}, fmt.Errorf("generate: %w", err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Next()
		if err != nil {
			var state *llm.State
			if errors.As(err, &state) {
				switch state.Status() {
				case llm.StatusDone, llm.StatusTruncated:
					return sb.String(), state.Usage(), nil
				default:
					return "", state.Usage(), err
				}
			}
			return "", llm.Usage{}, err
		}
		sb.WriteString(chunk.Text)
	}
}
