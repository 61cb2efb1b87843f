package chat

import (
	"sync"

	"github.com/skeinworks/skein/pkg/llm"
	"github.com/skeinworks/skein/pkg/wire"
)

// accumulator sums the token usage reported across one request's stages.
// Stages that report nothing contribute zero.
type accumulator struct {
	mu    sync.Mutex
	total llm.Usage
}

func (a *accumulator) add(u llm.Usage) {
	a.mu.Lock()
	a.total.Add(u)
	a.mu.Unlock()
}

func (a *accumulator) usage() llm.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

func (a *accumulator) counts() wire.TokenCounts {
	u := a.usage()
	return wire.TokenCounts{
		CompletionTokens: u.CompletionTokens,
		PromptTokens:     u.PromptTokens,
		TotalTokens:      u.TotalTokens,
	}
}
