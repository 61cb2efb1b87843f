package chat

import (
	_ "embed"
	"log/slog"
)

//go:embed prompts/default.txt
var promptDefault string

//go:embed prompts/concise.txt
var promptConcise string

//go:embed prompts/continue.txt
var promptContinue string

// prompts maps promptId values to system prompt templates.
var prompts = map[string]string{
	"":        promptDefault,
	"default": promptDefault,
	"concise": promptConcise,
}

// systemPrompt resolves a promptId. Unknown ids fall back to the default
// so a client holding a stale id still gets an answer.
func systemPrompt(id string) string {
	if p, ok := prompts[id]; ok {
		return p
	}
	slog.Warn("chat: unknown promptId, using default", "promptId", id)
	return promptDefault
}
