package chat

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/skeinworks/skein/pkg/llm"
)

// settingsCookie carries request-scoped client preferences.
const settingsCookie = "skein_settings"

// Settings are the per-client preferences sent alongside a chat request in
// the skein_settings cookie: collaborator credentials and per-model
// generation overrides. They are request-scoped; the server stores nothing.
type Settings struct {
	// APIKeys holds credentials by collaborator name, e.g. "builder".
	APIKeys map[string]string `json:"apiKeys,omitzero"`
	// Providers overrides generation parameters, keyed by model name
	// prefix. A matching entry replaces the model's configured parameters.
	Providers map[string]*ProviderSettings `json:"providers,omitzero"`
	// DefaultModel serves requests that name no model.
	DefaultModel string `json:"defaultModel,omitzero"`
}

// ProviderSettings is one per-model override entry.
type ProviderSettings struct {
	Params *llm.Params `json:"params,omitzero"`
}

// SettingsFromRequest reads the skein_settings cookie. A missing or
// malformed cookie yields empty settings; preferences never fail a request.
func SettingsFromRequest(r *http.Request) *Settings {
	c, err := r.Cookie(settingsCookie)
	if err != nil {
		return &Settings{}
	}
	raw := c.Value
	if unescaped, err := url.QueryUnescape(raw); err == nil {
		raw = unescaped
	}
	s := &Settings{}
	if err := json.Unmarshal([]byte(raw), s); err != nil {
		slog.Warn("chat: ignoring malformed settings cookie", "error", err)
		return &Settings{}
	}
	return s
}

// Key returns the named collaborator credential, or "".
func (s *Settings) Key(name string) string {
	if s == nil {
		return ""
	}
	return s.APIKeys[name]
}

// ParamsFor returns the parameter override for model, matching the longest
// configured prefix. Nil when nothing matches.
func (s *Settings) ParamsFor(model string) *llm.Params {
	if s == nil {
		return nil
	}
	var best string
	var params *llm.Params
	for prefix, ps := range s.Providers {
		if ps == nil || ps.Params == nil || !strings.HasPrefix(model, prefix) {
			continue
		}
		if params == nil || len(prefix) > len(best) {
			best, params = prefix, ps.Params
		}
	}
	return params
}
