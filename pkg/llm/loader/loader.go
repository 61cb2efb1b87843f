// Package loader loads generator configs from a directory tree and
// registers them on a [llm.Mux].
package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/skeinworks/skein/pkg/llm"
	"google.golang.org/genai"
)

// Verbose enables request body logging for debugging
var Verbose bool

type verboseTransport struct {
	base http.RoundTripper
}

func (t *verboseTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(body))

		var prettyJSON bytes.Buffer
		if err := json.Indent(&prettyJSON, body, "", "  "); err == nil {
			log.Printf("\n=== REQUEST TO %s ===\n%s\n=== END REQUEST ===\n", req.URL, prettyJSON.String())
		} else {
			log.Printf("\n=== REQUEST TO %s ===\n%s\n=== END REQUEST ===\n", req.URL, string(body))
		}
	}
	return t.base.RoundTrip(req)
}

type ConfigFile struct {
	Kind string `json:"kind" yaml:"kind"` // "openai", "gemini"

	// APIKey may be an env var reference like "$OPENAI_API_KEY".
	APIKey  string `json:"api_key,omitzero" yaml:"api_key,omitzero"`
	BaseURL string `json:"base_url,omitzero" yaml:"base_url,omitzero"`

	Models []Entry `json:"models,omitzero" yaml:"models,omitzero"`
}

type Entry struct {
	Name          string      `json:"name" yaml:"name"`
	Model         string      `json:"model" yaml:"model"`
	Params        *llm.Params `json:"params,omitzero" yaml:"params,omitzero"`
	UseSystemRole bool        `json:"use_system_role,omitzero" yaml:"use_system_role,omitzero"`
}

// LoadFromDir loads generator configs from dir recursively and registers
// them on mux. Returns the registered model names.
// Configs with missing credentials (empty API key after env expansion) are
// skipped.
func LoadFromDir(mux *llm.Mux, dir string) ([]string, error) {
	var names []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			return nil
		}
		cfg, err := parseConfig(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		fileNames, err := registerConfig(mux, *cfg)
		if err != nil {
			// Skip configs with missing credentials
			if strings.Contains(err.Error(), "is required") {
				if Verbose {
					log.Printf("skipping %s: %v", path, err)
				}
				return nil
			}
			return fmt.Errorf("register %s: %w", path, err)
		}
		names = append(names, fileNames...)
		return nil
	})

	return names, err
}

func parseConfig(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	var cfg ConfigFile
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported extension: %s", ext)
	}
	return &cfg, nil
}

func registerConfig(mux *llm.Mux, cfg ConfigFile) ([]string, error) {
	cfg.APIKey = expandEnv(cfg.APIKey)

	switch strings.ToLower(cfg.Kind) {
	case "openai":
		return registerOpenAI(mux, cfg)
	case "gemini":
		return registerGemini(mux, cfg)
	default:
		return nil, fmt.Errorf("unknown kind: %s", cfg.Kind)
	}
}

// expandEnv expands environment variables in a string.
// Supports formats: $VAR, ${VAR}, and plain values.
// If the value starts with $ but the env var is not set, returns empty string.
func expandEnv(s string) string {
	if s == "" {
		return s
	}
	if strings.HasPrefix(s, "$") {
		return os.ExpandEnv(s)
	}
	return s
}

func registerOpenAI(mux *llm.Mux, cfg ConfigFile) ([]string, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for openai kind")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if Verbose {
		opts = append(opts, option.WithHTTPClient(&http.Client{
			Transport: &verboseTransport{base: http.DefaultTransport},
		}))
	}
	client := openai.NewClient(opts...)

	var names []string
	for _, m := range cfg.Models {
		if m.Name == "" || m.Model == "" {
			return nil, fmt.Errorf("model entry missing name or model")
		}
		if err := mux.Handle(m.Name, &llm.OpenAIGenerator{
			Client:        &client,
			Model:         m.Model,
			Params:        m.Params,
			UseSystemRole: m.UseSystemRole,
		}); err != nil {
			return nil, fmt.Errorf("register generator %q: %w", m.Name, err)
		}
		names = append(names, m.Name)
	}
	return names, nil
}

func registerGemini(mux *llm.Mux, cfg ConfigFile) ([]string, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for gemini kind")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, err
	}

	var names []string
	for _, m := range cfg.Models {
		if m.Name == "" || m.Model == "" {
			return nil, fmt.Errorf("model entry missing name or model")
		}
		if err := mux.Handle(m.Name, &llm.GeminiGenerator{
			Client: client,
			Model:  m.Model,
			Params: m.Params,
		}); err != nil {
			return nil, fmt.Errorf("register generator %q: %w", m.Name, err)
		}
		names = append(names, m.Name)
	}
	return names, nil
}
