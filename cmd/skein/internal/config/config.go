// Package config loads the skein server configuration file.
//
// A minimal skein.yaml:
//
//	listen: ":8080"
//	model_dir: ./models
//	default_model: gpt-4o
//	summary_model: gpt-4o-mini
//	max_segments: 2
//	ledger_dir: ./data/ledger
//	archive:
//	  dir: ./data/transcripts
//	builder:
//	  timeout: 30s
//	  result_query: ".summary"
//
// Credential fields accept $VAR references which are expanded from the
// environment at load time, the same way model config files do.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/skeinworks/skein/pkg/builder"
	"github.com/skeinworks/skein/pkg/jsontime"
)

// DefaultListen is the listen address used when the config omits one.
const DefaultListen = ":8080"

// Config is the parsed skein.yaml.
type Config struct {
	// Listen is the HTTP listen address. Defaults to [DefaultListen].
	Listen string `json:"listen,omitzero" yaml:"listen,omitzero"`

	// ModelDir is the directory of model provider configs. Required.
	ModelDir string `json:"model_dir" yaml:"model_dir"`

	// DefaultModel serves requests that name no model.
	DefaultModel string `json:"default_model,omitzero" yaml:"default_model,omitzero"`

	// SummaryModel runs the summary stage. DefaultModel when empty.
	SummaryModel string `json:"summary_model,omitzero" yaml:"summary_model,omitzero"`

	// MaxSegments caps continuation after truncated generations.
	// Zero means the server default.
	MaxSegments int `json:"max_segments,omitzero" yaml:"max_segments,omitzero"`

	// LedgerDir is the usage ledger directory. Empty runs the ledger
	// in memory, which loses records on restart.
	LedgerDir string `json:"ledger_dir,omitzero" yaml:"ledger_dir,omitzero"`

	Archive *Archive `json:"archive,omitzero" yaml:"archive,omitzero"`
	Builder *Builder `json:"builder,omitzero" yaml:"builder,omitzero"`
}

// Archive selects a transcript store backend. Exactly one of Dir or S3
// may be set; neither disables archiving.
type Archive struct {
	Dir string `json:"dir,omitzero" yaml:"dir,omitzero"`
	S3  *S3    `json:"s3,omitzero" yaml:"s3,omitzero"`
}

// S3 configures an S3-compatible transcript store.
type S3 struct {
	Bucket string `json:"bucket" yaml:"bucket"`
	Prefix string `json:"prefix,omitzero" yaml:"prefix,omitzero"`
	Region string `json:"region,omitzero" yaml:"region,omitzero"`

	// Endpoint overrides the AWS endpoint for MinIO/R2-style stores.
	Endpoint string `json:"endpoint,omitzero" yaml:"endpoint,omitzero"`

	// AccessKey and SecretKey may be $VAR references.
	AccessKey string `json:"access_key,omitzero" yaml:"access_key,omitzero"`
	SecretKey string `json:"secret_key,omitzero" yaml:"secret_key,omitzero"`
}

// Builder configures the builder backend client.
type Builder struct {
	// Timeout is a duration string ("30s"). Unset uses the client default.
	Timeout jsontime.Duration `json:"timeout,omitzero" yaml:"timeout,omitzero"`

	// APIKey is the default bearer token for backends; may be a $VAR
	// reference. Request-level keys take precedence.
	APIKey string `json:"api_key,omitzero" yaml:"api_key,omitzero"`

	// ResultQuery is a jq expression that extracts the payload from the
	// backend response envelope.
	ResultQuery string `json:"result_query,omitzero" yaml:"result_query,omitzero"`
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.ModelDir == "" {
		return fmt.Errorf("model_dir is required")
	}
	if c.MaxSegments < 0 {
		return fmt.Errorf("max_segments must not be negative")
	}
	if a := c.Archive; a != nil {
		if a.Dir != "" && a.S3 != nil {
			return fmt.Errorf("archive: dir and s3 are mutually exclusive")
		}
		if a.S3 != nil {
			if a.S3.Bucket == "" {
				return fmt.Errorf("archive.s3: bucket is required")
			}
			a.S3.AccessKey = expandEnv(a.S3.AccessKey)
			a.S3.SecretKey = expandEnv(a.S3.SecretKey)
		}
	}
	if b := c.Builder; b != nil {
		b.APIKey = expandEnv(b.APIKey)
		if b.Timeout < 0 {
			return fmt.Errorf("builder.timeout: must not be negative, got %s", b.Timeout)
		}
		if _, err := builder.ParseQuery(b.ResultQuery); err != nil {
			return fmt.Errorf("builder.result_query: %w", err)
		}
	}
	return nil
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
