package builder

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/itchyny/gojq"
)

// Query wraps a jq expression with its pre-parsed query.
// The expression is parsed during deserialization to catch errors early
// and avoid repeated parsing at runtime.
type Query struct {
	Expr  string // original expression string
	query *gojq.Query
}

// ParseQuery parses a jq expression. An empty expression yields a Query
// that passes input through unchanged.
func ParseQuery(expr string) (*Query, error) {
	q := &Query{Expr: expr}
	if expr == "" {
		return q, nil
	}
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression %q: %w", expr, err)
	}
	q.query = query
	return q, nil
}

// MarshalJSON implements json.Marshaler.
func (q Query) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.Expr)
}

// UnmarshalJSON implements json.Unmarshaler.
func (q *Query) UnmarshalJSON(data []byte) error {
	var expr string
	if err := json.Unmarshal(data, &expr); err != nil {
		return err
	}
	parsed, err := ParseQuery(expr)
	if err != nil {
		return err
	}
	*q = *parsed
	return nil
}

// MarshalYAML implements yaml.BytesMarshaler.
func (q Query) MarshalYAML() ([]byte, error) {
	return yaml.Marshal(q.Expr)
}

// UnmarshalYAML implements yaml.BytesUnmarshaler.
func (q *Query) UnmarshalYAML(data []byte) error {
	var expr string
	if err := yaml.Unmarshal(data, &expr); err != nil {
		return err
	}
	parsed, err := ParseQuery(expr)
	if err != nil {
		return err
	}
	*q = *parsed
	return nil
}

// First runs the query on input and returns its first result.
// A nil or empty query returns input unchanged.
func (q *Query) First(input any) (any, error) {
	if q == nil || q.query == nil {
		return input, nil
	}
	iter := q.query.Run(input)
	v, ok := iter.Next()
	if !ok {
		return nil, errors.New("jq expression returned no result")
	}
	if err, ok := v.(error); ok {
		return nil, fmt.Errorf("jq error: %w", err)
	}
	return v, nil
}
