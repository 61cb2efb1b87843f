// Package wire defines the records that travel on a chat response stream
// and their line framing.
//
// A stream is a sequence of lines, each "<code>:<json>\n":
//
//	0:"text"        raw content fragment
//	2:[{...}]       data records (progress)
//	8:[{...}]       message annotations (context-summary, builder-result,
//	                usage, truncation)
//	3:"message"     stream-level error, terminates the stream
//	d:{...}         finish frame, last line of a successful stream
//
// Structured payloads carry a "kind" discriminator. The Encoder fills it
// in, so callers construct records without setting Kind; the Decoder uses
// it to pick the concrete type.
package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Record kinds for structured payloads.
const (
	KindProgress       = "progress"
	KindContextSummary = "context-summary"
	KindBuilderResult  = "builder-result"
	KindUsage          = "usage"
	KindTruncation     = "truncation"
)

// Progress statuses.
const (
	StatusInProgress = "in-progress"
	StatusComplete   = "complete"
)

// Record is implemented by every payload that can travel on the stream.
type Record interface {
	record()
}

// Text is a raw generated content fragment.
type Text string

// Progress reports a stage lifecycle change. Order is strictly increasing
// per request, assigned by the emitter.
type Progress struct {
	Kind    string `json:"kind"`
	Label   string `json:"label"`
	Status  string `json:"status"`
	Order   int    `json:"order"`
	Message string `json:"message,omitempty"`
}

// ContextSummary carries the condensed conversation context produced by
// the summary stage.
type ContextSummary struct {
	Kind    string `json:"kind"`
	Summary string `json:"summary"`
	ChatID  string `json:"chatId"`
}

// BuilderResult carries the serialized payload returned by the backend
// builder service.
type BuilderResult struct {
	Kind    string `json:"kind"`
	Summary string `json:"summary"`
	ChatID  string `json:"chatId"`
}

// Usage carries the accumulated token totals for the request.
type Usage struct {
	Kind  string      `json:"kind"`
	Value TokenCounts `json:"value"`
}

// TokenCounts are the token totals reported in a Usage annotation.
type TokenCounts struct {
	CompletionTokens int64 `json:"completionTokens"`
	PromptTokens     int64 `json:"promptTokens"`
	TotalTokens      int64 `json:"totalTokens"`
}

// Truncation marks a generation segment that hit the provider's token
// limit. Continued tells the client whether another segment follows.
type Truncation struct {
	Kind      string `json:"kind"`
	ChatID    string `json:"chatId"`
	Segment   int    `json:"segment"`
	Continued bool   `json:"continued"`
}

// StreamError terminates the stream after content has been committed.
type StreamError string

// Finish is the last frame of a successful stream.
type Finish struct {
	FinishReason string      `json:"finishReason"`
	Usage        FinishUsage `json:"usage"`
}

// FinishUsage is the token summary on the finish frame.
type FinishUsage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
}

func (Text) record()            {}
func (*Progress) record()       {}
func (*ContextSummary) record() {}
func (*BuilderResult) record()  {}
func (*Usage) record()          {}
func (*Truncation) record()     {}
func (StreamError) record()     {}
func (*Finish) record()         {}

// Line codes.
const (
	codeText       = '0'
	codeData       = '2'
	codeError      = '3'
	codeAnnotation = '8'
	codeFinish     = 'd'
)

// Encoder writes records to w, one framed line per record.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one record. The kind discriminator is filled in, so a
// caller-supplied Kind is ignored.
func (e *Encoder) Encode(rec Record) error {
	switch r := rec.(type) {
	case Text:
		return e.line(codeText, string(r))
	case *Progress:
		p := *r
		p.Kind = KindProgress
		return e.line(codeData, []Progress{p})
	case *ContextSummary:
		s := *r
		s.Kind = KindContextSummary
		return e.line(codeAnnotation, []ContextSummary{s})
	case *BuilderResult:
		b := *r
		b.Kind = KindBuilderResult
		return e.line(codeAnnotation, []BuilderResult{b})
	case *Usage:
		u := *r
		u.Kind = KindUsage
		return e.line(codeAnnotation, []Usage{u})
	case *Truncation:
		tr := *r
		tr.Kind = KindTruncation
		return e.line(codeAnnotation, []Truncation{tr})
	case StreamError:
		return e.line(codeError, string(r))
	case *Finish:
		return e.line(codeFinish, r)
	default:
		return fmt.Errorf("wire: unsupported record type %T", rec)
	}
}

func (e *Encoder) line(code byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(b)+3)
	buf = append(buf, code, ':')
	buf = append(buf, b...)
	buf = append(buf, '\n')
	_, err = e.w.Write(buf)
	return err
}

// Decoder reads framed records from a stream.
type Decoder struct {
	sc      *bufio.Scanner
	pending []Record
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &Decoder{sc: sc}
}

// Next returns the next record, or io.EOF at end of stream. Lines carrying
// several payloads yield one record per call.
func (d *Decoder) Next() (Record, error) {
	if len(d.pending) > 0 {
		rec := d.pending[0]
		d.pending = d.pending[1:]
		return rec, nil
	}
	for d.sc.Scan() {
		line := d.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if len(line) < 2 || line[1] != ':' {
			return nil, fmt.Errorf("wire: malformed line %q", d.sc.Text())
		}
		code, payload := line[0], line[2:]
		switch code {
		case codeText:
			var s string
			if err := json.Unmarshal(payload, &s); err != nil {
				return nil, fmt.Errorf("wire: text payload: %w", err)
			}
			return Text(s), nil
		case codeError:
			var s string
			if err := json.Unmarshal(payload, &s); err != nil {
				return nil, fmt.Errorf("wire: error payload: %w", err)
			}
			return StreamError(s), nil
		case codeFinish:
			var f Finish
			if err := json.Unmarshal(payload, &f); err != nil {
				return nil, fmt.Errorf("wire: finish payload: %w", err)
			}
			return &f, nil
		case codeData, codeAnnotation:
			recs, err := decodeKinded(payload)
			if err != nil {
				return nil, err
			}
			if len(recs) == 0 {
				continue
			}
			d.pending = recs[1:]
			return recs[0], nil
		default:
			return nil, fmt.Errorf("wire: unknown line code %q", code)
		}
	}
	if err := d.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func decodeKinded(payload []byte) ([]Record, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(payload, &raws); err != nil {
		return nil, fmt.Errorf("wire: record array: %w", err)
	}
	recs := make([]Record, 0, len(raws))
	for _, raw := range raws {
		var head struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("wire: record head: %w", err)
		}
		var rec Record
		switch head.Kind {
		case KindProgress:
			rec = &Progress{}
		case KindContextSummary:
			rec = &ContextSummary{}
		case KindBuilderResult:
			rec = &BuilderResult{}
		case KindUsage:
			rec = &Usage{}
		case KindTruncation:
			rec = &Truncation{}
		default:
			return nil, fmt.Errorf("wire: unknown record kind %q", head.Kind)
		}
		if err := json.Unmarshal(raw, rec); err != nil {
			return nil, fmt.Errorf("wire: %s record: %w", head.Kind, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
