package wire

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestEncoder_Encode(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{
			name: "text fragment",
			rec:  Text("hello, "),
			want: "0:\"hello, \"\n",
		},
		{
			name: "progress",
			rec:  &Progress{Label: "response", Status: StatusInProgress, Order: 1, Message: "Generating"},
			want: `2:[{"kind":"progress","label":"response","status":"in-progress","order":1,"message":"Generating"}]` + "\n",
		},
		{
			name: "progress without message",
			rec:  &Progress{Label: "builder", Status: StatusComplete, Order: 3},
			want: `2:[{"kind":"progress","label":"builder","status":"complete","order":3}]` + "\n",
		},
		{
			name: "context summary",
			rec:  &ContextSummary{Summary: "short recap", ChatID: "c1"},
			want: `8:[{"kind":"context-summary","summary":"short recap","chatId":"c1"}]` + "\n",
		},
		{
			name: "builder result",
			rec:  &BuilderResult{Summary: `{"ok":true}`, ChatID: "c1"},
			want: `8:[{"kind":"builder-result","summary":"{\"ok\":true}","chatId":"c1"}]` + "\n",
		},
		{
			name: "usage",
			rec:  &Usage{Value: TokenCounts{CompletionTokens: 5, PromptTokens: 7, TotalTokens: 12}},
			want: `8:[{"kind":"usage","value":{"completionTokens":5,"promptTokens":7,"totalTokens":12}}]` + "\n",
		},
		{
			name: "truncation",
			rec:  &Truncation{ChatID: "c1", Segment: 1, Continued: true},
			want: `8:[{"kind":"truncation","chatId":"c1","segment":1,"continued":true}]` + "\n",
		},
		{
			name: "stream error",
			rec:  StreamError("generator failed"),
			want: "3:\"generator failed\"\n",
		},
		{
			name: "finish",
			rec:  &Finish{FinishReason: "stop", Usage: FinishUsage{PromptTokens: 7, CompletionTokens: 5}},
			want: `d:{"finishReason":"stop","usage":{"promptTokens":7,"completionTokens":5}}` + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewEncoder(&buf).Encode(tt.rec); err != nil {
				t.Fatalf("encode: %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("got  %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestEncoder_Encode_OverridesKind(t *testing.T) {
	var buf bytes.Buffer
	rec := &Progress{Kind: "bogus", Label: "response", Status: StatusInProgress, Order: 1}
	if err := NewEncoder(&buf).Encode(rec); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(buf.String(), `"kind":"progress"`) {
		t.Errorf("kind not normalized: %s", buf.String())
	}
	if rec.Kind != "bogus" {
		t.Errorf("caller record mutated: %q", rec.Kind)
	}
}

func TestDecoder_Next(t *testing.T) {
	stream := strings.Join([]string{
		`2:[{"kind":"progress","label":"response","status":"in-progress","order":1,"message":"Generating"}]`,
		`0:"hel"`,
		`0:"lo"`,
		`8:[{"kind":"usage","value":{"completionTokens":2,"promptTokens":3,"totalTokens":5}}]`,
		`2:[{"kind":"progress","label":"response","status":"complete","order":2}]`,
		`d:{"finishReason":"stop","usage":{"promptTokens":3,"completionTokens":2}}`,
	}, "\n") + "\n"

	dec := NewDecoder(strings.NewReader(stream))

	rec, err := dec.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	p, ok := rec.(*Progress)
	if !ok {
		t.Fatalf("rec=%T, want *Progress", rec)
	}
	if p.Label != "response" || p.Status != StatusInProgress || p.Order != 1 {
		t.Errorf("progress=%+v", p)
	}

	var text strings.Builder
	for range 2 {
		rec, err := dec.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		frag, ok := rec.(Text)
		if !ok {
			t.Fatalf("rec=%T, want Text", rec)
		}
		text.WriteString(string(frag))
	}
	if text.String() != "hello" {
		t.Errorf("text=%q", text.String())
	}

	rec, err = dec.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	u, ok := rec.(*Usage)
	if !ok {
		t.Fatalf("rec=%T, want *Usage", rec)
	}
	if u.Value.TotalTokens != 5 {
		t.Errorf("usage=%+v", u.Value)
	}

	if _, err := dec.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	rec, err = dec.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	f, ok := rec.(*Finish)
	if !ok {
		t.Fatalf("rec=%T, want *Finish", rec)
	}
	if f.FinishReason != "stop" || f.Usage.CompletionTokens != 2 {
		t.Errorf("finish=%+v", f)
	}

	if _, err := dec.Next(); err != io.EOF {
		t.Errorf("err=%v, want io.EOF", err)
	}
}

func TestDecoder_Next_MultiRecordLine(t *testing.T) {
	stream := `8:[{"kind":"context-summary","summary":"s","chatId":"c"},{"kind":"builder-result","summary":"b","chatId":"c"}]` + "\n"
	dec := NewDecoder(strings.NewReader(stream))

	rec, err := dec.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if _, ok := rec.(*ContextSummary); !ok {
		t.Fatalf("rec=%T, want *ContextSummary", rec)
	}
	rec, err = dec.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if _, ok := rec.(*BuilderResult); !ok {
		t.Fatalf("rec=%T, want *BuilderResult", rec)
	}
	if _, err := dec.Next(); err != io.EOF {
		t.Errorf("err=%v, want io.EOF", err)
	}
}

func TestDecoder_Next_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing separator", "0hello\n"},
		{"unknown code", "z:\"x\"\n"},
		{"unknown kind", `8:[{"kind":"mystery"}]` + "\n"},
		{"bad json", "0:hello\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDecoder(strings.NewReader(tt.input)).Next(); err == nil || errors.Is(err, io.EOF) {
				t.Errorf("err=%v, want decode error", err)
			}
		})
	}
}
