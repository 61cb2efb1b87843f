package builder

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/skeinworks/skein/pkg/llm"
)

func mustQuery(t *testing.T, expr string) *Query {
	t.Helper()
	q, err := ParseQuery(expr)
	if err != nil {
		t.Fatalf("parse query: %v", err)
	}
	return q
}

func TestClient_Run(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method=%s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type=%q", ct)
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Error("missing request id")
		}
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"result":{"topic":"routing"},"took_ms":12}`)
	}))
	defer srv.Close()

	client := NewClient(WithAPIKey("key-1"), WithResultQuery(mustQuery(t, ".result")))
	res, err := client.Run(t.Context(), srv.URL, &Request{
		Messages: []*llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Options:  map[string]any{"mode": "fast"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if gotAuth != "Bearer key-1" {
		t.Errorf("auth=%q", gotAuth)
	}
	msgs, ok := gotBody["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Errorf("messages=%v", gotBody["messages"])
	}
	opts, ok := gotBody["builderOptions"].(map[string]any)
	if !ok || opts["mode"] != "fast" {
		t.Errorf("builderOptions=%v", gotBody["builderOptions"])
	}

	// Query extracted .result; took_ms stripped.
	if got := res.Summary(); got != `{"topic":"routing"}` {
		t.Errorf("summary=%q", got)
	}
}

func TestClient_Run_RequestKeyOverrides(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	client := NewClient(WithAPIKey("default"))
	if _, err := client.Run(t.Context(), srv.URL, &Request{APIKey: "per-request"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if gotAuth != "Bearer per-request" {
		t.Errorf("auth=%q", gotAuth)
	}
}

func TestClient_Run_RepairsNearJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Trailing comma: invalid JSON, repairable.
		io.WriteString(w, `{"summary": "built", }`)
	}))
	defer srv.Close()

	res, err := NewClient().Run(t.Context(), srv.URL, &Request{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := res.Summary(); got != `{"summary":"built"}` {
		t.Errorf("summary=%q", got)
	}
}

func TestClient_Run_BackendError(t *testing.T) {
	for _, tt := range []struct {
		status    int
		auth      bool
		retryable bool
	}{
		{http.StatusUnauthorized, true, false},
		{http.StatusForbidden, true, false},
		{http.StatusTooManyRequests, false, true},
		{http.StatusInternalServerError, false, true},
		{http.StatusNotFound, false, false},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			io.WriteString(w, "nope")
		}))
		_, err := NewClient().Run(t.Context(), srv.URL, &Request{})
		srv.Close()

		e, ok := AsError(err)
		if !ok {
			t.Fatalf("status %d: error %v is not *Error", tt.status, err)
		}
		if e.Status != tt.status || e.Body != "nope" {
			t.Errorf("status %d: got %+v", tt.status, e)
		}
		if e.IsAuthError() != tt.auth {
			t.Errorf("status %d: IsAuthError=%v", tt.status, e.IsAuthError())
		}
		if e.Retryable() != tt.retryable {
			t.Errorf("status %d: Retryable=%v", tt.status, e.Retryable())
		}
	}
}

func TestResult_Summary_BareString(t *testing.T) {
	res := &Result{Payload: "already text"}
	if got := res.Summary(); got != "already text" {
		t.Errorf("summary=%q", got)
	}
}

func TestQuery_Unmarshal(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var q Query
		if err := json.Unmarshal([]byte(`".result"`), &q); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		v, err := q.First(map[string]any{"result": "x"})
		if err != nil {
			t.Fatalf("first: %v", err)
		}
		if v != "x" {
			t.Errorf("v=%v", v)
		}
	})

	t.Run("invalid expression", func(t *testing.T) {
		var q Query
		if err := json.Unmarshal([]byte(`".[unclosed"`), &q); err == nil {
			t.Error("invalid expression accepted")
		}
	})

	t.Run("empty passes through", func(t *testing.T) {
		var q Query
		if err := json.Unmarshal([]byte(`""`), &q); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		v, err := q.First("input")
		if err != nil || v != "input" {
			t.Errorf("v=%v err=%v", v, err)
		}
	})
}
