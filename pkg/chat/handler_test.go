package chat

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/skeinworks/skein/pkg/archive"
	"github.com/skeinworks/skein/pkg/ledger"
	"github.com/skeinworks/skein/pkg/llm"
	"github.com/skeinworks/skein/pkg/wire"
)

func decodeAll(t *testing.T, r io.Reader) []wire.Record {
	t.Helper()
	dec := wire.NewDecoder(r)
	var recs []wire.Record
	for {
		rec, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return recs
		}
		if err != nil {
			t.Fatalf("decode stream: %v", err)
		}
		recs = append(recs, rec)
	}
}

func TestServerChatStream(t *testing.T) {
	gen := &scriptGen{segs: []segment{{
		chunks: []string{"Hi ", "there"},
		usage:  llm.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}}}
	led, err := ledger.Open(ledger.Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { led.Close() })
	store, err := archive.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	srv := &Server{
		Generators:   newMux(t, "fake", gen),
		DefaultModel: "fake",
		Ledger:       led,
		Archive:      store,
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body := `{"chatId":"chat-1","messages":[{"role":"user","content":"hello"}]}`
	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if v := resp.Header.Get("X-Skein-Stream"); v != "v1" {
		t.Errorf("X-Skein-Stream = %q", v)
	}
	requestID := resp.Header.Get("X-Request-Id")
	if requestID == "" {
		t.Error("missing X-Request-Id header")
	}

	recs := decodeAll(t, resp.Body)
	if got := textOf(recs); got != "Hi there" {
		t.Errorf("text = %q", got)
	}
	if n := len(recordsOf[*wire.Progress](recs)); n != 2 {
		t.Errorf("got %d progress records, want 2", n)
	}
	fin, ok := recs[len(recs)-1].(*wire.Finish)
	if !ok || fin.FinishReason != finishStop {
		t.Errorf("last record = %#v, want finish/stop", recs[len(recs)-1])
	}

	// Bookkeeping landed before the stream closed.
	var listed []*ledger.Record
	for rec, err := range led.List(t.Context(), "chat-1") {
		if err != nil {
			t.Fatal(err)
		}
		listed = append(listed, rec)
	}
	if len(listed) != 1 {
		t.Fatalf("ledger has %d records, want 1", len(listed))
	}
	if listed[0].RequestID != requestID || listed[0].Model != "fake" || listed[0].TotalTokens != 5 || listed[0].Segments != 1 {
		t.Errorf("ledger record = %+v", listed[0])
	}
	rc, err := store.Open(t.Context(), archive.Path("chat-1", requestID))
	if err != nil {
		t.Fatalf("open transcript: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "Hi there" {
		t.Errorf("transcript = %q", data)
	}
}

func TestServerChatErrors(t *testing.T) {
	gen := &scriptGen{}
	srv := &Server{Generators: newMux(t, "fake", gen), DefaultModel: "fake"}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	cases := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"malformed json", `{"chatId":`, http.StatusBadRequest},
		{"missing chatId", `{"messages":[{"role":"user","content":"x"}]}`, http.StatusBadRequest},
		{"empty messages", `{"chatId":"c","messages":[]}`, http.StatusBadRequest},
		{"bad role", `{"chatId":"c","messages":[{"role":"wizard","content":"x"}]}`, http.StatusBadRequest},
		{"unknown model", `{"chatId":"c","model":"nope","messages":[{"role":"user","content":"x"}]}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			var body struct {
				Error string `json:"error"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body.Error == "" {
				t.Error("error body is empty")
			}
		})
	}
}

func TestServerChatMidStreamError(t *testing.T) {
	gen := &scriptGen{segs: []segment{{chunks: []string{"partial"}, status: llm.StatusError}}}
	srv := &Server{Generators: newMux(t, "fake", gen), DefaultModel: "fake"}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	body := `{"chatId":"chat-2","messages":[{"role":"user","content":"x"}]}`
	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	// The stream had already started; the failure arrives in-band.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	recs := decodeAll(t, resp.Body)
	se, ok := recs[len(recs)-1].(wire.StreamError)
	if !ok || se == "" {
		t.Fatalf("last record = %#v, want a stream error", recs[len(recs)-1])
	}
	if got := textOf(recs); got != "partial" {
		t.Errorf("text = %q", got)
	}
	if n := len(recordsOf[*wire.Finish](recs)); n != 0 {
		t.Errorf("got %d finish frames, want 0", n)
	}
}

func TestServerChatSettingsCookie(t *testing.T) {
	gen := &scriptGen{segs: []segment{{chunks: []string{"ok"}}}}
	srv := &Server{Generators: newMux(t, "cookie-model", gen)}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	raw := `{"defaultModel":"cookie-model","providers":{"cookie-model":{"params":{"max_tokens":16}}}}`
	body := `{"chatId":"chat-3","messages":[{"role":"user","content":"x"}]}`
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/chat", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: settingsCookie, Value: url.QueryEscape(raw)})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	decodeAll(t, resp.Body)

	reqs := gen.requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d generator calls, want 1", len(reqs))
	}
	if reqs[0].Params == nil || reqs[0].Params.MaxTokens != 16 {
		t.Errorf("generator params = %+v, want cookie override", reqs[0].Params)
	}
}

func TestServerModels(t *testing.T) {
	srv := &Server{Generators: newMux(t, "fake", &scriptGen{})}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/models")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Models []string `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Models) != 1 || body.Models[0] != "fake" {
		t.Errorf("models = %v, want [fake]", body.Models)
	}
}

func TestServerUsage(t *testing.T) {
	led, err := ledger.Open(ledger.Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { led.Close() })
	for _, rec := range []*ledger.Record{
		{ChatID: "chat-a", RequestID: "r1", Model: "fake", TotalTokens: 10},
		{ChatID: "chat-a", RequestID: "r2", Model: "fake", TotalTokens: 20},
		{ChatID: "chat-b", RequestID: "r3", Model: "fake", TotalTokens: 5},
	} {
		if err := led.Append(t.Context(), rec); err != nil {
			t.Fatal(err)
		}
	}
	srv := &Server{Ledger: led}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/usage/chat-a")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		ChatID  string           `json:"chatId"`
		Records []*ledger.Record `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.ChatID != "chat-a" || len(body.Records) != 2 {
		t.Fatalf("body = %+v", body)
	}
	if body.Records[0].RequestID != "r1" || body.Records[1].TotalTokens != 20 {
		t.Errorf("records = %+v", body.Records)
	}
}

func TestServerUsageNoLedger(t *testing.T) {
	srv := &Server{}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/usage/chat-a")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServerHealthz(t *testing.T) {
	srv := &Server{}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ok\n" {
		t.Errorf("body = %q", data)
	}
}
