// Package chat serves the chat API: one POST /api/chat request runs a
// pipeline of optional builder and summary stages followed by the
// generation stage, streaming structured progress records, annotations,
// and generated text over a single chunked response.
//
// The response body is framed by pkg/wire. The source behind the response
// is switched between stages through a pkg/relay relay, so the client
// reads one continuous stream no matter how many stages or generation
// segments run behind it.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/skeinworks/skein/pkg/archive"
	"github.com/skeinworks/skein/pkg/builder"
	"github.com/skeinworks/skein/pkg/ledger"
	"github.com/skeinworks/skein/pkg/llm"
	"github.com/skeinworks/skein/pkg/relay"
	"github.com/skeinworks/skein/pkg/wire"
)

// maxRequestBody bounds a chat request body, files included.
const maxRequestBody = 8 << 20

const defaultMaxSegments = 2

var defaultBuilder = builder.NewClient()

// Server is the chat service's HTTP surface. The zero value serves
// llm.DefaultMux with no ledger and no archive.
type Server struct {
	// Generators resolves model names. Nil means llm.DefaultMux.
	Generators *llm.Mux
	// DefaultModel serves requests that name no model.
	DefaultModel string
	// SummaryModel runs the summary stage; the request's own model when
	// empty.
	SummaryModel string
	// Builder calls the backend builder service. Nil means a default
	// client; per-request credentials still apply.
	Builder *builder.Client
	// MaxSegments caps the generation segments run for one request when
	// length finishes keep continuing it. Zero means 2.
	MaxSegments int
	// Ledger records usage per completed request. Nil disables it.
	Ledger *ledger.Ledger
	// Archive persists transcripts of completed requests. Nil disables it.
	Archive archive.Store
}

func (s *Server) generators() *llm.Mux {
	if s.Generators != nil {
		return s.Generators
	}
	return llm.DefaultMux
}

func (s *Server) builderClient() *builder.Client {
	if s.Builder != nil {
		return s.Builder
	}
	return defaultBuilder
}

func (s *Server) maxSegments() int {
	if s.MaxSegments > 0 {
		return s.MaxSegments
	}
	return defaultMaxSegments
}

// Handler returns the route handler for the chat API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /api/usage/{chatId}", s.handleUsage)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	req, err := DecodeRequest(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	settings := SettingsFromRequest(r)
	model := req.Model
	if model == "" {
		model = settings.DefaultModel
	}
	if model == "" {
		model = s.DefaultModel
	}
	if !s.generators().Resolves(model) {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown model %q", model))
		return
	}

	requestID := uuid.New().String()
	slog.Info("chat: request", "chatId", req.ChatID, "requestId", requestID,
		"model", model, "messages", len(req.Messages), "messageSliceId", req.MessageSliceID())

	reader, ctrl := relay.New[wire.Record]()
	defer reader.Close()
	p := &pipeline{
		srv:       s,
		req:       req,
		settings:  settings,
		requestID: requestID,
		model:     model,
		params:    settings.ParamsFor(model),
		ctrl:      ctrl,
	}
	go p.run(r.Context())

	rec, err := reader.Next()
	if err != nil {
		// Nothing has been streamed, so a plain JSON error is still
		// possible.
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Skein-Stream", "v1")
	h.Set("X-Request-Id", requestID)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := wire.NewEncoder(w)
	for {
		if err := enc.Encode(rec); err != nil {
			slog.Debug("chat: client write failed", "requestId", requestID, "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		rec, err = reader.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			// Mid-stream failure: the only well-formed ending left is the
			// stream error record.
			if encErr := enc.Encode(wire.StreamError(err.Error())); encErr == nil && flusher != nil {
				flusher.Flush()
			}
			return
		}
	}
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.generators().Names()})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.Ledger == nil {
		writeError(w, http.StatusNotFound, errors.New("usage ledger not configured"))
		return
	}
	chatID := r.PathValue("chatId")
	recs := []*ledger.Record{}
	for rec, err := range s.Ledger.List(r.Context(), chatID) {
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		recs = append(recs, rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"chatId": chatID, "records": recs})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "ok\n")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("chat: write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
