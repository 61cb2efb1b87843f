package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/skeinworks/skein/pkg/archive"
	"github.com/skeinworks/skein/pkg/builder"
	"github.com/skeinworks/skein/pkg/ledger"
	"github.com/skeinworks/skein/pkg/llm"
	"github.com/skeinworks/skein/pkg/relay"
	"github.com/skeinworks/skein/pkg/summary"
	"github.com/skeinworks/skein/pkg/wire"
)

// Finish reasons on the terminal frame.
const (
	finishStop          = "stop"
	finishLength        = "length"
	finishContentFilter = "content-filter"
)

// stage is one pipeline state.
type stage int

const (
	stageInit stage = iota
	stageBuilder
	stageSummary
	stageGeneration
	stageDone
	stageFailed
)

func (s stage) String() string {
	switch s {
	case stageInit:
		return "init"
	case stageBuilder:
		return "builder"
	case stageSummary:
		return "summary"
	case stageGeneration:
		return "generation"
	case stageDone:
		return "done"
	case stageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// outcome is the tagged result of one stage transition: continue, degrade
// (the error is logged and surfaced as a progress message, the pipeline
// continues), or fail (terminal).
type outcome struct {
	next  stage
	err   error
	fatal bool
}

func cont(next stage) outcome               { return outcome{next: next} }
func degrade(next stage, err error) outcome { return outcome{next: next, err: err} }
func fail(err error) outcome                { return outcome{next: stageFailed, err: err, fatal: true} }

// pipeline runs the stages of one chat request. It owns the relay
// controller for the request's lifetime: every record the client sees is
// queued from this goroutine, which keeps the single-producer ordering
// discipline trivially true.
type pipeline struct {
	srv      *Server
	req      *Request
	settings *Settings

	requestID string
	model     string
	params    *llm.Params
	ctrl      *relay.Controller[wire.Record]

	progress emitter
	usage    accumulator

	summary    string          // set by the summary stage
	transcript strings.Builder // generated text across segments, appended via onText
	segments   int
	finish     string
}

// run drives the state machine to completion and closes the controller.
// Each transition is logged with its stage label and duration.
func (p *pipeline) run(ctx context.Context) {
	log := slog.With("chatId", p.req.ChatID, "requestId", p.requestID)
	st := stageInit
	for {
		start := time.Now()
		out := p.step(ctx, st)
		elapsed := time.Since(start)
		switch {
		case out.fatal:
			log.Error("chat: stage failed", "stage", st.String(), "elapsed", elapsed, "error", out.err)
			p.ctrl.CloseWithError(out.err)
			return
		case out.err != nil:
			log.Warn("chat: stage degraded", "stage", st.String(), "elapsed", elapsed, "error", out.err)
		default:
			log.Info("chat: stage complete", "stage", st.String(), "elapsed", elapsed)
		}
		if out.next == stageDone {
			p.complete(ctx, log)
			return
		}
		st = out.next
	}
}

func (p *pipeline) step(ctx context.Context, st stage) outcome {
	switch st {
	case stageInit:
		return cont(p.nextStage(stageInit))
	case stageBuilder:
		return p.stepBuilder(ctx)
	case stageSummary:
		return p.stepSummary(ctx)
	case stageGeneration:
		return p.stepGeneration(ctx)
	default:
		return fail(fmt.Errorf("chat: step on %v", st))
	}
}

// nextStage returns the stage that follows st, skipping optional stages
// whose preconditions do not hold.
func (p *pipeline) nextStage(st stage) stage {
	switch st {
	case stageInit:
		if p.req.Builder != nil {
			return stageBuilder
		}
		fallthrough
	case stageBuilder:
		if p.req.ContextOptimization && len(p.req.Files) > 0 {
			return stageSummary
		}
		fallthrough
	case stageSummary:
		return stageGeneration
	default:
		return stageDone
	}
}

// send queues rec for the client. A delivery failure means the consumer is
// gone; the pipeline finds out through its context or the next switch.
func (p *pipeline) send(rec wire.Record) {
	if err := p.ctrl.Append(rec); err != nil {
		slog.Debug("chat: record dropped", "requestId", p.requestID, "error", err)
	}
}

func (p *pipeline) stepBuilder(ctx context.Context) outcome {
	next := p.nextStage(stageBuilder)
	p.send(p.progress.inProgress(labelBuilder))
	key := p.req.Builder.APIKey
	if key == "" {
		key = p.settings.Key("builder")
	}
	res, err := p.srv.builderClient().Run(ctx, p.req.Builder.BackendURL, &builder.Request{
		Messages: p.req.Messages,
		Options:  p.req.Builder.Options,
		APIKey:   key,
	})
	if err != nil {
		p.send(p.progress.message(labelBuilder, err.Error()))
		return degrade(next, err)
	}
	p.send(&wire.BuilderResult{Summary: res.Summary(), ChatID: p.req.ChatID})
	p.send(p.progress.complete(labelBuilder))
	return cont(next)
}

func (p *pipeline) stepSummary(ctx context.Context) outcome {
	next := p.nextStage(stageSummary)
	p.send(p.progress.inProgress(labelSummary))
	model := p.srv.SummaryModel
	if model == "" {
		model = p.model
	}
	text, usage, err := summary.Summarize(ctx, model, p.summaryMessages(),
		summary.WithGenerator(p.srv.generators()))
	p.usage.add(usage)
	if err != nil {
		p.send(p.progress.message(labelSummary, err.Error()))
		return degrade(next, err)
	}
	p.summary = text
	p.send(&wire.ContextSummary{Summary: text, ChatID: p.req.ChatID})
	p.send(p.progress.complete(labelSummary))
	return cont(next)
}

// summaryMessages is the conversation plus the request's file contents;
// only the summary stage sees the files.
func (p *pipeline) summaryMessages() []*llm.Message {
	msgs := slices.Clone(p.req.Messages)
	if len(p.req.Files) == 0 {
		return msgs
	}
	var sb strings.Builder
	sb.WriteString("Files referenced in this conversation:\n")
	for _, path := range slices.Sorted(maps.Keys(p.req.Files)) {
		fmt.Fprintf(&sb, "\n--- %s ---\n%s\n", path, p.req.Files[path])
	}
	return append(msgs, &llm.Message{Role: llm.RoleUser, Content: sb.String()})
}

func (p *pipeline) stepGeneration(ctx context.Context) outcome {
	p.send(p.progress.inProgress(labelResponse))

	sliceID := p.req.MessageSliceID()
	msgs := p.req.Messages
	system := systemPrompt(p.req.PromptID)
	if p.summary != "" {
		// The summary stands in for older context; only the trailing
		// turns are replayed verbatim.
		msgs = msgs[sliceID:]
		system += "\n\n# Earlier conversation\n" + p.summary
	}
	slog.Debug("chat: generation request", "chatId", p.req.ChatID, "model", p.model,
		"messages", len(msgs), "messageSliceId", sliceID)

	base := slices.Clone(msgs)
	req := &llm.Request{System: system, Messages: base, Params: p.params}
	for {
		state, err := p.runSegment(ctx, req)
		if err != nil {
			return fail(err)
		}
		p.usage.add(state.Usage())
		switch state.Status() {
		case llm.StatusDone:
			p.finish = finishStop
		case llm.StatusBlocked:
			p.finish = finishContentFilter
		case llm.StatusTruncated:
			continued := p.segments < p.srv.maxSegments()
			p.send(&wire.Truncation{ChatID: p.req.ChatID, Segment: p.segments, Continued: continued})
			if continued {
				req = p.continuation(system, base)
				continue
			}
			p.finish = finishLength
		default:
			return fail(state)
		}
		break
	}

	u := p.usage.usage()
	p.send(&wire.Usage{Value: p.usage.counts()})
	p.send(p.progress.complete(labelResponse))
	p.send(&wire.Finish{FinishReason: p.finish, Usage: wire.FinishUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
	}})
	return cont(stageDone)
}

// runSegment opens one generation stream and hands it to the relay. The
// consumer drives the stream; the pipeline only waits for its terminal
// state.
func (p *pipeline) runSegment(ctx context.Context, req *llm.Request) (*llm.State, error) {
	stream, err := p.srv.generators().GenerateStream(ctx, p.model, req)
	if err != nil {
		return nil, fmt.Errorf("start generation: %w", err)
	}
	p.segments++
	src := newSegmentSource(stream, func(text string) { p.transcript.WriteString(text) })
	if err := p.ctrl.Switch(src); err != nil {
		return nil, fmt.Errorf("switch source: %w", err)
	}
	select {
	case err := <-src.terminal:
		var state *llm.State
		if errors.As(err, &state) {
			return state, nil
		}
		return nil, fmt.Errorf("generation stream: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// continuation builds the follow-up request after a length finish: the
// original turns, the partial response so far, and the continue prompt.
func (p *pipeline) continuation(system string, base []*llm.Message) *llm.Request {
	msgs := make([]*llm.Message, 0, len(base)+2)
	msgs = append(msgs, base...)
	msgs = append(msgs,
		&llm.Message{Role: llm.RoleModel, Content: p.transcript.String()},
		&llm.Message{Role: llm.RoleUser, Content: promptContinue},
	)
	return &llm.Request{System: system, Messages: msgs, Params: p.params}
}

// complete runs the DONE effects: best-effort bookkeeping, then the close
// that ends the client stream.
func (p *pipeline) complete(ctx context.Context, log *slog.Logger) {
	if p.srv.Ledger != nil {
		u := p.usage.usage()
		rec := &ledger.Record{
			ChatID:           p.req.ChatID,
			RequestID:        p.requestID,
			Model:            p.model,
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
			Segments:         p.segments,
		}
		if err := p.srv.Ledger.Append(ctx, rec); err != nil {
			log.Warn("chat: ledger append failed", "error", err)
		}
	}
	if p.srv.Archive != nil {
		if err := archive.Save(ctx, p.srv.Archive, p.req.ChatID, p.requestID, p.transcript.String()); err != nil {
			log.Warn("chat: archive save failed", "error", err)
		}
	}
	p.ctrl.Close()
}
