package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/genai"
)

var _ Generator = (*GeminiGenerator)(nil)

// GeminiGenerator implements Generator using the Google Gemini API.
type GeminiGenerator struct {
	Client *genai.Client `json:"-"`

	// Model should not start with "models/"
	Model string `json:"model"`

	Params *Params `json:"params,omitzero"`
}

func (g *GeminiGenerator) GenerateStream(ctx context.Context, _ string, req *Request) (Stream, error) {
	cfg, contents, err := g.convRequest(req)
	if err != nil {
		return nil, err
	}
	sb := NewStreamBuilder(32)
	go func() {
		if err := geminiPull(sb, g.Client.Models.GenerateContentStream(ctx, g.Model, contents, cfg)); err != nil {
			sb.Abort(err)
		}
	}()
	return sb.Stream(), nil
}

func geminiPull(sb *StreamBuilder, itr iter.Seq2[*genai.GenerateContentResponse, error]) error {
	var selIdx int32
	for chunk, err := range itr {
		if err != nil {
			if e, ok := err.(*apierror.APIError); ok {
				err = e.Unwrap()
			}
			return err
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		var sel *genai.Candidate
		if selIdx == 0 {
			selIdx = chunk.Candidates[0].Index
			sel = chunk.Candidates[0]
		} else {
			for _, c := range chunk.Candidates {
				if c.Index == selIdx {
					sel = c
					break
				}
			}
			if sel == nil {
				continue
			}
		}

		if sel.Content != nil {
			var text strings.Builder
			for _, p := range sel.Content.Parts {
				if p.Text != "" {
					text.WriteString(p.Text)
				}
			}
			if text.Len() > 0 {
				if err := sb.Add(&Chunk{Text: text.String()}); err != nil {
					return err
				}
			}
		}

		switch sel.FinishReason {
		default:
			return sb.Unexpected(
				geminiConvUsage(chunk.UsageMetadata),
				fmt.Errorf("llm: unexpected finish reason: %s", sel.FinishReason),
			)
		case genai.FinishReasonUnspecified, "":
			// continue
		case genai.FinishReasonStop:
			return sb.Done(geminiConvUsage(chunk.UsageMetadata))
		case genai.FinishReasonMaxTokens:
			return sb.Truncated(geminiConvUsage(chunk.UsageMetadata))
		case genai.FinishReasonSafety:
			var cats []string
			for _, sr := range sel.SafetyRatings {
				if sr.Blocked {
					cats = append(cats, string(sr.Category))
				}
			}
			return sb.Blocked(
				geminiConvUsage(chunk.UsageMetadata),
				"blocked by "+strings.Join(cats, ", "),
			)
		}
	}
	return errors.New("llm: unexpected end of stream: no finish reason")
}

func (g *GeminiGenerator) convRequest(req *Request) (*genai.GenerateContentConfig, []*genai.Content, error) {
	cfg := genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(req.System)},
		}
	}
	mp := g.Params
	if req.Params != nil {
		mp = req.Params
	}
	if mp != nil {
		cfg.MaxOutputTokens = int32(mp.MaxTokens)
		cfg.Temperature = &mp.Temperature
		cfg.TopP = &mp.TopP
		cfg.TopK = &mp.TopK
	}

	var (
		contents []*genai.Content
		last     *genai.Content
	)
	for _, msg := range req.Messages {
		if msg.Content == "" {
			continue
		}
		var role string
		switch msg.Role {
		case RoleUser:
			role = "user"
		case RoleModel:
			role = "model"
		default:
			return nil, nil, fmt.Errorf("llm: unexpected message role: %s", msg.Role)
		}
		part := genai.NewPartFromText(msg.Content)
		if last != nil && last.Role == role {
			last.Parts = append(last.Parts, part)
			continue
		}
		c := &genai.Content{Role: role, Parts: []*genai.Part{part}}
		contents = append(contents, c)
		last = c
	}
	if len(contents) == 0 {
		return nil, nil, errors.New("llm: no contents")
	}

	return &cfg, contents, nil
}

func geminiConvUsage(usage *genai.GenerateContentResponseUsageMetadata) Usage {
	if usage == nil {
		return Usage{}
	}
	return Usage{
		PromptTokens:     int64(usage.PromptTokenCount),
		CompletionTokens: int64(usage.CandidatesTokenCount),
		TotalTokens:      int64(usage.TotalTokenCount),
	}
}
