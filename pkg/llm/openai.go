package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"
)

var _ Generator = (*OpenAIGenerator)(nil)

const (
	oaiFinishReasonStop          string = "stop"
	oaiFinishReasonLength        string = "length"
	oaiFinishReasonContentFilter string = "content_filter"
)

// OpenAIGenerator implements Generator using the OpenAI chat completions
// API. It also serves OpenAI-compatible providers through a custom base
// URL on the client.
type OpenAIGenerator struct {
	Client *openai.Client `json:"-"`

	Model string `json:"model"`

	Params *Params `json:"params,omitzero"`

	// UseSystemRole sends the system instruction with the legacy "system"
	// role; some compatible providers reject "developer".
	UseSystemRole bool `json:"use_system_role,omitzero"`
}

func (g *OpenAIGenerator) GenerateStream(ctx context.Context, _ string, req *Request) (Stream, error) {
	params, err := g.chatCompletion(req)
	if err != nil {
		return nil, err
	}
	sb := NewStreamBuilder(32)
	go func() {
		if err := oaiPull(sb, g.Client.Chat.Completions.NewStreaming(ctx, params)); err != nil {
			sb.Abort(err)
		}
	}()
	return sb.Stream(), nil
}

func (g *OpenAIGenerator) chatCompletion(req *Request) (openai.ChatCompletionNewParams, error) {
	msgs, err := g.convMessages(req)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    g.Model,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}
	mp := g.Params
	if req.Params != nil {
		mp = req.Params
	}
	if mp != nil {
		if mp.FrequencyPenalty > 0 {
			params.FrequencyPenalty = param.NewOpt(float64(mp.FrequencyPenalty))
		}
		if mp.MaxTokens > 0 {
			params.MaxCompletionTokens = param.NewOpt(int64(mp.MaxTokens))
		}
		if mp.Temperature > 0 {
			params.Temperature = param.NewOpt(float64(mp.Temperature))
		}
		if mp.TopP > 0 {
			params.TopP = param.NewOpt(float64(mp.TopP))
		}
		if mp.PresencePenalty > 0 {
			params.PresencePenalty = param.NewOpt(float64(mp.PresencePenalty))
		}
	}
	return params, nil
}

func (g *OpenAIGenerator) convMessages(req *Request) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := []openai.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		if g.UseSystemRole {
			out = append(out, openai.SystemMessage(req.System))
		} else {
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfDeveloper: &openai.ChatCompletionDeveloperMessageParam{
					Content: openai.ChatCompletionDeveloperMessageParamContentUnion{
						OfString: param.NewOpt(req.System),
					},
				},
			})
		}
	}
	for _, msg := range req.Messages {
		if msg.Content == "" {
			continue
		}
		switch msg.Role {
		case RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case RoleModel:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			return nil, fmt.Errorf("llm: unexpected message role: %s", msg.Role)
		}
	}
	return out, nil
}

func oaiPull(sb *StreamBuilder, stream *ssestream.Stream[openai.ChatCompletionChunk]) error {
	var (
		index   int64
		finish  string
		refusal string
		usage   Usage
	)
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.TotalTokens > 0 {
			// With stream_options.include_usage the totals arrive on a
			// trailing chunk that carries no choices.
			usage = oaiConvUsage(&chunk.Usage)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		var sel *openai.ChatCompletionChunkChoice
		if index == 0 {
			index = chunk.Choices[0].Index
			sel = &chunk.Choices[0]
		} else {
			for _, c := range chunk.Choices {
				if c.Index == index {
					sel = &c
					break
				}
			}
			if sel == nil {
				continue
			}
		}
		if s := sel.Delta.Content; s != "" {
			if err := sb.Add(&Chunk{Text: s}); err != nil {
				return err
			}
		}
		if s := sel.Delta.Refusal; s != "" {
			refusal = s
		}
		if sel.FinishReason != "" {
			finish = sel.FinishReason
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}
	switch finish {
	case oaiFinishReasonStop:
		if refusal != "" {
			return sb.Blocked(usage, refusal)
		}
		return sb.Done(usage)
	case oaiFinishReasonLength:
		return sb.Truncated(usage)
	case oaiFinishReasonContentFilter:
		return sb.Blocked(usage, refusal)
	case "":
		return errors.New("llm: unexpected end of stream: no finish reason")
	default:
		return sb.Unexpected(usage, fmt.Errorf("llm: unexpected finish reason: %s", finish))
	}
}

func oaiConvUsage(usage *openai.CompletionUsage) Usage {
	return Usage{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
	}
}
