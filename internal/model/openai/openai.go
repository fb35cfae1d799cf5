// Package openai adapts the OpenAI Chat Completions API to the
// model.Generator contract used by the orchestrator.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/cortexcore/cortex/internal/model"
)

// Options configures the OpenAI generator.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
}

// Generator wraps OpenAI Chat Completions streaming behind model.Generator.
type Generator struct {
	client *openai.Client
	opts   Options
}

// New creates an OpenAI-backed generator using the official client.
func New(optFns ...func(o *Options)) *Generator {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)

	return &Generator{client: &client, opts: opts}
}

// Generate implements model.Generator by forwarding streamed text deltas.
func (g *Generator) Generate(ctx context.Context, req model.Request) (<-chan model.Chunk, <-chan error) {
	out := make(chan model.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := openai.ChatCompletionNewParams{
			Model:               g.opts.Model,
			Messages:            buildMessages(req),
			Temperature:         openai.Float(g.opts.Temperature),
			MaxCompletionTokens: openai.Int(g.opts.MaxCompletionTokens),
		}

		stream := g.client.Chat.Completions.NewStreaming(ctx, params)
		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				select {
				case out <- model.Chunk{Text: choice.Delta.Content}:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("openai streaming error: %w", err)
		}
	}()

	return out, errCh
}

// buildMessages converts the flattened prompt into chat messages, with the
// cognition context leading as a system message.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	turns := model.PromptMessages(req)
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	if req.Context != "" {
		messages = append(messages, openai.SystemMessage(req.Context))
	}
	for _, turn := range turns {
		switch turn.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(turn.Content))
		case "system":
			// Error notices from past turns add nothing to the prompt.
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	return messages
}
