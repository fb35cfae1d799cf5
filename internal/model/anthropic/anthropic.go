// Package anthropic adapts the Anthropic Messages API to the model.Generator
// contract used by the orchestrator.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cortexcore/cortex/internal/model"
)

// Options configures the Anthropic generator.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Generator wraps the Anthropic Messages streaming API behind model.Generator.
type Generator struct {
	client *anthropic.Client
	opts   Options
}

// New creates an Anthropic-backed generator using the official client.
func New(optFns ...func(o *Options)) *Generator {
	opts := Options{
		Model:       anthropic.ModelClaudeSonnet4_20250514,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Generator{client: &client, opts: opts}
}

// Generate implements model.Generator by streaming text deltas from the
// Messages API.
func (g *Generator) Generate(ctx context.Context, req model.Request) (<-chan model.Chunk, <-chan error) {
	out := make(chan model.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:       g.opts.Model,
			Messages:    buildMessages(req),
			MaxTokens:   g.opts.MaxTokens,
			Temperature: anthropic.Float(g.opts.Temperature),
		}
		if req.Context != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.Context}}
		}

		stream := g.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					select {
					case out <- model.Chunk{Text: delta.Text}:
					case <-ctx.Done():
						errCh <- ctx.Err()
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("anthropic streaming error: %w", err)
		}
	}()

	return out, errCh
}

// buildMessages converts the flattened prompt into Anthropic message params.
func buildMessages(req model.Request) []anthropic.MessageParam {
	turns := model.PromptMessages(req)
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(turn.Content)))
		case "system":
			// System-role history entries are error notices; skip them
			// rather than confuse the model.
		default:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(turn.Content)))
		}
	}
	return messages
}
