// ABOUTME: Pluggable response-generation contract used by the orchestrator.
// ABOUTME: Generators stream chunks over a channel pair; errors arrive on a side channel.

package model

import (
	"context"
	"strings"
)

// Turn is one prior message in the conversation.
type Turn struct {
	Role    string
	Content string
}

// Request carries everything a generator needs for one assistant reply.
type Request struct {
	// Content is the current user input.
	Content string
	// History is the conversation so far, oldest first.
	History []Turn
	// Context is the working context assembled by the cognition service.
	Context string
}

// Chunk is one increment of generated text.
type Chunk struct {
	Text string
}

// Generator produces an assistant reply as a stream of chunks. The chunk
// channel is closed when generation finishes; a non-nil value on the error
// channel means the stream ended abnormally. Both channels are owned by the
// generator and must not be closed by the caller. Cancellation flows through
// ctx.
type Generator interface {
	Generate(ctx context.Context, req Request) (<-chan Chunk, <-chan error)
}

// PromptMessages flattens a request into role/content pairs for chat-style
// APIs: history first, then the current input as a user turn.
func PromptMessages(req Request) []Turn {
	msgs := make([]Turn, 0, len(req.History)+1)
	msgs = append(msgs, req.History...)
	msgs = append(msgs, Turn{Role: "user", Content: req.Content})
	return msgs
}

// Echo is an offline generator that replies with the input split into
// word-sized chunks. Used in tests and as the default when no API key is
// configured.
type Echo struct {
	// Prefix is prepended to the reply. Defaults to "echo: ".
	Prefix string
}

// Generate implements Generator.
func (e *Echo) Generate(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk, 16)
	errCh := make(chan error, 1)

	prefix := e.Prefix
	if prefix == "" {
		prefix = "echo: "
	}

	go func() {
		defer close(out)
		defer close(errCh)

		words := strings.Fields(prefix + req.Content)
		for i, word := range words {
			if err := ctx.Err(); err != nil {
				errCh <- err
				return
			}
			if i > 0 {
				word = " " + word
			}
			select {
			case out <- Chunk{Text: word}:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	return out, errCh
}
