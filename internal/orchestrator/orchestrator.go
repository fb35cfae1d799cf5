// ABOUTME: Per-conversation response orchestration state machine.
// ABOUTME: Consumes input events, drives memory/cognition via MCP, publishes output events.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cortexcore/cortex/internal/bus"
	"github.com/cortexcore/cortex/internal/mcp"
	"github.com/cortexcore/cortex/internal/model"
	"github.com/cortexcore/cortex/internal/services/cognition"
	"github.com/cortexcore/cortex/internal/services/memory"
	"github.com/cortexcore/cortex/internal/store"
)

// State of one conversation's orchestration. Failures always return to idle
// after emitting an error event; idle is the only terminal state.
type State string

const (
	StateIdle            State = "idle"
	StateAwaitingHistory State = "awaiting_history"
	StateAwaitingContext State = "awaiting_context"
	StateGenerating      State = "generating"
	StatePublishing      State = "publishing"
)

// Defaults for orchestration timing and queueing.
const (
	DefaultCallTimeout        = 10 * time.Second
	DefaultGenerationTimeout  = 60 * time.Second
	DefaultPendingQueueLength = 16
)

// Config bounds per-call deadlines and per-conversation input queueing.
type Config struct {
	// CallTimeout is the deadline applied to every dispatcher call.
	CallTimeout time.Duration
	// GenerationTimeout bounds one generation run.
	GenerationTimeout time.Duration
	// PendingQueueLength bounds inputs queued behind an in-flight
	// orchestration for the same conversation; excess inputs are dropped.
	PendingQueueLength int
}

func (c *Config) applyDefaults() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = DefaultGenerationTimeout
	}
	if c.PendingQueueLength <= 0 {
		c.PendingQueueLength = DefaultPendingQueueLength
	}
}

// conversation holds the explicit orchestration state for one
// (user_id, conversation_id) pair; inputs queue FIFO behind the in-flight run.
type conversation struct {
	userID         string
	conversationID string
	queue          chan *bus.Event

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc // cancels the in-flight task; nil when idle
}

func (c *conversation) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *conversation) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *conversation) setCancel(fn context.CancelFunc) {
	c.mu.Lock()
	c.cancel = fn
	c.mu.Unlock()
}

func (c *conversation) cancelInFlight() {
	c.mu.Lock()
	fn := c.cancel
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Orchestrator subscribes to input events and produces output events:
// history read, context assembly, generation, persistence, publish. At most
// one orchestration is in flight per conversation; distinct conversations
// run fully concurrently.
type Orchestrator struct {
	bus        *bus.Bus
	dispatcher *mcp.Dispatcher
	generator  model.Generator
	cfg        Config
	logger     *slog.Logger
	sub        *bus.Subscription

	mu    sync.Mutex
	convs map[string]*conversation
	wg    sync.WaitGroup
}

// New creates an orchestrator and subscribes it to input events; call Run to
// start consuming. Pass nil logger for default.
func New(b *bus.Bus, dispatcher *mcp.Dispatcher, generator model.Generator, cfg Config, logger *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		bus:        b,
		dispatcher: dispatcher,
		generator:  generator,
		cfg:        cfg,
		logger:     logger.With("component", "orchestrator"),
		sub:        b.Subscribe(bus.EventTypeInput),
		convs:      make(map[string]*conversation),
	}
}

// Run consumes input events until ctx is cancelled or the bus closes, then
// waits for in-flight conversation workers to drain.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer func() {
		o.bus.Unsubscribe(o.sub)
		o.wg.Wait()
	}()

	for {
		ev, err := o.sub.Next(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrSubscriptionClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		o.enqueue(ctx, ev)
	}
}

// Cancel aborts the in-flight orchestration for a conversation, if any.
// Queued inputs are not discarded; they run next with fresh state.
func (o *Orchestrator) Cancel(userID, conversationID string) {
	o.mu.Lock()
	conv, ok := o.convs[userID+"/"+conversationID]
	o.mu.Unlock()
	if ok {
		conv.cancelInFlight()
	}
}

// State reports the conversation's current orchestration state; unknown
// conversations are idle.
func (o *Orchestrator) State(userID, conversationID string) State {
	o.mu.Lock()
	conv, ok := o.convs[userID+"/"+conversationID]
	o.mu.Unlock()
	if !ok {
		return StateIdle
	}
	return conv.currentState()
}

// enqueue routes the input to its conversation worker, creating the worker
// on first contact. The pending queue is bounded; an overflowing input is
// dropped with a log line, matching the bus's best-effort contract.
func (o *Orchestrator) enqueue(ctx context.Context, ev *bus.Event) {
	key := ev.ConversationKey()

	o.mu.Lock()
	conv, ok := o.convs[key]
	if !ok {
		conv = &conversation{
			userID:         ev.UserID,
			conversationID: ev.ConversationID,
			queue:          make(chan *bus.Event, o.cfg.PendingQueueLength),
			state:          StateIdle,
		}
		o.convs[key] = conv
		o.wg.Add(1)
		go o.worker(ctx, conv)
	}
	o.mu.Unlock()

	select {
	case conv.queue <- ev:
	default:
		o.logger.Warn("pending input queue full, dropping input",
			"user_id", ev.UserID,
			"conversation_id", ev.ConversationID,
			"sequence", ev.Sequence)
	}
}

// worker drains one conversation's queue serially, guaranteeing FIFO
// processing and at most one in-flight orchestration for the conversation.
func (o *Orchestrator) worker(ctx context.Context, conv *conversation) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-conv.queue:
			o.process(ctx, conv, ev)
		}
	}
}

// process runs the full state machine for one input event.
func (o *Orchestrator) process(ctx context.Context, conv *conversation, ev *bus.Event) {
	taskCtx, cancel := context.WithCancel(ctx)
	conv.setCancel(cancel)
	defer func() {
		conv.setCancel(nil)
		cancel()
		conv.setState(StateIdle)
	}()

	content, _ := ev.Payload[bus.PayloadKeyContent].(string)
	logger := o.logger.With(
		"user_id", conv.userID,
		"conversation_id", conv.conversationID,
		"sequence", ev.Sequence)

	// History first, so the snapshot excludes the input being processed.
	conv.setState(StateAwaitingHistory)
	historyRaw, err := o.readHistory(taskCtx, conv)
	if err != nil {
		o.fail(taskCtx, conv, logger, "reading history", err)
		return
	}

	if _, err := o.callTool(taskCtx, mcp.ToolCall{
		Service: memory.ServiceName,
		Name:    memory.ToolStoreInput,
		Arguments: map[string]any{
			"conversation_id": conv.conversationID,
			"user_id":         conv.userID,
			"content":         content,
		},
	}); err != nil {
		o.fail(taskCtx, conv, logger, "storing input", err)
		return
	}

	conv.setState(StateAwaitingContext)
	ctxResult, err := o.callTool(taskCtx, mcp.ToolCall{
		Service: cognition.ServiceName,
		Name:    cognition.ToolGetContext,
		Arguments: map[string]any{
			"conversation_id": conv.conversationID,
			"content":         content,
			"history":         historyRaw,
		},
	})
	if err != nil {
		o.fail(taskCtx, conv, logger, "assembling context", err)
		return
	}
	workingContext, _ := ctxResult["context"].(string)

	conv.setState(StateGenerating)
	messageID := uuid.New().String()
	reply, err := o.generate(taskCtx, conv, messageID, model.Request{
		Content: content,
		History: historyTurns(historyRaw),
		Context: workingContext,
	})
	if err != nil {
		o.fail(taskCtx, conv, logger, "generating response", err)
		return
	}

	conv.setState(StatePublishing)
	if _, err := o.callTool(taskCtx, mcp.ToolCall{
		Service: memory.ServiceName,
		Name:    memory.ToolStoreMessage,
		Arguments: map[string]any{
			"conversation_id": conv.conversationID,
			"role":            store.RoleAssistant,
			"content":         reply,
			"message_id":      messageID,
			"is_complete":     true,
		},
	}); err != nil {
		o.fail(taskCtx, conv, logger, "storing response", err)
		return
	}

	o.publishOutput(conv, messageID, store.RoleAssistant, reply, true)
	logger.Debug("orchestration complete", "message_id", messageID, "reply_chars", len(reply))
}

// generate streams chunks from the generator, publishing one output event
// per chunk with is_complete=false under a constant message id, and returns
// the accumulated reply. The final is_complete=true event is published by
// the caller after persistence.
func (o *Orchestrator) generate(ctx context.Context, conv *conversation, messageID string, req model.Request) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, o.cfg.GenerationTimeout)
	defer cancel()

	chunks, errCh := o.generator.Generate(genCtx, req)

	var reply []byte
	for chunk := range chunks {
		reply = append(reply, chunk.Text...)
		o.publishOutput(conv, messageID, store.RoleAssistant, chunk.Text, false)
	}
	if err := <-errCh; err != nil {
		return "", err
	}
	return string(reply), nil
}

// fail converts the error into a user-visible system message and leaves the
// conversation idle. Cancellation (stream detach, shutdown) stays silent:
// nobody is listening for the reply.
func (o *Orchestrator) fail(ctx context.Context, conv *conversation, logger *slog.Logger, op string, err error) {
	if ctx.Err() != nil {
		logger.Debug("orchestration cancelled", "op", op)
		return
	}

	logger.Warn("orchestration failed", "op", op, "error", err)
	summary := fmt.Sprintf("Sorry, something went wrong while %s. Please try again.", op)
	o.publishOutput(conv, uuid.New().String(), store.RoleSystem, summary, true)
}

func (o *Orchestrator) publishOutput(conv *conversation, messageID, role, content string, isComplete bool) {
	err := o.bus.Publish(&bus.Event{
		Type:           bus.EventTypeOutput,
		UserID:         conv.userID,
		ConversationID: conv.conversationID,
		Payload: map[string]any{
			bus.PayloadKeyMessageID:  messageID,
			bus.PayloadKeyRole:       role,
			bus.PayloadKeyContent:    content,
			bus.PayloadKeyIsComplete: isComplete,
		},
	})
	if err != nil {
		o.logger.Debug("output publish skipped", "error", err)
	}
}

// readHistory fetches the conversation history resource and returns the raw
// message list, which feeds both cognition and the generator prompt.
func (o *Orchestrator) readHistory(ctx context.Context, conv *conversation) ([]any, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	result, err := o.dispatcher.ReadResource(callCtx, mcp.ResourceRequest{
		Service:     memory.ServiceName,
		URITemplate: memory.ResourceHistoryTmpl,
		Parameters:  map[string]string{"conversation_id": conv.conversationID},
	})
	if err != nil {
		return nil, err
	}
	msgs, _ := result["messages"].([]any)
	return msgs, nil
}

func (o *Orchestrator) callTool(ctx context.Context, call mcp.ToolCall) (map[string]any, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()
	return o.dispatcher.CallTool(callCtx, call)
}

// historyTurns projects raw history entries into generator turns.
func historyTurns(raw []any) []model.Turn {
	turns := make([]model.Turn, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := entry["role"].(string)
		content, _ := entry["content"].(string)
		if content == "" {
			continue
		}
		turns = append(turns, model.Turn{Role: role, Content: content})
	}
	return turns
}
