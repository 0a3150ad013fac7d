package flow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/civicrelay/civicrelay/internal/models"
)

// Engine runs the full per-message cycle: load state, assemble the reasoning
// context, record the inbound message in history, obtain a decision, apply
// the workflow transition, execute the action, and persist the result.
//
// Messages for the same (user, channel) key are serialized through a per-key
// mutex so concurrent deliveries cannot lose each other's read-modify-write
// cycles. Distinct keys proceed fully in parallel.
type Engine struct {
	states   *StateManager
	contexts *ContextBuilder
	pipeline *DecisionPipeline
	executor *Executor

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

// NewEngine assembles an Engine from its components.
func NewEngine(states *StateManager, contexts *ContextBuilder, pipeline *DecisionPipeline, executor *Executor) *Engine {
	slog.Debug("Creating flow Engine")
	return &Engine{
		states:   states,
		contexts: contexts,
		pipeline: pipeline,
		executor: executor,
		keyLocks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing one (user, channel) key. Locks are
// kept for the process lifetime; the map grows with the active user set.
func (e *Engine) lockFor(userID, channel string) *sync.Mutex {
	key := cacheKey(userID, channel)
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.keyLocks[key] = lock
	}
	return lock
}

// HandleMessage processes one inbound message and returns the reply text.
// The turn degrades rather than fails: provider and persistence problems
// still produce a reply, and only an invalid message or an unreadable state
// store returns an error to the transport.
func (e *Engine) HandleMessage(ctx context.Context, msg models.InboundMessage) (string, error) {
	if err := msg.Validate(); err != nil {
		slog.Error("Engine.HandleMessage: invalid message", "error", err)
		return "", err
	}

	lock := e.lockFor(msg.UserID, msg.Channel)
	lock.Lock()
	defer lock.Unlock()

	state, err := e.states.Get(ctx, msg.UserID, msg.Channel)
	if err != nil {
		return "", err
	}

	// The context carries the inbound message as its own final user turn, so
	// it is appended to history only after assembly; otherwise the provider
	// would see the current message twice.
	messages, err := e.contexts.Build(ctx, state, msg)
	if err != nil {
		// Context assembly is pure; a failure here means the snapshot could
		// not be encoded. Degrade to the fallback decision rather than
		// dropping the turn.
		slog.Error("Engine.HandleMessage: context assembly failed", "error", err, "userID", msg.UserID)
		messages = nil
	}
	state.AppendHistory(models.RoleUser, msg.Text)

	var decision models.Decision
	if messages == nil {
		decision = FallbackDecision()
	} else {
		decision = e.pipeline.Decide(ctx, messages)
	}

	ApplyDecision(&state, decision)
	result := e.executor.Execute(ctx, &state, decision, msg)
	state.AppendHistory(models.RoleBot, result.Text)

	if err := e.states.Save(ctx, state); err != nil {
		// The reply is still delivered; the next turn re-reads durable truth.
		slog.Error("Engine.HandleMessage: state save failed after execution", "error", err,
			"userID", msg.UserID, "channel", msg.Channel, "action", decision.Action)
	}

	slog.Info("Engine.HandleMessage: turn complete", "userID", msg.UserID, "channel", msg.Channel,
		"action", decision.Action, "status", result.Status, "step", state.Workflow.CurrentStep)
	return result.Text, nil
}

// Reset clears workflow progress for a key while keeping the conversation
// history. Exposed for the admin reset endpoint.
func (e *Engine) Reset(ctx context.Context, userID, channel string) error {
	lock := e.lockFor(userID, channel)
	lock.Lock()
	defer lock.Unlock()
	return e.states.ResetWorkflow(ctx, userID, channel)
}

// Logout deletes all state for a key. The next message starts a fresh
// conversation.
func (e *Engine) Logout(ctx context.Context, userID, channel string) error {
	lock := e.lockFor(userID, channel)
	lock.Lock()
	defer lock.Unlock()
	return e.states.Clear(ctx, userID, channel)
}
