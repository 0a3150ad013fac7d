// Package flow implements the conversational workflow engine: per-user state
// management, reasoning context assembly, the decision pipeline, and the
// action executor that turns decisions into replies and side effects.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/civicrelay/civicrelay/internal/cache"
	"github.com/civicrelay/civicrelay/internal/models"
	"github.com/civicrelay/civicrelay/internal/store"
)

// DefaultStateTTL is how long a conversation state document stays in the
// read-through cache before the next access goes back to the durable store.
const DefaultStateTTL = 5 * time.Minute

// StateManager owns the conversation state documents. Reads go through a TTL
// cache; every write lands in the durable store first and refreshes the cache
// only on success, so the cache never holds state the store has not accepted.
type StateManager struct {
	store store.Store
	cache *cache.TTLCache[models.ConversationState]
}

// NewStateManager creates a StateManager backed by the given store.
func NewStateManager(st store.Store) *StateManager {
	slog.Debug("Creating StateManager", "stateTTL", DefaultStateTTL)
	return &StateManager{
		store: st,
		cache: cache.New[models.ConversationState](DefaultStateTTL),
	}
}

func cacheKey(userID, channel string) string {
	return userID + "|" + channel
}

// Get returns the conversation state for a (user, channel) key, creating the
// default document on first access. The created default is not persisted
// until the first save.
func (sm *StateManager) Get(ctx context.Context, userID, channel string) (models.ConversationState, error) {
	if userID == "" {
		return models.ConversationState{}, models.ErrEmptyUserID
	}
	if channel == "" {
		return models.ConversationState{}, models.ErrEmptyChannel
	}

	key := cacheKey(userID, channel)
	if state, ok := sm.cache.Get(key); ok {
		slog.Debug("StateManager.Get: cache hit", "userID", userID, "channel", channel)
		return state.Clone(), nil
	}

	stored, err := sm.store.GetConversationState(userID, channel)
	if err != nil {
		slog.Error("StateManager.Get: store read failed", "error", err, "userID", userID, "channel", channel)
		return models.ConversationState{}, fmt.Errorf("failed to load conversation state: %w", err)
	}
	if stored == nil {
		slog.Debug("StateManager.Get: creating default state", "userID", userID, "channel", channel)
		fresh := models.NewConversationState(userID, channel)
		sm.cache.Set(key, fresh.Clone())
		return fresh, nil
	}

	sm.cache.Set(key, stored.Clone())
	slog.Debug("StateManager.Get: loaded from store", "userID", userID, "channel", channel, "step", stored.Workflow.CurrentStep)
	return *stored, nil
}

// Save persists the full state document and refreshes the cache. The cache
// entry is dropped when the durable write fails.
func (sm *StateManager) Save(ctx context.Context, state models.ConversationState) error {
	if state.UserID == "" {
		return models.ErrEmptyUserID
	}
	if state.Channel == "" {
		return models.ErrEmptyChannel
	}

	state.LastActivity = time.Now()
	key := cacheKey(state.UserID, state.Channel)
	if err := sm.store.SaveConversationState(state); err != nil {
		sm.cache.Delete(key)
		slog.Error("StateManager.Save: store write failed", "error", err, "userID", state.UserID, "channel", state.Channel)
		return fmt.Errorf("failed to save conversation state: %w", err)
	}
	sm.cache.Set(key, state.Clone())
	slog.Debug("StateManager.Save: succeeded", "userID", state.UserID, "channel", state.Channel, "step", state.Workflow.CurrentStep)
	return nil
}

// Update loads the state, applies the mutation, and saves the result.
func (sm *StateManager) Update(ctx context.Context, userID, channel string, mutate func(*models.ConversationState)) error {
	state, err := sm.Get(ctx, userID, channel)
	if err != nil {
		return err
	}
	mutate(&state)
	return sm.Save(ctx, state)
}

// Clear removes the state document from both the cache and the durable store.
// The next access starts over with the default document.
func (sm *StateManager) Clear(ctx context.Context, userID, channel string) error {
	sm.cache.Delete(cacheKey(userID, channel))
	if err := sm.store.DeleteConversationState(userID, channel); err != nil {
		slog.Error("StateManager.Clear: store delete failed", "error", err, "userID", userID, "channel", channel)
		return fmt.Errorf("failed to clear conversation state: %w", err)
	}
	slog.Debug("StateManager.Clear: succeeded", "userID", userID, "channel", channel)
	return nil
}

// ResetWorkflow puts the workflow back to its defaults and empties the
// collected data while preserving the conversation history.
func (sm *StateManager) ResetWorkflow(ctx context.Context, userID, channel string) error {
	slog.Debug("StateManager.ResetWorkflow", "userID", userID, "channel", channel)
	return sm.Update(ctx, userID, channel, func(state *models.ConversationState) {
		state.Workflow = models.DefaultWorkflowState()
		state.CollectedData = make(map[string]any)
	})
}

// AddToHistory appends a history entry, evicting the oldest entries beyond
// the history bound.
func (sm *StateManager) AddToHistory(ctx context.Context, userID, channel, role, text string) error {
	return sm.Update(ctx, userID, channel, func(state *models.ConversationState) {
		state.AppendHistory(role, text)
	})
}

// UpdateWorkflowState applies a workflow mutation to the state document.
func (sm *StateManager) UpdateWorkflowState(ctx context.Context, userID, channel string, mutate func(*models.WorkflowState)) error {
	return sm.Update(ctx, userID, channel, func(state *models.ConversationState) {
		mutate(&state.Workflow)
	})
}

// UpdateCollectedData merges the given fields into the collected data map.
// Existing keys are overwritten; keys absent from fields are left untouched.
func (sm *StateManager) UpdateCollectedData(ctx context.Context, userID, channel string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return sm.Update(ctx, userID, channel, func(state *models.ConversationState) {
		for k, v := range fields {
			state.CollectedData[k] = v
		}
	})
}
