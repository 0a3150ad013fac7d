package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"

	"github.com/civicrelay/civicrelay/internal/models"
)

// ContextHistoryLimit is how many recent history entries are included in the
// reasoning context. The stored history keeps more; the provider sees less.
const ContextHistoryLimit = 20

// ProfileLookup resolves the known profile for a user. A nil profile with a
// nil error is the normal outcome for first-time users.
type ProfileLookup interface {
	LookupProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// decisionInstructions is the fixed contract portion of the system prompt.
// The JSON field names must match models.Decision exactly.
const decisionInstructions = `You are the reasoning engine for a municipal infrastructure assistant. Citizens report problems such as potholes, broken streetlights, and water leaks; contractors and field workers register themselves and file work reports.

For every user message respond with a single JSON object and nothing else:
{
  "understanding": "what the user wants, in one sentence",
  "userType": "contractor" | "field_worker" | "citizen" | "unclear",
  "intent": "registration" | "status_check" | "report_submission" | "help" | "other",
  "confidence": 0.0 to 1.0,
  "action": one of the actions listed below,
  "dataNeeded": ["field names still required to finish the current workflow"],
  "dataCollected": {"field name": "value extracted from this message"},
  "nextStep": "short label for where the workflow goes next",
  "response": "the exact reply to send to the user",
  "reasoning": "one sentence on why this action"
}`

// DefaultSystemPrompt returns the full system prompt, including the action
// enumeration, for a given channel.
func DefaultSystemPrompt(channel string) string {
	var b strings.Builder
	b.WriteString(decisionInstructions)
	b.WriteString("\n\nAllowed actions: ")
	for i, a := range models.AllActions {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(string(a))
	}
	b.WriteString(".")
	switch channel {
	case models.ChannelCitizen:
		b.WriteString("\n\nThis conversation runs on the citizen channel. Users here are residents reporting issues; registration collects full_name and location. Redirect contractors and field workers to the worker line.")
	case models.ChannelWorker:
		b.WriteString("\n\nThis conversation runs on the worker channel. Users here are contractors and field workers; contractor registration collects full_name, license_number and company_name, field worker registration collects full_name and license_number. Redirect citizens to the citizen line.")
	}
	return b.String()
}

// ContextBuilder assembles the message sequence handed to the reasoning
// provider: system instructions, a state snapshot, recent history, and the
// inbound message.
type ContextBuilder struct {
	profiles ProfileLookup
}

// NewContextBuilder creates a ContextBuilder. A nil profile lookup is
// allowed; every user is then treated as unregistered.
func NewContextBuilder(profiles ProfileLookup) *ContextBuilder {
	return &ContextBuilder{profiles: profiles}
}

// snapshot is the state summary serialized into the context.
type snapshot struct {
	Timestamp     string               `json:"timestamp"`
	Channel       string               `json:"channel"`
	Profile       *models.Profile      `json:"profile,omitempty"`
	Workflow      models.WorkflowState `json:"workflow"`
	CollectedData map[string]any       `json:"collectedData"`
	HasMedia      bool                 `json:"hasMedia"`
}

// Build assembles the reasoning context for one inbound message. Profile
// lookup failures degrade to an unknown profile instead of failing the turn.
func (b *ContextBuilder) Build(ctx context.Context, state models.ConversationState, msg models.InboundMessage) ([]openai.ChatCompletionMessageParamUnion, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(DefaultSystemPrompt(state.Channel)),
	}

	var profile *models.Profile
	if b.profiles != nil {
		p, err := b.profiles.LookupProfile(ctx, state.UserID)
		if err != nil {
			slog.Warn("ContextBuilder.Build: profile lookup failed, continuing without profile", "error", err, "userID", state.UserID)
		} else {
			profile = p
		}
	}

	snap := snapshot{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Channel:       state.Channel,
		Profile:       profile,
		Workflow:      state.Workflow,
		CollectedData: state.CollectedData,
		HasMedia:      msg.Media != nil,
	}
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode context snapshot: %w", err)
	}
	messages = append(messages, openai.SystemMessage("Conversation state: "+string(snapJSON)))

	history := state.History
	if len(history) > ContextHistoryLimit {
		history = history[len(history)-ContextHistoryLimit:]
	}
	for _, entry := range history {
		switch entry.Role {
		case models.RoleUser:
			messages = append(messages, openai.UserMessage(entry.Text))
		case models.RoleBot:
			messages = append(messages, openai.AssistantMessage(entry.Text))
		}
	}

	text := msg.Text
	if msg.Media != nil {
		if text == "" {
			text = fmt.Sprintf("[user sent a %s attachment]", msg.Media.Type)
		} else {
			text = fmt.Sprintf("%s\n[user attached a %s]", text, msg.Media.Type)
		}
	}
	messages = append(messages, openai.UserMessage(text))

	slog.Debug("ContextBuilder.Build: context assembled", "userID", state.UserID, "channel", state.Channel,
		"historyIncluded", len(history), "hasProfile", profile != nil, "hasMedia", msg.Media != nil)
	return messages, nil
}
