// Package models defines the core data structures for CivicRelay.
//
// It includes the conversation/workflow state documents, the decision
// contract exchanged with the reasoning provider, and the transport-level
// message types shared across modules.
package models

import (
	"errors"
	"time"
)

// Channel identifies a bot surface a user can message through.
// Each deployment runs one channel per user category.
const (
	// ChannelCitizen is the citizen-facing bot channel (Twilio SMS).
	ChannelCitizen = "citizen"
	// ChannelWorker is the contractor/field-worker bot channel (WhatsApp).
	ChannelWorker = "worker"
)

// Action is the closed enumeration of handler tags a decision may select.
type Action string

const (
	ActionAskQuestion        Action = "ask_question"
	ActionProvideInformation Action = "provide_information"
	ActionRegisterUser       Action = "register_user"
	ActionCollectData        Action = "collect_data"
	ActionAnalyzeImage       Action = "analyze_image"
	ActionSubmitReport       Action = "submit_report"
	ActionCheckStatus        Action = "check_status"
	ActionRedirectUser       Action = "redirect_user"
	ActionClarifyIntent      Action = "clarify_intent"
	ActionEndConversation    Action = "end_conversation"
)

// AllActions lists every valid action tag, in the order presented to the
// reasoning provider.
var AllActions = []Action{
	ActionAskQuestion,
	ActionProvideInformation,
	ActionRegisterUser,
	ActionCollectData,
	ActionAnalyzeImage,
	ActionSubmitReport,
	ActionCheckStatus,
	ActionRedirectUser,
	ActionClarifyIntent,
	ActionEndConversation,
}

// IsValidAction checks if the given action tag is a member of the enumeration.
func IsValidAction(a Action) bool {
	for _, valid := range AllActions {
		if a == valid {
			return true
		}
	}
	return false
}

// UserType classifies the user category a conversation belongs to.
type UserType string

const (
	UserTypeContractor  UserType = "contractor"
	UserTypeFieldWorker UserType = "field_worker"
	UserTypeCitizen     UserType = "citizen"
	UserTypeUnclear     UserType = "unclear"
)

// Intent classifies what the user is trying to accomplish.
type Intent string

const (
	IntentRegistration     Intent = "registration"
	IntentStatusCheck      Intent = "status_check"
	IntentReportSubmission Intent = "report_submission"
	IntentHelp             Intent = "help"
	IntentOther            Intent = "other"
)

// WorkflowStatus tracks whether a workflow is still in progress.
type WorkflowStatus string

const (
	WorkflowStatusActive    WorkflowStatus = "active"
	WorkflowStatusCompleted WorkflowStatus = "completed"
)

// Workflow step labels. CurrentStep is free-form (the last decision's action
// tag once a decision has been applied); these are the fixed entry labels.
const (
	StepInitial    = "initial"
	StepCollecting = "collecting"
)

// MaxHistoryEntries bounds the conversation history kept per state document.
// Oldest entries are evicted first.
const MaxHistoryEntries = 50

// History entry roles.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Error variables for decision contract validation.
var (
	ErrMissingAction        = errors.New("decision is missing an action")
	ErrInvalidAction        = errors.New("decision action is not in the allowed enumeration")
	ErrConfidenceOutOfRange = errors.New("decision confidence must be between 0 and 1")
	ErrEmptyUserID          = errors.New("user ID cannot be empty")
	ErrEmptyChannel         = errors.New("channel cannot be empty")
)

// HistoryEntry is a single turn in a conversation history.
type HistoryEntry struct {
	Role      string    `json:"role"` // "user" or "bot"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkflowState tracks per-conversation workflow progress.
type WorkflowState struct {
	CurrentStep string         `json:"current_step"`
	Intent      Intent         `json:"intent,omitempty"`
	UserType    UserType       `json:"user_type,omitempty"`
	Status      WorkflowStatus `json:"status"`
	DataNeeded  []string       `json:"data_needed,omitempty"`
	NextAction  string         `json:"next_action,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// DefaultWorkflowState returns the workflow defaults for a fresh conversation.
func DefaultWorkflowState() WorkflowState {
	return WorkflowState{
		CurrentStep: StepInitial,
		Status:      WorkflowStatusActive,
	}
}

// ConversationState is the full per-(user, channel) state document.
// Exactly one exists per key; it is created lazily with defaults on first
// access and persisted as a whole on every save.
type ConversationState struct {
	UserID        string         `json:"user_id"`
	Channel       string         `json:"channel"`
	Workflow      WorkflowState  `json:"workflow"`
	CollectedData map[string]any `json:"collected_data"`
	History       []HistoryEntry `json:"history"`
	CreatedAt     time.Time      `json:"created_at"`
	LastActivity  time.Time      `json:"last_activity"`
}

// NewConversationState constructs the default state document for a key.
func NewConversationState(userID, channel string) ConversationState {
	now := time.Now()
	return ConversationState{
		UserID:        userID,
		Channel:       channel,
		Workflow:      DefaultWorkflowState(),
		CollectedData: make(map[string]any),
		History:       []HistoryEntry{},
		CreatedAt:     now,
		LastActivity:  now,
	}
}

// Clone returns a deep copy so cached documents cannot be mutated through
// aliased maps or slices.
func (s ConversationState) Clone() ConversationState {
	out := s
	out.CollectedData = make(map[string]any, len(s.CollectedData))
	for k, v := range s.CollectedData {
		out.CollectedData[k] = v
	}
	out.History = make([]HistoryEntry, len(s.History))
	copy(out.History, s.History)
	out.Workflow.DataNeeded = append([]string(nil), s.Workflow.DataNeeded...)
	if s.Workflow.CompletedAt != nil {
		t := *s.Workflow.CompletedAt
		out.Workflow.CompletedAt = &t
	}
	return out
}

// AppendHistory appends an entry and trims the history to MaxHistoryEntries,
// dropping the oldest entries first.
func (s *ConversationState) AppendHistory(role, text string) {
	s.History = append(s.History, HistoryEntry{Role: role, Text: text, Timestamp: time.Now()})
	if len(s.History) > MaxHistoryEntries {
		s.History = s.History[len(s.History)-MaxHistoryEntries:]
	}
}

// CollectedFields returns the field names already satisfied for this
// conversation, derived from the collected-data keys.
func (s *ConversationState) CollectedFields() []string {
	keys := make([]string, 0, len(s.CollectedData))
	for k := range s.CollectedData {
		keys = append(keys, k)
	}
	return keys
}

// Decision is the structured contract produced once per inbound message by
// the reasoning provider. JSON tags match the wire contract exactly.
type Decision struct {
	Understanding string         `json:"understanding"`
	UserType      UserType       `json:"userType"`
	Intent        Intent         `json:"intent"`
	Confidence    float64        `json:"confidence"`
	Action        Action         `json:"action"`
	DataNeeded    []string       `json:"dataNeeded"`
	DataCollected map[string]any `json:"dataCollected"`
	NextStep      string         `json:"nextStep"`
	Response      string         `json:"response"`
	Reasoning     string         `json:"reasoning"`
}

// Validate checks the decision against the contract schema: the action must
// be present and in the enumeration, and confidence must be within [0, 1].
func (d *Decision) Validate() error {
	if d.Action == "" {
		return ErrMissingAction
	}
	if !IsValidAction(d.Action) {
		return ErrInvalidAction
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return ErrConfidenceOutOfRange
	}
	return nil
}

// MediaDescriptor is a lightweight reference to an attached media item.
// Content analysis happens later, in the action executor.
type MediaDescriptor struct {
	Type      string `json:"type"`      // e.g. "image"
	Reference string `json:"reference"` // transport-specific reference or URL
}

// InboundMessage is the transport-boundary event delivered by a channel
// adapter for each user message.
type InboundMessage struct {
	UserID  string
	Channel string
	Text    string
	Media   *MediaDescriptor
	Time    time.Time
}

// Validate checks the identity key of an inbound message.
func (m *InboundMessage) Validate() error {
	if m.UserID == "" {
		return ErrEmptyUserID
	}
	if m.Channel == "" {
		return ErrEmptyChannel
	}
	return nil
}

// Profile is the external profile record for a known user. A nil profile is
// the normal outcome for first-time users, not an error.
type Profile struct {
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	Category     UserType  `json:"category"`
	Company      string    `json:"company,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Registration is a completed registration record written by the domain
// write-back layer.
type Registration struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Category  UserType       `json:"category"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
}

// Report is a submitted infrastructure report record.
type Report struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Category  UserType       `json:"category"`
	Fields    map[string]any `json:"fields"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// ReportStatusReceived is the initial status of a freshly submitted report.
const ReportStatusReceived = "received"

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse is the standard JSON envelope for admin endpoints.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result any) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result any) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
