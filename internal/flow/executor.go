package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/civicrelay/civicrelay/internal/models"
)

// ApologyResponse is the only user-visible failure text. It is sent whenever
// a domain write-back or lookup fails behind a handler.
const ApologyResponse = "I'm sorry, something went wrong on our side while handling that. Please try again in a moment."

// ImageRequestResponse asks the user for a photo when an analysis action
// arrives without an attachment.
const ImageRequestResponse = "Could you send a photo of the issue? A clear picture helps us route the report to the right crew."

// ExecStatus describes the outcome of an action handler.
type ExecStatus string

const (
	StatusOK              ExecStatus = "ok"
	StatusCollectingData  ExecStatus = "collecting_data"
	StatusWaitingForImage ExecStatus = "waiting_for_image"
	StatusCompleted       ExecStatus = "completed"
	StatusError           ExecStatus = "error"
)

// ExecResult is what a handler hands back to the engine: the reply text plus
// enough outcome detail for logging. Handlers never return errors; failures
// are folded into the text and status.
type ExecResult struct {
	Text     string
	Action   models.Action
	NextStep string
	Status   ExecStatus
}

// RegistrationService performs the registration write-back and returns a
// reference identifier for the new record.
type RegistrationService interface {
	RegisterEntity(ctx context.Context, userID string, category models.UserType, fields map[string]any) (string, error)
}

// ReportService performs the report submission write-back and returns a
// reference identifier for the new record.
type ReportService interface {
	SubmitRecord(ctx context.Context, userID string, category models.UserType, fields map[string]any) (string, error)
}

// StatusService answers status lookups with a short text summary.
type StatusService interface {
	QueryStatus(ctx context.Context, userID string) (string, error)
}

// MediaAnalyzer describes attached media. The GenAI client satisfies this.
type MediaAnalyzer interface {
	AnalyzeMedia(ctx context.Context, instruction string, media models.MediaDescriptor) (string, error)
}

// requiredRegistrationFields lists the fields that must be present and
// non-empty before a registration write-back is attempted for a category.
func requiredRegistrationFields(category models.UserType) []string {
	switch category {
	case models.UserTypeContractor:
		return []string{"full_name", "license_number", "company_name"}
	case models.UserTypeFieldWorker:
		return []string{"full_name", "license_number"}
	case models.UserTypeCitizen:
		return []string{"full_name", "location"}
	default:
		return []string{"full_name"}
	}
}

type handlerFunc func(ctx context.Context, state *models.ConversationState, decision models.Decision, msg models.InboundMessage) ExecResult

// Executor dispatches validated decisions to their handlers. The table is
// total over the action enumeration; the pipeline's validation makes an
// unknown tag unreachable.
type Executor struct {
	registrations RegistrationService
	reports       ReportService
	status        StatusService
	profiles      ProfileLookup
	analyzer      MediaAnalyzer
	handlers      map[models.Action]handlerFunc
}

// NewExecutor creates an Executor over the given collaborators. Any of them
// may be nil; the corresponding handlers then degrade to the apology reply.
func NewExecutor(registrations RegistrationService, reports ReportService, status StatusService, profiles ProfileLookup, analyzer MediaAnalyzer) *Executor {
	e := &Executor{
		registrations: registrations,
		reports:       reports,
		status:        status,
		profiles:      profiles,
		analyzer:      analyzer,
	}
	e.handlers = map[models.Action]handlerFunc{
		models.ActionAskQuestion:        e.passThrough,
		models.ActionProvideInformation: e.passThrough,
		models.ActionRegisterUser:       e.registerUser,
		models.ActionCollectData:        e.collectData,
		models.ActionAnalyzeImage:       e.analyzeImage,
		models.ActionSubmitReport:       e.submitReport,
		models.ActionCheckStatus:        e.checkStatus,
		models.ActionRedirectUser:       e.redirectUser,
		models.ActionClarifyIntent:      e.passThrough,
		models.ActionEndConversation:    e.passThrough,
	}
	return e
}

// Execute dispatches the decision. The state has already had the decision's
// workflow transition applied; handlers may mutate it further (completion,
// derived fields) and the engine persists it afterwards.
func (e *Executor) Execute(ctx context.Context, state *models.ConversationState, decision models.Decision, msg models.InboundMessage) ExecResult {
	handler, ok := e.handlers[decision.Action]
	if !ok {
		// Unreachable after pipeline validation; kept as a safe default.
		slog.Error("Executor.Execute: no handler for action", "action", decision.Action)
		return ExecResult{Text: decision.Response, Action: decision.Action, NextStep: decision.NextStep, Status: StatusOK}
	}
	result := handler(ctx, state, decision, msg)
	slog.Debug("Executor.Execute: handler finished", "action", decision.Action, "status", result.Status, "userID", state.UserID)
	return result
}

func (e *Executor) passThrough(ctx context.Context, state *models.ConversationState, decision models.Decision, msg models.InboundMessage) ExecResult {
	return ExecResult{Text: decision.Response, Action: decision.Action, NextStep: decision.NextStep, Status: StatusOK}
}

func (e *Executor) collectData(ctx context.Context, state *models.ConversationState, decision models.Decision, msg models.InboundMessage) ExecResult {
	// The extracted fields were already merged into the state by the
	// workflow transition; this handler only reports progress.
	return ExecResult{Text: decision.Response, Action: decision.Action, NextStep: decision.NextStep, Status: StatusCollectingData}
}

// missingFields returns the names in needed that have no non-empty value in
// collected, preserving order.
func missingFields(needed []string, collected map[string]any) []string {
	var missing []string
	for _, field := range needed {
		v, ok := collected[field]
		if !ok {
			missing = append(missing, field)
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

func (e *Executor) registerUser(ctx context.Context, state *models.ConversationState, decision models.Decision, msg models.InboundMessage) ExecResult {
	if missing := missingFields(decision.DataNeeded, state.CollectedData); len(missing) > 0 {
		slog.Debug("Executor.registerUser: fields still missing", "userID", state.UserID, "missing", missing)
		return ExecResult{Text: decision.Response, Action: decision.Action, NextStep: decision.NextStep, Status: StatusCollectingData}
	}

	category := state.Workflow.UserType
	if category == "" || category == models.UserTypeUnclear {
		return ExecResult{
			Text:     "Are you registering as a contractor, a field worker, or a resident?",
			Action:   decision.Action,
			NextStep: decision.NextStep,
			Status:   StatusCollectingData,
		}
	}
	if missing := missingFields(requiredRegistrationFields(category), state.CollectedData); len(missing) > 0 {
		slog.Debug("Executor.registerUser: category requirements unmet", "userID", state.UserID, "category", category, "missing", missing)
		return ExecResult{
			Text:     fmt.Sprintf("Before I can register you, I still need your %s.", strings.Join(missing, " and ")),
			Action:   decision.Action,
			NextStep: decision.NextStep,
			Status:   StatusCollectingData,
		}
	}

	if e.registrations == nil {
		slog.Error("Executor.registerUser: registration service not configured")
		return ExecResult{Text: ApologyResponse, Action: decision.Action, NextStep: decision.NextStep, Status: StatusError}
	}
	ref, err := e.registrations.RegisterEntity(ctx, state.UserID, category, state.CollectedData)
	if err != nil {
		slog.Error("Executor.registerUser: write-back failed", "error", err, "userID", state.UserID, "category", category)
		return ExecResult{Text: ApologyResponse, Action: decision.Action, NextStep: decision.NextStep, Status: StatusError}
	}

	CompleteWorkflow(state)
	text := fmt.Sprintf("%s\n\nYou're all set! Your registration reference is %s.", decision.Response, ref)
	slog.Info("Executor.registerUser: registration completed", "userID", state.UserID, "category", category, "reference", ref)
	return ExecResult{Text: text, Action: decision.Action, NextStep: decision.NextStep, Status: StatusCompleted}
}

// redirectUser points the user at the other line. The registration lookup is
// read-only and only enriches the reply; a lookup failure follows the same
// apology contract as the write-back handlers.
func (e *Executor) redirectUser(ctx context.Context, state *models.ConversationState, decision models.Decision, msg models.InboundMessage) ExecResult {
	if e.profiles == nil {
		slog.Error("Executor.redirectUser: profile lookup not configured")
		return ExecResult{Text: ApologyResponse, Action: decision.Action, NextStep: decision.NextStep, Status: StatusError}
	}
	profile, err := e.profiles.LookupProfile(ctx, state.UserID)
	if err != nil {
		slog.Error("Executor.redirectUser: lookup failed", "error", err, "userID", state.UserID)
		return ExecResult{Text: ApologyResponse, Action: decision.Action, NextStep: decision.NextStep, Status: StatusError}
	}

	hint := "Contractors and field crews are handled on our WhatsApp worker line; message us there and we can pick this right up."
	if msg.Channel == models.ChannelWorker {
		hint = "Residents can report neighborhood issues on our SMS line; text us there and we'll take it from the top."
	}
	if profile != nil {
		hint += " Your existing registration will carry over."
	}

	text := hint
	if decision.Response != "" {
		text = decision.Response + "\n\n" + hint
	}
	return ExecResult{Text: text, Action: decision.Action, NextStep: decision.NextStep, Status: StatusOK}
}

func (e *Executor) analyzeImage(ctx context.Context, state *models.ConversationState, decision models.Decision, msg models.InboundMessage) ExecResult {
	if msg.Media == nil {
		slog.Debug("Executor.analyzeImage: no media attached", "userID", state.UserID)
		return ExecResult{Text: ImageRequestResponse, Action: decision.Action, NextStep: decision.NextStep, Status: StatusWaitingForImage}
	}
	if e.analyzer == nil {
		slog.Error("Executor.analyzeImage: media analyzer not configured")
		return ExecResult{Text: ApologyResponse, Action: decision.Action, NextStep: decision.NextStep, Status: StatusError}
	}

	summary, err := e.analyzer.AnalyzeMedia(ctx, "Describe the infrastructure issue shown in this photo in one or two sentences.", *msg.Media)
	if err != nil {
		slog.Error("Executor.analyzeImage: analysis failed", "error", err, "userID", state.UserID)
		return ExecResult{Text: ApologyResponse, Action: decision.Action, NextStep: decision.NextStep, Status: StatusError}
	}

	state.CollectedData["image_analysis"] = summary
	text := decision.Response
	if text == "" {
		text = "Thanks for the photo."
	}
	text = fmt.Sprintf("%s\n\nWhat I can see: %s", text, summary)
	return ExecResult{Text: text, Action: decision.Action, NextStep: decision.NextStep, Status: StatusOK}
}

func (e *Executor) submitReport(ctx context.Context, state *models.ConversationState, decision models.Decision, msg models.InboundMessage) ExecResult {
	if e.reports == nil {
		slog.Error("Executor.submitReport: report service not configured")
		return ExecResult{Text: ApologyResponse, Action: decision.Action, NextStep: decision.NextStep, Status: StatusError}
	}

	category := state.Workflow.UserType
	if category == "" {
		category = models.UserTypeUnclear
	}
	ref, err := e.reports.SubmitRecord(ctx, state.UserID, category, state.CollectedData)
	if err != nil {
		slog.Error("Executor.submitReport: write-back failed", "error", err, "userID", state.UserID)
		return ExecResult{Text: ApologyResponse, Action: decision.Action, NextStep: decision.NextStep, Status: StatusError}
	}

	CompleteWorkflow(state)
	text := fmt.Sprintf("%s\n\nYour report has been filed. Reference: %s.", decision.Response, ref)
	slog.Info("Executor.submitReport: report submitted", "userID", state.UserID, "reference", ref)
	return ExecResult{Text: text, Action: decision.Action, NextStep: decision.NextStep, Status: StatusCompleted}
}

func (e *Executor) checkStatus(ctx context.Context, state *models.ConversationState, decision models.Decision, msg models.InboundMessage) ExecResult {
	if e.status == nil {
		slog.Error("Executor.checkStatus: status service not configured")
		return ExecResult{Text: ApologyResponse, Action: decision.Action, NextStep: decision.NextStep, Status: StatusError}
	}

	summary, err := e.status.QueryStatus(ctx, state.UserID)
	if err != nil {
		slog.Error("Executor.checkStatus: lookup failed", "error", err, "userID", state.UserID)
		return ExecResult{Text: ApologyResponse, Action: decision.Action, NextStep: decision.NextStep, Status: StatusError}
	}

	text := summary
	if decision.Response != "" {
		text = decision.Response + "\n\n" + summary
	}
	return ExecResult{Text: text, Action: decision.Action, NextStep: decision.NextStep, Status: StatusOK}
}
