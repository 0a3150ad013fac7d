package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/civicrelay/civicrelay/internal/models"
)

func newTestExecutor() (*Executor, *recordingRegistrations, *recordingReports, *scriptedStatus, *mockReasoner) {
	regs := &recordingRegistrations{}
	reports := &recordingReports{}
	status := &scriptedStatus{summary: "Your pothole report from Monday is in progress."}
	analyzer := &mockReasoner{mediaSummary: "a deep pothole in the right lane"}
	profiles := &staticProfiles{}
	return NewExecutor(regs, reports, status, profiles, analyzer), regs, reports, status, analyzer
}

func TestExecutorRegisterUserMissingFields(t *testing.T) {
	e, regs, _, _, _ := newTestExecutor()
	state := models.NewConversationState("user1", models.ChannelWorker)
	decision := models.Decision{
		Action:        models.ActionRegisterUser,
		UserType:      models.UserTypeContractor,
		DataNeeded:    []string{"company_name", "license_number"},
		DataCollected: map[string]any{"company_name": "Acme Builders"},
		Response:      "Great, and what is your license number?",
	}
	ApplyDecision(&state, decision)

	result := e.Execute(context.Background(), &state, decision, models.InboundMessage{UserID: "user1", Channel: models.ChannelWorker})
	if result.Status != StatusCollectingData {
		t.Errorf("Status = %q, want collecting_data", result.Status)
	}
	if result.Text != decision.Response {
		t.Errorf("Text = %q, want decision response unchanged", result.Text)
	}
	if regs.calls != 0 {
		t.Errorf("registration attempted with missing fields: %d calls", regs.calls)
	}
	if state.Workflow.Status != models.WorkflowStatusActive {
		t.Errorf("workflow status = %q, want active", state.Workflow.Status)
	}
}

func TestExecutorRegisterUserContractorGate(t *testing.T) {
	e, regs, _, _, _ := newTestExecutor()
	state := models.NewConversationState("user1", models.ChannelWorker)
	decision := models.Decision{
		Action:        models.ActionRegisterUser,
		UserType:      models.UserTypeContractor,
		DataNeeded:    []string{"full_name", "license_number"},
		DataCollected: map[string]any{"full_name": "Ada Lovelace", "license_number": "L-42"},
		Response:      "Registering you now.",
	}
	ApplyDecision(&state, decision)

	// All decision-listed fields are present, but the contractor category
	// additionally requires a company name.
	result := e.Execute(context.Background(), &state, decision, models.InboundMessage{UserID: "user1", Channel: models.ChannelWorker})
	if result.Status != StatusCollectingData {
		t.Fatalf("Status = %q, want collecting_data", result.Status)
	}
	if !strings.Contains(result.Text, "company_name") {
		t.Errorf("Text = %q, want targeted follow-up naming company_name", result.Text)
	}
	if regs.calls != 0 {
		t.Errorf("registration attempted before category requirements met")
	}
}

func TestExecutorRegisterUserSuccess(t *testing.T) {
	e, regs, _, _, _ := newTestExecutor()
	state := models.NewConversationState("user1", models.ChannelWorker)
	decision := models.Decision{
		Action:   models.ActionRegisterUser,
		UserType: models.UserTypeContractor,
		DataCollected: map[string]any{
			"full_name":      "Ada Lovelace",
			"license_number": "L-42",
			"company_name":   "Acme Builders",
		},
		Response: "Registering you now.",
	}
	ApplyDecision(&state, decision)

	result := e.Execute(context.Background(), &state, decision, models.InboundMessage{UserID: "user1", Channel: models.ChannelWorker})
	if result.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed", result.Status)
	}
	if regs.calls != 1 {
		t.Fatalf("registration calls = %d, want 1", regs.calls)
	}
	if regs.lastCat != models.UserTypeContractor {
		t.Errorf("category = %q, want contractor", regs.lastCat)
	}
	if !strings.Contains(result.Text, "Registering you now.") || !strings.Contains(result.Text, "reg-ref-1") {
		t.Errorf("Text = %q, want response plus success suffix with reference", result.Text)
	}
	if state.Workflow.Status != models.WorkflowStatusCompleted {
		t.Errorf("workflow status = %q, want completed", state.Workflow.Status)
	}
	if state.Workflow.CompletedAt == nil {
		t.Error("CompletedAt not set on completion")
	}
}

func TestExecutorRegisterUserWriteBackFailure(t *testing.T) {
	e, regs, _, _, _ := newTestExecutor()
	regs.err = errors.New("registry unavailable")
	state := models.NewConversationState("user1", models.ChannelWorker)
	decision := models.Decision{
		Action:        models.ActionRegisterUser,
		UserType:      models.UserTypeFieldWorker,
		DataCollected: map[string]any{"full_name": "Ada", "license_number": "L-42"},
		Response:      "Registering you now.",
	}
	ApplyDecision(&state, decision)

	result := e.Execute(context.Background(), &state, decision, models.InboundMessage{UserID: "user1", Channel: models.ChannelWorker})
	if result.Status != StatusError {
		t.Errorf("Status = %q, want error", result.Status)
	}
	if result.Text != ApologyResponse {
		t.Errorf("Text = %q, want fixed apology", result.Text)
	}
	if state.Workflow.Status != models.WorkflowStatusActive {
		t.Errorf("workflow status = %q, want active for retry on next turn", state.Workflow.Status)
	}
}

func TestExecutorRegisterUserUnclearCategory(t *testing.T) {
	e, regs, _, _, _ := newTestExecutor()
	state := models.NewConversationState("user1", models.ChannelWorker)
	decision := models.Decision{
		Action:        models.ActionRegisterUser,
		UserType:      models.UserTypeUnclear,
		DataCollected: map[string]any{"full_name": "Ada"},
		Response:      "On it.",
	}
	ApplyDecision(&state, decision)

	result := e.Execute(context.Background(), &state, decision, models.InboundMessage{UserID: "user1", Channel: models.ChannelWorker})
	if result.Status != StatusCollectingData {
		t.Errorf("Status = %q, want collecting_data when category unclear", result.Status)
	}
	if regs.calls != 0 {
		t.Errorf("registration attempted with unclear category")
	}
}

func TestExecutorCollectData(t *testing.T) {
	e, _, _, _, _ := newTestExecutor()
	state := models.NewConversationState("user1", models.ChannelCitizen)
	decision := models.Decision{
		Action:        models.ActionCollectData,
		DataCollected: map[string]any{"location": "5th Ave and Main"},
		Response:      "Got it. What kind of issue is it?",
	}
	ApplyDecision(&state, decision)

	result := e.Execute(context.Background(), &state, decision, models.InboundMessage{UserID: "user1", Channel: models.ChannelCitizen})
	if result.Status != StatusCollectingData {
		t.Errorf("Status = %q, want collecting_data", result.Status)
	}
	if result.Text != decision.Response {
		t.Errorf("Text = %q, want response verbatim", result.Text)
	}
	if state.CollectedData["location"] != "5th Ave and Main" {
		t.Errorf("CollectedData = %+v, want location persisted", state.CollectedData)
	}
	if state.Workflow.Status != models.WorkflowStatusActive {
		t.Errorf("collect_data must not complete the workflow")
	}
}

func TestExecutorAnalyzeImageWithoutMedia(t *testing.T) {
	e, _, _, _, _ := newTestExecutor()
	state := models.NewConversationState("user1", models.ChannelCitizen)
	decision := models.Decision{Action: models.ActionAnalyzeImage, Response: "Let me take a look."}
	ApplyDecision(&state, decision)

	result := e.Execute(context.Background(), &state, decision, models.InboundMessage{UserID: "user1", Channel: models.ChannelCitizen})
	if result.Status != StatusWaitingForImage {
		t.Errorf("Status = %q, want waiting_for_image", result.Status)
	}
	if result.Text != ImageRequestResponse {
		t.Errorf("Text = %q, want image request", result.Text)
	}
}

func TestExecutorAnalyzeImageWithMedia(t *testing.T) {
	e, _, _, _, _ := newTestExecutor()
	state := models.NewConversationState("user1", models.ChannelCitizen)
	decision := models.Decision{Action: models.ActionAnalyzeImage, Response: "Thanks for the photo."}
	ApplyDecision(&state, decision)

	msg := models.InboundMessage{
		UserID:  "user1",
		Channel: models.ChannelCitizen,
		Media:   &models.MediaDescriptor{Type: "image", Reference: "https://example.org/1.jpg"},
	}
	result := e.Execute(context.Background(), &state, decision, msg)
	if result.Status != StatusOK {
		t.Fatalf("Status = %q, want ok", result.Status)
	}
	if !strings.Contains(result.Text, "a deep pothole in the right lane") {
		t.Errorf("Text = %q, want analysis summary appended", result.Text)
	}
	if state.CollectedData["image_analysis"] != "a deep pothole in the right lane" {
		t.Errorf("CollectedData = %+v, want image_analysis recorded", state.CollectedData)
	}
}

func TestExecutorSubmitReportSuccess(t *testing.T) {
	e, _, reports, _, _ := newTestExecutor()
	state := models.NewConversationState("user1", models.ChannelCitizen)
	decision := models.Decision{
		Action:        models.ActionSubmitReport,
		UserType:      models.UserTypeCitizen,
		DataCollected: map[string]any{"issue_type": "pothole", "location": "5th Ave"},
		Response:      "Submitting your report.",
	}
	ApplyDecision(&state, decision)

	result := e.Execute(context.Background(), &state, decision, models.InboundMessage{UserID: "user1", Channel: models.ChannelCitizen})
	if result.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed", result.Status)
	}
	if reports.calls != 1 {
		t.Errorf("submission calls = %d, want 1", reports.calls)
	}
	if !strings.Contains(result.Text, "report-ref-1") {
		t.Errorf("Text = %q, want reference in suffix", result.Text)
	}
	if state.Workflow.Status != models.WorkflowStatusCompleted {
		t.Errorf("workflow status = %q, want completed", state.Workflow.Status)
	}
}

func TestExecutorSubmitReportFailure(t *testing.T) {
	e, _, reports, _, _ := newTestExecutor()
	reports.err = errors.New("queue full")
	state := models.NewConversationState("user1", models.ChannelCitizen)
	decision := models.Decision{Action: models.ActionSubmitReport, Response: "Submitting."}
	ApplyDecision(&state, decision)

	result := e.Execute(context.Background(), &state, decision, models.InboundMessage{UserID: "user1", Channel: models.ChannelCitizen})
	if result.Status != StatusError {
		t.Errorf("Status = %q, want error", result.Status)
	}
	if result.Text != ApologyResponse {
		t.Errorf("Text = %q, want fixed apology", result.Text)
	}
}

func TestExecutorCheckStatus(t *testing.T) {
	e, _, _, _, _ := newTestExecutor()
	state := models.NewConversationState("user1", models.ChannelCitizen)
	decision := models.Decision{Action: models.ActionCheckStatus, Response: "Here is what I found:"}
	ApplyDecision(&state, decision)

	result := e.Execute(context.Background(), &state, decision, models.InboundMessage{UserID: "user1", Channel: models.ChannelCitizen})
	if result.Status != StatusOK {
		t.Fatalf("Status = %q, want ok", result.Status)
	}
	if !strings.Contains(result.Text, "in progress") {
		t.Errorf("Text = %q, want status summary included", result.Text)
	}
}

func TestExecutorCheckStatusFailure(t *testing.T) {
	regs := &recordingRegistrations{}
	reports := &recordingReports{}
	status := &scriptedStatus{err: errors.New("lookup failed")}
	e := NewExecutor(regs, reports, status, &staticProfiles{}, &mockReasoner{})

	state := models.NewConversationState("user1", models.ChannelCitizen)
	decision := models.Decision{Action: models.ActionCheckStatus, Response: "Checking."}
	ApplyDecision(&state, decision)

	result := e.Execute(context.Background(), &state, decision, models.InboundMessage{UserID: "user1", Channel: models.ChannelCitizen})
	if result.Status != StatusError {
		t.Errorf("Status = %q, want error", result.Status)
	}
	if result.Text != ApologyResponse {
		t.Errorf("Text = %q, want fixed apology", result.Text)
	}
}

func TestExecutorPassThroughActions(t *testing.T) {
	e, regs, reports, _, _ := newTestExecutor()
	for _, action := range []models.Action{
		models.ActionAskQuestion,
		models.ActionProvideInformation,
		models.ActionClarifyIntent,
		models.ActionEndConversation,
	} {
		state := models.NewConversationState("user1", models.ChannelCitizen)
		decision := models.Decision{Action: action, Response: "pass-through reply"}
		ApplyDecision(&state, decision)

		result := e.Execute(context.Background(), &state, decision, models.InboundMessage{UserID: "user1", Channel: models.ChannelCitizen})
		if result.Status != StatusOK {
			t.Errorf("%s: Status = %q, want ok", action, result.Status)
		}
		if result.Text != "pass-through reply" {
			t.Errorf("%s: Text = %q, want response unchanged", action, result.Text)
		}
	}
	if regs.calls != 0 || reports.calls != 0 {
		t.Errorf("pass-through actions triggered side effects: regs=%d reports=%d", regs.calls, reports.calls)
	}
}

func TestExecutorRedirectUser(t *testing.T) {
	e, _, _, _, _ := newTestExecutor()
	state := models.NewConversationState("user1", models.ChannelCitizen)
	decision := models.Decision{Action: models.ActionRedirectUser, Response: "It sounds like you work on road crews."}
	ApplyDecision(&state, decision)

	result := e.Execute(context.Background(), &state, decision, models.InboundMessage{UserID: "user1", Channel: models.ChannelCitizen})
	if result.Status != StatusOK {
		t.Fatalf("Status = %q, want ok", result.Status)
	}
	if !strings.Contains(result.Text, "worker line") {
		t.Errorf("Text = %q, want worker line redirect from the citizen channel", result.Text)
	}
	if !strings.Contains(result.Text, decision.Response) {
		t.Errorf("Text = %q, want decision response preserved", result.Text)
	}
}

func TestExecutorRedirectUserMentionsExistingRegistration(t *testing.T) {
	regs := &recordingRegistrations{}
	reports := &recordingReports{}
	status := &scriptedStatus{}
	profiles := &staticProfiles{profiles: map[string]*models.Profile{
		"user1": {Name: "Ada Lovelace"},
	}}
	e := NewExecutor(regs, reports, status, profiles, &mockReasoner{})

	state := models.NewConversationState("user1", models.ChannelWorker)
	decision := models.Decision{Action: models.ActionRedirectUser}
	ApplyDecision(&state, decision)

	result := e.Execute(context.Background(), &state, decision, models.InboundMessage{UserID: "user1", Channel: models.ChannelWorker})
	if !strings.Contains(result.Text, "SMS line") {
		t.Errorf("Text = %q, want SMS line redirect from the worker channel", result.Text)
	}
	if !strings.Contains(result.Text, "registration will carry over") {
		t.Errorf("Text = %q, want existing registration mentioned", result.Text)
	}
}

func TestExecutorRedirectUserLookupFailure(t *testing.T) {
	profiles := &staticProfiles{err: errors.New("registry down")}
	e := NewExecutor(&recordingRegistrations{}, &recordingReports{}, &scriptedStatus{}, profiles, &mockReasoner{})

	state := models.NewConversationState("user1", models.ChannelCitizen)
	decision := models.Decision{Action: models.ActionRedirectUser, Response: "Redirecting."}
	ApplyDecision(&state, decision)

	result := e.Execute(context.Background(), &state, decision, models.InboundMessage{UserID: "user1", Channel: models.ChannelCitizen})
	if result.Status != StatusError {
		t.Errorf("Status = %q, want error", result.Status)
	}
	if result.Text != ApologyResponse {
		t.Errorf("Text = %q, want fixed apology", result.Text)
	}
}

func TestExecutorTableCoversEnumeration(t *testing.T) {
	e, _, _, _, _ := newTestExecutor()
	for _, action := range models.AllActions {
		if _, ok := e.handlers[action]; !ok {
			t.Errorf("no handler registered for action %q", action)
		}
	}
}
