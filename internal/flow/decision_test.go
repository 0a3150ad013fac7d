package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"

	"github.com/civicrelay/civicrelay/internal/models"
)

func TestExtractDecisionDirect(t *testing.T) {
	raw := `{"action": "register_user", "confidence": 0.9, "intent": "registration", "response": "Let's get you registered."}`
	decision, err := ExtractDecision(raw)
	if err != nil {
		t.Fatalf("ExtractDecision() error = %v", err)
	}
	if decision.Action != models.ActionRegisterUser {
		t.Errorf("Action = %q, want register_user", decision.Action)
	}
	if decision.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", decision.Confidence)
	}
}

func TestExtractDecisionFencedBlock(t *testing.T) {
	raw := "Here is my decision:\n```json\n{\"action\": \"ask_question\", \"confidence\": 0.8, \"response\": \"What is your name?\"}\n```\nLet me know."
	decision, err := ExtractDecision(raw)
	if err != nil {
		t.Fatalf("ExtractDecision() error = %v", err)
	}
	if decision.Action != models.ActionAskQuestion {
		t.Errorf("Action = %q, want ask_question", decision.Action)
	}
	if decision.Response != "What is your name?" {
		t.Errorf("Response = %q", decision.Response)
	}
}

func TestExtractDecisionFencedBlockNoLanguageTag(t *testing.T) {
	raw := "```\n{\"action\": \"collect_data\", \"confidence\": 0.7}\n```"
	decision, err := ExtractDecision(raw)
	if err != nil {
		t.Fatalf("ExtractDecision() error = %v", err)
	}
	if decision.Action != models.ActionCollectData {
		t.Errorf("Action = %q, want collect_data", decision.Action)
	}
}

func TestExtractDecisionBalancedSpanInProse(t *testing.T) {
	raw := `Sure! Based on the conversation I decided {"action": "check_status", "confidence": 0.85, "response": "Here is your status: {pending}"} which seemed right.`
	decision, err := ExtractDecision(raw)
	if err != nil {
		t.Fatalf("ExtractDecision() error = %v", err)
	}
	if decision.Action != models.ActionCheckStatus {
		t.Errorf("Action = %q, want check_status", decision.Action)
	}
	if decision.Response != "Here is your status: {pending}" {
		t.Errorf("Response = %q, braces inside strings must not break the scan", decision.Response)
	}
}

func TestExtractDecisionGarbage(t *testing.T) {
	for _, raw := range []string{
		"",
		"I could not decide anything, sorry.",
		"{not json at all",
		"``` incomplete fence",
	} {
		if _, err := ExtractDecision(raw); err == nil {
			t.Errorf("ExtractDecision(%q) error = nil, want extraction failure", raw)
		} else if !errors.Is(err, ErrNoDecisionFound) {
			t.Errorf("ExtractDecision(%q) error = %v, want ErrNoDecisionFound", raw, err)
		}
	}
}

func TestDecidePrefersValidOutput(t *testing.T) {
	reasoner := &mockReasoner{response: `{"action": "provide_information", "confidence": 0.95, "response": "Office hours are 9 to 5."}`}
	p := NewDecisionPipeline(reasoner)

	decision := p.Decide(context.Background(), []openai.ChatCompletionMessageParamUnion{openai.UserMessage("when are you open?")})
	if decision.Action != models.ActionProvideInformation {
		t.Errorf("Action = %q, want provide_information", decision.Action)
	}
	if reasoner.calls != 1 {
		t.Errorf("provider called %d times, want 1", reasoner.calls)
	}
}

func TestDecideFallbackOnProviderError(t *testing.T) {
	p := NewDecisionPipeline(&mockReasoner{err: errors.New("timeout")})

	decision := p.Decide(context.Background(), []openai.ChatCompletionMessageParamUnion{openai.UserMessage("hello")})
	if decision.Action != models.ActionAskQuestion {
		t.Errorf("fallback Action = %q, want ask_question", decision.Action)
	}
	if decision.Confidence != 0.5 {
		t.Errorf("fallback Confidence = %v, want 0.5", decision.Confidence)
	}
	if decision.Intent != models.IntentOther {
		t.Errorf("fallback Intent = %q, want other", decision.Intent)
	}
	if decision.Response != FallbackResponse {
		t.Errorf("fallback Response = %q", decision.Response)
	}
}

func TestDecideFallbackOnInvalidAction(t *testing.T) {
	p := NewDecisionPipeline(&mockReasoner{response: `{"action": "launch_rocket", "confidence": 0.9}`})

	decision := p.Decide(context.Background(), []openai.ChatCompletionMessageParamUnion{openai.UserMessage("hello")})
	if decision.Action != models.ActionAskQuestion {
		t.Errorf("Action = %q, want fallback ask_question for unknown action", decision.Action)
	}
}

func TestDecideFallbackOnConfidenceOutOfRange(t *testing.T) {
	p := NewDecisionPipeline(&mockReasoner{response: `{"action": "ask_question", "confidence": 1.7}`})

	decision := p.Decide(context.Background(), []openai.ChatCompletionMessageParamUnion{openai.UserMessage("hello")})
	if decision.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want fallback 0.5", decision.Confidence)
	}
}

func TestDecideEnumerationClosure(t *testing.T) {
	outputs := []string{
		`{"action": "end_conversation", "confidence": 1, "response": "Bye!"}`,
		"```json\n{\"action\": \"redirect_user\", \"confidence\": 0.6}\n```",
		`I think {"action": "clarify_intent", "confidence": 0.4} fits best here.`,
		"complete nonsense with no JSON whatsoever",
		`{"action": "", "confidence": 0.5}`,
	}
	for _, raw := range outputs {
		p := NewDecisionPipeline(&mockReasoner{response: raw})
		decision := p.Decide(context.Background(), []openai.ChatCompletionMessageParamUnion{openai.UserMessage("hi")})
		if !models.IsValidAction(decision.Action) {
			t.Errorf("Decide() for %q produced action %q outside the enumeration", raw, decision.Action)
		}
	}
}

func TestFallbackDecisionShape(t *testing.T) {
	d := FallbackDecision()
	if err := d.Validate(); err != nil {
		t.Fatalf("FallbackDecision().Validate() error = %v", err)
	}
	if len(d.DataNeeded) != 0 || len(d.DataCollected) != 0 {
		t.Errorf("fallback carries data fields: needed=%v collected=%v", d.DataNeeded, d.DataCollected)
	}
}
