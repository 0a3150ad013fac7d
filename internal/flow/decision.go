package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/civicrelay/civicrelay/internal/genai"
	"github.com/civicrelay/civicrelay/internal/models"
)

// FallbackResponse is the reply sent when the provider output cannot be
// turned into a valid decision.
const FallbackResponse = "I'm sorry, I didn't quite catch that. Could you tell me a bit more about what you need help with?"

// ErrNoDecisionFound indicates none of the extraction strategies located a
// JSON object in the provider output.
var ErrNoDecisionFound = errors.New("no decision object found in provider output")

// DecisionPipeline turns an assembled reasoning context into a validated
// decision. Provider failures and malformed output both degrade to the
// deterministic fallback decision; the pipeline never fails the turn.
type DecisionPipeline struct {
	client genai.ClientInterface
}

// NewDecisionPipeline creates a DecisionPipeline over the given provider.
func NewDecisionPipeline(client genai.ClientInterface) *DecisionPipeline {
	return &DecisionPipeline{client: client}
}

// Decide runs one reasoning call and returns the extracted decision, or the
// fallback when the call fails, output is unparseable, or validation rejects
// the candidate.
func (p *DecisionPipeline) Decide(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) models.Decision {
	raw, err := p.client.GenerateWithMessages(ctx, messages)
	if err != nil {
		slog.Warn("DecisionPipeline.Decide: provider call failed, using fallback", "error", err)
		return FallbackDecision()
	}

	decision, err := ExtractDecision(raw)
	if err != nil {
		slog.Warn("DecisionPipeline.Decide: extraction failed, using fallback", "error", err, "outputLength", len(raw))
		return FallbackDecision()
	}
	if err := decision.Validate(); err != nil {
		slog.Warn("DecisionPipeline.Decide: validation failed, using fallback", "error", err, "action", decision.Action)
		return FallbackDecision()
	}

	slog.Debug("DecisionPipeline.Decide: decision extracted", "action", decision.Action, "intent", decision.Intent, "confidence", decision.Confidence)
	return decision
}

// FallbackDecision is the deterministic decision used when no valid decision
// can be extracted from the provider output.
func FallbackDecision() models.Decision {
	return models.Decision{
		Understanding: "unable to interpret the provider output",
		UserType:      models.UserTypeUnclear,
		Intent:        models.IntentOther,
		Confidence:    0.5,
		Action:        models.ActionAskQuestion,
		Response:      FallbackResponse,
		Reasoning:     "provider output could not be parsed into a decision",
	}
}

// ExtractDecision locates and decodes the decision object in raw provider
// output. Strategies run in order: the whole output as JSON, then the first
// fenced code block, then the first balanced brace span. The first strategy
// that yields syntactically valid JSON wins; later strategies are not
// consulted to repair a semantically invalid decision.
func ExtractDecision(raw string) (models.Decision, error) {
	for _, extract := range []func(string) (string, bool){extractDirect, extractFenced, extractBalanced} {
		candidate, ok := extract(raw)
		if !ok {
			continue
		}
		var decision models.Decision
		if err := json.Unmarshal([]byte(candidate), &decision); err != nil {
			continue
		}
		return decision, nil
	}
	return models.Decision{}, fmt.Errorf("%w: %q", ErrNoDecisionFound, truncate(raw, 120))
}

// extractDirect treats the whole trimmed output as the candidate.
func extractDirect(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return "", false
	}
	return trimmed, true
}

// extractFenced pulls the body of the first ``` fenced block, tolerating a
// language tag after the opening fence.
func extractFenced(raw string) (string, bool) {
	start := strings.Index(raw, "```")
	if start < 0 {
		return "", false
	}
	rest := raw[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest[:nl], "{") {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	body := strings.TrimSpace(rest[:end])
	if body == "" {
		return "", false
	}
	return body, true
}

// extractBalanced scans for the first balanced top-level brace span,
// tracking string literals so braces inside values do not miscount.
func extractBalanced(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return raw[start : i+1], true
				}
			}
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
