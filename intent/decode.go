package intent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/notewise-ai/notewise/capability"
	"github.com/notewise-ai/notewise/oracle"
)

// The oracle answers in one of two shapes: a structured function call, or
// free text that may itself be a JSON object (older prompt formats), possibly
// wrapped in markdown code fences. normalize folds both into a single tagged
// union at this one boundary so no caller branches on response shape.

type outcomeKind int

const (
	outcomeStructured outcomeKind = iota
	outcomeTextJSON
	outcomeUnparseable
)

// textPayload is the legacy free-text JSON answer shape.
type textPayload struct {
	Intent     string   `json:"intent"`
	School     string   `json:"school,omitempty"`
	Department string   `json:"department,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

type outcome struct {
	kind    outcomeKind
	call    *oracle.FunctionCall
	payload textPayload
}

// Pre-compiled patterns for JSON extraction from fenced oracle text.
var (
	jsonBlockPattern  = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	jsonObjectPattern = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
)

// extractJSON strips markdown code fences from oracle text and returns the
// inner JSON object, or "" when no object is present.
func extractJSON(content string) string {
	if matches := jsonBlockPattern.FindStringSubmatch(content); len(matches) > 1 {
		return matches[1]
	}
	if match := jsonObjectPattern.FindString(content); match != "" {
		return match
	}
	return ""
}

// normalize classifies an oracle response into the tagged union. It is a
// pure function: the same response always yields the same outcome.
func normalize(resp *oracle.GenerateResponse) outcome {
	if call := resp.FunctionCall(); call != nil {
		return outcome{kind: outcomeStructured, call: call}
	}

	raw := extractJSON(resp.Text())
	if raw == "" {
		return outcome{kind: outcomeUnparseable}
	}

	var payload textPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || payload.Intent == "" {
		return outcome{kind: outcomeUnparseable}
	}
	return outcome{kind: outcomeTextJSON, payload: payload}
}

// decode maps a normalized outcome to an intent decision. The decision is
// provisional: the router still re-validates the capability's preconditions
// against the actual request context afterwards.
func decode(resp *oracle.GenerateResponse, reg *capability.Registry) Decision {
	switch out := normalize(resp); out.kind {
	case outcomeStructured:
		d := reg.GetByFunction(out.call.Name)
		if d == nil {
			return Decision{
				Intent:     IntentNone,
				Confidence: 0.2,
				Reasoning:  fmt.Sprintf("Unknown function called: %s", out.call.Name),
			}
		}
		return Decision{
			Intent:     d.ID,
			Parameters: stringArgs(out.call.Args, d),
			Confidence: 0.9,
			Reasoning:  fmt.Sprintf("Oracle called %s", out.call.Name),
		}

	case outcomeTextJSON:
		p := out.payload
		if p.Intent == IntentNone {
			// An explicit no-match signal ranks above silence.
			confidence := 0.5
			if p.Confidence != nil {
				confidence = clamp01(*p.Confidence)
			}
			return Decision{Intent: IntentNone, Confidence: confidence, Reasoning: reasoningOr(p.Reasoning, "Oracle reported no match")}
		}
		d := reg.Get(p.Intent)
		if d == nil {
			return Decision{
				Intent:     IntentNone,
				Confidence: 0.2,
				Reasoning:  fmt.Sprintf("Unknown intent: %s", p.Intent),
			}
		}
		confidence := 0.8
		if p.Confidence != nil {
			confidence = clamp01(*p.Confidence)
		}
		params := map[string]string{}
		// Parameters are carried over only when the oracle produced them,
		// never defaulted.
		if p.School != "" {
			params["school"] = p.School
		}
		if p.Department != "" {
			params["department"] = p.Department
		}
		if len(params) == 0 {
			params = nil
		}
		return Decision{
			Intent:     d.ID,
			Parameters: params,
			Confidence: confidence,
			Reasoning:  reasoningOr(p.Reasoning, fmt.Sprintf("Oracle selected %s", d.ID)),
		}

	default:
		return Decision{Intent: IntentNone, Confidence: 0, Reasoning: "decode failed"}
	}
}

// stringArgs extracts the string-typed arguments declared in the
// capability's schema. Undeclared or non-string args are dropped; absent
// args stay absent.
func stringArgs(args map[string]any, d *capability.Descriptor) map[string]string {
	if len(args) == 0 || d.Parameters == nil {
		return nil
	}
	out := make(map[string]string)
	for name := range d.Parameters.Properties {
		if v, ok := args[name].(string); ok && v != "" {
			out[name] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func reasoningOr(s, fallback string) string {
	if strings.TrimSpace(s) != "" {
		return s
	}
	return fallback
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
