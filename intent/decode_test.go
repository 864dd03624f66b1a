package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notewise-ai/notewise/capability"
	"github.com/notewise-ai/notewise/oracle"
)

func callResponse(name string, args map[string]any) *oracle.GenerateResponse {
	return &oracle.GenerateResponse{
		Candidates: []oracle.Candidate{{
			Content: oracle.Content{Parts: []oracle.Part{{
				FunctionCall: &oracle.FunctionCall{Name: name, Args: args},
			}}},
		}},
	}
}

func textResponse(text string) *oracle.GenerateResponse {
	return &oracle.GenerateResponse{
		Candidates: []oracle.Candidate{{
			Content: oracle.Content{Parts: []oracle.Part{{Text: text}}},
		}},
	}
}

func TestDecodeStructuredCall(t *testing.T) {
	reg := capability.DefaultRegistry()

	d := decode(callResponse("generate_test", nil), reg)
	assert.Equal(t, "test", d.Intent)
	assert.Equal(t, 0.9, d.Confidence)
}

func TestDecodeUnknownFunction(t *testing.T) {
	reg := capability.DefaultRegistry()

	d := decode(callResponse("foo", nil), reg)
	assert.Equal(t, IntentNone, d.Intent)
	assert.Equal(t, "Unknown function called: foo", d.Reasoning)
	assert.Equal(t, 0.2, d.Confidence)
}

func TestDecodeStructuredArgs(t *testing.T) {
	reg := capability.DefaultRegistry()

	d := decode(callResponse("search_courses", map[string]any{
		"school":  "MIT",
		"ranking": 1, // non-string, undeclared type: dropped
	}), reg)
	assert.Equal(t, "course_search", d.Intent)
	assert.Equal(t, map[string]string{"school": "MIT"}, d.Parameters)
	// department was never extracted, so it must stay absent.
	_, present := d.Parameters["department"]
	assert.False(t, present)
}

func TestDecodeFencedTextJSON(t *testing.T) {
	reg := capability.DefaultRegistry()

	d := decode(textResponse("```json\n{\"intent\":\"course_search\",\"school\":\"MIT\",\"department\":\"CS\"}\n```"), reg)
	assert.Equal(t, "course_search", d.Intent)
	assert.Equal(t, "MIT", d.Parameters["school"])
	assert.Equal(t, "CS", d.Parameters["department"])
}

func TestDecodePlainTextJSON(t *testing.T) {
	reg := capability.DefaultRegistry()

	d := decode(textResponse(`{"intent":"course_search","confidence":0.7,"reasoning":"user wants courses"}`), reg)
	assert.Equal(t, "course_search", d.Intent)
	assert.Equal(t, 0.7, d.Confidence)
	assert.Equal(t, "user wants courses", d.Reasoning)
	assert.Nil(t, d.Parameters)
}

func TestDecodeExplicitNoMatch(t *testing.T) {
	reg := capability.DefaultRegistry()

	// An explicit "none" ranks above silence: confidence 0.5, not 0.
	d := decode(textResponse(`{"intent":"none"}`), reg)
	assert.Equal(t, IntentNone, d.Intent)
	assert.Equal(t, 0.5, d.Confidence)
}

func TestDecodeUnknownTextIntent(t *testing.T) {
	reg := capability.DefaultRegistry()

	d := decode(textResponse(`{"intent":"order_pizza"}`), reg)
	assert.Equal(t, IntentNone, d.Intent)
	assert.Equal(t, 0.2, d.Confidence)
}

func TestDecodeMalformedIsIdempotent(t *testing.T) {
	reg := capability.DefaultRegistry()

	for _, text := range []string{
		"I think you might want a test?",
		"```json\n{broken",
		"",
	} {
		first := decode(textResponse(text), reg)
		second := decode(textResponse(text), reg)

		require.Equal(t, first, second, "text %q", text)
		assert.Equal(t, IntentNone, first.Intent)
		assert.Equal(t, 0.0, first.Confidence)
		assert.Equal(t, "decode failed", first.Reasoning)
	}
}

func TestDecodeEmptyResponse(t *testing.T) {
	reg := capability.DefaultRegistry()

	d := decode(&oracle.GenerateResponse{}, reg)
	assert.Equal(t, IntentNone, d.Intent)
	assert.Equal(t, 0.0, d.Confidence)
	assert.Equal(t, "decode failed", d.Reasoning)
}

func TestDecodeConfidenceClamped(t *testing.T) {
	reg := capability.DefaultRegistry()

	d := decode(textResponse(`{"intent":"course_search","confidence":3.5}`), reg)
	assert.Equal(t, 1.0, d.Confidence)
}
