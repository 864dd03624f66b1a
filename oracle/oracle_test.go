package oracle

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notewise-ai/notewise/capability"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-model", "test-key", slog.Default())
}

func TestGenerateStructuredCall(t *testing.T) {
	var gotBody generateContentRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_ = json.NewEncoder(w).Encode(GenerateResponse{
			Candidates: []Candidate{{
				Content: Content{Parts: []Part{{
					FunctionCall: &FunctionCall{
						Name: "generate_test",
						Args: map[string]any{"confidence": 0.9},
					},
				}}},
			}},
			UsageMetadata: UsageMetadata{TotalTokenCount: 321},
		})
	})

	resp, err := c.Generate(context.Background(), GenerateRequest{
		Prompt:          "classify this",
		Declarations:    capability.DefaultRegistry().FunctionDeclarations(),
		Temperature:     0.1,
		MaxOutputTokens: 256,
	})
	require.NoError(t, err)

	call := resp.FunctionCall()
	require.NotNil(t, call)
	assert.Equal(t, "generate_test", call.Name)
	assert.Equal(t, int64(321), resp.UsageMetadata.TotalTokenCount)

	// Declarations and sampling config made it onto the wire.
	require.Len(t, gotBody.Tools, 1)
	assert.Len(t, gotBody.Tools[0].FunctionDeclarations, 3)
	require.NotNil(t, gotBody.GenerationConfig)
	assert.Equal(t, 0.1, gotBody.GenerationConfig.Temperature)
	assert.Equal(t, 256, gotBody.GenerationConfig.MaxOutputTokens)
}

func TestGenerateTextResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(GenerateResponse{
			Candidates: []Candidate{{
				Content: Content{Parts: []Part{
					{Text: "hello "},
					{Text: "world"},
				}},
			}},
		})
	})

	resp, err := c.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Nil(t, resp.FunctionCall())
	assert.Equal(t, "hello world", resp.Text())
}

func TestGeneratePermissionDenied(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "IAM says no"}`, http.StatusForbidden)
	})

	_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestGenerateStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
}

func TestGenerateRespectsContextDeadline(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Generate(ctx, GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
