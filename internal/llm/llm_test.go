package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prguard/internal/cost"
	"github.com/joescharf/prguard/internal/models"
)

func TestBuildAnalyzePrompt(t *testing.T) {
	system, user := buildAnalyzePrompt("+x = 1")

	assert.Contains(t, system, `{"issues"`)
	assert.Contains(t, system, `"line"`)
	assert.Contains(t, system, `"severity"`)
	assert.Contains(t, system, "ADDED lines")
	assert.Contains(t, user, "```diff\n+x = 1\n```")
}

func TestBuildPatchPrompt(t *testing.T) {
	findings := []models.Finding{
		{Line: 4, Category: models.CategoryIndentation, Explanation: "tab indentation"},
	}
	system, user, err := buildPatchPrompt("+\tx = 1\n", findings)
	require.NoError(t, err)

	assert.Contains(t, system, "unified diff")
	assert.Contains(t, system, "Do NOT change imports")
	assert.Contains(t, user, "+\tx = 1\n```")
	assert.Contains(t, user, `"line": 4`)
	assert.Contains(t, user, `"type": "indentation"`)
	assert.Contains(t, user, "tab indentation")
}

func TestParseIssues(t *testing.T) {
	t.Run("object form", func(t *testing.T) {
		got, err := parseIssues(`{"issues":[
			{"line":3,"type":"indentation","severity":"LOW","comment":" tabs "},
			{"line":0,"type":"style","severity":"low","comment":"no line"},
			{"line":7,"type":"sql injection","severity":"weird","comment":"?"}
		]}`)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, models.Finding{
			Line:        3,
			Category:    models.CategoryIndentation,
			Severity:    models.SeverityLow,
			Explanation: "tabs",
			Origin:      models.OriginAIModel,
		}, got[0])
		assert.Equal(t, models.CategoryOther, got[1].Category)
		assert.Equal(t, models.SeverityMedium, got[1].Severity)
	})

	t.Run("bare array", func(t *testing.T) {
		got, err := parseIssues(`[{"line":1,"type":"security","severity":"high","comment":"x"}]`)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, models.CategorySecurity, got[0].Category)
	})

	t.Run("empty", func(t *testing.T) {
		got, err := parseIssues(`{"issues":[]}`)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := parseIssues("not json")
		assert.ErrorContains(t, err, "parse LLM response")
	})
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("  {\"a\":1}  "))
	assert.Equal(t, "--- a/x\n+++ b/x", stripFences("```diff\n--- a/x\n+++ b/x\n```\n"))
}

func messageResponse(text string, in, out int) map[string]any {
	return map[string]any{
		"id":            "msg_test",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-haiku-4-5-20251001",
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"content":       []map[string]any{{"type": "text", "text": text}},
		"usage":         map[string]any{"input_tokens": in, "output_tokens": out},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", "claude-haiku-4-5-20251001",
		WithMaxTokens(512),
		WithRequestOptions(option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0)),
	)
}

func TestClientAnalyze(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/messages"))
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse(
			"```json\n{\"issues\":[{\"line\":2,\"type\":\"style\",\"severity\":\"low\",\"comment\":\"spacing\"}]}\n```", 120, 30))
	})

	res, err := c.Analyze(context.Background(), "+x  =  1\n")
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, models.CategoryStyle, res.Findings[0].Category)
	assert.Equal(t, models.Usage{PromptTokens: 120, CompletionTokens: 30, TotalTokens: 150}, res.Usage)
	assert.Equal(t, "claude-haiku-4-5-20251001", res.Model)
	assert.EqualValues(t, 512, body["max_tokens"])
}

func TestClientGeneratePatch(t *testing.T) {
	patch := "--- a/app.py\n+++ b/app.py\n@@ -1 +1 @@\n-x  =  1\n+x = 1"
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse(patch, 40, 20))
	})

	res, err := c.GeneratePatch(context.Background(), "+x  =  1\n", []models.Finding{{Line: 1, Category: models.CategoryStyle}})
	require.NoError(t, err)
	assert.Equal(t, patch, res.Patch)
	assert.Equal(t, 60, res.Usage.TotalTokens)
}

func TestClientAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	})

	_, err := c.Analyze(context.Background(), "+x\n")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.HTTPStatus())
	assert.Equal(t, cost.ErrorRateLimit, cost.ClassifyError(err))
}

func TestClientMalformedAnswer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse("I could not review this.", 10, 5))
	})

	res, err := c.Analyze(context.Background(), "+x\n")
	assert.ErrorContains(t, err, "parse LLM response")
	assert.Equal(t, 15, res.Usage.TotalTokens)
}
