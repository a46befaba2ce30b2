package gemini

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizzyg/weatheragent/internal/config"
	"github.com/lizzyg/weatheragent/internal/core"
)

// testLogger returns a logger that discards output for testing
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewClient(t *testing.T) {
	c := New(config.ModelConfig{APIKey: "test", Model: "gemini-2.0-flash-exp"}, &http.Client{}, nil)
	require.NotNil(t, c)
	assert.Equal(t, defaultBaseURL, c.baseURL)
}

func TestMapMessages(t *testing.T) {
	msgs := []core.Message{
		{Role: "system", Content: "ignored here"},
		{Role: "user", Content: "weather in Paris?"},
		{Role: "assistant", ToolCalls: []core.ToolCall{{CallID: "c1", Name: "get_lat_lng", Args: json.RawMessage(`{"location_description":"Paris"}`)}}},
		{Role: "tool", ToolResults: []core.ToolResult{
			{CallID: "c1", Name: "get_lat_lng", Content: `{"lat":48.85,"lng":2.35}`},
			{CallID: "c2", Name: "get_aqi", Content: "boom\n\nFix the errors and try again.", IsError: true},
		}},
	}
	got := mapMessages(msgs)
	require.Len(t, got, 3)

	assert.Equal(t, "user", got[0].Role)
	assert.Equal(t, "weather in Paris?", got[0].Parts[0].Text)

	assert.Equal(t, "model", got[1].Role)
	require.NotNil(t, got[1].Parts[0].FunctionCall)
	assert.Equal(t, "get_lat_lng", got[1].Parts[0].FunctionCall.Name)
	assert.JSONEq(t, `{"location_description":"Paris"}`, string(got[1].Parts[0].FunctionCall.Args))

	assert.Equal(t, "user", got[2].Role)
	require.Len(t, got[2].Parts, 2)
	assert.Equal(t, map[string]any{"result": map[string]any{"lat": 48.85, "lng": 2.35}}, got[2].Parts[0].FunctionResponse.Response)
	assert.Equal(t, map[string]any{"error": "boom\n\nFix the errors and try again."}, got[2].Parts[1].FunctionResponse.Response)
}

func TestMapMessagesEmptyPrompt(t *testing.T) {
	got := mapMessages([]core.Message{{Role: "user"}})
	require.Len(t, got, 1)
	require.Len(t, got[0].Parts, 1)
	assert.NotEmpty(t, got[0].Parts[0].Text)
}

func TestBuildRequest(t *testing.T) {
	schema := `{"type":"object","properties":{"name":{"type":"string"}},"required":["name"],"additionalProperties":false}`

	t.Run("tools suppress json mode", func(t *testing.T) {
		req := buildRequest(core.CallParams{
			System:       "be brief",
			Messages:     []core.Message{{Role: "user", Content: "hi"}},
			ToolDefs:     []core.ToolDef{{Name: "lookup", Description: "d", JSONSchema: schema}},
			OutputSchema: schema,
		})
		require.NotNil(t, req.SystemInstruction)
		assert.Equal(t, "be brief", req.SystemInstruction.Parts[0].Text)
		require.Len(t, req.Tools, 1)
		decl := req.Tools[0].FunctionDeclarations[0]
		assert.Equal(t, "lookup", decl.Name)
		assert.NotContains(t, decl.Parameters, "additionalProperties")
		assert.Nil(t, req.GenerationConfig)
	})

	t.Run("json mode without tools", func(t *testing.T) {
		req := buildRequest(core.CallParams{
			Messages:     []core.Message{{Role: "user", Content: "hi"}},
			OutputSchema: schema,
			MaxTokens:    256,
		})
		assert.Equal(t, "application/json", req.GenerationConfig["responseMimeType"])
		assert.NotNil(t, req.GenerationConfig["responseSchema"])
		assert.Equal(t, 256, req.GenerationConfig["maxOutputTokens"])
	})
}

func TestCallParsesFunctionCalls(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"candidates": [{"content": {"role": "model", "parts": [
				{"text": "Looking up. "},
				{"functionCall": {"name": "get_lat_lng", "args": {"location_description": "Paris"}}}
			]}}],
			"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15}
		}`)
	}))
	defer srv.Close()

	c := New(config.ModelConfig{APIKey: "k", Model: "gemini-2.0-flash-exp", BaseURL: srv.URL}, srv.Client(), testLogger())
	resp, err := c.Call(context.Background(), core.CallParams{Messages: []core.Message{{Role: "user", Content: "Paris"}}})
	require.NoError(t, err)

	assert.Equal(t, "/models/gemini-2.0-flash-exp:generateContent", gotPath)
	assert.Equal(t, "k", gotKey)
	assert.Equal(t, "Looking up. ", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "get_lat_lng", resp.ToolCalls[0].Name)
	assert.NotEmpty(t, resp.ToolCalls[0].CallID)
	assert.Equal(t, core.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, resp.Usage)
}

func TestCallRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
	}))
	defer srv.Close()

	c := New(config.ModelConfig{APIKey: "k", Model: "m", BaseURL: srv.URL}, srv.Client(), testLogger())
	resp, err := c.Call(context.Background(), core.CallParams{Messages: []core.Message{{Role: "user", Content: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.EqualValues(t, 2, calls.Load())
}

func TestCallClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"API key not valid"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(config.ModelConfig{APIKey: "bad", Model: "m", BaseURL: srv.URL}, srv.Client(), testLogger())
	_, err := c.Call(context.Background(), core.CallParams{Messages: []core.Message{{Role: "user", Content: "x"}}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "gemini http 400"), err.Error())
	assert.EqualValues(t, 1, calls.Load())
}

func TestParseResponseBlocked(t *testing.T) {
	var gr generateResponse
	require.NoError(t, json.Unmarshal([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`), &gr))
	_, err := parseResponse(gr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
}
