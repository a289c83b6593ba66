package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) Client {
	return NewClient("test-key", WithBaseURL(baseURL))
}

func TestSDKClient_CreateMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":   "msg_test_001",
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": "Hello from test"},
			},
			"model":       "claude-sonnet-4-5-20250929",
			"stop_reason": "end_turn",
			"usage": map[string]any{
				"input_tokens":                10,
				"output_tokens":               5,
				"cache_creation_input_tokens": 0,
				"cache_read_input_tokens":     0,
			},
		})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		Messages:  []Message{{Role: "user", Content: "Hello"}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "msg_test_001", resp.ID)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "Hello from test", resp.Text())
	assert.Equal(t, int64(10), resp.Usage.InputTokens)
	assert.Equal(t, int64(5), resp.Usage.OutputTokens)
}

func TestSDKClient_CreateMessage_WithSystemAndTemp(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.InDelta(t, 0.2, body["temperature"], 0.0001)
		assert.NotEmpty(t, body["system"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":          "msg_sys",
			"type":        "message",
			"role":        "assistant",
			"content":     []map[string]any{{"type": "text", "text": "{}"}},
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": "end_turn",
			"usage": map[string]any{
				"input_tokens":                50,
				"output_tokens":               3,
				"cache_creation_input_tokens": 5000,
				"cache_read_input_tokens":     0,
			},
		})
	}))
	defer ts.Close()

	temp := 0.2
	client := newTestClient(ts.URL)
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   128,
		System:      CachedSystem("Classify review sentiment."),
		Messages:    []Message{{Role: "user", Content: "Great food"}},
		Temperature: &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_sys", resp.ID)
	assert.Equal(t, int64(5000), resp.Usage.CacheCreationInputTokens)
}

func TestSDKClient_CreateMessage_StatusIsExposed(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"rate limited", http.StatusTooManyRequests},
		{"bad request", http.StatusBadRequest},
		{"server error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
					"type":  "error",
					"error": map[string]any{"type": "api_error", "message": "nope"},
				})
			}))
			defer ts.Close()

			client := newTestClient(ts.URL)
			_, err := client.CreateMessage(context.Background(), MessageRequest{
				Model:     "claude-haiku-4-5-20251001",
				MaxTokens: 16,
				Messages:  []Message{{Role: "user", Content: "Hello"}},
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "anthropic: create message")

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.HTTPStatus())
		})
	}
}
