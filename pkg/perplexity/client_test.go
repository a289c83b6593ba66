package perplexity

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

const hotelAnswer = `{
	"id": "cmpl-7",
	"model": "sonar-pro",
	"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "- 212 rooms\n- Rooftop pool"}}],
	"citations": ["https://grandhotel.example/rooms", "https://travel.example/grand-hotel"],
	"search_results": [
		{"title": "Rooms", "url": "https://grandhotel.example/rooms"},
		{"title": "Grand Hotel review", "url": "https://press.example/grand-hotel", "date": "2026-02-11"}
	],
	"usage": {"prompt_tokens": 120, "completion_tokens": 48}
}`

// capture answers with status and body, passing each decoded request on reqs.
func capture(t *testing.T, status int, body string) (string, <-chan map[string]any) {
	t.Helper()
	reqs := make(chan map[string]any, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var got map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		reqs <- got
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL, reqs
}

func ask(content string) ChatCompletionRequest {
	return ChatCompletionRequest{Messages: []Message{{Role: "user", Content: content}}}
}

func TestChatCompletion(t *testing.T) {
	u, reqs := capture(t, http.StatusOK, hotelAnswer)

	resp, err := NewClient("test-key", WithBaseURL(u)).ChatCompletion(context.Background(), ask("Research the Grand Hotel"))
	require.NoError(t, err)
	req := <-reqs

	assert.Equal(t, "cmpl-7", resp.ID)
	assert.Equal(t, "- 212 rooms\n- Rooftop pool", resp.Content())
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, []string{
		"https://grandhotel.example/rooms",
		"https://travel.example/grand-hotel",
		"https://press.example/grand-hotel",
	}, resp.Sources())
	assert.Equal(t, 168, resp.Usage.Total())

	assert.Equal(t, defaultModel, req["model"])
	assert.NotContains(t, req, "temperature")
	assert.NotContains(t, req, "max_tokens")
	assert.NotContains(t, req, "search_domain_filter")
}

func TestChatCompletion_RequestFields(t *testing.T) {
	u, reqs := capture(t, http.StatusOK, hotelAnswer)

	temp, maxTokens := 0.2, 600
	in := ask("Research the Grand Hotel")
	in.Model = "sonar-reasoning"
	in.Temperature = &temp
	in.MaxTokens = &maxTokens
	in.SearchDomainFilter = []string{"-yelp.com", "-tripadvisor.com"}
	in.SearchRecencyFilter = "year"

	c := NewClient("test-key", WithBaseURL(u), WithModel("sonar"))
	_, err := c.ChatCompletion(context.Background(), in)
	require.NoError(t, err)
	req := <-reqs

	assert.Equal(t, "sonar-reasoning", req["model"], "request model wins over client default")
	assert.Equal(t, 0.2, req["temperature"])
	assert.Equal(t, float64(600), req["max_tokens"])
	assert.Equal(t, []any{"-yelp.com", "-tripadvisor.com"}, req["search_domain_filter"])
	assert.Equal(t, "year", req["search_recency_filter"])
}

func TestChatCompletion_ClientModel(t *testing.T) {
	u, reqs := capture(t, http.StatusOK, hotelAnswer)

	_, err := NewClient("test-key", WithBaseURL(u), WithModel("sonar")).ChatCompletion(context.Background(), ask("hi"))
	require.NoError(t, err)
	assert.Equal(t, "sonar", (<-reqs)["model"])
}

func TestChatCompletion_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    string
		wantStatus int
		wantType   string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"rate limit exceeded","type":"rate_limit_error","code":429}}`, "status 429: rate limit exceeded", 429, "rate_limit_error"},
		{"plain body", http.StatusBadGateway, "upstream down\n", "status 502: upstream down", 502, ""},
		{"bad json", http.StatusOK, `{invalid`, "decode response", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, _ := capture(t, tt.status, tt.body)

			resp, err := NewClient("test-key", WithBaseURL(u)).ChatCompletion(context.Background(), ask("hi"))
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.Contains(t, err.Error(), tt.wantErr)

			var apiErr *APIError
			if tt.wantStatus == 0 {
				assert.False(t, errors.As(err, &apiErr))
				return
			}
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.wantStatus, apiErr.HTTPStatus())
			assert.Equal(t, tt.wantType, apiErr.Type)
		})
	}
}

func TestChatCompletion_Cancelled(t *testing.T) {
	u, _ := capture(t, http.StatusOK, hotelAnswer)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient("test-key", WithBaseURL(u)).ChatCompletion(ctx, ask("hi"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewClient_Options(t *testing.T) {
	hc := NewClient("k").(*httpClient)
	assert.Equal(t, defaultBaseURL, hc.baseURL)
	assert.Equal(t, defaultModel, hc.model)
	assert.NotNil(t, hc.http)

	custom := &http.Client{}
	hc = NewClient("k", WithHTTPClient(custom), WithModel("")).(*httpClient)
	assert.Same(t, custom, hc.http)
	assert.Equal(t, defaultModel, hc.model, "empty model keeps the default")
}

func TestContent_Empty(t *testing.T) {
	assert.Empty(t, (&ChatCompletionResponse{}).Content())
	assert.Empty(t, (*ChatCompletionResponse)(nil).Content())
	assert.Nil(t, (*ChatCompletionResponse)(nil).Sources())
}

func TestWithBaseURL_TrimsSlash(t *testing.T) {
	u, reqs := capture(t, http.StatusOK, hotelAnswer)

	_, err := NewClient("test-key", WithBaseURL(u+"/")).ChatCompletion(context.Background(), ask("hi"))
	require.NoError(t, err)
	<-reqs
}
