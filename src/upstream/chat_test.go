package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockChat(t *testing.T) (*ChatClient, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	cfg := testConfig("http://model-a")
	cfg.ChatBaseURL = "http://llm.local/v1/"
	cfg.ChatAPIKey = "secret"
	cfg.ChatModel = "qwen-vl-chat"
	return NewChatClient(cfg, zerolog.Nop(), WithChatHTTPClient(&http.Client{Transport: mt})), mt
}

func TestRunWithImage(t *testing.T) {
	c, mt := newMockChat(t)

	var sent map[string]interface{}
	var auth string
	mt.RegisterResponder(http.MethodPost, "http://llm.local/v1/chat/completions", func(req *http.Request) (*http.Response, error) {
		auth = req.Header.Get("Authorization")
		if err := json.NewDecoder(req.Body).Decode(&sent); err != nil {
			return nil, err
		}
		return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{
			"choices": []interface{}{
				map[string]interface{}{"message": map[string]interface{}{"content": " Adult\n"}},
			},
		})
	})

	content, err := c.RunWithImage(context.Background(), testImageURL, "system", "question")
	require.NoError(t, err)

	assert.Equal(t, " Adult\n", content)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "qwen-vl-chat", sent["model"])

	messages, ok := sent["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])

	parts := messages[1].(map[string]interface{})["content"].([]interface{})
	require.Len(t, parts, 2)
	image := parts[1].(map[string]interface{})
	assert.Equal(t, "image_url", image["type"])
	assert.Equal(t, testImageURL, image["image_url"].(map[string]interface{})["url"])
}

func TestRunWithImageErrors(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		target    error
	}{
		{"transport", httpmock.NewErrorResponder(errors.New("dial tcp: refused")), nil},
		{"status", httpmock.NewStringResponder(http.StatusUnauthorized, "bad key"), nil},
		{"malformed", httpmock.NewStringResponder(http.StatusOK, "{not json"), nil},
		{"no choices", httpmock.NewStringResponder(http.StatusOK, `{"choices":[]}`), ErrEmptyCompletion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mt := newMockChat(t)
			mt.RegisterResponder(http.MethodPost, "http://llm.local/v1/chat/completions", tt.responder)

			_, err := c.RunWithImage(context.Background(), testImageURL, "system", "question")
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestRunWithImageAPIError(t *testing.T) {
	c, mt := newMockChat(t)
	mt.RegisterResponder(http.MethodPost, "http://llm.local/v1/chat/completions",
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))

	_, err := c.RunWithImage(context.Background(), testImageURL, "system", "question")

	var apiErr *openai.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.HTTPStatusCode)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestRunWithImageTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig("http://model-a")
	cfg.ChatBaseURL = srv.URL + "/v1"
	cfg.UpstreamTimeout = 100 * time.Millisecond
	c := NewChatClient(cfg, zerolog.Nop())

	start := time.Now()
	_, err := c.RunWithImage(context.Background(), testImageURL, "system", "question")

	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
