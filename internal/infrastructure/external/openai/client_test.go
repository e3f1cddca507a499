package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feilong2k/codemaestro/internal/agent"
	"github.com/feilong2k/codemaestro/internal/application/port"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "gpt-test"}, zap.NewNop())
}

func TestChat_Success(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "1", "object": "chat.completion", "model": "gpt-test",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Create file: a.go"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 4, "total_tokens": 14}
		}`))
	})

	resp, err := client.Chat(context.Background(), []port.Message{
		{Role: port.RoleSystem, Content: "You are Devon"},
		{Role: port.RoleUser, Content: "implement"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Create file: a.go", resp.Content)
	assert.Equal(t, 14, resp.Usage.TotalTokens)

	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestChat_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, agent.ErrRateLimited},
		{"unauthorized", http.StatusUnauthorized, agent.ErrUnauthorized},
		{"forbidden", http.StatusForbidden, agent.ErrUnauthorized},
		{"server error", http.StatusInternalServerError, agent.ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": {"message": "nope", "type": "test_error"}}`))
			})

			_, err := client.Chat(context.Background(), []port.Message{{Role: port.RoleUser, Content: "hi"}})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.want == agent.ErrRateLimited, agent.IsTransient(err))
		})
	}
}

func TestChat_Timeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Chat(ctx, []port.Message{{Role: port.RoleUser, Content: "hi"}})
	assert.ErrorIs(t, err, agent.ErrTimeout)
}

func TestChat_NoChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "1", "choices": []}`))
	})

	_, err := client.Chat(context.Background(), []port.Message{{Role: port.RoleUser, Content: "hi"}})
	assert.ErrorIs(t, err, agent.ErrUpstream)
}

func TestPromptStore(t *testing.T) {
	store, err := ParsePrompts([]byte(`
vars:
  project: CodeMaestro
agents:
  orchestrator:
    system: |
      You are Orion, coordinator of {{.project}}.
  tester:
    system: "You are Tara. {{.missing}}"
`))
	require.NoError(t, err)

	prompt, err := store.ReadPrompt("orchestrator")
	require.NoError(t, err)
	assert.Equal(t, "You are Orion, coordinator of CodeMaestro.", prompt)

	prompt, err = store.ReadPrompt("tester")
	require.NoError(t, err)
	assert.Equal(t, "You are Tara.", prompt)

	prompt, err = store.ReadPrompt("developer")
	require.NoError(t, err)
	assert.Empty(t, prompt)

	assert.ElementsMatch(t, []string{"orchestrator", "tester"}, store.Roles())
}

func TestLoadPrompts_MissingFile(t *testing.T) {
	_, err := LoadPrompts("/nonexistent/prompts.yaml")
	assert.Error(t, err)
}
