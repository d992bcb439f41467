package codegen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leapstack-labs/csvchat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompletions imitates the chat completions endpoint.
func fakeCompletions(t *testing.T, reply string, captured *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   DefaultModel,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
}

func TestNewService_RequiresKey(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	assert.Error(t, err)
}

func TestService_Generate(t *testing.T) {
	var payload map[string]any
	server := fakeCompletions(t, "```python\nprint(df[\"a\"].sum())\n```", &payload)
	defer server.Close()

	svc, err := NewService(ServiceConfig{APIKey: "test-key", BaseURL: server.URL, Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)

	code, err := svc.Generate(context.Background(), []string{"a", "b"}, "total of a?")
	require.NoError(t, err)
	assert.Equal(t, `print(df["a"].sum())`, code)

	assert.Equal(t, DefaultModel, payload["model"])
	messages, ok := payload["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)

	system, ok := messages[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "system", system["role"])
	assert.Contains(t, system["content"], "a, b")

	user, ok := messages[1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "total of a?", user["content"])
}

func TestService_ServedOverHTTP(t *testing.T) {
	upstream := fakeCompletions(t, "print(1)", nil)
	defer upstream.Close()

	svc, err := NewService(ServiceConfig{APIKey: "test-key", BaseURL: upstream.URL})
	require.NoError(t, err)

	server := httptest.NewServer(NewHandler(svc, testutil.NewTestLogger(t)))
	defer server.Close()

	code, err := NewClient(ClientConfig{URL: server.URL}).Generate(context.Background(), []string{"a"}, "q")
	require.NoError(t, err)
	assert.Equal(t, "print(1)", code)
}
