package codegen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leapstack-labs/csvchat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Generate(t *testing.T) {
	var got GenerateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":"print(df[\"a\"].sum())"}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{URL: server.URL + "/", Logger: testutil.NewTestLogger(t)})
	code, err := client.Generate(context.Background(), []string{"a", "b"}, "what is the total of a?")
	require.NoError(t, err)

	assert.Equal(t, `print(df["a"].sum())`, code)
	assert.Equal(t, []string{"a", "b"}, got.Columns)
	assert.Equal(t, "what is the total of a?", got.Question)
}

func TestClient_GenerateSendsEmptyColumns(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"code":"print(1)"}`))
	}))
	defer server.Close()

	_, err := NewClient(ClientConfig{URL: server.URL}).Generate(context.Background(), nil, "q")
	require.NoError(t, err)
	assert.Equal(t, []any{}, raw["columns"])
}

func TestClient_GenerateErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
	}{
		{name: "detail from body", status: http.StatusInternalServerError, body: `{"detail":"GROQ_API_KEY is not set"}`, wantDetail: "GROQ_API_KEY is not set"},
		{name: "non json body", status: http.StatusBadGateway, body: `<html>bad gateway</html>`, wantDetail: DefaultDetail},
		{name: "empty detail", status: http.StatusInternalServerError, body: `{"detail":""}`, wantDetail: DefaultDetail},
		{name: "validation error list", status: http.StatusUnprocessableEntity, body: `{"detail":[{"msg":"field required"}]}`, wantDetail: DefaultDetail},
		{name: "malformed success body", status: http.StatusOK, body: `not json`, wantDetail: DefaultDetail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(ClientConfig{URL: server.URL}).Generate(context.Background(), []string{"a"}, "q")
			require.Error(t, err)

			var genErr *GenerationError
			require.True(t, errors.As(err, &genErr))
			assert.Equal(t, tt.status, genErr.Status)
			assert.Equal(t, tt.wantDetail, genErr.Detail)
			assert.True(t, IsGenerationError(err))
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(ClientConfig{URL: url, Timeout: time.Second}).Generate(context.Background(), []string{"a"}, "q")
	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, 0, genErr.Status)
	assert.Equal(t, DefaultDetail, genErr.Detail)
}

func TestCleanCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "print(1)", want: "print(1)"},
		{in: "```python\nprint(1)\n```", want: "print(1)"},
		{in: "```\nx = 1\nprint(x)\n```\n", want: "x = 1\nprint(x)"},
		{in: "  ```starlark\nplt.show()```  ", want: "plt.show()"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanCode(tt.in))
	}
}

func TestSystemPrompt(t *testing.T) {
	prompt := SystemPrompt([]string{"region", "sales"})
	assert.Contains(t, prompt, "The columns in the dataset are: region, sales")
	assert.Contains(t, prompt, "plt.show()")
}
