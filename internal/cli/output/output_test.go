package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/leapstack-labs/csvchat/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRenderer(mode OutputMode) (*Renderer, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return NewRendererWithTTY(out, errOut, false, mode), out, errOut
}

func TestMode(t *testing.T) {
	assert.Equal(t, ModeText, Mode(""))
	assert.Equal(t, ModeText, Mode("text"))
	assert.Equal(t, ModeMarkdown, Mode("md"))
	assert.Equal(t, ModeMarkdown, Mode("Markdown"))
	assert.Equal(t, ModeJSON, Mode("json"))
	assert.Equal(t, ModeText, Mode("xml"))
}

func TestRenderer_NonTTYHasNoANSI(t *testing.T) {
	r, out, errOut := newTestRenderer(ModeText)

	r.Successf("uploaded %s", "sales.csv")
	r.Errorf("boom %d", 1)
	r.Warnf("careful")

	assert.Equal(t, "uploaded sales.csv\n", out.String())
	assert.Contains(t, errOut.String(), "Error: boom 1")
	assert.Contains(t, errOut.String(), "careful")
	assert.NotContains(t, out.String()+errOut.String(), "\x1b[")
	assert.False(t, r.IsTTY())
}

func TestRenderer_Table(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeText)
		r.Table([]string{"id", "title"}, [][]any{{"s1", "sales.csv"}})
		assert.Contains(t, out.String(), "sales.csv")
		assert.Contains(t, out.String(), "┌")
	})

	t.Run("markdown", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeMarkdown)
		r.Table([]string{"id", "title"}, [][]any{{"s1", "sales.csv"}})
		assert.Contains(t, out.String(), "| s1 | sales.csv |")
	})

	t.Run("empty", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeText)
		r.Table([]string{"id"}, nil)
		assert.Equal(t, "(0 rows)\n", out.String())
	})
}

func TestRenderer_JSON(t *testing.T) {
	r, out, _ := newTestRenderer(ModeJSON)
	require.NoError(t, r.JSON(map[string]string{"id": "s1"}))

	var got map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "s1", got["id"])
}

func TestRenderer_Message(t *testing.T) {
	msg := core.Message{Role: core.RoleAssistant, Content: "4\n", Code: `print(df["a"].sum())`, Plot: "iVBO"}

	t.Run("text", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeText)
		r.Message(core.Message{Role: core.RoleUser, Content: "total?"})
		r.Message(msg)
		assert.Contains(t, out.String(), "you: total?")
		assert.Contains(t, out.String(), "assistant: 4\n")
		assert.Contains(t, out.String(), `print(df["a"].sum())`)
		assert.Contains(t, out.String(), "(plot attached)")
	})

	t.Run("markdown", func(t *testing.T) {
		r, out, _ := newTestRenderer(ModeMarkdown)
		r.Message(msg)
		assert.Contains(t, out.String(), "**assistant**")
		assert.Contains(t, out.String(), "```python\nprint(df[\"a\"].sum())\n```")
	})
}
