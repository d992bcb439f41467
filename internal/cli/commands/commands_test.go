// Package commands_test provides tests for CLI command creation.
package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/leapstack-labs/csvchat/internal/cli/config"
	"github.com/leapstack-labs/csvchat/internal/cli/testutil"
	"github.com/leapstack-labs/csvchat/internal/codegen"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type generatorFunc func(ctx context.Context, columns []string, question string) (string, error)

func (f generatorFunc) Generate(ctx context.Context, columns []string, question string) (string, error) {
	return f(ctx, columns, question)
}

// setupProject writes a csvchat.yaml backed by a stub code generation
// service and loads it as the current configuration.
func setupProject(t *testing.T, code string) string {
	t.Helper()

	gen := generatorFunc(func(context.Context, []string, string) (string, error) {
		return code, nil
	})
	srv := httptest.NewServer(codegen.NewHandler(gen, nil))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "csvchat.yaml")
	content := fmt.Sprintf(`state_path: state.db
blob:
  backend: badger
  path: blobs
runtime:
  work_dir: work
codegen:
  url: %s/generate
`, srv.URL)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))
	testutil.WriteCSV(t, dir, "x.csv", testutil.SampleCSV)

	config.ResetConfig()
	t.Cleanup(config.ResetConfig)
	_, err := config.LoadConfig(cfgPath, nil)
	require.NoError(t, err)

	return dir
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

var sessionLine = regexp.MustCompile(`Session: (\S+)`)

func upload(t *testing.T, path string, args ...string) string {
	t.Helper()
	out, err := execute(t, NewUploadCommand(), append([]string{path}, args...)...)
	require.NoError(t, err, out)
	m := sessionLine.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	return m[1]
}

func TestNewServeCommand(t *testing.T) {
	cmd := NewServeCommand()

	assert.Equal(t, "serve", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotEmpty(t, cmd.Example, "Example should not be empty")

	for _, flag := range []string{"addr", "open"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestNewAskCommand(t *testing.T) {
	cmd := NewAskCommand()

	assert.Equal(t, "ask <question>", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	for _, flag := range []string{"session", "plot-out"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestNewSessionsCommand(t *testing.T) {
	cmd := NewSessionsCommand()

	assert.Equal(t, "sessions", cmd.Use)
	assert.Contains(t, cmd.Aliases, "session")

	names := make([]string, 0, len(cmd.Commands()))
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"list", "show", "delete", "export"}, names)
}

func TestNewCodegenCommand(t *testing.T) {
	cmd := NewCodegenCommand()

	assert.Equal(t, "codegen", cmd.Use)
	assert.Len(t, cmd.Commands(), 2)
}

func TestUploadAndAsk(t *testing.T) {
	dir := setupProject(t, `print(df["a"].sum())`)

	id := upload(t, filepath.Join(dir, "x.csv"))

	// Each command runs on a fresh runtime, so ask reloads the dataset
	// before answering.
	out, err := execute(t, NewAskCommand(), "sum of a", "--session", id)
	require.NoError(t, err, out)
	assert.Contains(t, out, "assistant: 4")
	assert.Contains(t, out, `df["a"].sum()`)
}

func TestUpload_Corrupt(t *testing.T) {
	dir := setupProject(t, "print(1)")
	path := testutil.WriteCSV(t, dir, "empty.csv", "")

	out, err := execute(t, NewUploadCommand(), path)
	require.NoError(t, err)
	assert.Contains(t, out, `"empty.csv" could not be parsed`)
	assert.Contains(t, out, "Session: ")
}

func TestUpload_RebindsSession(t *testing.T) {
	dir := setupProject(t, "print(1)")
	id := upload(t, filepath.Join(dir, "x.csv"))

	other := testutil.WriteCSV(t, dir, "y.csv", "c\n5\n")
	assert.Equal(t, id, upload(t, other, "--session", id))

	out, err := execute(t, NewSessionsCommand(), "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "y.csv: c")
}

func TestAsk_UnknownSession(t *testing.T) {
	setupProject(t, "print(1)")

	_, err := execute(t, NewAskCommand(), "anything", "--session", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
}

func TestAsk_MissingBlob(t *testing.T) {
	dir := setupProject(t, "print(1)")
	id := upload(t, filepath.Join(dir, "x.csv"))

	out, err := execute(t, NewBlobsCommand(), "delete", "x.csv")
	require.NoError(t, err, out)
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "work")))

	out, err = execute(t, NewAskCommand(), "sum of a", "--session", id)
	require.NoError(t, err, out)
	assert.Contains(t, out, "re-upload the CSV file")
}

func TestSessionsCommands(t *testing.T) {
	dir := setupProject(t, `print(len(df["a"]))`)
	id := upload(t, filepath.Join(dir, "x.csv"))

	out, err := execute(t, NewSessionsCommand())
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "x.csv")

	out, err = execute(t, NewSessionsCommand(), "export", id, "--format", "json")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "x.csv", doc["file_name"])

	mdPath := filepath.Join(dir, "chat.md")
	_, err = execute(t, NewSessionsCommand(), "export", id, "-f", "md", "-O", mdPath)
	require.NoError(t, err)
	md, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(md), "# x.csv"))
	testutil.AssertValidMarkdown(t, string(md))

	_, err = execute(t, NewSessionsCommand(), "delete", id)
	require.NoError(t, err)

	_, err = execute(t, NewSessionsCommand(), "show", id)
	require.Error(t, err)

	out, err = execute(t, NewBlobsCommand(), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "x.csv", "blobs outlive their sessions")
}

func TestCodegenGenerate(t *testing.T) {
	setupProject(t, `print(df["price"].mean())`)

	out, err := execute(t, NewCodegenCommand(), "generate", "average price", "--columns", "city,price")
	require.NoError(t, err)
	assert.Contains(t, out, `print(df["price"].mean())`)
}

func TestCodegenServe_RequiresKey(t *testing.T) {
	config.ResetConfig()
	t.Cleanup(config.ResetConfig)
	t.Setenv("GROQ_API_KEY", "")
	cfgPath := filepath.Join(t.TempDir(), "csvchat.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("state_path: state.db\n"), 0o600))
	_, err := config.LoadConfig(cfgPath, nil)
	require.NoError(t, err)

	_, err = execute(t, NewCodegenCommand(), "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestChatREPL(t *testing.T) {
	dir := setupProject(t, `print(df["a"].sum())`)
	cfg := getConfig()

	app, err := openApp(context.Background(), cfg, config.GetLogger(context.Background()), true)
	require.NoError(t, err)
	defer func() { _ = app.Close() }()

	tr := testutil.NewTestRendererText()
	r := &repl{ws: app.Workspace, blobs: app.Blobs, out: tr.Renderer}
	ctx := context.Background()

	assert.False(t, r.handle(ctx, "sum of a"))
	assert.Contains(t, tr.Combined(), "upload a CSV file first")

	tr.Reset()
	assert.False(t, r.handle(ctx, ".upload "+filepath.Join(dir, "x.csv")))
	assert.Contains(t, tr.Combined(), "Loaded x.csv")
	assert.Contains(t, tr.Combined(), "Columns: a, b")

	tr.Reset()
	r.handle(ctx, "sum of a")
	assert.Contains(t, tr.Combined(), "assistant: 4")

	tr.Reset()
	r.handle(ctx, ".columns")
	assert.Contains(t, tr.Combined(), "x.csv: a, b")

	tr.Reset()
	r.handle(ctx, ".sessions")
	assert.Contains(t, tr.Combined(), app.Workspace.View().SessionID)

	tr.Reset()
	r.handle(ctx, ".history")
	assert.Contains(t, tr.Combined(), "you: sum of a")

	exported := filepath.Join(dir, "out.yaml")
	tr.Reset()
	r.handle(ctx, ".export "+exported)
	assert.FileExists(t, exported)

	tr.Reset()
	r.handle(ctx, ".plot x.png")
	assert.Contains(t, tr.Combined(), "no plot to save")

	tr.Reset()
	r.handle(ctx, ".bogus")
	assert.Contains(t, tr.Combined(), "unknown command")

	testutil.AssertNoANSI(t, tr.Combined())
	assert.True(t, r.handle(ctx, ".quit"))
}

