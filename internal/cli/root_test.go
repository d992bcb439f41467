package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/csvchat/internal/cli/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	config.ResetConfig()
	t.Cleanup(config.ResetConfig)
	t.Chdir(t.TempDir())

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()

	want := []string{"version", "chat", "upload", "ask", "sessions", "blobs", "serve", "codegen", "completion"}
	for _, name := range want {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}

	for _, flag := range []string{"config", "state", "blob-backend", "blob-path", "work-dir", "codegen-url", "verbose", "output"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestRootCmd_Version(t *testing.T) {
	out, err := run(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "csvchat "+Version)
}

func TestRootCmd_Completion(t *testing.T) {
	out, err := run(t, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "csvchat")

	_, err = run(t, "completion", "tcsh")
	require.Error(t, err)
}

func TestRootCmd_FlagsReachConfig(t *testing.T) {
	dir := t.TempDir()
	state := filepath.Join(dir, "nested", "state.db")

	out, err := run(t, "--state", state, "--blob-backend", "memory", "sessions")
	require.NoError(t, err, out)
	assert.Contains(t, out, "(0 rows)")
	assert.FileExists(t, state)

	cfg := config.GetCurrentConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, "memory", cfg.Blob.Backend)
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	_, err := run(t, "--blob-backend", "s3", "blobs", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown blob backend")
}

func TestRootCmd_AskNeedsGenerator(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	_, err := run(t, "--state", ":memory:", "--blob-backend", "memory", "ask", "hi", "--session", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no code generator configured")
}
