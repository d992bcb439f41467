package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/csvchat/internal/cli/output"
	"github.com/spf13/cobra"
)

// UploadOptions holds options for the upload command.
type UploadOptions struct {
	Session string
	Name    string
}

// NewUploadCommand creates the upload command.
func NewUploadCommand() *cobra.Command {
	opts := &UploadOptions{}

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a CSV file into a session",
		Long: `Store a CSV file in the blob store and bind it to a session.

Without --session a new session is created and named after the file.
A file that cannot be parsed is still stored; the session records the
parse failure and asks for a valid file.`,
		Example: `  # Start a session from a file
  csvchat upload sales.csv

  # Replace the file of an existing session
  csvchat upload q3.csv --session 6f1c...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Session, "session", "s", "", "Session to bind the file to")
	cmd.Flags().StringVar(&opts.Name, "name", "", "Stored file name (default: base name of the file)")

	return cmd
}

func runUpload(cmd *cobra.Command, path string, opts *UploadOptions) error {
	cc := NewCommandContext(cmd)
	ctx := cmd.Context()

	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	name := opts.Name
	if name == "" {
		name = filepath.Base(path)
	}

	app, err := openApp(ctx, cc.Cfg, cc.Logger, false)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	if opts.Session != "" {
		if _, _, err := app.Workspace.SelectSession(ctx, opts.Session); err != nil {
			return err
		}
	}

	session, err := app.Workspace.Upload(ctx, name, data)
	if err != nil {
		return err
	}
	view := app.Workspace.View()

	if cc.Renderer.Mode() == output.ModeJSON {
		return cc.Renderer.JSON(map[string]any{
			"session": session,
			"loaded":  !view.Degraded,
		})
	}

	if view.Degraded {
		cc.Renderer.Warnf("%s", transcriptTail(app.Workspace, session.ID))
	} else {
		cc.Renderer.Successf("Loaded %s (%d columns)", name, len(session.Columns))
	}
	cc.Renderer.Printf("Session: %s\n", session.ID)
	return nil
}
