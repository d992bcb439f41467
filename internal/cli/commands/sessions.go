package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/leapstack-labs/csvchat/internal/cli/output"
	"github.com/leapstack-labs/csvchat/internal/export"
	"github.com/spf13/cobra"
)

// NewSessionsCommand creates the sessions command and its subcommands.
func NewSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "List and manage chat sessions",
		Long: `List and manage chat sessions.

Without a subcommand the sessions are listed, most recent first.`,
		Example: `  # List sessions
  csvchat sessions

  # Show a transcript
  csvchat sessions show 6f1c...

  # Export a transcript as markdown
  csvchat sessions export 6f1c... --format md -O chat.md`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSessionsList(cmd)
		},
	}

	cmd.AddCommand(newSessionsListCommand())
	cmd.AddCommand(newSessionsShowCommand())
	cmd.AddCommand(newSessionsDeleteCommand())
	cmd.AddCommand(newSessionsExportCommand())

	return cmd
}

func newSessionsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSessionsList(cmd)
		},
	}
}

func runSessionsList(cmd *cobra.Command) error {
	cc := NewCommandContext(cmd)

	store, err := openStore(cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	sessions, err := store.ListSessions()
	if err != nil {
		return err
	}

	if cc.Renderer.Mode() == output.ModeJSON {
		return cc.Renderer.JSON(sessions)
	}

	rows := make([][]any, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []any{s.ID, s.Title, s.FileName, len(s.Columns), s.UpdatedAt.Local().Format(time.DateTime), s.Preview})
	}
	cc.Renderer.Table([]string{"ID", "Title", "File", "Columns", "Updated", "Preview"}, rows)
	return nil
}

func newSessionsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a session's transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)

			store, err := openStore(cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			session, err := store.GetSession(args[0])
			if err != nil {
				return err
			}
			msgs, err := store.GetTranscript(session.ID)
			if err != nil {
				return err
			}

			if cc.Renderer.Mode() == output.ModeJSON {
				return cc.Renderer.JSON(export.NewDocument(session, msgs, export.Options{}))
			}

			st := cc.Renderer.Styles()
			cc.Renderer.Println(st.Title.Render(session.Title))
			if session.HasFile() {
				cc.Renderer.Println(st.Muted.Render(fmt.Sprintf("%s: %s", session.FileName, strings.Join(session.Columns, ", "))))
			}
			cc.Renderer.Println()
			for _, m := range msgs {
				cc.Renderer.Message(m)
			}
			return nil
		},
	}
}

func newSessionsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>...",
		Aliases: []string{"rm"},
		Short:   "Delete sessions and their transcripts",
		Long: `Delete sessions and their transcripts.

Uploaded files stay in the blob store.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)

			store, err := openStore(cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			for _, id := range args {
				if _, err := store.GetSession(id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				if err := store.DeleteSession(id); err != nil {
					return err
				}
				if err := store.DeleteTranscript(id); err != nil {
					return err
				}
				cc.Renderer.Successf("Deleted %s", id)
			}
			return nil
		},
	}
}

// ExportOptions holds options for the sessions export command.
type ExportOptions struct {
	Format string
	Output string
	Plots  bool
}

func newSessionsExportCommand() *cobra.Command {
	opts := &ExportOptions{}

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a session's transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)

			format, err := export.ParseFormat(opts.Format)
			if err != nil {
				return err
			}

			store, err := openStore(cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			session, err := store.GetSession(args[0])
			if err != nil {
				return err
			}
			msgs, err := store.GetTranscript(session.ID)
			if err != nil {
				return err
			}
			doc := export.NewDocument(session, msgs, export.Options{IncludePlots: opts.Plots})

			if opts.Output == "" {
				return export.Write(cmd.OutOrStdout(), format, doc)
			}

			f, err := os.Create(opts.Output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", opts.Output, err)
			}
			if err := export.Write(f, format, doc); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			cc.Renderer.Successf("Exported %s to %s", session.ID, opts.Output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "yaml", "Export format: yaml, json, md")
	cmd.Flags().StringVarP(&opts.Output, "out", "O", "", "Write to this file instead of stdout")
	cmd.Flags().BoolVar(&opts.Plots, "plots", false, "Include plot images")

	return cmd
}
