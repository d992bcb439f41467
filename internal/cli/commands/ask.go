package commands

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/leapstack-labs/csvchat/internal/chat"
	"github.com/leapstack-labs/csvchat/internal/cli/output"
	"github.com/leapstack-labs/csvchat/pkg/core"
	"github.com/spf13/cobra"
)

// AskOptions holds options for the ask command.
type AskOptions struct {
	Session string
	PlotOut string
}

// NewAskCommand creates the ask command.
func NewAskCommand() *cobra.Command {
	opts := &AskOptions{}

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about a session's dataset",
		Long: `Ask a question about the CSV file bound to a session.

The session's dataset is restored from the blob store before the question
is answered. Generated code, its output and any plot are appended to the
session transcript.`,
		Example: `  # Ask about a session
  csvchat ask "average revenue by region" --session 6f1c...

  # Save the chart the answer draws
  csvchat ask "plot revenue by month" -s 6f1c... --plot-out revenue.png`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Session, "session", "s", "", "Session to ask in (required)")
	cmd.Flags().StringVar(&opts.PlotOut, "plot-out", "", "Write the answer's plot to this PNG file")
	_ = cmd.MarkFlagRequired("session")

	return cmd
}

func runAsk(cmd *cobra.Command, question string, opts *AskOptions) error {
	cc := NewCommandContext(cmd)
	ctx := cmd.Context()

	app, err := openApp(ctx, cc.Cfg, cc.Logger, true)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	session, out, err := app.Workspace.SelectSession(ctx, opts.Session)
	if err != nil {
		return err
	}
	cc.Logger.Debug("session reconciled", "id", session.ID, "state", out.State.String())

	res, err := app.Workspace.Ask(ctx, question)
	if err != nil {
		if errors.Is(err, chat.ErrNoDataset) {
			return fmt.Errorf("session %s has no file; upload one first", session.ID)
		}
		return err
	}

	if cc.Renderer.Mode() == output.ModeJSON {
		return cc.Renderer.JSON(map[string]any{
			"state":    res.Outcome.State.String(),
			"messages": res.Messages,
		})
	}

	reply, ok := res.Reply()
	if !ok {
		// The warning is already the newest transcript entry.
		if w := res.Outcome.Warning(session.FileName); w != "" {
			cc.Renderer.Warnf("%s", w)
		}
		return nil
	}
	cc.Renderer.Message(reply)

	if reply.Plot != "" && opts.PlotOut != "" {
		if err := savePlot(opts.PlotOut, reply); err != nil {
			return err
		}
		cc.Renderer.Successf("Plot written to %s", opts.PlotOut)
	}
	return nil
}

// savePlot decodes a message's plot into a PNG file.
func savePlot(path string, msg core.Message) error {
	data, err := base64.StdEncoding.DecodeString(msg.Plot)
	if err != nil {
		return fmt.Errorf("failed to decode plot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write plot: %w", err)
	}
	return nil
}
