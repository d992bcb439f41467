package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/leapstack-labs/csvchat/internal/chat"
	"github.com/leapstack-labs/csvchat/internal/cli/output"
	"github.com/leapstack-labs/csvchat/internal/export"
	"github.com/leapstack-labs/csvchat/pkg/core"
	"github.com/spf13/cobra"
)

const chatPrompt = "csvchat> "

// ChatOptions holds options for the chat command.
type ChatOptions struct {
	Session string
	File    string
}

// NewChatCommand creates the interactive chat command.
func NewChatCommand() *cobra.Command {
	opts := &ChatOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a CSV file interactively",
		Long: `Start an interactive chat session.

Lines are questions about the active session's dataset; lines starting
with a dot are commands. Type .help for the list.`,
		Example: `  # Start with a file
  csvchat chat --file sales.csv

  # Resume a session
  csvchat chat --session 6f1c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Session, "session", "s", "", "Session to resume")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "CSV file to upload on start")

	return cmd
}

func runChat(cmd *cobra.Command, opts *ChatOptions) error {
	cc := NewCommandContext(cmd)
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	app, err := openApp(ctx, cc.Cfg, cc.Logger, true)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	r := &repl{ws: app.Workspace, blobs: app.Blobs, out: cc.Renderer}

	if opts.Session != "" {
		r.handle(ctx, ".select "+opts.Session)
	}
	if opts.File != "" {
		r.handle(ctx, ".upload "+opts.File)
	}

	historyFile := ""
	if cc.Cfg.StatePath != ":memory:" {
		historyFile = filepath.Join(filepath.Dir(cc.Cfg.StatePath), "chat_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          chatPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    r.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
		Stdout:          cmd.OutOrStdout(),
		Stderr:          cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat: %w", err)
	}
	defer func() { _ = rl.Close() }()

	st := cc.Renderer.Styles()
	cc.Renderer.Println(st.Title.Render("csvchat") + " " + st.Muted.Render(fmt.Sprintf("(state: %s)", cc.Cfg.StatePath)))
	cc.Renderer.Println("Type .help for commands, .quit to exit")
	cc.Renderer.Println()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if r.handle(ctx, line) {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// repl executes chat lines against a workspace.
type repl struct {
	ws    *chat.Workspace
	blobs core.BlobStore
	out   *output.Renderer

	// lastPlot is the newest plot shown in this chat.
	lastPlot *core.Message
}

// handle runs one line and reports whether the chat should end.
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, ".") {
		r.ask(ctx, line)
		return false
	}

	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])
	arg := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))

	switch command {
	case ".quit", ".exit":
		return true

	case ".help":
		printChatHelp(r.out.Writer())

	case ".new":
		session, err := r.ws.NewChat(ctx)
		if err != nil {
			r.out.Errorf("%v", err)
			return false
		}
		r.out.Successf("New chat %s", session.ID)

	case ".upload":
		if arg == "" {
			r.out.Errorf("usage: .upload <file>")
			return false
		}
		r.upload(ctx, arg)

	case ".sessions":
		r.sessions()

	case ".select":
		if arg == "" {
			r.out.Errorf("usage: .select <id>")
			return false
		}
		r.selectSession(ctx, arg)

	case ".delete":
		if arg == "" {
			r.out.Errorf("usage: .delete <id>")
			return false
		}
		if err := r.ws.DeleteSession(ctx, arg); err != nil {
			r.out.Errorf("%v", err)
			return false
		}
		r.out.Successf("Deleted %s", arg)

	case ".columns":
		view := r.ws.View()
		switch {
		case view.SessionID == "":
			r.out.Errorf("%v", chat.ErrNoActiveSession)
		case view.FileName == "":
			r.out.Println("No file uploaded yet.")
		default:
			r.out.Printf("%s: %s\n", view.FileName, strings.Join(view.Columns, ", "))
		}

	case ".history":
		view := r.ws.View()
		if view.SessionID == "" {
			r.out.Errorf("%v", chat.ErrNoActiveSession)
			return false
		}
		msgs, err := r.ws.Transcript(view.SessionID)
		if err != nil {
			r.out.Errorf("%v", err)
			return false
		}
		for _, m := range msgs {
			r.out.Message(m)
		}

	case ".plot":
		if arg == "" {
			r.out.Errorf("usage: .plot <file.png>")
			return false
		}
		if r.lastPlot == nil {
			r.out.Errorf("no plot to save")
			return false
		}
		if err := savePlot(arg, *r.lastPlot); err != nil {
			r.out.Errorf("%v", err)
			return false
		}
		r.out.Successf("Plot written to %s", arg)

	case ".export":
		r.export(arg)

	case ".blobs":
		infos, err := r.blobs.List(ctx)
		if err != nil {
			r.out.Errorf("%v", err)
			return false
		}
		rows := make([][]any, 0, len(infos))
		for _, info := range infos {
			rows = append(rows, []any{info.Name, info.Size})
		}
		r.out.Table([]string{"Name", "Bytes"}, rows)

	default:
		r.out.Errorf("unknown command: %s (type .help for commands)", command)
	}
	return false
}

func (r *repl) ask(ctx context.Context, question string) {
	res, err := r.ws.Ask(ctx, question)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrNoActiveSession), errors.Is(err, chat.ErrNoDataset):
			r.out.Errorf("upload a CSV file first (.upload <file>)")
		default:
			r.out.Errorf("%v", err)
		}
		return
	}

	reply, ok := res.Reply()
	if !ok {
		if w := res.Outcome.Warning(r.ws.View().FileName); w != "" {
			r.out.Warnf("%s", w)
		}
		return
	}
	r.out.Message(reply)
	if reply.Plot != "" {
		r.lastPlot = &reply
		r.out.Println(r.out.Styles().Muted.Render("Save it with .plot <file.png>"))
	}
}

func (r *repl) upload(ctx context.Context, path string) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		r.out.Errorf("failed to read %s: %v", path, err)
		return
	}
	name := filepath.Base(path)
	session, err := r.ws.Upload(ctx, name, data)
	if err != nil {
		r.out.Errorf("%v", err)
		return
	}
	if r.ws.View().Degraded {
		if reply := transcriptTail(r.ws, session.ID); reply != "" {
			r.out.Warnf("%s", reply)
		}
		return
	}
	r.out.Successf("Loaded %s into %s", name, session.ID)
	r.out.Printf("Columns: %s\n", strings.Join(session.Columns, ", "))
}

func (r *repl) selectSession(ctx context.Context, id string) {
	session, out, err := r.ws.SelectSession(ctx, id)
	if err != nil {
		r.out.Errorf("%v", err)
		return
	}
	r.out.Successf("Switched to %s (%s)", session.Title, session.ID)
	if w := out.Warning(session.FileName); w != "" {
		r.out.Warnf("%s", w)
	}
}

func (r *repl) sessions() {
	list, err := r.ws.Sessions()
	if err != nil {
		r.out.Errorf("%v", err)
		return
	}
	active := r.ws.View().SessionID
	rows := make([][]any, 0, len(list))
	for _, s := range list {
		mark := ""
		if s.ID == active {
			mark = "*"
		}
		rows = append(rows, []any{mark, s.ID, s.Title, s.Preview})
	}
	r.out.Table([]string{"", "ID", "Title", "Preview"}, rows)
}

// export writes the active transcript: ".export <file>" picks the format
// from the file extension.
func (r *repl) export(arg string) {
	if arg == "" {
		r.out.Errorf("usage: .export <file.yaml|file.json|file.md>")
		return
	}
	format, err := export.ParseFormat(filepath.Ext(arg))
	if err != nil {
		r.out.Errorf("%v", err)
		return
	}
	session, err := r.ws.Active()
	if err != nil {
		r.out.Errorf("%v", err)
		return
	}
	msgs, err := r.ws.Transcript(session.ID)
	if err != nil {
		r.out.Errorf("%v", err)
		return
	}

	f, err := os.Create(arg)
	if err != nil {
		r.out.Errorf("%v", err)
		return
	}
	defer func() { _ = f.Close() }()
	if err := export.Write(f, format, export.NewDocument(session, msgs, export.Options{})); err != nil {
		r.out.Errorf("%v", err)
		return
	}
	r.out.Successf("Exported to %s", arg)
}

// completer completes dot commands and session IDs.
func (r *repl) completer() *readline.PrefixCompleter {
	ids := func(string) []string {
		list, err := r.ws.Sessions()
		if err != nil {
			return nil
		}
		out := make([]string, 0, len(list))
		for _, s := range list {
			out = append(out, s.ID)
		}
		return out
	}

	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".new"),
		readline.PcItem(".upload"),
		readline.PcItem(".sessions"),
		readline.PcItem(".select", readline.PcItemDynamic(ids)),
		readline.PcItem(".delete", readline.PcItemDynamic(ids)),
		readline.PcItem(".columns"),
		readline.PcItem(".history"),
		readline.PcItem(".plot"),
		readline.PcItem(".export"),
		readline.PcItem(".blobs"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}

// transcriptTail returns the newest assistant message of a session.
func transcriptTail(ws *chat.Workspace, id string) string {
	msgs, err := ws.Transcript(id)
	if err != nil {
		return ""
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == core.RoleAssistant {
			return msgs[i].Content
		}
	}
	return ""
}

func printChatHelp(w io.Writer) {
	help := `
Commands:
  .help             Show this help message
  .new              Start an empty chat
  .upload <file>    Upload a CSV file into the active chat
  .sessions         List chats (* marks the active one)
  .select <id>      Switch to a chat
  .delete <id>      Delete a chat and its transcript
  .columns          Show the active dataset's columns
  .history          Show the active transcript
  .plot <file.png>  Save the last plot
  .export <file>    Export the transcript (.yaml, .json or .md)
  .blobs            List stored files
  .quit / .exit     Exit

Anything else is a question about the active dataset.
`
	_, _ = fmt.Fprintln(w, help)
}
