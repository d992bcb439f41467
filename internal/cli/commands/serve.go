package commands

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/leapstack-labs/csvchat/internal/api"
	"github.com/leapstack-labs/csvchat/internal/cli/config"
	"github.com/spf13/cobra"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Open bool
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat API server",
		Long: `Start a local HTTP server exposing the chat workspace.

The server provides:
- Session list, creation, selection and deletion
- CSV upload and questions against the active session
- Transcript export as YAML, JSON or Markdown
- A server-sent event stream of the active view
- Prometheus metrics on /metrics`,
		Example: `  # Start on the default address
  csvchat serve

  # Use a remote code generator
  csvchat serve --codegen-url http://127.0.0.1:8000/generate

  # Listen elsewhere and open a browser
  csvchat serve --addr 127.0.0.1:9000 --open`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().String("addr", "", "Address to listen on (default: "+config.DefaultServerAddr+")")
	cmd.Flags().BoolVar(&opts.Open, "open", false, "Open the server in a browser")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cc := NewCommandContext(cmd)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	app, err := openApp(ctx, cc.Cfg, cc.Logger, true)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	server := api.NewServer(api.Config{
		Workspace:     app.Workspace,
		Addr:          cc.Cfg.Server.Addr,
		SessionSecret: cc.Cfg.Server.SessionSecret,
		Gatherer:      app.Registry,
		Logger:        cc.Logger.With("component", "api"),
	})

	url := "http://" + cc.Cfg.Server.Addr
	if opts.Open {
		go openBrowser(url)
	}

	cc.Renderer.Successf("Serving chat API on %s", url)
	cc.Renderer.Println("Press Ctrl+C to stop")

	return server.Serve(ctx)
}

// signalContext is cancelled on interrupt or termination.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// openBrowser opens the default browser to the specified URL.
func openBrowser(url string) {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url) //nolint:noctx
	case "linux":
		cmd = exec.Command("xdg-open", url) //nolint:noctx
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url) //nolint:noctx
	default:
		return
	}

	_ = cmd.Start()
}
