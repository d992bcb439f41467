package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/leapstack-labs/csvchat/internal/cli/config"
	"github.com/leapstack-labs/csvchat/internal/codegen"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewCodegenCommand creates the codegen command.
func NewCodegenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codegen",
		Short: "Run or query the code generation service",
		Long: `Run or query the code generation service.

The service turns a question and a list of dataset columns into analysis
code using a chat completion API. Point other instances at it with
--codegen-url.`,
	}

	cmd.AddCommand(newCodegenServeCommand())
	cmd.AddCommand(newCodegenGenerateCommand())

	return cmd
}

func newCodegenServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve code generation over HTTP",
		Example: `  # Serve with the key from the environment
  GROQ_API_KEY=... csvchat codegen serve

  # Listen elsewhere with another model
  csvchat codegen serve --listen 0.0.0.0:8000 --model llama-3.3-70b-versatile`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := NewCommandContext(cmd)
			if cc.Cfg.Codegen.APIKey == "" {
				return errors.New("codegen API key is not set\nHint: export GROQ_API_KEY or set codegen.api_key")
			}

			svc, err := newService(cc.Cfg, cc.Logger.With(slog.String("component", "codegen")))
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			addr := cc.Cfg.Codegen.Listen
			cc.Renderer.Successf("Serving code generation on http://%s/generate (model %s)", addr, cc.Cfg.Codegen.Model)
			return serveHTTP(ctx, addr, codegen.NewHandler(svc, cc.Logger), cc.Logger)
		},
	}

	cmd.Flags().String("listen", "", "Address to listen on (default: "+config.DefaultCodegenListen+")")
	cmd.Flags().String("model", "", "Chat completion model")

	return cmd
}

// serveHTTP serves handler until ctx is cancelled.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		logger.Debug("shutting down code generation server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// GenerateOptions holds options for the codegen generate command.
type GenerateOptions struct {
	Columns []string
}

func newCodegenGenerateCommand() *cobra.Command {
	opts := &GenerateOptions{}

	cmd := &cobra.Command{
		Use:   "generate <question>",
		Short: "Generate code for a question without running it",
		Example: `  csvchat codegen generate "average price by city" --columns city,price`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)

			gen, err := newGenerator(cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}

			code, err := gen.Generate(cmd.Context(), opts.Columns, strings.Join(args, " "))
			if err != nil {
				return err
			}
			cc.Renderer.Println(code)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Columns, "columns", "c", nil, "Dataset columns")

	return cmd
}
