package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/csvchat/internal/blob"
	"github.com/leapstack-labs/csvchat/internal/chat"
	"github.com/leapstack-labs/csvchat/internal/cli/config"
	"github.com/leapstack-labs/csvchat/internal/cli/output"
	"github.com/leapstack-labs/csvchat/internal/codegen"
	"github.com/leapstack-labs/csvchat/internal/metrics"
	"github.com/leapstack-labs/csvchat/internal/runtime"
	"github.com/leapstack-labs/csvchat/internal/state"
	"github.com/leapstack-labs/csvchat/pkg/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext from the command's context.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}
}

// getConfig returns the current configuration, or the defaults when no
// configuration was loaded.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return config.Defaults()
}

// openStore opens the session store, creating its directory.
func openStore(cfg *config.Config, logger *slog.Logger) (*state.SQLiteStore, error) {
	if cfg.StatePath != ":memory:" {
		if dir := filepath.Dir(cfg.StatePath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
	}

	store := state.NewSQLiteStore(logger.With(slog.String("component", "state")))
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, err
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// openBlobs opens the configured blob store.
func openBlobs(ctx context.Context, cfg *config.Config, logger *slog.Logger) (core.BlobStore, error) {
	return blob.Open(ctx, blob.Config{
		Backend:         cfg.Blob.Backend,
		Path:            cfg.Blob.Path,
		Bucket:          cfg.Blob.Bucket,
		Prefix:          cfg.Blob.Prefix,
		CredentialsFile: cfg.Blob.CredentialsFile,
		Logger:          logger.With(slog.String("component", "blob")),
	})
}

// newGenerator builds the code generator: the remote service when a URL is
// configured, the chat completion API otherwise.
func newGenerator(cfg *config.Config, logger *slog.Logger) (core.CodeGenerator, error) {
	if err := cfg.ValidateCodegen(); err != nil {
		return nil, err
	}
	logger = logger.With(slog.String("component", "codegen"))
	if cfg.Codegen.Remote() {
		return codegen.NewClient(codegen.ClientConfig{
			URL:     cfg.Codegen.URL,
			Timeout: cfg.Codegen.Timeout,
			Logger:  logger,
		}), nil
	}
	return newService(cfg, logger)
}

func newService(cfg *config.Config, logger *slog.Logger) (*codegen.Service, error) {
	return codegen.NewService(codegen.ServiceConfig{
		APIKey:      cfg.Codegen.APIKey,
		BaseURL:     cfg.Codegen.BaseURL,
		Model:       cfg.Codegen.Model,
		Temperature: cfg.Codegen.Temperature,
		MaxTokens:   cfg.Codegen.MaxTokens,
		Logger:      logger,
	})
}

// App is a fully wired workspace with the resources it owns.
type App struct {
	Store     *state.SQLiteStore
	Blobs     core.BlobStore
	Runtime   *runtime.DuckDBRuntime
	Registry  *prometheus.Registry
	Workspace *chat.Workspace
}

// openApp wires the stores, runtime and workspace. The code generator is
// only built for commands that ask questions.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, withGenerator bool) (*App, error) {
	var gen core.CodeGenerator
	if withGenerator {
		var err error
		if gen, err = newGenerator(cfg, logger); err != nil {
			return nil, err
		}
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	blobs, err := openBlobs(ctx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	rt, err := runtime.New(ctx, runtime.Config{
		WorkDir:  cfg.Runtime.WorkDir,
		MaxSteps: cfg.Runtime.MaxSteps,
		Logger:   logger.With(slog.String("component", "runtime")),
	})
	if err != nil {
		_ = blobs.Close()
		_ = store.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ws := chat.NewWorkspace(chat.Config{
		Store:         store,
		Blobs:         blobs,
		Runtime:       rt,
		Generator:     gen,
		VerifyBinding: cfg.Reconcile.VerifyBinding,
		Logger:        logger,
		Metrics:       metrics.New(reg),
	})

	return &App{
		Store:     store,
		Blobs:     blobs,
		Runtime:   rt,
		Registry:  reg,
		Workspace: ws,
	}, nil
}

// Close releases the app's resources.
func (a *App) Close() error {
	return errors.Join(a.Runtime.Close(), a.Blobs.Close(), a.Store.Close())
}
