package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// loggerKey is used to store logger in context.
type loggerKey struct{}

// EnvPrefix is the prefix of environment overrides. A double underscore
// separates nested keys: CSVCHAT_BLOB__BACKEND sets blob.backend.
const EnvPrefix = "CSVCHAT_"

// configNames are searched in the working directory when no file is given.
var configNames = []string{"csvchat.yaml", "csvchat.yml"}

// flagKeys maps flag names whose config key is not the snake_case form.
var flagKeys = map[string]string{
	"state":        "state_path",
	"blob-backend": "blob.backend",
	"blob-path":    "blob.path",
	"work-dir":     "runtime.work_dir",
	"codegen-url":  "codegen.url",
	"addr":         "server.addr",
	"listen":       "codegen.listen",
	"model":        "codegen.model",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Package-level koanf instance and config file tracking
var (
	k              = koanf.New(".")
	configFileUsed string
	currentConfig  *Config
)

// findConfigFile finds the config file to use.
// Priority: explicit path > csvchat.yaml > csvchat.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range configNames {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
	currentConfig = nil
}

func defaultsMap() map[string]interface{} {
	d := Defaults()
	return map[string]interface{}{
		"state_path":               d.StatePath,
		"verbose":                  d.Verbose,
		"output":                   d.OutputFormat,
		"blob.backend":             d.Blob.Backend,
		"blob.path":                d.Blob.Path,
		"runtime.max_steps":        d.Runtime.MaxSteps,
		"codegen.timeout":          d.Codegen.Timeout,
		"codegen.api_key":          d.Codegen.APIKey,
		"codegen.base_url":         d.Codegen.BaseURL,
		"codegen.model":            d.Codegen.Model,
		"codegen.listen":           d.Codegen.Listen,
		"server.addr":              d.Server.Addr,
		"server.session_secret":    d.Server.SessionSecret,
		"reconcile.verify_binding": d.Reconcile.VerifyBinding,
	}
}

// LoadConfig loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k = koanf.New(".")

	// 1. Load defaults
	if err := k.Load(confmap.Provider(defaultsMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Find and load config file
	configFileUsed = findConfigFile(cfgFile)
	baseDir, _ := os.Getwd()
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
		if abs, err := filepath.Abs(configFileUsed); err == nil {
			baseDir = filepath.Dir(abs)
		}
	}

	// 3. Load environment variables
	// Transform: CSVCHAT_BLOB__BACKEND -> blob.backend
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority)
	var flagPaths map[string]bool
	if flags != nil {
		flagPaths = map[string]bool{}
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			flagPaths[key] = true
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// 6. Resolve relative paths. Flag values are relative to the working
	// directory, file values to the file's directory.
	resolve := func(key, path string) string {
		if flagPaths[key] {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
		return resolvePathRelativeTo(path, baseDir)
	}
	cfg.StatePath = resolve("state_path", cfg.StatePath)
	cfg.Blob.Path = resolve("blob.path", cfg.Blob.Path)
	cfg.Runtime.WorkDir = resolve("runtime.work_dir", cfg.Runtime.WorkDir)

	expandSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	currentConfig = &cfg
	return &cfg, nil
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the currently loaded configuration.
// This is available after LoadConfig is called.
func GetCurrentConfig() *Config {
	return currentConfig
}

// LoggerKey returns the context key used for storing the logger.
// This allows the commands package to retrieve the logger from context
// without creating an import cycle with the cli package.
func LoggerKey() interface{} {
	return loggerKey{}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// NewLogger builds the CLI logger. Logs go to w as text, at debug level
// when verbose is set.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}

// expandSecrets expands environment variables in sensitive fields.
// An API key that still references an unset variable is cleared.
func expandSecrets(cfg *Config) {
	cfg.Codegen.APIKey = expandEnvVars(cfg.Codegen.APIKey)
	if envVarPattern.MatchString(cfg.Codegen.APIKey) {
		cfg.Codegen.APIKey = ""
	}
	cfg.Codegen.URL = expandEnvVars(cfg.Codegen.URL)
	cfg.Server.SessionSecret = expandEnvVars(cfg.Server.SessionSecret)
	cfg.Blob.Bucket = expandEnvVars(cfg.Blob.Bucket)
	cfg.Blob.CredentialsFile = expandEnvVars(cfg.Blob.CredentialsFile)
}
