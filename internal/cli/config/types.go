// Package config provides configuration management for the csvchat CLI.
//
// Values are layered with koanf: built-in defaults, then csvchat.yaml, then
// CSVCHAT_ environment variables, then explicitly set command-line flags.
package config

import "time"

// BlobConfig selects the durable store for uploaded file bytes.
type BlobConfig struct {
	Backend         string `koanf:"backend"`
	Path            string `koanf:"path"`
	Bucket          string `koanf:"bucket"`
	Prefix          string `koanf:"prefix"`
	CredentialsFile string `koanf:"credentials_file"`
}

// RuntimeConfig holds analysis runtime settings.
type RuntimeConfig struct {
	// WorkDir is the virtual file namespace. Empty uses a temporary
	// directory that is removed on exit.
	WorkDir  string `koanf:"work_dir"`
	MaxSteps uint64 `koanf:"max_steps"`
}

// CodegenConfig configures code generation.
//
// When URL is set the remote service is called. Otherwise the OpenAI
// compatible API is used in-process with APIKey.
type CodegenConfig struct {
	URL         string        `koanf:"url"`
	Timeout     time.Duration `koanf:"timeout"`
	APIKey      string        `koanf:"api_key"`
	BaseURL     string        `koanf:"base_url"`
	Model       string        `koanf:"model"`
	Temperature float32       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
	// Listen is the address used by `codegen serve`.
	Listen string `koanf:"listen"`
}

// Remote reports whether generation goes through a remote service.
func (c CodegenConfig) Remote() bool {
	return c.URL != ""
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr          string `koanf:"addr"`
	SessionSecret string `koanf:"session_secret"`
}

// ReconcileConfig holds reconciliation settings.
type ReconcileConfig struct {
	VerifyBinding bool `koanf:"verify_binding"`
}

// Config holds all CLI configuration options.
type Config struct {
	StatePath    string          `koanf:"state_path"`
	Verbose      bool            `koanf:"verbose"`
	OutputFormat string          `koanf:"output"`
	Blob         BlobConfig      `koanf:"blob"`
	Runtime      RuntimeConfig   `koanf:"runtime"`
	Codegen      CodegenConfig   `koanf:"codegen"`
	Server       ServerConfig    `koanf:"server"`
	Reconcile    ReconcileConfig `koanf:"reconcile"`
}

// Default configuration values.
const (
	DefaultStateFile     = ".csvchat/state.db"
	DefaultBlobDir       = ".csvchat/blobs"
	DefaultBlobBackend   = "badger"
	DefaultOutput        = "text"
	DefaultMaxSteps      = 10_000_000
	DefaultCodegenListen = "127.0.0.1:8000"
	DefaultServerAddr    = "127.0.0.1:8765"
	DefaultTimeout       = 60 * time.Second
	DefaultBaseURL       = "https://api.groq.com/openai/v1"
	DefaultModel         = "moonshotai/kimi-k2-instruct-0905"
	DefaultAPIKey        = "${GROQ_API_KEY}"
	devSessionSecret     = "csvchat-dev-secret-change-in-production" //nolint:gosec
)

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		StatePath:    DefaultStateFile,
		OutputFormat: DefaultOutput,
		Blob: BlobConfig{
			Backend: DefaultBlobBackend,
			Path:    DefaultBlobDir,
		},
		Runtime: RuntimeConfig{MaxSteps: DefaultMaxSteps},
		Codegen: CodegenConfig{
			Timeout: DefaultTimeout,
			APIKey:  DefaultAPIKey,
			BaseURL: DefaultBaseURL,
			Model:   DefaultModel,
			Listen:  DefaultCodegenListen,
		},
		Server: ServerConfig{
			Addr:          DefaultServerAddr,
			SessionSecret: devSessionSecret,
		},
		Reconcile: ReconcileConfig{VerifyBinding: true},
	}
}
