package config

import (
	"fmt"
	"slices"
	"strings"
)

// Output formats accepted by --output.
var outputFormats = []string{"text", "json", "markdown"}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.StatePath == "" {
		return fmt.Errorf("state_path is required")
	}

	switch strings.ToLower(c.Blob.Backend) {
	case "badger":
		if c.Blob.Path == "" {
			return fmt.Errorf("blob.path is required for the badger backend")
		}
	case "gcs":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket is required for the gcs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown blob backend %q (available: badger, gcs, memory)", c.Blob.Backend)
	}

	if !slices.Contains(outputFormats, c.OutputFormat) {
		return fmt.Errorf("unknown output format %q (available: %s)", c.OutputFormat, strings.Join(outputFormats, ", "))
	}

	if c.Codegen.Timeout < 0 {
		return fmt.Errorf("codegen.timeout must not be negative")
	}
	if c.Codegen.Temperature < 0 || c.Codegen.Temperature > 2 {
		return fmt.Errorf("codegen.temperature must be between 0 and 2")
	}
	return nil
}

// ValidateCodegen checks that some code generator can be built. Commands
// that never generate code skip it.
func (c *Config) ValidateCodegen() error {
	if c.Codegen.Remote() {
		return nil
	}
	if c.Codegen.APIKey == "" {
		return fmt.Errorf("no code generator configured\nHint: set codegen.url to a running generation service, or export GROQ_API_KEY")
	}
	return nil
}
