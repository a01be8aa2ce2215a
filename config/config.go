// Package config loads croft configuration from YAML files. A user-level
// file under ~/.croft is read first and a project-level .croft/config.yaml
// overrides it, field by field.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/croftlabs/croft/errors"
)

// FilesystemAccess restricts what the file tools may touch inside the
// working directory. Patterns are doublestar globs relative to the root.
type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

// MCPServer describes an MCP server subprocess whose tools are offered to
// the model alongside the built-ins.
type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Truncation bounds the conversation context fed to the provider.
type Truncation struct {
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// Config is the full croft configuration.
type Config struct {
	Provider     string `yaml:"provider"` // anthropic, openai, gemini, bedrock
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`

	WorkingDir    string `yaml:"working_dir"`
	MaxIterations int    `yaml:"max_iterations"`
	MaxTokens     int    `yaml:"max_tokens"`

	MaxFileBytes          int64 `yaml:"max_file_bytes"`
	CommandTimeoutSeconds int   `yaml:"command_timeout_seconds"`

	AllowedCommands  []string         `yaml:"allowed_commands"`
	FilesystemAccess FilesystemAccess `yaml:"filesystem_access"`
	MCPServers       []MCPServer      `yaml:"mcp_servers"`

	SessionDir string     `yaml:"session_dir"`
	Truncation Truncation `yaml:"truncation"`
}

// Defaults that apply before any file is read.
const (
	DefaultMaxIterations    = 20
	DefaultMaxTokens        = 4096
	DefaultMaxFileBytes     = 1 << 20 // 1 MiB read ceiling
	DefaultCommandTimeout   = 600 * time.Second
	DefaultMaxContextTokens = 100000
)

func defaults() *Config {
	return &Config{
		Provider:              "anthropic",
		MaxIterations:         DefaultMaxIterations,
		MaxTokens:             DefaultMaxTokens,
		MaxFileBytes:          DefaultMaxFileBytes,
		CommandTimeoutSeconds: int(DefaultCommandTimeout / time.Second),
		SessionDir:            filepath.Join(".croft", "sessions"),
		Truncation:            Truncation{MaxContextTokens: DefaultMaxContextTokens},
		FilesystemAccess: FilesystemAccess{
			// The agent's own state directory is never shown to the model.
			Hidden: []string{".croft", ".croft/**"},
		},
	}
}

// Load reads the user-level and project-level config files, the latter
// overriding the former. Missing files are fine; defaults fill the gaps.
func Load() (*Config, error) {
	cfg := defaults()

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, ".croft", "config.yaml")
		if _, err := os.Stat(userPath); err == nil {
			if err := loadFromFile(userPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectPath := filepath.Join(wd, ".croft", "config.yaml")
	if _, err := os.Stat(projectPath); err == nil {
		if err := loadFromFile(projectPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "loading project config")
		}
	}

	if cfg.WorkingDir == "" {
		cfg.WorkingDir = wd
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites only the fields present in the YAML, which gives
	// the project-over-user merge.
	return yaml.Unmarshal(data, cfg)
}

// CommandTimeout returns the configured shell timeout as a duration.
func (c *Config) CommandTimeout() time.Duration {
	if c.CommandTimeoutSeconds <= 0 {
		return DefaultCommandTimeout
	}
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}
