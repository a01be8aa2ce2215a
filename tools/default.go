package tools

import (
	"github.com/croftlabs/croft/config"
)

// NewDefaultRegistry builds the standard tool set over a sandbox rooted at
// the configured working directory.
func NewDefaultRegistry(cfg *config.Config) (*Registry, error) {
	sandbox, err := NewSandbox(cfg.WorkingDir, cfg.FilesystemAccess)
	if err != nil {
		return nil, err
	}

	r := NewRegistry()
	builtins := []Tool{
		NewReadTool(sandbox, cfg.MaxFileBytes),
		NewWriteTool(sandbox),
		NewEditTool(sandbox),
		NewBashTool(sandbox, cfg.CommandTimeout(), cfg.AllowedCommands),
		NewGlobTool(sandbox),
		NewGrepTool(sandbox),
	}
	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}
