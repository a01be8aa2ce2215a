package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/croftlabs/croft/schema"
)

// BashTool executes shell commands in the working directory. Shell
// interpretation (pipes, redirects, expansion) is intentional, and command
// content is not path-sandboxed: the shell is the user's own trust boundary.
// Only the process working directory is pinned to the sandbox root. An
// optional allowlist of command regexes narrows that boundary when
// configured.
type BashTool struct {
	sandbox         *Sandbox
	defaultTimeout  time.Duration
	allowedCommands []string
}

// NewBashTool creates a bash tool. timeout zero means the 600s default.
func NewBashTool(sandbox *Sandbox, timeout time.Duration, allowedCommands []string) *BashTool {
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	return &BashTool{sandbox: sandbox, defaultTimeout: timeout, allowedCommands: allowedCommands}
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Description() string {
	desc := "Execute a shell command in the working directory. Args: command (string), optional timeout (seconds)."
	if len(t.allowedCommands) > 0 {
		var sb strings.Builder
		sb.WriteString(desc)
		sb.WriteString("\nAllowed command patterns:\n")
		for _, p := range t.allowedCommands {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
		return sb.String()
	}
	return desc
}

var bashSchema = schema.MustCompile(schema.Object(map[string]*schema.Property{
	"command": schema.String("Shell command to run"),
	"timeout": schema.Integer("Timeout in seconds").Min(1),
}, "command"))

func (t *BashTool) Schema() *schema.Schema { return bashSchema }

func (t *BashTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command, err := stringArg(args, "command")
	if err != nil {
		return "", err
	}
	if len(t.allowedCommands) > 0 {
		if !commandAllowed(command, t.allowedCommands) {
			return "", fmt.Errorf("%w: %q", ErrCommandNotAllowed, command)
		}
	}

	timeout := t.defaultTimeout
	if secs := optionalIntArg(args, "timeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.sandbox.Root()
	// Own process group, so the timeout can reap the whole pipeline, not
	// just the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("%w after %s: %q", ErrTimedOut, timeout, command)
	}

	out := formatCommandOutput(stdout.String(), stderr.String())
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			return "", fmt.Errorf("command exited with code %d after %s\n%s", exitErr.ExitCode(), elapsed.Round(time.Millisecond), out)
		}
		return "", fmt.Errorf("command failed to start: %w", runErr)
	}
	if out == "" {
		return "(no output)", nil
	}
	return out, nil
}

func formatCommandOutput(stdout, stderr string) string {
	switch {
	case stderr == "":
		return stdout
	case stdout == "":
		return "stderr:\n" + stderr
	default:
		return stdout + "\nstderr:\n" + stderr
	}
}

// commandAllowed checks the command against the allowlist regexes, falling
// back to literal comparison for patterns that fail to compile.
func commandAllowed(command string, allowed []string) bool {
	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			if command == pattern {
				return true
			}
			continue
		}
		if re.MatchString(command) {
			return true
		}
	}
	return false
}
