// Package shell gives workers a shell_exec tool that runs commands inside
// the agent workspace.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/nevindra/tandem"
)

const (
	defaultTimeout   = 60 * time.Second
	maxTimeout       = 10 * time.Minute
	defaultMaxOutput = 10_000
)

// DefaultBlocklist rejects obviously destructive commands.
var DefaultBlocklist = []string{"rm -rf /", "sudo ", "mkfs", "> /dev/sd", "dd if=", ":(){"}

// Option configures a Tool.
type Option func(*Tool)

// WithTimeout sets the default command timeout (60s).
func WithTimeout(d time.Duration) Option {
	return func(t *Tool) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithMaxOutput caps the returned output in bytes (10000).
func WithMaxOutput(n int) Option {
	return func(t *Tool) {
		if n > 0 {
			t.maxOutput = n
		}
	}
}

// WithBlocklist replaces DefaultBlocklist.
func WithBlocklist(patterns []string) Option {
	return func(t *Tool) { t.blocklist = patterns }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tool) { t.logger = l }
}

// Tool executes shell commands in the workspace.
type Tool struct {
	workspace string
	timeout   time.Duration
	maxOutput int
	blocklist []string
	logger    *slog.Logger
}

var _ tandem.Tool = (*Tool)(nil)

// New creates a shell tool rooted at workspace.
func New(workspace string, opts ...Option) *Tool {
	t := &Tool{
		workspace: workspace,
		timeout:   defaultTimeout,
		maxOutput: defaultMaxOutput,
		blocklist: DefaultBlocklist,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.New(slog.DiscardHandler)
	}
	return t
}

func (t *Tool) Definitions() []tandem.ToolDefinition {
	return []tandem.ToolDefinition{{
		Name: "shell_exec",
		Description: "Execute a shell command in the workspace directory. Returns stdout and stderr. " +
			"Use for running scripts, builds, git, and inspecting the system.",
		Parameters: json.RawMessage(`{"type":"object","properties":{` +
			`"command":{"type":"string","description":"Shell command to execute"},` +
			`"timeout":{"type":"integer","description":"Timeout in seconds (optional)"}},` +
			`"required":["command"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (tandem.ToolResult, error) {
	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return tandem.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if strings.TrimSpace(params.Command) == "" {
		return tandem.ToolResult{Error: "command is required"}, nil
	}
	lower := strings.ToLower(params.Command)
	for _, b := range t.blocklist {
		if strings.Contains(lower, b) {
			t.logger.Warn("shell: command blocked", "pattern", b)
			return tandem.ToolResult{Error: "command blocked for safety: " + strings.TrimSpace(b)}, nil
		}
	}

	timeout := t.timeout
	if params.Timeout > 0 {
		timeout = min(time.Duration(params.Timeout)*time.Second, maxTimeout)
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", params.Command)
	cmd.Dir = t.workspace
	// children of a killed shell may hold the output pipes open
	cmd.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	output := t.truncate(combine(stdout.String(), stderr.String()))
	t.logger.Debug("shell: command finished", "duration", time.Since(start), "error", err)

	if err != nil {
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
			return tandem.ToolResult{Content: output, Error: fmt.Sprintf("command timed out after %s", timeout)}, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return tandem.ToolResult{Content: output, Error: fmt.Sprintf("exit status %d", exitErr.ExitCode())}, nil
		}
		return tandem.ToolResult{Content: output, Error: err.Error()}, nil
	}
	if output == "" {
		output = "(no output)"
	}
	return tandem.ToolResult{Content: output}, nil
}

func combine(stdout, stderr string) string {
	switch {
	case stderr == "":
		return stdout
	case stdout == "":
		return stderr
	default:
		return stdout + "\n--- stderr ---\n" + stderr
	}
}

func (t *Tool) truncate(s string) string {
	if len(s) <= t.maxOutput {
		return s
	}
	return s[:t.maxOutput] + fmt.Sprintf("\n... (truncated, %d bytes total)", len(s))
}
