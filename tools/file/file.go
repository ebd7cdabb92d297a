// Package file gives workers read, write and list access to the agent
// workspace. Every path resolves through an os.Root, so neither ".." nor
// symlinks can reach outside it.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/nevindra/tandem"
)

const maxReadBytes = 20_000

// Tool provides workspace-scoped file access.
type Tool struct {
	workspace string
}

var _ tandem.Tool = (*Tool)(nil)

// New creates a file tool restricted to workspace.
func New(workspace string) *Tool {
	return &Tool{workspace: workspace}
}

func (t *Tool) Definitions() []tandem.ToolDefinition {
	return []tandem.ToolDefinition{
		{
			Name:        "file_read",
			Description: "Read a file from the workspace. Large files are truncated.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to the workspace"}},"required":["path"]}`),
		},
		{
			Name:        "file_write",
			Description: "Write content to a file in the workspace, replacing it. Parent directories are created.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to the workspace"},"content":{"type":"string","description":"Content to write"}},"required":["path","content"]}`),
		},
		{
			Name:        "file_list",
			Description: "List a workspace directory. Directories end with /.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Directory relative to the workspace (default: workspace root)"}}}`),
		},
	}
}

func (t *Tool) Execute(_ context.Context, name string, args json.RawMessage) (tandem.ToolResult, error) {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return tandem.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	path, err := clean(params.Path, name == "file_list")
	if err != nil {
		return tandem.ToolResult{Error: err.Error()}, nil
	}

	root, err := os.OpenRoot(t.workspace)
	if err != nil {
		return tandem.ToolResult{Error: "open workspace: " + err.Error()}, nil
	}
	defer root.Close()

	switch name {
	case "file_read":
		return read(root, path), nil
	case "file_write":
		return write(root, path, params.Content), nil
	case "file_list":
		return list(root, path), nil
	default:
		return tandem.ToolResult{Error: "unknown file tool: " + name}, nil
	}
}

// clean validates a workspace-relative path. Empty means the root only
// when allowRoot is set.
func clean(path string, allowRoot bool) (string, error) {
	if path == "" || path == "." {
		if allowRoot {
			return ".", nil
		}
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}
	path = filepath.Clean(path)
	if path == ".." || strings.HasPrefix(path, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return path, nil
}

func read(root *os.Root, path string) tandem.ToolResult {
	data, err := root.ReadFile(path)
	if err != nil {
		return tandem.ToolResult{Error: "read error: " + err.Error()}
	}
	content := string(data)
	if len(content) > maxReadBytes {
		content = content[:maxReadBytes] + fmt.Sprintf("\n... (truncated, %d bytes total)", len(data))
	}
	return tandem.ToolResult{Content: content}
}

func write(root *os.Root, path, content string) tandem.ToolResult {
	if dir := filepath.Dir(path); dir != "." {
		if err := root.MkdirAll(dir, 0o755); err != nil {
			return tandem.ToolResult{Error: "mkdir error: " + err.Error()}
		}
	}
	if err := root.WriteFile(path, []byte(content), 0o644); err != nil {
		return tandem.ToolResult{Error: "write error: " + err.Error()}
	}
	return tandem.ToolResult{Content: fmt.Sprintf("Written %d bytes to %s", len(content), path)}
}

func list(root *os.Root, path string) tandem.ToolResult {
	entries, err := fs.ReadDir(root.FS(), filepath.ToSlash(path))
	if err != nil {
		return tandem.ToolResult{Error: "list error: " + err.Error()}
	}
	if len(entries) == 0 {
		return tandem.ToolResult{Content: "(empty directory)"}
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&b, "%s/\n", e.Name())
			continue
		}
		size := int64(-1)
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		fmt.Fprintf(&b, "%s (%d bytes)\n", e.Name(), size)
	}
	return tandem.ToolResult{Content: strings.TrimRight(b.String(), "\n")}
}
