// Package identity loads an agent's identity files and process prompts from
// its workspace.
package identity

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/nevindra/tandem"
)

//go:embed prompts/*.md
var defaults embed.FS

// Identity holds the optional identity files of an agent.
type Identity struct {
	Soul     string
	Identity string
	User     string
}

// Load reads SOUL.md, IDENTITY.md and USER.md from dir. Missing files are
// left empty; other read errors are returned.
func Load(dir string) (Identity, error) {
	var id Identity
	for name, dst := range map[string]*string{
		"SOUL.md":     &id.Soul,
		"IDENTITY.md": &id.Identity,
		"USER.md":     &id.User,
	} {
		text, err := readOptional(filepath.Join(dir, name))
		if err != nil {
			return Identity{}, err
		}
		*dst = text
	}
	return id, nil
}

// Render formats the identity for a system prompt, or "" when empty.
func (id Identity) Render() string {
	var b strings.Builder
	for _, s := range []struct{ title, body string }{
		{"Soul", id.Soul},
		{"Identity", id.Identity},
		{"User", id.User},
	} {
		if s.body == "" {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", s.title, s.body)
	}
	return strings.TrimRight(b.String(), "\n")
}

// LoadPrompts resolves each process prompt from workspace/prompts, then
// shared, then the built-in default. Identity is left empty.
func LoadPrompts(workspace, shared string) (tandem.Prompts, error) {
	var p tandem.Prompts
	for name, dst := range map[string]*string{
		"CHANNEL":   &p.Channel,
		"BRANCH":    &p.Branch,
		"WORKER":    &p.Worker,
		"COMPACTOR": &p.Compactor,
	} {
		text, err := loadPrompt(name, workspace, shared)
		if err != nil {
			return tandem.Prompts{}, err
		}
		*dst = text
	}
	return p, nil
}

func loadPrompt(name, workspace, shared string) (string, error) {
	file := name + ".md"
	var candidates []string
	if workspace != "" {
		candidates = append(candidates, filepath.Join(workspace, "prompts", file))
	}
	if shared != "" {
		candidates = append(candidates, filepath.Join(shared, file))
	}
	for _, path := range candidates {
		text, err := readOptional(path)
		if err != nil {
			return "", err
		}
		if text != "" {
			return text, nil
		}
	}
	data, err := defaults.ReadFile("prompts/" + file)
	if err != nil {
		return "", fmt.Errorf("prompt %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func readOptional(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
