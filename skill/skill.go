// Package skill loads instruction packages ("skills") from a directory of
// markdown files with YAML frontmatter. A skill lives either in
// <dir>/<name>/SKILL.md or in <dir>/<name>.md:
//
//	---
//	name: code-reviewer
//	description: Reviews Go changes for correctness and style
//	tags: [go, review]
//	---
//	Instructions in markdown...
package skill

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nevindra/tandem"
)

// ErrNotFound is returned for an unknown skill name.
var ErrNotFound = errors.New("skill not found")

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Skill is one instruction package.
type Skill struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Tags         []string `yaml:"tags,omitempty"`
	Instructions string   `yaml:"-"`
	Path         string   `yaml:"-"`
}

// Set is a directory-backed collection of skills. It is safe for
// concurrent use.
type Set struct {
	dir string

	mu     sync.RWMutex
	skills map[string]Skill
}

var _ tandem.SkillSet = (*Set)(nil)

// Load reads every skill under dir. A missing dir yields an empty set.
func Load(dir string) (*Set, error) {
	s := &Set{dir: dir, skills: make(map[string]Skill)}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read skills dir: %w", err)
	}
	for _, e := range entries {
		var path, fallback string
		switch {
		case e.IsDir():
			path = filepath.Join(dir, e.Name(), "SKILL.md")
			fallback = e.Name()
		case strings.HasSuffix(e.Name(), ".md"):
			path = filepath.Join(dir, e.Name())
			fallback = strings.TrimSuffix(e.Name(), ".md")
		default:
			continue
		}
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read skill %s: %w", path, err)
		}
		sk, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse skill %s: %w", path, err)
		}
		if sk.Name == "" {
			sk.Name = fallback
		}
		sk.Path = path
		s.skills[sk.Name] = sk
	}
	return s, nil
}

// Parse splits a skill file into frontmatter and instructions. Files without
// frontmatter are all instructions.
func Parse(data []byte) (Skill, error) {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(data, []byte("---\n")) {
		return Skill{Instructions: strings.TrimSpace(string(data))}, nil
	}
	rest := data[4:]
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return Skill{}, errors.New("unterminated frontmatter")
	}
	var sk Skill
	if err := yaml.Unmarshal(rest[:end], &sk); err != nil {
		return Skill{}, fmt.Errorf("frontmatter: %w", err)
	}
	body := rest[end+len("\n---"):]
	sk.Instructions = strings.TrimSpace(string(body))
	return sk, nil
}

// Marshal renders a skill back to its file form.
func Marshal(sk Skill) ([]byte, error) {
	front, err := yaml.Marshal(sk)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(front)
	b.WriteString("---\n\n")
	b.WriteString(sk.Instructions)
	b.WriteString("\n")
	return b.Bytes(), nil
}

// Get returns a skill by name.
func (s *Set) Get(name string) (Skill, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sk, ok := s.skills[name]
	return sk, ok
}

// Instructions returns the instructions of the named skill.
func (s *Set) Instructions(name string) (string, error) {
	sk, ok := s.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return sk.Instructions, nil
}

// List returns all skills sorted by name.
func (s *Set) List() []Skill {
	s.mu.RLock()
	out := make([]Skill, 0, len(s.skills))
	for _, sk := range s.skills {
		out = append(out, sk)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Skill) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Render lists the skills for a channel prompt, or "" with none.
func (s *Set) Render() string {
	list := s.List()
	if len(list) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Available Skills\n\nPass a skill name to spawn_worker to load its instructions into the worker.\n")
	for _, sk := range list {
		fmt.Fprintf(&b, "\n- **%s**", sk.Name)
		if sk.Description != "" {
			b.WriteString(": " + sk.Description)
		}
	}
	return b.String()
}

// Save writes sk to <dir>/<name>/SKILL.md and adds it to the set,
// replacing any skill of the same name.
func (s *Set) Save(sk Skill) (Skill, error) {
	if !validName.MatchString(sk.Name) {
		return Skill{}, fmt.Errorf("invalid skill name %q: use lowercase letters, digits, - and _", sk.Name)
	}
	if s.dir == "" {
		return Skill{}, errors.New("skills directory not configured")
	}
	data, err := Marshal(sk)
	if err != nil {
		return Skill{}, fmt.Errorf("marshal skill: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.dir, sk.Name, "SKILL.md")
	if old, ok := s.skills[sk.Name]; ok && old.Path != "" {
		path = old.Path
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Skill{}, fmt.Errorf("create skill dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Skill{}, fmt.Errorf("write skill: %w", err)
	}
	sk.Path = path
	s.skills[sk.Name] = sk
	return sk, nil
}

// Search ranks skills by how many query words appear in their name,
// description and tags.
func (s *Set) Search(query string, limit int) []Skill {
	words := strings.Fields(strings.ToLower(query))
	type scored struct {
		sk    Skill
		score int
	}
	var hits []scored
	for _, sk := range s.List() {
		hay := strings.ToLower(sk.Name + " " + sk.Description + " " + strings.Join(sk.Tags, " "))
		score := 0
		for _, w := range words {
			if strings.Contains(hay, w) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{sk, score})
		}
	}
	slices.SortStableFunc(hits, func(a, b scored) int { return b.score - a.score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Skill, len(hits))
	for i, h := range hits {
		out[i] = h.sk
	}
	return out
}
