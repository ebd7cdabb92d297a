package skill

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSkill(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParse(t *testing.T) {
	sk, err := Parse([]byte("---\nname: reviewer\ndescription: Reviews code\ntags: [go, review]\n---\n\nCheck errors.\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if sk.Name != "reviewer" || sk.Description != "Reviews code" || len(sk.Tags) != 2 {
		t.Errorf("skill = %+v", sk)
	}
	if sk.Instructions != "Check errors." {
		t.Errorf("Instructions = %q", sk.Instructions)
	}
}

func TestParseWithoutFrontmatter(t *testing.T) {
	sk, err := Parse([]byte("Just do it.\n"))
	if err != nil || sk.Instructions != "Just do it." || sk.Name != "" {
		t.Errorf("sk = %+v, err = %v", sk, err)
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse([]byte("---\nname: x\nno end")); err == nil {
		t.Error("expected error for unterminated frontmatter")
	}
	if _, err := Parse([]byte("---\nname: [unclosed\n---\nbody")); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, filepath.Join(dir, "deploy", "SKILL.md"), "---\ndescription: Ship a release\n---\nRun make release.")
	writeSkill(t, filepath.Join(dir, "notes.md"), "---\nname: note-taker\ndescription: Keeps notes\n---\nWrite notes.")
	writeSkill(t, filepath.Join(dir, "README.txt"), "ignored")
	if err := os.Mkdir(filepath.Join(dir, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	set, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	names := []string{}
	for _, sk := range set.List() {
		names = append(names, sk.Name)
	}
	if strings.Join(names, ",") != "deploy,note-taker" {
		t.Errorf("names = %v", names)
	}
	got, err := set.Instructions("deploy")
	if err != nil || got != "Run make release." {
		t.Errorf("Instructions = %q, %v", got, err)
	}
	if _, err := set.Instructions("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLoadMissingDir(t *testing.T) {
	set, err := Load(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatal(err)
	}
	if set.Render() != "" {
		t.Error("empty set should render nothing")
	}
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, filepath.Join(dir, "b.md"), "---\nname: b\ndescription: second\n---\nx")
	writeSkill(t, filepath.Join(dir, "a.md"), "---\nname: a\n---\ny")
	set, _ := Load(dir)

	out := set.Render()
	if !strings.HasPrefix(out, "## Available Skills") {
		t.Errorf("Render = %q", out)
	}
	if strings.Index(out, "**a**") > strings.Index(out, "**b**: second") {
		t.Errorf("skills not sorted: %q", out)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	set, _ := Load(dir)
	if _, err := set.Save(Skill{Name: "triage", Description: "Sort issues", Instructions: "Label by area.", Tags: []string{"ops"}}); err != nil {
		t.Fatal(err)
	}
	reloaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	sk, ok := reloaded.Get("triage")
	if !ok || sk.Description != "Sort issues" || sk.Instructions != "Label by area." || sk.Tags[0] != "ops" {
		t.Errorf("reloaded = %+v", sk)
	}
}

func TestSaveRejectsBadNames(t *testing.T) {
	set, _ := Load(t.TempDir())
	for _, name := range []string{"", "../escape", "Upper", "has space"} {
		if _, err := set.Save(Skill{Name: name}); err == nil {
			t.Errorf("Save(%q) succeeded", name)
		}
	}
}

func TestSearch(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, filepath.Join(dir, "a.md"), "---\nname: go-review\ndescription: Review Go code\n---\nx")
	writeSkill(t, filepath.Join(dir, "b.md"), "---\nname: deploy\ndescription: Deploy code\ntags: [ops]\n---\ny")
	set, _ := Load(dir)

	hits := set.Search("review go code", 0)
	if len(hits) != 2 || hits[0].Name != "go-review" {
		t.Errorf("hits = %+v", hits)
	}
	if hits := set.Search("ops", 1); len(hits) != 1 || hits[0].Name != "deploy" {
		t.Errorf("tag hits = %+v", hits)
	}
	if hits := set.Search("kubernetes", 5); len(hits) != 0 {
		t.Errorf("unexpected hits = %+v", hits)
	}
}
