package tandem

import (
	"context"
	"errors"
	"testing"
)

func TestToolServer(t *testing.T) {
	srv := NewToolServer(mockTool{})

	defs := srv.Definitions()
	if len(defs) != 1 || defs[0].Name != "greet" {
		t.Fatalf("expected 1 definition 'greet', got %v", defs)
	}

	res, err := srv.Execute(context.Background(), "greet", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "hello from greet" {
		t.Errorf("expected 'hello from greet', got %q", res.Content)
	}

	res, _ = srv.Execute(context.Background(), "nonexistent", nil)
	if res.Error == "" {
		t.Error("expected error for unknown tool")
	}
}

func TestToolServerAddDuplicateIsAtomic(t *testing.T) {
	srv := NewToolServer(mockTool{})

	err := srv.Add(mockToolCalc{}, mockTool{})
	var exists *ToolExistsError
	if !errors.As(err, &exists) {
		t.Fatalf("Add error = %v, want *ToolExistsError", err)
	}
	if exists.Name != "greet" {
		t.Errorf("Name = %q, want greet", exists.Name)
	}
	if srv.Has("calc") {
		t.Error("partial registration: calc was added despite the failure")
	}
}

func TestToolServerRemove(t *testing.T) {
	srv := NewToolServer(mockTool{}, mockToolCalc{})
	if err := srv.Remove("greet"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if srv.Has("greet") {
		t.Error("greet still registered")
	}
	if defs := srv.Definitions(); len(defs) != 1 || defs[0].Name != "calc" {
		t.Errorf("Definitions = %v, want [calc]", defs)
	}

	err := srv.Remove("greet", "calc")
	var missing *ToolNotFoundError
	if !errors.As(err, &missing) || missing.Name != "greet" {
		t.Errorf("Remove error = %v, want ToolNotFoundError{greet}", err)
	}
	if srv.Has("calc") {
		t.Error("calc should be removed even when another name is missing")
	}
}

func TestToolServerMultiFunctionTool(t *testing.T) {
	srv := NewToolServer(multiTool{})
	defs := srv.Definitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "beta" {
		t.Fatalf("Definitions = %v", defs)
	}
	res, _ := srv.Execute(context.Background(), "beta", nil)
	if res.Content != "multi:beta" {
		t.Errorf("Content = %q", res.Content)
	}
}
