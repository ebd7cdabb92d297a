package tandem

import (
	"strings"
	"testing"
)

func TestStatusBlockEmptyRender(t *testing.T) {
	s := NewStatusBlock()
	if got := s.Render(); got != "" {
		t.Errorf("Render() = %q, want empty", got)
	}
}

func TestStatusBlockRenderDeterministic(t *testing.T) {
	s := NewStatusBlock()
	s.AddBranch("aaaaaaaa-1111", "thinking...")
	s.AddWorker("bbbbbbbb-2222", "compile the report", false)
	s.AddWorker("cccccccc-3333", "pair on the refactor", true)
	s.Update(ToolStartedEvent{ProcessID: WorkerProcess("bbbbbbbb-2222"), ToolName: "shell_exec"})

	want := "Active branches:\n" +
		"- [aaaaaaaa] thinking...\n" +
		"\n" +
		"Active workers:\n" +
		"- [bbbbbbbb] compile the report (worker, running)\n" +
		"- [cccccccc] pair on the refactor (interactive, running)\n" +
		"\n" +
		"Last tool: shell_exec (running) by worker:bbbbbbbb"

	first := s.Render()
	if first != want {
		t.Errorf("Render() =\n%s\nwant\n%s", first, want)
	}
	if second := s.Render(); second != first {
		t.Error("Render() is not idempotent")
	}
}

func TestStatusBlockUpdateVariants(t *testing.T) {
	s := NewStatusBlock()
	s.AddBranch("b1", "thinking...")
	s.AddWorker("w1", "task", false)

	s.Update(StatusUpdateEvent{ProcessID: BranchProcess("b1"), Status: "reading history"})
	s.Update(WorkerStatusEvent{WorkerID: "w1", Status: "step 2 of 3"})
	s.Update(ToolCompletedEvent{ProcessID: BranchProcess("b1"), ToolName: "memory_recall"})

	out := s.Render()
	for _, want := range []string{"(reading history)", "step 2 of 3", "memory_recall (completed) by branch:b1"} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() missing %q:\n%s", want, out)
		}
	}

	s.Update(BranchResultEvent{BranchID: "b1"})
	s.Update(WorkerCompleteEvent{WorkerID: "w1"})
	if s.Len() != 0 {
		t.Errorf("Len() = %d after terminal events, want 0", s.Len())
	}
}

func TestStatusBlockIgnoresUnknownIDs(t *testing.T) {
	s := NewStatusBlock()
	s.AddBranch("b1", "thinking...")
	before := s.Render()
	s.Update(StatusUpdateEvent{ProcessID: BranchProcess("nope"), Status: "x"})
	s.Update(WorkerCompleteEvent{WorkerID: "nope"})
	s.RemoveBranch("nope")
	if got := s.Render(); got != before {
		t.Errorf("unknown ids changed the block:\n%s\nvs\n%s", got, before)
	}
}

func TestStatusBlockTruncatesLabels(t *testing.T) {
	s := NewStatusBlock()
	s.AddWorker("w1", strings.Repeat("x", 500), false)
	if got := s.Render(); len(got) > 200 {
		t.Errorf("Render() length = %d, label was not truncated", len(got))
	}
}

func TestStatusBlockAddIsIdempotent(t *testing.T) {
	s := NewStatusBlock()
	s.AddWorker("w1", "task", false)
	s.AddWorker("w1", "task", false)
	s.AddBranch("b1", "a")
	s.AddBranch("b1", "b")
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}
