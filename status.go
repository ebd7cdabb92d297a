package tandem

import (
	"fmt"
	"strings"
	"sync"
)

const (
	maxStatusLabel  = 80
	maxStatusDetail = 120
)

type branchStatus struct {
	id     BranchID
	label  string
	status string
}

type workerStatus struct {
	id          WorkerID
	task        string
	interactive bool
	status      string
}

type toolActivity struct {
	process  ProcessID
	tool     string
	finished bool
}

// StatusBlock is a live projection of what is currently running for a
// channel: active branches, active workers, and the most recent tool
// activity. It is rendered into every channel system prompt.
// All methods are safe for concurrent use.
type StatusBlock struct {
	mu       sync.RWMutex
	branches []branchStatus
	workers  []workerStatus
	lastTool *toolActivity
}

// NewStatusBlock creates an empty status block.
func NewStatusBlock() *StatusBlock {
	return &StatusBlock{}
}

// AddBranch records an active branch with a short label.
func (s *StatusBlock) AddBranch(id BranchID, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.branches {
		if s.branches[i].id == id {
			s.branches[i].label = truncateRunes(label, maxStatusLabel)
			return
		}
	}
	s.branches = append(s.branches, branchStatus{id: id, label: truncateRunes(label, maxStatusLabel)})
}

// AddWorker records an active worker.
func (s *StatusBlock) AddWorker(id WorkerID, task string, interactive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.workers {
		if s.workers[i].id == id {
			return
		}
	}
	s.workers = append(s.workers, workerStatus{
		id:          id,
		task:        truncateRunes(task, maxStatusLabel),
		interactive: interactive,
		status:      "running",
	})
}

// RemoveBranch drops a branch entry. Missing ids are ignored.
func (s *StatusBlock) RemoveBranch(id BranchID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeBranchLocked(id)
}

// RemoveWorker drops a worker entry. Missing ids are ignored.
func (s *StatusBlock) RemoveWorker(id WorkerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeWorkerLocked(id)
}

// Update folds a process event into the block.
func (s *StatusBlock) Update(ev ProcessEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case StatusUpdateEvent:
		s.setStatusLocked(e.ProcessID, e.Status)
	case WorkerStatusEvent:
		s.setStatusLocked(WorkerProcess(e.WorkerID), e.Status)
	case ToolStartedEvent:
		s.lastTool = &toolActivity{process: e.ProcessID, tool: e.ToolName}
	case ToolCompletedEvent:
		s.lastTool = &toolActivity{process: e.ProcessID, tool: e.ToolName, finished: true}
	case BranchResultEvent:
		s.removeBranchLocked(e.BranchID)
	case WorkerCompleteEvent:
		s.removeWorkerLocked(e.WorkerID)
	}
}

// Len returns the number of active branch and worker entries.
func (s *StatusBlock) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.branches) + len(s.workers)
}

// Render formats the block as plain text. Output depends only on the
// recorded entries, in insertion order. Returns "" when nothing is active
// and no tool has run.
func (s *StatusBlock) Render() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	if len(s.branches) > 0 {
		b.WriteString("Active branches:\n")
		for _, br := range s.branches {
			fmt.Fprintf(&b, "- [%s] %s", shortID(string(br.id)), br.label)
			if br.status != "" {
				fmt.Fprintf(&b, " (%s)", br.status)
			}
			b.WriteByte('\n')
		}
	}
	if len(s.workers) > 0 {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("Active workers:\n")
		for _, w := range s.workers {
			kind := "worker"
			if w.interactive {
				kind = "interactive"
			}
			fmt.Fprintf(&b, "- [%s] %s (%s, %s)\n", shortID(string(w.id)), w.task, kind, w.status)
		}
	}
	if s.lastTool != nil {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		state := "running"
		if s.lastTool.finished {
			state = "completed"
		}
		fmt.Fprintf(&b, "Last tool: %s (%s) by %s:%s\n",
			s.lastTool.tool, state, s.lastTool.process.Type, shortID(s.lastTool.process.ID))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *StatusBlock) setStatusLocked(pid ProcessID, status string) {
	status = truncateRunes(status, maxStatusDetail)
	switch pid.Type {
	case ProcessBranch:
		for i := range s.branches {
			if string(s.branches[i].id) == pid.ID {
				s.branches[i].status = status
				return
			}
		}
	case ProcessWorker:
		for i := range s.workers {
			if string(s.workers[i].id) == pid.ID {
				s.workers[i].status = status
				return
			}
		}
	}
}

func (s *StatusBlock) removeBranchLocked(id BranchID) {
	for i := range s.branches {
		if s.branches[i].id == id {
			s.branches = append(s.branches[:i], s.branches[i+1:]...)
			return
		}
	}
}

func (s *StatusBlock) removeWorkerLocked(id WorkerID) {
	for i := range s.workers {
		if s.workers[i].id == id {
			s.workers = append(s.workers[:i], s.workers[i+1:]...)
			return
		}
	}
}

// truncateRunes shortens s to at most n runes, appending "..." when cut.
func truncateRunes(s string, n int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
