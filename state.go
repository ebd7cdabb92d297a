package tandem

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// pendingToolResult stands in for results of tool calls still running when
// a branch snapshot is taken, including the call that spawned the branch.
const pendingToolResult = "(still running when this branch started)"

type workerEntry struct {
	worker *Worker
	handle *TaskHandle
}

// ChannelState is the mutable substrate shared by a channel and the tools it
// exposes during a turn: history, active sub-processes, and the status
// block. Lock order is mu before History.
type ChannelState struct {
	ChannelID ChannelID
	History   *History
	Status    *StatusBlock

	deps      AgentDeps
	cfg       ChannelConfig
	logger    *slog.Logger
	responses chan<- OutboundResponse

	mu       sync.Mutex
	ctx      context.Context // parent of spawned tasks
	branches map[BranchID]*TaskHandle
	workers  map[WorkerID]*workerEntry
}

func newChannelState(id ChannelID, deps AgentDeps, cfg ChannelConfig, history *History, responses chan<- OutboundResponse) *ChannelState {
	return &ChannelState{
		ChannelID: id,
		History:   history,
		Status:    NewStatusBlock(),
		deps:      deps,
		cfg:       cfg,
		logger:    deps.logger().With("channel_id", string(id)),
		responses: responses,
		ctx:       context.Background(),
		branches:  make(map[BranchID]*TaskHandle),
		workers:   make(map[WorkerID]*workerEntry),
	}
}

// setContext makes ctx the parent of every task spawned from now on.
func (s *ChannelState) setContext(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
}

// SpawnBranch starts a branch over a snapshot of the current history.
// Admission, snapshot and registration happen in one critical section, so
// concurrent callers can never exceed the branch limit.
func (s *ChannelState) SpawnBranch(description string) (BranchID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit := s.cfg.MaxConcurrentBranches; len(s.branches) >= limit {
		return "", &BranchLimitError{ChannelID: s.ChannelID, Max: limit}
	}

	snapshot := closeToolCalls(s.History.Snapshot(), pendingToolResult)
	b := newBranch(s.ChannelID, description, snapshot, s.deps, s.cfg)
	s.Status.AddBranch(b.ID, "thinking...")
	logger := s.logger.With("branch_id", string(b.ID))
	s.branches[b.ID] = spawnTask(s.ctx, BranchProcess(b.ID), logger, b.Run, b.publishResult)

	logger.Info("branch spawned", "active_branches", len(s.branches))
	return b.ID, nil
}

// SpawnWorker starts a worker with an isolated context. skill, when set,
// loads that skill's instructions into the worker prompt.
func (s *ChannelState) SpawnWorker(task string, interactive bool, skill string) (WorkerID, error) {
	var instructions string
	if skill != "" {
		if s.deps.Skills == nil {
			return "", fmt.Errorf("skill %q requested but no skills are configured", skill)
		}
		var err error
		if instructions, err = s.deps.Skills.Instructions(skill); err != nil {
			return "", fmt.Errorf("load skill %q: %w", skill, err)
		}
	}

	w := NewWorker(s.ChannelID, task, interactive, instructions, s.deps, s.cfg)

	s.mu.Lock()
	s.Status.AddWorker(w.ID, task, interactive)
	s.workers[w.ID] = &workerEntry{worker: w, handle: SpawnWorker(s.ctx, w)}
	s.mu.Unlock()

	s.trySend(StatusResponse(StatusUpdate{Kind: StatusWorkerStarted, WorkerID: w.ID, Text: task}))
	s.logger.Info("worker spawned", "worker_id", string(w.ID), "interactive", interactive, "skill", skill)
	return w.ID, nil
}

// RouteToWorker delivers a follow-up message to an interactive worker.
func (s *ChannelState) RouteToWorker(id WorkerID, message string) error {
	s.mu.Lock()
	e, ok := s.workers[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	if err := e.worker.Send(message); err != nil {
		return fmt.Errorf("route to worker %s: %w", id, err)
	}
	return nil
}

// Cancel stops an active branch or worker. Its terminal event still arrives
// and removes the bookkeeping entry.
func (s *ChannelState) Cancel(t ProcessType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t {
	case ProcessBranch:
		h, ok := s.branches[BranchID(id)]
		if !ok {
			return fmt.Errorf("%w: %s", ErrBranchNotFound, id)
		}
		h.Cancel()
	case ProcessWorker:
		e, ok := s.workers[WorkerID(id)]
		if !ok {
			return fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
		}
		e.handle.Cancel()
	default:
		return fmt.Errorf("cannot cancel process type %s", t)
	}
	s.logger.Info("process cancel requested", "process_id", ProcessID{Type: t, ID: id}.String())
	return nil
}

// ActiveBranches returns the number of running branches.
func (s *ChannelState) ActiveBranches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.branches)
}

// ActiveWorkers returns the number of running workers.
func (s *ChannelState) ActiveWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

func (s *ChannelState) removeBranch(id BranchID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.branches[id]
	delete(s.branches, id)
	return ok
}

func (s *ChannelState) removeWorker(id WorkerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workers[id]
	delete(s.workers, id)
	return ok
}

// trySend delivers a best-effort status response without blocking.
func (s *ChannelState) trySend(resp OutboundResponse) {
	if s.responses == nil {
		return
	}
	select {
	case s.responses <- resp:
	default:
		s.logger.Debug("outbound status dropped", "kind", resp.Kind.String())
	}
}
