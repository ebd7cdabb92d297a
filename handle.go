package tandem

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// TaskState represents the execution state of a branch or worker task.
type TaskState int32

const (
	// TaskPending indicates the task has been created but has not started.
	TaskPending TaskState = iota
	// TaskRunning indicates the task function is in progress.
	TaskRunning
	// TaskCompleted indicates the task finished successfully.
	TaskCompleted
	// TaskFailed indicates the task returned an error or panicked.
	TaskFailed
	// TaskCancelled indicates the task was cancelled via Cancel() or its parent context.
	TaskCancelled
)

// String returns the state name.
func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state is a final state.
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// TaskFunc is the body of a background task. It returns the task's text
// output (a branch conclusion or a worker result).
type TaskFunc func(ctx context.Context) (string, error)

// TaskHandle tracks one background branch or worker execution.
// All methods are safe for concurrent use.
type TaskHandle struct {
	process ProcessID
	state   atomic.Int32
	result  string
	err     error
	done    chan struct{}
	cancel  context.CancelFunc
	logger  *slog.Logger
}

// spawnTask runs fn in a new goroutine under a child of ctx. Panics are
// recovered and reported as failures. onExit runs exactly once, after the
// handle reaches a terminal state and before Done is closed, whatever the
// outcome.
func spawnTask(ctx context.Context, process ProcessID, logger *slog.Logger, fn TaskFunc, onExit func(*TaskHandle)) *TaskHandle {
	if logger == nil {
		logger = nopLogger
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &TaskHandle{
		process: process,
		done:    make(chan struct{}),
		cancel:  cancel,
		logger:  logger,
	}
	h.state.Store(int32(TaskPending))

	go func() {
		defer cancel()
		start := time.Now()
		result, err := h.run(ctx, fn)

		// Write result/err before close(done); the close is the
		// happens-before barrier for every reader.
		h.result = result
		h.err = err
		switch {
		case ctx.Err() != nil && err != nil:
			h.state.Store(int32(TaskCancelled))
			logger.Info("task cancelled", "process_id", process.String(), "duration", time.Since(start))
		case err != nil:
			h.state.Store(int32(TaskFailed))
			logger.Error("task failed", "process_id", process.String(), "error", err, "duration", time.Since(start))
		default:
			h.state.Store(int32(TaskCompleted))
			logger.Info("task completed", "process_id", process.String(), "duration", time.Since(start))
		}
		if onExit != nil {
			onExit(h)
		}
		close(h.done)
	}()
	return h
}

func (h *TaskHandle) run(ctx context.Context, fn TaskFunc) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			h.logger.Error("task panic", "process_id", h.process.String(), "panic", fmt.Sprintf("%v", p))
			result, err = "", fmt.Errorf("panic: %v", p)
		}
	}()
	h.state.Store(int32(TaskRunning))
	return fn(ctx)
}

// Process returns the process this task executes.
func (h *TaskHandle) Process() ProcessID { return h.process }

// State returns the current execution state.
func (h *TaskHandle) State() TaskState { return TaskState(h.state.Load()) }

// Done returns a channel closed when execution finishes.
func (h *TaskHandle) Done() <-chan struct{} { return h.done }

// Await blocks until the task completes or ctx is cancelled.
func (h *TaskHandle) Await(ctx context.Context) (string, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Result returns the output and error. Inside onExit, and after Done is
// closed, the values are final; before that they are zero.
func (h *TaskHandle) Result() (string, error) {
	if !h.State().IsTerminal() {
		return "", nil
	}
	return h.result, h.err
}

// Err returns the task error once finished.
func (h *TaskHandle) Err() error {
	_, err := h.Result()
	return err
}

// Cancel requests cancellation. Non-blocking.
func (h *TaskHandle) Cancel() { h.cancel() }
