package tandem

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// workerInputBuffer is how many routed follow-ups may wait for an
// interactive worker.
const workerInputBuffer = 8

// Worker is a delegated task process with an isolated context: it never
// sees the channel conversation, only its task.
type Worker struct {
	ID          WorkerID
	ChannelID   ChannelID // empty when not spawned by a channel
	Task        string
	Interactive bool

	history     *History
	deps        AgentDeps
	system      string
	maxTurns    int
	timeout     time.Duration
	idleTimeout time.Duration
	input       chan string

	mu       sync.Mutex
	finished bool // set once Run returns; Send refuses from then on
}

// NewWorker creates a worker. skillInstructions, when non-empty, are
// appended to the worker system prompt.
func NewWorker(channelID ChannelID, task string, interactive bool, skillInstructions string, deps AgentDeps, cfg ChannelConfig) *Worker {
	w := &Worker{
		ID:          NewWorkerID(),
		ChannelID:   channelID,
		Task:        task,
		Interactive: interactive,
		history:     NewHistory(),
		deps:        deps,
		system:      joinPrompt(deps.Prompts.Worker, skillSection(skillInstructions)),
		maxTurns:    cfg.WorkerMaxTurns,
		timeout:     cfg.WorkerTimeout,
		idleTimeout: cfg.WorkerIdleTimeout,
	}
	if interactive {
		w.input = make(chan string, workerInputBuffer)
	}
	return w
}

func skillSection(instructions string) string {
	if instructions == "" {
		return ""
	}
	return "## Skill Instructions\n\n" + instructions
}

// Send queues a follow-up for an interactive worker without blocking.
func (w *Worker) Send(message string) error {
	if w.input == nil {
		return ErrWorkerNotInteractive
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return fmt.Errorf("%w: %s has finished", ErrWorkerNotFound, w.ID)
	}
	select {
	case w.input <- message:
		return nil
	default:
		return ErrInboxFull
	}
}

// Run executes the task. Interactive workers then keep serving follow-ups
// until the idle timeout passes or ctx ends; the result is the output of
// the last turn.
func (w *Worker) Run(ctx context.Context) (string, error) {
	defer w.finish()
	ctx = WithProcess(ctx, w.ChannelID, WorkerProcess(w.ID))
	ctx, span := startSpan(ctx, w.deps.Tracer, "worker.run",
		StringAttr("worker_id", string(w.ID)),
		StringAttr("channel_id", string(w.ChannelID)),
		BoolAttr("interactive", w.Interactive))
	defer span.End()

	result, err := w.turn(ctx, w.Task)
	if err != nil {
		span.Error(err)
		return "", err
	}
	if !w.Interactive {
		return result, nil
	}

	idle := w.idleTimeout
	if idle <= 0 {
		idle = 5 * time.Minute
	}
	timer := time.NewTimer(idle)
	defer timer.Stop()
	for {
		w.publishStatus("waiting for input")
		select {
		case msg := <-w.input:
			out, err := w.turn(ctx, msg)
			if err != nil {
				span.Error(err)
				return "", err
			}
			result = out
			timer.Reset(idle)
		case <-timer.C:
			if !w.finishIdle() {
				timer.Reset(idle)
				continue
			}
			w.deps.logger().Info("interactive worker idle, finishing", "worker_id", string(w.ID))
			return result, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// finishIdle stops accepting follow-ups unless one arrived while the idle
// timer fired, in which case it reports false and the worker keeps serving.
func (w *Worker) finishIdle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.input) > 0 {
		return false
	}
	w.finished = true
	return true
}

// finish stops accepting follow-ups. Messages still queued are never read.
func (w *Worker) finish() {
	w.mu.Lock()
	w.finished = true
	unread := len(w.input)
	w.mu.Unlock()
	if unread > 0 {
		w.deps.logger().Warn("worker finished with unread input", "worker_id", string(w.ID), "unread", unread)
	}
}

// turn runs one engine call over the worker's own history.
func (w *Worker) turn(ctx context.Context, input string) (string, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	var tools Tool
	if w.deps.WorkerTools != nil {
		tools = w.deps.WorkerTools
	}
	w.publishStatus("working")
	engine := NewEngine(w.deps.Models.Resolve(ProcessWorker),
		EngineLogger(w.deps.logger()),
		EngineTracer(w.deps.Tracer))
	out, err := engine.Prompt(ctx, PromptRequest{
		System:   w.system,
		Input:    input,
		History:  w.history,
		Tools:    tools,
		MaxTurns: w.maxTurns,
		Hook:     w.deps.hook(WorkerProcess(w.ID)),
	})
	if err == nil && w.Interactive {
		w.publishStatus(truncateRunes(out, maxStatusDetail))
	}
	return out, err
}

func (w *Worker) publishStatus(status string) {
	w.deps.publish(WorkerStatusEvent{
		AgentID:   w.deps.AgentID,
		ChannelID: w.ChannelID,
		WorkerID:  w.ID,
		Status:    status,
	})
}

// publishResult emits the worker's single terminal event. A worker stopped
// through Cancel does not notify the channel.
func (w *Worker) publishResult(h *TaskHandle) {
	result, err := h.Result()
	notify := true
	switch h.State() {
	case TaskCancelled:
		result, notify = "Worker cancelled.", false
	case TaskFailed:
		result = "Worker failed: " + err.Error()
	}
	w.deps.publish(WorkerCompleteEvent{
		AgentID:   w.deps.AgentID,
		ChannelID: w.ChannelID,
		WorkerID:  w.ID,
		Result:    result,
		Notify:    notify,
	})
}

// SpawnWorker starts w in the background and returns its handle. The worker
// publishes exactly one WorkerCompleteEvent when it ends.
func SpawnWorker(ctx context.Context, w *Worker) *TaskHandle {
	logger := w.deps.logger().With("worker_id", string(w.ID))
	return spawnTask(ctx, WorkerProcess(w.ID), logger, w.Run, w.publishResult)
}
