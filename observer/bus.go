package observer

import (
	"context"
	"sync"
	"time"

	"github.com/nevindra/tandem"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
)

// BusWatcher subscribes to a process event bus and records event counts,
// branch and worker lifetimes, and the number of running processes.
type BusWatcher struct {
	inst *Instruments
	sub  *tandem.Subscription
	done chan struct{}

	mu      sync.Mutex
	started map[tandem.ProcessID]time.Time
	seen    int64
}

// WatchBus starts recording metrics for every event published on bus.
// Close the watcher (or the bus) to stop.
func WatchBus(bus *tandem.EventBus, inst *Instruments) *BusWatcher {
	w := &BusWatcher{
		inst:    inst,
		sub:     bus.Subscribe(),
		done:    make(chan struct{}),
		started: make(map[tandem.ProcessID]time.Time),
	}
	go w.run()
	return w
}

func (w *BusWatcher) run() {
	defer close(w.done)
	ctx := context.Background()
	for ev := range w.sub.Events() {
		w.record(ctx, ev)
	}
}

func (w *BusWatcher) record(ctx context.Context, ev tandem.ProcessEvent) {
	kind := tandem.EventKind(ev)
	pid, terminal := processOf(ev)

	w.inst.ProcessEvents.Add(ctx, 1, metric.WithAttributes(
		AttrEventKind.String(kind),
		AttrProcessType.String(pid.Type.String()),
	))

	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen++

	if pid.Type == tandem.ProcessChannel {
		return
	}
	start, known := w.started[pid]
	if !terminal {
		if !known {
			w.started[pid] = time.Now()
			w.inst.ActiveProcesses.Add(ctx, 1, metric.WithAttributes(AttrProcessType.String(pid.Type.String())))
		}
		return
	}

	attrs := metric.WithAttributes(AttrProcessType.String(pid.Type.String()))
	if known {
		delete(w.started, pid)
		w.inst.ActiveProcesses.Add(ctx, -1, attrs)
		w.inst.ProcessDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	}

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("process finished"))
	rec.AddAttributes(
		otellog.String("process.type", pid.Type.String()),
		otellog.String("process.id", pid.ID),
		otellog.String("process.event", kind),
	)
	w.inst.Logger.Emit(ctx, rec)
}

// processOf returns the process an event belongs to and whether the event
// ends that process.
func processOf(ev tandem.ProcessEvent) (tandem.ProcessID, bool) {
	switch e := ev.(type) {
	case tandem.StatusUpdateEvent:
		return e.ProcessID, false
	case tandem.ToolStartedEvent:
		return e.ProcessID, false
	case tandem.ToolCompletedEvent:
		return e.ProcessID, false
	case tandem.WorkerStatusEvent:
		return tandem.WorkerProcess(e.WorkerID), false
	case tandem.BranchResultEvent:
		return tandem.BranchProcess(e.BranchID), true
	case tandem.WorkerCompleteEvent:
		return tandem.WorkerProcess(e.WorkerID), true
	default:
		return tandem.ProcessID{}, false
	}
}

// Active returns the number of branches and workers seen but not yet finished.
func (w *BusWatcher) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.started)
}

// Seen returns the number of events recorded so far.
func (w *BusWatcher) Seen() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seen
}

// Dropped returns how many observability events the bus dropped for this
// watcher because it fell behind.
func (w *BusWatcher) Dropped() int64 { return w.sub.Dropped() }

// Done is closed once the watcher has stopped recording.
func (w *BusWatcher) Done() <-chan struct{} { return w.done }

// Close detaches from the bus and waits for pending events to be recorded.
func (w *BusWatcher) Close() {
	w.sub.Close()
	<-w.done
}
