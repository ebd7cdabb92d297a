package tandem

// ProcessEvent is a published occurrence from a channel, branch, or worker.
// The set of variants is closed: StatusUpdateEvent, ToolStartedEvent,
// ToolCompletedEvent, BranchResultEvent, WorkerCompleteEvent and
// WorkerStatusEvent. Events are values; they are never mutated after publish.
type ProcessEvent interface {
	processEvent()
}

// StatusUpdateEvent reports a free-text status change of a process.
type StatusUpdateEvent struct {
	AgentID   AgentID
	ProcessID ProcessID
	Status    string
}

// ToolStartedEvent is published when a process begins a tool call.
type ToolStartedEvent struct {
	AgentID   AgentID
	ProcessID ProcessID
	ToolName  string
}

// ToolCompletedEvent is published when a tool call returns.
type ToolCompletedEvent struct {
	AgentID   AgentID
	ProcessID ProcessID
	ToolName  string
	Result    string
}

// BranchResultEvent is the single terminal event of a branch.
type BranchResultEvent struct {
	AgentID    AgentID
	ChannelID  ChannelID
	BranchID   BranchID
	Conclusion string
}

// WorkerCompleteEvent is the single terminal event of a worker.
// ChannelID is empty for workers not spawned by a channel.
type WorkerCompleteEvent struct {
	AgentID   AgentID
	ChannelID ChannelID
	WorkerID  WorkerID
	Result    string
	Notify    bool
}

// WorkerStatusEvent reports intermediate worker progress.
// ChannelID is empty for workers not spawned by a channel.
type WorkerStatusEvent struct {
	AgentID   AgentID
	ChannelID ChannelID
	WorkerID  WorkerID
	Status    string
}

func (StatusUpdateEvent) processEvent()   {}
func (ToolStartedEvent) processEvent()    {}
func (ToolCompletedEvent) processEvent()  {}
func (BranchResultEvent) processEvent()   {}
func (WorkerCompleteEvent) processEvent() {}
func (WorkerStatusEvent) processEvent()   {}

// EventIsForChannel reports whether a channel should act on ev.
//
// Branch and worker events carry the id of the channel that spawned them and
// are accepted only by that channel. Status and tool events are scoped by
// agent upstream and pass through for every channel.
func EventIsForChannel(ev ProcessEvent, id ChannelID) bool {
	switch e := ev.(type) {
	case BranchResultEvent:
		return e.ChannelID == id
	case WorkerCompleteEvent:
		return e.ChannelID != "" && e.ChannelID == id
	case WorkerStatusEvent:
		return e.ChannelID != "" && e.ChannelID == id
	default:
		return true
	}
}

// isTerminalEvent reports whether ev ends a sub-process lifecycle.
// Terminal events are never dropped by the bus.
func isTerminalEvent(ev ProcessEvent) bool {
	switch ev.(type) {
	case BranchResultEvent, WorkerCompleteEvent:
		return true
	default:
		return false
	}
}

// eventKind returns a short name for logs and metrics.
func eventKind(ev ProcessEvent) string {
	switch ev.(type) {
	case StatusUpdateEvent:
		return "status_update"
	case ToolStartedEvent:
		return "tool_started"
	case ToolCompletedEvent:
		return "tool_completed"
	case BranchResultEvent:
		return "branch_result"
	case WorkerCompleteEvent:
		return "worker_complete"
	case WorkerStatusEvent:
		return "worker_status"
	default:
		return "unknown"
	}
}

// EventKind returns the snake_case name of ev's variant.
func EventKind(ev ProcessEvent) string { return eventKind(ev) }
