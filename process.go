package tandem

import "context"

// ChannelID names a user-facing conversation process.
type ChannelID string

// BranchID names an ephemeral deliberation process.
type BranchID string

// WorkerID names a delegated task process.
type WorkerID string

// AgentID names the agent instance that owns a set of processes.
type AgentID string

// ProcessType is the kind of process that produced a hook or event.
type ProcessType int

const (
	ProcessChannel ProcessType = iota
	ProcessBranch
	ProcessWorker
)

// String returns the process type name.
func (t ProcessType) String() string {
	switch t {
	case ProcessChannel:
		return "channel"
	case ProcessBranch:
		return "branch"
	case ProcessWorker:
		return "worker"
	default:
		return "unknown"
	}
}

// ProcessID identifies the origin of an event: a channel, a branch, or a worker.
type ProcessID struct {
	Type ProcessType
	ID   string
}

// ChannelProcess returns the ProcessID of a channel.
func ChannelProcess(id ChannelID) ProcessID { return ProcessID{Type: ProcessChannel, ID: string(id)} }

// BranchProcess returns the ProcessID of a branch.
func BranchProcess(id BranchID) ProcessID { return ProcessID{Type: ProcessBranch, ID: string(id)} }

// WorkerProcess returns the ProcessID of a worker.
func WorkerProcess(id WorkerID) ProcessID { return ProcessID{Type: ProcessWorker, ID: string(id)} }

// String formats the id as "<type>:<id>".
func (p ProcessID) String() string {
	return p.Type.String() + ":" + p.ID
}

type processKey struct{}

type processScope struct {
	channel ChannelID
	process ProcessID
}

// WithProcess tags ctx with the process running under it and the channel
// that owns that process. Tools read it back with ProcessFromContext.
func WithProcess(ctx context.Context, channel ChannelID, process ProcessID) context.Context {
	return context.WithValue(ctx, processKey{}, processScope{channel: channel, process: process})
}

// ProcessFromContext returns the process and owning channel recorded by
// WithProcess. ok is false when ctx carries none.
func ProcessFromContext(ctx context.Context) (process ProcessID, channel ChannelID, ok bool) {
	s, ok := ctx.Value(processKey{}).(processScope)
	return s.process, s.channel, ok
}
