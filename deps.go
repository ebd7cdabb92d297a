package tandem

import (
	"context"
	"log/slog"
)

// ModelRouting picks a Provider per process type. Unset entries fall back to
// Default.
type ModelRouting struct {
	Default   Provider
	Channel   Provider
	Branch    Provider
	Worker    Provider
	Compactor Provider
}

// Resolve returns the provider for a process type.
func (r ModelRouting) Resolve(t ProcessType) Provider {
	var p Provider
	switch t {
	case ProcessChannel:
		p = r.Channel
	case ProcessBranch:
		p = r.Branch
	case ProcessWorker:
		p = r.Worker
	}
	if p == nil {
		return r.Default
	}
	return p
}

// ForCompaction returns the summarization model, falling back to the branch
// model and then the default.
func (r ModelRouting) ForCompaction() Provider {
	if r.Compactor != nil {
		return r.Compactor
	}
	return r.Resolve(ProcessBranch)
}

// Prompts holds the system prompt text for each process kind.
type Prompts struct {
	Identity  string
	Channel   string
	Branch    string
	Worker    string
	Compactor string
}

// AgentDeps is the dependency bundle shared by every process of one agent.
// Only Models.Default and Bus are required.
type AgentDeps struct {
	AgentID       AgentID
	Models        ModelRouting
	Bus           *EventBus
	Logger        *slog.Logger
	Tracer        Tracer
	Conversations ConversationLogger
	Attachments   AttachmentResolver
	Skills        SkillSet
	BranchTools   *ToolServer
	WorkerTools   *ToolServer
	Prompts       Prompts
}

func (d AgentDeps) logger() *slog.Logger {
	if d.Logger == nil {
		return nopLogger
	}
	return d.Logger
}

// hook returns a hook scoped to process.
func (d AgentDeps) hook(process ProcessID) *Hook {
	return NewHook(d.AgentID, process, d.Bus, d.logger().With("process_id", process.String()))
}

// publish sends ev on the bus when one is configured.
func (d AgentDeps) publish(ev ProcessEvent) {
	if d.Bus != nil {
		d.Bus.Publish(ev)
	}
}

// joinPrompt concatenates non-empty sections with a blank line between them.
func joinPrompt(sections ...string) string {
	out := ""
	for _, s := range sections {
		if s == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += s
	}
	return out
}

// nopLogger is a logger that discards all output. Used as the default.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
