package tandem

import (
	"context"
	"time"
)

// Branch is an ephemeral deliberation process. It thinks over a frozen copy
// of the channel history and reports one conclusion back.
type Branch struct {
	ID          BranchID
	ChannelID   ChannelID
	Description string

	history  *History
	deps     AgentDeps
	system   string
	maxTurns int
	timeout  time.Duration
}

func newBranch(channelID ChannelID, description string, snapshot []ChatMessage, deps AgentDeps, cfg ChannelConfig) *Branch {
	return &Branch{
		ID:          NewBranchID(),
		ChannelID:   channelID,
		Description: description,
		history:     NewHistory(snapshot...),
		deps:        deps,
		system:      joinPrompt(deps.Prompts.Identity, deps.Prompts.Branch),
		maxTurns:    cfg.BranchMaxTurns,
		timeout:     cfg.BranchTimeout,
	}
}

// Run executes one bounded engine call over the snapshot plus the branch
// description and returns the conclusion.
func (b *Branch) Run(ctx context.Context) (string, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	ctx = WithProcess(ctx, b.ChannelID, BranchProcess(b.ID))
	ctx, span := startSpan(ctx, b.deps.Tracer, "branch.run",
		StringAttr("branch_id", string(b.ID)),
		StringAttr("channel_id", string(b.ChannelID)))
	defer span.End()

	var tools Tool
	if b.deps.BranchTools != nil {
		tools = b.deps.BranchTools
	}
	hook := b.deps.hook(BranchProcess(b.ID))
	hook.SendStatus("thinking...")

	engine := NewEngine(b.deps.Models.Resolve(ProcessBranch),
		EngineLogger(b.deps.logger()),
		EngineTracer(b.deps.Tracer))
	conclusion, err := engine.Prompt(ctx, PromptRequest{
		System:   b.system,
		Input:    b.Description,
		History:  b.history,
		Tools:    tools,
		MaxTurns: b.maxTurns,
		Hook:     hook,
	})
	if err != nil {
		span.Error(err)
		return "", err
	}
	return conclusion, nil
}

// publishResult emits the branch's single terminal event. Failures become
// the conclusion text.
func (b *Branch) publishResult(h *TaskHandle) {
	conclusion, err := h.Result()
	switch h.State() {
	case TaskCancelled:
		conclusion = "Branch cancelled."
	case TaskFailed:
		conclusion = "Branch failed: " + err.Error()
	}
	b.deps.publish(BranchResultEvent{
		AgentID:    b.deps.AgentID,
		ChannelID:  b.ChannelID,
		BranchID:   b.ID,
		Conclusion: conclusion,
	})
}
