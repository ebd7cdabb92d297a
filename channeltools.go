package tandem

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// channelToolNames are the per-turn tools registered by AddChannelTools.
var channelToolNames = []string{"reply", "branch", "spawn_worker", "route", "cancel"}

// AddChannelTools registers the per-turn channel tools on server. They act
// on state directly and deliver replies on responses.
func AddChannelTools(server *ToolServer, state *ChannelState, responses chan<- OutboundResponse, conversationID string) error {
	return server.Add(
		&replyTool{state: state, responses: responses, conversationID: conversationID},
		&branchTool{state: state},
		&spawnWorkerTool{state: state},
		&routeTool{state: state},
		&cancelTool{state: state},
	)
}

// RemoveChannelTools unregisters the per-turn channel tools.
func RemoveChannelTools(server *ToolServer) error {
	return server.Remove(channelToolNames...)
}

// --- reply ---

type replyTool struct {
	state          *ChannelState
	responses      chan<- OutboundResponse
	conversationID string
}

func (t *replyTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{
		Name:        "reply",
		Description: "Send a message to the user in this conversation. Ends your turn. Set thread_name to start a thread instead of replying inline.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"text":{"type":"string","description":"Message text"},"thread_name":{"type":"string","description":"Optional thread title"}},"required":["text"]}`),
	}}
}

func (t *replyTool) Execute(ctx context.Context, _ string, args json.RawMessage) (ToolResult, error) {
	var params struct {
		Text       string `json:"text"`
		ThreadName string `json:"thread_name"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	text := strings.TrimSpace(params.Text)
	if text == "" {
		return ToolResult{Error: "text is required"}, nil
	}

	resp := TextResponse(text)
	if params.ThreadName != "" {
		resp = ThreadReplyResponse(params.ThreadName, text)
	}
	if t.responses != nil {
		select {
		case t.responses <- resp:
		case <-ctx.Done():
			return ToolResult{Error: "reply not delivered: " + ctx.Err().Error()}, nil
		}
	}
	if t.state.deps.Conversations != nil {
		t.state.deps.Conversations.LogBotMessage(t.state.ChannelID, text)
	}
	t.state.logger.Debug("reply sent", "conversation_id", t.conversationID, "thread", params.ThreadName != "")
	return ToolResult{Content: "Message sent.", EndTurn: true}, nil
}

// --- branch ---

type branchTool struct{ state *ChannelState }

func (t *branchTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{
		Name:        "branch",
		Description: "Think in the background. A branch gets a copy of this conversation and reports a conclusion back to you. Use it for recall, analysis, or planning while you keep talking.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"description":{"type":"string","description":"What the branch should think about"}},"required":["description"]}`),
	}}
}

func (t *branchTool) Execute(_ context.Context, _ string, args json.RawMessage) (ToolResult, error) {
	var params struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Description == "" {
		return ToolResult{Error: "description is required"}, nil
	}
	id, err := t.state.SpawnBranch(params.Description)
	if err != nil {
		return ToolResult{Error: err.Error()}, nil
	}
	return ToolResult{Content: fmt.Sprintf("Branch %s started. Its conclusion will appear in your history.", id)}, nil
}

// --- spawn_worker ---

type spawnWorkerTool struct{ state *ChannelState }

func (t *spawnWorkerTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{
		Name:        "spawn_worker",
		Description: "Spawn an independent worker with shell, file, and web tools. The worker only sees the task you provide, not this conversation.",
		Parameters: json.RawMessage(`{"type":"object","properties":{` +
			`"task":{"type":"string","description":"Clear, self-contained description of the work"},` +
			`"interactive":{"type":"boolean","description":"Keep the worker alive for follow-ups sent with route"},` +
			`"skill":{"type":"string","description":"Name of a skill to load into the worker"}},` +
			`"required":["task"]}`),
	}}
}

func (t *spawnWorkerTool) Execute(_ context.Context, _ string, args json.RawMessage) (ToolResult, error) {
	var params struct {
		Task        string `json:"task"`
		Interactive bool   `json:"interactive"`
		Skill       string `json:"skill"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Task == "" {
		return ToolResult{Error: "task is required"}, nil
	}
	id, err := t.state.SpawnWorker(params.Task, params.Interactive, params.Skill)
	if err != nil {
		return ToolResult{Error: "worker spawn failed: " + err.Error()}, nil
	}
	if params.Interactive {
		return ToolResult{Content: fmt.Sprintf("Interactive worker %s spawned for: %s. Route follow-ups with route.", id, params.Task)}, nil
	}
	return ToolResult{Content: fmt.Sprintf("Worker %s spawned for: %s. It will report back when done.", id, params.Task)}, nil
}

// --- route ---

type routeTool struct{ state *ChannelState }

func (t *routeTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{
		Name:        "route",
		Description: "Send a follow-up message to an interactive worker.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"worker_id":{"type":"string"},"message":{"type":"string"}},"required":["worker_id","message"]}`),
	}}
}

func (t *routeTool) Execute(_ context.Context, _ string, args json.RawMessage) (ToolResult, error) {
	var params struct {
		WorkerID string `json:"worker_id"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.WorkerID == "" || params.Message == "" {
		return ToolResult{Error: "worker_id and message are required"}, nil
	}
	if err := t.state.RouteToWorker(WorkerID(params.WorkerID), params.Message); err != nil {
		return ToolResult{Error: err.Error()}, nil
	}
	return ToolResult{Content: "Message routed to worker " + params.WorkerID + "."}, nil
}

// --- cancel ---

type cancelTool struct{ state *ChannelState }

func (t *cancelTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{
		Name:        "cancel",
		Description: "Cancel a running branch or worker.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"process_type":{"type":"string","enum":["branch","worker"]},"id":{"type":"string"}},"required":["process_type","id"]}`),
	}}
}

func (t *cancelTool) Execute(_ context.Context, _ string, args json.RawMessage) (ToolResult, error) {
	var params struct {
		ProcessType string `json:"process_type"`
		ID          string `json:"id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	var pt ProcessType
	switch params.ProcessType {
	case "branch":
		pt = ProcessBranch
	case "worker":
		pt = ProcessWorker
	default:
		return ToolResult{Error: fmt.Sprintf("unknown process_type %q (want branch or worker)", params.ProcessType)}, nil
	}
	if err := t.state.Cancel(pt, params.ID); err != nil {
		return ToolResult{Error: err.Error()}, nil
	}
	return ToolResult{Content: fmt.Sprintf("Cancellation requested for %s %s.", params.ProcessType, params.ID)}, nil
}
