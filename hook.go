package tandem

import (
	"log/slog"
	"regexp"

	"golang.org/x/text/unicode/norm"
)

var leakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[a-zA-Z0-9]{48}`),
	regexp.MustCompile(`-----BEGIN.*PRIVATE KEY-----`),
	regexp.MustCompile(`ghp_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`),
}

// Hook observes one process's completion loop and publishes tool and status
// events on the bus. Publishing never blocks. A nil *Hook is valid and does
// nothing.
type Hook struct {
	agentID AgentID
	process ProcessID
	bus     *EventBus
	logger  *slog.Logger
}

// NewHook creates a hook for the given process. bus and logger may be nil.
func NewHook(agentID AgentID, process ProcessID, bus *EventBus, logger *slog.Logger) *Hook {
	if logger == nil {
		logger = nopLogger
	}
	return &Hook{agentID: agentID, process: process, bus: bus, logger: logger}
}

// Process returns the process this hook reports for.
func (h *Hook) Process() ProcessID {
	if h == nil {
		return ProcessID{}
	}
	return h.process
}

// SendStatus publishes a StatusUpdateEvent.
func (h *Hook) SendStatus(status string) {
	if h == nil {
		return
	}
	h.publish(StatusUpdateEvent{AgentID: h.agentID, ProcessID: h.process, Status: status})
}

// OnCompletionCall is invoked before each LLM call.
func (h *Hook) OnCompletionCall(turn int) {
	if h == nil {
		return
	}
	h.logger.Debug("completion call started", "process_id", h.process.String(), "turn", turn)
}

// OnToolStarted publishes a ToolStartedEvent.
func (h *Hook) OnToolStarted(toolName string) {
	if h == nil {
		return
	}
	h.publish(ToolStartedEvent{AgentID: h.agentID, ProcessID: h.process, ToolName: toolName})
	h.logger.Debug("tool call started", "process_id", h.process.String(), "tool_name", toolName)
}

// OnToolCompleted scans result for leaked secrets and publishes a
// ToolCompletedEvent. The result is passed through unchanged.
func (h *Hook) OnToolCompleted(toolName, result string) {
	if h == nil {
		return
	}
	if leak, ok := ScanForLeaks(result); ok {
		h.logger.Warn("potential secret leak detected in tool output",
			"process_id", h.process.String(),
			"tool_name", toolName,
			"leak", redact(leak))
	}
	h.publish(ToolCompletedEvent{AgentID: h.agentID, ProcessID: h.process, ToolName: toolName, Result: result})
	h.logger.Debug("tool call completed", "process_id", h.process.String(), "tool_name", toolName)
}

func (h *Hook) publish(ev ProcessEvent) {
	if h.bus != nil {
		h.bus.Publish(ev)
	}
}

// ScanForLeaks reports the first substring of content that looks like a
// secret (API keys, private key headers, access tokens). Content is NFKC
// normalized first so full-width and compatibility forms are caught.
func ScanForLeaks(content string) (string, bool) {
	normalized := norm.NFKC.String(content)
	for _, p := range leakPatterns {
		if m := p.FindString(normalized); m != "" {
			return m, true
		}
	}
	return "", false
}

// redact keeps a short prefix of a secret for log correlation.
func redact(s string) string {
	r := []rune(s)
	if len(r) <= 8 {
		return "****"
	}
	return string(r[:8]) + "****"
}
