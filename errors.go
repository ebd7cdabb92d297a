package tandem

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrChannelClosed is returned when submitting to a channel whose inbox is closed.
	ErrChannelClosed = errors.New("channel closed")
	// ErrInboxFull is returned by a non-blocking submit when the inbox is saturated.
	ErrInboxFull = errors.New("channel inbox full")
	// ErrBranchNotFound is returned when a branch id is not active.
	ErrBranchNotFound = errors.New("branch not found")
	// ErrWorkerNotFound is returned when a worker id is not active.
	ErrWorkerNotFound = errors.New("worker not found")
	// ErrWorkerNotInteractive is returned when routing input to a one-shot worker.
	ErrWorkerNotInteractive = errors.New("worker is not interactive")
)

type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration // parsed Retry-After header, 0 if absent
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// BranchLimitError is returned when a channel already runs its maximum
// number of concurrent branches.
type BranchLimitError struct {
	ChannelID ChannelID
	Max       int
}

func (e *BranchLimitError) Error() string {
	return fmt.Sprintf("channel %s: branch limit reached (max %d)", e.ChannelID, e.Max)
}

// ToolExistsError is returned when registering a tool name twice.
type ToolExistsError struct {
	Name string
}

func (e *ToolExistsError) Error() string {
	return fmt.Sprintf("tool %q already registered", e.Name)
}

// ToolNotFoundError is returned when removing a tool that is not registered.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not registered", e.Name)
}

// MaxTurnsError is returned when a prompt exhausts its tool-call turn budget.
type MaxTurnsError struct {
	MaxTurns int
}

func (e *MaxTurnsError) Error() string {
	return fmt.Sprintf("max turns (%d) exceeded", e.MaxTurns)
}

// PromptCancelledError is returned when a prompt is cancelled before completing.
type PromptCancelledError struct {
	Reason string
}

func (e *PromptCancelledError) Error() string {
	return "prompt cancelled: " + e.Reason
}

// CompactionError reports a failed compaction stage. It is recoverable.
type CompactionError struct {
	Stage string
	Err   error
}

func (e *CompactionError) Error() string {
	return fmt.Sprintf("compaction %s: %v", e.Stage, e.Err)
}

func (e *CompactionError) Unwrap() error { return e.Err }
