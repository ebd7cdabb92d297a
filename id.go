package tandem

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnix returns current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}

// NewBranchID mints a fresh branch identifier.
func NewBranchID() BranchID { return BranchID(NewID()) }

// NewWorkerID mints a fresh worker identifier.
func NewWorkerID() WorkerID { return WorkerID(NewID()) }

// shortID returns the first 8 characters of an id for compact display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
