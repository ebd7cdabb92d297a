package tandem

import (
	"context"
	"testing"
)

func TestProcessIDString(t *testing.T) {
	tests := []struct {
		id   ProcessID
		want string
	}{
		{ChannelProcess("c1"), "channel:c1"},
		{BranchProcess("b1"), "branch:b1"},
		{WorkerProcess("w1"), "worker:w1"},
		{ProcessID{Type: ProcessType(9), ID: "x"}, "unknown:x"},
	}
	for _, tt := range tests {
		if got := tt.id.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestProcessFromContext(t *testing.T) {
	if _, _, ok := ProcessFromContext(context.Background()); ok {
		t.Error("empty context reported a process")
	}
	ctx := WithProcess(context.Background(), "c1", BranchProcess("b1"))
	pid, ch, ok := ProcessFromContext(ctx)
	if !ok || pid != BranchProcess("b1") || ch != "c1" {
		t.Errorf("ProcessFromContext = %v, %q, %v", pid, ch, ok)
	}
}
