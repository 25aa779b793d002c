package ui_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/voxmorph/voxmorph/internal/call"
	"github.com/voxmorph/voxmorph/internal/ui"
)

// fakeControl records controller invocations and plays back scripted errors.
type fakeControl struct {
	mu          sync.Mutex
	startCalls  int
	hangupCalls int
	startErr    error
	hangupErr   error
	state       call.State
	lastAgentID string
}

func (f *fakeControl) StartCall(_ context.Context, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	f.lastAgentID = agentID
	return f.startErr
}

func (f *fakeControl) Hangup(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangupCalls++
	return f.hangupErr
}

func (f *fakeControl) State() call.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runConsole(t *testing.T, ctrl *fakeControl, input string, status ui.StatusFunc) string {
	t.Helper()
	var out strings.Builder
	c := ui.New(ctrl, "agent-1", status, strings.NewReader(input), &out, discardLogger())
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String()
}

func TestConsole_StartCommand(t *testing.T) {
	ctrl := &fakeControl{hangupErr: call.ErrNoActiveCall}
	out := runConsole(t, ctrl, "start\nquit\n", nil)

	if ctrl.startCalls != 1 {
		t.Errorf("start calls = %d, want 1", ctrl.startCalls)
	}
	if ctrl.lastAgentID != "agent-1" {
		t.Errorf("agent id = %q, want agent-1", ctrl.lastAgentID)
	}
	if !strings.Contains(out, "starting call") {
		t.Errorf("output missing start confirmation: %q", out)
	}
}

func TestConsole_StartWhileBusy(t *testing.T) {
	ctrl := &fakeControl{startErr: call.ErrCallInProgress, hangupErr: call.ErrNoActiveCall}
	out := runConsole(t, ctrl, "start\nquit\n", nil)

	if !strings.Contains(out, "already in progress") {
		t.Errorf("output should explain the busy state: %q", out)
	}
}

func TestConsole_HangupCommand(t *testing.T) {
	ctrl := &fakeControl{}
	out := runConsole(t, ctrl, "hangup\nquit\n", nil)

	// One explicit hangup plus the best-effort hangup on quit.
	if ctrl.hangupCalls != 2 {
		t.Errorf("hangup calls = %d, want 2", ctrl.hangupCalls)
	}
	if !strings.Contains(out, "call ended") {
		t.Errorf("output missing hangup confirmation: %q", out)
	}
}

func TestConsole_HangupIdle(t *testing.T) {
	ctrl := &fakeControl{hangupErr: call.ErrNoActiveCall}
	out := runConsole(t, ctrl, "hangup\nquit\n", nil)

	if !strings.Contains(out, "no active call") {
		t.Errorf("output should report no active call: %q", out)
	}
}

func TestConsole_StatusCommand(t *testing.T) {
	ctrl := &fakeControl{state: call.Active, hangupErr: call.ErrNoActiveCall}
	status := func(_ context.Context) []string {
		return []string{"voice: Call_Voice_42", "calls today: 3"}
	}
	out := runConsole(t, ctrl, "status\nquit\n", status)

	if !strings.Contains(out, "state: active") {
		t.Errorf("output missing state line: %q", out)
	}
	if !strings.Contains(out, "voice: Call_Voice_42") {
		t.Errorf("output missing status lines: %q", out)
	}
}

func TestConsole_UnknownCommand(t *testing.T) {
	ctrl := &fakeControl{hangupErr: call.ErrNoActiveCall}
	out := runConsole(t, ctrl, "dance\nquit\n", nil)

	if !strings.Contains(out, `unknown command "dance"`) {
		t.Errorf("output should flag the unknown command: %q", out)
	}
}

func TestConsole_QuitHangsUp(t *testing.T) {
	ctrl := &fakeControl{}
	out := runConsole(t, ctrl, "quit\n", nil)

	if ctrl.hangupCalls != 1 {
		t.Errorf("hangup calls on quit = %d, want 1", ctrl.hangupCalls)
	}
	if !strings.Contains(out, "bye") {
		t.Errorf("output missing farewell: %q", out)
	}
}

func TestConsole_EOFExitsCleanly(t *testing.T) {
	ctrl := &fakeControl{hangupErr: call.ErrNoActiveCall}
	_ = runConsole(t, ctrl, "", nil)

	if ctrl.startCalls != 0 || ctrl.hangupCalls != 0 {
		t.Errorf("no commands should have run, got start=%d hangup=%d", ctrl.startCalls, ctrl.hangupCalls)
	}
}

func TestConsole_BlankLinesIgnored(t *testing.T) {
	ctrl := &fakeControl{hangupErr: call.ErrNoActiveCall}
	out := runConsole(t, ctrl, "\n\n   \nquit\n", nil)

	if strings.Contains(out, "unknown command") {
		t.Errorf("blank lines should be ignored: %q", out)
	}
}
