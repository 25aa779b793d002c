// Package ui implements the terminal control loop: a line-oriented prompt
// that maps typed commands onto the call controller.
package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/voxmorph/voxmorph/internal/call"
)

// CallControl is the slice of the call controller the console needs.
type CallControl interface {
	StartCall(ctx context.Context, agentID string) error
	Hangup(ctx context.Context) error
	State() call.State
}

// StatusFunc returns extra status lines shown by the `status` command,
// such as the active voice and recent call history.
type StatusFunc func(ctx context.Context) []string

// Console reads commands from an input stream and drives the controller.
type Console struct {
	ctrl    CallControl
	agentID string
	status  StatusFunc
	in      io.Reader
	out     io.Writer
	log     *slog.Logger
}

// New creates a console bound to the given controller and streams.
// status may be nil.
func New(ctrl CallControl, agentID string, status StatusFunc, in io.Reader, out io.Writer, log *slog.Logger) *Console {
	return &Console{
		ctrl:    ctrl,
		agentID: agentID,
		status:  status,
		in:      in,
		out:     out,
		log:     log.With(slog.String("component", "console")),
	}
}

// Run reads lines until the input is exhausted, ctx is cancelled, or the
// user types quit. It returns nil on a clean exit.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, "commands: start | hangup | status | quit")

	scanner := bufio.NewScanner(c.in)
	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quit := c.dispatch(ctx, line); quit {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ui: reading input: %w", err)
	}
	return nil
}

// dispatch handles one command line. It reports whether the loop should exit.
func (c *Console) dispatch(ctx context.Context, line string) bool {
	cmd, _, _ := strings.Cut(line, " ")

	switch strings.ToLower(cmd) {
	case "start":
		if err := c.ctrl.StartCall(ctx, c.agentID); err != nil {
			if errors.Is(err, call.ErrCallInProgress) {
				fmt.Fprintln(c.out, "a call is already in progress")
			} else {
				fmt.Fprintf(c.out, "start failed: %v\n", err)
			}
			return false
		}
		fmt.Fprintln(c.out, "starting call...")

	case "hangup":
		if err := c.ctrl.Hangup(ctx); err != nil {
			if errors.Is(err, call.ErrNoActiveCall) {
				fmt.Fprintln(c.out, "no active call")
			} else {
				fmt.Fprintf(c.out, "hangup failed: %v\n", err)
			}
			return false
		}
		fmt.Fprintln(c.out, "call ended")

	case "status":
		fmt.Fprintf(c.out, "state: %s\n", c.ctrl.State())
		if c.status != nil {
			for _, line := range c.status(ctx) {
				fmt.Fprintln(c.out, line)
			}
		}

	case "quit", "exit":
		// Best effort: drop any call before leaving.
		if err := c.ctrl.Hangup(ctx); err != nil && !errors.Is(err, call.ErrNoActiveCall) {
			c.log.Warn("hangup on quit failed", "err", err)
		}
		fmt.Fprintln(c.out, "bye")
		return true

	default:
		fmt.Fprintf(c.out, "unknown command %q (start | hangup | status | quit)\n", cmd)
	}
	return false
}
