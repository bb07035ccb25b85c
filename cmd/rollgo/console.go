package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cjeanneret/RollGo/internal/logic/rolling"
)

// consoleController is the part of the controller the console drives.
type consoleController interface {
	RequestStart() error
	RequestStop() error
	Terminate() error
	Wait(ctx context.Context) (rolling.Summary, error)
	CurrentState() rolling.DeviceState
	Stats() rolling.Stats
}

const consoleHelp = "commands: s = start rolling, p = stop rolling, i = status, q = quit"

// runConsole reads one-letter commands from in until q, EOF or ctx is done.
func runConsole(ctx context.Context, ctrl consoleController, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	fmt.Fprintln(out, consoleHelp)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if quit := handleCommand(ctx, ctrl, strings.TrimSpace(line), out); quit {
				return nil
			}
		}
	}
}

// handleCommand executes one console command and reports whether to quit.
func handleCommand(ctx context.Context, ctrl consoleController, cmd string, out io.Writer) bool {
	switch strings.ToLower(cmd) {
	case "":
	case "s", "start":
		if err := ctrl.RequestStart(); err != nil {
			fmt.Fprintf(out, "start refused: %v\n", err)
			return false
		}
		fmt.Fprintf(out, "state: %s\n", ctrl.CurrentState())
	case "p", "stop":
		if err := ctrl.RequestStop(); err != nil {
			fmt.Fprintf(out, "stop refused: %v\n", err)
			return false
		}
		sum, err := ctrl.Wait(ctx)
		if err != nil {
			fmt.Fprintf(out, "wait: %v\n", err)
			return false
		}
		fmt.Fprintf(out, "session %s finished: %d frames in %s\n",
			sum.Session, sum.Frames, sum.Stopped.Sub(sum.Started).Round(time.Millisecond))
		fmt.Fprintf(out, "state: %s\n", ctrl.CurrentState())
	case "i", "status":
		st := ctrl.Stats()
		fmt.Fprintf(out, "state: %s, frames: %d, failures: %d, skipped: %d\n",
			ctrl.CurrentState(), st.Frames, st.CaptureFailures, st.SkippedTicks)
	case "q", "quit":
		// Rolling sessions are left to Shutdown, which closes them.
		if ctrl.CurrentState() == rolling.Idle {
			if err := ctrl.Terminate(); err != nil {
				fmt.Fprintf(out, "terminate: %v\n", err)
			}
		}
		fmt.Fprintf(out, "state: %s\n", ctrl.CurrentState())
		return true
	default:
		fmt.Fprintln(out, consoleHelp)
	}
	return false
}
