package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lectern/internal/bus"
	"github.com/roach88/lectern/internal/orch"
	"github.com/roach88/lectern/internal/script"
	"github.com/roach88/lectern/internal/store"
	"github.com/roach88/lectern/internal/watch"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Tick     time.Duration
	Watch    bool

	// IDGen overrides the session id generator (for testing).
	IDGen orch.SessionIDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <script-id>",
		Short: "Run a lesson session interactively",
		Long: `Run one lesson session against the full engine stack.

Loads the lesson directory, starts a session on the named lesson, and
drives it until interrupted: a timer delivers ticks, and lines read
from stdin deliver gestures in the form

  <gesture> [fingerCount]

The session journal streams to stdout as events commit. Ctrl-C stops
the session gracefully and prints the final state snapshot.

Example:
  lectern run --db ./lectern.db counting_fingers
  lectern run --db /tmp/demo.db --tick 500ms --watch counting_fingers`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLesson(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().DurationVar(&opts.Tick, "tick", time.Second, "tick delivery interval")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "hot-reload lessons while running")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runLesson(opts *RunOptions, scriptID string, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	// Load and publish every valid lesson so hot reload and future
	// starts have the full registry.
	results, loadErr := loadLessonDir(opts.Lessons)
	if loadErr != nil {
		return NewExitError(ExitCommandError, loadErr.Error())
	}
	registry := script.NewRegistry()
	for _, r := range results {
		if r.Valid() {
			sc := registry.Publish(r.Script)
			slog.Debug("lesson published", "script_id", sc.ID, "version", sc.Version)
		} else {
			slog.Warn("skipping invalid lesson", "path", r.Path, "errors", len(r.Errors))
		}
	}

	slog.Info("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	eventBus := bus.New(st, nil)
	orchOpts := []orch.Option{orch.WithIdleTimeout(30 * time.Minute)}
	if opts.IDGen != nil {
		orchOpts = append(orchOpts, orch.WithIDGenerator(opts.IDGen))
	}
	orc := orch.New(registry, st, eventBus, orchOpts...)

	if opts.Watch {
		w, err := watch.New(opts.Lessons, registry)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to watch lessons", err)
		}
		defer w.Close()
		updates := registry.Subscribe()
		go func() {
			for u := range updates {
				if u.Retired {
					slog.Info("lesson retired", "script_id", u.ScriptID)
					continue
				}
				slog.Info("lesson reloaded", "script_id", u.ScriptID, "version", u.Version)
			}
		}()
		slog.Info("hot reload enabled", "dir", opts.Lessons)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping session", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	sessionID, err := orc.StartSession(ctx, scriptID)
	if err != nil {
		_ = orc.Close(context.Background())
		return WrapExitError(ExitCommandError, "failed to start session", err)
	}
	fmt.Fprintf(out, "Session %s started on lesson %q. Ctrl-C to stop.\n", sessionID, scriptID)

	// Stream the journal as it commits.
	sub, err := eventBus.Subscribe(ctx, sessionID, 0)
	if err != nil {
		_ = orc.Close(context.Background())
		return WrapExitError(ExitCommandError, "failed to subscribe to journal", err)
	}
	defer sub.Close()
	go func() {
		for {
			ev, err := sub.Next(ctx)
			if err != nil {
				return
			}
			printEvent(opts.Format, out, ev)
		}
	}()

	// Tick driver.
	go func() {
		ticker := time.NewTicker(opts.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if _, err := orc.DeliverTick(ctx, sessionID); err != nil {
				if orch.IsSessionNotRunning(err) {
					cancel()
					return
				}
				if ctx.Err() == nil {
					slog.Warn("tick rejected", "error", err)
				}
			}
		}
	}()

	// Gesture feed from stdin.
	go func() {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			payload, ok := parseGestureLine(scanner.Text())
			if !ok {
				continue
			}
			if _, err := orc.DeliverGesture(ctx, sessionID, payload); err != nil {
				if orch.IsSessionNotRunning(err) {
					cancel()
					return
				}
				if ctx.Err() == nil {
					slog.Warn("gesture rejected", "error", err)
				}
			}
		}
	}()

	<-ctx.Done()

	// Graceful stop under its own deadline; the parent context is
	// already done.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if _, err := orc.StopSession(stopCtx, sessionID); err != nil && !orch.IsSessionNotRunning(err) {
		slog.Error("stop session", "error", err)
	}

	printFinalSnapshot(opts.Format, out, orc, sessionID)
	if err := orc.Close(stopCtx); err != nil {
		slog.Error("close orchestrator", "error", err)
	}
	return nil
}

// parseGestureLine parses "<gesture> [fingerCount]". Blank lines and
// malformed counts are skipped.
func parseGestureLine(line string) (map[string]any, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, false
	}
	payload := map[string]any{"gesture": fields[0]}
	if len(fields) > 1 {
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, false
		}
		payload["fingerCount"] = n
	}
	return payload, true
}

func printEvent(format string, out io.Writer, ev *store.Event) {
	if format == "json" {
		_ = json.NewEncoder(out).Encode(ev)
		return
	}
	payload, _ := json.Marshal(ev.Payload)
	fmt.Fprintf(out, "[seq %d] %s %s\n", ev.Seq, ev.Type, payload)
}

func printFinalSnapshot(format string, out io.Writer, orc *orch.Orchestrator, sessionID string) {
	snap, err := orc.GetState(context.Background(), sessionID)
	if err != nil {
		slog.Error("read final state", "error", err)
		return
	}
	stateJSON, err := json.Marshal(snap.State)
	if err != nil {
		slog.Error("encode final state", "error", err)
		return
	}
	if format == "json" {
		_ = json.NewEncoder(out).Encode(map[string]any{
			"session_id": snap.SessionID,
			"status":     snap.Status,
			"state":      json.RawMessage(stateJSON),
		})
		return
	}
	fmt.Fprintf(out, "Session %s %s. Final state: %s\n", snap.SessionID, snap.Status, stateJSON)
}
