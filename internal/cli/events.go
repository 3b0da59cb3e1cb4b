package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/lectern/internal/bus"
	"github.com/roach88/lectern/internal/store"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Database string
	Type     string
	After    int64
	Limit    int
	Follow   bool
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events <session-id>",
		Short: "Query a session's event journal",
		Long: `Query the persisted event journal of one session.

Events print in sequence order. With --follow the command keeps
streaming new events as they commit; without it, it prints the
matching prefix and exits.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "only events of this type")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "only events with seq greater than this")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of events (0 = no limit)")
	cmd.Flags().BoolVar(&opts.Follow, "follow", false, "stream new events as they commit")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runEvents(opts *EventsOptions, sessionID string, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := st.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown session %q", sessionID))
		}
		return WrapExitError(ExitCommandError, "failed to read session", err)
	}

	if opts.Follow {
		return followEvents(ctx, opts, st, sessionID, out)
	}

	events, err := st.ListEvents(ctx, sessionID, store.EventFilter{
		Type:     opts.Type,
		AfterSeq: opts.After,
		Limit:    opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to query events", err)
	}
	for i := range events {
		printEvent(opts.Format, out, &events[i])
	}
	return nil
}

// followEvents tails the journal through a bus subscription: replay of
// the committed prefix, then live. Type and limit filters apply on the
// way out.
func followEvents(ctx context.Context, opts *EventsOptions, st *store.Store, sessionID string, out io.Writer) error {
	sub, err := bus.New(st, nil).Subscribe(ctx, sessionID, opts.After)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to subscribe", err)
	}
	defer sub.Close()

	printed := 0
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return WrapExitError(ExitCommandError, "failed to read events", err)
		}
		if opts.Type != "" && ev.Type != opts.Type {
			continue
		}
		printEvent(opts.Format, out, ev)
		printed++
		if opts.Limit > 0 && printed >= opts.Limit {
			return nil
		}
	}
}
