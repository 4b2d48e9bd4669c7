package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/resaccess/eventstore"
	"github.com/jonwraymond/resaccess/internal/app"
	"github.com/jonwraymond/resaccess/server"
)

func newEventsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and maintain the event log",
	}
	cmd.AddCommand(
		newEventsQueryCommand(g),
		newEventsTailCommand(g),
		newEventsStatsCommand(g),
		newEventsRotateCommand(g),
	)
	return cmd
}

// withStore opens the configured store for the duration of fn.
func withStore(cmd *cobra.Command, g *globals, fn func(*eventstore.Store) error) error {
	ctx := cmd.Context()
	cfg, err := g.load(ctx)
	if err != nil {
		return err
	}
	store, err := app.OpenStore(ctx, cfg, g.logger(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newEventsQueryCommand(g *globals) *cobra.Command {
	params := map[string]*string{}
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query events by resource, type, source and time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := url.Values{}
			for k, p := range params {
				if *p != "" {
					v.Set(k, *p)
				}
			}
			q, err := server.ParseQuery(v)
			if err != nil {
				return err
			}
			return withStore(cmd, g, func(s *eventstore.Store) error {
				events, err := s.Query(cmd.Context(), q)
				if err != nil {
					return err
				}
				return printEvents(cmd.OutOrStdout(), events, asJSON)
			})
		},
	}
	for _, name := range []string{"resource_type", "resource_id", "type", "source", "since", "until", "after_seq", "limit", "offset"} {
		params[name] = new(string)
		cmd.Flags().StringVar(params[name], flagName(name), "", queryFlagUsage[name])
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON lines")
	return cmd
}

var queryFlagUsage = map[string]string{
	"resource_type": "resource type, e.g. issue",
	"resource_id":   "resource id",
	"type":          "event type, e.g. status_changed",
	"source":        "event source",
	"since":         "RFC 3339 lower bound (inclusive)",
	"until":         "RFC 3339 upper bound (exclusive)",
	"after_seq":     "only events with a greater sequence number",
	"limit":         "maximum number of events",
	"offset":        "matches to skip",
}

func flagName(param string) string { return strings.ReplaceAll(param, "_", "-") }

func newEventsTailCommand(g *globals) *cobra.Command {
	var (
		n      int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the newest events, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, g, func(s *eventstore.Store) error {
				recent := s.Recent(cmd.Context(), n)
				events := make([]eventstore.Event, len(recent))
				for i, e := range recent {
					events[len(recent)-1-i] = e
				}
				return printEvents(cmd.OutOrStdout(), events, asJSON)
			})
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON lines")
	return cmd
}

func newEventsStatsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show event store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, g, func(s *eventstore.Store) error {
				st := s.Stats(cmd.Context())
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintf(w, "total\t%d\n", st.TotalEvents)
				_, _ = fmt.Fprintf(w, "durable\t%d\n", st.Durable)
				_, _ = fmt.Fprintf(w, "in memory\t%d\n", st.InMemory)
				_, _ = fmt.Fprintf(w, "first seq\t%d\n", st.FirstSeq)
				_, _ = fmt.Fprintf(w, "last seq\t%d\n", st.LastSeq)
				if !st.OldestInMemory.IsZero() {
					_, _ = fmt.Fprintf(w, "oldest buffered\t%s\n", st.OldestInMemory.Format(time.RFC3339))
					_, _ = fmt.Fprintf(w, "newest buffered\t%s\n", st.NewestInMemory.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
}

func newEventsRotateCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Prune events older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, g, func(s *eventstore.Store) error {
				res, err := s.Rotate(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d durable, %d buffered events older than %s\n",
					res.PrunedDurable, res.PrunedMemory, res.Cutoff.Format(time.RFC3339))
				return err
			})
		},
	}
}

func printEvents(out io.Writer, events []eventstore.Event, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		for _, e := range events {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SEQ\tTIME\tTYPE\tRESOURCE\tSOURCE")
	for _, e := range events {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s:%s\t%s\n",
			strconv.FormatUint(e.Seq, 10), e.Timestamp.Format(time.RFC3339), e.Type, e.ResourceType, e.ResourceID, e.Source)
	}
	return w.Flush()
}
