package cli

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/resaccess/resilience"
)

func newClassifyCommand(g *globals) *cobra.Command {
	var (
		status    int
		operation string
		headers   []string
		message   string
	)
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Show how a remote failure would be classified and retried",
		Example: `  resaccessctl classify --status 429 --header "Retry-After: 30"
  resaccessctl classify --status 403 --header "X-RateLimit-Remaining: 0" --header "X-RateLimit-Reset: 1767225600"
  resaccessctl classify --status 0 --error "connection reset by peer"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd.Context())
			if err != nil {
				return err
			}
			classifier, err := cfg.Classifier()
			if err != nil {
				return err
			}

			h := http.Header{}
			for _, raw := range headers {
				k, v, ok := strings.Cut(raw, ":")
				if !ok {
					return fmt.Errorf("header %q: want \"Name: value\"", raw)
				}
				h.Add(strings.TrimSpace(k), strings.TrimSpace(v))
			}
			f := resilience.Failure{Operation: operation, StatusCode: status, Header: h}
			if message != "" {
				f.Err = errors.New(message)
			}

			c := classifier.Classify(f)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "outcome\t%s\n", c.Outcome)
			_, _ = fmt.Fprintf(w, "retryable\t%t\n", c.Outcome.Retryable())
			if c.Outcome == resilience.OutcomeRateLimited {
				_, _ = fmt.Fprintf(w, "retry after\t%s\n", c.RetryAfter)
			}
			_, _ = fmt.Fprintf(w, "reason\t%s\n", c.Reason)
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&status, "status", 0, "HTTP status code; 0 means no response")
	cmd.Flags().StringVar(&operation, "operation", "", "operation name, for per-operation overrides")
	cmd.Flags().StringArrayVar(&headers, "header", nil, "response header as \"Name: value\" (repeatable)")
	cmd.Flags().StringVar(&message, "error", "", "transport error message for --status 0")
	return cmd
}
