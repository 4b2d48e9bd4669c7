package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/resaccess/auth"
)

func newTokenCommand(g *globals) *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API bearer token signed with admin.jwt_key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Admin.JWTKey == "" {
				return errors.New("admin.jwt_key is not set")
			}
			tok, err := auth.IssueToken([]byte(cfg.Admin.JWTKey), cfg.Admin.Issuer, subject, roles, ttl, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "resaccessctl", "token subject")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "granted roles (repeatable), e.g. admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
