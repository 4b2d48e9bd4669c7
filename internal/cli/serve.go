package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/resaccess/internal/app"
	"github.com/jonwraymond/resaccess/observe"
)

func newServeCommand(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API, event rotation, relays and cache janitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := g.load(ctx)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Admin.Addr = addr
			}

			obs, err := observe.NewObserver(ctx, cfg.Observe)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
				defer cancel()
				_ = obs.Shutdown(shutdownCtx)
			}()

			a, err := app.Build(ctx, cfg, obs)
			if err != nil {
				return err
			}
			err = a.Run(ctx)
			obs.Logger().Info(context.WithoutCancel(ctx), "shut down")
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "admin listen address (overrides admin.addr)")
	return cmd
}
