// Package cli implements the resaccessctl command tree.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/resaccess/config"
	"github.com/jonwraymond/resaccess/observe"
)

type globals struct {
	configPath string
	debug      bool
	envFiles   []string
}

// load reads the configuration named by --config and applies --debug.
func (g *globals) load(ctx context.Context) (*config.Config, error) {
	cfg, err := config.LoadWith(ctx, g.configPath, config.Options{EnvFiles: g.envFiles})
	if err != nil {
		return nil, err
	}
	if g.debug {
		cfg.Observe.Logging.Level = "debug"
	}
	return cfg, nil
}

// logger is the console logger used by the offline commands.
func (g *globals) logger(w io.Writer) observe.Logger {
	level := "warn"
	if g.debug {
		level = "debug"
	}
	return observe.NewConsoleLogger(level, w)
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "resaccessctl",
		Short:         "Resilient resource access layer",
		Long:          "resaccessctl runs the resource access layer's admin service and inspects its event log.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (YAML); environment only when empty")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringSliceVar(&g.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config")

	root.AddCommand(
		newServeCommand(g),
		newEventsCommand(g),
		newClassifyCommand(g),
		newTokenCommand(g),
		newConfigCommand(g),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	root := NewRootCommand()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		observe.NewConsoleLogger("error", os.Stderr).Error(ctx, "command failed", observe.Err(err))
		return 1
	}
	return 0
}
