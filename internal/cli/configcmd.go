package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/resaccess/config"
)

const redacted = "<redacted>"

func newConfigCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd.Context())
			if err != nil {
				return err
			}
			redact(cfg)
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func redact(cfg *config.Config) {
	for _, s := range []*string{&cfg.Events.DSN, &cfg.Relay.Redis.URL, &cfg.Relay.Webhook.Secret, &cfg.Admin.JWTKey} {
		if *s != "" {
			*s = redacted
		}
	}
	for i := range cfg.Admin.APIKeys {
		cfg.Admin.APIKeys[i] = redacted
	}
}
