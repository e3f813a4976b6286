package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/micvad/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a configuration file and print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		printSettings(cmd, cfg)
		return nil
	},
}

// printSettings writes the effective settings as an aligned table.
func printSettings(cmd *cobra.Command, cfg *config.Config) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	attrs := config.StartupAttrs(cfg)
	for i := 0; i+1 < len(attrs); i += 2 {
		fmt.Fprintf(w, "%v\t%v\n", attrs[i], attrs[i+1])
	}
	listen := cfg.Server.ListenAddr
	if listen == "" {
		listen = "(disabled)"
	}
	fmt.Fprintf(w, "listen_addr\t%s\n", listen)
	fmt.Fprintf(w, "restart\t%s after %s\n", cfg.Restart.Mode, cfg.Restart.Delay)
	_ = w.Flush()
}
