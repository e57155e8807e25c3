package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/enrolld/enrolld/pkg/config"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a configuration file",
		Long: `Load a configuration file, apply defaults and run the full validation
pass without starting the daemon.`,
		Example: `  enrolld validate /etc/enrolld/enrolld.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", args[0])
			fmt.Printf("  data dir:    %s\n", cfg.DataDir)
			fmt.Printf("  listen addr: %s\n", cfg.ListenAddr)
			if cfg.RoleHolder.DelegationEnabled {
				fmt.Printf("  role holder: %s\n", cfg.RoleHolder.PackageName)
			}
			return nil
		},
	}
}
