// Domus - property management backend
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "1.0.0"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "domus",
		Short:         "Property management backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default ./configs/config.yaml)")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		migrateCmd(&configPath),
		seedCmd(&configPath),
		adminCmd(&configPath),
		importCmd(&configPath),
	)

	// no subcommand starts the server
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServer(configPath)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
