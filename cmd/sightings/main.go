// Package main provides the sightings binary: the SMS sighting service and
// its registry maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const appName = "sightings"

// Set at build time with -ldflags.
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Vehicle sighting SMS service",
		Long: `Sightings runs the text-message conversation that turns a contributor's
photo into a verified vehicle sighting.

Contributors send a photo, say where they saw the vehicle, and send its
plate. The plate is matched against the registry and, once confirmed,
the sighting is recorded.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Dotenv file loaded before the environment is read")

	cmd.AddCommand(
		serveCmd(flags),
		registryCmd(flags),
		sightingsCmd(flags),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, version, buildDate)
		},
	}
}
