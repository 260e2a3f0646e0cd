package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "/config/config.yaml"

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := rootCommand().Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "birdwatch",
		Short:         "Motion triggered person, dog and bird detection",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the configuration file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the capture pipeline and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Print statistics rebuilt from the stored captures",
		RunE: func(cmd *cobra.Command, args []string) error {
			return analyze(cmd.OutOrStdout(), configPath)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "birdwatch-go %s\n", version)
		},
	}

	rootCmd.AddCommand(serveCmd, analyzeCmd, versionCmd)

	// without a sub-command the pipeline is started
	rootCmd.RunE = serveCmd.RunE

	return rootCmd
}
