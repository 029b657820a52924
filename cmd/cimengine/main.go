package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "cimengine",
		Short: "CIM operation engine host",
		Long:  "Answer engine requests over gRPC and the framed wire protocol with SQL-backed handlers",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to YAML config file")

	rootCmd.AddCommand(serveCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "cimengine", version)
		},
	}
}
