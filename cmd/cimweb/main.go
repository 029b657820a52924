package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=…".
var version = "dev"

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "cimweb",
		Short: "CIM spatial operation gateway",
		Long:  "Serve and invoke CIM spatial operations on a remote execution engine",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to YAML config file")

	rootCmd.AddCommand(
		serveCmd(),
		invokeCmd(),
		versionCmd(),
	)

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
			fmt.Fprintln(cmd.OutOrStdout(), "cimweb", version)
		},
	}
}
