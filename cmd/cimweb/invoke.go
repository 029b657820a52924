package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/iut62elec/CIMApplication/internal/logging"
	"github.com/iut62elec/CIMApplication/internal/render"
	"github.com/iut62elec/CIMApplication/internal/spatial"
	"github.com/spf13/cobra"
)

func invokeCmd() *cobra.Command {
	var (
		flags  engineFlags
		files  []string
		params []string
		format string
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "invoke <method>",
		Short: "Run one operation and print its text",
		Example: `  cimweb invoke nearest --file network.rdf --param lon=7.281558 --param lat=47.124142
  cimweb invoke nearest --file network.rdf --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &flags)
			if err != nil {
				return err
			}
			logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)

			q := spatial.Query{
				Method: args[0],
				Files:  files,
				Params: make(map[string]string, len(params)),
				Format: render.ParseFormat(format),
			}
			for _, p := range params {
				k, v, ok := strings.Cut(p, "=")
				if !ok || k == "" {
					return fmt.Errorf("invalid --param %q: want key=value", p)
				}
				q.Params[k] = v
			}

			ctx := context.Background()
			client, err := newEngineClient(ctx, cfg)
			if err != nil {
				return fmt.Errorf("connect engine: %w", err)
			}
			defer client.close()

			// One-shot runs keep the invocation summary off the console.
			invoker, closeCache, err := newInvoker(cfg, client, &logging.Logger{})
			if err != nil {
				return err
			}
			defer closeCache()

			res := invoker.Invoke(ctx, q)
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			if res.Err != nil && strict {
				fmt.Fprintln(os.Stderr, "request", res.RequestID, "failed")
				return res.Err
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Input file (repeatable)")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Operation parameter key=value (repeatable)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format (text, json)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when the output carries a diagnostic")

	return cmd
}
