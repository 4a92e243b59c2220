// Command propsync keeps properties files in git repositories in sync with
// secrets stored in AWS Secrets Manager.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/propsync/propsync/internal/config"
	"github.com/propsync/propsync/internal/logging"
	"github.com/propsync/propsync/internal/service"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "propsync",
		Short:         "Sync AWS Secrets Manager secrets into properties files in git",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func newRunCmd() *cobra.Command {
	var (
		configFiles []string
		dataDir     string
		logLevel    string
		logFormat   string
		workers     int
		singleShot  bool
		dryRun      bool
		noProgress  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured sync jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.NewLogger(logging.Config{
				Level:  logLevel,
				Format: logFormat,
				Output: os.Stderr,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return service.New().
				WithConfigFiles(configFiles).
				WithDataDir(dataDir).
				WithWorkers(workers).
				WithSingleShot(singleShot).
				WithDryRun(dryRun).
				WithNoProgress(noProgress).
				WithLogger(logger).
				Run(ctx)
		},
	}

	cmd.Flags().StringSliceVarP(&configFiles, "config", "c", []string{"config.yaml"}, "config file or directory (repeatable, merged in order)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "data", "directory for git working copies")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", logging.FormatPretty, "log format (json, pretty)")
	cmd.Flags().IntVar(&workers, "workers", 8, "number of concurrent sync workers")
	cmd.Flags().BoolVar(&singleShot, "single-shot", true, "run each sync once and exit")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report changes without writing, committing or pushing")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress bar")

	return cmd
}

func newValidateCmd() *cobra.Command {
	var configFiles []string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print the normalized result",
		RunE: func(*cobra.Command, []string) error {
			merged, err := config.Merge(configFiles, true)
			if err != nil {
				return err
			}

			root, err := config.Parse(merged)
			if err != nil {
				return err
			}

			out, err := yaml.Marshal(root)
			if err != nil {
				return err
			}

			fmt.Print(string(out))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&configFiles, "config", "c", []string{"config.yaml"}, "config file or directory (repeatable, merged in order)")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the propsync version",
		Run: func(*cobra.Command, []string) {
			fmt.Println(version)
		},
	}
}
