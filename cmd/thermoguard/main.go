package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires the subcommands.
func buildRoot() *cobra.Command {
	runFlags := &RunFlags{}
	statusFlags := &StatusFlags{}

	tg := command{}

	root := &cobra.Command{
		Use:   "thermoguard",
		Short: "Thermal-aware process supervisor",
		Long: `thermoguard supervises a single worker process, sampling the host
temperature and throttling or killing the worker when it overheats,
then restarting it once the host has cooled down.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		createRunCommand(tg, runFlags),
		createStatusCommand(tg, statusFlags),
		createVersionCommand(),
	)

	return root
}

func createRunCommand(tg command, f *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return tg.Run(f)
		},
	}
	cmd.Flags().StringVar(&f.ConfigPath, "config", "thermoguard.toml", "path to TOML config file")
	return cmd
}

func createStatusCommand(tg command, f *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the persisted supervisor state as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return tg.Status(f)
		},
	}
	cmd.Flags().StringVar(&f.ConfigPath, "config", "thermoguard.toml", "path to TOML config file")
	return cmd
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the thermoguard version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("thermoguard", version)
		},
	}
}
