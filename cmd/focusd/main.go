package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/e7canasta/focus-sensor/internal/session"
	"github.com/e7canasta/focus-sensor/internal/types"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "focusd",
		Short:         "Drowsiness and focus sensor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newScoreCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sensor service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to YAML configuration (defaults when empty)")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	cmd.Flags().BoolVar(&opts.autoStart, "auto-start", false, "start a session immediately")
	cmd.Flags().BoolVar(&opts.once, "once", false, "exit after the first session ends")
	return cmd
}

func newScoreCmd() *cobra.Command {
	var elapsed time.Duration
	var losses int

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute a session score offline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if elapsed < 0 {
				return fmt.Errorf("elapsed must be >= 0, got %s", elapsed)
			}
			if losses < 0 {
				return fmt.Errorf("losses must be >= 0, got %d", losses)
			}

			duration, weighted, score := session.Score(elapsed, losses)
			summary := types.SessionSummary{
				DurationSeconds: duration,
				WeightedLoss:    weighted,
				FocusScore:      score,
				FocusLossCount:  losses,
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().DurationVar(&elapsed, "elapsed", 0, "session duration (e.g. 25s, 3m)")
	cmd.Flags().IntVar(&losses, "losses", 0, "number of focus-loss events")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "focusd", version)
		},
	}
}
