package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/voiceenc/pkg/cli"
)

var (
	// Global flags
	verbose    bool
	outputJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "voiceenc",
	Short: "Speaker and emotion embedding encoder trainer",
	Long: `voiceenc trains encoders that map utterances to fixed-length embeddings,
for speaker or emotion conditioning of speech synthesis.

Training is configured with a YAML file. Runs are written below
output_path, a local directory or an s3://bucket/prefix URL.

Examples:
  # Check a configuration
  voiceenc config validate train.yaml

  # Train, resuming from a previous checkpoint
  voiceenc train --config train.yaml --restore-path runs/old/best_model.pth

  # Inspect the loss curve of a run
  voiceenc stats runs/encoder-March-05-2024_02+07PM-0123abcd/dashboard --jq '.[] | [.step, .stats.avg_loss]'`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output as JSON (for piping)")
}

func initLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

func outputOptions(cmd *cobra.Command) cli.OutputOptions {
	return cli.OutputOptions{Format: cli.FormatFor(outputJSON), Writer: cmd.OutOrStdout()}
}
