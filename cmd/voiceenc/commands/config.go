package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/voiceenc/pkg/cli"
	"github.com/haivivi/voiceenc/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect training configurations",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Check a configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0])
		if err != nil {
			return err
		}
		cli.PrintSuccess(cmd.OutOrStdout(), "%s is valid (%s, %s loss, batch %d x %d)",
			args[0], cfg.Model, cfg.Loss, cfg.ClassesInBatch(), cfg.UtterancesPerClass())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show FILE",
	Short: "Print a configuration with every default applied",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0])
		if err != nil {
			return err
		}
		return cli.Output(cfg, outputOptions(cmd))
	},
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of configuration files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.Schema()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSchemaCmd)
	rootCmd.AddCommand(configCmd)
}
