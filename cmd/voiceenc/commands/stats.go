package commands

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/haivivi/voiceenc/pkg/cli"
	"github.com/haivivi/voiceenc/pkg/dashboard"
	"github.com/haivivi/voiceenc/pkg/kv"
)

var statsQuery string

var statsCmd = &cobra.Command{
	Use:   "stats DASHBOARD_DIR",
	Short: "Print the training statistics of a run",
	Long: `Print the statistics recorded by the dashboard of a finished or stopped
run, one record per logged step.

A jq expression filters the records, given as an array:

  voiceenc stats DIR --jq '.[-1].stats.avg_loss'
  voiceenc stats DIR --jq '[.[] | select(.stats.grad_norm > 3) | .step]'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := kv.NewBadger(kv.BadgerOptions{Dir: args[0], ReadOnly: true})
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := dashboard.ReadStats(cmd.Context(), store)
		if err != nil {
			return err
		}
		if statsQuery == "" {
			return cli.Output(records, outputOptions(cmd))
		}
		results, err := runQuery(statsQuery, records)
		if err != nil {
			return err
		}
		for _, v := range results {
			if err := cli.Output(v, outputOptions(cmd)); err != nil {
				return err
			}
		}
		return nil
	},
}

// runQuery evaluates a jq expression over records.
func runQuery(expr string, records []dashboard.Record) ([]any, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse --jq: %w", err)
	}
	// gojq operates on plain JSON values.
	data, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}

	var out []any
	iter := query.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, fmt.Errorf("--jq: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

func init() {
	statsCmd.Flags().StringVar(&statsQuery, "jq", "", "jq expression applied to the record array")
	rootCmd.AddCommand(statsCmd)
}
