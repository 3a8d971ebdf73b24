// Package cli holds the terminal helpers of the voiceenc command: YAML or
// JSON output of structured results and the styled training summary.
//
//	cli.Output(records, cli.OutputOptions{Format: cli.FormatJSON})
//	fmt.Println(cli.Summary{Title: "training", Status: "completed", Rows: rows}.Render())
package cli
