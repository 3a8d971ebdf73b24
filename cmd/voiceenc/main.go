// Package main is the entry point of the voiceenc trainer.
//
// Usage:
//
//	voiceenc [flags] <command> [subcommand] [args]
//
// Commands:
//
//	train      - Train a speaker or emotion encoder
//	config     - Validate, show or describe training configurations
//	stats      - Query the statistics of a training run
//	version    - Show version information
package main

import (
	"os"

	"github.com/haivivi/voiceenc/cmd/voiceenc/commands"
	"github.com/haivivi/voiceenc/pkg/cli"
)

func main() {
	if err := commands.Execute(); err != nil {
		cli.PrintError("%v", err)
		os.Exit(1)
	}
}
