package commands

import (
	"github.com/spf13/cobra"

	"github.com/haivivi/voiceenc/pkg/cli"
	"github.com/haivivi/voiceenc/pkg/config"
	"github.com/haivivi/voiceenc/pkg/voiceprint"
)

var (
	embedConfigPath string
	embedCheckpoint string
	embedHashBits   int
	embedVectors    bool
)

// embedRecord is one line of embed output.
type embedRecord struct {
	File      string    `json:"file" yaml:"file"`
	Hash      string    `json:"hash" yaml:"hash"`
	Embedding []float64 `json:"embedding,omitempty" yaml:"embedding,omitempty"`
}

var embedCmd = &cobra.Command{
	Use:   "embed WAV...",
	Short: "Embed utterances with a trained checkpoint",
	Long: `Embed WAV files with a checkpoint and print a hex voice label for each.

The label is derived from the embedding with random hyperplane hashing
seeded by the configuration seed, so labels of one configuration are
comparable across invocations.

Examples:
  voiceenc embed --config run/config.yaml --checkpoint run/best_model.pth a.wav b.wav
  voiceenc embed --config run/config.yaml --checkpoint s3://bucket/run/best_model.pth --vectors --json a.wav`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(embedConfigPath)
		if err != nil {
			return err
		}
		enc, err := voiceprint.Open(cmd.Context(), cfg, embedCheckpoint)
		if err != nil {
			return err
		}
		hasher, err := voiceprint.NewHasher(enc.Dim(), embedHashBits, cfg.Seed)
		if err != nil {
			return err
		}

		records := make([]embedRecord, 0, len(args))
		for _, path := range args {
			emb, err := enc.EmbedFile(path)
			if err != nil {
				return err
			}
			hash, err := hasher.Hash(emb)
			if err != nil {
				return err
			}
			r := embedRecord{File: path, Hash: hash}
			if embedVectors {
				r.Embedding = emb
			}
			records = append(records, r)
		}
		return cli.Output(records, outputOptions(cmd))
	},
}

func init() {
	embedCmd.Flags().StringVar(&embedConfigPath, "config", "", "training configuration file")
	embedCmd.Flags().StringVar(&embedCheckpoint, "checkpoint", "", "checkpoint path or s3:// URL")
	embedCmd.Flags().IntVar(&embedHashBits, "hash-bits", 16, "voice label size in bits (multiple of 4)")
	embedCmd.Flags().BoolVar(&embedVectors, "vectors", false, "include the embedding vectors")
	embedCmd.MarkFlagRequired("config")
	embedCmd.MarkFlagRequired("checkpoint")
	rootCmd.AddCommand(embedCmd)
}
