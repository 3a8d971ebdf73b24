package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haivivi/voiceenc/pkg/audio/wav"
	"github.com/haivivi/voiceenc/pkg/checkpoint"
	"github.com/haivivi/voiceenc/pkg/dashboard"
	"github.com/haivivi/voiceenc/pkg/experiment"
	"github.com/haivivi/voiceenc/pkg/storage"
	"github.com/haivivi/voiceenc/pkg/trainer"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	verbose = false
	outputJSON = false
	statsQuery = ""
	trainConfigPath = ""
	trainRestorePath = ""
	trainOutputPath = ""
	embedConfigPath = ""
	embedCheckpoint = ""
	embedHashBits = 16
	embedVectors = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// writeCorpus creates two speakers with three one-second utterances each.
func writeCorpus(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for s, freq := range map[string]float64{"alice": 220, "bob": 660} {
		dir := filepath.Join(root, s)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		for i := range 3 {
			samples := make([]float32, 16000)
			for j := range samples {
				samples[j] = float32(0.3*math.Sin(2*math.Pi*freq*float64(j)/16000) +
					0.05*math.Sin(2*math.Pi*float64(1000+300*i)*float64(j)/16000))
			}
			if err := wav.WriteFile(filepath.Join(dir, "utt"+string(rune('0'+i))+".wav"), samples, 16000); err != nil {
				t.Fatal(err)
			}
		}
	}
	return root
}

func writeConfig(t *testing.T, data, out string, extra string) string {
	t.Helper()
	yaml := `run_name: e2e
output_path: ` + out + `
seed: 1
model_params:
  model_name: mlp
  input_dim: 80
  hidden_dim: 16
  num_layers: 1
  proj_dim: 8
  pooling: stats
datasets:
  - formatter: speaker_dirs
    path: ` + data + `
eval_split_size: 0
num_classes_in_batch: 2
num_utter_per_class: 3
num_loader_workers: 2
loss: angleproto
lr: 0.001
save_step: 1000
print_step: 1
steps_plot_stats: 1
voice_len: 0.5
` + extra
	path := filepath.Join(t.TempDir(), "train.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runDirs(t *testing.T, out string) []string {
	t.Helper()
	entries, err := os.ReadDir(out)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(out, e.Name()))
		}
	}
	return dirs
}

func TestVersion(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "voiceenc") {
		t.Fatalf("expected 'voiceenc', got: %s", out)
	}
}

func TestConfigCommands(t *testing.T) {
	path := writeConfig(t, "/data", t.TempDir(), "")

	out, err := runCmd(t, "config", "validate", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "is valid") {
		t.Errorf("validate output: %s", out)
	}

	out, err = runCmd(t, "config", "show", path, "--json")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"grad_clip": 3`) {
		t.Errorf("show does not include defaults: %s", out)
	}

	out, err = runCmd(t, "config", "schema")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "num_utter_per_class") {
		t.Errorf("schema output: %.200s", out)
	}

	bad := writeConfig(t, "/data", t.TempDir(), "audio:\n  num_mels: 40\n")
	if _, err := runCmd(t, "config", "validate", bad); err == nil || !strings.Contains(err.Error(), "input_dim") {
		t.Errorf("validate bad config: %v", err)
	}
}

func TestTrainEndToEnd(t *testing.T) {
	ctx := context.Background()
	data := writeCorpus(t)
	out := t.TempDir()

	if _, err := runCmd(t, "train", "--config", writeConfig(t, data, out, "max_train_step: 2\n")); err != nil {
		t.Fatal(err)
	}
	dirs := runDirs(t, out)
	if len(dirs) != 1 {
		t.Fatalf("run folders = %v, want one", dirs)
	}
	run := dirs[0]
	for _, name := range []string{experiment.ConfigFile, checkpoint.BestModelFile, checkpoint.StepFile(2)} {
		if _, err := os.Stat(filepath.Join(run, name)); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}

	stats, err := runCmd(t, "stats", filepath.Join(run, "dashboard"), "--json", "--jq", "[.[] | .step]")
	if err != nil {
		t.Fatal(err)
	}
	if compact := strings.Join(strings.Fields(stats), ""); compact != "[1,2]" {
		t.Errorf("stats steps = %s, want [1,2]", compact)
	}

	// Resume from the best model for one more step.
	restore := filepath.Join(run, checkpoint.BestModelFile)
	out2 := t.TempDir()
	if _, err := runCmd(t, "train", "--config", writeConfig(t, data, out2, "max_train_step: 3\n"), "--restore-path", restore); err != nil {
		t.Fatal(err)
	}
	dirs = runDirs(t, out2)
	if len(dirs) != 1 {
		t.Fatalf("resumed run folders = %v", dirs)
	}
	store, err := storage.NewLocal(dirs[0])
	if err != nil {
		t.Fatal(err)
	}
	c, err := checkpoint.Load(ctx, store, checkpoint.BestModelFile)
	if err != nil {
		t.Fatal(err)
	}
	if c.Step != 3 {
		t.Errorf("resumed best model at step %d, want 3", c.Step)
	}

	// Embed two utterances with the trained model.
	wavs := []string{filepath.Join(data, "alice", "utt0.wav"), filepath.Join(data, "bob", "utt0.wav")}
	args := append([]string{"embed", "--json", "--vectors",
		"--config", filepath.Join(run, experiment.ConfigFile),
		"--checkpoint", restore}, wavs...)
	embedOut, err := runCmd(t, args...)
	if err != nil {
		t.Fatal(err)
	}
	var records []embedRecord
	if err := json.Unmarshal([]byte(embedOut), &records); err != nil {
		t.Fatalf("embed output: %v\n%s", err, embedOut)
	}
	if len(records) != 2 {
		t.Fatalf("embed records = %d, want 2", len(records))
	}
	for _, r := range records {
		if len(r.Hash) != 4 || len(r.Embedding) != 8 {
			t.Errorf("%s: hash %q, %d dims", r.File, r.Hash, len(r.Embedding))
		}
	}
}

func TestTrainFailureRemovesRunFolder(t *testing.T) {
	data := writeCorpus(t)
	out := t.TempDir()
	// Three classes per batch cannot be drawn from two speakers.
	cfg := writeConfig(t, data, out, "max_train_step: 2\n")
	raw, err := os.ReadFile(cfg)
	if err != nil {
		t.Fatal(err)
	}
	raw = bytes.Replace(raw, []byte("num_classes_in_batch: 2"), []byte("num_classes_in_batch: 3"), 1)
	if err := os.WriteFile(cfg, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := runCmd(t, "train", "--config", cfg); err == nil {
		t.Fatal("expected error")
	}
	if dirs := runDirs(t, out); len(dirs) != 0 {
		t.Errorf("run folder left behind: %v", dirs)
	}
}

func TestRunQueryWithNonFiniteStats(t *testing.T) {
	records := []dashboard.Record{
		{Step: 1, Stats: &dashboard.Stats{GradNorm: 2}},
		{Step: 2, Stats: &dashboard.Stats{GradNorm: math.Inf(1)}},
	}
	got, err := runQuery("[.[] | .stats.grad_norm]", records)
	if err != nil {
		t.Fatal(err)
	}
	norms, ok := got[0].([]any)
	if len(got) != 1 || !ok || len(norms) != 2 {
		t.Fatalf("query result = %v", got)
	}
	if norms[0] != 2.0 || norms[1] != nil {
		t.Errorf("grad norms = %v, want [2 <nil>]", norms)
	}
}

func TestTrainInterruptedRemovesRunFolder(t *testing.T) {
	data := writeCorpus(t)
	out := t.TempDir()
	cfg := writeConfig(t, data, out, "max_train_step: 100\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	trainCmd.SetContext(ctx)
	t.Cleanup(func() { trainCmd.SetContext(context.Background()) })

	summary, err := runCmd(t, "train", "--config", cfg)
	if err != nil {
		t.Fatalf("interrupted run must succeed, got %v", err)
	}
	if !strings.Contains(summary, string(trainer.StatusInterrupted)) {
		t.Errorf("summary does not report interruption:\n%s", summary)
	}
	if dirs := runDirs(t, out); len(dirs) != 0 {
		t.Errorf("run folder without checkpoints left behind: %v", dirs)
	}
}
