package experiment

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/haivivi/voiceenc/pkg/checkpoint"
	"github.com/haivivi/voiceenc/pkg/config"
	"github.com/haivivi/voiceenc/pkg/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.RunName = "speaker"
	cfg.OutputPath = t.TempDir()
	cfg.NumClassesInBatch = config.Int(2)
	cfg.NumUtterPerClass = config.Int(2)
	cfg.NumLoaderWorkers = config.Int(0)
	cfg.Datasets = []config.DatasetConfig{{Formatter: "speaker_dirs", Path: "/data"}}
	return cfg
}

func TestFolderName(t *testing.T) {
	at := time.Date(2024, time.March, 5, 14, 7, 0, 0, time.UTC)
	id := uuid.MustParse("0123abcd-0000-4000-8000-000000000000")
	if got, want := FolderName("encoder", at, id), "encoder-March-05-2024_02+07PM-0123abcd"; got != want {
		t.Errorf("FolderName = %q, want %q", got, want)
	}
}

func TestNewWritesConfig(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	r, err := New(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !regexp.MustCompile(`^speaker-[A-Z][a-z]+-\d{2}-\d{4}_\d{2}\+\d{2}[AP]M-[0-9a-f]{8}$`).MatchString(r.Name()) {
		t.Errorf("unexpected folder name %q", r.Name())
	}
	if r.Dir() != filepath.Join(cfg.OutputPath, r.Name()) || !r.Local() {
		t.Errorf("Dir = %q", r.Dir())
	}
	back, err := config.Load(filepath.Join(r.Dir(), ConfigFile))
	if err != nil {
		t.Fatal(err)
	}
	if back.RunName != "speaker" || back.BatchSize() != 4 {
		t.Errorf("config copy = %+v", back)
	}
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	empty, err := New(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	removed, err := empty.Cleanup(ctx)
	if err != nil || !removed {
		t.Fatalf("Cleanup = %v, %v; want removed", removed, err)
	}
	if _, err := os.Stat(empty.Dir()); !os.IsNotExist(err) {
		t.Errorf("folder still exists: %v", err)
	}

	kept, err := create(ctx, cfg, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if err := storage.WriteFile(ctx, kept.Store(), checkpoint.BestModelFile, []byte("x")); err != nil {
		t.Fatal(err)
	}
	removed, err = kept.Cleanup(ctx)
	if err != nil || removed {
		t.Fatalf("Cleanup = %v, %v; want kept", removed, err)
	}
	if _, err := os.Stat(filepath.Join(kept.Dir(), checkpoint.BestModelFile)); err != nil {
		t.Errorf("checkpoint gone: %v", err)
	}
}
