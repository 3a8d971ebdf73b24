// Package experiment manages the output folder of a training run.
//
// Every run gets its own folder below output_path, named
// "<run_name>-<Month-DD-YYYY_HH+MMPM>-<id>", holding the effective
// configuration, checkpoints and, for local output, the dashboard.
package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haivivi/voiceenc/pkg/checkpoint"
	"github.com/haivivi/voiceenc/pkg/config"
	"github.com/haivivi/voiceenc/pkg/storage"
)

// ConfigFile is the name of the configuration copy in a run folder.
const ConfigFile = "config.yaml"

const dateLayout = "January-02-2006_03+04PM"

// Run is the output folder of one training run.
type Run struct {
	root     storage.FileStore
	store    storage.FileStore
	name     string
	location string
}

// New creates the run folder for cfg below cfg.OutputPath and writes the
// configuration into it.
func New(ctx context.Context, cfg *config.Config) (*Run, error) {
	return create(ctx, cfg, time.Now())
}

func create(ctx context.Context, cfg *config.Config, now time.Time) (*Run, error) {
	root, err := storage.Open(ctx, cfg.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("experiment: open %s: %w", cfg.OutputPath, err)
	}
	name := FolderName(cfg.RunName, now, uuid.New())
	r := &Run{
		root:     root,
		store:    storage.Sub(root, name),
		name:     name,
		location: join(cfg.OutputPath, name),
	}
	if err := r.WriteConfig(ctx, cfg); err != nil {
		return nil, err
	}
	slog.Info("experiment folder", "path", r.location)
	return r, nil
}

// FolderName formats the folder name of a run started at t.
func FolderName(runName string, t time.Time, id uuid.UUID) string {
	return fmt.Sprintf("%s-%s-%s", runName, t.Format(dateLayout), id.String()[:8])
}

func join(base, name string) string {
	if storage.IsRemote(base) {
		return strings.TrimRight(base, "/") + "/" + name
	}
	return filepath.Join(base, name)
}

// Name returns the folder name.
func (r *Run) Name() string { return r.name }

// Dir returns the folder location: a local path or an s3:// URL.
func (r *Run) Dir() string { return r.location }

// Local reports whether the folder is on local disk.
func (r *Run) Local() bool { return !storage.IsRemote(r.location) }

// Store returns the folder as a file store.
func (r *Run) Store() storage.FileStore { return r.store }

// WriteConfig stores cfg as config.yaml, replacing any previous copy.
func (r *Run) WriteConfig(ctx context.Context, cfg *config.Config) error {
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	if err := storage.WriteFile(ctx, r.store, ConfigFile, data); err != nil {
		return fmt.Errorf("experiment: write config: %w", err)
	}
	return nil
}

// Cleanup removes the folder unless it holds a checkpoint, and reports
// whether it was removed.
func (r *Run) Cleanup(ctx context.Context) (bool, error) {
	files, err := r.store.List(ctx, "")
	if err != nil {
		return false, fmt.Errorf("experiment: list %s: %w", r.location, err)
	}
	for _, f := range files {
		if strings.HasSuffix(f, checkpoint.Suffix) {
			slog.Info("keeping experiment folder with checkpoints", "path", r.location, "checkpoint", f)
			return false, nil
		}
	}
	if err := r.root.RemoveAll(ctx, r.name); err != nil {
		return false, fmt.Errorf("experiment: remove %s: %w", r.location, err)
	}
	slog.Info("removed experiment folder", "path", r.location)
	return true, nil
}
