package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/haivivi/voiceenc/pkg/config"
)

// Item is one labelled utterance.
type Item struct {
	AudioFile   string `msgpack:"audio_file" json:"audio_file" yaml:"audio_file"`
	Text        string `msgpack:"text,omitempty" json:"text,omitempty" yaml:"text,omitempty"`
	SpeakerName string `msgpack:"speaker_name" json:"speaker_name" yaml:"speaker_name"`
	EmotionName string `msgpack:"emotion_name,omitempty" json:"emotion_name,omitempty" yaml:"emotion_name,omitempty"`
	Language    string `msgpack:"language,omitempty" json:"language,omitempty" yaml:"language,omitempty"`
	Dataset     string `msgpack:"dataset,omitempty" json:"dataset,omitempty" yaml:"dataset,omitempty"`
}

// Class returns the item's label for the class field (see
// config.Config.ClassField).
func (it Item) Class(field string) string {
	if field == "emotion_name" {
		return it.EmotionName
	}
	return it.SpeakerName
}

// Formatter reads the items of one dataset from metaFile (which may be
// empty for directory-based formatters).
type Formatter func(root, metaFile string) ([]Item, error)

var formatters = map[string]Formatter{
	"speaker_dirs": speakerDirs,
	"csv":          csvMeta,
}

// speakerDirs treats every directory directly below root as a class and
// collects the .wav files below it at any depth. The directory name is
// both the speaker and the emotion label.
func speakerDirs(root, _ string) ([]Item, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var items []Item
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		class := e.Name()
		err := filepath.WalkDir(filepath.Join(root, class), func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".wav") {
				return nil
			}
			items = append(items, Item{AudioFile: p, SpeakerName: class, EmotionName: class})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	slices.SortFunc(items, func(a, b Item) int { return strings.Compare(a.AudioFile, b.AudioFile) })
	return items, nil
}

// csvMeta reads pipe-separated lines "audio_file|text|speaker_name[|emotion_name]".
// A first line starting with "audio_file" is a header. Relative audio paths
// are resolved against root.
func csvMeta(root, metaFile string) ([]Item, error) {
	if !filepath.IsAbs(metaFile) {
		metaFile = filepath.Join(root, metaFile)
	}
	f, err := os.Open(metaFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '|'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.Comment = '#'

	var items []Item
	for line := 1; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", metaFile, err)
		}
		if line == 1 && strings.TrimSpace(rec[0]) == "audio_file" {
			continue
		}
		if len(rec) < 3 {
			return nil, fmt.Errorf("%s:%d: want at least 3 fields, got %d", metaFile, line, len(rec))
		}
		it := Item{
			AudioFile:   strings.TrimSpace(rec[0]),
			Text:        rec[1],
			SpeakerName: strings.TrimSpace(rec[2]),
		}
		if len(rec) > 3 {
			it.EmotionName = strings.TrimSpace(rec[3])
		}
		if !filepath.IsAbs(it.AudioFile) {
			it.AudioFile = filepath.Join(root, it.AudioFile)
		}
		items = append(items, it)
	}
	return items, nil
}

// loadDataset applies the dataset's formatter to metaFile and stamps
// dataset-level attributes on every item.
func loadDataset(d config.DatasetConfig, metaFile string) ([]Item, error) {
	format, ok := formatters[d.Formatter]
	if !ok {
		return nil, fmt.Errorf("dataset: unknown formatter %q", d.Formatter)
	}
	items, err := format(d.Path, metaFile)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", datasetName(d), err)
	}
	out := items[:0]
	for _, it := range items {
		if slices.Contains(d.IgnoredClasses, it.SpeakerName) ||
			(it.EmotionName != "" && slices.Contains(d.IgnoredClasses, it.EmotionName)) {
			continue
		}
		it.Language = d.Language
		it.Dataset = datasetName(d)
		out = append(out, it)
	}
	return out, nil
}

func datasetName(d config.DatasetConfig) string {
	if d.DatasetName != "" {
		return d.DatasetName
	}
	return filepath.Base(d.Path)
}
