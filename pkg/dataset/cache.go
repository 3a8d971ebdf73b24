package dataset

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/voiceenc/pkg/audio"
	"github.com/haivivi/voiceenc/pkg/kv"
)

// featureCache keys features by audio file and by a fingerprint of the
// processor settings, so changing the audio config never serves stale
// features.
type featureCache struct {
	store kv.Store
	tag   string
}

func newFeatureCache(store kv.Store, proc *audio.Processor) *featureCache {
	h := fnv.New64a()
	h.Write([]byte(proc.Fingerprint()))
	return &featureCache{store: store, tag: hex.EncodeToString(h.Sum(nil))}
}

func (c *featureCache) key(path string) kv.Key {
	sum := sha1.Sum([]byte(path))
	return kv.Key{"features", c.tag, hex.EncodeToString(sum[:])}
}

func (c *featureCache) get(ctx context.Context, path string) ([][]float32, bool, error) {
	data, err := c.store.Get(ctx, c.key(path))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var feats [][]float32
	if err := msgpack.Unmarshal(data, &feats); err != nil {
		return nil, false, fmt.Errorf("decode cached features: %w", err)
	}
	return feats, true, nil
}

func (c *featureCache) set(ctx context.Context, path string, feats [][]float32) error {
	data, err := msgpack.Marshal(feats)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, c.key(path), data)
}
