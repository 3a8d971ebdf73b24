package kv_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/haivivi/voiceenc/pkg/kv"
)

// backends returns a fresh store per implementation.
func backends(t *testing.T) map[string]kv.Store {
	t.Helper()
	b, err := kv.NewBadger(kv.BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	m := kv.NewMemory(nil)
	t.Cleanup(func() {
		b.Close()
		m.Close()
	})
	return map[string]kv.Store{"memory": m, "badger": b}
}

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			key := kv.Key{"features", "a.wav"}

			if _, err := s.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := s.Set(ctx, key, []byte("v1")); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := s.Get(ctx, key)
			if err != nil || string(got) != "v1" {
				t.Fatalf("Get = %q, %v", got, err)
			}
			if err := s.Set(ctx, key, []byte("v2")); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			got, _ = s.Get(ctx, key)
			if string(got) != "v2" {
				t.Fatalf("Get after overwrite = %q", got)
			}
			if err := s.Delete(ctx, key); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := s.Delete(ctx, key); err != nil {
				t.Fatalf("Delete missing: %v", err)
			}
			if _, err := s.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestListPrefix(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			entries := []kv.Entry{
				{Key: kv.Key{"train", "stats", "0000000002"}, Value: []byte("b")},
				{Key: kv.Key{"train", "stats", "0000000001"}, Value: []byte("a")},
				{Key: kv.Key{"train", "statsx", "0000000001"}, Value: []byte("x")},
				{Key: kv.Key{"eval", "stats", "0000000001"}, Value: []byte("e")},
			}
			if err := s.BatchSet(ctx, entries); err != nil {
				t.Fatalf("BatchSet: %v", err)
			}

			var keys []string
			for e, err := range s.List(ctx, kv.Key{"train", "stats"}) {
				if err != nil {
					t.Fatalf("List: %v", err)
				}
				keys = append(keys, e.Key.String())
			}
			want := []string{"train:stats:0000000001", "train:stats:0000000002"}
			if !slices.Equal(keys, want) {
				t.Errorf("List = %v, want %v", keys, want)
			}

			n := 0
			for range s.List(ctx, nil) {
				n++
			}
			if n != len(entries) {
				t.Errorf("List(nil) returned %d entries, want %d", n, len(entries))
			}
		})
	}
}

func TestListEarlyBreak(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"1", "2", "3"} {
				if err := s.Set(ctx, kv.Key{"p", id}, []byte(id)); err != nil {
					t.Fatal(err)
				}
			}
			n := 0
			for range s.List(ctx, kv.Key{"p"}) {
				n++
				if n == 2 {
					break
				}
			}
			if n != 2 {
				t.Errorf("iterated %d entries, want 2", n)
			}
		})
	}
}

func TestTypedValues(t *testing.T) {
	ctx := context.Background()
	type record struct {
		Step int
		Loss float64
	}
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			key := kv.Key{"train", "stats", "0000000010"}
			if err := kv.SetValue(ctx, s, key, record{Step: 10, Loss: 0.25}); err != nil {
				t.Fatalf("SetValue: %v", err)
			}
			got, err := kv.GetValue[record](ctx, s, key)
			if err != nil {
				t.Fatalf("GetValue: %v", err)
			}
			if got.Step != 10 || got.Loss != 0.25 {
				t.Errorf("GetValue = %+v", got)
			}
			if _, err := kv.GetValue[record](ctx, s, kv.Key{"missing"}); !errors.Is(err, kv.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestCustomSeparator(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemory(&kv.Options{Separator: '/'})
	if err := s.Set(ctx, kv.Key{"a", "b:c"}, []byte("1")); err != nil {
		t.Fatal(err)
	}
	for e, err := range s.List(ctx, kv.Key{"a"}) {
		if err != nil {
			t.Fatal(err)
		}
		if len(e.Key) != 2 || e.Key[1] != "b:c" {
			t.Errorf("decoded key = %#v", e.Key)
		}
	}
}

func TestBadgerRequiresDir(t *testing.T) {
	if _, err := kv.NewBadger(kv.BadgerOptions{}); err == nil {
		t.Fatal("expected error without Dir")
	}
}

func TestBadgerReopenReadOnly(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := kv.NewBadger(kv.BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := kv.SetValue(ctx, s, kv.Key{"train", "stats", "0000000010"}, 1.5); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	ro, err := kv.NewBadger(kv.BadgerOptions{Dir: dir, ReadOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	defer ro.Close()
	got, err := kv.GetValue[float64](ctx, ro, kv.Key{"train", "stats", "0000000010"})
	if err != nil || got != 1.5 {
		t.Errorf("GetValue = %v, %v; want 1.5", got, err)
	}
}
