package dataloader

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"testing"
	"time"
)

// fakeSource returns a single-frame feature holding the item index and a
// random value, after a random delay.
type fakeSource struct {
	labels []int
	failAt int
}

func (s *fakeSource) Load(ctx context.Context, i int, rng *rand.Rand) ([][]float32, error) {
	if i == s.failAt {
		return nil, errors.New("boom")
	}
	time.Sleep(time.Duration(rand.IntN(200)) * time.Microsecond)
	return [][]float32{{float32(i), rng.Float32()}}, nil
}

func (s *fakeSource) Label(i int) int { return s.labels[i] }

type fixedPlan [][]int

func (p fixedPlan) Epoch(int) [][]int { return p }

func newFixture(failAt int) (*fakeSource, fixedPlan) {
	src := &fakeSource{failAt: failAt}
	var plan fixedPlan
	for b := range 20 {
		batch := make([]int, 4)
		for j := range batch {
			idx := b*4 + j
			batch[j] = idx
			src.labels = append(src.labels, idx%2)
		}
		plan = append(plan, batch)
	}
	return src, plan
}

func collect(t *testing.T, l *Loader) ([][]float32, error) {
	t.Helper()
	var rows [][]float32
	for b, err := range l.Batches(context.Background(), 0) {
		if err != nil {
			return rows, err
		}
		for _, f := range b.Features {
			rows = append(rows, f[0])
		}
	}
	return rows, nil
}

func TestBatchesOrderedAndWorkerIndependent(t *testing.T) {
	src, plan := newFixture(-1)

	serial, err := collect(t, New(src, plan, 0, 42))
	if err != nil {
		t.Fatal(err)
	}
	if len(serial) != 80 {
		t.Fatalf("got %d rows, want 80", len(serial))
	}
	for i, row := range serial {
		if int(row[0]) != i {
			t.Fatalf("row %d holds item %v", i, row[0])
		}
	}

	for _, workers := range []int{1, 3, 8} {
		parallel, err := collect(t, New(src, plan, workers, 42))
		if err != nil {
			t.Fatal(err)
		}
		if !slices.EqualFunc(serial, parallel, slices.Equal) {
			t.Errorf("workers=%d: batches differ from serial loading", workers)
		}
	}
}

func TestBatchesLabels(t *testing.T) {
	src, plan := newFixture(-1)
	for b, err := range New(src, plan, 2, 0).Batches(context.Background(), 0) {
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(b.Labels, []int{0, 1, 0, 1}) {
			t.Fatalf("labels = %v", b.Labels)
		}
	}
}

func TestBatchesError(t *testing.T) {
	for _, workers := range []int{0, 4} {
		src, plan := newFixture(37)
		rows, err := collect(t, New(src, plan, workers, 0))
		if err == nil {
			t.Fatalf("workers=%d: expected error", workers)
		}
		if len(rows) != 36 {
			t.Errorf("workers=%d: %d rows before the failing batch, want 36", workers, len(rows))
		}
	}
}

func TestBatchesEarlyBreak(t *testing.T) {
	src, plan := newFixture(-1)
	n := 0
	for _, err := range New(src, plan, 4, 0).Batches(context.Background(), 0) {
		if err != nil {
			t.Fatal(err)
		}
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Errorf("consumed %d batches", n)
	}
}

func TestBatchesCanceled(t *testing.T) {
	src, plan := newFixture(-1)
	for _, workers := range []int{0, 4} {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		var gotErr error
		for _, err := range New(src, plan, workers, 0).Batches(ctx, 0) {
			if err != nil {
				gotErr = err
				break
			}
		}
		if !errors.Is(gotErr, context.Canceled) {
			t.Errorf("workers=%d: got %v, want context.Canceled", workers, gotErr)
		}
	}
}
