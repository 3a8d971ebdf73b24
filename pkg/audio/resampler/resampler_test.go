package resampler

import (
	"math"
	"testing"
)

func TestResampleSameRate(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out, err := Resample(in, 16000, 16000)
	if err != nil {
		t.Fatal(err)
	}
	if &out[0] != &in[0] {
		t.Error("same-rate resample should return the input slice")
	}
}

func TestResampleInvalidRate(t *testing.T) {
	if _, err := Resample([]float32{0}, 0, 16000); err == nil {
		t.Error("expected error for zero input rate")
	}
}

func TestResampleDownsample(t *testing.T) {
	const from, to = 48000, 16000
	in := make([]float32, from)
	for i := range in {
		in[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/from))
	}
	out, err := Resample(in, from, to)
	if err != nil {
		t.Fatal(err)
	}
	// Filter latency holds back part of the tail.
	if len(out) < to/2 || len(out) > to*11/10 {
		t.Fatalf("got %d samples, want about %d", len(out), to)
	}
	var peak float32
	for _, s := range out {
		if s > peak {
			peak = s
		}
		if s > 1 || s < -1 {
			t.Fatalf("sample %f out of range", s)
		}
	}
	if peak < 0.3 {
		t.Errorf("peak = %f, tone lost in resampling", peak)
	}
}
