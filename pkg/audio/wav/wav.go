// Package wav decodes and encodes RIFF/WAVE files.
//
// Decode accepts integer PCM (8, 16, 24 and 32 bit) and IEEE float (32 and
// 64 bit) data, plain or WAVE_FORMAT_EXTENSIBLE, with any channel count.
// Samples are returned as mono float32 in [-1, 1]; multi-channel input is
// averaged across channels.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	formatPCM        = 0x0001
	formatFloat      = 0x0003
	formatExtensible = 0xFFFE

	// maxFormatSize bounds the fmt chunk; WAVE_FORMAT_EXTENSIBLE needs 40.
	maxFormatSize = 1 << 10
)

var (
	// ErrFormat is returned for files that are not RIFF/WAVE.
	ErrFormat = errors.New("wav: not a RIFF/WAVE file")
	// ErrUnsupported is returned for encodings Decode cannot handle.
	ErrUnsupported = errors.New("wav: unsupported encoding")
)

// Audio is a decoded mono waveform.
type Audio struct {
	SampleRate int
	// Channels is the channel count of the source file.
	Channels int
	Samples  []float32
}

// Duration returns the length of the waveform in seconds.
func (a *Audio) Duration() float64 {
	if a.SampleRate == 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

type format struct {
	tag           uint16
	channels      int
	sampleRate    int
	bitsPerSample int
}

// ReadFile decodes the WAV file at path.
func ReadFile(path string) (*Audio, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	a, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// Decode reads a complete WAV stream from r.
func Decode(r io.Reader) (*Audio, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, ErrFormat
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return nil, ErrFormat
	}

	var fmtChunk *format
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("wav: missing data chunk")
			}
			return nil, err
		}
		id := string(ch[0:4])
		size := int64(binary.LittleEndian.Uint32(ch[4:8]))

		switch id {
		case "fmt ":
			if size > maxFormatSize {
				return nil, fmt.Errorf("wav: fmt chunk too large (%d bytes)", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("wav: read fmt chunk: %w", err)
			}
			f, err := parseFormat(body)
			if err != nil {
				return nil, err
			}
			fmtChunk = f
		case "data":
			if fmtChunk == nil {
				return nil, fmt.Errorf("wav: data chunk before fmt chunk")
			}
			// Streams written without a known length carry 0 or 0xFFFFFFFF.
			// A truncated file keeps the samples it has.
			src := r
			if size != 0 && size != math.MaxUint32 {
				src = io.LimitReader(r, size)
			}
			body, err := io.ReadAll(src)
			if err != nil {
				return nil, fmt.Errorf("wav: read data chunk: %w", err)
			}
			samples, err := decodeSamples(fmtChunk, body)
			if err != nil {
				return nil, err
			}
			return &Audio{SampleRate: fmtChunk.sampleRate, Channels: fmtChunk.channels, Samples: samples}, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return nil, fmt.Errorf("wav: skip %q chunk: %w", id, err)
			}
			continue
		}
		if size%2 == 1 {
			if _, err := io.CopyN(io.Discard, r, 1); err != nil {
				return nil, err
			}
		}
	}
}

func parseFormat(b []byte) (*format, error) {
	if len(b) < 16 {
		return nil, fmt.Errorf("wav: fmt chunk too short (%d bytes)", len(b))
	}
	f := &format{
		tag:           binary.LittleEndian.Uint16(b[0:2]),
		channels:      int(binary.LittleEndian.Uint16(b[2:4])),
		sampleRate:    int(binary.LittleEndian.Uint32(b[4:8])),
		bitsPerSample: int(binary.LittleEndian.Uint16(b[14:16])),
	}
	if f.tag == formatExtensible {
		if len(b) < 26 {
			return nil, fmt.Errorf("wav: extensible fmt chunk too short")
		}
		// The first two bytes of the sub-format GUID hold the real tag.
		f.tag = binary.LittleEndian.Uint16(b[24:26])
	}
	if f.channels <= 0 || f.sampleRate <= 0 {
		return nil, fmt.Errorf("wav: invalid fmt chunk (channels=%d rate=%d)", f.channels, f.sampleRate)
	}
	switch {
	case f.tag == formatPCM && (f.bitsPerSample == 8 || f.bitsPerSample == 16 || f.bitsPerSample == 24 || f.bitsPerSample == 32):
	case f.tag == formatFloat && (f.bitsPerSample == 32 || f.bitsPerSample == 64):
	default:
		return nil, fmt.Errorf("%w: format %#04x, %d bits", ErrUnsupported, f.tag, f.bitsPerSample)
	}
	return f, nil
}

func decodeSamples(f *format, b []byte) ([]float32, error) {
	width := f.bitsPerSample / 8
	frameSize := width * f.channels
	frames := len(b) / frameSize
	out := make([]float32, frames)

	sample := sampleDecoder(f)
	for i := 0; i < frames; i++ {
		frame := b[i*frameSize : (i+1)*frameSize]
		var sum float64
		for c := 0; c < f.channels; c++ {
			sum += sample(frame[c*width : (c+1)*width])
		}
		out[i] = float32(sum / float64(f.channels))
	}
	return out, nil
}

func sampleDecoder(f *format) func([]byte) float64 {
	if f.tag == formatFloat {
		if f.bitsPerSample == 64 {
			return func(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) }
		}
		return func(b []byte) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))) }
	}
	switch f.bitsPerSample {
	case 8:
		// 8-bit PCM is unsigned.
		return func(b []byte) float64 { return (float64(b[0]) - 128) / 128 }
	case 16:
		return func(b []byte) float64 { return float64(int16(binary.LittleEndian.Uint16(b))) / 32768 }
	case 24:
		return func(b []byte) float64 {
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			return float64(v) / 8388608
		}
	default:
		return func(b []byte) float64 { return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648 }
	}
}

// Encode writes samples as a mono 16-bit PCM WAV stream. Samples outside
// [-1, 1] are clipped.
func Encode(w io.Writer, samples []float32, sampleRate int) error {
	dataSize := len(samples) * 2
	var buf bytes.Buffer
	buf.Grow(44 + dataSize)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(formatPCM))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))

	for _, s := range samples {
		v := math.Round(float64(s) * 32767)
		v = math.Max(-32768, math.Min(32767, v))
		binary.Write(&buf, binary.LittleEndian, int16(v))
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteFile encodes samples to path.
func WriteFile(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
