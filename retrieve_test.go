package main

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"golang.org/x/sys/unix"
)

func encodeSamples(samples []int16) []byte {
	b := make([]byte, 0, len(samples)*sampleSize)
	for _, s := range samples {
		b = binary.NativeEndian.AppendUint16(b, uint16(s))
	}
	return b
}

func writeDataFile(t *testing.T, raw []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRetrieveRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 3, 4, 5, 16, 17, 100} {
		samples := make([]int16, n)
		want := make([]int, n)
		for i := range samples {
			samples[i] = int16(i*37 - 500)
			want[i] = int(samples[i])
		}

		cfg := &HeatmapConfig{
			Path:   writeDataFile(t, encodeSamples(samples)),
			Width:  4,
			Bounds: NewBounds(0, 0, false, false),
		}
		var buf FrameBuffer
		frame, err := Retrieve(cfg, &buf)
		if err != nil {
			t.Fatalf("n=%d: Retrieve() error = %v", n, err)
		}
		if len(frame.Samples) != n {
			t.Fatalf("n=%d: got %d samples", n, len(frame.Samples))
		}
		if n > 0 && !reflect.DeepEqual(frame.Samples, want) {
			t.Errorf("n=%d: samples = %v, want %v", n, frame.Samples, want)
		}
		if cap(frame.Samples) != n {
			t.Errorf("n=%d: frame capacity = %d, want exactly %d", n, cap(frame.Samples), n)
		}
		if frame.Width != 4 {
			t.Errorf("n=%d: frame width = %d, want 4", n, frame.Width)
		}
	}
}

func TestRetrieveAutoRange(t *testing.T) {
	cfg := &HeatmapConfig{
		Path:   writeDataFile(t, encodeSamples([]int16{10, -3, 7})),
		Width:  3,
		Bounds: NewBounds(0, 0, true, true),
	}
	var buf FrameBuffer
	frame, err := Retrieve(cfg, &buf)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if want := []int{10, -3, 7}; !reflect.DeepEqual(frame.Samples, want) {
		t.Errorf("samples = %v, want %v", frame.Samples, want)
	}
	if cfg.Bounds.Min != -3 || cfg.Bounds.Max != 10 {
		t.Errorf("bounds = %d..%d, want -3..10", cfg.Bounds.Min, cfg.Bounds.Max)
	}
	if frame.Rows() != 1 {
		t.Errorf("Rows() = %d, want 1", frame.Rows())
	}
}

func TestFrameBufferGrowth(t *testing.T) {
	const width = 4
	for n := 0; n <= 3*width+1; n++ {
		samples := make([]int16, n)
		var buf FrameBuffer
		got, err := readFrame(&scriptedReader{raw: encodeSamples(samples)}, width, &Bounds{}, &buf)
		if err != nil {
			t.Fatalf("n=%d: readFrame() error = %v", n, err)
		}
		if len(got) != n {
			t.Fatalf("n=%d: got %d samples", n, len(got))
		}

		// One growth each time the fill reaches W, 2W, 3W, ...
		k := n / width
		if buf.Grows() != k {
			t.Errorf("n=%d: grows = %d, want %d", n, buf.Grows(), k)
		}
		if want := (k + 1) * width; buf.Capacity() != want {
			t.Errorf("n=%d: capacity = %d, want %d", n, buf.Capacity(), want)
		}
		if buf.Capacity() < n {
			t.Errorf("n=%d: capacity %d below sample count", n, buf.Capacity())
		}
	}
}

func TestFrameBufferRemembersCapacity(t *testing.T) {
	cfg := &HeatmapConfig{
		Path:   writeDataFile(t, encodeSamples(make([]int16, 10))),
		Width:  3,
		Bounds: NewBounds(0, 0, true, true),
	}
	var buf FrameBuffer
	for tick := 0; tick < 3; tick++ {
		if _, err := Retrieve(cfg, &buf); err != nil {
			t.Fatalf("tick %d: Retrieve() error = %v", tick, err)
		}
	}
	// 10 samples at width 3 grow at 3, 6 and 9 on the first tick only.
	if buf.Grows() != 3 {
		t.Errorf("grows = %d, want 3", buf.Grows())
	}
	if buf.Capacity() != 12 {
		t.Errorf("capacity = %d, want 12", buf.Capacity())
	}
}

func TestRetrieveMissingFile(t *testing.T) {
	cfg := &HeatmapConfig{
		Path:  filepath.Join(t.TempDir(), "missing"),
		Width: 4,
	}
	var buf FrameBuffer
	frame, err := Retrieve(cfg, &buf)
	if !errors.Is(err, ErrIOUnavailable) {
		t.Fatalf("error = %v, want ErrIOUnavailable", err)
	}
	if len(frame.Samples) != 0 {
		t.Errorf("got %d samples on failure", len(frame.Samples))
	}
}

func TestRetrieveOddLength(t *testing.T) {
	raw := append(encodeSamples([]int16{1, 2, 3}), 0x7f)
	cfg := &HeatmapConfig{
		Path:   writeDataFile(t, raw),
		Width:  2,
		Bounds: NewBounds(0, 0, true, true),
	}
	var buf FrameBuffer
	frame, err := Retrieve(cfg, &buf)
	if !errors.Is(err, ErrShortRead) {
		t.Fatalf("error = %v, want ErrShortRead", err)
	}
	if frame.Samples != nil {
		t.Errorf("partial frame leaked: %v", frame.Samples)
	}
}

func TestRetrieveBadWidth(t *testing.T) {
	cfg := &HeatmapConfig{
		Path:  writeDataFile(t, encodeSamples([]int16{1})),
		Width: 0,
	}
	var buf FrameBuffer
	if _, err := Retrieve(cfg, &buf); !errors.Is(err, ErrAllocation) {
		t.Fatalf("error = %v, want ErrAllocation", err)
	}

	cfg.Width = MaxFrameSamples + 1
	if _, err := Retrieve(cfg, &buf); !errors.Is(err, ErrAllocation) {
		t.Fatalf("oversized width: error = %v, want ErrAllocation", err)
	}
}

// scriptedReader replays raw in sample-sized reads unless steps are given,
// in which case each Read returns the next step verbatim.
type scriptedReader struct {
	raw   []byte
	steps []readStep
}

type readStep struct {
	data []byte
	err  error
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	if r.steps != nil {
		if len(r.steps) == 0 {
			return 0, io.EOF
		}
		s := r.steps[0]
		r.steps = r.steps[1:]
		return copy(p, s.data), s.err
	}
	n := copy(p, r.raw)
	r.raw = r.raw[n:]
	return n, nil
}

func TestReadFrameInterrupted(t *testing.T) {
	r := &scriptedReader{steps: []readStep{
		{data: encodeSamples([]int16{5})},
		{err: unix.EINTR},
		{err: unix.EINTR},
		{data: encodeSamples([]int16{-6})},
		{},
	}}
	var buf FrameBuffer
	b := NewBounds(0, 0, true, true)
	got, err := readFrame(r, 8, &b, &buf)
	if err != nil {
		t.Fatalf("readFrame() error = %v", err)
	}
	if want := []int{5, -6}; !reflect.DeepEqual(got, want) {
		t.Errorf("samples = %v, want %v", got, want)
	}
	if b.Min != -6 || b.Max != 5 {
		t.Errorf("bounds = %d..%d, want -6..5", b.Min, b.Max)
	}
}

func TestReadFrameFailures(t *testing.T) {
	tests := []struct {
		name  string
		steps []readStep
		want  error
	}{
		{
			name: "one byte",
			steps: []readStep{
				{data: encodeSamples([]int16{1})},
				{data: []byte{0x01}},
			},
			want: ErrShortRead,
		},
		{
			name: "one byte at eof",
			steps: []readStep{
				{data: []byte{0x01}, err: io.EOF},
			},
			want: ErrShortRead,
		},
		{
			name: "read error",
			steps: []readStep{
				{data: encodeSamples([]int16{1})},
				{err: unix.EIO},
			},
			want: ErrIOUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf FrameBuffer
			got, err := readFrame(&scriptedReader{steps: tt.steps}, 4, &Bounds{}, &buf)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if got != nil {
				t.Errorf("partial frame leaked: %v", got)
			}
		})
	}
}

func TestReadFrameSampleWithEOF(t *testing.T) {
	r := &scriptedReader{steps: []readStep{
		{data: encodeSamples([]int16{9})},
		{data: encodeSamples([]int16{-9}), err: io.EOF},
	}}
	var buf FrameBuffer
	got, err := readFrame(r, 4, &Bounds{}, &buf)
	if err != nil {
		t.Fatalf("readFrame() error = %v", err)
	}
	if want := []int{9, -9}; !reflect.DeepEqual(got, want) {
		t.Errorf("samples = %v, want %v", got, want)
	}
}
