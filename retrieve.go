package main

// File-stream acquisition.
//
// The data file holds one frame as a flat stream of native-endian int16
// samples with no header; EOF ends the frame. The driver rewrites it between
// ticks, so the file is opened anew on every call and its length is not known
// up front.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

const sampleSize = 2 // bytes per int16 sample

// MaxFrameSamples caps buffer growth. Growing past it is an allocation failure.
const MaxFrameSamples = 1 << 20

// Frame is one heatmap snapshot. Samples are row-major, Width per row.
type Frame struct {
	Samples []int
	Width   int
}

func (f Frame) Rows() int {
	if f.Width <= 0 {
		return 0
	}
	return len(f.Samples) / f.Width
}

// FrameBuffer remembers how large frames got on earlier calls so a steady
// stream allocates once per tick. Capacity starts at one row and grows by one
// row whenever the buffer is full at read time.
type FrameBuffer struct {
	capacity int
	grows    int
}

// Capacity is the number of cells the next call will start with.
func (b *FrameBuffer) Capacity() int { return b.capacity }

// Grows counts growth steps since the buffer was created.
func (b *FrameBuffer) Grows() int { return b.grows }

func (b *FrameBuffer) alloc(width int) ([]int, error) {
	if width <= 0 {
		return nil, fmt.Errorf("%w: width %d", ErrAllocation, width)
	}
	if b.capacity == 0 {
		b.capacity = width
	}
	if b.capacity > MaxFrameSamples {
		return nil, fmt.Errorf("%w: %d cells exceeds %d", ErrAllocation, b.capacity, MaxFrameSamples)
	}
	return make([]int, 0, b.capacity), nil
}

func (b *FrameBuffer) grow(data []int, width int) ([]int, error) {
	next := b.capacity + width
	if next > MaxFrameSamples {
		return nil, fmt.Errorf("%w: %d cells exceeds %d", ErrAllocation, next, MaxFrameSamples)
	}
	grown := make([]int, len(data), next)
	copy(grown, data)
	b.capacity = next
	b.grows++
	return grown, nil
}

// Retrieve reads one frame from cfg.Path. Auto bounds in cfg are widened by
// every sample read. On failure the frame is empty and no partial samples are
// returned; the file is closed on every path.
func Retrieve(cfg *HeatmapConfig, buf *FrameBuffer) (Frame, error) {
	r, err := openSamples(cfg.Path)
	if err != nil {
		return Frame{}, err
	}
	samples, err := readFrame(r, cfg.Width, &cfg.Bounds, buf)
	_ = r.Close()
	if err != nil {
		return Frame{}, fmt.Errorf("%s: %w", cfg.Path, err)
	}
	return Frame{Samples: samples, Width: cfg.Width}, nil
}

// readFrame decodes samples from r until a zero-byte read.
func readFrame(r io.Reader, width int, bounds *Bounds, buf *FrameBuffer) ([]int, error) {
	data, err := buf.alloc(width)
	if err != nil {
		return nil, err
	}

	var blob [sampleSize]byte
	for {
		if len(data) == cap(data) {
			if data, err = buf.grow(data, width); err != nil {
				return nil, err
			}
		}

		n, err := r.Read(blob[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			return nil, fmt.Errorf("%w: read: %w", ErrIOUnavailable, err)
		}

		switch n {
		case 0:
			return data[:len(data):len(data)], nil
		case sampleSize:
			v := int(int16(binary.NativeEndian.Uint16(blob[:])))
			data = append(data, v)
			bounds.Observe(v)
			if eof {
				return data[:len(data):len(data)], nil
			}
		default:
			return nil, fmt.Errorf("%w: got %d of %d bytes after %d samples", ErrShortRead, n, sampleSize, len(data))
		}
	}
}

// fdReader reads straight from a file descriptor so an interrupted read
// surfaces as EINTR instead of being retried inside os.File.
type fdReader struct {
	fd int
}

func openSamples(path string) (*fdReader, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrIOUnavailable, path, err)
	}
	return &fdReader{fd: fd}, nil
}

func (r *fdReader) Read(p []byte) (int, error) {
	n, err := unix.Read(r.fd, p)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *fdReader) Close() error {
	return unix.Close(r.fd)
}
