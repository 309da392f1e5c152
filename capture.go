package main

// Capture-device acquisition.
//
// A session maps exactly one driver buffer and cycles it through
// QBUF/DQBUF once per frame. The mapping is reused every tick, so samples
// must be decoded out of it before the next GetFrame call.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"unsafe"
)

// maxEnumInputs bounds the diagnostic input listing.
const maxEnumInputs = 64

// PixelFormat is the sample layout negotiated with the driver.
type PixelFormat int

const (
	PixelUnknown PixelFormat = iota
	PixelY16                 // unsigned 16-bit
	PixelYS16                // signed 16-bit
)

func pixelFormatOf(f uint32) PixelFormat {
	switch f {
	case v4l2PixFmtY16:
		return PixelY16
	case v4l2PixFmtYS16:
		return PixelYS16
	}
	return PixelUnknown
}

func (p PixelFormat) String() string {
	switch p {
	case PixelY16:
		return "Y16"
	case PixelYS16:
		return "YS16"
	}
	return "unknown"
}

// decode returns sample i of buf. Unknown formats and out-of-range indices
// decode to 0.
func (p PixelFormat) decode(buf []byte, i int) int {
	off := i * sampleSize
	if i < 0 || off+sampleSize > len(buf) {
		return 0
	}
	raw := binary.NativeEndian.Uint16(buf[off : off+sampleSize])
	switch p {
	case PixelY16:
		return int(raw)
	case PixelYS16:
		return int(int16(raw))
	}
	return 0
}

type sessionState int

const (
	sessionClosed sessionState = iota
	sessionStreaming
)

// CaptureSession is an open, streaming capture device.
type CaptureSession struct {
	path string
	dev  videoDevice
	log  *slog.Logger

	state sessionState
	buf   v4l2Buffer
	mem   []byte

	format    PixelFormat
	fourcc    uint32
	width     int
	height    int
	inputName string
}

// OpenCapture opens the device node at path, selects input and starts
// streaming into a single mmapped buffer. Nothing stays open on failure.
func OpenCapture(path string, input int, log *slog.Logger) (*CaptureSession, error) {
	log.Info("capture: opening device", "path", path)
	dev, err := openVideoDevice(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrIOUnavailable, path, err)
	}
	return startCapture(dev, path, input, log)
}

func negotiationErr(path string, req uintptr, err error) error {
	return fmt.Errorf("%w: %s: %s: %w", ErrNegotiation, path, ioctlName(req), err)
}

// startCapture runs the negotiation on an already open device. Any failure
// unmaps the buffer (if mapped) and closes the device.
func startCapture(dev videoDevice, path string, input int, log *slog.Logger) (*CaptureSession, error) {
	s := &CaptureSession{path: path, dev: dev, log: log}
	if err := s.negotiate(input); err != nil {
		if rerr := s.release(); rerr != nil {
			log.Warn("capture: release after failed init", "path", path, "error", rerr)
		}
		return nil, err
	}
	s.state = sessionStreaming
	return s, nil
}

// negotiate selects input, maps the single buffer, reads the format and
// starts streaming. Whatever it acquired stays on s for release.
func (s *CaptureSession) negotiate(input int) error {
	s.logCapabilities()

	in := int32(input)
	if err := s.dev.ioctl(vidiocSInput, unsafe.Pointer(&in)); err != nil {
		return fmt.Errorf("%w: %s: set input %d: %w", ErrNegotiation, s.path, input, err)
	}

	info := v4l2Input{Index: uint32(input)}
	if err := s.dev.ioctl(vidiocEnumInput, unsafe.Pointer(&info)); err != nil {
		return negotiationErr(s.path, vidiocEnumInput, err)
	}
	s.inputName = cstr(info.Name[:])

	req := v4l2RequestBuffers{
		Count:  1,
		Type:   v4l2BufTypeVideoCapture,
		Memory: v4l2MemoryMmap,
	}
	if err := s.dev.ioctl(vidiocReqBufs, unsafe.Pointer(&req)); err != nil {
		return negotiationErr(s.path, vidiocReqBufs, err)
	}

	s.buf = v4l2Buffer{Index: 0, Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMmap}
	if err := s.dev.ioctl(vidiocQueryBuf, unsafe.Pointer(&s.buf)); err != nil {
		return negotiationErr(s.path, vidiocQueryBuf, err)
	}
	if s.buf.Length == 0 {
		return fmt.Errorf("%w: %s: driver reported an empty buffer", ErrNegotiation, s.path)
	}

	mem, err := s.dev.mmap(s.buf.offset(), int(s.buf.Length))
	if err != nil {
		return fmt.Errorf("%w: %s: mmap %d bytes: %w", ErrNegotiation, s.path, s.buf.Length, err)
	}
	s.mem = mem
	clear(s.mem)

	f := v4l2Format{Type: v4l2BufTypeVideoCapture}
	if err := s.dev.ioctl(vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return negotiationErr(s.path, vidiocGFmt, err)
	}
	s.fourcc = f.Fmt.Pix.PixelFormat
	s.format = pixelFormatOf(s.fourcc)
	s.width = int(f.Fmt.Pix.Width)
	s.height = int(f.Fmt.Pix.Height)
	s.log.Info("capture: format negotiated",
		"input", input,
		"input_name", s.inputName,
		"width", s.width,
		"height", s.height,
		"pixfmt", fourccString(s.fourcc),
		"decode", s.format.String(),
		"buffer_bytes", s.buf.Length,
	)
	if s.format == PixelUnknown {
		s.log.Warn("capture: unsupported pixel format, samples will read as 0", "pixfmt", fourccString(s.fourcc))
	}

	typ := int32(s.buf.Type)
	if err := s.dev.ioctl(vidiocStreamOn, unsafe.Pointer(&typ)); err != nil {
		return negotiationErr(s.path, vidiocStreamOn, err)
	}
	return nil
}

// logCapabilities prints driver identity and the available inputs. Failures
// here are not fatal.
func (s *CaptureSession) logCapabilities() {
	var caps v4l2Capability
	if err := s.dev.ioctl(vidiocQueryCap, unsafe.Pointer(&caps)); err != nil {
		s.log.Debug("capture: VIDIOC_QUERYCAP failed", "path", s.path, "error", err)
		return
	}
	s.log.Info("capture: device capabilities",
		"driver", cstr(caps.Driver[:]),
		"card", cstr(caps.Card[:]),
		"bus_info", cstr(caps.BusInfo[:]),
	)
	for i := uint32(0); i < maxEnumInputs; i++ {
		in := v4l2Input{Index: i}
		if err := s.dev.ioctl(vidiocEnumInput, unsafe.Pointer(&in)); err != nil {
			break
		}
		s.log.Info("capture: input", "index", in.Index, "name", cstr(in.Name[:]))
	}
}

// GetFrame queues the mapped buffer and blocks until the driver hands it
// back. It returns the number of samples the buffer holds, or 0 and an
// ErrQueue error.
func (s *CaptureSession) GetFrame() (int, error) {
	if s.state != sessionStreaming {
		return 0, fmt.Errorf("%w: %s: session is closed", ErrQueue, s.path)
	}
	if err := s.dev.ioctl(vidiocQBuf, unsafe.Pointer(&s.buf)); err != nil {
		return 0, fmt.Errorf("%w: %s: VIDIOC_QBUF: %w", ErrQueue, s.path, err)
	}
	if err := s.dev.ioctl(vidiocDQBuf, unsafe.Pointer(&s.buf)); err != nil {
		return 0, fmt.Errorf("%w: %s: VIDIOC_DQBUF: %w", ErrQueue, s.path, err)
	}
	n := min(int(s.buf.Length), len(s.mem))
	return n / sampleSize, nil
}

// Value decodes sample i of the last dequeued frame.
func (s *CaptureSession) Value(i int) int {
	return s.format.decode(s.mem, i)
}

func (s *CaptureSession) Width() int          { return s.width }
func (s *CaptureSession) Height() int         { return s.height }
func (s *CaptureSession) Format() PixelFormat { return s.format }
func (s *CaptureSession) InputName() string   { return s.inputName }

// Close stops streaming, unmaps the buffer and closes the device. Closing a
// closed session does nothing.
func (s *CaptureSession) Close() error {
	if s.state != sessionStreaming {
		return nil
	}
	s.state = sessionClosed
	s.log.Info("capture: closing device", "path", s.path)

	var errs []error
	typ := int32(s.buf.Type)
	if err := s.dev.ioctl(vidiocStreamOff, unsafe.Pointer(&typ)); err != nil {
		errs = append(errs, fmt.Errorf("VIDIOC_STREAMOFF: %w", err))
	}
	errs = append(errs, s.release())
	return errors.Join(errs...)
}

func (s *CaptureSession) release() error {
	var errs []error
	if s.mem != nil {
		if err := s.dev.munmap(s.mem); err != nil {
			errs = append(errs, fmt.Errorf("munmap: %w", err))
		}
		s.mem = nil
	}
	if s.dev != nil {
		if err := s.dev.close(); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
		s.dev = nil
	}
	return errors.Join(errs...)
}
