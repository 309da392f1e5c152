package main

// V4L2 plumbing:
// - ioctl request numbers for the calls the capture session makes
// - kernel struct layouts (v4l2_capability, v4l2_input, v4l2_requestbuffers,
//   v4l2_buffer, v4l2_format) sized to match <linux/videodev2.h>
// - videoDevice, the fd-backed ioctl/mmap surface the session drives

import (
	"bytes"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	v4l2BufTypeVideoCapture = 1
	v4l2MemoryMmap          = 1
)

func fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// Pixel formats touch controllers report.
var (
	v4l2PixFmtY16  = fourcc('Y', '1', '6', ' ') // unsigned 16-bit greyscale
	v4l2PixFmtYS16 = fourcc('Y', 'S', '1', '6') // signed 16-bit greyscale
)

func fourccString(f uint32) string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

type v4l2Capability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	Reserved     [3]uint32
}

type v4l2Input struct {
	Index        uint32
	Name         [32]byte
	Type         uint32
	Audioset     uint32
	Tuner        uint32
	Std          uint64
	Status       uint32
	Capabilities uint32
	Reserved     [3]uint32
	_            [4]byte // tail padding from Std's 8-byte alignment on 64-bit targets
}

type v4l2RequestBuffers struct {
	Count        uint32
	Type         uint32
	Memory       uint32
	Capabilities uint32
	Flags        uint8
	Reserved     [3]uint8
}

type v4l2Timecode struct {
	Type     uint32
	Flags    uint32
	Frames   uint8
	Seconds  uint8
	Minutes  uint8
	Hours    uint8
	Userbits [4]uint8
}

type v4l2Buffer struct {
	Index     uint32
	Type      uint32
	BytesUsed uint32
	Flags     uint32
	Field     uint32
	Timestamp unix.Timeval
	Timecode  v4l2Timecode
	Sequence  uint32
	Memory    uint32
	M         uintptr // union { offset; userptr; planes; fd }
	Length    uint32
	Reserved2 uint32
	RequestFD int32
}

// offset reads the __u32 mmap offset, the first member of the M union.
func (b *v4l2Buffer) offset() int64 {
	return int64(*(*uint32)(unsafe.Pointer(&b.M)))
}

type v4l2PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

// v4l2FormatUnion is the 200-byte fmt union. The kernel union holds pointers,
// so it is pointer-aligned.
type v4l2FormatUnion struct {
	_   [0]uintptr
	Pix v4l2PixFormat
	_   [200 - unsafe.Sizeof(v4l2PixFormat{})]byte
}

type v4l2Format struct {
	Type uint32
	Fmt  v4l2FormatUnion
}

// ioctl request encoding (Linux _IOC macro)
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14
	iocDirBits  = 2

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocWrite = 1
	iocRead  = 2
)

func ioc(dir uint32, typ uint32, nr uint32, size uint32) uintptr {
	return uintptr((dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift))
}

func vidioc(dir uint32, nr uint32, size uintptr) uintptr {
	return ioc(dir, uint32('V'), nr, uint32(size))
}

var (
	vidiocQueryCap  = vidioc(iocRead, 0, unsafe.Sizeof(v4l2Capability{}))
	vidiocGFmt      = vidioc(iocRead|iocWrite, 4, unsafe.Sizeof(v4l2Format{}))
	vidiocReqBufs   = vidioc(iocRead|iocWrite, 8, unsafe.Sizeof(v4l2RequestBuffers{}))
	vidiocQueryBuf  = vidioc(iocRead|iocWrite, 9, unsafe.Sizeof(v4l2Buffer{}))
	vidiocQBuf      = vidioc(iocRead|iocWrite, 15, unsafe.Sizeof(v4l2Buffer{}))
	vidiocDQBuf     = vidioc(iocRead|iocWrite, 17, unsafe.Sizeof(v4l2Buffer{}))
	vidiocStreamOn  = vidioc(iocWrite, 18, unsafe.Sizeof(int32(0)))
	vidiocStreamOff = vidioc(iocWrite, 19, unsafe.Sizeof(int32(0)))
	vidiocEnumInput = vidioc(iocRead|iocWrite, 26, unsafe.Sizeof(v4l2Input{}))
	vidiocSInput    = vidioc(iocRead|iocWrite, 39, unsafe.Sizeof(int32(0)))
)

var ioctlNames = map[uintptr]string{
	vidiocQueryCap:  "VIDIOC_QUERYCAP",
	vidiocGFmt:      "VIDIOC_G_FMT",
	vidiocReqBufs:   "VIDIOC_REQBUFS",
	vidiocQueryBuf:  "VIDIOC_QUERYBUF",
	vidiocQBuf:      "VIDIOC_QBUF",
	vidiocDQBuf:     "VIDIOC_DQBUF",
	vidiocStreamOn:  "VIDIOC_STREAMON",
	vidiocStreamOff: "VIDIOC_STREAMOFF",
	vidiocEnumInput: "VIDIOC_ENUMINPUT",
	vidiocSInput:    "VIDIOC_S_INPUT",
}

func ioctlName(req uintptr) string {
	if n, ok := ioctlNames[req]; ok {
		return n
	}
	return fmt.Sprintf("ioctl(%#x)", req)
}

// cstr trims a fixed-size NUL-terminated kernel string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// videoDevice is the kernel surface of a capture device node.
type videoDevice interface {
	ioctl(req uintptr, arg unsafe.Pointer) error
	mmap(offset int64, length int) ([]byte, error)
	munmap(b []byte) error
	close() error
}

type fdDevice struct {
	fd int
}

func openVideoDevice(path string) (videoDevice, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return &fdDevice{fd: fd}, nil
}

func (d *fdDevice) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (d *fdDevice) mmap(offset int64, length int) ([]byte, error) {
	return unix.Mmap(d.fd, offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (d *fdDevice) munmap(b []byte) error {
	return unix.Munmap(b)
}

func (d *fdDevice) close() error {
	return unix.Close(d.fd)
}
