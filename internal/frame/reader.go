package frame

import (
	"errors"
	"fmt"
)

// ErrOutOfBounds is returned when a read extends past the end of the buffer
var ErrOutOfBounds = errors.New("read out of bounds")

// ByteOrder selects how multi-byte integers are assembled
type ByteOrder uint8

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

// MaxUintWidth is the widest integer Uint can assemble (bytes)
const MaxUintWidth = 8

// String returns the byte order name
func (o ByteOrder) String() string {
	switch o {
	case BigEndian:
		return "big-endian"
	case LittleEndian:
		return "little-endian"
	default:
		return fmt.Sprintf("ByteOrder(%d)", uint8(o))
	}
}

// Reader is a read-only view over a borrowed byte buffer.
// The zero value is an empty view.
type Reader struct {
	buf []byte
}

// New wraps data without copying it
func New(data []byte) Reader {
	return Reader{buf: data}
}

// Len returns the number of bytes in the view
func (r Reader) Len() int {
	return len(r.buf)
}

func (r Reader) check(offset, width int) error {
	if offset < 0 || width < 0 || offset+width > len(r.buf) {
		return fmt.Errorf("%w: offset %d width %d exceeds length %d", ErrOutOfBounds, offset, width, len(r.buf))
	}
	return nil
}

// Slice returns the bytes [offset, offset+width) of the view.
// The returned slice aliases the underlying buffer.
func (r Reader) Slice(offset, width int) ([]byte, error) {
	if err := r.check(offset, width); err != nil {
		return nil, err
	}
	return r.buf[offset : offset+width : offset+width], nil
}

// View returns a sub-view starting at offset and running to the end of the buffer
func (r Reader) View(offset int) (Reader, error) {
	if err := r.check(offset, 0); err != nil {
		return Reader{}, err
	}
	return Reader{buf: r.buf[offset:]}, nil
}

// Uint reads an unsigned integer of width bytes (1..8) at offset
func (r Reader) Uint(offset, width int, order ByteOrder) (uint64, error) {
	if width < 1 || width > MaxUintWidth {
		return 0, fmt.Errorf("unsupported integer width %d", width)
	}
	if err := r.check(offset, width); err != nil {
		return 0, err
	}

	b := r.buf[offset : offset+width]
	var v uint64
	switch order {
	case BigEndian:
		for _, c := range b {
			v = v<<8 | uint64(c)
		}
	case LittleEndian:
		for i := width - 1; i >= 0; i-- {
			v = v<<8 | uint64(b[i])
		}
	default:
		return 0, fmt.Errorf("unsupported byte order %s", order)
	}
	return v, nil
}

// Uint8 reads a single byte at offset
func (r Reader) Uint8(offset int) (uint8, error) {
	v, err := r.Uint(offset, 1, BigEndian)
	return uint8(v), err
}

// Uint16 reads a 2-byte integer at offset
func (r Reader) Uint16(offset int, order ByteOrder) (uint16, error) {
	v, err := r.Uint(offset, 2, order)
	return uint16(v), err
}

// Uint32 reads a 4-byte integer at offset
func (r Reader) Uint32(offset int, order ByteOrder) (uint32, error) {
	v, err := r.Uint(offset, 4, order)
	return uint32(v), err
}

// Uint40 reads a 5-byte integer at offset, as used by radio timestamps
func (r Reader) Uint40(offset int, order ByteOrder) (uint64, error) {
	return r.Uint(offset, 5, order)
}
