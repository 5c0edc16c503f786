package imgmeta

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// errShortRead is returned by cursor reads that would cross the end of the
// buffer. Callers translate it into a format-specific error or warning.
var errShortRead = errors.New("imgmeta: read past end of buffer")

// Cursor is a sequential, byte-order-aware reader over an in-memory buffer.
// The buffer is borrowed: reads return subslices of it and nothing is ever
// copied or mutated. Position always satisfies 0 <= pos <= len(buf); a read
// that would cross the end fails instead of returning partial data.
type Cursor struct {
	buf   []byte
	pos   int
	order binary.ByteOrder
	mark  int // single-slot save point, -1 when unset
}

// NewCursor creates a Cursor over buf. The byte order defaults to
// big-endian, which is what every container header here uses; the TIFF
// engine switches it after reading the byte-order mark.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf, order: be, mark: -1}
}

// Order returns the cursor's current byte order.
func (c *Cursor) Order() binary.ByteOrder { return c.order }

// SetOrder sets the byte order used by multi-byte reads.
func (c *Cursor) SetOrder(order binary.ByteOrder) { c.order = order }

// Pos returns the current position.
func (c *Cursor) Pos() int { return c.pos }

// Len returns the total buffer length.
func (c *Cursor) Len() int { return len(c.buf) }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

// Seek moves to an absolute offset.
func (c *Cursor) Seek(offset int) error {
	if offset < 0 || offset > len(c.buf) {
		return fmt.Errorf("imgmeta: seek to %d outside buffer of %d bytes", offset, len(c.buf))
	}
	c.pos = offset
	return nil
}

// Skip advances the position by n bytes.
func (c *Cursor) Skip(n int) error {
	return c.Seek(c.pos + n)
}

// Mark saves the current position. Only one outstanding mark is permitted;
// marking again before Reset is a caller bug and fails loudly rather than
// silently dropping the earlier save point.
func (c *Cursor) Mark() error {
	if c.mark >= 0 {
		return errors.New("imgmeta: cursor already marked")
	}
	c.mark = c.pos
	return nil
}

// Reset restores the position saved by Mark and clears the mark.
func (c *Cursor) Reset() error {
	if c.mark < 0 {
		return errors.New("imgmeta: cursor reset without mark")
	}
	c.pos = c.mark
	c.mark = -1
	return nil
}

// ReadBytes returns the next n bytes as a subslice of the underlying buffer.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if n < 0 || c.Remaining() < n {
		return nil, errShortRead
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// ReadUint8 reads one byte.
func (c *Cursor) ReadUint8() (uint8, error) {
	if c.Remaining() < 1 {
		return 0, errShortRead
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

// ReadUint16 reads two bytes in the cursor's byte order.
func (c *Cursor) ReadUint16() (uint16, error) {
	if c.Remaining() < 2 {
		return 0, errShortRead
	}
	v := c.order.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, nil
}

// ReadUint32 reads four bytes in the cursor's byte order.
func (c *Cursor) ReadUint32() (uint32, error) {
	if c.Remaining() < 4 {
		return 0, errShortRead
	}
	v := c.order.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

// ReadUint64 reads eight bytes in the cursor's byte order.
func (c *Cursor) ReadUint64() (uint64, error) {
	if c.Remaining() < 8 {
		return 0, errShortRead
	}
	v := c.order.Uint64(c.buf[c.pos:])
	c.pos += 8
	return v, nil
}

// ReadUintN reads an n-byte unsigned integer in the cursor's byte order,
// where n is 0, 1, 2, 4 or 8. n == 0 reads nothing and yields 0; odd widths
// other than 1 are rejected. Used by the HEIF item-location
// box, whose offset/length field widths are themselves encoded in the box.
func (c *Cursor) ReadUintN(n int) (uint64, error) {
	switch n {
	case 0:
		return 0, nil
	case 1:
		v, err := c.ReadUint8()
		return uint64(v), err
	case 2:
		v, err := c.ReadUint16()
		return uint64(v), err
	case 4:
		v, err := c.ReadUint32()
		return uint64(v), err
	case 8:
		return c.ReadUint64()
	}
	return 0, fmt.Errorf("imgmeta: unsupported integer width %d", n)
}
