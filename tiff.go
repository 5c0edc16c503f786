package imgmeta

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FieldType is a TIFF field type code. Types 1-12 are the fixed TIFF 6.0
// set; 13 (IFD) and the 8-byte types 16-18 come from the TIFF supplements
// and BigTIFF.
type FieldType uint16

// TIFF field types.
const (
	TypeByte      FieldType = 1
	TypeASCII     FieldType = 2
	TypeShort     FieldType = 3
	TypeLong      FieldType = 4
	TypeRational  FieldType = 5
	TypeSByte     FieldType = 6
	TypeUndefined FieldType = 7
	TypeSShort    FieldType = 8
	TypeSLong     FieldType = 9
	TypeSRational FieldType = 10
	TypeFloat     FieldType = 11
	TypeDouble    FieldType = 12
	TypeIFD       FieldType = 13
	TypeLong8     FieldType = 16
	TypeSLong8    FieldType = 17
	TypeIFD8      FieldType = 18
)

var fieldTypeSizes = map[FieldType]int{
	TypeByte: 1, TypeASCII: 1, TypeShort: 2, TypeLong: 4, TypeRational: 8,
	TypeSByte: 1, TypeUndefined: 1, TypeSShort: 2, TypeSLong: 4, TypeSRational: 8,
	TypeFloat: 4, TypeDouble: 8, TypeIFD: 4, TypeLong8: 8, TypeSLong8: 8, TypeIFD8: 8,
}

var fieldTypeNames = map[FieldType]string{
	TypeByte: "BYTE", TypeASCII: "ASCII", TypeShort: "SHORT", TypeLong: "LONG",
	TypeRational: "RATIONAL", TypeSByte: "SBYTE", TypeUndefined: "UNDEFINED",
	TypeSShort: "SSHORT", TypeSLong: "SLONG", TypeSRational: "SRATIONAL",
	TypeFloat: "FLOAT", TypeDouble: "DOUBLE", TypeIFD: "IFD",
	TypeLong8: "LONG8", TypeSLong8: "SLONG8", TypeIFD8: "IFD8",
}

// Size returns the element size in bytes, or 0 for an unknown type code.
func (t FieldType) Size() int { return fieldTypeSizes[t] }

func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("TYPE%d", uint16(t))
}

// Entry is one decoded directory entry. Its value bytes are resolved at
// parse time: either the bytes stored inline in the entry itself or bytes
// fetched from elsewhere in the stream when the value did not fit inline.
type Entry struct {
	Tag   uint16
	Name  string
	Type  FieldType
	Count uint64

	value []byte
	order binary.ByteOrder
}

// Value returns the raw value bytes, borrowed from the parse buffer.
func (e *Entry) Value() []byte { return e.value }

// Directory is one parsed IFD: an ordered list of entries. Each entry
// carries the byte order inherited from the TIFF header.
type Directory struct {
	Name    DirName
	Entries []Entry

	offset int // where in the TIFF stream this directory began
}

// Entry returns the first entry with the given tag, or nil.
func (d *Directory) Entry(tag uint16) *Entry {
	for i := range d.Entries {
		if d.Entries[i].Tag == tag {
			return &d.Entries[i]
		}
	}
	return nil
}

const (
	tiffVersionClassic = 42
	tiffVersionBig     = 43

	// maxIFDDepth bounds pointer-tag recursion and next-IFD chaining.
	// Well-formed files stay in single digits; a crafted file can chain
	// or cycle arbitrarily, so the bound is enforced together with a
	// visited-offset set.
	maxIFDDepth = 32
)

type tiffDecoder struct {
	cur     *Cursor
	meta    *Metadata
	opts    Options
	big     bool
	inline  int // inline value capacity: 4, or 8 for BigTIFF
	visited map[int]bool
}

// decodeTIFF parses a raw TIFF stream (starting at the header base) into
// meta. All absolute offsets inside the stream are indices into buf, since
// buf begins at the header base.
func decodeTIFF(buf []byte, meta *Metadata, opts Options) error {
	cur := NewCursor(buf)

	b, err := cur.ReadBytes(2)
	if err != nil {
		return structErrf(meta.Format, 0, "truncated TIFF header")
	}
	switch {
	case b[0] == 'I' && b[1] == 'I':
		cur.SetOrder(le)
	case b[0] == 'M' && b[1] == 'M':
		cur.SetOrder(be)
	default:
		return structErrf(meta.Format, 0, "bad TIFF byte-order mark %q", b)
	}

	version, err := cur.ReadUint16()
	if err != nil {
		return structErrf(meta.Format, cur.Pos(), "truncated TIFF header")
	}

	d := &tiffDecoder{
		cur:     cur,
		meta:    meta,
		opts:    opts,
		inline:  4,
		visited: make(map[int]bool),
	}

	var first uint64
	switch version {
	case tiffVersionClassic:
		v, err := cur.ReadUint32()
		if err != nil {
			return structErrf(meta.Format, cur.Pos(), "truncated TIFF header")
		}
		first = uint64(v)
	case tiffVersionBig:
		d.big = true
		d.inline = 8
		offSize, err1 := cur.ReadUint16()
		reserved, err2 := cur.ReadUint16()
		if err1 != nil || err2 != nil || offSize != 8 || reserved != 0 {
			return structErrf(meta.Format, cur.Pos(), "bad BigTIFF header")
		}
		v, err := cur.ReadUint64()
		if err != nil {
			return structErrf(meta.Format, cur.Pos(), "truncated BigTIFF header")
		}
		first = v
	default:
		return structErrf(meta.Format, 2, "bad TIFF version %d", version)
	}

	return d.parseIFD(first, IFD0, 0)
}

// parseIFD parses the directory at the given header-base-relative offset.
// Failures here are structural for the directory itself; callers decide
// whether that is fatal (IFD0) or merely a warning (sub-IFDs).
func (d *tiffDecoder) parseIFD(offset uint64, name DirName, depth int) error {
	if depth >= maxIFDDepth {
		return structErrf(d.meta.Format, int(offset), "IFD nesting exceeds %d", maxIFDDepth)
	}
	if offset > uint64(d.cur.Len()) {
		return structErrf(d.meta.Format, int(offset), "%s offset outside buffer", name)
	}
	if d.visited[int(offset)] {
		d.meta.warnf(int(offset), "cyclic IFD pointer to offset %d ignored", offset)
		return nil
	}
	d.visited[int(offset)] = true

	if err := d.cur.Seek(int(offset)); err != nil {
		return structErrf(d.meta.Format, int(offset), "%s offset outside buffer", name)
	}

	count, err := d.readEntryCount()
	if err != nil {
		return structErrf(d.meta.Format, int(offset), "truncated %s entry count", name)
	}
	entryWidth := 8 + d.inline // tag(2) + type(2) + count(4) + value(4), doubled counts/values for BigTIFF
	if d.big {
		entryWidth = 12 + d.inline
	}
	if count > uint64(d.cur.Remaining())/uint64(entryWidth) {
		return structErrf(d.meta.Format, d.cur.Pos(), "%s declares %d entries beyond end of buffer", name, count)
	}

	dir := &Directory{Name: name, offset: int(offset)}
	primary, fallback := tagNames(name)

	for i := uint64(0); i < count; i++ {
		entryStart := d.cur.Pos()

		tag, _ := d.cur.ReadUint16()
		typ, _ := d.cur.ReadUint16()
		n, err := d.readValueCount()
		if err != nil {
			return structErrf(d.meta.Format, entryStart, "truncated %s entry", name)
		}
		inline, err := d.cur.ReadBytes(d.inline)
		if err != nil {
			return structErrf(d.meta.Format, entryStart, "truncated %s entry", name)
		}

		ft := FieldType(typ)
		size := ft.Size()
		if size == 0 {
			d.meta.warnf(entryStart, "%s tag 0x%04X has unknown field type %d, entry skipped", name, tag, typ)
			continue
		}

		tagName, known := primary[tag]
		if !known && fallback != nil {
			tagName, known = fallback[tag]
		}
		if !known {
			d.meta.warnf(entryStart, "%s has unknown tag 0x%04X, entry skipped", name, tag)
			continue
		}

		total := n * uint64(size)
		var value []byte
		if total <= uint64(d.inline) {
			value = inline[:total]
		} else {
			valOff := d.offsetFrom(inline)
			if valOff+total < valOff || valOff+total > uint64(d.cur.Len()) {
				if d.opts.Strict {
					return structErrf(d.meta.Format, entryStart,
						"%s tag 0x%04X value at %d+%d outside buffer", name, tag, valOff, total)
				}
				d.meta.warnf(entryStart, "%s tag 0x%04X value at %d+%d outside buffer, entry skipped",
					name, tag, valOff, total)
				continue
			}
			value = d.cur.buf[valOff : valOff+total]
		}

		entry := Entry{Tag: tag, Name: tagName, Type: ft, Count: n, value: value, order: d.cur.Order()}
		dir.Entries = append(dir.Entries, entry)

		if child, ok := pointerTags[tag]; ok {
			d.descend(&entry, child, depth)
		}
	}

	next, err := d.readNextPointer()
	if err != nil {
		return structErrf(d.meta.Format, d.cur.Pos(), "truncated %s next-IFD pointer", name)
	}

	d.meta.addDir(dir)

	if next != 0 {
		switch name {
		case IFD0:
			if err := d.parseIFD(next, IFD1, depth+1); err != nil {
				d.meta.warnf(int(next), "IFD1 parse failed: %v", err)
			}
		case IFD1:
			d.meta.warnf(d.cur.Pos(), "IFD chain continues past IFD1, ignored")
		}
	}
	return nil
}

// descend recurses into the child directory referenced by a pointer entry,
// bracketing the recursion with a cursor mark/reset so the parent directory
// scan resumes where it left off.
func (d *tiffDecoder) descend(e *Entry, child DirName, depth int) {
	if e.Count == 0 {
		d.meta.warnf(d.cur.Pos(), "%s pointer tag 0x%04X has no value", child, e.Tag)
		return
	}
	var target uint64
	switch e.Type {
	case TypeLong, TypeIFD:
		target = uint64(e.order.Uint32(e.value))
	case TypeShort:
		target = uint64(e.order.Uint16(e.value))
	case TypeLong8, TypeIFD8:
		target = e.order.Uint64(e.value)
	default:
		d.meta.warnf(d.cur.Pos(), "%s pointer tag 0x%04X has non-offset type %s", child, e.Tag, e.Type)
		return
	}

	// Save and restore the scan position explicitly: pointer recursion
	// nests (IFD0 -> Exif -> Interop), so the cursor's single save slot
	// cannot bracket it.
	pos := d.cur.Pos()
	if err := d.parseIFD(target, child, depth+1); err != nil {
		d.meta.warnf(int(target), "%s parse failed: %v", child, err)
	}
	d.cur.Seek(pos)
}

func (d *tiffDecoder) readEntryCount() (uint64, error) {
	if d.big {
		return d.cur.ReadUint64()
	}
	v, err := d.cur.ReadUint16()
	return uint64(v), err
}

func (d *tiffDecoder) readValueCount() (uint64, error) {
	if d.big {
		return d.cur.ReadUint64()
	}
	v, err := d.cur.ReadUint32()
	return uint64(v), err
}

func (d *tiffDecoder) readNextPointer() (uint64, error) {
	if d.big {
		return d.cur.ReadUint64()
	}
	v, err := d.cur.ReadUint32()
	return uint64(v), err
}

func (d *tiffDecoder) offsetFrom(inline []byte) uint64 {
	if d.big {
		return d.cur.Order().Uint64(inline)
	}
	return uint64(d.cur.Order().Uint32(inline))
}

// displayLimit caps how many elements DisplayString renders for array
// values; MakerNote blobs can run to kilobytes.
const displayLimit = 16

// DisplayString decodes the entry's raw bytes into a human-readable string.
// It is a pure function of the entry's type, count and value bytes.
func (e *Entry) DisplayString() string {
	if e.value == nil {
		return ""
	}
	switch e.Type {
	case TypeASCII:
		return strings.TrimRight(string(e.value), "\x00")
	case TypeUndefined:
		if len(e.value) > displayLimit {
			return fmt.Sprintf("(%d bytes)", len(e.value))
		}
		return fmt.Sprintf("0x%x", e.value)
	case TypeByte:
		return e.joinInts(1, func(b []byte) string { return strconv.FormatUint(uint64(b[0]), 10) })
	case TypeSByte:
		return e.joinInts(1, func(b []byte) string { return strconv.FormatInt(int64(int8(b[0])), 10) })
	case TypeShort:
		return e.joinInts(2, func(b []byte) string { return strconv.FormatUint(uint64(e.order.Uint16(b)), 10) })
	case TypeSShort:
		return e.joinInts(2, func(b []byte) string { return strconv.FormatInt(int64(int16(e.order.Uint16(b))), 10) })
	case TypeLong, TypeIFD:
		return e.joinInts(4, func(b []byte) string { return strconv.FormatUint(uint64(e.order.Uint32(b)), 10) })
	case TypeSLong:
		return e.joinInts(4, func(b []byte) string { return strconv.FormatInt(int64(int32(e.order.Uint32(b))), 10) })
	case TypeLong8, TypeIFD8:
		return e.joinInts(8, func(b []byte) string { return strconv.FormatUint(e.order.Uint64(b), 10) })
	case TypeSLong8:
		return e.joinInts(8, func(b []byte) string { return strconv.FormatInt(int64(e.order.Uint64(b)), 10) })
	case TypeRational:
		return e.joinInts(8, func(b []byte) string {
			return fmt.Sprintf("%d/%d", e.order.Uint32(b), e.order.Uint32(b[4:]))
		})
	case TypeSRational:
		return e.joinInts(8, func(b []byte) string {
			return fmt.Sprintf("%d/%d", int32(e.order.Uint32(b)), int32(e.order.Uint32(b[4:])))
		})
	case TypeFloat:
		return e.joinInts(4, func(b []byte) string {
			return strconv.FormatFloat(float64(math.Float32frombits(e.order.Uint32(b))), 'g', -1, 32)
		})
	case TypeDouble:
		return e.joinInts(8, func(b []byte) string {
			return strconv.FormatFloat(math.Float64frombits(e.order.Uint64(b)), 'g', -1, 64)
		})
	}
	return fmt.Sprintf("(%d bytes)", len(e.value))
}

func (e *Entry) joinInts(stride int, one func([]byte) string) string {
	n := len(e.value) / stride
	if n == 1 {
		return one(e.value)
	}
	var sb strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		if i == displayLimit {
			fmt.Fprintf(&sb, "... (%d values)", n)
			break
		}
		sb.WriteString(one(e.value[i*stride:]))
	}
	return sb.String()
}
