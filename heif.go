package imgmeta

// ISOBMFF box walking for HEIF/HEIC/AVIF still-image containers. The EXIF
// payload lives in an item of type "Exif" declared in the meta box: iinf
// names the item, iloc locates its extents in the file.

// heifBox is one parsed box header: [start,end) brackets the whole box,
// body is the first payload byte past the header.
type heifBox struct {
	typ   string
	start int
	body  int
	end   int
}

// heifContainers maps container box types to the number of payload bytes
// to skip before their child boxes begin (the version/flags word of a
// FullBox, or nothing).
var heifContainers = map[string]int{
	"meta": 4,
	"dinf": 0,
	"iprp": 0,
	"ipco": 0,
}

// maxBoxDepth bounds container recursion; real HEIF trees are three or
// four levels deep.
const maxBoxDepth = 16

// ParseHEIF locates the Exif item of a HEIF container and decodes its
// payload. A file whose meta box declares no Exif item yields an empty
// Metadata and no error.
func ParseHEIF(buf []byte, opts Options) (*Metadata, error) {
	meta := newMetadata(FormatHEIF)

	metaBox, ok, err := findBox(buf, "meta", 0, len(buf), 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return meta, nil
	}

	iinf, ok, err := findBox(buf, "iinf", metaBox.body+4, metaBox.end, 1)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, structErrf(FormatHEIF, metaBox.start, "meta box has no iinf box")
	}
	iloc, ok, err := findBox(buf, "iloc", metaBox.body+4, metaBox.end, 1)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, structErrf(FormatHEIF, metaBox.start, "meta box has no iloc box")
	}

	itemID, err := findExifItem(buf, iinf, meta)
	if err != nil {
		return nil, err
	}
	if itemID == 0 {
		return meta, nil
	}

	payload, err := extractItem(buf, iloc, itemID)
	if err != nil {
		return nil, err
	}

	// The item payload begins with a 4-byte offset to the TIFF header,
	// measured from the end of the offset field; it usually spans the
	// six bytes of the JPEG-style Exif prefix.
	if len(payload) < 8 {
		return nil, structErrf(FormatHEIF, iloc.start, "Exif item of %d bytes is too small", len(payload))
	}
	hdrOff := int(be.Uint32(payload))
	if 4+hdrOff > len(payload) {
		return nil, structErrf(FormatHEIF, iloc.start, "Exif item header offset %d outside item", hdrOff)
	}

	if err := decodeTIFF(payload[4+hdrOff:], meta, opts); err != nil {
		return nil, err
	}
	return meta, nil
}

// readBox parses one box header at the cursor position. limit is the end
// of the enclosing box; a size of 0 means the box runs to that end.
func readBox(cur *Cursor, limit int) (heifBox, error) {
	start := cur.Pos()
	size32, err := cur.ReadUint32()
	if err != nil {
		return heifBox{}, structErrf(FormatHEIF, start, "truncated box header")
	}
	typBytes, err := cur.ReadBytes(4)
	if err != nil {
		return heifBox{}, structErrf(FormatHEIF, start, "truncated box header")
	}
	typ := string(typBytes)

	var end int
	switch size32 {
	case 0:
		end = limit
	case 1:
		large, err := cur.ReadUint64()
		if err != nil || large < 16 {
			return heifBox{}, structErrf(FormatHEIF, start, "bad extended size for %s box", typ)
		}
		end = start + int(large)
	default:
		if size32 < 8 {
			return heifBox{}, structErrf(FormatHEIF, start, "bad size %d for %s box", size32, typ)
		}
		end = start + int(size32)
	}
	if typ == "uuid" {
		if err := cur.Skip(16); err != nil {
			return heifBox{}, structErrf(FormatHEIF, start, "truncated uuid box header")
		}
	}
	if end < cur.Pos() || end > limit {
		return heifBox{}, structErrf(FormatHEIF, start, "%s box of %d bytes overruns enclosing box", typ, end-start)
	}
	return heifBox{typ: typ, start: start, body: cur.Pos(), end: end}, nil
}

// findBox scans the sibling boxes in buf[start:end) for the first box of
// the given type, descending into known container boxes.
func findBox(buf []byte, typ string, start, end, depth int) (heifBox, bool, error) {
	if depth >= maxBoxDepth {
		return heifBox{}, false, structErrf(FormatHEIF, start, "box nesting exceeds %d", maxBoxDepth)
	}
	cur := NewCursor(buf)
	if err := cur.Seek(start); err != nil {
		return heifBox{}, false, structErrf(FormatHEIF, start, "box offset outside buffer")
	}
	for cur.Pos() < end {
		b, err := readBox(cur, end)
		if err != nil {
			return heifBox{}, false, err
		}
		if b.typ == typ {
			return b, true, nil
		}
		if skip, ok := heifContainers[b.typ]; ok && b.body+skip <= b.end {
			found, ok, err := findBox(buf, typ, b.body+skip, b.end, depth+1)
			if err != nil || ok {
				return found, ok, err
			}
		}
		if err := cur.Seek(b.end); err != nil {
			return heifBox{}, false, structErrf(FormatHEIF, b.start, "%s box end outside buffer", b.typ)
		}
	}
	return heifBox{}, false, nil
}

// findExifItem walks the infe entries of an iinf box and returns the item
// ID declared with type "Exif", or 0 when the file has none.
func findExifItem(buf []byte, iinf heifBox, meta *Metadata) (uint32, error) {
	cur := NewCursor(buf)
	if err := cur.Seek(iinf.body); err != nil {
		return 0, structErrf(FormatHEIF, iinf.start, "iinf body outside buffer")
	}
	vf, err := cur.ReadUint32()
	if err != nil {
		return 0, structErrf(FormatHEIF, iinf.start, "truncated iinf box")
	}
	var count uint32
	if vf>>24 == 0 {
		n, err := cur.ReadUint16()
		if err != nil {
			return 0, structErrf(FormatHEIF, iinf.start, "truncated iinf box")
		}
		count = uint32(n)
	} else {
		count, err = cur.ReadUint32()
		if err != nil {
			return 0, structErrf(FormatHEIF, iinf.start, "truncated iinf box")
		}
	}

	for i := uint32(0); i < count && cur.Pos() < iinf.end; i++ {
		b, err := readBox(cur, iinf.end)
		if err != nil {
			return 0, err
		}
		if b.typ == "infe" {
			id, typ, ok := parseItemEntry(buf, b)
			if !ok {
				meta.warnf(b.start, "unreadable infe entry skipped")
			} else if typ == "Exif" {
				return id, nil
			}
		}
		if err := cur.Seek(b.end); err != nil {
			return 0, structErrf(FormatHEIF, b.start, "infe box end outside buffer")
		}
	}
	return 0, nil
}

// parseItemEntry decodes the ID and item type of one infe box. Versions
// below 2 predate item types and are reported as unreadable.
func parseItemEntry(buf []byte, b heifBox) (uint32, string, bool) {
	cur := NewCursor(buf)
	if cur.Seek(b.body) != nil {
		return 0, "", false
	}
	vf, err := cur.ReadUint32()
	if err != nil {
		return 0, "", false
	}
	var id uint32
	switch vf >> 24 {
	case 2:
		v, err := cur.ReadUint16()
		if err != nil {
			return 0, "", false
		}
		id = uint32(v)
	case 3:
		id, err = cur.ReadUint32()
		if err != nil {
			return 0, "", false
		}
	default:
		return 0, "", false
	}
	if err := cur.Skip(2); err != nil { // protection index
		return 0, "", false
	}
	typ, err := cur.ReadBytes(4)
	if err != nil || cur.Pos() > b.end {
		return 0, "", false
	}
	return id, string(typ), true
}

// extractItem assembles the extent bytes of one item from an iloc box.
// Only construction method 0 (offsets into this file) is supported.
func extractItem(buf []byte, iloc heifBox, itemID uint32) ([]byte, error) {
	cur := NewCursor(buf)
	if err := cur.Seek(iloc.body); err != nil {
		return nil, structErrf(FormatHEIF, iloc.start, "iloc body outside buffer")
	}
	vf, err := cur.ReadUint32()
	if err != nil {
		return nil, structErrf(FormatHEIF, iloc.start, "truncated iloc box")
	}
	version := vf >> 24
	if version > 2 {
		return nil, structErrf(FormatHEIF, iloc.start, "unsupported iloc version %d", version)
	}

	sz1, err1 := cur.ReadUint8()
	sz2, err2 := cur.ReadUint8()
	if err1 != nil || err2 != nil {
		return nil, structErrf(FormatHEIF, iloc.start, "truncated iloc box")
	}
	offsetSize := int(sz1 >> 4)
	lengthSize := int(sz1 & 0xF)
	baseOffsetSize := int(sz2 >> 4)
	indexSize := 0
	if version >= 1 {
		indexSize = int(sz2 & 0xF)
	}

	var itemCount uint32
	if version < 2 {
		n, err := cur.ReadUint16()
		if err != nil {
			return nil, structErrf(FormatHEIF, iloc.start, "truncated iloc box")
		}
		itemCount = uint32(n)
	} else {
		itemCount, err = cur.ReadUint32()
		if err != nil {
			return nil, structErrf(FormatHEIF, iloc.start, "truncated iloc box")
		}
	}

	for i := uint32(0); i < itemCount; i++ {
		itemStart := cur.Pos()

		var id uint32
		if version < 2 {
			v, err := cur.ReadUint16()
			if err != nil {
				return nil, structErrf(FormatHEIF, itemStart, "truncated iloc item")
			}
			id = uint32(v)
		} else {
			id, err = cur.ReadUint32()
			if err != nil {
				return nil, structErrf(FormatHEIF, itemStart, "truncated iloc item")
			}
		}

		method := 0
		if version >= 1 {
			v, err := cur.ReadUint16()
			if err != nil {
				return nil, structErrf(FormatHEIF, itemStart, "truncated iloc item")
			}
			method = int(v & 0xF)
		}
		dataRef, err := cur.ReadUint16()
		if err != nil {
			return nil, structErrf(FormatHEIF, itemStart, "truncated iloc item")
		}
		baseOffset, err := cur.ReadUintN(baseOffsetSize)
		if err != nil {
			return nil, structErrf(FormatHEIF, itemStart, "bad iloc base offset width %d", baseOffsetSize)
		}
		extentCount, err := cur.ReadUint16()
		if err != nil {
			return nil, structErrf(FormatHEIF, itemStart, "truncated iloc item")
		}

		if id != itemID {
			perExtent := indexSize + offsetSize + lengthSize
			if err := cur.Skip(int(extentCount) * perExtent); err != nil {
				return nil, structErrf(FormatHEIF, itemStart, "truncated iloc item")
			}
			continue
		}

		if method != 0 {
			return nil, structErrf(FormatHEIF, itemStart, "unsupported iloc construction method %d", method)
		}
		if dataRef != 0 {
			return nil, structErrf(FormatHEIF, itemStart, "Exif item stored in external data reference")
		}
		if extentCount == 0 {
			return nil, structErrf(FormatHEIF, itemStart, "Exif item has no extents")
		}

		var payload []byte
		for e := uint16(0); e < extentCount; e++ {
			if indexSize > 0 {
				if _, err := cur.ReadUintN(indexSize); err != nil {
					return nil, structErrf(FormatHEIF, itemStart, "bad iloc extent index width %d", indexSize)
				}
			}
			extOff, err := cur.ReadUintN(offsetSize)
			if err != nil {
				return nil, structErrf(FormatHEIF, itemStart, "bad iloc offset width %d", offsetSize)
			}
			extLen, err := cur.ReadUintN(lengthSize)
			if err != nil {
				return nil, structErrf(FormatHEIF, itemStart, "bad iloc length width %d", lengthSize)
			}
			abs := baseOffset + extOff
			if extLen == 0 {
				// A zero length means the rest of the file.
				if abs > uint64(len(buf)) {
					return nil, structErrf(FormatHEIF, itemStart, "extent offset %d outside file", abs)
				}
				extLen = uint64(len(buf)) - abs
			}
			if abs+extLen < abs || abs+extLen > uint64(len(buf)) {
				return nil, structErrf(FormatHEIF, itemStart, "extent %d+%d outside file", abs, extLen)
			}
			payload = append(payload, buf[abs:abs+extLen]...)
		}
		return payload, nil
	}

	return nil, structErrf(FormatHEIF, iloc.start, "no iloc entry for Exif item %d", itemID)
}
