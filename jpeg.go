package imgmeta

import "bytes"

// JPEG marker codes (the byte following 0xFF).
const (
	markerTEM  = 0x01
	markerRST0 = 0xD0
	markerRST7 = 0xD7
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOS  = 0xDA
	markerAPP1 = 0xE1
	markerCOM  = 0xFE
)

// exifPrefix precedes the TIFF stream inside an APP1 segment.
var exifPrefix = []byte("Exif\x00\x00")

// ParseJPEG scans the marker segments of a JPEG stream up to the start of
// entropy-coded data and decodes any embedded EXIF payload and comment
// segments. A file without an APP1/Exif segment yields an empty Metadata
// and no error.
func ParseJPEG(buf []byte, opts Options) (*Metadata, error) {
	meta := newMetadata(FormatJPEG)

	cur := NewCursor(buf)
	sig, err := cur.ReadBytes(2)
	if err != nil || sig[0] != 0xFF || sig[1] != markerSOI {
		return nil, structErrf(FormatJPEG, 0, "missing SOI marker")
	}

	// Writers may split an oversized EXIF block across several APP1
	// segments; payloads are collected in file order and reassembled
	// into one TIFF stream before decoding.
	var exif [][]byte

scan:
	for {
		segStart := cur.Pos()

		b, err := cur.ReadUint8()
		if err != nil {
			meta.warnf(segStart, "stream ends before next marker")
			break
		}
		if b != 0xFF {
			// Lost sync. Skip forward to the next 0xFF byte.
			stray := 1
			for {
				b, err = cur.ReadUint8()
				if err != nil {
					meta.warnf(segStart, "stream ends before next marker")
					break scan
				}
				if b == 0xFF {
					break
				}
				stray++
			}
			meta.warnf(segStart, "skipped %d stray bytes before next marker", stray)
		}

		// Any number of 0xFF fill bytes may pad the gap before a
		// marker code; collapse them.
		code := byte(0xFF)
		for code == 0xFF {
			code, err = cur.ReadUint8()
			if err != nil {
				meta.warnf(cur.Pos(), "stream ends inside marker padding")
				break scan
			}
		}

		switch {
		case code == 0x00:
			// A stuffed 0xFF data byte; not a marker. Resync.
			continue
		case code == markerTEM, code == markerSOI,
			code >= markerRST0 && code <= markerRST7:
			// Standalone markers carry no length field.
			continue
		case code == markerEOI, code == markerSOS:
			break scan
		}

		length, err := cur.ReadUint16()
		if err != nil {
			meta.warnf(cur.Pos(), "stream ends inside segment length")
			break
		}
		if length < 2 {
			return nil, structErrf(FormatJPEG, cur.Pos()-2, "segment 0x%02X has invalid length %d", code, length)
		}
		payload, err := cur.ReadBytes(int(length) - 2)
		if err != nil {
			meta.warnf(cur.Pos(), "segment 0x%02X of %d bytes overruns stream", code, length)
			break
		}

		switch code {
		case markerAPP1:
			if bytes.HasPrefix(payload, exifPrefix) {
				exif = append(exif, payload[len(exifPrefix):])
			}
		case markerCOM:
			meta.addText(TextRecord{Source: "COM", Value: decodeLatin1(payload)})
		}
	}

	if len(exif) > 0 {
		payload := exif[0]
		if len(exif) > 1 {
			payload = bytes.Join(exif, nil)
		}
		if err := decodeTIFF(payload, meta, opts); err != nil {
			return nil, err
		}
	}
	return meta, nil
}
