package imgmeta

import "bytes"

// WebP chunk FourCCs. The trailing space in "XMP " and "VP8 " is part of
// the identifier.
const (
	fccVP8  = "VP8 "
	fccVP8L = "VP8L"
	fccVP8X = "VP8X"
	fccEXIF = "EXIF"
	fccXMP  = "XMP "
)

// ParseWebP walks the RIFF chunk sequence of a WebP stream and decodes the
// EXIF and XMP metadata chunks. A file without them yields an empty
// Metadata and no error.
func ParseWebP(buf []byte, opts Options) (*Metadata, error) {
	meta := newMetadata(FormatWebP)

	cur := NewCursor(buf)
	cur.SetOrder(le) // RIFF sizes are little-endian

	hdr, err := cur.ReadBytes(4)
	if err != nil || !bytes.Equal(hdr, []byte("RIFF")) {
		return nil, structErrf(FormatWebP, 0, "missing RIFF header")
	}
	riffSize, err := cur.ReadUint32()
	if err != nil {
		return nil, structErrf(FormatWebP, cur.Pos(), "truncated RIFF header")
	}
	form, err := cur.ReadBytes(4)
	if err != nil || !bytes.Equal(form, []byte("WEBP")) {
		return nil, structErrf(FormatWebP, 8, "RIFF form is not WEBP")
	}

	// The RIFF size counts everything after the size field itself.
	fileEnd := 8 + int(riffSize)
	if fileEnd > cur.Len() {
		meta.warnf(4, "RIFF declares %d bytes but only %d available", fileEnd, cur.Len())
		fileEnd = cur.Len()
	}

	seen := make(map[string]bool)
	first := true

	for cur.Pos() < fileEnd {
		chunkStart := cur.Pos()
		if fileEnd-cur.Pos() < 8 {
			return nil, structErrf(FormatWebP, chunkStart, "truncated chunk header")
		}
		fccBytes, _ := cur.ReadBytes(4)
		size, _ := cur.ReadUint32()
		fcc := string(fccBytes)

		if int(size) > fileEnd-cur.Pos() {
			return nil, structErrf(FormatWebP, chunkStart, "%s chunk of %d bytes overruns stream", fcc, size)
		}
		payload, _ := cur.ReadBytes(int(size))

		if first {
			if fcc != fccVP8 && fcc != fccVP8L && fcc != fccVP8X {
				return nil, structErrf(FormatWebP, chunkStart, "first chunk is %s, want VP8, VP8L or VP8X", fcc)
			}
			first = false
		}

		switch fcc {
		case fccEXIF, fccXMP:
			if seen[fcc] {
				meta.warnf(chunkStart, "duplicate %s chunk ignored", fcc)
				break
			}
			seen[fcc] = true
			if !opts.wants(fcc) {
				break
			}
			if fcc == fccXMP {
				meta.addText(TextRecord{Source: fccXMP, Value: string(payload)})
				break
			}
			// Some writers prepend the JPEG-style Exif header even
			// though the chunk payload is defined to start at the
			// TIFF byte-order mark.
			payload = bytes.TrimPrefix(payload, exifPrefix)
			if err := decodeTIFF(payload, meta, opts); err != nil {
				meta.warnf(chunkStart, "EXIF payload unparseable: %v", err)
			}
		}

		// Chunks are word-aligned: odd sizes are followed by a pad byte.
		if size%2 == 1 && cur.Pos() < fileEnd {
			cur.Skip(1)
		}
	}

	if first {
		return nil, structErrf(FormatWebP, cur.Pos(), "RIFF body contains no chunks")
	}
	return meta, nil
}
