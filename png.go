package imgmeta

import (
	"bytes"
	"compress/zlib"
	"hash/crc32"
	"io"

	"golang.org/x/text/encoding/charmap"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}

// Chunk types the scanner decodes. Everything else is framed and
// checksummed but its payload is not interpreted.
const (
	chunkIHDR = "IHDR"
	chunkIEND = "IEND"
	chunkEXIF = "eXIf"
	chunkTEXT = "tEXt"
	chunkZTXT = "zTXt"
	chunkITXT = "iTXt"
	chunkICCP = "iCCP"
	chunkTIME = "tIME"
)

// pngSingletons are chunk types that may appear at most once per file.
var pngSingletons = map[string]bool{
	chunkIHDR: true,
	chunkIEND: true,
	chunkEXIF: true,
	chunkICCP: true,
	chunkTIME: true,
}

// ParsePNG walks the chunk sequence of a PNG stream, verifying framing and
// CRCs, and decodes eXIf and textual chunks. A file without any metadata
// chunks yields an empty Metadata and no error.
func ParsePNG(buf []byte, opts Options) (*Metadata, error) {
	meta := newMetadata(FormatPNG)

	cur := NewCursor(buf)
	sig, err := cur.ReadBytes(len(pngSignature))
	if err != nil || !bytes.Equal(sig, pngSignature) {
		return nil, structErrf(FormatPNG, 0, "bad PNG signature")
	}

	seen := make(map[string]bool)
	sawIEND := false

	for !sawIEND {
		chunkStart := cur.Pos()
		if cur.Remaining() == 0 {
			return nil, structErrf(FormatPNG, chunkStart, "missing IEND chunk")
		}
		// Minimum chunk frame: length, type and CRC with empty payload.
		if cur.Remaining() < 12 {
			return nil, structErrf(FormatPNG, chunkStart, "truncated chunk frame")
		}

		length, _ := cur.ReadUint32()
		if length > 0x7FFFFFFF {
			return nil, structErrf(FormatPNG, chunkStart, "chunk length %d exceeds PNG limit", length)
		}
		typBytes, _ := cur.ReadBytes(4)
		for _, c := range typBytes {
			if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
				return nil, structErrf(FormatPNG, chunkStart, "invalid chunk type %q", typBytes)
			}
		}
		typ := string(typBytes)

		payload, err := cur.ReadBytes(int(length))
		if err != nil {
			return nil, structErrf(FormatPNG, chunkStart, "%s chunk of %d bytes overruns stream", typ, length)
		}
		wantCRC, err := cur.ReadUint32()
		if err != nil {
			return nil, structErrf(FormatPNG, chunkStart, "truncated %s chunk CRC", typ)
		}

		if chunkStart == len(pngSignature) && typ != chunkIHDR {
			return nil, structErrf(FormatPNG, chunkStart, "first chunk is %s, want IHDR", typ)
		}
		if typ == chunkIHDR && chunkStart != len(pngSignature) {
			return nil, structErrf(FormatPNG, chunkStart, "IHDR chunk not first")
		}

		crc := crc32.NewIEEE()
		crc.Write(typBytes)
		crc.Write(payload)
		if got := crc.Sum32(); got != wantCRC {
			if opts.Strict {
				return nil, structErrf(FormatPNG, chunkStart,
					"%s chunk CRC mismatch: got 0x%08X, want 0x%08X", typ, got, wantCRC)
			}
			meta.warnf(chunkStart, "%s chunk CRC mismatch: got 0x%08X, want 0x%08X, chunk skipped", typ, got, wantCRC)
			continue
		}

		if pngSingletons[typ] {
			if seen[typ] {
				return nil, structErrf(FormatPNG, chunkStart, "duplicate %s chunk", typ)
			}
			seen[typ] = true
		}

		switch typ {
		case chunkIEND:
			if length != 0 {
				meta.warnf(chunkStart, "IEND chunk carries %d payload bytes", length)
			}
			sawIEND = true
		case chunkEXIF:
			if !opts.wants(typ) {
				continue
			}
			if err := decodeTIFF(payload, meta, opts); err != nil {
				meta.warnf(chunkStart, "eXIf payload unparseable: %v", err)
			}
		case chunkTEXT:
			if !opts.wants(typ) {
				continue
			}
			if rec, ok := decodeTextChunk(payload); ok {
				meta.addText(rec)
			} else {
				meta.warnf(chunkStart, "malformed tEXt chunk skipped")
			}
		case chunkZTXT:
			if !opts.wants(typ) {
				continue
			}
			if rec, ok := decodeCompressedTextChunk(payload); ok {
				meta.addText(rec)
			} else {
				meta.warnf(chunkStart, "malformed zTXt chunk skipped")
			}
		case chunkITXT:
			if !opts.wants(typ) {
				continue
			}
			if rec, ok := decodeIntlTextChunk(payload); ok {
				meta.addText(rec)
			} else {
				meta.warnf(chunkStart, "malformed iTXt chunk skipped")
			}
		}
	}

	return meta, nil
}

// decodeTextChunk splits a tEXt payload into its Latin-1 keyword and value.
func decodeTextChunk(payload []byte) (TextRecord, bool) {
	keyword, rest, ok := splitKeyword(payload)
	if !ok {
		return TextRecord{}, false
	}
	return TextRecord{Source: chunkTEXT, Keyword: keyword, Value: decodeLatin1(rest)}, true
}

// decodeCompressedTextChunk decodes a zTXt payload: Latin-1 keyword, a
// compression-method byte (only 0, deflate, is defined) and a zlib stream.
func decodeCompressedTextChunk(payload []byte) (TextRecord, bool) {
	keyword, rest, ok := splitKeyword(payload)
	if !ok || len(rest) < 1 || rest[0] != 0 {
		return TextRecord{}, false
	}
	text, err := inflate(rest[1:])
	if err != nil {
		return TextRecord{}, false
	}
	return TextRecord{Source: chunkZTXT, Keyword: keyword, Value: decodeLatin1(text), Compressed: true}, true
}

// decodeIntlTextChunk decodes an iTXt payload: Latin-1 keyword, compression
// flag and method, language tag, UTF-8 translated keyword, then UTF-8 text
// that is zlib-compressed when the flag is set.
func decodeIntlTextChunk(payload []byte) (TextRecord, bool) {
	keyword, rest, ok := splitKeyword(payload)
	if !ok || len(rest) < 2 {
		return TextRecord{}, false
	}
	compFlag, compMethod := rest[0], rest[1]
	rest = rest[2:]

	lang, rest, ok := bytes.Cut(rest, []byte{0})
	if !ok {
		return TextRecord{}, false
	}
	translated, text, ok := bytes.Cut(rest, []byte{0})
	if !ok {
		return TextRecord{}, false
	}

	rec := TextRecord{
		Source:            chunkITXT,
		Keyword:           keyword,
		LanguageTag:       string(lang),
		TranslatedKeyword: string(translated),
	}
	switch compFlag {
	case 0:
		rec.Value = string(text)
	case 1:
		if compMethod != 0 {
			return TextRecord{}, false
		}
		raw, err := inflate(text)
		if err != nil {
			return TextRecord{}, false
		}
		rec.Value = string(raw)
		rec.Compressed = true
	default:
		return TextRecord{}, false
	}
	return rec, true
}

// splitKeyword cuts a payload at the keyword's NUL separator and validates
// the keyword length bounds from the PNG text chunk definition.
func splitKeyword(payload []byte) (string, []byte, bool) {
	kw, rest, ok := bytes.Cut(payload, []byte{0})
	if !ok || len(kw) == 0 || len(kw) > 79 {
		return "", nil, false
	}
	return decodeLatin1(kw), rest, true
}

// decodeLatin1 converts ISO 8859-1 bytes to a UTF-8 string. PNG text
// keywords and tEXt/zTXt values use Latin-1, as do JPEG comment segments
// in practice.
func decodeLatin1(b []byte) string {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

func inflate(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
