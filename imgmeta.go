// Package imgmeta implements extraction of embedded image metadata
// (principally EXIF) from JPEG, PNG, WebP and HEIF/HEIC containers.
//
// Each container format has its own framing scanner that locates the raw
// metadata payload; the payload itself is decoded by a shared TIFF/IFD
// directory engine into a queryable Metadata aggregate. All parsing happens
// over an in-memory buffer that is borrowed, never copied or mutated.
package imgmeta

import (
	"bytes"
	"encoding/binary"
)

var (
	be = binary.BigEndian
	le = binary.LittleEndian
)

// Format identifies a supported container format.
type Format int

// Supported formats.
const (
	FormatUnknown Format = iota
	FormatJPEG
	FormatPNG
	FormatWebP
	FormatHEIF
)

func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	case FormatWebP:
		return "webp"
	case FormatHEIF:
		return "heif"
	}
	return "unknown"
}

// HEIF brands that mark an ISOBMFF file as a still-image container.
var heifBrands = [][]byte{
	[]byte("mif1"), []byte("msf1"),
	[]byte("heic"), []byte("heix"),
	[]byte("hevc"), []byte("hevx"),
	[]byte("avif"), []byte("avis"),
}

// DetectFormat sniffs the magic bytes at the start of buf.
func DetectFormat(buf []byte) Format {
	switch {
	case len(buf) >= 2 && buf[0] == 0xFF && buf[1] == markerSOI:
		return FormatJPEG
	case bytes.HasPrefix(buf, pngSignature):
		return FormatPNG
	case len(buf) >= 12 && bytes.Equal(buf[0:4], []byte("RIFF")) && bytes.Equal(buf[8:12], []byte("WEBP")):
		return FormatWebP
	case len(buf) >= 12 && bytes.Equal(buf[4:8], []byte("ftyp")):
		for _, brand := range heifBrands {
			if bytes.Equal(buf[8:12], brand) {
				return FormatHEIF
			}
		}
	}
	return FormatUnknown
}

// Parse sniffs the format of buf and decodes its metadata.
// It returns ErrUnknownFormat if buf matches none of the supported
// container signatures.
func Parse(buf []byte, opts Options) (*Metadata, error) {
	switch DetectFormat(buf) {
	case FormatJPEG:
		return ParseJPEG(buf, opts)
	case FormatPNG:
		return ParsePNG(buf, opts)
	case FormatWebP:
		return ParseWebP(buf, opts)
	case FormatHEIF:
		return ParseHEIF(buf, opts)
	}
	return nil, ErrUnknownFormat
}
