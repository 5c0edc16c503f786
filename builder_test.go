package imgmeta

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
)

// builder assembles synthetic container streams for tests, in the byte
// order of the format under construction. Length fields that are not known
// up front are reserved and patched once the enclosed bytes are written.
type builder struct {
	buf   []byte
	order binary.ByteOrder
}

func newBuilder(order binary.ByteOrder) *builder { return &builder{order: order} }

func (b *builder) u8(v uint8) *builder { b.buf = append(b.buf, v); return b }

func (b *builder) u16(v uint16) *builder {
	var tmp [2]byte
	b.order.PutUint16(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

func (b *builder) u32(v uint32) *builder {
	var tmp [4]byte
	b.order.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

func (b *builder) u64(v uint64) *builder {
	var tmp [8]byte
	b.order.PutUint64(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

func (b *builder) raw(p []byte) *builder { b.buf = append(b.buf, p...); return b }

func (b *builder) str(s string) *builder { b.buf = append(b.buf, s...); return b }

func (b *builder) reserve32() int {
	off := len(b.buf)
	b.buf = append(b.buf, 0, 0, 0, 0)
	return off
}

func (b *builder) patch32(off int, v uint32) { b.order.PutUint32(b.buf[off:], v) }

func (b *builder) len() int { return len(b.buf) }

func (b *builder) bytes() []byte { return b.buf }

// Fixture layout constants for buildBasicTIFF.
const (
	basicTIFFExifOff = 50 // 8-byte header + 2 + 3*12 + 4
	basicTIFFDataOff = 80 // exif IFD start + 2 + 2*12 + 4
)

// buildBasicTIFF produces a classic TIFF stream in the given byte order:
// IFD0 holds Make (inline ASCII), ImageWidth (inline SHORT) and an Exif
// pointer; the Exif IFD holds DateTimeOriginal and ExposureTime, both
// stored through value offsets.
func buildBasicTIFF(order binary.ByteOrder) []byte {
	b := newBuilder(order)
	if order == binary.ByteOrder(binary.LittleEndian) {
		b.str("II")
	} else {
		b.str("MM")
	}
	b.u16(42).u32(8)

	b.u16(3)
	b.u16(0x010F).u16(2).u32(3).raw([]byte{'G', 'o', 0, 0})
	b.u16(0x0100).u16(3).u32(1).u16(800).u16(0)
	b.u16(0x8769).u16(4).u32(1).u32(basicTIFFExifOff)
	b.u32(0)

	b.u16(2)
	b.u16(0x9003).u16(2).u32(20).u32(basicTIFFDataOff)
	b.u16(0x829A).u16(5).u32(1).u32(basicTIFFDataOff+20)
	b.u32(0)

	b.str("2024:01:02 03:04:05\x00")
	b.u32(1).u32(250)
	return b.bytes()
}

// pngChunk frames one PNG chunk with a correct CRC.
func pngChunk(typ string, payload []byte) []byte {
	b := newBuilder(binary.BigEndian)
	b.u32(uint32(len(payload))).str(typ).raw(payload)
	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(payload)
	return b.u32(crc.Sum32()).bytes()
}

// pngFile concatenates the PNG signature, a minimal IHDR, the given chunks
// and IEND.
func pngFile(chunks ...[]byte) []byte {
	ihdr := newBuilder(binary.BigEndian).u32(1).u32(1).u8(8).u8(0).u8(0).u8(0).u8(0).bytes()
	b := newBuilder(binary.BigEndian)
	b.raw(pngSignature)
	b.raw(pngChunk("IHDR", ihdr))
	for _, c := range chunks {
		b.raw(c)
	}
	return b.raw(pngChunk("IEND", nil)).bytes()
}

// deflate compresses b as a zlib stream, for zTXt/iTXt fixtures.
func deflate(b []byte) []byte {
	var out bytes.Buffer
	w := zlib.NewWriter(&out)
	w.Write(b)
	w.Close()
	return out.Bytes()
}

// jpegSegment frames one marker segment with its length field.
func jpegSegment(code byte, payload []byte) []byte {
	b := newBuilder(binary.BigEndian)
	b.u8(0xFF).u8(code).u16(uint16(len(payload) + 2))
	return b.raw(payload).bytes()
}

// jpegAPP1Exif wraps a TIFF stream in an APP1/Exif segment.
func jpegAPP1Exif(tiff []byte) []byte {
	payload := append([]byte("Exif\x00\x00"), tiff...)
	return jpegSegment(markerAPP1, payload)
}

// bmffBox frames one ISOBMFF box.
func bmffBox(typ string, payload []byte) []byte {
	b := newBuilder(binary.BigEndian)
	b.u32(uint32(len(payload) + 8)).str(typ)
	return b.raw(payload).bytes()
}

// bmffFullBox frames one ISOBMFF FullBox with the given version.
func bmffFullBox(typ string, version uint8, payload []byte) []byte {
	inner := newBuilder(binary.BigEndian).u8(version).u8(0).u8(0).u8(0).raw(payload).bytes()
	return bmffBox(typ, inner)
}
