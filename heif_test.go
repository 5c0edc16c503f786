package imgmeta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func heifFtyp() []byte {
	return bmffBox("ftyp", newBuilder(be).str("heic").u32(0).str("mif1").bytes())
}

// exifItemPayload wraps a TIFF stream the way a HEIF Exif item stores it:
// a 4-byte offset to the TIFF header spanning the Exif prefix.
func exifItemPayload(tiff []byte) []byte {
	b := newBuilder(be)
	b.u32(6).str("Exif\x00\x00")
	return b.raw(tiff).bytes()
}

// heifInfe builds a version-2 item info entry.
func heifInfe(id uint16, itemType string) []byte {
	return bmffFullBox("infe", 2, newBuilder(be).u16(id).u16(0).str(itemType).u8(0).bytes())
}

// heifIloc builds a version-1 iloc with 4-byte offset and length fields and
// one entry per extent list.
func heifIloc(id uint16, extents ...[2]uint32) []byte {
	b := newBuilder(be)
	b.u8(0x44).u8(0x00)
	b.u16(1)
	b.u16(id).u16(0).u16(0)
	b.u16(uint16(len(extents)))
	for _, e := range extents {
		b.u32(e[0]).u32(e[1])
	}
	return bmffFullBox("iloc", 1, b.bytes())
}

func heifIinf(entries ...[]byte) []byte {
	b := newBuilder(be)
	b.u16(uint16(len(entries)))
	for _, e := range entries {
		b.raw(e)
	}
	return bmffFullBox("iinf", 0, b.bytes())
}

// heifFile assembles ftyp, an mdat holding the item payload, and a meta box
// built from the given children. It returns the file and the payload's
// absolute offset.
func heifFile(payload []byte, metaChildren ...[]byte) ([]byte, uint32) {
	ftyp := heifFtyp()
	payloadOff := uint32(len(ftyp) + 8)

	b := newBuilder(be)
	b.raw(ftyp)
	b.raw(bmffBox("mdat", payload))

	var children []byte
	for _, c := range metaChildren {
		children = append(children, c...)
	}
	b.raw(bmffFullBox("meta", 0, children))
	return b.bytes(), payloadOff
}

func TestParseHEIFWithExif(t *testing.T) {
	payload := exifItemPayload(buildBasicTIFF(be))
	// The payload offset depends only on the boxes before the meta box,
	// so it can be computed before the iloc referencing it is built.
	_, off := heifFile(payload)
	buf, _ := heifFile(payload,
		heifIinf(heifInfe(1, "Exif")),
		heifIloc(1, [2]uint32{off, uint32(len(payload))}),
	)

	meta, err := ParseHEIF(buf, Options{})
	require.NoError(t, err)
	assert.True(t, meta.HasExif())
	assert.Equal(t, "Go", meta.Directory(IFD0).Entry(0x010F).DisplayString())
	assert.Equal(t, "1/250", meta.Directory(ExifIFD).Entry(0x829A).DisplayString())
}

func TestParseHEIFMultipleExtents(t *testing.T) {
	payload := exifItemPayload(buildBasicTIFF(le))
	cut := uint32(len(payload) / 3)
	_, off := heifFile(payload, heifIinf(heifInfe(1, "Exif")))
	buf, _ := heifFile(payload,
		heifIinf(heifInfe(1, "Exif")),
		heifIloc(1,
			[2]uint32{off, cut},
			[2]uint32{off + cut, uint32(len(payload)) - cut},
		),
	)

	meta, err := ParseHEIF(buf, Options{})
	require.NoError(t, err)
	assert.True(t, meta.HasExif())
	assert.Equal(t, "800", meta.Directory(IFD0).Entry(0x0100).DisplayString())
}

func TestParseHEIFNoMetaBox(t *testing.T) {
	meta, err := ParseHEIF(heifFtyp(), Options{})
	require.NoError(t, err)
	assert.False(t, meta.HasExif())
}

func TestParseHEIFNoExifItem(t *testing.T) {
	payload := []byte("not exif")
	_, off := heifFile(payload, heifIinf(heifInfe(1, "mime")))
	buf, _ := heifFile(payload,
		heifIinf(heifInfe(1, "mime")),
		heifIloc(1, [2]uint32{off, uint32(len(payload))}),
	)

	meta, err := ParseHEIF(buf, Options{})
	require.NoError(t, err)
	assert.False(t, meta.HasExif())
}

func TestParseHEIFMetaMissingIloc(t *testing.T) {
	buf, _ := heifFile(nil, heifIinf(heifInfe(1, "Exif")))

	var serr *StructuralError
	_, err := ParseHEIF(buf, Options{})
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Reason, "no iloc box")
}

func TestParseHEIFMetaMissingIinf(t *testing.T) {
	buf, _ := heifFile(nil, heifIloc(1, [2]uint32{0, 0}))

	var serr *StructuralError
	_, err := ParseHEIF(buf, Options{})
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Reason, "no iinf box")
}

func TestParseHEIFMissingIlocEntry(t *testing.T) {
	payload := exifItemPayload(buildBasicTIFF(be))
	_, off := heifFile(payload, heifIinf(heifInfe(1, "Exif")))
	buf, _ := heifFile(payload,
		heifIinf(heifInfe(1, "Exif")),
		heifIloc(2, [2]uint32{off, uint32(len(payload))}), // wrong item ID
	)

	var serr *StructuralError
	_, err := ParseHEIF(buf, Options{})
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Reason, "no iloc entry")
}

func TestParseHEIFExifItemTooSmall(t *testing.T) {
	payload := []byte{0, 0, 0, 6}
	_, off := heifFile(payload, heifIinf(heifInfe(1, "Exif")))
	buf, _ := heifFile(payload,
		heifIinf(heifInfe(1, "Exif")),
		heifIloc(1, [2]uint32{off, uint32(len(payload))}),
	)

	var serr *StructuralError
	_, err := ParseHEIF(buf, Options{})
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Reason, "too small")
}

func TestParseHEIFHeaderOffsetOutsideItem(t *testing.T) {
	payload := newBuilder(be).u32(9999).str("Exif\x00\x00").raw(buildBasicTIFF(be)).bytes()
	_, off := heifFile(payload, heifIinf(heifInfe(1, "Exif")))
	buf, _ := heifFile(payload,
		heifIinf(heifInfe(1, "Exif")),
		heifIloc(1, [2]uint32{off, uint32(len(payload))}),
	)

	var serr *StructuralError
	_, err := ParseHEIF(buf, Options{})
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Reason, "header offset")
}

func TestParseHEIFExtentOutsideFile(t *testing.T) {
	payload := exifItemPayload(buildBasicTIFF(be))
	buf, _ := heifFile(payload,
		heifIinf(heifInfe(1, "Exif")),
		heifIloc(1, [2]uint32{0xFFFF, 64}),
	)

	var serr *StructuralError
	_, err := ParseHEIF(buf, Options{})
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Reason, "outside file")
}

func TestParseHEIFExtendedBoxSize(t *testing.T) {
	// The mdat before the meta box uses a 64-bit extended size; the
	// top-level scan must still step over it correctly.
	payload := exifItemPayload(buildBasicTIFF(be))
	ftyp := heifFtyp()
	off := uint32(len(ftyp) + 16) // extended header is 16 bytes

	b := newBuilder(be)
	b.raw(ftyp)
	b.u32(1).str("mdat").u64(uint64(len(payload) + 16))
	b.raw(payload)
	var children []byte
	children = append(children, heifIinf(heifInfe(1, "Exif"))...)
	children = append(children, heifIloc(1, [2]uint32{off, uint32(len(payload))})...)
	b.raw(bmffFullBox("meta", 0, children))

	meta, err := ParseHEIF(b.bytes(), Options{})
	require.NoError(t, err)
	assert.True(t, meta.HasExif())
}
