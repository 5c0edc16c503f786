package imgmeta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
		want Format
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, FormatJPEG},
		{"png", append(append([]byte{}, pngSignature...), 0, 0), FormatPNG},
		{"webp", []byte("RIFF\x10\x00\x00\x00WEBP"), FormatWebP},
		{"heic", append([]byte{0, 0, 0, 0x18}, []byte("ftypheic")...), FormatHEIF},
		{"avif", append([]byte{0, 0, 0, 0x18}, []byte("ftypavif")...), FormatHEIF},
		{"mp4 is not heif", append([]byte{0, 0, 0, 0x18}, []byte("ftypisom")...), FormatUnknown},
		{"wav is not webp", []byte("RIFF\x10\x00\x00\x00WAVE"), FormatUnknown},
		{"empty", nil, FormatUnknown},
		{"short", []byte{0xFF}, FormatUnknown},
		{"garbage", []byte("hello there, general metadata"), FormatUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectFormat(tc.buf))
		})
	}
}

func TestParseDispatch(t *testing.T) {
	buf := pngFile(pngChunk("eXIf", buildBasicTIFF(be)))

	meta, err := Parse(buf, Options{})
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, meta.Format)
	assert.True(t, meta.HasExif())
}

func TestParseUnknownFormat(t *testing.T) {
	_, err := Parse([]byte("BM6\x00\x00\x00"), Options{})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestFormatString(t *testing.T) {
	assert.Equal(t, "jpeg", FormatJPEG.String())
	assert.Equal(t, "unknown", FormatUnknown.String())
	assert.Equal(t, "unknown", Format(42).String())
}

func TestStructuralErrorUnwrap(t *testing.T) {
	inner := assert.AnError
	err := &StructuralError{Format: FormatPNG, Offset: 12, Reason: "boom", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "png")
	assert.Contains(t, err.Error(), "offset 12")
}

func TestOptionsChunkFilter(t *testing.T) {
	assert.True(t, Options{}.wants("eXIf"), "nil set means everything")
	assert.False(t, Options{Chunks: []string{}}.wants("eXIf"), "empty set means nothing")
	assert.True(t, Options{Chunks: []string{"eXIf", "tEXt"}}.wants("tEXt"))
	assert.False(t, Options{Chunks: []string{"eXIf"}}.wants("tEXt"))
}
