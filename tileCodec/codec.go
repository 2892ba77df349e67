// Package tilecodec reads and writes the chunk file layout:
// big endian uint32 width, big endian uint32 height, then width*height RGBA8 pixels.
package tilecodec

import (
	"encoding/binary"
	"fmt"
	"image"

	"github.com/maxsupermanhd/SlideChunk/primitives"
)

const HeaderSize = 8

// FileSize is the exact chunk file length for a tile.
func FileSize(t primitives.TileDescriptor) int64 {
	return HeaderSize + int64(t.PixelBytes())
}

// Extract copies the tile rectangle out of img into a tightly packed buffer.
func Extract(img *image.NRGBA, t primitives.TileDescriptor) []byte {
	out := make([]byte, t.PixelBytes())
	ExtractInto(out, img, t)
	return out
}

// ExtractInto is Extract writing into dst, which must hold t.PixelBytes() bytes.
func ExtractInto(dst []byte, img *image.NRGBA, t primitives.TileDescriptor) {
	rowLen := int(t.Width) * 4
	for y := 0; y < int(t.Height); y++ {
		off := img.PixOffset(img.Rect.Min.X+int(t.OriginX), img.Rect.Min.Y+int(t.OriginY)+y)
		copy(dst[y*rowLen:(y+1)*rowLen], img.Pix[off:off+rowLen])
	}
}

func PutHeader(dst []byte, width, height uint32) {
	binary.BigEndian.PutUint32(dst[0:4], width)
	binary.BigEndian.PutUint32(dst[4:8], height)
}

// Encode prepends the header to pixels.
func Encode(t primitives.TileDescriptor, pixels []byte) []byte {
	out := make([]byte, HeaderSize+len(pixels))
	PutHeader(out, t.Width, t.Height)
	copy(out[HeaderSize:], pixels)
	return out
}

// Header reads width and height. Only the 8 byte minimum is checked, payload
// length is left to the caller.
func Header(b []byte) (width, height uint32, err error) {
	if len(b) < HeaderSize {
		return 0, 0, primitives.NewError(primitives.ErrFormat, "read chunk header", "", fmt.Errorf("got %d bytes, need at least %d", len(b), HeaderSize))
	}
	return binary.BigEndian.Uint32(b[0:4]), binary.BigEndian.Uint32(b[4:8]), nil
}

// Decode splits a chunk file into its header and the pixel slice (not copied).
func Decode(b []byte) (width, height uint32, pixels []byte, err error) {
	width, height, err = Header(b)
	if err != nil {
		return 0, 0, nil, err
	}
	return width, height, b[HeaderSize:], nil
}

// Validate additionally checks that the payload length matches the header.
func Validate(b []byte) error {
	w, h, pix, err := Decode(b)
	if err != nil {
		return err
	}
	if want := uint64(w) * uint64(h) * 4; uint64(len(pix)) != want {
		return primitives.NewError(primitives.ErrFormat, "validate chunk", "", fmt.Errorf("header says %dx%d (%d bytes) but payload is %d bytes", w, h, want, len(pix)))
	}
	return nil
}
