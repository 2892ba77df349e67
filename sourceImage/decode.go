// Package sourceimage validates and decodes source images into one
// non-premultiplied RGBA8 buffer. Format internals are left to the decoders.
package sourceimage

import (
	"bufio"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/maxsupermanhd/SlideChunk/primitives"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"bmp":  true,
	"tiff": true,
	"webp": true,
}

func AllowedExtensions() []string {
	return []string{"png", "jpg", "jpeg", "bmp", "tiff", "webp"}
}

// CheckExtension rejects paths whose extension is not in the allow-list,
// without opening the file.
func CheckExtension(path string) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if !allowedExtensions[ext] {
		return primitives.NewError(primitives.ErrUnsupportedFormat, "check extension", path,
			&extensionError{ext: ext})
	}
	return nil
}

type extensionError struct {
	ext string
}

func (e *extensionError) Error() string {
	return fmt.Sprintf("extension %q is not one of %s", e.ext, strings.Join(AllowedExtensions(), ", "))
}

// Stat returns size and modification time (unix nanos) of the source.
func Stat(path string) (size int64, modTime int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, primitives.FromOS("stat source", path, err)
	}
	if info.IsDir() {
		return 0, 0, primitives.NewError(primitives.ErrNotFound, "stat source", path, os.ErrNotExist)
	}
	return info.Size(), info.ModTime().UnixNano(), nil
}

// Decode reads the image at path and returns it as NRGBA with bounds at 0,0.
func Decode(path string) (*image.NRGBA, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", primitives.FromOS("open source", path, err)
	}
	defer f.Close()
	img, format, err := image.Decode(bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		return nil, format, primitives.NewError(primitives.ErrDecode, "decode source", path, err)
	}
	return ToNRGBA(img), format, nil
}

// ToNRGBA returns img itself when it already is a zero-origin NRGBA.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
