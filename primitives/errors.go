package primitives

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrDecode            = errors.New("image decode failed")
	ErrIO                = errors.New("io failure")
	ErrFormat            = errors.New("malformed data")
	ErrCacheMissing      = errors.New("chunk cache missing, build metadata first")
)

// Error carries one of the sentinel kinds above together with the cause.
// errors.Is matches both the kind and anything in the cause chain.
type Error struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	s := e.Op
	if e.Path != "" {
		s += " " + e.Path
	}
	s += ": " + e.Kind.Error()
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NewError(kind error, op, path string, err error) error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// FromOS classifies a filesystem error, missing files become ErrNotFound.
func FromOS(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return NewError(ErrNotFound, op, path, err)
	}
	return NewError(ErrIO, op, path, err)
}

// TileError reports the first failing tile of a preprocessing run.
type TileError struct {
	Index int
	Tile  TileDescriptor
	Err   error
}

func (e *TileError) Error() string {
	return fmt.Sprintf("chunk %d (%d, %d) failed: %v", e.Index, e.Tile.Col, e.Tile.Row, e.Err)
}

func (e *TileError) Unwrap() error {
	return e.Err
}

// KindOf returns the taxonomy sentinel matched by err, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrCacheMissing, ErrUnsupportedFormat, ErrDecode, ErrFormat, ErrNotFound, ErrIO} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
