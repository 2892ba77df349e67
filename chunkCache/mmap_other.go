//go:build !unix

package chunkcache

import (
	"os"
)

func writeMapped(_ *os.File, _ int, _ func([]byte)) error {
	return errMmapUnsupported
}
