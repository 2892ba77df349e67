//go:build unix

package chunkcache

import (
	"os"

	"golang.org/x/sys/unix"
)

// writeMapped maps f (already sized) and syncs the mapping after fill.
func writeMapped(f *os.File, size int, fill func([]byte)) (err error) {
	b, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	defer func() {
		if uerr := unix.Munmap(b); uerr != nil && err == nil {
			err = uerr
		}
	}()
	fill(b)
	return unix.Msync(b, unix.MS_SYNC)
}
