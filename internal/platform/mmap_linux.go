// Package platform isolates the one piece of this system that is
// inherently host-specific: acquiring write-then-execute memory for
// the JIT backend's assembled code (spec.md §9's "W^X" note).
package platform

import (
	"io"
	"syscall"
)

// MmapCodeSegment allocates size bytes of anonymous, private memory,
// copies code (read in full from r) into it, then flips the mapping
// from read+write to read+exec. The returned slice aliases the
// mapping directly; callers must eventually pass it to
// MunmapCodeSegment.
func MmapCodeSegment(r io.Reader, size int) ([]byte, error) {
	if size == 0 {
		panic("BUG: MmapCodeSegment with zero length")
	}

	mem, err := syscall.Mmap(-1, 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_PRIVATE|syscall.MAP_ANON)
	if err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(r, mem); err != nil {
		_ = syscall.Munmap(mem)
		return nil, err
	}

	if err := syscall.Mprotect(mem, syscall.PROT_READ|syscall.PROT_EXEC); err != nil {
		_ = syscall.Munmap(mem)
		return nil, err
	}
	return mem, nil
}

// MunmapCodeSegment releases a mapping returned by MmapCodeSegment.
func MunmapCodeSegment(code []byte) error {
	if len(code) == 0 {
		panic("BUG: MunmapCodeSegment with zero length")
	}
	return syscall.Munmap(code)
}
