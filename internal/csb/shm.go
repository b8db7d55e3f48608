package csb

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Mapping is a control block backed by a real POSIX shared-memory mapping,
// as used by a genuine guest/host pair. Everything reachable through
// (*Block) is just an atomic-accessor view over Mapping.region; Mapping
// itself owns the mmap lifecycle.
type Mapping struct {
	*Block
	region []byte
}

// Attach maps (creating if necessary) the shared-memory object at path as
// a control block of exactly Size bytes. path is typically under
// /dev/shm, matching the convention for POSIX shared memory on Linux.
func Attach(path string) (*Mapping, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o600)
	if err != nil {
		return nil, fmt.Errorf("csb: open %s: %w", path, err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(Size)); err != nil {
		return nil, fmt.Errorf("csb: ftruncate %s: %w", path, err)
	}

	region, err := unix.Mmap(fd, 0, Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("csb: mmap %s: %w", path, err)
	}

	block, err := NewBlock(region)
	if err != nil {
		_ = unix.Munmap(region)
		return nil, err
	}

	return &Mapping{Block: block, region: region}, nil
}

// Detach unmaps the control block. Safe to call once; a second call
// returns an error rather than risking a double-unmap of process memory.
func (m *Mapping) Detach() error {
	if m.region == nil {
		return fmt.Errorf("csb: already detached")
	}
	err := unix.Munmap(m.region)
	m.region = nil
	if err != nil {
		return fmt.Errorf("csb: munmap: %w", err)
	}
	return nil
}
