package backend

import (
	"context"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/spd-project/go-spd"
	"github.com/spd-project/go-spd/internal/partition"
	"github.com/spd-project/go-spd/internal/wire"
)

// File is a Backend over a raw POSIX file, the Linux analog of the
// rawdisk sample (tst/rawdisk/rawdisk.c), which memory-maps a fixed-size
// file and serves reads/writes directly out of the mapping. File instead
// does plain pread/pwrite at BlockAddress*BlockLength offsets and punches
// holes for Unmap via fallocate, so it needs no unsafe pointer arithmetic
// to reach the same thin-provisioning-on-a-sparse-file behavior.
type File struct {
	f           *os.File
	size        int64
	blockLength uint32
	sparse      bool
	mu          sync.RWMutex
}

// OpenFile opens (or creates) path as a File backend sized for blockCount
// blocks of blockLength bytes. A freshly created (previously empty) file
// is pre-sized with Truncate, marked sparse with fallocate's
// FALLOC_FL_KEEP_SIZE punch of the whole range, and stamped with a single
// partition spanning everything past the first 4K, exactly as
// RawDiskCreate does for a zero-size file.
func OpenFile(path string, blockCount uint64, blockLength uint32) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, spd.WrapError("OpenFile", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, spd.WrapError("OpenFile", err)
	}

	size := int64(blockCount) * int64(blockLength)
	wasEmpty := info.Size() == 0

	if info.Size() != size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, spd.WrapError("OpenFile", err)
		}
	}

	sparse := true
	if wasEmpty {
		sparse = unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, 0, size) == nil
	}

	file := &File{f: f, size: size, blockLength: blockLength, sparse: sparse}

	if wasEmpty {
		if err := file.stampPartition(blockCount, blockLength); err != nil {
			f.Close()
			return nil, err
		}
	}

	return file, nil
}

func (file *File) stampPartition(blockCount uint64, blockLength uint32) error {
	firstBlock := uint32(1)
	if blockLength < 4096 {
		firstBlock = 4096 / blockLength
	}
	if uint64(firstBlock) >= blockCount {
		return nil
	}

	mbr, err := partition.DefineTable([]partition.Partition{{
		Type:         0x07,
		BlockAddress: firstBlock,
		BlockCount:   uint32(blockCount) - firstBlock,
	}})
	if err != nil {
		return spd.WrapError("stampPartition", err)
	}
	if _, err := file.f.WriteAt(mbr, 0); err != nil {
		return spd.WrapError("stampPartition", err)
	}
	return spd.WrapError("stampPartition", file.f.Sync())
}

// Close releases the underlying file descriptor.
func (file *File) Close() error {
	return file.f.Close()
}

// Size reports the backend's capacity in bytes.
func (file *File) Size() int64 { return file.size }

// ReadAt implements spd.Backend.
func (file *File) ReadAt(_ context.Context, lba uint64, blockCount, blockLength uint32, out []byte) error {
	off := int64(lba) * int64(blockLength)
	n := int64(blockCount) * int64(blockLength)
	if off+n > file.size {
		return spd.ErrInvalidParameters
	}

	file.mu.RLock()
	defer file.mu.RUnlock()
	if _, err := file.f.ReadAt(out[:n], off); err != nil {
		return spd.NewErrorWithErrno("ReadAt", toErrno(err))
	}
	return nil
}

// WriteAt implements spd.Backend. When fua is set, the written range is
// flushed to stable storage before returning, matching rawdisk.c's
// FlushFlag handling in its Write callback.
func (file *File) WriteAt(_ context.Context, lba uint64, blockCount, blockLength uint32, data []byte, fua bool) error {
	off := int64(lba) * int64(blockLength)
	n := int64(blockCount) * int64(blockLength)
	if off+n > file.size {
		return spd.ErrInvalidParameters
	}

	file.mu.Lock()
	defer file.mu.Unlock()
	if _, err := file.f.WriteAt(data[:n], off); err != nil {
		return spd.NewErrorWithErrno("WriteAt", toErrno(err))
	}
	if fua {
		if err := file.f.Sync(); err != nil {
			return spd.WrapError("WriteAt", err)
		}
	}
	return nil
}

// Flush implements spd.Backend by calling fsync on the whole file.
func (file *File) Flush(_ context.Context) error {
	file.mu.RLock()
	defer file.mu.RUnlock()
	return spd.WrapError("Flush", file.f.Sync())
}

// Unmap implements spd.UnmapBackend. On a filesystem that supports hole
// punching it deallocates the addressed ranges with fallocate; otherwise
// it falls back to writing zeroes, the same fallback rawdisk.c's Unmap
// takes when RawDisk->Sparse is false.
func (file *File) Unmap(_ context.Context, descriptors []wire.UnmapDescriptor) error {
	file.mu.Lock()
	defer file.mu.Unlock()

	for _, d := range descriptors {
		off := int64(d.BlockAddress) * int64(file.blockLength)
		n := int64(d.BlockCount) * int64(file.blockLength)
		if off >= file.size {
			continue
		}
		if off+n > file.size {
			n = file.size - off
		}

		if file.sparse {
			if err := unix.Fallocate(int(file.f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, off, n); err == nil {
				continue
			}
		}

		zeroes := make([]byte, n)
		if _, err := file.f.WriteAt(zeroes, off); err != nil {
			return spd.NewErrorWithErrno("Unmap", toErrno(err))
		}
	}
	return nil
}

// toErrno unwraps the *os.PathError ReadAt/WriteAt return to the
// underlying syscall.Errno, falling back to EIO when the error isn't one
// (e.g. in tests against an in-memory filesystem that returns something
// else).
func toErrno(err error) unix.Errno {
	if e, ok := err.(*os.PathError); ok {
		if errno, ok := e.Err.(unix.Errno); ok {
			return errno
		}
	}
	return unix.EIO
}

var (
	_ spd.Backend      = (*File)(nil)
	_ spd.UnmapBackend = (*File)(nil)
)
