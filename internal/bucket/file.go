// Package bucket implements the raw file-backed byte store underneath a
// column: a regular file divided into fixed-size buckets with an explicit,
// policy-driven growth strategy. Which buckets have ever been touched is
// derived from the file length alone; there is no separate bitmap to keep in
// sync with the file.
package bucket

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/ncw/directio"

	"quarry/internal/base"
)

// GrowthPolicy selects how the file is grown when a write first reaches a
// bucket beyond the current length.
type GrowthPolicy uint8

const (
	// GrowthExtendZero extends the file length via truncate and then writes
	// an explicit zero-filled buffer over every newly covered bucket before
	// any real data lands there. Each never-before-touched bucket costs
	// exactly one positioned zero write on top of the extension.
	GrowthExtendZero GrowthPolicy = iota

	// GrowthExtendOnly extends the file length via truncate and never writes
	// explicit zeros, relying on the filesystem reading freshly extended
	// regions back as zeros (sparse-file semantics). This halves the I/O
	// volume of first touches but the sparse-zero assumption has not been
	// verified on every filesystem; treat it as experimental.
	GrowthExtendOnly
)

func (p GrowthPolicy) String() string {
	switch p {
	case GrowthExtendZero:
		return "extend_zero"
	case GrowthExtendOnly:
		return "extend_only"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// File is a bucket-granular byte store over one regular file. The file only
// ever grows, and its logical length is always a multiple of the bucket size
// once any bucket has been touched.
//
// File does no locking of its own; the owning storage manager serializes
// access (EnsureCapacity for the same bucket from concurrent writers must not
// race the length check against the truncate).
type File struct {
	f          *os.File
	path       string
	bucketSize int
	length     int64
	policy     GrowthPolicy

	// zero is an aligned, bucket-sized buffer of zeros reused for every
	// zero-fill write.
	zero []byte

	stats Stats
}

// Open opens or creates the bucket file at path. An existing file whose
// length is not a multiple of bucketSize was written with a different bucket
// size and is rejected with a ConfigError.
func Open(path string, bucketSize int, policy GrowthPolicy) (*File, error) {
	if bucketSize <= 0 {
		return nil, &base.ConfigError{Reason: fmt.Sprintf(
			"bucket size %d must be positive", bucketSize)}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, base.NewIOError("open", path, -1, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, base.NewIOError("stat", path, -1, err)
	}
	if info.Size()%int64(bucketSize) != 0 {
		_ = f.Close()
		return nil, &base.ConfigError{Reason: fmt.Sprintf(
			"%s: existing length %d is not a multiple of bucket size %d",
			path, info.Size(), bucketSize)}
	}

	zero := directio.AlignedBlock(directio.BlockSize)
	if bucketSize != len(zero) {
		zero = make([]byte, bucketSize)
	}

	return &File{
		f:          f,
		path:       path,
		bucketSize: bucketSize,
		length:     info.Size(),
		policy:     policy,
		zero:       zero,
	}, nil
}

// Path returns the file path.
func (f *File) Path() string { return f.path }

// BucketSize returns the fixed bucket size in bytes.
func (f *File) BucketSize() int { return f.bucketSize }

// Len returns the current logical length of the file.
func (f *File) Len() int64 { return f.length }

// Policy returns the growth policy the file was opened with.
func (f *File) Policy() GrowthPolicy { return f.policy }

// Stats returns the file's I/O event counters.
func (f *File) Stats() *Stats { return &f.stats }

// Touched reports whether the bucket at index has ever been extended into.
// File length is the single source of truth: a bucket is touched iff the
// file already covers it.
func (f *File) Touched(index int64) bool {
	return (index+1)*int64(f.bucketSize) <= f.length
}

// Buckets returns the number of buckets the file currently covers.
func (f *File) Buckets() int64 {
	return f.length / int64(f.bucketSize)
}

// EnsureCapacity guarantees the file is at least (index+1)*bucketSize bytes
// long. Under GrowthExtendZero every newly covered bucket receives one
// explicit zero-fill write; under GrowthExtendOnly the truncate alone grows
// the file. Calling EnsureCapacity again for an already covered index is a
// no-op, so the number of extension and zero-fill events a workload produces
// tracks the number of distinct never-before-touched buckets it spans, not
// the number of write calls.
func (f *File) EnsureCapacity(index int64) error {
	if index < 0 {
		return base.NewIOError("extend", f.path, index, errors.New("negative bucket index"))
	}
	need := (index + 1) * int64(f.bucketSize)
	if f.length >= need {
		return nil
	}

	if err := f.truncate(need); err != nil {
		return base.NewIOError("extend", f.path, index, err)
	}
	f.stats.Extends.Add(1)

	if f.policy == GrowthExtendZero {
		// Out-of-order first touches extend through intermediate buckets,
		// and length-derived touch tracking means those become touched too.
		// They must be zeroed now or they never will be.
		for off := f.length; off < need; off += int64(f.bucketSize) {
			if err := f.writeAt(f.zero, off); err != nil {
				return base.NewIOError("zero-fill", f.path, off/int64(f.bucketSize), err)
			}
			f.stats.ZeroFills.Add(1)
		}
	}

	f.length = need
	return nil
}

// WriteAt writes p at offset offsetInBucket within the bucket at index.
// EnsureCapacity must already have been called for the index; that
// precondition is not re-checked per write.
func (f *File) WriteAt(index int64, offsetInBucket int, p []byte) error {
	if offsetInBucket+len(p) > f.bucketSize {
		return base.NewIOError("write", f.path, index,
			fmt.Errorf("write of %d bytes at offset %d overruns bucket size %d",
				len(p), offsetInBucket, f.bucketSize))
	}
	off := index*int64(f.bucketSize) + int64(offsetInBucket)
	if err := f.writeAt(p, off); err != nil {
		return base.NewIOError("write", f.path, index, err)
	}
	f.stats.Writes.Add(1)
	return nil
}

// ReadAt fills p from offset offsetInBucket within the bucket at index. It
// fails with an IOError if the bucket lies beyond the current file length.
func (f *File) ReadAt(index int64, offsetInBucket int, p []byte) error {
	if !f.Touched(index) {
		return base.NewIOError("read", f.path, index,
			fmt.Errorf("bucket beyond file length %d", f.length))
	}
	if offsetInBucket+len(p) > f.bucketSize {
		return base.NewIOError("read", f.path, index,
			fmt.Errorf("read of %d bytes at offset %d overruns bucket size %d",
				len(p), offsetInBucket, f.bucketSize))
	}
	off := index*int64(f.bucketSize) + int64(offsetInBucket)
	if _, err := f.f.ReadAt(p, off); err != nil {
		if isTransient(err) {
			if _, err = f.f.ReadAt(p, off); err == nil {
				f.stats.Reads.Add(1)
				return nil
			}
		}
		return base.NewIOError("read", f.path, index, err)
	}
	f.stats.Reads.Add(1)
	return nil
}

// Sync flushes the file's contents to stable storage.
func (f *File) Sync() error {
	if err := f.f.Sync(); err != nil {
		return base.NewIOError("sync", f.path, -1, err)
	}
	return nil
}

// Close releases the file handle. The file keeps whatever length it has
// grown to; bucket files are never shrunk.
func (f *File) Close() error {
	if err := f.f.Close(); err != nil {
		return base.NewIOError("close", f.path, -1, err)
	}
	return nil
}

// truncate grows the file length, retrying once for transient errors.
func (f *File) truncate(length int64) error {
	err := f.f.Truncate(length)
	if err != nil && isTransient(err) {
		err = f.f.Truncate(length)
	}
	return err
}

// writeAt writes all of p at off, continuing through partial writes and
// retrying once on a transient error.
func (f *File) writeAt(p []byte, off int64) error {
	retried := false
	for len(p) > 0 {
		n, err := f.f.WriteAt(p, off)
		p = p[n:]
		off += int64(n)
		if err != nil {
			if isTransient(err) && !retried {
				retried = true
				continue
			}
			return err
		}
	}
	return nil
}

// isTransient reports whether err is an interrupted-syscall class error
// worth one retry.
func isTransient(err error) bool {
	return errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN)
}
