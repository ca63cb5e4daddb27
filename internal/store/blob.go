// Package store implements the two append-only, content-addressed stores
// the build coordinator reads and writes: the blob store (Digest → bytes)
// and the trace store ((rule_path, target_path) → ordered set of Trace).
// Both use temp-file-plus-rename for atomic insertion.
package store

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/xerrors"

	"github.com/reduxbuild/redux/internal/digest"
)

// BlobStore is the append-only mapping from Digest to file contents, laid
// out as blobs/<d[0:2]>/<d[2:]> under its root directory. Reads are
// idempotent; writes are atomic and safe to race, since two writers of the
// same digest write the same bytes to the same destination path.
type BlobStore struct {
	Root string
}

func (s *BlobStore) path(d digest.Digest) string {
	return filepath.Join(s.Root, d.Prefix(), d.Rest())
}

// Has reports whether the blob for d is already present.
func (s *BlobStore) Has(d digest.Digest) bool {
	_, err := os.Stat(s.path(d))
	return err == nil
}

// Path returns the on-disk location of the blob for d, without checking
// that it exists.
func (s *BlobStore) Path(d digest.Digest) string {
	return s.path(d)
}

// Open returns a reader over the blob for d. Blobs are stored zstd-compressed
// at rest; Open transparently decompresses, since the digest always
// identifies the raw bytes, never the compressed encoding.
func (s *BlobStore) Open(d digest.Digest) (io.ReadCloser, error) {
	f, err := os.Open(s.path(d))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &zstdReadCloser{f: f, dec: dec}, nil
}

type zstdReadCloser struct {
	f   *os.File
	dec *zstd.Decoder
}

func (z *zstdReadCloser) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.f.Close()
}

// Insert reads r to completion, computing its content digest, and durably
// stores the bytes under that digest. It returns the digest regardless of
// whether the blob already existed. The digest is not known until r is
// fully consumed, so the bytes land in a scratch temp file first; once the
// digest is known they are compressed into their content-addressed
// destination by compressFileAtomic, whose atomic rename is the only
// durability step, and the scratch file is removed.
func (s *BlobStore) Insert(r io.Reader) (digest.Digest, error) {
	tmpDir := filepath.Join(s.Root, "tmp")
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return digest.Digest{}, err
	}
	f, err := renameio.TempFile(tmpDir, filepath.Join(tmpDir, "scratch"))
	if err != nil {
		return digest.Digest{}, err
	}
	defer f.Cleanup()

	h := newHasher()
	if _, err := io.Copy(io.MultiWriter(f, h), r); err != nil {
		return digest.Digest{}, err
	}
	if err := f.Sync(); err != nil {
		return digest.Digest{}, err
	}
	tmpName := f.Name()
	if err := f.Close(); err != nil {
		return digest.Digest{}, err
	}
	d := h.Sum()

	dest := s.path(d)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return digest.Digest{}, err
	}
	if !s.Has(d) {
		if err := compressFileAtomic(tmpName, dest); err != nil {
			return digest.Digest{}, err
		}
	}
	return d, nil
}

// InsertFile stores the contents of the file at tmpPath (already written
// by a job) as the blob for its content digest. The store keeps its own
// compressed copy; tmpPath is left in place, so the job executor can still
// rename it to the final target.
func (s *BlobStore) InsertFile(tmpPath string) (digest.Digest, error) {
	f, err := os.Open(tmpPath)
	if err != nil {
		return digest.Digest{}, err
	}
	defer f.Close()
	d, err := digest.Hash(f)
	if err != nil {
		return digest.Digest{}, err
	}
	if s.Has(d) {
		return d, nil
	}
	dest := s.path(d)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return digest.Digest{}, err
	}
	if err := compressFileAtomic(tmpPath, dest); err != nil {
		return digest.Digest{}, xerrors.Errorf("compressing blob into store: %w", err)
	}
	return d, nil
}

// Materialize writes the blob for d to dest, decompressing it from the
// store; an existing dest is always replaced. Used to restore a cached
// target.
func (s *BlobStore) Materialize(d digest.Digest, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return decompressFileAtomic(s.path(d), dest)
}

// compressFileAtomic zstd-compresses src into dest, committing via
// temp-file-plus-rename so a reader never observes a partially written
// blob.
func compressFileAtomic(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	f, err := renameio.TempFile("", dest)
	if err != nil {
		return err
	}
	defer f.Cleanup()
	enc, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.CloseAtomicallyReplace()
}

// decompressFileAtomic is compressFileAtomic's inverse, used to restore a
// blob to a real filesystem path a rule or its consumers can read directly.
func decompressFileAtomic(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	dec, err := zstd.NewReader(in)
	if err != nil {
		return err
	}
	defer dec.Close()
	f, err := renameio.TempFile("", dest)
	if err != nil {
		return err
	}
	defer f.Cleanup()
	if _, err := io.Copy(f, dec); err != nil {
		return err
	}
	return f.CloseAtomicallyReplace()
}
