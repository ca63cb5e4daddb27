package store

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/reduxbuild/redux/internal/digest"
)

func TestBlobInsertOpenRoundTrip(t *testing.T) {
	bs := &BlobStore{Root: t.TempDir()}
	want := []byte("the quick brown fox jumps over the lazy dog")

	d, err := bs.Insert(bytes.NewReader(want))
	if err != nil {
		t.Fatal(err)
	}
	if want2 := digest.HashBytes(want); d != want2 {
		t.Fatalf("Insert returned %s, want %s", d, want2)
	}
	if !bs.Has(d) {
		t.Fatal("Has reports false right after Insert")
	}

	r, err := bs.Open(d)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Open returned %q, want %q", got, want)
	}
}

func TestBlobStoredCompressedAtRest(t *testing.T) {
	bs := &BlobStore{Root: t.TempDir()}
	// Highly compressible, large enough that zstd framing is unmistakable.
	want := bytes.Repeat([]byte("a"), 1<<16)
	d, err := bs.Insert(bytes.NewReader(want))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(bs.Path(d))
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) >= len(want) {
		t.Fatalf("on-disk blob (%d bytes) is not smaller than the original (%d bytes); compression not applied?", len(raw), len(want))
	}
}

func TestBlobInsertFileKeepsSourceAndMaterializes(t *testing.T) {
	bs := &BlobStore{Root: t.TempDir()}
	tmp := filepath.Join(t.TempDir(), "output")
	want := []byte("rule output bytes")
	if err := os.WriteFile(tmp, want, 0644); err != nil {
		t.Fatal(err)
	}
	d, err := bs.InsertFile(tmp)
	if err != nil {
		t.Fatal(err)
	}
	// The source file must be left in place; InsertFile adopts a copy into
	// the store, the caller still owns tmp.
	if _, err := os.Stat(tmp); err != nil {
		t.Fatalf("InsertFile removed the source file: %v", err)
	}

	dest := t.TempDir() + "/materialized"
	if err := bs.Materialize(d, dest); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Materialize produced %q, want %q", got, want)
	}
}

func TestBlobInsertIdempotent(t *testing.T) {
	bs := &BlobStore{Root: t.TempDir()}
	want := []byte("idempotent insert")
	d1, err := bs.Insert(bytes.NewReader(want))
	if err != nil {
		t.Fatal(err)
	}
	d2, err := bs.Insert(bytes.NewReader(want))
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Fatalf("repeated Insert of identical content produced different digests: %s != %s", d1, d2)
	}
}
