// Package digest implements the content hash used throughout redux to
// identify file bytes: the Digest of a blob is its identity in the content
// store, and the Digest of a dependency is what a trace records.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Size is the width of a Digest in bytes (SHA-256).
const Size = sha256.Size

// Digest is an opaque content hash. The zero Digest is never produced by
// Hash; Missing is the distinguished value meaning "does not exist".
type Digest [Size]byte

// Missing is the sentinel Digest recorded for a dependency that was probed
// but did not exist on disk.
var Missing = Digest{0xff} // distinguishable from any real sha256 sum with overwhelming probability

// String renders the digest as lowercase hex, as used in trace files and
// blob store paths.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsMissing reports whether d is the Missing sentinel.
func (d Digest) IsMissing() bool {
	return d == Missing
}

// Parse decodes a hex-encoded digest as written by String.
func Parse(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, err
	}
	if len(b) != Size {
		return d, errInvalidLength(len(b))
	}
	copy(d[:], b)
	return d, nil
}

type errInvalidLength int

func (e errInvalidLength) Error() string {
	return "digest: invalid length"
}

// Hash reads r to completion and returns its content digest.
func Hash(r io.Reader) (Digest, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, err
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// HashBytes is a convenience wrapper around Hash for in-memory data.
func HashBytes(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest(sum)
}

// Prefix returns the two leading hex characters used as the blob store's
// directory-sharding prefix (blobs/<prefix>/<rest>).
func (d Digest) Prefix() string {
	return hex.EncodeToString(d[:1])
}

// Rest returns the remaining hex characters after Prefix.
func (d Digest) Rest() string {
	return hex.EncodeToString(d[1:])
}
