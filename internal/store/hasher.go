package store

import (
	"crypto/sha256"
	"hash"

	"github.com/reduxbuild/redux/internal/digest"
)

// hasher incrementally hashes bytes written to it, yielding a digest.Digest
// once writing is complete.
type hasher struct {
	h hash.Hash
}

func newHasher() *hasher {
	return &hasher{h: sha256.New()}
}

func (h *hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

func (h *hasher) Sum() digest.Digest {
	var d digest.Digest
	copy(d[:], h.h.Sum(nil))
	return d
}
