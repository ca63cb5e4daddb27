package store

import "path/filepath"

// Layout bundles the two stores rooted under a repository's metadata
// directory (.git/redux/).
type Layout struct {
	Blobs  *BlobStore
	Traces *TraceStore
}

// NewLayout returns the store layout rooted at metaDir, typically
// "<repo_root>/.git/redux".
func NewLayout(metaDir string) *Layout {
	return &Layout{
		Blobs:  &BlobStore{Root: filepath.Join(metaDir, "blobs")},
		Traces: &TraceStore{Root: filepath.Join(metaDir, "traces")},
	}
}
