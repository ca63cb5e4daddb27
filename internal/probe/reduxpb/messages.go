// Package reduxpb holds the wire messages for the dependency-probe
// protocol: plain, hand-maintained Go structs carried over gRPC via a
// JSON substitute codec (see the probe package's jsonCodec) rather than
// protoc-generated bindings.
package reduxpb

// WantRequest asks the coordinator to resolve path, recursively building
// it if necessary.
type WantRequest struct {
	Path string `json:"path"`
}

// WantResponse carries the resolved digest, or Missing=true if the probed
// path does not exist and has no rule.
type WantResponse struct {
	Digest  string `json:"digest"`
	Missing bool   `json:"missing"`
}

// StampRequest carries the hash of stdin read by --stamp, to be recorded
// as a synthetic "<stdin>" dependency.
type StampRequest struct {
	Digest string `json:"digest"`
}

// StampResponse is empty; --stamp has no result beyond success.
type StampResponse struct{}

// DepfileRequest names a path whose make-style depfile should be parsed
// and each listed dependency probed in turn.
type DepfileRequest struct {
	Path string `json:"path"`
}

// DepfileResponse is empty.
type DepfileResponse struct{}

// VolatileRequest marks the calling job's trace volatile, either always or
// for a bounded duration.
type VolatileRequest struct {
	Always      bool  `json:"always"`
	AfterSeconds int64 `json:"after_seconds"`
}

// VolatileResponse is empty.
type VolatileResponse struct{}
