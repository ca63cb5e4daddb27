// Package jobserver implements the POSIX-make token-pipe protocol: a pipe
// of single-byte tokens, N-1 of them for a "-jN" build. The Nth slot is
// implicit — the caller's own first concurrently active job runs under it
// without ever touching the pipe (see internal/engine's Coordinator, which
// tracks that slot). Any external tool that understands GNU make's
// jobserver protocol (make, cargo, ninja) can be invoked from inside a
// rule and will cooperate with the same pool.
package jobserver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// token is the byte value written into the pipe for each free slot. GNU
// make uses '+'; any byte works, but matching make's convention lets a
// `make`-based rule step participate without confusion if it ever inspects
// the bytes (it doesn't, in practice, but the convention costs nothing).
const token = '+'

// Jobserver hands out up to N-1 extra tokens (the caller itself holds the
// Nth, implicit token) over an OS pipe.
type Jobserver struct {
	r, w *os.File
}

// New creates a jobserver with n-1 tokens available for n-1 additional
// concurrent jobs beyond the caller's own implicit slot. n must be >= 1.
func New(n int) (*Jobserver, error) {
	if n < 1 {
		return nil, xerrors.Errorf("jobserver: n must be >= 1, got %d", n)
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	j := &Jobserver{r: r, w: w}
	buf := bytes.Repeat([]byte{token}, n-1)
	if len(buf) > 0 {
		if _, err := w.Write(buf); err != nil {
			r.Close()
			w.Close()
			return nil, err
		}
	}
	return j, nil
}

// Acquire blocks until a token is available or ctx is done. A worker
// suspended on Acquire must not be holding any other token;
// callers that are themselves inside an await must release their own
// token first (see the engine package's cooperative release around
// sub-build awaits).
func (j *Jobserver) Acquire(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		var b [1]byte
		_, err := j.r.Read(b[:])
		done <- err
	}()
	select {
	case <-ctx.Done():
		// The pending read may still take a token later; give it back.
		go func() {
			if err := <-done; err == nil {
				j.Release()
			}
		}()
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Release returns a token to the pool.
func (j *Jobserver) Release() error {
	_, err := j.w.Write([]byte{token})
	return err
}

// Close releases the underlying pipe descriptors.
func (j *Jobserver) Close() error {
	err1 := j.r.Close()
	err2 := j.w.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// ExtraFiles returns the (read, write) ends of the pipe in the order they
// should be appended to exec.Cmd.ExtraFiles, so a child inherits them at
// file descriptors 3 and 4.
func (j *Jobserver) ExtraFiles() []*os.File {
	return []*os.File{j.r, j.w}
}

// Env returns the MAKEFLAGS entry advertising the jobserver to a child
// process whose ExtraFiles were set from ExtraFiles(), assuming they land
// at fds readFD/writeFD (3 and 4 when they are the only ExtraFiles).
func Env(readFD, writeFD int) string {
	return fmt.Sprintf("MAKEFLAGS=--jobserver-auth=%d,%d -j", readFD, writeFD)
}

// FromEnvironment reconstructs a Jobserver from an inherited
// --jobserver-auth=R,W (or the older --jobserver-fds=R,W) MAKEFLAGS entry,
// for when redux itself runs as a child of another jobserver-aware build
// tool.
func FromEnvironment(environ []string) (*Jobserver, bool) {
	for _, kv := range environ {
		if !strings.HasPrefix(kv, "MAKEFLAGS=") {
			continue
		}
		val := strings.TrimPrefix(kv, "MAKEFLAGS=")
		for _, field := range strings.Fields(val) {
			for _, prefix := range []string{"--jobserver-auth=", "--jobserver-fds="} {
				if !strings.HasPrefix(field, prefix) {
					continue
				}
				parts := strings.SplitN(strings.TrimPrefix(field, prefix), ",", 2)
				if len(parts) != 2 {
					continue
				}
				r, err1 := strconv.Atoi(parts[0])
				w, err2 := strconv.Atoi(parts[1])
				if err1 != nil || err2 != nil {
					continue
				}
				return &Jobserver{
					r: os.NewFile(uintptr(r), "jobserver-r"),
					w: os.NewFile(uintptr(w), "jobserver-w"),
				}, true
			}
		}
	}
	return nil, false
}

// PrepareCmd appends the jobserver's pipe ends to cmd.ExtraFiles and sets
// MAKEFLAGS in cmd.Env accordingly, so external tools invoked by a rule
// (make, cargo) cooperate with the same token pool.
func (j *Jobserver) PrepareCmd(cmd *exec.Cmd) {
	base := 3 + len(cmd.ExtraFiles)
	cmd.ExtraFiles = append(cmd.ExtraFiles, j.r, j.w)
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, Env(base, base+1))
}
