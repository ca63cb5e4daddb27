package probe

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"

	"github.com/reduxbuild/redux/internal/probe/reduxpb"
)

// Client is the handle a child redux invocation uses to talk to the job
// that spawned it.
type Client struct {
	cc *grpc.ClientConn
}

// Dial connects to the probe socket at sockPath (a Unix domain socket
// path, one per running job).
func Dial(ctx context.Context, sockPath string) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cc, err := grpc.DialContext(dialCtx, sockPath,
		grpc.WithInsecure(),
		grpc.WithBlock(),
		grpc.WithContextDialer(func(_ context.Context, addr string) (net.Conn, error) {
			return net.Dial("unix", addr)
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc}, nil
}

// Close tears down the connection to the parent job.
func (c *Client) Close() error {
	return c.cc.Close()
}

// Want issues a Want RPC for path and returns the resolved digest.
func (c *Client) Want(ctx context.Context, path string) (*reduxpb.WantResponse, error) {
	resp := new(reduxpb.WantResponse)
	err := c.cc.Invoke(ctx, "/"+ServiceName+"/Want", &reduxpb.WantRequest{Path: path}, resp)
	return resp, err
}

// Stamp issues a Stamp RPC recording digest as the "<stdin>" dependency.
func (c *Client) Stamp(ctx context.Context, digest string) error {
	return c.cc.Invoke(ctx, "/"+ServiceName+"/Stamp", &reduxpb.StampRequest{Digest: digest}, new(reduxpb.StampResponse))
}

// Depfile issues a Depfile RPC for a make-style depfile at path.
func (c *Client) Depfile(ctx context.Context, path string) error {
	return c.cc.Invoke(ctx, "/"+ServiceName+"/Depfile", &reduxpb.DepfileRequest{Path: path}, new(reduxpb.DepfileResponse))
}

// Volatile issues a Volatile RPC marking the calling job's trace.
func (c *Client) Volatile(ctx context.Context, always bool, after time.Duration) error {
	req := &reduxpb.VolatileRequest{Always: always, AfterSeconds: int64(after / time.Second)}
	return c.cc.Invoke(ctx, "/"+ServiceName+"/Volatile", req, new(reduxpb.VolatileResponse))
}
