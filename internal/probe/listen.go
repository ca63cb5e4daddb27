package probe

import (
	"net"
	"os"

	"google.golang.org/grpc"
)

// Listen binds a Unix domain socket at sockPath for a single running job
// and registers srv against it. The caller is responsible for calling
// Serve on the returned *grpc.Server (typically in its own goroutine) and
// for removing sockPath once the job is done.
func Listen(sockPath string, srv Server) (*grpc.Server, net.Listener, error) {
	os.Remove(sockPath) // stale socket from a crashed prior run
	lis, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, nil, err
	}
	s := grpc.NewServer()
	RegisterServer(s, srv)
	return s, lis, nil
}
