package engine

import (
	"context"
	"net/rpc"

	"github.com/hashicorp/go-plugin"

	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/internal/pool"
)

// Runtime executes jobs inside the worker subprocess.
type Runtime interface {
	// Handshake fails when the runtime cannot run jobs, e.g. its command is missing.
	Handshake() error
	Run(req *pool.RunRequest) (*pool.RunResult, error)
}

// RuntimePlugin exposes a Runtime over go-plugin's net/rpc transport.
type RuntimePlugin struct {
	Impl Runtime
}

func (p *RuntimePlugin) Server(*plugin.MuxBroker) (any, error) {
	return &RPCServer{impl: p.Impl}, nil
}

func (*RuntimePlugin) Client(_ *plugin.MuxBroker, client *rpc.Client) (any, error) {
	return &RPCClient{client: client}, nil
}

// RPCServer is the net/rpc receiver registered in the worker subprocess.
type RPCServer struct {
	impl Runtime
}

// Handshake answers with the engine protocol version once the runtime reports it is usable.
func (server *RPCServer) Handshake(version int, resp *int) (err error) {
	defer errors.Recover(func(cause error) { err = cause })

	if version != engineVersion {
		return errors.Errorf("engine protocol version %d is not supported, expected %d", version, engineVersion)
	}

	if err := server.impl.Handshake(); err != nil {
		return err
	}

	*resp = engineVersion

	return nil
}

func (server *RPCServer) Run(req *pool.RunRequest, resp *pool.RunResult) (err error) {
	defer errors.Recover(func(cause error) { err = cause })

	res, err := server.impl.Run(req)
	if err != nil {
		return err
	}

	*resp = *res

	return nil
}

// RPCClient is the host side of a worker connection.
type RPCClient struct {
	client *rpc.Client
}

func (c *RPCClient) Handshake(ctx context.Context) error {
	var version int

	if err := c.call(ctx, "Plugin.Handshake", engineVersion, &version); err != nil {
		return err
	}

	if version != engineVersion {
		return errors.Errorf("worker answered handshake with protocol version %d", version)
	}

	return nil
}

func (c *RPCClient) Run(ctx context.Context, req *pool.RunRequest) (*pool.RunResult, error) {
	resp := &pool.RunResult{}

	if err := c.call(ctx, "Plugin.Run", req, resp); err != nil {
		return nil, err
	}

	return resp, nil
}

// call issues an asynchronous RPC so the caller is not blocked past ctx; net/rpc itself has no cancellation.
func (c *RPCClient) call(ctx context.Context, method string, args, reply any) error {
	call := c.client.Go(method, args, reply, make(chan *rpc.Call, 1))

	select {
	case <-call.Done:
		if call.Error != nil {
			return errors.New(call.Error)
		}

		return nil
	case <-ctx.Done():
		return errors.New(ctx.Err())
	}
}
