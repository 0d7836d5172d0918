// Package grpctp implements the Client Pool (4.G): a named registry of
// *grpc.ClientConn, added explicitly by the Gateway Builder rather than
// discovered, and the RPC invocation helpers the RPC Dispatcher calls
// against a pooled connection.
package grpctp

import (
	"context"
	"sync"
	"time"

	eventbus "github.com/protobound/gateway/internal/eventbus"
	events "github.com/protobound/gateway/internal/events"
	"github.com/protobound/gateway/internal/gatewayerr"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Pool is a name -> *grpc.ClientConn map, one entry per graphql.service.host
// discovered by the Schema Synthesiser (or added directly by an embedder).
// Safe for concurrent use.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]*grpc.ClientConn
}

// New creates an empty Pool.
func New() *Pool {
	return &Pool{clients: map[string]*grpc.ClientConn{}}
}

// clientOptions configures a single Add call.
type clientOptions struct {
	insecureTransport bool
	creds             credentials.TransportCredentials
	lazy              bool
	dialOpts          []grpc.DialOption
}

// ClientOption configures Add.
type ClientOption func(*clientOptions)

// Insecure uses plaintext transport credentials. This is the default.
func Insecure() ClientOption { return func(o *clientOptions) { o.insecureTransport = true } }

// WithTransportCredentials sets TLS (or other) transport credentials,
// overriding Insecure.
func WithTransportCredentials(creds credentials.TransportCredentials) ClientOption {
	return func(o *clientOptions) { o.creds = creds; o.insecureTransport = false }
}

// Lazy defers the initial connection attempt to the first call, instead of
// dialing (non-blocking, but TCP-connecting in the background) immediately.
// Mirrors GrpcClient::connect vs connect_lazy.
func Lazy() ClientOption { return func(o *clientOptions) { o.lazy = true } }

// WithDialOptions appends raw grpc.DialOption values.
func WithDialOptions(opts ...grpc.DialOption) ClientOption {
	return func(o *clientOptions) { o.dialOpts = append(o.dialOpts, opts...) }
}

// Add creates a ClientConn for endpoint and stores it under name, replacing
// (and closing) any previous entry under the same name -- last-writer-wins,
// matching GrpcClientPool::add's HashMap::insert semantics.
func (p *Pool) Add(name, endpoint string, opts ...ClientOption) error {
	o := &clientOptions{insecureTransport: true}
	for _, f := range opts {
		f(o)
	}
	creds := o.creds
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
	}, o.dialOpts...)

	cc, err := grpc.NewClient(endpoint, dialOpts...)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.Connection, "dial "+name, err)
	}
	if !o.lazy {
		cc.Connect()
	}

	p.mu.Lock()
	prev := p.clients[name]
	p.clients[name] = cc
	p.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// Get returns the connection registered under name.
func (p *Pool) Get(name string) (*grpc.ClientConn, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cc, ok := p.clients[name]
	return cc, ok
}

// Remove closes and forgets the connection registered under name.
func (p *Pool) Remove(name string) {
	p.mu.Lock()
	cc, ok := p.clients[name]
	delete(p.clients, name)
	p.mu.Unlock()
	if ok {
		_ = cc.Close()
	}
}

// Names lists every registered connection name, in no particular order.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.clients))
	for name := range p.clients {
		out = append(out, name)
	}
	return out
}

// Clear closes and removes every registered connection.
func (p *Pool) Clear() {
	p.mu.Lock()
	clients := p.clients
	p.clients = map[string]*grpc.ClientConn{}
	p.mu.Unlock()
	for _, cc := range clients {
		_ = cc.Close()
	}
}

// Invoke performs a unary RPC against the connection registered under
// serviceName, building the response message from method.Output(). Emits the
// GRPCClientStart/Finish events that the internal/otel tracing subscribers
// listen for.
func (p *Pool) Invoke(ctx context.Context, serviceName string, method protoreflect.MethodDescriptor, req protoreflect.Message) (protoreflect.Message, error) {
	cc, ok := p.Get(serviceName)
	if !ok {
		return nil, gatewayerr.Newf(gatewayerr.Connection, "no client registered for service %s", serviceName)
	}
	fullMethod := "/" + string(method.Parent().FullName()) + "/" + string(method.Name())
	resp := dynamicpb.NewMessage(method.Output())

	start := time.Now()
	eventbus.Publish(ctx, events.GRPCClientStart{Service: serviceName, Method: string(method.Name()), Target: cc.Target()})
	err := cc.Invoke(ctx, fullMethod, req, resp)
	eventbus.Publish(ctx, events.GRPCClientFinish{
		Service:  serviceName,
		Method:   string(method.Name()),
		Target:   cc.Target(),
		Code:     status.Code(err),
		Err:      err,
		Duration: time.Since(start),
	})
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Grpc, "call "+fullMethod, err)
	}
	return resp, nil
}

// NewStream opens a server-streaming RPC against the connection registered
// under serviceName.
func (p *Pool) NewStream(ctx context.Context, serviceName string, method protoreflect.MethodDescriptor, req protoreflect.Message) (grpc.ClientStream, error) {
	cc, ok := p.Get(serviceName)
	if !ok {
		return nil, gatewayerr.Newf(gatewayerr.Connection, "no client registered for service %s", serviceName)
	}
	fullMethod := "/" + string(method.Parent().FullName()) + "/" + string(method.Name())
	desc := &grpc.StreamDesc{StreamName: string(method.Name()), ServerStreams: true}
	stream, err := cc.NewStream(ctx, desc, fullMethod)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Grpc, "open stream "+fullMethod, err)
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Grpc, "send stream request "+fullMethod, err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Grpc, "close stream send "+fullMethod, err)
	}
	return stream, nil
}
