// Package gateway is the Request Runtime (4.H): it assembles a Descriptor
// Loader, Federation Index, Schema Synthesiser, Client Pool and RPC
// Dispatcher into one servable Gateway, and runs the registered middleware
// chain ahead of the GraphQL handler. Mirrors original_source's
// GatewayBuilder/Gateway pair, adapted to Go's functional-options idiom.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/protobound/gateway/internal/descriptorset"
	"github.com/protobound/gateway/internal/executor"
	"github.com/protobound/gateway/internal/federation"
	"github.com/protobound/gateway/internal/gatewayerr"
	"github.com/protobound/gateway/internal/grpctp"
	"github.com/protobound/gateway/internal/rpcrt"
	"github.com/protobound/gateway/internal/server"
	"github.com/protobound/gateway/internal/synth"
)

// Builder assembles a Gateway. Zero value is not usable; use NewBuilder.
type Builder struct {
	clientPool       *grpctp.Pool
	clients          []clientSpec
	services         []string
	enableFederation bool
	entityResolver   federation.EntityResolver
	middlewares      []Middleware
	serverOpts       []server.Option
	descriptorSet    []byte
	err              error
}

type clientSpec struct {
	name, endpoint string
	opts           []grpctp.ClientOption
}

// NewBuilder starts a new Builder.
func NewBuilder() *Builder {
	return &Builder{clientPool: grpctp.New()}
}

// AddGRPCClient registers a backend by its protobuf service full name (the
// name used in graphql.service.host annotations) and dial target.
func (b *Builder) AddGRPCClient(name, endpoint string, opts ...grpctp.ClientOption) *Builder {
	b.clients = append(b.clients, clientSpec{name: name, endpoint: endpoint, opts: opts})
	return b
}

// AddMiddleware appends a Middleware to the chain, run in registration order.
func (b *Builder) AddMiddleware(m Middleware) *Builder {
	b.middlewares = append(b.middlewares, m)
	return b
}

// WithDescriptorSetBytes supplies a serialized FileDescriptorSet.
func (b *Builder) WithDescriptorSetBytes(raw []byte) *Builder {
	b.descriptorSet = raw
	return b
}

// WithDescriptorSetFile reads a FileDescriptorSet from disk.
func (b *Builder) WithDescriptorSetFile(path string) *Builder {
	raw, err := os.ReadFile(path)
	if err != nil {
		b.err = gatewayerr.Wrap(gatewayerr.Io, "read descriptor set file", err)
		return b
	}
	b.descriptorSet = raw
	return b
}

// WithEntityResolver installs a custom federation.EntityResolver. Without
// this call entities resolve to their representation verbatim
// (federation.VerbatimResolver).
func (b *Builder) WithEntityResolver(r federation.EntityResolver) *Builder {
	b.entityResolver = r
	return b
}

// WithServices restricts schema synthesis to the given fully-qualified
// service names; empty means every service in the descriptor set.
func (b *Builder) WithServices(services ...string) *Builder {
	b.services = services
	return b
}

// EnableFederation turns on Apollo Federation v2 hookup.
func (b *Builder) EnableFederation() *Builder {
	b.enableFederation = true
	return b
}

// WithServerOptions forwards options straight to server.New.
func (b *Builder) WithServerOptions(opts ...server.Option) *Builder {
	b.serverOpts = append(b.serverOpts, opts...)
	return b
}

// Gateway is a fully assembled, servable gateway: an http.Handler with a
// middleware chain in front of the GraphQL endpoint.
type Gateway struct {
	handler    http.Handler
	chain      chain
	clientPool *grpctp.Pool
	result     *synth.Result
	rpcRuntime *rpcrt.Runtime
	exec       *executor.Executor

	mux *http.ServeMux
}

// ClientPool exposes the backing connection pool (e.g. for health checks).
func (g *Gateway) ClientPool() *grpctp.Pool { return g.clientPool }

// SDL returns the subgraph's own schema definition (Apollo Federation's
// _service.sdl contract), rendered before federation scaffolding was added.
func (g *Gateway) SDL() string { return g.result.SDL }

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mc := &Context{Request: r, Extensions: make(map[string]any)}
	if err := g.chain.run(r.Context(), mc); err != nil {
		writeMiddlewareError(w, err)
		return
	}
	g.handler.ServeHTTP(w, r)
}

// Build resolves the descriptor set, builds the Federation Index and the
// synthesized schema, wires up the Client Pool, and wraps the RPC
// Dispatcher runtime with the federation root-field handler when federation
// is enabled and entities are present.
func (b *Builder) Build() (*Gateway, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.descriptorSet == nil {
		return nil, gatewayerr.New(gatewayerr.Schema, "no descriptor set provided")
	}

	pool, err := descriptorset.Load(b.descriptorSet)
	if err != nil {
		return nil, err
	}

	for _, c := range b.clients {
		if err := b.clientPool.Add(c.name, c.endpoint, c.opts...); err != nil {
			return nil, gatewayerr.Wrap(gatewayerr.Connection, fmt.Sprintf("add client %q", c.name), err)
		}
	}

	fedIndex := federation.Build(pool)
	result, err := synth.Build(pool, b.clientPool, fedIndex, synth.Options{
		Services:         b.services,
		EnableFederation: b.enableFederation,
	})
	if err != nil {
		return nil, err
	}

	rpcRuntime := rpcrt.New(result.Types, result.Operations, b.clientPool)
	var rt executor.Runtime = rpcRuntime
	if b.enableFederation && fedIndex.Enabled() {
		resolver := b.entityResolver
		if resolver == nil {
			resolver = federation.VerbatimResolver{}
		}
		rt = federation.Wrap(rt, fedIndex, resolver, result.SDL)
	}

	handler, err := server.New(rt, result.Schema, b.serverOpts...)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		chain:      chain{middlewares: b.middlewares},
		clientPool: b.clientPool,
		result:     result,
		rpcRuntime: rpcRuntime,
		exec:       executor.NewExecutor(rt, result.Schema),
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", handler)
	mux.HandleFunc("/graphql/ws", gw.serveWebSocket)
	gw.mux = mux
	gw.handler = mux
	return gw, nil
}

// Serve builds the gateway (a fresh Build on every call) and runs an HTTP
// server on addr until ctx is cancelled.
func (b *Builder) Serve(ctx context.Context, addr string) error {
	gw, err := b.Build()
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: addr, Handler: gw}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

func writeMiddlewareError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	kind := gatewayerr.KindOf(err)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"errors":[{"message":%q,"extensions":{"code":%q}}]}`, err.Error(), kind.Code())
}
