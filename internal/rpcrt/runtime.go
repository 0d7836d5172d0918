// Package rpcrt implements the RPC Dispatcher (4.E) and Value Marshalling
// (4.F): an executor.Runtime that resolves synthesized object fields
// synchronously off an already-fetched protobuf message, and dispatches
// Query/Mutation root fields as gRPC calls through the Client Pool.
package rpcrt

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/protobound/gateway/internal/executor"
	"github.com/protobound/gateway/internal/gatewayerr"
	"github.com/protobound/gateway/internal/grpctp"
	"github.com/protobound/gateway/internal/typeregistry"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Runtime is the gRPC-backed executor.Runtime. One Runtime is shared across
// requests; per-request state (the Memo Cache, uploads) travels on ctx.
type Runtime struct {
	types *typeregistry.Registry
	ops   *Operations
	pool  *grpctp.Pool
}

var _ executor.Runtime = (*Runtime)(nil)

// New builds a Runtime over a populated Type Registry, Operation Config map,
// and Client Pool -- the three build-time artifacts the Schema Synthesiser
// produces.
func New(types *typeregistry.Registry, ops *Operations, pool *grpctp.Pool) *Runtime {
	return &Runtime{types: types, ops: ops, pool: pool}
}

// ResolveSync resolves a field whose value is already present on the parent
// protobuf message -- every field of every synthesized object type, since
// the Type Registry never marks those fields async. Root fields (Query,
// Mutation, Subscription) are never passed here: the Schema Synthesiser
// marks them Async so the executor routes them to BatchResolveAsync instead.
func (r *Runtime) ResolveSync(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	msg, ok := source.(protoreflect.Message)
	if !ok {
		panic(fmt.Sprintf("rpcrt: ResolveSync source for %s.%s must be protoreflect.Message, got %T", objectType, field, source))
	}
	fd, ok := r.types.FieldDescriptorFor(objectType, field)
	if !ok {
		panic(fmt.Sprintf("rpcrt: no field descriptor registered for %s.%s", objectType, field))
	}
	if !msg.Has(fd) {
		return nil, nil
	}
	return handleValue(fd, msg.Get(fd)), nil
}

// BatchResolveAsync resolves every task of the batch concurrently, one
// goroutine and at most one gRPC call per task, per spec.md 4.E. The Memo
// Cache is read before and filled after each call, so a call whose key is
// already cached reuses that result; identical calls in flight at the same
// time (two aliases in one batch) are each made.
func (r *Runtime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	results := make([]executor.AsyncResolveResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i, t := range tasks {
		i, t := i, t
		go func() {
			defer wg.Done()
			results[i] = r.resolveOne(ctx, t)
		}()
	}
	wg.Wait()
	return results
}

func (r *Runtime) resolveOne(ctx context.Context, task executor.AsyncResolveTask) executor.AsyncResolveResult {
	op, ok := r.ops.Lookup(task.ObjectType, task.Field)
	if !ok {
		return executor.AsyncResolveResult{Error: gatewayerr.Newf(gatewayerr.Schema, "no operation registered for %s.%s", task.ObjectType, task.Field)}
	}
	if op.Streaming {
		return executor.AsyncResolveResult{Error: gatewayerr.Newf(gatewayerr.Schema, "%s.%s is a subscription operation and cannot be resolved as a query/mutation field", task.ObjectType, task.Field)}
	}

	req, err := buildRequest(ctx, op, task.Args)
	if err != nil {
		return executor.AsyncResolveResult{Error: err}
	}

	grpcPath := "/" + string(op.Method.Parent().FullName()) + "/" + string(op.Method.Name())
	encoded, err := proto.Marshal(req.Interface())
	if err != nil {
		return executor.AsyncResolveResult{Error: gatewayerr.Wrap(gatewayerr.Serialization, "encode request", err)}
	}
	key := memoKey{service: op.ServiceName, path: grpcPath, request: string(encoded)}

	if cache := memoCacheFrom(ctx); cache != nil {
		if e, ok := cache.get(key); ok {
			return executor.AsyncResolveResult{Value: e.value, Error: e.err}
		}
		value, err := r.invoke(ctx, op, req)
		cache.put(key, memoEntry{value: value, err: err})
		return executor.AsyncResolveResult{Value: value, Error: err}
	}

	value, err := r.invoke(ctx, op, req)
	return executor.AsyncResolveResult{Value: value, Error: err}
}

func (r *Runtime) invoke(ctx context.Context, op *OperationConfig, req protoreflect.Message) (any, error) {
	resp, err := r.pool.Invoke(ctx, op.ServiceName, op.Method, req)
	if err != nil {
		return nil, err
	}
	return decodeResponse(op, resp)
}

// ResolveType resolves the concrete GraphQL object type for an interface or
// union value: the synthesized object type sharing the message's full name.
func (r *Runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	msg, ok := value.(protoreflect.Message)
	if !ok || msg == nil {
		return "", gatewayerr.Newf(gatewayerr.Schema, "ResolveType(%s): expected protoreflect.Message, got %T", abstractType, value)
	}
	name := typeregistry.TypeName(msg.Descriptor().FullName())
	if _, ok := r.types.ObjectMessage(name); !ok {
		return "", gatewayerr.Newf(gatewayerr.Schema, "ResolveType(%s): %s is not a registered object type", abstractType, name)
	}
	return name, nil
}

// ResolveUnionConcreteValue and ResolveInterfaceConcreteValue are no-ops:
// handleValue already unwraps to the concrete protobuf message before a
// value ever reaches the executor's abstract-type completion path.
func (r *Runtime) ResolveUnionConcreteValue(ctx context.Context, unionTypeName string, value any) (any, error) {
	return value, nil
}

func (r *Runtime) ResolveInterfaceConcreteValue(ctx context.Context, interfaceTypeName string, value any) (any, error) {
	return value, nil
}

// SerializeLeafValue formats a scalar/enum value resolved by ResolveSync or
// a gRPC response for the wire, per spec.md 4.B/4.F.
func (r *Runtime) SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch scalarOrEnumTypeName {
	case "String":
		return serializeString(value), nil
	case "Int":
		return serializeInt(value), nil
	case "Float":
		if f, ok := value.(float32); ok {
			return float64(f), nil
		}
		return value, nil
	case "Map":
		return value, nil
	default:
		return value, nil
	}
}

func serializeString(value any) any {
	switch v := value.(type) {
	case []byte:
		return base64.StdEncoding.EncodeToString(v)
	case int64:
		return fmt.Sprintf("%d", v)
	case uint64:
		return fmt.Sprintf("%d", v)
	default:
		return v
	}
}

func serializeInt(value any) any {
	if u, ok := value.(uint32); ok {
		return int64(u)
	}
	return value
}
