package federation

import (
	"context"
	"time"

	"github.com/protobound/gateway/internal/eventbus"
	"github.com/protobound/gateway/internal/events"
	"github.com/protobound/gateway/internal/executor"
	"github.com/protobound/gateway/internal/gatewayerr"
)

// Wrap returns an executor.Runtime that handles the "_service" and
// "_entities" root Query fields installed by the Schema Synthesiser's
// federation hookup, delegating every other field to base: a thin runtime
// decorator rather than a change to the RPC Dispatcher itself.
func Wrap(base executor.Runtime, idx *Index, resolver EntityResolver, sdl string) executor.Runtime {
	return &runtime{base: base, idx: idx, resolver: resolver, sdl: sdl}
}

type runtime struct {
	base     executor.Runtime
	idx      *Index
	resolver EntityResolver
	sdl      string
}

var _ executor.Runtime = (*runtime)(nil)

// serviceSDL is the source value ResolveSync sees for the _service field's
// selection set (its lone "sdl" field).
type serviceSDL string

func (r *runtime) ResolveSync(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	if s, ok := source.(serviceSDL); ok && field == "sdl" {
		return string(s), nil
	}
	if rep, ok := source.(Representation); ok {
		return rep[field], nil
	}
	if res, ok := source.(EntityResult); ok {
		if rep, ok := res.Value.(Representation); ok {
			return rep[field], nil
		}
		if m, ok := res.Value.(map[string]any); ok {
			return m[field], nil
		}
		return r.base.ResolveSync(ctx, res.TypeName, field, res.Value, args)
	}
	return r.base.ResolveSync(ctx, objectType, field, source, args)
}

func (r *runtime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	results := make([]executor.AsyncResolveResult, len(tasks))
	var delegated []executor.AsyncResolveTask
	delegatedIdx := make([]int, 0, len(tasks))

	for i, t := range tasks {
		if t.ObjectType != "Query" || (t.Field != "_service" && t.Field != "_entities") {
			delegated = append(delegated, t)
			delegatedIdx = append(delegatedIdx, i)
			continue
		}
		if t.Field == "_service" {
			results[i] = executor.AsyncResolveResult{Value: serviceSDL(r.sdl)}
			continue
		}
		results[i] = r.resolveEntities(ctx, t.Args)
	}

	if len(delegated) > 0 {
		sub := r.base.BatchResolveAsync(ctx, delegated)
		for j, idx := range delegatedIdx {
			results[idx] = sub[j]
		}
	}
	return results
}

func (r *runtime) resolveEntities(ctx context.Context, args map[string]any) executor.AsyncResolveResult {
	raw, _ := args["representations"].([]any)
	reps := make([]Representation, 0, len(raw))
	for _, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			return executor.AsyncResolveResult{Error: gatewayerr.New(gatewayerr.InvalidRequest, "_entities representation must be an object")}
		}
		reps = append(reps, Representation(m))
	}

	typeName := ""
	if len(reps) > 0 {
		typeName, _ = reps[0].TypeName()
	}
	start := time.Now()
	eventbus.Publish(ctx, events.EntityResolveStart{TypeName: typeName, Count: len(reps)})

	results, err := r.idx.ResolveEntities(ctx, r.resolver, reps)
	eventbus.Publish(ctx, events.EntityResolveFinish{TypeName: typeName, Count: len(reps), Err: err, Duration: time.Since(start)})
	if err != nil {
		return executor.AsyncResolveResult{Error: err}
	}
	values := make([]any, len(results))
	for i, res := range results {
		values[i] = res
	}
	return executor.AsyncResolveResult{Value: values}
}

func (r *runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	if res, ok := value.(EntityResult); ok {
		return res.TypeName, nil
	}
	return r.base.ResolveType(ctx, abstractType, value)
}

func (r *runtime) ResolveUnionConcreteValue(ctx context.Context, unionTypeName string, value any) (any, error) {
	if res, ok := value.(EntityResult); ok {
		return res.Value, nil
	}
	return r.base.ResolveUnionConcreteValue(ctx, unionTypeName, value)
}

func (r *runtime) ResolveInterfaceConcreteValue(ctx context.Context, interfaceTypeName string, value any) (any, error) {
	return r.base.ResolveInterfaceConcreteValue(ctx, interfaceTypeName, value)
}

func (r *runtime) SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error) {
	return r.base.SerializeLeafValue(ctx, scalarOrEnumTypeName, value)
}
