// Package synth implements the Schema Synthesiser (4.D): it walks a
// descriptor pool's services and methods, turning graphql.* annotations
// into a schema.Schema plus the rpcrt.Operations map the RPC Dispatcher
// resolves root fields through. This is the "installs, doesn't resolve"
// half of the split the teacher's schema.BuildFromIR/grpcrt.Runtime pair
// embodies: Build runs once at process start, rpcrt.Runtime runs per request.
package synth

import (
	"crypto/tls"
	"sort"

	"github.com/protobound/gateway/internal/descriptorset"
	"github.com/protobound/gateway/internal/federation"
	"github.com/protobound/gateway/internal/gatewayerr"
	"github.com/protobound/gateway/internal/graphqlpb"
	"github.com/protobound/gateway/internal/grpctp"
	"github.com/protobound/gateway/internal/rpcrt"
	"github.com/protobound/gateway/internal/schema"
	"github.com/protobound/gateway/internal/typeregistry"

	"google.golang.org/grpc/credentials"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Options configures one synthesis pass.
type Options struct {
	// Services is an optional allowlist of fully-qualified service names
	// (e.g. "catalog.v1.CatalogService"). Empty means every service in the
	// pool is walked.
	Services []string

	// EnableFederation turns on federation hookup when the pool carries at
	// least one graphql.entity annotation. A caller can force it off even
	// when entities are present by leaving this false.
	EnableFederation bool
}

// Result is everything a synthesis pass produces.
type Result struct {
	Schema     *schema.Schema
	Types      *typeregistry.Registry
	Operations *rpcrt.Operations

	// SDL is the subgraph's own schema definition, rendered before any
	// federation scaffolding (_service/_entities/_Any/_Entity) is bolted on,
	// per Apollo Federation's _service.sdl contract.
	SDL string
}

// Build walks pool's services (filtered by opts.Services) and methods
// (filtered to those carrying graphql.schema), producing a schema and the
// Operation Config map the RPC Dispatcher resolves root fields through.
// clientPool is mutated in place: a lazy channel is pre-created for any
// graphql.service.host lacking an entry already (spec.md 4.D step 1).
func Build(pool *descriptorset.Pool, clientPool *grpctp.Pool, fedIndex *federation.Index, opts Options) (*Result, error) {
	types := typeregistry.New()
	ops := rpcrt.NewOperations()

	allow := allowlist(opts.Services)

	var queryFields, mutationFields, subscriptionFields []*schema.Field

	for _, svc := range pool.Services() {
		serviceName := string(svc.FullName())
		if allow != nil && !allow[serviceName] {
			continue
		}

		if so, ok := descriptorset.ServiceOptions(svc); ok && so.Host != "" {
			if err := ensureClient(clientPool, serviceName, so); err != nil {
				return nil, err
			}
		}

		methods := svc.Methods()
		for i := 0; i < methods.Len(); i++ {
			m := methods.Get(i)
			sch, ok := descriptorset.MethodSchema(m)
			if !ok || sch.Type == graphqlpb.SchemaTypeUnspecified {
				continue
			}

			field, op, err := buildOperation(types, serviceName, m, sch)
			if err != nil {
				return nil, err
			}

			switch sch.Type {
			case graphqlpb.SchemaTypeQuery, graphqlpb.SchemaTypeResolver:
				ops.Add("Query", op)
				queryFields = append(queryFields, field)
			case graphqlpb.SchemaTypeMutation:
				ops.Add("Mutation", op)
				mutationFields = append(mutationFields, field)
			case graphqlpb.SchemaTypeSubscription:
				ops.Add("Subscription", op)
				subscriptionFields = append(subscriptionFields, field)
			}
		}
	}

	if len(queryFields) == 0 {
		queryFields = append(queryFields, &schema.Field{
			Name: "__placeholder",
			Type: schema.NonNullType(schema.NamedType("Boolean")),
		})
	}

	types.Schema.QueryType = "Query"
	types.Schema.Types["Query"] = &schema.Type{Name: "Query", Kind: schema.TypeKindObject, Fields: queryFields}

	if len(mutationFields) > 0 {
		types.Schema.MutationType = "Mutation"
		types.Schema.Types["Mutation"] = &schema.Type{Name: "Mutation", Kind: schema.TypeKindObject, Fields: mutationFields}
	}
	if len(subscriptionFields) > 0 {
		types.Schema.SubscriptionType = "Subscription"
		types.Schema.Types["Subscription"] = &schema.Type{Name: "Subscription", Kind: schema.TypeKindObject, Fields: subscriptionFields}
	}

	sdl := schema.Render(types.Schema)

	if opts.EnableFederation && fedIndex != nil && fedIndex.Enabled() {
		installFederation(types.Schema, fedIndex)
	}

	return &Result{Schema: types.Schema, Types: types, Operations: ops, SDL: sdl}, nil
}

func allowlist(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// ensureClient pre-creates a lazy Client Pool entry for a service's
// graphql.service.host, unless one is already registered under that
// service's fully-qualified name.
func ensureClient(clientPool *grpctp.Pool, serviceName string, so graphqlpb.ServiceOptions) error {
	if _, ok := clientPool.Get(serviceName); ok {
		return nil
	}
	opts := []grpctp.ClientOption{grpctp.Lazy()}
	if !so.Insecure {
		opts = append(opts, grpctp.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	}
	if err := clientPool.Add(serviceName, so.Host, opts...); err != nil {
		return gatewayerr.Wrap(gatewayerr.Schema, "pre-create client for "+serviceName, err)
	}
	return nil
}

// buildOperation builds both the schema.Field installed on the relevant
// root object type and the rpcrt.OperationConfig the RPC Dispatcher
// resolves it through, per spec.md 4.D/4.E.
func buildOperation(types *typeregistry.Registry, serviceName string, m protoreflect.MethodDescriptor, sch graphqlpb.SchemaOptions) (*schema.Field, *rpcrt.OperationConfig, error) {
	fieldName := sch.Name
	if fieldName == "" {
		fieldName = string(m.Name())
	}

	args, wrapperArg := buildArguments(types, m, sch)
	retType, err := buildReturnType(types, m, sch)
	if err != nil {
		return nil, nil, err
	}

	field := &schema.Field{
		Name:      fieldName,
		Type:      retType,
		Arguments: args,
		Async:     true,
	}

	op := &rpcrt.OperationConfig{
		FieldName:         fieldName,
		ServiceName:       serviceName,
		Method:            m,
		RequestWrapperArg: wrapperArg,
		ResponsePluck:     sch.ResponsePluck,
		Streaming:         sch.Type == graphqlpb.SchemaTypeSubscription,
	}
	return field, op, nil
}

// buildArguments implements spec.md 4.D's argument-generation rule: either
// one wrapper argument for the whole request, or one argument per
// non-omitted request field.
func buildArguments(types *typeregistry.Registry, m protoreflect.MethodDescriptor, sch graphqlpb.SchemaOptions) ([]*schema.InputValue, string) {
	if sch.HasRequest && sch.RequestName != "" {
		argType := types.EnsureInputObject(m.Input())
		return []*schema.InputValue{{Name: sch.RequestName, Type: argType}}, sch.RequestName
	}

	fields := m.Input().Fields()
	args := make([]*schema.InputValue, 0, fields.Len())
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		fo, _ := descriptorset.FieldOptions(fd)
		if fo.Omit {
			continue
		}
		args = append(args, types.InputValueFor(fd))
	}
	return args, ""
}

// buildReturnType implements spec.md 4.D's return-type-generation rule:
// response.pluck narrows the return to one response field's type, else the
// return is the whole response message's object type. response.required
// wraps either form in NonNull.
func buildReturnType(types *typeregistry.Registry, m protoreflect.MethodDescriptor, sch graphqlpb.SchemaOptions) (*schema.TypeRef, error) {
	var t *schema.TypeRef
	if sch.ResponsePluck != "" {
		// Resolved by raw proto field name, matching internal/rpcrt/marshal.go's
		// decodeResponse: response.pluck names a field of the response
		// message, not its GraphQL-facing name.
		fd := m.Output().Fields().ByName(protoreflect.Name(sch.ResponsePluck))
		if fd == nil {
			return nil, gatewayerr.Newf(gatewayerr.Schema, "response.pluck %q names no field of %s", sch.ResponsePluck, m.Output().FullName())
		}
		t = types.OutputTypeFor(fd)
	} else {
		t = types.EnsureObject(m.Output())
	}
	if sch.ResponseReq {
		t = schema.NonNullType(t)
	}
	return t, nil
}

// installFederation marks s as a federation subgraph: @key directives on
// entity types are already attached by typeregistry.EnsureObject reading
// graphql.entity, so this only needs to add the federation scalar/object
// scaffolding (_Service, _Any, the _entities field) onto the Query root.
// Entity key directive rendering itself lives in internal/schema/render.go.
func installFederation(s *schema.Schema, fedIndex *federation.Index) {
	s.Types["_Any"] = &schema.Type{Name: "_Any", Kind: schema.TypeKindScalar, Description: "Apollo Federation representation scalar."}
	s.Types["_Service"] = &schema.Type{
		Name: "_Service",
		Kind: schema.TypeKindObject,
		Fields: []*schema.Field{
			{Name: "sdl", Type: schema.NonNullType(schema.NamedType("String"))},
		},
	}

	entityTypeNames := make([]string, 0, len(fedIndex.Entities))
	for name := range fedIndex.Entities {
		entityTypeNames = append(entityTypeNames, name)
	}
	sort.Strings(entityTypeNames)
	if len(entityTypeNames) > 0 {
		s.Types["_Entity"] = &schema.Type{Name: "_Entity", Kind: schema.TypeKindUnion, PossibleTypes: entityTypeNames}
	}

	query := s.Types[s.QueryType]
	query.Fields = append(query.Fields,
		&schema.Field{Name: "_service", Type: schema.NonNullType(schema.NamedType("_Service"))},
		&schema.Field{
			Name: "_entities",
			Type: schema.NonNullType(schema.ListType(schema.NamedType("_Entity"))),
			Arguments: []*schema.InputValue{
				{Name: "representations", Type: schema.NonNullType(schema.ListType(schema.NonNullType(schema.NamedType("_Any"))))},
			},
			Async: true,
		},
	)
}
