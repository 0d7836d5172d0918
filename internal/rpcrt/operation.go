package rpcrt

import (
	"google.golang.org/protobuf/reflect/protoreflect"
)

// OperationConfig is the Operation Config of spec.md 3: everything the RPC
// Dispatcher needs to resolve one GraphQL root field, produced once by the
// Schema Synthesiser and looked up by (objectType, field) at request time.
type OperationConfig struct {
	FieldName   string
	ServiceName string // Client Pool key, the service's fully-qualified proto name
	Method      protoreflect.MethodDescriptor

	// RequestWrapperArg is the GraphQL argument name that carries every
	// request field as a single input object, or "" when arguments map
	// one-to-one onto request message fields (graphql.schema.request.name).
	RequestWrapperArg string

	// ResponsePluck names a field of the response message whose value
	// becomes the whole result, or "" to return the response object itself.
	ResponsePluck string

	// Streaming marks a SUBSCRIPTION operation (server-streaming call),
	// handled by Subscribe rather than BatchResolveAsync.
	Streaming bool
}

// Operations is the field path -> OperationConfig map: objectType ("Query",
// "Mutation", "Subscription") -> field name -> config.
type Operations struct {
	byType map[string]map[string]*OperationConfig
}

// NewOperations creates an empty Operations map.
func NewOperations() *Operations {
	return &Operations{byType: map[string]map[string]*OperationConfig{}}
}

// Add registers op under objectType/op.FieldName.
func (o *Operations) Add(objectType string, op *OperationConfig) {
	m, ok := o.byType[objectType]
	if !ok {
		m = map[string]*OperationConfig{}
		o.byType[objectType] = m
	}
	m[op.FieldName] = op
}

// Lookup finds the Operation Config for a root field, if any.
func (o *Operations) Lookup(objectType, field string) (*OperationConfig, bool) {
	m, ok := o.byType[objectType]
	if !ok {
		return nil, false
	}
	op, ok := m[field]
	return op, ok
}
