package gateway

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/protobound/gateway/internal/gatewayerr"
	"github.com/protobound/gateway/internal/graphqlpb"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

func protoString(s string) *string { return &s }
func protoInt32(n int32) *int32    { return &n }
func fieldType(t descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto_Type {
	return &t
}

// widgetDescriptorSetBytes builds a minimal single-service, single-QUERY-
// method descriptor set, serialized the way a caller would load one from
// disk via WithDescriptorSetFile/WithDescriptorSetBytes.
func widgetDescriptorSetBytes(t *testing.T) []byte {
	t.Helper()
	file := &descriptorpb.FileDescriptorProto{
		Name:    protoString("catalog.proto"),
		Package: protoString("catalog.v1"),
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: protoString("Widget"), Field: []*descriptorpb.FieldDescriptorProto{
				{Name: protoString("name"), Number: protoInt32(1), Type: fieldType(descriptorpb.FieldDescriptorProto_TYPE_STRING)},
			}},
			{Name: protoString("GetWidgetRequest"), Field: []*descriptorpb.FieldDescriptorProto{
				{Name: protoString("id"), Number: protoInt32(1), Type: fieldType(descriptorpb.FieldDescriptorProto_TYPE_STRING)},
			}},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:    protoString("Catalog"),
			Options: graphqlpb.BuildServiceOptions(graphqlpb.ServiceOptions{Host: "catalog:9000", Insecure: true}),
			Method: []*descriptorpb.MethodDescriptorProto{{
				Name:       protoString("GetWidget"),
				InputType:  protoString(".catalog.v1.GetWidgetRequest"),
				OutputType: protoString(".catalog.v1.Widget"),
				Options: graphqlpb.BuildSchemaOptions(graphqlpb.SchemaOptions{
					Name: "widget",
					Type: graphqlpb.SchemaTypeQuery,
				}),
			}},
		}},
		Syntax: protoString("proto3"),
	}
	raw, err := proto.Marshal(&descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{file}})
	require.NoError(t, err)
	return raw
}

func TestBuild_AssemblesGatewayFromDescriptorSetBytes(t *testing.T) {
	gw, err := NewBuilder().
		WithDescriptorSetBytes(widgetDescriptorSetBytes(t)).
		Build()
	require.NoError(t, err)
	require.NotNil(t, gw)
	require.Equal(t, "Query", gw.result.Schema.QueryType)

	_, ok := gw.result.Operations.Lookup("Query", "widget")
	require.True(t, ok)
}

func TestBuild_MissingDescriptorSetErrors(t *testing.T) {
	_, err := NewBuilder().Build()
	require.Error(t, err)
	require.Equal(t, gatewayerr.Schema, gatewayerr.KindOf(err))
}

func TestServeHTTP_MiddlewareErrorShortCircuitsBeforeHandler(t *testing.T) {
	gw, err := NewBuilder().
		WithDescriptorSetBytes(widgetDescriptorSetBytes(t)).
		AddMiddleware(MiddlewareFunc(func(ctx context.Context, mc *Context) error {
			return gatewayerr.New(gatewayerr.Unauthorized, "no token")
		})).
		Build()
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/graphql", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "UNAUTHORIZED")
}

func TestServeHTTP_NoMiddlewareDelegatesToGraphQLHandler(t *testing.T) {
	gw, err := NewBuilder().
		WithDescriptorSetBytes(widgetDescriptorSetBytes(t)).
		Build()
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/graphql?query={__typename}", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "__typename")
}
