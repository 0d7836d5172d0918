package rpcrt

import (
	"context"
	"testing"

	"github.com/protobound/gateway/internal/executor"
	"github.com/protobound/gateway/internal/typeregistry"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

func TestResolveSync_ReturnsValueFromSourceField(t *testing.T) {
	file := &descriptorpb.FileDescriptorProto{
		Name:    protoString("user.proto"),
		Package: protoString("u"),
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: protoString("User"),
			Field: []*descriptorpb.FieldDescriptorProto{
				{Name: protoString("name"), Number: protoInt32(1), Type: fieldType(descriptorpb.FieldDescriptorProto_TYPE_STRING)},
			},
		}},
		Syntax: protoString("proto3"),
	}
	fd := linkFile(t, file)
	userDesc := fd.Messages().ByName("User")

	types := typeregistry.New()
	types.EnsureObject(userDesc)

	rt := New(types, NewOperations(), nil)

	msg := dynamicpb.NewMessage(userDesc)
	msg.Set(userDesc.Fields().ByName("name"), protoreflect.ValueOfString("ada"))

	got, err := rt.ResolveSync(context.Background(), "u_User", "name", msg, nil)
	require.NoError(t, err)
	require.Equal(t, "ada", got)
}

func TestResolveSync_MissingFieldReturnsNil(t *testing.T) {
	file := &descriptorpb.FileDescriptorProto{
		Name:    protoString("user2.proto"),
		Package: protoString("u2"),
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: protoString("User"),
			Field: []*descriptorpb.FieldDescriptorProto{
				{Name: protoString("name"), Number: protoInt32(1), Type: fieldType(descriptorpb.FieldDescriptorProto_TYPE_STRING)},
			},
		}},
		Syntax: protoString("proto3"),
	}
	fd := linkFile(t, file)
	userDesc := fd.Messages().ByName("User")

	types := typeregistry.New()
	types.EnsureObject(userDesc)
	rt := New(types, NewOperations(), nil)

	msg := dynamicpb.NewMessage(userDesc)
	got, err := rt.ResolveSync(context.Background(), "u2_User", "name", msg, nil)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestResolveSync_SourceNotMessage_Panics(t *testing.T) {
	file := &descriptorpb.FileDescriptorProto{
		Name:    protoString("user3.proto"),
		Package: protoString("u3"),
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: protoString("User"),
			Field: []*descriptorpb.FieldDescriptorProto{
				{Name: protoString("name"), Number: protoInt32(1), Type: fieldType(descriptorpb.FieldDescriptorProto_TYPE_STRING)},
			},
		}},
		Syntax: protoString("proto3"),
	}
	fd := linkFile(t, file)
	types := typeregistry.New()
	types.EnsureObject(fd.Messages().ByName("User"))
	rt := New(types, NewOperations(), nil)

	require.Panics(t, func() {
		_, _ = rt.ResolveSync(context.Background(), "u3_User", "name", 123, nil)
	})
}

func TestResolveType_ReturnsRegisteredObjectTypeName(t *testing.T) {
	file := &descriptorpb.FileDescriptorProto{
		Name:    protoString("user4.proto"),
		Package: protoString("u4"),
		MessageType: []*descriptorpb.DescriptorProto{{Name: protoString("User")}},
		Syntax:      protoString("proto3"),
	}
	fd := linkFile(t, file)
	userDesc := fd.Messages().ByName("User")
	types := typeregistry.New()
	types.EnsureObject(userDesc)
	rt := New(types, NewOperations(), nil)

	msg := dynamicpb.NewMessage(userDesc)
	typ, err := rt.ResolveType(context.Background(), "Any", msg)
	require.NoError(t, err)
	require.Equal(t, "u4_User", typ)
}

func TestResolveType_UnregisteredMessage_Error(t *testing.T) {
	file := &descriptorpb.FileDescriptorProto{
		Name:        protoString("user5.proto"),
		Package:     protoString("u5"),
		MessageType: []*descriptorpb.DescriptorProto{{Name: protoString("Unknown")}},
		Syntax:      protoString("proto3"),
	}
	fd := linkFile(t, file)
	msg := dynamicpb.NewMessage(fd.Messages().ByName("Unknown"))

	rt := New(typeregistry.New(), NewOperations(), nil)
	_, err := rt.ResolveType(context.Background(), "Any", msg)
	require.Error(t, err)
}

func TestResolveType_ValueNotMessage_Error(t *testing.T) {
	rt := New(typeregistry.New(), NewOperations(), nil)
	_, err := rt.ResolveType(context.Background(), "Any", 123)
	require.Error(t, err)
}

func TestSerializeLeafValue_StringBytesBase64(t *testing.T) {
	rt := New(typeregistry.New(), NewOperations(), nil)
	out, err := rt.SerializeLeafValue(context.Background(), "String", []byte{0x01, 0x02, 0xFF})
	require.NoError(t, err)
	require.Equal(t, "AQL/", out)
}

func TestSerializeLeafValue_Int64AsDecimalString(t *testing.T) {
	rt := New(typeregistry.New(), NewOperations(), nil)
	out, err := rt.SerializeLeafValue(context.Background(), "String", int64(9223372036854775807))
	require.NoError(t, err)
	require.Equal(t, "9223372036854775807", out)
}

func TestSerializeLeafValue_Nil(t *testing.T) {
	rt := New(typeregistry.New(), NewOperations(), nil)
	out, err := rt.SerializeLeafValue(context.Background(), "String", nil)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestSerializeLeafValue_Uint32PromotedToInt64(t *testing.T) {
	rt := New(typeregistry.New(), NewOperations(), nil)
	out, err := rt.SerializeLeafValue(context.Background(), "Int", uint32(42))
	require.NoError(t, err)
	require.Equal(t, int64(42), out)
}

func TestBatchResolveAsync_UnknownOperation_ErrorsPerTask(t *testing.T) {
	rt := New(typeregistry.New(), NewOperations(), nil)
	tasks := []executor.AsyncResolveTask{
		{ObjectType: "Query", Field: "missing", Args: nil},
	}
	results := rt.BatchResolveAsync(context.Background(), tasks)
	require.Len(t, results, 1)
	require.Error(t, results[0].Error)
}

func TestBatchResolveAsync_StreamingOperationRejected(t *testing.T) {
	ops := NewOperations()
	ops.Add("Subscription", &OperationConfig{FieldName: "events", Streaming: true})
	rt := New(typeregistry.New(), ops, nil)

	results := rt.BatchResolveAsync(context.Background(), []executor.AsyncResolveTask{
		{ObjectType: "Subscription", Field: "events"},
	})
	require.Len(t, results, 1)
	require.Error(t, results[0].Error)
}

func TestBatchResolveAsync_EmptyTasks(t *testing.T) {
	rt := New(typeregistry.New(), NewOperations(), nil)
	results := rt.BatchResolveAsync(context.Background(), nil)
	require.Empty(t, results)
}
