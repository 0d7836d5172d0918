package rpcrt

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

func TestSetMessageFields_ScalarsEnumNestedAndList(t *testing.T) {
	file := &descriptorpb.FileDescriptorProto{
		Name:    protoString("marshal2.proto"),
		Package: protoString("m2"),
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name: protoString("Color"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				{Name: protoString("RED"), Number: protoInt32(0)},
				{Name: protoString("BLUE"), Number: protoInt32(1)},
			},
		}},
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: protoString("Nested"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: protoString("label"), Number: protoInt32(1), Type: fieldType(descriptorpb.FieldDescriptorProto_TYPE_STRING)},
				},
			},
			{
				Name: protoString("Req"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: protoString("name"), Number: protoInt32(1), Type: fieldType(descriptorpb.FieldDescriptorProto_TYPE_STRING)},
					{Name: protoString("big"), Number: protoInt32(2), Type: fieldType(descriptorpb.FieldDescriptorProto_TYPE_INT64)},
					{Name: protoString("blob"), Number: protoInt32(3), Type: fieldType(descriptorpb.FieldDescriptorProto_TYPE_BYTES)},
					{Name: protoString("color"), Number: protoInt32(4), Type: fieldType(descriptorpb.FieldDescriptorProto_TYPE_ENUM), TypeName: protoString(".m2.Color")},
					{Name: protoString("nested"), Number: protoInt32(5), Type: fieldType(descriptorpb.FieldDescriptorProto_TYPE_MESSAGE), TypeName: protoString(".m2.Nested")},
					{Name: protoString("tags"), Number: protoInt32(6), Type: fieldType(descriptorpb.FieldDescriptorProto_TYPE_STRING), Label: descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()},
				},
			},
		},
		Syntax: protoString("proto3"),
	}
	fd := linkFile(t, file)
	reqDesc := fd.Messages().ByName("Req")
	req := dynamicpb.NewMessage(reqDesc)

	blob := []byte{0x01, 0x02, 0x03}
	data := map[string]any{
		"name":   "alice",
		"big":    "9223372036854775807",
		"blob":   base64.StdEncoding.EncodeToString(blob),
		"color":  "BLUE",
		"nested": map[string]any{"label": "x"},
		"tags":   []any{"a", "b"},
	}
	err := setMessageFields(context.Background(), req, data)
	require.NoError(t, err)

	require.Equal(t, "alice", req.Get(reqDesc.Fields().ByName("name")).String())
	require.Equal(t, int64(9223372036854775807), req.Get(reqDesc.Fields().ByName("big")).Int())
	require.Equal(t, blob, req.Get(reqDesc.Fields().ByName("blob")).Bytes())
	require.Equal(t, int32(1), int32(req.Get(reqDesc.Fields().ByName("color")).Enum()))

	nestedDesc := reqDesc.Fields().ByName("nested").Message()
	require.Equal(t, "x", req.Get(reqDesc.Fields().ByName("nested")).Message().Get(nestedDesc.Fields().ByName("label")).String())
	require.Equal(t, 2, req.Get(reqDesc.Fields().ByName("tags")).List().Len())
}

func TestSetMessageFields_UnknownArgumentRejected(t *testing.T) {
	file := &descriptorpb.FileDescriptorProto{
		Name:    protoString("marshal3.proto"),
		Package: protoString("m3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: protoString("Req"), Field: []*descriptorpb.FieldDescriptorProto{
				{Name: protoString("name"), Number: protoInt32(1), Type: fieldType(descriptorpb.FieldDescriptorProto_TYPE_STRING)},
			}},
		},
		Syntax: protoString("proto3"),
	}
	fd := linkFile(t, file)
	req := dynamicpb.NewMessage(fd.Messages().ByName("Req"))
	err := setMessageFields(context.Background(), req, map[string]any{"bogus": "x"})
	require.Error(t, err)
}

func TestToBytes_UploadSentinelResolvesFromContext(t *testing.T) {
	ctx := WithUploads(context.Background(), []Upload{{Filename: "a.txt", Content: []byte("hello")}})
	b, err := toBytes(ctx, "#__graphql_file__:0")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), b)
}

func TestToBytes_UploadSentinelOutOfRange(t *testing.T) {
	ctx := WithUploads(context.Background(), nil)
	_, err := toBytes(ctx, "#__graphql_file__:0")
	require.Error(t, err)
}

func TestToBytes_Base64(t *testing.T) {
	b, err := toBytes(context.Background(), base64.StdEncoding.EncodeToString([]byte("xyz")))
	require.NoError(t, err)
	require.Equal(t, []byte("xyz"), b)
}

func TestDecodeResponse_PluckScalarField(t *testing.T) {
	file := &descriptorpb.FileDescriptorProto{
		Name:    protoString("marshal4.proto"),
		Package: protoString("m4"),
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: protoString("Resp"), Field: []*descriptorpb.FieldDescriptorProto{
				{Name: protoString("data"), Number: protoInt32(1), Type: fieldType(descriptorpb.FieldDescriptorProto_TYPE_STRING)},
			}},
		},
		Syntax: protoString("proto3"),
	}
	fd := linkFile(t, file)
	respDesc := fd.Messages().ByName("Resp")
	resp := dynamicpb.NewMessage(respDesc)
	resp.Set(respDesc.Fields().ByName("data"), protoreflect.ValueOfString("hi"))

	op := &OperationConfig{ResponsePluck: "data"}
	out, err := decodeResponse(op, resp)
	require.NoError(t, err)
	require.Equal(t, "hi", out)
}

func TestDecodeResponse_NoPluckReturnsMessage(t *testing.T) {
	file := &descriptorpb.FileDescriptorProto{
		Name:    protoString("marshal5.proto"),
		Package: protoString("m5"),
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: protoString("Resp"), Field: []*descriptorpb.FieldDescriptorProto{
				{Name: protoString("data"), Number: protoInt32(1), Type: fieldType(descriptorpb.FieldDescriptorProto_TYPE_STRING)},
			}},
		},
		Syntax: protoString("proto3"),
	}
	fd := linkFile(t, file)
	resp := dynamicpb.NewMessage(fd.Messages().ByName("Resp"))

	op := &OperationConfig{}
	out, err := decodeResponse(op, resp)
	require.NoError(t, err)
	require.Equal(t, resp, out)
}
