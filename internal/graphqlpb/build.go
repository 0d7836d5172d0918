package graphqlpb

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// The Build* functions are the encode-side counterpart of Service/Schema/
// Field/Entity: they construct descriptor option messages carrying a
// graphql.* extension, for hand-assembling FileDescriptorProto fixtures
// (tests, or any caller building descriptors without protoc).

func newExtensionValue(ext protoreflect.ExtensionType) *dynamicpb.Message {
	return dynamicpb.NewMessage(ext.TypeDescriptor().Message())
}

func setStr(m *dynamicpb.Message, name, v string) {
	if v == "" {
		return
	}
	m.Set(m.Descriptor().Fields().ByName(protoreflect.Name(name)), protoreflect.ValueOfString(v))
}

func setBool(m *dynamicpb.Message, name string, v bool) {
	m.Set(m.Descriptor().Fields().ByName(protoreflect.Name(name)), protoreflect.ValueOfBool(v))
}

// BuildServiceOptions constructs a ServiceOptions carrying graphql.service.
func BuildServiceOptions(o ServiceOptions) *descriptorpb.ServiceOptions {
	dm := newExtensionValue(extServiceOptions)
	setStr(dm, "host", o.Host)
	setBool(dm, "insecure", o.Insecure)
	opts := &descriptorpb.ServiceOptions{}
	proto.SetExtension(opts, extServiceOptions, dm)
	return opts
}

// BuildSchemaOptions constructs a MethodOptions carrying graphql.schema.
func BuildSchemaOptions(o SchemaOptions) *descriptorpb.MethodOptions {
	dm := newExtensionValue(extSchemaOptions)
	setStr(dm, "name", o.Name)
	switch o.Type {
	case SchemaTypeQuery:
		setStr(dm, "type", "QUERY")
	case SchemaTypeMutation:
		setStr(dm, "type", "MUTATION")
	case SchemaTypeSubscription:
		setStr(dm, "type", "SUBSCRIPTION")
	case SchemaTypeResolver:
		setStr(dm, "type", "RESOLVER")
	}
	if o.HasRequest {
		reqFd := dm.Descriptor().Fields().ByName("request")
		req := dynamicpb.NewMessage(reqFd.Message())
		setStr(req, "name", o.RequestName)
		dm.Set(reqFd, protoreflect.ValueOfMessage(req))
	}
	if o.HasResponse {
		respFd := dm.Descriptor().Fields().ByName("response")
		resp := dynamicpb.NewMessage(respFd.Message())
		setBool(resp, "required", o.ResponseReq)
		setStr(resp, "pluck", o.ResponsePluck)
		dm.Set(respFd, protoreflect.ValueOfMessage(resp))
	}
	opts := &descriptorpb.MethodOptions{}
	proto.SetExtension(opts, extSchemaOptions, dm)
	return opts
}

// BuildFieldOptions constructs a FieldOptions carrying graphql.field.
func BuildFieldOptions(o FieldOptions) *descriptorpb.FieldOptions {
	dm := newExtensionValue(extFieldOptions)
	setStr(dm, "name", o.Name)
	setBool(dm, "required", o.Required)
	setBool(dm, "omit", o.Omit)
	setBool(dm, "external", o.External)
	setStr(dm, "requires", o.Requires)
	setStr(dm, "provides", o.Provides)
	opts := &descriptorpb.FieldOptions{}
	proto.SetExtension(opts, extFieldOptions, dm)
	return opts
}

// BuildEntityOptions constructs a MessageOptions carrying graphql.entity.
func BuildEntityOptions(o EntityOptions) *descriptorpb.MessageOptions {
	dm := newExtensionValue(extEntityOptions)
	if len(o.Keys) > 0 {
		fd := dm.Descriptor().Fields().ByName("keys")
		list := dm.Mutable(fd).List()
		for _, k := range o.Keys {
			list.Append(protoreflect.ValueOfString(k))
		}
		dm.Set(fd, protoreflect.ValueOfList(list))
	}
	setBool(dm, "extend", o.Extend)
	setBool(dm, "resolvable", o.Resolvable)
	opts := &descriptorpb.MessageOptions{}
	proto.SetExtension(opts, extEntityOptions, dm)
	return opts
}
