// Package graphqlpb declares the custom protobuf option extensions that
// drive schema synthesis and decodes them generically from any
// FileDescriptorSet without requiring protoc-gen-go generated code for the
// annotated proto files. There are four extensions (graphql.service,
// graphql.schema, graphql.field, graphql.entity); the request and response
// annotations are the "request"/"response" sub-messages of graphql.schema,
// not extensions of their own.
//
// The extension descriptors are built once from a literal FileDescriptorProto
// (equivalent to compiling a graphql.proto) and registered as dynamic
// extension types. Decoding an annotation is then a matter of
// proto.GetExtension against the already-parsed MessageOptions/FieldOptions/
// ServiceOptions/MethodOptions of the user's descriptor set.
package graphqlpb

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Field numbers for the extension slots, arbitrary but fixed within the
// custom option range (50000-99999 is reserved for individual org use).
const (
	fieldServiceOptions = 50101
	fieldSchemaOptions  = 50102
	fieldFieldOptions   = 50103
	fieldEntityOptions  = 50104
)

var (
	extServiceOptions protoreflect.ExtensionType
	extSchemaOptions  protoreflect.ExtensionType
	extFieldOptions   protoreflect.ExtensionType
	extEntityOptions  protoreflect.ExtensionType

	// File is the descriptor for the synthetic graphql.proto.
	File protoreflect.FileDescriptor
)

func init() {
	fdProto := buildFileDescriptorProto()
	file, err := protodesc.NewFile(fdProto, protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Errorf("graphqlpb: build descriptor: %w", err))
	}
	File = file
	exts := file.Extensions()
	for i := 0; i < exts.Len(); i++ {
		ext := exts.Get(i)
		t := dynamicpb.NewExtensionType(ext)
		switch int32(ext.Number()) {
		case fieldServiceOptions:
			extServiceOptions = t
		case fieldSchemaOptions:
			extSchemaOptions = t
		case fieldFieldOptions:
			extFieldOptions = t
		case fieldEntityOptions:
			extEntityOptions = t
		}
	}
}

// ---- typed views over the decoded options ----

// SchemaType mirrors graphql.schema.type.
type SchemaType int

const (
	SchemaTypeUnspecified SchemaType = iota
	SchemaTypeQuery
	SchemaTypeMutation
	SchemaTypeSubscription
	SchemaTypeResolver
)

// ServiceOptions mirrors graphql.service.
type ServiceOptions struct {
	Host     string
	Insecure bool
}

// SchemaOptions mirrors graphql.schema.
type SchemaOptions struct {
	Name           string
	Type           SchemaType
	RequestName    string // request.name, empty if unset
	ResponseReq    bool   // response.required
	ResponsePluck  string // response.pluck
	HasRequest     bool
	HasResponse    bool
}

// FieldOptions mirrors graphql.field.
type FieldOptions struct {
	Name     string
	Required bool
	Omit     bool
	External bool
	Requires string
	Provides string
}

// EntityOptions mirrors graphql.entity.
type EntityOptions struct {
	Keys       []string
	Extend     bool
	Resolvable bool
}

// decode performs the generic "fetch raw extension slot, re-read as typed
// message" decode described by the schema design: it looks up the extension
// value on opts (any options message from a parsed descriptor) and returns
// the dynamic message, or nil if the annotation is absent.
func decode(opts proto.Message, ext protoreflect.ExtensionType) *dynamicpb.Message {
	if opts == nil {
		return nil
	}
	if !proto.HasExtension(opts, ext) {
		return nil
	}
	v := proto.GetExtension(opts, ext)
	dm, ok := v.(*dynamicpb.Message)
	if !ok {
		return nil
	}
	return dm
}

func strField(dm *dynamicpb.Message, name string) string {
	if dm == nil {
		return ""
	}
	fd := dm.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil || !dm.Has(fd) {
		return ""
	}
	return dm.Get(fd).String()
}

func boolField(dm *dynamicpb.Message, name string) bool {
	if dm == nil {
		return false
	}
	fd := dm.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil || !dm.Has(fd) {
		return false
	}
	return dm.Get(fd).Bool()
}

func msgField(dm *dynamicpb.Message, name string) *dynamicpb.Message {
	if dm == nil {
		return nil
	}
	fd := dm.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil || !dm.Has(fd) {
		return nil
	}
	sub, ok := dm.Get(fd).Message().Interface().(*dynamicpb.Message)
	if !ok {
		return nil
	}
	return sub
}

// Service decodes graphql.service from a service's options, if present.
func Service(opts proto.Message) (ServiceOptions, bool) {
	dm := decode(opts, extServiceOptions)
	if dm == nil {
		return ServiceOptions{}, false
	}
	return ServiceOptions{
		Host:     strField(dm, "host"),
		Insecure: boolField(dm, "insecure"),
	}, true
}

// Schema decodes graphql.schema from a method's options, if present.
func Schema(opts proto.Message) (SchemaOptions, bool) {
	dm := decode(opts, extSchemaOptions)
	if dm == nil {
		return SchemaOptions{}, false
	}
	so := SchemaOptions{
		Name: strField(dm, "name"),
	}
	switch strField(dm, "type") {
	case "QUERY":
		so.Type = SchemaTypeQuery
	case "MUTATION":
		so.Type = SchemaTypeMutation
	case "SUBSCRIPTION":
		so.Type = SchemaTypeSubscription
	case "RESOLVER":
		so.Type = SchemaTypeResolver
	default:
		so.Type = SchemaTypeUnspecified
	}
	if req := msgField(dm, "request"); req != nil {
		so.HasRequest = true
		so.RequestName = strField(req, "name")
	}
	if resp := msgField(dm, "response"); resp != nil {
		so.HasResponse = true
		so.ResponseReq = boolField(resp, "required")
		so.ResponsePluck = strField(resp, "pluck")
	}
	return so, true
}

// Field decodes graphql.field from a message field's options, if present.
func Field(opts proto.Message) (FieldOptions, bool) {
	dm := decode(opts, extFieldOptions)
	if dm == nil {
		return FieldOptions{}, false
	}
	return FieldOptions{
		Name:     strField(dm, "name"),
		Required: boolField(dm, "required"),
		Omit:     boolField(dm, "omit"),
		External: boolField(dm, "external"),
		Requires: strField(dm, "requires"),
		Provides: strField(dm, "provides"),
	}, true
}

// Entity decodes graphql.entity from a message's options, if present.
func Entity(opts proto.Message) (EntityOptions, bool) {
	dm := decode(opts, extEntityOptions)
	if dm == nil {
		return EntityOptions{}, false
	}
	eo := EntityOptions{
		Extend:     boolField(dm, "extend"),
		Resolvable: boolField(dm, "resolvable"),
	}
	fd := dm.Descriptor().Fields().ByName("keys")
	if fd != nil && dm.Has(fd) {
		list := dm.Get(fd).List()
		for i := 0; i < list.Len(); i++ {
			eo.Keys = append(eo.Keys, list.Get(i).String())
		}
	}
	// resolvable defaults to true when entity annotation is present and the
	// field was not explicitly set, matching the spec's "entity unless
	// marked otherwise" reading.
	if !dm.Has(dm.Descriptor().Fields().ByName("resolvable")) {
		eo.Resolvable = true
	}
	return eo, true
}

func buildFileDescriptorProto() *descriptorpb.FileDescriptorProto {
	str := func(s string) *string { return &s }
	i32 := func(i int32) *int32 { return &i }
	lbl := func(l descriptorpb.FieldDescriptorProto_Label) *descriptorpb.FieldDescriptorProto_Label { return &l }
	typ := func(t descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto_Type { return &t }

	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	repeated := descriptorpb.FieldDescriptorProto_LABEL_REPEATED
	tString := descriptorpb.FieldDescriptorProto_TYPE_STRING
	tBool := descriptorpb.FieldDescriptorProto_TYPE_BOOL
	tMessage := descriptorpb.FieldDescriptorProto_TYPE_MESSAGE

	return &descriptorpb.FileDescriptorProto{
		Name:    str("graphql/annotations.proto"),
		Package: str("graphql"),
		Syntax:  str("proto2"),
		Dependency: []string{
			"google/protobuf/descriptor.proto",
		},
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: str("ServiceOptions"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: str("host"), Number: i32(1), Label: lbl(optional), Type: typ(tString)},
					{Name: str("insecure"), Number: i32(2), Label: lbl(optional), Type: typ(tBool)},
				},
			},
			{
				Name: str("RequestOptions"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: str("name"), Number: i32(1), Label: lbl(optional), Type: typ(tString)},
				},
			},
			{
				Name: str("ResponseOptions"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: str("required"), Number: i32(1), Label: lbl(optional), Type: typ(tBool)},
					{Name: str("pluck"), Number: i32(2), Label: lbl(optional), Type: typ(tString)},
				},
			},
			{
				Name: str("SchemaOptions"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: str("name"), Number: i32(1), Label: lbl(optional), Type: typ(tString)},
					{Name: str("type"), Number: i32(2), Label: lbl(optional), Type: typ(tString)},
					{Name: str("request"), Number: i32(3), Label: lbl(optional), Type: typ(tMessage), TypeName: str(".graphql.RequestOptions")},
					{Name: str("response"), Number: i32(4), Label: lbl(optional), Type: typ(tMessage), TypeName: str(".graphql.ResponseOptions")},
				},
			},
			{
				Name: str("FieldOptions"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: str("name"), Number: i32(1), Label: lbl(optional), Type: typ(tString)},
					{Name: str("required"), Number: i32(2), Label: lbl(optional), Type: typ(tBool)},
					{Name: str("omit"), Number: i32(3), Label: lbl(optional), Type: typ(tBool)},
					{Name: str("external"), Number: i32(4), Label: lbl(optional), Type: typ(tBool)},
					{Name: str("requires"), Number: i32(5), Label: lbl(optional), Type: typ(tString)},
					{Name: str("provides"), Number: i32(6), Label: lbl(optional), Type: typ(tString)},
				},
			},
			{
				Name: str("EntityOptions"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: str("keys"), Number: i32(1), Label: lbl(repeated), Type: typ(tString)},
					{Name: str("extend"), Number: i32(2), Label: lbl(optional), Type: typ(tBool)},
					{Name: str("resolvable"), Number: i32(3), Label: lbl(optional), Type: typ(tBool)},
				},
			},
		},
		Extension: []*descriptorpb.FieldDescriptorProto{
			{
				Name: str("service"), Number: i32(fieldServiceOptions), Label: lbl(optional), Type: typ(tMessage),
				TypeName: str(".graphql.ServiceOptions"), Extendee: str(".google.protobuf.ServiceOptions"),
			},
			{
				Name: str("schema"), Number: i32(fieldSchemaOptions), Label: lbl(optional), Type: typ(tMessage),
				TypeName: str(".graphql.SchemaOptions"), Extendee: str(".google.protobuf.MethodOptions"),
			},
			{
				Name: str("field"), Number: i32(fieldFieldOptions), Label: lbl(optional), Type: typ(tMessage),
				TypeName: str(".graphql.FieldOptions"), Extendee: str(".google.protobuf.FieldOptions"),
			},
			{
				Name: str("entity"), Number: i32(fieldEntityOptions), Label: lbl(optional), Type: typ(tMessage),
				TypeName: str(".graphql.EntityOptions"), Extendee: str(".google.protobuf.MessageOptions"),
			},
		},
	}
}
