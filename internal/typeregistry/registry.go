// Package typeregistry implements the Type Registry (4.B): a memoised
// factory turning protobuf message/enum descriptors into GraphQL
// input/output/enum types, backed by the direction-agnostic schema.Schema
// data model.
package typeregistry

import (
	"strings"

	"github.com/protobound/gateway/internal/descriptorset"
	"github.com/protobound/gateway/internal/schema"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Registry is the Type Registry. Mutable only during schema construction;
// callers must stop mutating it (and may safely share it across goroutines
// for reads) once the schema has been built.
type Registry struct {
	Schema *schema.Schema

	// objectFields/inputFields map a synthesized GraphQL type name to the
	// proto field descriptor backing each of its GraphQL field names, so
	// the RPC Dispatcher can resolve/marshal without re-deriving names.
	objectFields map[string]map[string]protoreflect.FieldDescriptor
	inputFields  map[string]map[string]protoreflect.FieldDescriptor

	objectMessage map[string]protoreflect.MessageDescriptor
	inputMessage  map[string]protoreflect.MessageDescriptor
	enumDesc      map[string]protoreflect.EnumDescriptor

	// pending tracks messages currently being walked, so a message visited
	// twice while still under construction (recursive types) returns the
	// placeholder instead of recursing forever.
	pendingObject map[protoreflect.FullName]bool
	pendingInput  map[protoreflect.FullName]bool
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		Schema: &schema.Schema{
			Types:      map[string]*schema.Type{},
			Directives: map[string]*schema.Directive{},
		},
		objectFields:  map[string]map[string]protoreflect.FieldDescriptor{},
		inputFields:   map[string]map[string]protoreflect.FieldDescriptor{},
		objectMessage: map[string]protoreflect.MessageDescriptor{},
		inputMessage:  map[string]protoreflect.MessageDescriptor{},
		enumDesc:      map[string]protoreflect.EnumDescriptor{},
		pendingObject: map[protoreflect.FullName]bool{},
		pendingInput:  map[protoreflect.FullName]bool{},
	}
}

// TypeName renders a protobuf full name as pkg_Message (dots replaced by
// underscores, per spec.md 4.A's Type Registry map keys).
func TypeName(name protoreflect.FullName) string {
	return strings.ReplaceAll(string(name), ".", "_")
}

// ObjectMessage returns the message descriptor that backs a synthesized
// output object type name, for use by the RPC Dispatcher.
func (r *Registry) ObjectMessage(typeName string) (protoreflect.MessageDescriptor, bool) {
	m, ok := r.objectMessage[typeName]
	return m, ok
}

// InputMessage returns the message descriptor that backs a synthesized
// input object type name.
func (r *Registry) InputMessage(typeName string) (protoreflect.MessageDescriptor, bool) {
	m, ok := r.inputMessage[typeName]
	return m, ok
}

// FieldDescriptorFor returns the proto field backing a GraphQL field name on
// a synthesized output object type.
func (r *Registry) FieldDescriptorFor(typeName, fieldName string) (protoreflect.FieldDescriptor, bool) {
	m, ok := r.objectFields[typeName]
	if !ok {
		return nil, false
	}
	fd, ok := m[fieldName]
	return fd, ok
}

// InputFieldDescriptorFor returns the proto field backing a GraphQL input
// field name on a synthesized input object type.
func (r *Registry) InputFieldDescriptorFor(typeName, fieldName string) (protoreflect.FieldDescriptor, bool) {
	m, ok := r.inputFields[typeName]
	if !ok {
		return nil, false
	}
	fd, ok := m[fieldName]
	return fd, ok
}

// EnsureObject returns a TypeRef naming the output object type for msg,
// building it (and any nested types) on first visit.
func (r *Registry) EnsureObject(msg protoreflect.MessageDescriptor) *schema.TypeRef {
	name := TypeName(msg.FullName())
	if _, ok := r.Schema.Types[name]; ok {
		return schema.NamedType(name)
	}
	if r.pendingObject[msg.FullName()] {
		return schema.NamedType(name)
	}
	r.pendingObject[msg.FullName()] = true

	typ := &schema.Type{Name: name, Kind: schema.TypeKindObject}
	r.Schema.Types[name] = typ // insert before walking fields: breaks cycles
	r.objectMessage[name] = msg
	fieldIndex := map[string]protoreflect.FieldDescriptor{}

	if eo, ok := descriptorset.MessageEntity(msg); ok {
		for _, keys := range eo.Keys {
			typ.KeyFieldSets = append(typ.KeyFieldSets, keys)
			typ.KeyResolvable = append(typ.KeyResolvable, eo.Resolvable)
		}
		typ.IsExtension = eo.Extend
	}

	fields := msg.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		fo, _ := descriptorset.FieldOptions(fd)
		if fo.Omit {
			continue
		}
		fieldName := FieldName(fd)
		gqlField := &schema.Field{
			Name:     fieldName,
			Type:     r.typeFor(fd, false),
			Async:    false,
			External: fo.External,
			Requires: fo.Requires,
			Provides: fo.Provides,
		}
		if fo.Required {
			gqlField.Type = schema.NonNullType(gqlField.Type)
		}
		typ.Fields = append(typ.Fields, gqlField)
		fieldIndex[fieldName] = fd
	}
	r.objectFields[name] = fieldIndex
	delete(r.pendingObject, msg.FullName())
	return schema.NamedType(name)
}

// FieldName returns the GraphQL name fd is exposed under: the
// graphql.field.name annotation if set, else the proto field name verbatim.
func FieldName(fd protoreflect.FieldDescriptor) string {
	if fo, ok := descriptorset.FieldOptions(fd); ok && fo.Name != "" {
		return fo.Name
	}
	return string(fd.Name())
}

// InputValueFor builds the GraphQL argument/input-field descriptor for a
// single request message field, applying the same name/required/type rules
// EnsureInputObject applies per-field -- exported so the Schema Synthesiser
// can build one argument per request field without wrapping the whole
// request in an input object (spec.md 4.D argument generation, the
// non-`request.name` branch).
func (r *Registry) InputValueFor(fd protoreflect.FieldDescriptor) *schema.InputValue {
	fo, _ := descriptorset.FieldOptions(fd)
	iv := &schema.InputValue{Name: FieldName(fd), Type: r.typeFor(fd, true)}
	if fo.Required {
		iv.Type = schema.NonNullType(iv.Type)
	}
	return iv
}

// OutputTypeFor maps a single response message field (scalar, enum, nested
// message, list, or map) to the TypeRef it is exposed as on the output side,
// for the Schema Synthesiser's response.pluck return-type generation.
func (r *Registry) OutputTypeFor(fd protoreflect.FieldDescriptor) *schema.TypeRef {
	return r.typeFor(fd, false)
}

// EnsureInputObject returns a TypeRef naming the input object type for msg.
// Fields marked omit are skipped; input objects carry no resolvers.
func (r *Registry) EnsureInputObject(msg protoreflect.MessageDescriptor) *schema.TypeRef {
	name := TypeName(msg.FullName()) + "Input"
	if _, ok := r.Schema.Types[name]; ok {
		return schema.NamedType(name)
	}
	if r.pendingInput[msg.FullName()] {
		return schema.NamedType(name)
	}
	r.pendingInput[msg.FullName()] = true

	typ := &schema.Type{Name: name, Kind: schema.TypeKindInputObject}
	r.Schema.Types[name] = typ
	r.inputMessage[name] = msg
	fieldIndex := map[string]protoreflect.FieldDescriptor{}

	fields := msg.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		fo, _ := descriptorset.FieldOptions(fd)
		if fo.Omit {
			continue
		}
		inputField := r.InputValueFor(fd)
		typ.InputFields = append(typ.InputFields, inputField)
		fieldIndex[inputField.Name] = fd
	}
	r.inputFields[name] = fieldIndex
	delete(r.pendingInput, msg.FullName())
	return schema.NamedType(name)
}

// EnsureEnum returns a TypeRef naming the enum type for e.
func (r *Registry) EnsureEnum(e protoreflect.EnumDescriptor) *schema.TypeRef {
	name := TypeName(e.FullName())
	if _, ok := r.Schema.Types[name]; ok {
		return schema.NamedType(name)
	}
	typ := &schema.Type{Name: name, Kind: schema.TypeKindEnum}
	values := e.Values()
	for i := 0; i < values.Len(); i++ {
		v := values.Get(i)
		typ.EnumValues = append(typ.EnumValues, &schema.EnumValue{Name: string(v.Name())})
	}
	r.Schema.Types[name] = typ
	r.enumDesc[name] = e
	return schema.NamedType(name)
}

// EnumDescriptorFor returns the proto enum descriptor backing a GraphQL enum
// type name, for resolving a GraphQL enum value to its numeric value.
func (r *Registry) EnumDescriptorFor(typeName string) (protoreflect.EnumDescriptor, bool) {
	e, ok := r.enumDesc[typeName]
	return e, ok
}

var builtinUpload = &schema.Type{Name: "Upload", Kind: schema.TypeKindScalar, Description: "A file sent via a multipart request; resolves to an in-memory byte blob."}

// typeFor maps a single field (scalar/message/enum, possibly repeated or a
// map) to a TypeRef, recursing into nested messages/enums. input selects the
// input-side object type and bytes-as-Upload for message/bytes fields.
func (r *Registry) typeFor(fd protoreflect.FieldDescriptor, input bool) *schema.TypeRef {
	if fd.IsMap() {
		return schema.NamedType(r.ensureMapScalar())
	}
	named := r.namedTypeFor(fd, input)
	if fd.IsList() {
		return schema.ListType(named)
	}
	return named
}

func (r *Registry) ensureMapScalar() string {
	const name = "Map"
	if _, ok := r.Schema.Types[name]; !ok {
		r.Schema.Types[name] = &schema.Type{
			Name:        name,
			Kind:        schema.TypeKindScalar,
			Description: "An object with string-coerced keys, used for protobuf map<K,V> fields.",
		}
	}
	return name
}

// namedTypeFor maps the scalar/message/enum kind of fd (ignoring
// repeated-ness) to a bare named TypeRef.
func (r *Registry) namedTypeFor(fd protoreflect.FieldDescriptor, input bool) *schema.TypeRef {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return schema.NamedType("Boolean")
	case protoreflect.StringKind:
		return schema.NamedType("String")
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return schema.NamedType("Float")
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return schema.NamedType("Int")
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return schema.NamedType("String")
	case protoreflect.BytesKind:
		if input {
			if _, ok := r.Schema.Types["Upload"]; !ok {
				r.Schema.Types["Upload"] = builtinUpload
			}
			return schema.NamedType("Upload")
		}
		return schema.NamedType("String")
	case protoreflect.EnumKind:
		return r.EnsureEnum(fd.Enum())
	case protoreflect.MessageKind, protoreflect.GroupKind:
		if input {
			return r.EnsureInputObject(fd.Message())
		}
		return r.EnsureObject(fd.Message())
	default:
		return schema.NamedType("String")
	}
}
