// Package descriptorset decodes a protobuf FileDescriptorSet into an indexed
// pool of services, methods, messages, and enums, and resolves the
// graphql.* extension annotations attached to them (4.A Descriptor Loader).
package descriptorset

import (
	"sort"

	"github.com/protobound/gateway/internal/gatewayerr"
	"github.com/protobound/gateway/internal/graphqlpb"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Pool is the decoded, indexed view over a descriptor set. It is built once
// at process start and is immutable afterwards.
type Pool struct {
	Files    []protoreflect.FileDescriptor
	services []protoreflect.ServiceDescriptor
	messages map[protoreflect.FullName]protoreflect.MessageDescriptor
	enums    map[protoreflect.FullName]protoreflect.EnumDescriptor
}

// Load decodes raw FileDescriptorSet bytes into a Pool.
func Load(raw []byte) (*Pool, error) {
	var fdSet descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(raw, &fdSet); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Schema, "decode descriptor set", err)
	}
	return FromProto(&fdSet)
}

// FromProto builds a Pool from an already-decoded FileDescriptorSet.
func FromProto(fdSet *descriptorpb.FileDescriptorSet) (*Pool, error) {
	files, err := protodesc.NewFiles(fdSet)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.Schema, "link descriptor set", err)
	}

	p := &Pool{
		messages: map[protoreflect.FullName]protoreflect.MessageDescriptor{},
		enums:    map[protoreflect.FullName]protoreflect.EnumDescriptor{},
	}

	var walkMessage func(m protoreflect.MessageDescriptor)
	walkMessage = func(m protoreflect.MessageDescriptor) {
		p.messages[m.FullName()] = m
		for i := 0; i < m.Enums().Len(); i++ {
			e := m.Enums().Get(i)
			p.enums[e.FullName()] = e
		}
		for i := 0; i < m.Messages().Len(); i++ {
			walkMessage(m.Messages().Get(i))
		}
	}

	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		p.Files = append(p.Files, fd)
		for i := 0; i < fd.Services().Len(); i++ {
			p.services = append(p.services, fd.Services().Get(i))
		}
		for i := 0; i < fd.Enums().Len(); i++ {
			e := fd.Enums().Get(i)
			p.enums[e.FullName()] = e
		}
		for i := 0; i < fd.Messages().Len(); i++ {
			walkMessage(fd.Messages().Get(i))
		}
		return true
	})

	// Deterministic order: by file path, then declaration order within it
	// (RangeFiles order is unspecified across calls).
	sort.Slice(p.Files, func(i, j int) bool { return p.Files[i].Path() < p.Files[j].Path() })
	p.services = nil
	for _, fd := range p.Files {
		for i := 0; i < fd.Services().Len(); i++ {
			p.services = append(p.services, fd.Services().Get(i))
		}
	}

	if len(p.messages) == 0 && len(p.services) == 0 {
		return nil, gatewayerr.New(gatewayerr.Schema, "descriptor set contains no messages or services")
	}
	return p, nil
}

// Services returns all services across all files, in descriptor order.
func (p *Pool) Services() []protoreflect.ServiceDescriptor { return p.services }

// Message looks up a message descriptor by fully-qualified name.
func (p *Pool) Message(name protoreflect.FullName) (protoreflect.MessageDescriptor, bool) {
	m, ok := p.messages[name]
	return m, ok
}

// Enum looks up an enum descriptor by fully-qualified name.
func (p *Pool) Enum(name protoreflect.FullName) (protoreflect.EnumDescriptor, bool) {
	e, ok := p.enums[name]
	return e, ok
}

// Messages returns every message descriptor in the pool, unordered.
func (p *Pool) Messages() map[protoreflect.FullName]protoreflect.MessageDescriptor { return p.messages }

// ---- annotation accessors (thin wrappers over graphqlpb) ----

func ServiceOptions(svc protoreflect.ServiceDescriptor) (graphqlpb.ServiceOptions, bool) {
	opts, ok := svc.Options().(*descriptorpb.ServiceOptions)
	if !ok {
		return graphqlpb.ServiceOptions{}, false
	}
	return graphqlpb.Service(opts)
}

func MethodSchema(m protoreflect.MethodDescriptor) (graphqlpb.SchemaOptions, bool) {
	opts, ok := m.Options().(*descriptorpb.MethodOptions)
	if !ok {
		return graphqlpb.SchemaOptions{}, false
	}
	return graphqlpb.Schema(opts)
}

func FieldOptions(f protoreflect.FieldDescriptor) (graphqlpb.FieldOptions, bool) {
	opts, ok := f.Options().(*descriptorpb.FieldOptions)
	if !ok {
		return graphqlpb.FieldOptions{}, false
	}
	return graphqlpb.Field(opts)
}

func MessageEntity(m protoreflect.MessageDescriptor) (graphqlpb.EntityOptions, bool) {
	opts, ok := m.Options().(*descriptorpb.MessageOptions)
	if !ok {
		return graphqlpb.EntityOptions{}, false
	}
	return graphqlpb.Entity(opts)
}
