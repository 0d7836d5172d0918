// Package federation implements the Federation Index (4.C) and Entity
// Resolver (4.I): extracting entity keys/directives from graphql.entity
// annotations and resolving Apollo Federation's _entities field.
package federation

import (
	"context"
	"strings"

	"github.com/protobound/gateway/internal/descriptorset"
	"github.com/protobound/gateway/internal/gatewayerr"
	"github.com/protobound/gateway/internal/typeregistry"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// EntityConfig describes one federation entity type.
type EntityConfig struct {
	TypeName   string
	Descriptor protoreflect.MessageDescriptor
	Keys       [][]string // composite key field-name sets
	Extend     bool
	Resolvable bool
}

// Index is the Federation Index: type_name -> EntityConfig.
type Index struct {
	Entities map[string]*EntityConfig
}

// Build scans every message in the pool for graphql.entity annotations.
// Entities with no keys are ignored, per spec.
func Build(pool *descriptorset.Pool) *Index {
	idx := &Index{Entities: map[string]*EntityConfig{}}
	for fullName, msg := range pool.Messages() {
		eo, ok := descriptorset.MessageEntity(msg)
		if !ok || len(eo.Keys) == 0 {
			continue
		}
		typeName := typeregistry.TypeName(fullName)
		keys := make([][]string, 0, len(eo.Keys))
		for _, k := range eo.Keys {
			keys = append(keys, strings.Fields(k))
		}
		idx.Entities[typeName] = &EntityConfig{
			TypeName:   typeName,
			Descriptor: msg,
			Keys:       keys,
			Extend:     eo.Extend,
			Resolvable: eo.Resolvable,
		}
	}
	return idx
}

// Enabled reports whether federation should be activated, i.e. any entity
// was found.
func (idx *Index) Enabled() bool { return len(idx.Entities) > 0 }

// KeyFieldSets renders each composite key as a whitespace-joined fields
// string, e.g. ["orgId", "userId"] -> "orgId userId", for SDL @key rendering
// and for attaching to the synthesized schema.Type.
func (c *EntityConfig) KeyFieldSets() []string {
	out := make([]string, 0, len(c.Keys))
	for _, k := range c.Keys {
		out = append(out, strings.Join(k, " "))
	}
	return out
}

// Representation is a decoded _Any representation: __typename plus key
// fields, as submitted by a federation router.
type Representation map[string]any

// TypeName extracts and validates __typename from a representation.
func (r Representation) TypeName() (string, error) {
	v, ok := r["__typename"]
	if !ok {
		return "", gatewayerr.New(gatewayerr.Schema, "missing __typename in representation")
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", gatewayerr.New(gatewayerr.Schema, "__typename must be a non-empty string")
	}
	return s, nil
}

// EntityResolver is the narrow capability set applications implement to
// satisfy _entities. batch_resolve_entities is an optimisation hook, not a
// correctness requirement: the default implementation calls resolve_entity
// sequentially (4.I, spec.md 9 Design Notes).
type EntityResolver interface {
	ResolveEntity(ctx context.Context, config *EntityConfig, representation Representation) (any, error)
	BatchResolveEntities(ctx context.Context, config *EntityConfig, representations []Representation) ([]any, error)
}

// VerbatimResolver is the default EntityResolver: it returns each
// representation unchanged. This is adopted, not a placeholder bug to fix
// (spec.md 9 Open Questions) -- sufficient for schemas whose federation key
// fields are the only client-visible fields of that entity.
type VerbatimResolver struct{}

func (VerbatimResolver) ResolveEntity(_ context.Context, _ *EntityConfig, representation Representation) (any, error) {
	return representation, nil
}

func (v VerbatimResolver) BatchResolveEntities(ctx context.Context, config *EntityConfig, representations []Representation) ([]any, error) {
	return defaultBatch(ctx, v, config, representations)
}

// defaultBatch is the shared sequential fallback used by any EntityResolver
// that does not implement its own batching.
func defaultBatch(ctx context.Context, r EntityResolver, config *EntityConfig, representations []Representation) ([]any, error) {
	out := make([]any, len(representations))
	for i, rep := range representations {
		v, err := r.ResolveEntity(ctx, config, rep)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ResolveEntities resolves the _entities root field: one call per
// representation, each looked up by __typename against idx.
func (idx *Index) ResolveEntities(ctx context.Context, resolver EntityResolver, representations []Representation) ([]EntityResult, error) {
	results := make([]EntityResult, len(representations))
	for i, rep := range representations {
		typeName, err := rep.TypeName()
		if err != nil {
			return nil, err
		}
		cfg, ok := idx.Entities[typeName]
		if !ok {
			return nil, gatewayerr.Newf(gatewayerr.Schema, "unknown entity type: %s", typeName)
		}
		v, err := resolver.ResolveEntity(ctx, cfg, rep)
		if err != nil {
			return nil, err
		}
		results[i] = EntityResult{TypeName: typeName, Value: v}
	}
	return results, nil
}

// EntityResult tags a resolved entity value with its concrete GraphQL type
// name so the _Entity union resolves correctly.
type EntityResult struct {
	TypeName string
	Value    any
}
