package rpcrt

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/protobound/gateway/internal/descriptorset"
	"github.com/protobound/gateway/internal/gatewayerr"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// graphqlFieldName mirrors the field-name rule of spec.md 4.B: the
// annotated name if set, else the proto field name verbatim.
func graphqlFieldName(fd protoreflect.FieldDescriptor) string {
	if fo, ok := descriptorset.FieldOptions(fd); ok && fo.Name != "" {
		return fo.Name
	}
	return string(fd.Name())
}

// buildRequest constructs the request message for op from resolved GraphQL
// arguments, per spec.md 4.E step 1: either a single wrapper argument
// supplies every field, or each argument maps onto the field of the same
// GraphQL name.
func buildRequest(ctx context.Context, op *OperationConfig, args map[string]any) (protoreflect.Message, error) {
	req := dynamicpb.NewMessage(op.Method.Input())
	if op.RequestWrapperArg != "" {
		wrapped, _ := args[op.RequestWrapperArg].(map[string]any)
		if err := setMessageFields(ctx, req, wrapped); err != nil {
			return nil, err
		}
		return req, nil
	}
	if err := setMessageFields(ctx, req, args); err != nil {
		return nil, err
	}
	return req, nil
}

// setMessageFields populates msg's fields from data, keyed by GraphQL field
// name. Fields absent from data remain unset; names matching no field are
// rejected per spec.md 4.E step 1 ("Unknown arguments are rejected").
func setMessageFields(ctx context.Context, msg protoreflect.Message, data map[string]any) error {
	fields := msg.Descriptor().Fields()
	byName := make(map[string]protoreflect.FieldDescriptor, fields.Len())
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		byName[graphqlFieldName(fd)] = fd
	}
	for name, v := range data {
		fd, ok := byName[name]
		if !ok {
			return gatewayerr.Newf(gatewayerr.InvalidRequest, "unknown argument %q", name)
		}
		if v == nil {
			continue
		}
		if err := setField(ctx, msg, fd, v); err != nil {
			return err
		}
	}
	return nil
}

func setField(ctx context.Context, msg protoreflect.Message, fd protoreflect.FieldDescriptor, v any) error {
	if fd.IsMap() {
		m, ok := v.(map[string]any)
		if !ok {
			return gatewayerr.Newf(gatewayerr.InvalidRequest, "field %s expects an object", graphqlFieldName(fd))
		}
		mapValue := msg.Mutable(fd).Map()
		for k, mv := range m {
			val, err := toProtoValue(ctx, fd.MapValue(), mv)
			if err != nil {
				return err
			}
			mapValue.Set(protoreflect.ValueOfString(k).MapKey(), val)
		}
		msg.Set(fd, protoreflect.ValueOfMap(mapValue))
		return nil
	}
	if fd.IsList() {
		items, ok := v.([]any)
		if !ok {
			return gatewayerr.Newf(gatewayerr.InvalidRequest, "field %s expects a list", graphqlFieldName(fd))
		}
		list := msg.Mutable(fd).List()
		for _, item := range items {
			val, err := toProtoValue(ctx, fd, item)
			if err != nil {
				return err
			}
			list.Append(val)
		}
		msg.Set(fd, protoreflect.ValueOfList(list))
		return nil
	}
	val, err := toProtoValue(ctx, fd, v)
	if err != nil {
		return err
	}
	msg.Set(fd, val)
	return nil
}

// toProtoValue converts one GraphQL-coerced Go value into a protoreflect.Value
// for a singular (non-repeated, non-map) occurrence of fd, per spec.md 4.F's
// GraphQL -> protobuf rules.
func toProtoValue(ctx context.Context, fd protoreflect.FieldDescriptor, v any) (protoreflect.Value, error) {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		b, ok := v.(bool)
		if !ok {
			return protoreflect.Value{}, invalidArg(fd, v)
		}
		return protoreflect.ValueOfBool(b), nil

	case protoreflect.StringKind:
		s, ok := v.(string)
		if !ok {
			return protoreflect.Value{}, invalidArg(fd, v)
		}
		return protoreflect.ValueOfString(s), nil

	case protoreflect.FloatKind:
		f, err := toFloat64(v)
		if err != nil {
			return protoreflect.Value{}, invalidArg(fd, v)
		}
		return protoreflect.ValueOfFloat32(float32(f)), nil

	case protoreflect.DoubleKind:
		f, err := toFloat64(v)
		if err != nil {
			return protoreflect.Value{}, invalidArg(fd, v)
		}
		return protoreflect.ValueOfFloat64(f), nil

	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, err := toInt64(v)
		if err != nil {
			return protoreflect.Value{}, invalidArg(fd, v)
		}
		return protoreflect.ValueOfInt32(int32(n)), nil

	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, err := toInt64(v)
		if err != nil {
			return protoreflect.Value{}, invalidArg(fd, v)
		}
		return protoreflect.ValueOfUint32(uint32(n)), nil

	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		// 64-bit integers accept either a decimal string or a JSON number (spec.md 4.F).
		n, err := toInt64Precise(v)
		if err != nil {
			return protoreflect.Value{}, invalidArg(fd, v)
		}
		return protoreflect.ValueOfInt64(n), nil

	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		n, err := toUint64Precise(v)
		if err != nil {
			return protoreflect.Value{}, invalidArg(fd, v)
		}
		return protoreflect.ValueOfUint64(n), nil

	case protoreflect.BytesKind:
		b, err := toBytes(ctx, v)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfBytes(b), nil

	case protoreflect.EnumKind:
		switch ev := v.(type) {
		case string:
			val := fd.Enum().Values().ByName(protoreflect.Name(ev))
			if val == nil {
				return protoreflect.Value{}, gatewayerr.Newf(gatewayerr.InvalidRequest, "unknown enum value %q for %s", ev, fd.Enum().FullName())
			}
			return protoreflect.ValueOfEnum(val.Number()), nil
		case float64:
			return protoreflect.ValueOfEnum(protoreflect.EnumNumber(int32(ev))), nil
		default:
			return protoreflect.Value{}, invalidArg(fd, v)
		}

	case protoreflect.MessageKind, protoreflect.GroupKind:
		m, ok := v.(map[string]any)
		if !ok {
			return protoreflect.Value{}, invalidArg(fd, v)
		}
		nested := dynamicpb.NewMessage(fd.Message())
		if err := setMessageFields(ctx, nested, m); err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfMessage(nested), nil

	default:
		return protoreflect.Value{}, invalidArg(fd, v)
	}
}

func invalidArg(fd protoreflect.FieldDescriptor, v any) error {
	return gatewayerr.Newf(gatewayerr.InvalidRequest, "invalid value %v (%T) for field %s", v, v, graphqlFieldName(fd))
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("not an integer: %v", v)
}

// toInt64Precise parses 64-bit integers strictly from a decimal string or a
// JSON number, preserving precision beyond the 53-bit safe-integer range.
func toInt64Precise(v any) (int64, error) {
	switch n := v.(type) {
	case string:
		return strconv.ParseInt(n, 10, 64)
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	}
	return 0, fmt.Errorf("not a 64-bit integer: %v", v)
}

func toUint64Precise(v any) (uint64, error) {
	switch n := v.(type) {
	case string:
		return strconv.ParseUint(n, 10, 64)
	case float64:
		return uint64(n), nil
	case int64:
		return uint64(n), nil
	case int:
		return uint64(n), nil
	}
	return 0, fmt.Errorf("not a 64-bit integer: %v", v)
}

// toBytes resolves a bytes-input argument per spec.md 4.F: a GraphQL Upload
// scalar value is either the upload-reference sentinel or a base64 string.
func toBytes(ctx context.Context, v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("bytes argument must be a string, got %T", v)
	}
	if strings.HasPrefix(s, uploadSentinelPrefix) {
		return resolveUploadSentinel(ctx, s)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InvalidRequest, "invalid base64 bytes value", err)
	}
	return b, nil
}

// handleValue converts a decoded protobuf field value into the Go value
// handed to the executor, per spec.md 4.F's protobuf -> GraphQL rules.
// Object/list-of-object results stay as protoreflect.Message so ResolveSync
// can complete their fields lazily; scalars are returned in a shape
// SerializeLeafValue can format without reflecting on the descriptor again.
func handleValue(fd protoreflect.FieldDescriptor, v protoreflect.Value) any {
	if fd.IsMap() {
		return mapToGraphQL(fd, v.Map())
	}
	return scalarOrMessageValue(fd, v)
}

func mapToGraphQL(fd protoreflect.FieldDescriptor, m protoreflect.Map) map[string]any {
	out := make(map[string]any, m.Len())
	m.Range(func(k protoreflect.MapKey, val protoreflect.Value) bool {
		out[mapKeyToString(k)] = scalarOrMessageValue(fd.MapValue(), val)
		return true
	})
	return out
}

func mapKeyToString(k protoreflect.MapKey) string {
	return k.Value().String()
}

func scalarOrMessageValue(fd protoreflect.FieldDescriptor, v protoreflect.Value) any {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return v.Bool()
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return int32(v.Int())
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return uint32(v.Uint())
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return v.Int()
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return v.Uint()
	case protoreflect.FloatKind:
		return float32(v.Float())
	case protoreflect.DoubleKind:
		return v.Float()
	case protoreflect.StringKind:
		return v.String()
	case protoreflect.BytesKind:
		return []byte(v.Bytes())
	case protoreflect.EnumKind:
		if ev := fd.Enum().Values().ByNumber(v.Enum()); ev != nil {
			return string(ev.Name())
		}
		return int32(v.Enum())
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return v.Message()
	default:
		return nil
	}
}

// decodeResponse applies response plucking (spec.md 4.F) to a decoded
// response message: if op.ResponsePluck names a field, that field's
// converted value is the result; otherwise the message itself is, so
// ResolveSync can read its fields as the root object value.
func decodeResponse(op *OperationConfig, resp protoreflect.Message) (any, error) {
	if op.ResponsePluck == "" {
		return resp, nil
	}
	fd := resp.Descriptor().Fields().ByName(protoreflect.Name(op.ResponsePluck))
	if fd == nil {
		return nil, gatewayerr.Newf(gatewayerr.Schema, "response.pluck field %q not found on %s", op.ResponsePluck, resp.Descriptor().FullName())
	}
	if fd.IsList() {
		list := resp.Get(fd).List()
		out := make([]any, list.Len())
		for i := 0; i < list.Len(); i++ {
			out[i] = scalarOrMessageValue(fd, list.Get(i))
		}
		return out, nil
	}
	if !resp.Has(fd) {
		return nil, nil
	}
	return handleValue(fd, resp.Get(fd)), nil
}
