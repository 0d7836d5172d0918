package executor

import (
	"context"
	"fmt"

	language "github.com/protobound/gateway/internal/language"
	schema "github.com/protobound/gateway/internal/schema"
)

// PreparedSubscription is a subscription operation's root field, already
// validated and argument-coerced against the schema, ready to drive a
// streaming Runtime (e.g. rpcrt.Runtime.Subscribe) and to complete each
// emitted value without re-running field collection/coercion per event.
type PreparedSubscription struct {
	ObjectType   string
	FieldName    string
	ResponseName string
	FieldType    *schema.TypeRef
	Fields       []*language.Field
	Args         map[string]any
}

// PrepareSubscription validates document as a subscription operation with
// exactly one root field (per the GraphQL spec's single-root-field rule for
// subscriptions) and coerces its arguments, without resolving anything.
func (e *Executor) PrepareSubscription(ctx context.Context, document *language.QueryDocument, operationName string, variableValues map[string]any) (*PreparedSubscription, error) {
	operation := getOperation(document, operationName)
	if operation == nil {
		return nil, fmt.Errorf("operation not found")
	}
	if operation.Operation != language.Subscription {
		return nil, fmt.Errorf("operation is not a subscription")
	}

	coerced, err := coerceVariableValues(e.schema, operation, variableValues)
	if err != nil {
		return nil, err
	}

	rootType := e.schema.GetSubscriptionType()
	if rootType == nil {
		return nil, fmt.Errorf("schema has no subscription type")
	}

	state := &executionState{
		runtime:         e.runtime,
		schema:          e.schema,
		document:        document,
		variableValues:  coerced,
		context:         ctx,
		errors:          []GraphQLError{},
		asyncTaskInfo:   make(map[NodeID]asyncTask),
		nextID:          1,
		nullifiedPrefix: make(map[string]struct{}),
	}

	grouped := collectFields(state, rootType, operation.SelectionSet)
	ordered := grouped.orderedFields()
	if len(ordered) != 1 {
		return nil, fmt.Errorf("a subscription operation must select exactly one root field")
	}
	cf := ordered[0]
	fieldName := cf.Fields[0].Name

	fieldDef := getFieldDefinition(rootType, fieldName)
	if fieldDef == nil {
		return nil, fmt.Errorf("unknown subscription field %q", fieldName)
	}

	path := Path{cf.ResponseName}
	args := coerceArgumentValues(fieldDef, cf.Fields[0].Arguments, state.variableValues, state, path)
	if len(state.errors) > 0 {
		return nil, fmt.Errorf("%s", state.errors[0].Message)
	}

	return &PreparedSubscription{
		ObjectType:   rootType.Name,
		FieldName:    fieldName,
		ResponseName: cf.ResponseName,
		FieldType:    fieldDef.Type,
		Fields:       cf.Fields,
		Args:         args,
	}, nil
}

// CompleteSubscriptionEvent completes one value emitted for a prepared
// subscription's root field against its selection set, the same way a root
// field's value is completed during ExecuteRequest -- producing one
// {data, errors} response per event. Pass a non-nil resolveErr to produce an
// error response instead of completing a value.
func (e *Executor) CompleteSubscriptionEvent(ctx context.Context, p *PreparedSubscription, value any, resolveErr error) *ExecutionResult {
	state := &executionState{
		runtime:         e.runtime,
		schema:          e.schema,
		context:         ctx,
		errors:          []GraphQLError{},
		asyncTaskInfo:   make(map[NodeID]asyncTask),
		nextID:          1,
		nullifiedPrefix: make(map[string]struct{}),
	}
	path := Path{p.ResponseName}

	if resolveErr != nil {
		state.addErrorFromErr(resolveErr, path)
		return &ExecutionResult{Data: map[string]any{p.ResponseName: nil}, Errors: state.errors}
	}

	completed := completeValue(state, p.FieldType, p.Fields, value, path)
	if schema.IsNonNull(p.FieldType) && isNullish(completed) {
		completed = nil
	}
	return &ExecutionResult{Data: map[string]any{p.ResponseName: completed}, Errors: state.errors}
}
