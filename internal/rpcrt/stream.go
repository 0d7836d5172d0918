package rpcrt

import (
	"context"
	"errors"
	"io"

	"github.com/protobound/gateway/internal/gatewayerr"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// streamRecv reads the next item off stream into a fresh message of op's
// output descriptor.
func streamRecv(op *OperationConfig, stream grpc.ClientStream) (protoreflect.Message, error) {
	resp := dynamicpb.NewMessage(op.Method.Output())
	if err := stream.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SubscriptionState is one state of the per-subscription state machine of
// spec.md 4.I: Connecting -> Ready -> Streaming -> Done | Failed.
type SubscriptionState int

const (
	StateConnecting SubscriptionState = iota
	StateReady
	StateStreaming
	StateDone
	StateFailed
)

// SubscriptionEvent is one state transition or stream item published by
// Subscribe. Value is only set on Streaming events carrying a decoded item.
type SubscriptionEvent struct {
	State SubscriptionState
	Value any
	Err   error
}

// Subscribe opens the server-streaming RPC backing a SUBSCRIPTION operation
// and publishes one SubscriptionEvent per state transition or stream item,
// until the upstream call ends or ctx is cancelled by the client
// disconnecting (spec.md 4.I). Each decoded item is pluck-applied exactly
// like a unary response (spec.md 4.F), so subscription fields can return a
// plucked scalar just like a query field.
func (r *Runtime) Subscribe(ctx context.Context, op *OperationConfig, args map[string]any) (<-chan SubscriptionEvent, error) {
	if !op.Streaming {
		return nil, gatewayerr.Newf(gatewayerr.Schema, "%s is not a subscription operation", op.FieldName)
	}

	events := make(chan SubscriptionEvent, 2)
	events <- SubscriptionEvent{State: StateConnecting}

	req, err := buildRequest(ctx, op, args)
	if err != nil {
		events <- SubscriptionEvent{State: StateFailed, Err: err}
		close(events)
		return events, nil
	}

	stream, err := r.pool.NewStream(ctx, op.ServiceName, op.Method, req)
	if err != nil {
		events <- SubscriptionEvent{State: StateFailed, Err: err}
		close(events)
		return events, nil
	}

	go func() {
		defer close(events)
		events <- SubscriptionEvent{State: StateReady}
		events <- SubscriptionEvent{State: StateStreaming}
		for {
			resp, err := streamRecv(op, stream)
			if err != nil {
				if errors.Is(err, io.EOF) {
					events <- SubscriptionEvent{State: StateDone}
					return
				}
				if ctx.Err() != nil {
					events <- SubscriptionEvent{State: StateDone}
					return
				}
				events <- SubscriptionEvent{State: StateFailed, Err: gatewayerr.Wrap(gatewayerr.Grpc, "receive stream item", err)}
				return
			}
			value, err := decodeResponse(op, resp)
			if err != nil {
				events <- SubscriptionEvent{State: StateFailed, Err: err}
				return
			}
			events <- SubscriptionEvent{State: StateStreaming, Value: value}
		}
	}()

	return events, nil
}
