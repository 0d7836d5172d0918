package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/protobound/gateway/internal/eventbus"
	"github.com/protobound/gateway/internal/events"
	"github.com/protobound/gateway/internal/gatewayerr"
	"github.com/protobound/gateway/internal/language"
	"github.com/protobound/gateway/internal/rpcrt"
)

// wsMessage is one graphql-transport-ws protocol frame (connection_init,
// connection_ack, subscribe, next, complete, error, ping, pong).
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

const wsSubprotocol = "graphql-transport-ws"

// serveWebSocket drives one graphql-transport-ws connection:
// connection_init -> connection_ack, then one subscribe/next*/complete cycle
// per subscription ID, until the client disconnects.
func (g *Gateway) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgradeWebSocket(w, r, wsSubprotocol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		mu     sync.Mutex
		active = make(map[string]context.CancelFunc)
	)
	defer func() {
		mu.Lock()
		for _, c := range active {
			c()
		}
		mu.Unlock()
	}()

	initialized := false
	for {
		raw, err := conn.readMessage()
		if err != nil {
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			g.sendWS(conn, wsMessage{Type: "error", Payload: jsonErrors(gatewayerr.New(gatewayerr.InvalidRequest, "malformed message"))})
			continue
		}

		switch msg.Type {
		case "connection_init":
			initialized = true
			g.sendWS(conn, wsMessage{Type: "connection_ack"})

		case "ping":
			g.sendWS(conn, wsMessage{Type: "pong"})

		case "subscribe":
			if !initialized {
				return
			}
			var payload subscribePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				g.sendWS(conn, wsMessage{ID: msg.ID, Type: "error", Payload: jsonErrors(gatewayerr.New(gatewayerr.InvalidRequest, "malformed subscribe payload"))})
				continue
			}
			subCtx, subCancel := context.WithCancel(ctx)
			mu.Lock()
			active[msg.ID] = subCancel
			mu.Unlock()
			go g.runSubscription(subCtx, conn, msg.ID, payload, &mu, active)

		case "complete":
			mu.Lock()
			if c, ok := active[msg.ID]; ok {
				c()
				delete(active, msg.ID)
			}
			mu.Unlock()
		}
	}
}

func (g *Gateway) runSubscription(ctx context.Context, conn *wsConn, id string, payload subscribePayload, mu *sync.Mutex, active map[string]context.CancelFunc) {
	start := time.Now()
	var finishErr error
	field := ""
	defer func() {
		eventbus.Publish(ctx, events.SubscriptionFinish{Field: field, Err: finishErr, Duration: time.Since(start)})
		mu.Lock()
		delete(active, id)
		mu.Unlock()
	}()

	doc, err := language.ParseQuery(payload.Query)
	if err != nil {
		finishErr = err
		g.sendWS(conn, wsMessage{ID: id, Type: "error", Payload: jsonErrors(err)})
		return
	}

	prepared, err := g.exec.PrepareSubscription(ctx, doc, payload.OperationName, payload.Variables)
	if err != nil {
		finishErr = err
		g.sendWS(conn, wsMessage{ID: id, Type: "error", Payload: jsonErrors(err)})
		return
	}
	field = prepared.FieldName
	eventbus.Publish(ctx, events.SubscriptionStart{Field: field})

	op, ok := g.result.Operations.Lookup(prepared.ObjectType, prepared.FieldName)
	if !ok {
		finishErr = gatewayerr.Newf(gatewayerr.Schema, "no operation registered for %s.%s", prepared.ObjectType, prepared.FieldName)
		g.sendWS(conn, wsMessage{ID: id, Type: "error", Payload: jsonErrors(finishErr)})
		return
	}

	eventCh, err := g.rpcRuntime.Subscribe(ctx, op, prepared.Args)
	if err != nil {
		finishErr = err
		g.sendWS(conn, wsMessage{ID: id, Type: "error", Payload: jsonErrors(err)})
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			switch ev.State {
			case rpcrt.StateStreaming:
				result := g.exec.CompleteSubscriptionEvent(ctx, prepared, ev.Value, nil)
				g.sendWS(conn, wsMessage{ID: id, Type: "next", Payload: mustJSON(result)})
			case rpcrt.StateDone:
				g.sendWS(conn, wsMessage{ID: id, Type: "complete"})
				return
			case rpcrt.StateFailed:
				finishErr = ev.Err
				g.sendWS(conn, wsMessage{ID: id, Type: "error", Payload: jsonErrors(ev.Err)})
				return
			}
		}
	}
}

func (g *Gateway) sendWS(conn *wsConn, msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = conn.writeText(data)
}

func jsonErrors(err error) json.RawMessage {
	kind := gatewayerr.KindOf(err)
	data, _ := json.Marshal([]map[string]any{{
		"message":    err.Error(),
		"extensions": map[string]any{"code": kind.Code()},
	}})
	return data
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{"data":null}`)
	}
	return data
}
