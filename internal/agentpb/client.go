// Package agentpb implements the default action.AgentClient: a gRPC client
// against a generic server-streaming "Invoke" method. The connection
// dialing (grpc.NewClient with insecure transport credentials, one cached
// *grpc.ClientConn per endpoint) follows the only pack repo with a direct,
// actually-imported google.golang.org/grpc dependency and real client/server
// code, eleven-am-graft's internal/adapters/transport package — its own
// generated protobuf stub package was not part of the retrieved files, so
// there is nothing of its message layer to copy. Request/event payloads
// here instead travel as JSON through a small custom grpc codec
// (encoding.Codec): grpc-go's client-stream API (grpc.NewClientStream)
// only needs a *grpc.StreamDesc and a registered codec, not a
// protoc-generated stub, which keeps this package buildable without
// running protoc for a one-method, schema-less RPC.
package agentpb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

const codecName = "actflow-json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec marshals/unmarshals arbitrary Go values as JSON, standing in
// for a protobuf codec on a connection that carries opaque agent payloads.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
func (jsonCodec) Name() string { return codecName }

// invokeRequest is the wire shape sent to the agent's Invoke method.
type invokeRequest struct {
	Payload json.RawMessage `json:"payload"`
	Stream  bool            `json:"stream"`
}

// invokeEvent is one server-streamed event: "log"/"message" events are
// forwarded as they arrive, a "final" event carries the aggregate result
// and ends the stream.
type invokeEvent struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

var streamDesc = &grpc.StreamDesc{StreamName: "Invoke", ServerStreams: true}

// Client dials agent endpoints on demand and invokes the Invoke RPC.
type Client struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// New returns a Client using insecure transport credentials, suitable for
// agent backends reachable on a trusted network; embedders needing TLS or
// a different wire format implement action.AgentClient themselves.
func New() *Client {
	return &Client{conns: make(map[string]*grpc.ClientConn)}
}

func (c *Client) conn(endpoint string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[endpoint]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	c.conns[endpoint] = conn
	return conn, nil
}

// Invoke dials endpoint, sends request as a JSON payload over the Invoke
// stream, and forwards every "log"/"message" event to onEvent as it
// arrives. It returns the payload of the terminal "final" event.
func (c *Client) Invoke(ctx context.Context, endpoint string, request interface{}, stream bool, onEvent func(kind string, payload interface{})) (interface{}, error) {
	conn, err := c.conn(endpoint)
	if err != nil {
		return nil, fmt.Errorf("agentpb: dialing %s: %w", endpoint, err)
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("agentpb: encoding request: %w", err)
	}

	clientStream, err := grpc.NewClientStream(ctx, streamDesc, conn, "/actflow.agent.v1.AgentService/Invoke",
		grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, fmt.Errorf("agentpb: opening stream: %w", err)
	}

	if err := clientStream.SendMsg(&invokeRequest{Payload: payload, Stream: stream}); err != nil {
		return nil, fmt.Errorf("agentpb: sending request: %w", err)
	}
	if err := clientStream.CloseSend(); err != nil {
		return nil, fmt.Errorf("agentpb: closing send side: %w", err)
	}

	var final interface{}
	for {
		var evt invokeEvent
		if err := clientStream.RecvMsg(&evt); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("agentpb: receiving event: %w", err)
		}

		var decoded interface{}
		_ = json.Unmarshal(evt.Payload, &decoded)

		switch evt.Kind {
		case "log", "message":
			if onEvent != nil {
				onEvent(evt.Kind, decoded)
			}
		case "final":
			final = decoded
		}
	}
	return final, nil
}

// Close releases every dialled connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for endpoint, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("agentpb: closing %s: %w", endpoint, err)
		}
	}
	c.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}
