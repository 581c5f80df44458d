// internal/websocket/types.go

// Package websocket exposes the app over a local WebSocket connection: RPC
// requests dispatched onto exported app methods, and event-hub broadcasts
// pushed to every connected client.
package websocket

// RPCRequest is a method call from a client
type RPCRequest struct {
	ID     string        `json:"id"`     // matched against the response
	Method string        `json:"method"` // exported app method, e.g. "RestoreCheckpoint"
	Params []interface{} `json:"params"`
}

// RPCResponse answers one RPCRequest
type RPCResponse struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// WSEvent is a server-initiated push, e.g. "checkpoint:created"
type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WSMessage is the envelope for everything on the wire. Kind is one of
// "rpc_request", "rpc_response", "event".
type WSMessage struct {
	Kind     string       `json:"kind"`
	Request  *RPCRequest  `json:"request,omitempty"`
	Response *RPCResponse `json:"response,omitempty"`
	Event    *WSEvent     `json:"event,omitempty"`
}
