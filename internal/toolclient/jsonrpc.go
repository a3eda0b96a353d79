package toolclient

import (
	"encoding/json"
)

const jsonRPCVersion = "2.0"

// rpcMessage is the JSON-RPC 2.0 envelope for requests, responses and
// notifications. A message with both ID and Method is a server-to-client
// request; with ID only it is a response; with Method only a notification.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  interface{}     `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func newRequest(id int64, method string, params interface{}) *rpcMessage {
	return &rpcMessage{
		JSONRPC: jsonRPCVersion,
		ID:      &id,
		Method:  method,
		Params:  params,
	}
}

func newNotification(method string, params interface{}) *rpcMessage {
	return &rpcMessage{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  params,
	}
}

func newErrorResponse(id int64, code int, message string) *rpcMessage {
	return &rpcMessage{
		JSONRPC: jsonRPCVersion,
		ID:      &id,
		Error:   &RPCError{Code: code, Message: message},
	}
}

func (m *rpcMessage) isRequest() bool {
	return m.ID != nil && m.Method != ""
}

func (m *rpcMessage) isResponse() bool {
	return m.ID != nil && m.Method == ""
}

func (m *rpcMessage) isNotification() bool {
	return m.ID == nil && m.Method != ""
}
