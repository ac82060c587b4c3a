// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rpc implements JSON-RPC 2.0 over newline-delimited JSON, the wire
// protocol spoken to tool server processes on their stdio streams.
//
// Each transport owns exactly one process's stdin/stdout pair. Requests are
// correlated to responses by a monotonically assigned integer id scoped to
// the transport instance; a dedicated reader goroutine delivers responses to
// whichever caller's id matches, independent of arrival order.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the JSON-RPC version string carried on every message.
const Version = "2.0"

// Request represents a JSON-RPC 2.0 request.
// A nil ID marks a notification: no response is expected.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC 2.0 error codes.
const (
	// CodeParseError indicates a JSON parsing error.
	CodeParseError = -32700
	// CodeInvalidRequest indicates an invalid JSON-RPC request.
	CodeInvalidRequest = -32600
	// CodeMethodNotFound indicates the method doesn't exist.
	CodeMethodNotFound = -32601
	// CodeInvalidParams indicates invalid method parameters.
	CodeInvalidParams = -32602
	// CodeInternalError indicates an internal server error.
	CodeInternalError = -32603
)

// IsMethodNotFound reports whether err is a JSON-RPC error with the
// distinguished method-not-found code. Callers use this to downgrade
// optional capabilities (e.g. resources on a tools-only server).
func IsMethodNotFound(err error) bool {
	var rpcErr *Error
	return errors.As(err, &rpcErr) && rpcErr.Code == CodeMethodNotFound
}

// Recognized methods for the tool server protocol.
const (
	MethodInitialize    = "initialize"
	MethodPing          = "ping"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"

	// NotificationInitialized is sent after a successful initialize exchange.
	NotificationInitialized = "notifications/initialized"
)
