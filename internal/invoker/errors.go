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

package invoker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes tool invocation failures so callers can react to
// the class of failure without string matching.
type ErrorCode string

const (
	// ErrorCodeConfig indicates a configuration problem: unknown server,
	// disabled server, unsupported transport.
	ErrorCodeConfig ErrorCode = "CONFIG"
	// ErrorCodeProcess indicates the server process failed to start or died.
	ErrorCodeProcess ErrorCode = "PROCESS"
	// ErrorCodeRPC indicates a protocol-level failure from the server,
	// including unknown methods and unknown tools.
	ErrorCodeRPC ErrorCode = "RPC"
	// ErrorCodeTimeout indicates a request deadline expired.
	ErrorCodeTimeout ErrorCode = "TIMEOUT"
	// ErrorCodeNormalization indicates an unrecognized result payload shape.
	ErrorCodeNormalization ErrorCode = "NORMALIZATION"
)

// Error is the invoker's user-facing error type: a category, a message,
// and actionable suggestions.
type Error struct {
	// Code is the error category.
	Code ErrorCode
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(e.Message)
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	if len(e.Suggestions) > 0 {
		sb.WriteString("\n  Suggestions:\n")
		for _, s := range e.Suggestions {
			sb.WriteString("  - ")
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new invocation error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetail adds detail to the error.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *Error) WithSuggestions(suggestions ...string) *Error {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// CodeOf extracts the category from an error chain, or "" if the error is
// not an invocation error.
func CodeOf(err error) ErrorCode {
	var invErr *Error
	if errors.As(err, &invErr) {
		return invErr.Code
	}
	return ""
}

// ErrUnknownServer reports a call naming a server that is not registered.
func ErrUnknownServer(name string, known []string) *Error {
	return NewError(ErrorCodeConfig, fmt.Sprintf("unknown server %q", name)).
		WithDetail(fmt.Sprintf("registered servers: %s", strings.Join(known, ", "))).
		WithSuggestions(
			"Check the server name: dirigent servers",
			fmt.Sprintf("Register the server: dirigent servers add %s --command <cmd>", name),
		)
}

// ErrServerDisabled reports a call naming a disabled server. The refusal
// happens before any process interaction.
func ErrServerDisabled(name string) *Error {
	return NewError(ErrorCodeConfig, fmt.Sprintf("server %q is disabled", name)).
		WithSuggestions(
			fmt.Sprintf("Enable the server: dirigent servers enable %s", name),
		)
}

// ErrUnsupportedTransport reports a descriptor whose transport has no
// session implementation.
func ErrUnsupportedTransport(name, transport string) *Error {
	return NewError(ErrorCodeConfig, fmt.Sprintf("server %q uses unsupported transport %q", name, transport)).
		WithDetail("only stdio sessions are implemented").
		WithSuggestions(
			"Set transport: stdio in the server configuration",
		)
}

// ErrProcessFailed reports a spawn failure or a process death during a call.
func ErrProcessFailed(name string, cause error) *Error {
	return NewError(ErrorCodeProcess, fmt.Sprintf("server %q process failed", name)).
		WithDetail(cause.Error()).
		WithCause(cause).
		WithSuggestions(
			fmt.Sprintf("Check server logs: dirigent servers logs %s", name),
			"Verify the command and arguments are correct",
			"Ensure required environment variables are set",
		)
}

// ErrCallFailed reports a protocol-level failure from the server.
func ErrCallFailed(name, tool string, cause error) *Error {
	return NewError(ErrorCodeRPC, fmt.Sprintf("tool %q on server %q failed", tool, name)).
		WithDetail(cause.Error()).
		WithCause(cause).
		WithSuggestions(
			fmt.Sprintf("List the server's tools: dirigent tools %s", name),
		)
}

// ErrCallTimeout reports a request whose deadline expired.
func ErrCallTimeout(name, method string, cause error) *Error {
	return NewError(ErrorCodeTimeout, fmt.Sprintf("server %q did not respond to %s in time", name, method)).
		WithCause(cause).
		WithSuggestions(
			"Try increasing the server's timeout in the configuration",
			fmt.Sprintf("Check server logs: dirigent servers logs %s", name),
		)
}

// ErrBadResultShape reports a payload the normalizer did not recognize.
func ErrBadResultShape(name, tool string, cause error) *Error {
	return NewError(ErrorCodeNormalization, fmt.Sprintf("tool %q on server %q returned an unrecognized result shape", tool, name)).
		WithDetail(cause.Error()).
		WithCause(cause)
}
