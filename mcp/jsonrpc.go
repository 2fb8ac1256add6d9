// Package mcp exposes the dataset engine as Model Context Protocol tools
// over JSON-RPC 2.0, with an HTTP transport, a line-delimited stdio
// transport, and an SSE progress stream for long-running tasks.
package mcp

import (
	"encoding/json"
	"errors"

	"github.com/contextframe/contextframe-go/auth"
	"github.com/contextframe/contextframe-go/models"
)

// JSON-RPC 2.0 error codes, including the server-defined range.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeDatasetNotFound   = -32000
	CodeDocumentNotFound  = -32001
	CodeEmbeddingError    = -32002
	CodeInvalidSearchMode = -32003
	CodeFilterParseError  = -32004
	CodeUnauthorized      = -32005
	CodeRateLimited       = -32006
	CodeConflict          = -32007
)

// Request is one JSON-RPC 2.0 request frame.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Response is one JSON-RPC 2.0 response frame.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// RPCError carries the stable code plus a structured data object with the
// error kind, details, and a remediation suggestion where safe.
type RPCError struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData is the data payload of an RPCError.
type ErrorData struct {
	Kind       string `json:"kind"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func newResponse(id json.RawMessage, result any) Response {
	return Response{JSONRPC: "2.0", Result: result, ID: id}
}

func newErrorResponse(id json.RawMessage, rpcErr *RPCError) Response {
	return Response{JSONRPC: "2.0", Error: rpcErr, ID: id}
}

// rpcErrorFor maps an engine or chain error onto the stable code table.
func rpcErrorFor(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	switch {
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrForbidden):
		return &RPCError{Code: CodeUnauthorized, Message: err.Error(),
			Data: &ErrorData{Kind: "unauthorized"}}
	case errors.Is(err, auth.ErrRateLimited):
		return &RPCError{Code: CodeRateLimited, Message: err.Error(),
			Data: &ErrorData{Kind: "rate_limited", Suggestion: "retry after backoff"}}
	}
	kind := models.KindOf(err)
	data := &ErrorData{Kind: string(kind), Details: err.Error()}
	switch kind {
	case models.KindNotFound:
		var nfe *models.NotFoundError
		if errors.As(err, &nfe) && nfe.Resource == "dataset" {
			return &RPCError{Code: CodeDatasetNotFound, Message: err.Error(), Data: data}
		}
		return &RPCError{Code: CodeDocumentNotFound, Message: err.Error(), Data: data}
	case models.KindFilterParse:
		return &RPCError{Code: CodeFilterParseError, Message: err.Error(), Data: data}
	case models.KindValidation, models.KindDuplicate:
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			data.Suggestion = ve.Hint
			if ve.Field == "mode" {
				return &RPCError{Code: CodeInvalidSearchMode, Message: err.Error(), Data: data}
			}
		}
		return &RPCError{Code: CodeInvalidParams, Message: err.Error(), Data: data}
	case models.KindConflict:
		return &RPCError{Code: CodeConflict, Message: err.Error(),
			Data: &ErrorData{Kind: "conflict", Details: err.Error(), Suggestion: "retry against the new version"}}
	case models.KindDependency:
		var dep *models.DependencyError
		if errors.As(err, &dep) && dep.Component == "embedder" {
			return &RPCError{Code: CodeEmbeddingError, Message: err.Error(), Data: data}
		}
		return &RPCError{Code: CodeInternalError, Message: err.Error(), Data: data}
	case models.KindTimeout:
		data.Details = "timeout"
		return &RPCError{Code: CodeInternalError, Message: "deadline exceeded", Data: data}
	default:
		return &RPCError{Code: CodeInternalError, Message: err.Error(), Data: data}
	}
}

// Error makes RPCError usable as a Go error inside tool handlers.
func (e *RPCError) Error() string { return e.Message }
