package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/contextframe/contextframe-go/auth"
	"github.com/contextframe/contextframe-go/capabilities"
	"github.com/contextframe/contextframe-go/config"
	"github.com/contextframe/contextframe-go/services"
)

// ServerVersion identifies this build in server_info responses.
const ServerVersion = "0.9.0"

// Server wires the dataset engine, search, collections, cache, and the
// security chain into the MCP tool registry. The registry and config are
// immutable once the server is constructed.
type Server struct {
	cfg         *config.Config
	dataset     services.DatasetService
	search      services.SearchService
	collections services.CollectionService
	cache       services.CacheService
	embedder    capabilities.Embedder
	splitter    capabilities.ChunkSplitter

	registry  *Registry
	chain     *auth.Chain
	tasks     *TaskManager
	startedAt time.Time
}

// ServerDeps carries the collaborators a Server is assembled from.
type ServerDeps struct {
	Dataset     services.DatasetService
	Search      services.SearchService
	Collections services.CollectionService
	Cache       services.CacheService
	Embedder    capabilities.Embedder
	Splitter    capabilities.ChunkSplitter
	Chain       *auth.Chain
	Clock       capabilities.Clock
	IDs         capabilities.IDGenerator
}

// NewServer builds the server and registers the full tool set.
func NewServer(cfg *config.Config, deps ServerDeps) *Server {
	clock := deps.Clock
	if clock == nil {
		clock = capabilities.SystemClock{}
	}
	ids := deps.IDs
	if ids == nil {
		ids = capabilities.UUIDGenerator{}
	}
	chain := deps.Chain
	if chain == nil {
		chain = auth.NewChain(nil, nil)
	}
	splitter := deps.Splitter
	if splitter == nil {
		splitter = capabilities.WhitespaceSplitter{}
	}
	s := &Server{
		cfg:         cfg,
		dataset:     deps.Dataset,
		search:      deps.Search,
		collections: deps.Collections,
		cache:       deps.Cache,
		embedder:    deps.Embedder,
		splitter:    splitter,
		registry:    NewRegistry(),
		chain:       chain,
		tasks:       NewTaskManager(clock, ids),
		startedAt:   clock.Now(),
	}
	s.registerDocumentTools()
	s.registerSearchTools()
	s.registerCollectionTools()
	s.registerTransferTools()
	s.registerSystemTools()
	return s
}

// Registry exposes the immutable tool registry.
func (s *Server) Registry() *Registry { return s.registry }

// Tasks exposes the background task manager for the SSE transport.
func (s *Server) Tasks() *TaskManager { return s.tasks }

// toolTimeout is the per-invocation deadline.
func (s *Server) toolTimeout() time.Duration {
	secs := 30
	if s.cfg != nil && s.cfg.Server.ToolTimeout > 0 {
		secs = s.cfg.Server.ToolTimeout
	}
	return time.Duration(secs) * time.Second
}

// Dispatch validates, authorizes, and executes one JSON-RPC request.
// authHeader is the transport's Authorization value (empty on stdio).
func (s *Server) Dispatch(ctx context.Context, req Request, authHeader, remoteAddr string) Response {
	if req.JSONRPC != "2.0" {
		return newErrorResponse(req.ID, &RPCError{Code: CodeInvalidRequest,
			Message: "jsonrpc must be \"2.0\"", Data: &ErrorData{Kind: "validation"}})
	}
	if req.Method == "" {
		return newErrorResponse(req.ID, &RPCError{Code: CodeInvalidRequest,
			Message: "method is required", Data: &ErrorData{Kind: "validation"}})
	}
	tool, ok := s.registry.Get(req.Method)
	if !ok {
		return newErrorResponse(req.ID, &RPCError{Code: CodeMethodNotFound,
			Message: "unknown tool " + req.Method,
			Data:    &ErrorData{Kind: "not_found", Suggestion: "call list_tools for the registry"}})
	}

	toolReq := auth.ToolRequest{Tool: req.Method, AuthHeader: authHeader, RemoteAddr: remoteAddr}
	identity, err := s.chain.Check(ctx, toolReq)
	if err != nil {
		rpcErr := rpcErrorFor(err)
		s.audit(ctx, identity, req.Method, rpcErr.Code, 0)
		return newErrorResponse(req.ID, rpcErr)
	}

	if err := validateParams(tool.InputSchema, req.Params); err != nil {
		rpcErr := rpcErrorFor(err)
		s.audit(ctx, identity, req.Method, rpcErr.Code, 0)
		return newErrorResponse(req.ID, rpcErr)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.toolTimeout())
	defer cancel()
	start := time.Now()
	result, err := tool.Handler(callCtx, req.Params)
	elapsed := time.Since(start)
	if err != nil {
		rpcErr := rpcErrorFor(err)
		s.audit(ctx, identity, req.Method, rpcErr.Code, elapsed)
		return newErrorResponse(req.ID, rpcErr)
	}
	s.audit(ctx, identity, req.Method, 0, elapsed)
	return newResponse(req.ID, result)
}

func (s *Server) audit(ctx context.Context, id auth.Identity, tool string, code int, elapsed time.Duration) {
	if s.chain.Auditor == nil {
		return
	}
	s.chain.Auditor.Emit(ctx, auth.AuditEvent{
		Caller:     id.Caller,
		Tool:       tool,
		Code:       code,
		DurationMs: elapsed.Milliseconds(),
		At:         time.Now().UTC(),
	})
}

// HandleRaw parses a raw frame and dispatches it; parse failures produce
// the -32700 response.
func (s *Server) HandleRaw(ctx context.Context, data []byte, authHeader, remoteAddr string) Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return newErrorResponse(nil, &RPCError{Code: CodeParseError,
			Message: "invalid JSON-RPC frame", Data: &ErrorData{Kind: "validation", Details: err.Error()}})
	}
	return s.Dispatch(ctx, req, authHeader, remoteAddr)
}
