package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/contextframe/contextframe-go/models"
)

func (s *Server) registerSystemTools() {
	s.registry.Register(&Tool{
		Name:        "health_check",
		Description: "Report server liveness and dataset reachability.",
		InputSchema: objectSchema(map[string]any{}),
		Handler:     s.healthCheck,
	})
	s.registry.Register(&Tool{
		Name:        "list_tools",
		Description: "List every registered tool.",
		InputSchema: objectSchema(map[string]any{}),
		Handler:     s.listTools,
	})
	s.registry.Register(&Tool{
		Name:        "get_tool_info",
		Description: "Fetch one tool's description and input schema.",
		InputSchema: objectSchema(map[string]any{
			"name": prop("string", "tool name"),
		}, "name"),
		Handler: s.getToolInfo,
	})
	s.registry.Register(&Tool{
		Name:        "validate_dataset",
		Description: "Re-validate every record against the schema.",
		InputSchema: objectSchema(map[string]any{}),
		Handler:     s.validateDataset,
	})
	s.registry.Register(&Tool{
		Name:        "optimize_dataset",
		Description: "Compact fragments and rebuild stale indices.",
		InputSchema: objectSchema(map[string]any{
			"target_rows_per_fragment": prop("integer", "fragment size after compaction"),
		}),
		Handler: s.optimizeDataset,
	})
	s.registry.Register(&Tool{
		Name:        "clear_cache",
		Description: "Drop every cached search result.",
		InputSchema: objectSchema(map[string]any{}),
		Handler:     s.clearCache,
	})
	s.registry.Register(&Tool{
		Name:        "server_info",
		Description: "Report server version, uptime, dataset stats, and versions.",
		InputSchema: objectSchema(map[string]any{}),
		Handler:     s.serverInfo,
	})
}

func (s *Server) healthCheck(ctx context.Context, params json.RawMessage) (any, error) {
	status := "healthy"
	detail := ""
	if _, err := s.dataset.Stats(ctx); err != nil {
		status = "degraded"
		detail = err.Error()
	}
	return map[string]any{
		"status":    status,
		"detail":    detail,
		"timestamp": time.Now().UTC(),
		"service":   "contextframe",
	}, nil
}

func (s *Server) listTools(ctx context.Context, params json.RawMessage) (any, error) {
	tools := s.registry.List()
	out := make([]map[string]any, len(tools))
	for i, t := range tools {
		out[i] = map[string]any{"name": t.Name, "description": t.Description}
	}
	return map[string]any{"tools": out, "count": len(out)}, nil
}

func (s *Server) getToolInfo(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	tool, ok := s.registry.Get(p.Name)
	if !ok {
		return nil, models.NewNotFound("tool", p.Name)
	}
	return map[string]any{
		"name":         tool.Name,
		"description":  tool.Description,
		"input_schema": tool.InputSchema,
	}, nil
}

func (s *Server) validateDataset(ctx context.Context, params json.RawMessage) (any, error) {
	problems, err := s.dataset.ValidateAll(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"valid":    len(problems) == 0,
		"problems": problems,
	}, nil
}

func (s *Server) optimizeDataset(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		TargetRowsPerFragment int `json:"target_rows_per_fragment"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
		}
	}
	if err := s.dataset.Compact(ctx, p.TargetRowsPerFragment); err != nil {
		return nil, err
	}
	rebuilt, err := s.dataset.OptimizeIndices(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := s.dataset.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"stats": stats, "rebuilt_indices": rebuilt}, nil
}

func (s *Server) clearCache(ctx context.Context, params json.RawMessage) (any, error) {
	if s.cache == nil || !s.cache.Enabled() {
		return map[string]any{"cleared": 0, "enabled": false}, nil
	}
	cleared, err := s.cache.Clear(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"cleared": cleared, "enabled": true}, nil
}

func (s *Server) serverInfo(ctx context.Context, params json.RawMessage) (any, error) {
	stats, err := s.dataset.Stats(ctx)
	if err != nil {
		return nil, err
	}
	versions, err := s.dataset.ListVersions(ctx)
	if err != nil {
		return nil, err
	}
	info := map[string]any{
		"service":        "contextframe",
		"version":        ServerVersion,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"dataset_uri":    s.dataset.URI(),
		"stats":          stats,
		"versions":       versions,
	}
	if s.embedder != nil {
		info["embedder"] = map[string]any{
			"model": s.embedder.ModelID(),
			"dim":   s.embedder.Dim(),
		}
	}
	return info, nil
}
