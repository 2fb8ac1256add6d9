package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/contextframe/contextframe-go/models"
	impl "github.com/contextframe/contextframe-go/services/impl"
)

func (s *Server) registerSearchTools() {
	searchProps := map[string]any{
		"query":         prop("string", "query text"),
		"vector":        map[string]any{"type": "array", "description": "query vector (vector mode)"},
		"mode":          enumProp("search mode", "text", "vector", "hybrid"),
		"limit":         prop("integer", "max results (default 10)"),
		"offset":        prop("integer", "results to skip"),
		"filter":        prop("string", "filter expression over scalar columns"),
		"collection_id": prop("string", "restrict to members of this collection header"),
		"auto_index":    prop("boolean", "create a missing FTS index on first use"),
	}
	s.registry.Register(&Tool{
		Name:        "search_documents",
		Description: "Search the dataset by text, vector, or hybrid ranking.",
		InputSchema: objectSchema(searchProps, "mode"),
		Handler:     s.searchDocuments,
	})
	s.registry.Register(&Tool{
		Name:        "search_similar",
		Description: "Rank documents by similarity to an existing record's embedding.",
		InputSchema: objectSchema(map[string]any{
			"uuid":  prop("string", "seed record uuid"),
			"limit": prop("integer", "max results (default 10)"),
		}, "uuid"),
		Handler: s.searchSimilar,
	})
	s.registry.Register(&Tool{
		Name:        "search_by_metadata",
		Description: "Filtered scan without ranking: every record matching the filter.",
		InputSchema: objectSchema(map[string]any{
			"filter": prop("string", "filter expression over scalar columns"),
			"limit":  prop("integer", "max results (default 100)"),
			"offset": prop("integer", "results to skip"),
		}, "filter"),
		Handler: s.searchByMetadata,
	})
	s.registry.Register(&Tool{
		Name:        "search_within_collection",
		Description: "Search restricted to one collection's members.",
		InputSchema: objectSchema(map[string]any{
			"collection_id": prop("string", "collection header uuid"),
			"query":         prop("string", "query text; * matches every member"),
			"mode":          enumProp("search mode", "text", "vector", "hybrid"),
			"limit":         prop("integer", "max results (default 10)"),
			"auto_index":    prop("boolean", "create a missing FTS index on first use"),
		}, "collection_id", "query"),
		Handler: s.searchWithinCollection,
	})
	s.registry.Register(&Tool{
		Name:        "search_stream",
		Description: "Search and return the result set as a batched cursor payload.",
		InputSchema: objectSchema(mergeProps(searchProps, map[string]any{
			"batch_size": prop("integer", "hits per batch (default 10)"),
		}), "mode"),
		Handler: s.searchStream,
	})
}

func mergeProps(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

type searchParams struct {
	Query        string            `json:"query"`
	Vector       []float32         `json:"vector"`
	Mode         models.SearchMode `json:"mode"`
	Limit        int               `json:"limit"`
	Offset       int               `json:"offset"`
	Filter       string            `json:"filter"`
	CollectionID string            `json:"collection_id"`
	AutoIndex    bool              `json:"auto_index"`
	BatchSize    int               `json:"batch_size"`
}

func (p searchParams) request() models.SearchRequest {
	return models.SearchRequest{
		Query:        p.Query,
		Vector:       p.Vector,
		Mode:         p.Mode,
		Limit:        p.Limit,
		Offset:       p.Offset,
		Filter:       p.Filter,
		CollectionID: p.CollectionID,
		AutoIndex:    p.AutoIndex,
	}
}

func (s *Server) searchDocuments(ctx context.Context, params json.RawMessage) (any, error) {
	var p searchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	req := p.request()

	// Results are cached per dataset version, so a stale hit is impossible.
	cacheKey := ""
	if s.cache != nil && s.cache.Enabled() {
		cacheKey = impl.SearchCacheKey(s.dataset.URI(), s.dataset.Table().Version(), req)
		var cached models.SearchResult
		if found, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && found {
			return &cached, nil
		}
	}
	result, err := s.search.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	if cacheKey != "" {
		ttl := time.Duration(0)
		if s.cfg != nil && s.cfg.Redis.CacheTTL > 0 {
			ttl = time.Duration(s.cfg.Redis.CacheTTL) * time.Second
		}
		_ = s.cache.Set(ctx, cacheKey, result, ttl)
	}
	return result, nil
}

func (s *Server) searchSimilar(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		UUID  string `json:"uuid"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	if p.Limit <= 0 {
		p.Limit = 10
	}
	return s.search.SearchSimilar(ctx, p.UUID, p.Limit)
}

func (s *Server) searchByMetadata(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Filter string `json:"filter"`
		Limit  int    `json:"limit"`
		Offset int    `json:"offset"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	if p.Limit <= 0 {
		p.Limit = 100
	}
	recs, err := s.dataset.List(ctx, p.Filter, p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	return map[string]any{"records": recs, "count": len(recs)}, nil
}

func (s *Server) searchWithinCollection(ctx context.Context, params json.RawMessage) (any, error) {
	var p searchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	if p.CollectionID == "" {
		return nil, &models.ValidationError{Field: "collection_id", Reason: "collection_id is required"}
	}
	if p.Mode == "" {
		p.Mode = models.SearchModeText
	}
	// Verify the collection exists so an unknown id is a not-found, not an
	// empty result.
	if _, _, err := s.collections.GetCollection(ctx, p.CollectionID); err != nil {
		return nil, err
	}
	return s.search.Search(ctx, p.request())
}

func (s *Server) searchStream(ctx context.Context, params json.RawMessage) (any, error) {
	var p searchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 10
	}
	cursor, err := s.search.SearchStream(ctx, p.request(), p.BatchSize)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()
	var batches [][]models.SearchHit
	for {
		batch, err := cursor.Next()
		if err != nil {
			return nil, fmt.Errorf("stream batch: %w", err)
		}
		if batch == nil {
			break
		}
		batches = append(batches, batch)
	}
	return map[string]any{"batches": batches, "batch_size": p.BatchSize}, nil
}
