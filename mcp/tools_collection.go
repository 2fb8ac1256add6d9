package mcp

import (
	"context"
	"encoding/json"

	"github.com/contextframe/contextframe-go/models"
	"github.com/contextframe/contextframe-go/schema"
	"github.com/contextframe/contextframe-go/services"
)

func (s *Server) registerCollectionTools() {
	s.registry.Register(&Tool{
		Name:        "collection_create",
		Description: "Create a collection header record.",
		InputSchema: objectSchema(map[string]any{
			"title":      prop("string", "collection title"),
			"collection": prop("string", "collection name (defaults to title)"),
			"context":    prop("string", "purpose of the collection"),
		}, "title"),
		Handler: s.collectionCreate,
	})
	s.registry.Register(&Tool{
		Name:        "collection_get",
		Description: "Fetch a collection header and its members.",
		InputSchema: objectSchema(map[string]any{
			"collection_id": prop("string", "collection header uuid"),
		}, "collection_id"),
		Handler: s.collectionGet,
	})
	s.registry.Register(&Tool{
		Name:        "collection_update",
		Description: "Replace a collection header.",
		InputSchema: objectSchema(map[string]any{
			"collection_id": prop("string", "collection header uuid"),
			"record":        recordSchema,
		}, "collection_id", "record"),
		Handler: s.collectionUpdate,
	})
	s.registry.Register(&Tool{
		Name:        "collection_delete",
		Description: "Delete a collection header, optionally with its members.",
		InputSchema: objectSchema(map[string]any{
			"collection_id":  prop("string", "collection header uuid"),
			"delete_members": prop("boolean", "also delete member records"),
		}, "collection_id"),
		Handler: s.collectionDelete,
	})
	s.registry.Register(&Tool{
		Name:        "collection_list",
		Description: "List every collection header.",
		InputSchema: objectSchema(map[string]any{}),
		Handler:     s.collectionList,
	})
	s.registry.Register(&Tool{
		Name:        "collection_add_documents",
		Description: "Attach documents to a collection with member_of edges.",
		InputSchema: objectSchema(map[string]any{
			"collection_id": prop("string", "collection header uuid"),
			"uuids":         map[string]any{"type": "array", "description": "document uuids to attach"},
		}, "collection_id", "uuids"),
		Handler: s.collectionAddDocuments,
	})
	s.registry.Register(&Tool{
		Name:        "collection_remove_documents",
		Description: "Detach documents from a collection.",
		InputSchema: objectSchema(map[string]any{
			"collection_id": prop("string", "collection header uuid"),
			"uuids":         map[string]any{"type": "array", "description": "document uuids to detach"},
		}, "collection_id", "uuids"),
		Handler: s.collectionRemoveDocuments,
	})
	s.registry.Register(&Tool{
		Name:        "collection_stats",
		Description: "Summarize a collection's membership.",
		InputSchema: objectSchema(map[string]any{
			"collection_id": prop("string", "collection header uuid"),
		}, "collection_id"),
		Handler: s.collectionStats,
	})
	s.registry.Register(&Tool{
		Name:        "frameset_create",
		Description: "Record a synthesized answer citing its source records.",
		InputSchema: objectSchema(map[string]any{
			"title":   prop("string", "frameset title"),
			"content": prop("string", "synthesized answer text"),
			"query":   prop("string", "the question that produced the answer"),
			"sources": map[string]any{"type": "array", "description": "cited records: {uuid, excerpt}"},
		}, "title", "content", "query", "sources"),
		Handler: s.framesetCreate,
	})
}

func (s *Server) collectionCreate(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Title      string `json:"title"`
		Collection string `json:"collection"`
		Context    string `json:"context"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	header, err := s.collections.CreateCollection(ctx, &models.Record{
		Title:      p.Title,
		Collection: p.Collection,
		Context:    p.Context,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"record": header}, nil
}

func (s *Server) collectionGet(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		CollectionID string `json:"collection_id"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	header, members, err := s.collections.GetCollection(ctx, p.CollectionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"header": header, "members": members}, nil
}

func (s *Server) collectionUpdate(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		CollectionID string          `json:"collection_id"`
		Record       json.RawMessage `json:"record"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	rec, err := schema.DecodeRecordJSON(p.Record)
	if err != nil {
		return nil, err
	}
	header, err := s.collections.UpdateCollection(ctx, p.CollectionID, rec)
	if err != nil {
		return nil, err
	}
	return map[string]any{"record": header}, nil
}

func (s *Server) collectionDelete(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		CollectionID  string `json:"collection_id"`
		DeleteMembers bool   `json:"delete_members"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	if err := s.collections.DeleteCollection(ctx, p.CollectionID, p.DeleteMembers); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true}, nil
}

func (s *Server) collectionList(ctx context.Context, params json.RawMessage) (any, error) {
	headers, err := s.collections.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"collections": headers, "count": len(headers)}, nil
}

func (s *Server) collectionAddDocuments(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		CollectionID string   `json:"collection_id"`
		UUIDs        []string `json:"uuids"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	if err := s.collections.AddDocuments(ctx, p.CollectionID, p.UUIDs); err != nil {
		return nil, err
	}
	return map[string]any{"added": len(p.UUIDs)}, nil
}

func (s *Server) collectionRemoveDocuments(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		CollectionID string   `json:"collection_id"`
		UUIDs        []string `json:"uuids"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	if err := s.collections.RemoveDocuments(ctx, p.CollectionID, p.UUIDs); err != nil {
		return nil, err
	}
	return map[string]any{"removed": len(p.UUIDs)}, nil
}

func (s *Server) collectionStats(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		CollectionID string `json:"collection_id"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	return s.collections.CollectionStats(ctx, p.CollectionID)
}

func (s *Server) framesetCreate(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Title   string                    `json:"title"`
		Content string                    `json:"content"`
		Query   string                    `json:"query"`
		Sources []services.FramesetSource `json:"sources"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	rec, err := s.collections.CreateFrameset(ctx, p.Title, p.Content, p.Query, p.Sources)
	if err != nil {
		return nil, err
	}
	return map[string]any{"record": rec}, nil
}
