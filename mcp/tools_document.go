package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/contextframe/contextframe-go/models"
	"github.com/contextframe/contextframe-go/schema"
)

// recordSchema documents the record parameter; field-level validation is
// the schema package's job.
var recordSchema = map[string]any{
	"type":        "object",
	"description": "record fields; unknown keys are rejected unless prefixed x_",
}

func (s *Server) registerDocumentTools() {
	s.registry.Register(&Tool{
		Name:        "document_create",
		Description: "Create one document. uuid and dates are assigned when absent.",
		InputSchema: objectSchema(map[string]any{"record": recordSchema}, "record"),
		Handler:     s.documentCreate,
	})
	s.registry.Register(&Tool{
		Name:        "document_get",
		Description: "Fetch a document by uuid. Blobs are stripped unless include_blob is set.",
		InputSchema: objectSchema(map[string]any{
			"uuid":         prop("string", "record uuid"),
			"include_blob": prop("boolean", "also fetch the binary payload"),
		}, "uuid"),
		Handler: s.documentGet,
	})
	s.registry.Register(&Tool{
		Name:        "document_update",
		Description: "Replace a document, preserving its uuid.",
		InputSchema: objectSchema(map[string]any{
			"uuid":   prop("string", "record uuid"),
			"record": recordSchema,
		}, "uuid", "record"),
		Handler: s.documentUpdate,
	})
	s.registry.Register(&Tool{
		Name:        "document_delete",
		Description: "Delete a document. Deleting an absent uuid succeeds.",
		InputSchema: objectSchema(map[string]any{"uuid": prop("string", "record uuid")}, "uuid"),
		Handler:     s.documentDelete,
	})
	s.registry.Register(&Tool{
		Name:        "document_exists",
		Description: "Report whether a document exists.",
		InputSchema: objectSchema(map[string]any{"uuid": prop("string", "record uuid")}, "uuid"),
		Handler:     s.documentExists,
	})
	s.registry.Register(&Tool{
		Name:        "document_list",
		Description: "List documents with an optional filter expression.",
		InputSchema: objectSchema(map[string]any{
			"filter": prop("string", "filter expression over scalar columns"),
			"limit":  prop("integer", "max rows (default 100)"),
			"offset": prop("integer", "rows to skip"),
		}),
		Handler: s.documentList,
	})
	s.registry.Register(&Tool{
		Name:        "document_create_batch",
		Description: "Create many documents in bounded chunks.",
		InputSchema: objectSchema(map[string]any{
			"records":    map[string]any{"type": "array", "description": "records to create"},
			"batch_size": prop("integer", "rows per storage append (default 100)"),
		}, "records"),
		Handler: s.documentCreateBatch,
	})
	s.registry.Register(&Tool{
		Name:        "document_update_batch",
		Description: "Upsert many documents keyed by uuid.",
		InputSchema: objectSchema(map[string]any{
			"records": map[string]any{"type": "array", "description": "records to upsert; each needs a uuid"},
		}, "records"),
		Handler: s.documentUpdateBatch,
	})
	s.registry.Register(&Tool{
		Name:        "document_create_chunked",
		Description: "Split a long text into chunks and store them as a collection of embedded documents.",
		InputSchema: objectSchema(map[string]any{
			"title":      prop("string", "title of the source document"),
			"text":       prop("string", "full text to split"),
			"max_tokens": prop("integer", "tokens per chunk (default 512)"),
			"overlap":    prop("integer", "token overlap between chunks (default 64)"),
		}, "title", "text"),
		Handler: s.documentCreateChunked,
	})
	s.registry.Register(&Tool{
		Name:        "document_delete_batch",
		Description: "Delete many documents by uuid.",
		InputSchema: objectSchema(map[string]any{
			"uuids": map[string]any{"type": "array", "description": "uuids to delete"},
		}, "uuids"),
		Handler: s.documentDeleteBatch,
	})
}

func (s *Server) documentCreate(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Record json.RawMessage `json:"record"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "record", Reason: err.Error()}
	}
	rec, err := schema.DecodeRecordJSON(p.Record)
	if err != nil {
		return nil, err
	}
	created, err := s.dataset.Add(ctx, rec)
	if err != nil {
		return nil, err
	}
	return map[string]any{"record": created}, nil
}

func (s *Server) documentGet(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		UUID        string `json:"uuid"`
		IncludeBlob bool   `json:"include_blob"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	rec, err := s.dataset.Get(ctx, p.UUID, p.IncludeBlob)
	if err != nil {
		return nil, err
	}
	return map[string]any{"record": rec}, nil
}

func (s *Server) documentUpdate(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		UUID   string          `json:"uuid"`
		Record json.RawMessage `json:"record"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	rec, err := schema.DecodeRecordJSON(p.Record)
	if err != nil {
		return nil, err
	}
	updated, err := s.dataset.UpdateRecord(ctx, p.UUID, rec)
	if err != nil {
		return nil, err
	}
	return map[string]any{"record": updated}, nil
}

func (s *Server) documentDelete(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	if err := s.dataset.DeleteRecord(ctx, p.UUID); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true, "uuid": p.UUID}, nil
}

func (s *Server) documentExists(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	exists, err := s.dataset.Exists(ctx, p.UUID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"exists": exists}, nil
}

func (s *Server) documentList(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Filter string `json:"filter"`
		Limit  int    `json:"limit"`
		Offset int    `json:"offset"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
		}
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

func decodeRecords(raw []json.RawMessage) ([]*models.Record, error) {
	recs := make([]*models.Record, 0, len(raw))
	for i, r := range raw {
		rec, err := schema.DecodeRecordJSON(r)
		if err != nil {
			return nil, fmt.Errorf("records[%d]: %w", i, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *Server) documentCreateBatch(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Records   []json.RawMessage `json:"records"`
		BatchSize int               `json:"batch_size"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	recs, err := decodeRecords(p.Records)
	if err != nil {
		return nil, err
	}
	created, err := s.dataset.AddMany(ctx, recs, p.BatchSize)
	if err != nil {
		return nil, err
	}
	uuids := make([]string, len(created))
	for i, r := range created {
		uuids[i] = r.UUID
	}
	return map[string]any{"created": len(created), "uuids": uuids}, nil
}

func (s *Server) documentUpdateBatch(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Records []json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	recs, err := decodeRecords(p.Records)
	if err != nil {
		return nil, err
	}
	updated := 0
	for _, rec := range recs {
		if rec.UUID == "" {
			return nil, &models.ValidationError{Field: "uuid",
				Reason: "batch update requires a uuid on every record"}
		}
		if _, err := s.dataset.Upsert(ctx, rec); err != nil {
			return nil, err
		}
		updated++
	}
	return map[string]any{"updated": updated}, nil
}

func (s *Server) documentCreateChunked(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Title     string `json:"title"`
		Text      string `json:"text"`
		MaxTokens int    `json:"max_tokens"`
		Overlap   *int   `json:"overlap"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = 512
	}
	overlap := 64
	if p.Overlap != nil && *p.Overlap >= 0 {
		overlap = *p.Overlap
	}
	chunks := s.splitter.Split(p.Text, p.MaxTokens, overlap)
	if len(chunks) == 0 {
		return nil, &models.ValidationError{Field: "text", Reason: "text produced no chunks"}
	}
	var vectors [][]float32
	if s.embedder != nil {
		var err error
		vectors, err = s.embedder.Embed(ctx, chunks)
		if err != nil {
			return nil, &models.DependencyError{Component: "embedder", Err: err}
		}
	}
	header, err := s.collections.CreateCollection(ctx, &models.Record{
		Title:   p.Title,
		Context: "chunks of " + p.Title,
	})
	if err != nil {
		return nil, err
	}
	uuids := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		pos := i
		rec := &models.Record{
			Title:         fmt.Sprintf("%s [%d/%d]", p.Title, i+1, len(chunks)),
			TextContent:   chunk,
			Position:      &pos,
			Relationships: []models.Relationship{models.NewMemberOf(header.UUID)},
		}
		if vectors != nil {
			rec.Vector = vectors[i]
		}
		created, err := s.dataset.Add(ctx, rec)
		if err != nil {
			return nil, err
		}
		uuids = append(uuids, created.UUID)
	}
	return map[string]any{
		"collection_id": header.UUID,
		"chunks":        len(chunks),
		"uuids":         uuids,
	}, nil
}

func (s *Server) documentDeleteBatch(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		UUIDs []string `json:"uuids"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	for _, id := range p.UUIDs {
		if err := s.dataset.DeleteRecord(ctx, id); err != nil {
			return nil, err
		}
	}
	return map[string]any{"deleted": len(p.UUIDs)}, nil
}
