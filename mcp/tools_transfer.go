package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/contextframe/contextframe-go/models"
	"github.com/contextframe/contextframe-go/schema"
	"github.com/contextframe/contextframe-go/storage"
)

// Import/export move JSON-lines files in and out of the dataset on a
// background worker; the tools return a task id immediately and progress
// streams over SSE.

func (s *Server) registerTransferTools() {
	s.registry.Register(&Tool{
		Name:        "import_documents",
		Description: "Import records from a JSON-lines file. Async; returns a task id.",
		InputSchema: objectSchema(map[string]any{
			"path":       prop("string", "local path of the JSONL file"),
			"batch_size": prop("integer", "rows per storage append (default 100)"),
		}, "path"),
		Handler: s.importDocuments,
	})
	s.registry.Register(&Tool{
		Name:        "export_documents",
		Description: "Export records to a JSON-lines file. Async; returns a task id.",
		InputSchema: objectSchema(map[string]any{
			"path":   prop("string", "local destination path"),
			"filter": prop("string", "optional filter expression"),
		}, "path"),
		Handler: s.exportDocuments,
	})
	s.registry.Register(&Tool{
		Name:        "reindex_dataset",
		Description: "Rebuild stale indices. Async; returns a task id.",
		InputSchema: objectSchema(map[string]any{}),
		Handler:     s.reindexDataset,
	})
	s.registry.Register(&Tool{
		Name:        "task_status",
		Description: "Poll a background task started by import/export/reindex.",
		InputSchema: objectSchema(map[string]any{
			"task_id": prop("string", "task id"),
		}, "task_id"),
		Handler: s.taskStatus,
	})
}

func (s *Server) importDocuments(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Path      string `json:"path"`
		BatchSize int    `json:"batch_size"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 100
	}
	if _, err := os.Stat(p.Path); err != nil {
		return nil, &models.ValidationError{Field: "path",
			Reason: fmt.Sprintf("cannot read %s: %v", p.Path, err)}
	}
	task := s.tasks.Start("import", func(ctx context.Context, progress func(float64, string)) error {
		return s.runImport(ctx, p.Path, p.BatchSize, progress)
	})
	return map[string]any{"task_id": task.ID, "status": task.Status}, nil
}

func (s *Server) runImport(ctx context.Context, path string, batchSize int, progress func(float64, string)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	total := info.Size()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	var pending []*models.Record
	imported := 0
	var read int64
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if _, err := s.dataset.AddMany(ctx, pending, batchSize); err != nil {
			return err
		}
		imported += len(pending)
		pending = nil
		pct := float64(0)
		if total > 0 {
			pct = float64(read) / float64(total) * 100
		}
		progress(pct, fmt.Sprintf("imported %d records", imported))
		return nil
	}
	for sc.Scan() {
		line := sc.Bytes()
		read += int64(len(line)) + 1
		if len(line) == 0 {
			continue
		}
		rec, err := schema.DecodeRecordJSON(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", imported+len(pending)+1, err)
		}
		pending = append(pending, rec)
		if len(pending) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return flush()
}

func (s *Server) exportDocuments(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Path   string `json:"path"`
		Filter string `json:"filter"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	// Fail a bad filter now, before the task starts.
	if _, err := s.dataset.Scanner(storage.ScanOptions{Filter: p.Filter, Limit: 1}); err != nil {
		return nil, err
	}
	task := s.tasks.Start("export", func(ctx context.Context, progress func(float64, string)) error {
		return s.runExport(ctx, p.Path, p.Filter, progress)
	})
	return map[string]any{"task_id": task.ID, "status": task.Status}, nil
}

func (s *Server) runExport(ctx context.Context, path, filter string, progress func(float64, string)) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner, err := s.dataset.Scanner(storage.ScanOptions{Filter: filter})
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	exported := 0
	for {
		batch, err := scanner.Next(ctx)
		if err != nil {
			return err
		}
		if batch == nil {
			break
		}
		for _, rec := range batch.FromBatch() {
			line, err := schema.EncodeRecordJSON(rec)
			if err != nil {
				return err
			}
			if _, err := w.Write(append(line, '\n')); err != nil {
				return err
			}
			exported++
		}
		progress(0, fmt.Sprintf("exported %d records", exported))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	progress(100, fmt.Sprintf("exported %d records", exported))
	return nil
}

func (s *Server) reindexDataset(ctx context.Context, params json.RawMessage) (any, error) {
	task := s.tasks.Start("reindex", func(ctx context.Context, progress func(float64, string)) error {
		rebuilt, err := s.dataset.OptimizeIndices(ctx)
		if err != nil {
			return err
		}
		progress(100, fmt.Sprintf("rebuilt %d indices", len(rebuilt)))
		return nil
	})
	return map[string]any{"task_id": task.ID, "status": task.Status}, nil
}

func (s *Server) taskStatus(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &models.ValidationError{Field: "params", Reason: err.Error()}
	}
	task, ok := s.tasks.Get(p.TaskID)
	if !ok {
		return nil, models.NewNotFound("task", p.TaskID)
	}
	return task, nil
}
