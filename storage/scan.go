package storage

import (
	"context"

	"github.com/contextframe/contextframe-go/models"
	"github.com/contextframe/contextframe-go/schema"
)

// ScanOptions configures a snapshot scan.
type ScanOptions struct {
	// Filter is the restricted SQL-like expression; empty means all rows.
	Filter string
	// Columns is the projection. Nil means "all columns", which the
	// blob-safe rule narrows to "all non-blob columns" once a filter is
	// present. Naming a blob column together with a filter is a
	// programmer error and fails with ErrBlobScan.
	Columns []string
	Limit   int
	Offset  int
}

// Scanner streams one projected batch per fragment from a fixed snapshot.
type Scanner struct {
	table    *Table
	manifest *Manifest
	deleted  deletionVector
	expr     FilterExpr
	columns  []string
	limit    int
	offset   int

	fragIdx   int
	skipped   int
	delivered int
	done      bool
}

// Scan opens a scanner over the current snapshot, applying the blob-safe
// projection rule.
func (t *Table) Scan(opts ScanOptions) (*Scanner, error) {
	expr, err := ParseFilter(opts.Filter)
	if err != nil {
		return nil, err
	}
	columns := opts.Columns
	if expr != nil {
		if columns == nil {
			// Blob-safe default: a filtered scan never projects blob
			// columns; callers needing the payload use FetchBlob.
			for _, c := range schema.AllColumns {
				if !schema.BlobColumns[c] {
					columns = append(columns, c)
				}
			}
		} else {
			for _, c := range columns {
				if schema.BlobColumns[c] {
					return nil, models.ErrBlobScan
				}
			}
		}
	}
	m, del := t.snapshot()
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	return &Scanner{
		table:    t,
		manifest: m,
		deleted:  del,
		expr:     expr,
		columns:  columns,
		limit:    limit,
		offset:   opts.Offset,
	}, nil
}

// Version returns the snapshot version the scan is pinned to.
func (s *Scanner) Version() uint64 { return s.manifest.Version }

// Next returns the next non-empty batch, or nil when the scan is done.
func (s *Scanner) Next(ctx context.Context) (*schema.Batch, error) {
	for !s.done && s.fragIdx < len(s.manifest.Fragments) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ref := s.manifest.Fragments[s.fragIdx]
		s.fragIdx++
		batch, err := readFragment(ctx, s.table.store, ref.ID)
		if err != nil {
			return nil, err
		}
		dead := s.deleted.deleted(ref.ID)
		var rows []int
		for i := 0; i < batch.NumRows; i++ {
			if dead[i] {
				continue
			}
			if s.expr != nil && !s.expr.Eval(batch, i) {
				continue
			}
			if s.skipped < s.offset {
				s.skipped++
				continue
			}
			rows = append(rows, i)
			s.delivered++
			if s.limit >= 0 && s.delivered >= s.limit {
				s.done = true
				break
			}
		}
		if len(rows) == 0 {
			continue
		}
		out := batch.Select(rows)
		if s.columns != nil {
			out = out.Project(s.columns)
		}
		return out, nil
	}
	s.done = true
	return nil, nil
}

// All drains the scanner into a single batch.
func (s *Scanner) All(ctx context.Context) (*schema.Batch, error) {
	out := &schema.Batch{}
	for {
		batch, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		if batch == nil {
			return out, nil
		}
		out.Append(batch)
	}
}
