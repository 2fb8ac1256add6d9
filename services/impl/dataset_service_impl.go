package impl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/contextframe/contextframe-go/capabilities"
	"github.com/contextframe/contextframe-go/models"
	"github.com/contextframe/contextframe-go/schema"
	"github.com/contextframe/contextframe-go/services"
	"github.com/contextframe/contextframe-go/storage"
)

// datasetServiceImpl implements DatasetService over a storage.Table.
type datasetServiceImpl struct {
	table *storage.Table
	clock capabilities.Clock
	ids   capabilities.IDGenerator
}

// NewDatasetService wraps an open table in the engine API.
func NewDatasetService(table *storage.Table, clock capabilities.Clock, ids capabilities.IDGenerator) services.DatasetService {
	if clock == nil {
		clock = capabilities.SystemClock{}
	}
	if ids == nil {
		ids = capabilities.UUIDGenerator{}
	}
	return &datasetServiceImpl{table: table, clock: clock, ids: ids}
}

// CreateDataset initializes a new dataset at uri and returns its engine.
func CreateDataset(ctx context.Context, uri string, dim int, opts *storage.TableOptions) (services.DatasetService, error) {
	table, err := storage.CreateTable(ctx, uri, dim, opts)
	if err != nil {
		return nil, err
	}
	o := storage.TableOptions{}
	if opts != nil {
		o = *opts
	}
	return NewDatasetService(table, o.Clock, o.IDs), nil
}

// OpenDataset opens an existing dataset, optionally pinned at a version.
func OpenDataset(ctx context.Context, uri string, version uint64, opts *storage.TableOptions) (services.DatasetService, error) {
	table, err := storage.OpenTable(ctx, uri, version, opts)
	if err != nil {
		return nil, err
	}
	o := storage.TableOptions{}
	if opts != nil {
		o = *opts
	}
	return NewDatasetService(table, o.Clock, o.IDs), nil
}

func (s *datasetServiceImpl) URI() string { return s.table.URI() }

func (s *datasetServiceImpl) Table() *storage.Table { return s.table }

func (s *datasetServiceImpl) Close() error { return nil }

// prepare defaults and validates a record before it is written.
func (s *datasetServiceImpl) prepare(ctx context.Context, rec *models.Record) (*models.Record, error) {
	out := rec.Clone()
	if out.UUID == "" {
		out.UUID = s.ids.NewID()
	}
	if out.RecordType == "" {
		out.RecordType = models.RecordTypeDocument
	}
	today := s.clock.Now().UTC().Format("2006-01-02")
	if out.CreatedAt == "" {
		out.CreatedAt = today
	}
	// updated_at is authoritative on every write.
	out.UpdatedAt = today
	if err := schema.Validate(out, s.table.Dimension()); err != nil {
		return nil, err
	}
	if err := s.checkRelationships(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// checkRelationships verifies member_of targets exist and keeps the
// member's collection string aligned with its header.
func (s *datasetServiceImpl) checkRelationships(ctx context.Context, rec *models.Record) error {
	for i, rel := range rec.Relationships {
		if rel.Type != models.RelationshipMemberOf || rel.ID == "" {
			continue
		}
		if rel.ID == rec.UUID {
			return &models.ValidationError{
				Field:  fmt.Sprintf("relationships[%d]", i),
				Reason: "record cannot be a member of itself",
			}
		}
		target, err := s.Get(ctx, rel.ID, false)
		if err != nil {
			var nfe *models.NotFoundError
			if errors.As(err, &nfe) {
				return &models.ValidationError{
					Field:  fmt.Sprintf("relationships[%d].id", i),
					Reason: fmt.Sprintf("member_of target %s does not exist", rel.ID),
					Hint:   "write the collection header before its members",
				}
			}
			return err
		}
		if target.RecordType == models.RecordTypeCollectionHeader {
			switch {
			case rec.Collection == "":
				rec.Collection = target.Collection
			case rec.Collection != target.Collection:
				return &models.ValidationError{
					Field:  schema.ColCollection,
					Reason: fmt.Sprintf("member collection %q does not match header collection %q", rec.Collection, target.Collection),
				}
			}
		}
	}
	return nil
}

func (s *datasetServiceImpl) Add(ctx context.Context, rec *models.Record) (*models.Record, error) {
	prepared, err := s.prepare(ctx, rec)
	if err != nil {
		return nil, err
	}
	exists, err := s.Exists(ctx, prepared.UUID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &models.DuplicateError{UUID: prepared.UUID}
	}
	if err := s.table.Append(ctx, schema.ToBatch([]*models.Record{prepared})); err != nil {
		return nil, err
	}
	return prepared, nil
}

func (s *datasetServiceImpl) AddMany(ctx context.Context, recs []*models.Record, batchSize int) ([]*models.Record, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	seen := make(map[string]bool, len(recs))
	prepared := make([]*models.Record, 0, len(recs))
	for _, rec := range recs {
		p, err := s.prepare(ctx, rec)
		if err != nil {
			return nil, err
		}
		if seen[p.UUID] {
			return nil, &models.DuplicateError{UUID: p.UUID}
		}
		seen[p.UUID] = true
		exists, err := s.Exists(ctx, p.UUID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, &models.DuplicateError{UUID: p.UUID}
		}
		prepared = append(prepared, p)
	}
	for start := 0; start < len(prepared); start += batchSize {
		end := start + batchSize
		if end > len(prepared) {
			end = len(prepared)
		}
		if err := s.table.Append(ctx, schema.ToBatch(prepared[start:end])); err != nil {
			return nil, err
		}
	}
	return prepared, nil
}

func (s *datasetServiceImpl) Upsert(ctx context.Context, rec *models.Record) (*models.Record, error) {
	prepared, err := s.prepare(ctx, rec)
	if err != nil {
		return nil, err
	}
	err = s.table.UpsertRows(ctx, schema.ToBatch([]*models.Record{prepared}))
	if isConflict(err) {
		// Conflicts are absorbed only when the winner already wrote the
		// same content; otherwise the caller decides whether to retry.
		current, getErr := s.Get(ctx, prepared.UUID, false)
		if getErr == nil && recordsEqual(current, prepared) {
			log.Printf("upsert %s lost a version race to identical content", prepared.UUID)
			return prepared, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return prepared, nil
}

// recordsEqual compares the caller-visible fields of two records.
func recordsEqual(a, b *models.Record) bool {
	a2, b2 := a.Clone(), b.Clone()
	a2.RawData, b2.RawData = nil, nil
	ja, errA := json.Marshal(a2)
	jb, errB := json.Marshal(b2)
	return errA == nil && errB == nil && string(ja) == string(jb)
}

func (s *datasetServiceImpl) Get(ctx context.Context, uuid string, includeBlob bool) (*models.Record, error) {
	if uuid == "" {
		return nil, &models.ValidationError{Field: schema.ColUUID, Reason: "uuid is required"}
	}
	scanner, err := s.table.Scan(storage.ScanOptions{
		Filter: fmt.Sprintf("uuid = '%s'", escapeLiteral(uuid)),
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	batch, err := scanner.All(ctx)
	if err != nil {
		return nil, err
	}
	if batch.NumRows == 0 {
		return nil, models.NewNotFound("record", uuid)
	}
	rec := batch.FromBatch()[0]
	if includeBlob && batch.RawDataRef != nil && batch.RawDataRef[0] != "" {
		blob, err := s.table.FetchBlob(ctx, uuid)
		if err != nil && err != storage.ErrObjectNotFound {
			return nil, err
		}
		rec.RawData = blob
	}
	return rec, nil
}

func (s *datasetServiceImpl) Exists(ctx context.Context, uuid string) (bool, error) {
	_, err := s.Get(ctx, uuid, false)
	if err == nil {
		return true, nil
	}
	var nfe *models.NotFoundError
	if errors.As(err, &nfe) {
		return false, nil
	}
	return false, err
}

func (s *datasetServiceImpl) UpdateRecord(ctx context.Context, uuid string, rec *models.Record) (*models.Record, error) {
	existing, err := s.Get(ctx, uuid, false)
	if err != nil {
		return nil, err
	}
	updated := rec.Clone()
	updated.UUID = uuid
	if updated.CreatedAt == "" {
		updated.CreatedAt = existing.CreatedAt
	}
	return s.Upsert(ctx, updated)
}

func (s *datasetServiceImpl) DeleteRecord(ctx context.Context, uuid string) error {
	_, err := s.table.DeleteRows(ctx, []string{uuid})
	if isConflict(err) {
		// Delete is idempotent; retry once before surfacing the conflict.
		log.Printf("delete %s hit a version conflict, retrying once", uuid)
		_, err = s.table.DeleteRows(ctx, []string{uuid})
	}
	return err
}

func (s *datasetServiceImpl) FetchBlob(ctx context.Context, uuid string) ([]byte, error) {
	if _, err := s.Get(ctx, uuid, false); err != nil {
		return nil, err
	}
	blob, err := s.table.FetchBlob(ctx, uuid)
	if err == storage.ErrObjectNotFound {
		return nil, nil
	}
	return blob, err
}

func (s *datasetServiceImpl) Scanner(opts storage.ScanOptions) (*storage.Scanner, error) {
	return s.table.Scan(opts)
}

func (s *datasetServiceImpl) List(ctx context.Context, filter string, limit, offset int) ([]*models.Record, error) {
	scanner, err := s.table.Scan(storage.ScanOptions{Filter: filter, Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	batch, err := scanner.All(ctx)
	if err != nil {
		return nil, err
	}
	return batch.FromBatch(), nil
}

func (s *datasetServiceImpl) Stats(ctx context.Context) (*models.DatasetStats, error) {
	stats := s.table.Stats()
	return &stats, nil
}

func (s *datasetServiceImpl) ListVersions(ctx context.Context) ([]storage.VersionInfo, error) {
	return s.table.ListVersions(ctx)
}

func (s *datasetServiceImpl) Checkout(ctx context.Context, version uint64) error {
	return s.table.Checkout(ctx, version)
}

func (s *datasetServiceImpl) Tag(ctx context.Context, version uint64, label string) error {
	return s.table.Tag(ctx, version, label)
}

func (s *datasetServiceImpl) Compact(ctx context.Context, targetRowsPerFragment int) error {
	return s.table.Compact(ctx, targetRowsPerFragment)
}

func (s *datasetServiceImpl) CleanupOldVersions(ctx context.Context, keepCount int, olderThan time.Duration) (int, error) {
	return s.table.CleanupOldVersions(ctx, keepCount, olderThan)
}

func (s *datasetServiceImpl) CreateVectorIndex(ctx context.Context, params storage.VectorIndexParams) error {
	return s.table.CreateVectorIndex(ctx, "vector_ivf", params)
}

func (s *datasetServiceImpl) CreateScalarIndex(ctx context.Context, column string, kind storage.ScalarIndexKind) error {
	return s.table.CreateScalarIndex(ctx, "scalar_"+column, column, kind)
}

func (s *datasetServiceImpl) CreateFTSIndex(ctx context.Context, columns []string) error {
	return s.table.CreateFTSIndex(ctx, "fts_default", columns)
}

func (s *datasetServiceImpl) OptimizeIndices(ctx context.Context) ([]string, error) {
	return s.table.OptimizeIndices(ctx)
}

func (s *datasetServiceImpl) EnsureDatasetHeader(ctx context.Context, title string) (*models.Record, error) {
	headers, err := s.List(ctx, "record_type = 'dataset_header'", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		return headers[0], nil
	}
	return s.Add(ctx, &models.Record{
		Title:      title,
		RecordType: models.RecordTypeDatasetHeader,
	})
}

func (s *datasetServiceImpl) ValidateAll(ctx context.Context) ([]string, error) {
	scanner, err := s.table.Scan(storage.ScanOptions{})
	if err != nil {
		return nil, err
	}
	var problems []string
	seen := make(map[string]bool)
	for {
		batch, err := scanner.Next(ctx)
		if err != nil {
			return nil, err
		}
		if batch == nil {
			break
		}
		for _, rec := range batch.FromBatch() {
			if seen[rec.UUID] {
				problems = append(problems, fmt.Sprintf("%s: duplicate uuid", rec.UUID))
				continue
			}
			seen[rec.UUID] = true
			if err := schema.Validate(rec, s.table.Dimension()); err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", rec.UUID, err))
			}
		}
	}
	return problems, nil
}

func isConflict(err error) bool {
	var ce *models.ConflictError
	return errors.As(err, &ce)
}

// escapeLiteral doubles single quotes for embedding in a filter string.
func escapeLiteral(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
		} else {
			out = append(out, s[i])
		}
	}
	return string(out)
}
