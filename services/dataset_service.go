package services

import (
	"context"
	"time"

	"github.com/contextframe/contextframe-go/models"
	"github.com/contextframe/contextframe-go/storage"
)

// DatasetService is the primary API the MCP tools are built on: record CRUD,
// scans, versioning, and index lifecycle over one dataset.
type DatasetService interface {
	// URI returns the dataset URI the service is bound to.
	URI() string

	// Add appends a record, assigning uuid and dates when absent. A uuid
	// collision with a live record fails with DuplicateError.
	Add(ctx context.Context, rec *models.Record) (*models.Record, error)
	// AddMany appends records in bounded chunks of batchSize.
	AddMany(ctx context.Context, recs []*models.Record, batchSize int) ([]*models.Record, error)
	// Upsert replaces the record with the same uuid (or appends) in one
	// version bump.
	Upsert(ctx context.Context, rec *models.Record) (*models.Record, error)
	// Get returns the record by uuid with the blob payload stripped
	// unless includeBlob is set.
	Get(ctx context.Context, uuid string, includeBlob bool) (*models.Record, error)
	// Exists reports whether a live record with the uuid is present.
	Exists(ctx context.Context, uuid string) (bool, error)
	// UpdateRecord replaces an existing record, preserving its uuid.
	// Fails with NotFoundError when the record is absent.
	UpdateRecord(ctx context.Context, uuid string, rec *models.Record) (*models.Record, error)
	// DeleteRecord tombstones the record. Deleting an absent uuid is a
	// no-op.
	DeleteRecord(ctx context.Context, uuid string) error
	// FetchBlob reads the record's blob payload; nil when the record has
	// none.
	FetchBlob(ctx context.Context, uuid string) ([]byte, error)

	// Scanner opens a streaming scan with blob-safe projection.
	Scanner(opts storage.ScanOptions) (*storage.Scanner, error)
	// List is the convenience form of Scanner, materializing records.
	List(ctx context.Context, filter string, limit, offset int) ([]*models.Record, error)

	Stats(ctx context.Context) (*models.DatasetStats, error)
	ListVersions(ctx context.Context) ([]storage.VersionInfo, error)
	Checkout(ctx context.Context, version uint64) error
	Tag(ctx context.Context, version uint64, label string) error
	Compact(ctx context.Context, targetRowsPerFragment int) error
	CleanupOldVersions(ctx context.Context, keepCount int, olderThan time.Duration) (int, error)

	CreateVectorIndex(ctx context.Context, params storage.VectorIndexParams) error
	CreateScalarIndex(ctx context.Context, column string, kind storage.ScalarIndexKind) error
	CreateFTSIndex(ctx context.Context, columns []string) error
	OptimizeIndices(ctx context.Context) ([]string, error)

	// EnsureDatasetHeader creates the singleton dataset_header record if
	// none exists and returns it.
	EnsureDatasetHeader(ctx context.Context, title string) (*models.Record, error)
	// ValidateAll re-validates every record, returning one message per
	// violation.
	ValidateAll(ctx context.Context) ([]string, error)

	// Table exposes the underlying storage table for the search engine.
	Table() *storage.Table
	Close() error
}
