package services

import (
	"context"

	"github.com/contextframe/contextframe-go/models"
)

// SearchService executes text, vector, and hybrid searches over a dataset.
type SearchService interface {
	// Search runs one search request and returns the ranked result set
	// pinned to a single dataset version.
	Search(ctx context.Context, req models.SearchRequest) (*models.SearchResult, error)
	// SearchSimilar ranks records by vector similarity to an existing
	// record's embedding.
	SearchSimilar(ctx context.Context, uuid string, limit int) (*models.SearchResult, error)
	// SearchStream yields the result set in batches through a cursor.
	SearchStream(ctx context.Context, req models.SearchRequest, batchSize int) (models.SearchCursor, error)
}

// CollectionService maintains collection headers, membership edges, and
// framesets.
type CollectionService interface {
	CreateCollection(ctx context.Context, header *models.Record) (*models.Record, error)
	GetCollection(ctx context.Context, headerUUID string) (*models.Record, []*models.Record, error)
	UpdateCollection(ctx context.Context, headerUUID string, header *models.Record) (*models.Record, error)
	// DeleteCollection removes the header; with deleteMembers it also
	// tombstones every member, otherwise members lose their edge.
	DeleteCollection(ctx context.Context, headerUUID string, deleteMembers bool) error
	ListCollections(ctx context.Context) ([]*models.Record, error)
	AddDocuments(ctx context.Context, headerUUID string, docUUIDs []string) error
	RemoveDocuments(ctx context.Context, headerUUID string, docUUIDs []string) error
	CollectionStats(ctx context.Context, headerUUID string) (*models.CollectionStats, error)

	// CreateFrameset records a synthesized answer citing its sources.
	CreateFrameset(ctx context.Context, title, content, query string, sources []FramesetSource) (*models.Record, error)
}

// FramesetSource cites one record a frameset was synthesized from.
type FramesetSource struct {
	UUID    string `json:"uuid"`
	Excerpt string `json:"excerpt,omitempty"`
}
