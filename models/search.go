package models

// SearchMode selects the search algorithm.
type SearchMode string

const (
	SearchModeText   SearchMode = "text"
	SearchModeVector SearchMode = "vector"
	SearchModeHybrid SearchMode = "hybrid"
)

// IsValid reports whether m is a known search mode.
func (m SearchMode) IsValid() bool {
	return m == SearchModeText || m == SearchModeVector || m == SearchModeHybrid
}

// SearchRequest describes one search over a dataset. Exactly one of Query
// (text/hybrid) or Vector (vector) drives the ranking; hybrid requests with
// a Query and no Vector embed the query through the configured Embedder.
type SearchRequest struct {
	Query        string     `json:"query,omitempty"`
	Vector       []float32  `json:"vector,omitempty"`
	Mode         SearchMode `json:"mode"`
	Limit        int        `json:"limit,omitempty"`
	Offset       int        `json:"offset,omitempty"`
	Filter       string     `json:"filter,omitempty"`
	CollectionID string     `json:"collection_id,omitempty"`
	AutoIndex    bool       `json:"auto_index,omitempty"`
}

// SearchHit is one ranked result.
type SearchHit struct {
	Record *Record `json:"record"`
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"`
	// Sources names the rankers that returned this hit ("text", "vector").
	Sources []string `json:"sources,omitempty"`
}

// SearchResult is an ordered result set pinned to one dataset version.
type SearchResult struct {
	Hits    []SearchHit `json:"hits"`
	Mode    SearchMode  `json:"mode"`
	Version uint64      `json:"version"`
	Warning string      `json:"warning,omitempty"`
}

// SearchCursor yields result batches for streamed search. Next returns nil
// hits once the result set is exhausted.
type SearchCursor interface {
	Next() ([]SearchHit, error)
	Close() error
}

// DatasetStats summarizes a dataset at its current version.
type DatasetStats struct {
	Version      uint64      `json:"version"`
	NumRows      uint64      `json:"num_rows"`
	NumFragments int         `json:"num_fragments"`
	SizeBytes    int64       `json:"size_bytes"`
	Dimension    int         `json:"dimension"`
	Indices      []IndexInfo `json:"indices"`
}

// IndexInfo describes one index known to the dataset.
type IndexInfo struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"` // "btree", "bitmap", "inverted", "fts", "ivf", "ivf_pq"
	Columns      []string `json:"columns"`
	BuiltVersion uint64   `json:"built_version"`
}

// CollectionStats summarizes a collection.
type CollectionStats struct {
	HeaderUUID   string `json:"header_uuid"`
	Collection   string `json:"collection"`
	MemberCount  int    `json:"member_count"`
	TotalTextLen int64  `json:"total_text_len"`
	WithVectors  int    `json:"with_vectors"`
}
