package impl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/contextframe/contextframe-go/capabilities"
	"github.com/contextframe/contextframe-go/models"
	"github.com/contextframe/contextframe-go/schema"
	"github.com/contextframe/contextframe-go/services"
	"github.com/contextframe/contextframe-go/storage"
)

// rrfK is the reciprocal-rank-fusion constant: fused score is
// sum(1/(rrfK + rank)) across the rankers that returned the record.
const rrfK = 60

// smallDatasetWarning documents the degenerate-index guard: vector search
// over fewer than ten rows returns empty rather than training a broken
// partition layout.
const smallDatasetWarning = "dataset has fewer than 10 rows; vector search returned no results (known small-dataset limitation, use text search)"

// searchServiceImpl implements SearchService over a DatasetService.
type searchServiceImpl struct {
	dataset  services.DatasetService
	embedder capabilities.Embedder

	mu sync.Mutex // serializes on-demand index builds
}

// NewSearchService builds the search engine. embedder may be nil; vector
// searches then require an explicit query vector, and hybrid searches
// without one serve only their text leg, with a warning.
func NewSearchService(dataset services.DatasetService, embedder capabilities.Embedder) services.SearchService {
	return &searchServiceImpl{dataset: dataset, embedder: embedder}
}

func (s *searchServiceImpl) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResult, error) {
	if !req.Mode.IsValid() {
		return nil, &models.ValidationError{Field: "mode",
			Reason: fmt.Sprintf("unknown search mode %q", req.Mode),
			Hint:   "one of text, vector, hybrid"}
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	// Validate the filter before any index work so a bad expression fails
	// the same way in every mode.
	if _, err := storage.ParseFilter(req.Filter); err != nil {
		return nil, err
	}
	version := s.dataset.Table().Version()

	if req.Mode == models.SearchModeText && isMatchAll(req.Query) {
		return s.matchAll(ctx, req, version)
	}

	var (
		textHits   []storage.TextHit
		vectorHits []storage.VectorHit
		warning    string
	)
	switch req.Mode {
	case models.SearchModeText:
		hits, err := s.textSearch(ctx, req)
		if err != nil {
			return nil, err
		}
		textHits = hits
	case models.SearchModeVector:
		hits, warn, err := s.vectorSearch(ctx, req)
		if err != nil {
			return nil, err
		}
		vectorHits, warning = hits, warn
	case models.SearchModeHybrid:
		// Text and vector legs run in parallel; fusion joins them.
		var (
			wg      sync.WaitGroup
			textErr error
			vecErr  error
			warn    string
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			textHits, textErr = s.textSearch(ctx, req)
		}()
		go func() {
			defer wg.Done()
			vectorHits, warn, vecErr = s.vectorSearch(ctx, req)
		}()
		wg.Wait()
		if textErr != nil {
			return nil, textErr
		}
		if vecErr != nil {
			// A hybrid search without an embedder still serves its text
			// leg; other vector failures are real errors.
			var ve *models.ValidationError
			if errors.As(vecErr, &ve) && req.Vector == nil {
				vectorHits, warn = nil, ve.Reason
			} else {
				return nil, vecErr
			}
		}
		warning = warn
	}

	allowed, err := s.allowedSet(ctx, req)
	if err != nil {
		return nil, err
	}

	var ranked []models.SearchHit
	switch req.Mode {
	case models.SearchModeText:
		ranked = rankText(textHits, allowed)
	case models.SearchModeVector:
		ranked = rankVector(vectorHits, allowed)
	case models.SearchModeHybrid:
		ranked = fuseRRF(textHits, vectorHits, allowed)
	}

	ranked = window(ranked, req.Offset, req.Limit)
	if err := s.materialize(ctx, ranked); err != nil {
		return nil, err
	}
	return &models.SearchResult{
		Hits:    compactMissing(ranked),
		Mode:    req.Mode,
		Version: version,
		Warning: warning,
	}, nil
}

// isMatchAll treats "*" and the empty query as "every record".
func isMatchAll(q string) bool {
	q = strings.TrimSpace(q)
	return q == "" || q == "*"
}

// matchAll lists records in insertion order, honoring filter and collection
// constraints. Scores are zero; ordering is the storage order.
func (s *searchServiceImpl) matchAll(ctx context.Context, req models.SearchRequest, version uint64) (*models.SearchResult, error) {
	filter, err := composeFilter(req.Filter, req.CollectionID)
	if err != nil {
		return nil, err
	}
	recs, err := s.dataset.List(ctx, filter, req.Limit, req.Offset)
	if err != nil {
		return nil, err
	}
	hits := make([]models.SearchHit, len(recs))
	for i, rec := range recs {
		hits[i] = models.SearchHit{Record: rec, Rank: i + 1, Sources: []string{"scan"}}
	}
	return &models.SearchResult{Hits: hits, Mode: req.Mode, Version: version}, nil
}

// textSearch runs the BM25 leg, creating or rebuilding the FTS index when
// auto_index allows.
func (s *searchServiceImpl) textSearch(ctx context.Context, req models.SearchRequest) ([]storage.TextHit, error) {
	table := s.dataset.Table()
	s.mu.Lock()
	ref, ok := table.IndexRefByKind("fts")
	if !ok || ref.BuiltVersion < table.Version() {
		if !req.AutoIndex && !ok {
			s.mu.Unlock()
			return nil, &models.ValidationError{Field: "index",
				Reason: "text search requires a full-text index",
				Hint:   "create one with create_fts_index or pass auto_index"}
		}
		if req.AutoIndex {
			if err := table.CreateFTSIndex(ctx, "fts_default", nil); err != nil {
				s.mu.Unlock()
				return nil, err
			}
			ref, _ = table.IndexRefByKind("fts")
		}
	}
	s.mu.Unlock()
	ix, err := table.LoadFTSIndex(ctx, ref)
	if err != nil {
		return nil, err
	}
	// Over-fetch so filters applied afterwards still fill the window.
	return ix.Search(req.Query, (req.Offset+req.Limit)*4), nil
}

// vectorSearch runs the k-NN leg: IVF index when present and fresh, flat
// scan otherwise, and the documented empty-result guard for tiny datasets.
func (s *searchServiceImpl) vectorSearch(ctx context.Context, req models.SearchRequest) ([]storage.VectorHit, string, error) {
	query := req.Vector
	if query == nil {
		if s.embedder == nil {
			return nil, "", &models.ValidationError{Field: "vector",
				Reason: "vector search needs a query vector",
				Hint:   "pass vector, or configure an embedder to embed the query text"}
		}
		vecs, err := s.embedder.Embed(ctx, []string{req.Query})
		if err != nil {
			return nil, "", &models.DependencyError{Component: "embedder", Err: err}
		}
		query = vecs[0]
	}
	table := s.dataset.Table()
	if len(query) != table.Dimension() {
		return nil, "", &models.DimensionError{Want: table.Dimension(), Got: len(query)}
	}
	if table.NumRows() < 10 {
		return nil, smallDatasetWarning, nil
	}
	k := (req.Offset + req.Limit) * 4
	if ref, ok := table.IndexRefByKind("ivf", "ivf_pq"); ok && ref.BuiltVersion >= table.Version() {
		ix, err := table.LoadVectorIndex(ctx, ref)
		if err != nil {
			return nil, "", err
		}
		return ix.Search(query, k), "", nil
	}
	uuids, vectors, err := allVectorRows(ctx, table)
	if err != nil {
		return nil, "", err
	}
	return storage.FlatSearch(uuids, vectors, query, k, storage.MetricCosine), "", nil
}

func allVectorRows(ctx context.Context, table *storage.Table) ([]string, [][]float32, error) {
	scanner, err := table.Scan(storage.ScanOptions{Columns: []string{schema.ColUUID, schema.ColVector}})
	if err != nil {
		return nil, nil, err
	}
	var uuids []string
	var vectors [][]float32
	for {
		batch, err := scanner.Next(ctx)
		if err != nil {
			return nil, nil, err
		}
		if batch == nil {
			break
		}
		for i := 0; i < batch.NumRows; i++ {
			if batch.Vector == nil || batch.Vector[i] == nil {
				continue
			}
			uuids = append(uuids, batch.UUID[i])
			vectors = append(vectors, batch.Vector[i])
		}
	}
	return uuids, vectors, nil
}

// allowedSet resolves the filter and collection constraint into the set of
// matching uuids. nil means unconstrained.
func (s *searchServiceImpl) allowedSet(ctx context.Context, req models.SearchRequest) (map[string]bool, error) {
	filter, err := composeFilter(req.Filter, req.CollectionID)
	if err != nil {
		return nil, err
	}
	if filter == "" {
		return nil, nil
	}
	scanner, err := s.dataset.Scanner(storage.ScanOptions{Filter: filter, Columns: []string{schema.ColUUID}})
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]bool)
	for {
		batch, err := scanner.Next(ctx)
		if err != nil {
			return nil, err
		}
		if batch == nil {
			return allowed, nil
		}
		for i := 0; i < batch.NumRows; i++ {
			allowed[batch.UUID[i]] = true
		}
	}
}

// composeFilter narrows a user filter by a collection membership join.
func composeFilter(filter, collectionID string) (string, error) {
	if collectionID == "" {
		return filter, nil
	}
	member := fmt.Sprintf("relationships.type = 'member_of' AND relationships.id = '%s'",
		escapeLiteral(collectionID))
	if filter == "" {
		return member, nil
	}
	return "(" + filter + ") AND " + member, nil
}

func rankText(hits []storage.TextHit, allowed map[string]bool) []models.SearchHit {
	out := make([]models.SearchHit, 0, len(hits))
	for _, h := range hits {
		if allowed != nil && !allowed[h.UUID] {
			continue
		}
		out = append(out, models.SearchHit{
			Record:  &models.Record{UUID: h.UUID},
			Score:   h.Score,
			Rank:    len(out) + 1,
			Sources: []string{"text"},
		})
	}
	return out
}

func rankVector(hits []storage.VectorHit, allowed map[string]bool) []models.SearchHit {
	out := make([]models.SearchHit, 0, len(hits))
	for _, h := range hits {
		if allowed != nil && !allowed[h.UUID] {
			continue
		}
		out = append(out, models.SearchHit{
			Record:  &models.Record{UUID: h.UUID},
			Score:   h.Score,
			Rank:    len(out) + 1,
			Sources: []string{"vector"},
		})
	}
	return out
}

// fuseRRF merges the two rankings by reciprocal-rank fusion. Ranks are
// 1-based positions after the allowed-set filter; ties break on uuid so the
// fused ordering is deterministic.
func fuseRRF(textHits []storage.TextHit, vectorHits []storage.VectorHit, allowed map[string]bool) []models.SearchHit {
	type fused struct {
		score   float64
		sources []string
	}
	merged := make(map[string]*fused)
	rank := 0
	for _, h := range textHits {
		if allowed != nil && !allowed[h.UUID] {
			continue
		}
		rank++
		merged[h.UUID] = &fused{score: 1.0 / float64(rrfK+rank), sources: []string{"text"}}
	}
	rank = 0
	for _, h := range vectorHits {
		if allowed != nil && !allowed[h.UUID] {
			continue
		}
		rank++
		f := merged[h.UUID]
		if f == nil {
			merged[h.UUID] = &fused{score: 1.0 / float64(rrfK+rank), sources: []string{"vector"}}
		} else {
			f.score += 1.0 / float64(rrfK+rank)
			f.sources = append(f.sources, "vector")
		}
	}
	uuids := make([]string, 0, len(merged))
	for u := range merged {
		uuids = append(uuids, u)
	}
	sort.Slice(uuids, func(i, j int) bool {
		a, b := merged[uuids[i]], merged[uuids[j]]
		if a.score != b.score {
			return a.score > b.score
		}
		return uuids[i] < uuids[j]
	})
	out := make([]models.SearchHit, len(uuids))
	for i, u := range uuids {
		out[i] = models.SearchHit{
			Record:  &models.Record{UUID: u},
			Score:   merged[u].score,
			Rank:    i + 1,
			Sources: merged[u].sources,
		}
	}
	return out
}

func window(hits []models.SearchHit, offset, limit int) []models.SearchHit {
	if offset >= len(hits) {
		return nil
	}
	hits = hits[offset:]
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits
}

// materialize replaces the uuid-only placeholder records with full records.
// Hits whose record vanished (stale index) are marked by a nil record.
func (s *searchServiceImpl) materialize(ctx context.Context, hits []models.SearchHit) error {
	for i := range hits {
		rec, err := s.dataset.Get(ctx, hits[i].Record.UUID, false)
		if err != nil {
			var nfe *models.NotFoundError
			if errors.As(err, &nfe) {
				hits[i].Record = nil
				continue
			}
			return err
		}
		hits[i].Record = rec
	}
	return nil
}

func compactMissing(hits []models.SearchHit) []models.SearchHit {
	out := hits[:0]
	for _, h := range hits {
		if h.Record != nil {
			out = append(out, h)
		}
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	if out == nil {
		out = []models.SearchHit{}
	}
	return out
}

func (s *searchServiceImpl) SearchSimilar(ctx context.Context, uuid string, limit int) (*models.SearchResult, error) {
	rec, err := s.dataset.Get(ctx, uuid, false)
	if err != nil {
		return nil, err
	}
	if rec.Vector == nil {
		return nil, &models.ValidationError{Field: schema.ColVector,
			Reason: fmt.Sprintf("record %s has no embedding", uuid)}
	}
	result, err := s.Search(ctx, models.SearchRequest{
		Mode:   models.SearchModeVector,
		Vector: rec.Vector,
		Limit:  limit + 1, // the seed record ranks itself first
	})
	if err != nil {
		return nil, err
	}
	hits := make([]models.SearchHit, 0, limit)
	for _, h := range result.Hits {
		if h.Record.UUID == uuid {
			continue
		}
		h.Rank = len(hits) + 1
		hits = append(hits, h)
		if limit > 0 && len(hits) >= limit {
			break
		}
	}
	result.Hits = hits
	return result, nil
}

// streamCursor chunks a fully-ranked result set into batches.
type streamCursor struct {
	hits      []models.SearchHit
	batchSize int
	pos       int
}

func (c *streamCursor) Next() ([]models.SearchHit, error) {
	if c.pos >= len(c.hits) {
		return nil, nil
	}
	end := c.pos + c.batchSize
	if end > len(c.hits) {
		end = len(c.hits)
	}
	out := c.hits[c.pos:end]
	c.pos = end
	return out, nil
}

func (c *streamCursor) Close() error {
	c.hits = nil
	return nil
}

func (s *searchServiceImpl) SearchStream(ctx context.Context, req models.SearchRequest, batchSize int) (models.SearchCursor, error) {
	if batchSize <= 0 {
		batchSize = 10
	}
	result, err := s.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	return &streamCursor{hits: result.Hits, batchSize: batchSize}, nil
}
