package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/contextframe/contextframe-go/models"
	"github.com/contextframe/contextframe-go/schema"
)

func indexKey(name string) string {
	return "indices/" + name + ".json"
}

// CreateFTSIndex builds a full-text index over the given text columns and
// registers it in the manifest. Rebuilding an existing index replaces it.
func (t *Table) CreateFTSIndex(ctx context.Context, name string, columns []string) error {
	if len(columns) == 0 {
		columns = []string{schema.ColTitle, schema.ColTextContent, schema.ColContext}
	}
	ix := NewFTSIndex(columns)
	scanner, err := t.Scan(ScanOptions{Columns: append([]string{schema.ColUUID}, columns...)})
	if err != nil {
		return err
	}
	for {
		batch, err := scanner.Next(ctx)
		if err != nil {
			return err
		}
		if batch == nil {
			break
		}
		for i := 0; i < batch.NumRows; i++ {
			var texts []string
			for _, col := range columns {
				if v, ok := batch.Value(col, i); ok {
					if s, isStr := v.(string); isStr {
						texts = append(texts, s)
					}
				}
			}
			ix.AddDocument(batch.UUID[i], texts...)
		}
	}
	return t.saveIndex(ctx, name, "fts", columns, nil, ix)
}

// CreateScalarIndex builds a scalar index over one column.
func (t *Table) CreateScalarIndex(ctx context.Context, name, column string, kind ScalarIndexKind) error {
	if !kind.IsValid() {
		return &models.ValidationError{Field: "kind",
			Reason: fmt.Sprintf("unknown scalar index kind %q", kind),
			Hint:   "one of btree, bitmap, inverted"}
	}
	if !schema.IsFilterable(column) {
		return &models.ValidationError{Field: "column",
			Reason: fmt.Sprintf("column %q cannot be indexed", column)}
	}
	ix := NewScalarIndex(column, kind)
	scanner, err := t.Scan(ScanOptions{Columns: []string{schema.ColUUID, column}})
	if err != nil {
		return err
	}
	for {
		batch, err := scanner.Next(ctx)
		if err != nil {
			return err
		}
		if batch == nil {
			break
		}
		for i := 0; i < batch.NumRows; i++ {
			v, ok := batch.Value(column, i)
			if !ok {
				continue
			}
			switch val := v.(type) {
			case string:
				ix.Add(batch.UUID[i], val)
			case []string:
				for _, s := range val {
					ix.Add(batch.UUID[i], s)
				}
			case *int:
				if val != nil {
					ix.Add(batch.UUID[i], strconv.Itoa(*val))
				}
			}
		}
	}
	return t.saveIndex(ctx, name, string(kind), []string{column}, nil, ix)
}

// CreateVectorIndex trains an IVF(/PQ) index over the vector column.
func (t *Table) CreateVectorIndex(ctx context.Context, name string, params VectorIndexParams) error {
	uuids, vectors, err := t.allVectors(ctx)
	if err != nil {
		return err
	}
	if len(vectors) < minIndexRows {
		return &models.ValidationError{Field: "vector",
			Reason: fmt.Sprintf("dataset has %d vectors, need at least %d to train an index", len(vectors), minIndexRows),
			Hint:   "small datasets are served by flat search without an index"}
	}
	ix, err := BuildVectorIndex(uuids, vectors, t.Dimension(), params)
	if err != nil {
		return err
	}
	kind := "ivf"
	if params.SubQuantizers > 0 {
		kind = "ivf_pq"
	}
	paramsMap := map[string]string{
		"partitions":     strconv.Itoa(ix.Params.Partitions),
		"sub_quantizers": strconv.Itoa(ix.Params.SubQuantizers),
		"metric":         string(ix.Params.Metric),
	}
	return t.saveIndex(ctx, name, kind, []string{schema.ColVector}, paramsMap, ix)
}

// allVectors collects the row keys and vectors of every live row that
// carries an embedding.
func (t *Table) allVectors(ctx context.Context) ([]string, [][]float32, error) {
	scanner, err := t.Scan(ScanOptions{Columns: []string{schema.ColUUID, schema.ColVector}})
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

// saveIndex persists the index payload and registers it in the manifest.
func (t *Table) saveIndex(ctx context.Context, name, kind string, columns []string, params map[string]string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode index %s: %w", name, err)
	}
	file := indexKey(name)
	if err := t.store.Put(ctx, file, data); err != nil {
		return err
	}
	return t.commit(ctx, func(next *Manifest, del deletionVector) error {
		ref := IndexRef{
			Name:         name,
			Kind:         kind,
			Columns:      columns,
			Params:       params,
			BuiltVersion: next.Version,
			File:         file,
		}
		if i, ok := next.indexByName(name); ok {
			next.Indices[i] = ref
		} else {
			next.Indices = append(next.Indices, ref)
		}
		return nil
	})
}

// DropIndex removes an index from the manifest and deletes its payload.
func (t *Table) DropIndex(ctx context.Context, name string) error {
	err := t.commit(ctx, func(next *Manifest, del deletionVector) error {
		i, ok := next.indexByName(name)
		if !ok {
			return models.NewNotFound("index", name)
		}
		next.Indices = append(next.Indices[:i], next.Indices[i+1:]...)
		return nil
	})
	if err != nil {
		return err
	}
	return t.store.Delete(ctx, indexKey(name))
}

// IndexRefByKind finds the first index of a kind in the current snapshot.
func (t *Table) IndexRefByKind(kinds ...string) (IndexRef, bool) {
	m, _ := t.snapshot()
	for _, ix := range m.Indices {
		for _, k := range kinds {
			if ix.Kind == k {
				return ix, true
			}
		}
	}
	return IndexRef{}, false
}

// LoadFTSIndex reads a persisted full-text index.
func (t *Table) LoadFTSIndex(ctx context.Context, ref IndexRef) (*FTSIndex, error) {
	var ix FTSIndex
	if err := t.loadIndex(ctx, ref, &ix); err != nil {
		return nil, err
	}
	return &ix, nil
}

// LoadVectorIndex reads a persisted vector index.
func (t *Table) LoadVectorIndex(ctx context.Context, ref IndexRef) (*VectorIndex, error) {
	var ix VectorIndex
	if err := t.loadIndex(ctx, ref, &ix); err != nil {
		return nil, err
	}
	return &ix, nil
}

func (t *Table) loadIndex(ctx context.Context, ref IndexRef, into any) error {
	data, err := t.store.Get(ctx, ref.File)
	if err != nil {
		if err == ErrObjectNotFound {
			return models.NewNotFound("index", ref.Name)
		}
		return err
	}
	if err := json.Unmarshal(data, into); err != nil {
		return &models.StorageError{Op: "read index",
			Err: fmt.Errorf("index %s corrupt: %w", ref.Name, err)}
	}
	return nil
}

// OptimizeIndices rebuilds every index whose BuiltVersion lags the current
// snapshot. Returns the names rebuilt.
func (t *Table) OptimizeIndices(ctx context.Context) ([]string, error) {
	m, _ := t.snapshot()
	var rebuilt []string
	for _, ix := range m.Indices {
		if ix.BuiltVersion >= m.Version {
			continue
		}
		var err error
		switch ix.Kind {
		case "fts":
			err = t.CreateFTSIndex(ctx, ix.Name, ix.Columns)
		case "ivf", "ivf_pq":
			params := VectorIndexParams{
				Partitions:    atoiDefault(ix.Params["partitions"], 0),
				SubQuantizers: atoiDefault(ix.Params["sub_quantizers"], 0),
				Metric:        Metric(ix.Params["metric"]),
			}
			err = t.CreateVectorIndex(ctx, ix.Name, params)
		default:
			err = t.CreateScalarIndex(ctx, ix.Name, ix.Columns[0], ScalarIndexKind(ix.Kind))
		}
		if err != nil {
			return rebuilt, err
		}
		rebuilt = append(rebuilt, ix.Name)
	}
	return rebuilt, nil
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
