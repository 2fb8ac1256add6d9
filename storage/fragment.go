package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/contextframe/contextframe-go/models"
	"github.com/contextframe/contextframe-go/schema"
)

// Fragment is one persisted column-major row group. Blob bytes never live
// inside a fragment: the raw_data column is materialized as raw_data_ref
// (the blob object key per row) and the payloads go to blobs/<uuid>.
type Fragment struct {
	ID    string        `json:"id"`
	Batch *schema.Batch `json:"batch"`
}

func fragmentKey(id string) string {
	return "fragments/" + id + ".json"
}

func blobKey(uuid string) string {
	return "blobs/" + uuid
}

// deletionKey names a deletion file by version and content hash, so two
// writers racing for the same version never overwrite each other's file.
func deletionKey(version uint64, data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("deletions/%020d-%s.json", version, hex.EncodeToString(sum[:8]))
}

// writeFragment persists a batch as a fragment and returns its ref. The
// caller has already moved blob bytes out of the batch.
func writeFragment(ctx context.Context, store ObjectStore, id string, batch *schema.Batch) (FragmentRef, error) {
	data, err := json.Marshal(&Fragment{ID: id, Batch: batch})
	if err != nil {
		return FragmentRef{}, fmt.Errorf("encode fragment: %w", err)
	}
	if err := store.Put(ctx, fragmentKey(id), data); err != nil {
		return FragmentRef{}, err
	}
	return FragmentRef{ID: id, Rows: batch.NumRows, Bytes: int64(len(data))}, nil
}

// readFragment loads one fragment.
func readFragment(ctx context.Context, store ObjectStore, id string) (*schema.Batch, error) {
	data, err := store.Get(ctx, fragmentKey(id))
	if err != nil {
		if err == ErrObjectNotFound {
			return nil, &models.StorageError{Op: "read fragment",
				Err: fmt.Errorf("fragment %s missing: dataset corrupted", id)}
		}
		return nil, err
	}
	var frag Fragment
	if err := json.Unmarshal(data, &frag); err != nil {
		return nil, &models.StorageError{Op: "read fragment",
			Err: fmt.Errorf("fragment %s corrupt: %w", id, err)}
	}
	return frag.Batch, nil
}

// deletionVector maps fragment id to the sorted row indices tombstoned in
// that fragment. Targeting (fragment, row) pairs instead of bare uuids lets
// an upsert tombstone the old row and append the new one in a single commit.
type deletionVector map[string][]int

func (d deletionVector) deleted(fragID string) map[int]bool {
	rows := d[fragID]
	if len(rows) == 0 {
		return nil
	}
	set := make(map[int]bool, len(rows))
	for _, r := range rows {
		set[r] = true
	}
	return set
}

func (d deletionVector) clone() deletionVector {
	out := make(deletionVector, len(d))
	for k, v := range d {
		out[k] = append([]int(nil), v...)
	}
	return out
}

func (d deletionVector) add(fragID string, row int) {
	for _, r := range d[fragID] {
		if r == row {
			return
		}
	}
	d[fragID] = append(d[fragID], row)
	sort.Ints(d[fragID])
}

func (d deletionVector) count() int {
	n := 0
	for _, rows := range d {
		n += len(rows)
	}
	return n
}

func loadDeletions(ctx context.Context, store ObjectStore, file string) (deletionVector, error) {
	if file == "" {
		return deletionVector{}, nil
	}
	data, err := store.Get(ctx, file)
	if err != nil {
		if err == ErrObjectNotFound {
			return deletionVector{}, nil
		}
		return nil, err
	}
	var vec deletionVector
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, &models.StorageError{Op: "read deletions", Err: err}
	}
	return vec, nil
}

func writeDeletions(ctx context.Context, store ObjectStore, version uint64, vec deletionVector) (string, error) {
	data, err := json.Marshal(vec)
	if err != nil {
		return "", fmt.Errorf("encode deletions: %w", err)
	}
	key := deletionKey(version, data)
	if err := store.Put(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}
