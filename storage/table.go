package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/contextframe/contextframe-go/capabilities"
	"github.com/contextframe/contextframe-go/models"
	"github.com/contextframe/contextframe-go/schema"
)

// TableOptions configures how a table is opened.
type TableOptions struct {
	// StorageOptions carries backend credentials (access_key_id, region,
	// endpoint, ...) for object-store URIs.
	StorageOptions map[string]string
	Clock          capabilities.Clock
	IDs            capabilities.IDGenerator
}

func (o *TableOptions) withDefaults() TableOptions {
	out := TableOptions{}
	if o != nil {
		out = *o
	}
	if out.Clock == nil {
		out.Clock = capabilities.SystemClock{}
	}
	if out.IDs == nil {
		out.IDs = capabilities.UUIDGenerator{}
	}
	return out
}

// Table is a versioned columnar table at a URI. Readers operate on an
// immutable snapshot; writers serialize on an in-process commit lock and a
// manifest compare-and-swap for cross-process safety.
type Table struct {
	uri   string
	store ObjectStore
	opts  TableOptions

	commitMu sync.Mutex // held for the duration of a version bump

	snapMu    sync.RWMutex
	manifest  *Manifest
	deletions deletionVector
	pinned    bool // checked out at a historical version; writes rejected
}

// VersionInfo describes one historical version.
type VersionInfo struct {
	Version   uint64    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	NumRows   uint64    `json:"num_rows"`
	Tags      []string  `json:"tags,omitempty"`
}

// CreateTable initializes an empty dataset at uri with a fixed vector
// dimension. It fails if a manifest already exists there.
func CreateTable(ctx context.Context, uri string, dim int, opts *TableOptions) (*Table, error) {
	o := opts.withDefaults()
	store, err := OpenObjectStore(ctx, uri, o.StorageOptions)
	if err != nil {
		return nil, err
	}
	m := &Manifest{
		Version:   1,
		CreatedAt: o.Clock.Now().UTC(),
		Dimension: dim,
	}
	data, err := encodeManifest(m)
	if err != nil {
		return nil, err
	}
	if err := store.PutIfAbsent(ctx, manifestKey(1), data); err != nil {
		if errors.Is(err, ErrObjectExists) {
			return nil, &models.StorageError{Op: "create",
				Err: fmt.Errorf("dataset already exists at %s", uri)}
		}
		return nil, err
	}
	return &Table{uri: uri, store: store, opts: o, manifest: m, deletions: deletionVector{}}, nil
}

// OpenTable opens an existing dataset. version 0 means latest; a non-zero
// version pins the table read-only at that snapshot.
func OpenTable(ctx context.Context, uri string, version uint64, opts *TableOptions) (*Table, error) {
	o := opts.withDefaults()
	store, err := OpenObjectStore(ctx, uri, o.StorageOptions)
	if err != nil {
		return nil, err
	}
	t := &Table{uri: uri, store: store, opts: o}
	if version == 0 {
		if err := t.refresh(ctx); err != nil {
			return nil, err
		}
		return t, nil
	}
	m, err := loadManifest(ctx, store, version)
	if err != nil {
		return nil, err
	}
	del, err := loadDeletions(ctx, store, m.DeletionFile)
	if err != nil {
		return nil, err
	}
	t.manifest, t.deletions, t.pinned = m, del, true
	return t, nil
}

func encodeManifest(m *Manifest) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return data, nil
}

// refresh reloads the latest snapshot from the backend.
func (t *Table) refresh(ctx context.Context) error {
	m, err := latestManifest(ctx, t.store)
	if err != nil {
		return err
	}
	del, err := loadDeletions(ctx, t.store, m.DeletionFile)
	if err != nil {
		return err
	}
	t.snapMu.Lock()
	t.manifest, t.deletions = m, del
	t.snapMu.Unlock()
	return nil
}

// URI returns the dataset URI the table was opened at.
func (t *Table) URI() string { return t.uri }

// Version returns the snapshot version the table currently reads from.
func (t *Table) Version() uint64 {
	t.snapMu.RLock()
	defer t.snapMu.RUnlock()
	return t.manifest.Version
}

// Dimension returns the dataset-wide vector dimension.
func (t *Table) Dimension() int {
	t.snapMu.RLock()
	defer t.snapMu.RUnlock()
	return t.manifest.Dimension
}

// snapshot returns the current manifest and deletion vector. Both are
// treated as immutable by readers.
func (t *Table) snapshot() (*Manifest, deletionVector) {
	t.snapMu.RLock()
	defer t.snapMu.RUnlock()
	return t.manifest, t.deletions
}

// commit runs one version bump: mutate receives a deep-copied manifest at
// version+1 and a copied deletion vector, writes whatever fragments or blobs
// it needs, and edits both in place. The new manifest is then published with
// a compare-and-swap; losing the race yields ConflictError and leaves the
// dataset untouched (files written by the losing attempt stay in the store
// unreferenced; cleanup does not remove them).
func (t *Table) commit(ctx context.Context, mutate func(next *Manifest, del deletionVector) error) error {
	t.commitMu.Lock()
	defer t.commitMu.Unlock()
	if t.pinned {
		return &models.StorageError{Op: "commit",
			Err: errors.New("table is checked out at a historical version; reopen at latest to write")}
	}
	// Build on this handle's snapshot. A writer that committed since the
	// snapshot was taken makes the CAS below fail with ConflictError; the
	// snapshot is refreshed then so a retry observes the winner's state.
	base, baseDel := t.snapshot()

	next := *base
	next.Version = base.Version + 1
	next.CreatedAt = t.opts.Clock.Now().UTC()
	next.Fragments = append([]FragmentRef(nil), base.Fragments...)
	next.Indices = append([]IndexRef(nil), base.Indices...)
	del := baseDel.clone()

	if err := mutate(&next, del); err != nil {
		return err
	}

	if del.count() > 0 {
		file, err := writeDeletions(ctx, t.store, next.Version, del)
		if err != nil {
			return err
		}
		next.DeletionFile = file
	} else {
		next.DeletionFile = ""
	}

	data, err := encodeManifest(&next)
	if err != nil {
		return err
	}
	if err := t.store.PutIfAbsent(ctx, manifestKey(next.Version), data); err != nil {
		if errors.Is(err, ErrObjectExists) {
			actual := next.Version
			if m, lerr := latestManifest(ctx, t.store); lerr == nil {
				actual = m.Version
				t.snapMu.Lock()
				t.manifest = m
				t.snapMu.Unlock()
				if d, derr := loadDeletions(ctx, t.store, m.DeletionFile); derr == nil {
					t.snapMu.Lock()
					t.deletions = d
					t.snapMu.Unlock()
				}
			}
			return &models.ConflictError{ExpectedVersion: base.Version, ActualVersion: actual}
		}
		return err
	}

	t.snapMu.Lock()
	t.manifest, t.deletions = &next, del
	t.snapMu.Unlock()
	return nil
}

// Append writes a batch as a new fragment. Blob bytes in the batch are
// stored under blobs/ and replaced by references before the fragment is
// persisted.
func (t *Table) Append(ctx context.Context, batch *schema.Batch) error {
	if batch == nil || batch.NumRows == 0 {
		return nil
	}
	return t.commit(ctx, func(next *Manifest, del deletionVector) error {
		return t.appendLocked(ctx, next, batch)
	})
}

func (t *Table) appendLocked(ctx context.Context, next *Manifest, batch *schema.Batch) error {
	if err := t.writeBlobs(ctx, batch); err != nil {
		return err
	}
	ref, err := writeFragment(ctx, t.store, t.opts.IDs.NewID(), batch)
	if err != nil {
		return err
	}
	next.Fragments = append(next.Fragments, ref)
	return nil
}

func (t *Table) writeBlobs(ctx context.Context, batch *schema.Batch) error {
	for i := 0; i < batch.NumRows; i++ {
		if batch.RawData == nil || len(batch.RawData[i]) == 0 {
			continue
		}
		if err := t.store.Put(ctx, blobKey(batch.UUID[i]), batch.RawData[i]); err != nil {
			return err
		}
		if batch.RawDataRef == nil {
			batch.RawDataRef = make([]string, batch.NumRows)
		}
		batch.RawDataRef[i] = batch.UUID[i]
	}
	return nil
}

// DeleteRows tombstones every live row whose uuid is in uuids. Missing
// uuids are ignored. Returns the number of rows tombstoned.
func (t *Table) DeleteRows(ctx context.Context, uuids []string) (int, error) {
	deleted := 0
	err := t.commit(ctx, func(next *Manifest, del deletionVector) error {
		n, err := t.tombstone(ctx, next, del, uuids)
		deleted = n
		return err
	})
	return deleted, err
}

// tombstone locates the live rows for uuids and marks them in del.
func (t *Table) tombstone(ctx context.Context, m *Manifest, del deletionVector, uuids []string) (int, error) {
	want := make(map[string]bool, len(uuids))
	for _, u := range uuids {
		want[u] = true
	}
	found := 0
	for _, ref := range m.Fragments {
		batch, err := readFragment(ctx, t.store, ref.ID)
		if err != nil {
			return found, err
		}
		dead := del.deleted(ref.ID)
		for i := 0; i < batch.NumRows; i++ {
			if dead[i] {
				continue
			}
			if want[batch.UUID[i]] {
				del.add(ref.ID, i)
				found++
			}
		}
	}
	return found, nil
}

// UpsertRows tombstones the existing rows for the batch's uuids and appends
// the batch, all in one version bump.
func (t *Table) UpsertRows(ctx context.Context, batch *schema.Batch) error {
	if batch == nil || batch.NumRows == 0 {
		return nil
	}
	return t.commit(ctx, func(next *Manifest, del deletionVector) error {
		if _, err := t.tombstone(ctx, next, del, batch.UUID); err != nil {
			return err
		}
		return t.appendLocked(ctx, next, batch)
	})
}

// FetchBlob reads the blob payload for a row key. Returns ErrObjectNotFound
// when the row never stored a payload.
func (t *Table) FetchBlob(ctx context.Context, uuid string) ([]byte, error) {
	return t.store.Get(ctx, blobKey(uuid))
}

// NumRows counts the live rows at the current snapshot.
func (t *Table) NumRows() uint64 {
	m, del := t.snapshot()
	return m.RowCount() - uint64(del.count())
}

// Stats summarizes the current snapshot.
func (t *Table) Stats() models.DatasetStats {
	m, del := t.snapshot()
	stats := models.DatasetStats{
		Version:      m.Version,
		NumRows:      m.RowCount() - uint64(del.count()),
		NumFragments: len(m.Fragments),
		SizeBytes:    m.SizeBytes(),
		Dimension:    m.Dimension,
	}
	for _, ix := range m.Indices {
		stats.Indices = append(stats.Indices, models.IndexInfo{
			Name:         ix.Name,
			Kind:         ix.Kind,
			Columns:      append([]string(nil), ix.Columns...),
			BuiltVersion: ix.BuiltVersion,
		})
	}
	return stats
}

// ListVersions returns every queryable version, ascending.
func (t *Table) ListVersions(ctx context.Context) ([]VersionInfo, error) {
	versions, err := listManifestVersions(ctx, t.store)
	if err != nil {
		return nil, err
	}
	tags, err := loadTags(ctx, t.store)
	if err != nil {
		return nil, err
	}
	byVersion := make(map[uint64][]string)
	for label, v := range tags {
		byVersion[v] = append(byVersion[v], label)
	}
	out := make([]VersionInfo, 0, len(versions))
	for _, v := range versions {
		m, err := loadManifest(ctx, t.store, v)
		if err != nil {
			return nil, err
		}
		del, err := loadDeletions(ctx, t.store, m.DeletionFile)
		if err != nil {
			return nil, err
		}
		out = append(out, VersionInfo{
			Version:   v,
			CreatedAt: m.CreatedAt,
			NumRows:   m.RowCount() - uint64(del.count()),
			Tags:      byVersion[v],
		})
	}
	return out, nil
}

// Checkout pins the table read-only at a historical version.
func (t *Table) Checkout(ctx context.Context, version uint64) error {
	m, err := loadManifest(ctx, t.store, version)
	if err != nil {
		return err
	}
	del, err := loadDeletions(ctx, t.store, m.DeletionFile)
	if err != nil {
		return err
	}
	t.snapMu.Lock()
	t.manifest, t.deletions, t.pinned = m, del, true
	t.snapMu.Unlock()
	return nil
}

// Tag labels a version. Labels are mutable and live outside version history.
func (t *Table) Tag(ctx context.Context, version uint64, label string) error {
	if _, err := loadManifest(ctx, t.store, version); err != nil {
		return err
	}
	tags, err := loadTags(ctx, t.store)
	if err != nil {
		return err
	}
	tags[label] = version
	return saveTags(ctx, t.store, tags)
}

// Tags returns the label -> version map.
func (t *Table) Tags(ctx context.Context) (map[string]uint64, error) {
	return loadTags(ctx, t.store)
}

// Compact rewrites the live rows into fragments of at most targetRows,
// clearing the deletion vector. Runs as a normal commit.
func (t *Table) Compact(ctx context.Context, targetRows int) error {
	if targetRows <= 0 {
		targetRows = 4096
	}
	return t.commit(ctx, func(next *Manifest, del deletionVector) error {
		merged := &schema.Batch{}
		for _, ref := range next.Fragments {
			batch, err := readFragment(ctx, t.store, ref.ID)
			if err != nil {
				return err
			}
			dead := del.deleted(ref.ID)
			var live []int
			for i := 0; i < batch.NumRows; i++ {
				if !dead[i] {
					live = append(live, i)
				}
			}
			if len(live) > 0 {
				merged.Append(batch.Select(live))
			}
		}
		next.Fragments = nil
		for k := range del {
			delete(del, k)
		}
		for start := 0; start < merged.NumRows; start += targetRows {
			end := start + targetRows
			if end > merged.NumRows {
				end = merged.NumRows
			}
			rows := make([]int, 0, end-start)
			for i := start; i < end; i++ {
				rows = append(rows, i)
			}
			ref, err := writeFragment(ctx, t.store, t.opts.IDs.NewID(), merged.Select(rows))
			if err != nil {
				return err
			}
			next.Fragments = append(next.Fragments, ref)
		}
		return nil
	})
}

// CleanupOldVersions retires historical manifests, keeping the newest
// keepCount versions and anything younger than olderThan (zero means no age
// threshold). Fragments and deletion files referenced by a retired manifest
// and by no surviving one are deleted; files that no manifest references are
// left in place. Returns the number of versions removed.
func (t *Table) CleanupOldVersions(ctx context.Context, keepCount int, olderThan time.Duration) (int, error) {
	if keepCount < 1 {
		keepCount = 1
	}
	versions, err := listManifestVersions(ctx, t.store)
	if err != nil {
		return 0, err
	}
	if len(versions) <= keepCount {
		return 0, nil
	}
	cutoff := t.opts.Clock.Now().UTC().Add(-olderThan)
	keepFrom := len(versions) - keepCount

	manifests := make(map[uint64]*Manifest, len(versions))
	for _, v := range versions {
		m, err := loadManifest(ctx, t.store, v)
		if err != nil {
			return 0, err
		}
		manifests[v] = m
	}

	var retire []uint64
	for i, v := range versions {
		if i >= keepFrom {
			break
		}
		if olderThan > 0 && manifests[v].CreatedAt.After(cutoff) {
			continue
		}
		retire = append(retire, v)
	}
	if len(retire) == 0 {
		return 0, nil
	}

	retired := make(map[uint64]bool, len(retire))
	for _, v := range retire {
		retired[v] = true
	}
	liveFragments := make(map[string]bool)
	liveDeletions := make(map[string]bool)
	for v, m := range manifests {
		if retired[v] {
			continue
		}
		for _, f := range m.Fragments {
			liveFragments[f.ID] = true
		}
		if m.DeletionFile != "" {
			liveDeletions[m.DeletionFile] = true
		}
	}
	for _, v := range retire {
		m := manifests[v]
		for _, f := range m.Fragments {
			if !liveFragments[f.ID] {
				if err := t.store.Delete(ctx, fragmentKey(f.ID)); err != nil {
					return 0, err
				}
			}
		}
		if m.DeletionFile != "" && !liveDeletions[m.DeletionFile] {
			if err := t.store.Delete(ctx, m.DeletionFile); err != nil {
				return 0, err
			}
		}
		if err := t.store.Delete(ctx, manifestKey(v)); err != nil {
			return 0, err
		}
	}
	return len(retire), nil
}
