package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/contextframe/contextframe-go/models"
)

// Manifest is one consistent snapshot of a dataset. Every mutation writes
// its fragments and deletion vector first, then publishes a new manifest
// under manifest/<version>.json; the version number is the commit point.
type Manifest struct {
	Version   uint64    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Dimension int       `json:"dimension"`

	Fragments []FragmentRef `json:"fragments"`
	// DeletionFile names the deletion vector active at this version
	// ("" when nothing is deleted).
	DeletionFile string     `json:"deletion_file,omitempty"`
	Indices      []IndexRef `json:"indices,omitempty"`
}

// FragmentRef points at one persisted row group.
type FragmentRef struct {
	ID    string `json:"id"`
	Rows  int    `json:"rows"`
	Bytes int64  `json:"bytes"`
}

// IndexRef records an index in the manifest. BuiltVersion tells readers
// whether the index still reflects the data; a stale index is rebuilt or
// bypassed depending on the caller.
type IndexRef struct {
	Name         string            `json:"name"`
	Kind         string            `json:"kind"` // btree, bitmap, inverted, fts, ivf, ivf_pq
	Columns      []string          `json:"columns"`
	Params       map[string]string `json:"params,omitempty"`
	BuiltVersion uint64            `json:"built_version"`
	File         string            `json:"file"`
}

// RowCount sums the live rows across fragments (before deletion vectors).
func (m *Manifest) RowCount() uint64 {
	var n uint64
	for _, f := range m.Fragments {
		n += uint64(f.Rows)
	}
	return n
}

// SizeBytes sums the persisted fragment sizes.
func (m *Manifest) SizeBytes() int64 {
	var n int64
	for _, f := range m.Fragments {
		n += f.Bytes
	}
	return n
}

func (m *Manifest) indexByName(name string) (int, bool) {
	for i, ix := range m.Indices {
		if ix.Name == name {
			return i, true
		}
	}
	return 0, false
}

func manifestKey(version uint64) string {
	return fmt.Sprintf("manifest/%020d.json", version)
}

func parseManifestKey(key string) (uint64, bool) {
	name := strings.TrimPrefix(key, "manifest/")
	name = strings.TrimSuffix(name, ".json")
	v, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// loadManifest reads one manifest version.
func loadManifest(ctx context.Context, store ObjectStore, version uint64) (*Manifest, error) {
	data, err := store.Get(ctx, manifestKey(version))
	if err != nil {
		if err == ErrObjectNotFound {
			return nil, models.NewNotFound("version", strconv.FormatUint(version, 10))
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &models.StorageError{Op: "read manifest", Err: err}
	}
	return &m, nil
}

// listManifestVersions returns every persisted version number, ascending.
func listManifestVersions(ctx context.Context, store ObjectStore) ([]uint64, error) {
	keys, err := store.List(ctx, "manifest")
	if err != nil {
		return nil, err
	}
	var versions []uint64
	for _, k := range keys {
		if v, ok := parseManifestKey(k); ok {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// latestManifest loads the highest-numbered manifest.
func latestManifest(ctx context.Context, store ObjectStore) (*Manifest, error) {
	versions, err := listManifestVersions(ctx, store)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, models.NewNotFound("dataset", "no manifest present")
	}
	return loadManifest(ctx, store, versions[len(versions)-1])
}

// tags are stored outside the versioned manifests: a single tags.json
// mapping label -> version, updated in place.
const tagsKey = "tags.json"

func loadTags(ctx context.Context, store ObjectStore) (map[string]uint64, error) {
	data, err := store.Get(ctx, tagsKey)
	if err != nil {
		if err == ErrObjectNotFound {
			return map[string]uint64{}, nil
		}
		return nil, err
	}
	tags := make(map[string]uint64)
	if err := json.Unmarshal(data, &tags); err != nil {
		return nil, &models.StorageError{Op: "read tags", Err: err}
	}
	return tags, nil
}

func saveTags(ctx context.Context, store ObjectStore, tags map[string]uint64) error {
	data, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	return store.Put(ctx, tagsKey, data)
}
