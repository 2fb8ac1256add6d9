package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/contextframe/contextframe-go/models"
)

// ObjectStore is the byte-level backend a dataset directory lives on.
// Keys are slash-separated paths relative to the dataset root.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	// PutIfAbsent writes the object only when the key does not exist yet;
	// it returns ErrObjectExists otherwise. Manifest commits rely on this
	// for their compare-and-swap.
	PutIfAbsent(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// List returns the keys under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ErrObjectNotFound is returned by Get for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// ErrObjectExists is returned by PutIfAbsent when the key is taken.
var ErrObjectExists = errors.New("object already exists")

// OpenObjectStore resolves a dataset URI to its backend. Supported schemes:
// file:// (and bare paths), s3://. gs:// and az:// parse but have no driver
// in this build and fail with a storage error naming the gap.
func OpenObjectStore(ctx context.Context, uri string, opts map[string]string) (ObjectStore, error) {
	scheme, rest, found := strings.Cut(uri, "://")
	if !found {
		return newLocalStore(uri)
	}
	switch scheme {
	case "file":
		return newLocalStore(rest)
	case "s3":
		store, err := newS3Store(ctx, rest, opts)
		if err != nil {
			return nil, err
		}
		return withRetry(store), nil
	case "gs", "az":
		return nil, &models.StorageError{Op: "open",
			Err: fmt.Errorf("no %s:// driver built in; only file:// and s3:// are available", scheme)}
	default:
		return nil, &models.StorageError{Op: "open",
			Err: fmt.Errorf("unknown dataset URI scheme %q", scheme)}
	}
}

// localStore keeps the dataset under a directory on the local filesystem.
type localStore struct {
	root string
}

func newLocalStore(root string) (*localStore, error) {
	if root == "" {
		return nil, &models.StorageError{Op: "open", Err: errors.New("empty dataset path")}
	}
	if u, err := url.Parse("file://" + root); err == nil && u.Path != "" {
		root = u.Path
	}
	return &localStore{root: root}, nil
}

func (s *localStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *localStore) Put(ctx context.Context, key string, data []byte) error {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return &models.StorageError{Op: "put", Err: err}
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &models.StorageError{Op: "put", Err: err}
	}
	if err := os.Rename(tmp, p); err != nil {
		return &models.StorageError{Op: "put", Err: err}
	}
	return nil
}

func (s *localStore) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return &models.StorageError{Op: "put", Err: err}
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrObjectExists
		}
		return &models.StorageError{Op: "put", Err: err}
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return &models.StorageError{Op: "put", Err: err}
	}
	return nil
}

func (s *localStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, &models.StorageError{Op: "get", Err: err}
	}
	return data, nil
}

func (s *localStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return &models.StorageError{Op: "delete", Err: err}
	}
	return nil
}

func (s *localStore) List(ctx context.Context, prefix string) ([]string, error) {
	dir := s.path(prefix)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &models.StorageError{Op: "list", Err: err}
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(prefix, "/")+"/"+e.Name())
	}
	sort.Strings(keys)
	return keys, nil
}
