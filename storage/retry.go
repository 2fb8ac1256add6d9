package storage

import (
	"context"
	"log"
	"time"

	"github.com/contextframe/contextframe-go/models"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 100 * time.Millisecond
)

// retryStore decorates an ObjectStore with bounded exponential backoff for
// transient failures (throttling, connection resets, 5xx). Permanent
// failures and not-found results pass through immediately. PutIfAbsent is
// never retried: an ambiguous first attempt could have landed, and a
// retry would misreport it as a conflict.
type retryStore struct {
	inner ObjectStore
}

func withRetry(inner ObjectStore) ObjectStore {
	return &retryStore{inner: inner}
}

func (s *retryStore) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			log.Printf("storage %s transient failure, retrying in %s: %v", op, delay, err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = fn()
		if err == nil || !models.IsTransient(err) {
			return err
		}
	}
	return err
}

func (s *retryStore) Put(ctx context.Context, key string, data []byte) error {
	return s.retry(ctx, "put", func() error { return s.inner.Put(ctx, key, data) })
}

func (s *retryStore) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	return s.inner.PutIfAbsent(ctx, key, data)
}

func (s *retryStore) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.retry(ctx, "get", func() error {
		var err error
		out, err = s.inner.Get(ctx, key)
		return err
	})
	return out, err
}

func (s *retryStore) Delete(ctx context.Context, key string) error {
	return s.retry(ctx, "delete", func() error { return s.inner.Delete(ctx, key) })
}

func (s *retryStore) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := s.retry(ctx, "list", func() error {
		var err error
		out, err = s.inner.List(ctx, prefix)
		return err
	})
	return out, err
}
