// Package storage describes where trends table snapshots live for the local
// query engine.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

const ParquetContentType = "application/vnd.apache.parquet"

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
}

// ObjectStore holds the parquet snapshots of the trends tables.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
}

// MissingSnapshots returns the keys that have no object in the store. Any
// error other than ErrObjectNotFound aborts the scan.
func MissingSnapshots(ctx context.Context, store ObjectStore, keys []string) ([]string, error) {
	var missing []string
	for _, key := range keys {
		_, err := store.Stat(ctx, key)
		switch {
		case err == nil:
		case errors.Is(err, ErrObjectNotFound):
			missing = append(missing, key)
		default:
			return nil, fmt.Errorf("stat snapshot %q: %w", key, err)
		}
	}
	return missing, nil
}
