// Package store is the I/O boundary between the asset library and the
// backend that owns the assets.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Record is one raw asset as the backend returned it. Field names and
// value types vary between backends; library.Normalizer maps it.
type Record map[string]any

// Payload is a retrievable asset body.
type Payload struct {
	Body        io.ReadCloser
	Filename    string
	ContentType string
	Size        int64 // -1 when unknown
}

type Store interface {
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, id string) error
	Download(ctx context.Context, id string) (*Payload, error)
}

// BulkDeleteResponse is the minimum accounting of a multi-id delete.
// FailedIDs is only meaningful when HasFailedIDs is set.
type BulkDeleteResponse struct {
	DeletedCount int
	FailedIDs    []string
	HasFailedIDs bool
}

// BulkDeleter is implemented by stores with a true multi-id delete.
type BulkDeleter interface {
	BulkDelete(ctx context.Context, ids []string) (*BulkDeleteResponse, error)
}

var ErrNotFound = errors.New("asset not found")

// StatusError is a non-2xx reply, or a 2xx reply whose body reported failure.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.Code)
}

// TransientError marks failures worth retrying: network errors and 5xx.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
