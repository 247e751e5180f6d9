// vidvault/storage/storage.go

// Package storage persists artifacts in object storage. Backends
// implement the Storage interface; new providers are added by
// implementing it, not by extending an existing one.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Error is a storage-sink failure. Provider tags the backend; Code is an
// optional provider-specific detail. All storage errors are considered
// retryable by the task processor.
type Error struct {
	Provider string
	Code     string
	Msg      string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("storage %s failed (%s): %s", e.Provider, e.Code, e.Msg)
	}
	return fmt.Sprintf("storage %s failed: %s", e.Provider, e.Msg)
}

// PutResult describes one stored object.
type PutResult struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
}

// ObjectInfo is one listed object.
type ObjectInfo struct {
	Key         string            `json:"key"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Storage is the sink contract the processor depends on. Put consumes the
// reader fully; size may be -1 when the total is unknown up front.
type Storage interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, metadata map[string]string) (*PutResult, error)
	URL(ctx context.Context, key string, expiresIn time.Duration) (string, error)
	List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}
