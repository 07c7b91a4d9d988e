// Package storage provides object storage for retention-sweep archives.
//
// This package defines a Storage interface with implementations for:
// - LocalStorage: File system storage for development and single hosts
// - R2Storage: Cloudflare R2 (S3-compatible) storage for production
//
// Archives are written once and never overwritten; keys are generated per
// sweep so retries produce new objects instead of clobbering old ones.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage defines the object operations the sweeper and its tooling need.
//
// All methods are context-aware for timeout and cancellation support.
type Storage interface {
	// Put stores data at key. Returns ErrKeyExists if the key is taken and
	// opts.Overwrite is false, and ErrTooLarge if data exceeds opts.MaxSize.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get returns the object at key. The caller must close the reader.
	// Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// =============================================================================
// Data Types
// =============================================================================

// PutOptions configures how an object is stored.
type PutOptions struct {
	// ContentType is the MIME type. Defaults to ArchiveContentType.
	ContentType string

	// MaxSize rejects objects larger than this many bytes. 0 means no limit.
	MaxSize int64

	// Overwrite allows replacing an existing object at the same key.
	Overwrite bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string // empty for local storage
}

// =============================================================================
// Configuration Types
// =============================================================================

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory. Example: "./data/archive"
	BasePath string
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// Region is required by the SDK; R2 accepts "auto". Default: "auto"
	Region string

	// Endpoint overrides the account endpoint, for S3-compatible stores
	// such as MinIO in development.
	Endpoint string
}

// =============================================================================
// Provider Constants
// =============================================================================

const (
	// ProviderNone disables archiving.
	ProviderNone = "none"

	// ProviderLocal identifies the local filesystem storage provider.
	ProviderLocal = "local"

	// ProviderR2 identifies the Cloudflare R2 storage provider.
	ProviderR2 = "r2"
)

// ArchiveContentType is the MIME type of sweep archives (JSON lines).
const ArchiveContentType = "application/x-ndjson"

// ArchivePrefix is the key prefix shared by every sweep archive.
const ArchivePrefix = "usage-archive/"

// =============================================================================
// Key Generation Helpers
// =============================================================================

// ArchiveKey generates a storage key for a sweep archive written at t.
// Format: usage-archive/{yyyy}/{mm}/{dd}/{uuid}.jsonl
//
// Example: "usage-archive/2026/04/01/987fcdeb-51a2-43f1-b9c4-12345678abcd.jsonl"
func ArchiveKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s%04d/%02d/%02d/%s.jsonl", ArchivePrefix, t.Year(), t.Month(), t.Day(), uuid.New())
}
