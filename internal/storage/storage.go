// Package storage provides object storage for configuration documents and
// evidence archives.
//
// Two providers implement the Storage interface:
// - LocalStorage: a directory on the local filesystem (development)
// - R2Storage: Cloudflare R2 through the S3 API (production)
//
// The compliance rule table is published here so every server instance can
// hot-reload it, and each lab report is archived here as submitted.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage defines the object operations the application relies on.
// All methods are context-aware for timeout and cancellation support.
type Storage interface {
	// Put stores data at key. Returns ErrKeyExists when the key is taken
	// and opts.Overwrite is false.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get returns the object body (caller must close) and its metadata.
	// Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Stat returns object metadata without reading the body.
	// Returns ErrNotFound if the key doesn't exist.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// =============================================================================
// Data Types
// =============================================================================

// PutOptions configures how an object is stored.
type PutOptions struct {
	// ContentType of the object. Derived from the key extension when empty.
	ContentType string

	// MaxSize rejects bodies larger than this many bytes with ErrTooLarge.
	// Zero means no limit.
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
	ETag         string
}

// Revision identifies a version of an object for change detection.
func (o ObjectInfo) Revision() string {
	if o.ETag != "" {
		return o.ETag
	}
	return fmt.Sprintf("%d-%d", o.LastModified.UnixNano(), o.Size)
}

// =============================================================================
// Configuration Types
// =============================================================================

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory where objects are stored.
	BasePath string
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// Region is required by the AWS SDK. R2 accepts "auto".
	Region string
}

const (
	// ProviderLocal identifies the local filesystem storage provider.
	ProviderLocal = "local"

	// ProviderR2 identifies the Cloudflare R2 storage provider.
	ProviderR2 = "r2"
)

// =============================================================================
// Key Helpers
// =============================================================================

// DefaultRulesKey is where the active compliance rule table is published.
const DefaultRulesKey = "rules/ruleset.yaml"

// RulesArchiveKey returns the key a superseded rule table is archived under.
// Format: rules/archive/{unix-seconds}-{version}.yaml
func RulesArchiveKey(version string, at time.Time) string {
	v := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, version)
	return fmt.Sprintf("rules/archive/%d-%s.yaml", at.Unix(), v)
}

// LabReportKey returns the archive key of a submitted lab analysis.
// Format: reports/{productID}/{reportID}.json
func LabReportKey(productID, reportID uuid.UUID) string {
	return fmt.Sprintf("reports/%s/%s.json", productID, reportID)
}

// contentTypeFor derives a MIME type from the key extension.
func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".yaml", ".yml":
		return "application/yaml"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}

// validateKey rejects empty keys and path traversal attempts.
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}
