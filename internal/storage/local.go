package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// LocalStorage Implementation
// =============================================================================

// LocalStorage implements Storage on a directory of the local filesystem.
// Writes go through a temporary file and a rename, so a concurrent reader
// never observes a half-written rule table.
type LocalStorage struct {
	basePath string
	logger   *slog.Logger
}

// NewLocalStorage creates the base directory if needed and returns a store
// rooted at it.
func NewLocalStorage(cfg LocalConfig, logger *slog.Logger) (*LocalStorage, error) {
	absPath, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	logger.Info("initialized local storage", "base_path", absPath)

	return &LocalStorage{basePath: absPath, logger: logger}, nil
}

// =============================================================================
// Interface Implementation
// =============================================================================

// Put writes data to key atomically.
func (s *LocalStorage) Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := s.resolvePath(key)
	if err != nil {
		return &StorageError{Op: "Put", Key: key, Err: err}
	}

	if !opts.Overwrite {
		if _, err := os.Stat(filePath); err == nil {
			return &StorageError{Op: "Put", Key: key, Err: ErrKeyExists}
		}
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StorageError{Op: "Put", Key: key, Err: fmt.Errorf("failed to create directory: %w", err)}
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return &StorageError{Op: "Put", Key: key, Err: fmt.Errorf("failed to create temp file: %w", err)}
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	src := data
	if opts.MaxSize > 0 {
		src = io.LimitReader(data, opts.MaxSize+1)
	}
	written, err := io.Copy(tmp, src)
	if err != nil {
		cleanup()
		return &StorageError{Op: "Put", Key: key, Err: fmt.Errorf("failed to write file: %w", err)}
	}
	if opts.MaxSize > 0 && written > opts.MaxSize {
		cleanup()
		return &StorageError{Op: "Put", Key: key, Err: ErrTooLarge}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &StorageError{Op: "Put", Key: key, Err: fmt.Errorf("failed to flush file: %w", err)}
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		os.Remove(tmpName)
		return &StorageError{Op: "Put", Key: key, Err: fmt.Errorf("failed to publish file: %w", err)}
	}

	s.logger.Debug("stored object", "key", key, "size", written)
	return nil
}

// Get opens the object at key.
func (s *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	info, err := s.stat(ctx, "Get", key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}

	filePath, _ := s.resolvePath(key)
	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ObjectInfo{}, &StorageError{Op: "Get", Key: key, Err: ErrNotFound}
		}
		return nil, ObjectInfo{}, &StorageError{Op: "Get", Key: key, Err: fmt.Errorf("failed to open file: %w", err)}
	}
	return file, info, nil
}

// Stat returns metadata for key. The ETag is derived from the modification
// time and size.
func (s *LocalStorage) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	return s.stat(ctx, "Stat", key)
}

// Delete removes key. Missing keys are ignored.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := s.resolvePath(key)
	if err != nil {
		return &StorageError{Op: "Delete", Key: key, Err: err}
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &StorageError{Op: "Delete", Key: key, Err: fmt.Errorf("failed to delete file: %w", err)}
	}

	s.logger.Debug("deleted object", "key", key)
	return nil
}

// =============================================================================
// Internal Helpers
// =============================================================================

func (s *LocalStorage) stat(ctx context.Context, op, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}

	filePath, err := s.resolvePath(key)
	if err != nil {
		return ObjectInfo{}, &StorageError{Op: op, Key: key, Err: err}
	}

	st, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ObjectInfo{}, &StorageError{Op: op, Key: key, Err: ErrNotFound}
		}
		return ObjectInfo{}, &StorageError{Op: op, Key: key, Err: fmt.Errorf("failed to stat file: %w", err)}
	}
	if st.IsDir() {
		return ObjectInfo{}, &StorageError{Op: op, Key: key, Err: ErrNotFound}
	}

	return ObjectInfo{
		Key:          key,
		Size:         st.Size(),
		ContentType:  contentTypeFor(key),
		LastModified: st.ModTime(),
		ETag:         fmt.Sprintf("%x-%x", st.ModTime().UnixNano(), st.Size()),
	}, nil
}

// resolvePath maps a key to a file under the base directory. Keys that
// would escape the base directory are rejected.
func (s *LocalStorage) resolvePath(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	absPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if absPath != s.basePath && !strings.HasPrefix(absPath, s.basePath+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return absPath, nil
}
