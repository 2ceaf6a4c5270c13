package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ObjectStore is content-addressed storage for exported evidence packs.
type ObjectStore interface {
	// Store persists data and returns its content hash ("sha256:<hex>").
	Store(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by its content hash.
	Get(ctx context.Context, hash string) ([]byte, error)
	// Exists checks whether an object exists by its content hash.
	Exists(ctx context.Context, hash string) (bool, error)
	// Delete removes an object by its content hash.
	Delete(ctx context.Context, hash string) error
}

// ObjectStoreType selects the evidence sink backend.
type ObjectStoreType string

const (
	ObjectStoreFS  ObjectStoreType = "fs"
	ObjectStoreS3  ObjectStoreType = "s3"
	ObjectStoreGCS ObjectStoreType = "gcs"
)

// ObjectStoreConfig configures NewObjectStore.
type ObjectStoreConfig struct {
	Type ObjectStoreType

	// FS
	Dir string

	// S3
	Bucket   string
	Region   string
	Endpoint string // optional, for MinIO/LocalStack
	Prefix   string
}

// NewObjectStore builds an evidence sink for the configured backend.
// Type defaults to the filesystem store.
func NewObjectStore(ctx context.Context, cfg ObjectStoreConfig) (ObjectStore, error) {
	switch cfg.Type {
	case ObjectStoreFS, "":
		dir := cfg.Dir
		if dir == "" {
			dir = filepath.Join("data", "evidence")
		}
		return NewFileStore(dir)
	case ObjectStoreS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("audit: bucket is required for s3 evidence storage")
		}
		return NewS3Store(ctx, cfg)
	case ObjectStoreGCS:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("audit: bucket is required for gcs evidence storage")
		}
		return newGCSObjectStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("audit: unsupported evidence storage type: %s", cfg.Type)
	}
}

// FileStore is a filesystem-backed ObjectStore.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a content-addressed store at the given directory.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: ensure evidence dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Store(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := sha256.Sum256(data)
	hashStr := hex.EncodeToString(sum[:])
	prefixedHash := "sha256:" + hashStr

	path := filepath.Join(s.baseDir, hashStr+".zip")
	if _, err := os.Stat(path); err == nil {
		return prefixedHash, nil // already exists
	}

	// Write to temp, then rename
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return "", fmt.Errorf("audit: write evidence blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("audit: commit evidence blob: %w", err)
	}
	return prefixedHash, nil
}

func (s *FileStore) Get(ctx context.Context, hash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := rawHash(hash)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.baseDir, raw+".zip"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("audit: evidence not found: %s", hash)
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

func (s *FileStore) Exists(ctx context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := rawHash(hash)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(s.baseDir, raw+".zip"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *FileStore) Delete(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := rawHash(hash)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.baseDir, raw+".zip"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("audit: delete evidence: %w", err)
	}
	return nil
}

// rawHash strips and validates the "sha256:" prefix.
func rawHash(hash string) (string, error) {
	if len(hash) < 7 || hash[:7] != "sha256:" {
		return "", fmt.Errorf("audit: invalid hash format: %s", hash)
	}
	raw := hash[7:]
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("audit: invalid hash hex: %w", err)
	}
	return raw, nil
}
