package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyTenantID is returned when tenant ID is empty.
	ErrEmptyTenantID = errors.New("audit: tenant_id must not be empty")
	// ErrInvalidTimeRange is returned when start time is after end time.
	ErrInvalidTimeRange = errors.New("audit: start_time must be before end_time")
	// ErrStoreNotConfigured is returned when export is invoked without a backing store.
	ErrStoreNotConfigured = errors.New("audit: store not configured (fail-closed)")
	// ErrSinkNotConfigured is returned when upload is invoked without an object store.
	ErrSinkNotConfigured = errors.New("audit: evidence sink not configured")
)

// ExportRequest defines which slice of the trail to export.
type ExportRequest struct {
	TenantID  string    `json:"tenant_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// EvidencePack describes a generated and optionally uploaded pack.
type EvidencePack struct {
	TenantID    string    `json:"tenant_id"`
	GeneratedAt time.Time `json:"generated_at"`
	EntryCount  int       `json:"entry_count"`
	Checksum    string    `json:"checksum"`
	StorageHash string    `json:"storage_hash,omitempty"` // set when uploaded to an ObjectStore
}

// Exporter packages audit trail slices into verifiable zip bundles.
type Exporter struct {
	store   *ChainStore
	objects ObjectStore // optional upload sink
}

// NewExporter creates an exporter over the chain store. objects may be nil
// when packs are only generated in memory.
func NewExporter(s *ChainStore, objects ObjectStore) *Exporter {
	return &Exporter{store: s, objects: objects}
}

// GeneratePack creates a zip containing the matching entries plus a
// manifest with the chain head, and returns the zip bytes and their SHA-256
// checksum.
func (e *Exporter) GeneratePack(ctx context.Context, req ExportRequest) ([]byte, string, error) {
	if req.TenantID == "" {
		return nil, "", ErrEmptyTenantID
	}
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && req.StartTime.After(req.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}
	if e.store == nil {
		return nil, "", ErrStoreNotConfigured
	}

	filter := Filter{TenantID: req.TenantID}
	if !req.StartTime.IsZero() {
		filter.StartTime = &req.StartTime
	}
	if !req.EndTime.IsZero() {
		filter.EndTime = &req.EndTime
	}
	entries := e.store.Query(filter)

	entriesJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, "", err
	}

	manifest := map[string]interface{}{
		"tenant_id":    req.TenantID,
		"generated_at": time.Now().UTC(),
		"entry_count":  len(entries),
		"chain_head":   e.store.ChainHead(),
		"period": map[string]interface{}{
			"start": req.StartTime,
			"end":   req.EndTime,
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: marshal pack manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("entries.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(entriesJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(manifestJSON)

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, "", err
	}
	_, _ = fmt.Fprintf(f, "Audit evidence pack for tenant %s\nGenerated at %s\n", req.TenantID, time.Now().UTC())

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	sum := sha256.Sum256(zipBytes)
	return zipBytes, hex.EncodeToString(sum[:]), nil
}

// Export generates a pack and uploads it to the configured object store.
func (e *Exporter) Export(ctx context.Context, req ExportRequest) (*EvidencePack, error) {
	if e.objects == nil {
		return nil, ErrSinkNotConfigured
	}

	zipBytes, checksum, err := e.GeneratePack(ctx, req)
	if err != nil {
		return nil, err
	}

	storageHash, err := e.objects.Store(ctx, zipBytes)
	if err != nil {
		return nil, fmt.Errorf("audit: evidence upload failed: %w", err)
	}

	filter := Filter{TenantID: req.TenantID}
	if !req.StartTime.IsZero() {
		filter.StartTime = &req.StartTime
	}
	if !req.EndTime.IsZero() {
		filter.EndTime = &req.EndTime
	}
	return &EvidencePack{
		TenantID:    req.TenantID,
		GeneratedAt: time.Now().UTC(),
		EntryCount:  len(e.store.Query(filter)),
		Checksum:    checksum,
		StorageHash: storageHash,
	}, nil
}
