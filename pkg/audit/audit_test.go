package audit_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/Mindburn-Labs/baton/pkg/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLogger_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewWriterLogger(&buf)

	err := logger.Log(context.Background(), audit.Entry{
		Category: audit.CategoryAuthorization,
		Actor:    "user-1",
		TenantID: "tenant-1",
		Resource: "orchestra:database",
		Action:   "authorize",
		Decision: "allowed",
	})
	require.NoError(t, err)

	output := buf.String()
	assert.True(t, strings.HasPrefix(output, "AUDIT: "))

	jsonPart := strings.TrimSpace(strings.TrimPrefix(output, "AUDIT: "))
	var e audit.Entry
	require.NoError(t, json.Unmarshal([]byte(jsonPart), &e))

	assert.Equal(t, audit.CategoryAuthorization, e.Category)
	assert.Equal(t, "authorize", e.Action)
	assert.Equal(t, "tenant-1", e.TenantID)
	assert.Equal(t, audit.SeverityInfo, e.Severity)
	assert.NotEmpty(t, e.ID)
	assert.Len(t, e.ID, 36)
	assert.False(t, e.Timestamp.IsZero())
}

type failingLogger struct{}

func (failingLogger) Log(ctx context.Context, e audit.Entry) error {
	return errors.New("sink unavailable")
}

func TestBestEffort_SwallowsFailures(t *testing.T) {
	be := audit.NewBestEffort(failingLogger{})
	// Must not panic or propagate.
	be.Log(context.Background(), audit.Entry{Category: audit.CategoryAction, Action: "x"})

	var nilWrapped *audit.BestEffort
	nilWrapped.Log(context.Background(), audit.Entry{})

	audit.NewBestEffort(nil).Log(context.Background(), audit.Entry{})
}

func TestExporter_GeneratePack(t *testing.T) {
	store := audit.NewChainStore()
	for i := 0; i < 3; i++ {
		_, err := store.Append(audit.Entry{
			Category: audit.CategoryAction,
			TenantID: "tenant-123",
			Action:   "analyze_schema",
		})
		require.NoError(t, err)
	}

	exporter := audit.NewExporter(store, nil)
	req := audit.ExportRequest{
		TenantID:  "tenant-123",
		StartTime: time.Now().Add(-24 * time.Hour),
		EndTime:   time.Now().Add(time.Hour),
	}

	zipBytes, checksum, err := exporter.GeneratePack(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, zipBytes)
	assert.Len(t, checksum, 64) // sha256 hex

	r, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range r.File {
		names[f.Name] = true
	}
	assert.True(t, names["entries.json"])
	assert.True(t, names["manifest.json"])
	assert.True(t, names["README.txt"])

	entriesFile, err := r.Open("entries.json")
	require.NoError(t, err)
	raw, err := io.ReadAll(entriesFile)
	require.NoError(t, err)
	var entries []*audit.ChainedEntry
	require.NoError(t, json.Unmarshal(raw, &entries))
	assert.Len(t, entries, 3)
}

func TestExporter_GeneratePack_Validation(t *testing.T) {
	store := audit.NewChainStore()
	exporter := audit.NewExporter(store, nil)

	_, _, err := exporter.GeneratePack(context.Background(), audit.ExportRequest{TenantID: ""})
	assert.ErrorIs(t, err, audit.ErrEmptyTenantID)

	_, _, err = exporter.GeneratePack(context.Background(), audit.ExportRequest{
		TenantID:  "tenant-123",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(-time.Hour),
	})
	assert.ErrorIs(t, err, audit.ErrInvalidTimeRange)

	_, _, err = audit.NewExporter(nil, nil).GeneratePack(context.Background(), audit.ExportRequest{TenantID: "t"})
	assert.ErrorIs(t, err, audit.ErrStoreNotConfigured)
}

func TestExporter_Export_UploadsToObjectStore(t *testing.T) {
	store := audit.NewChainStore()
	_, err := store.Append(audit.Entry{Category: audit.CategoryManifest, TenantID: "t1", Action: "register"})
	require.NoError(t, err)

	objects, err := audit.NewFileStore(t.TempDir())
	require.NoError(t, err)

	exporter := audit.NewExporter(store, objects)
	pack, err := exporter.Export(context.Background(), audit.ExportRequest{TenantID: "t1"})
	require.NoError(t, err)

	assert.Equal(t, "t1", pack.TenantID)
	assert.Equal(t, 1, pack.EntryCount)
	assert.True(t, strings.HasPrefix(pack.StorageHash, "sha256:"))

	stored, err := objects.Get(context.Background(), pack.StorageHash)
	require.NoError(t, err)
	assert.NotEmpty(t, stored)

	exists, err := objects.Exists(context.Background(), pack.StorageHash)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestExporter_Export_NoSink(t *testing.T) {
	exporter := audit.NewExporter(audit.NewChainStore(), nil)
	_, err := exporter.Export(context.Background(), audit.ExportRequest{TenantID: "t"})
	assert.ErrorIs(t, err, audit.ErrSinkNotConfigured)
}
