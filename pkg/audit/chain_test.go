package audit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Mindburn-Labs/baton/pkg/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainStore_AppendAndVerify(t *testing.T) {
	store := audit.NewChainStore()

	for i := 0; i < 5; i++ {
		ce, err := store.Append(audit.Entry{
			Category: audit.CategoryCoordination,
			Actor:    "conductor",
			Action:   "session_completed",
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), ce.Sequence)
		assert.NotEmpty(t, ce.EntryHash)
	}

	assert.Equal(t, 5, store.Size())
	assert.Equal(t, uint64(5), store.Sequence())
	require.NoError(t, store.VerifyChain())
}

func TestChainStore_ChainLinksPreviousHash(t *testing.T) {
	store := audit.NewChainStore()

	first, err := store.Append(audit.Entry{Category: audit.CategoryAction, Action: "a"})
	require.NoError(t, err)
	assert.Equal(t, "genesis", first.PreviousHash)

	second, err := store.Append(audit.Entry{Category: audit.CategoryAction, Action: "b"})
	require.NoError(t, err)
	assert.Equal(t, first.EntryHash, second.PreviousHash)
	assert.Equal(t, second.EntryHash, store.ChainHead())
}

func TestChainStore_TamperDetection(t *testing.T) {
	store := audit.NewChainStore()
	ce, err := store.Append(audit.Entry{Category: audit.CategoryAction, Action: "original"})
	require.NoError(t, err)
	_, err = store.Append(audit.Entry{Category: audit.CategoryAction, Action: "second"})
	require.NoError(t, err)

	// Mutate a stored entry in place.
	ce.Entry.Action = "tampered"
	ce.PayloadHash = "sha256:forged"

	err = store.VerifyChain()
	require.Error(t, err)
	assert.ErrorIs(t, err, audit.ErrChainBroken)
}

func TestChainStore_Query(t *testing.T) {
	store := audit.NewChainStore()
	_, err := store.Append(audit.Entry{Category: audit.CategoryManifest, TenantID: "t1", Action: "register", OrchestrationID: "o-1"})
	require.NoError(t, err)
	_, err = store.Append(audit.Entry{Category: audit.CategoryAction, TenantID: "t1", Action: "dispatch", OrchestrationID: "o-1"})
	require.NoError(t, err)
	_, err = store.Append(audit.Entry{Category: audit.CategoryAction, TenantID: "t2", Action: "dispatch", OrchestrationID: "o-2"})
	require.NoError(t, err)

	byCategory := store.Query(audit.Filter{Category: audit.CategoryAction})
	assert.Len(t, byCategory, 2)

	byTenant := store.Query(audit.Filter{TenantID: "t1"})
	assert.Len(t, byTenant, 2)

	byOrch := store.Query(audit.Filter{OrchestrationID: "o-2"})
	require.Len(t, byOrch, 1)
	assert.Equal(t, "t2", byOrch[0].Entry.TenantID)

	limited := store.Query(audit.Filter{MaxResults: 1})
	assert.Len(t, limited, 1)

	bySeq := store.Query(audit.Filter{StartSeq: 2, EndSeq: 3})
	assert.Len(t, bySeq, 2)
}

func TestChainStore_ConcurrentAppends(t *testing.T) {
	store := audit.NewChainStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Append(audit.Entry{Category: audit.CategoryAction, Action: "parallel"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, store.Size())
	require.NoError(t, store.VerifyChain())
}

func TestChainStore_ExportAndVerifyBundle(t *testing.T) {
	store := audit.NewChainStore()
	for i := 0; i < 4; i++ {
		_, err := store.Append(audit.Entry{Category: audit.CategoryApproval, TenantID: "t1", Action: "resolve"})
		require.NoError(t, err)
	}

	bundle, err := store.ExportBundle(audit.Filter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 4, bundle.EntryCount)
	assert.Equal(t, uint64(1), bundle.StartSeq)
	assert.Equal(t, uint64(4), bundle.EndSeq)

	require.NoError(t, audit.VerifyBundle(bundle))

	bundle.BundleHash = "sha256:forged"
	require.Error(t, audit.VerifyBundle(bundle))

	_, err = store.ExportBundle(audit.Filter{TenantID: "nobody"})
	require.Error(t, err)
}

func TestChainLogger_ImplementsLogger(t *testing.T) {
	store := audit.NewChainStore()
	logger := audit.NewChainLogger(store)

	err := logger.Log(context.Background(), audit.Entry{
		Category: audit.CategoryAuthorization,
		Action:   "authorize",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Size())

	err = audit.NewChainLogger(nil).Log(context.Background(), audit.Entry{})
	require.Error(t, err)
}

func TestSQLiteArchive_RoundTrip(t *testing.T) {
	archive, err := audit.OpenSQLiteArchive(t.TempDir() + "/audit.db")
	require.NoError(t, err)
	defer func() { _ = archive.Close() }()

	store := audit.NewChainStore()
	archive.Attach(store)

	_, err = store.Append(audit.Entry{
		Category:        audit.CategoryAction,
		Severity:        audit.SeverityWarning,
		Actor:           "conductor",
		TenantID:        "t1",
		Resource:        "orchestra:finance",
		Action:          "generate_invoice",
		Decision:        "failure",
		Reason:          "executor error",
		OrchestrationID: "o-99",
		Details:         map[string]any{"code": "EXECUTION_ERROR"},
	})
	require.NoError(t, err)

	entries, err := archive.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, uint64(1), got.Sequence)
	assert.Equal(t, audit.CategoryAction, got.Entry.Category)
	assert.Equal(t, audit.SeverityWarning, got.Entry.Severity)
	assert.Equal(t, "o-99", got.Entry.OrchestrationID)
	assert.Equal(t, "EXECUTION_ERROR", got.Entry.Details["code"])
	assert.WithinDuration(t, time.Now(), got.Entry.Timestamp, time.Minute)

	single, err := archive.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, got.EntryHash, single.EntryHash)

	_, err = archive.Get(context.Background(), 42)
	assert.ErrorIs(t, err, audit.ErrEntryNotFound)
}
