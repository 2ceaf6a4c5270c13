package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/baton/pkg/canonicalize"
)

var (
	ErrEntryNotFound = errors.New("audit: entry not found")
	ErrChainBroken   = errors.New("audit: hash chain is broken")
)

// ChainedEntry is an Entry fixed into the append-only hash chain.
type ChainedEntry struct {
	Sequence     uint64 `json:"sequence"`
	Entry        Entry  `json:"entry"`
	PayloadHash  string `json:"payload_hash"`
	PreviousHash string `json:"previous_hash"`
	EntryHash    string `json:"entry_hash"`
}

// EntryHandler is called synchronously for every appended entry.
type EntryHandler func(e *ChainedEntry)

// ChainStore is an append-only audit log with hash chaining. Each entry's
// hash covers the previous entry's hash, so any mutation or reordering is
// detectable by VerifyChain.
type ChainStore struct {
	mu        sync.RWMutex
	entries   []*ChainedEntry
	byID      map[string]*ChainedEntry
	sequence  uint64
	chainHead string
	handlers  []EntryHandler
}

// NewChainStore creates an empty chain anchored at "genesis".
func NewChainStore() *ChainStore {
	return &ChainStore{
		byID:      make(map[string]*ChainedEntry),
		chainHead: "genesis",
	}
}

// Append fixes an entry into the chain and notifies handlers.
func (s *ChainStore) Append(e Entry) (*ChainedEntry, error) {
	e = stamp(e)

	payloadHash, err := canonicalize.CanonicalHash(e)
	if err != nil {
		return nil, fmt.Errorf("audit: payload hash failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequence++
	ce := &ChainedEntry{
		Sequence:     s.sequence,
		Entry:        e,
		PayloadHash:  payloadHash,
		PreviousHash: s.chainHead,
	}
	entryHash, err := computeEntryHash(ce)
	if err != nil {
		s.sequence-- // rollback sequence on failure
		return nil, fmt.Errorf("audit: entry hash failed: %w", err)
	}
	ce.EntryHash = entryHash
	s.chainHead = entryHash
	s.entries = append(s.entries, ce)
	s.byID[e.ID] = ce

	for _, h := range s.handlers {
		h(ce)
	}
	return ce, nil
}

// computeEntryHash hashes the chain-relevant projection of an entry.
func computeEntryHash(ce *ChainedEntry) (string, error) {
	hashable := struct {
		Sequence     uint64    `json:"sequence"`
		Timestamp    time.Time `json:"timestamp"`
		Category     Category  `json:"category"`
		Action       string    `json:"action"`
		PayloadHash  string    `json:"payload_hash"`
		PreviousHash string    `json:"previous_hash"`
	}{
		Sequence:     ce.Sequence,
		Timestamp:    ce.Entry.Timestamp,
		Category:     ce.Entry.Category,
		Action:       ce.Entry.Action,
		PayloadHash:  ce.PayloadHash,
		PreviousHash: ce.PreviousHash,
	}
	return canonicalize.CanonicalHash(hashable)
}

// Get retrieves a chained entry by the inner entry's ID.
func (s *ChainStore) Get(entryID string) (*ChainedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ce, ok := s.byID[entryID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return ce, nil
}

// ChainHead returns the current head hash.
func (s *ChainStore) ChainHead() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainHead
}

// Sequence returns the current sequence number.
func (s *ChainStore) Sequence() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequence
}

// Size returns the number of entries.
func (s *ChainStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// AddHandler registers a handler for future appends.
func (s *ChainStore) AddHandler(h EntryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Filter selects entries in Query and ExportBundle.
type Filter struct {
	Category        Category
	TenantID        string
	OrchestrationID string
	StartTime       *time.Time
	EndTime         *time.Time
	StartSeq        uint64
	EndSeq          uint64
	MaxResults      int
}

func (f Filter) matches(ce *ChainedEntry) bool {
	e := ce.Entry
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.OrchestrationID != "" && e.OrchestrationID != f.OrchestrationID {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	if f.StartSeq > 0 && ce.Sequence < f.StartSeq {
		return false
	}
	if f.EndSeq > 0 && ce.Sequence > f.EndSeq {
		return false
	}
	return true
}

// Query returns entries matching the filter in append order.
func (s *ChainStore) Query(f Filter) []*ChainedEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*ChainedEntry, 0)
	for _, ce := range s.entries {
		if f.matches(ce) {
			results = append(results, ce)
			if f.MaxResults > 0 && len(results) >= f.MaxResults {
				break
			}
		}
	}
	return results
}

// VerifyChain walks the full chain and recomputes every hash.
func (s *ChainStore) VerifyChain() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expectedPrev := "genesis"
	for i, ce := range s.entries {
		if ce.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s but expected %s",
				ErrChainBroken, i, ce.PreviousHash, expectedPrev)
		}
		computed, err := computeEntryHash(ce)
		if err != nil {
			return fmt.Errorf("%w: entry %d hash computation failed: %v", ErrChainBroken, i, err)
		}
		if computed != ce.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)",
				ErrChainBroken, i, computed, ce.EntryHash)
		}
		expectedPrev = ce.EntryHash
	}
	return nil
}

// Bundle is an exportable slice of the chain.
type Bundle struct {
	BundleID   string          `json:"bundle_id"`
	Version    string          `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	StartSeq   uint64          `json:"start_sequence"`
	EndSeq     uint64          `json:"end_sequence"`
	EntryCount int             `json:"entry_count"`
	Entries    []*ChainedEntry `json:"entries"`
	ChainHead  string          `json:"chain_head"`
	BundleHash string          `json:"bundle_hash"`
}

// ExportBundle packages entries matching the filter for external
// verification.
func (s *ChainStore) ExportBundle(f Filter) (*Bundle, error) {
	entries := s.Query(f)
	if len(entries) == 0 {
		return nil, fmt.Errorf("audit: no entries match filter")
	}

	b := &Bundle{
		BundleID:   uuid.New().String(),
		Version:    "1.0.0",
		CreatedAt:  time.Now().UTC(),
		StartSeq:   entries[0].Sequence,
		EndSeq:     entries[len(entries)-1].Sequence,
		EntryCount: len(entries),
		Entries:    entries,
		ChainHead:  entries[len(entries)-1].EntryHash,
	}

	hash, err := canonicalize.CanonicalHash(b.Entries)
	if err != nil {
		return nil, fmt.Errorf("audit: bundle hash failed: %w", err)
	}
	b.BundleHash = hash
	return b, nil
}

// VerifyBundle checks a bundle's hash and internal chain consistency.
func VerifyBundle(b *Bundle) error {
	if len(b.Entries) == 0 {
		return fmt.Errorf("audit: bundle is empty")
	}
	computed, err := canonicalize.CanonicalHash(b.Entries)
	if err != nil {
		return fmt.Errorf("audit: bundle hash failed: %w", err)
	}
	if computed != b.BundleHash {
		return fmt.Errorf("audit: bundle hash mismatch")
	}
	for i := 1; i < len(b.Entries); i++ {
		if b.Entries[i].PreviousHash != b.Entries[i-1].EntryHash {
			return fmt.Errorf("%w: bundle entry %d", ErrChainBroken, i)
		}
	}
	return nil
}

// ChainLogger adapts a ChainStore to the Logger interface.
type ChainLogger struct {
	store *ChainStore
}

func NewChainLogger(s *ChainStore) *ChainLogger {
	return &ChainLogger{store: s}
}

func (l *ChainLogger) Log(ctx context.Context, e Entry) error {
	if l.store == nil {
		return fmt.Errorf("audit: chain store not configured (fail-closed)")
	}
	_, err := l.store.Append(e)
	return err
}
