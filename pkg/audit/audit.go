// Package audit records the governance decisions the engine makes: who asked
// for what, which gate decided, and why. Recording is a side channel; a
// failure to record must never fail or delay the primary result, which is
// what the BestEffort wrapper enforces.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Category classifies which part of the engine produced a record.
type Category string

const (
	CategoryAuthorization Category = "authorization"
	CategoryCoordination  Category = "coordination"
	CategoryAction        Category = "action"
	CategoryManifest      Category = "manifest"
	CategoryApproval      Category = "approval"
)

// Severity grades a record.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Entry is a single governance audit record.
type Entry struct {
	ID              string         `json:"id"`
	Category        Category       `json:"category"`
	Severity        Severity       `json:"severity"`
	Actor           string         `json:"actor"`
	TenantID        string         `json:"tenant_id,omitempty"`
	Resource        string         `json:"resource"`
	Action          string         `json:"action"`
	Decision        string         `json:"decision,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	OrchestrationID string         `json:"orchestration_id,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Logger records audit entries. Implementations must be safe for concurrent
// use.
type Logger interface {
	Log(ctx context.Context, e Entry) error
}

// stamp fills the fields the producer is allowed to leave empty.
func stamp(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	return e
}

// WriterLogger writes entries as JSON lines to a Writer.
type WriterLogger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewWriterLogger creates a Logger writing to the given writer.
// A nil writer defaults to os.Stdout.
func NewWriterLogger(w io.Writer) *WriterLogger {
	if w == nil {
		w = os.Stdout
	}
	return &WriterLogger{writer: w}
}

func (l *WriterLogger) Log(ctx context.Context, e Entry) error {
	e = stamp(e)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	// Prefix with AUDIT: for easy filtering
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(b, '\n')...))
	return err
}

// BestEffort wraps a Logger so recording failures are swallowed and logged
// instead of propagating into the primary result path. A nil receiver or a
// nil inner logger is a no-op, which lets callers hold it unconditionally.
type BestEffort struct {
	inner Logger
	log   *slog.Logger
}

// NewBestEffort wraps inner. Pass nil to get a no-op recorder.
func NewBestEffort(inner Logger) *BestEffort {
	return &BestEffort{
		inner: inner,
		log:   slog.Default().With("component", "audit"),
	}
}

// Log records the entry, dropping it with a warning on failure.
func (b *BestEffort) Log(ctx context.Context, e Entry) {
	if b == nil || b.inner == nil {
		return
	}
	if err := b.inner.Log(ctx, e); err != nil {
		b.log.Warn("audit record dropped",
			"category", string(e.Category),
			"action", e.Action,
			"error", err)
	}
}
