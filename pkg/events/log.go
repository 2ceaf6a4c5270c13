package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/baton/pkg/canonicalize"
)

// Log is an append-only in-memory event log with a cumulative canonical
// hash over everything committed. Two logs that saw the same events in the
// same order report the same Hash.
type Log struct {
	mu             sync.RWMutex
	events         []*Event
	sequence       uint64
	cumulativeHash string
}

// NewLog creates an empty event log.
func NewLog() *Log {
	return &Log{}
}

// Publish commits the event: assigns its sequence number, hashes the
// payload and folds it into the cumulative hash.
func (l *Log) Publish(ctx context.Context, e Event) error {
	_, err := l.Append(e)
	return err
}

// Append commits the event and returns it with sequence and hash assigned.
func (l *Log) Append(e Event) (*Event, error) {
	e = stamp(e)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequence++
	e.Sequence = l.sequence

	payloadHash, err := canonicalize.CanonicalHash(e.Payload)
	if err != nil {
		l.sequence--
		return nil, fmt.Errorf("events: payload hash failed: %w", err)
	}
	e.PayloadHash = payloadHash

	eventHash, err := canonicalize.CanonicalHash(map[string]interface{}{
		"event_id":      e.ID,
		"sequence":      e.Sequence,
		"payload_hash":  e.PayloadHash,
		"previous_hash": l.cumulativeHash,
	})
	if err != nil {
		l.sequence--
		return nil, fmt.Errorf("events: event hash failed: %w", err)
	}
	l.cumulativeHash = eventHash

	committed := e
	l.events = append(l.events, &committed)
	return &committed, nil
}

// Get retrieves an event by sequence number.
func (l *Log) Get(seq uint64) (*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq == 0 || seq > uint64(len(l.events)) {
		return nil, fmt.Errorf("events: not found: sequence %d", seq)
	}
	return l.events[seq-1], nil
}

// Range returns events with sequence in [start, end].
func (l *Log) Range(start, end uint64) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if start == 0 || start > end {
		return nil, fmt.Errorf("events: invalid range: [%d, %d]", start, end)
	}
	maxSeq := uint64(len(l.events))
	if start > maxSeq {
		return []*Event{}, nil
	}
	if end > maxSeq {
		end = maxSeq
	}
	return l.events[start-1 : end], nil
}

// LastSequence returns the highest committed sequence number.
func (l *Log) LastSequence() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sequence
}

// Hash returns the cumulative hash of all committed events.
func (l *Log) Hash() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cumulativeHash
}
