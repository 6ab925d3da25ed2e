// Package ledger is the vault's append-only event log. Every state
// mutation lands here as a hash-chained record, so the full operation
// history is verifiable after the fact.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
)

// Record is one immutable, hash-chained ledger entry.
type Record struct {
	Sequence    uint64              `json:"sequence"`
	Event       contracts.EventType `json:"event"`
	Actor       contracts.Principal `json:"actor"`
	ContentHash string              `json:"content_hash"`
	PrevHash    string              `json:"prev_hash"`
	Timestamp   time.Time           `json:"timestamp"`
	Data        map[string]any      `json:"data"`
}

// Ledger is an append-only, hash-chained log of vault events.
type Ledger struct {
	mu       sync.RWMutex
	records  []Record
	headHash string
	clock    func() time.Time
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		records:  make([]Record, 0),
		headHash: "genesis",
		clock:    time.Now,
	}
}

// WithClock overrides the clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Append adds an event record. Returns the sequence number.
func (l *Ledger) Append(event contracts.EventType, actor contracts.Principal, data map[string]any) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := uint64(len(l.records)) + 1
	contentHash, err := hashRecord(seq, event, data, l.headHash)
	if err != nil {
		return 0, err
	}

	l.records = append(l.records, Record{
		Sequence:    seq,
		Event:       event,
		Actor:       actor,
		ContentHash: contentHash,
		PrevHash:    l.headHash,
		Timestamp:   l.clock(),
		Data:        data,
	})
	l.headHash = contentHash
	return seq, nil
}

// Get retrieves a record by sequence number.
func (l *Ledger) Get(seq uint64) (*Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq == 0 || seq > uint64(len(l.records)) {
		return nil, fmt.Errorf("ledger record %d: %w", seq, contracts.ErrNotFound)
	}
	rec := l.records[seq-1]
	return &rec, nil
}

// Since returns all records with sequence > after, oldest first.
func (l *Ledger) Since(after uint64) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if after >= uint64(len(l.records)) {
		return nil
	}
	out := make([]Record, uint64(len(l.records))-after)
	copy(out, l.records[after:])
	return out
}

// Head returns the current head hash.
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Length returns the number of records.
func (l *Ledger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Verify re-walks the chain and recomputes every hash.
func (l *Ledger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prevHash := "genesis"
	for i, rec := range l.records {
		if rec.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at record %d: expected prev %s, got %s", i+1, prevHash, rec.PrevHash)
		}
		computed, err := hashRecord(rec.Sequence, rec.Event, rec.Data, rec.PrevHash)
		if err != nil {
			return false, fmt.Sprintf("failed to hash record %d", i+1)
		}
		if computed != rec.ContentHash {
			return false, fmt.Sprintf("hash mismatch at record %d", i+1)
		}
		prevHash = rec.ContentHash
	}
	return true, "chain verified"
}

func hashRecord(seq uint64, event contracts.EventType, data map[string]any, prevHash string) (string, error) {
	hashInput := struct {
		Seq      uint64              `json:"seq"`
		Event    contracts.EventType `json:"event"`
		Data     map[string]any      `json:"data"`
		PrevHash string              `json:"prev"`
	}{seq, event, data, prevHash}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	h := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}
