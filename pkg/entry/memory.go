package entry

import (
	"context"
	"fmt"
	"sync"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
)

// MemoryStore is the in-process Store. Suitable for tests and ephemeral
// deployments; state does not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[contracts.Principal][]*contracts.Entry
	totals  map[string]*Totals
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[contracts.Principal][]*contracts.Entry),
		totals:  make(map[string]*Totals),
	}
}

func (s *MemoryStore) Create(ctx context.Context, e *contracts.Entry, currentEpoch uint64) (uint64, error) {
	if err := Validate(e, currentEpoch); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	index := uint64(len(s.entries[e.Owner]))
	s.entries[e.Owner] = append(s.entries[e.Owner], &cp)

	t := s.total(e.Asset)
	t.Deposited += e.Amount
	return index, nil
}

func (s *MemoryStore) Get(ctx context.Context, owner contracts.Principal, index uint64) (*contracts.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.lookup(owner, index)
	if err != nil {
		return nil, err
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context, owner contracts.Principal) ([]*contracts.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.entries[owner]
	out := make([]*contracts.Entry, len(list))
	for i, e := range list {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) MarkInitiated(ctx context.Context, owner contracts.Principal, index uint64, withdrawalAmount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(owner, index)
	if err != nil {
		return err
	}
	if e.Exited {
		return alreadyExited(owner, index)
	}
	e.Initiated = true
	e.WithdrawalAmount = withdrawalAmount
	return nil
}

func (s *MemoryStore) ClearInitiated(ctx context.Context, owner contracts.Principal, index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(owner, index)
	if err != nil {
		return err
	}
	if e.Exited {
		return alreadyExited(owner, index)
	}
	e.Initiated = false
	e.WithdrawalAmount = 0
	return nil
}

func (s *MemoryStore) MarkExited(ctx context.Context, owner contracts.Principal, index uint64, finalAmount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(owner, index)
	if err != nil {
		return err
	}
	if e.Exited {
		return alreadyExited(owner, index)
	}
	if finalAmount > e.Amount {
		return fmt.Errorf("final amount %d exceeds entry amount %d: %w", finalAmount, e.Amount, contracts.ErrInvalidInput)
	}

	t := s.total(e.Asset)
	t.Deposited -= e.Amount
	t.Retained += e.Amount - finalAmount

	e.Exited = true
	e.WithdrawalAmount = finalAmount
	e.Amount = 0
	return nil
}

func (s *MemoryStore) Totals(ctx context.Context, asset string) (Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.totals[asset]; ok {
		return *t, nil
	}
	return Totals{}, nil
}

// lookup requires s.mu held.
func (s *MemoryStore) lookup(owner contracts.Principal, index uint64) (*contracts.Entry, error) {
	list := s.entries[owner]
	if index >= uint64(len(list)) {
		return nil, notFound(owner, index)
	}
	return list[index], nil
}

// total requires s.mu held for writing.
func (s *MemoryStore) total(asset string) *Totals {
	t, ok := s.totals[asset]
	if !ok {
		t = &Totals{}
		s.totals[asset] = t
	}
	return t
}
