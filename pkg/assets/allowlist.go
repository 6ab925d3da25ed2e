package assets

import (
	"fmt"
	"sort"
	"sync"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
)

// AllowList is the set of assets the vault accepts deposits in. Membership
// and removal are O(1); ordering is not an observable contract, so listing
// sorts for stable output only.
type AllowList struct {
	mu     sync.RWMutex
	assets map[string]struct{}
}

// NewAllowList creates a list seeded with the given assets.
func NewAllowList(assets ...string) *AllowList {
	l := &AllowList{assets: make(map[string]struct{}, len(assets))}
	for _, a := range assets {
		l.assets[a] = struct{}{}
	}
	return l
}

// Allow adds an asset. Re-allowing is a no-op.
func (l *AllowList) Allow(asset string) error {
	if asset == "" {
		return fmt.Errorf("asset identifier must not be empty: %w", contracts.ErrInvalidInput)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.assets[asset] = struct{}{}
	return nil
}

// Disallow removes an asset. Existing entries in that asset are unaffected;
// only new deposits are refused.
func (l *AllowList) Disallow(asset string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.assets, asset)
}

// Contains reports membership.
func (l *AllowList) Contains(asset string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.assets[asset]
	return ok
}

// List returns the allowed assets, sorted.
func (l *AllowList) List() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.assets))
	for a := range l.assets {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
