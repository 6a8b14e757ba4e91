package tracker

import (
	"sync"

	"github.com/viktarcynam/zensch/pkg/instrument"
)

// watchSet is the per-account set of instruments currently of interest.
// Callers mutate it through Subscribe/Unsubscribe; the reconciler takes a
// snapshot at the start of each tick so no lock is held across a tick.
type watchSet struct {
	mu   sync.RWMutex
	keys map[string]map[string]instrument.Key // account -> key ID -> key
}

func newWatchSet() *watchSet {
	return &watchSet{keys: make(map[string]map[string]instrument.Key)}
}

func (w *watchSet) add(accountID string, key instrument.Key) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.keys[accountID] == nil {
		w.keys[accountID] = make(map[string]instrument.Key)
	}
	w.keys[accountID][key.ID()] = key
}

func (w *watchSet) remove(accountID string, key instrument.Key) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.keys[accountID], key.ID())
	if len(w.keys[accountID]) == 0 {
		delete(w.keys, accountID)
	}
}

// snapshot returns the watched keys for an account at this instant.
func (w *watchSet) snapshot(accountID string) []instrument.Key {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]instrument.Key, 0, len(w.keys[accountID]))
	for _, k := range w.keys[accountID] {
		out = append(out, k)
	}
	return out
}

func (w *watchSet) accounts() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.keys))
	for a := range w.keys {
		out = append(out, a)
	}
	return out
}
