package tracker

import (
	"sync"
	"time"

	"github.com/viktarcynam/zensch/pkg/tracker/model"
)

// positionBook holds the last polled PositionSnapshot per account. The
// reconciler is the writer; the coordinator reads it to classify and gate
// closing actions without a gateway round trip.
type positionBook struct {
	mu        sync.RWMutex
	snapshots map[string]*model.PositionSnapshot
	fetchedAt map[string]time.Time
}

func newPositionBook() *positionBook {
	return &positionBook{
		snapshots: make(map[string]*model.PositionSnapshot),
		fetchedAt: make(map[string]time.Time),
	}
}

func (b *positionBook) update(accountID string, snap *model.PositionSnapshot, now time.Time) {
	if snap == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots[accountID] = snap
	b.fetchedAt[accountID] = now
}

// get returns the stored snapshot and its fetch time so callers can judge
// staleness. Nil when the account has never been polled.
func (b *positionBook) get(accountID string) (*model.PositionSnapshot, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshots[accountID], b.fetchedAt[accountID]
}
