package engine

import (
	"sync/atomic"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
)

// ResultStore holds the current snapshot behind an atomic pointer. Readers
// and the single writer never wait on each other.
type ResultStore struct {
	cur atomic.Pointer[models.Snapshot]
}

func NewResultStore() *ResultStore { return &ResultStore{} }

// Publish swaps in s unless a snapshot with an equal or higher sequence is
// already current. It reports whether s became current.
func (r *ResultStore) Publish(s *models.Snapshot) bool {
	for {
		old := r.cur.Load()
		if old != nil && old.Sequence >= s.Sequence {
			return false
		}
		if r.cur.CompareAndSwap(old, s) {
			return true
		}
	}
}

// Read returns the current snapshot or models.ErrNoDataYet.
func (r *ResultStore) Read() (*models.Snapshot, error) {
	s := r.cur.Load()
	if s == nil {
		return nil, models.ErrNoDataYet
	}
	return s, nil
}
