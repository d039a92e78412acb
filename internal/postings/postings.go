// Package postings holds the trigram -> FileId posting lists that back
// substring search. Each posting list is a roaring bitmap, giving
// compact storage and fast intersection across the handful of trigrams
// a query decomposes into.
package postings

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/nixnav/nixnavd/internal/trigram"
)

// Store is a concurrency-safe map of trigram to posting-list bitmap.
type Store struct {
	mu   sync.RWMutex
	byTg map[trigram.Trigram]*roaring.Bitmap
}

// New returns an empty Store.
func New() *Store {
	return &Store{byTg: make(map[trigram.Trigram]*roaring.Bitmap)}
}

// Add records that id's basename contains every trigram in tgs.
func (s *Store) Add(id uint64, tgs []trigram.Trigram) {
	if len(tgs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tgs {
		bm, ok := s.byTg[t]
		if !ok {
			bm = roaring.New()
			s.byTg[t] = bm
		}
		bm.Add(uint32(id))
	}
}

// Remove strips id from the posting lists of every trigram in tgs.
// Empty posting lists are pruned so Len() reflects distinct trigrams
// actually in use, per STATS semantics.
func (s *Store) Remove(id uint64, tgs []trigram.Trigram) {
	if len(tgs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tgs {
		bm, ok := s.byTg[t]
		if !ok {
			continue
		}
		bm.Remove(uint32(id))
		if bm.IsEmpty() {
			delete(s.byTg, t)
		}
	}
}

// Intersect returns the intersection of the posting lists for tgs,
// evaluated in ascending order of posting-list cardinality so the
// cheapest AND happens first. Returns an empty, non-nil bitmap if any
// trigram has no posting list (the intersection is empty) or tgs is
// empty.
func (s *Store) Intersect(tgs []trigram.Trigram) *roaring.Bitmap {
	if len(tgs) == 0 {
		return roaring.New()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	bitmaps := make([]*roaring.Bitmap, 0, len(tgs))
	for _, t := range tgs {
		bm, ok := s.byTg[t]
		if !ok || bm.IsEmpty() {
			return roaring.New()
		}
		bitmaps = append(bitmaps, bm)
	}

	sort.Slice(bitmaps, func(i, j int) bool {
		return bitmaps[i].GetCardinality() < bitmaps[j].GetCardinality()
	})

	result := bitmaps[0].Clone()
	for _, bm := range bitmaps[1:] {
		result.And(bm)
		if result.IsEmpty() {
			break
		}
	}
	return result
}

// Len returns the number of distinct trigrams with a non-empty posting
// list, the value reported by STATS.trigrams.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byTg)
}
