// Package history retains matched wins for a bounded time window so that
// campaign events arriving after the win can still be attributed to it.
// Like the ledger it is unsynchronized and owned by the matcher goroutine.
package history

import (
	"sort"
	"time"

	"github.com/tidwall/btree"

	"github.com/bidwire/postauction/internal/schema"
)

type ageKey struct {
	matchedAt time.Time
	key       schema.AuctionKey
}

func ageLess(a, b ageKey) bool {
	if !a.matchedAt.Equal(b.matchedAt) {
		return a.matchedAt.Before(b.matchedAt)
	}
	return a.key.Less(b.key)
}

// Store indexes retained wins by exact identity and by auction ID for
// wildcard campaign-event lookups, with an age index driving eviction.
type Store struct {
	byKey     map[schema.AuctionKey]schema.WinRecord
	byAuction map[string]map[string]struct{}
	byAge     *btree.BTreeG[ageKey]
}

// New constructs an empty win-history store.
func New() *Store {
	return &Store{
		byKey:     make(map[schema.AuctionKey]schema.WinRecord),
		byAuction: make(map[string]map[string]struct{}),
		byAge:     btree.NewBTreeG(ageLess),
	}
}

// Put retains a matched win. A re-win of the same identity replaces the
// earlier record; the ledger's duplicate guard makes that path unreachable
// in normal operation.
func (s *Store) Put(win schema.WinRecord) {
	if prev, ok := s.byKey[win.Key]; ok {
		s.byAge.Delete(ageKey{matchedAt: prev.MatchedAt, key: prev.Key})
	}
	s.byKey[win.Key] = win
	spots, ok := s.byAuction[win.Key.AuctionID]
	if !ok {
		spots = make(map[string]struct{}, 1)
		s.byAuction[win.Key.AuctionID] = spots
	}
	spots[win.Key.AdSpotID] = struct{}{}
	s.byAge.Set(ageKey{matchedAt: win.MatchedAt, key: win.Key})
}

// Get returns the retained win for the exact identity.
func (s *Store) Get(key schema.AuctionKey) (schema.WinRecord, bool) {
	win, ok := s.byKey[key]
	return win, ok
}

// GetAll returns every retained win of the auction, ordered by ad spot so
// wildcard broadcasts are deterministic.
func (s *Store) GetAll(auctionID string) []schema.WinRecord {
	spots, ok := s.byAuction[auctionID]
	if !ok {
		return nil
	}
	ordered := make([]string, 0, len(spots))
	for spot := range spots {
		ordered = append(ordered, spot)
	}
	sort.Strings(ordered)
	wins := make([]schema.WinRecord, 0, len(ordered))
	for _, spot := range ordered {
		if win, ok := s.byKey[schema.AuctionKey{AuctionID: auctionID, AdSpotID: spot}]; ok {
			wins = append(wins, win)
		}
	}
	return wins
}

// Evict removes every win matched at or before cutoff and reports how many
// were dropped. Campaign events arriving after eviction go unmatched.
func (s *Store) Evict(cutoff time.Time) int {
	evicted := 0
	for {
		head, ok := s.byAge.Min()
		if !ok || head.matchedAt.After(cutoff) {
			break
		}
		s.byAge.Delete(head)
		delete(s.byKey, head.key)
		if spots, ok := s.byAuction[head.key.AuctionID]; ok {
			delete(spots, head.key.AdSpotID)
			if len(spots) == 0 {
				delete(s.byAuction, head.key.AuctionID)
			}
		}
		evicted++
	}
	return evicted
}

// Len reports the number of retained wins.
func (s *Store) Len() int { return len(s.byKey) }
