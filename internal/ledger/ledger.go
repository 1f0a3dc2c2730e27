// Package ledger holds the authoritative store of auctions awaiting an
// outcome. The ledger itself is unsynchronized: every mutation happens on
// the single matcher goroutine, and the structure relies on that discipline
// rather than internal locking.
package ledger

import (
	"time"

	"github.com/tidwall/btree"

	"github.com/bidwire/postauction/errs"
	"github.com/bidwire/postauction/internal/schema"
)

// deadlineKey orders entries for sweeping: by deadline, ties broken by
// auction identity so sweep output is deterministic.
type deadlineKey struct {
	deadline time.Time
	key      schema.AuctionKey
}

func deadlineLess(a, b deadlineKey) bool {
	if !a.deadline.Equal(b.deadline) {
		return a.deadline.Before(b.deadline)
	}
	return a.key.Less(b.key)
}

// Ledger is the pending-auction store: a primary index by auction identity
// plus an ordered deadline index driving expiry sweeps.
type Ledger struct {
	entries    map[schema.AuctionKey]schema.PendingAuction
	byDeadline *btree.BTreeG[deadlineKey]
}

// New constructs an empty ledger.
func New() *Ledger {
	return &Ledger{
		entries:    make(map[schema.AuctionKey]schema.PendingAuction),
		byDeadline: btree.NewBTreeG(deadlineLess),
	}
}

// Insert records a pending auction. A live entry for the same identity
// rejects the insert with errs.CodeDuplicate; the original entry is kept.
// Last-submission-wins would silently overwrite an in-flight bid, so it is
// deliberately not offered.
func (l *Ledger) Insert(entry schema.PendingAuction) error {
	if _, exists := l.entries[entry.Key]; exists {
		return errs.New("ledger", errs.CodeDuplicate,
			errs.WithAuction(entry.Key.AuctionID, entry.Key.AdSpotID),
			errs.WithMessage("pending auction already exists"))
	}
	l.entries[entry.Key] = entry
	l.byDeadline.Set(deadlineKey{deadline: entry.Deadline, key: entry.Key})
	return nil
}

// Take atomically removes and returns the entry for key.
func (l *Ledger) Take(key schema.AuctionKey) (schema.PendingAuction, bool) {
	entry, ok := l.entries[key]
	if !ok {
		return schema.PendingAuction{}, false
	}
	delete(l.entries, key)
	l.byDeadline.Delete(deadlineKey{deadline: entry.Deadline, key: entry.Key})
	return entry, true
}

// SweepExpired removes and returns every entry whose deadline is at or
// before now, in deadline order with identity tie-breaks.
func (l *Ledger) SweepExpired(now time.Time) []schema.PendingAuction {
	var expired []schema.PendingAuction
	for {
		head, ok := l.byDeadline.Min()
		if !ok || head.deadline.After(now) {
			break
		}
		l.byDeadline.Delete(head)
		entry, ok := l.entries[head.key]
		if !ok {
			continue
		}
		delete(l.entries, head.key)
		expired = append(expired, entry)
	}
	return expired
}

// Len reports the number of pending auctions.
func (l *Ledger) Len() int { return len(l.entries) }
