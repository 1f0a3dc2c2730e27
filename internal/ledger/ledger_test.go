package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/bidwire/postauction/errs"
	"github.com/bidwire/postauction/internal/schema"
)

func pendingAt(auctionID, spotID string, submitted time.Time, timeout time.Duration) schema.PendingAuction {
	return schema.PendingAuction{
		Key: schema.AuctionKey{AuctionID: auctionID, AdSpotID: spotID},
		Bid: schema.BidSnapshot{
			Price:        decimal.RequireFromString("1.50"),
			Account:      "acct:" + auctionID,
			BidTimestamp: submitted,
		},
		SubmittedAt: submitted,
		Deadline:    submitted.Add(timeout),
	}
}

func TestInsertRejectsDuplicateAndKeepsOriginal(t *testing.T) {
	l := New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	original := pendingAt("a1", "s1", base, 5*time.Second)
	require.NoError(t, l.Insert(original))

	duplicate := pendingAt("a1", "s1", base.Add(time.Second), time.Minute)
	duplicate.Bid.Price = decimal.RequireFromString("9.99")
	err := l.Insert(duplicate)
	require.Error(t, err)
	require.True(t, errs.HasCode(err, errs.CodeDuplicate))

	got, ok := l.Take(original.Key)
	require.True(t, ok)
	require.True(t, got.Bid.Price.Equal(original.Bid.Price), "original snapshot must survive the duplicate")
	require.True(t, got.Deadline.Equal(original.Deadline))
}

func TestTakeRemovesExactlyOnce(t *testing.T) {
	l := New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := pendingAt("a2", "s1", base, 5*time.Second)
	require.NoError(t, l.Insert(entry))
	require.Equal(t, 1, l.Len())

	_, ok := l.Take(entry.Key)
	require.True(t, ok)
	_, ok = l.Take(entry.Key)
	require.False(t, ok, "second take must miss")
	require.Equal(t, 0, l.Len())

	// Taken entries never surface in later sweeps.
	require.Empty(t, l.SweepExpired(base.Add(time.Hour)))
}

func TestSweepExpiredReturnsDeadlineOrderWithIdentityTieBreak(t *testing.T) {
	l := New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	late := pendingAt("a9", "s1", base, 30*time.Second)
	tieB := pendingAt("b1", "s2", base, 10*time.Second)
	tieA := pendingAt("b1", "s1", base, 10*time.Second)
	early := pendingAt("a0", "s1", base, 5*time.Second)

	for _, entry := range []schema.PendingAuction{late, tieB, tieA, early} {
		require.NoError(t, l.Insert(entry))
	}

	expired := l.SweepExpired(base.Add(10 * time.Second))
	require.Len(t, expired, 3)
	require.Equal(t, early.Key, expired[0].Key)
	require.Equal(t, tieA.Key, expired[1].Key)
	require.Equal(t, tieB.Key, expired[2].Key)

	require.Equal(t, 1, l.Len())
	_, ok := l.Take(late.Key)
	require.True(t, ok)
}

func TestSweepExpiredBoundaryIsInclusive(t *testing.T) {
	l := New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := pendingAt("a3", "s1", base, 5*time.Second)
	require.NoError(t, l.Insert(entry))

	require.Empty(t, l.SweepExpired(base.Add(5*time.Second-time.Nanosecond)))
	expired := l.SweepExpired(base.Add(5 * time.Second))
	require.Len(t, expired, 1)
	require.Equal(t, entry.Key, expired[0].Key)
}

func TestDistinctSpotsOfOneAuctionAreIndependent(t *testing.T) {
	l := New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s1 := pendingAt("a4", "s1", base, 5*time.Second)
	s2 := pendingAt("a4", "s2", base, 5*time.Second)
	require.NoError(t, l.Insert(s1))
	require.NoError(t, l.Insert(s2))

	_, ok := l.Take(s1.Key)
	require.True(t, ok)
	require.Equal(t, 1, l.Len())
	expired := l.SweepExpired(base.Add(time.Minute))
	require.Len(t, expired, 1)
	require.Equal(t, s2.Key, expired[0].Key)
}
