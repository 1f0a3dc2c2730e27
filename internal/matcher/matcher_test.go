package matcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/bidwire/postauction/internal/schema"
	"github.com/bidwire/postauction/internal/telemetry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock { return &fakeClock{now: start} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu       sync.Mutex
	outcomes []schema.Outcome
}

func (s *recordingSink) Route(_ context.Context, outcome schema.Outcome) {
	s.mu.Lock()
	s.outcomes = append(s.outcomes, outcome)
	s.mu.Unlock()
}

func (s *recordingSink) All() []schema.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.Outcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

func (s *recordingSink) ByKind(kind schema.OutcomeKind) []schema.Outcome {
	var out []schema.Outcome
	for _, o := range s.All() {
		if o.Kind == kind {
			out = append(out, o)
		}
	}
	return out
}

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *recordingSink, *fakeClock) {
	t.Helper()
	clock := newFakeClock(testStart)
	sink := &recordingSink{}
	metrics := telemetry.NewEngineMetrics(prometheus.NewRegistry())
	cfg := Config{
		WinTimeout:     time.Hour,
		AuctionTimeout: 15 * time.Second,
		SweepInterval:  time.Second,
		DrainWindow:    time.Second,
		QueueCapacity:  64,
	}
	engine, err := New(cfg, sink, nil, metrics, WithClock(clock.Now))
	require.NoError(t, err)
	return engine, sink, clock
}

func bid(price, account string) schema.BidSnapshot {
	return schema.BidSnapshot{
		Price:        decimal.RequireFromString(price),
		Account:      account,
		BidTimestamp: testStart,
	}
}

func submit(e *Engine, clock *fakeClock, auctionID, spotID, account string, timeout time.Duration) {
	e.applySubmit(context.Background(), schema.SubmitEvent{
		Key:         schema.AuctionKey{AuctionID: auctionID, AdSpotID: spotID},
		Bid:         bid("2.00", account),
		LossTimeout: timeout,
		SubmittedAt: clock.Now(),
	})
}

func win(e *Engine, auctionID, spotID, price string) {
	e.applyWin(context.Background(), schema.WinEvent{
		Key:      schema.AuctionKey{AuctionID: auctionID, AdSpotID: spotID},
		WinPrice: decimal.RequireFromString(price),
	})
}

func TestWinBeforeDeadlineProducesMatchedWin(t *testing.T) {
	e, sink, clock := newTestEngine(t)

	submit(e, clock, "a1", "s1", "acct-1", 5*time.Second)
	clock.Advance(2 * time.Second)
	win(e, "a1", "s1", "1.50")

	outcomes := sink.All()
	require.Len(t, outcomes, 1)
	got := outcomes[0]
	require.Equal(t, schema.OutcomeWin, got.Kind)
	require.Equal(t, "a1", got.Key.AuctionID)
	require.Equal(t, "s1", got.Key.AdSpotID)
	require.True(t, got.WinPrice.Equal(decimal.RequireFromString("1.50")))
	require.Equal(t, "acct-1", got.Account)
	require.True(t, got.ResolvedAt.Equal(testStart.Add(2*time.Second)))
}

func TestSweepResolvesImplicitLossExactlyOnce(t *testing.T) {
	e, sink, clock := newTestEngine(t)

	submit(e, clock, "a2", "s1", "acct-2", 5*time.Second)
	clock.Advance(5100 * time.Millisecond)
	e.sweep(context.Background(), clock.Now())

	losses := sink.ByKind(schema.OutcomeLoss)
	require.Len(t, losses, 1)
	require.Equal(t, schema.LossImplicit, losses[0].LossSource)
	require.True(t, losses[0].ResolvedAt.Equal(clock.Now()))

	// Repeating the sweep must not resolve the identity again.
	clock.Advance(time.Second)
	e.sweep(context.Background(), clock.Now())
	require.Len(t, sink.ByKind(schema.OutcomeLoss), 1)
	require.Len(t, sink.All(), 1)
}

func TestWinAfterSweepIsUnmatchedByProcessingOrder(t *testing.T) {
	e, sink, clock := newTestEngine(t)

	submit(e, clock, "a3", "s1", "acct-3", 5*time.Second)
	clock.Advance(6 * time.Second)
	e.sweep(context.Background(), clock.Now())

	// The win's own timestamp predates the deadline, but it is dequeued
	// after the sweep: processing order is authoritative.
	e.applyWin(context.Background(), schema.WinEvent{
		Key:       schema.AuctionKey{AuctionID: "a3", AdSpotID: "s1"},
		WinPrice:  decimal.RequireFromString("1.25"),
		Timestamp: testStart.Add(2 * time.Second),
	})

	require.Len(t, sink.ByKind(schema.OutcomeLoss), 1)
	unmatched := sink.ByKind(schema.OutcomeUnmatched)
	require.Len(t, unmatched, 1)
	require.Equal(t, schema.KindWin, unmatched[0].SourceKind)
	require.Empty(t, sink.ByKind(schema.OutcomeWin))
}

func TestWinForUnknownIdentityIsUnmatched(t *testing.T) {
	e, sink, _ := newTestEngine(t)

	win(e, "a9", "s1", "1.00")

	outcomes := sink.All()
	require.Len(t, outcomes, 1)
	require.Equal(t, schema.OutcomeUnmatched, outcomes[0].Kind)
	require.Equal(t, schema.KindWin, outcomes[0].SourceKind)
	require.Contains(t, outcomes[0].Cause, "code=not_found")
}

func TestDuplicateSubmitKeepsOriginalSnapshot(t *testing.T) {
	e, sink, clock := newTestEngine(t)

	e.applySubmit(context.Background(), schema.SubmitEvent{
		Key:         schema.AuctionKey{AuctionID: "a4", AdSpotID: "s1"},
		Bid:         bid("2.00", "acct-original"),
		LossTimeout: 5 * time.Second,
		SubmittedAt: clock.Now(),
	})
	e.applySubmit(context.Background(), schema.SubmitEvent{
		Key:         schema.AuctionKey{AuctionID: "a4", AdSpotID: "s1"},
		Bid:         bid("9.99", "acct-imposter"),
		LossTimeout: time.Minute,
		SubmittedAt: clock.Now(),
	})

	// The duplicate is diagnostic only: no outcome routed for it.
	require.Empty(t, sink.All())

	win(e, "a4", "s1", "1.80")
	wins := sink.ByKind(schema.OutcomeWin)
	require.Len(t, wins, 1)
	require.Equal(t, "acct-original", wins[0].Account)
	require.True(t, wins[0].Bid.Price.Equal(decimal.RequireFromString("2.00")))
}

func TestWildcardCampaignBroadcastsToEveryWin(t *testing.T) {
	e, sink, clock := newTestEngine(t)

	for _, spot := range []string{"s1", "s2", "s3"} {
		submit(e, clock, "a5", spot, "acct-5", time.Minute)
		win(e, "a5", spot, "1.10")
	}
	clock.Advance(10 * time.Second)
	e.applyCampaign(context.Background(), schema.CampaignEvent{
		Label:     "click",
		Key:       schema.AuctionKey{AuctionID: "a5"},
		Timestamp: clock.Now(),
	})

	campaigns := sink.ByKind(schema.OutcomeCampaign)
	require.Len(t, campaigns, 3)
	for i, spot := range []string{"s1", "s2", "s3"} {
		require.Equal(t, spot, campaigns[i].Key.AdSpotID)
		require.Equal(t, "click", campaigns[i].Label)
		require.NotNil(t, campaigns[i].Win)
		require.Equal(t, spot, campaigns[i].Win.Key.AdSpotID)
	}
}

func TestCampaignExactLookupReferencesWin(t *testing.T) {
	e, sink, clock := newTestEngine(t)

	submit(e, clock, "a6", "s1", "acct-6", time.Minute)
	clock.Advance(time.Second)
	win(e, "a6", "s1", "1.75")
	clock.Advance(9 * time.Second)
	e.applyCampaign(context.Background(), schema.CampaignEvent{
		Label: "click",
		Key:   schema.AuctionKey{AuctionID: "a6", AdSpotID: "s1"},
	})

	campaigns := sink.ByKind(schema.OutcomeCampaign)
	require.Len(t, campaigns, 1)
	require.NotNil(t, campaigns[0].Win)
	require.True(t, campaigns[0].Win.WinPrice.Equal(decimal.RequireFromString("1.75")))
	require.True(t, campaigns[0].Win.MatchedAt.Equal(testStart.Add(time.Second)))
}

func TestCampaignAfterHistoryEvictionIsUnmatched(t *testing.T) {
	e, sink, clock := newTestEngine(t)

	submit(e, clock, "a7", "s1", "acct-7", time.Minute)
	win(e, "a7", "s1", "1.00")

	// Push past the retention horizon so the sweep evicts the win.
	clock.Advance(e.cfg.WinTimeout + time.Second)
	e.sweep(context.Background(), clock.Now())

	e.applyCampaign(context.Background(), schema.CampaignEvent{
		Label: "conversion",
		Key:   schema.AuctionKey{AuctionID: "a7", AdSpotID: "s1"},
	})

	require.Empty(t, sink.ByKind(schema.OutcomeCampaign))
	unmatched := sink.ByKind(schema.OutcomeUnmatched)
	require.Len(t, unmatched, 1)
	require.Equal(t, schema.KindCampaign, unmatched[0].SourceKind)
}

func TestExplicitLossLeavesNothingForCampaigns(t *testing.T) {
	e, sink, clock := newTestEngine(t)

	submit(e, clock, "a8", "s1", "acct-8", time.Minute)
	e.applyLoss(context.Background(), schema.LossEvent{
		Key: schema.AuctionKey{AuctionID: "a8", AdSpotID: "s1"},
	})

	losses := sink.ByKind(schema.OutcomeLoss)
	require.Len(t, losses, 1)
	require.Equal(t, schema.LossExplicit, losses[0].LossSource)

	e.applyCampaign(context.Background(), schema.CampaignEvent{
		Label: "click",
		Key:   schema.AuctionKey{AuctionID: "a8", AdSpotID: "s1"},
	})
	require.Empty(t, sink.ByKind(schema.OutcomeCampaign))
	require.Len(t, sink.ByKind(schema.OutcomeUnmatched), 1)
}

func TestMalformedInputBecomesErrorOutcome(t *testing.T) {
	e, sink, clock := newTestEngine(t)

	// Empty auction id on submit.
	e.applySubmit(context.Background(), schema.SubmitEvent{
		Key:         schema.AuctionKey{AdSpotID: "s1"},
		Bid:         bid("1.00", "acct"),
		LossTimeout: time.Second,
		SubmittedAt: clock.Now(),
	})
	// Negative win price.
	e.applyWin(context.Background(), schema.WinEvent{
		Key:      schema.AuctionKey{AuctionID: "a1", AdSpotID: "s1"},
		WinPrice: decimal.RequireFromString("-0.10"),
	})
	// Campaign event without a label.
	e.applyCampaign(context.Background(), schema.CampaignEvent{
		Key: schema.AuctionKey{AuctionID: "a1"},
	})

	errsOut := sink.ByKind(schema.OutcomeError)
	require.Len(t, errsOut, 3)
	for _, o := range errsOut {
		require.NotEmpty(t, o.Cause, "error outcomes always carry a readable cause")
	}
}

func TestZeroPricesAreMalformed(t *testing.T) {
	e, sink, clock := newTestEngine(t)

	e.applySubmit(context.Background(), schema.SubmitEvent{
		Key:         schema.AuctionKey{AuctionID: "z1", AdSpotID: "s1"},
		Bid:         bid("0", "acct-z"),
		LossTimeout: time.Second,
		SubmittedAt: clock.Now(),
	})

	submit(e, clock, "z2", "s1", "acct-z", time.Minute)
	win(e, "z2", "s1", "0")

	errsOut := sink.ByKind(schema.OutcomeError)
	require.Len(t, errsOut, 2)
	require.Empty(t, sink.ByKind(schema.OutcomeWin))

	// The zero-price win left the z2 entry pending; it still resolves.
	clock.Advance(2 * time.Minute)
	e.sweep(context.Background(), clock.Now())
	require.Len(t, sink.ByKind(schema.OutcomeLoss), 1)
}

func TestAccountMismatchPreservesPendingEntry(t *testing.T) {
	e, sink, clock := newTestEngine(t)

	submit(e, clock, "a10", "s1", "acct-real", 5*time.Second)
	e.applyWin(context.Background(), schema.WinEvent{
		Key:      schema.AuctionKey{AuctionID: "a10", AdSpotID: "s1"},
		WinPrice: decimal.RequireFromString("1.00"),
		Account:  "acct-other",
	})

	require.Len(t, sink.ByKind(schema.OutcomeError), 1)
	require.Empty(t, sink.ByKind(schema.OutcomeWin))

	// The identity still resolves exactly once, by expiry.
	clock.Advance(6 * time.Second)
	e.sweep(context.Background(), clock.Now())
	require.Len(t, sink.ByKind(schema.OutcomeLoss), 1)
}

func TestExactlyOneTerminalOutcomePerIdentity(t *testing.T) {
	e, sink, clock := newTestEngine(t)

	submit(e, clock, "a11", "s1", "acct-11", 5*time.Second)
	clock.Advance(2 * time.Second)
	win(e, "a11", "s1", "1.50")

	// Expiry after the win must not produce a second terminal outcome.
	clock.Advance(10 * time.Second)
	e.sweep(context.Background(), clock.Now())
	// Neither must a late explicit loss.
	e.applyLoss(context.Background(), schema.LossEvent{
		Key: schema.AuctionKey{AuctionID: "a11", AdSpotID: "s1"},
	})

	require.Len(t, sink.ByKind(schema.OutcomeWin), 1)
	require.Empty(t, sink.ByKind(schema.OutcomeLoss))
	require.Len(t, sink.ByKind(schema.OutcomeUnmatched), 1)
}

func TestSweepOrdersExpiriesByDeadline(t *testing.T) {
	e, sink, clock := newTestEngine(t)

	submit(e, clock, "b2", "s1", "acct", 10*time.Second)
	submit(e, clock, "b1", "s1", "acct", 5*time.Second)
	clock.Advance(15 * time.Second)
	e.sweep(context.Background(), clock.Now())

	losses := sink.ByKind(schema.OutcomeLoss)
	require.Len(t, losses, 2)
	require.Equal(t, "b1", losses[0].Key.AuctionID)
	require.Equal(t, "b2", losses[1].Key.AuctionID)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	sink := &recordingSink{}
	metrics := telemetry.NewEngineMetrics(prometheus.NewRegistry())

	for name, cfg := range map[string]Config{
		"negative win timeout": {
			WinTimeout: -time.Second, AuctionTimeout: 10 * time.Second,
			SweepInterval: time.Second, QueueCapacity: 16,
		},
		"negative auction timeout": {
			WinTimeout: time.Hour, AuctionTimeout: -time.Second,
			SweepInterval: time.Second, QueueCapacity: 16,
		},
		"sweep interval not below auction timeout": {
			WinTimeout: time.Hour, AuctionTimeout: time.Second,
			SweepInterval: time.Second, QueueCapacity: 16,
		},
		"zero queue capacity": {
			WinTimeout: time.Hour, AuctionTimeout: 10 * time.Second,
			SweepInterval: time.Second, QueueCapacity: 0,
		},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(cfg, sink, nil, metrics)
			require.Error(t, err)
		})
	}
}
