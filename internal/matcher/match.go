package matcher

import (
	"context"
	"time"

	"github.com/bidwire/postauction/errs"
	"github.com/bidwire/postauction/internal/observability"
	"github.com/bidwire/postauction/internal/schema"
)

// applySubmit inserts a submitted auction into the ledger. A duplicate
// submission is a diagnostic, never a state change: the original entry and
// its bid snapshot are preserved untouched.
func (e *Engine) applySubmit(ctx context.Context, evt schema.SubmitEvent) {
	e.metrics.ObserveEvent(string(schema.KindSubmit))

	if err := evt.Key.Validate(false); err != nil {
		e.malformed(ctx, schema.KindSubmit, evt.Key, err.Error())
		return
	}
	if err := evt.Bid.Validate(); err != nil {
		e.malformed(ctx, schema.KindSubmit, evt.Key, err.Error())
		return
	}
	if evt.LossTimeout <= 0 {
		e.malformed(ctx, schema.KindSubmit, evt.Key, "loss timeout must be positive")
		return
	}

	entry := schema.PendingAuction{
		Key:         evt.Key,
		Bid:         evt.Bid,
		SubmittedAt: evt.SubmittedAt,
		Deadline:    evt.SubmittedAt.Add(evt.LossTimeout),
	}
	if err := e.pending.Insert(entry); err != nil {
		e.metrics.ObserveDuplicate()
		e.diag.Info("duplicate auction submission discarded",
			observability.F("auction", evt.Key.String()))
		return
	}
	e.metrics.SetPending(e.pending.Len())
}

// applyWin matches a win notification against the ledger. Whether the entry
// is still pending is decided purely by processing order: a win dequeued
// after its entry was swept is unmatched, even when the win's own timestamp
// predates the deadline.
func (e *Engine) applyWin(ctx context.Context, evt schema.WinEvent) {
	e.metrics.ObserveEvent(string(schema.KindWin))

	if err := evt.Key.Validate(false); err != nil {
		e.malformed(ctx, schema.KindWin, evt.Key, err.Error())
		return
	}
	if !evt.WinPrice.IsPositive() {
		e.malformed(ctx, schema.KindWin, evt.Key, "win price must be positive")
		return
	}

	entry, ok := e.pending.Take(evt.Key)
	if !ok {
		e.unmatched(ctx, schema.KindWin, evt.Key)
		return
	}
	e.metrics.SetPending(e.pending.Len())

	// Validate the notification against the stored bid. A mismatched
	// account means the win belongs to some other bid; the entry goes
	// back so it can still resolve, and the notification is surfaced.
	if evt.Account != "" && evt.Account != entry.Bid.Account {
		if err := e.pending.Insert(entry); err == nil {
			e.metrics.SetPending(e.pending.Len())
		}
		e.metrics.ObserveMalformed()
		e.route(ctx, schema.NewErrorOutcome(schema.KindWin, evt.Key,
			"win account does not match the stored bid", e.clock()))
		return
	}

	now := e.clock()
	win := schema.WinRecord{
		Key:       entry.Key,
		Bid:       entry.Bid,
		WinPrice:  evt.WinPrice,
		Account:   entry.Bid.Account,
		UserIDs:   evt.UserIDs.Clone(),
		MatchedAt: now,
	}
	e.wins.Put(win)
	e.metrics.SetWinHistory(e.wins.Len())
	e.route(ctx, schema.NewWinOutcome(entry, evt, now))
}

// applyLoss matches an explicit loss. Same lookup semantics as a win, but
// nothing is retained: a loss has nothing for a campaign event to attach to.
func (e *Engine) applyLoss(ctx context.Context, evt schema.LossEvent) {
	e.metrics.ObserveEvent(string(schema.KindLoss))

	if err := evt.Key.Validate(false); err != nil {
		e.malformed(ctx, schema.KindLoss, evt.Key, err.Error())
		return
	}

	entry, ok := e.pending.Take(evt.Key)
	if !ok {
		e.unmatched(ctx, schema.KindLoss, evt.Key)
		return
	}
	e.metrics.SetPending(e.pending.Len())
	e.route(ctx, schema.NewLossOutcome(entry, schema.LossExplicit, evt.LossMeta, e.clock()))
}

// applyCampaign attributes a campaign event to retained wins. An exact key
// targets one win; an empty ad spot broadcasts to every win of the auction.
func (e *Engine) applyCampaign(ctx context.Context, evt schema.CampaignEvent) {
	e.metrics.ObserveEvent(string(schema.KindCampaign))

	if evt.Label == "" {
		e.malformed(ctx, schema.KindCampaign, evt.Key, "campaign event label required")
		return
	}
	if err := evt.Key.Validate(true); err != nil {
		e.malformed(ctx, schema.KindCampaign, evt.Key, err.Error())
		return
	}

	now := e.clock()
	if !evt.Key.Wildcard() {
		win, ok := e.wins.Get(evt.Key)
		if !ok {
			e.unmatched(ctx, schema.KindCampaign, evt.Key)
			return
		}
		e.route(ctx, schema.NewCampaignOutcome(win, evt, now))
		return
	}

	wins := e.wins.GetAll(evt.Key.AuctionID)
	if len(wins) == 0 {
		e.unmatched(ctx, schema.KindCampaign, evt.Key)
		return
	}
	for _, win := range wins {
		e.route(ctx, schema.NewCampaignOutcome(win, evt, now))
	}
}

// sweep resolves every expired pending auction as an implicit loss and ages
// out win-history entries past the retention horizon.
func (e *Engine) sweep(ctx context.Context, now time.Time) {
	expired := e.pending.SweepExpired(now)
	e.metrics.ObserveSweep(len(expired))
	for _, entry := range expired {
		e.route(ctx, schema.NewLossOutcome(entry, schema.LossImplicit, nil, now))
	}
	if e.cfg.WinTimeout > 0 {
		if evicted := e.wins.Evict(now.Add(-e.cfg.WinTimeout)); evicted > 0 {
			e.log.Debug("win history evicted", observability.F("count", evicted))
		}
	}
	e.metrics.SetPending(e.pending.Len())
	e.metrics.SetWinHistory(e.wins.Len())
	e.lastSweep.Store(now.UnixNano())
}

func (e *Engine) unmatched(ctx context.Context, kind schema.EventKind, key schema.AuctionKey) {
	cause := errs.New("matcher", errs.CodeNotFound,
		errs.WithAuction(key.AuctionID, key.AdSpotID),
		errs.WithField("kind", string(kind)))
	e.metrics.ObserveUnmatched(string(kind))
	e.diag.Info("unmatched event",
		observability.F("kind", string(kind)),
		observability.F("auction", key.String()))
	outcome := schema.NewUnmatchedOutcome(kind, key, e.clock())
	outcome.Cause = cause.Error()
	e.route(ctx, outcome)
}

func (e *Engine) malformed(ctx context.Context, kind schema.EventKind, key schema.AuctionKey, cause string) {
	e.metrics.ObserveMalformed()
	e.diag.Error("malformed event",
		observability.F("kind", string(kind)),
		observability.F("auction", key.String()),
		observability.F("cause", cause))
	e.route(ctx, schema.NewErrorOutcome(kind, key, cause, e.clock()))
}

// route hands a finished outcome to the sink. Sink panics are contained so
// one bad outcome cannot take the consumer loop down.
func (e *Engine) route(ctx context.Context, outcome schema.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("outcome sink panicked",
				observability.F("outcome", string(outcome.Kind)),
				observability.F("auction", outcome.Key.String()),
				observability.F("panic", r))
		}
	}()
	e.sink.Route(ctx, outcome)
}
