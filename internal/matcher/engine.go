// Package matcher implements the reconciliation core: per-kind intake
// queues, the pending-auction match engine, and the timeout sweeper, all
// serialized onto one consumer goroutine.
//
// Interleaving policy: the consumer wakes on any ready queue or sweep tick,
// applies the waking event, then drains the remaining queues in fixed
// priority order (submit, win, loss, campaign), FIFO within each queue. The
// policy is part of the contract; tests rely on it.
package matcher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bidwire/postauction/errs"
	"github.com/bidwire/postauction/internal/history"
	"github.com/bidwire/postauction/internal/ledger"
	"github.com/bidwire/postauction/internal/observability"
	"github.com/bidwire/postauction/internal/schema"
	"github.com/bidwire/postauction/internal/telemetry"
)

// OutcomeSink receives every finished outcome exactly once. The router
// implements it; tests substitute recorders.
type OutcomeSink interface {
	Route(ctx context.Context, outcome schema.Outcome)
}

// Engine owns the pending-auction ledger and win history. All mutation of
// both happens on the goroutine running Run; producers only enqueue.
type Engine struct {
	cfg     Config
	log     observability.Logger
	diag    *observability.Throttled
	metrics *telemetry.EngineMetrics
	sink    OutcomeSink
	clock   func() time.Time

	pending *ledger.Ledger
	wins    *history.Store

	submits   chan schema.SubmitEvent
	winEvents chan schema.WinEvent
	losses    chan schema.LossEvent
	campaigns chan schema.CampaignEvent

	stopped   atomic.Bool
	done      chan struct{}
	lastSweep atomic.Int64
}

// Option configures engine construction.
type Option func(*Engine)

// WithClock overrides the engine clock, primarily for testing.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithDiagnosticRate overrides the throttle applied to steady-state
// diagnostic logging (unmatched events, queue drops).
func WithDiagnosticRate(perSecond float64, burst int) Option {
	return func(e *Engine) {
		e.diag = observability.NewThrottled(e.log, perSecond, burst)
	}
}

// New constructs an engine. The sink must not be nil; a nil logger or
// metrics disables the respective signal.
func New(cfg Config, sink OutcomeSink, log observability.Logger, metrics *telemetry.EngineMetrics, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, errs.New("matcher", errs.CodeConfig, errs.WithMessage("outcome sink required"))
	}
	if log == nil {
		log = observability.Nop()
	}
	e := &Engine{
		cfg:       cfg,
		log:       log,
		metrics:   metrics,
		sink:      sink,
		clock:     time.Now,
		pending:   ledger.New(),
		wins:      history.New(),
		submits:   make(chan schema.SubmitEvent, cfg.QueueCapacity),
		winEvents: make(chan schema.WinEvent, cfg.QueueCapacity),
		losses:    make(chan schema.LossEvent, cfg.QueueCapacity),
		campaigns: make(chan schema.CampaignEvent, cfg.QueueCapacity),
		done:      make(chan struct{}),
	}
	e.diag = observability.NewThrottled(log, 10, 20)
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// SubmitAuction transfers a submitted auction into the reconciliation loop.
// Thread-safe and non-blocking; the returned error only reports enqueue
// rejection, matching results are always asynchronous. A non-positive
// lossTimeout falls back to the configured auction timeout.
func (e *Engine) SubmitAuction(auctionID, adSpotID string, bid schema.BidSnapshot, lossTimeout time.Duration) error {
	if lossTimeout <= 0 {
		lossTimeout = e.cfg.AuctionTimeout
	}
	evt := schema.SubmitEvent{
		Key:         schema.AuctionKey{AuctionID: auctionID, AdSpotID: adSpotID},
		Bid:         bid,
		LossTimeout: lossTimeout,
		SubmittedAt: e.clock(),
	}
	return enqueue(e, e.submits, evt, schema.KindSubmit)
}

// InjectWin enqueues a win notification. Thread-safe and non-blocking.
func (e *Engine) InjectWin(auctionID, adSpotID string, winPrice decimal.Decimal, ts time.Time, winMeta schema.Meta, ids schema.UserIDs, account string, bidTS time.Time) error {
	evt := schema.WinEvent{
		Key:          schema.AuctionKey{AuctionID: auctionID, AdSpotID: adSpotID},
		WinPrice:     winPrice,
		Timestamp:    ts,
		WinMeta:      winMeta,
		UserIDs:      ids,
		Account:      account,
		BidTimestamp: bidTS,
	}
	return enqueue(e, e.winEvents, evt, schema.KindWin)
}

// InjectLoss enqueues an explicit loss notification. Only simulation
// harnesses use this path; production losses are inferred by the sweeper.
func (e *Engine) InjectLoss(auctionID, adSpotID string, ts time.Time, lossMeta schema.Meta, account string, bidTS time.Time) error {
	evt := schema.LossEvent{
		Key:          schema.AuctionKey{AuctionID: auctionID, AdSpotID: adSpotID},
		Timestamp:    ts,
		LossMeta:     lossMeta,
		Account:      account,
		BidTimestamp: bidTS,
	}
	return enqueue(e, e.losses, evt, schema.KindLoss)
}

// InjectCampaignEvent enqueues a post-win campaign event. An empty adSpotID
// broadcasts the event to every retained win of the auction.
func (e *Engine) InjectCampaignEvent(label, auctionID, adSpotID string, ts time.Time, eventMeta schema.Meta, ids schema.UserIDs) error {
	evt := schema.CampaignEvent{
		Label:     label,
		Key:       schema.AuctionKey{AuctionID: auctionID, AdSpotID: adSpotID},
		Timestamp: ts,
		EventMeta: eventMeta,
		UserIDs:   ids,
	}
	return enqueue(e, e.campaigns, evt, schema.KindCampaign)
}

// enqueue performs the non-blocking handoff onto an intake queue. A full
// queue rejects with a diagnostic instead of applying backpressure to the
// producer.
func enqueue[T any](e *Engine, ch chan T, evt T, kind schema.EventKind) error {
	if e.stopped.Load() {
		return errs.New("matcher/intake", errs.CodeUnavailable,
			errs.WithField("kind", string(kind)),
			errs.WithMessage("engine stopped"))
	}
	select {
	case ch <- evt:
		return nil
	default:
		e.metrics.ObserveDropped(string(kind))
		e.diag.Error("intake queue full, event dropped",
			observability.F("kind", string(kind)))
		return errs.New("matcher/intake", errs.CodeQueueFull,
			errs.WithField("kind", string(kind)),
			errs.WithMessage("intake queue full"))
	}
}

// Run drives the consumer loop until ctx is cancelled, then drains within
// the configured window. It is the only goroutine allowed to touch the
// ledger and win history.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	e.lastSweep.Store(e.clock().UnixNano())

	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case evt := <-e.submits:
			e.applySubmit(ctx, evt)
			e.drainReady(ctx)
		case evt := <-e.winEvents:
			e.applyWin(ctx, evt)
			e.drainReady(ctx)
		case evt := <-e.losses:
			e.applyLoss(ctx, evt)
			e.drainReady(ctx)
		case evt := <-e.campaigns:
			e.applyCampaign(ctx, evt)
			e.drainReady(ctx)
		case <-ticker.C:
			e.sweep(ctx, e.clock())
		}
	}
}

// Done closes once Run has fully drained and returned.
func (e *Engine) Done() <-chan struct{} { return e.done }

// LastSweep reports when the sweeper last ran, for the health surface.
func (e *Engine) LastSweep() time.Time {
	return time.Unix(0, e.lastSweep.Load())
}

// drainReady empties every queue with the fixed submit, win, loss,
// campaign priority before the loop blocks again.
func (e *Engine) drainReady(ctx context.Context) {
	for {
		select {
		case evt := <-e.submits:
			e.applySubmit(ctx, evt)
			continue
		default:
		}
		select {
		case evt := <-e.winEvents:
			e.applyWin(ctx, evt)
			continue
		default:
		}
		select {
		case evt := <-e.losses:
			e.applyLoss(ctx, evt)
			continue
		default:
		}
		select {
		case evt := <-e.campaigns:
			e.applyCampaign(ctx, evt)
			continue
		default:
		}
		return
	}
}

// shutdown stops intake, processes what it can inside the drain window, and
// accounts for anything it had to discard. The deadline is re-checked after
// every single event: a slow sink burns the window, it does not extend it.
// Bounded, logged data loss is acceptable here; in-flight auctions are not
// durable.
func (e *Engine) shutdown() {
	e.stopped.Store(true)
	drainCtx, cancel := context.WithTimeout(context.Background(), e.cfg.DrainWindow)
	defer cancel()

	for len(e.submits)+len(e.winEvents)+len(e.losses)+len(e.campaigns) > 0 {
		select {
		case <-drainCtx.Done():
			e.discardRemaining()
			return
		default:
			e.applyNext(drainCtx)
		}
	}
	e.log.Info("engine drained cleanly",
		observability.F("pending", e.pending.Len()),
		observability.F("win_history", e.wins.Len()))
}

// applyNext processes one queued event in drain priority order.
func (e *Engine) applyNext(ctx context.Context) {
	select {
	case evt := <-e.submits:
		e.applySubmit(ctx, evt)
		return
	default:
	}
	select {
	case evt := <-e.winEvents:
		e.applyWin(ctx, evt)
		return
	default:
	}
	select {
	case evt := <-e.losses:
		e.applyLoss(ctx, evt)
		return
	default:
	}
	select {
	case evt := <-e.campaigns:
		e.applyCampaign(ctx, evt)
	default:
	}
}

func (e *Engine) discardRemaining() {
	discarded := map[schema.EventKind]int{
		schema.KindSubmit:   len(e.submits),
		schema.KindWin:      len(e.winEvents),
		schema.KindLoss:     len(e.losses),
		schema.KindCampaign: len(e.campaigns),
	}
	total := 0
	for kind, n := range discarded {
		for i := 0; i < n; i++ {
			e.metrics.ObserveDropped(string(kind))
		}
		total += n
	}
	e.log.Error("drain window elapsed, discarding queued events",
		observability.F("submits", discarded[schema.KindSubmit]),
		observability.F("wins", discarded[schema.KindWin]),
		observability.F("losses", discarded[schema.KindLoss]),
		observability.F("campaigns", discarded[schema.KindCampaign]),
		observability.F("total", total))
}
