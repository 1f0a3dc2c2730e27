// Package router decides which collaborators receive each finished outcome.
// Wins and losses settle with the banker exactly once (the matcher's
// removal-before-route discipline guarantees no identity reaches here
// twice) and are then delivered to the owning agent; campaign events only
// deliver; unmatched and error outcomes only feed diagnostics.
package router

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/bidwire/postauction/internal/agents"
	"github.com/bidwire/postauction/internal/billing"
	"github.com/bidwire/postauction/internal/observability"
	"github.com/bidwire/postauction/internal/schema"
	"github.com/bidwire/postauction/internal/telemetry"
)

// Listener observes every routed outcome. Declared listeners (the outcome
// archive, test recorders) receive all variants, including diagnostics.
type Listener interface {
	OnOutcome(ctx context.Context, outcome schema.Outcome)
}

// Config tunes the router's delivery workers.
type Config struct {
	DeliveryWorkers int
	DeliveryQueue   int
	DeliverTimeout  time.Duration
}

func (c Config) normalize() Config {
	if c.DeliveryWorkers <= 0 {
		c.DeliveryWorkers = 8
	}
	if c.DeliveryQueue <= 0 {
		c.DeliveryQueue = 1024
	}
	if c.DeliverTimeout <= 0 {
		c.DeliverTimeout = 10 * time.Second
	}
	return c
}

type deliveryJob struct {
	account string
	payload []byte
}

// Router fans finished outcomes out to billing, agents, and listeners. It
// runs on the matcher's consumer goroutine; anything slow (agent delivery)
// is handed to its own bounded worker pool so the consumer never stalls.
type Router struct {
	cfg       Config
	log       observability.Logger
	metrics   *telemetry.EngineMetrics
	directory agents.Directory
	transport agents.Transport
	listeners []Listener

	mu     sync.RWMutex
	banker billing.Banker

	jobs    chan deliveryJob
	workers conc.WaitGroup
	closed  atomic.Bool
}

// New constructs a router and starts its delivery workers.
func New(cfg Config, banker billing.Banker, directory agents.Directory, transport agents.Transport, log observability.Logger, metrics *telemetry.EngineMetrics, listeners ...Listener) *Router {
	if log == nil {
		log = observability.Nop()
	}
	cfg = cfg.normalize()
	r := &Router{
		cfg:       cfg,
		log:       log,
		metrics:   metrics,
		directory: directory,
		transport: transport,
		listeners: listeners,
		banker:    banker,
		jobs:      make(chan deliveryJob, cfg.DeliveryQueue),
	}
	for i := 0; i < cfg.DeliveryWorkers; i++ {
		r.workers.Go(r.deliveryLoop)
	}
	return r
}

// SetBanker hot-swaps the billing collaborator. The engine holds a single
// shared handle; swapping takes effect for the next routed outcome.
func (r *Router) SetBanker(banker billing.Banker) {
	r.mu.Lock()
	r.banker = banker
	r.mu.Unlock()
}

// Close stops accepting outcomes and waits for in-flight deliveries.
func (r *Router) Close() {
	if r.closed.Swap(true) {
		return
	}
	close(r.jobs)
	r.workers.Wait()
}

// Route implements matcher.OutcomeSink. Exhaustive over the outcome union;
// adding a variant without a case here is a compile-time-visible hole in
// the switch below, which is the point of keeping the union closed.
func (r *Router) Route(ctx context.Context, outcome schema.Outcome) {
	switch outcome.Kind {
	case schema.OutcomeWin:
		r.settle(ctx, outcome.Account, outcome.WinPrice, billing.DirectionCommit)
		r.deliver(outcome, outcome.Account)
	case schema.OutcomeLoss:
		r.settle(ctx, outcome.Account, outcome.Bid.Price, billing.DirectionRelease)
		r.deliver(outcome, outcome.Account)
	case schema.OutcomeCampaign:
		// Billing already happened when the referenced win matched.
		r.deliver(outcome, outcome.Account)
	case schema.OutcomeUnmatched:
		// Counters were incremented at the matcher; nothing to settle or
		// deliver. Listeners still observe the diagnostic below.
	case schema.OutcomeError:
		r.log.Error("error outcome routed",
			observability.F("kind", string(outcome.SourceKind)),
			observability.F("auction", outcome.Key.String()),
			observability.F("cause", outcome.Cause))
	}
	for _, listener := range r.listeners {
		listener.OnOutcome(ctx, outcome)
	}
}

func (r *Router) currentBanker() billing.Banker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.banker
}

// settle issues exactly one billing call. A failure is logged and counted;
// it never aborts routing and is never rolled back or retried here.
func (r *Router) settle(ctx context.Context, account string, amount decimal.Decimal, direction billing.Direction) {
	banker := r.currentBanker()
	if banker == nil {
		r.metrics.ObserveSettlementFailure()
		r.log.Error("no banker configured, settlement dropped",
			observability.F("account", account),
			observability.F("amount", amount.String()))
		return
	}
	if err := banker.Settle(ctx, account, amount, direction); err != nil {
		r.metrics.ObserveSettlementFailure()
		r.log.Error("settlement failed",
			observability.F("account", account),
			observability.F("amount", amount.String()),
			observability.F("direction", string(direction)),
			observability.F("error", err.Error()))
		return
	}
	r.metrics.ObserveSettlement(string(direction))
}

// deliver encodes the agent message and hands it to the worker pool.
func (r *Router) deliver(outcome schema.Outcome, account string) {
	if r.directory == nil || r.transport == nil {
		return
	}
	if r.closed.Load() {
		return
	}
	payload, err := EncodeAgentMessage(outcome)
	if err != nil {
		r.metrics.ObserveDelivery(false)
		r.log.Error("encode agent message failed",
			observability.F("outcome", string(outcome.Kind)),
			observability.F("error", err.Error()))
		return
	}
	select {
	case r.jobs <- deliveryJob{account: account, payload: payload}:
	default:
		r.metrics.ObserveDelivery(false)
		r.log.Error("delivery queue full, message dropped",
			observability.F("account", account))
	}
}

func (r *Router) deliveryLoop() {
	for job := range r.jobs {
		addr, ok := r.directory.Resolve(job.account)
		if !ok {
			r.metrics.ObserveDelivery(false)
			r.log.Info("no agent registered for account",
				observability.F("account", job.account))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DeliverTimeout)
		err := r.transport.Deliver(ctx, addr, job.payload)
		cancel()
		if err != nil {
			r.metrics.ObserveDelivery(false)
			r.log.Info("agent delivery failed",
				observability.F("account", job.account),
				observability.F("address", string(addr)),
				observability.F("error", err.Error()))
			continue
		}
		r.metrics.ObserveDelivery(true)
	}
}
