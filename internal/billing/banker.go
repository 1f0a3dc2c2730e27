// Package billing defines the banker collaborator contract the router
// settles outcomes against, plus the in-process implementations used for
// development and simulation. The authoritative ledger lives in an external
// billing service; this package only calls into it.
package billing

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/bidwire/postauction/internal/observability"
)

// Direction states what a settlement does to the account's budget.
type Direction string

const (
	// DirectionCommit charges the account the win price.
	DirectionCommit Direction = "commit"
	// DirectionRelease returns the reserved bid amount after a loss.
	DirectionRelease Direction = "release"
)

// Banker is the billing collaborator. Settle must return promptly; retry
// and durability are the billing service's responsibility, not the caller's.
type Banker interface {
	Settle(ctx context.Context, account string, amount decimal.Decimal, direction Direction) error
}

// LogBanker records settlements to the logger only. Used when no billing
// endpoint is configured (development, simulation harnesses).
type LogBanker struct {
	log observability.Logger
}

// NewLogBanker constructs a banker that logs every settlement.
func NewLogBanker(log observability.Logger) *LogBanker {
	if log == nil {
		log = observability.Nop()
	}
	return &LogBanker{log: log}
}

// Settle implements Banker.
func (b *LogBanker) Settle(_ context.Context, account string, amount decimal.Decimal, direction Direction) error {
	b.log.Info("settlement",
		observability.F("account", account),
		observability.F("amount", amount.String()),
		observability.F("direction", string(direction)))
	return nil
}

// Settlement is one recorded settlement call.
type Settlement struct {
	Account   string
	Amount    decimal.Decimal
	Direction Direction
}

// MemoryBanker records settlements in memory. Test double.
type MemoryBanker struct {
	mu          sync.Mutex
	settlements []Settlement
	fail        error
}

// NewMemoryBanker constructs an empty recording banker.
func NewMemoryBanker() *MemoryBanker { return &MemoryBanker{} }

// FailWith makes every subsequent Settle return err (nil restores success).
func (b *MemoryBanker) FailWith(err error) {
	b.mu.Lock()
	b.fail = err
	b.mu.Unlock()
}

// Settle implements Banker.
func (b *MemoryBanker) Settle(_ context.Context, account string, amount decimal.Decimal, direction Direction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.settlements = append(b.settlements, Settlement{Account: account, Amount: amount, Direction: direction})
	return nil
}

// Settlements returns a copy of everything settled so far.
func (b *MemoryBanker) Settlements() []Settlement {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Settlement, len(b.settlements))
	copy(out, b.settlements)
	return out
}
