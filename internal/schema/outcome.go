package schema

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OutcomeKind discriminates the closed outcome union. The variant set is
// fixed by the domain; the router handles every variant exhaustively.
type OutcomeKind string

const (
	// OutcomeWin is a win matched against a pending auction.
	OutcomeWin OutcomeKind = "win"
	// OutcomeLoss is a loss, explicit or inferred by expiry.
	OutcomeLoss OutcomeKind = "loss"
	// OutcomeCampaign is a campaign event attributed to a prior win.
	OutcomeCampaign OutcomeKind = "campaign"
	// OutcomeUnmatched is an event with no live ledger or history entry.
	OutcomeUnmatched OutcomeKind = "unmatched"
	// OutcomeError is malformed or inconsistent input surfaced as a diagnostic.
	OutcomeError OutcomeKind = "error"
)

// LossSource distinguishes explicit loss notifications from timeout expiry.
type LossSource string

const (
	// LossExplicit marks a loss delivered as a notification (simulation path).
	LossExplicit LossSource = "explicit"
	// LossImplicit marks a loss inferred by the sweeper.
	LossImplicit LossSource = "implicit"
)

// WinRecord is the retained form of a matched win, kept in history so that
// later campaign events can attach to it.
type WinRecord struct {
	Key       AuctionKey
	Bid       BidSnapshot
	WinPrice  decimal.Decimal
	Account   string
	UserIDs   UserIDs
	MatchedAt time.Time
}

// Outcome is the single authoritative result produced for a matched or
// expired auction. Constructed once, routed once, never persisted by the
// engine itself.
type Outcome struct {
	ID         string
	Kind       OutcomeKind
	Key        AuctionKey
	Bid        BidSnapshot
	ResolvedAt time.Time

	// Win and loss fields.
	WinPrice   decimal.Decimal
	Account    string
	UserIDs    UserIDs
	Meta       Meta
	LossSource LossSource

	// Campaign fields. Win references the matched prior win.
	Label string
	Win   *WinRecord

	// Unmatched and error fields.
	SourceKind EventKind
	Cause      string
}

// NewWinOutcome builds the outcome for a win matched against pending.
func NewWinOutcome(pending PendingAuction, evt WinEvent, resolvedAt time.Time) Outcome {
	return Outcome{
		ID:         uuid.NewString(),
		Kind:       OutcomeWin,
		Key:        pending.Key,
		Bid:        pending.Bid,
		ResolvedAt: resolvedAt,
		WinPrice:   evt.WinPrice,
		Account:    pending.Bid.Account,
		UserIDs:    evt.UserIDs.Clone(),
		Meta:       evt.WinMeta.Clone(),
	}
}

// NewLossOutcome builds the outcome for an explicit or implicit loss.
func NewLossOutcome(pending PendingAuction, source LossSource, meta Meta, resolvedAt time.Time) Outcome {
	return Outcome{
		ID:         uuid.NewString(),
		Kind:       OutcomeLoss,
		Key:        pending.Key,
		Bid:        pending.Bid,
		ResolvedAt: resolvedAt,
		Account:    pending.Bid.Account,
		Meta:       meta.Clone(),
		LossSource: source,
	}
}

// NewCampaignOutcome builds the outcome for a campaign event attached to win.
func NewCampaignOutcome(win WinRecord, evt CampaignEvent, resolvedAt time.Time) Outcome {
	ref := win
	return Outcome{
		ID:         uuid.NewString(),
		Kind:       OutcomeCampaign,
		Key:        win.Key,
		Bid:        win.Bid,
		ResolvedAt: resolvedAt,
		Account:    win.Account,
		UserIDs:    evt.UserIDs.Clone(),
		Meta:       evt.EventMeta.Clone(),
		Label:      evt.Label,
		Win:        &ref,
	}
}

// NewUnmatchedOutcome builds the diagnostic outcome for an event that found
// no live entry to match.
func NewUnmatchedOutcome(kind EventKind, key AuctionKey, resolvedAt time.Time) Outcome {
	return Outcome{
		ID:         uuid.NewString(),
		Kind:       OutcomeUnmatched,
		Key:        key,
		ResolvedAt: resolvedAt,
		SourceKind: kind,
	}
}

// NewErrorOutcome builds the diagnostic outcome for malformed input. The
// cause is always human-readable; malformed input is never silently dropped.
func NewErrorOutcome(kind EventKind, key AuctionKey, cause string, resolvedAt time.Time) Outcome {
	return Outcome{
		ID:         uuid.NewString(),
		Kind:       OutcomeError,
		Key:        key,
		ResolvedAt: resolvedAt,
		SourceKind: kind,
		Cause:      cause,
	}
}
