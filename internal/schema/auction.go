// Package schema defines the canonical auction, event, and outcome types
// shared across the reconciliation pipeline.
package schema

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bidwire/postauction/errs"
)

// AuctionKey identifies one biddable placement: an auction plus one of its
// ad spots. AdSpotID may be empty only in campaign-event lookups, meaning
// "every spot of this auction".
type AuctionKey struct {
	AuctionID string
	AdSpotID  string
}

// Wildcard reports whether the key addresses all spots of the auction.
func (k AuctionKey) Wildcard() bool { return k.AdSpotID == "" }

// String renders the key as auctionID/adSpotID for logs and counters.
func (k AuctionKey) String() string {
	if k.AdSpotID == "" {
		return k.AuctionID + "/*"
	}
	return k.AuctionID + "/" + k.AdSpotID
}

// Less orders keys lexicographically, auction ID first. Used for
// deterministic tie-breaking when deadlines collide.
func (k AuctionKey) Less(other AuctionKey) bool {
	if k.AuctionID != other.AuctionID {
		return k.AuctionID < other.AuctionID
	}
	return k.AdSpotID < other.AdSpotID
}

// Validate rejects keys unusable for ledger operations. allowWildcard
// permits an empty ad spot (campaign-event lookups only).
func (k AuctionKey) Validate(allowWildcard bool) error {
	if strings.TrimSpace(k.AuctionID) == "" {
		return errs.New("schema/auction-key", errs.CodeInvalid, errs.WithMessage("auction id required"))
	}
	if !allowWildcard && strings.TrimSpace(k.AdSpotID) == "" {
		return errs.New("schema/auction-key", errs.CodeInvalid,
			errs.WithAuction(k.AuctionID, ""), errs.WithMessage("ad spot id required"))
	}
	return nil
}

// UserIDs carries the user identifiers attached to win and campaign
// notifications, keyed by domain (exchange, provider, ...).
type UserIDs map[string]string

// Clone returns a copy of the identifier set.
func (u UserIDs) Clone() UserIDs {
	if len(u) == 0 {
		return nil
	}
	out := make(UserIDs, len(u))
	for k, v := range u {
		out[k] = v
	}
	return out
}

// Meta is an opaque notification payload carried through to the agent
// unmodified (win meta, loss meta, campaign event meta).
type Meta map[string]any

// Clone returns a shallow copy of the payload.
func (m Meta) Clone() Meta {
	if len(m) == 0 {
		return nil
	}
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// BidSnapshot preserves what the bidder committed to at auction time. The
// ledger stores it so later notifications can be validated against the
// original bid rather than trusted blindly.
type BidSnapshot struct {
	Price        decimal.Decimal
	Account      string
	BidTimestamp time.Time
}

// Validate rejects snapshots the ledger must not accept.
func (s BidSnapshot) Validate() error {
	if strings.TrimSpace(s.Account) == "" {
		return errs.New("schema/bid-snapshot", errs.CodeInvalid, errs.WithMessage("account key required"))
	}
	if !s.Price.IsPositive() {
		return errs.New("schema/bid-snapshot", errs.CodeInvalid,
			errs.WithAccount(s.Account),
			errs.WithMessage("bid price must be positive"))
	}
	return nil
}

// PendingAuction is one ledger entry: an auction submitted with a bid and
// still awaiting its outcome.
type PendingAuction struct {
	Key         AuctionKey
	Bid         BidSnapshot
	SubmittedAt time.Time
	Deadline    time.Time
}

// Expired reports whether the entry's deadline has passed at now.
func (p PendingAuction) Expired(now time.Time) bool {
	return !p.Deadline.After(now)
}
