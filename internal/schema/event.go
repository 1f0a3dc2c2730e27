package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind labels the intake queue an event arrived on.
type EventKind string

const (
	// KindSubmit is a submitted auction entering the ledger.
	KindSubmit EventKind = "submit"
	// KindWin is a win notification from an exchange.
	KindWin EventKind = "win"
	// KindLoss is an explicit loss notification (simulation path only;
	// production losses are inferred by timeout).
	KindLoss EventKind = "loss"
	// KindCampaign is a post-win campaign event (click, conversion, ...).
	KindCampaign EventKind = "campaign"
)

// SubmitEvent transfers a submitted auction into the reconciliation loop.
type SubmitEvent struct {
	Key         AuctionKey
	Bid         BidSnapshot
	LossTimeout time.Duration
	SubmittedAt time.Time
}

// WinEvent is a win notification awaiting matching against the ledger.
type WinEvent struct {
	Key          AuctionKey
	WinPrice     decimal.Decimal
	Timestamp    time.Time
	WinMeta      Meta
	UserIDs      UserIDs
	Account      string
	BidTimestamp time.Time
}

// LossEvent is an explicit loss notification. Only simulation harnesses
// produce these; the sweeper covers the production path.
type LossEvent struct {
	Key          AuctionKey
	Timestamp    time.Time
	LossMeta     Meta
	Account      string
	BidTimestamp time.Time
}

// CampaignEvent is a post-win notification attributed to a prior win. An
// empty AdSpotID in Key broadcasts the event to every win of the auction.
type CampaignEvent struct {
	Label     string
	Key       AuctionKey
	Timestamp time.Time
	EventMeta Meta
	UserIDs   UserIDs
}
