package router

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/bidwire/postauction/errs"
	"github.com/bidwire/postauction/internal/schema"
)

// Agent messages carry a fixed, documented field set per outcome variant.
// The builder is deliberately closed: there is no way to attach arbitrary
// trailing fields to a message.

type winMessage struct {
	Type         string         `json:"type"`
	OutcomeID    string         `json:"outcomeId"`
	AuctionID    string         `json:"auctionId"`
	AdSpotID     string         `json:"adSpotId"`
	Account      string         `json:"account"`
	BidPrice     string         `json:"bidPrice"`
	WinPrice     string         `json:"winPrice"`
	BidTimestamp time.Time      `json:"bidTimestamp"`
	ResolvedAt   time.Time      `json:"resolvedAt"`
	UserIDs      schema.UserIDs `json:"userIds,omitempty"`
	Meta         schema.Meta    `json:"meta,omitempty"`
}

type lossMessage struct {
	Type         string      `json:"type"`
	OutcomeID    string      `json:"outcomeId"`
	AuctionID    string      `json:"auctionId"`
	AdSpotID     string      `json:"adSpotId"`
	Account      string      `json:"account"`
	BidPrice     string      `json:"bidPrice"`
	Source       string      `json:"source"`
	BidTimestamp time.Time   `json:"bidTimestamp"`
	ResolvedAt   time.Time   `json:"resolvedAt"`
	Meta         schema.Meta `json:"meta,omitempty"`
}

type campaignMessage struct {
	Type       string         `json:"type"`
	Label      string         `json:"label"`
	OutcomeID  string         `json:"outcomeId"`
	AuctionID  string         `json:"auctionId"`
	AdSpotID   string         `json:"adSpotId"`
	Account    string         `json:"account"`
	WinPrice   string         `json:"winPrice"`
	WinMatched time.Time      `json:"winMatchedAt"`
	ResolvedAt time.Time      `json:"resolvedAt"`
	UserIDs    schema.UserIDs `json:"userIds,omitempty"`
	Meta       schema.Meta    `json:"meta,omitempty"`
}

// EncodeAgentMessage serializes the agent-facing form of a deliverable
// outcome. Unmatched and error outcomes are diagnostics, never delivered,
// and encoding one is a caller bug.
func EncodeAgentMessage(outcome schema.Outcome) ([]byte, error) {
	switch outcome.Kind {
	case schema.OutcomeWin:
		return json.Marshal(winMessage{
			Type:         "WIN",
			OutcomeID:    outcome.ID,
			AuctionID:    outcome.Key.AuctionID,
			AdSpotID:     outcome.Key.AdSpotID,
			Account:      outcome.Account,
			BidPrice:     outcome.Bid.Price.String(),
			WinPrice:     outcome.WinPrice.String(),
			BidTimestamp: outcome.Bid.BidTimestamp,
			ResolvedAt:   outcome.ResolvedAt,
			UserIDs:      outcome.UserIDs,
			Meta:         outcome.Meta,
		})
	case schema.OutcomeLoss:
		return json.Marshal(lossMessage{
			Type:         "LOSS",
			OutcomeID:    outcome.ID,
			AuctionID:    outcome.Key.AuctionID,
			AdSpotID:     outcome.Key.AdSpotID,
			Account:      outcome.Account,
			BidPrice:     outcome.Bid.Price.String(),
			Source:       string(outcome.LossSource),
			BidTimestamp: outcome.Bid.BidTimestamp,
			ResolvedAt:   outcome.ResolvedAt,
			Meta:         outcome.Meta,
		})
	case schema.OutcomeCampaign:
		msg := campaignMessage{
			Type:       "CAMPAIGNEVENT",
			Label:      outcome.Label,
			OutcomeID:  outcome.ID,
			AuctionID:  outcome.Key.AuctionID,
			AdSpotID:   outcome.Key.AdSpotID,
			Account:    outcome.Account,
			ResolvedAt: outcome.ResolvedAt,
			UserIDs:    outcome.UserIDs,
			Meta:       outcome.Meta,
		}
		if outcome.Win != nil {
			msg.WinPrice = outcome.Win.WinPrice.String()
			msg.WinMatched = outcome.Win.MatchedAt
		}
		return json.Marshal(msg)
	case schema.OutcomeUnmatched, schema.OutcomeError:
		return nil, errs.New("router/message", errs.CodeInvalid,
			errs.WithMessage("diagnostic outcomes have no agent message"))
	default:
		return nil, errs.New("router/message", errs.CodeInvalid,
			errs.WithMessage("unknown outcome kind"))
	}
}
