package archive

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/bidwire/postauction/internal/observability"
	"github.com/bidwire/postauction/internal/schema"
)

const outcomeInsertSQL = `
INSERT INTO outcomes (
    id,
    kind,
    auction_id,
    ad_spot_id,
    account,
    bid_price,
    win_price,
    loss_source,
    label,
    source_kind,
    cause,
    resolved_at,
    payload
)
VALUES (
    @id,
    @kind,
    @auction_id,
    @ad_spot_id,
    @account,
    @bid_price,
    @win_price,
    @loss_source,
    @label,
    @source_kind,
    @cause,
    @resolved_at,
    @payload::jsonb
)
ON CONFLICT (id) DO NOTHING;
`

// Store writes routed outcomes to Postgres. It implements router.Listener
// with an internal queue so the matcher's consumer goroutine never waits on
// the database; a full queue drops the record with a diagnostic.
type Store struct {
	pool   *pgxpool.Pool
	log    observability.Logger
	jobs   chan schema.Outcome
	writer conc.WaitGroup
}

// New connects to the archive database and starts the background writer.
func New(ctx context.Context, dsn string, queueSize int, log observability.Logger) (*Store, error) {
	if log == nil {
		log = observability.Nop()
	}
	if queueSize <= 0 {
		queueSize = 4096
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s := &Store{
		pool: pool,
		log:  log,
		jobs: make(chan schema.Outcome, queueSize),
	}
	s.writer.Go(s.writeLoop)
	return s, nil
}

// OnOutcome implements router.Listener. Non-blocking by contract.
func (s *Store) OnOutcome(_ context.Context, outcome schema.Outcome) {
	select {
	case s.jobs <- outcome:
	default:
		s.log.Error("archive queue full, outcome not persisted",
			observability.F("outcome", outcome.ID),
			observability.F("kind", string(outcome.Kind)))
	}
}

// Close drains the queue, stops the writer, and releases the pool.
func (s *Store) Close() {
	close(s.jobs)
	s.writer.Wait()
	s.pool.Close()
}

func (s *Store) writeLoop() {
	for outcome := range s.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.insert(ctx, outcome)
		cancel()
		if err != nil {
			s.log.Error("archive insert failed",
				observability.F("outcome", outcome.ID),
				observability.F("error", err.Error()))
		}
	}
}

func (s *Store) insert(ctx context.Context, outcome schema.Outcome) error {
	payload, err := json.Marshal(outcomePayload(outcome))
	if err != nil {
		return err
	}
	args := pgx.NamedArgs{
		"id":          outcome.ID,
		"kind":        string(outcome.Kind),
		"auction_id":  outcome.Key.AuctionID,
		"ad_spot_id":  outcome.Key.AdSpotID,
		"account":     outcome.Account,
		"bid_price":   nil,
		"win_price":   nil,
		"loss_source": nullable(string(outcome.LossSource)),
		"label":       nullable(outcome.Label),
		"source_kind": nullable(string(outcome.SourceKind)),
		"cause":       nullable(outcome.Cause),
		"resolved_at": outcome.ResolvedAt,
		"payload":     string(payload),
	}
	switch outcome.Kind {
	case schema.OutcomeWin:
		args["bid_price"] = outcome.Bid.Price.String()
		args["win_price"] = outcome.WinPrice.String()
	case schema.OutcomeLoss:
		args["bid_price"] = outcome.Bid.Price.String()
	case schema.OutcomeCampaign:
		if outcome.Win != nil {
			args["win_price"] = outcome.Win.WinPrice.String()
		}
	case schema.OutcomeUnmatched, schema.OutcomeError:
		// Identity and diagnostics columns only.
	}
	_, err = s.pool.Exec(ctx, outcomeInsertSQL, args)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// outcomePayload is the JSONB sidecar keeping the variant's full field set
// queryable without widening the column list.
func outcomePayload(outcome schema.Outcome) map[string]any {
	payload := map[string]any{
		"userIds": outcome.UserIDs,
		"meta":    outcome.Meta,
	}
	if outcome.Win != nil {
		payload["win"] = map[string]any{
			"auctionId": outcome.Win.Key.AuctionID,
			"adSpotId":  outcome.Win.Key.AdSpotID,
			"winPrice":  outcome.Win.WinPrice.String(),
			"matchedAt": outcome.Win.MatchedAt,
		}
	}
	return payload
}
