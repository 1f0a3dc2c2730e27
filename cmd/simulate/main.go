// Command simulate drives synthetic auction traffic through an in-process
// reconciliation engine. It exercises the explicit-loss path, which
// production traffic never takes, and prints the counter snapshot at the
// end of the run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/bidwire/postauction/internal/billing"
	"github.com/bidwire/postauction/internal/matcher"
	"github.com/bidwire/postauction/internal/observability"
	"github.com/bidwire/postauction/internal/router"
	"github.com/bidwire/postauction/internal/schema"
	"github.com/bidwire/postauction/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		auctions     = flag.Int("auctions", 10_000, "Number of auctions to submit")
		winRate      = flag.Float64("win-rate", 0.25, "Fraction of auctions that win")
		lossRate     = flag.Float64("loss-rate", 0.25, "Fraction of auctions receiving an explicit loss")
		campaignRate = flag.Float64("campaign-rate", 0.10, "Fraction of wins followed by a campaign event")
		timeout      = flag.Duration("auction-timeout", 2*time.Second, "Loss deadline per submission")
		seed         = flag.Int64("seed", 1, "PRNG seed")
		verbose      = flag.Bool("verbose", false, "Log every settlement")
	)
	flag.Parse()

	base := log.New(os.Stdout, "simulate ", log.LstdFlags)
	logger := observability.NewStdLogger(base, *verbose)

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewEngineMetrics(registry)

	outRouter := router.New(router.Config{DeliveryWorkers: 1},
		billing.NewLogBanker(logger), nil, nil, logger, metrics)
	defer outRouter.Close()

	engine, err := matcher.New(matcher.Config{
		WinTimeout:     time.Hour,
		AuctionTimeout: *timeout,
		SweepInterval:  *timeout / 4,
		DrainWindow:    5 * time.Second,
		QueueCapacity:  1 << 16,
	}, outRouter, logger, metrics)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	var lifecycle conc.WaitGroup
	lifecycle.Go(func() { engine.Run(ctx) })

	rng := rand.New(rand.NewSource(*seed))
	start := time.Now()
	for i := 0; i < *auctions; i++ {
		auctionID := fmt.Sprintf("auction-%06d", i)
		bid := schema.BidSnapshot{
			Price:        decimal.NewFromFloat(0.5 + rng.Float64()*4.5).Round(4),
			Account:      fmt.Sprintf("campaign-%d", rng.Intn(8)),
			BidTimestamp: time.Now(),
		}
		if err := engine.SubmitAuction(auctionID, "spot-0", bid, *timeout); err != nil {
			logger.Error("submit rejected", observability.F("error", err.Error()))
			continue
		}

		switch roll := rng.Float64(); {
		case roll < *winRate:
			winPrice := bid.Price.Mul(decimal.NewFromFloat(0.8)).Round(4)
			if err := engine.InjectWin(auctionID, "spot-0", winPrice,
				time.Now(), nil, nil, "", time.Time{}); err != nil {
				logger.Error("win rejected", observability.F("error", err.Error()))
				break
			}
			if rng.Float64() < *campaignRate {
				_ = engine.InjectCampaignEvent("CLICK", auctionID, "spot-0",
					time.Now(), nil, nil)
			}
		case roll < *winRate+*lossRate:
			_ = engine.InjectLoss(auctionID, "spot-0", time.Now(), nil, "", time.Time{})
		default:
			// Left to expire: the sweeper resolves it as an implicit loss.
		}
	}

	// Let the sweeper catch everything left pending, then drain.
	time.Sleep(*timeout + *timeout/2)
	cancel()
	<-engine.Done()
	lifecycle.Wait()

	snapshot, err := json.MarshalIndent(metrics.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	base.Printf("run complete in %v", time.Since(start).Round(time.Millisecond))
	fmt.Println(string(snapshot))
	return nil
}
