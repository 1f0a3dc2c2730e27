package billing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/bidwire/postauction/errs"
	"github.com/bidwire/postauction/internal/observability"
	"github.com/bidwire/postauction/internal/telemetry"
)

// HTTPBanker settles against a remote billing service over HTTP. Settle only
// enqueues: the post runs on a background worker, so the caller (the
// matcher's consumer goroutine) never waits on the network. A failed post is
// logged and counted; the banker never retries on its own, per the
// collaborator contract.
type HTTPBanker struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
	log      observability.Logger
	metrics  *telemetry.EngineMetrics

	jobs   chan settleJob
	worker conc.WaitGroup
	closed atomic.Bool
}

type settleJob struct {
	account   string
	amount    decimal.Decimal
	direction Direction
}

// NewHTTPBanker constructs a banker posting settlements to endpoint and
// starts its worker. Close releases it.
func NewHTTPBanker(endpoint string, timeout time.Duration, queueSize int, log observability.Logger, metrics *telemetry.EngineMetrics) (*HTTPBanker, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, errs.New("billing/http", errs.CodeConfig,
			errs.WithMessage("billing endpoint required"))
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if queueSize <= 0 {
		queueSize = 4096
	}
	if log == nil {
		log = observability.Nop()
	}
	b := &HTTPBanker{
		endpoint: strings.TrimRight(trimmed, "/") + "/settlements",
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
		log:      log,
		metrics:  metrics,
		jobs:     make(chan settleJob, queueSize),
	}
	b.worker.Go(b.postLoop)
	return b, nil
}

// Settle implements Banker. It hands the settlement to the worker and
// returns immediately; a full queue rejects rather than blocking the caller.
func (b *HTTPBanker) Settle(_ context.Context, account string, amount decimal.Decimal, direction Direction) error {
	if b.closed.Load() {
		return errs.New("billing/http", errs.CodeUnavailable,
			errs.WithAccount(account), errs.WithMessage("banker closed"))
	}
	select {
	case b.jobs <- settleJob{account: account, amount: amount, direction: direction}:
		return nil
	default:
		return errs.New("billing/http", errs.CodeQueueFull,
			errs.WithAccount(account), errs.WithMessage("settlement queue full"))
	}
}

// Close stops intake, drains queued settlements, and waits for the worker.
func (b *HTTPBanker) Close() {
	if b.closed.Swap(true) {
		return
	}
	close(b.jobs)
	b.worker.Wait()
}

func (b *HTTPBanker) postLoop() {
	for job := range b.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		err := b.post(ctx, job)
		cancel()
		if err != nil {
			b.metrics.ObserveSettlementFailure()
			b.log.Error("settlement post failed",
				observability.F("account", job.account),
				observability.F("amount", job.amount.String()),
				observability.F("direction", string(job.direction)),
				observability.F("error", err.Error()))
		}
	}
}

type settleRequest struct {
	Account   string `json:"account"`
	Amount    string `json:"amount"`
	Direction string `json:"direction"`
}

func (b *HTTPBanker) post(ctx context.Context, job settleJob) error {
	payload, err := json.Marshal(settleRequest{
		Account:   job.account,
		Amount:    job.amount.String(),
		Direction: string(job.direction),
	})
	if err != nil {
		return errs.New("billing/http", errs.CodeCollaborator,
			errs.WithAccount(job.account), errs.WithCause(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errs.New("billing/http", errs.CodeCollaborator,
			errs.WithAccount(job.account), errs.WithCause(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return errs.New("billing/http", errs.CodeCollaborator,
			errs.WithAccount(job.account), errs.WithCause(err))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errs.New("billing/http", errs.CodeCollaborator,
			errs.WithAccount(job.account),
			errs.WithMessage(fmt.Sprintf("billing service returned %d", resp.StatusCode)))
	}
	return nil
}
