package agents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/bidwire/postauction/errs"
	"github.com/bidwire/postauction/internal/observability"
)

// WSConfig tunes the websocket delivery transport.
type WSConfig struct {
	DialTimeout time.Duration
	// WriteRate and WriteBurst bound outbound message rate per agent so a
	// hot account cannot monopolize a shared delivery worker.
	WriteRate  float64
	WriteBurst int
}

func (c WSConfig) normalize() WSConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteRate <= 0 {
		c.WriteRate = 500
	}
	if c.WriteBurst <= 0 {
		c.WriteBurst = 100
	}
	return c
}

// WSTransport delivers outcome messages to agents over websocket, keeping
// one connection per address with exponential-backoff redial. Agents are
// allowed to be offline; a failed delivery is reported, never retried with
// the message held.
type WSTransport struct {
	cfg WSConfig
	log observability.Logger

	mu    sync.Mutex
	conns map[Address]*agentConn
}

type agentConn struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	limiter *rate.Limiter
	backoff *backoff.ExponentialBackOff
	nextTry time.Time
}

// NewWSTransport constructs a websocket transport.
func NewWSTransport(cfg WSConfig, log observability.Logger) *WSTransport {
	if log == nil {
		log = observability.Nop()
	}
	return &WSTransport{
		cfg:   cfg.normalize(),
		log:   log,
		conns: make(map[Address]*agentConn),
	}
}

// Deliver implements Transport. The send is rate-limited per agent; a dead
// connection is dropped and redialled no sooner than its backoff allows.
func (t *WSTransport) Deliver(ctx context.Context, addr Address, message []byte) error {
	ac := t.acquire(addr)
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if !ac.limiter.Allow() {
		return errs.New("agents/ws", errs.CodeCollaborator,
			errs.WithField("address", string(addr)),
			errs.WithMessage("delivery rate exceeded for agent"))
	}

	if ac.conn == nil {
		if err := t.dial(ctx, addr, ac); err != nil {
			return err
		}
	}

	writeCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()
	if err := ac.conn.Write(writeCtx, websocket.MessageText, message); err != nil {
		_ = ac.conn.Close(websocket.StatusAbnormalClosure, "write failed")
		ac.conn = nil
		ac.nextTry = time.Now().Add(ac.backoff.NextBackOff())
		return errs.New("agents/ws", errs.CodeCollaborator,
			errs.WithField("address", string(addr)),
			errs.WithMessage("write to agent failed"),
			errs.WithCause(err))
	}
	return nil
}

// Close tears down every live connection.
func (t *WSTransport) Close() {
	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[Address]*agentConn)
	t.mu.Unlock()
	for _, ac := range conns {
		ac.mu.Lock()
		if ac.conn != nil {
			_ = ac.conn.Close(websocket.StatusNormalClosure, "shutdown")
			ac.conn = nil
		}
		ac.mu.Unlock()
	}
}

func (t *WSTransport) acquire(addr Address) *agentConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	ac, ok := t.conns[addr]
	if !ok {
		ac = &agentConn{
			limiter: rate.NewLimiter(rate.Limit(t.cfg.WriteRate), t.cfg.WriteBurst),
			backoff: backoff.NewExponentialBackOff(),
		}
		t.conns[addr] = ac
	}
	return ac
}

// dial respects the per-agent backoff window: while an agent stays down,
// deliveries fail fast instead of paying the dial timeout each time.
func (t *WSTransport) dial(ctx context.Context, addr Address, ac *agentConn) error {
	now := time.Now()
	if now.Before(ac.nextTry) {
		return errs.New("agents/ws", errs.CodeCollaborator,
			errs.WithField("address", string(addr)),
			errs.WithMessage("agent offline, redial backoff in effect"))
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, string(addr), nil)
	if err != nil {
		ac.nextTry = now.Add(ac.backoff.NextBackOff())
		return errs.New("agents/ws", errs.CodeCollaborator,
			errs.WithField("address", string(addr)),
			errs.WithMessage(fmt.Sprintf("dial %s failed", addr)),
			errs.WithCause(err))
	}
	ac.conn = conn
	ac.backoff.Reset()
	ac.nextTry = time.Time{}
	t.log.Debug("agent connection established", observability.F("address", string(addr)))
	return nil
}
