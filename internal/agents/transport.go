package agents

import (
	"context"
	"sync"
)

// Transport delivers an outcome message to an agent. Delivery is
// best-effort: the caller consumes no return value for correctness, only
// for diagnostics.
type Transport interface {
	Deliver(ctx context.Context, addr Address, message []byte) error
}

// Delivery is one recorded transport call.
type Delivery struct {
	Addr    Address
	Message []byte
}

// Recorder is a transport test double capturing every delivery.
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
	fail       error
}

// NewRecorder constructs an empty recording transport.
func NewRecorder() *Recorder { return &Recorder{} }

// FailWith makes every subsequent Deliver return err (nil restores success).
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.fail = err
	r.mu.Unlock()
}

// Deliver implements Transport.
func (r *Recorder) Deliver(_ context.Context, addr Address, message []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	copied := make([]byte, len(message))
	copy(copied, message)
	r.deliveries = append(r.deliveries, Delivery{Addr: addr, Message: copied})
	return nil
}

// Deliveries returns a copy of everything delivered so far.
func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Delivery, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}
