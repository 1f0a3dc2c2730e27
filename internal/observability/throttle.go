package observability

import (
	"sync"

	"golang.org/x/time/rate"
)

// Throttled wraps a logger with a token-bucket limiter so steady-state
// diagnostic floods (unmatched events, queue drops) cannot saturate the log
// sink. Suppressed records are counted and surfaced on the next admitted one.
type Throttled struct {
	base    Logger
	limiter *rate.Limiter

	mu         sync.Mutex
	suppressed int
}

// NewThrottled constructs a throttled logger admitting at most perSecond
// records with the given burst. A nil base falls back to the nop logger.
func NewThrottled(base Logger, perSecond float64, burst int) *Throttled {
	if base == nil {
		base = Nop()
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{
		base:    base,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Debug is never throttled; debug sinks are opt-in already.
func (t *Throttled) Debug(msg string, fields ...Field) { t.base.Debug(msg, fields...) }

// Info emits the record if the limiter admits it.
func (t *Throttled) Info(msg string, fields ...Field) {
	if !t.admit() {
		return
	}
	t.emit(func(f []Field) { t.base.Info(msg, f...) }, fields)
}

// Error emits the record if the limiter admits it.
func (t *Throttled) Error(msg string, fields ...Field) {
	if !t.admit() {
		return
	}
	t.emit(func(f []Field) { t.base.Error(msg, f...) }, fields)
}

func (t *Throttled) admit() bool {
	if t.limiter.Allow() {
		return true
	}
	t.mu.Lock()
	t.suppressed++
	t.mu.Unlock()
	return false
}

func (t *Throttled) emit(log func([]Field), fields []Field) {
	t.mu.Lock()
	dropped := t.suppressed
	t.suppressed = 0
	t.mu.Unlock()
	if dropped > 0 {
		fields = append(fields, Field{Key: "suppressed_since_last", Value: dropped})
	}
	log(fields)
}
