// Package errs provides structured error types and helpers for the
// post-auction reconciliation services.
package errs

import (
	"sort"
	"strconv"
	"strings"
)

// Code identifies an error category within the reconciliation pipeline.
type Code string

const (
	// CodeConfig indicates invalid configuration, fatal at load/apply time.
	CodeConfig Code = "config"
	// CodeDuplicate indicates a repeated auction submission for a live identity.
	CodeDuplicate Code = "duplicate_auction"
	// CodeNotFound indicates a missing ledger or history entry.
	CodeNotFound Code = "not_found"
	// CodeInvalid indicates malformed or inconsistent input.
	CodeInvalid Code = "invalid_input"
	// CodeQueueFull indicates an intake queue rejected an enqueue.
	CodeQueueFull Code = "queue_full"
	// CodeCollaborator indicates a billing or delivery collaborator failure.
	CodeCollaborator Code = "collaborator"
	// CodeUnavailable indicates the engine is stopped or draining.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the stack.
type E struct {
	Component string
	Code      Code
	Message   string
	AuctionID string
	AdSpotID  string
	Account   string
	Fields    map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
		Message:   "",
		AuctionID: "",
		AdSpotID:  "",
		Account:   "",
		Fields:    nil,
		cause:     nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithAuction records the auction identity the error refers to.
func WithAuction(auctionID, adSpotID string) Option {
	return func(e *E) {
		e.AuctionID = strings.TrimSpace(auctionID)
		e.AdSpotID = strings.TrimSpace(adSpotID)
	}
}

// WithAccount records the account key the error refers to.
func WithAccount(account string) Option {
	trimmed := strings.TrimSpace(account)
	return func(e *E) {
		e.Account = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithField appends a single metadata key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		e.Fields[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.AuctionID != "" {
		parts = append(parts, "auction="+e.AuctionID)
	}
	if e.AdSpotID != "" {
		parts = append(parts, "spot="+e.AdSpotID)
	}
	if e.Account != "" {
		parts = append(parts, "account="+e.Account)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Fields[k]))
		}
		parts = append(parts, "fields="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// HasCode reports whether err or any error in its chain is an *E with the given code.
func HasCode(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*E); ok && e.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
