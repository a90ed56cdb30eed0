// Package record defines the persisted Transaction Record, its append-only
// event log, and the store contract the orchestration engine requires from
// persistence. Records are created at authorization time and mutated only
// through the operations defined here; they are never deleted.
package record

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yourorg/payment-gateway/internal/amount"
)

// Status is the lifecycle state of a transaction record.
type Status string

const (
	StatusInit      Status = "INIT"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// LogEntry is one event in a record's append-only log.
type LogEntry struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Settlement carries the gateway-assigned fields written when a record
// transitions to SUCCEEDED.
type Settlement struct {
	TraceNumber string
	CardNumber  string // masked by the gateway
	RRN         string
	PaidAt      time.Time
}

// Transaction is one payment attempt. ID doubles as the correlation id
// round-tripped through the gateway callback.
type Transaction struct {
	ID          string         `json:"id"`
	Provider    string         `json:"provider"`
	Amount      amount.Amount  `json:"-"`
	OrderID     string         `json:"order_id"`
	Token       string         `json:"token,omitempty"`
	ReferenceID string         `json:"reference_id,omitempty"`
	TraceNumber string         `json:"trace_number,omitempty"`
	RRN         string         `json:"rrn,omitempty"`
	CardNumber  string         `json:"card_number,omitempty"`
	Status      Status         `json:"status"`
	Extra       map[string]any `json:"extra,omitempty"`
	Log         []LogEntry     `json:"log,omitempty"`
	ClientIP    string         `json:"client_ip,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	PaidAt      *time.Time     `json:"paid_at,omitempty"`
}

// NewID generates a record id. ULIDs keep ids unique and roughly ordered by
// creation time.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// New builds an INIT record for the given provider and amount.
func New(provider string, amt amount.Amount, orderID, clientIP string, extra map[string]any) *Transaction {
	if extra == nil {
		extra = make(map[string]any)
	}
	return &Transaction{
		ID:        NewID(),
		Provider:  provider,
		Amount:    amt,
		OrderID:   orderID,
		Status:    StatusInit,
		Extra:     extra,
		ClientIP:  clientIP,
		CreatedAt: time.Now(),
	}
}

// AppendLog adds an event to the record's log.
func (t *Transaction) AppendLog(code, message string) {
	t.Log = append(t.Log, LogEntry{Code: code, Message: message, Timestamp: time.Now()})
}

// Clone returns a deep copy, so callers can hand out snapshots without
// exposing the stored record to mutation.
func (t *Transaction) Clone() *Transaction {
	cp := *t
	if t.Extra != nil {
		cp.Extra = make(map[string]any, len(t.Extra))
		for k, v := range t.Extra {
			cp.Extra[k] = v
		}
	}
	if t.Log != nil {
		cp.Log = make([]LogEntry, len(t.Log))
		copy(cp.Log, t.Log)
	}
	if t.PaidAt != nil {
		paidAt := *t.PaidAt
		cp.PaidAt = &paidAt
	}
	return &cp
}
