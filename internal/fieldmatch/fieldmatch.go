// Package fieldmatch implements the declarative anti-tampering check that
// compares fields claimed by a callback or gateway response against the
// stored transaction record. Adapters declare only the fields they want
// verified; an empty specification always matches.
package fieldmatch

import (
	"github.com/yourorg/payment-gateway/internal/amount"
	"github.com/yourorg/payment-gateway/internal/record"
)

// Spec is an optional subset of record fields to verify. Nil fields are
// skipped.
type Spec struct {
	OrderID     *string
	ReferenceID *string
	Token       *string
	Amount      *amount.Amount
}

// WithOrderID declares an order-id check.
func (s Spec) WithOrderID(v string) Spec {
	s.OrderID = &v
	return s
}

// WithReferenceID declares a reference-id check.
func (s Spec) WithReferenceID(v string) Spec {
	s.ReferenceID = &v
	return s
}

// WithToken declares a token check.
func (s Spec) WithToken(v string) Spec {
	s.Token = &v
	return s
}

// WithAmount declares an amount check, verified with the Amount equality
// contract.
func (s Spec) WithAmount(v amount.Amount) Spec {
	s.Amount = &v
	return s
}

// Matches walks the declared fields in a fixed order (order id, reference id,
// token, amount) and reports whether all of them equal the record's values.
// The first mismatch short-circuits.
func (s Spec) Matches(tx *record.Transaction) bool {
	if s.OrderID != nil && *s.OrderID != tx.OrderID {
		return false
	}
	if s.ReferenceID != nil && *s.ReferenceID != tx.ReferenceID {
		return false
	}
	if s.Token != nil && *s.Token != tx.Token {
		return false
	}
	if s.Amount != nil && !s.Amount.Equal(tx.Amount) {
		return false
	}
	return true
}
