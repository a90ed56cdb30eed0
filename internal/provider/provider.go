// Package provider defines the contract every gateway driver satisfies and
// the shared authorize/settle workflow that wraps it. Drivers hold the
// gateway-specific knowledge (wire protocol, field names, error vocabulary);
// the workflow provides the uniform guarantees: failure translation, field
// matching, state stashing and log appends.
package provider

import (
	"context"
	"net/url"

	"github.com/yourorg/payment-gateway/internal/fieldmatch"
	"github.com/yourorg/payment-gateway/internal/record"
)

// Redirect method constants.
const (
	RedirectGet  = "GET"
	RedirectPost = "POST"
)

// Redirect describes how the caller must send the payer to the external
// gateway. GET is a plain redirect; POST means rendering an auto-submitting
// form with the given hidden fields, for gateways that only accept POST
// entry.
type Redirect struct {
	Method     string            `json:"method"`
	URL        string            `json:"url"`
	FormFields map[string]string `json:"form_fields,omitempty"`
}

// Authorization is the outcome of a driver's gateway authorization call.
type Authorization struct {
	ReferenceID string
	Token       string
	Redirect    Redirect
}

// Verification is the outcome of a driver's verify/confirm call. Match
// declares the record fields the gateway response must reproduce; the
// workflow enforces it.
type Verification struct {
	Settlement record.Settlement
	Match      fieldmatch.Spec
}

// Callback is the inbound gateway callback surface: the merged query and
// form fields of the HTTP request the gateway redirected the payer with.
type Callback struct {
	Values   url.Values
	ClientIP string
}

// Get returns the first value for key, or "".
func (c Callback) Get(key string) string {
	return c.Values.Get(key)
}

// Driver is the gateway-specific strategy a concrete adapter provides. The
// bound transaction travels as an argument, never as driver state, so one
// driver instance serves concurrent requests.
type Driver interface {
	// Name is the provider code stored on the transaction record.
	Name() string

	// Stateless reports whether callbacks are self-contained (signed or
	// token-bearing) and the session anti-replay check must be skipped.
	Stateless() bool

	// CallbackURL is the configured base URL the gateway redirects back
	// to. The workflow appends the correlation id and state token.
	CallbackURL() string

	// Purchase performs the gateway authorization call and returns the
	// gateway handles plus the redirect descriptor for the payer.
	Purchase(ctx context.Context, tx *record.Transaction, callbackURL string) (Authorization, error)

	// Verify performs the gateway verify/confirm call(s) for an inbound
	// callback and returns the settlement fields and the field-match
	// specification. Structural callback validation belongs here and must
	// fail with ErrInvalidRequest before any gateway call.
	Verify(ctx context.Context, tx *record.Transaction, cb Callback) (Verification, error)
}

// CustomParamer is an optional Driver extension declaring extra parameters
// to stash in the per-request state store at authorize time. They are
// expected back verbatim on the callback.
type CustomParamer interface {
	CustomParams(tx *record.Transaction) map[string]string
}
