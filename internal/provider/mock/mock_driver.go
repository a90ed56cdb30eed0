// Package mock provides a scriptable Driver implementation for tests.
package mock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/payment-gateway/internal/provider"
	"github.com/yourorg/payment-gateway/internal/record"
)

// Driver is a mock gateway driver. Unset funcs fall back to a successful
// default behavior.
type Driver struct {
	ProviderName  string
	StatelessMode bool
	Callback      string

	PurchaseFunc     func(ctx context.Context, tx *record.Transaction, callbackURL string) (provider.Authorization, error)
	VerifyFunc       func(ctx context.Context, tx *record.Transaction, cb provider.Callback) (provider.Verification, error)
	CustomParamsFunc func(tx *record.Transaction) map[string]string
}

// New creates a mock driver with a default callback URL.
func New(name string) *Driver {
	return &Driver{ProviderName: name, Callback: "https://merchant.example/payments/callback"}
}

func (d *Driver) Name() string        { return d.ProviderName }
func (d *Driver) Stateless() bool     { return d.StatelessMode }
func (d *Driver) CallbackURL() string { return d.Callback }

func (d *Driver) Purchase(ctx context.Context, tx *record.Transaction, callbackURL string) (provider.Authorization, error) {
	if d.PurchaseFunc != nil {
		return d.PurchaseFunc(ctx, tx, callbackURL)
	}
	return provider.Authorization{
		ReferenceID: "ref-" + uuid.NewString(),
		Token:       "tok-" + uuid.NewString(),
		Redirect: provider.Redirect{
			Method: provider.RedirectGet,
			URL:    "https://gateway.example/pay?tx=" + tx.ID,
		},
	}, nil
}

func (d *Driver) Verify(ctx context.Context, tx *record.Transaction, cb provider.Callback) (provider.Verification, error) {
	if d.VerifyFunc != nil {
		return d.VerifyFunc(ctx, tx, cb)
	}
	return provider.Verification{
		Settlement: record.Settlement{
			TraceNumber: "trace-" + uuid.NewString(),
			CardNumber:  "6104****0000",
			RRN:         "rrn-" + uuid.NewString(),
			PaidAt:      time.Now(),
		},
	}, nil
}

func (d *Driver) CustomParams(tx *record.Transaction) map[string]string {
	if d.CustomParamsFunc != nil {
		return d.CustomParamsFunc(tx)
	}
	return nil
}
