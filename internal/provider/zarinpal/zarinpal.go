// Package zarinpal implements the gateway driver for a ZarinPal-style REST
// gateway. The gateway assigns an opaque authority token at purchase time
// and round-trips it in the callback, so the driver runs stateless: the
// authority itself re-associates the callback instead of a session token.
package zarinpal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/fieldmatch"
	"github.com/yourorg/payment-gateway/internal/invoker"
	"github.com/yourorg/payment-gateway/internal/metrics"
	"github.com/yourorg/payment-gateway/internal/provider"
	"github.com/yourorg/payment-gateway/internal/record"
)

// Callback field names used by the gateway.
const (
	fieldAuthority = "Authority"
	fieldStatus    = "Status"
)

const (
	codeVerified        = 100
	codeAlreadyVerified = 101
)

var codeMessages = map[string]string{
	"-9":  "validation error",
	"-10": "terminal is not valid",
	"-11": "terminal is not active",
	"-12": "too many attempts",
	"-15": "terminal is suspended",
	"-16": "terminal level is not sufficient",
	"-33": "amount does not match the payment",
	"-34": "transaction splitting limit reached",
	"-40": "invalid extra params",
	"-50": "refund amount mismatch",
	"-51": "payment unsuccessful",
	"-53": "payment does not belong to this authority",
	"-54": "authority is invalid",

	"NOK": "payer cancelled or the payment failed",
}

// Config holds the merchant credentials and endpoints.
type Config struct {
	MerchantID  string
	Endpoint    string // REST API base URL
	PaymentURL  string // browser redirect base; the authority is appended
	CallbackURL string
	Description string
}

// Driver is the ZarinPal-style gateway driver.
type Driver struct {
	cfg     Config
	client  *http.Client
	invoker *invoker.Invoker
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates the driver. metrics may be nil.
func New(cfg Config, client *http.Client, inv *invoker.Invoker, m *metrics.Metrics, logger *zap.Logger) *Driver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{cfg: cfg, client: client, invoker: inv, metrics: m, logger: logger}
}

func (d *Driver) Name() string        { return "zarinpal" }
func (d *Driver) Stateless() bool     { return true }
func (d *Driver) CallbackURL() string { return d.cfg.CallbackURL }

type requestPayload struct {
	MerchantID  string `json:"merchant_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	CallbackURL string `json:"callback_url"`
	Description string `json:"description"`
}

type verifyPayload struct {
	MerchantID string `json:"merchant_id"`
	Amount     string `json:"amount"`
	Authority  string `json:"authority"`
}

type gatewayResponse struct {
	Data struct {
		Code      int    `json:"code"`
		Authority string `json:"authority"`
		RefID     int64  `json:"ref_id"`
		CardPan   string `json:"card_pan"`
	} `json:"data"`
	Errors struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Purchase requests an authority token and returns a GET redirect to the
// payment page.
func (d *Driver) Purchase(ctx context.Context, tx *record.Transaction, callbackURL string) (provider.Authorization, error) {
	resp, err := d.call(ctx, "request", requestPayload{
		MerchantID:  d.cfg.MerchantID,
		Amount:      tx.Amount.Total().String(),
		Currency:    tx.Amount.Currency(),
		CallbackURL: callbackURL,
		Description: d.cfg.Description,
	})
	if err != nil {
		return provider.Authorization{}, err
	}
	if resp.Data.Code != codeVerified || resp.Data.Authority == "" {
		return provider.Authorization{}, d.gatewayError(resp)
	}

	return provider.Authorization{
		ReferenceID: resp.Data.Authority,
		Token:       resp.Data.Authority,
		Redirect: provider.Redirect{
			Method: provider.RedirectGet,
			URL:    strings.TrimRight(d.cfg.PaymentURL, "/") + "/" + resp.Data.Authority,
		},
	}, nil
}

// Verify confirms the payment for the callback's authority token.
func (d *Driver) Verify(ctx context.Context, tx *record.Transaction, cb provider.Callback) (provider.Verification, error) {
	authority := cb.Get(fieldAuthority)
	status := cb.Get(fieldStatus)
	if authority == "" || status == "" {
		return provider.Verification{}, fmt.Errorf("%w: Authority and Status are required", provider.ErrInvalidRequest)
	}
	if status != "OK" {
		return provider.Verification{}, provider.NewTransactionError(d.Name(), status, codeMessages)
	}

	resp, err := d.call(ctx, "verify", verifyPayload{
		MerchantID: d.cfg.MerchantID,
		Amount:     tx.Amount.Total().String(),
		Authority:  authority,
	})
	if err != nil {
		return provider.Verification{}, err
	}
	if resp.Data.Code != codeVerified && resp.Data.Code != codeAlreadyVerified {
		return provider.Verification{}, d.gatewayError(resp)
	}

	refID := strconv.FormatInt(resp.Data.RefID, 10)
	return provider.Verification{
		Settlement: record.Settlement{
			TraceNumber: refID,
			CardNumber:  resp.Data.CardPan,
			RRN:         refID,
			PaidAt:      time.Now(),
		},
		Match: fieldmatch.Spec{}.WithToken(authority).WithReferenceID(authority),
	}, nil
}

func (d *Driver) gatewayError(resp *gatewayResponse) error {
	code := resp.Errors.Code
	if code == 0 {
		code = resp.Data.Code
	}
	return provider.NewTransactionError(d.Name(), strconv.Itoa(code), codeMessages)
}

// call POSTs one JSON operation through the resilient invoker.
func (d *Driver) call(ctx context.Context, op string, payload any) (*gatewayResponse, error) {
	endpoint := strings.TrimRight(d.cfg.Endpoint, "/") + "/" + op + ".json"

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("zarinpal: marshal %s payload: %w", op, err)
	}

	var out gatewayResponse
	start := time.Now()
	err = d.invoker.Invoke(ctx, endpoint, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("zarinpal: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return invoker.Transport(fmt.Errorf("zarinpal: %s: %w", op, err))
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return invoker.Transport(fmt.Errorf("zarinpal: read %s response: %w", op, err))
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return invoker.Transport(fmt.Errorf("zarinpal: %s returned HTTP %d", op, resp.StatusCode))
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("zarinpal: decode %s response: %w", op, err)
		}
		return nil
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	d.metrics.GatewayCall(endpoint, outcome, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return &out, nil
}
