// Package mellat implements the gateway driver for a Mellat-style bank
// gateway: POST-entry redirect with a RefId form field, and a
// verify-then-settle confirmation sequence on the callback. Amounts are
// charged in rial.
package mellat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/amount"
	"github.com/yourorg/payment-gateway/internal/fieldmatch"
	"github.com/yourorg/payment-gateway/internal/invoker"
	"github.com/yourorg/payment-gateway/internal/metrics"
	"github.com/yourorg/payment-gateway/internal/provider"
	"github.com/yourorg/payment-gateway/internal/record"
)

// Callback field names used by the gateway.
const (
	fieldResCode         = "ResCode"
	fieldRefID           = "RefId"
	fieldSaleReferenceID = "SaleReferenceId"
	fieldCardHolderPan   = "CardHolderPan"
	fieldAmount          = "Amount"
)

const okCode = "0"

// codeMessages maps the gateway's response codes to readable messages.
// Untranslated codes fall back to the raw code.
var codeMessages = map[string]string{
	"11":  "card number is invalid",
	"12":  "insufficient funds",
	"13":  "password is incorrect",
	"14":  "maximum pin tries exceeded",
	"15":  "card is invalid",
	"17":  "payer cancelled the transaction",
	"18":  "card has expired",
	"25":  "amount is invalid",
	"34":  "system error",
	"41":  "order id is duplicated",
	"43":  "verify has already been requested",
	"45":  "transaction already settled",
	"48":  "transaction already reversed",
	"55":  "transaction not found",
	"61":  "transfer error",
	"415": "session has timed out",
	"417": "payer id is invalid",

	"amount_mismatch": "gateway-confirmed amount does not match the transaction",
}

// Config holds the gateway credentials and endpoints.
type Config struct {
	TerminalID  string
	Username    string
	Password    string
	Endpoint    string // base URL of the pseudo-SOAP payment service
	PaymentURL  string // where the payer's browser is POSTed to
	CallbackURL string
}

// Driver is the Mellat-style gateway driver. Stateful: settlement relies on
// the session anti-replay token.
type Driver struct {
	cfg     Config
	client  *http.Client
	invoker *invoker.Invoker
	store   record.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates the driver. The record store feeds the advisory trace-number
// duplicate check; metrics may be nil.
func New(cfg Config, client *http.Client, inv *invoker.Invoker, store record.Store, m *metrics.Metrics, logger *zap.Logger) *Driver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{cfg: cfg, client: client, invoker: inv, store: store, metrics: m, logger: logger}
}

func (d *Driver) Name() string        { return "mellat" }
func (d *Driver) Stateless() bool     { return false }
func (d *Driver) CallbackURL() string { return d.cfg.CallbackURL }

// Purchase runs bpPayRequest and returns the RefId-bearing POST redirect.
func (d *Driver) Purchase(ctx context.Context, tx *record.Transaction, callbackURL string) (provider.Authorization, error) {
	rial, err := tx.Amount.ToRial()
	if err != nil {
		return provider.Authorization{}, fmt.Errorf("mellat: %w", err)
	}

	now := time.Now()
	fields, err := d.call(ctx, "bpPayRequest", url.Values{
		"terminalId":   {d.cfg.TerminalID},
		"userName":     {d.cfg.Username},
		"userPassword": {d.cfg.Password},
		"orderId":      {tx.OrderID},
		"amount":       {rial.Total().String()},
		"localDate":    {now.Format("20060102")},
		"localTime":    {now.Format("150405")},
		"callBackUrl":  {callbackURL},
	})
	if err != nil {
		return provider.Authorization{}, err
	}
	if fields[0] != okCode {
		return provider.Authorization{}, provider.NewTransactionError(d.Name(), fields[0], codeMessages)
	}
	if len(fields) < 2 || fields[1] == "" {
		return provider.Authorization{}, fmt.Errorf("mellat: bpPayRequest returned no RefId")
	}

	refID := fields[1]
	return provider.Authorization{
		ReferenceID: refID,
		Token:       refID,
		Redirect: provider.Redirect{
			Method:     provider.RedirectPost,
			URL:        d.cfg.PaymentURL,
			FormFields: map[string]string{"RefId": refID},
		},
	}, nil
}

// Verify validates the callback, confirms the payment with bpVerifyRequest
// and finalizes it with bpSettleRequest.
func (d *Driver) Verify(ctx context.Context, tx *record.Transaction, cb provider.Callback) (provider.Verification, error) {
	resCode := cb.Get(fieldResCode)
	refID := cb.Get(fieldRefID)
	saleReferenceID := cb.Get(fieldSaleReferenceID)
	if resCode == "" || refID == "" {
		return provider.Verification{}, fmt.Errorf("%w: ResCode and RefId are required", provider.ErrInvalidRequest)
	}
	if resCode != okCode {
		return provider.Verification{}, provider.NewTransactionError(d.Name(), resCode, codeMessages)
	}
	if saleReferenceID == "" {
		return provider.Verification{}, fmt.Errorf("%w: SaleReferenceId is required", provider.ErrInvalidRequest)
	}

	// The gateway echoes the charged amount in rial; a disagreement with the
	// record triggers a compensating reversal before the error surfaces.
	// This stays adapter-local, not part of the generic contract.
	match := fieldmatch.Spec{}.WithToken(refID)
	if echoed := cb.Get(fieldAmount); echoed != "" {
		echoedAmt, err := parseRial(echoed)
		if err != nil {
			return provider.Verification{}, fmt.Errorf("%w: Amount is malformed", provider.ErrInvalidRequest)
		}
		if !echoedAmt.Equal(tx.Amount) {
			d.reverse(ctx, tx, saleReferenceID)
			return provider.Verification{}, provider.NewTransactionError(d.Name(), "amount_mismatch", codeMessages)
		}
		match = match.WithAmount(echoedAmt)
	}

	verifyArgs := url.Values{
		"terminalId":      {d.cfg.TerminalID},
		"userName":        {d.cfg.Username},
		"userPassword":    {d.cfg.Password},
		"orderId":         {tx.OrderID},
		"saleOrderId":     {tx.OrderID},
		"saleReferenceId": {saleReferenceID},
	}
	fields, err := d.call(ctx, "bpVerifyRequest", verifyArgs)
	if err != nil {
		return provider.Verification{}, err
	}
	if fields[0] != okCode {
		return provider.Verification{}, provider.NewTransactionError(d.Name(), fields[0], codeMessages)
	}

	fields, err = d.call(ctx, "bpSettleRequest", verifyArgs)
	if err != nil {
		return provider.Verification{}, err
	}
	// 45 means the gateway already settled this sale reference; the money
	// moved, so it is not a failure here.
	if fields[0] != okCode && fields[0] != "45" {
		return provider.Verification{}, provider.NewTransactionError(d.Name(), fields[0], codeMessages)
	}

	if d.store != nil {
		duplicate, err := d.store.HasTraceNumber(ctx, saleReferenceID)
		if err != nil {
			d.logger.Error("trace number lookup failed", zap.Error(err))
		} else if duplicate {
			d.logger.Warn("duplicate trace number observed",
				zap.String("transaction_id", tx.ID),
				zap.String("trace_number", saleReferenceID))
		}
	}

	return provider.Verification{
		Settlement: record.Settlement{
			TraceNumber: saleReferenceID,
			CardNumber:  cb.Get(fieldCardHolderPan),
			RRN:         cb.Get(fieldRefID),
			PaidAt:      time.Now(),
		},
		Match: match,
	}, nil
}

// parseRial parses a gateway amount string into an IRR Amount.
func parseRial(s string) (amount.Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return amount.Amount{}, err
	}
	return amount.New(d, amount.CurrencyIRR)
}

// reverse issues a best-effort bpReversalRequest; failures are only logged
// since the caller is already on an error path.
func (d *Driver) reverse(ctx context.Context, tx *record.Transaction, saleReferenceID string) {
	_, err := d.call(ctx, "bpReversalRequest", url.Values{
		"terminalId":      {d.cfg.TerminalID},
		"userName":        {d.cfg.Username},
		"userPassword":    {d.cfg.Password},
		"orderId":         {tx.OrderID},
		"saleOrderId":     {tx.OrderID},
		"saleReferenceId": {saleReferenceID},
	})
	if err != nil {
		d.logger.Error("reversal request failed",
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
	}
}

// call POSTs one gateway operation through the resilient invoker and splits
// the comma-separated response. Connection-level problems are transport
// faults; anything parseable is handed back for business interpretation.
func (d *Driver) call(ctx context.Context, op string, args url.Values) ([]string, error) {
	endpoint := strings.TrimRight(d.cfg.Endpoint, "/") + "/" + op

	var fields []string
	start := time.Now()
	err := d.invoker.Invoke(ctx, endpoint, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(args.Encode()))
		if err != nil {
			return fmt.Errorf("mellat: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := d.client.Do(req)
		if err != nil {
			return invoker.Transport(fmt.Errorf("mellat: %s: %w", op, err))
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return invoker.Transport(fmt.Errorf("mellat: read %s response: %w", op, err))
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return invoker.Transport(fmt.Errorf("mellat: %s returned HTTP %d", op, resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("mellat: %s returned HTTP %d: %s", op, resp.StatusCode, string(body))
		}

		fields = strings.Split(strings.TrimSpace(string(body)), ",")
		if len(fields) == 0 || fields[0] == "" {
			return fmt.Errorf("mellat: %s returned an empty response", op)
		}
		return nil
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	d.metrics.GatewayCall(endpoint, outcome, time.Since(start).Seconds())
	return fields, err
}
