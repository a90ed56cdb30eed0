package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/metrics"
	"github.com/yourorg/payment-gateway/internal/record"
	"github.com/yourorg/payment-gateway/internal/statestore"
)

// Callback query parameters appended to the redirect-out URL.
const (
	CallbackParamTransaction = "transaction_id"
	CallbackParamState       = "state"
)

// State-store keys. The correlation id is kept under a fixed session key;
// the anti-replay token and custom params are keyed per transaction.
const stateKeyTransaction = "payment:txn"

// TokenStateKey returns the state-store key holding the anti-replay token
// for a transaction.
func TokenStateKey(txID string) string {
	return "payment:state:" + txID
}

// CustomParamStateKey returns the state-store key for an adapter-declared
// custom parameter.
func CustomParamStateKey(txID, name string) string {
	return "payment:custom:" + txID + ":" + name
}

// TransactionStateKey is the session key the correlation id is stored under
// for non-stateless drivers.
func TransactionStateKey() string { return stateKeyTransaction }

// Workflow implements the authorize/settle flow shared by all drivers:
// record creation and terminal transitions, callback-URL construction,
// state stashing, exception translation and field matching. It replaces what
// a template-method base adapter would do, as a composable dependency.
type Workflow struct {
	store   record.Store
	states  statestore.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewWorkflow creates a Workflow. metrics may be nil.
func NewWorkflow(store record.Store, states statestore.Store, logger *zap.Logger, m *metrics.Metrics) *Workflow {
	if store == nil {
		panic("record store cannot be nil")
	}
	if states == nil {
		panic("state store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		store:   store,
		states:  states,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("provider"),
	}
}

// Authorize persists the INIT record, runs the driver's gateway
// authorization call and returns the redirect descriptor. On a gateway
// failure the record is marked FAILED with a log entry before the error is
// propagated.
func (w *Workflow) Authorize(ctx context.Context, drv Driver, tx *record.Transaction, scope string) (Redirect, error) {
	ctx, span := w.tracer.Start(ctx, "Workflow.Authorize")
	defer span.End()

	if err := w.store.Create(ctx, tx); err != nil {
		return Redirect{}, err
	}

	callbackURL, stateToken, err := w.buildCallbackURL(drv, tx)
	if err != nil {
		return Redirect{}, w.failAuthorize(ctx, drv, tx, err)
	}

	auth, err := drv.Purchase(ctx, tx, callbackURL)
	if err != nil {
		return Redirect{}, w.failAuthorize(ctx, drv, tx, err)
	}

	if err := w.store.UpdateReference(ctx, tx.ID, auth.ReferenceID, auth.Token); err != nil {
		return Redirect{}, err
	}
	tx.ReferenceID = auth.ReferenceID
	tx.Token = auth.Token

	if !drv.Stateless() {
		if err := w.states.Put(ctx, scope, stateKeyTransaction, tx.ID); err != nil {
			return Redirect{}, err
		}
		if err := w.states.Put(ctx, scope, TokenStateKey(tx.ID), stateToken); err != nil {
			return Redirect{}, err
		}
	}
	if cp, ok := drv.(CustomParamer); ok {
		for name, value := range cp.CustomParams(tx) {
			if err := w.states.Put(ctx, scope, CustomParamStateKey(tx.ID, name), value); err != nil {
				return Redirect{}, err
			}
		}
	}

	w.logger.Info("transaction authorized",
		zap.String("transaction_id", tx.ID),
		zap.String("provider", drv.Name()),
		zap.String("order_id", tx.OrderID),
		zap.String("reference_id", auth.ReferenceID))
	return auth.Redirect, nil
}

// Settle runs the driver's verify/confirm call for an inbound callback on an
// exclusively locked record, applies the field-match verification and
// commits the terminal status. A structurally invalid callback releases the
// lock without touching the record; everything else ends terminal.
func (w *Workflow) Settle(ctx context.Context, drv Driver, locked record.Locked, cb Callback) (*record.Transaction, error) {
	ctx, span := w.tracer.Start(ctx, "Workflow.Settle")
	defer span.End()

	tx := locked.Transaction()

	ver, err := drv.Verify(ctx, tx, cb)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			// Nothing was sent to the gateway and the record is intact;
			// the payer can still come back with a well-formed callback.
			_ = locked.Release(ctx)
			return nil, err
		}
		return nil, w.failSettle(ctx, drv, locked, tx, err)
	}

	if !ver.Match.Matches(tx) {
		mismatch := NewTransactionError(drv.Name(), CodeFieldMismatch, codeMessages)
		return nil, w.failSettle(ctx, drv, locked, tx, mismatch)
	}

	entry := record.LogEntry{
		Code:      "0",
		Message:   string(record.StatusSucceeded),
		Timestamp: time.Now(),
	}
	if err := locked.MarkSucceeded(ctx, ver.Settlement, entry); err != nil {
		return nil, err
	}

	tx.Status = record.StatusSucceeded
	tx.TraceNumber = ver.Settlement.TraceNumber
	tx.CardNumber = ver.Settlement.CardNumber
	tx.RRN = ver.Settlement.RRN
	paidAt := ver.Settlement.PaidAt
	tx.PaidAt = &paidAt
	tx.Log = append(tx.Log, entry)

	w.metrics.TransactionSettled(drv.Name(), string(record.StatusSucceeded))
	w.logger.Info("transaction settled",
		zap.String("transaction_id", tx.ID),
		zap.String("provider", drv.Name()),
		zap.String("trace_number", ver.Settlement.TraceNumber))
	return tx, nil
}

// Engine-level failure codes used when the gateway error carries none.
const (
	CodeFieldMismatch = "field_mismatch"
	CodeGatewayError  = "gateway_error"
	CodePolicyDenied  = "policy_denied"
)

var codeMessages = map[string]string{
	CodeFieldMismatch: "gateway response does not match the stored transaction",
	CodeGatewayError:  "gateway call failed",
	CodePolicyDenied:  "transaction rejected by provider policy",
}

// errorLogEntry translates any settle/authorize failure into the code and
// message appended to the record log.
func errorLogEntry(err error) record.LogEntry {
	code, message := CodeGatewayError, err.Error()
	if te, ok := AsTransactionError(err); ok {
		code, message = te.Code, te.Message
	}
	return record.LogEntry{Code: code, Message: message, Timestamp: time.Now()}
}

func (w *Workflow) failAuthorize(ctx context.Context, drv Driver, tx *record.Transaction, cause error) error {
	entry := errorLogEntry(cause)
	if err := w.store.MarkFailed(ctx, tx.ID, entry); err != nil {
		w.logger.Error("marking authorization failed", zap.String("transaction_id", tx.ID), zap.Error(err))
	}
	tx.Status = record.StatusFailed
	tx.Log = append(tx.Log, entry)
	w.metrics.TransactionSettled(drv.Name(), string(record.StatusFailed))
	w.logger.Warn("authorization failed",
		zap.String("transaction_id", tx.ID),
		zap.String("provider", drv.Name()),
		zap.Error(cause))
	return cause
}

func (w *Workflow) failSettle(ctx context.Context, drv Driver, locked record.Locked, tx *record.Transaction, cause error) error {
	entry := errorLogEntry(cause)
	if err := locked.MarkFailed(ctx, entry); err != nil {
		w.logger.Error("marking settlement failed", zap.String("transaction_id", tx.ID), zap.Error(err))
	}
	tx.Status = record.StatusFailed
	tx.Log = append(tx.Log, entry)
	w.metrics.TransactionSettled(drv.Name(), string(record.StatusFailed))
	w.logger.Warn("settlement failed",
		zap.String("transaction_id", tx.ID),
		zap.String("provider", drv.Name()),
		zap.Error(cause))
	return cause
}

// buildCallbackURL appends the correlation id and, for stateful drivers, a
// fresh anti-replay token to the driver's configured callback URL.
func (w *Workflow) buildCallbackURL(drv Driver, tx *record.Transaction) (string, string, error) {
	base, err := url.Parse(drv.CallbackURL())
	if err != nil {
		return "", "", fmt.Errorf("provider %s: callback url: %w", drv.Name(), err)
	}
	q := base.Query()
	q.Set(CallbackParamTransaction, tx.ID)

	var stateToken string
	if !drv.Stateless() {
		stateToken = uuid.NewString()
		q.Set(CallbackParamState, stateToken)
	}
	base.RawQuery = q.Encode()
	return base.String(), stateToken, nil
}
