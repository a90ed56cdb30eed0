// Package orchestrator drives the transaction state machine: it turns an
// authorize request into an INIT record with a redirect descriptor, and an
// inbound gateway callback into exactly one terminal settlement. It owns the
// anti-replay and idempotency checks; everything gateway-specific is behind
// the provider registry.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/amount"
	"github.com/yourorg/payment-gateway/internal/policy"
	"github.com/yourorg/payment-gateway/internal/provider"
	"github.com/yourorg/payment-gateway/internal/record"
	"github.com/yourorg/payment-gateway/internal/statestore"
)

// AuthorizeRequest is the merchant application's request to start a payment.
type AuthorizeRequest struct {
	Provider string
	Amount   amount.Amount
	OrderID  string // generated when empty
	ClientIP string
	Extra    map[string]any
}

// AuthorizeResult carries the created record's identifiers and the redirect
// descriptor for the payer.
type AuthorizeResult struct {
	TransactionID string            `json:"transaction_id"`
	OrderID       string            `json:"order_id"`
	Redirect      provider.Redirect `json:"redirect"`
}

// CallbackRequest is the inbound gateway callback surface.
type CallbackRequest struct {
	// TransactionID is the correlation id taken from caller input. Only
	// trusted for stateless drivers; stateful flows resolve it from the
	// session state instead.
	TransactionID string
	// StateToken is the caller-supplied anti-replay token.
	StateToken string
	Callback   provider.Callback
}

// Manager coordinates the registry, the record store, the session state
// store and the shared provider workflow.
type Manager struct {
	registry *provider.Registry
	store    record.Store
	states   statestore.Store
	workflow *provider.Workflow
	enforcer *policy.Enforcer
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewManager creates a Manager. enforcer may be nil to disable the policy
// gate.
func NewManager(
	registry *provider.Registry,
	store record.Store,
	states statestore.Store,
	workflow *provider.Workflow,
	enforcer *policy.Enforcer,
	logger *zap.Logger,
) *Manager {
	if registry == nil {
		panic("registry cannot be nil")
	}
	if store == nil {
		panic("record store cannot be nil")
	}
	if states == nil {
		panic("state store cannot be nil")
	}
	if workflow == nil {
		panic("workflow cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		registry: registry,
		store:    store,
		states:   states,
		workflow: workflow,
		enforcer: enforcer,
		logger:   logger,
		tracer:   otel.Tracer("orchestrator"),
	}
}

// Authorize creates the transaction record and obtains the redirect
// descriptor from the provider. scope is the caller's session id.
func (m *Manager) Authorize(ctx context.Context, req AuthorizeRequest, scope string) (AuthorizeResult, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Authorize",
		trace.WithAttributes(attribute.String("payment.provider", req.Provider)))
	defer span.End()

	drv, err := m.registry.Resolve(req.Provider)
	if err != nil {
		return AuthorizeResult{}, err
	}
	if req.Amount.IsZero() {
		return AuthorizeResult{}, fmt.Errorf("%w: amount is required", provider.ErrInvalidRequest)
	}

	orderID := req.OrderID
	if orderID == "" {
		orderID = uuid.NewString()
	}
	tx := record.New(req.Provider, req.Amount, orderID, req.ClientIP, req.Extra)

	if m.enforcer != nil {
		decision, err := m.enforcer.Evaluate(req.Provider, req.Amount)
		if err != nil {
			return AuthorizeResult{}, err
		}
		if !decision.Allowed {
			// The denial is still part of the audit trail, so the record
			// is persisted before it is failed.
			if err := m.store.Create(ctx, tx); err != nil {
				return AuthorizeResult{}, err
			}
			entry := record.LogEntry{
				Code:      provider.CodePolicyDenied,
				Message:   fmt.Sprintf("denied by policy rule %q", decision.Rule),
				Timestamp: time.Now(),
			}
			if err := m.store.MarkFailed(ctx, tx.ID, entry); err != nil {
				return AuthorizeResult{}, err
			}
			return AuthorizeResult{}, &provider.TransactionError{
				Provider: req.Provider,
				Code:     provider.CodePolicyDenied,
				Message:  entry.Message,
			}
		}
	}

	redirect, err := m.workflow.Authorize(ctx, drv, tx, scope)
	if err != nil {
		return AuthorizeResult{}, err
	}
	return AuthorizeResult{TransactionID: tx.ID, OrderID: tx.OrderID, Redirect: redirect}, nil
}

// Settle finalizes a transaction from an inbound gateway callback. The
// pipeline: resolve the correlation id, enforce the single-use anti-replay
// token, load the record under an exclusive lock, reject already-settled
// records, then dispatch to the provider recorded at authorization time.
func (m *Manager) Settle(ctx context.Context, req CallbackRequest, scope string) (*record.Transaction, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Settle")
	defer span.End()

	// Correlation id from the restored session state when present;
	// caller input only serves stateless drivers.
	txID, err := m.states.Pull(ctx, scope, provider.TransactionStateKey())
	if err != nil {
		return nil, err
	}
	fromSession := txID != ""
	if !fromSession {
		txID = req.TransactionID
	}
	if txID == "" {
		return nil, fmt.Errorf("%w: no transaction reference in callback", provider.ErrInvalidRequest)
	}
	span.SetAttributes(attribute.String("payment.transaction_id", txID))

	if fromSession {
		// Single use: the expected token is consumed whether or not the
		// comparison passes.
		expected, err := m.states.Pull(ctx, scope, provider.TokenStateKey(txID))
		if err != nil {
			return nil, err
		}
		if expected == "" || expected != req.StateToken {
			return nil, fmt.Errorf("%w: state token missing or mismatched", provider.ErrInvalidState)
		}
	}

	locked, err := m.store.FindForUpdate(ctx, txID)
	if err != nil {
		return nil, err
	}
	tx := locked.Transaction()

	if tx.Status.Terminal() {
		// The loser of a concurrent race lands here too: by the time it
		// acquires the lock the winner has already committed.
		_ = locked.Release(ctx)
		return nil, fmt.Errorf("%w: transaction %s is %s", provider.ErrRetry, tx.ID, tx.Status)
	}

	drv, err := m.registry.Resolve(tx.Provider)
	if err != nil {
		_ = locked.Release(ctx)
		return nil, err
	}
	if !drv.Stateless() && !fromSession {
		// A stateful driver's callback without restored session state is
		// a replay or a session mix-up; the remote verify must not run.
		_ = locked.Release(ctx)
		return nil, fmt.Errorf("%w: no session state for stateful provider %s", provider.ErrInvalidState, tx.Provider)
	}

	settled, err := m.workflow.Settle(ctx, drv, locked, req.Callback)
	if err != nil {
		return nil, err
	}
	return settled, nil
}

// Find returns a snapshot of a transaction record.
func (m *Manager) Find(ctx context.Context, id string) (*record.Transaction, error) {
	return m.store.Find(ctx, id)
}

// Kind classifies an error from Authorize or Settle into the user-visible
// taxonomy so callers can render distinct behavior per kind.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidRequest
	KindInvalidState
	KindNotFound
	KindRetry
	KindTransaction
	KindProviderNotFound
)

// Classify maps an error to its Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, provider.ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, provider.ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, record.ErrNotFound):
		return KindNotFound
	case errors.Is(err, provider.ErrRetry):
		return KindRetry
	case errors.Is(err, provider.ErrProviderNotFound):
		return KindProviderNotFound
	default:
		if _, ok := provider.AsTransactionError(err); ok {
			return KindTransaction
		}
		return KindInternal
	}
}
