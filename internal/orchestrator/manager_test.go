package orchestrator_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-gateway/internal/amount"
	"github.com/yourorg/payment-gateway/internal/orchestrator"
	"github.com/yourorg/payment-gateway/internal/policy"
	"github.com/yourorg/payment-gateway/internal/provider"
	"github.com/yourorg/payment-gateway/internal/provider/mock"
	"github.com/yourorg/payment-gateway/internal/record"
	"github.com/yourorg/payment-gateway/internal/statestore"
)

type fixture struct {
	manager *orchestrator.Manager
	store   *record.MemoryStore
	states  *statestore.MemoryStore
	driver  *mock.Driver
}

func newFixture(t *testing.T, enforcer *policy.Enforcer) *fixture {
	t.Helper()
	store := record.NewMemoryStore()
	states := statestore.NewMemoryStore()
	driver := mock.New("mock")
	workflow := provider.NewWorkflow(store, states, nil, nil)
	manager := orchestrator.NewManager(provider.NewRegistry(driver), store, states, workflow, enforcer, nil)
	return &fixture{manager: manager, store: store, states: states, driver: driver}
}

// authorize runs a full authorization and returns the result plus the state
// token that the callback URL carried.
func (f *fixture) authorize(t *testing.T, ctx context.Context, scope string) (orchestrator.AuthorizeResult, string) {
	t.Helper()
	var stateToken string
	base := f.driver.PurchaseFunc
	f.driver.PurchaseFunc = func(c context.Context, tx *record.Transaction, callbackURL string) (provider.Authorization, error) {
		parsed, err := url.Parse(callbackURL)
		require.NoError(t, err)
		stateToken = parsed.Query().Get(provider.CallbackParamState)
		if base != nil {
			return base(c, tx, callbackURL)
		}
		return provider.Authorization{
			ReferenceID: "ref-1", Token: "tok-1",
			Redirect: provider.Redirect{Method: provider.RedirectGet, URL: "https://gateway.example/pay"},
		}, nil
	}

	res, err := f.manager.Authorize(ctx, orchestrator.AuthorizeRequest{
		Provider: "mock",
		Amount:   amount.MustParse("100000", amount.CurrencyIRT),
	}, scope)
	require.NoError(t, err)
	return res, stateToken
}

func TestManager_Authorize(t *testing.T) {
	ctx := context.Background()

	t.Run("creates INIT record and returns redirect", func(t *testing.T) {
		f := newFixture(t, nil)
		res, _ := f.authorize(t, ctx, "sess-1")

		assert.NotEmpty(t, res.TransactionID)
		assert.NotEmpty(t, res.OrderID)
		assert.NotEmpty(t, res.Redirect.URL)

		stored, err := f.store.Find(ctx, res.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, record.StatusInit, stored.Status)
	})

	t.Run("unknown provider", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.manager.Authorize(ctx, orchestrator.AuthorizeRequest{
			Provider: "nope",
			Amount:   amount.MustParse("10", amount.CurrencyIRR),
		}, "sess-1")
		assert.ErrorIs(t, err, provider.ErrProviderNotFound)
	})

	t.Run("zero amount is an invalid request", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.manager.Authorize(ctx, orchestrator.AuthorizeRequest{Provider: "mock"}, "sess-1")
		assert.ErrorIs(t, err, provider.ErrInvalidRequest)
	})

	t.Run("policy denial leaves a FAILED audit record", func(t *testing.T) {
		enforcer, err := policy.NewEnforcer(map[string][]policy.Rule{
			"mock": {{Name: "MaxAmount", Expression: "amount <= 100"}},
		})
		require.NoError(t, err)
		f := newFixture(t, enforcer)

		_, err = f.manager.Authorize(ctx, orchestrator.AuthorizeRequest{
			Provider: "mock",
			Amount:   amount.MustParse("5000", amount.CurrencyIRR),
			OrderID:  "order-9",
		}, "sess-1")
		require.Error(t, err)
		te, ok := provider.AsTransactionError(err)
		require.True(t, ok)
		assert.Equal(t, provider.CodePolicyDenied, te.Code)

		all, err := f.store.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, record.StatusFailed, all[0].Status)
		require.Len(t, all[0].Log, 1)
		assert.Equal(t, provider.CodePolicyDenied, all[0].Log[0].Code)
	})
}

func TestManager_Settle_Scenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	res, stateToken := f.authorize(t, ctx, "sess-1")
	require.NotEmpty(t, stateToken)

	callback := orchestrator.CallbackRequest{
		StateToken: stateToken,
		Callback:   provider.Callback{Values: url.Values{"ResCode": {"0"}}},
	}

	settled, err := f.manager.Settle(ctx, callback, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusSucceeded, settled.Status)
	assert.NotEmpty(t, settled.TraceNumber)

	stored, err := f.store.Find(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusSucceeded, stored.Status)
	require.Len(t, stored.Log, 1)
	assert.Equal(t, string(record.StatusSucceeded), stored.Log[0].Message)

	t.Run("replaying the identical callback is rejected", func(t *testing.T) {
		// The session state was consumed, so the replay arrives with the
		// caller-supplied correlation id like any cold callback would.
		replay := callback
		replay.TransactionID = res.TransactionID

		_, err := f.manager.Settle(ctx, replay, "sess-1")
		assert.ErrorIs(t, err, provider.ErrRetry,
			"a settled record rejects any further callback")

		unchanged, ferr := f.store.Find(ctx, res.TransactionID)
		require.NoError(t, ferr)
		assert.Equal(t, stored.Status, unchanged.Status)
		assert.Len(t, unchanged.Log, 1)
	})
}

func TestManager_Settle_Guards(t *testing.T) {
	ctx := context.Background()

	t.Run("missing correlation id", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.manager.Settle(ctx, orchestrator.CallbackRequest{}, "sess-1")
		assert.ErrorIs(t, err, provider.ErrInvalidRequest)
	})

	t.Run("unknown correlation id", func(t *testing.T) {
		f := newFixture(t, nil)
		f.driver.StatelessMode = true
		_, err := f.manager.Settle(ctx, orchestrator.CallbackRequest{TransactionID: "missing"}, "sess-1")
		assert.ErrorIs(t, err, record.ErrNotFound)
	})

	t.Run("mismatched state token leaves record INIT", func(t *testing.T) {
		f := newFixture(t, nil)
		res, _ := f.authorize(t, ctx, "sess-1")

		_, err := f.manager.Settle(ctx, orchestrator.CallbackRequest{
			StateToken: "forged",
			Callback:   provider.Callback{Values: url.Values{}},
		}, "sess-1")
		assert.ErrorIs(t, err, provider.ErrInvalidState)

		stored, ferr := f.store.Find(ctx, res.TransactionID)
		require.NoError(t, ferr)
		assert.Equal(t, record.StatusInit, stored.Status)

		t.Run("token is single use even after a failed check", func(t *testing.T) {
			v, err := f.states.Get(ctx, "sess-1", provider.TokenStateKey(res.TransactionID))
			require.NoError(t, err)
			assert.Empty(t, v)
		})
	})

	t.Run("terminal record is rejected with retry", func(t *testing.T) {
		f := newFixture(t, nil)
		f.driver.StatelessMode = true
		res, _ := f.authorize(t, ctx, "sess-1")
		require.NoError(t, f.store.MarkFailed(ctx, res.TransactionID,
			record.LogEntry{Code: "17", Message: "cancelled", Timestamp: time.Now()}))

		_, err := f.manager.Settle(ctx, orchestrator.CallbackRequest{TransactionID: res.TransactionID}, "sess-2")
		assert.ErrorIs(t, err, provider.ErrRetry)
	})

	t.Run("stateless driver resolves id from caller input", func(t *testing.T) {
		f := newFixture(t, nil)
		f.driver.StatelessMode = true
		res, _ := f.authorize(t, ctx, "sess-1")

		settled, err := f.manager.Settle(ctx, orchestrator.CallbackRequest{
			TransactionID: res.TransactionID,
			Callback:      provider.Callback{Values: url.Values{}},
		}, "sess-other")
		require.NoError(t, err)
		assert.Equal(t, record.StatusSucceeded, settled.Status)
	})
}

func TestManager_Settle_ConcurrentCallbacks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.driver.StatelessMode = true
	res, _ := f.authorize(t, ctx, "sess-1")

	// Slow verify widens the race window so both callers are in flight.
	f.driver.VerifyFunc = func(_ context.Context, tx *record.Transaction, _ provider.Callback) (provider.Verification, error) {
		time.Sleep(30 * time.Millisecond)
		return provider.Verification{
			Settlement: record.Settlement{TraceNumber: "tr-1", PaidAt: time.Now()},
		}, nil
	}

	req := orchestrator.CallbackRequest{
		TransactionID: res.TransactionID,
		Callback:      provider.Callback{Values: url.Values{}},
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.manager.Settle(ctx, req, "sess-1")
		}(i)
	}
	wg.Wait()

	var successes, retries int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case orchestrator.Classify(err) == orchestrator.KindRetry:
			retries++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes, "exactly one callback settles")
	assert.Equal(t, 1, retries, "the loser observes retry/replay")

	stored, err := f.store.Find(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusSucceeded, stored.Status)
	assert.Len(t, stored.Log, 1)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, orchestrator.KindInvalidRequest, orchestrator.Classify(provider.ErrInvalidRequest))
	assert.Equal(t, orchestrator.KindInvalidState, orchestrator.Classify(provider.ErrInvalidState))
	assert.Equal(t, orchestrator.KindNotFound, orchestrator.Classify(record.ErrNotFound))
	assert.Equal(t, orchestrator.KindRetry, orchestrator.Classify(provider.ErrRetry))
	assert.Equal(t, orchestrator.KindProviderNotFound, orchestrator.Classify(provider.ErrProviderNotFound))
	assert.Equal(t, orchestrator.KindTransaction,
		orchestrator.Classify(provider.NewTransactionError("mock", "45", nil)))
	assert.Equal(t, orchestrator.KindInternal, orchestrator.Classify(assert.AnError))
}
