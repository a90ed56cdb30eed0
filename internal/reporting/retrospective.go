// Package reporting summarizes the transaction record store into
// retrospective reports for merchants and operators.
package reporting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-gateway/internal/record"
)

// Retrospective summarizes payment activity over a set of transaction
// records.
type Retrospective struct {
	TotalTransactions int `json:"total_transactions"`
	Succeeded         int `json:"succeeded"`
	Failed            int `json:"failed"`
	Pending           int `json:"pending"`

	// SettledByCurrency sums the amounts of SUCCEEDED transactions per
	// currency code. Rendered as decimal strings.
	SettledByCurrency map[string]decimal.Decimal `json:"settled_by_currency"`

	// ErrorBreakdown counts the final log code of each FAILED transaction.
	ErrorBreakdown map[string]int `json:"error_breakdown"`

	// ProviderUsage counts transactions per provider, any status.
	ProviderUsage map[string]int `json:"provider_usage"`

	DateFrom time.Time     `json:"date_from"`
	DateTo   time.Time     `json:"date_to"`
	Span     time.Duration `json:"span"`
}

// Reporter generates retrospective reports from a record store.
type Reporter struct {
	store record.Store
}

// NewReporter creates a Reporter over the given store.
func NewReporter(store record.Store) *Reporter {
	return &Reporter{store: store}
}

// Generate lists every record in the store and folds it into a Retrospective.
// Records created outside [from, to] are skipped; a zero bound is open.
func (r *Reporter) Generate(ctx context.Context, from, to time.Time) (*Retrospective, error) {
	txs, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}

	report := &Retrospective{
		SettledByCurrency: make(map[string]decimal.Decimal),
		ErrorBreakdown:    make(map[string]int),
		ProviderUsage:     make(map[string]int),
	}

	for _, tx := range txs {
		if !from.IsZero() && tx.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && tx.CreatedAt.After(to) {
			continue
		}

		report.TotalTransactions++
		report.ProviderUsage[tx.Provider]++

		if report.DateFrom.IsZero() || tx.CreatedAt.Before(report.DateFrom) {
			report.DateFrom = tx.CreatedAt
		}
		if tx.CreatedAt.After(report.DateTo) {
			report.DateTo = tx.CreatedAt
		}

		switch tx.Status {
		case record.StatusSucceeded:
			report.Succeeded++
			cur := tx.Amount.Currency()
			report.SettledByCurrency[cur] = report.SettledByCurrency[cur].Add(tx.Amount.Total())
		case record.StatusFailed:
			report.Failed++
			if code := finalCode(tx); code != "" {
				report.ErrorBreakdown[code]++
			}
		default:
			report.Pending++
		}
	}

	if !report.DateFrom.IsZero() {
		report.Span = report.DateTo.Sub(report.DateFrom)
	}
	return report, nil
}

// finalCode returns the code of the last log entry, the reason the
// transaction ended FAILED.
func finalCode(tx *record.Transaction) string {
	if len(tx.Log) == 0 {
		return ""
	}
	return tx.Log[len(tx.Log)-1].Code
}
