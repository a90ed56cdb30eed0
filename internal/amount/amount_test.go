package amount_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-gateway/internal/amount"
)

func TestNew_Validation(t *testing.T) {
	t.Run("valid amount", func(t *testing.T) {
		a, err := amount.New(decimal.RequireFromString("1500.25"), "IRR")
		require.NoError(t, err)
		assert.Equal(t, "IRR", a.Currency())
		assert.True(t, a.Total().Equal(decimal.RequireFromString("1500.25")))
	})

	t.Run("negative total rejected", func(t *testing.T) {
		_, err := amount.New(decimal.NewFromInt(-1), "IRR")
		assert.Error(t, err)
	})

	t.Run("more than two decimal places rejected", func(t *testing.T) {
		_, err := amount.New(decimal.RequireFromString("10.123"), "USD")
		assert.Error(t, err)
	})

	t.Run("missing currency rejected", func(t *testing.T) {
		_, err := amount.New(decimal.NewFromInt(10), "")
		assert.Error(t, err)
	})
}

func TestDomesticConversion_RoundTrip(t *testing.T) {
	toman := amount.MustParse("100000", amount.CurrencyIRT)

	rial, err := toman.ToRial()
	require.NoError(t, err)
	assert.Equal(t, amount.CurrencyIRR, rial.Currency())
	assert.True(t, rial.Equal(amount.MustParse("1000000", amount.CurrencyIRR)),
		"converted value must equal one constructed directly in rial")

	back, err := rial.ToToman()
	require.NoError(t, err)
	assert.True(t, back.Equal(toman))
}

func TestDomesticConversion_NonDomesticFails(t *testing.T) {
	usd := amount.MustParse("100", "USD")

	_, err := usd.ToRial()
	assert.ErrorIs(t, err, amount.ErrNotConvertible)

	_, err = usd.ToToman()
	assert.ErrorIs(t, err, amount.ErrNotConvertible)
}

func TestCmp(t *testing.T) {
	t.Run("same currency", func(t *testing.T) {
		c, err := amount.MustParse("10", "USD").Cmp(amount.MustParse("20", "USD"))
		require.NoError(t, err)
		assert.Equal(t, -1, c)
	})

	t.Run("domestic pair auto-converts", func(t *testing.T) {
		c, err := amount.MustParse("1000", amount.CurrencyIRT).Cmp(amount.MustParse("10000", amount.CurrencyIRR))
		require.NoError(t, err)
		assert.Equal(t, 0, c)

		c, err = amount.MustParse("1000", amount.CurrencyIRT).Cmp(amount.MustParse("9999", amount.CurrencyIRR))
		require.NoError(t, err)
		assert.Equal(t, 1, c)
	})

	t.Run("mixed non-domestic currencies are incomparable", func(t *testing.T) {
		_, err := amount.MustParse("10", "USD").Cmp(amount.MustParse("10", "EUR"))
		assert.ErrorIs(t, err, amount.ErrIncomparable)

		_, err = amount.MustParse("10", "USD").Cmp(amount.MustParse("10", amount.CurrencyIRR))
		assert.ErrorIs(t, err, amount.ErrIncomparable)
	})
}

func TestEqual_NeverErrors(t *testing.T) {
	assert.False(t, amount.MustParse("10", "USD").Equal(amount.MustParse("10", "EUR")),
		"incomparable amounts are simply not equal")
	assert.True(t, amount.MustParse("50", amount.CurrencyIRT).Equal(amount.MustParse("500", amount.CurrencyIRR)))
	assert.False(t, amount.MustParse("50", amount.CurrencyIRT).Equal(amount.MustParse("499", amount.CurrencyIRR)))
}
