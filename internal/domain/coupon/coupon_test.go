package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now    = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	past   = now.Add(-24 * time.Hour)
	future = now.Add(24 * time.Hour)
)

func launching(quantity int) *Coupon {
	return &Coupon{
		ID:             1,
		Code:           "WELCOME10",
		Quantity:       quantity,
		StartDate:      past,
		ExpirationDate: future,
	}
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name string
		c    Coupon
		want Status
	}{
		{"deleted wins over everything", Coupon{Deleted: true, Quantity: 5, StartDate: past, ExpirationDate: future}, StatusDeleted},
		{"exhausted checked before window", Coupon{Quantity: 0, StartDate: future, ExpirationDate: future.Add(time.Hour)}, StatusExhausted},
		{"negative quantity is exhausted", Coupon{Quantity: -1, StartDate: past, ExpirationDate: future}, StatusExhausted},
		{"before window", Coupon{Quantity: 5, StartDate: future, ExpirationDate: future.Add(time.Hour)}, StatusUpcoming},
		{"after window", Coupon{Quantity: 5, StartDate: past.Add(-time.Hour), ExpirationDate: past}, StatusExpired},
		{"active", Coupon{Quantity: 5, StartDate: past, ExpirationDate: future}, StatusLaunching},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.DeriveStatus(now))
		})
	}
}

func TestCheckEligible(t *testing.T) {
	t.Run("not launching", func(t *testing.T) {
		c := launching(5)
		c.StartDate = future

		err := c.CheckEligible(decimal.NewFromInt(1000000), now)
		var ineligible *IneligibleError
		require.ErrorAs(t, err, &ineligible)
		assert.Contains(t, ineligible.Reason, "UPCOMING")
	})

	t.Run("subtotal below minimum", func(t *testing.T) {
		c := launching(5)
		c.Condition = decimal.NewFromInt(300000)

		err := c.CheckEligible(decimal.NewFromInt(299999), now)
		var ineligible *IneligibleError
		require.ErrorAs(t, err, &ineligible)
	})

	t.Run("eligible", func(t *testing.T) {
		c := launching(5)
		c.Condition = decimal.NewFromInt(300000)
		require.NoError(t, c.CheckEligible(decimal.NewFromInt(300000), now))
	})
}

func TestDiscount(t *testing.T) {
	subtotal := decimal.NewFromInt(1000000)

	tests := []struct {
		name string
		c    Coupon
		want string
	}{
		{
			"percentage under limit",
			Coupon{Percentage: true, Value: decimal.RequireFromString("0.1"), ValueLimit: decimal.NewFromInt(200000)},
			"100000",
		},
		{
			"percentage capped at limit",
			Coupon{Percentage: true, Value: decimal.RequireFromString("0.3"), ValueLimit: decimal.NewFromInt(200000)},
			"200000",
		},
		{
			"percentage without limit",
			Coupon{Percentage: true, Value: decimal.RequireFromString("0.3")},
			"300000",
		},
		{
			"fixed amount",
			Coupon{Value: decimal.NewFromInt(50000)},
			"50000",
		},
		{
			"fixed capped at subtotal",
			Coupon{Value: decimal.NewFromInt(2000000)},
			"1000000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.c.Discount(subtotal)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)),
				"got %s, want %s", got, tt.want)
		})
	}
}

// stubLedger records lookups; FindByCode always succeeds.
type stubLedger struct {
	lookups int
}

func (s *stubLedger) FindByCode(context.Context, string) (*Coupon, error) {
	s.lookups++
	return launching(5), nil
}
func (s *stubLedger) Reserve(context.Context, int64) (int, error) { return 4, nil }
func (s *stubLedger) Release(context.Context, int64) error       { return nil }

func TestFilteredLedger(t *testing.T) {
	filter := NewBloomCodeFilter([]string{"WELCOME10", "flat50k"})

	t.Run("unknown code never reaches storage", func(t *testing.T) {
		next := &stubLedger{}
		ledger := NewFilteredLedger(next, filter)

		_, err := ledger.FindByCode(context.Background(), "NOSUCHCODE")
		require.ErrorIs(t, err, ErrNotFound)
		assert.Zero(t, next.lookups)
	})

	t.Run("known code passes through case-insensitively", func(t *testing.T) {
		next := &stubLedger{}
		ledger := NewFilteredLedger(next, filter)

		_, err := ledger.FindByCode(context.Background(), "  Flat50K ")
		require.NoError(t, err)
		assert.Equal(t, 1, next.lookups)
	})
}

func TestTakeSnapshot(t *testing.T) {
	c := launching(5)
	c.Name = "Welcome"
	c.Percentage = true
	c.Value = decimal.RequireFromString("0.1")
	c.ValueLimit = decimal.NewFromInt(100000)

	snap := c.TakeSnapshot()
	assert.Equal(t, c.ID, snap.ID)
	assert.Equal(t, c.Code, snap.Code)
	assert.True(t, snap.Value.Equal(c.Value))

	// Later edits to the coupon never alter the snapshot.
	c.Value = decimal.RequireFromString("0.9")
	assert.True(t, snap.Value.Equal(decimal.RequireFromString("0.1")))
}
