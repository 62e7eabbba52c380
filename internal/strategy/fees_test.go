package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestFeeFactor(t *testing.T) {
	assert.Equal(t, "0.990099", FeeFactor(d("0.01")).Round(6).String())
	assert.Equal(t, "1", FeeFactor(decimal.Zero).String())
}

// fee_factor(f) * (1 + f) == 1 within decimal precision.
func TestFeeFactorInverseLaw(t *testing.T) {
	for _, rate := range []string{"0.01", "0.0025", "0.005", "0.1", "0.0001"} {
		f := d(rate)
		product := FeeFactor(f).Mul(one.Add(f))
		diff := product.Sub(one).Abs()
		assert.True(t, diff.LessThan(d("0.000000000001")),
			"rate %s: product %s", rate, product)
	}
}

func TestCombinedFeeFactor(t *testing.T) {
	combined := CombinedFeeFactor(d("0.01"), d("0.01"))
	assert.Equal(t, "0.980296", combined.Round(6).String())
}

func TestFeeAsPercentage(t *testing.T) {
	assert.Equal(t, "0.25", FeeAsPercentage(d("0.0025")).String())
}
