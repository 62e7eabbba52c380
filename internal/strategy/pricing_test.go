package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arb_engine/internal/book"
	"arb_engine/internal/core"
	apperrors "arb_engine/pkg/errors"
)

type bookWalker struct{ b *book.OrderBook }

func (w bookWalker) WalkBids(fn func(core.Quote) bool) { w.b.Bids().Walk(fn) }

func bidsOf(pairs ...string) bookWalker {
	b := book.New()
	for i := 0; i+1 < len(pairs); i += 2 {
		b.SetQuote(core.SideBid, d(pairs[i]), d(pairs[i+1]))
	}
	return bookWalker{b}
}

func TestEffectiveSellPriceTopLevelOnly(t *testing.T) {
	// A 1.0 ask against [(20000, 5), (1600, 5)] fills entirely at the top.
	price, err := EffectiveSellPrice(d("1"), bidsOf("20000", "5", "1600", "5"))
	require.NoError(t, err)
	assert.Equal(t, "20000", price.String())
}

func TestEffectiveSellPriceWeightsLevels(t *testing.T) {
	// 6 units: 5 at 20000, 1 at 1600 -> (5*20000 + 1*1600) / 6.
	price, err := EffectiveSellPrice(d("6"), bidsOf("20000", "5", "1600", "5"))
	require.NoError(t, err)
	want := d("101600").Div(d("6"))
	assert.True(t, price.Equal(want), "got %s want %s", price, want)
}

func TestEffectiveSellPriceClipsLastLevel(t *testing.T) {
	price, err := EffectiveSellPrice(d("1.5"), bidsOf("100", "1", "90", "10"))
	require.NoError(t, err)
	// 1 @ 100 + 0.5 @ 90 = 145 over 1.5 units.
	want := d("145").Div(d("1.5"))
	assert.True(t, price.Equal(want), "got %s want %s", price, want)
}

func TestEffectiveSellPriceInsufficientDepth(t *testing.T) {
	_, err := EffectiveSellPrice(d("11"), bidsOf("100", "1", "90", "5"))
	assert.ErrorIs(t, err, apperrors.ErrInsufficientDepth)

	_, err = EffectiveSellPrice(d("1"), bidsOf())
	assert.ErrorIs(t, err, apperrors.ErrInsufficientDepth)
}

func TestEffectiveSellPriceRejectsNonPositiveQuantity(t *testing.T) {
	_, err := EffectiveSellPrice(d("0"), bidsOf("100", "1"))
	assert.Error(t, err)
}
