// Package strategy implements the one-way pair arbitrage: a resting
// limit bid on the buy venue priced to clear a target margin after fees,
// hedged by a market ask on the sell venue for every increment of fill.
package strategy

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"arb_engine/internal/core"
	"arb_engine/internal/num"
	"arb_engine/internal/state"
	apperrors "arb_engine/pkg/errors"
)

// Config parametrizes the strategy.
type Config struct {
	VenueBuy  string
	VenueSell string

	// BidAmount is the resting bid size in BTC. ProfitTarget is the
	// margin fraction p; the bid is priced so the round trip yields
	// 1 + p after fees. OrderUpdateThreshold is how far the live profit
	// factor may drift from 1 + p before the bid is re-priced.
	BidAmount            decimal.Decimal
	ProfitTarget         decimal.Decimal
	OrderUpdateThreshold decimal.Decimal
	PollPeriod           time.Duration

	BuyMakerFeeRate  decimal.Decimal
	SellTakerFeeRate decimal.Decimal
}

// OneWayPairArbitrage is the strategy state machine. All entry points
// run serialized; nothing here locks.
type OneWayPairArbitrage struct {
	cfg    Config
	logger core.ILogger

	buyState  *state.ExchangeState
	sellState *state.ExchangeState
	enqueue   func(core.Action)

	feeFactor decimal.Decimal // combined maker x taker factor

	liveLimit      *core.CreateOrder
	liveCancel     *core.CancelOrder
	limitOrderID   string
	limitBidPrice  decimal.Decimal
	previousFilled decimal.Decimal
}

// New creates the strategy.
func New(cfg Config, logger core.ILogger) *OneWayPairArbitrage {
	return &OneWayPairArbitrage{
		cfg:       cfg,
		logger:    logger.WithField("strategy", "one_way_pair_arbitrage"),
		feeFactor: CombinedFeeFactor(cfg.BuyMakerFeeRate, cfg.SellTakerFeeRate),
	}
}

// PollPeriod is the tick interval the coordinator schedules for OnData.
func (s *OneWayPairArbitrage) PollPeriod() time.Duration { return s.cfg.PollPeriod }

// Initialize binds the strategy to the venue states and the action
// queue. Both configured venues must be present.
func (s *OneWayPairArbitrage) Initialize(states map[string]*state.ExchangeState, enqueue func(core.Action)) error {
	buy, ok := states[s.cfg.VenueBuy]
	if !ok {
		return fmt.Errorf("%w: buy venue %q", apperrors.ErrUnknownVenue, s.cfg.VenueBuy)
	}
	sell, ok := states[s.cfg.VenueSell]
	if !ok {
		return fmt.Errorf("%w: sell venue %q", apperrors.ErrUnknownVenue, s.cfg.VenueSell)
	}
	s.buyState = buy
	s.sellState = sell
	s.enqueue = enqueue
	s.logger.Info("strategy initialized",
		"venue_buy", s.cfg.VenueBuy,
		"venue_sell", s.cfg.VenueSell,
		"bid_amount", s.cfg.BidAmount,
		"profit_target", s.cfg.ProfitTarget,
		"fee_factor", s.feeFactor)
	return nil
}

// OnData runs one strategy iteration. It is invoked on every venue state
// change and on every timer tick, is idempotent, and must never be
// re-entered. A returned error is fatal to the process.
func (s *OneWayPairArbitrage) OnData() error {
	if s.liveLimit == nil {
		return s.placeBid()
	}

	switch s.liveLimit.Status() {
	case core.ActionPending:
		return nil
	case core.ActionFailed:
		s.logger.Warn("bid placement failed, retrying next iteration")
		s.resetLimit()
		return nil
	}

	order, ok := s.currentLimitOrder()
	if !ok {
		return fmt.Errorf("%w: live bid %q not tracked on %s",
			apperrors.ErrUnknownOrder, s.limitOrderID, s.cfg.VenueBuy)
	}

	if err := s.hedgeNewFills(order); err != nil {
		return err
	}

	if order.Filled.Equal(order.Amount) {
		s.logger.Info("bid fully filled and hedged", "order_id", order.OrderID)
		s.resetLimit()
		return nil
	}
	if order.Status == core.StatusClosed {
		return fmt.Errorf("bid %s closed with %s of %s filled", order.OrderID, order.Filled, order.Amount)
	}
	if order.Status == core.StatusCancelled && s.liveCancel == nil {
		return fmt.Errorf("bid %s cancelled without request", order.OrderID)
	}

	if s.liveCancel != nil {
		return s.checkCancel()
	}
	return s.considerReprice(order)
}

// placeBid computes and enqueues a new resting bid.
func (s *OneWayPairArbitrage) placeBid() error {
	sellPrice, err := EffectiveSellPrice(s.cfg.BidAmount, s.sellState)
	if err != nil {
		if errors.Is(err, apperrors.ErrInsufficientDepth) {
			s.logger.Warn("sell book too thin, skipping iteration", "error", err.Error())
			return nil
		}
		return err
	}

	// bid = F * S / (1 + p), rounded down so the margin is never shaved.
	bidPrice := num.RoundDownToCents(
		s.feeFactor.Mul(sellPrice).Div(one.Add(s.cfg.ProfitTarget)))

	amount, err := s.affordableAmount(bidPrice)
	if err != nil {
		return err
	}

	action := core.NewCreateOrder(s.cfg.VenueBuy, core.SideBid, core.TypeLimit, amount, bidPrice)
	if err := s.checkContract(action); err != nil {
		return err
	}
	s.liveLimit = action
	s.limitBidPrice = bidPrice
	s.limitOrderID = ""
	s.previousFilled = decimal.Zero
	s.enqueue(action)
	s.logger.Info("placing bid", "price", bidPrice, "amount", amount, "effective_sell_price", sellPrice)
	return nil
}

// affordableAmount caps the configured bid size by the free USD balance,
// quantized down to millibitcoin.
func (s *OneWayPairArbitrage) affordableAmount(bidPrice decimal.Decimal) (decimal.Decimal, error) {
	freeUSD := s.buyState.FreeBalance("USD")
	affordable := num.FloorToMillis(freeUSD.Div(bidPrice))
	amount := s.cfg.BidAmount
	if affordable.LessThan(amount) {
		amount = affordable
	}
	if amount.IsZero() || amount.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: %s USD free on %s at bid %s",
			apperrors.ErrInsufficientBalance, freeUSD, s.cfg.VenueBuy, bidPrice)
	}
	return amount, nil
}

// currentLimitOrder re-reads the live bid from the buy venue's state.
// The action's back-filled order is a snapshot from acceptance time; the
// state copy carries the fills.
func (s *OneWayPairArbitrage) currentLimitOrder() (core.Order, bool) {
	if s.limitOrderID == "" {
		accepted := s.liveLimit.Order()
		if accepted == nil {
			return core.Order{}, false
		}
		s.limitOrderID = accepted.OrderID
	}
	return s.buyState.Order(s.limitOrderID)
}

// hedgeNewFills emits one market ask on the sell venue per increment of
// fill since the previous iteration.
func (s *OneWayPairArbitrage) hedgeNewFills(order core.Order) error {
	delta := order.Filled.Sub(s.previousFilled)
	if !delta.IsPositive() {
		return nil
	}

	hedge := core.NewCreateOrder(s.cfg.VenueSell, core.SideAsk, core.TypeMarket,
		num.RoundToSatoshi(delta), decimal.Decimal{})
	if err := s.checkContract(hedge); err != nil {
		return err
	}
	s.previousFilled = order.Filled
	s.enqueue(hedge)
	s.logger.Info("hedging fill", "amount", delta, "order_id", order.OrderID,
		"filled", order.Filled)
	return nil
}

// checkCancel advances the pending cancel of the live bid.
func (s *OneWayPairArbitrage) checkCancel() error {
	switch s.liveCancel.Status() {
	case core.ActionPending:
		return nil
	case core.ActionSuccess:
		s.logger.Info("bid cancel confirmed", "order_id", s.liveCancel.OrderID)
		s.resetLimit()
		return nil
	default:
		return fmt.Errorf("cancel of bid %s failed", s.liveCancel.OrderID)
	}
}

// considerReprice cancels the live bid when the sell book has moved far
// enough that the realised margin would drift outside the configured
// band. A fresh bid is placed on a later iteration, after the cancel
// lands.
func (s *OneWayPairArbitrage) considerReprice(order core.Order) error {
	sellPrice, err := EffectiveSellPrice(s.cfg.BidAmount, s.sellState)
	if err != nil {
		if errors.Is(err, apperrors.ErrInsufficientDepth) {
			s.logger.Warn("sell book too thin to re-price", "error", err.Error())
			return nil
		}
		return err
	}

	profitFactor := s.feeFactor.Mul(sellPrice).Div(s.limitBidPrice)
	target := one.Add(s.cfg.ProfitTarget)
	drift := profitFactor.Sub(target).Abs()
	if drift.LessThanOrEqual(s.cfg.OrderUpdateThreshold) {
		return nil
	}

	cancel := core.NewCancelOrder(s.cfg.VenueBuy, order.OrderID)
	s.liveCancel = cancel
	s.enqueue(cancel)
	s.logger.Info("re-pricing bid", "order_id", order.OrderID,
		"profit_factor", profitFactor, "target", target, "drift", drift)
	return nil
}

func (s *OneWayPairArbitrage) resetLimit() {
	s.liveLimit = nil
	s.liveCancel = nil
	s.limitOrderID = ""
	s.limitBidPrice = decimal.Decimal{}
	s.previousFilled = decimal.Zero
}

// checkContract rejects action shapes the strategy must never produce.
// Hitting one is a programming error, not a market condition.
func (s *OneWayPairArbitrage) checkContract(a *core.CreateOrder) error {
	switch {
	case a.Type == core.TypeMarket && a.Side == core.SideBid:
		return fmt.Errorf("%w: market bid", apperrors.ErrStrategyContract)
	case a.Type == core.TypeLimit && a.Side == core.SideAsk:
		return fmt.Errorf("%w: limit ask", apperrors.ErrStrategyContract)
	case a.Side == core.SideAsk && a.VenueID == s.cfg.VenueBuy:
		return fmt.Errorf("%w: ask on buy venue %s", apperrors.ErrStrategyContract, a.VenueID)
	case a.Side == core.SideBid && a.VenueID == s.cfg.VenueSell:
		return fmt.Errorf("%w: bid on sell venue %s", apperrors.ErrStrategyContract, a.VenueID)
	}
	return nil
}
