// Package gemini implements the split-stream venue client: an anonymous
// market-data websocket, an authenticated order-events websocket, and
// payload-signed REST for orders and balances. Both streams are strictly
// sequenced; a gap anywhere tears the process down.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"arb_engine/internal/book"
	"arb_engine/internal/core"
	"arb_engine/internal/credentials"
	"arb_engine/internal/state"
	"arb_engine/internal/venue"
	"arb_engine/pkg/concurrency"
	apperrors "arb_engine/pkg/errors"
	resthttp "arb_engine/pkg/http"
	"arb_engine/pkg/telemetry"
	"arb_engine/pkg/websocket"
)

const (
	// VenueID routes actions to this client.
	VenueID = "gemini"

	productionStreamBase = "wss://api.gemini.com"
	productionBaseURL    = "https://api.gemini.com"
	sandboxStreamBase    = "wss://api.sandbox.gemini.com"
	sandboxBaseURL       = "https://api.sandbox.gemini.com"

	orderEventsPath = "/v1/order/events"

	restTimeout = 10 * time.Second

	// The venue allows 600 private requests per minute.
	restRateLimit = 10
	restRateBurst = 10
)

// The venue has no native market order type; market actions are emulated
// as immediate-or-cancel limits priced past the far side of the book.
// Sells use the minimum price unit, buys an unreachably high cap.
var (
	marketSellPrice = decimal.New(1, -2)
	marketBuyCap    = decimal.New(9_999_999, 0)
)

// Options configures a Client.
type Options struct {
	Symbol      string // defaults to BTCUSD
	Sandbox     bool
	StreamURL   string // websocket base override
	BaseURL     string // REST base override
	Credentials credentials.Credentials
}

// Client is the venue integration. It owns its ExchangeState and is the
// only writer to it.
type Client struct {
	streamSymbol string // BTCUSD
	restSymbol   string // btcusd
	streamBase   string
	logger       core.ILogger

	signer *Signer
	rest   *resthttp.Client

	marketFrames *concurrency.Queue[[]byte]
	orderFrames  *concurrency.Queue[[]byte]

	st    *state.ExchangeState
	ready *venue.ReadyGate

	actionMu       sync.Mutex
	pendingCreates map[string]*core.CreateOrder // by client_order_id
	pendingCancels map[string]*core.CancelOrder // by order_id

	bookUpdates metric.Int64Counter
	fills       metric.Int64Counter
}

// New creates the client.
func New(opts Options, logger core.ILogger) *Client {
	symbol := opts.Symbol
	if symbol == "" {
		symbol = "BTCUSD"
	}
	streamBase, baseURL := productionStreamBase, productionBaseURL
	if opts.Sandbox {
		streamBase, baseURL = sandboxStreamBase, sandboxBaseURL
	}
	if opts.StreamURL != "" {
		streamBase = opts.StreamURL
	}
	if opts.BaseURL != "" {
		baseURL = opts.BaseURL
	}
	if opts.Credentials.APIURL != "" {
		baseURL = opts.Credentials.APIURL
	}

	log := logger.WithField("venue", VenueID)
	signer := NewSigner(opts.Credentials.APIKey, opts.Credentials.APISecret)

	meter := telemetry.GetMeter("venue-" + VenueID)
	bookUpdates, _ := meter.Int64Counter(telemetry.MetricBookUpdatesTotal,
		metric.WithDescription("Order book level changes applied"))
	fills, _ := meter.Int64Counter(telemetry.MetricFillsTotal,
		metric.WithDescription("Fill events observed"))

	return &Client{
		streamSymbol:   strings.ToUpper(symbol),
		restSymbol:     strings.ToLower(symbol),
		streamBase:     streamBase,
		logger:         log,
		signer:         signer,
		rest:           resthttp.NewClient(baseURL, restTimeout, signer, rate.NewLimiter(restRateLimit, restRateBurst)),
		marketFrames:   concurrency.NewQueue[[]byte]("gemini-marketdata", log),
		orderFrames:    concurrency.NewQueue[[]byte]("gemini-orders", log),
		st:             state.NewExchangeState(VenueID),
		ready:          venue.NewReadyGate(),
		pendingCreates: make(map[string]*core.CreateOrder),
		pendingCancels: make(map[string]*core.CancelOrder),
		bookUpdates:    bookUpdates,
		fills:          fills,
	}
}

// ID returns the routing identifier.
func (c *Client) ID() string { return VenueID }

// State returns the venue's exchange state.
func (c *Client) State() *state.ExchangeState { return c.st }

// WaitReady blocks until the first market-data update has been applied.
func (c *Client) WaitReady(ctx context.Context) error { return c.ready.Wait(ctx) }

// Run connects both streams and processes frames until failure or
// cancellation.
func (c *Client) Run(ctx context.Context) error {
	marketURL := c.streamBase + "/v1/marketdata/" + c.streamSymbol + "?heartbeat=true"
	ordersURL := c.streamBase + orderEventsPath +
		"?heartbeat=true&apiSessionFilter=" + c.signer.APIKey()

	ordersHeader, err := c.signer.StreamHeaders(orderEventsPath)
	if err != nil {
		return err
	}

	marketStream := websocket.NewStream("gemini-marketdata", marketURL, nil, c.logger)
	ordersStream := websocket.NewStream("gemini-orders", ordersURL, ordersHeader, c.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return marketStream.Run(ctx, func(frame []byte) error {
			c.marketFrames.Put(frame)
			telemetry.GetGlobalMetrics().SetFrameQueueDepth("gemini-marketdata", int64(c.marketFrames.Len()))
			return nil
		})
	})
	g.Go(func() error {
		return ordersStream.Run(ctx, func(frame []byte) error {
			c.orderFrames.Put(frame)
			telemetry.GetGlobalMetrics().SetFrameQueueDepth("gemini-orders", int64(c.orderFrames.Len()))
			return nil
		})
	})
	g.Go(func() error { return c.consumeMarketData(ctx) })
	g.Go(func() error { return c.consumeOrderEvents(ctx) })
	return g.Wait()
}

// consumeMarketData drains the public stream. The first update frame is
// the full book; subsequent frames are deltas.
func (c *Client) consumeMarketData(ctx context.Context) error {
	sock := newSocketInfo("gemini-marketdata")
	for {
		frame, err := c.marketFrames.Get(ctx)
		if err != nil {
			return err
		}
		if err := c.handleMarketDataFrame(sock, frame); err != nil {
			return err
		}
		if c.marketFrames.Empty() {
			c.st.Publisher().Notify()
		}
	}
}

func (c *Client) handleMarketDataFrame(sock *socketInfo, frame []byte) error {
	var head messageHead
	if err := decodeInto(frame, &head); err != nil {
		return fmt.Errorf("gemini: malformed market-data frame: %w", err)
	}

	switch head.Type {
	case "heartbeat":
		return c.handleHeartbeat(sock, frame)
	case "update":
		var update marketDataUpdate
		if err := decodeInto(frame, &update); err != nil {
			return fmt.Errorf("gemini: market-data update: %w", err)
		}
		if err := sock.checkSequence(update.SocketSequence); err != nil {
			return err
		}
		if err := c.applyMarketDataEvents(update.Events); err != nil {
			return err
		}
		c.ready.Set()
		return nil
	default:
		return fmt.Errorf("%w: gemini market-data frame type %q",
			apperrors.ErrUnexpectedMessage, head.Type)
	}
}

func (c *Client) applyMarketDataEvents(events []marketDataEvent) error {
	return c.st.Write(func(b *book.OrderBook, _ *state.Balance) error {
		for _, ev := range events {
			if ev.Type != "change" {
				continue
			}
			price, err := decimal.NewFromString(ev.Price)
			if err != nil {
				return fmt.Errorf("gemini: change price %q: %w", ev.Price, err)
			}
			remaining, err := decimal.NewFromString(ev.Remaining)
			if err != nil {
				return fmt.Errorf("gemini: change remaining %q: %w", ev.Remaining, err)
			}
			switch ev.Side {
			case "bid":
				b.SetQuote(core.SideBid, price, remaining)
			case "ask":
				b.SetQuote(core.SideAsk, price, remaining)
			default:
				return fmt.Errorf("%w: gemini change side %q", apperrors.ErrUnexpectedMessage, ev.Side)
			}
			c.bookUpdates.Add(context.Background(), 1, metric.WithAttributes(attribute.String("venue", VenueID)))
		}
		return nil
	})
}

func (c *Client) handleHeartbeat(sock *socketInfo, frame []byte) error {
	var beat heartbeatMessage
	if err := decodeInto(frame, &beat); err != nil {
		return fmt.Errorf("gemini: heartbeat: %w", err)
	}
	if err := sock.checkSequence(beat.SocketSequence); err != nil {
		return err
	}
	return sock.checkHeartbeat(beat)
}

// consumeOrderEvents drains the private stream and runs the order
// lifecycle state machine.
func (c *Client) consumeOrderEvents(ctx context.Context) error {
	sock := newSocketInfo("gemini-orders")
	for {
		frame, err := c.orderFrames.Get(ctx)
		if err != nil {
			return err
		}
		if err := c.handleOrderFrame(sock, frame); err != nil {
			return err
		}
		if c.orderFrames.Empty() {
			c.st.Publisher().Notify()
		}
	}
}

func (c *Client) handleOrderFrame(sock *socketInfo, frame []byte) error {
	trimmed := []byte(strings.TrimSpace(string(frame)))
	if len(trimmed) > 0 && trimmed[0] == '[' {
		// Batched events share one socket_sequence.
		var events []orderEvent
		if err := decodeInto(trimmed, &events); err != nil {
			return fmt.Errorf("gemini: order event batch: %w", err)
		}
		if len(events) == 0 {
			return nil
		}
		if err := sock.checkSequence(events[0].SocketSequence); err != nil {
			return err
		}
		for i := range events {
			if err := c.handleOrderEvent(events[i]); err != nil {
				return err
			}
		}
		return nil
	}

	var head messageHead
	if err := decodeInto(frame, &head); err != nil {
		return fmt.Errorf("gemini: malformed order frame: %w", err)
	}

	switch head.Type {
	case "heartbeat":
		return c.handleHeartbeat(sock, frame)
	case "subscription_ack":
		// The ack is the only frame exempt from sequence checking; it
		// must arrive before the stream opens its sequence.
		return c.handleSubscriptionAck(frame)
	default:
		var ev orderEvent
		if err := decodeInto(frame, &ev); err != nil {
			return fmt.Errorf("gemini: order event: %w", err)
		}
		if err := sock.checkSequence(ev.SocketSequence); err != nil {
			return err
		}
		return c.handleOrderEvent(ev)
	}
}

// handleSubscriptionAck checks that the venue granted exactly the filters
// we asked for: no symbol or event-type narrowing, and a session filter
// holding only our key. Anything else means we would see someone else's
// orders, or miss our own.
func (c *Client) handleSubscriptionAck(frame []byte) error {
	var ack subscriptionAck
	if err := decodeInto(frame, &ack); err != nil {
		return fmt.Errorf("gemini: subscription_ack: %w", err)
	}
	if ack.AccountID == 0 {
		return fmt.Errorf("%w: gemini subscription_ack missing accountId",
			apperrors.ErrSubscriptionFailed)
	}
	if len(ack.SymbolFilter) != 0 {
		return fmt.Errorf("%w: gemini unexpected symbol filter %v",
			apperrors.ErrSubscriptionFailed, ack.SymbolFilter)
	}
	if len(ack.EventTypeFilter) != 0 {
		return fmt.Errorf("%w: gemini unexpected event-type filter %v",
			apperrors.ErrSubscriptionFailed, ack.EventTypeFilter)
	}
	if len(ack.APISessionFilter) != 1 || ack.APISessionFilter[0] != c.signer.APIKey() {
		return fmt.Errorf("%w: gemini session filter %v does not match our key",
			apperrors.ErrSubscriptionFailed, ack.APISessionFilter)
	}
	c.logger.Debug("order events subscription acknowledged", "account_id", ack.AccountID)
	return nil
}

func (c *Client) handleOrderEvent(ev orderEvent) error {
	switch ev.Type {
	case "initial":
		return c.eventInitial(ev)
	case "accepted":
		return c.eventAccepted(ev)
	case "rejected":
		return c.eventRejected(ev)
	case "booked":
		c.logger.Debug("order booked", "order_id", ev.OrderID)
		return nil
	case "fill":
		return c.eventFill(ev)
	case "cancelled":
		return c.eventCancelled(ev)
	case "cancel_rejected":
		return c.eventCancelRejected(ev)
	case "closed":
		return c.eventClosed(ev)
	default:
		return fmt.Errorf("%w: gemini order event type %q",
			apperrors.ErrUnexpectedMessage, ev.Type)
	}
}

// eventInitial records an order that was already open when the stream
// connected. A collision with a tracked id is fatal.
func (c *Client) eventInitial(ev orderEvent) error {
	order, err := orderFromEvent(ev)
	if err != nil {
		return err
	}
	if err := c.st.SetOrder(order); err != nil {
		return err
	}
	c.logger.Info("pre-existing order", "order_id", order.OrderID,
		"side", order.Side, "remaining", order.Remaining)
	return nil
}

// eventAccepted resolves the pending create action matched by
// client_order_id. An accept we cannot match means an action was lost.
func (c *Client) eventAccepted(ev orderEvent) error {
	action, err := c.takePendingCreate(ev)
	if err != nil {
		return err
	}
	order, err := orderFromEvent(ev)
	if err != nil {
		return err
	}
	order.Status = core.StatusOpen
	if err := c.st.SetOrder(order); err != nil {
		return err
	}
	stored, _ := c.st.Order(order.OrderID)
	action.Resolve(core.ActionSuccess, &stored)
	c.logger.Info("order accepted", "order_id", order.OrderID,
		"side", order.Side, "amount", order.Amount)
	return nil
}

func (c *Client) eventRejected(ev orderEvent) error {
	action, err := c.takePendingCreate(ev)
	if err != nil {
		return err
	}
	order, err := orderFromEvent(ev)
	if err != nil {
		return err
	}
	order.Status = core.StatusClosed
	if err := c.st.SetOrder(order); err != nil {
		return err
	}
	stored, _ := c.st.Order(order.OrderID)
	action.Resolve(core.ActionFailed, &stored)
	c.logger.Warn("order rejected", "order_id", ev.OrderID, "reason", ev.Reason)
	return nil
}

func (c *Client) takePendingCreate(ev orderEvent) (*core.CreateOrder, error) {
	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	action, ok := c.pendingCreates[ev.ClientOrderID]
	if !ok {
		return nil, fmt.Errorf("%w: gemini %s event for client_order_id %q",
			apperrors.ErrNoMatchingAction, ev.Type, ev.ClientOrderID)
	}
	delete(c.pendingCreates, ev.ClientOrderID)
	return action, nil
}

func (c *Client) eventFill(ev orderEvent) error {
	filled, err := decimal.NewFromString(ev.ExecutedAmount)
	if err != nil {
		return fmt.Errorf("gemini: fill executed_amount %q: %w", ev.ExecutedAmount, err)
	}
	remaining, err := decimal.NewFromString(ev.RemainingAmount)
	if err != nil {
		return fmt.Errorf("gemini: fill remaining_amount %q: %w", ev.RemainingAmount, err)
	}
	avgPrice, err := decimal.NewFromString(ev.AvgExecutionPrice)
	if err != nil {
		return fmt.Errorf("gemini: fill avg_execution_price %q: %w", ev.AvgExecutionPrice, err)
	}

	err = c.st.UpdateOrder(ev.OrderID, func(o *core.Order) error {
		o.Filled = filled
		o.Remaining = remaining
		o.AveragePrice = avgPrice
		if remaining.IsZero() {
			o.Status = core.StatusClosed
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.fills.Add(context.Background(), 1, metric.WithAttributes(attribute.String("venue", VenueID)))
	c.logger.Info("fill", "order_id", ev.OrderID, "filled", filled, "remaining", remaining)
	return nil
}

// eventCancelled confirms a cancel we requested. A cancellation with no
// matching action is a venue-initiated cancel, which the strategy's
// accounting cannot absorb.
func (c *Client) eventCancelled(ev orderEvent) error {
	c.actionMu.Lock()
	action, ok := c.pendingCancels[ev.OrderID]
	if ok {
		delete(c.pendingCancels, ev.OrderID)
	}
	c.actionMu.Unlock()
	if !ok {
		return fmt.Errorf("gemini: order %s cancelled by venue without request", ev.OrderID)
	}
	if err := c.st.UpdateOrder(ev.OrderID, func(o *core.Order) error {
		o.Status = core.StatusCancelled
		return nil
	}); err != nil {
		return err
	}
	action.Resolve(core.ActionSuccess)
	c.logger.Info("order cancelled", "order_id", ev.OrderID)
	return nil
}

func (c *Client) eventCancelRejected(ev orderEvent) error {
	c.actionMu.Lock()
	action, ok := c.pendingCancels[ev.OrderID]
	if ok {
		delete(c.pendingCancels, ev.OrderID)
	}
	c.actionMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: gemini cancel_rejected for order %q",
			apperrors.ErrNoMatchingAction, ev.OrderID)
	}
	action.Resolve(core.ActionFailed)
	c.logger.Warn("cancel rejected", "order_id", ev.OrderID, "reason", ev.Reason)
	return nil
}

// eventClosed finalizes an order. The venue sends closed after both fills
// and cancels, so an already-terminal order is left alone.
func (c *Client) eventClosed(ev orderEvent) error {
	if order, ok := c.st.Order(ev.OrderID); ok && order.Status.Terminal() {
		return nil
	}
	return c.st.UpdateOrder(ev.OrderID, func(o *core.Order) error {
		if ev.ExecutedAmount != "" {
			filled, err := decimal.NewFromString(ev.ExecutedAmount)
			if err != nil {
				return fmt.Errorf("gemini: closed executed_amount %q: %w", ev.ExecutedAmount, err)
			}
			o.Filled = filled
			o.Remaining = o.Amount.Sub(filled)
		}
		o.Status = core.StatusClosed
		return nil
	})
}

// Execute carries out a strategy action against the venue's REST API.
// Exhausting the REST retries is fatal: the action's outcome would
// otherwise be unknowable, because resolution normally arrives on the
// event stream.
func (c *Client) Execute(ctx context.Context, action core.Action) error {
	switch a := action.(type) {
	case *core.CreateOrder:
		return c.placeOrder(ctx, a)
	case *core.CancelOrder:
		return c.cancelOrder(ctx, a)
	default:
		return fmt.Errorf("gemini: unsupported action %T", action)
	}
}

func (c *Client) placeOrder(ctx context.Context, a *core.CreateOrder) error {
	req := newOrderRequest{
		ClientOrderID: a.ID,
		Symbol:        c.restSymbol,
		Amount:        a.Amount.String(),
		Side:          restSide(a.Side),
		Type:          "exchange limit",
	}
	switch a.Type {
	case core.TypeLimit:
		req.Price = a.Price.String()
	case core.TypeMarket:
		req.Options = []string{"immediate-or-cancel"}
		if a.Side == core.SideAsk {
			req.Price = marketSellPrice.String()
		} else {
			req.Price = marketBuyCap.String()
		}
	}

	// Register before the POST so an event racing the REST response
	// still finds its action.
	c.actionMu.Lock()
	c.pendingCreates[a.ID] = a
	c.actionMu.Unlock()

	if _, err := c.rest.Post(ctx, "/v1/order/new", req); err != nil {
		c.actionMu.Lock()
		delete(c.pendingCreates, a.ID)
		c.actionMu.Unlock()
		return fmt.Errorf("%w: gemini order/new: %v", apperrors.ErrVenueRequest, err)
	}
	c.logger.Debug("order submitted", "client_order_id", a.ID, "side", a.Side, "amount", a.Amount)
	return nil
}

func (c *Client) cancelOrder(ctx context.Context, a *core.CancelOrder) error {
	c.actionMu.Lock()
	c.pendingCancels[a.OrderID] = a
	c.actionMu.Unlock()

	if _, err := c.rest.Post(ctx, "/v1/order/cancel", cancelOrderRequest{OrderID: a.OrderID}); err != nil {
		c.actionMu.Lock()
		delete(c.pendingCancels, a.OrderID)
		c.actionMu.Unlock()
		return fmt.Errorf("%w: gemini order/cancel: %v", apperrors.ErrVenueRequest, err)
	}
	c.logger.Debug("cancel submitted", "order_id", a.OrderID)
	return nil
}

// UpdateBalance refreshes the balance snapshot from /v1/balances.
func (c *Client) UpdateBalance(ctx context.Context) error {
	body, err := c.rest.Post(ctx, "/v1/balances", nil)
	if err != nil {
		return fmt.Errorf("%w: gemini balances: %v", apperrors.ErrVenueRequest, err)
	}
	var entries []balanceEntry
	if err := decodeInto(body, &entries); err != nil {
		return fmt.Errorf("gemini: balances response: %w", err)
	}

	err = c.st.Write(func(_ *book.OrderBook, bal *state.Balance) error {
		for _, entry := range entries {
			currency := strings.ToUpper(entry.Currency)
			total, err := decimal.NewFromString(entry.Amount)
			if err != nil {
				return fmt.Errorf("gemini: balance %s amount %q: %w", currency, entry.Amount, err)
			}
			available, err := decimal.NewFromString(entry.Available)
			if err != nil {
				return fmt.Errorf("gemini: balance %s available %q: %w", currency, entry.Available, err)
			}
			bal.SetFree(currency, available)
			bal.SetOnHold(currency, total.Sub(available))
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.st.Publisher().Notify()
	return nil
}

// orderFromEvent decodes the common order fields of an event.
func orderFromEvent(ev orderEvent) (core.Order, error) {
	amount, err := decimal.NewFromString(ev.OriginalAmount)
	if err != nil {
		return core.Order{}, fmt.Errorf("gemini: original_amount %q: %w", ev.OriginalAmount, err)
	}
	filled := decimal.Zero
	if ev.ExecutedAmount != "" {
		filled, err = decimal.NewFromString(ev.ExecutedAmount)
		if err != nil {
			return core.Order{}, fmt.Errorf("gemini: executed_amount %q: %w", ev.ExecutedAmount, err)
		}
	}
	remaining := amount.Sub(filled)
	if ev.RemainingAmount != "" {
		remaining, err = decimal.NewFromString(ev.RemainingAmount)
		if err != nil {
			return core.Order{}, fmt.Errorf("gemini: remaining_amount %q: %w", ev.RemainingAmount, err)
		}
	}

	order := core.Order{
		OrderID:   ev.OrderID,
		Symbol:    ev.Symbol,
		Amount:    amount,
		Filled:    filled,
		Remaining: remaining,
		Status:    orderStatus(ev),
	}

	switch ev.Side {
	case "buy":
		order.Side = core.SideBid
	case "sell":
		order.Side = core.SideAsk
	default:
		return core.Order{}, fmt.Errorf("%w: gemini order side %q", apperrors.ErrUnexpectedMessage, ev.Side)
	}

	if strings.HasPrefix(ev.OrderType, "market") {
		order.Type = core.TypeMarket
	} else {
		order.Type = core.TypeLimit
	}

	if ev.Price != "" {
		order.Price, err = decimal.NewFromString(ev.Price)
		if err != nil {
			return core.Order{}, fmt.Errorf("gemini: order price %q: %w", ev.Price, err)
		}
	}
	if ev.AvgExecutionPrice != "" {
		order.AveragePrice, err = decimal.NewFromString(ev.AvgExecutionPrice)
		if err != nil {
			return core.Order{}, fmt.Errorf("gemini: avg_execution_price %q: %w", ev.AvgExecutionPrice, err)
		}
	}
	return order, nil
}

func orderStatus(ev orderEvent) core.OrderStatus {
	switch {
	case ev.IsCancelled:
		return core.StatusCancelled
	case ev.IsLive:
		return core.StatusOpen
	default:
		return core.StatusClosed
	}
}

func restSide(side core.Side) string {
	if side == core.SideBid {
		return "buy"
	}
	return "sell"
}
