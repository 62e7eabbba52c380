// Package coinbase implements the level2-stream venue client. One
// websocket carries the book snapshot, deltas, heartbeats, and the
// authenticated user channel; orders and balances go over signed REST.
package coinbase

import (
	"context"
	"errors"
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
	VenueID = "coinbase"

	productionStreamURL = "wss://ws-feed.exchange.coinbase.com"
	productionBaseURL   = "https://api.exchange.coinbase.com"
	sandboxStreamURL    = "wss://ws-feed-public.sandbox.exchange.coinbase.com"
	sandboxBaseURL      = "https://api-public.sandbox.exchange.coinbase.com"

	// Heartbeats arrive about once a second. The venue-side timestamps
	// must stay inside this window, and the watchdog trips if nothing
	// arrives at all.
	heartbeatMinDelta = 500 * time.Millisecond
	heartbeatMaxDelta = 1500 * time.Millisecond
	watchdogPeriod    = 5 * time.Second
	watchdogStale     = 10 * time.Second

	restTimeout = 10 * time.Second

	// The venue allows 15 private requests per second per profile.
	restRateLimit = 15
	restRateBurst = 15
)

// Options configures a Client.
type Options struct {
	Symbol      string // defaults to BTC-USD
	Sandbox     bool
	StreamURL   string // override, defaults per Sandbox
	BaseURL     string // override, defaults per Sandbox
	Credentials credentials.Credentials
}

// Client is the venue integration. It owns its ExchangeState and is the
// only writer to it.
type Client struct {
	symbol   string
	channels []string
	logger   core.ILogger

	stream *websocket.Stream
	frames *concurrency.Queue[[]byte]
	rest   *resthttp.Client
	signer *Signer

	st    *state.ExchangeState
	ready *venue.ReadyGate

	// Pending actions keyed by client order id (creates) and by venue
	// order id (cancels). Resolved by user-channel events.
	actionMu       sync.Mutex
	pendingCreates map[string]*core.CreateOrder
	pendingCancels map[string]*core.CancelOrder

	// Heartbeat bookkeeping. beatMu guards fields shared with the
	// watchdog goroutine.
	beatMu        sync.Mutex
	lastBeatWall  time.Time // receipt time, watchdog staleness
	prevBeatVenue time.Time // venue timestamp of the previous heartbeat
	prevBeatSeq   int64
	msgsSinceBeat int64

	bookUpdates metric.Int64Counter
	fills       metric.Int64Counter
}

// New creates the client.
func New(opts Options, logger core.ILogger) (*Client, error) {
	symbol := opts.Symbol
	if symbol == "" {
		symbol = "BTC-USD"
	}
	streamURL, baseURL := productionStreamURL, productionBaseURL
	if opts.Sandbox {
		streamURL, baseURL = sandboxStreamURL, sandboxBaseURL
	}
	if opts.StreamURL != "" {
		streamURL = opts.StreamURL
	}
	if opts.BaseURL != "" {
		baseURL = opts.BaseURL
	}
	if opts.Credentials.APIURL != "" {
		baseURL = opts.Credentials.APIURL
	}

	signer, err := NewSigner(opts.Credentials.APIKey, opts.Credentials.APISecret, opts.Credentials.Passphrase)
	if err != nil {
		return nil, err
	}

	log := logger.WithField("venue", VenueID)
	meter := telemetry.GetMeter("venue-" + VenueID)
	bookUpdates, _ := meter.Int64Counter(telemetry.MetricBookUpdatesTotal,
		metric.WithDescription("Order book level changes applied"))
	fills, _ := meter.Int64Counter(telemetry.MetricFillsTotal,
		metric.WithDescription("Fill events observed"))

	c := &Client{
		symbol:         symbol,
		channels:       []string{"user", "heartbeat", "level2"},
		logger:         log,
		frames:         concurrency.NewQueue[[]byte]("coinbase-frames", log),
		rest:           resthttp.NewClient(baseURL, restTimeout, signer, rate.NewLimiter(restRateLimit, restRateBurst)),
		signer:         signer,
		st:             state.NewExchangeState(VenueID),
		ready:          venue.NewReadyGate(),
		pendingCreates: make(map[string]*core.CreateOrder),
		pendingCancels: make(map[string]*core.CancelOrder),
		bookUpdates:    bookUpdates,
		fills:          fills,
	}

	c.stream = websocket.NewStream("coinbase", streamURL, nil, log)
	c.stream.SetOnConnected(c.subscribe)
	return c, nil
}

// ID returns the routing identifier.
func (c *Client) ID() string { return VenueID }

// State returns the venue's exchange state.
func (c *Client) State() *state.ExchangeState { return c.st }

// WaitReady blocks until the first book snapshot has been applied.
func (c *Client) WaitReady(ctx context.Context) error { return c.ready.Wait(ctx) }

// Run connects the stream and processes frames until failure or
// cancellation. The reader, the frame consumer, and the heartbeat
// watchdog run concurrently; the first error wins.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.stream.Run(ctx, func(frame []byte) error {
			c.frames.Put(frame)
			telemetry.GetGlobalMetrics().SetFrameQueueDepth("coinbase", int64(c.frames.Len()))
			return nil
		})
	})
	g.Go(func() error { return c.consume(ctx) })
	g.Go(func() error { return c.watchdog(ctx) })

	return g.Wait()
}

// subscribe is sent within seconds of connecting; the venue drops
// unsubscribed connections.
func (c *Client) subscribe(s *websocket.Stream) error {
	frame := subscribeFrame{
		Type:       "subscribe",
		ProductIDs: []string{c.symbol},
		Channels:   c.channels,
	}
	auth := c.signer.StreamAuthParams()
	frame.Signature = auth["signature"]
	frame.Key = auth["key"]
	frame.Passphrase = auth["passphrase"]
	frame.Timestamp = auth["timestamp"]
	return s.Send(frame)
}

// consume drains the frame queue, mutating state one frame at a time and
// firing the publisher only when the queue is momentarily empty.
func (c *Client) consume(ctx context.Context) error {
	c.beatMu.Lock()
	c.lastBeatWall = time.Now()
	c.beatMu.Unlock()

	for {
		frame, err := c.frames.Get(ctx)
		if err != nil {
			return err
		}
		if err := c.handleFrame(frame); err != nil {
			return err
		}
		if c.frames.Empty() {
			c.st.Publisher().Notify()
		}
	}
}

func (c *Client) handleFrame(frame []byte) error {
	var head frameHead
	if err := decodeInto(frame, &head); err != nil {
		return fmt.Errorf("coinbase: malformed frame: %w", err)
	}

	c.beatMu.Lock()
	c.msgsSinceBeat++
	c.beatMu.Unlock()

	switch head.Type {
	case "snapshot":
		return c.handleSnapshot(frame)
	case "l2update":
		return c.handleL2Update(frame)
	case "heartbeat":
		return c.handleHeartbeat(frame)
	case "subscriptions":
		return c.handleSubscriptions(frame)
	case "received", "open", "match", "done", "change":
		return c.handleOrderEvent(frame)
	default:
		return fmt.Errorf("%w: coinbase frame type %q", apperrors.ErrUnexpectedMessage, head.Type)
	}
}

func (c *Client) handleSnapshot(frame []byte) error {
	var snap snapshotFrame
	if err := decodeInto(frame, &snap); err != nil {
		return fmt.Errorf("coinbase: snapshot: %w", err)
	}
	bids, err := parseLevels(snap.Bids)
	if err != nil {
		return fmt.Errorf("coinbase: snapshot bids: %w", err)
	}
	asks, err := parseLevels(snap.Asks)
	if err != nil {
		return fmt.Errorf("coinbase: snapshot asks: %w", err)
	}

	err = c.st.Write(func(b *book.OrderBook, _ *state.Balance) error {
		b.ReplaceFromSnapshot(bids, asks)
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Info("order book snapshot applied", "bids", len(bids), "asks", len(asks))
	c.ready.Set()
	return nil
}

func (c *Client) handleL2Update(frame []byte) error {
	var update l2updateFrame
	if err := decodeInto(frame, &update); err != nil {
		return fmt.Errorf("coinbase: l2update: %w", err)
	}

	return c.st.Write(func(b *book.OrderBook, _ *state.Balance) error {
		for _, change := range update.Changes {
			if len(change) != 3 {
				return fmt.Errorf("coinbase: l2update change has %d fields", len(change))
			}
			price, err := decimal.NewFromString(change[1])
			if err != nil {
				return fmt.Errorf("coinbase: l2update price %q: %w", change[1], err)
			}
			qty, err := decimal.NewFromString(change[2])
			if err != nil {
				return fmt.Errorf("coinbase: l2update quantity %q: %w", change[2], err)
			}
			switch change[0] {
			case "buy":
				b.SetQuote(core.SideBid, price, qty)
			case "sell":
				b.SetQuote(core.SideAsk, price, qty)
			default:
				return fmt.Errorf("%w: l2update side %q", apperrors.ErrUnexpectedMessage, change[0])
			}
			c.bookUpdates.Add(context.Background(), 1, metric.WithAttributes(attribute.String("venue", VenueID)))
		}
		return nil
	})
}

// handleHeartbeat bounds staleness two ways: consecutive venue timestamps
// must be about a second apart, and the watchdog separately checks
// receipt times.
func (c *Client) handleHeartbeat(frame []byte) error {
	var beat heartbeatFrame
	if err := decodeInto(frame, &beat); err != nil {
		return fmt.Errorf("coinbase: heartbeat: %w", err)
	}
	venueTime, err := time.Parse(time.RFC3339Nano, beat.Time)
	if err != nil {
		return fmt.Errorf("coinbase: heartbeat time %q: %w", beat.Time, err)
	}

	c.beatMu.Lock()
	defer c.beatMu.Unlock()

	if !c.prevBeatVenue.IsZero() {
		delta := venueTime.Sub(c.prevBeatVenue)
		if delta < heartbeatMinDelta || delta > heartbeatMaxDelta {
			return fmt.Errorf("%w: coinbase heartbeat delta %s outside [%s, %s]",
				apperrors.ErrHeartbeatInterval, delta, heartbeatMinDelta, heartbeatMaxDelta)
		}
		// The venue's sequence counts every full-channel message, which
		// is a superset of what we subscribe to, so treat a mismatch as
		// advisory only.
		expected := beat.Sequence - c.prevBeatSeq
		if expected != c.msgsSinceBeat-1 {
			c.logger.Debug("heartbeat sequence does not match message count",
				"sequence_delta", expected, "messages", c.msgsSinceBeat-1)
		}
	}
	c.prevBeatVenue = venueTime
	c.prevBeatSeq = beat.Sequence
	c.msgsSinceBeat = 0
	c.lastBeatWall = time.Now()
	return nil
}

func (c *Client) watchdog(ctx context.Context) error {
	ticker := time.NewTicker(watchdogPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.beatMu.Lock()
			sinceLast := time.Since(c.lastBeatWall)
			c.beatMu.Unlock()
			if sinceLast > watchdogStale {
				return fmt.Errorf("%w: coinbase silent for %s", apperrors.ErrHeartbeatStale, sinceLast)
			}
		}
	}
}

// handleSubscriptions validates the venue's acknowledgement: every
// requested channel must be present, and each must carry exactly our
// symbol.
func (c *Client) handleSubscriptions(frame []byte) error {
	var ack subscriptionsFrame
	if err := decodeInto(frame, &ack); err != nil {
		return fmt.Errorf("coinbase: subscriptions: %w", err)
	}

	granted := make(map[string]bool, len(ack.Channels))
	for _, ch := range ack.Channels {
		granted[ch.Name] = true
		if len(ch.ProductIDs) != 1 || ch.ProductIDs[0] != c.symbol {
			return fmt.Errorf("%w: channel %q subscribed to %v, want [%s]",
				apperrors.ErrSubscriptionFailed, ch.Name, ch.ProductIDs, c.symbol)
		}
	}
	for _, want := range c.channels {
		if !granted[want] {
			return fmt.Errorf("%w: channel %q missing from acknowledgement",
				apperrors.ErrSubscriptionFailed, want)
		}
	}
	c.logger.Debug("subscription acknowledged", "channels", c.channels)
	return nil
}

// handleOrderEvent routes the user-channel lifecycle events. Only our own
// orders appear on the user channel, so an event we cannot match to a
// tracked order or pending action indicates a lost-action bug.
func (c *Client) handleOrderEvent(frame []byte) error {
	var ev orderFrame
	if err := decodeInto(frame, &ev); err != nil {
		return fmt.Errorf("coinbase: order event: %w", err)
	}

	switch ev.Type {
	case "received":
		return c.orderReceived(ev)
	case "open":
		return c.orderOpen(ev)
	case "match":
		return c.orderMatch(ev)
	case "done":
		return c.orderDone(ev)
	case "change":
		return c.orderChange(ev)
	}
	return nil
}

// orderReceived matches the venue's acceptance back to the pending create
// action by client order id and starts tracking the order.
func (c *Client) orderReceived(ev orderFrame) error {
	c.actionMu.Lock()
	action, ok := c.pendingCreates[ev.ClientOID]
	if ok {
		delete(c.pendingCreates, ev.ClientOID)
	}
	c.actionMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: coinbase received event for client_oid %q",
			apperrors.ErrNoMatchingAction, ev.ClientOID)
	}

	size, err := decimal.NewFromString(ev.Size)
	if err != nil {
		return fmt.Errorf("coinbase: received size %q: %w", ev.Size, err)
	}
	order := core.Order{
		OrderID:   ev.OrderID,
		Symbol:    c.symbol,
		Side:      action.Side,
		Type:      action.Type,
		Amount:    size,
		Price:     action.Price,
		Filled:    decimal.Zero,
		Remaining: size,
		Status:    core.StatusOpen,
	}
	if err := c.st.SetOrder(order); err != nil {
		return err
	}
	stored, _ := c.st.Order(ev.OrderID)
	action.Resolve(core.ActionSuccess, &stored)
	c.logger.Info("order accepted", "order_id", ev.OrderID, "side", action.Side, "size", size)
	return nil
}

func (c *Client) orderOpen(ev orderFrame) error {
	remaining, err := decimal.NewFromString(ev.RemainingSize)
	if err != nil {
		return fmt.Errorf("coinbase: open remaining_size %q: %w", ev.RemainingSize, err)
	}
	return c.st.UpdateOrder(ev.OrderID, func(o *core.Order) error {
		o.Remaining = remaining
		o.Filled = o.Amount.Sub(remaining)
		return nil
	})
}

func (c *Client) orderMatch(ev orderFrame) error {
	size, err := decimal.NewFromString(ev.Size)
	if err != nil {
		return fmt.Errorf("coinbase: match size %q: %w", ev.Size, err)
	}
	price, err := decimal.NewFromString(ev.Price)
	if err != nil {
		return fmt.Errorf("coinbase: match price %q: %w", ev.Price, err)
	}

	// The match names both sides; ours is whichever id we track.
	orderID := ev.MakerOrderID
	if _, ok := c.st.Order(orderID); !ok {
		orderID = ev.TakerOrderID
		if _, ok := c.st.Order(orderID); !ok {
			return fmt.Errorf("%w: coinbase match for orders %s/%s",
				apperrors.ErrUnknownOrder, ev.MakerOrderID, ev.TakerOrderID)
		}
	}

	err = c.st.UpdateOrder(orderID, func(o *core.Order) error {
		o.Filled = o.Filled.Add(size)
		o.Remaining = o.Remaining.Sub(size)
		o.AveragePrice = price
		return nil
	})
	if err != nil {
		return err
	}
	c.fills.Add(context.Background(), 1, metric.WithAttributes(attribute.String("venue", VenueID)))
	c.logger.Info("fill", "order_id", orderID, "size", size, "price", price)
	return nil
}

// orderDone closes out an order. A cancellation we did not request is
// fatal: the strategy's accounting assumes orders leave the book only by
// filling or by our own cancel.
func (c *Client) orderDone(ev orderFrame) error {
	switch ev.Reason {
	case "filled":
		return c.st.UpdateOrder(ev.OrderID, func(o *core.Order) error {
			o.Filled = o.Amount
			o.Remaining = decimal.Zero
			o.Status = core.StatusClosed
			return nil
		})
	case "canceled":
		c.actionMu.Lock()
		action, ok := c.pendingCancels[ev.OrderID]
		if ok {
			delete(c.pendingCancels, ev.OrderID)
		}
		c.actionMu.Unlock()
		if !ok {
			return fmt.Errorf("coinbase: order %s cancelled by venue without request", ev.OrderID)
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
	default:
		return fmt.Errorf("%w: coinbase done reason %q", apperrors.ErrUnexpectedMessage, ev.Reason)
	}
}

func (c *Client) orderChange(ev orderFrame) error {
	newSize, err := decimal.NewFromString(ev.NewSize)
	if err != nil {
		return fmt.Errorf("coinbase: change new_size %q: %w", ev.NewSize, err)
	}
	return c.st.UpdateOrder(ev.OrderID, func(o *core.Order) error {
		o.Amount = newSize
		o.Remaining = newSize.Sub(o.Filled)
		return nil
	})
}

// Execute carries out a strategy action against the venue's REST API.
func (c *Client) Execute(ctx context.Context, action core.Action) error {
	switch a := action.(type) {
	case *core.CreateOrder:
		return c.placeOrder(ctx, a)
	case *core.CancelOrder:
		return c.cancelOrder(ctx, a)
	default:
		return fmt.Errorf("coinbase: unsupported action %T", action)
	}
}

// placeOrder POSTs the order. The venue's asynchronous received event
// resolves the action; a refused request resolves it failed here.
func (c *Client) placeOrder(ctx context.Context, a *core.CreateOrder) error {
	req := placeOrderRequest{
		ClientOID: a.ID,
		ProductID: c.symbol,
		Side:      restSide(a.Side),
		Size:      a.Amount.String(),
	}
	switch a.Type {
	case core.TypeLimit:
		req.Type = "limit"
		req.Price = a.Price.String()
	case core.TypeMarket:
		req.Type = "market"
	}

	// Register before the POST so a user-channel event racing the REST
	// response still finds its action.
	c.actionMu.Lock()
	c.pendingCreates[a.ID] = a
	c.actionMu.Unlock()

	body, err := c.rest.Post(ctx, "/orders", req)
	if err != nil {
		c.actionMu.Lock()
		delete(c.pendingCreates, a.ID)
		c.actionMu.Unlock()
		a.Resolve(core.ActionFailed, nil)

		var apiErr *resthttp.APIError
		if errors.As(err, &apiErr) {
			c.logger.Error("order placement refused",
				"client_oid", a.ID, "status", apiErr.StatusCode, "body", string(apiErr.Body))
			return nil
		}
		return fmt.Errorf("coinbase: place order: %w", err)
	}

	var resp placeOrderResponse
	if err := decodeInto(body, &resp); err != nil {
		return fmt.Errorf("coinbase: place order response: %w", err)
	}
	c.logger.Debug("order submitted", "client_oid", a.ID, "order_id", resp.ID)
	return nil
}

func (c *Client) cancelOrder(ctx context.Context, a *core.CancelOrder) error {
	c.actionMu.Lock()
	c.pendingCancels[a.OrderID] = a
	c.actionMu.Unlock()

	if _, err := c.rest.Delete(ctx, "/orders/"+a.OrderID); err != nil {
		c.actionMu.Lock()
		delete(c.pendingCancels, a.OrderID)
		c.actionMu.Unlock()
		a.Resolve(core.ActionFailed)

		var apiErr *resthttp.APIError
		if errors.As(err, &apiErr) {
			c.logger.Error("order cancel refused",
				"order_id", a.OrderID, "status", apiErr.StatusCode, "body", string(apiErr.Body))
			return nil
		}
		return fmt.Errorf("coinbase: cancel order: %w", err)
	}
	c.logger.Debug("cancel submitted", "order_id", a.OrderID)
	return nil
}

// UpdateBalance refreshes the balance snapshot from /accounts.
func (c *Client) UpdateBalance(ctx context.Context) error {
	body, err := c.rest.Get(ctx, "/accounts")
	if err != nil {
		return fmt.Errorf("coinbase: accounts: %w", err)
	}
	var accounts []accountEntry
	if err := decodeInto(body, &accounts); err != nil {
		return fmt.Errorf("coinbase: accounts response: %w", err)
	}

	err = c.st.Write(func(_ *book.OrderBook, bal *state.Balance) error {
		for _, acct := range accounts {
			currency := strings.ToUpper(acct.Currency)
			free, err := decimal.NewFromString(acct.Available)
			if err != nil {
				return fmt.Errorf("coinbase: account %s available %q: %w", currency, acct.Available, err)
			}
			hold, err := decimal.NewFromString(acct.Hold)
			if err != nil {
				return fmt.Errorf("coinbase: account %s hold %q: %w", currency, acct.Hold, err)
			}
			bal.SetFree(currency, free)
			bal.SetOnHold(currency, hold)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.st.Publisher().Notify()
	return nil
}

func restSide(side core.Side) string {
	if side == core.SideBid {
		return "buy"
	}
	return "sell"
}

func parseLevels(raw [][]string) ([]core.Quote, error) {
	quotes := make([]core.Quote, 0, len(raw))
	for _, level := range raw {
		if len(level) < 2 {
			return nil, fmt.Errorf("level has %d fields", len(level))
		}
		price, err := decimal.NewFromString(level[0])
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", level[0], err)
		}
		qty, err := decimal.NewFromString(level[1])
		if err != nil {
			return nil, fmt.Errorf("quantity %q: %w", level[1], err)
		}
		quotes = append(quotes, core.Quote{Price: price, Quantity: qty})
	}
	return quotes, nil
}
