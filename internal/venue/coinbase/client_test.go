package coinbase

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arb_engine/internal/core"
	"arb_engine/internal/credentials"
	apperrors "arb_engine/pkg/errors"
	"arb_engine/pkg/logging"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("test-hmac-secret"))

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(Options{
		Symbol:  "BTC-USD",
		Sandbox: true,
		Credentials: credentials.Credentials{
			APIKey:     "test-key",
			APISecret:  testSecret,
			Passphrase: "test-pass",
		},
	}, logging.Nop())
	require.NoError(t, err)
	return c
}

const snapshotJSON = `{
	"type":"snapshot","product_id":"BTC-USD",
	"bids":[["10101.10","0.45054140"],["10100.00","2"]],
	"asks":[["10102.55","0.57753524"]]
}`

func TestSnapshotSeedsBookAndReadies(t *testing.T) {
	c := newTestClient(t)

	require.False(t, c.ready.IsSet())
	require.NoError(t, c.handleFrame([]byte(snapshotJSON)))
	assert.True(t, c.ready.IsSet())

	bid, ok := c.st.TopBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(decimal.RequireFromString("10101.10")))
	ask, ok := c.st.TopAsk()
	require.True(t, ok)
	assert.True(t, ask.Price.Equal(decimal.RequireFromString("10102.55")))
}

func TestSnapshotReplacesExistingBook(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.handleFrame([]byte(snapshotJSON)))

	replacement := `{
		"type":"snapshot","product_id":"BTC-USD",
		"bids":[["9000.00","1"]],"asks":[["9010.00","1"]]
	}`
	require.NoError(t, c.handleFrame([]byte(replacement)))

	bid, ok := c.st.TopBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(decimal.RequireFromString("9000.00")))
}

func TestL2UpdateAppliesDeltas(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.handleFrame([]byte(snapshotJSON)))

	update := `{
		"type":"l2update","product_id":"BTC-USD",
		"changes":[["buy","10101.10","3"],["sell","10102.55","0"]]
	}`
	require.NoError(t, c.handleFrame([]byte(update)))

	bid, ok := c.st.TopBid()
	require.True(t, ok)
	assert.True(t, bid.Quantity.Equal(decimal.RequireFromString("3")))
	_, ok = c.st.TopAsk()
	assert.False(t, ok, "zero quantity removes the level")
}

func TestL2UpdateRejectsUnknownSide(t *testing.T) {
	c := newTestClient(t)
	err := c.handleFrame([]byte(`{"type":"l2update","changes":[["hold","1","1"]]}`))
	assert.ErrorIs(t, err, apperrors.ErrUnexpectedMessage)
}

func TestUnknownFrameTypeIsFatal(t *testing.T) {
	c := newTestClient(t)
	err := c.handleFrame([]byte(`{"type":"ticker"}`))
	assert.ErrorIs(t, err, apperrors.ErrUnexpectedMessage)
}

func TestSubscriptionsAcknowledged(t *testing.T) {
	c := newTestClient(t)
	ack := `{"type":"subscriptions","channels":[
		{"name":"user","product_ids":["BTC-USD"]},
		{"name":"heartbeat","product_ids":["BTC-USD"]},
		{"name":"level2","product_ids":["BTC-USD"]}
	]}`
	assert.NoError(t, c.handleFrame([]byte(ack)))
}

func TestSubscriptionsRejected(t *testing.T) {
	tests := []struct {
		name string
		ack  string
	}{
		{"missing channel", `{"type":"subscriptions","channels":[
			{"name":"heartbeat","product_ids":["BTC-USD"]},
			{"name":"level2","product_ids":["BTC-USD"]}
		]}`},
		{"wrong symbol", `{"type":"subscriptions","channels":[
			{"name":"user","product_ids":["ETH-USD"]},
			{"name":"heartbeat","product_ids":["BTC-USD"]},
			{"name":"level2","product_ids":["BTC-USD"]}
		]}`},
		{"extra symbol", `{"type":"subscriptions","channels":[
			{"name":"user","product_ids":["BTC-USD","ETH-USD"]},
			{"name":"heartbeat","product_ids":["BTC-USD"]},
			{"name":"level2","product_ids":["BTC-USD"]}
		]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t)
			err := c.handleFrame([]byte(tt.ack))
			assert.ErrorIs(t, err, apperrors.ErrSubscriptionFailed)
		})
	}
}

func heartbeat(seq int64, at time.Time) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"heartbeat","sequence":%d,"last_trade_id":20,"product_id":"BTC-USD","time":%q}`,
		seq, at.Format(time.RFC3339Nano)))
}

func TestHeartbeatDeltaWithinBounds(t *testing.T) {
	c := newTestClient(t)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	require.NoError(t, c.handleFrame(heartbeat(100, base)))
	require.NoError(t, c.handleFrame(heartbeat(101, base.Add(time.Second))))
	require.NoError(t, c.handleFrame(heartbeat(102, base.Add(time.Second+1400*time.Millisecond))))
}

func TestHeartbeatDeltaOutOfBoundsIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		delta time.Duration
	}{
		{"too fast", 490 * time.Millisecond},
		{"too slow", 1510 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t)
			base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
			require.NoError(t, c.handleFrame(heartbeat(100, base)))

			err := c.handleFrame(heartbeat(101, base.Add(tt.delta)))
			assert.ErrorIs(t, err, apperrors.ErrHeartbeatInterval)
		})
	}
}

func receivedFrame(clientOID, orderID string) []byte {
	return []byte(fmt.Sprintf(`{
		"type":"received","order_id":%q,"client_oid":%q,"product_id":"BTC-USD",
		"side":"buy","order_type":"limit","size":"1.34","price":"502.1"
	}`, orderID, clientOID))
}

func TestReceivedResolvesPendingAction(t *testing.T) {
	c := newTestClient(t)

	action := core.NewCreateOrder(VenueID, core.SideBid, core.TypeLimit,
		decimal.RequireFromString("1.34"), decimal.RequireFromString("502.1"))
	c.pendingCreates[action.ID] = action

	require.NoError(t, c.handleFrame(receivedFrame(action.ID, "ord-1")))

	assert.Equal(t, core.ActionSuccess, action.Status())
	order := action.Order()
	require.NotNil(t, order)
	assert.Equal(t, "ord-1", order.OrderID)
	assert.Equal(t, core.StatusOpen, order.Status)
	assert.True(t, order.Remaining.Equal(decimal.RequireFromString("1.34")))
	assert.Empty(t, c.pendingCreates)
}

func TestReceivedWithoutActionIsFatal(t *testing.T) {
	c := newTestClient(t)
	err := c.handleFrame(receivedFrame("never-sent", "ord-1"))
	assert.ErrorIs(t, err, apperrors.ErrNoMatchingAction)
}

// placeTestOrder runs the received path so the order is tracked the same
// way it would be in production.
func placeTestOrder(t *testing.T, c *Client, orderID string) {
	t.Helper()
	action := core.NewCreateOrder(VenueID, core.SideBid, core.TypeLimit,
		decimal.RequireFromString("1.34"), decimal.RequireFromString("502.1"))
	c.pendingCreates[action.ID] = action
	require.NoError(t, c.handleFrame(receivedFrame(action.ID, orderID)))
}

func TestMatchAccumulatesFillsAsMaker(t *testing.T) {
	c := newTestClient(t)
	placeTestOrder(t, c, "ord-1")

	match := `{
		"type":"match","trade_id":10,"maker_order_id":"ord-1","taker_order_id":"other",
		"product_id":"BTC-USD","size":"0.5","price":"502.1","side":"buy"
	}`
	require.NoError(t, c.handleFrame([]byte(match)))

	order, ok := c.st.Order("ord-1")
	require.True(t, ok)
	assert.True(t, order.Filled.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, order.Remaining.Equal(decimal.RequireFromString("0.84")))
}

func TestMatchResolvesTakerSide(t *testing.T) {
	c := newTestClient(t)
	placeTestOrder(t, c, "ord-1")

	match := `{
		"type":"match","maker_order_id":"other","taker_order_id":"ord-1",
		"product_id":"BTC-USD","size":"0.25","price":"502.0","side":"buy"
	}`
	require.NoError(t, c.handleFrame([]byte(match)))

	order, _ := c.st.Order("ord-1")
	assert.True(t, order.Filled.Equal(decimal.RequireFromString("0.25")))
}

func TestMatchForUnknownOrdersIsFatal(t *testing.T) {
	c := newTestClient(t)
	match := `{
		"type":"match","maker_order_id":"nope","taker_order_id":"also-nope",
		"product_id":"BTC-USD","size":"0.5","price":"502.1","side":"buy"
	}`
	err := c.handleFrame([]byte(match))
	assert.ErrorIs(t, err, apperrors.ErrUnknownOrder)
}

func TestDoneFilledClosesOrder(t *testing.T) {
	c := newTestClient(t)
	placeTestOrder(t, c, "ord-1")

	done := `{
		"type":"done","order_id":"ord-1","reason":"filled",
		"product_id":"BTC-USD","remaining_size":"0","side":"buy"
	}`
	require.NoError(t, c.handleFrame([]byte(done)))

	order, _ := c.st.Order("ord-1")
	assert.Equal(t, core.StatusClosed, order.Status)
	assert.True(t, order.Remaining.IsZero())
	assert.True(t, order.Filled.Equal(order.Amount))
}

func TestDoneCanceledResolvesRequestedCancel(t *testing.T) {
	c := newTestClient(t)
	placeTestOrder(t, c, "ord-1")

	cancel := core.NewCancelOrder(VenueID, "ord-1")
	c.pendingCancels["ord-1"] = cancel

	done := `{
		"type":"done","order_id":"ord-1","reason":"canceled",
		"product_id":"BTC-USD","remaining_size":"1.34","side":"buy"
	}`
	require.NoError(t, c.handleFrame([]byte(done)))

	assert.Equal(t, core.ActionSuccess, cancel.Status())
	order, _ := c.st.Order("ord-1")
	assert.Equal(t, core.StatusCancelled, order.Status)
	assert.Empty(t, c.pendingCancels)
}

func TestUnrequestedCancellationIsFatal(t *testing.T) {
	c := newTestClient(t)
	placeTestOrder(t, c, "ord-1")

	done := `{
		"type":"done","order_id":"ord-1","reason":"canceled",
		"product_id":"BTC-USD","remaining_size":"1.34","side":"buy"
	}`
	err := c.handleFrame([]byte(done))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without request")
}

func TestDoneUnknownReasonIsFatal(t *testing.T) {
	c := newTestClient(t)
	err := c.handleFrame([]byte(`{"type":"done","order_id":"ord-1","reason":"evicted"}`))
	assert.ErrorIs(t, err, apperrors.ErrUnexpectedMessage)
}

func TestChangeShrinksOrder(t *testing.T) {
	c := newTestClient(t)
	placeTestOrder(t, c, "ord-1")

	change := `{
		"type":"change","order_id":"ord-1","product_id":"BTC-USD",
		"new_size":"1.00","old_size":"1.34","price":"502.1","side":"buy"
	}`
	require.NoError(t, c.handleFrame([]byte(change)))

	order, _ := c.st.Order("ord-1")
	assert.True(t, order.Amount.Equal(decimal.RequireFromString("1.00")))
	assert.True(t, order.Remaining.Equal(decimal.RequireFromString("1.00")))
}

func TestSignerRejectsMalformedSecret(t *testing.T) {
	_, err := NewSigner("key", "not base64!!!", "pass")
	assert.Error(t, err)
}

func TestSignRequestHeaders(t *testing.T) {
	signer, err := NewSigner("test-key", testSecret, "test-pass")
	require.NoError(t, err)
	at := time.Date(2026, 8, 24, 12, 0, 0, 500_000_000, time.UTC)
	signer.now = func() time.Time { return at }

	req, err := http.NewRequest(http.MethodGet, "https://api.exchange.coinbase.com/accounts", nil)
	require.NoError(t, err)
	require.NoError(t, signer.SignRequest(req, nil))

	assert.Equal(t, "test-key", req.Header.Get("CB-ACCESS-KEY"))
	assert.Equal(t, "test-pass", req.Header.Get("CB-ACCESS-PASSPHRASE"))
	timestamp := req.Header.Get("CB-ACCESS-TIMESTAMP")
	assert.Equal(t, strconv.FormatFloat(float64(at.UnixNano())/1e9, 'f', 3, 64), timestamp)

	mac := hmac.New(sha256.New, []byte("test-hmac-secret"))
	mac.Write([]byte(timestamp + "GET" + "/accounts"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, req.Header.Get("CB-ACCESS-SIGN"))
}

func TestStreamAuthParams(t *testing.T) {
	signer, err := NewSigner("test-key", testSecret, "test-pass")
	require.NoError(t, err)

	params := signer.StreamAuthParams()
	assert.Equal(t, "test-key", params["key"])
	assert.Equal(t, "test-pass", params["passphrase"])

	mac := hmac.New(sha256.New, []byte("test-hmac-secret"))
	mac.Write([]byte(params["timestamp"] + "GET" + "/users/self/verify"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, params["signature"])
}
