package gemini

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
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

const testAPIKey = "test-session-key"

func newTestClient(t *testing.T) *Client {
	t.Helper()
	return New(Options{
		Symbol:  "BTCUSD",
		Sandbox: true,
		Credentials: credentials.Credentials{
			APIKey:    testAPIKey,
			APISecret: "test-secret",
		},
	}, logging.Nop())
}

func marketFrame(t *testing.T, seq int64, events ...marketDataEvent) []byte {
	t.Helper()
	frame, err := json.Marshal(marketDataUpdate{
		Type:           "update",
		EventID:        seq + 1,
		SocketSequence: seq,
		Events:         events,
	})
	require.NoError(t, err)
	return frame
}

func change(side, price, remaining string) marketDataEvent {
	return marketDataEvent{Type: "change", Side: side, Price: price, Remaining: remaining}
}

func TestMarketDataSnapshotThenDelta(t *testing.T) {
	c := newTestClient(t)
	sock := newSocketInfo("test")

	require.NoError(t, c.handleMarketDataFrame(sock, marketFrame(t, 0,
		change("bid", "16000.00", "5"),
		change("ask", "16010.00", "2"),
	)))
	assert.True(t, c.ready.IsSet(), "first update readies the client")

	top, ok := c.st.TopBid()
	require.True(t, ok)
	assert.True(t, top.Price.Equal(decimal.RequireFromString("16000.00")))

	// Delta: replace the bid, delete the ask.
	require.NoError(t, c.handleMarketDataFrame(sock, marketFrame(t, 1,
		change("bid", "16000.00", "3"),
		change("ask", "16010.00", "0"),
	)))

	top, ok = c.st.TopBid()
	require.True(t, ok)
	assert.True(t, top.Quantity.Equal(decimal.RequireFromString("3")))
	_, ok = c.st.TopAsk()
	assert.False(t, ok)
}

func TestMarketDataIgnoresTradeEvents(t *testing.T) {
	c := newTestClient(t)
	sock := newSocketInfo("test")

	frame := marketFrame(t, 0, marketDataEvent{Type: "trade", Price: "16000.00"})
	require.NoError(t, c.handleMarketDataFrame(sock, frame))
	_, ok := c.st.TopBid()
	assert.False(t, ok)
}

func TestMarketDataSequenceGapIsFatal(t *testing.T) {
	c := newTestClient(t)
	sock := newSocketInfo("test")

	require.NoError(t, c.handleMarketDataFrame(sock, marketFrame(t, 0, change("bid", "1", "1"))))
	require.NoError(t, c.handleMarketDataFrame(sock, marketFrame(t, 1, change("bid", "1", "2"))))

	// 2 is skipped.
	err := c.handleMarketDataFrame(sock, marketFrame(t, 3, change("bid", "1", "3")))
	assert.ErrorIs(t, err, apperrors.ErrSequenceGap)
}

func TestMarketDataUnknownFrameType(t *testing.T) {
	c := newTestClient(t)
	err := c.handleMarketDataFrame(newSocketInfo("test"), []byte(`{"type":"auction"}`))
	assert.ErrorIs(t, err, apperrors.ErrUnexpectedMessage)
}

func TestHeartbeatMustNotOpenStream(t *testing.T) {
	c := newTestClient(t)
	sock := newSocketInfo("test")

	frame := []byte(`{"type":"heartbeat","timestampms":1547742400000,"sequence":0,"socket_sequence":0}`)
	err := c.handleMarketDataFrame(sock, frame)
	assert.ErrorIs(t, err, apperrors.ErrHeartbeatSequence)
}

func TestHeartbeatSequenceIsIndependent(t *testing.T) {
	c := newTestClient(t)
	sock := newSocketInfo("test")

	require.NoError(t, c.handleMarketDataFrame(sock, marketFrame(t, 0, change("bid", "1", "1"))))
	require.NoError(t, c.handleMarketDataFrame(sock,
		[]byte(`{"type":"heartbeat","timestampms":1547742400000,"sequence":0,"socket_sequence":1}`)))
	require.NoError(t, c.handleMarketDataFrame(sock, marketFrame(t, 2, change("bid", "1", "2"))))
	require.NoError(t, c.handleMarketDataFrame(sock,
		[]byte(`{"type":"heartbeat","timestampms":1547742405000,"sequence":1,"socket_sequence":3}`)))

	// A heartbeat sequence that jumps is fatal even when socket_sequence
	// is contiguous.
	err := c.handleMarketDataFrame(sock,
		[]byte(`{"type":"heartbeat","timestampms":1547742410000,"sequence":3,"socket_sequence":4}`))
	assert.ErrorIs(t, err, apperrors.ErrHeartbeatSequence)
}

func subscriptionAckFrame(sessionFilter string) []byte {
	return []byte(fmt.Sprintf(`{
		"type":"subscription_ack",
		"accountId":5365,
		"subscriptionId":"ws-order-events-5365-b8bk32clqeb13g9tk8hg",
		"symbolFilter":[],
		"apiSessionFilter":[%s],
		"eventTypeFilter":[]
	}`, sessionFilter))
}

func TestSubscriptionAck(t *testing.T) {
	c := newTestClient(t)
	sock := newSocketInfo("test")

	err := c.handleOrderFrame(sock, subscriptionAckFrame(`"`+testAPIKey+`"`))
	assert.NoError(t, err)

	// The ack does not consume a socket sequence.
	assert.Equal(t, int64(0), sock.expectedSeq)
}

func TestSubscriptionAckRejected(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"foreign session filter", subscriptionAckFrame(`"someone-else"`)},
		{"empty session filter", subscriptionAckFrame(``)},
		{"extra session", subscriptionAckFrame(`"` + testAPIKey + `","someone-else"`)},
		{"missing account id", []byte(`{"type":"subscription_ack","apiSessionFilter":["` + testAPIKey + `"]}`)},
		{"symbol filter set", []byte(`{"type":"subscription_ack","accountId":5365,"symbolFilter":["btcusd"],"apiSessionFilter":["` + testAPIKey + `"]}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t)
			err := c.handleOrderFrame(newSocketInfo("test"), tt.frame)
			assert.ErrorIs(t, err, apperrors.ErrSubscriptionFailed)
		})
	}
}

// orderEventsSocket returns a socket with the ack already consumed, as the
// private stream always opens with one.
func orderEventsSocket(t *testing.T, c *Client) *socketInfo {
	t.Helper()
	sock := newSocketInfo("test")
	require.NoError(t, c.handleOrderFrame(sock, subscriptionAckFrame(`"`+testAPIKey+`"`)))
	return sock
}

func TestInitialEventStoresOrder(t *testing.T) {
	c := newTestClient(t)
	sock := orderEventsSocket(t, c)

	frame := []byte(`[{
		"type":"initial","order_id":"380713423","api_session":"UI","symbol":"btcusd",
		"side":"buy","order_type":"exchange limit","timestampms":1547743134271,
		"is_live":true,"is_cancelled":false,"is_hidden":false,
		"avg_execution_price":"3715.00","executed_amount":"0.1",
		"remaining_amount":"4.9","original_amount":"5","price":"3715.00",
		"socket_sequence":0
	}]`)
	require.NoError(t, c.handleOrderFrame(sock, frame))

	order, ok := c.st.Order("380713423")
	require.True(t, ok)
	assert.Equal(t, core.SideBid, order.Side)
	assert.Equal(t, core.StatusOpen, order.Status)
	assert.True(t, order.Amount.Equal(decimal.RequireFromString("5")))
	assert.True(t, order.Filled.Equal(decimal.RequireFromString("0.1")))

	// The same order announced twice is an id collision.
	frame = []byte(`[{
		"type":"initial","order_id":"380713423","symbol":"btcusd","side":"buy",
		"order_type":"exchange limit","is_live":true,
		"remaining_amount":"5","original_amount":"5","price":"3715.00",
		"socket_sequence":1
	}]`)
	err := c.handleOrderFrame(sock, frame)
	assert.ErrorIs(t, err, apperrors.ErrOrderCollision)
}

func acceptedFrame(clientOrderID string, seq int64) []byte {
	return []byte(fmt.Sprintf(`{
		"type":"accepted","order_id":"372456298","event_id":"372456299",
		"client_order_id":%q,"api_session":"%s","symbol":"btcusd","side":"buy",
		"order_type":"exchange limit","timestampms":1547743070939,
		"is_live":true,"is_cancelled":false,"is_hidden":false,
		"original_amount":"14.0296","price":"3535.01","socket_sequence":%d
	}`, clientOrderID, testAPIKey, seq))
}

func TestAcceptedResolvesPendingAction(t *testing.T) {
	c := newTestClient(t)
	sock := orderEventsSocket(t, c)

	action := core.NewCreateOrder(VenueID, core.SideBid, core.TypeLimit,
		decimal.RequireFromString("14.0296"), decimal.RequireFromString("3535.01"))
	c.pendingCreates[action.ID] = action

	require.NoError(t, c.handleOrderFrame(sock, acceptedFrame(action.ID, 0)))

	assert.Equal(t, core.ActionSuccess, action.Status())
	order := action.Order()
	require.NotNil(t, order)
	assert.Equal(t, "372456298", order.OrderID)
	assert.Equal(t, core.StatusOpen, order.Status)
	assert.True(t, order.Remaining.Equal(decimal.RequireFromString("14.0296")))

	_, tracked := c.st.Order("372456298")
	assert.True(t, tracked)
	assert.Empty(t, c.pendingCreates)
}

func TestAcceptedWithoutActionIsFatal(t *testing.T) {
	c := newTestClient(t)
	sock := orderEventsSocket(t, c)

	err := c.handleOrderFrame(sock, acceptedFrame("never-sent", 0))
	assert.ErrorIs(t, err, apperrors.ErrNoMatchingAction)
}

func TestRejectedFailsActionAndPreservesAmount(t *testing.T) {
	c := newTestClient(t)
	sock := orderEventsSocket(t, c)

	action := core.NewCreateOrder(VenueID, core.SideBid, core.TypeLimit,
		decimal.RequireFromString("5"), decimal.RequireFromString("703.14"))
	c.pendingCreates[action.ID] = action

	frame := []byte(fmt.Sprintf(`{
		"type":"rejected","order_id":"104246","event_id":"104247",
		"reason":"InvalidPrice","client_order_id":%q,"symbol":"btcusd",
		"side":"buy","order_type":"exchange limit","timestampms":1547763212379,
		"is_live":false,"original_amount":"5","price":"703.14","socket_sequence":0
	}`, action.ID))
	require.NoError(t, c.handleOrderFrame(sock, frame))

	assert.Equal(t, core.ActionFailed, action.Status())
	order := action.Order()
	require.NotNil(t, order)
	assert.Equal(t, core.StatusClosed, order.Status)
	assert.True(t, order.Amount.Equal(decimal.RequireFromString("5")))
	assert.True(t, order.Filled.IsZero())
}

func TestFillUpdatesOrderAndClosesWhenDone(t *testing.T) {
	c := newTestClient(t)
	sock := orderEventsSocket(t, c)

	action := core.NewCreateOrder(VenueID, core.SideBid, core.TypeLimit,
		decimal.RequireFromString("1"), decimal.RequireFromString("3593.00"))
	c.pendingCreates[action.ID] = action
	frame := []byte(fmt.Sprintf(`{
		"type":"accepted","order_id":"109535951","client_order_id":%q,
		"symbol":"btcusd","side":"buy","order_type":"exchange limit",
		"is_live":true,"original_amount":"1","price":"3593.00","socket_sequence":0
	}`, action.ID))
	require.NoError(t, c.handleOrderFrame(sock, frame))

	partial := []byte(`{
		"type":"fill","order_id":"109535951","api_session":"` + testAPIKey + `",
		"symbol":"btcusd","side":"buy","order_type":"exchange limit",
		"timestampms":1547743216580,"is_live":true,"is_cancelled":false,
		"avg_execution_price":"3592.23","executed_amount":"0.4",
		"remaining_amount":"0.6","original_amount":"1","price":"3593.00",
		"socket_sequence":1,
		"fill":{"trade_id":"109535970","liquidity":"Taker","price":"3592.23","amount":"0.4","fee":"0.0359223","fee_currency":"USD"}
	}`)
	require.NoError(t, c.handleOrderFrame(sock, partial))

	order, ok := c.st.Order("109535951")
	require.True(t, ok)
	assert.Equal(t, core.StatusOpen, order.Status)
	assert.True(t, order.Filled.Equal(decimal.RequireFromString("0.4")))

	final := []byte(`{
		"type":"fill","order_id":"109535951","symbol":"btcusd","side":"buy",
		"order_type":"exchange limit","is_live":false,
		"avg_execution_price":"3592.50","executed_amount":"1",
		"remaining_amount":"0","original_amount":"1","price":"3593.00",
		"socket_sequence":2,
		"fill":{"trade_id":"109535971","liquidity":"Taker","price":"3592.68","amount":"0.6","fee":"0.0538902","fee_currency":"USD"}
	}`)
	require.NoError(t, c.handleOrderFrame(sock, final))

	order, ok = c.st.Order("109535951")
	require.True(t, ok)
	assert.Equal(t, core.StatusClosed, order.Status)
	assert.True(t, order.Remaining.IsZero())
	assert.True(t, order.AveragePrice.Equal(decimal.RequireFromString("3592.50")))
}

func TestFillForUnknownOrderIsFatal(t *testing.T) {
	c := newTestClient(t)
	sock := orderEventsSocket(t, c)

	frame := []byte(`{
		"type":"fill","order_id":"not-tracked","symbol":"btcusd","side":"buy",
		"order_type":"exchange limit","is_live":true,
		"avg_execution_price":"10","executed_amount":"1","remaining_amount":"0",
		"original_amount":"1","socket_sequence":0
	}`)
	err := c.handleOrderFrame(sock, frame)
	assert.ErrorIs(t, err, apperrors.ErrUnknownOrder)
}

func trackOpenOrder(t *testing.T, c *Client, orderID string) {
	t.Helper()
	require.NoError(t, c.st.SetOrder(core.Order{
		OrderID:   orderID,
		Symbol:    "btcusd",
		Side:      core.SideBid,
		Type:      core.TypeLimit,
		Amount:    decimal.RequireFromString("1"),
		Price:     decimal.RequireFromString("3000"),
		Remaining: decimal.RequireFromString("1"),
		Status:    core.StatusOpen,
	}))
}

func cancelledFrame(orderID string, seq int64) []byte {
	return []byte(fmt.Sprintf(`{
		"type":"cancelled","order_id":%q,"symbol":"btcusd","side":"buy",
		"order_type":"exchange limit","is_live":false,"is_cancelled":true,
		"remaining_amount":"1","original_amount":"1","price":"3000",
		"socket_sequence":%d
	}`, orderID, seq))
}

func TestCancelledResolvesRequestedCancel(t *testing.T) {
	c := newTestClient(t)
	sock := orderEventsSocket(t, c)
	trackOpenOrder(t, c, "ord-77")

	cancel := core.NewCancelOrder(VenueID, "ord-77")
	c.pendingCancels["ord-77"] = cancel

	require.NoError(t, c.handleOrderFrame(sock, cancelledFrame("ord-77", 0)))

	assert.Equal(t, core.ActionSuccess, cancel.Status())
	order, _ := c.st.Order("ord-77")
	assert.Equal(t, core.StatusCancelled, order.Status)
	assert.Empty(t, c.pendingCancels)
}

func TestUnrequestedCancellationIsFatal(t *testing.T) {
	c := newTestClient(t)
	sock := orderEventsSocket(t, c)
	trackOpenOrder(t, c, "ord-77")

	err := c.handleOrderFrame(sock, cancelledFrame("ord-77", 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without request")
}

func TestCancelRejectedFailsAction(t *testing.T) {
	c := newTestClient(t)
	sock := orderEventsSocket(t, c)
	trackOpenOrder(t, c, "ord-77")

	cancel := core.NewCancelOrder(VenueID, "ord-77")
	c.pendingCancels["ord-77"] = cancel

	frame := []byte(`{
		"type":"cancel_rejected","order_id":"ord-77","reason":"IneligibleTiming",
		"symbol":"btcusd","side":"buy","order_type":"exchange limit",
		"is_live":true,"remaining_amount":"1","original_amount":"1",
		"price":"3000","socket_sequence":0
	}`)
	require.NoError(t, c.handleOrderFrame(sock, frame))
	assert.Equal(t, core.ActionFailed, cancel.Status())
}

func TestClosedAfterCancelledIsIgnored(t *testing.T) {
	c := newTestClient(t)
	sock := orderEventsSocket(t, c)
	trackOpenOrder(t, c, "ord-77")
	c.pendingCancels["ord-77"] = core.NewCancelOrder(VenueID, "ord-77")

	require.NoError(t, c.handleOrderFrame(sock, cancelledFrame("ord-77", 0)))

	closed := []byte(`{
		"type":"closed","order_id":"ord-77","symbol":"btcusd","side":"buy",
		"order_type":"exchange limit","is_live":false,"is_cancelled":true,
		"remaining_amount":"1","original_amount":"1","socket_sequence":1
	}`)
	require.NoError(t, c.handleOrderFrame(sock, closed))

	order, _ := c.st.Order("ord-77")
	assert.Equal(t, core.StatusCancelled, order.Status)
}

func TestBatchedEventsShareOneSequence(t *testing.T) {
	c := newTestClient(t)
	sock := orderEventsSocket(t, c)

	frame := []byte(`[
		{"type":"booked","order_id":"372456298","symbol":"btcusd","side":"buy",
		 "order_type":"exchange limit","is_live":true,
		 "original_amount":"1","price":"3535.01","socket_sequence":0},
		{"type":"booked","order_id":"372456300","symbol":"btcusd","side":"buy",
		 "order_type":"exchange limit","is_live":true,
		 "original_amount":"1","price":"3530.00"}
	]`)
	require.NoError(t, c.handleOrderFrame(sock, frame))
	assert.Equal(t, int64(1), sock.expectedSeq)
}

func TestOrderEventSequenceGapIsFatal(t *testing.T) {
	c := newTestClient(t)
	sock := orderEventsSocket(t, c)

	// socket_sequence jumps from an expected 0 to 7.
	frame := []byte(`{
		"type":"booked","order_id":"1","symbol":"btcusd","side":"buy",
		"order_type":"exchange limit","is_live":true,"original_amount":"1",
		"price":"3000","socket_sequence":7
	}`)
	err := c.handleOrderFrame(sock, frame)
	assert.ErrorIs(t, err, apperrors.ErrSequenceGap)
}

func TestUnknownOrderEventTypeIsFatal(t *testing.T) {
	c := newTestClient(t)
	sock := orderEventsSocket(t, c)

	err := c.handleOrderFrame(sock, []byte(`{"type":"self_trade_prevented","socket_sequence":0}`))
	assert.ErrorIs(t, err, apperrors.ErrUnexpectedMessage)
}

func TestOrderFromEvent(t *testing.T) {
	order, err := orderFromEvent(orderEvent{
		Type:            "accepted",
		OrderID:         "42",
		Symbol:          "btcusd",
		Side:            "sell",
		OrderType:       "market sell",
		IsLive:          false,
		OriginalAmount:  "0.5",
		ExecutedAmount:  "0.5",
		RemainingAmount: "0",
	})
	require.NoError(t, err)
	assert.Equal(t, core.SideAsk, order.Side)
	assert.Equal(t, core.TypeMarket, order.Type)
	assert.Equal(t, core.StatusClosed, order.Status)
	assert.True(t, order.Remaining.IsZero())

	_, err = orderFromEvent(orderEvent{Side: "short", OriginalAmount: "1"})
	assert.ErrorIs(t, err, apperrors.ErrUnexpectedMessage)
}

func TestSignerNonceIsStrictlyIncreasing(t *testing.T) {
	s := NewSigner("key", "secret")
	s.now = func() time.Time { return time.UnixMilli(1500000000000) }

	first := s.nonce()
	second := s.nonce()
	third := s.nonce()
	assert.Equal(t, int64(1500000000000), first)
	assert.Equal(t, first+1, second)
	assert.Equal(t, second+1, third)
}

func TestSignerPayloadAndHeaders(t *testing.T) {
	s := NewSigner("mykey", "1234abcd")

	header, err := s.StreamHeaders("/v1/order/events")
	require.NoError(t, err)
	assert.Equal(t, "mykey", header.Get("X-GEMINI-APIKEY"))
	assert.Len(t, header.Get("X-GEMINI-SIGNATURE"), 96) // hex SHA-384

	raw, err := base64.StdEncoding.DecodeString(header.Get("X-GEMINI-PAYLOAD"))
	require.NoError(t, err)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "/v1/order/events", payload["request"])
	assert.Contains(t, payload, "nonce")
}

func TestSignRequestMovesBodyToHeaders(t *testing.T) {
	s := NewSigner("mykey", "1234abcd")
	body := []byte(`{"order_id":"42"}`)
	req, err := http.NewRequest(http.MethodPost, "https://api.gemini.com/v1/order/cancel", nil)
	require.NoError(t, err)

	require.NoError(t, s.SignRequest(req, body))

	assert.Equal(t, http.NoBody, req.Body)
	assert.Zero(t, req.ContentLength)
	assert.Equal(t, "text/plain", req.Header.Get("Content-Type"))

	raw, err := base64.StdEncoding.DecodeString(req.Header.Get("X-GEMINI-PAYLOAD"))
	require.NoError(t, err)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "42", payload["order_id"])
	assert.Equal(t, "/v1/order/cancel", payload["request"])
}
