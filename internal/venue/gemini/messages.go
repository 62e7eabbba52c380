package gemini

import "encoding/json"

// messageHead carries the fields shared by every frame on both streams.
type messageHead struct {
	Type           string `json:"type"`
	SocketSequence *int64 `json:"socket_sequence"`
}

type heartbeatMessage struct {
	Type           string `json:"type"`
	TimestampMs    int64  `json:"timestampms"`
	Sequence       int64  `json:"sequence"`
	SocketSequence int64  `json:"socket_sequence"`
	TraceID        string `json:"trace_id"`
}

// marketDataUpdate is one frame on the public stream. Events of type
// "change" carry book levels; trade events are ignored.
type marketDataUpdate struct {
	Type           string            `json:"type"`
	EventID        int64             `json:"eventId"`
	SocketSequence int64             `json:"socket_sequence"`
	Events         []marketDataEvent `json:"events"`
}

type marketDataEvent struct {
	Type      string `json:"type"`
	Side      string `json:"side"` // "bid" | "ask"
	Price     string `json:"price"`
	Remaining string `json:"remaining"`
	Reason    string `json:"reason"`
}

// subscriptionAck opens the order-events stream. socket_sequence 0 must
// be this frame.
type subscriptionAck struct {
	Type             string   `json:"type"`
	AccountID        int64    `json:"accountId"`
	SubscriptionID   string   `json:"subscriptionId"`
	SymbolFilter     []string `json:"symbolFilter"`
	APISessionFilter []string `json:"apiSessionFilter"`
	EventTypeFilter  []string `json:"eventTypeFilter"`
}

// orderEvent is one order lifecycle event on the private stream.
type orderEvent struct {
	Type              string          `json:"type"`
	OrderID           string          `json:"order_id"`
	EventID           string          `json:"event_id"`
	APISession        string          `json:"api_session"`
	ClientOrderID     string          `json:"client_order_id"`
	Symbol            string          `json:"symbol"`
	Side              string          `json:"side"` // "buy" | "sell"
	OrderType         string          `json:"order_type"`
	Timestamp         string          `json:"timestamp"`
	TimestampMs       int64           `json:"timestampms"`
	IsLive            bool            `json:"is_live"`
	IsCancelled       bool            `json:"is_cancelled"`
	IsHidden          bool            `json:"is_hidden"`
	AvgExecutionPrice string          `json:"avg_execution_price"`
	ExecutedAmount    string          `json:"executed_amount"`
	RemainingAmount   string          `json:"remaining_amount"`
	OriginalAmount    string          `json:"original_amount"`
	Price             string          `json:"price"`
	Reason            string          `json:"reason"`
	SocketSequence    int64           `json:"socket_sequence"`
	Fill              *orderEventFill `json:"fill"`
}

type orderEventFill struct {
	TradeID     string `json:"trade_id"`
	Liquidity   string `json:"liquidity"`
	Price       string `json:"price"`
	Amount      string `json:"amount"`
	Fee         string `json:"fee"`
	FeeCurrency string `json:"fee_currency"`
}

type balanceEntry struct {
	Type      string `json:"type"`
	Currency  string `json:"currency"`
	Amount    string `json:"amount"`
	Available string `json:"available"`
}

type newOrderRequest struct {
	ClientOrderID string   `json:"client_order_id"`
	Symbol        string   `json:"symbol"`
	Amount        string   `json:"amount"`
	Price         string   `json:"price"`
	Side          string   `json:"side"`
	Type          string   `json:"type"`
	Options       []string `json:"options,omitempty"`
}

type cancelOrderRequest struct {
	OrderID string `json:"order_id"`
}

func decodeInto(frame []byte, v interface{}) error {
	return json.Unmarshal(frame, v)
}
