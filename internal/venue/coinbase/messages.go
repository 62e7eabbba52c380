package coinbase

import "encoding/json"

// frameHead carries the discriminator shared by every stream frame.
type frameHead struct {
	Type string `json:"type"`
}

type subscribeFrame struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`

	// Auth fields, present only when credentials are configured.
	Signature  string `json:"signature,omitempty"`
	Key        string `json:"key,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}

type subscriptionsFrame struct {
	Channels []struct {
		Name       string   `json:"name"`
		ProductIDs []string `json:"product_ids"`
	} `json:"channels"`
}

// snapshotFrame levels are [price, quantity] string pairs.
type snapshotFrame struct {
	ProductID string     `json:"product_id"`
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
}

// l2updateFrame changes are [side, price, quantity] with side "buy"|"sell".
type l2updateFrame struct {
	ProductID string     `json:"product_id"`
	Changes   [][]string `json:"changes"`
}

type heartbeatFrame struct {
	Sequence    int64  `json:"sequence"`
	LastTradeID int64  `json:"last_trade_id"`
	ProductID   string `json:"product_id"`
	Time        string `json:"time"`
}

// orderFrame covers the user-channel lifecycle events: received, open,
// match, done, change. Fields are populated per type.
type orderFrame struct {
	Type          string `json:"type"`
	OrderID       string `json:"order_id"`
	ClientOID     string `json:"client_oid"`
	Side          string `json:"side"` // "buy" | "sell"
	OrderType     string `json:"order_type"`
	Size          string `json:"size"`
	Price         string `json:"price"`
	RemainingSize string `json:"remaining_size"`
	Reason        string `json:"reason"` // done: "filled" | "canceled"
	MakerOrderID  string `json:"maker_order_id"`
	TakerOrderID  string `json:"taker_order_id"`
	NewSize       string `json:"new_size"`
	OldSize       string `json:"old_size"`
}

type accountEntry struct {
	ID        string `json:"id"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
	Hold      string `json:"hold"`
}

type placeOrderRequest struct {
	ClientOID string `json:"client_oid"`
	ProductID string `json:"product_id"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Size      string `json:"size"`
	Price     string `json:"price,omitempty"`
}

type placeOrderResponse struct {
	ID string `json:"id"`
}

func decodeInto(frame []byte, v interface{}) error {
	return json.Unmarshal(frame, v)
}
