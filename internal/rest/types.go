package rest

import "encoding/json"

// Pool is one liquidity pool snapshot row.
type Pool struct {
	PoolID       string `json:"poolId"`
	CoinTypeA    string `json:"coinTypeA"`
	CoinTypeB    string `json:"coinTypeB"`
	AmountA      string `json:"amountA"`
	AmountB      string `json:"amountB"`
	FeeRateBps   int    `json:"feeRateBps"`
	TxCount      int64  `json:"txCount"`
	UpdatedAtMs  int64  `json:"updatedAtMs"`
}

// Trade is one executed trade snapshot row.
type Trade struct {
	TxHash      string `json:"txHash"`
	PoolID      string `json:"poolId"`
	Pair        string `json:"pair"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Amount      string `json:"amount"`
	TimestampMs int64  `json:"timestampMs"`
}

// OrderBookLevel is one price level of an order book side.
type OrderBookLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

// OrderBook is a depth snapshot for one pair.
type OrderBook struct {
	Pair        string           `json:"pair"`
	Bids        []OrderBookLevel `json:"bids"`
	Asks        []OrderBookLevel `json:"asks"`
	TimestampMs int64            `json:"timestampMs"`
}

// NFT is one NFT object snapshot row.
type NFT struct {
	ObjectID   string          `json:"objectId"`
	Collection string          `json:"collection"`
	Owner      string          `json:"owner"`
	Name       string          `json:"name"`
	Fields     json.RawMessage `json:"fields"`
}

// Page wraps one page of snapshot rows.
type Page[T any] struct {
	Items       []T  `json:"items"`
	Page        int  `json:"page"`
	HasNextPage bool `json:"hasNextPage"`
}

// PoolsParams parameterize a pools snapshot query.
type PoolsParams struct {
	CoinType string
	Page     int
	Limit    int
}

// TradesParams parameterize a trades snapshot query.
type TradesParams struct {
	PoolID  string
	Pair    string
	SinceMs int64
	Page    int
	Limit   int
}

// NFTParams parameterize an NFT snapshot query.
type NFTParams struct {
	Collection string
	Owner      string
	Page       int
	Limit      int
}
