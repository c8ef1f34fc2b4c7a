package api

import "github.com/shrub-finance/shrub-go/pkg/order"

// API request/response types for REST endpoints and WebSocket messages.
// Fixed-point amounts travel as decimal strings.

// LevelInfo is one resting price level.
type LevelInfo struct {
	UnitPrice   string `json:"unitPrice"`
	Size        string `json:"size"`
	User        string `json:"user"`
	BlockHeight uint64 `json:"blockHeight"`
}

// OrderbookResponse is both sides of the book for one option contract.
// Buys sorted best bid first, sells best ask first.
type OrderbookResponse struct {
	PositionHash string      `json:"positionHash"`
	Buys         []LevelInfo `json:"buys"`
	Sells        []LevelInfo `json:"sells"`
	Timestamp    int64       `json:"timestamp"` // unix seconds
	Height       uint64      `json:"height"`
}

// BalanceResponse reports one asset balance for an account.
type BalanceResponse struct {
	Address   string `json:"address"`
	Asset     string `json:"asset"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

// PositionInfo is one net option position.
type PositionInfo struct {
	PositionHash string `json:"positionHash"`
	Balance      string `json:"balance"` // +long / -short, in contracts
}

// SubmitOrderRequest announces a signed limit order.
type SubmitOrderRequest struct {
	Order *order.SignedOrder `json:"order"`
}

// MarketQuoteRequest asks the server to walk the book for a market
// order of the given size. The walk runs server-side; signing stays
// with the client, which submits the result via MatchRequest.
type MarketQuoteRequest struct {
	PositionHash string `json:"positionHash"`
	Side         string `json:"side"` // "buy" | "sell"
	Size         string `json:"size"`
}

// MarketQuoteResponse is the assembled counterparty set and the total
// price the taker must sign for.
type MarketQuoteResponse struct {
	Orders     []*order.SignedOrder `json:"orders"`
	TotalPrice string               `json:"totalPrice"`
	FilledSize string               `json:"filledSize"`
	Skipped    int                  `json:"skipped"`
}

// MatchRequest submits matched signed order sets for settlement.
type MatchRequest struct {
	BuyOrders  []*order.SignedOrder `json:"buyOrders"`
	SellOrders []*order.SignedOrder `json:"sellOrders"`
}

// TxResponse reports a submitted transaction's outcome.
type TxResponse struct {
	TxHash      string `json:"txHash"`
	Status      string `json:"status"` // "confirmed" | "reverted"
	BlockNumber uint64 `json:"blockNumber"`
	Message     string `json:"message,omitempty"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WSSubscribeRequest is sent by a client to manage channel
// subscriptions, e.g. {"op":"subscribe","channels":["orderbook:0x..."]}.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// OrderbookUpdate is broadcast to orderbook:<positionHash> subscribers
// on every poll tick.
type OrderbookUpdate struct {
	Type         string      `json:"type"` // "orderbook"
	PositionHash string      `json:"positionHash"`
	Buys         []LevelInfo `json:"buys"`
	Sells        []LevelInfo `json:"sells"`
	Timestamp    int64       `json:"timestamp"`
	Height       uint64      `json:"height"`
}
