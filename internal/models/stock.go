package models

import (
	"github.com/shopspring/decimal"
)

// Listed stock as returned by the stocks endpoint
// Only the fields shown by the client are decoded
type Stock struct {
	ID              int64           `json:"id"`
	TickerSymbol    string          `json:"ticker_symbol"`
	CompanyName     string          `json:"company_name"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	AvailableShares int64           `json:"available_shares"`
}

type Order struct {
	ID             int64            `json:"id"`
	StockSymbol    string           `json:"stock_symbol"`
	OrderType      string           `json:"order_type"`
	Action         string           `json:"action"`
	Price          *decimal.Decimal `json:"price"` // nil for market orders
	Quantity       int64            `json:"quantity"`
	Status         string           `json:"status"`
	TransactionFee decimal.Decimal  `json:"transaction_fee"`
}
