package types

import "time"

// Position is an open position as reported by a terminal bridge.
type Position struct {
	Ticket     int64     `json:"ticket"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"type"`
	Volume     float64   `json:"volume"`
	OpenPrice  float64   `json:"open_price"`
	StopLoss   float64   `json:"sl,omitempty"`
	TakeProfit float64   `json:"tp,omitempty"`
	Profit     float64   `json:"profit"`
	Comment    string    `json:"comment,omitempty"`
	OpenedAt   time.Time `json:"opened_at"`
}

// AccountInfo is a snapshot of a terminal account.
type AccountInfo struct {
	Login      string  `json:"login"`
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	FreeMargin float64 `json:"free_margin"`
	Currency   string  `json:"currency"`
}

// SymbolLimits are the broker constraints for sizing an order on a symbol.
type SymbolLimits struct {
	MinLot       float64 `json:"min_lot"`
	MaxLot       float64 `json:"max_lot"`
	LotStep      float64 `json:"lot_step"`
	MarginPerLot float64 `json:"margin_per_lot"`
}

// OrderSpec describes an order to submit on a copier terminal.
type OrderSpec struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"type"`
	Volume     float64 `json:"volume"`
	StopLoss   float64 `json:"sl,omitempty"`
	TakeProfit float64 `json:"tp,omitempty"`
	Slippage   int     `json:"slippage,omitempty"` // points
	Filling    string  `json:"filling,omitempty"`  // "FOK", "IOC"
	Comment    string  `json:"comment,omitempty"`
}

// OrderRevision carries the mutable fields of a modify request.
type OrderRevision struct {
	StopLoss   float64 `json:"sl"`
	TakeProfit float64 `json:"tp"`
}
