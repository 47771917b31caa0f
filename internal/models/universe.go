package models

import "time"

// Product: инструмент из REST-каталога биржи.
type Product struct {
	ID              string `json:"id"`
	BaseCurrency    string `json:"base_currency"`
	QuoteCurrency   string `json:"quote_currency"`
	Status          string `json:"status"`
	StatusMessage   string `json:"status_message"`
	TradingDisabled bool   `json:"trading_disabled"`
	AuctionMode     bool   `json:"auction_mode"`
	CancelOnly      bool   `json:"cancel_only"`
	LimitOnly       bool   `json:"limit_only"`
	PostOnly        bool   `json:"post_only"`
}

// ProductTicker: REST тикер, числа приходят строками.
type ProductTicker struct {
	Price   string `json:"price"`
	Volume  string `json:"volume"`
	Open24h string `json:"open_24h"`
}

// UniverseSnapshot заменяется целиком при каждом обновлении.
type UniverseSnapshot struct {
	ProductIDs  []string
	Volumes     map[string]float64
	LastUpdated time.Time
}
