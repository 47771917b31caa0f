package service

// типы входящих сообщений фида
const (
	TypeTicker        = "ticker"
	TypeMatch         = "match"
	TypeSnapshot      = "snapshot"
	TypeL2Update      = "l2update"
	TypeSubscriptions = "subscriptions"
	TypeError         = "error"
)

// DefaultChannels: ticker / trades / order book diffs.
var DefaultChannels = []string{"ticker", "matches", "level2"}

// Message: плоское представление всех типов, различаются по Type.
// Числа биржа присылает строками.
type Message struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`

	// ticker
	Price     string `json:"price"`
	Open24h   string `json:"open_24h"`
	Volume24h string `json:"volume_24h"`

	// match
	Size string `json:"size"`
	Side string `json:"side"`

	// snapshot: [[price, size], ...]
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`

	// l2update: [[side, price, size], ...]
	Changes [][]string `json:"changes"`

	// error
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

type subscription struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}
