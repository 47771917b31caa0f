package service

import "sort"

// DepthLevels: сколько уровней с каждой стороны учитываем в спреде и глубине.
const DepthLevels = 10

type Level struct {
	Price float64
	Size  float64
}

type Change struct {
	Side  string // buy | sell
	Price float64
	Size  float64
}

type BookStats struct {
	BestBid   float64
	BestAsk   float64
	Mid       float64
	SpreadBps float64
	DepthUSD  float64
}

// OrderBook: эфемерная книга. Снапшот пересобирает её целиком, диффы
// до первого снапшота игнорируются. Size=0 удаляет уровень.
type OrderBook struct {
	bids  map[float64]float64
	asks  map[float64]float64
	ready bool
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		bids: make(map[float64]float64),
		asks: make(map[float64]float64),
	}
}

func (b *OrderBook) Ready() bool { return b.ready }

func (b *OrderBook) ApplySnapshot(bids, asks []Level) {
	b.bids = make(map[float64]float64, len(bids))
	b.asks = make(map[float64]float64, len(asks))
	for _, l := range bids {
		if l.Size != 0 {
			b.bids[l.Price] = l.Size
		}
	}
	for _, l := range asks {
		if l.Size != 0 {
			b.asks[l.Price] = l.Size
		}
	}
	b.ready = true
}

// ApplyChanges возвращает false, если снапшота ещё не было.
func (b *OrderBook) ApplyChanges(changes []Change) bool {
	if !b.ready {
		return false
	}
	for _, ch := range changes {
		var side map[float64]float64
		switch ch.Side {
		case "buy":
			side = b.bids
		case "sell":
			side = b.asks
		default:
			continue
		}
		if ch.Size == 0 {
			delete(side, ch.Price)
		} else {
			side[ch.Price] = ch.Size
		}
	}
	return true
}

// TopBids: лучшие n бидов, по убыванию цены.
func (b *OrderBook) TopBids(n int) []Level {
	return top(b.bids, n, func(a, c float64) bool { return a > c })
}

// TopAsks: лучшие n асков, по возрастанию цены.
func (b *OrderBook) TopAsks(n int) []Level {
	return top(b.asks, n, func(a, c float64) bool { return a < c })
}

// Stats считает спред и глубину по верхним n уровням; ok=false, если
// какая-то сторона пуста.
func (b *OrderBook) Stats(n int) (BookStats, bool) {
	bids := b.TopBids(n)
	asks := b.TopAsks(n)
	if len(bids) == 0 || len(asks) == 0 {
		return BookStats{}, false
	}

	st := BookStats{BestBid: bids[0].Price, BestAsk: asks[0].Price}
	st.Mid = (st.BestBid + st.BestAsk) / 2
	if st.Mid != 0 {
		st.SpreadBps = (st.BestAsk - st.BestBid) / st.Mid * 10000
	}
	for _, l := range bids {
		st.DepthUSD += l.Price * l.Size
	}
	for _, l := range asks {
		st.DepthUSD += l.Price * l.Size
	}
	return st, true
}

func top(side map[float64]float64, n int, less func(a, b float64) bool) []Level {
	prices := make([]float64, 0, len(side))
	for p := range side {
		prices = append(prices, p)
	}
	sort.Slice(prices, func(i, j int) bool { return less(prices[i], prices[j]) })
	if len(prices) > n {
		prices = prices[:n]
	}
	out := make([]Level, 0, len(prices))
	for _, p := range prices {
		out = append(out, Level{Price: p, Size: side[p]})
	}
	return out
}
