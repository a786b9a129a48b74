// Package engine implements the single-instrument price-time-priority
// order book: insertion, cancellation, and continuous matching.
package engine

import (
	"errors"
	"sync"

	"github.com/tidwall/btree"

	"matchline/internal/common"
)

var (
	// ErrInvalidPrice is returned by AddOrder when price <= 0.
	ErrInvalidPrice = errors.New("engine: price must be positive")
	// ErrInvalidQuantity is returned by AddOrder when quantity <= 0.
	ErrInvalidQuantity = errors.New("engine: quantity must be positive")
)

// priceLevel holds every resting order at a single price, oldest first.
// FIFO order within a level is what gives equal-price orders time
// priority: the earliest arrival is always at index 0.
type priceLevel struct {
	price  float64
	orders []*common.Order
}

type priceLevels = btree.BTreeG[*priceLevel]

// orderRef locates an order's resting side and price so CancelOrder does
// not need to scan every level on both sides of the book.
type orderRef struct {
	side  common.Side
	price float64
}

// OrderBook is an in-memory two-sided book for a single instrument.
//
// The book is safe for concurrent use: AddOrder, CancelOrder, MatchOrders,
// and RecentTrades all take the same mutex. spec.md's "single-threaded
// event loop" framing assumes one serializing goroutine; this module
// instead lets each session's own goroutine call straight into the shared
// book, so the mutex is what gives the invariants their safety here — see
// DESIGN.md's "Open Question resolutions" for the rationale.
type OrderBook struct {
	mu sync.Mutex

	bids *priceLevels // best-first: highest price first
	asks *priceLevels // best-first: lowest price first

	byID map[uint64]orderRef

	nextOrderID uint64
	trades      []common.Trade
	cursor      int
}

// New constructs an empty order book.
func New() *OrderBook {
	return &OrderBook{
		bids: btree.NewBTreeG(func(a, b *priceLevel) bool {
			return a.price > b.price
		}),
		asks: btree.NewBTreeG(func(a, b *priceLevel) bool {
			return a.price < b.price
		}),
		byID:        make(map[uint64]orderRef),
		nextOrderID: 1,
	}
}

// AddOrder inserts a new resting order and returns its assigned id. It does
// not match; callers must invoke MatchOrders separately.
func (b *OrderBook) AddOrder(side common.Side, price float64, quantity uint64) (uint64, error) {
	if price <= 0 {
		return 0, ErrInvalidPrice
	}
	if quantity == 0 {
		return 0, ErrInvalidQuantity
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextOrderID
	b.nextOrderID++

	order := &common.Order{ID: id, Side: side, Price: price, Quantity: quantity}
	levels := b.levelsFor(side)
	b.insert(levels, order)
	b.byID[id] = orderRef{side: side, price: price}

	return id, nil
}

func (b *OrderBook) levelsFor(side common.Side) *priceLevels {
	if side == common.Buy {
		return b.bids
	}
	return b.asks
}

func (b *OrderBook) insert(levels *priceLevels, order *common.Order) {
	level, ok := levels.Get(&priceLevel{price: order.Price})
	if ok {
		level.orders = append(level.orders, order)
		return
	}
	levels.Set(&priceLevel{price: order.Price, orders: []*common.Order{order}})
}

// CancelOrder removes the resting order with the given id, if present.
// Cancellation of a fully-filled or never-existing id returns false, not
// an error.
func (b *OrderBook) CancelOrder(orderID uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ref, ok := b.byID[orderID]
	if !ok {
		return false
	}

	levels := b.levelsFor(ref.side)
	level, ok := levels.Get(&priceLevel{price: ref.price})
	if !ok {
		delete(b.byID, orderID)
		return false
	}

	for i, order := range level.orders {
		if order.ID != orderID {
			continue
		}
		level.orders = append(level.orders[:i], level.orders[i+1:]...)
		if len(level.orders) == 0 {
			levels.Delete(level)
		}
		delete(b.byID, orderID)
		return true
	}

	delete(b.byID, orderID)
	return false
}

// MatchOrders repeatedly crosses the best bid against the best ask until
// either side is empty or the book is no longer crossed. Execution always
// happens at the resting sell's price — the "maker price wins" rule spec'd
// for this engine.
func (b *OrderBook) MatchOrders() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		bestBid, bidOK := b.bids.Min()
		bestAsk, askOK := b.asks.Min()
		if !bidOK || !askOK || bestBid.price < bestAsk.price {
			return
		}

		buyOrder := bestBid.orders[0]
		sellOrder := bestAsk.orders[0]

		quantity := min(buyOrder.Quantity, sellOrder.Quantity)
		price := sellOrder.Price

		b.trades = append(b.trades, common.Trade{
			BuyOrderID:  buyOrder.ID,
			SellOrderID: sellOrder.ID,
			Price:       price,
			Quantity:    quantity,
		})

		buyOrder.Quantity -= quantity
		sellOrder.Quantity -= quantity

		if buyOrder.Quantity == 0 {
			b.removeHead(b.bids, bestBid, buyOrder.ID)
		}
		if sellOrder.Quantity == 0 {
			b.removeHead(b.asks, bestAsk, sellOrder.ID)
		}
	}
}

// removeHead drops the front (oldest) order of a level once it is fully
// filled, deleting the level entirely if it was the last order resting at
// that price.
func (b *OrderBook) removeHead(levels *priceLevels, level *priceLevel, orderID uint64) {
	level.orders = level.orders[1:]
	if len(level.orders) == 0 {
		levels.Delete(level)
	}
	delete(b.byID, orderID)
}

// RecentTrades returns every trade appended since the previous call (or
// since book creation, for the first call), then advances the drain
// cursor. This is a stateful, single-consumer operation: only the caller
// that just invoked MatchOrders should call RecentTrades immediately
// after.
func (b *OrderBook) RecentTrades() []common.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cursor >= len(b.trades) {
		return nil
	}
	recent := make([]common.Trade, len(b.trades)-b.cursor)
	copy(recent, b.trades[b.cursor:])
	b.cursor = len(b.trades)
	return recent
}

// LevelSnapshot is a read-only view of a single price level, used by tests
// and by diagnostic callers that want to inspect book depth without
// holding a reference into the live book.
type LevelSnapshot struct {
	Price  float64
	Orders []common.Order
}

// Levels returns a best-first snapshot of every resting price level on the
// given side.
func (b *OrderBook) Levels(side common.Side) []LevelSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	var snapshots []LevelSnapshot
	b.levelsFor(side).Scan(func(level *priceLevel) bool {
		orders := make([]common.Order, len(level.orders))
		for i, o := range level.orders {
			orders[i] = *o
		}
		snapshots = append(snapshots, LevelSnapshot{Price: level.price, Orders: orders})
		return true
	})
	return snapshots
}

// BestBid returns the best resting buy price and whether one exists.
func (b *OrderBook) BestBid() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	level, ok := b.bids.Min()
	if !ok {
		return 0, false
	}
	return level.price, true
}

// BestAsk returns the best resting sell price and whether one exists.
func (b *OrderBook) BestAsk() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	level, ok := b.asks.Min()
	if !ok {
		return 0, false
	}
	return level.price, true
}
