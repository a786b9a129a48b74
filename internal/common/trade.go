package common

import "fmt"

// Trade is a completed execution between a resting buy and a resting sell
// order. Once appended to a book's trade log it is never mutated.
type Trade struct {
	BuyOrderID  uint64
	SellOrderID uint64
	Price       float64
	Quantity    uint64
}

func (t Trade) String() string {
	return fmt.Sprintf(
		"Trade{BuyID: %d, SellID: %d, Price: %.2f, Quantity: %d}",
		t.BuyOrderID, t.SellOrderID, t.Price, t.Quantity,
	)
}
