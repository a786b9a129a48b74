package protocol

import (
	"fmt"
	"strconv"

	"matchline/internal/common"
)

// messageTerminator is appended after every complete response fragment;
// spec.md's "double newline = message boundary" rule.
const messageTerminator = "\n\n"

// formatPrice renders a price the way spec.md's wire examples do: no
// forced trailing zeros ("100", not "100.00"), but full precision when a
// price is not a whole number.
func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', -1, 64)
}

// FormatWelcome is the fixed startup banner sent once per session.
func FormatWelcome() string {
	return "Welcome to the matching engine. Commands:\n" +
		"  BUY <price> <qty>    e.g. BUY 100.50 10\n" +
		"  SELL <price> <qty>   e.g. SELL 100.50 10\n" +
		"  CANCEL <order_id>    e.g. CANCEL 42\n" +
		"  DC                   disconnect" +
		messageTerminator
}

// FormatConfirmation is the originator's acknowledgement that an order was
// accepted into the book.
func FormatConfirmation(orderID uint64) string {
	return fmt.Sprintf("CONFIRMED OrderID: %d%s", orderID, messageTerminator)
}

// FormatTrade is the detailed, counterparty-identifying trade line sent
// only to the session whose order triggered the match.
func FormatTrade(trade common.Trade) string {
	return fmt.Sprintf(
		"TRADE BuyID: %d, SellID: %d, Price: %s, Quantity: %d%s",
		trade.BuyOrderID, trade.SellOrderID, formatPrice(trade.Price), trade.Quantity, messageTerminator,
	)
}

// FormatMarketTrade is the redacted, counterparty-blind line broadcast to
// every session other than the one whose order triggered the match.
func FormatMarketTrade(trade common.Trade) string {
	return fmt.Sprintf(
		"MARKET TRADE Price: %s, Quantity: %d%s",
		formatPrice(trade.Price), trade.Quantity, messageTerminator,
	)
}

// FormatCancelled acknowledges a successful cancellation.
func FormatCancelled(orderID uint64) string {
	return fmt.Sprintf("CANCELLED OrderID: %d%s", orderID, messageTerminator)
}

// FormatNotFound reports a cancellation of an unknown or already-filled
// order id.
func FormatNotFound(orderID uint64) string {
	return fmt.Sprintf("ORDER NOT FOUND: %d%s", orderID, messageTerminator)
}

// FormatInvalid reports any parse or validation failure.
func FormatInvalid() string {
	return "INVALID INPUT" + messageTerminator
}

// FormatDisconnecting acknowledges a DC command immediately before the
// session is torn down.
func FormatDisconnecting() string {
	return "Disconnecting..." + messageTerminator
}
