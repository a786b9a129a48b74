package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Buy(t *testing.T) {
	cmd, err := Parse("BUY 100.50 10")
	require.NoError(t, err)
	assert.Equal(t, Command{Kind: KindBuy, Price: 100.50, Quantity: 10}, cmd)
}

func TestParse_Sell(t *testing.T) {
	cmd, err := Parse("SELL 99 5")
	require.NoError(t, err)
	assert.Equal(t, Command{Kind: KindSell, Price: 99, Quantity: 5}, cmd)
}

func TestParse_Cancel(t *testing.T) {
	cmd, err := Parse("CANCEL 42")
	require.NoError(t, err)
	assert.Equal(t, Command{Kind: KindCancel, OrderID: 42}, cmd)
}

func TestParse_Disconnect(t *testing.T) {
	cmd, err := Parse("DC")
	require.NoError(t, err)
	assert.Equal(t, Command{Kind: KindDisconnect}, cmd)
}

func TestParse_CaseInsensitiveCommandToken(t *testing.T) {
	cmd, err := Parse("buy 100 1")
	require.NoError(t, err)
	assert.Equal(t, KindBuy, cmd.Kind)
}

func TestParse_RejectsEmptyLine(t *testing.T) {
	_, err := Parse("")
	assert.ErrorIs(t, err, ErrEmptyLine)

	_, err = Parse("   ")
	assert.ErrorIs(t, err, ErrEmptyLine)
}

func TestParse_RejectsUnknownCommand(t *testing.T) {
	_, err := Parse("FROB 1 2")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestParse_RejectsMissingArgs(t *testing.T) {
	_, err := Parse("BUY 100")
	assert.ErrorIs(t, err, ErrMalformedArgs)

	_, err = Parse("CANCEL")
	assert.ErrorIs(t, err, ErrMalformedArgs)

	_, err = Parse("DC extra")
	assert.ErrorIs(t, err, ErrMalformedArgs)
}

func TestParse_RejectsNonNumericArgs(t *testing.T) {
	_, err := Parse("BUY abc 10")
	assert.ErrorIs(t, err, ErrMalformedArgs)

	_, err = Parse("BUY 100 xyz")
	assert.ErrorIs(t, err, ErrMalformedArgs)

	_, err = Parse("CANCEL abc")
	assert.ErrorIs(t, err, ErrMalformedArgs)
}

func TestParse_RejectsOutOfRangeValues(t *testing.T) {
	_, err := Parse("BUY 0 10")
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = Parse("BUY -5 10")
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = Parse("SELL 100 0")
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = Parse("CANCEL 0")
	assert.ErrorIs(t, err, ErrOutOfRange)
}
