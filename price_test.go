package x402

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUSDExact(t *testing.T) {
	cases := []struct {
		usd      string
		expected string
	}{
		{"$0.001", "1000"},
		{"0.000001", "1"},
		{"$1", "1000000"},
		{"$12.345678", "12345678"},
	}
	for _, c := range cases {
		resolved, err := Resolve(USD(c.usd), "base")
		require.NoError(t, err, c.usd)
		assert.Equal(t, c.expected, resolved.AtomicAmount, c.usd)
		assert.Equal(t, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", resolved.Asset)
	}
}

func TestResolveRejectsTooMuchPrecision(t *testing.T) {
	_, err := Resolve(USD("$0.0000001"), "base")
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestResolveRejectsNegative(t *testing.T) {
	_, err := Resolve(USD("-1"), "base")
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestResolveRejectsUnparsable(t *testing.T) {
	_, err := Resolve(USD("not a number"), "base")
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestResolveTokenAmountPassthrough(t *testing.T) {
	resolved, err := Resolve(InTokenAmount(TokenAmount{Amount: "42", Asset: "0xcustom", Name: "Custom", Version: "1"}), "base")
	require.NoError(t, err)
	assert.Equal(t, "42", resolved.AtomicAmount)
	assert.Equal(t, "0xcustom", resolved.Asset)
	assert.Equal(t, "Custom", resolved.ExtraName)
}

func TestResolveUnsupportedNetwork(t *testing.T) {
	_, err := Resolve(USD("$1"), "ethereum")
	assert.ErrorIs(t, err, ErrUnsupportedNetwork)
}
