package x402

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Price is either a USD string ("$0.001" or "0.001") resolved against the
// network's USDC decimals, or a pre-resolved TokenAmount naming an exact
// atomic amount and asset. Using decimal.Decimal rather than float64
// throughout keeps the USD -> atomic-unit conversion exact: a binary
// float cannot represent 0.001 precisely, and multiplying it by 10^6
// would round unpredictably.
type Price struct {
	USD         string
	TokenAmount *TokenAmount
}

// TokenAmount names an exact atomic amount of a specific asset, bypassing
// USD resolution entirely.
type TokenAmount struct {
	Amount  string // atomic units, as a decimal integer string
	Asset   string
	Name    string
	Version string
}

// USD builds a Price from a USD-denominated string such as "$0.25".
func USD(amount string) Price { return Price{USD: amount} }

// InTokenAmount builds a Price from a pre-resolved TokenAmount.
func InTokenAmount(t TokenAmount) Price { return Price{TokenAmount: &t} }

// ResolvedPrice is the result of resolving a Price against a network: the
// atomic amount to request, the asset address, and the EIP-712 domain
// fields (name, version) needed to sign over that asset.
type ResolvedPrice struct {
	AtomicAmount string
	Asset        string
	ExtraName    string
	ExtraVersion string
}

// Resolve converts p into atomic units on network. For a USD price this
// parses the decimal string exactly (no float64 round-trip) and scales it
// by the network's USDC decimals; for a TokenAmount it passes the caller's
// figures through unchanged.
func Resolve(p Price, network string) (ResolvedPrice, error) {
	if p.TokenAmount != nil {
		t := p.TokenAmount
		if t.Amount == "" || t.Asset == "" {
			return ResolvedPrice{}, NewPaymentError(ErrInvalidPrice, "token amount requires amount and asset", "", "", network, nil)
		}
		return ResolvedPrice{
			AtomicAmount: t.Amount,
			Asset:        t.Asset,
			ExtraName:    t.Name,
			ExtraVersion: t.Version,
		}, nil
	}

	if p.USD == "" {
		return ResolvedPrice{}, NewPaymentError(ErrInvalidPrice, "price is empty", "", "", network, nil)
	}

	raw := strings.TrimPrefix(strings.TrimSpace(p.USD), "$")
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return ResolvedPrice{}, NewPaymentError(ErrInvalidPrice, fmt.Sprintf("cannot parse %q as USD amount", p.USD), "", "", network, err)
	}
	if d.IsNegative() {
		return ResolvedPrice{}, NewPaymentError(ErrInvalidPrice, "price must not be negative", "", "", network, nil)
	}

	t, err := usdcToken(network)
	if err != nil {
		return ResolvedPrice{}, err
	}

	scale := decimal.New(1, t.Decimals)
	atomic := d.Mul(scale)
	if !atomic.Equal(atomic.Truncate(0)) {
		return ResolvedPrice{}, NewPaymentError(ErrInvalidPrice, fmt.Sprintf("%q has more precision than %d decimals supports", p.USD, t.Decimals), "", "", network, nil)
	}

	return ResolvedPrice{
		AtomicAmount: atomic.Truncate(0).String(),
		Asset:        t.Address,
		ExtraName:    t.Name,
		ExtraVersion: t.Version,
	}, nil
}
