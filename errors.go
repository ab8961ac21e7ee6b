package x402

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per taxonomy kind from the protocol design. Callers
// match against these with errors.Is; the wrapping detail structs below
// carry kind-specific context and support errors.As.
var (
	ErrMalformedFrame          = errors.New("x402: malformed payment frame")
	ErrInvalidPrice            = errors.New("x402: invalid price")
	ErrInvalidConfig           = errors.New("x402: invalid configuration")
	ErrUnsupportedScheme       = errors.New("x402: no accepted payment requirement matches")
	ErrPaymentAmountExceeded   = errors.New("x402: payment amount exceeds configured cap")
	ErrSigningFailed           = errors.New("x402: signing failed")
	ErrFacilitatorUnavailable  = errors.New("x402: facilitator unavailable")
	ErrFacilitatorListFailed   = errors.New("x402: facilitator list failed")
	ErrVerificationRejected    = errors.New("x402: payment verification rejected")
	ErrSettlementRejected      = errors.New("x402: payment settlement rejected")

	// Network/asset errors, orthogonal to the kind taxonomy above but
	// raised by the chain registry and signer.
	ErrUnsupportedNetwork = errors.New("x402: unsupported network")
	ErrUnsupportedAsset   = errors.New("x402: unsupported asset")

	// Signer construction errors.
	ErrInvalidPrivateKey  = errors.New("x402: invalid private key")
	ErrInvalidMnemonic    = errors.New("x402: invalid mnemonic phrase")
	ErrInvalidKeystore    = errors.New("x402: invalid keystore file")
	ErrWrongPassword      = errors.New("x402: wrong keystore password")
	ErrNoSignerConfigured = errors.New("x402: no payment signer configured")
	ErrNoViableOption     = errors.New("x402: no viable payment option found across all signers")
)

// PaymentError is the error shape the client uses for payment failures:
// decoding the 402 challenge, the scheme/network filter, the max-value
// guard and signer selection/signing each fail with one of these, carrying
// a taxonomy kind plus enough context (resource, amount, network) to log
// usefully. Errors from the underlying transport, from reading the 402
// body, and from encoding or cloning the retry request are returned
// without a PaymentError wrapper.
type PaymentError struct {
	Kind     error // one of the Err* sentinels above
	Message  string
	Resource string
	Amount   string
	Network  string
	Cause    error
}

func (e *PaymentError) Error() string {
	base := fmt.Sprintf("%v: %s", e.Kind, e.Message)
	if e.Resource != "" || e.Amount != "" || e.Network != "" {
		base = fmt.Sprintf("%s (resource=%s amount=%s network=%s)", base, e.Resource, e.Amount, e.Network)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", base, e.Cause)
	}
	return base
}

func (e *PaymentError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return e.Kind
}

// Is reports whether target is this error's taxonomy kind, so errors.Is
// matches the kind sentinel even when a cause is also attached.
func (e *PaymentError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// NewPaymentError builds a PaymentError, clearing any retry state is the
// caller's responsibility before this propagates past the client boundary.
func NewPaymentError(kind error, message, resource, amount, network string, cause error) *PaymentError {
	return &PaymentError{Kind: kind, Message: message, Resource: resource, Amount: amount, Network: network, Cause: cause}
}

// SignerFailure records why one candidate signer/option pair was rejected
// during selection, so a MultiSignerError can report all of them at once.
type SignerFailure struct {
	SignerIndex    int
	SignerPriority int
	SignerAddress  string
	Reason         string
	Cause          error
}

// MultiSignerError aggregates failures across every signer/option the
// client tried before giving up with ErrNoViableOption.
type MultiSignerError struct {
	Message        string
	SignerFailures []SignerFailure
}

func (e *MultiSignerError) Error() string {
	result := fmt.Sprintf("%s across %d signers:\n", e.Message, len(e.SignerFailures))
	for _, f := range e.SignerFailures {
		result += fmt.Sprintf("  signer[%d] (priority=%d, address=%s): %s\n", f.SignerIndex, f.SignerPriority, f.SignerAddress, f.Reason)
	}
	return result
}

func (e *MultiSignerError) Unwrap() error {
	if len(e.SignerFailures) > 0 {
		return e.SignerFailures[0].Cause
	}
	return nil
}
