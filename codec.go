package x402

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Codec centralizes the wire encoding concerns the rest of the package
// would otherwise have to duplicate: base64 framing of JSON payloads for
// the X-PAYMENT / X-PAYMENT-RESPONSE headers, and the raw-bytes-before-
// signing / hex-after-signing nonce convention EIP-3009 authorizations
// use. Keeping it in one place avoids the encoding drift the signer would
// otherwise be prone to.

// NewNonce returns a fresh 32-byte EIP-3009 nonce. Two successive calls
// differ with overwhelming probability since they draw from
// crypto/rand.
func NewNonce() ([32]byte, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, fmt.Errorf("x402: generate nonce: %w", err)
	}
	return nonce, nil
}

// NonceHex renders a raw nonce as the 0x-prefixed hex string the wire
// format expects.
func NonceHex(nonce [32]byte) string {
	return "0x" + hex.EncodeToString(nonce[:])
}

// ParseNonceHex is the inverse of NonceHex.
func ParseNonceHex(s string) ([32]byte, error) {
	var nonce [32]byte
	trimmed := s
	if len(trimmed) >= 2 && trimmed[:2] == "0x" {
		trimmed = trimmed[2:]
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nonce, fmt.Errorf("%w: nonce is not valid hex: %v", ErrMalformedFrame, err)
	}
	if len(raw) != 32 {
		return nonce, fmt.Errorf("%w: nonce must be 32 bytes, got %d", ErrMalformedFrame, len(raw))
	}
	copy(nonce[:], raw)
	return nonce, nil
}

// EncodePayment base64-frames a PaymentPayload for the X-PAYMENT header.
func EncodePayment(p *PaymentPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("%w: marshal payment: %v", ErrMalformedFrame, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePayment is the inverse of EncodePayment. An empty header string is
// treated by callers as "no payment present", not as a decode error; this
// function only ever sees a non-empty header.
func DecodePayment(header string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrMalformedFrame, err)
	}
	var p PaymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedFrame, err)
	}
	if p.X402Version != Version {
		return nil, fmt.Errorf("%w: unsupported x402Version %d", ErrMalformedFrame, p.X402Version)
	}
	return &p, nil
}

// EncodeSettlement base64-frames a SettlementResponse for the
// X-PAYMENT-RESPONSE header.
func EncodeSettlement(s *SettlementResponse) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("%w: marshal settlement: %v", ErrMalformedFrame, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSettlement is the inverse of EncodeSettlement.
func DecodeSettlement(header string) (*SettlementResponse, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrMalformedFrame, err)
	}
	var s SettlementResponse
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedFrame, err)
	}
	return &s, nil
}
