package x402

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// backdateWindow is how far before "now" a freshly signed authorization's
// validAfter is set, to tolerate clock skew between this process and the
// facilitator/chain that will check it.
const backdateWindow = 60 * time.Second

// PaymentSigner signs x402 payment authorizations on behalf of a payer.
type PaymentSigner interface {
	SignPayment(ctx context.Context, req PaymentRequirement) (*PaymentPayload, error)
	GetAddress() string
	SupportsNetwork(network string) bool
	HasAsset(asset, network string) bool
	GetPaymentOption(network, asset string) *ClientPaymentOption
}

// PrivateKeySigner signs with a raw ECDSA private key held in memory.
type PrivateKeySigner struct {
	privateKey     *ecdsa.PrivateKey
	address        common.Address
	paymentOptions []ClientPaymentOption
}

// NewPrivateKeySigner creates a signer from a hex-encoded private key.
// At least one ClientPaymentOption must be supplied; options are sorted
// by ascending priority so GetPaymentOption's callers see the signer's
// preferred methods first.
func NewPrivateKeySigner(privateKeyHex string, options ...ClientPaymentOption) (*PrivateKeySigner, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKeyBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	privateKey, err := crypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	if len(options) == 0 {
		return nil, NewPaymentError(ErrInvalidConfig, "at least one payment option must be configured", "", "", "", nil)
	}
	sort.Slice(options, func(i, j int) bool { return options[i].Priority < options[j].Priority })

	return &PrivateKeySigner{
		privateKey:     privateKey,
		address:        crypto.PubkeyToAddress(privateKey.PublicKey),
		paymentOptions: options,
	}, nil
}

func (s *PrivateKeySigner) GetAddress() string { return s.address.Hex() }

func (s *PrivateKeySigner) SupportsNetwork(network string) bool {
	return supportsNetwork(s.paymentOptions, network)
}

func (s *PrivateKeySigner) HasAsset(asset, network string) bool {
	return hasAsset(s.paymentOptions, asset, network)
}

func (s *PrivateKeySigner) GetPaymentOption(network, asset string) *ClientPaymentOption {
	return getPaymentOption(s.paymentOptions, network, asset)
}

func supportsNetwork(options []ClientPaymentOption, network string) bool {
	for _, opt := range options {
		if opt.Network == network {
			return true
		}
	}
	return false
}

func hasAsset(options []ClientPaymentOption, asset, network string) bool {
	for _, opt := range options {
		if opt.Network == network && strings.EqualFold(opt.Asset, asset) {
			return true
		}
	}
	return false
}

func getPaymentOption(options []ClientPaymentOption, network, asset string) *ClientPaymentOption {
	for _, opt := range options {
		if opt.Network == network && strings.EqualFold(opt.Asset, asset) {
			optCopy := opt
			return &optCopy
		}
	}
	return nil
}

// SignPayment builds and signs an EIP-712 TransferWithAuthorization over
// req, producing the PaymentPayload ready to frame into an X-PAYMENT
// header. The authorization's validAfter is backdated by backdateWindow
// and validBefore is exactly req.MaxTimeoutSeconds past now — the
// requirement's timeout is honored as given, not clamped to some other
// window, since the server is the one asserting what it will accept.
func (s *PrivateKeySigner) SignPayment(ctx context.Context, req PaymentRequirement) (*PaymentPayload, error) {
	nonce, err := NewNonce()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	now := time.Now()
	validAfter := now.Add(-backdateWindow).Unix()
	validBefore := now.Add(time.Duration(req.MaxTimeoutSeconds) * time.Second).Unix()

	chainID, err := ChainID(req.Network)
	if err != nil {
		return nil, err
	}

	value := new(big.Int)
	if _, ok := value.SetString(req.MaxAmountRequired, 10); !ok {
		return nil, NewPaymentError(ErrSigningFailed, fmt.Sprintf("invalid payment amount %q", req.MaxAmountRequired), req.Resource, req.MaxAmountRequired, req.Network, nil)
	}
	if value.Sign() <= 0 {
		return nil, NewPaymentError(ErrSigningFailed, "payment amount must be positive", req.Resource, req.MaxAmountRequired, req.Network, nil)
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              req.Extra["name"],
			Version:           req.Extra["version"],
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: req.Asset,
		},
		Message: apitypes.TypedDataMessage{
			"from":        s.address.Hex(),
			"to":          common.HexToAddress(req.PayTo).Hex(),
			"value":       (*math.HexOrDecimal256)(value),
			"validAfter":  (*math.HexOrDecimal256)(big.NewInt(validAfter)),
			"validBefore": (*math.HexOrDecimal256)(big.NewInt(validBefore)),
			"nonce":       NonceHex(nonce),
		},
	}

	sigHash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	signature, err := crypto.Sign(sigHash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	signature[64] += 27 // recovery id -> Ethereum's v convention

	return &PaymentPayload{
		X402Version: Version,
		Scheme:      req.Scheme,
		Network:     req.Network,
		Payload: PaymentPayloadData{
			Signature: "0x" + hex.EncodeToString(signature),
			Authorization: PaymentAuthorization{
				From:        s.address.Hex(),
				To:          req.PayTo,
				Value:       req.MaxAmountRequired,
				ValidAfter:  fmt.Sprintf("%d", validAfter),
				ValidBefore: fmt.Sprintf("%d", validBefore),
				Nonce:       NonceHex(nonce),
			},
		},
	}, nil
}

// derivePrivateKey derives an ECDSA key from a BIP-32 seed and path.
func derivePrivateKey(seed []byte, path accounts.DerivationPath) (*ecdsa.PrivateKey, error) {
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}

	key := masterKey
	for _, n := range path {
		key, err = key.NewChildKey(n)
		if err != nil {
			return nil, fmt.Errorf("derive child key: %w", err)
		}
	}

	privateKey, err := crypto.ToECDSA(key.Key)
	if err != nil {
		return nil, fmt.Errorf("convert to ECDSA key: %w", err)
	}
	return privateKey, nil
}

// MnemonicSigner signs with a key derived from a BIP-39 mnemonic.
type MnemonicSigner struct {
	*PrivateKeySigner
}

// NewMnemonicSigner creates a signer from a mnemonic phrase and an
// optional BIP-44 derivation path (defaults to Ethereum's m/44'/60'/0'/0/0).
func NewMnemonicSigner(mnemonic string, derivationPath string, options ...ClientPaymentOption) (*MnemonicSigner, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	if derivationPath == "" {
		derivationPath = "m/44'/60'/0'/0/0"
	}

	path, err := accounts.ParseDerivationPath(derivationPath)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid derivation path: %v", ErrInvalidConfig, err)
	}

	seed := bip39.NewSeed(mnemonic, "")
	privateKey, err := derivePrivateKey(seed, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}

	if len(options) == 0 {
		return nil, NewPaymentError(ErrInvalidConfig, "at least one payment option must be configured", "", "", "", nil)
	}
	sort.Slice(options, func(i, j int) bool { return options[i].Priority < options[j].Priority })

	return &MnemonicSigner{PrivateKeySigner: &PrivateKeySigner{
		privateKey:     privateKey,
		address:        crypto.PubkeyToAddress(privateKey.PublicKey),
		paymentOptions: options,
	}}, nil
}

// KeystoreSigner signs with a key unlocked from an encrypted keystore.
type KeystoreSigner struct {
	*PrivateKeySigner
}

// NewKeystoreSigner creates a signer from keystore JSON and its password.
func NewKeystoreSigner(keystoreJSON []byte, password string, options ...ClientPaymentOption) (*KeystoreSigner, error) {
	key, err := keystore.DecryptKey(keystoreJSON, password)
	if err != nil {
		if err == keystore.ErrDecrypt {
			return nil, ErrWrongPassword
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeystore, err)
	}

	if len(options) == 0 {
		return nil, NewPaymentError(ErrInvalidConfig, "at least one payment option must be configured", "", "", "", nil)
	}
	sort.Slice(options, func(i, j int) bool { return options[i].Priority < options[j].Priority })

	return &KeystoreSigner{PrivateKeySigner: &PrivateKeySigner{
		privateKey:     key.PrivateKey,
		address:        key.Address,
		paymentOptions: options,
	}}, nil
}

// MockSigner produces syntactically valid but unverifiable signatures,
// for exercising client and middleware code paths in tests without a
// real key.
type MockSigner struct {
	address        string
	paymentOptions []ClientPaymentOption
}

// NewMockSigner creates a mock signer. If no options are given it
// defaults to Base Sepolia USDC.
func NewMockSigner(address string, options ...ClientPaymentOption) *MockSigner {
	if !strings.HasPrefix(address, "0x") {
		address = "0x" + address
	}
	if len(options) == 0 {
		options = []ClientPaymentOption{AcceptUSDCBaseSepolia()}
	}
	sort.Slice(options, func(i, j int) bool { return options[i].Priority < options[j].Priority })

	return &MockSigner{address: address, paymentOptions: options}
}

func (m *MockSigner) GetAddress() string { return m.address }

func (m *MockSigner) SupportsNetwork(network string) bool {
	return supportsNetwork(m.paymentOptions, network)
}

func (m *MockSigner) HasAsset(asset, network string) bool {
	return hasAsset(m.paymentOptions, asset, network)
}

func (m *MockSigner) GetPaymentOption(network, asset string) *ClientPaymentOption {
	return getPaymentOption(m.paymentOptions, network, asset)
}

func (m *MockSigner) SignPayment(ctx context.Context, req PaymentRequirement) (*PaymentPayload, error) {
	value := new(big.Int)
	if _, ok := value.SetString(req.MaxAmountRequired, 10); !ok {
		return nil, NewPaymentError(ErrSigningFailed, fmt.Sprintf("invalid payment amount %q", req.MaxAmountRequired), req.Resource, req.MaxAmountRequired, req.Network, nil)
	}
	if value.Sign() <= 0 {
		return nil, NewPaymentError(ErrSigningFailed, "payment amount must be positive", req.Resource, req.MaxAmountRequired, req.Network, nil)
	}

	nonce, err := NewNonce()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	now := time.Now()
	validAfter := now.Add(-backdateWindow).Unix()
	validBefore := now.Add(time.Duration(req.MaxTimeoutSeconds) * time.Second).Unix()

	return &PaymentPayload{
		X402Version: Version,
		Scheme:      req.Scheme,
		Network:     req.Network,
		Payload: PaymentPayloadData{
			Signature: "0x" + strings.Repeat("00", 65),
			Authorization: PaymentAuthorization{
				From:        m.address,
				To:          req.PayTo,
				Value:       req.MaxAmountRequired,
				ValidAfter:  fmt.Sprintf("%d", validAfter),
				ValidBefore: fmt.Sprintf("%d", validBefore),
				Nonce:       NonceHex(nonce),
			},
		},
	}, nil
}
