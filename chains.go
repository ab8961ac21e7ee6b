package x402

import "math/big"

// chainIDs mirrors the upstream network registry exactly, including its
// one deliberate naming inconsistency: "bsc-mainnet" maps to chain id
// 84532, which is actually Base Sepolia. Existing facilitators depend on
// this mapping, so it is preserved for bit-compatibility rather than
// "fixed" — callers must not infer a chain's realness from its network
// name.
var chainIDs = map[string]int64{
	"bsc-mainnet":    84532,
	"base":           8453,
	"avalanche-fuji": 43113,
	"avalanche":      43114,
}

// testnetNetworks marks which network identifiers the paywall should
// flag as testnet=true. "bsc-mainnet" is included here precisely because
// it resolves to a testnet chain id despite its name.
var testnetNetworks = map[string]bool{
	"bsc-mainnet":    true,
	"avalanche-fuji": true,
}

// token describes one known ERC-20 asset on a given chain, including the
// EIP-712 domain fields (name, version) a signer needs to sign a
// TransferWithAuthorization over it.
type token struct {
	HumanName string
	Address   string
	Name      string
	Decimals  int32
	Version   string
}

// knownTokens is keyed by network identifier, then by a short symbol.
// USDC is the only asset the protocol's default price resolver needs,
// but the table is shaped to hold more.
var knownTokens = map[string]map[string]token{
	"base": {
		"usdc": {HumanName: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Name: "USD Coin", Decimals: 6, Version: "2"},
	},
	"bsc-mainnet": {
		"usdc": {HumanName: "USDC", Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Name: "USDC", Decimals: 6, Version: "2"},
	},
	"avalanche": {
		"usdc": {HumanName: "USDC", Address: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Name: "USD Coin", Decimals: 6, Version: "2"},
	},
	"avalanche-fuji": {
		"usdc": {HumanName: "USDC", Address: "0x5425890298aed601595a70AB815c96711a31Bc65", Name: "USDC", Decimals: 6, Version: "2"},
	},
}

// IsSupportedNetwork reports whether network is one of the closed set of
// networks this package knows how to resolve a chain id and USDC address
// for, or is itself a raw numeric chain id passed through unchanged.
func IsSupportedNetwork(network string) bool {
	if _, ok := chainIDs[network]; ok {
		return true
	}
	_, ok := new(big.Int).SetString(network, 10)
	return ok
}

// ChainID returns the EVM chain id for network. A network name from the
// closed set above resolves through the table; a network string that is
// itself a decimal integer is returned unchanged, as a passthrough for
// callers that already have a raw chain id rather than one of this
// package's named networks.
func ChainID(network string) (*big.Int, error) {
	if id, ok := chainIDs[network]; ok {
		return big.NewInt(id), nil
	}
	if id, ok := new(big.Int).SetString(network, 10); ok {
		return id, nil
	}
	return nil, NewPaymentError(ErrUnsupportedNetwork, network, "", "", network, nil)
}

// IsTestnet reports whether the paywall should present network as a
// testnet, independent of whether its name says "mainnet".
func IsTestnet(network string) bool {
	return testnetNetworks[network]
}

// USDCAddress returns the canonical USDC contract address for network.
func USDCAddress(network string) (string, error) {
	t, err := usdcToken(network)
	if err != nil {
		return "", err
	}
	return t.Address, nil
}

// USDCToken returns the canonical USDC contract address plus the EIP-712
// domain name/version a signer needs for that network's token.
func USDCToken(network string) (address, name, version string, err error) {
	t, err := usdcToken(network)
	if err != nil {
		return "", "", "", err
	}
	return t.Address, t.Name, t.Version, nil
}

func usdcToken(network string) (token, error) {
	assets, ok := knownTokens[network]
	if !ok {
		return token{}, NewPaymentError(ErrUnsupportedNetwork, network, "", "", network, nil)
	}
	t, ok := assets["usdc"]
	if !ok {
		return token{}, NewPaymentError(ErrUnsupportedAsset, "no USDC known for network", "", "", network, nil)
	}
	return t, nil
}
