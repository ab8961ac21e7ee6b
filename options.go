package x402

import "math/big"

// Helper constructors for the payment options most clients reach for:
// USDC on each of the four supported networks.

func usdcOption(network string, priority int) ClientPaymentOption {
	t := knownTokens[network]["usdc"]
	id, _ := ChainID(network)
	return ClientPaymentOption{
		PaymentRequirement: PaymentRequirement{
			Scheme:  "exact",
			Network: network,
			Asset:   t.Address,
			Extra: map[string]string{
				"name":    t.Name,
				"version": t.Version,
			},
		},
		Priority: priority,
		ChainID:  id,
	}
}

// AcceptUSDCBase creates a client payment option for USDC on Base.
func AcceptUSDCBase() ClientPaymentOption { return usdcOption("base", 1) }

// AcceptUSDCBaseSepolia creates a client payment option for USDC on the
// network the protocol names "bsc-mainnet" — which is, despite its name,
// a Base Sepolia-compatible chain id (84532). See chains.go.
func AcceptUSDCBaseSepolia() ClientPaymentOption { return usdcOption("bsc-mainnet", 1) }

// AcceptUSDCAvalanche creates a client payment option for USDC on Avalanche C-Chain.
func AcceptUSDCAvalanche() ClientPaymentOption { return usdcOption("avalanche", 1) }

// AcceptUSDCAvalancheFuji creates a client payment option for USDC on Avalanche Fuji testnet.
func AcceptUSDCAvalancheFuji() ClientPaymentOption { return usdcOption("avalanche-fuji", 1) }

// WithPriority sets the priority for this payment option (lower wins).
func (opt ClientPaymentOption) WithPriority(p int) ClientPaymentOption {
	opt.Priority = p
	return opt
}

// WithMaxAmount caps the atomic amount the client is willing to pay with
// this option.
func (opt ClientPaymentOption) WithMaxAmount(amount string) ClientPaymentOption {
	opt.MaxAmount = amount
	return opt
}

// WithMinBalance sets a balance floor below which this option won't be used.
func (opt ClientPaymentOption) WithMinBalance(amount string) ClientPaymentOption {
	opt.MinBalance = amount
	return opt
}

// WithChainID overrides the chain id associated with a custom option.
func (opt ClientPaymentOption) WithChainID(id *big.Int) ClientPaymentOption {
	opt.ChainID = id
	return opt
}
