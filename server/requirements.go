package server

import "github.com/x402-go/x402"

// Helper constructors for the USDC payment requirement a route's Config
// most commonly needs, one per supported network.

func usdcRequirement(network, payTo, amount, description string) x402.PaymentRequirement {
	address, name, version, err := x402.USDCToken(network)
	if err != nil {
		return x402.PaymentRequirement{}
	}
	return x402.PaymentRequirement{
		Scheme:            "exact",
		Network:           network,
		Asset:             address,
		PayTo:             payTo,
		MaxAmountRequired: amount,
		Description:       description,
		MimeType:          "application/json",
		MaxTimeoutSeconds: 60,
		Extra: map[string]string{
			"name":    name,
			"version": version,
		},
	}
}

// RequireUSDCBase creates a payment requirement for amount atomic units
// of USDC on Base.
func RequireUSDCBase(payTo, amount, description string) x402.PaymentRequirement {
	return usdcRequirement("base", payTo, amount, description)
}

// RequireUSDCBaseSepolia creates a payment requirement for amount atomic
// units of USDC on the network the protocol names "bsc-mainnet" (see
// chains.go for why that name maps to a Base Sepolia-compatible chain).
func RequireUSDCBaseSepolia(payTo, amount, description string) x402.PaymentRequirement {
	return usdcRequirement("bsc-mainnet", payTo, amount, description)
}

// RequireUSDCAvalanche creates a payment requirement for amount atomic
// units of USDC on Avalanche C-Chain.
func RequireUSDCAvalanche(payTo, amount, description string) x402.PaymentRequirement {
	return usdcRequirement("avalanche", payTo, amount, description)
}

// RequireUSDCAvalancheFuji creates a payment requirement for amount
// atomic units of USDC on Avalanche Fuji testnet.
func RequireUSDCAvalancheFuji(payTo, amount, description string) x402.PaymentRequirement {
	return usdcRequirement("avalanche-fuji", payTo, amount, description)
}
