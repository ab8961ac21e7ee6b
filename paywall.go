package x402

import (
	_ "embed"
	"encoding/json"
	"strings"
)

//go:embed assets/paywall.html
var defaultPaywallHTML string

// BrowserDetector decides whether a 402 should be answered with the HTML
// paywall or a JSON challenge. The default (Accept contains "text/html"
// AND User-Agent contains "Mozilla") is intentionally conservative and
// exposed as a swappable strategy rather than hard-coded into the
// middleware, since any fixed heuristic will eventually misclassify some
// client.
type BrowserDetector func(accept, userAgent string) bool

// DefaultBrowserDetector implements the conservative accept/user-agent
// heuristic described above.
func DefaultBrowserDetector(accept, userAgent string) bool {
	return strings.Contains(accept, "text/html") && strings.Contains(userAgent, "Mozilla")
}

// paywallConfigPayload is the JSON shape injected as window.x402 in the
// served HTML; field names and semantics mirror the wire PaymentRequirement
// plus the tiny bit of client-only rendering data (display amount,
// testnet flag) the page needs.
type paywallConfigPayload struct {
	Amount               float64              `json:"amount"`
	PaymentRequirements  []PaymentRequirement `json:"paymentRequirements"`
	Testnet              bool                 `json:"testnet"`
	CurrentURL           string               `json:"currentUrl"`
	Error                string               `json:"error"`
	X402Version          int                  `json:"x402_version"`
	CDPClientKey         string               `json:"cdpClientKey"`
	AppName              string               `json:"appName"`
	AppLogo              string               `json:"appLogo"`
	SessionTokenEndpoint string               `json:"sessionTokenEndpoint"`
}

// RenderPaywall produces the HTML body for a browser-facing 402: the
// embedded template with a window.x402 configuration object injected
// before </head>. Mainnet-flavored networks suppress the debug
// console.log the testnet build emits, matching the behavior an
// implementer would expect from "testnet" meaning "pre-production", not
// "contains the literal word mainnet" — see IsTestnet in chains.go for
// the bsc-mainnet naming exception this depends on.
func RenderPaywall(errMsg string, requirements []PaymentRequirement, cfg *PaywallConfig) string {
	return injectPaymentData(defaultPaywallHTML, errMsg, requirements, cfg)
}

func buildPaywallConfig(errMsg string, requirements []PaymentRequirement, cfg *PaywallConfig) paywallConfigPayload {
	var amount float64
	var currentURL string
	testnet := true

	if len(requirements) > 0 {
		r := requirements[0]
		if atomic, ok := parseAtomicUSDC(r.MaxAmountRequired); ok {
			amount = atomic
		}
		currentURL = r.Resource
		testnet = IsTestnet(r.Network)
	}

	payload := paywallConfigPayload{
		Amount:              amount,
		PaymentRequirements: requirements,
		Testnet:             testnet,
		CurrentURL:          currentURL,
		Error:               errMsg,
		X402Version:         Version,
	}
	if cfg != nil {
		payload.CDPClientKey = cfg.CDPClientKey
		payload.AppName = cfg.AppName
		payload.AppLogo = cfg.AppLogo
		payload.SessionTokenEndpoint = cfg.SessionTokenEndpoint
	}
	return payload
}

func injectPaymentData(html, errMsg string, requirements []PaymentRequirement, cfg *PaywallConfig) string {
	payload := buildPaywallConfig(errMsg, requirements, cfg)
	data, _ := json.Marshal(payload)

	logLine := ""
	if payload.Testnet {
		logLine = "console.log('Payment requirements initialized:', window.x402);"
	}

	script := "\n  <script>\n    window.x402 = " + string(data) + ";\n    " + logLine + "\n  </script>"
	return strings.Replace(html, "</head>", script+"\n</head>", 1)
}

// parseAtomicUSDC converts a USDC atomic-unit decimal string into a
// display-friendly USD float, dividing by the fixed 6-decimal scale USDC
// uses on every supported network. This is display-only rendering, not a
// value used in any payment decision, so a float is acceptable here even
// though Resolve (price.go) never uses one.
func parseAtomicUSDC(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	var whole, frac int64
	var sign int64 = 1
	str := s
	if strings.HasPrefix(str, "-") {
		sign = -1
		str = str[1:]
	}
	n := int64(0)
	for _, c := range str {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	whole = n / 1_000_000
	frac = n % 1_000_000
	return float64(sign) * (float64(whole) + float64(frac)/1_000_000), true
}
