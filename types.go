// Package x402 implements the x402 HTTP payment protocol: a 402-challenge
// flow where a resource server lists acceptable payment requirements, a
// client signs an EIP-3009 transfer authorization for one of them, and a
// facilitator verifies and settles the authorization on-chain.
package x402

import (
	"context"
	"math/big"
)

// Version is the x402 protocol version this module speaks on the wire.
const Version = 1

// PaymentRequirement describes one way a resource may be paid for. Servers
// list one or more of these in a 402 response; clients pick one and build
// a PaymentPayload against it.
type PaymentRequirement struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"`
	MaxAmountRequired string            `json:"maxAmountRequired"`
	Asset             string            `json:"asset"`
	PayTo             string            `json:"payTo"`
	Resource          string            `json:"resource"`
	Description       string            `json:"description"`
	MimeType          string            `json:"mimeType,omitempty"`
	OutputSchema      *OutputSchema     `json:"outputSchema,omitempty"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// OutputSchema describes the HTTP request/response shape of the protected
// resource for discovery clients. Input is filled in by the server
// middleware from the incoming request; Output is caller-supplied.
type OutputSchema struct {
	Input  InputSchema `json:"input"`
	Output interface{} `json:"output,omitempty"`
}

// InputSchema describes how the protected endpoint is invoked.
type InputSchema struct {
	Type            string                 `json:"type"`
	Method          string                 `json:"method"`
	Discoverable    bool                   `json:"discoverable"`
	QueryParams     map[string]interface{} `json:"queryParams,omitempty"`
	BodyFields      map[string]interface{} `json:"bodyFields,omitempty"`
	HeaderFields    map[string]interface{} `json:"headerFields,omitempty"`
}

// PaymentRequirementsResponse is the JSON body of a 402 response.
type PaymentRequirementsResponse struct {
	X402Version int                  `json:"x402Version"`
	Error       string               `json:"error"`
	Accepts     []PaymentRequirement `json:"accepts"`
}

// PaymentPayload is the decoded form of the X-PAYMENT request header.
type PaymentPayload struct {
	X402Version int                `json:"x402Version"`
	Scheme      string             `json:"scheme"`
	Network     string             `json:"network"`
	Payload     PaymentPayloadData `json:"payload"`
}

// PaymentPayloadData carries the EIP-712 signature over the authorization.
type PaymentPayloadData struct {
	Signature     string               `json:"signature"`
	Authorization PaymentAuthorization `json:"authorization"`
}

// PaymentAuthorization mirrors an EIP-3009 TransferWithAuthorization
// struct. All numeric fields are decimal strings on the wire.
type PaymentAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// SettlementResponse is the decoded form of the X-PAYMENT-RESPONSE header,
// and also the facilitator's /settle response body.
type SettlementResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// VerifyResponse is the facilitator's /verify response body.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SupportedKind is one scheme/network pair a facilitator supports.
type SupportedKind struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

// SupportedResponse is the facilitator's /supported response body.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// HeaderSet is a per-operation set of extra HTTP headers a FacilitatorConfig's
// CreateHeaders callback returns: one subset keyed "verify", one keyed
// "settle", one keyed "list" — so a caller can give each facilitator
// operation different auth headers instead of one flat set applied to all
// of them alike.
type HeaderSet map[string]map[string]string

// FacilitatorConfig points a FacilitatorClient at a facilitator instance
// and optionally injects auth headers on every request.
type FacilitatorConfig struct {
	URL           string
	CreateHeaders func(ctx context.Context) (HeaderSet, error)
}

// PaywallConfig customizes the HTML paywall shown to browser clients that
// hit a 402 without the x402 fetch wrapper installed.
type PaywallConfig struct {
	CDPClientKey         string `json:"cdpClientKey,omitempty"`
	AppName              string `json:"appName,omitempty"`
	AppLogo              string `json:"appLogo,omitempty"`
	SessionTokenEndpoint string `json:"sessionTokenEndpoint,omitempty"`
}

// DiscoveredResource is one entry in a facilitator's resource list.
// LastUpdated is an RFC3339 UTC timestamp string, matching the wire format
// a real facilitator sends rather than a numeric epoch.
type DiscoveredResource struct {
	Resource    string                 `json:"resource"`
	Type        string                 `json:"type"`
	X402Version int                    `json:"x402Version"`
	Accepts     []PaymentRequirement   `json:"accepts"`
	LastUpdated string                 `json:"lastUpdated"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// DiscoveryPagination describes a page of a discovery listing.
type DiscoveryPagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// ListDiscoveryResourcesResponse is the facilitator's
// /discovery/resources response body.
type ListDiscoveryResourcesResponse struct {
	X402Version int                  `json:"x402Version"`
	Items       []DiscoveredResource `json:"items"`
	Pagination  DiscoveryPagination  `json:"pagination"`
}

// PaymentEventType categorizes a PaymentEvent.
type PaymentEventType string

const (
	PaymentEventAttempt       PaymentEventType = "attempt"
	PaymentEventSuccess       PaymentEventType = "success"
	PaymentEventFailure       PaymentEventType = "failure"
	PaymentEventSignerAttempt PaymentEventType = "signer_attempt"
	PaymentEventSignerSuccess PaymentEventType = "signer_success"
	PaymentEventSignerFailure PaymentEventType = "signer_failure"
)

// PaymentEvent is emitted by the client during the pay-and-retry flow, for
// callers that want visibility (logging, metrics, tests) into payment
// attempts without intercepting the HTTP round trip themselves.
type PaymentEvent struct {
	Type           PaymentEventType
	Resource       string
	Method         string
	Amount         *big.Int
	Network        string
	Asset          string
	Recipient      string
	Transaction    string
	Error          error
	Timestamp      int64
	SignerIndex    int
	SignerPriority int
	SignerAddress  string
	AttemptNumber  int
}

// ClientPaymentOption is a payment method a client is willing to use,
// along with client-side constraints (priority among options, spend caps)
// that never travel on the wire.
type ClientPaymentOption struct {
	PaymentRequirement

	Priority   int      `json:"-"`
	MaxAmount  string   `json:"-"`
	MinBalance string   `json:"-"`
	ChainID    *big.Int `json:"-"`
}
