// Package server provides an HTTP-native x402 payment middleware: a
// net/http wrapper that gates access to a handler behind a 402 challenge,
// verifies and settles payments via a facilitator, and otherwise passes
// requests through untouched.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/x402-go/x402"
)

type contextKey int

const (
	paymentDetailsKey contextKey = iota
	verifyResponseKey
)

// PaymentDetailsFromContext returns the PaymentRequirement the request was
// matched against, if any payment was verified for this request.
func PaymentDetailsFromContext(ctx context.Context) (*x402.PaymentRequirement, bool) {
	v, ok := ctx.Value(paymentDetailsKey).(*x402.PaymentRequirement)
	return v, ok
}

// VerifyResponseFromContext returns the facilitator's verify response for
// this request, if any payment was verified.
func VerifyResponseFromContext(ctx context.Context) (*x402.VerifyResponse, bool) {
	v, ok := ctx.Value(verifyResponseKey).(*x402.VerifyResponse)
	return v, ok
}

// Config describes one protected route: its price, recipient, and the
// path(s) it covers. Every field that can be wrong (price, network, path
// patterns, facilitator URL) is validated by New at construction time, so
// a misconfigured middleware fails at wiring time rather than on the
// first request.
type Config struct {
	Price             x402.Price
	PayTo             string
	Paths             []string // defaults to ["*"] if empty
	Network           string
	Description       string
	MimeType          string
	MaxTimeoutSeconds int // defaults to 60 if zero
	Discoverable      bool
	OutputSchema      interface{}
	Resource          string // overrides the derived resource URL if set
	Facilitator       x402.FacilitatorConfig
	PaywallConfig     *x402.PaywallConfig
	CustomPaywallHTML string
	BrowserDetector   x402.BrowserDetector // defaults to x402.DefaultBrowserDetector
	VerifyOnly        bool
}

// handler is the constructed, ready-to-serve middleware state: everything
// Config describes, resolved once instead of on every request.
type handler struct {
	next              http.Handler
	matcher           *x402.PathMatcher
	requirementTpl    x402.PaymentRequirement
	network           string
	facilitator       *x402.FacilitatorClient
	paywallConfig     *x402.PaywallConfig
	customPaywallHTML string
	browserDetector   x402.BrowserDetector
	resourceOverride  string
	verifyOnly        bool
	discoverable      bool
	outputSchema      interface{}
}

// New validates cfg and returns an http.Handler that wraps next with an
// x402 paywall. A configuration error (bad network, unparsable price,
// empty path list, bad facilitator URL) is returned here, never deferred
// to request time.
func New(next http.Handler, cfg Config) (http.Handler, error) {
	network := cfg.Network
	if network == "" {
		network = "bsc-mainnet"
	}
	if !x402.IsSupportedNetwork(network) {
		return nil, x402.NewPaymentError(x402.ErrInvalidConfig, "unsupported network: "+network, "", "", network, nil)
	}

	resolved, err := x402.Resolve(cfg.Price, network)
	if err != nil {
		return nil, err
	}

	paths := cfg.Paths
	if len(paths) == 0 {
		paths = []string{"*"}
	}
	matcher, err := x402.NewPathMatcherFromList(paths)
	if err != nil {
		return nil, err
	}

	facilitator, err := x402.NewFacilitatorClient(cfg.Facilitator)
	if err != nil {
		return nil, err
	}

	timeout := cfg.MaxTimeoutSeconds
	if timeout == 0 {
		timeout = 60
	}

	mimeType := cfg.MimeType
	if mimeType == "" {
		mimeType = "application/json"
	}

	detector := cfg.BrowserDetector
	if detector == nil {
		detector = x402.DefaultBrowserDetector
	}

	return &handler{
		next:    next,
		matcher: matcher,
		requirementTpl: x402.PaymentRequirement{
			Scheme:            "exact",
			Network:           network,
			Asset:             resolved.Asset,
			PayTo:             cfg.PayTo,
			MaxAmountRequired: resolved.AtomicAmount,
			Description:       cfg.Description,
			MimeType:          mimeType,
			MaxTimeoutSeconds: timeout,
			Extra: map[string]string{
				"name":    resolved.ExtraName,
				"version": resolved.ExtraVersion,
			},
		},
		network:           network,
		facilitator:       facilitator,
		paywallConfig:     cfg.PaywallConfig,
		customPaywallHTML: cfg.CustomPaywallHTML,
		browserDetector:   detector,
		resourceOverride:  cfg.Resource,
		verifyOnly:        cfg.VerifyOnly,
		discoverable:      cfg.Discoverable,
		outputSchema:      cfg.OutputSchema,
	}, nil
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Passthrough purity: a path that doesn't match must leave both
	// request and response untouched.
	if !h.matcher.Match(r.URL.Path) {
		h.next.ServeHTTP(w, r)
		return
	}

	rid := uuid.NewString()
	logger := log.With().Str("rid", rid).Str("path", r.URL.Path).Logger()

	requirement := h.requirementTpl
	requirement.Resource = h.resourceURL(r)
	requirement.OutputSchema = &x402.OutputSchema{
		Input:  x402.InputSchema{Type: "http", Method: r.Method, Discoverable: h.discoverable},
		Output: h.outputSchema,
	}
	requirements := []x402.PaymentRequirement{requirement}

	respond402 := func(errMsg string) {
		logger.Debug().Str("error", errMsg).Msg("rejecting request with 402")
		h.write402(w, r, errMsg, requirements)
	}

	header := r.Header.Get("X-PAYMENT")
	if header == "" {
		respond402("No X-PAYMENT header provided")
		return
	}

	payment, err := x402.DecodePayment(header)
	if err != nil {
		respond402("Invalid payment header format: " + err.Error())
		return
	}

	if payment.Network != requirement.Network || payment.Scheme != requirement.Scheme {
		respond402("No matching payment requirements found")
		return
	}

	ctx := r.Context()
	verifyResp, err := h.facilitator.Verify(ctx, payment, &requirement)
	if err != nil {
		logger.Warn().Err(err).Msg("facilitator verify call failed")
		respond402("Invalid payment: " + err.Error())
		return
	}
	if !verifyResp.IsValid {
		reason := verifyResp.InvalidReason
		if reason == "" {
			reason = "Unknown error"
		}
		respond402("Invalid payment: " + reason)
		return
	}

	ctx = context.WithValue(ctx, paymentDetailsKey, &requirement)
	ctx = context.WithValue(ctx, verifyResponseKey, verifyResp)
	r = r.WithContext(ctx)

	capture := &responseCapture{header: make(http.Header), statusCode: http.StatusOK}
	h.next.ServeHTTP(capture, r)

	if capture.statusCode < 200 || capture.statusCode >= 300 {
		// Non-2xx downstream response suppresses settle entirely; forward
		// what the handler produced unchanged.
		logger.Debug().Int("status", capture.statusCode).Msg("handler did not succeed, skipping settle")
		capture.flush(w)
		return
	}

	var settleResp *x402.SettlementResponse
	if h.verifyOnly {
		settleResp = &x402.SettlementResponse{Success: true, Transaction: "verify-only-mode", Network: payment.Network, Payer: verifyResp.Payer}
	} else {
		settleResp, err = h.facilitator.Settle(ctx, payment, &requirement)
		if err != nil {
			logger.Warn().Err(err).Msg("settle call failed")
			// Headers may already be in flight conceptually (the handler
			// already ran), but nothing has been written to the real
			// ResponseWriter yet because capture buffered it — so a 402
			// here is still possible, matching the "settle iff success"
			// invariant.
			h.write402(w, r, "Settle failed: "+err.Error(), requirements)
			return
		}
	}

	if !settleResp.Success {
		reason := settleResp.ErrorReason
		if reason == "" {
			reason = "unknown error"
		}
		h.write402(w, r, "Settle failed: "+reason, requirements)
		return
	}

	encoded, err := x402.EncodeSettlement(settleResp)
	if err == nil {
		capture.header.Set("X-PAYMENT-RESPONSE", encoded)
	}
	logger.Debug().Str("tx", settleResp.Transaction).Msg("payment settled")
	capture.flush(w)
}

func (h *handler) resourceURL(r *http.Request) string {
	if h.resourceOverride != "" {
		return h.resourceOverride
	}
	if original := r.Header.Get("X-Original-URI"); original != "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		return scheme + "://" + r.Host + original
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (h *handler) write402(w http.ResponseWriter, r *http.Request, errMsg string, requirements []x402.PaymentRequirement) {
	if h.browserDetector(r.Header.Get("Accept"), r.Header.Get("User-Agent")) {
		html := h.customPaywallHTML
		if html == "" {
			html = x402.RenderPaywall(errMsg, requirements, h.paywallConfig)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(html))
		return
	}

	body := x402.PaymentRequirementsResponse{X402Version: x402.Version, Error: errMsg, Accepts: requirements}
	data, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_, _ = w.Write(data)
}

// responseCapture buffers a handler's response so the middleware can
// decide, after the handler has fully run, whether to attach a settlement
// header or suppress settlement on failure — without ever streaming a
// partial response to the real client first.
type responseCapture struct {
	header     http.Header
	statusCode int
	body       bytes.Buffer
	wroteHeader bool
}

func (c *responseCapture) Header() http.Header { return c.header }

func (c *responseCapture) Write(b []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	return c.body.Write(b)
}

func (c *responseCapture) WriteHeader(statusCode int) {
	if c.wroteHeader {
		return
	}
	c.statusCode = statusCode
	c.wroteHeader = true
}

func (c *responseCapture) flush(w http.ResponseWriter) {
	dst := w.Header()
	for k, v := range c.header {
		dst[k] = v
	}
	w.WriteHeader(c.statusCode)
	_, _ = w.Write(c.body.Bytes())
}
