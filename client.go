package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sort"
	"time"
)

// Client holds the signers and selection policy a PaymentTransport uses to
// turn a 402 challenge into a signed retry. It has no mutable per-request
// state: everything that varies across a single response chain (whether
// this request has already been retried) is threaded through the
// request's context instead of a field on the client, so one Client can
// safely back concurrent round trips.
type Client struct {
	signers       []PaymentSigner
	networkFilter string
	schemeFilter  string
	maxValue      *big.Int
	onEvent       func(PaymentEvent)
	selector      Selector
}

// Selector picks one payment requirement a given signer should pay, from
// the set of requirements already passed through the client's
// scheme/network filter. It is a pure function: given the same signer and
// candidate list it always returns the same choice. The default, used
// when no Selector is supplied, picks among the requirements the signer
// has a matching, amount-capped payment option for: the one whose option
// has the lowest priority value, ties broken by the cheaper amount.
type Selector func(signer PaymentSigner, accepts []PaymentRequirement) (*PaymentRequirement, error)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithSigner adds a signer the client may use to pay, tried in the order
// added after its own payment options are priority-sorted.
func WithSigner(s PaymentSigner) ClientOption {
	return func(c *Client) { c.signers = append(c.signers, s) }
}

// WithNetworkFilter restricts acceptable payment requirements to a single
// network, mirroring the scheme/network filter of the default selector.
func WithNetworkFilter(network string) ClientOption {
	return func(c *Client) { c.networkFilter = network }
}

// WithSchemeFilter restricts acceptable payment requirements to a single
// scheme (e.g. "exact").
func WithSchemeFilter(scheme string) ClientOption {
	return func(c *Client) { c.schemeFilter = scheme }
}

// WithMaxValue caps the atomic amount the client will ever pay, inclusive:
// a requirement whose maxAmountRequired equals the cap is still accepted.
func WithMaxValue(v *big.Int) ClientOption {
	return func(c *Client) { c.maxValue = v }
}

// WithOnEvent registers a callback invoked for every PaymentEvent the
// client produces while trying to pay (attempts, successes, per-signer
// failures). Useful for logging or test assertions; never required.
func WithOnEvent(f func(PaymentEvent)) ClientOption {
	return func(c *Client) { c.onEvent = f }
}

// WithSelector overrides the client's default requirement-selection
// policy. Callers that want, say, to always prefer a specific network
// regardless of price can supply their own Selector here instead of
// relying on the built-in priority-then-cheapest logic.
func WithSelector(s Selector) ClientOption {
	return func(c *Client) { c.selector = s }
}

// NewClient builds a Client. At least one signer must be supplied via
// WithSigner.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{selector: selectForSigner}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.signers) == 0 {
		return nil, NewPaymentError(ErrInvalidConfig, "at least one signer must be configured", "", "", "", nil)
	}
	return c, nil
}

func (c *Client) emit(ev PaymentEvent) {
	if c.onEvent != nil {
		ev.Timestamp = time.Now().Unix()
		c.onEvent(ev)
	}
}

// filterRequirements applies the client's scheme/network filter,
// mirroring the default selector's first pass before per-signer
// candidate scoring.
func (c *Client) filterRequirements(accepts []PaymentRequirement) []PaymentRequirement {
	if c.networkFilter == "" && c.schemeFilter == "" {
		return accepts
	}
	var out []PaymentRequirement
	for _, r := range accepts {
		if c.networkFilter != "" && r.Network != c.networkFilter {
			continue
		}
		if c.schemeFilter != "" && r.Scheme != c.schemeFilter {
			continue
		}
		out = append(out, r)
	}
	return out
}

// pay selects a payment requirement and signer, enforces the max-value
// guard, and signs the resulting authorization. It tries each configured
// signer in turn, recording why each failed so that if every signer
// fails the caller gets back an aggregated, diagnosable error instead of
// the last failure only.
func (c *Client) pay(ctx context.Context, accepts []PaymentRequirement, resource, method string) (*PaymentPayload, *PaymentRequirement, error) {
	filtered := c.filterRequirements(accepts)
	if len(filtered) == 0 {
		return nil, nil, NewPaymentError(ErrUnsupportedScheme, "no accepted payment requirement matches scheme/network filter", resource, "", "", nil)
	}

	if c.maxValue != nil {
		if err := c.checkMaxValue(filtered); err != nil {
			return nil, nil, err
		}
	}

	var failures []SignerFailure
	attempt := 0

	for idx, signer := range c.signers {
		attempt++
		c.emit(PaymentEvent{Type: PaymentEventSignerAttempt, Resource: resource, Method: method, SignerIndex: idx, SignerAddress: signer.GetAddress(), AttemptNumber: attempt})

		selected, err := c.selector(signer, filtered)
		if err != nil {
			failures = append(failures, SignerFailure{SignerIndex: idx, SignerAddress: signer.GetAddress(), Reason: err.Error(), Cause: err})
			c.emit(PaymentEvent{Type: PaymentEventSignerFailure, Resource: resource, Method: method, SignerIndex: idx, SignerAddress: signer.GetAddress(), AttemptNumber: attempt, Error: err})
			continue
		}

		if c.maxValue != nil {
			if amount, ok := new(big.Int).SetString(selected.MaxAmountRequired, 10); !ok || amount.Cmp(c.maxValue) > 0 {
				err := NewPaymentError(ErrPaymentAmountExceeded, fmt.Sprintf("selected requirement exceeds max value %s", c.maxValue.String()), resource, selected.MaxAmountRequired, selected.Network, nil)
				failures = append(failures, SignerFailure{SignerIndex: idx, SignerAddress: signer.GetAddress(), Reason: err.Error(), Cause: err})
				c.emit(PaymentEvent{Type: PaymentEventSignerFailure, Resource: resource, Method: method, SignerIndex: idx, SignerAddress: signer.GetAddress(), AttemptNumber: attempt, Error: err})
				continue
			}
		}

		payload, err := signer.SignPayment(ctx, *selected)
		if err != nil {
			failures = append(failures, SignerFailure{SignerIndex: idx, SignerAddress: signer.GetAddress(), Reason: fmt.Sprintf("signing failed: %v", err), Cause: err})
			c.emit(PaymentEvent{Type: PaymentEventSignerFailure, Resource: resource, Method: method, SignerIndex: idx, SignerAddress: signer.GetAddress(), AttemptNumber: attempt, Error: err})
			continue
		}

		amount := new(big.Int)
		amount.SetString(selected.MaxAmountRequired, 10)
		c.emit(PaymentEvent{Type: PaymentEventSignerSuccess, Resource: resource, Method: method, SignerIndex: idx, SignerAddress: signer.GetAddress(), AttemptNumber: attempt, Amount: amount, Network: selected.Network, Asset: selected.Asset, Recipient: selected.PayTo})
		return payload, selected, nil
	}

	err := &MultiSignerError{Message: "no viable payment option found", SignerFailures: failures}
	return nil, nil, NewPaymentError(ErrNoViableOption, err.Error(), resource, "", "", err)
}

// checkMaxValue enforces PaymentAmountExceeded before any signature is
// produced: if every accepted requirement's amount exceeds the cap, the
// client must fail fast rather than sign and discover the cap was
// violated afterward.
func (c *Client) checkMaxValue(accepts []PaymentRequirement) error {
	for _, r := range accepts {
		amount := new(big.Int)
		if _, ok := amount.SetString(r.MaxAmountRequired, 10); !ok {
			continue
		}
		if amount.Cmp(c.maxValue) <= 0 {
			return nil
		}
	}
	return NewPaymentError(ErrPaymentAmountExceeded, fmt.Sprintf("every accepted requirement exceeds max value %s", c.maxValue.String()), "", "", "", nil)
}

// selectForSigner picks the cheapest requirement this signer can satisfy,
// honoring the signer's own option priority first and its per-option
// MaxAmount cap second.
func selectForSigner(signer PaymentSigner, accepts []PaymentRequirement) (*PaymentRequirement, error) {
	type candidate struct {
		req      PaymentRequirement
		priority int
		amount   *big.Int
	}
	var candidates []candidate

	for _, req := range accepts {
		option := signer.GetPaymentOption(req.Network, req.Asset)
		if option == nil || option.Scheme != req.Scheme {
			continue
		}

		amount := new(big.Int)
		if _, ok := amount.SetString(req.MaxAmountRequired, 10); !ok || amount.Sign() <= 0 {
			continue
		}
		if option.MaxAmount != "" {
			cap := new(big.Int)
			if _, ok := cap.SetString(option.MaxAmount, 10); ok && amount.Cmp(cap) > 0 {
				continue
			}
		}

		candidates = append(candidates, candidate{req: req, priority: option.Priority, amount: amount})
	}

	if len(candidates) == 0 {
		return nil, NewPaymentError(ErrUnsupportedScheme, "no configured payment option matches any accepted requirement", "", "", "", nil)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].amount.Cmp(candidates[j].amount) < 0
	})
	return &candidates[0].req, nil
}

// retryMarkerKey is the context key used to mark a request as already
// having been retried with a payment once. Carrying this on the request
// context — rather than a field on PaymentTransport — is what keeps retry
// state per response chain instead of shared across concurrent round
// trips through the same transport.
type retryMarkerKey struct{}

// PaymentTransport is an http.RoundTripper that transparently pays for
// 402 challenges: on a 402 it signs an authorization for one of the
// advertised requirements, retries the request once with an X-PAYMENT
// header attached, and returns whatever that retry produces. A second 402
// is returned to the caller unchanged — the client never retries more
// than once per response chain.
type PaymentTransport struct {
	Base   http.RoundTripper
	Client *Client
}

// WrapHTTPClientWithPayment returns a new *http.Client that pays for 402
// responses using client. The original http.Client's transport (or
// http.DefaultTransport if nil) becomes the base transport.
func WrapHTTPClientWithPayment(base *http.Client, client *Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	wrapped := *base
	wrapped.Transport = &PaymentTransport{Base: rt, Client: client}
	return &wrapped
}

func (t *PaymentTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *PaymentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Ensure the request body can be replayed for a retry before the
	// first attempt consumes it: GetBody is the standard hook, but a
	// request built around a raw io.Reader won't have one, so buffer it
	// up front rather than trying to recover it after the fact.
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("buffer request body for retry: %w", err)
		}
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(data))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
	}

	resp, err := t.base().RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}
	if req.Context().Value(retryMarkerKey{}) != nil {
		// Already retried this chain once; surface the second 402 as-is.
		return resp, nil
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading 402 body: %v", ErrMalformedFrame, err)
	}

	var challenge PaymentRequirementsResponse
	if err := json.Unmarshal(body, &challenge); err != nil {
		return nil, NewPaymentError(ErrMalformedFrame, "decode 402 challenge body", req.URL.String(), "", "", err)
	}

	payload, selected, payErr := t.Client.pay(req.Context(), challenge.Accepts, req.URL.String(), req.Method)
	if payErr != nil {
		t.Client.emit(PaymentEvent{Type: PaymentEventFailure, Resource: req.URL.String(), Method: req.Method, Error: payErr})
		return nil, payErr
	}

	encoded, err := EncodePayment(payload)
	if err != nil {
		return nil, err
	}

	retryReq, err := cloneForRetry(req)
	if err != nil {
		return nil, err
	}
	retryReq.Header.Set("X-PAYMENT", encoded)

	t.Client.emit(PaymentEvent{Type: PaymentEventAttempt, Resource: req.URL.String(), Method: req.Method, Network: payload.Network})

	retryResp, err := t.base().RoundTrip(retryReq)
	if err != nil {
		return nil, err
	}
	if retryResp.StatusCode < 300 {
		amount := new(big.Int)
		amount.SetString(selected.MaxAmountRequired, 10)
		t.Client.emit(PaymentEvent{Type: PaymentEventSuccess, Resource: req.URL.String(), Method: req.Method, Network: payload.Network, Asset: selected.Asset, Recipient: selected.PayTo, Amount: amount})
	}
	return retryResp, nil
}

// cloneForRetry rebuilds req with a fresh body reader and the retry
// marker set on its context, so RoundTrip can tell a once-retried
// request apart from a fresh one without mutating any shared state.
// RoundTrip guarantees GetBody is set whenever a body is present.
func cloneForRetry(req *http.Request) (*http.Request, error) {
	ctx := context.WithValue(req.Context(), retryMarkerKey{}, true)
	clone := req.Clone(ctx)

	if req.GetBody == nil {
		return clone, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rebuild request body for retry: %w", err)
	}
	clone.Body = body
	return clone, nil
}
