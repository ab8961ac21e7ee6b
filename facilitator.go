package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FacilitatorClient talks to a trusted facilitator service over HTTP to
// verify and settle payments, and to list discoverable resources it
// knows about. It is the Go analogue of the reference SDK's async
// httpx-backed client, using context.Context for cancellation instead of
// an event loop.
type FacilitatorClient struct {
	baseURL       string
	createHeaders func(ctx context.Context) (HeaderSet, error)
	httpClient    *http.Client
}

// NewFacilitatorClient validates cfg and builds a client. The URL must be
// http or https; a trailing slash is stripped so endpoint paths can be
// joined unambiguously. Both checks happen at construction, per the
// InvalidConfig-is-fatal-at-startup policy — a malformed facilitator URL
// should never surface as a runtime request failure.
func NewFacilitatorClient(cfg FacilitatorConfig) (*FacilitatorClient, error) {
	if cfg.URL == "" {
		return nil, NewPaymentError(ErrInvalidConfig, "facilitator URL must not be empty", "", "", "", nil)
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, NewPaymentError(ErrInvalidConfig, fmt.Sprintf("facilitator URL %q must be http or https", cfg.URL), "", "", "", err)
	}

	return &FacilitatorClient{
		baseURL:       strings.TrimSuffix(cfg.URL, "/"),
		createHeaders: cfg.CreateHeaders,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// headers builds the request headers for one facilitator operation
// ("verify", "settle", or "list"), merging in only that operation's subset
// of CreateHeaders' result — a verify-only bearer token, say, never leaks
// onto a settle or list call.
func (f *FacilitatorClient) headers(ctx context.Context, operation string) (http.Header, error) {
	h := http.Header{"Content-Type": []string{"application/json"}}
	if f.createHeaders == nil {
		return h, nil
	}
	sets, err := f.createHeaders(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: building facilitator headers: %v", ErrFacilitatorUnavailable, err)
	}
	for k, v := range sets[operation] {
		h.Set(k, v)
	}
	return h, nil
}

// Verify asks the facilitator whether payment satisfies requirement,
// without settling it on-chain.
func (f *FacilitatorClient) Verify(ctx context.Context, payment *PaymentPayload, requirement *PaymentRequirement) (*VerifyResponse, error) {
	var out VerifyResponse
	body := struct {
		X402Version         int                 `json:"x402Version"`
		PaymentPayload      *PaymentPayload     `json:"paymentPayload"`
		PaymentRequirements *PaymentRequirement `json:"paymentRequirements"`
	}{Version, payment, requirement}

	if err := f.post(ctx, "verify", "/verify", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle asks the facilitator to submit payment on-chain against
// requirement. It should only be called after Verify returned
// isValid=true and the protected handler itself succeeded.
func (f *FacilitatorClient) Settle(ctx context.Context, payment *PaymentPayload, requirement *PaymentRequirement) (*SettlementResponse, error) {
	var out SettlementResponse
	body := struct {
		X402Version         int                 `json:"x402Version"`
		PaymentPayload      *PaymentPayload     `json:"paymentPayload"`
		PaymentRequirements *PaymentRequirement `json:"paymentRequirements"`
	}{Version, payment, requirement}

	if err := f.post(ctx, "settle", "/settle", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Supported returns the scheme/network combinations the facilitator
// accepts.
func (f *FacilitatorClient) Supported(ctx context.Context) ([]SupportedKind, error) {
	var out SupportedResponse
	if err := f.get(ctx, "supported", "/supported", nil, &out); err != nil {
		return nil, err
	}
	return out.Kinds, nil
}

// ListDiscoveryOptions paginates and filters a facilitator's discovery
// listing.
type ListDiscoveryOptions struct {
	Type   string
	Limit  int
	Offset int
}

// List queries the facilitator's discovery endpoint for known resources.
func (f *FacilitatorClient) List(ctx context.Context, opts ListDiscoveryOptions) (*ListDiscoveryResourcesResponse, error) {
	q := url.Values{}
	if opts.Type != "" {
		q.Set("type", opts.Type)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var out ListDiscoveryResourcesResponse
	if err := f.get(ctx, "list", "/discovery/resources", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *FacilitatorClient) post(ctx context.Context, operation, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal request body: %v", ErrMalformedFrame, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: building request: %v", ErrFacilitatorUnavailable, err)
	}
	h, err := f.headers(ctx, operation)
	if err != nil {
		return err
	}
	req.Header = h

	return f.do(req, out)
}

func (f *FacilitatorClient) get(ctx context.Context, operation, path string, query url.Values, out interface{}) error {
	full := f.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return fmt.Errorf("%w: building request: %v", ErrFacilitatorUnavailable, err)
	}
	h, err := f.headers(ctx, operation)
	if err != nil {
		return err
	}
	req.Header = h

	return f.do(req, out)
}

func (f *FacilitatorClient) do(req *http.Request, out interface{}) error {
	isList := strings.HasSuffix(req.URL.Path, "/discovery/resources")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if isList {
			return fmt.Errorf("%w: %v", ErrFacilitatorListFailed, err)
		}
		return fmt.Errorf("%w: %v", ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := ErrFacilitatorUnavailable
		if isList {
			kind = ErrFacilitatorListFailed
		}
		return NewPaymentError(kind, fmt.Sprintf("facilitator returned %d", resp.StatusCode), req.URL.String(), "", "", fmt.Errorf("%s", string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode facilitator response: %v", ErrMalformedFrame, err)
	}
	return nil
}
