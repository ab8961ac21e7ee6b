package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402-go/x402"
)

type facilitatorStub struct {
	verifyValid    bool
	verifyReason   string
	settleSuccess  bool
	settleReason   string
	verifyCalls    int
	settleCalls    int
}

func newFacilitatorStub(t *testing.T, stub *facilitatorStub) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/verify":
			stub.verifyCalls++
			json.NewEncoder(w).Encode(x402.VerifyResponse{IsValid: stub.verifyValid, InvalidReason: stub.verifyReason, Payer: "0xpayer"})
		case "/settle":
			stub.settleCalls++
			json.NewEncoder(w).Encode(x402.SettlementResponse{Success: stub.settleSuccess, ErrorReason: stub.settleReason, Transaction: "0xtx", Network: "bsc-mainnet"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func validPaymentHeader(t *testing.T) string {
	t.Helper()
	payload := &x402.PaymentPayload{
		X402Version: x402.Version,
		Scheme:      "exact",
		Network:     "bsc-mainnet",
		Payload: x402.PaymentPayloadData{
			Signature: "0x" + "00",
			Authorization: x402.PaymentAuthorization{
				From: "0xfrom", To: "0xto", Value: "1000",
				ValidAfter: "1", ValidBefore: "999999999999", Nonce: "0xnonce",
			},
		},
	}
	encoded, err := x402.EncodePayment(payload)
	require.NoError(t, err)
	return encoded
}

func newTestHandler(t *testing.T, stub *facilitatorStub, cfg Config, next http.Handler) (http.Handler, *httptest.Server) {
	t.Helper()
	fs := newFacilitatorStub(t, stub)
	cfg.Facilitator = x402.FacilitatorConfig{URL: fs.URL}
	if cfg.PayTo == "" {
		cfg.PayTo = "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb6"
	}
	if cfg.Price.USD == "" && cfg.Price.TokenAmount == nil {
		cfg.Price = x402.USD("$0.01")
	}
	h, err := New(next, cfg)
	require.NoError(t, err)
	return h, fs
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"weather":"sunny"}`))
	})
}

func TestMiddlewarePassthroughForUnmatchedPath(t *testing.T) {
	stub := &facilitatorStub{}
	h, fs := newTestHandler(t, stub, Config{Paths: []string{"/premium"}}, okHandler())
	defer fs.Close()

	req := httptest.NewRequest(http.MethodGet, "/free", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, stub.verifyCalls, "unmatched path must never hit the facilitator")
}

func TestMiddlewareMissingHeaderReturnsJSON402(t *testing.T) {
	stub := &facilitatorStub{}
	h, fs := newTestHandler(t, stub, Config{}, okHandler())
	defer fs.Close()

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	var body x402.PaymentRequirementsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "No X-PAYMENT header")
	require.Len(t, body.Accepts, 1)
}

func TestMiddlewareMalformedHeaderReturns402(t *testing.T) {
	stub := &facilitatorStub{}
	h, fs := newTestHandler(t, stub, Config{}, okHandler())
	defer fs.Close()

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("X-PAYMENT", "not-valid-base64!!")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid payment header format")
	assert.Equal(t, 0, stub.verifyCalls)
}

func TestMiddlewareBrowserClientGetsHTMLPaywall(t *testing.T) {
	stub := &facilitatorStub{}
	h, fs := newTestHandler(t, stub, Config{}, okHandler())
	defer fs.Close()

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15)")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "window.x402")
}

func TestMiddlewareHappyPathSettlesAndAttachesHeader(t *testing.T) {
	stub := &facilitatorStub{verifyValid: true, settleSuccess: true}
	h, fs := newTestHandler(t, stub, Config{}, okHandler())
	defer fs.Close()

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("X-PAYMENT", validPaymentHeader(t))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"weather":"sunny"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-PAYMENT-RESPONSE"))
	assert.Equal(t, 1, stub.verifyCalls)
	assert.Equal(t, 1, stub.settleCalls)
}

func TestMiddlewareVerificationFailureReturns402(t *testing.T) {
	stub := &facilitatorStub{verifyValid: false, verifyReason: "insufficient funds"}
	h, fs := newTestHandler(t, stub, Config{}, okHandler())
	defer fs.Close()

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("X-PAYMENT", validPaymentHeader(t))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient funds")
	assert.Equal(t, 0, stub.settleCalls, "settle must never be called after a failed verify")
}

func TestMiddlewareSkipsSettleOnNon2xxHandlerResponse(t *testing.T) {
	stub := &facilitatorStub{verifyValid: true, settleSuccess: true}
	failingHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("not found"))
	})
	h, fs := newTestHandler(t, stub, Config{}, failingHandler)
	defer fs.Close()

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("X-PAYMENT", validPaymentHeader(t))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", rec.Body.String())
	assert.Equal(t, 0, stub.settleCalls, "a non-2xx handler response must suppress settlement")
	assert.Empty(t, rec.Header().Get("X-PAYMENT-RESPONSE"))
}

func TestMiddlewareSettleFailureAfterSuccessfulHandlerReturns402(t *testing.T) {
	stub := &facilitatorStub{verifyValid: true, settleSuccess: false, settleReason: "chain congested"}
	h, fs := newTestHandler(t, stub, Config{}, okHandler())
	defer fs.Close()

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("X-PAYMENT", validPaymentHeader(t))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "chain congested")
	assert.Empty(t, rec.Header().Get("X-PAYMENT-RESPONSE"))
}

func TestMiddlewareVerifyOnlySkipsRealSettlement(t *testing.T) {
	stub := &facilitatorStub{verifyValid: true}
	h, fs := newTestHandler(t, stub, Config{VerifyOnly: true}, okHandler())
	defer fs.Close()

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("X-PAYMENT", validPaymentHeader(t))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, stub.settleCalls, "verify-only mode must never call the facilitator's settle endpoint")
	assert.NotEmpty(t, rec.Header().Get("X-PAYMENT-RESPONSE"))
}

func TestMiddlewareRejectsConfigWithEmptyFacilitatorURL(t *testing.T) {
	_, err := New(okHandler(), Config{Price: x402.USD("$0.01"), PayTo: "0xabc"})
	assert.ErrorIs(t, err, x402.ErrInvalidConfig)
}

func TestMiddlewareRejectsUnsupportedNetwork(t *testing.T) {
	_, err := New(okHandler(), Config{
		Price: x402.USD("$0.01"), PayTo: "0xabc", Network: "ethereum",
		Facilitator: x402.FacilitatorConfig{URL: "http://localhost:9999"},
	})
	assert.ErrorIs(t, err, x402.ErrInvalidConfig)
}

func TestMiddlewareWiresDiscoverableAndOutputSchemaIntoChallenge(t *testing.T) {
	stub := &facilitatorStub{}
	outputSchema := map[string]interface{}{"temperature": "number", "conditions": "string"}
	h, fs := newTestHandler(t, stub, Config{Discoverable: true, OutputSchema: outputSchema}, okHandler())
	defer fs.Close()

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	var body x402.PaymentRequirementsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Accepts, 1)
	require.NotNil(t, body.Accepts[0].OutputSchema)
	assert.True(t, body.Accepts[0].OutputSchema.Input.Discoverable)
	assert.Equal(t, map[string]interface{}{"temperature": "number", "conditions": "string"}, body.Accepts[0].OutputSchema.Output)
}

func TestMiddlewareDefaultsToNotDiscoverable(t *testing.T) {
	stub := &facilitatorStub{}
	h, fs := newTestHandler(t, stub, Config{}, okHandler())
	defer fs.Close()

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body x402.PaymentRequirementsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Accepts, 1)
	require.NotNil(t, body.Accepts[0].OutputSchema)
	assert.False(t, body.Accepts[0].OutputSchema.Input.Discoverable, "a caller that never opts in to discovery should not be listed as discoverable")
}

func TestMiddlewareRequireUSDCHelpersProduceUsableRequirement(t *testing.T) {
	req := RequireUSDCBase("0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb6", "1000", "weather data")
	assert.Equal(t, "base", req.Network)
	assert.Equal(t, "exact", req.Scheme)
	assert.Equal(t, "weather data", req.Description)
	assert.NotEmpty(t, req.Asset)
}
