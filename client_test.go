package x402

import (
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func challengeBody(t *testing.T, reqs ...PaymentRequirement) []byte {
	t.Helper()
	body, err := json.Marshal(PaymentRequirementsResponse{X402Version: Version, Error: "payment required", Accepts: reqs})
	require.NoError(t, err)
	return body
}

func sepoliaRequirement(amount string) PaymentRequirement {
	return PaymentRequirement{
		Scheme:            "exact",
		Network:           "bsc-mainnet",
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		PayTo:             "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb6",
		MaxAmountRequired: amount,
		MaxTimeoutSeconds: 60,
		Resource:          "/premium",
		Extra:             map[string]string{"name": "USDC", "version": "2"},
	}
}

func TestPaymentTransportRetriesOnceAndSucceeds(t *testing.T) {
	var requestCount int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		if r.Header.Get("X-PAYMENT") == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write(challengeBody(t, sepoliaRequirement("1000")))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("paid content"))
	}))
	defer server.Close()

	signer := NewMockSigner("0xabc", AcceptUSDCBaseSepolia())
	client, err := NewClient(WithSigner(signer), WithMaxValue(big.NewInt(10_000)))
	require.NoError(t, err)

	httpClient := WrapHTTPClientWithPayment(nil, client)
	resp, err := httpClient.Get(server.URL + "/premium")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paid content", string(body))
	assert.Equal(t, 2, requestCount)
}

func TestPaymentTransportNeverRetriesTwice(t *testing.T) {
	var requestCount int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write(challengeBody(t, sepoliaRequirement("1000")))
	}))
	defer server.Close()

	signer := NewMockSigner("0xabc", AcceptUSDCBaseSepolia())
	client, err := NewClient(WithSigner(signer), WithMaxValue(big.NewInt(10_000)))
	require.NoError(t, err)

	httpClient := WrapHTTPClientWithPayment(nil, client)
	resp, err := httpClient.Get(server.URL + "/premium")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, 2, requestCount, "original attempt plus exactly one signed retry, no loop")
}

func TestClientMaxValueGuardStopsBeforeSigning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write(challengeBody(t, sepoliaRequirement("1000000")))
	}))
	defer server.Close()

	signer := NewMockSigner("0xabc", AcceptUSDCBaseSepolia())
	client, err := NewClient(WithSigner(signer), WithMaxValue(big.NewInt(100)))
	require.NoError(t, err)

	httpClient := WrapHTTPClientWithPayment(nil, client)
	_, err = httpClient.Get(server.URL + "/premium")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPaymentAmountExceeded)
}

func TestClientEmitsEventsAcrossAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-PAYMENT") == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write(challengeBody(t, sepoliaRequirement("1000")))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	recorder := NewPaymentRecorder()
	signer := NewMockSigner("0xabc", AcceptUSDCBaseSepolia())
	client, err := NewClient(
		WithSigner(signer),
		WithMaxValue(big.NewInt(10_000)),
		WithOnEvent(recorder.Record),
	)
	require.NoError(t, err)

	httpClient := WrapHTTPClientWithPayment(nil, client)
	resp, err := httpClient.Get(server.URL + "/premium")
	require.NoError(t, err)
	resp.Body.Close()

	require.NotEmpty(t, recorder.SuccessfulPayments(), "expected a success event to be emitted")
	assert.Empty(t, recorder.FailedPayments())
	last := recorder.LastPayment()
	require.NotNil(t, last)
	assert.Equal(t, PaymentEventSuccess, last.Type)
	assert.Equal(t, "1000", recorder.TotalAmount())
}

func TestClientRequiresAtLeastOneSigner(t *testing.T) {
	_, err := NewClient()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestClientCustomSelectorOverridesDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write(challengeBody(t, sepoliaRequirement("1000"), sepoliaRequirement("2000")))
	}))
	defer server.Close()

	var sawCandidateCount int
	selector := func(signer PaymentSigner, accepts []PaymentRequirement) (*PaymentRequirement, error) {
		sawCandidateCount = len(accepts)
		// Deliberately picks the most expensive requirement instead of the
		// default cheapest-first policy, to prove this hook actually runs.
		return &accepts[len(accepts)-1], nil
	}

	signer := NewMockSigner("0xabc", AcceptUSDCBaseSepolia())
	client, err := NewClient(WithSigner(signer), WithMaxValue(big.NewInt(10_000)), WithSelector(selector))
	require.NoError(t, err)

	httpClient := WrapHTTPClientWithPayment(nil, client)
	resp, err := httpClient.Get(server.URL + "/premium")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 2, sawCandidateCount, "custom selector must see every filtered candidate")
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode, "server in this test never accepts payment, only the selection path is under test")
}

func TestClientNetworkFilterExcludesOtherNetworks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write(challengeBody(t, PaymentRequirement{
			Scheme: "exact", Network: "base", Asset: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			PayTo: "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb6", MaxAmountRequired: "1000", MaxTimeoutSeconds: 60,
		}))
	}))
	defer server.Close()

	signer := NewMockSigner("0xabc", AcceptUSDCBaseSepolia())
	client, err := NewClient(WithSigner(signer), WithNetworkFilter("bsc-mainnet"), WithMaxValue(big.NewInt(10_000)))
	require.NoError(t, err)

	httpClient := WrapHTTPClientWithPayment(nil, client)
	_, err = httpClient.Get(server.URL + "/premium")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}
