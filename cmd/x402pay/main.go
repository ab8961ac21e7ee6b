// Command x402pay fetches a resource through an x402 paywall, signing and
// retrying automatically. It demonstrates wiring Client and
// WrapHTTPClientWithPayment around a plain net/http.Client; it is not part
// of the core protocol implementation.
package main

import (
	"flag"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/x402-go/x402"
)

func main() {
	var (
		privateKeyFlag = flag.String("key", "", "private key hex (or set PRIVATE_KEY env var)")
		resourceURL    = flag.String("url", os.Getenv("RESOURCE_SERVER_URL"), "resource URL to fetch (or set RESOURCE_SERVER_URL)")
		endpointPath   = flag.String("endpoint", envOr("ENDPOINT_PATH", "/weather"), "path appended to -url")
		network        = flag.String("network", envOr("NETWORK", "bsc-mainnet"), "network to pay on")
		verbose        = flag.Bool("v", false, "log each payment attempt")
	)
	flag.Parse()

	privateKey := *privateKeyFlag
	if privateKey == "" {
		privateKey = os.Getenv("PRIVATE_KEY")
	}
	if privateKey == "" {
		log.Fatal("private key required: use -key flag or set PRIVATE_KEY environment variable")
	}
	if *resourceURL == "" {
		log.Fatal("resource URL required: use -url flag or set RESOURCE_SERVER_URL environment variable")
	}

	option, err := acceptOptionFor(*network)
	if err != nil {
		log.Fatalf("unsupported network %q: %v", *network, err)
	}

	signer, err := x402.NewPrivateKeySigner(privateKey, option)
	if err != nil {
		log.Fatalf("failed to create signer: %v", err)
	}
	log.Printf("using wallet address: %s", signer.GetAddress())

	clientOpts := []x402.ClientOption{x402.WithSigner(signer)}
	if *verbose {
		clientOpts = append(clientOpts, x402.WithOnEvent(func(ev x402.PaymentEvent) {
			switch ev.Type {
			case x402.PaymentEventAttempt:
				log.Printf("attempting payment on %s for %s", ev.Network, ev.Resource)
			case x402.PaymentEventSuccess:
				log.Printf("payment succeeded for %s", ev.Resource)
			case x402.PaymentEventFailure:
				log.Printf("payment failed: %v", ev.Error)
			}
		}))
	}

	payClient, err := x402.NewClient(clientOpts...)
	if err != nil {
		log.Fatalf("failed to create payment client: %v", err)
	}

	httpClient := x402.WrapHTTPClientWithPayment(&http.Client{}, payClient)

	resp, err := httpClient.Get(*resourceURL + *endpointPath)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("failed to read response: %v", err)
	}

	log.Printf("response status: %s", resp.Status)
	log.Printf("response body: %s", body)
}

func acceptOptionFor(network string) (x402.ClientPaymentOption, error) {
	switch network {
	case "base":
		return x402.AcceptUSDCBase(), nil
	case "bsc-mainnet":
		return x402.AcceptUSDCBaseSepolia(), nil
	case "avalanche":
		return x402.AcceptUSDCAvalanche(), nil
	case "avalanche-fuji":
		return x402.AcceptUSDCAvalancheFuji(), nil
	default:
		return x402.ClientPaymentOption{}, x402.ErrUnsupportedNetwork
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
