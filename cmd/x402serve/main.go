// Command x402serve runs a single-endpoint reference resource server gated
// behind an x402 paywall. It demonstrates wiring server.New into a
// go-chi router; it is not part of the core protocol implementation.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/x402-go/x402"
	x402server "github.com/x402-go/x402/server"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var (
		port           = flag.String("port", envOr("PORT", "8080"), "port to listen on")
		payTo          = flag.String("address", os.Getenv("ADDRESS"), "payment recipient wallet address (required)")
		network        = flag.String("network", envOr("NETWORK", "bsc-mainnet"), "network to charge on")
		facilitatorURL = flag.String("facilitator", envOr("FACILITATOR_URL", "https://facilitator.x402.rs"), "facilitator base URL")
		endpointPath   = flag.String("endpoint", envOr("ENDPOINT_PATH", "/weather"), "protected endpoint path")
		price          = flag.String("price", "$0.001", "USD price per request")
		verifyOnly     = flag.Bool("verify-only", false, "verify payments without settling on-chain")
	)
	flag.Parse()

	if *payTo == "" {
		log.Fatal().Msg("-address flag (or ADDRESS env var) is required")
	}

	cfg := x402server.Config{
		Price:       x402.USD(*price),
		PayTo:       *payTo,
		Paths:       []string{*endpointPath},
		Network:     *network,
		Description: "weather data",
		Facilitator: x402.FacilitatorConfig{URL: *facilitatorURL},
		VerifyOnly:  *verifyOnly,
	}

	gated, err := x402server.New(http.HandlerFunc(weatherHandler), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct x402 middleware")
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Handle(*endpointPath, gated)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	log.Info().
		Str("port", *port).
		Str("endpoint", *endpointPath).
		Str("network", *network).
		Str("facilitator", *facilitatorURL).
		Str("pay_to", *payTo).
		Bool("verify_only", *verifyOnly).
		Msg("x402serve listening")

	if err := http.ListenAndServe(":"+*port, router); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func weatherHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"location":    "San Francisco",
		"temperature": 62,
		"conditions":  "foggy",
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
