// Package restapi exposes the read-only HTTP surface the distilled spec's
// python aiohttp_cors service described: stats, recent blocks, recent
// transactions, and per-producer censorship history, each backed by
// internal/pebblestore's snapshot-isolated read accessors. It is a thin
// collaborator wired by cmd/censormon, not part of the engine's own test
// surface.
package restapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/ethereum-censorship-monitor/ethereum-censorship-monitor/internal/pebblestore"
)

// DefaultRecentLimit is the row limit for /v1/blocks and /v1/transactions
// when the request has no valid positive limit query parameter. A valid
// limit supplied by the caller is used as given, including one larger than
// this default.
const DefaultRecentLimit = 100

// NewServer builds the *http.Server for addr, wiring every route to store
// and mounting Prometheus's handler at /metrics alongside them.
func NewServer(addr string, store *pebblestore.Store) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/stats", handleStats(store))
	mux.HandleFunc("/v1/blocks", handleBlocks(store))
	mux.HandleFunc("/v1/transactions", handleTransactions(store))
	mux.HandleFunc("/v1/validators", handleValidators(store))
	mux.Handle("/metrics", promhttp.Handler())

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(mux)

	return &http.Server{Addr: addr, Handler: handler}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("restapi: failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func handleStats(store *pebblestore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.Stats()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleBlocks(store *pebblestore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := limitFromQuery(r, DefaultRecentLimit)
		blocks, err := store.RecentBlocks(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, blocks)
	}
}

func handleTransactions(store *pebblestore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := limitFromQuery(r, DefaultRecentLimit)
		txs, err := store.RecentTransactions(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, txs)
	}
}

func handleValidators(store *pebblestore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		validators, err := store.ValidatorsWithLastCensored()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, validators)
	}
}

func limitFromQuery(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}
