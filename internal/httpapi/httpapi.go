// Package httpapi exposes the roll service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/xtding233/loot-roller/internal/metrics"
	"github.com/xtding233/loot-roller/internal/roll"
)

// PlayerHeader carries the actor identity bound by the fronting session layer.
const PlayerHeader = "X-Player-Id"

// Roller resolves one roll request.
type Roller interface {
	Roll(ctx context.Context, playerID, requestID string) (*roll.Response, bool)
}

type rollReq struct {
	RequestID string `json:"requestId"`
}

// Handler serves POST /roll, GET /metrics and GET /healthz.
func Handler(r Roller, log zerolog.Logger) http.Handler {
	log = log.With().Str("component", "http").Logger()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /roll", func(w http.ResponseWriter, req *http.Request) {
		var body rollReq
		if err := json.NewDecoder(io.LimitReader(req.Body, 4096)).Decode(&body); err != nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		resp, ok := r.Roll(req.Context(), req.Header.Get(PlayerHeader), body.RequestID)
		if !ok {
			// Rejected requests never get a payload.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Debug().Err(err).Str("request_id", body.RequestID).Msg("write roll response")
		}
	})
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	return mux
}
