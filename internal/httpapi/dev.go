package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/xtding233/loot-roller/internal/token"
)

type issueReq struct {
	PlayerID  string `json:"playerId"`
	RequestID string `json:"requestId"`
	token.Metadata
	TTLSeconds int `json:"ttlSeconds,omitempty"`
}

// DevHandler serves POST /dev/tokens, which loads the player through seed
// and issues a token. It stands in for the real token service in local runs
// and must not be mounted in production.
func DevHandler(issuer token.Issuer, seed func(ctx context.Context, playerID string) error) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /dev/tokens", func(w http.ResponseWriter, r *http.Request) {
		var body issueReq
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if body.PlayerID == "" || body.RequestID == "" {
			http.Error(w, "playerId and requestId are required", http.StatusBadRequest)
			return
		}
		if seed != nil {
			if err := seed(r.Context(), body.PlayerID); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		ttl := time.Duration(body.TTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		if err := issuer.Issue(r.Context(), body.PlayerID, body.RequestID, body.Metadata, ttl); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	return mux
}
