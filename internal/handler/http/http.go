package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jgivc/recfetch/internal/common"
	"github.com/jgivc/recfetch/internal/entity"
)

const (
	paramCode  = "code"
	paramState = "state"
	paramError = "error"
	paramDesc  = "error_description"

	successPage = `<!DOCTYPE html>
<html><head><meta charset="UTF-8"><title>recfetch</title></head>
<body><h1>Authorization complete</h1><p>You can close this window and return to the terminal.</p></body></html>
`
)

type AuthService interface {
	FlowByState(state string) (string, bool)
	AbandonAuthorizationByState(state string) bool
	CompleteAuthorizationByState(ctx context.Context, code, state string) (*entity.AuthToken, error)
}

// DoneFunc receives the outcome of a callback that reached a known flow.
type DoneFunc func(*entity.AuthToken, error)

// NewCallbackHandler serves the OAuth redirect: GET <redirect path>?code&state.
func NewCallbackHandler(srv AuthService, log *slog.Logger, done ...DoneFunc) http.HandlerFunc {
	log = log.With(slog.String("handler", "CallbackHandler"))

	finish := func(token *entity.AuthToken, err error) {
		for _, fn := range done {
			fn(token, err)
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)

			return
		}

		q := r.URL.Query()
		state := q.Get(paramState)

		if providerErr := q.Get(paramError); providerErr != "" {
			log.Warn("Authorization denied by provider", slog.String("error", providerErr), slog.String("description", q.Get(paramDesc)))
			http.Error(w, "Authorization failed: "+providerErr, http.StatusBadRequest)

			if state != "" && srv.AbandonAuthorizationByState(state) {
				finish(nil, common.Authentication("provider returned %s", providerErr))
			}

			return
		}

		code := q.Get(paramCode)
		if code == "" || state == "" {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		if _, ok := srv.FlowByState(state); !ok {
			log.Warn("Callback with unknown state")
			http.Error(w, "Unknown or expired authorization state", http.StatusBadRequest)

			return
		}

		token, err := srv.CompleteAuthorizationByState(r.Context(), code, state)
		if err != nil {
			log.Error("Cannot complete authorization", slog.Any("error", err))

			switch {
			case errors.Is(err, common.ErrAuthenticationError):
				http.Error(w, "Authorization failed", http.StatusUnauthorized)
			default:
				http.Error(w, "Cannot reach authorization server", http.StatusBadGateway)
			}

			finish(nil, err)

			return
		}

		log.Info("Authorization complete")

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(successPage))

		finish(token, nil)
	}
}
