package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jgivc/recfetch/internal/common"
	"github.com/jgivc/recfetch/internal/entity"
	httphandler "github.com/jgivc/recfetch/internal/handler/http"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Login runs the authorization code flow: it prints the authorization URL to w and
// serves the redirect callback until the flow completes or ctx is done.
func (a *App) Login(ctx context.Context, w io.Writer) (*entity.AuthToken, error) {
	ln, err := net.Listen("tcp", a.cfg.CallbackListen)
	if err != nil {
		return nil, common.Configuration("cannot listen on %s: %v", a.cfg.CallbackListen, err)
	}

	return a.login(ctx, ln, w)
}

func (a *App) login(ctx context.Context, ln net.Listener, w io.Writer) (*entity.AuthToken, error) {
	type result struct {
		token *entity.AuthToken
		err   error
	}
	done := make(chan result, 1)

	authURL, _, err := a.auth.BeginAuthorization()
	if err != nil {
		ln.Close()

		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+a.cfg.CallbackPath(), httphandler.NewCallbackHandler(a.auth, a.log, func(tok *entity.AuthToken, err error) {
		select {
		case done <- result{token: tok, err: err}:
		default:
		}
	}))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Could not serve callback", slog.String("listen_addr", ln.Addr().String()), slog.Any("error", err))
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(w, "Open this URL in a browser to authorize recfetch:\n\n  %s\n\nWaiting for the redirect on %s ...\n", authURL, ln.Addr())

	select {
	case r := <-done:
		return r.token, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Logout forgets the token here and on disk.
func (a *App) Logout() {
	a.auth.Clear()
}

func (a *App) Refresh(ctx context.Context) (*entity.AuthToken, error) {
	return a.auth.Refresh(ctx)
}

// Token returns the current token, nil when not logged in.
func (a *App) Token() *entity.AuthToken {
	return a.auth.CurrentToken()
}
