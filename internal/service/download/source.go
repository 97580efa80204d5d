package download

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/jgivc/recfetch/internal/client"
	"github.com/jgivc/recfetch/internal/common"
)

// AuthorizedDoer sends a request with a bearer token. *client.Executor satisfies it.
type AuthorizedDoer interface {
	DoAuthorized(ctx context.Context, req *http.Request, tokens client.TokenSource) (*http.Response, error)
}

// HTTPSource downloads recording files. The access token is passed both as the
// access_token query parameter and as a bearer header.
type HTTPSource struct {
	api    AuthorizedDoer
	tokens client.TokenSource
}

func NewHTTPSource(api AuthorizedDoer, tokens client.TokenSource) *HTTPSource {
	return &HTTPSource{
		api:    api,
		tokens: tokens,
	}
}

func (s *HTTPSource) Open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, 0, common.Validation("invalid download url: %v", err)
	}

	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return nil, 0, err
	}

	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, common.Validation("cannot create request: %v", err)
	}

	resp, err := s.api.DoAuthorized(ctx, req, fixedToken(token))
	if err != nil {
		return nil, 0, err
	}

	return resp.Body, resp.ContentLength, nil
}

// fixedToken makes the bearer header carry the same token as the query parameter.
type fixedToken string

func (t fixedToken) AccessToken(context.Context) (string, error) {
	return string(t), nil
}
