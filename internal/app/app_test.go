package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/jgivc/recfetch/internal/adapter/fsadapter"
	"github.com/jgivc/recfetch/internal/common"
	"github.com/jgivc/recfetch/internal/config"
	"github.com/jgivc/recfetch/internal/entity"
	"github.com/jgivc/recfetch/internal/output"
	"github.com/jgivc/recfetch/internal/secret"
	"github.com/jgivc/recfetch/internal/storage/token"
	"github.com/jgivc/recfetch/internal/util"
)

const (
	tokenPath  = "/state/token.json"
	outputRoot = "/downloads"
)

type provider struct {
	srv       *httptest.Server
	downloads atomic.Int32
	exchanges atomic.Int32
}

func newProvider(t *testing.T) *provider {
	t.Helper()

	p := &provider{}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		p.exchanges.Add(1)
		require.NoError(t, r.ParseForm())

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-" + r.PostForm.Get("code"),
			"refresh_token": "rt",
			"token_type":    "bearer",
			"expires_in":    3600,
		})
	})

	mux.HandleFunc("GET /v2/users/me/recordings", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"meetings": []map[string]any{{
				"uuid":       "m1",
				"id":         1,
				"topic":      "Planning",
				"start_time": "2024-01-03T09:00:00Z",
				"recording_files": []map[string]any{
					{"id": "f1", "file_type": "MP4", "file_size": 5, "download_url": p.srv.URL + "/dl/f1", "recording_type": "shared_screen"},
					{"id": "f2", "file_type": "CHAT", "file_size": 3},
				},
			}},
		})
	})

	mux.HandleFunc("GET /dl/f1", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "saved" || r.Header.Get("Authorization") != "Bearer saved" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)

			return
		}
		p.downloads.Add(1)
		w.Write([]byte("hello"))
	})

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)

	return p
}

func testConfig(p *provider) *config.Config {
	cfg := &config.Config{
		ClientID:        "client",
		ClientSecret:    "secret",
		RedirectURI:     "http://127.0.0.1/oauth/callback",
		OAuthBaseURL:    p.srv.URL,
		APIBaseURL:      p.srv.URL,
		OutputDirectory: outputRoot,
		TokenFile:       tokenPath,
	}
	cfg.SetDefaults()

	return cfg
}

func newTestApp(t *testing.T, p *provider, fs afero.Fs) *App {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	a, err := NewWithFS(context.Background(), testConfig(p), fs, log)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	return a
}

func saveToken(t *testing.T, fs afero.Fs, access string) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	err := token.NewTokenStorage(fs, tokenPath, log).Save(&entity.AuthToken{
		AccessToken:  secret.New(access),
		RefreshToken: secret.New("rt"),
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
}

func TestDownload(t *testing.T) {
	p := newProvider(t)
	fs := afero.NewMemMapFs()
	saveToken(t, fs, "saved")

	a := newTestApp(t, p, fs)
	require.Equal(t, "saved", a.Token().AccessToken.Reveal())

	var buf bytes.Buffer
	req := DownloadRequest{From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)}

	sum, err := a.Download(context.Background(), req, output.NewFormatter(&buf, nil))
	require.NoError(t, err)
	require.Equal(t, 1, sum.Completed)
	require.True(t, sum.OK())
	require.Contains(t, buf.String(), "has no download URL")

	m := &entity.Meeting{UUID: "m1", Topic: "Planning", StartTime: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}
	f := &entity.RecordingFile{StableID: "f1", FileType: entity.FileTypeVideo, RecordingType: "shared_screen", Extension: "mp4"}

	data, err := afero.ReadFile(fs, filepath.Join(outputRoot, util.FileName(m, f)))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	exists, err := afero.Exists(fs, filepath.Join(outputRoot, util.MeetingDir(m), fsadapter.IndexMarkdownName))
	require.NoError(t, err)
	require.True(t, exists)

	// Already indexed and present on disk.
	sum, err = a.Download(context.Background(), req, output.NewFormatter(io.Discard, nil))
	require.NoError(t, err)
	require.Zero(t, sum.Completed)
	require.Equal(t, int32(1), p.downloads.Load())

	sum, err = a.Download(context.Background(), DownloadRequest{From: req.From, To: req.To, Select: []string{"m1-f1"}, Force: true}, output.NewFormatter(io.Discard, nil))
	require.NoError(t, err)
	require.Equal(t, 1, sum.Completed)
	require.Equal(t, int32(2), p.downloads.Load())
}

func TestDownloadUnknownSelection(t *testing.T) {
	p := newProvider(t)
	fs := afero.NewMemMapFs()
	saveToken(t, fs, "saved")

	a := newTestApp(t, p, fs)

	_, err := a.Download(context.Background(), DownloadRequest{
		From:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Select: []string{"nope"},
	}, output.NewFormatter(io.Discard, nil))
	require.Error(t, err)
	require.Zero(t, p.downloads.Load())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func TestLoginAndLogout(t *testing.T) {
	p := newProvider(t)
	fs := afero.NewMemMapFs()
	a := newTestApp(t, p, fs)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	out := &syncBuffer{}
	type result struct {
		token *entity.AuthToken
		err   error
	}
	done := make(chan result, 1)

	go func() {
		tok, err := a.login(context.Background(), ln, out)
		done <- result{token: tok, err: err}
	}()

	var authURL *url.URL
	require.Eventually(t, func() bool {
		for _, line := range strings.Split(out.String(), "\n") {
			if line = strings.TrimSpace(line); strings.HasPrefix(line, p.srv.URL+"/oauth/authorize?") {
				authURL, err = url.Parse(line)

				return err == nil
			}
		}

		return false
	}, 5*time.Second, 10*time.Millisecond)

	state := authURL.Query().Get("state")
	resp, err := http.Get("http://" + ln.Addr().String() + "/oauth/callback?code=c1&state=" + url.QueryEscape(state))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	r := <-done
	require.NoError(t, r.err)
	require.Equal(t, int32(1), p.exchanges.Load())

	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	saved, err := token.NewTokenStorage(fs, tokenPath, log).Load()
	require.NoError(t, err)
	require.Equal(t, "at-c1", saved.AccessToken.Reveal())

	a.Logout()
	require.Nil(t, a.Token())

	exists, err := afero.Exists(fs, tokenPath)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestLoginCancelled(t *testing.T) {
	p := newProvider(t)
	a := newTestApp(t, p, afero.NewMemMapFs())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = a.login(ctx, ln, io.Discard)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{config.LogLevelDebug, config.LogLevelInfo, config.LogLevelWarn, config.LogLevelError} {
		log, err := NewLogger(io.Discard, level)
		require.NoError(t, err)
		require.NotNil(t, log)
	}

	_, err := NewLogger(io.Discard, "verbose")
	require.Error(t, err)
}

func TestStatsNeedRedis(t *testing.T) {
	p := newProvider(t)
	a := newTestApp(t, p, afero.NewMemMapFs())

	_, err := a.Stats(context.Background())
	require.ErrorIs(t, err, common.ErrConfigurationError)

	_, err = a.Ledger(context.Background())
	require.ErrorIs(t, err, common.ErrConfigurationError)
}
