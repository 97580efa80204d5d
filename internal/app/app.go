package app

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"

	"github.com/jgivc/recfetch/internal/adapter/fsadapter"
	"github.com/jgivc/recfetch/internal/auth"
	"github.com/jgivc/recfetch/internal/catalog"
	"github.com/jgivc/recfetch/internal/client"
	"github.com/jgivc/recfetch/internal/common"
	"github.com/jgivc/recfetch/internal/config"
	"github.com/jgivc/recfetch/internal/entity"
	"github.com/jgivc/recfetch/internal/repository/ledger"
	"github.com/jgivc/recfetch/internal/secret"
	"github.com/jgivc/recfetch/internal/service/counter"
	"github.com/jgivc/recfetch/internal/service/download"
	"github.com/jgivc/recfetch/internal/storage/mirror"
	"github.com/jgivc/recfetch/internal/storage/token"
)

const (
	pingTimeout = 5 * time.Second
	stopTimeout = 10 * time.Second
)

type tokenStore interface {
	Save(token *entity.AuthToken) error
	Load() (*entity.AuthToken, error)
	Delete() error
}

type completedLedger interface {
	download.CompletionHook
	CompletedSet(ctx context.Context, taskIDs []string) (map[string]bool, error)
	Forget(ctx context.Context, taskIDs ...string) error
	All(ctx context.Context) iter.Seq2[ledger.Entry, error]
}

type statsService interface {
	Stats(ctx context.Context) ([]counter.Stat, error)
}

type indexWriter interface {
	WriteIndex(m *entity.Meeting, files []*entity.RecordingFile) error
	Indexed(m *entity.Meeting) (map[string]struct{}, error)
}

// App owns every long-lived component and exposes the commands run by the CLI.
type App struct {
	cfg *config.Config
	fs  afero.Fs

	exec    *client.Executor
	auth    *auth.Manager
	tokens  tokenStore
	catalog *catalog.Fetcher
	index   indexWriter
	ledger  completedLedger
	stats   statsService
	hooks   []download.CompletionHook

	rdb *redis.Client
	log *slog.Logger
}

// NewLogger builds the process logger for level.
func NewLogger(w io.Writer, level string) (*slog.Logger, error) {
	lo := &slog.HandlerOptions{}
	switch level {
	case config.LogLevelInfo:
		lo.Level = slog.LevelInfo
	case config.LogLevelWarn:
		lo.Level = slog.LevelWarn
	case config.LogLevelError:
		lo.Level = slog.LevelError
	case config.LogLevelDebug:
		lo.Level = slog.LevelDebug
	default:
		return nil, common.Configuration("unknown log level %q", level)
	}

	return slog.New(slog.NewTextHandler(w, lo)), nil
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := NewLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	return NewWithFS(ctx, cfg, afero.NewOsFs(), log)
}

// NewWithFS wires the application on fs. Redis and the S3 mirror are optional and
// only connected when configured.
func NewWithFS(ctx context.Context, cfg *config.Config, fs afero.Fs, log *slog.Logger) (*App, error) {
	a := &App{
		cfg: cfg,
		fs:  fs,
		log: log,
	}

	a.exec = client.NewExecutor(client.Config{RequestTimeout: cfg.RequestTimeout()}, log)

	a.auth = auth.NewManager(auth.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: secret.New(cfg.ClientSecret),
		RedirectURI:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		OAuthBaseURL: cfg.OAuthBaseURL,
	}, a.exec, log)

	a.tokens = token.NewTokenStorage(fs, cfg.TokenFile, log)
	if err := a.restoreToken(); err != nil {
		return nil, err
	}
	a.auth.OnChange(a.persistToken)

	a.catalog = catalog.NewFetcher(a.exec, a.auth, catalog.Config{
		APIBaseURL: cfg.APIBaseURL,
		UserID:     cfg.UserID,
		MaxRetries: cfg.MaxRetries,
	}, log)

	fsa, err := fsadapter.NewFSAdapterWithFS(fs, cfg.OutputDirectory, log)
	if err != nil {
		return nil, err
	}
	a.index = fsa

	if cfg.RedisURL != "" {
		if err := a.connectRedis(ctx); err != nil {
			return nil, err
		}
	}

	if cfg.Mirror.Enabled() {
		m, err := mirror.NewS3Mirror(ctx, fs, mirror.Config{
			Bucket:          cfg.Mirror.Bucket,
			Region:          cfg.Mirror.Region,
			Prefix:          cfg.Mirror.Prefix,
			Endpoint:        cfg.Mirror.Endpoint,
			AccessKeyID:     cfg.Mirror.AccessKeyID,
			SecretAccessKey: cfg.Mirror.SecretAccessKey,
			Root:            cfg.OutputDirectory,
		}, log)
		if err != nil {
			return nil, err
		}
		a.hooks = append(a.hooks, m)
	}

	return a, nil
}

func (a *App) connectRedis(ctx context.Context) error {
	opt, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return common.Configuration("invalid redis_url: %v", err)
	}

	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if _, err := rdb.Ping(pingCtx).Result(); err != nil {
		rdb.Close()

		return fmt.Errorf("cannot connect to redis: %w", err)
	}

	l := ledger.NewLedgerRepository(rdb, a.log)
	a.rdb = rdb
	a.ledger = l
	a.stats = counter.NewCounterService(l, a.log)
	a.hooks = append(a.hooks, l)

	return nil
}

func (a *App) restoreToken() error {
	tok, err := a.tokens.Load()
	if err != nil {
		return fmt.Errorf("cannot load saved token: %w", err)
	}

	if tok != nil {
		a.auth.Load(tok)
		a.log.Debug("Token restored", slog.Time("expires_at", tok.ExpiresAt))
		tok.Wipe()
	}

	return nil
}

func (a *App) persistToken(tok *entity.AuthToken) {
	if err := a.tokens.Save(tok); err != nil {
		a.log.Error("Cannot persist token", slog.Any("error", err))
	}
}

// Stats returns per file kind totals of completed downloads. It needs redis_url.
func (a *App) Stats(ctx context.Context) ([]counter.Stat, error) {
	if a.stats == nil {
		return nil, common.Configuration("download statistics need redis_url")
	}

	return a.stats.Stats(ctx)
}

// Ledger iterates over every download recorded in redis.
func (a *App) Ledger(ctx context.Context) (iter.Seq2[ledger.Entry, error], error) {
	if a.ledger == nil {
		return nil, common.Configuration("the download ledger needs redis_url")
	}

	return a.ledger.All(ctx), nil
}

func (a *App) Close() error {
	if a.rdb != nil {
		return a.rdb.Close()
	}

	return nil
}
