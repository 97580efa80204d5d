// Package token keeps the OAuth token in a local file so that a later run can
// reuse it. The file holds plaintext secrets and is created with mode 0600.
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/jgivc/recfetch/internal/common"
	"github.com/jgivc/recfetch/internal/entity"
	"github.com/jgivc/recfetch/internal/secret"
)

const (
	filePerm = 0o600
	dirPerm  = 0o700
)

type tokenFile struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
}

type tokenStorage struct {
	fs   afero.Fs
	path string
	log  *slog.Logger
}

func NewTokenStorage(fs afero.Fs, path string, log *slog.Logger) *tokenStorage {
	return &tokenStorage{
		fs:   fs,
		path: path,
		log:  log.With(slog.String("item", "TokenStorage")),
	}
}

// Save writes token, or deletes the file when token is nil.
func (s *tokenStorage) Save(token *entity.AuthToken) error {
	if token == nil {
		return s.Delete()
	}

	data, err := json.MarshalIndent(tokenFile{
		AccessToken:  token.AccessToken.Reveal(),
		TokenType:    token.TokenType,
		ExpiresAt:    token.ExpiresAt.UTC(),
		RefreshToken: token.RefreshToken.Reveal(),
		Scopes:       token.Scopes,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot encode token: %w", err)
	}
	defer wipe(data)

	if err := s.fs.MkdirAll(filepath.Dir(s.path), dirPerm); err != nil {
		return common.FileSystem("create token directory", err)
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, filePerm); err != nil {
		return common.FileSystem("write token file", err)
	}

	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)

		return common.FileSystem("replace token file", err)
	}

	s.log.Debug("Token saved", slog.String("path", s.path))

	return nil
}

// Load returns the stored token, or nil when none has been saved.
func (s *tokenStorage) Load() (*entity.AuthToken, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, common.FileSystem("read token file", err)
	}
	defer wipe(data)

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, common.Validation("corrupt token file %s: %v", s.path, err)
	}

	if tf.AccessToken == "" {
		return nil, common.Validation("token file %s has no access token", s.path)
	}

	token := &entity.AuthToken{
		AccessToken: secret.New(tf.AccessToken),
		TokenType:   tf.TokenType,
		ExpiresAt:   tf.ExpiresAt,
		Scopes:      tf.Scopes,
	}
	if tf.RefreshToken != "" {
		token.RefreshToken = secret.New(tf.RefreshToken)
	}

	return token, nil
}

func (s *tokenStorage) Delete() error {
	if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return common.FileSystem("delete token file", err)
	}

	s.log.Debug("Token deleted", slog.String("path", s.path))

	return nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
