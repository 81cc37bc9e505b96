package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"splitsync/internal/config"
	"splitsync/internal/domain"
)

// ErrNoToken is returned when no credential is currently stored.
var ErrNoToken = errors.New("no token available")

// Static serves fixed credentials, typically from configuration.
type Static struct {
	Access  string
	Refresh string
}

func (s Static) AccessToken(context.Context) (string, error) {
	if s.Access == "" {
		return "", ErrNoToken
	}
	return s.Access, nil
}

func (s Static) RefreshToken(context.Context) (string, error) {
	if s.Refresh == "" {
		return "", ErrNoToken
	}
	return s.Refresh, nil
}

// FileTokens reads credentials from a JSON file that an external login flow
// keeps up to date. The file is read on every call so a refreshed token is
// picked up by the next connection attempt.
type FileTokens struct {
	path string
}

func NewFileTokens(path string) *FileTokens {
	return &FileTokens{path: path}
}

type tokenFile struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (f *FileTokens) read() (tokenFile, error) {
	var tokens tokenFile
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return tokens, ErrNoToken
	}
	if err != nil {
		return tokens, fmt.Errorf("read token file: %w", err)
	}
	if err := json.Unmarshal(data, &tokens); err != nil {
		return tokens, fmt.Errorf("parse token file: %w", err)
	}
	return tokens, nil
}

func (f *FileTokens) AccessToken(context.Context) (string, error) {
	tokens, err := f.read()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(tokens.AccessToken) == "" {
		return "", ErrNoToken
	}
	return tokens.AccessToken, nil
}

func (f *FileTokens) RefreshToken(context.Context) (string, error) {
	tokens, err := f.read()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(tokens.RefreshToken) == "" {
		return "", ErrNoToken
	}
	return tokens.RefreshToken, nil
}

// NewSource picks the token file when configured, otherwise the inline tokens.
func NewSource(cfg config.AuthConfig) domain.TokenSource {
	if cfg.TokenFile != "" {
		return NewFileTokens(cfg.TokenFile)
	}
	return Static{Access: cfg.AccessToken, Refresh: cfg.RefreshToken}
}
