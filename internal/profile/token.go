package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/taptoon/taptoon-fe/internal/identity"
)

// TokenEnv takes precedence over the profile's token file.
const TokenEnv = "TAPTOON_ACCESS_TOKEN"

// ErrNoToken means neither the environment nor the profile holds a token.
var ErrNoToken = errors.New("no access token: run chatctl login or set " + TokenEnv)

// SaveToken stores token for the profile, without any Bearer prefix.
func SaveToken(name, token string) error {
	token = identity.StripBearer(token)
	if token == "" {
		return errors.New("empty token")
	}
	path := TokenPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token+"\n"), 0600)
}

// LoadToken returns $TAPTOON_ACCESS_TOKEN or the profile's stored token.
func LoadToken(name string) (string, error) {
	if tok := identity.StripBearer(os.Getenv(TokenEnv)); tok != "" {
		return tok, nil
	}
	data, err := os.ReadFile(TokenPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	tok := identity.StripBearer(strings.TrimSpace(string(data)))
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

// LoadIdentity loads the profile's token and decodes the caller from it.
func LoadIdentity(name string) (identity.Identity, error) {
	tok, err := LoadToken(name)
	if err != nil {
		return identity.Identity{}, err
	}
	return identity.FromToken(tok)
}
