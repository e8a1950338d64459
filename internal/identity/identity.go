// Package identity decodes the caller's identity from a bearer access token.
package identity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSubject is returned when the token carries no usable sub claim.
var ErrNoSubject = errors.New("token has no subject")

// Identity is the authenticated caller: user id plus the credential used to
// open sockets and call the REST API.
type Identity struct {
	UserID string
	Token  string
}

// FromToken decodes the sub claim without verifying the signature; the
// backend verifies the token on every request, the client only needs the id.
// A leading "Bearer " is stripped.
func FromToken(token string) (Identity, error) {
	token = StripBearer(token)
	if token == "" {
		return Identity{}, errors.New("empty token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("decode token: %w", err)
	}

	sub, err := subject(claims["sub"])
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: sub, Token: token}, nil
}

// StripBearer removes a case-insensitive "Bearer " prefix and surrounding space.
func StripBearer(token string) string {
	token = strings.TrimSpace(token)
	if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

func subject(v any) (string, error) {
	switch s := v.(type) {
	case string:
		if s == "" {
			return "", ErrNoSubject
		}
		return s, nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	default:
		return "", ErrNoSubject
	}
}
