// Package auth supplies session tokens to the stream. Obtaining and
// refreshing tokens (interactive login, certificate login) is an external
// concern; the stream only asks for the current one right before each
// connection attempt.
package auth

import (
	"context"
	"errors"
	"os"
)

// ErrNoToken reports that no session token is available.
var ErrNoToken = errors.New("auth: no session token available")

// TokenProvider yields the session token for the next connection attempt.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Static is a fixed session token.
type Static string

func (s Static) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// Env reads the token from an environment variable on every call, so an
// external refresher can rotate it between reconnects.
type Env string

func (e Env) Token(ctx context.Context) (string, error) {
	v := os.Getenv(string(e))
	if v == "" {
		return "", ErrNoToken
	}
	return v, nil
}
