// Package auth supplies the bearer token used by the realtime and history clients.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// EnvToken overrides the token file when set.
const EnvToken = "GIGLINE_TOKEN"

var (
	ErrNoToken      = errors.New("no access token")
	ErrTokenExpired = errors.New("access token expired")
)

// Claims is what the client reads from a JWT access token. The signature is not
// verified here; the server does that.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// FileSource reads the token from a file on every call, so a token rotated on disk
// is used on the next (re)connect.
type FileSource struct {
	Path string
	Now  func() time.Time
}

// NewFileSource returns a source backed by path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path, Now: time.Now}
}

// Token returns the current token. $GIGLINE_TOKEN wins over the file.
func (s *FileSource) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw := os.Getenv(EnvToken)
	if raw == "" {
		data, err := os.ReadFile(s.Path)
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoToken
		}
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		raw = string(data)
	}
	token := strings.TrimSpace(raw)
	if token == "" {
		return "", ErrNoToken
	}
	if err := checkExpiry(token, s.now()); err != nil {
		return "", err
	}
	return token, nil
}

// Subject returns the user id carried by the current token, or "" for opaque tokens.
func (s *FileSource) Subject(ctx context.Context) (string, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return "", err
	}
	c, ok := Inspect(token)
	if !ok {
		return "", nil
	}
	return c.Subject, nil
}

// Save writes a token for later use with 0600 permissions.
func (s *FileSource) Save(token string) error {
	return os.WriteFile(s.Path, []byte(strings.TrimSpace(token)+"\n"), 0600)
}

func (s *FileSource) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Static is a fixed token, used by tests and one-shot commands.
type Static string

func (s Static) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), ctx.Err()
}

// Inspect decodes a JWT without verifying it. ok is false for tokens that are
// not JWTs, which are passed through untouched.
func Inspect(token string) (Claims, bool) {
	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &rc); err != nil {
		return Claims{}, false
	}
	c := Claims{Subject: rc.Subject}
	if rc.ExpiresAt != nil {
		c.ExpiresAt = rc.ExpiresAt.Time
	}
	return c, true
}

func checkExpiry(token string, now time.Time) error {
	c, ok := Inspect(token)
	if !ok || c.ExpiresAt.IsZero() {
		return nil
	}
	if !now.Before(c.ExpiresAt) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, c.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}
