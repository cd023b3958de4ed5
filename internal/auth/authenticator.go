// Package auth verifies the bearer tokens presented when a connection opens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when the handshake carried no token at all.
	ErrMissingToken = errors.New("missing token")
	// ErrInvalidToken wraps every verification failure: bad signature,
	// malformed token, expired claims or an empty subject.
	ErrInvalidToken = errors.New("invalid token")
)

var hmacMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

var asymmetricMethods = []string{
	jwt.SigningMethodRS256.Alg(),
	jwt.SigningMethodRS384.Alg(),
	jwt.SigningMethodRS512.Alg(),
	jwt.SigningMethodES256.Alg(),
	jwt.SigningMethodES384.Alg(),
	jwt.SigningMethodES512.Alg(),
	jwt.SigningMethodPS256.Alg(),
}

// Authenticator turns a signed token into the user identifier carried in
// its "sub" claim.
type Authenticator struct {
	keyfunc jwt.Keyfunc
	methods []string
	jwks    *keyfunc.JWKS
}

// NewHMAC verifies tokens signed with a shared secret.
func NewHMAC(secret []byte) *Authenticator {
	key := append([]byte(nil), secret...)
	return &Authenticator{
		keyfunc: func(*jwt.Token) (interface{}, error) { return key, nil },
		methods: hmacMethods,
	}
}

// NewJWKS verifies tokens against the keys published at jwksURL. The key set
// is refreshed in the background until Close is called.
func NewJWKS(ctx context.Context, jwksURL string, log *slog.Logger) (*Authenticator, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   5 * time.Minute,
		RefreshRateLimit:  time.Minute,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.Error("JWKS refresh failed", "url", jwksURL, "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	return &Authenticator{keyfunc: jwks.Keyfunc, methods: asymmetricMethods, jwks: jwks}, nil
}

// Authenticate returns the subject of a valid token. The subject is returned
// verbatim.
func (a *Authenticator) Authenticate(token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, a.keyfunc, jwt.WithValidMethods(a.methods))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("%w: token is not valid", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject claim", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Close stops the background JWKS refresh, if any.
func (a *Authenticator) Close() {
	if a.jwks != nil {
		a.jwks.EndBackground()
	}
}

// CloseReason renders an authentication failure as the reason string sent to
// the client when its connection is refused.
func CloseReason(err error) string {
	if errors.Is(err, ErrMissingToken) {
		return "No token provided"
	}
	detail := strings.TrimPrefix(err.Error(), ErrInvalidToken.Error())
	detail = strings.TrimPrefix(detail, ": ")
	if detail == "" {
		return "Invalid token"
	}
	return "Invalid token: " + detail
}
