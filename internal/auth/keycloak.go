package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"realtime-call-translator/internal/config"
)

// ErrMissingToken is returned when a request carries no bearer token.
var ErrMissingToken = errors.New("missing bearer token")

// Identity is the caller as described by a verified token.
type Identity struct {
	Subject  string
	Username string
	Email    string
}

// KeycloakVerifier checks RS256 tokens against the realm's JWKS.
type KeycloakVerifier struct {
	keys   *keySet
	parser *jwt.Parser
}

// NewKeycloakVerifier returns nil when auth is disabled.
func NewKeycloakVerifier(cfg config.AuthConfig) (*KeycloakVerifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, fmt.Errorf("keycloak issuer not set")
	}

	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		jwksURL = strings.TrimRight(issuer, "/") + "/protocol/openid-connect/certs"
	}

	audience := strings.TrimSpace(cfg.Audience)
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithIssuer(issuer),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	return &KeycloakVerifier{
		keys:   newKeySet(jwksURL),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Authenticate verifies the request's token and returns the caller.
func (v *KeycloakVerifier) Authenticate(r *http.Request) (Identity, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	claims, err := v.VerifyToken(r.Context(), token)
	if err != nil {
		return Identity{}, err
	}
	return IdentityFromClaims(claims), nil
}

// TokenFromRequest reads a bearer token from the Authorization header, or
// from the "token" query parameter for browser WebSocket clients.
func TokenFromRequest(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func IdentityFromClaims(claims jwt.MapClaims) Identity {
	str := func(key string) string {
		v, _ := claims[key].(string)
		return strings.TrimSpace(v)
	}
	id := Identity{
		Subject:  str("sub"),
		Username: str("preferred_username"),
		Email:    str("email"),
	}
	if id.Username == "" {
		id.Username = str("name")
	}
	return id
}

// VerifyToken checks signature, issuer, audience and expiry.
func (v *KeycloakVerifier) VerifyToken(ctx context.Context, tokenStr string) (jwt.MapClaims, error) {
	if strings.TrimSpace(tokenStr) == "" {
		return nil, errors.New("token is empty")
	}

	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header missing kid")
		}
		return v.keys.key(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	return claims, nil
}
