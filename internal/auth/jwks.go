package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	jwksCacheTTL = 10 * time.Minute
	// unknown kids trigger at most one refetch per window
	jwksMinRefresh = 30 * time.Second
)

type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

type jwkKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
	Use string `json:"use"`
	Alg string `json:"alg"`
}

// keySet caches the realm's RSA signing keys by kid. Concurrent misses share
// one fetch.
type keySet struct {
	url    string
	client *http.Client
	now    func() time.Time
	group  singleflight.Group

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time // last successful fetch
	attemptedAt time.Time
}

func newKeySet(url string) *keySet {
	return &keySet{
		url:    url,
		client: &http.Client{Timeout: 8 * time.Second},
		now:    time.Now,
		keys:   make(map[string]*rsa.PublicKey),
	}
}

// key returns the public key for kid. When a refresh fails, a key that was
// already cached keeps verifying until the realm is reachable again.
func (s *keySet) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	now := s.now()
	s.mu.RLock()
	key := s.keys[kid]
	fresh := now.Sub(s.fetchedAt) < jwksCacheTTL
	throttled := !s.attemptedAt.IsZero() && now.Sub(s.attemptedAt) < jwksMinRefresh
	s.mu.RUnlock()

	switch {
	case key != nil && (fresh || throttled):
		return key, nil
	case throttled:
		return nil, fmt.Errorf("no matching jwk for kid %s", kid)
	}

	if _, err, _ := s.group.Do("jwks", func() (any, error) {
		return nil, s.refresh(ctx)
	}); err != nil {
		if key != nil {
			return key, nil
		}
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if key = s.keys[kid]; key == nil {
		return nil, fmt.Errorf("no matching jwk for kid %s", kid)
	}
	return key, nil
}

func (s *keySet) refresh(ctx context.Context) error {
	defer func() {
		s.mu.Lock()
		s.attemptedAt = s.now()
		s.mu.Unlock()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("fetch jwks returned status %d", resp.StatusCode)
	}

	var payload jwksResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(payload.Keys))
	for _, k := range payload.Keys {
		if k.Kty != "RSA" || k.Kid == "" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	if len(keys) == 0 {
		return errors.New("no valid RSA keys found in jwks")
	}
	s.mu.Lock()
	s.keys = keys
	s.fetchedAt = s.now()
	s.mu.Unlock()
	return nil
}

func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	if len(nb) == 0 {
		return nil, errors.New("empty modulus")
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(eb)
	if !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp.Int64())}, nil
}
