package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultKeyTTL = time.Hour
	// minRefetch bounds how often an unknown kid may trigger a fetch.
	minRefetch = 5 * time.Minute
)

var errUnknownKey = errors.New("unknown signing key")

// KeySet is a cached remote JWKS. Keys are refetched when the cache-control
// max-age elapses, or when an unknown kid is seen and the last successful
// fetch is older than minRefetch.
type KeySet struct {
	url    string
	client *http.Client
	now    func() time.Time

	mu      sync.RWMutex
	keys    jose.JSONWebKeySet
	expires time.Time
	fetched time.Time
}

func NewKeySet(url string, client *http.Client) *KeySet {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &KeySet{url: url, client: client, now: time.Now}
}

// Keyfunc adapts the set for jwt.Parse.
func (k *KeySet) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid")
		}
		return k.lookup(ctx, kid)
	}
}

func (k *KeySet) lookup(ctx context.Context, kid string) (any, error) {
	now := k.now()
	k.mu.RLock()
	key, fresh := k.find(kid), now.Before(k.expires)
	recent := !k.fetched.IsZero() && now.Sub(k.fetched) < minRefetch
	k.mu.RUnlock()
	if key != nil && fresh {
		return key, nil
	}
	if key == nil && fresh && recent {
		return nil, fmt.Errorf("%w: %s", errUnknownKey, kid)
	}
	if err := k.refresh(ctx); err != nil {
		if key != nil {
			// stale key beats no key while the endpoint is unavailable
			return key, nil
		}
		return nil, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if key := k.find(kid); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", errUnknownKey, kid)
}

// find must be called with mu held.
func (k *KeySet) find(kid string) any {
	for _, jwk := range k.keys.Key(kid) {
		if jwk.Use == "" || jwk.Use == "sig" {
			return jwk.Key
		}
	}
	return nil
}

func (k *KeySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status=%d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read jwks: %w", err)
	}
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	now := k.now()
	k.mu.Lock()
	k.keys = set
	k.fetched = now
	k.expires = now.Add(maxAge(resp.Header.Get("Cache-Control")))
	k.mu.Unlock()
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "max-age="); ok {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return defaultKeyTTL
}
