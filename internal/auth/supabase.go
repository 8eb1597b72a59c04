package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/igormart21/milha-alerta-fly/internal/cache"
)

// SupabaseProvider validates tokens against the hosted auth service.
type SupabaseProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      cache.Cache
	cacheTTL   time.Duration
}

func NewSupabaseProvider(baseURL, apiKey string) *SupabaseProvider {
	return &SupabaseProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// WithCache keeps resolved sessions for ttl, keyed by a hash of the token.
func (p *SupabaseProvider) WithCache(c cache.Cache, ttl time.Duration) *SupabaseProvider {
	p.cache = c
	p.cacheTTL = ttl
	return p
}

type supabaseUser struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	Phone        string                 `json:"phone"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
}

func (p *SupabaseProvider) CurrentUser(ctx context.Context, token string) (*User, error) {
	key := sessionKey(token)
	if p.cache != nil {
		var u User
		if err := cache.GetJSON(ctx, p.cache, key, &u); err == nil {
			return &u, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", p.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach auth service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("auth service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var su supabaseUser
	if err := json.NewDecoder(resp.Body).Decode(&su); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	if su.ID == "" {
		return nil, ErrUnauthorized
	}

	u := &User{
		ID:       su.ID,
		Email:    su.Email,
		Phone:    su.Phone,
		FullName: metadataString(su.UserMetadata, "full_name"),
	}
	if u.Phone == "" {
		u.Phone = metadataString(su.UserMetadata, "phone")
	}

	if p.cache != nil {
		_ = cache.SetJSON(ctx, p.cache, key, u, p.cacheTTL)
	}
	return u, nil
}

func metadataString(m map[string]interface{}, k string) string {
	if v, ok := m[k].(string); ok {
		return v
	}
	return ""
}

func sessionKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return cache.SessionKey(hex.EncodeToString(sum[:]))
}

// StaticProvider maps fixed tokens to users, for development and tests.
type StaticProvider struct {
	users map[string]User
}

func NewStaticProvider(users map[string]User) *StaticProvider {
	return &StaticProvider{users: users}
}

// ParseStaticTokens parses "token:user_id[:phone]" entries separated by commas.
func ParseStaticTokens(list string) (map[string]User, error) {
	users := make(map[string]User)
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, errors.New("static token entries must look like token:user_id[:phone]")
		}
		u := User{ID: parts[1]}
		if len(parts) == 3 {
			u.Phone = parts[2]
		}
		users[parts[0]] = u
	}
	return users, nil
}

func (p *StaticProvider) CurrentUser(ctx context.Context, token string) (*User, error) {
	u, ok := p.users[token]
	if !ok {
		return nil, ErrUnauthorized
	}
	return &u, nil
}
