package registry

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frethen/casenotify/internal/faults"
)

// tokenRefreshMargin renews the cached token slightly before expiry so an
// in-flight request never carries a token that expires mid-call.
const tokenRefreshMargin = 30 * time.Second

// TokenSource mints and caches the short-lived signed access token required
// by the party service. The cache is shared across concurrent events, so the
// read-check-create sequence is guarded by one mutex.
type TokenSource struct {
	mu        sync.Mutex
	issuer    string
	secret    []byte
	ttl       time.Duration
	now       func() time.Time
	current   string
	expiresAt time.Time
}

// NewTokenSource builds a token source signing with the shared secret.
func NewTokenSource(issuer, secret string, ttl time.Duration) *TokenSource {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenSource{
		issuer: issuer,
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Token returns the cached token, minting a replacement when the current one
// is missing or close to expiry.
func (s *TokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != "" && s.now().Add(tokenRefreshMargin).Before(s.expiresAt) {
		return s.current, nil
	}

	token, expiresAt, err := s.mint()
	if err != nil {
		return "", err
	}
	s.current = token
	s.expiresAt = expiresAt
	return token, nil
}

// Reset drops the cached token. Test hook.
func (s *TokenSource) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = ""
	s.expiresAt = time.Time{}
}

func (s *TokenSource) mint() (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, faults.New(faults.KindProgrammer, "registry.token", "token signing secret is not configured")
	}

	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.ttl)

	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	claims := map[string]any{
		"iss": s.issuer,
		"iat": issuedAt.Unix(),
		"exp": expiresAt.Unix(),
		"jti": uuid.NewString(),
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("encode token header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("encode token claims: %w", err)
	}

	enc := base64.RawURLEncoding
	signingInput := enc.EncodeToString(headerJSON) + "." + enc.EncodeToString(claimsJSON)

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(signingInput))
	signature := enc.EncodeToString(mac.Sum(nil))

	return signingInput + "." + signature, expiresAt, nil
}
