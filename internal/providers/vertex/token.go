package vertex

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"server/internal/domain"
)

const (
	defaultScope       = "https://www.googleapis.com/auth/cloud-platform"
	defaultTokenURI    = "https://oauth2.googleapis.com/token"
	grantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionLifetime  = time.Hour
)

// Credentials is the service-account bundle used to authenticate against the
// AI platform.
type Credentials struct {
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`

	signingKey *rsa.PrivateKey
}

// LoadCredentials reads and validates a service-account JSON file.
func LoadCredentials(path string) (*Credentials, error) {
	raw, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("vertex: read credentials: %v: %w", err, domain.ErrAuth)
	}
	return ParseCredentials(raw)
}

// ParseCredentials decodes a service-account JSON document and parses its
// signing key.
func ParseCredentials(raw []byte) (*Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("vertex: decode credentials: %v: %w", err, domain.ErrAuth)
	}
	if creds.ClientEmail == "" || creds.PrivateKey == "" {
		return nil, fmt.Errorf("vertex: credentials missing client_email or private_key: %w", domain.ErrAuth)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(creds.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("vertex: parse private key: %v: %w", err, domain.ErrAuth)
	}
	creds.signingKey = key
	if creds.TokenURI == "" {
		creds.TokenURI = defaultTokenURI
	}
	return &creds, nil
}

// TokenSource signs short-lived service-account assertions and exchanges
// them for bearer tokens. Tokens are never cached here; each pipeline step
// requests a fresh one, which keeps long poll loops clear of stale tokens.
type TokenSource struct {
	creds      *Credentials
	scope      string
	httpClient *http.Client
}

// NewTokenSource builds a token source over the given credentials.
func NewTokenSource(creds *Credentials, httpClient *http.Client) *TokenSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenSource{creds: creds, scope: defaultScope, httpClient: httpClient}
}

// Token returns a fresh bearer token for the AI platform.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	if ts == nil || ts.creds == nil || ts.creds.signingKey == nil {
		return "", fmt.Errorf("vertex: token source not configured: %w", domain.ErrAuth)
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   ts.creds.ClientEmail,
		"scope": ts.scope,
		"aud":   ts.creds.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(ts.creds.signingKey)
	if err != nil {
		return "", fmt.Errorf("vertex: sign assertion: %v: %w", err, domain.ErrAuth)
	}

	form := url.Values{}
	form.Set("grant_type", grantTypeJWTBearer)
	form.Set("assertion", assertion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.creds.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("vertex: build token request: %v: %w", err, domain.ErrAuth)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("vertex: token exchange: %v: %w", err, domain.ErrAuth)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("vertex: read token response: %v: %w", err, domain.ErrAuth)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("vertex: token exchange status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(raw)), domain.ErrAuth)
	}
	var decoded struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("vertex: decode token response: %v: %w", err, domain.ErrAuth)
	}
	if decoded.AccessToken == "" {
		return "", fmt.Errorf("vertex: empty access token: %w", domain.ErrAuth)
	}
	return decoded.AccessToken, nil
}
