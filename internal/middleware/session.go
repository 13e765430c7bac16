package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims carries the authenticated shop for embedded-app sessions.
type SessionClaims struct {
	Shop string `json:"shop"`
	jwt.RegisteredClaims
}

type shopKey string

const (
	shopDomainKey shopKey = "shop_domain"
)

// SignSession mints an HS256 session token bound to a shop domain.
func SignSession(secret, shopDomain string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Shop: shopDomain,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   shopDomain,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// VerifySession validates a session token and returns its claims.
func VerifySession(secret, tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims.Shop == "" {
		claims.Shop = claims.Subject
	}
	return claims, nil
}

// AuthSession guards routes behind a bearer session token and stores the
// shop domain in the request context.
func AuthSession(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization", http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "invalid authorization", http.StatusUnauthorized)
				return
			}
			claims, err := VerifySession(secret, parts[1])
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), shopDomainKey, claims.Shop)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ShopFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(shopDomainKey).(string); ok {
		return v
	}
	return ""
}

func ContextWithShop(ctx context.Context, shopDomain string) context.Context {
	if strings.TrimSpace(shopDomain) == "" {
		return ctx
	}
	return context.WithValue(ctx, shopDomainKey, shopDomain)
}
