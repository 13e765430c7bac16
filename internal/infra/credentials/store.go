// Package credentials resolves commerce-platform access tokens per shop.
// Tokens are written by the install flow and read at publish time.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// ShopToken returns the admin API access token for a shop domain.
func (s *Store) ShopToken(ctx context.Context, shopDomain string) (string, error) {
	shopDomain = strings.TrimSpace(shopDomain)
	if shopDomain == "" {
		return "", errors.New("credentials: shop domain is required")
	}
	row := s.sql.QueryRow(ctx, sqlinline.QSelectShopToken, shopDomain)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetShopToken stores or replaces the access token for a shop domain.
func (s *Store) SetShopToken(ctx context.Context, shopDomain, token string) error {
	shopDomain = strings.TrimSpace(shopDomain)
	token = strings.TrimSpace(token)
	if shopDomain == "" || token == "" {
		return errors.New("credentials: shop domain and token are required")
	}
	return s.upsert(ctx, shopDomain, token, nil)
}

func (s *Store) upsert(ctx context.Context, shopDomain, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertShopToken, shopDomain, token, raw)
	return err
}
