// Package shopify implements the commerce-platform boundary: GraphQL admin
// calls, the two-phase staged-upload protocol, and the post-attach media
// readiness poll.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra"
)

// Options configures the admin API client for one shop.
type Options struct {
	ShopDomain  string
	AccessToken string
	APIVersion  string
	BaseURL     string // overrides https://{shop}, used by tests
	HTTPClient  *http.Client
	Logger      *infra.Logger
}

// Client performs GraphQL calls against a shop's admin API.
type Client struct {
	shopDomain  string
	accessToken string
	apiVersion  string
	baseURL     string
	httpClient  *http.Client
	logger      *infra.Logger
}

type userError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// NewClient constructs a per-shop client with sane defaults.
func NewClient(opts Options) (*Client, error) {
	shop := strings.TrimSpace(opts.ShopDomain)
	if shop == "" && opts.BaseURL == "" {
		return nil, fmt.Errorf("shopify: shop domain is required")
	}
	if strings.TrimSpace(opts.AccessToken) == "" {
		return nil, fmt.Errorf("shopify: access token is required")
	}
	version := strings.TrimSpace(opts.APIVersion)
	if version == "" {
		version = "2024-07"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		shopDomain:  shop,
		accessToken: strings.TrimSpace(opts.AccessToken),
		apiVersion:  version,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// ShopDomain returns the shop this client is bound to.
func (c *Client) ShopDomain() string {
	return c.shopDomain
}

func (c *Client) endpoint() string {
	base := c.baseURL
	if base == "" {
		base = "https://" + c.shopDomain
	}
	return fmt.Sprintf("%s/admin/api/%s/graphql.json", base, c.apiVersion)
}

// graphql executes one admin API call and unmarshals the data envelope into
// out. Top-level GraphQL errors are business failures even though the
// transport call succeeded.
func (c *Client) graphql(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return fmt.Errorf("shopify: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("shopify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("shopify: http request: %v: %w", err, domain.ErrTransfer)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("shopify: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("shopify: status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(raw)), domain.ErrTransfer)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("shopify: decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("shopify: %s: %w", envelope.Errors[0].Message, domain.ErrPartialFailure)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("shopify: decode data: %w", err)
		}
	}
	return nil
}

func firstUserError(errs []userError) string {
	if len(errs) == 0 {
		return ""
	}
	return errs[0].Message
}
