package shopify

import (
	"context"
	"fmt"
	"time"

	"server/internal/domain"
)

const mediaSourcesQuery = `
query mediaSources($id: ID!) {
  node(id: $id) {
    ... on Video {
      id
      sources { url format mimeType }
    }
  }
}`

const (
	defaultReadinessAttempts = 30
	defaultReadinessInterval = 2 * time.Second
)

// Poller waits for the platform to finish transcoding newly attached media.
// A resolvable source URL only exists after ingestion completes.
type Poller struct {
	client   *Client
	attempts int
	interval time.Duration
}

// NewPoller builds a readiness poller. Non-positive attempts or interval
// fall back to the defaults.
func NewPoller(client *Client, attempts int, interval time.Duration) *Poller {
	if attempts <= 0 {
		attempts = defaultReadinessAttempts
	}
	if interval <= 0 {
		interval = defaultReadinessInterval
	}
	return &Poller{client: client, attempts: attempts, interval: interval}
}

// WaitForSource polls the media node until a non-empty source URL appears,
// returning the first one found. Exhausting the attempt ceiling yields
// domain.ErrReadinessTimeout.
func (p *Poller) WaitForSource(ctx context.Context, mediaID string) (string, error) {
	for attempt := 0; attempt < p.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(p.interval):
			}
		}
		url, err := p.fetchSource(ctx, mediaID)
		if err != nil {
			return "", err
		}
		if url != "" {
			return url, nil
		}
	}
	return "", fmt.Errorf("shopify: media %s not ready after %d attempts: %w", mediaID, p.attempts, domain.ErrReadinessTimeout)
}

func (p *Poller) fetchSource(ctx context.Context, mediaID string) (string, error) {
	var result struct {
		Node struct {
			Sources []struct {
				URL string `json:"url"`
			} `json:"sources"`
		} `json:"node"`
	}
	if err := p.client.graphql(ctx, mediaSourcesQuery, map[string]any{"id": mediaID}, &result); err != nil {
		return "", err
	}
	for _, source := range result.Node.Sources {
		if source.URL != "" {
			return source.URL, nil
		}
	}
	return "", nil
}
