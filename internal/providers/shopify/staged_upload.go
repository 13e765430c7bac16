package shopify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"server/internal/domain"
)

const stagedUploadsCreateMutation = `
mutation stagedUploadsCreate($input: [StagedUploadInput!]!) {
  stagedUploadsCreate(input: $input) {
    stagedTargets {
      url
      resourceUrl
      parameters { name value }
    }
    userErrors { field message }
  }
}`

const productCreateMediaMutation = `
mutation productCreateMedia($productId: ID!, $media: [CreateMediaInput!]!) {
  productCreateMedia(productId: $productId, media: $media) {
    media { id status }
    mediaUserErrors { field message }
  }
}`

// StagedTarget is the one-time upload destination handed out by the
// platform. Parameters must be replayed verbatim in the multipart transfer.
type StagedTarget struct {
	URL         string
	ResourceURL string
	Parameters  []StagedParameter
}

// StagedParameter is a single form field required by the upload target.
type StagedParameter struct {
	Name  string
	Value string
}

// Publisher uploads binary assets to the platform via the staged-upload
// protocol and attaches them to products as media.
type Publisher struct {
	client *Client
}

// NewPublisher builds a publisher over an admin API client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Stage requests an upload target for a binary resource.
func (p *Publisher) Stage(ctx context.Context, filename, mimeType string, size int64) (*StagedTarget, error) {
	var result struct {
		StagedUploadsCreate struct {
			StagedTargets []struct {
				URL         string `json:"url"`
				ResourceURL string `json:"resourceUrl"`
				Parameters  []struct {
					Name  string `json:"name"`
					Value string `json:"value"`
				} `json:"parameters"`
			} `json:"stagedTargets"`
			UserErrors []userError `json:"userErrors"`
		} `json:"stagedUploadsCreate"`
	}
	variables := map[string]any{
		"input": []map[string]any{{
			"resource":   "VIDEO",
			"filename":   filename,
			"mimeType":   mimeType,
			"fileSize":   strconv.FormatInt(size, 10),
			"httpMethod": "POST",
		}},
	}
	if err := p.client.graphql(ctx, stagedUploadsCreateMutation, variables, &result); err != nil {
		return nil, err
	}
	if msg := firstUserError(result.StagedUploadsCreate.UserErrors); msg != "" {
		return nil, fmt.Errorf("shopify: stage upload: %s: %w", msg, domain.ErrPartialFailure)
	}
	targets := result.StagedUploadsCreate.StagedTargets
	if len(targets) == 0 {
		return nil, fmt.Errorf("shopify: stage upload returned no targets: %w", domain.ErrPartialFailure)
	}
	target := &StagedTarget{URL: targets[0].URL, ResourceURL: targets[0].ResourceURL}
	for _, param := range targets[0].Parameters {
		target.Parameters = append(target.Parameters, StagedParameter{Name: param.Name, Value: param.Value})
	}
	return target, nil
}

// Transfer POSTs the platform-supplied parameters plus the payload to the
// one-time upload URL. Upload URLs are single-use, so there is no retry.
func (p *Publisher) Transfer(ctx context.Context, target *StagedTarget, filename string, data []byte) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, param := range target.Parameters {
		if err := writer.WriteField(param.Name, param.Value); err != nil {
			return fmt.Errorf("shopify: write form field %s: %w", param.Name, err)
		}
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("shopify: create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("shopify: write payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("shopify: finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, body)
	if err != nil {
		return fmt.Errorf("shopify: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("shopify: upload request: %v: %w", err, domain.ErrTransfer)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("shopify: upload status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(raw)), domain.ErrTransfer)
	}
	return nil
}

// Attach links the staged resource to the product as video media and returns
// the platform-assigned media id.
func (p *Publisher) Attach(ctx context.Context, productID, resourceURL string) (string, error) {
	var result struct {
		ProductCreateMedia struct {
			Media []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"media"`
			MediaUserErrors []userError `json:"mediaUserErrors"`
		} `json:"productCreateMedia"`
	}
	variables := map[string]any{
		"productId": productID,
		"media": []map[string]any{{
			"originalSource":   resourceURL,
			"mediaContentType": "VIDEO",
		}},
	}
	if err := p.client.graphql(ctx, productCreateMediaMutation, variables, &result); err != nil {
		return "", err
	}
	if msg := firstUserError(result.ProductCreateMedia.MediaUserErrors); msg != "" {
		return "", fmt.Errorf("shopify: attach media: %s: %w", msg, domain.ErrPartialFailure)
	}
	if len(result.ProductCreateMedia.Media) == 0 || result.ProductCreateMedia.Media[0].ID == "" {
		return "", fmt.Errorf("shopify: attach media returned no id: %w", domain.ErrPartialFailure)
	}
	return result.ProductCreateMedia.Media[0].ID, nil
}
