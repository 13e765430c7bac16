// Package vertex talks to the Vertex AI video-generation API: service
// account token exchange, long-running generation submission, and operation
// status checks.
package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra"
)

// operationRefPattern is the structure of a long-running operation name as
// returned by predictLongRunning. The project, location and model segments
// are needed again to build the status-check endpoint.
var operationRefPattern = regexp.MustCompile(`^projects/([^/]+)/locations/([^/]+)/publishers/google/models/([^/]+)/operations/([^/]+)$`)

// Options configures the Veo client.
type Options struct {
	ProjectID  string
	Location   string
	Model      string
	BaseURL    string // overrides the regional endpoint, used by tests
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client performs HTTP calls against the Vertex AI prediction API.
type Client struct {
	projectID  string
	location   string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// GenerateOptions carries per-request generation parameters.
type GenerateOptions struct {
	AspectRatio     string
	DurationSeconds int
}

// OperationResult is the outcome of one status query.
type OperationResult struct {
	Done        bool
	ErrMessage  string
	VideoBase64 string
	MimeType    string
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) (*Client, error) {
	location := strings.TrimSpace(opts.Location)
	if location == "" {
		location = "us-central1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "veo-2.0-generate-001"
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
		projectID:  strings.TrimSpace(opts.ProjectID),
		location:   location,
		model:      model,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// SubmitGeneration starts a long-running video generation and returns the
// operation reference used for all subsequent status checks.
func (c *Client) SubmitGeneration(ctx context.Context, token, prompt string, opts GenerateOptions) (string, error) {
	if c.projectID == "" {
		return "", fmt.Errorf("vertex: project id is required")
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("vertex: prompt is required")
	}
	aspect := opts.AspectRatio
	if aspect == "" {
		aspect = "16:9"
	}
	duration := opts.DurationSeconds
	if duration <= 0 {
		duration = 8
	}
	payload := map[string]any{
		"instances": []map[string]any{{"prompt": prompt}},
		"parameters": map[string]any{
			"aspectRatio":     aspect,
			"durationSeconds": duration,
			"sampleCount":     1,
		},
	}
	modelPath := fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", c.projectID, c.location, c.model)
	endpoint := fmt.Sprintf("%s/v1/%s:predictLongRunning", c.endpointBase(c.location), modelPath)

	raw, err := c.post(ctx, token, endpoint, payload)
	if err != nil {
		return "", err
	}
	var decoded struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("vertex: decode submit response: %w", err)
	}
	if decoded.Name == "" {
		return "", fmt.Errorf("vertex: submit returned no operation name")
	}
	c.logger.Debug().Str("operation", decoded.Name).Msg("vertex: generation submitted")
	return decoded.Name, nil
}

// FetchOperation issues one status query for an operation reference. It
// never retries; poll cadence is the caller's concern.
func (c *Client) FetchOperation(ctx context.Context, token, operationRef string) (*OperationResult, error) {
	match := operationRefPattern.FindStringSubmatch(strings.TrimSpace(operationRef))
	if match == nil {
		return nil, fmt.Errorf("vertex: operation ref %q: %w", operationRef, domain.ErrMalformedRef)
	}
	project, location, model := match[1], match[2], match[3]
	modelPath := fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", project, location, model)
	endpoint := fmt.Sprintf("%s/v1/%s:fetchPredictOperation", c.endpointBase(location), modelPath)

	raw, err := c.post(ctx, token, endpoint, map[string]any{"operationName": operationRef})
	if err != nil {
		return nil, err
	}
	var decoded struct {
		Done  bool `json:"done"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Response struct {
			Videos []struct {
				BytesBase64Encoded string `json:"bytesBase64Encoded"`
				MimeType           string `json:"mimeType"`
			} `json:"videos"`
		} `json:"response"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("vertex: decode operation response: %w", err)
	}
	result := &OperationResult{Done: decoded.Done, ErrMessage: decoded.Error.Message}
	if len(decoded.Response.Videos) > 0 {
		result.VideoBase64 = decoded.Response.Videos[0].BytesBase64Encoded
		result.MimeType = decoded.Response.Videos[0].MimeType
	}
	if result.Done && result.ErrMessage == "" && result.VideoBase64 == "" {
		result.ErrMessage = "operation finished without video payload"
	}
	return result, nil
}

func (c *Client) endpointBase(location string) string {
	if c.baseURL != "" {
		return c.baseURL
	}
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com", location)
}

func (c *Client) post(ctx context.Context, token, endpoint string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("vertex: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("vertex: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vertex: http request: %v: %w", err, domain.ErrTransfer)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vertex: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("vertex: status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(raw)), domain.ErrTransfer)
	}
	return raw, nil
}
