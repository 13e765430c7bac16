package vertex

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"server/internal/domain"
)

const testOperationRef = "projects/proj-1/locations/us-central1/publishers/google/models/veo-2.0-generate-001/operations/op-abc"

func newVeoClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(Options{
		ProjectID:  "proj-1",
		Location:   "us-central1",
		Model:      "veo-2.0-generate-001",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSubmitGeneration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":predictLongRunning") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("authorization = %q", got)
		}
		var payload struct {
			Instances []struct {
				Prompt string `json:"prompt"`
			} `json:"instances"`
			Parameters map[string]any `json:"parameters"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if len(payload.Instances) != 1 || payload.Instances[0].Prompt != "showcase the mug" {
			t.Fatalf("unexpected instances %+v", payload.Instances)
		}
		if payload.Parameters["aspectRatio"] != "16:9" {
			t.Fatalf("aspectRatio = %v", payload.Parameters["aspectRatio"])
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"name": testOperationRef})
	}))
	defer srv.Close()

	ref, err := newVeoClient(t, srv).SubmitGeneration(context.Background(), "tok", "showcase the mug", GenerateOptions{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ref != testOperationRef {
		t.Fatalf("operation ref = %q", ref)
	}
}

func TestFetchOperationStates(t *testing.T) {
	responses := []string{
		`{"done": false}`,
		`{"done": true, "error": {"message": "safety filter rejected the prompt"}}`,
		`{"done": true, "response": {"videos": [{"bytesBase64Encoded": "AAAA", "mimeType": "video/mp4"}]}}`,
	}
	var call int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":fetchPredictOperation") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var payload struct {
			OperationName string `json:"operationName"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.OperationName != testOperationRef {
			t.Fatalf("operationName = %q", payload.OperationName)
		}
		_, _ = w.Write([]byte(responses[call]))
		call++
	}))
	defer srv.Close()

	client := newVeoClient(t, srv)
	ctx := context.Background()

	res, err := client.FetchOperation(ctx, "tok", testOperationRef)
	if err != nil {
		t.Fatalf("fetch 1: %v", err)
	}
	if res.Done {
		t.Fatalf("expected running operation")
	}

	res, err = client.FetchOperation(ctx, "tok", testOperationRef)
	if err != nil {
		t.Fatalf("fetch 2: %v", err)
	}
	if !res.Done || res.ErrMessage == "" {
		t.Fatalf("expected terminal failure, got %+v", res)
	}

	res, err = client.FetchOperation(ctx, "tok", testOperationRef)
	if err != nil {
		t.Fatalf("fetch 3: %v", err)
	}
	if !res.Done || res.VideoBase64 != "AAAA" || res.ErrMessage != "" {
		t.Fatalf("expected terminal success, got %+v", res)
	}
}

func TestFetchOperationRejectsMalformedRef(t *testing.T) {
	client, err := NewClient(Options{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.FetchOperation(context.Background(), "tok", "ops/abc")
	if !errors.Is(err, domain.ErrMalformedRef) {
		t.Fatalf("expected ErrMalformedRef, got %v", err)
	}
}

func TestFetchOperationSurfacesTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newVeoClient(t, srv).FetchOperation(context.Background(), "tok", testOperationRef)
	if !errors.Is(err, domain.ErrTransfer) {
		t.Fatalf("expected ErrTransfer, got %v", err)
	}
}
