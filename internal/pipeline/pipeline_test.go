package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers/shopify"
	"server/internal/providers/vertex"
	"server/internal/storage"
	"server/internal/transfer"
)

// fakeRepo mirrors the guarded-update semantics of the SQL repository.
type fakeRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.VideoJob
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{jobs: map[string]*domain.VideoJob{}}
}

func (r *fakeRepo) put(job *domain.VideoJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *job
	r.jobs[job.ID] = &copied
}

func (r *fakeRepo) Create(_ context.Context, job *domain.VideoJob) error {
	r.put(job)
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, jobID string) (*domain.VideoJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (r *fakeRepo) MarkFailed(_ context.Context, jobID, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		return false, nil
	}
	job.Status = domain.VideoJobStatusFailed
	job.ErrorMessage = errMsg
	return true, nil
}

func (r *fakeRepo) MarkCompleted(_ context.Context, jobID, mediaURL string, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		return false, nil
	}
	job.Status = domain.VideoJobStatusCompleted
	job.MediaURL = mediaURL
	job.Published = false
	job.MediaID = ""
	job.ErrorMessage = ""
	job.ExpiresAt = &expiresAt
	return true, nil
}

func (r *fakeRepo) MarkPublished(_ context.Context, jobID, mediaID, mediaURL string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || job.Status != domain.VideoJobStatusCompleted || job.Published {
		return false, nil
	}
	job.Published = true
	job.MediaID = mediaID
	job.MediaURL = mediaURL
	return true, nil
}

type fakeTokens struct {
	calls int
}

func (f *fakeTokens) Token(context.Context) (string, error) {
	f.calls++
	return "bearer-token", nil
}

type fakeGenerator struct {
	submitRef string
	results   []*vertex.OperationResult
	errs      []error
	calls     int
}

func (f *fakeGenerator) SubmitGeneration(_ context.Context, _, _ string, _ vertex.GenerateOptions) (string, error) {
	return f.submitRef, nil
}

func (f *fakeGenerator) FetchOperation(_ context.Context, _, _ string) (*vertex.OperationResult, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	if idx >= len(f.results) {
		return nil, fmt.Errorf("unexpected fetch call %d", idx)
	}
	return f.results[idx], nil
}

type fakeShopTokens struct{}

func (fakeShopTokens) ShopToken(context.Context, string) (string, error) {
	return "shpat_test", nil
}

func discardLogger() infra.Logger {
	return infra.Logger(zerolog.New(io.Discard))
}

func newTestPipeline(t *testing.T, repo *fakeRepo, gen *fakeGenerator, tokens *fakeTokens, commerce CommerceFactory) (*Pipeline, *storage.FileStore) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if commerce == nil {
		commerce = func(string, string) (Publisher, ReadinessWaiter, error) {
			t.Fatalf("commerce factory should not be invoked")
			return nil, nil, nil
		}
	}
	p := New(Options{
		Repo:           repo,
		Tokens:         tokens,
		Generator:      gen,
		Store:          store,
		ShopTokens:     fakeShopTokens{},
		Commerce:       commerce,
		StorageBaseURL: "http://localhost:8080/static",
		Retention:      time.Hour,
		Logger:         discardLogger(),
	})
	return p, store
}

func seedJob(repo *fakeRepo, status domain.VideoJobStatus) *domain.VideoJob {
	job := &domain.VideoJob{
		ID:           "7f2c9e4a-0b1d-4c3e-8f5a-6d7b8c9e0f1a",
		ShopDomain:   "demo.myshopify.com",
		ProductID:    "gid://shopify/Product/42",
		OperationRef: "projects/p/locations/us-central1/publishers/google/models/veo-2.0-generate-001/operations/op-1",
		Status:       status,
		Prompt:       "showcase the mug",
	}
	repo.put(job)
	return job
}

func TestCheckStatusTerminalShortCircuit(t *testing.T) {
	for _, status := range []domain.VideoJobStatus{domain.VideoJobStatusCompleted, domain.VideoJobStatusFailed} {
		repo := newFakeRepo()
		job := seedJob(repo, status)
		tokens := &fakeTokens{}
		gen := &fakeGenerator{}
		p, _ := newTestPipeline(t, repo, gen, tokens, nil)

		got, err := p.CheckStatus(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("check status: %v", err)
		}
		if got != status {
			t.Fatalf("status = %q, want %q", got, status)
		}
		if gen.calls != 0 || tokens.calls != 0 {
			t.Fatalf("terminal job must not contact the platform: %d fetches, %d tokens", gen.calls, tokens.calls)
		}
	}
}

func TestCheckStatusNotDoneLeavesRecordUntouched(t *testing.T) {
	repo := newFakeRepo()
	job := seedJob(repo, domain.VideoJobStatusPending)
	gen := &fakeGenerator{results: []*vertex.OperationResult{{Done: false}}}
	p, _ := newTestPipeline(t, repo, gen, &fakeTokens{}, nil)

	got, err := p.CheckStatus(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if got != domain.VideoJobStatusProcessing {
		t.Fatalf("status = %q", got)
	}
	persisted, _ := repo.GetByID(context.Background(), job.ID)
	if persisted.Status != domain.VideoJobStatusPending {
		t.Fatalf("persisted status changed to %q", persisted.Status)
	}
}

func TestCheckStatusScenarioA(t *testing.T) {
	payload := make([]byte, 7680)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	repo := newFakeRepo()
	job := seedJob(repo, domain.VideoJobStatusPending)
	gen := &fakeGenerator{results: []*vertex.OperationResult{
		{Done: false},
		{Done: false},
		{Done: false},
		{Done: true, VideoBase64: transfer.Encode(payload), MimeType: "video/mp4"},
	}}
	p, store := newTestPipeline(t, repo, gen, &fakeTokens{}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := p.CheckStatus(ctx, job.ID)
		if err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
		if got != domain.VideoJobStatusProcessing {
			t.Fatalf("poll %d status = %q", i, got)
		}
	}
	got, err := p.CheckStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("final poll: %v", err)
	}
	if got != domain.VideoJobStatusCompleted {
		t.Fatalf("final status = %q", got)
	}

	stored, err := store.Read(ctx, "videos/"+job.ID+".mp4")
	if err != nil {
		t.Fatalf("read stored object: %v", err)
	}
	if !bytes.Equal(stored, payload) {
		t.Fatalf("stored payload mismatch: %d bytes", len(stored))
	}
	persisted, _ := repo.GetByID(ctx, job.ID)
	if persisted.MediaURL == "" || persisted.ExpiresAt == nil {
		t.Fatalf("completed job missing media url or retention stamp: %+v", persisted)
	}
	if persisted.MediaURL != "http://localhost:8080/static/videos/"+job.ID+".mp4" {
		t.Fatalf("media url = %q", persisted.MediaURL)
	}
}

func TestCheckStatusAbsorbsPlatformFailure(t *testing.T) {
	repo := newFakeRepo()
	job := seedJob(repo, domain.VideoJobStatusProcessing)
	gen := &fakeGenerator{results: []*vertex.OperationResult{
		{Done: true, ErrMessage: "safety filter rejected the prompt"},
	}}
	p, _ := newTestPipeline(t, repo, gen, &fakeTokens{}, nil)

	got, err := p.CheckStatus(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if got != domain.VideoJobStatusFailed {
		t.Fatalf("status = %q", got)
	}
	persisted, _ := repo.GetByID(context.Background(), job.ID)
	if persisted.Status != domain.VideoJobStatusFailed || persisted.ErrorMessage == "" {
		t.Fatalf("failure not absorbed: %+v", persisted)
	}
}

func TestCheckStatusMarksMalformedRefAsFailed(t *testing.T) {
	repo := newFakeRepo()
	job := seedJob(repo, domain.VideoJobStatusPending)
	gen := &fakeGenerator{errs: []error{fmt.Errorf("bad ref: %w", domain.ErrMalformedRef)}}
	p, _ := newTestPipeline(t, repo, gen, &fakeTokens{}, nil)

	got, err := p.CheckStatus(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if got != domain.VideoJobStatusFailed {
		t.Fatalf("status = %q", got)
	}
}

func TestCheckStatusSurfacesTransportErrorWithoutMutation(t *testing.T) {
	repo := newFakeRepo()
	job := seedJob(repo, domain.VideoJobStatusProcessing)
	gen := &fakeGenerator{errs: []error{fmt.Errorf("status 502: %w", domain.ErrTransfer)}}
	p, _ := newTestPipeline(t, repo, gen, &fakeTokens{}, nil)

	if _, err := p.CheckStatus(context.Background(), job.ID); !errors.Is(err, domain.ErrTransfer) {
		t.Fatalf("expected ErrTransfer, got %v", err)
	}
	persisted, _ := repo.GetByID(context.Background(), job.ID)
	if persisted.Status != domain.VideoJobStatusProcessing {
		t.Fatalf("transport error mutated status to %q", persisted.Status)
	}
}

// commerceServer fakes the commerce platform: GraphQL admin endpoint plus
// the one-time upload target.
type commerceServer struct {
	t              *testing.T
	srv            *httptest.Server
	mu             sync.Mutex
	uploaded       []byte
	stageCalls     int
	attachCalls    int
	readinessCalls int
	readyAfter     int // readiness polls that return no sources first
}

func newCommerceServer(t *testing.T, readyAfter int) *commerceServer {
	cs := &commerceServer{t: t, readyAfter: readyAfter}
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(64 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		cs.mu.Lock()
		cs.uploaded = data
		cs.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/admin/api/", func(w http.ResponseWriter, r *http.Request) {
		var call struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			t.Fatalf("decode call: %v", err)
		}
		cs.mu.Lock()
		defer cs.mu.Unlock()
		switch {
		case strings.Contains(call.Query, "stagedUploadsCreate"):
			cs.stageCalls++
			fmt.Fprintf(w, `{"data":{"stagedUploadsCreate":{"stagedTargets":[{
				"url":%q,
				"resourceUrl":"https://cdn.example.com/staged/video.mp4",
				"parameters":[{"name":"key","value":"tmp/video.mp4"}]
			}],"userErrors":[]}}}`, cs.srv.URL+"/upload")
		case strings.Contains(call.Query, "productCreateMedia"):
			cs.attachCalls++
			_, _ = w.Write([]byte(`{"data":{"productCreateMedia":{"media":[{"id":"gid://shopify/Video/7","status":"UPLOADED"}],"mediaUserErrors":[]}}}`))
		case strings.Contains(call.Query, "node("):
			cs.readinessCalls++
			if cs.readinessCalls <= cs.readyAfter {
				_, _ = w.Write([]byte(`{"data":{"node":{"sources":[]}}}`))
			} else {
				_, _ = w.Write([]byte(`{"data":{"node":{"sources":[{"url":"https://cdn.shopify.com/videos/final.mp4"}]}}}`))
			}
		default:
			t.Fatalf("unexpected query: %s", call.Query)
		}
	})
	cs.srv = httptest.NewServer(mux)
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *commerceServer) factory(attempts int) CommerceFactory {
	return func(shopDomain, accessToken string) (Publisher, ReadinessWaiter, error) {
		client, err := shopify.NewClient(shopify.Options{
			ShopDomain:  shopDomain,
			AccessToken: accessToken,
			BaseURL:     cs.srv.URL,
			HTTPClient:  cs.srv.Client(),
		})
		if err != nil {
			return nil, nil, err
		}
		return shopify.NewPublisher(client), shopify.NewPoller(client, attempts, time.Millisecond), nil
	}
}

func TestPublishScenarioB(t *testing.T) {
	payload := []byte("finished marketing video payload")
	repo := newFakeRepo()
	job := seedJob(repo, domain.VideoJobStatusCompleted)
	cs := newCommerceServer(t, 1) // one empty readiness poll, then a source
	p, store := newTestPipeline(t, repo, &fakeGenerator{}, &fakeTokens{}, cs.factory(5))
	ctx := context.Background()
	if _, err := store.Write(ctx, job.StorageKey(), payload); err != nil {
		t.Fatalf("seed storage: %v", err)
	}

	published, err := p.Publish(ctx, job.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !published.Published || published.MediaID != "gid://shopify/Video/7" {
		t.Fatalf("publish result: %+v", published)
	}
	if published.MediaURL != "https://cdn.shopify.com/videos/final.mp4" {
		t.Fatalf("media url = %q", published.MediaURL)
	}
	if !bytes.Equal(cs.uploaded, payload) {
		t.Fatalf("uploaded payload mismatch")
	}
	if cs.stageCalls != 1 || cs.attachCalls != 1 || cs.readinessCalls != 2 {
		t.Fatalf("calls: stage=%d attach=%d readiness=%d", cs.stageCalls, cs.attachCalls, cs.readinessCalls)
	}
	if _, err := store.Read(ctx, job.StorageKey()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("storage copy should be deleted, got %v", err)
	}
	persisted, _ := repo.GetByID(ctx, job.ID)
	if !persisted.Published || persisted.MediaID != "gid://shopify/Video/7" {
		t.Fatalf("publish not persisted: %+v", persisted)
	}
}

func TestPublishTwiceIsAtMostOnce(t *testing.T) {
	payload := []byte("payload")
	repo := newFakeRepo()
	job := seedJob(repo, domain.VideoJobStatusCompleted)
	cs := newCommerceServer(t, 0)
	p, store := newTestPipeline(t, repo, &fakeGenerator{}, &fakeTokens{}, cs.factory(5))
	ctx := context.Background()
	if _, err := store.Write(ctx, job.StorageKey(), payload); err != nil {
		t.Fatalf("seed storage: %v", err)
	}

	first, err := p.Publish(ctx, job.ID)
	if err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if _, err := p.Publish(ctx, job.ID); !errors.Is(err, domain.ErrAlreadyPublished) {
		t.Fatalf("second publish: expected ErrAlreadyPublished, got %v", err)
	}
	persisted, _ := repo.GetByID(ctx, job.ID)
	if persisted.MediaID != first.MediaID {
		t.Fatalf("media id changed between calls: %q vs %q", persisted.MediaID, first.MediaID)
	}
	if cs.stageCalls != 1 {
		t.Fatalf("second publish must not stage again, staged %d times", cs.stageCalls)
	}
}

func TestPublishNotReady(t *testing.T) {
	repo := newFakeRepo()
	job := seedJob(repo, domain.VideoJobStatusProcessing)
	p, _ := newTestPipeline(t, repo, &fakeGenerator{}, &fakeTokens{}, nil)

	if _, err := p.Publish(context.Background(), job.ID); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestPublishReadinessTimeoutLeavesJobRetryable(t *testing.T) {
	payload := []byte("payload")
	repo := newFakeRepo()
	job := seedJob(repo, domain.VideoJobStatusCompleted)
	cs := newCommerceServer(t, 1000) // never ready
	p, store := newTestPipeline(t, repo, &fakeGenerator{}, &fakeTokens{}, cs.factory(3))
	ctx := context.Background()
	if _, err := store.Write(ctx, job.StorageKey(), payload); err != nil {
		t.Fatalf("seed storage: %v", err)
	}

	if _, err := p.Publish(ctx, job.ID); !errors.Is(err, domain.ErrReadinessTimeout) {
		t.Fatalf("expected ErrReadinessTimeout, got %v", err)
	}
	persisted, _ := repo.GetByID(ctx, job.ID)
	if persisted.Published {
		t.Fatalf("timeout must leave published=false")
	}
	if _, err := store.Read(ctx, job.StorageKey()); err != nil {
		t.Fatalf("storage copy must survive a failed publish: %v", err)
	}
	if cs.readinessCalls != 3 {
		t.Fatalf("readiness attempts = %d, want 3", cs.readinessCalls)
	}
}

func TestPublishMissingJob(t *testing.T) {
	p, _ := newTestPipeline(t, newFakeRepo(), &fakeGenerator{}, &fakeTokens{}, nil)
	if _, err := p.Publish(context.Background(), "does-not-exist"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStartAssignsOperationRef(t *testing.T) {
	repo := newFakeRepo()
	gen := &fakeGenerator{submitRef: "projects/p/locations/l/publishers/google/models/m/operations/op-9"}
	p, _ := newTestPipeline(t, repo, gen, &fakeTokens{}, nil)

	job, err := p.Start(context.Background(), StartParams{
		ShopDomain: "demo.myshopify.com",
		ProductID:  "gid://shopify/Product/42",
		Prompt:     "showcase the mug",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if job.OperationRef != gen.submitRef {
		t.Fatalf("operation ref = %q", job.OperationRef)
	}
	persisted, err := repo.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if persisted.Status != domain.VideoJobStatusPending {
		t.Fatalf("status = %q", persisted.Status)
	}
}
