package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"server/internal/domain"
	"server/internal/pipeline"
	"server/internal/providers/prompt"
	"server/internal/providers/vertex"

	"github.com/go-chi/chi/v5"
)

type videoGenerateRequest struct {
	ProductID    string `json:"product_id"`
	ProductTitle string `json:"product_title"`
	ProductType  string `json:"product_type"`
	Tone         string `json:"tone"`
	Instructions string `json:"instructions"`
}

type videoJobResponse struct {
	JobID     string    `json:"job_id"`
	ProductID string    `json:"product_id"`
	Status    string    `json:"status"`
	MediaURL  string    `json:"media_url,omitempty"`
	MediaID   string    `json:"media_id,omitempty"`
	Published bool      `json:"published"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toJobResponse(job *domain.VideoJob) videoJobResponse {
	return videoJobResponse{
		JobID:     job.ID,
		ProductID: job.ProductID,
		Status:    string(job.Status),
		MediaURL:  job.MediaURL,
		MediaID:   job.MediaID,
		Published: job.Published,
		Error:     job.ErrorMessage,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
}

func (a *App) VideosGenerate(w http.ResponseWriter, r *http.Request) {
	shop := a.currentShop(r)
	if shop == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing shop context")
		return
	}
	var req videoGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.ProductID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "product_id is required")
		return
	}
	if req.ProductTitle == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "product_title is required")
		return
	}

	promptText := prompt.Build(prompt.BuildRequest{
		ProductTitle: req.ProductTitle,
		ProductType:  req.ProductType,
		Tone:         req.Tone,
		Instructions: req.Instructions,
	})
	job, err := a.Pipeline.Start(r.Context(), pipeline.StartParams{
		ShopDomain: shop,
		ProductID:  req.ProductID,
		Prompt:     promptText,
		Options: vertex.GenerateOptions{
			AspectRatio:     a.Video.AspectRatio,
			DurationSeconds: a.Video.DurationSeconds,
		},
	})
	if err != nil {
		a.Logger.Error().Err(err).Str("shop", shop).Msg("video generation submit failed")
		switch {
		case errors.Is(err, domain.ErrAuth):
			a.error(w, http.StatusBadGateway, "upstream_auth", "could not authenticate with the generation platform")
		case errors.Is(err, domain.ErrTransfer):
			a.error(w, http.StatusBadGateway, "upstream_unavailable", "generation platform rejected the submission")
		default:
			a.error(w, http.StatusInternalServerError, "internal", "failed to start video generation")
		}
		return
	}
	a.json(w, http.StatusAccepted, toJobResponse(job))
}

// loadOwnedJob fetches the job and hides records that belong to other shops.
func (a *App) loadOwnedJob(w http.ResponseWriter, r *http.Request) (*domain.VideoJob, bool) {
	shop := a.currentShop(r)
	if shop == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing shop context")
		return nil, false
	}
	jobID := chi.URLParam(r, "id")
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "video job not found")
		} else {
			a.Logger.Error().Err(err).Str("job_id", jobID).Msg("video job lookup failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to load video job")
		}
		return nil, false
	}
	if job.ShopDomain != shop {
		a.error(w, http.StatusNotFound, "not_found", "video job not found")
		return nil, false
	}
	return job, true
}

func (a *App) VideoStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadOwnedJob(w, r)
	if !ok {
		return
	}
	if _, err := a.Pipeline.CheckStatus(r.Context(), job.ID); err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("status check failed")
		switch {
		case errors.Is(err, domain.ErrAuth), errors.Is(err, domain.ErrTransfer):
			a.error(w, http.StatusBadGateway, "upstream_unavailable", "generation platform is unreachable")
		default:
			a.error(w, http.StatusInternalServerError, "internal", "failed to check video status")
		}
		return
	}
	refreshed, err := a.Jobs.GetByID(r.Context(), job.ID)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("video job reload failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load video job")
		return
	}
	a.json(w, http.StatusOK, toJobResponse(refreshed))
}

func (a *App) VideoPublish(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadOwnedJob(w, r)
	if !ok {
		return
	}
	published, err := a.Pipeline.Publish(r.Context(), job.ID)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("publish failed")
		switch {
		case errors.Is(err, domain.ErrAlreadyPublished):
			a.error(w, http.StatusConflict, "already_published", "video is already published to the product")
		case errors.Is(err, domain.ErrNotReady):
			a.error(w, http.StatusConflict, "not_ready", "video generation has not completed")
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "video job not found")
		case errors.Is(err, domain.ErrReadinessTimeout):
			a.error(w, http.StatusGatewayTimeout, "readiness_timeout", "storefront media did not become ready in time")
		case errors.Is(err, domain.ErrPartialFailure):
			a.error(w, http.StatusBadGateway, "platform_rejected", "commerce platform rejected the media")
		case errors.Is(err, domain.ErrTransfer), errors.Is(err, domain.ErrAuth), errors.Is(err, domain.ErrUnauthorized):
			a.error(w, http.StatusBadGateway, "upstream_unavailable", "commerce platform is unreachable")
		default:
			a.error(w, http.StatusInternalServerError, "internal", "failed to publish video")
		}
		return
	}
	a.json(w, http.StatusOK, toJobResponse(published))
}
