package handlers

import (
	"encoding/json"
	"net/http"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/infra/geoip"
	"server/internal/middleware"
	"server/internal/pipeline"
	"server/internal/storage"
)

type App struct {
	Jobs     domain.VideoJobRepository
	Store    *storage.FileStore
	Pipeline *pipeline.Pipeline
	Geo      geoip.CountryResolver
	Video    VideoDefaults
	Logger   infra.Logger
}

// VideoDefaults are the generation parameters applied to every submission.
type VideoDefaults struct {
	AspectRatio     string
	DurationSeconds int
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorResponse{Error: errCode, Message: message})
}

func (a *App) currentShop(r *http.Request) string {
	return middleware.ShopFromContext(r.Context())
}
