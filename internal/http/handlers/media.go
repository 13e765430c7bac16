package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"server/internal/domain"
	"server/internal/middleware"
)

const mediaContentType = "video/mp4"

// VideoMedia serves the stored payload for a job, honoring single byte
// ranges so storefront players can seek.
func (a *App) VideoMedia(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadOwnedJob(w, r)
	if !ok {
		return
	}
	a.logPlayback(r, job)

	key := job.StorageKey()
	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		data, err := a.Store.Read(r.Context(), key)
		if err != nil {
			a.mediaError(w, job.ID, err)
			return
		}
		w.Header().Set("Content-Type", mediaContentType)
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	start, end, perr := parseByteRange(rangeHeader)
	if perr != nil {
		// Malformed range headers are ignored and the full payload served.
		data, err := a.Store.Read(r.Context(), key)
		if err != nil {
			a.mediaError(w, job.ID, err)
			return
		}
		w.Header().Set("Content-Type", mediaContentType)
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	data, size, err := a.Store.ReadRange(r.Context(), key, start, end)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.mediaError(w, job.ID, err)
			return
		}
		if size > 0 {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			a.error(w, http.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable", "requested range is outside the media")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("media range read failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to read media")
		return
	}

	last := start + int64(len(data)) - 1
	w.Header().Set("Content-Type", mediaContentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, last, size))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(data)
}

func (a *App) mediaError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "media is not available for this job")
		return
	}
	a.Logger.Error().Err(err).Str("job_id", jobID).Msg("media read failed")
	a.error(w, http.StatusInternalServerError, "internal", "failed to read media")
}

// logPlayback records the viewer's country so merchants can see where their
// videos are watched from.
func (a *App) logPlayback(r *http.Request, job *domain.VideoJob) {
	country := middleware.CountryFromContext(r.Context())
	if country == "" && a.Geo != nil {
		if ip := middleware.ClientIP(r); ip != "" {
			if code, err := a.Geo.CountryCode(ip); err == nil {
				country = code
			}
		}
	}
	a.Logger.Info().
		Str("job_id", job.ID).
		Str("shop", job.ShopDomain).
		Str("country", country).
		Msg("media playback")
}

// parseByteRange parses a single-range header of the form bytes=a-b or
// bytes=a-. Multi-range and suffix forms are rejected.
func parseByteRange(header string) (start, end int64, err error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, fmt.Errorf("unsupported range unit")
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, fmt.Errorf("multiple ranges not supported")
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 || parts[0] == "" {
		return 0, 0, fmt.Errorf("malformed range %q", header)
	}
	start, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("malformed range start %q", parts[0])
	}
	if parts[1] == "" {
		return start, -1, nil
	}
	end, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil || end < start {
		return 0, 0, fmt.Errorf("malformed range end %q", parts[1])
	}
	return start, end, nil
}
