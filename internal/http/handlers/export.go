package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"server/pkg/zip"
)

// VideoExport bundles the stored payload and its job metadata into a zip
// archive merchants can download for use outside the storefront.
func (a *App) VideoExport(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadOwnedJob(w, r)
	if !ok {
		return
	}
	data, err := a.Store.Read(r.Context(), job.StorageKey())
	if err != nil {
		a.mediaError(w, job.ID, err)
		return
	}
	metadata, err := json.MarshalIndent(toJobResponse(job), "", "  ")
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("metadata marshal failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to build export")
		return
	}
	archive := zip.ArchiveAssets([]zip.Asset{
		{Filename: job.ID + ".mp4", MIME: mediaContentType, Data: data},
		{Filename: "metadata.json", MIME: "application/json", Data: metadata},
	})
	if archive == nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to build export")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.ID+".zip"))
	w.Header().Set("Content-Length", strconv.Itoa(len(archive)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
