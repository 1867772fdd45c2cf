package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/nasscan/pkg/core"
	"github.com/marmos91/nasscan/pkg/history"
)

type handler struct {
	core *core.Core
}

// scanError maps core errors onto HTTP status codes.
func scanError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrScanNotFound) {
		notFound(w, err.Error())
		return
	}
	internalError(w, err.Error())
}

// health handles GET /health.
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ok(w, h.core.Health())
}

// listScans handles GET /api/scans.
func (h *handler) listScans(w http.ResponseWriter, r *http.Request) {
	scans := h.core.ListScans(r.Context())
	ok(w, map[string]any{
		"scans": scans,
		"count": len(scans),
	})
}

// getScan handles GET /api/scans/{slug}. The path segment matches by
// slug or, as a fallback, by scan name.
func (h *handler) getScan(w http.ResponseWriter, r *http.Request) {
	summary, err := h.core.GetScan(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		scanError(w, err)
		return
	}
	ok(w, summary)
}

// getScanStatus handles GET /api/scans/{slug}/status.
func (h *handler) getScanStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.core.GetScanStatus(chi.URLParam(r, "slug"))
	if err != nil {
		scanError(w, err)
		return
	}
	ok(w, status)
}

// getScanProgress handles GET /api/scans/{slug}/progress.
func (h *handler) getScanProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.core.GetScanProgress(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		scanError(w, err)
		return
	}
	ok(w, progress)
}

// getScanResults handles GET /api/scans/{slug}/results?latest=true.
func (h *handler) getScanResults(w http.ResponseWriter, r *http.Request) {
	latest := true
	if v := r.URL.Query().Get("latest"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(w, "latest must be a boolean")
			return
		}
		latest = parsed
	}

	results, err := h.core.GetScanResults(r.Context(), chi.URLParam(r, "slug"), latest)
	if err != nil {
		scanError(w, err)
		return
	}
	ok(w, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

// getScanHistory handles GET /api/scans/{slug}/history?since=&limit=.
func (h *handler) getScanHistory(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		since = &parsed
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			badRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	results, err := h.core.GetScanHistory(r.Context(), chi.URLParam(r, "slug"), since, limit)
	if err != nil {
		scanError(w, err)
		return
	}
	ok(w, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

// triggerScan handles POST /api/scans/{slug}/trigger.
func (h *handler) triggerScan(w http.ResponseWriter, r *http.Request) {
	result, err := h.core.TriggerScan(chi.URLParam(r, "slug"))
	if err != nil {
		scanError(w, err)
		return
	}
	ok(w, result)
}

// reloadConfig handles POST /api/config/reload.
func (h *handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	result, err := h.core.ReloadConfig()
	if err != nil {
		internalError(w, err.Error())
		return
	}
	ok(w, result)
}

// queryFilter builds a history filter from the common query params.
func queryFilter(r *http.Request) history.Filter {
	q := r.URL.Query()
	return history.Filter{
		Slug:       q.Get("scan"),
		NasHost:    q.Get("nas_host"),
		FolderPath: q.Get("folder_path"),
	}
}

// storageStats handles GET /api/storage/stats.
func (h *handler) storageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.core.GetStorageStats(r.Context())
	if err != nil {
		internalError(w, err.Error())
		return
	}
	ok(w, stats)
}

// listFolders handles GET /api/storage/folders.
func (h *handler) listFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.core.GetAllFolders(r.Context(), queryFilter(r))
	if err != nil {
		internalError(w, err.Error())
		return
	}
	ok(w, map[string]any{
		"folders": folders,
		"count":   len(folders),
	})
}

// cleanupDays parses the days query param, defaulting to 90.
func cleanupDays(r *http.Request) (int, bool) {
	days := 90
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return 0, false
		}
		days = parsed
	}
	return days, true
}

// cleanupPreview handles GET /api/storage/cleanup-preview.
func (h *handler) cleanupPreview(w http.ResponseWriter, r *http.Request) {
	days, valid := cleanupDays(r)
	if !valid {
		badRequest(w, "days must be a positive integer")
		return
	}

	stats, err := h.core.CleanupPreview(r.Context(), days, queryFilter(r))
	if err != nil {
		internalError(w, err.Error())
		return
	}
	ok(w, stats)
}

// cleanup handles POST /api/storage/cleanup.
func (h *handler) cleanup(w http.ResponseWriter, r *http.Request) {
	days, valid := cleanupDays(r)
	if !valid {
		badRequest(w, "days must be a positive integer")
		return
	}

	stats, err := h.core.Cleanup(r.Context(), days, queryFilter(r))
	if err != nil {
		internalError(w, err.Error())
		return
	}
	ok(w, stats)
}

// deleteFolders handles DELETE /api/storage/folders. At least one
// filter query param is required.
func (h *handler) deleteFolders(w http.ResponseWriter, r *http.Request) {
	filter := queryFilter(r)
	if filter.Slug == "" && filter.NasHost == "" && filter.FolderPath == "" {
		badRequest(w, "at least one of scan, nas_host or folder_path is required")
		return
	}

	deleted, err := h.core.DeleteFolderResults(r.Context(), filter)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	ok(w, map[string]any{"deleted_count": deleted})
}

// deleteScanResults handles DELETE /api/storage/scans/{slug}.
func (h *handler) deleteScanResults(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.core.DeleteScanResults(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		internalError(w, err.Error())
		return
	}
	ok(w, map[string]any{"deleted_count": deleted})
}

// deleteAllResults handles DELETE /api/storage/all.
func (h *handler) deleteAllResults(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.core.DeleteAllResults(r.Context())
	if err != nil {
		internalError(w, err.Error())
		return
	}
	ok(w, map[string]any{"deleted_count": deleted})
}
