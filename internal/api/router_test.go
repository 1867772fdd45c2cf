package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nasscan/pkg/config"
	"github.com/marmos91/nasscan/pkg/core"
	"github.com/marmos91/nasscan/pkg/history"
	"github.com/marmos91/nasscan/pkg/models"
	"github.com/marmos91/nasscan/pkg/nas"
	"github.com/marmos91/nasscan/pkg/poll"
	"github.com/marmos91/nasscan/pkg/scan"
	"github.com/marmos91/nasscan/pkg/scheduler"
)

type stubNAS struct{}

func (stubNAS) Login(context.Context) error  { return nil }
func (stubNAS) Logout(context.Context) error { return nil }
func (stubNAS) Host() string                 { return "nas.test" }
func (stubNAS) StartDirSize(_ context.Context, path string) (string, error) {
	return "task:" + path, nil
}
func (stubNAS) PollDirSize(context.Context, string) (*nas.DirSizeStatus, error) {
	return &nas.DirSizeStatus{Finished: true, NumDir: 1, NumFile: 2, TotalSize: 4096}, nil
}
func (stubNAS) StopTask(context.Context, string, bool) error { return nil }
func (stubNAS) ListBackgroundTasks(context.Context) ([]nas.BackgroundTask, error) {
	return nil, nil
}
func (stubNAS) UntrackTask(string)                        {}
func (stubNAS) CleanupTasks(context.Context)              {}
func (stubNAS) CleanupBackgroundTasks(context.Context) error { return nil }

func newTestRouter(t *testing.T) (http.Handler, *history.Store) {
	t.Helper()

	store, err := history.New(&history.Config{
		Type:   history.DatabaseTypeSQLite,
		SQLite: history.SQLiteConfig{Path: filepath.Join(t.TempDir(), "history.db")},
	})
	require.NoError(t, err)

	executor := scan.NewExecutor(store, scan.Options{
		Poll:      poll.Options{InitialDelay: time.Millisecond, MinInterval: time.Millisecond, MaxWait: time.Second},
		Grace:     time.Millisecond,
		NewClient: func(nas.Config) nas.Client { return stubNAS{} },
	})

	cfg := &config.Config{
		Scans: []config.ScanConfig{
			{
				Name:     "Media",
				Slug:     "media",
				NAS:      config.NASConfig{Host: "nas.test", Username: "admin", Password: "x"},
				Paths:    []string{"/photo"},
				Interval: "1h",
			},
		},
	}

	sched := scheduler.New(executor, nil, scheduler.Options{ReloadInterval: -1})
	sched.Load(cfg.Scans)

	c := core.New(cfg, "", store, executor, sched)
	c.Start(context.Background())

	return NewRouter(c, time.Minute), store
}

func doRequest(t *testing.T, h http.Handler, method, path string) (int, Response) {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp Response
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec.Code, resp
}

func dataMap(t *testing.T, resp Response) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	require.True(t, ok, "response data is not an object: %v", resp.Data)
	return m
}

func seedResult(t *testing.T, store *history.Store, slug string, ts time.Time) {
	t.Helper()

	size := models.NewTotalSize(4096)
	result := &models.ScanResult{
		Slug:      slug,
		Name:      "Media",
		Timestamp: ts,
		Items: []models.ScanResultItem{
			{FolderName: "/photo", Success: true, NumDir: 1, NumFile: 2, TotalSize: &size},
		},
	}
	result.Finalize()
	require.NoError(t, store.AddResult(context.Background(), slug, "Media", result, "nas.test"))
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	code, resp := doRequest(t, router, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp.Status)

	data := dataMap(t, resp)
	assert.Equal(t, float64(1), data["scans"])
	assert.Equal(t, float64(1), data["jobs"])
}

func TestListScansEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	code, resp := doRequest(t, router, http.MethodGet, "/api/scans")
	require.Equal(t, http.StatusOK, code)

	data := dataMap(t, resp)
	assert.Equal(t, float64(1), data["count"])
}

func TestGetScanEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	code, resp := doRequest(t, router, http.MethodGet, "/api/scans/media")
	require.Equal(t, http.StatusOK, code)
	data := dataMap(t, resp)
	assert.Equal(t, "media", data["slug"])
	assert.NotContains(t, data, "password")

	code, resp = doRequest(t, router, http.MethodGet, "/api/scans/nope")
	require.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Error, "not found")
}

func TestScanStatusAndProgressEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	code, resp := doRequest(t, router, http.MethodGet, "/api/scans/media/status")
	require.Equal(t, http.StatusOK, code)
	data := dataMap(t, resp)
	assert.Equal(t, false, data["running"])

	code, _ = doRequest(t, router, http.MethodGet, "/api/scans/media/progress")
	require.Equal(t, http.StatusOK, code)
}

func TestTriggerEndpoint(t *testing.T) {
	router, store := newTestRouter(t)

	code, resp := doRequest(t, router, http.MethodPost, "/api/scans/media/trigger")
	require.Equal(t, http.StatusOK, code)
	data := dataMap(t, resp)
	assert.Equal(t, true, data["triggered"])

	require.Eventually(t, func() bool {
		latest, err := store.GetLatestResult(context.Background(), "media")
		return err == nil && latest != nil
	}, 5*time.Second, 10*time.Millisecond)

	code, _ = doRequest(t, router, http.MethodPost, "/api/scans/nope/trigger")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestResultsAndHistoryEndpoints(t *testing.T) {
	router, store := newTestRouter(t)

	seedResult(t, store, "media", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	seedResult(t, store, "media", time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC))

	code, resp := doRequest(t, router, http.MethodGet, "/api/scans/media/results")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), dataMap(t, resp)["count"], "default is latest only")

	code, resp = doRequest(t, router, http.MethodGet, "/api/scans/media/results?latest=false")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), dataMap(t, resp)["count"])

	code, _ = doRequest(t, router, http.MethodGet, "/api/scans/media/results?latest=banana")
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = doRequest(t, router, http.MethodGet,
		"/api/scans/media/history?since=2026-08-01T12:00:00Z")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), dataMap(t, resp)["count"])

	code, _ = doRequest(t, router, http.MethodGet, "/api/scans/media/history?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStorageEndpoints(t *testing.T) {
	router, store := newTestRouter(t)
	seedResult(t, store, "media", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))

	code, resp := doRequest(t, router, http.MethodGet, "/api/storage/stats")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), dataMap(t, resp)["total_results_db"])

	code, resp = doRequest(t, router, http.MethodGet, "/api/storage/folders")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), dataMap(t, resp)["count"])

	code, resp = doRequest(t, router, http.MethodGet, "/api/storage/cleanup-preview?days=30")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, dataMap(t, resp)["dry_run"])

	code, _ = doRequest(t, router, http.MethodGet, "/api/storage/cleanup-preview?days=-1")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doRequest(t, router, http.MethodDelete, "/api/storage/folders")
	assert.Equal(t, http.StatusBadRequest, code, "unfiltered folder delete is rejected")

	code, resp = doRequest(t, router, http.MethodDelete, "/api/storage/folders?folder_path=/photo")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), dataMap(t, resp)["deleted_count"])

	code, resp = doRequest(t, router, http.MethodDelete, "/api/storage/all")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), dataMap(t, resp)["deleted_count"])
}

func TestMetricsEndpointDisabled(t *testing.T) {
	router, _ := newTestRouter(t)

	code, _ := doRequest(t, router, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRootRedirectsToHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/health", rec.Header().Get("Location"))
}
