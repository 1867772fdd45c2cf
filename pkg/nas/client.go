// Package nas is the adapter for the versioned HTTP RPC surface of a
// NAS host: session login, rate-limited API calls with transient-error
// retries, and the dir-size task operations the polling engine drives.
package nas

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/marmos91/nasscan/internal/logger"
	"github.com/marmos91/nasscan/pkg/metrics"
	"github.com/marmos91/nasscan/pkg/models"
)

const (
	dirSizeAPI        = "SYNO.FileStation.DirSize"
	backgroundTaskAPI = "SYNO.FileStation.BackgroundTask"
	authAPI           = "SYNO.API.Auth"

	// defaultRateLimit is the minimum spacing between outgoing calls,
	// enforced per client instance.
	defaultRateLimit = time.Second

	// callTimeout bounds one API round trip; auth calls are quicker.
	callTimeout = 60 * time.Second
	authTimeout = 10 * time.Second

	// maxCallRetries is the transient-error retry budget per call.
	maxCallRetries = 2

	// keepFinishedTasks is how many finished dir-size tasks are left on
	// the NAS before the stale ones are cleared.
	keepFinishedTasks = 10
)

// Client is the operation surface the executor and the polling engine
// consume. Implementations are safe for concurrent use.
type Client interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error

	StartDirSize(ctx context.Context, path string) (string, error)
	PollDirSize(ctx context.Context, taskID string) (*DirSizeStatus, error)
	StopTask(ctx context.Context, taskID string, ignoreMissing bool) error
	ListBackgroundTasks(ctx context.Context) ([]BackgroundTask, error)

	// UntrackTask drops a task from the best-effort cleanup set once its
	// terminal state is known.
	UntrackTask(taskID string)

	// CleanupTasks stops every still-tracked task, ignoring tasks that
	// are already gone.
	CleanupTasks(ctx context.Context)

	// CleanupBackgroundTasks clears stale finished dir-size tasks from
	// the NAS task table when more than keepFinishedTasks accumulated.
	CleanupBackgroundTasks(ctx context.Context) error

	Host() string
}

// Config describes one NAS endpoint.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	UseHTTPS  bool
	VerifySSL bool

	// RateLimit overrides the minimum call spacing. Zero means the
	// 1-second default.
	RateLimit time.Duration

	// Metrics is optional; nil disables collection.
	Metrics metrics.APIMetrics
}

func (c *Config) baseURL() string {
	scheme := "http"
	if c.UseHTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// APIClient is the HTTP implementation of Client.
type APIClient struct {
	cfg     Config
	baseURL string
	httpc   *http.Client
	limiter *rate.Limiter

	mu     sync.Mutex
	sid    string
	active map[string]struct{}
}

var _ Client = (*APIClient)(nil)

// New creates a client for one NAS. No network traffic happens until
// Login.
func New(cfg Config) *APIClient {
	spacing := cfg.RateLimit
	if spacing <= 0 {
		spacing = defaultRateLimit
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !cfg.VerifySSL}

	return &APIClient{
		cfg:     cfg,
		baseURL: cfg.baseURL(),
		httpc:   &http.Client{Transport: transport},
		limiter: rate.NewLimiter(rate.Every(spacing), 1),
		active:  make(map[string]struct{}),
	}
}

// Host returns the NAS hostname this client talks to.
func (c *APIClient) Host() string {
	return c.cfg.Host
}

// Login opens a FileStation session. Subsequent calls carry the session
// id.
func (c *APIClient) Login(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	params := url.Values{
		"api":     {authAPI},
		"version": {"3"},
		"method":  {"login"},
		"account": {c.cfg.Username},
		"passwd":  {c.cfg.Password},
		"session": {"FileStation"},
		"format":  {"sid"},
	}

	env, err := c.doGet(ctx, "/webapi/auth.cgi", params)
	if err != nil {
		return fmt.Errorf("login to %s: %w", c.cfg.Host, err)
	}
	if !env.Success {
		return &AuthError{Host: c.cfg.Host, Code: env.errorCode()}
	}

	var data struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.SID == "" {
		return &AuthError{Host: c.cfg.Host}
	}

	c.mu.Lock()
	c.sid = data.SID
	c.mu.Unlock()

	logger.Debug("logged in", logger.NasHost(c.cfg.Host))
	return nil
}

// Logout closes the session. Idempotent; calling it without a session
// is a no-op.
func (c *APIClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	sid := c.sid
	c.mu.Unlock()
	if sid == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	params := url.Values{
		"api":     {authAPI},
		"version": {"3"},
		"method":  {"logout"},
		"session": {"FileStation"},
		"_sid":    {sid},
	}

	_, err := c.doGet(ctx, "/webapi/auth.cgi", params)

	c.mu.Lock()
	c.sid = ""
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("logout from %s: %w", c.cfg.Host, err)
	}
	logger.Debug("logged out", logger.NasHost(c.cfg.Host))
	return nil
}

// StartDirSize launches a server-side dir-size task for path and tracks
// the returned task id for shutdown cleanup.
func (c *APIClient) StartDirSize(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	path = models.NormalizePath(path)

	raw, err := c.call(ctx, dirSizeAPI, "start", "2", url.Values{"path": {path}}, true)
	if err != nil {
		return "", err
	}

	var data startResponse
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("decode start response: %w", err)
	}
	if data.TaskID == "" {
		return "", fmt.Errorf("start accepted but no task id returned for %s", path)
	}

	c.mu.Lock()
	c.active[data.TaskID] = struct{}{}
	c.mu.Unlock()

	logger.Debug("dir-size task started",
		logger.NasHost(c.cfg.Host), logger.Path(path), logger.TaskID(data.TaskID))
	return data.TaskID, nil
}

// PollDirSize fetches the current status of a task. API errors are
// surfaced unretried; the polling engine classifies them.
func (c *APIClient) PollDirSize(ctx context.Context, taskID string) (*DirSizeStatus, error) {
	raw, err := c.call(ctx, dirSizeAPI, "status", "2", taskParams(taskID), false)
	if err != nil {
		return nil, err
	}

	var status DirSizeStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &status, nil
}

// StopTask aborts a running task. With ignoreMissing a "task already
// gone" error (599) counts as success.
func (c *APIClient) StopTask(ctx context.Context, taskID string, ignoreMissing bool) error {
	_, err := c.call(ctx, dirSizeAPI, "stop", "2", taskParams(taskID), false)
	if err != nil {
		if ignoreMissing && IsAPICode(err, CodeServiceUnavailable) {
			c.UntrackTask(taskID)
			return nil
		}
		return err
	}

	c.UntrackTask(taskID)
	logger.Debug("dir-size task stopped", logger.NasHost(c.cfg.Host), logger.TaskID(taskID))
	return nil
}

// ListBackgroundTasks returns the NAS's view of dir-size tasks. Used to
// adjudicate whether a flaky task still exists.
func (c *APIClient) ListBackgroundTasks(ctx context.Context) ([]BackgroundTask, error) {
	raw, err := c.call(ctx, backgroundTaskAPI, "list", "3",
		url.Values{"api_filter": {dirSizeAPI}}, false)
	if err != nil {
		return nil, err
	}

	var data taskListResponse
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode task list: %w", err)
	}
	return data.Tasks, nil
}

// UntrackTask removes a task from the cleanup set.
func (c *APIClient) UntrackTask(taskID string) {
	c.mu.Lock()
	delete(c.active, taskID)
	c.mu.Unlock()
}

// CleanupTasks best-effort stops every still-tracked task. Called on
// scan teardown and shutdown.
func (c *APIClient) CleanupTasks(ctx context.Context) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.StopTask(ctx, id, true); err != nil {
			logger.Warn("failed to stop task during cleanup",
				logger.NasHost(c.cfg.Host), logger.TaskID(id), logger.Err(err))
		}
	}
}

// CleanupBackgroundTasks clears finished dir-size tasks from the NAS
// task table once more than keepFinishedTasks have accumulated. The
// clear operation is all-or-nothing on the NAS side, so it only fires
// past the threshold.
func (c *APIClient) CleanupBackgroundTasks(ctx context.Context) error {
	tasks, err := c.ListBackgroundTasks(ctx)
	if err != nil {
		return err
	}

	var finished []BackgroundTask
	running := 0
	for _, t := range tasks {
		if bool(t.Finished) {
			finished = append(finished, t)
		} else {
			running++
		}
	}

	if running > 0 {
		logger.Info("dir-size tasks still running on NAS",
			logger.NasHost(c.cfg.Host), "running", running)
	}
	if len(finished) <= keepFinishedTasks {
		return nil
	}

	sort.Slice(finished, func(i, j int) bool {
		return finishedAt(finished[i]) > finishedAt(finished[j])
	})

	logger.Info("clearing stale finished dir-size tasks",
		logger.NasHost(c.cfg.Host), "stale", len(finished)-keepFinishedTasks)

	_, err = c.call(ctx, backgroundTaskAPI, "clear_finished", "3", nil, false)
	return err
}

func finishedAt(t BackgroundTask) int64 {
	if t.FinishedTime != 0 {
		return t.FinishedTime
	}
	return t.StartTime
}

// taskParams builds the parameter set for task-scoped operations. The
// NAS expects the task id wrapped in double quotes.
func taskParams(taskID string) url.Values {
	return url.Values{"taskid": {strconv.Quote(taskID)}}
}

// apiEnvelope is the outer response shape of every NAS API call.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code int `json:"code"`
	} `json:"error"`
}

func (e *apiEnvelope) errorCode() int {
	if e.Error == nil {
		return 0
	}
	return e.Error.Code
}

// call performs one authenticated API call, honoring the rate limit.
// With retryTransient it retries codes 429/503 and transport failures
// up to maxCallRetries times, respecting Retry-After and adding 10-20%
// jitter. Codes 400/401/403/404 and all semantic codes (160, 599) are
// surfaced without retry.
func (c *APIClient) call(ctx context.Context, api, method, version string, params url.Values, retryTransient bool) (json.RawMessage, error) {
	c.mu.Lock()
	sid := c.sid
	c.mu.Unlock()
	if sid == "" {
		return nil, ErrNotLoggedIn
	}

	query := url.Values{
		"api":     {api},
		"version": {version},
		"method":  {method},
		"_sid":    {sid},
	}
	for k, vs := range params {
		query[k] = vs
	}

	var payload json.RawMessage
	delay := &retryAfterBackOff{}

	op := func() error {
		start := time.Now()
		raw, hint, err := c.doCall(ctx, query)
		duration := time.Since(start)

		if c.cfg.Metrics != nil {
			c.cfg.Metrics.RecordAPICall(api, method, callOutcome(err), duration)
		}

		if err != nil {
			logger.Debug("api call failed",
				logger.NasHost(c.cfg.Host), "api", api, "method", method,
				logger.DurationMs(float64(duration.Milliseconds())), logger.Err(err))
			if !retryTransient || !isRetryable(err) {
				return backoff.Permanent(err)
			}
			delay.hint = hint
			return err
		}

		if logger.Enabled(logger.LevelDebug) {
			logger.Debug("api call",
				logger.NasHost(c.cfg.Host), "api", api, "method", method,
				logger.DurationMs(float64(duration.Milliseconds())))
		}
		payload = raw
		return nil
	}

	err := backoff.Retry(op,
		backoff.WithContext(backoff.WithMaxRetries(delay, maxCallRetries), ctx))
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// doCall executes one HTTP round trip and maps the envelope to either a
// payload or an APIError. The returned duration hint carries a parsed
// Retry-After header, if any.
func (c *APIClient) doCall(ctx context.Context, query url.Values) (json.RawMessage, time.Duration, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	env, hint, err := c.doGetWithHint(ctx, "/webapi/entry.cgi", query)
	if err != nil {
		return nil, hint, err
	}

	if !env.Success {
		return nil, hint, &APIError{
			Code:   env.errorCode(),
			API:    query.Get("api"),
			Method: query.Get("method"),
		}
	}
	return env.Data, 0, nil
}

func (c *APIClient) doGet(ctx context.Context, path string, query url.Values) (*apiEnvelope, error) {
	env, _, err := c.doGetWithHint(ctx, path, query)
	return env, err
}

func (c *APIClient) doGetWithHint(ctx context.Context, path string, query url.Values) (*apiEnvelope, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var hint time.Duration
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			hint = time.Duration(secs) * time.Second
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, hint, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, hint, fmt.Errorf("decode response: %w", err)
	}
	return &env, hint, nil
}

func callOutcome(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &apiErr):
		return "api_error"
	default:
		return "transport_error"
	}
}

// isRetryable reports whether the client-level retry budget applies:
// rate-limit and availability codes, plus transport failures. Permanent
// codes and the semantic codes (160, 599) are surfaced for the polling
// engine.
func isRetryable(err error) bool {
	if IsAPICode(err, 429) || IsAPICode(err, 503) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	return true
}

// retryAfterBackOff sleeps per the server's Retry-After hint when one
// was seen, otherwise backs off linearly; both with 10-20% jitter.
type retryAfterBackOff struct {
	attempt int
	hint    time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	b.attempt++
	base := b.hint
	b.hint = 0
	if base <= 0 {
		base = time.Duration(b.attempt) * 2 * time.Second
	}
	jitter := time.Duration((0.1 + 0.1*rand.Float64()) * float64(base))
	return base + jitter
}

func (b *retryAfterBackOff) Reset() {
	b.attempt = 0
	b.hint = 0
}
