package nas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinishedPredicate(t *testing.T) {
	truthy := []string{`true`, `"true"`, `"True"`, `"TRUE"`, `"1"`, `"yes"`, `1`, `1.0`}
	falsy := []string{`false`, `"false"`, `0`, `null`, `""`, `2`, `-1`, `"no"`, `0.5`}

	for _, raw := range truthy {
		var f Finished
		require.NoError(t, json.Unmarshal([]byte(raw), &f), raw)
		assert.True(t, bool(f), "expected %s to be finished", raw)
	}
	for _, raw := range falsy {
		var f Finished
		require.NoError(t, json.Unmarshal([]byte(raw), &f), raw)
		assert.False(t, bool(f), "expected %s to be not finished", raw)
	}
}

// fakeNAS serves the API envelope protocol for tests.
type fakeNAS struct {
	t      *testing.T
	server *httptest.Server

	// calls counts requests per "api.method".
	calls map[string]int

	// handlers maps "api.method" to a responder.
	handlers map[string]func(q url.Values) (status int, body string)
}

func newFakeNAS(t *testing.T) *fakeNAS {
	f := &fakeNAS{
		t:        t,
		calls:    make(map[string]int),
		handlers: make(map[string]func(url.Values) (int, string)),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webapi/auth.cgi", f.serve)
	mux.HandleFunc("/webapi/entry.cgi", f.serve)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	// Default login handler.
	f.handlers["SYNO.API.Auth.login"] = func(url.Values) (int, string) {
		return 200, `{"success":true,"data":{"sid":"test-sid"}}`
	}
	f.handlers["SYNO.API.Auth.logout"] = func(url.Values) (int, string) {
		return 200, `{"success":true}`
	}

	return f
}

func (f *fakeNAS) serve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("api") + "." + q.Get("method")
	f.calls[key]++

	h, ok := f.handlers[key]
	if !ok {
		f.t.Errorf("unexpected call %s", key)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	status, body := h(q)
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func (f *fakeNAS) client(t *testing.T) *APIClient {
	u, err := url.Parse(f.server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return New(Config{
		Host:      u.Hostname(),
		Port:      port,
		Username:  "admin",
		Password:  "secret",
		UseHTTPS:  false,
		RateLimit: time.Millisecond,
	})
}

func TestLoginAndStartDirSize(t *testing.T) {
	f := newFakeNAS(t)
	f.handlers["SYNO.FileStation.DirSize.start"] = func(q url.Values) (int, string) {
		assert.Equal(t, "/volume1/photo", q.Get("path"))
		assert.Equal(t, "test-sid", q.Get("_sid"))
		return 200, `{"success":true,"data":{"taskid":"FileStation_task_42"}}`
	}

	c := f.client(t)
	ctx := context.Background()

	require.NoError(t, c.Login(ctx))

	taskID, err := c.StartDirSize(ctx, "volume1//photo/")
	require.NoError(t, err)
	assert.Equal(t, "FileStation_task_42", taskID)
}

func TestLoginFailure(t *testing.T) {
	f := newFakeNAS(t)
	f.handlers["SYNO.API.Auth.login"] = func(url.Values) (int, string) {
		return 200, `{"success":false,"error":{"code":400}}`
	}

	err := f.client(t).Login(context.Background())
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 400, authErr.Code)
}

func TestCallWithoutLogin(t *testing.T) {
	f := newFakeNAS(t)

	_, err := f.client(t).StartDirSize(context.Background(), "/photo")
	require.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestPollDirSizeQuotesTaskID(t *testing.T) {
	f := newFakeNAS(t)
	f.handlers["SYNO.FileStation.DirSize.status"] = func(q url.Values) (int, string) {
		assert.Equal(t, `"task-1"`, q.Get("taskid"))
		return 200, `{"success":true,"data":{"finished":"false","num_dir":3,"num_file":7,"total_size":30000}}`
	}

	c := f.client(t)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	status, err := c.PollDirSize(ctx, "task-1")
	require.NoError(t, err)
	assert.False(t, status.IsFinished())
	assert.Equal(t, int64(3), status.NumDir)
	assert.Equal(t, int64(7), status.NumFile)
	assert.Equal(t, uint64(30000), status.TotalSize)
}

func TestRetryOn503(t *testing.T) {
	f := newFakeNAS(t)
	attempt := 0
	f.handlers["SYNO.FileStation.DirSize.start"] = func(url.Values) (int, string) {
		attempt++
		if attempt == 1 {
			return 200, `{"success":false,"error":{"code":503}}`
		}
		return 200, `{"success":true,"data":{"taskid":"t"}}`
	}

	c := f.client(t)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	// Retry sleeps are jittered off a 2s base; bound the test instead of
	// asserting timing.
	start := time.Now()
	taskID, err := c.StartDirSize(ctx, "/photo")
	require.NoError(t, err)
	assert.Equal(t, "t", taskID)
	assert.Equal(t, 2, attempt)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestNoRetryOnPermanentCode(t *testing.T) {
	f := newFakeNAS(t)
	f.handlers["SYNO.FileStation.DirSize.start"] = func(url.Values) (int, string) {
		return 200, `{"success":false,"error":{"code":404}}`
	}

	c := f.client(t)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	_, err := c.StartDirSize(ctx, "/photo")
	require.Error(t, err)
	assert.True(t, IsAPICode(err, 404))
	assert.Equal(t, 1, f.calls["SYNO.FileStation.DirSize.start"])
}

func TestPollSurfaces599Unretried(t *testing.T) {
	f := newFakeNAS(t)
	f.handlers["SYNO.FileStation.DirSize.status"] = func(url.Values) (int, string) {
		return 200, `{"success":false,"error":{"code":599}}`
	}

	c := f.client(t)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	_, err := c.PollDirSize(ctx, "task-1")
	require.Error(t, err)
	assert.True(t, IsAPICode(err, CodeServiceUnavailable))
	assert.Equal(t, 1, f.calls["SYNO.FileStation.DirSize.status"])
}

func TestStopTaskIgnoreMissing(t *testing.T) {
	f := newFakeNAS(t)
	f.handlers["SYNO.FileStation.DirSize.stop"] = func(url.Values) (int, string) {
		return 200, `{"success":false,"error":{"code":599}}`
	}

	c := f.client(t)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	require.Error(t, c.StopTask(ctx, "gone", false))
	require.NoError(t, c.StopTask(ctx, "gone", true))
}

func TestListBackgroundTasks(t *testing.T) {
	f := newFakeNAS(t)
	f.handlers["SYNO.FileStation.BackgroundTask.list"] = func(q url.Values) (int, string) {
		assert.Equal(t, "SYNO.FileStation.DirSize", q.Get("api_filter"))
		return 200, `{"success":true,"data":{"tasks":[
			{"taskid":"a","finished":true},
			{"taskid":"b","finished":"false"}
		]}}`
	}

	c := f.client(t)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	tasks, err := c.ListBackgroundTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.True(t, bool(tasks[0].Finished))
	assert.False(t, bool(tasks[1].Finished))
}

func TestCleanupTasksStopsTrackedTasks(t *testing.T) {
	f := newFakeNAS(t)
	f.handlers["SYNO.FileStation.DirSize.start"] = func(url.Values) (int, string) {
		return 200, `{"success":true,"data":{"taskid":"t1"}}`
	}
	stopped := []string{}
	f.handlers["SYNO.FileStation.DirSize.stop"] = func(q url.Values) (int, string) {
		id, _ := strconv.Unquote(q.Get("taskid"))
		stopped = append(stopped, id)
		return 200, `{"success":true}`
	}

	c := f.client(t)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	_, err := c.StartDirSize(ctx, "/photo")
	require.NoError(t, err)

	c.CleanupTasks(ctx)
	assert.Equal(t, []string{"t1"}, stopped)

	// Idempotent: the stopped task is no longer tracked.
	c.CleanupTasks(ctx)
	assert.Len(t, stopped, 1)
}

func TestLogoutIdempotent(t *testing.T) {
	f := newFakeNAS(t)
	c := f.client(t)
	ctx := context.Background()

	require.NoError(t, c.Logout(ctx), "logout without session is a no-op")

	require.NoError(t, c.Login(ctx))
	require.NoError(t, c.Logout(ctx))
	require.NoError(t, c.Logout(ctx))
	assert.Equal(t, 1, f.calls["SYNO.API.Auth.logout"])
}
