package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antiprophet/studio/internal/backend"
	"github.com/antiprophet/studio/internal/blobstore"
	"github.com/antiprophet/studio/internal/cache"
	"github.com/antiprophet/studio/internal/config"
	"github.com/antiprophet/studio/internal/logging"
	"github.com/antiprophet/studio/internal/middleware"
	"github.com/antiprophet/studio/internal/playback"
	"github.com/antiprophet/studio/internal/session"
	"github.com/antiprophet/studio/internal/studio"
	"github.com/antiprophet/studio/pkg/models"
)

const (
	testSecret  = "handler-test-secret"
	testBaseURL = "http://studio.test"
	mediaBody   = "not really an mp4"
)

// upstream fakes the REST backend and the media host
type upstream struct {
	mu      sync.Mutex
	videos  []map[string]interface{}
	deleted []string
	media   int // status of the media endpoint
}

func (u *upstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload-heygen-video", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"results":[{"video_id":"job","status":"processing"}]}`)
	})
	mux.HandleFunc("/generate-video", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"video_id":"job-generated"}`)
	})
	mux.HandleFunc("/media/", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		status := u.media
		u.mu.Unlock()
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		fmt.Fprint(w, mediaBody)
	})
	mux.HandleFunc("/videos/", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()
		if r.Method == http.MethodDelete {
			u.deleted = append(u.deleted, strings.TrimPrefix(r.URL.Path, "/videos/"))
			w.WriteHeader(http.StatusNoContent)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"videos": u.videos})
	})
	return mux
}

type testEnv struct {
	router   *gin.Engine
	upstream *upstream
	server   *httptest.Server
	blobs    *blobstore.Memory
	token    string
	cookie   *http.Cookie
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithCache(t, nil)
}

// newRedisTestEnv backs server-side sessions with miniredis
func newRedisTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rc, err := cache.NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return newTestEnvWithCache(t, rc)
}

func newTestEnvWithCache(t *testing.T, rc *cache.Cache) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	up := &upstream{media: http.StatusOK}
	srv := httptest.NewServer(up.handler())
	t.Cleanup(srv.Close)

	up.videos = []map[string]interface{}{
		{"id": 1, "script_id": "s1", "url": srv.URL + "/media/1.mp4", "size": "1 MB", "created_at": "2024-01-01T00:00:00Z"},
		{"id": 2, "script_id": 7, "url": srv.URL + "/media/2.mp4", "size": "2 MB", "created_at": "2024-02-01T00:00:00Z"},
		{"id": 3, "script_id": "s3", "url": "null", "size": "", "created_at": "2024-03-01T00:00:00Z"},
	}

	logger := logging.NewNop()
	prober, err := playback.NewProber(config.PlaybackConfig{})
	require.NoError(t, err)
	mem := blobstore.NewMemory(testBaseURL, 1<<20)

	manager := studio.NewManager(studio.Options{
		Poller:      config.PollerConfig{Interval: time.Hour, RequestTimeout: 5 * time.Second},
		Backend:     backend.NewWithHTTPClient(srv.URL, srv.Client(), logger),
		Store:       mem,
		Prober:      prober,
		FetchClient: srv.Client(),
		Logger:      logger,
	})
	t.Cleanup(manager.Close)

	api := &API{manager: manager, blobs: mem, cache: rc, log: logger}
	auth := middleware.AuthOptions{JWTSecret: testSecret}
	if rc != nil {
		auth.Sessions = func(scope string) session.Provider { return rc.Scoped(scope) }
	}
	router := setupRouter(api, auth, middleware.NewRateLimiter(1000, 1000), logger)

	token, err := session.IssueToken(testSecret, "user-1", "script-1", time.Hour)
	require.NoError(t, err)

	return &testEnv{router: router, upstream: up, server: srv, blobs: mem, token: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	if e.cookie != nil {
		req.AddCookie(e.cookie)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeSource(t *testing.T, w *httptest.ResponseRecorder) models.PlaybackSource {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var src models.PlaybackSource
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &src))
	return src
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""

	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestAPIRequiresUser(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""

	w := env.do(t, http.MethodGet, "/api/v1/jobs", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestObserveAndDismissJobs(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/jobs", gin.H{"job_ids": []string{"a", "a", "b", " "}})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var observed struct {
		Started int                 `json:"started"`
		Jobs    []models.PendingJob `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &observed))
	assert.Equal(t, 2, observed.Started)

	w = env.do(t, http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Jobs  []models.PendingJob `json:"jobs"`
		Count int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Equal(t, 2, listed.Count)
	assert.Equal(t, "a", listed.Jobs[0].JobID)
	assert.Equal(t, "b", listed.Jobs[1].JobID)

	w = env.do(t, http.MethodDelete, "/api/v1/jobs/a", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodDelete, "/api/v1/jobs/a", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPollJob(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/jobs/job-9/poll", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var job models.PendingJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, "job-9", job.JobID)
}

func TestGenerateVideo(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/videos/generate", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		JobIDs []string `json:"job_ids"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"job-generated"}, resp.JobIDs)

	w = env.do(t, http.MethodGet, "/api/v1/jobs", nil)
	assert.Contains(t, w.Body.String(), "job-generated")
}

func TestListVideosSorted(t *testing.T) {
	env := newTestEnv(t)

	var resp struct {
		Videos []models.Video `json:"videos"`
		Count  int            `json:"count"`
	}

	w := env.do(t, http.MethodGet, "/api/v1/videos", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.Count)
	assert.Equal(t, int64(3), resp.Videos[0].ID)
	assert.Equal(t, models.OpaqueID("7"), resp.Videos[1].ScriptID)

	w = env.do(t, http.MethodGet, "/api/v1/videos?sort=oldest", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Videos[0].ID)
}

func TestRefreshAndDeleteVideo(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/videos/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, "/api/v1/videos/2", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	env.upstream.mu.Lock()
	assert.Equal(t, []string{"2"}, env.upstream.deleted)
	env.upstream.mu.Unlock()

	w = env.do(t, http.MethodDelete, "/api/v1/videos/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteUnlistedVideoIsNotForwarded(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/videos/refresh", nil)

	w := env.do(t, http.MethodDelete, "/api/v1/videos/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	env.upstream.mu.Lock()
	assert.Empty(t, env.upstream.deleted)
	env.upstream.mu.Unlock()
}

func TestUserCookieDoesNotAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""
	env.cookie = &http.Cookie{Name: session.KeyUserID, Value: "user-1"}

	w := env.do(t, http.MethodGet, "/api/v1/jobs", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPlaybackManualFallbacks(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/videos/refresh", nil)

	src := decodeSource(t, env.do(t, http.MethodGet, "/api/v1/videos/1/playback", nil))
	assert.Equal(t, models.PlaybackNative, src.Strategy)
	assert.Equal(t, env.server.URL+"/media/1.mp4", src.URL)
	assert.False(t, src.Unavailable)

	// an iframe failure while native is current is stale
	src = decodeSource(t, env.do(t, http.MethodPost, "/api/v1/videos/1/playback/events", gin.H{"event": "iframe_error"}))
	assert.Equal(t, models.PlaybackNative, src.Strategy)

	src = decodeSource(t, env.do(t, http.MethodPut, "/api/v1/videos/1/playback", gin.H{"strategy": "iframe"}))
	assert.Equal(t, models.PlaybackIframe, src.Strategy)
	assert.Equal(t, env.server.URL+"/media/1.mp4", src.URL)

	src = decodeSource(t, env.do(t, http.MethodPost, "/api/v1/videos/1/playback/events", gin.H{"event": "iframe_error"}))
	assert.True(t, src.Unavailable)
	assert.Equal(t, playback.MessageUnavailable, src.Message)
	assert.Empty(t, src.URL)
	assert.Equal(t, env.server.URL+"/media/1.mp4", src.RawURL)

	w := env.do(t, http.MethodPut, "/api/v1/videos/1/playback", gin.H{"strategy": "flash"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/videos/1/playback/events", gin.H{"event": "stalled"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodDelete, "/api/v1/videos/1/playback", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodDelete, "/api/v1/videos/1/playback", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlaybackBlobFallbackServesObjectURL(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/videos/refresh", nil)

	src := decodeSource(t, env.do(t, http.MethodPost, "/api/v1/videos/2/playback/events", gin.H{"event": "media_error"}))
	require.Equal(t, models.PlaybackBlob, src.Strategy)
	require.True(t, strings.HasPrefix(src.URL, testBaseURL+blobstore.PathPrefix), src.URL)
	assert.Equal(t, 1, env.blobs.Len())

	env.token = ""
	w := env.do(t, http.MethodGet, strings.TrimPrefix(src.URL, testBaseURL), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, mediaBody, w.Body.String())
	assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))

	w = env.do(t, http.MethodGet, blobstore.PathPrefix+"missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlaybackBlobFailureEscalatesToIframe(t *testing.T) {
	env := newTestEnv(t)
	env.upstream.mu.Lock()
	env.upstream.media = http.StatusForbidden
	env.upstream.mu.Unlock()
	env.do(t, http.MethodPost, "/api/v1/videos/refresh", nil)

	src := decodeSource(t, env.do(t, http.MethodPost, "/api/v1/videos/1/playback/events", gin.H{"event": "media_error"}))
	assert.Equal(t, models.PlaybackIframe, src.Strategy)
	assert.Equal(t, []models.PlaybackStrategy{models.PlaybackNative, models.PlaybackBlob, models.PlaybackIframe}, src.Visited)
	assert.Zero(t, env.blobs.Len())
}

func TestPlaybackInvalidURL(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/videos/refresh", nil)

	src := decodeSource(t, env.do(t, http.MethodGet, "/api/v1/videos/3/playback", nil))
	assert.True(t, src.Unavailable)
	assert.Equal(t, playback.MessageInvalidURL, src.Message)
	assert.Empty(t, src.URL)

	src = decodeSource(t, env.do(t, http.MethodPost, "/api/v1/videos/3/playback/events", gin.H{"event": "media_error"}))
	assert.True(t, src.Unavailable)
}

func TestPlaybackUnknownVideo(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/videos/refresh", nil)

	w := env.do(t, http.MethodGet, "/api/v1/videos/42/playback", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthCheckReportsSessions(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/v1/jobs", nil)

	env.token = ""
	w := env.do(t, http.MethodGet, "/health", nil)
	var body struct {
		Sessions int `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Sessions)
}

func TestCloseSessionForgetsObservedJobs(t *testing.T) {
	env := newTestEnv(t)
	observe := func() int {
		w := env.do(t, http.MethodPost, "/api/v1/jobs", gin.H{"job_ids": []string{"a"}})
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		var resp struct {
			Started int `json:"started"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp.Started
	}

	assert.Equal(t, 1, observe())
	assert.Equal(t, 0, observe(), "already observed")

	w := env.do(t, http.MethodDelete, "/api/v1/session", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, 1, observe(), "a fresh session tracks the id again")
}

func TestOpenSessionWithoutCache(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/session", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestServerSessionRoundTrip(t *testing.T) {
	env := newRedisTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/session", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var scope *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			scope = c
		}
	}
	require.NotNil(t, scope)
	assert.True(t, scope.HttpOnly)

	// the scope alone identifies the caller
	env.token = ""
	env.cookie = &http.Cookie{Name: scope.Name, Value: scope.Value}
	w = env.do(t, http.MethodGet, "/api/v1/jobs", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodDelete, "/api/v1/session", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/jobs", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
