package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/antiprophet/studio/internal/backend"
	"github.com/antiprophet/studio/internal/blobstore"
	"github.com/antiprophet/studio/internal/cache"
	"github.com/antiprophet/studio/internal/logging"
	"github.com/antiprophet/studio/internal/middleware"
	"github.com/antiprophet/studio/internal/playback"
	"github.com/antiprophet/studio/internal/poller"
	"github.com/antiprophet/studio/internal/session"
	"github.com/antiprophet/studio/internal/studio"
	"github.com/antiprophet/studio/pkg/models"
)

// API serves the studio sessions over HTTP
type API struct {
	manager *studio.Manager
	blobs   *blobstore.Memory
	cache   *cache.Cache
	log     *logging.Logger
}

// sessionTTL bounds a server-side session scope
const sessionTTL = 24 * time.Hour

type observeRequest struct {
	JobIDs []string `json:"job_ids" binding:"required"`
}

type playbackEventRequest struct {
	Event string `json:"event" binding:"required"`
}

type selectRequest struct {
	Strategy models.PlaybackStrategy `json:"strategy" binding:"required"`
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	if api.cache != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := api.cache.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": api.manager.Len(),
	})
}

func (api *API) serveBlob(c *gin.Context) {
	if api.blobs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Blob not found"})
		return
	}
	blob, ok := api.blobs.Open(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Blob not found"})
		return
	}
	contentType := blob.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Cache-Control", "private, no-store")
	c.Data(http.StatusOK, contentType, blob.Data)
}

// session returns the caller's studio session, writing the error response
// when there is none.
func (api *API) session(c *gin.Context) (*studio.Session, session.AuthContext, bool) {
	auth, ok := middleware.GetAuth(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return nil, auth, false
	}
	s, err := api.manager.Session(auth.UserID)
	if err != nil {
		api.fail(c, err)
		return nil, auth, false
	}
	return s, auth, true
}

// openSession stores the caller's auth context under a new server-side
// scope and hands the scope out as a cookie
func (api *API) openSession(c *gin.Context) {
	auth, ok := middleware.GetAuth(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if api.cache == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Server sessions are disabled"})
		return
	}

	scope := uuid.New().String()
	values := map[string]string{
		session.KeyUserID:       auth.UserID,
		session.KeyIdeaID:       auth.ScriptID,
		session.KeyHeyGenAPIKey: auth.HeyGenAPIKey,
	}
	for key, value := range values {
		if value == "" {
			continue
		}
		if err := api.cache.SetSessionValue(c.Request.Context(), scope, key, value, sessionTTL); err != nil {
			api.log.ErrorWithErr("Failed to store session", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store session"})
			return
		}
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, scope, int(sessionTTL.Seconds()), "/", "", c.Request.TLS != nil, true)
	c.JSON(http.StatusCreated, gin.H{"user_id": auth.UserID})
}

// closeSession tears down the caller's studio session and forgets its
// server-side scope
func (api *API) closeSession(c *gin.Context) {
	auth, ok := middleware.GetAuth(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	api.manager.CloseSession(auth.UserID)

	if scope, err := c.Cookie(middleware.SessionCookie); err == nil && scope != "" {
		if api.cache != nil {
			if err := api.cache.DeleteSession(c.Request.Context(), scope); err != nil {
				api.log.WarnWithErr("Failed to drop session scope", err)
			}
		}
		c.SetCookie(middleware.SessionCookie, "", -1, "/", "", c.Request.TLS != nil, true)
	}
	c.Status(http.StatusNoContent)
}

func (api *API) listJobs(c *gin.Context) {
	s, _, ok := api.session(c)
	if !ok {
		return
	}
	jobs := s.Poller().Pending()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (api *API) observeJobs(c *gin.Context) {
	s, auth, ok := api.session(c)
	if !ok {
		return
	}

	var req observeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	started := s.Poller().ObserveRedirect(req.JobIDs, auth)
	c.JSON(http.StatusAccepted, gin.H{
		"started": started,
		"jobs":    s.Poller().Pending(),
	})
}

func (api *API) pollJob(c *gin.Context) {
	s, auth, ok := api.session(c)
	if !ok {
		return
	}

	jobID := c.Param("id")
	if err := s.Poller().Poll(jobID, auth); err != nil {
		api.fail(c, err)
		return
	}
	job, _ := s.Poller().Get(jobID)
	c.JSON(http.StatusAccepted, job)
}

func (api *API) dismissJob(c *gin.Context) {
	s, _, ok := api.session(c)
	if !ok {
		return
	}
	if !s.Poller().Dismiss(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (api *API) generateVideo(c *gin.Context) {
	s, auth, ok := api.session(c)
	if !ok {
		return
	}

	ids, err := s.Generate(c.Request.Context(), auth)
	if err != nil && len(ids) == 0 {
		api.fail(c, err)
		return
	}
	if err != nil {
		api.log.WithUserID(auth.UserID).WarnWithErr("Failed to track generated jobs", err)
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_ids": ids,
		"jobs":    s.Poller().Pending(),
	})
}

func (api *API) listVideos(c *gin.Context) {
	s, _, ok := api.session(c)
	if !ok {
		return
	}

	list := s.Videos()
	if !list.Loaded() && !list.Warm(c.Request.Context()) {
		if err := list.Refresh(c.Request.Context()); err != nil {
			api.fail(c, err)
			return
		}
	}

	order := models.ParseVideoSortOrder(c.DefaultQuery("sort", string(models.VideoSortLatest)))
	items := list.Snapshot(order)
	c.JSON(http.StatusOK, gin.H{
		"videos":       items,
		"count":        len(items),
		"sort":         order,
		"refreshed_at": list.RefreshedAt(),
	})
}

func (api *API) refreshVideos(c *gin.Context) {
	s, _, ok := api.session(c)
	if !ok {
		return
	}

	list := s.Videos()
	if err := list.Refresh(c.Request.Context()); err != nil {
		api.fail(c, err)
		return
	}
	items := list.Snapshot(models.VideoSortLatest)
	c.JSON(http.StatusOK, gin.H{
		"videos":       items,
		"count":        len(items),
		"refreshed_at": list.RefreshedAt(),
	})
}

func (api *API) deleteVideo(c *gin.Context) {
	s, _, ok := api.session(c)
	if !ok {
		return
	}
	id, ok := videoID(c)
	if !ok {
		return
	}

	if err := s.DeleteVideo(c.Request.Context(), id); err != nil {
		api.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (api *API) player(c *gin.Context) (*playback.Player, bool) {
	s, _, ok := api.session(c)
	if !ok {
		return nil, false
	}
	id, ok := videoID(c)
	if !ok {
		return nil, false
	}
	p, err := s.Player(id)
	if err != nil {
		api.fail(c, err)
		return nil, false
	}
	return p, true
}

func (api *API) getPlayback(c *gin.Context) {
	p, ok := api.player(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, p.Source())
}

func (api *API) playbackEvent(c *gin.Context) {
	p, ok := api.player(c)
	if !ok {
		return
	}

	var req playbackEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var err error
	switch strings.ToLower(req.Event) {
	case "media_error":
		err = p.ReportMediaError(c.Request.Context())
	case "iframe_error":
		err = p.ReportIframeError()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "event must be media_error or iframe_error"})
		return
	}
	if !api.playbackResult(c, err) {
		return
	}
	c.JSON(http.StatusOK, p.Source())
}

func (api *API) selectPlayback(c *gin.Context) {
	p, ok := api.player(c)
	if !ok {
		return
	}

	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := p.Select(c.Request.Context(), req.Strategy)
	if errors.Is(err, playback.ErrUnknownStrategy) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !api.playbackResult(c, err) {
		return
	}
	c.JSON(http.StatusOK, p.Source())
}

func (api *API) closePlayback(c *gin.Context) {
	s, _, ok := api.session(c)
	if !ok {
		return
	}
	id, ok := videoID(c)
	if !ok {
		return
	}
	if !s.ClosePlayer(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active player"})
		return
	}
	c.Status(http.StatusNoContent)
}

// playbackResult reports whether the handler should go on to render the
// source. Fallback failures are part of the source, not request errors.
func (api *API) playbackResult(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, playback.ErrClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "Player was closed"})
		return false
	default:
		api.log.WarnWithErr("Playback fallback step failed", err)
		return true
	}
}

func videoID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid video id"})
		return 0, false
	}
	return id, true
}

// fail maps domain errors to HTTP responses
func (api *API) fail(c *gin.Context, err error) {
	var statusErr *backend.StatusError

	switch {
	case errors.Is(err, session.ErrMissingUserID),
		errors.Is(err, poller.ErrEmptyJobID),
		errors.Is(err, backend.ErrEmptyUserID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, studio.ErrUserMismatch):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, studio.ErrVideoNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
	case errors.Is(err, poller.ErrJobFailed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, studio.ErrClosed), errors.Is(err, poller.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Studio is shutting down"})
	case errors.As(err, &statusErr), backend.IsParseError(err):
		api.log.WarnWithErr("Backend request failed", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		api.log.ErrorWithErr("Request failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
