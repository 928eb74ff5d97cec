package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/antiprophet/studio/internal/config"
	"github.com/antiprophet/studio/internal/logging"
	"github.com/antiprophet/studio/internal/metrics"
	"github.com/antiprophet/studio/internal/tracing"
	"github.com/antiprophet/studio/pkg/models"
)

const (
	maxResponseSize = 4 * 1024 * 1024

	checkVideoJobPath = "/upload-heygen-video"
	generateVideoPath = "/generate-video"
)

// Client talks to the remote REST backend
type Client struct {
	baseURL string
	client  *http.Client
	log     *logging.Logger
}

// New creates a new backend client
func New(cfg config.BackendConfig, logger *logging.Logger) *Client {
	return NewWithHTTPClient(cfg.BaseURL, &http.Client{Timeout: cfg.Timeout}, logger)
}

// NewWithHTTPClient creates a backend client around an existing http.Client
func NewWithHTTPClient(baseURL string, hc *http.Client, logger *logging.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  hc,
		log:     logger.WithComponent("backend"),
	}
}

// wireID is sent as a JSON number when it looks like one. The backend keys
// users and scripts by integer ids, while the studio keeps them as text.
type wireID string

func (id wireID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// HeyGenCredentials carries the user's own video API key
type HeyGenCredentials struct {
	APIKey string `json:"apiKey"`
}

// CheckRequest asks the backend to check (and advance) video jobs
type CheckRequest struct {
	VideoIDs []string
	UserID   string
	ScriptID string
	HeyGen   *HeyGenCredentials
}

func (r CheckRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		VideoIDs []string           `json:"video_ids"`
		UserID   wireID             `json:"user_id"`
		ScriptID wireID             `json:"script_id"`
		HeyGen   *HeyGenCredentials `json:"heygen,omitempty"`
	}{r.VideoIDs, wireID(r.UserID), wireID(r.ScriptID), r.HeyGen})
}

// CheckResponse is the decoded answer of a job status check. Which fields
// are set depends on StatusCode: Status for 200, Results for 202 and
// Error for anything else.
type CheckResponse struct {
	StatusCode int
	Status     string
	Results    []models.JobResult
	Error      string
}

// ResultFor returns the in-progress entry for jobID, falling back to the
// first entry when the backend does not echo ids.
func (r *CheckResponse) ResultFor(jobID string) (models.JobResult, bool) {
	for _, res := range r.Results {
		if string(res.VideoID) == jobID {
			return res, true
		}
	}
	if len(r.Results) > 0 {
		return r.Results[0], true
	}
	return models.JobResult{}, false
}

// CheckVideoJob issues one status check. Transport failures are returned as
// errors. Any HTTP answer yields a CheckResponse; a 200 or 202 body that does
// not match its schema is additionally reported as a *ParseError.
func (c *Client) CheckVideoJob(ctx context.Context, req CheckRequest) (*CheckResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal check request: %w", err)
	}

	status, body, err := c.do(ctx, "check_video_job", http.MethodPost, checkVideoJobPath, payload)
	if err != nil {
		return nil, err
	}

	resp := &CheckResponse{StatusCode: status}
	switch status {
	case http.StatusOK:
		var out struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return resp, &ParseError{Operation: "check_video_job", StatusCode: status, Reason: "invalid completion body", Err: err}
		}
		resp.Status = out.Status
	case http.StatusAccepted:
		var out struct {
			Results *[]models.JobResult `json:"results"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return resp, &ParseError{Operation: "check_video_job", StatusCode: status, Reason: "invalid progress body", Err: err}
		}
		if out.Results == nil {
			return resp, &ParseError{Operation: "check_video_job", StatusCode: status, Reason: "missing results field"}
		}
		resp.Results = *out.Results
	default:
		resp.Error = errorMessage(body)
	}

	return resp, nil
}

// ListVideos fetches every video of a user. The backend answers either with
// {"videos": [...]} or with a bare array; anything else is a *ParseError.
func (c *Client) ListVideos(ctx context.Context, userID string) ([]models.Video, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	path := "/videos/" + url.PathEscape(userID)
	status, body, err := c.do(ctx, "list_videos", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &StatusError{Operation: "list_videos", StatusCode: status, Message: errorMessage(body)}
	}

	return decodeVideoList(status, body)
}

func decodeVideoList(status int, body []byte) ([]models.Video, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &ParseError{Operation: "list_videos", StatusCode: status, Reason: "empty body"}
	}

	switch trimmed[0] {
	case '[':
		var videos []models.Video
		if err := json.Unmarshal(trimmed, &videos); err != nil {
			return nil, &ParseError{Operation: "list_videos", StatusCode: status, Reason: "invalid video array", Err: err}
		}
		return videos, nil
	case '{':
		var env struct {
			Videos *[]models.Video `json:"videos"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, &ParseError{Operation: "list_videos", StatusCode: status, Reason: "invalid video envelope", Err: err}
		}
		if env.Videos == nil {
			return nil, &ParseError{Operation: "list_videos", StatusCode: status, Reason: "missing videos field"}
		}
		return *env.Videos, nil
	default:
		return nil, &ParseError{Operation: "list_videos", StatusCode: status, Reason: "expected object or array"}
	}
}

// GenerateVideo asks the backend to render a video for a script and returns
// the job ids to poll.
func (c *Client) GenerateVideo(ctx context.Context, userID, scriptID string) ([]string, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	payload, err := json.Marshal(struct {
		UserID   wireID `json:"user_id"`
		ScriptID wireID `json:"script_id"`
	}{wireID(userID), wireID(scriptID)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	status, body, err := c.do(ctx, "generate_video", http.MethodPost, generateVideoPath, payload)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &StatusError{Operation: "generate_video", StatusCode: status, Message: errorMessage(body)}
	}

	var out struct {
		VideoID  models.OpaqueID   `json:"video_id"`
		VideoIDs []models.OpaqueID `json:"video_ids"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &ParseError{Operation: "generate_video", StatusCode: status, Reason: "invalid body", Err: err}
	}

	var ids []string
	if out.VideoID != "" {
		ids = append(ids, string(out.VideoID))
	}
	for _, id := range out.VideoIDs {
		if id != "" && string(id) != string(out.VideoID) {
			ids = append(ids, string(id))
		}
	}
	if len(ids) == 0 {
		return nil, &ParseError{Operation: "generate_video", StatusCode: status, Reason: "no video ids in response"}
	}
	return ids, nil
}

// DeleteVideo removes a video upstream
func (c *Client) DeleteVideo(ctx context.Context, videoID int64) error {
	path := "/videos/" + strconv.FormatInt(videoID, 10)
	status, body, err := c.do(ctx, "delete_video", http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &StatusError{Operation: "delete_video", StatusCode: status, Message: errorMessage(body)}
	}
	return nil
}

// do performs one request and returns the status code and the (bounded) body
func (c *Client) do(ctx context.Context, operation, method, path string, payload []byte) (int, []byte, error) {
	target := c.baseURL + path

	span, ctx := tracing.StartClientSpan(ctx, "backend."+operation, method, target)
	defer tracing.FinishSpan(span)

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		tracing.LogError(span, err)
		return 0, nil, fmt.Errorf("%s: failed to create request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.LogBackendCall(method, path, 0, time.Since(start), err)
		metrics.RecordBackendRequest(operation, "error", time.Since(start).Seconds())
		tracing.LogError(span, err)
		return 0, nil, fmt.Errorf("%s: request failed: %w", operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	duration := time.Since(start)
	c.log.LogBackendCall(method, path, resp.StatusCode, duration, err)
	metrics.RecordBackendRequest(operation, strconv.Itoa(resp.StatusCode), duration.Seconds())
	tracing.SetTag(span, "http.status_code", resp.StatusCode)
	if err != nil {
		tracing.LogError(span, err)
		return resp.StatusCode, nil, fmt.Errorf("%s: failed to read response: %w", operation, err)
	}

	return resp.StatusCode, body, nil
}

// errorMessage extracts {"error": ...} or {"message": ...} from a failure
// body. An unparsable body yields an empty string.
func errorMessage(body []byte) string {
	var out struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return ""
	}
	if out.Error != "" {
		return out.Error
	}
	return out.Message
}
