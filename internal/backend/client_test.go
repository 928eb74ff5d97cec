package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/antiprophet/studio/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewWithHTTPClient(server.URL+"/", &http.Client{Timeout: 5 * time.Second}, logging.NewNop())
}

func TestCheckVideoJobRequestBody(t *testing.T) {
	var received map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/upload-heygen-video", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"completed"}`))
	})

	resp, err := client.CheckVideoJob(context.Background(), CheckRequest{
		VideoIDs: []string{"vid-1"},
		UserID:   "12",
		ScriptID: "script-a",
		HeyGen:   &HeyGenCredentials{APIKey: "hg-key"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", resp.Status)

	assert.Equal(t, []interface{}{"vid-1"}, received["video_ids"])
	assert.Equal(t, float64(12), received["user_id"])
	assert.Equal(t, "script-a", received["script_id"])
	assert.Equal(t, map[string]interface{}{"apiKey": "hg-key"}, received["heygen"])
}

func TestCheckVideoJobOmitsHeyGenWithoutKey(t *testing.T) {
	var received map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	})

	_, err := client.CheckVideoJob(context.Background(), CheckRequest{VideoIDs: []string{"v"}, UserID: "1", ScriptID: "2"})
	require.NoError(t, err)
	_, present := received["heygen"]
	assert.False(t, present)
}

func TestCheckVideoJobProcessing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"results":[{"video_id":"other","status":"processing","message":"x"},{"video_id":"vid-1","status":"processing","message":"rendering 40%"}]}`))
	})

	resp, err := client.CheckVideoJob(context.Background(), CheckRequest{VideoIDs: []string{"vid-1"}, UserID: "1"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	result, ok := resp.ResultFor("vid-1")
	require.True(t, ok)
	assert.Equal(t, "rendering 40%", result.Message)

	first, ok := resp.ResultFor("unknown")
	require.True(t, ok)
	assert.Equal(t, "other", string(first.VideoID))
}

func TestCheckVideoJobProcessingMissingResults(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"data":[]}`))
	})

	resp, err := client.CheckVideoJob(context.Background(), CheckRequest{VideoIDs: []string{"vid-1"}, UserID: "1"})
	require.Error(t, err)
	assert.True(t, IsParseError(err))
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestCheckVideoJobServerError(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"error field", `{"error":"HeyGen quota exceeded"}`, "HeyGen quota exceeded"},
		{"message field", `{"message":"bad script"}`, "bad script"},
		{"unparsable", `<html>oops</html>`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(tt.body))
			})

			resp, err := client.CheckVideoJob(context.Background(), CheckRequest{VideoIDs: []string{"v"}, UserID: "1"})
			require.NoError(t, err)
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
			assert.Equal(t, tt.wantMsg, resp.Error)
		})
	}
}

func TestCheckVideoJobTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewWithHTTPClient(server.URL, &http.Client{Timeout: time.Second}, logging.NewNop())
	_, err := client.CheckVideoJob(context.Background(), CheckRequest{VideoIDs: []string{"v"}, UserID: "1"})
	require.Error(t, err)
	assert.False(t, IsParseError(err))
}

func TestListVideos(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCount int
		wantParse bool
	}{
		{"envelope", `{"videos":[{"id":1,"url":"a"},{"id":2,"url":"b"}]}`, 2, false},
		{"bare array", `[{"id":1,"url":"a"}]`, 1, false},
		{"empty envelope", `{"videos":[]}`, 0, false},
		{"data key", `{"data":[{"id":1}]}`, 0, true},
		{"scalar", `"nope"`, 0, true},
		{"empty", ``, 0, true},
		{"wrong types", `{"videos":[{"id":"abc"}]}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/videos/42", r.URL.Path)
				w.Write([]byte(tt.body))
			})

			videos, err := client.ListVideos(context.Background(), "42")
			if tt.wantParse {
				require.Error(t, err)
				var pe *ParseError
				assert.True(t, errors.As(err, &pe))
				return
			}
			require.NoError(t, err)
			assert.Len(t, videos, tt.wantCount)
		})
	}
}

func TestListVideosStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"user not found"}`))
	})

	_, err := client.ListVideos(context.Background(), "42")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "user not found", se.Message)
}

func TestListVideosRequiresUser(t *testing.T) {
	client := NewWithHTTPClient("http://unused", http.DefaultClient, logging.NewNop())
	_, err := client.ListVideos(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyUserID)
}

func TestGenerateVideo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate-video", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(3), body["user_id"])
		assert.Equal(t, float64(9), body["script_id"])
		w.Write([]byte(`{"video_id":"a1","video_ids":["a1","b2"]}`))
	})

	ids, err := client.GenerateVideo(context.Background(), "3", "9")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "b2"}, ids)
}

func TestGenerateVideoWithoutIDs(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	})

	_, err := client.GenerateVideo(context.Background(), "3", "9")
	assert.True(t, IsParseError(err))
}

func TestDeleteVideo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/videos/17", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.DeleteVideo(context.Background(), 17))
}
