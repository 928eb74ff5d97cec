package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Video is one server-produced media asset. The studio never builds one
// itself; videos only arrive from the backend's list endpoint.
type Video struct {
	ID        int64     `json:"id"`
	ScriptID  OpaqueID  `json:"script_id"`
	URL       string    `json:"url"`
	SizeLabel string    `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// HasURL reports whether the video carries a usable resource locator.
func (v Video) HasURL() bool {
	return IsUsableURL(v.URL)
}

// IsUsableURL rejects empty locators and the literal "null"/"undefined"
// strings that leak out of loosely typed clients.
func IsUsableURL(raw string) bool {
	s := strings.TrimSpace(raw)
	if s == "" {
		return false
	}
	switch strings.ToLower(s) {
	case "null", "undefined":
		return false
	}
	return true
}

// OpaqueID is an identifier the backend may send either as a JSON string
// or as a JSON number. It is kept as text.
type OpaqueID string

// UnmarshalJSON implements json.Unmarshaler
func (id *OpaqueID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = OpaqueID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("opaque id must be a string or a number: %w", err)
	}
	*id = OpaqueID(n.String())
	return nil
}

// VideoSortOrder selects the ordering of a video list snapshot
type VideoSortOrder string

// VideoSortOrder constants
const (
	VideoSortLatest VideoSortOrder = "latest"
	VideoSortOldest VideoSortOrder = "oldest"
)

// ParseVideoSortOrder maps a query value to a sort order, defaulting to latest.
func ParseVideoSortOrder(s string) VideoSortOrder {
	if VideoSortOrder(strings.ToLower(s)) == VideoSortOldest {
		return VideoSortOldest
	}
	return VideoSortLatest
}
