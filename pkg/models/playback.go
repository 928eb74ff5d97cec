package models

// PlaybackStrategy is one technique for rendering a remote video
type PlaybackStrategy string

// PlaybackStrategy constants, in escalation order
const (
	PlaybackNative PlaybackStrategy = "native"
	PlaybackBlob   PlaybackStrategy = "blob"
	PlaybackIframe PlaybackStrategy = "iframe"
)

// PlaybackStrategies lists the strategies in escalation order
var PlaybackStrategies = []PlaybackStrategy{PlaybackNative, PlaybackBlob, PlaybackIframe}

// Valid reports whether s names a known strategy
func (s PlaybackStrategy) Valid() bool {
	switch s {
	case PlaybackNative, PlaybackBlob, PlaybackIframe:
		return true
	}
	return false
}

// ProbeStatus is the outcome of the CORS diagnostic probe
type ProbeStatus string

// ProbeStatus constants. The empty value means no probe applies.
const (
	ProbeNone     ProbeStatus = ""
	ProbeChecking ProbeStatus = "checking"
	ProbeOK       ProbeStatus = "ok"
	ProbeError    ProbeStatus = "error"
)

// PlaybackSource describes how a video should currently be rendered
type PlaybackSource struct {
	VideoID     int64              `json:"video_id"`
	Strategy    PlaybackStrategy   `json:"strategy"`
	URL         string             `json:"url,omitempty"`
	RawURL      string             `json:"raw_url,omitempty"`
	Unavailable bool               `json:"unavailable"`
	Message     string             `json:"message,omitempty"`
	Probe       ProbeStatus        `json:"probe,omitempty"`
	Visited     []PlaybackStrategy `json:"visited"`
}
