// Package playback picks how a remote video is rendered. Each video
// instance starts with the native strategy and escalates to a blob object
// URL and then an embedded frame as earlier strategies fail.
package playback

import (
	"errors"
	"fmt"

	"github.com/antiprophet/studio/pkg/models"
)

// User-visible messages
const (
	MessageInvalidURL  = "invalid or missing video URL"
	MessageUnavailable = "video unavailable"
)

var (
	// ErrInvalidURL is returned for actions on a video without a usable URL
	ErrInvalidURL = errors.New("playback: " + MessageInvalidURL)
	// ErrUnknownStrategy is returned by Select for unknown strategies
	ErrUnknownStrategy = errors.New("playback: unknown strategy")
	// ErrClosed is returned after the player was closed
	ErrClosed = errors.New("playback: player closed")
	// ErrNotBlob is returned by LoadViaBlob outside the blob strategy
	ErrNotBlob = errors.New("playback: blob strategy is not active")
)

// Event is a failure signal from the rendering surface
type Event int

const (
	// MediaError is a media element error while rendering the current source
	MediaError Event = iota
	// BlobFailed means the object URL could not be fetched or created
	BlobFailed
	// IframeFailed means the embedded frame failed to load
	IframeFailed
)

func (e Event) String() string {
	switch e {
	case MediaError:
		return "media_error"
	case BlobFailed:
		return "blob_failed"
	case IframeFailed:
		return "iframe_failed"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Transition describes one state change
type Transition struct {
	From        models.PlaybackStrategy
	To          models.PlaybackStrategy
	Unavailable bool
	Reason      string
}

// Machine is the per-instance strategy state. It is not safe for
// concurrent use; Player serializes access.
type Machine struct {
	current     models.PlaybackStrategy
	attempted   map[models.PlaybackStrategy]bool
	visited     []models.PlaybackStrategy
	unavailable bool
	invalid     bool
}

// NewMachine starts in the native strategy, or directly in the terminal
// invalid state when rawURL is unusable.
func NewMachine(rawURL string) *Machine {
	m := &Machine{attempted: make(map[models.PlaybackStrategy]bool)}
	if !models.IsUsableURL(rawURL) {
		m.invalid = true
		m.unavailable = true
		return m
	}
	m.enter(models.PlaybackNative)
	return m
}

func (m *Machine) enter(s models.PlaybackStrategy) {
	m.current = s
	m.attempted[s] = true
	m.visited = append(m.visited, s)
	m.unavailable = false
}

// Current returns the active strategy; empty for an invalid URL
func (m *Machine) Current() models.PlaybackStrategy { return m.current }

// Unavailable reports whether no strategy is left
func (m *Machine) Unavailable() bool { return m.unavailable }

// Invalid reports whether the URL was rejected up front
func (m *Machine) Invalid() bool { return m.invalid }

// Message returns the user-visible message for the terminal states
func (m *Machine) Message() string {
	switch {
	case m.invalid:
		return MessageInvalidURL
	case m.unavailable:
		return MessageUnavailable
	}
	return ""
}

// Visited returns the strategies entered so far, in order
func (m *Machine) Visited() []models.PlaybackStrategy {
	out := make([]models.PlaybackStrategy, len(m.visited))
	copy(out, m.visited)
	return out
}

// applies reports whether ev is a failure of the current strategy. Events
// meant for another strategy are stale and ignored.
func (m *Machine) applies(ev Event) bool {
	switch ev {
	case MediaError:
		return true
	case BlobFailed:
		return m.current == models.PlaybackBlob
	case IframeFailed:
		return m.current == models.PlaybackIframe
	}
	return false
}

// Fire applies a failure event. It escalates to the next strategy not yet
// attempted, or to unavailable. ok is false when the event changed nothing.
func (m *Machine) Fire(ev Event) (Transition, bool) {
	if m.unavailable || !m.applies(ev) {
		return Transition{}, false
	}

	from := m.current
	if next, found := m.next(); found {
		m.enter(next)
		return Transition{From: from, To: next, Reason: ev.String()}, true
	}

	m.unavailable = true
	return Transition{From: from, To: from, Unavailable: true, Reason: ev.String()}, true
}

func (m *Machine) next() (models.PlaybackStrategy, bool) {
	past := false
	for _, s := range models.PlaybackStrategies {
		if s == m.current {
			past = true
			continue
		}
		if past && !m.attempted[s] {
			return s, true
		}
	}
	return "", false
}

// Select forces a strategy, including one already attempted. It is the
// only way back to an earlier strategy.
func (m *Machine) Select(s models.PlaybackStrategy) (Transition, error) {
	if m.invalid {
		return Transition{}, ErrInvalidURL
	}
	if !s.Valid() {
		return Transition{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
	from := m.current
	m.enter(s)
	return Transition{From: from, To: s, Reason: "manual"}, nil
}
