// Package studio owns one session per signed-in user: the pending-job
// poller, the video list and the players of the videos being watched.
package studio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/antiprophet/studio/internal/backend"
	"github.com/antiprophet/studio/internal/blobstore"
	"github.com/antiprophet/studio/internal/config"
	"github.com/antiprophet/studio/internal/events"
	"github.com/antiprophet/studio/internal/logging"
	"github.com/antiprophet/studio/internal/playback"
	"github.com/antiprophet/studio/internal/poller"
	"github.com/antiprophet/studio/internal/session"
	"github.com/antiprophet/studio/internal/videos"
)

var (
	// ErrClosed is returned after the manager or session was closed
	ErrClosed = errors.New("studio: closed")
	// ErrVideoNotFound is returned for ids missing from the video list
	ErrVideoNotFound = errors.New("studio: video not found")
	// ErrUserMismatch is returned when auth belongs to another user
	ErrUserMismatch = errors.New("studio: auth context belongs to another user")
)

// Backend is the remote API a session talks to
type Backend interface {
	poller.Checker
	videos.Lister
	GenerateVideo(ctx context.Context, userID, scriptID string) ([]string, error)
	DeleteVideo(ctx context.Context, videoID int64) error
}

var _ Backend = (*backend.Client)(nil)

// Options configures a Manager
type Options struct {
	Poller      config.PollerConfig
	Backend     Backend
	Store       blobstore.Store
	Prober      *playback.Prober
	FetchClient *http.Client
	Notifier    events.Notifier
	Snapshots   videos.SnapshotStore
	SnapshotTTL time.Duration
	Clock       poller.Clock
	Logger      *logging.Logger
}

// Manager hands out one Session per user id
type Manager struct {
	opts Options
	log  *logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a manager
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = events.Nop
	}
	return &Manager{
		opts:     opts,
		log:      opts.Logger.WithComponent("studio"),
		sessions: make(map[string]*Session),
	}
}

// Session returns the session of userID, creating it on first use
func (m *Manager) Session(userID string) (*Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, session.ErrMissingUserID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if s, ok := m.sessions[userID]; ok {
		s.lastSeen = m.now()
		return s, nil
	}

	s := newSession(userID, m.opts)
	s.lastSeen = m.now()
	m.sessions[userID] = s
	m.log.WithUserID(userID).Info("Studio session opened")
	return s, nil
}

// Lookup returns an existing session
func (m *Manager) Lookup(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Len returns the number of open sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseSession tears down one user's session
func (m *Manager) CloseSession(userID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.Close()
	m.log.WithUserID(userID).Info("Studio session closed")
	return true
}

// Sweep closes sessions unused for idle that have no job still being
// checked, and returns how many were closed
func (m *Manager) Sweep(idle time.Duration) int {
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	var stale []*Session
	for userID, s := range m.sessions {
		if s.lastSeen.Before(cutoff) && !s.busy() {
			delete(m.sessions, userID)
			stale = append(stale, s)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.Close()
		m.log.WithUserID(s.userID).Info("Idle studio session closed")
	}
	return len(stale)
}

// Cleanup sweeps idle sessions until ctx is done
func (m *Manager) Cleanup(ctx context.Context, every, idle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(idle)
		}
	}
}

func (m *Manager) now() time.Time {
	if m.opts.Clock != nil {
		return m.opts.Clock.Now()
	}
	return time.Now()
}

// Close tears down every session
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close()
		}(s)
	}
	wg.Wait()
}

// Session is the studio state of one user
type Session struct {
	userID  string
	backend Backend
	opts    Options
	poller  *poller.Poller
	list    *videos.List
	log     *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// guarded by Manager.mu
	lastSeen time.Time

	mu      sync.Mutex
	players map[int64]*playerEntry
	closed  bool
}

type playerEntry struct {
	player *playback.Player
	url    string
}

func newSession(userID string, opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	list := videos.New(userID, opts.Backend, opts.Snapshots, opts.SnapshotTTL, opts.Logger)

	s := &Session{
		userID:  userID,
		backend: opts.Backend,
		opts:    opts,
		list:    list,
		log:     opts.Logger.WithComponent("studio").WithUserID(userID),
		ctx:     ctx,
		cancel:  cancel,
		players: make(map[int64]*playerEntry),
	}
	s.poller = poller.New(poller.Options{
		Config:    opts.Poller,
		Checker:   opts.Backend,
		Refresher: poller.RefresherFunc(list.RefreshFunc(videos.TriggerJobCompleted)),
		Notifier:  opts.Notifier,
		Clock:     opts.Clock,
		Logger:    opts.Logger.WithUserID(userID),
	})
	list.Warm(ctx)
	return s
}

// UserID returns the owner of the session
func (s *Session) UserID() string { return s.userID }

// Poller returns the pending-job tracker
func (s *Session) Poller() *poller.Poller { return s.poller }

// Videos returns the video list
func (s *Session) Videos() *videos.List { return s.list }

func (s *Session) checkAuth(auth session.AuthContext) error {
	if auth.UserID != s.userID {
		return ErrUserMismatch
	}
	return nil
}

// Generate asks the backend to render the current script and starts
// polling every returned job id.
func (s *Session) Generate(ctx context.Context, auth session.AuthContext) ([]string, error) {
	if err := s.checkAuth(auth); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, ErrClosed
	}

	ids, err := s.backend.GenerateVideo(ctx, auth.UserID, auth.ScriptID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := s.poller.Poll(id, auth); err != nil {
			return ids, fmt.Errorf("failed to track job %s: %w", id, err)
		}
	}
	return ids, nil
}

// DeleteVideo deletes one of the session's listed videos upstream, drops
// its player and refreshes the list.
func (s *Session) DeleteVideo(ctx context.Context, videoID int64) error {
	if s.isClosed() {
		return ErrClosed
	}
	if _, ok := s.list.Find(videoID); !ok {
		return ErrVideoNotFound
	}
	if err := s.backend.DeleteVideo(ctx, videoID); err != nil {
		return err
	}
	s.ClosePlayer(videoID)
	s.list.Remove(ctx, videoID)
	return s.list.RefreshWith(ctx, videos.TriggerDeleted)
}

// Player returns the player of a listed video. A player is rebuilt when
// the video's URL changed since it was created.
func (s *Session) Player(videoID int64) (*playback.Player, error) {
	video, ok := s.list.Find(videoID)
	if !ok {
		return nil, ErrVideoNotFound
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	old, ok := s.players[videoID]
	if ok && old.url == video.URL {
		s.mu.Unlock()
		return old.player, nil
	}
	p := playback.NewPlayer(video.ID, video.URL, playback.Options{
		Store:  s.opts.Store,
		Client: s.opts.FetchClient,
		Prober: s.opts.Prober,
		Logger: s.opts.Logger,
	})
	s.players[videoID] = &playerEntry{player: p, url: video.URL}
	s.wg.Add(1)
	s.mu.Unlock()

	if old != nil {
		old.player.Close()
	}

	go func() {
		defer s.wg.Done()
		p.Probe(s.ctx)
	}()
	return p, nil
}

// ClosePlayer tears down a video's player
func (s *Session) ClosePlayer(videoID int64) bool {
	s.mu.Lock()
	e, ok := s.players[videoID]
	delete(s.players, videoID)
	s.mu.Unlock()

	if ok {
		e.player.Close()
	}
	return ok
}

// Close stops polling and releases every player
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	players := s.players
	s.players = make(map[int64]*playerEntry)
	s.mu.Unlock()

	s.poller.Close()
	s.cancel()
	for _, e := range players {
		e.player.Close()
	}
	s.wg.Wait()
}

// busy reports whether any pending job is still being checked
func (s *Session) busy() bool {
	for _, job := range s.poller.Pending() {
		if s.poller.Active(job.JobID) {
			return true
		}
	}
	return false
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
