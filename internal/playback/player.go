package playback

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/antiprophet/studio/internal/blobstore"
	"github.com/antiprophet/studio/internal/logging"
	"github.com/antiprophet/studio/internal/metrics"
	"github.com/antiprophet/studio/pkg/models"
)

// Options configures a Player
type Options struct {
	Store  blobstore.Store
	Client *http.Client // used for the blob fetch
	Prober *Prober      // nil disables the CORS probe
	Logger *logging.Logger
}

// objectURL is a created blob URL that is revoked at most once
type objectURL struct {
	url  string
	once sync.Once
}

// Player resolves the rendering of one video instance
type Player struct {
	videoID int64
	rawURL  string
	store   blobstore.Store
	client  *http.Client
	prober  *Prober
	log     *logging.Logger

	mu      sync.Mutex
	machine *Machine
	blob    *objectURL
	loadSeq uint64
	probe   models.ProbeStatus
	closed  bool
}

// NewPlayer creates a player for one video. An unusable URL leaves the
// player in its terminal invalid state; it will never touch the network.
func NewPlayer(videoID int64, rawURL string, opts Options) *Player {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	p := &Player{
		videoID: videoID,
		rawURL:  rawURL,
		store:   opts.Store,
		client:  client,
		prober:  opts.Prober,
		log:     logger.WithComponent("playback").WithVideoID(videoID),
		machine: NewMachine(rawURL),
	}
	if p.machine.Invalid() {
		metrics.RecordPlaybackUnavailable("invalid_url")
		p.log.Warn(MessageInvalidURL)
	}
	return p
}

// Source returns the current rendering
func (p *Player) Source() models.PlaybackSource {
	p.mu.Lock()
	defer p.mu.Unlock()

	src := models.PlaybackSource{
		VideoID:     p.videoID,
		Strategy:    p.machine.Current(),
		Unavailable: p.machine.Unavailable(),
		Message:     p.machine.Message(),
		Probe:       p.probe,
		Visited:     p.machine.Visited(),
	}
	if p.machine.Invalid() {
		return src
	}

	src.RawURL = p.rawURL
	if src.Unavailable {
		return src
	}
	switch src.Strategy {
	case models.PlaybackBlob:
		if p.blob != nil {
			src.URL = p.blob.url
		}
	default:
		src.URL = p.rawURL
	}
	return src
}

// ReportMediaError handles a media element error of the current source.
// Escalating into the blob strategy starts the blob load.
func (p *Player) ReportMediaError(ctx context.Context) error {
	to, err := p.fire(MediaError)
	if err != nil {
		return err
	}
	if to == models.PlaybackBlob {
		return p.LoadViaBlob(ctx)
	}
	return nil
}

// ReportIframeError handles a failed frame load
func (p *Player) ReportIframeError() error {
	_, err := p.fire(IframeFailed)
	return err
}

// fire applies ev and returns the strategy entered, if any
func (p *Player) fire(ev Event) (models.PlaybackStrategy, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}
	if p.machine.Invalid() {
		p.mu.Unlock()
		return "", ErrInvalidURL
	}

	t, ok := p.machine.Fire(ev)
	var stale *objectURL
	if ok && t.From == models.PlaybackBlob && (t.Unavailable || t.To != models.PlaybackBlob) {
		stale = p.detachBlob()
	}
	p.mu.Unlock()

	p.revoke(stale)
	if !ok {
		return "", nil
	}
	p.record(t)
	if t.Unavailable {
		return "", nil
	}
	return t.To, nil
}

// Select forces a strategy. Selecting blob (re)loads the object URL.
func (p *Player) Select(ctx context.Context, s models.PlaybackStrategy) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	t, err := p.machine.Select(s)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	var stale *objectURL
	if s != models.PlaybackBlob {
		stale = p.detachBlob()
	}
	p.mu.Unlock()

	p.revoke(stale)
	p.log.LogPlaybackTransition(p.videoID, string(t.From), string(t.To), t.Reason)
	if s == models.PlaybackBlob {
		return p.LoadViaBlob(ctx)
	}
	return nil
}

// LoadViaBlob fetches the video with a plain GET and renders it from a
// local object URL. A failure escalates to the next strategy.
func (p *Player) LoadViaBlob(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.machine.Invalid() {
		p.mu.Unlock()
		return ErrInvalidURL
	}
	if p.machine.Current() != models.PlaybackBlob || p.machine.Unavailable() {
		p.mu.Unlock()
		return ErrNotBlob
	}
	if p.store == nil {
		p.mu.Unlock()
		err := fmt.Errorf("playback: no object url store configured")
		if _, ferr := p.fire(BlobFailed); ferr != nil {
			return ferr
		}
		return err
	}
	p.loadSeq++
	seq := p.loadSeq
	p.mu.Unlock()

	created, err := p.fetchBlob(ctx)
	if err != nil {
		p.log.WarnWithErr("Blob fallback failed", err)
		p.mu.Lock()
		current := seq == p.loadSeq
		p.mu.Unlock()
		if current {
			if _, ferr := p.fire(BlobFailed); ferr != nil {
				return ferr
			}
		}
		return err
	}

	p.mu.Lock()
	if p.closed || seq != p.loadSeq || p.machine.Current() != models.PlaybackBlob || p.machine.Unavailable() {
		// superseded while fetching
		p.mu.Unlock()
		p.revoke(&objectURL{url: created})
		if p.isClosed() {
			return ErrClosed
		}
		return nil
	}
	stale := p.detachBlob()
	p.blob = &objectURL{url: created}
	p.mu.Unlock()

	p.revoke(stale)
	p.log.Debugf("Blob object url created: %s", created)
	return nil
}

func (p *Player) fetchBlob(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create blob request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("blob fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("blob fetch failed: HTTP error %d", resp.StatusCode)
	}

	created, err := p.store.Create(ctx, resp.Body, resp.ContentLength, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("failed to create object url: %w", err)
	}
	return created, nil
}

// Probe runs the CORS diagnostic for probed hosts. It returns the empty
// status when no probe applies and never changes the strategy.
func (p *Player) Probe(ctx context.Context) models.ProbeStatus {
	p.mu.Lock()
	if p.closed || p.machine.Invalid() || p.prober == nil || !p.prober.Matches(p.rawURL) {
		p.mu.Unlock()
		return models.ProbeNone
	}
	p.probe = models.ProbeChecking
	p.mu.Unlock()

	status := p.prober.Check(ctx, p.rawURL)
	if status != models.ProbeOK {
		p.log.Warnf("CORS probe found no Access-Control-Allow-Origin header for %s", p.rawURL)
	}

	p.mu.Lock()
	if !p.closed {
		p.probe = status
	}
	p.mu.Unlock()
	return status
}

// Close releases the object URL. The player is unusable afterwards.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	stale := p.detachBlob()
	p.mu.Unlock()

	p.revoke(stale)
}

func (p *Player) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// detachBlob must be called with mu held
func (p *Player) detachBlob() *objectURL {
	b := p.blob
	p.blob = nil
	return b
}

func (p *Player) revoke(b *objectURL) {
	if b == nil || p.store == nil {
		return
	}
	b.once.Do(func() {
		if err := p.store.Revoke(context.Background(), b.url); err != nil {
			p.log.WarnWithErr("Failed to revoke object url", err)
		}
	})
}

func (p *Player) record(t Transition) {
	if t.Unavailable {
		metrics.RecordPlaybackUnavailable("exhausted")
		p.log.LogPlaybackTransition(p.videoID, string(t.From), "unavailable", t.Reason)
		return
	}
	metrics.RecordPlaybackEscalation(string(t.From), string(t.To))
	p.log.LogPlaybackTransition(p.videoID, string(t.From), string(t.To), t.Reason)
}
