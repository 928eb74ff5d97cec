// Package poller tracks video-generation jobs until they show up in the
// user's video list. Each job id has at most one active poll chain; checks
// for one id run strictly one after another.
package poller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/antiprophet/studio/internal/backend"
	"github.com/antiprophet/studio/internal/config"
	"github.com/antiprophet/studio/internal/events"
	"github.com/antiprophet/studio/internal/logging"
	"github.com/antiprophet/studio/internal/metrics"
	"github.com/antiprophet/studio/internal/session"
	"github.com/antiprophet/studio/pkg/models"
)

const (
	// DefaultInterval is the delay between two checks of the same job
	DefaultInterval = 10 * time.Second

	// FallbackMessage is shown when the backend gives no failure reason
	FallbackMessage = "Failed to check video status"
	// GaveUpMessage is shown when a configured attempt or time bound is hit
	GaveUpMessage = "Stopped checking video status"
)

var (
	// ErrEmptyJobID is returned for blank job ids
	ErrEmptyJobID = errors.New("poller: empty job id")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("poller: closed")
	// ErrJobFailed is returned when polling a failed job that was not dismissed
	ErrJobFailed = errors.New("poller: job failed, dismiss it first")
)

// Checker performs one job status check
type Checker interface {
	CheckVideoJob(ctx context.Context, req backend.CheckRequest) (*backend.CheckResponse, error)
}

// Refresher reloads the video list after a job finished
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefresherFunc adapts a function to Refresher
type RefresherFunc func(ctx context.Context) error

// Refresh implements Refresher
func (f RefresherFunc) Refresh(ctx context.Context) error { return f(ctx) }

// Options configures a Poller
type Options struct {
	Config    config.PollerConfig
	Checker   Checker
	Refresher Refresher
	Notifier  events.Notifier
	Clock     Clock
	Logger    *logging.Logger
}

// chain is one live sequence of checks for a job id. gen is the liveness
// token: a callback carrying another gen is stale.
type chain struct {
	gen     uint64
	auth    session.AuthContext
	timer   Timer
	started time.Time
	// deferred chains wait for a check of an older chain to return
	deferred bool
}

// Poller owns the pending-job collection of one studio session
type Poller struct {
	cfg       config.PollerConfig
	checker   Checker
	refresher Refresher
	notifier  events.Notifier
	clock     Clock
	log       *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*models.PendingJob
	chains  map[string]*chain
	seen    map[string]struct{}
	// inflight holds the gen of the check currently running per job id
	inflight map[string]uint64
	nextGen uint64
	closed  bool
}

// New creates a poller
func New(opts Options) *Poller {
	cfg := opts.Config
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	clock := opts.Clock
	if clock == nil {
		clock = RealClock{}
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = events.Nop
	}
	refresher := opts.Refresher
	if refresher == nil {
		refresher = RefresherFunc(func(context.Context) error { return nil })
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		cfg:       cfg,
		checker:   opts.Checker,
		refresher: refresher,
		notifier:  notifier,
		clock:     clock,
		log:       logger.WithComponent("poller"),
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[string]*models.PendingJob),
		chains:    make(map[string]*chain),
		seen:      make(map[string]struct{}),
		inflight:  make(map[string]uint64),
	}
}

// Poll starts tracking jobID. It returns immediately; progress shows up in
// Pending and in emitted events. Calling Poll for a job that already has an
// active chain is a no-op.
func (p *Poller) Poll(jobID string, auth session.AuthContext) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return ErrEmptyJobID
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}

	var tracked *models.JobEvent
	job, ok := p.pending[jobID]
	switch {
	case !ok:
		job = &models.PendingJob{
			JobID:     jobID,
			Status:    models.JobStatusProcessing,
			UpdatedAt: p.clock.Now(),
		}
		p.pending[jobID] = job
		metrics.AddPendingJobs(1)
		ev := p.event(models.JobEventTracked, job, auth)
		tracked = &ev
	case job.Status == models.JobStatusFailed:
		p.mu.Unlock()
		return ErrJobFailed
	}

	if _, active := p.chains[jobID]; !active {
		p.nextGen++
		c := &chain{gen: p.nextGen, auth: auth, started: p.clock.Now()}
		p.chains[jobID] = c
		if _, busy := p.inflight[jobID]; busy {
			c.deferred = true
		} else {
			c.timer = p.clock.AfterFunc(0, p.fire(jobID, c.gen))
		}
	}
	p.mu.Unlock()

	if tracked != nil {
		p.log.WithJobID(jobID).WithUserID(auth.UserID).Info("Tracking video job")
		p.emit(*tracked)
	}
	return nil
}

// ObserveRedirect handles job ids handed over once on arrival. Ids seen
// before during the poller's lifetime are skipped. It returns how many
// chains were requested.
func (p *Poller) ObserveRedirect(jobIDs []string, auth session.AuthContext) int {
	started := 0
	for _, id := range jobIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}

		p.mu.Lock()
		_, dup := p.seen[id]
		if !dup {
			p.seen[id] = struct{}{}
		}
		p.mu.Unlock()

		if dup {
			continue
		}
		if err := p.Poll(id, auth); err == nil {
			started++
		}
	}
	return started
}

// Dismiss removes a job and invalidates its chain
func (p *Poller) Dismiss(jobID string) bool {
	p.mu.Lock()
	job, ok := p.pending[jobID]
	if !ok || p.closed {
		p.mu.Unlock()
		return false
	}
	delete(p.pending, jobID)
	auth := p.dropChain(jobID)
	metrics.AddPendingJobs(-1)
	ev := p.event(models.JobEventDismissed, job, auth)
	p.mu.Unlock()

	p.emit(ev)
	return true
}

// Get returns a copy of one pending job
func (p *Poller) Get(jobID string) (models.PendingJob, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.pending[jobID]
	if !ok {
		return models.PendingJob{}, false
	}
	return *job, true
}

// Pending returns a snapshot of tracked jobs ordered by job id
func (p *Poller) Pending() []models.PendingJob {
	p.mu.Lock()
	out := make([]models.PendingJob, 0, len(p.pending))
	for _, job := range p.pending {
		out = append(out, *job)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// Active reports whether a chain is live for jobID
func (p *Poller) Active(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.chains[jobID]
	return ok
}

// Close stops every chain and cancels in-flight checks. No state changes
// happen after Close returns.
func (p *Poller) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for id := range p.chains {
		p.dropChain(id)
	}
	metrics.AddPendingJobs(-len(p.pending))
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// dropChain must be called with mu held
func (p *Poller) dropChain(jobID string) session.AuthContext {
	c, ok := p.chains[jobID]
	if !ok {
		return session.AuthContext{}
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	delete(p.chains, jobID)
	return c.auth
}

// live must be called with mu held
func (p *Poller) live(jobID string, gen uint64) (*chain, bool) {
	if p.closed {
		return nil, false
	}
	c, ok := p.chains[jobID]
	if !ok || c.gen != gen {
		return nil, false
	}
	return c, true
}

// fire returns the timer callback for one check of a chain
func (p *Poller) fire(jobID string, gen uint64) func() {
	return func() {
		p.mu.Lock()
		if _, ok := p.live(jobID, gen); !ok {
			p.mu.Unlock()
			return
		}
		p.wg.Add(1)
		p.mu.Unlock()

		defer p.wg.Done()
		p.check(jobID, gen)
	}
}

func (p *Poller) check(jobID string, gen uint64) {
	p.mu.Lock()
	c, ok := p.live(jobID, gen)
	job := p.pending[jobID]
	if !ok || job == nil {
		p.mu.Unlock()
		return
	}
	c.timer = nil
	job.Attempts++
	auth := c.auth
	p.inflight[jobID] = gen
	p.mu.Unlock()

	req := backend.CheckRequest{
		VideoIDs: []string{jobID},
		UserID:   auth.UserID,
		ScriptID: auth.ScriptID,
	}
	if auth.HeyGenAPIKey != "" {
		req.HeyGen = &backend.HeyGenCredentials{APIKey: auth.HeyGenAPIKey}
	}

	ctx := p.ctx
	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}

	resp, err := p.checker.CheckVideoJob(ctx, req)
	p.handle(jobID, gen, resp, err)
}

func (p *Poller) handle(jobID string, gen uint64, resp *backend.CheckResponse, err error) {
	log := p.log.WithJobID(jobID)

	p.mu.Lock()
	p.releaseLocked(jobID, gen)
	c, ok := p.live(jobID, gen)
	job := p.pending[jobID]
	if !ok || job == nil {
		p.mu.Unlock()
		metrics.RecordJobPoll("stale")
		return
	}
	auth := c.auth
	job.UpdatedAt = p.clock.Now()

	if resp == nil {
		// transport failure
		p.failLocked(jobID, job, FallbackMessage)
		ev := p.event(models.JobEventFailed, job, auth)
		p.mu.Unlock()

		metrics.RecordJobPoll("error")
		log.WarnWithErr("Video status check failed", err)
		p.emit(ev)
		return
	}

	switch resp.StatusCode {
	case http.StatusOK:
		delete(p.pending, jobID)
		p.dropChain(jobID)
		metrics.AddPendingJobs(-1)
		job.Status = models.JobStatusCompleted
		removed := p.event(models.JobEventRemoved, job, auth)
		completed := resp.Status == string(models.JobStatusCompleted) && err == nil
		p.mu.Unlock()

		metrics.RecordJobPoll("completed")
		metrics.RecordJobTerminal("removed")
		if err != nil {
			log.WarnWithErr("Unreadable completion body", err)
		}
		if rerr := p.refresher.Refresh(p.ctx); rerr != nil {
			log.WarnWithErr("Video list refresh after completion failed", rerr)
		}
		p.emit(removed)
		if completed {
			ev := removed
			ev.Type = models.JobEventCompleted
			p.emit(ev)
		}

	case http.StatusAccepted:
		if err == nil {
			if result, found := resp.ResultFor(jobID); found {
				job.Status = models.ParseJobStatus(result.Status)
				if job.Status == models.JobStatusCompleted {
					// only a 200 ends tracking
					job.Status = models.JobStatusProcessing
				}
				if result.Message != "" {
					job.Message = result.Message
				}
			}
		} else {
			log.WarnWithErr("Unreadable progress body", err)
		}

		if job.Status == models.JobStatusFailed {
			msg := job.Message
			if msg == "" {
				msg = FallbackMessage
			}
			p.failLocked(jobID, job, msg)
			ev := p.event(models.JobEventFailed, job, auth)
			p.mu.Unlock()

			metrics.RecordJobPoll("failed")
			p.emit(ev)
			return
		}

		if p.exhausted(c, job) {
			p.failLocked(jobID, job, GaveUpMessage)
			ev := p.event(models.JobEventFailed, job, auth)
			p.mu.Unlock()

			metrics.RecordJobPoll("exhausted")
			log.Warnf("Giving up on video job after %d attempts", job.Attempts)
			p.emit(ev)
			return
		}

		c.timer = p.clock.AfterFunc(p.cfg.Interval, p.fire(jobID, gen))
		ev := p.event(models.JobEventProgress, job, auth)
		p.mu.Unlock()

		metrics.RecordJobPoll("processing")
		p.emit(ev)

	default:
		msg := resp.Error
		if msg == "" {
			msg = FallbackMessage
		}
		p.failLocked(jobID, job, msg)
		ev := p.event(models.JobEventFailed, job, auth)
		p.mu.Unlock()

		metrics.RecordJobPoll("failed")
		log.Warnf("Video job failed with HTTP %d: %s", resp.StatusCode, msg)
		p.emit(ev)
	}
}

// releaseLocked clears the in-flight mark of gen and starts a chain that
// was created while that check was running. mu must be held.
func (p *Poller) releaseLocked(jobID string, gen uint64) {
	if cur, ok := p.inflight[jobID]; !ok || cur != gen {
		return
	}
	delete(p.inflight, jobID)
	if p.closed {
		return
	}
	if c, ok := p.chains[jobID]; ok && c.deferred {
		c.deferred = false
		c.timer = p.clock.AfterFunc(0, p.fire(jobID, c.gen))
	}
}

// exhausted must be called with mu held
func (p *Poller) exhausted(c *chain, job *models.PendingJob) bool {
	if p.cfg.MaxAttempts > 0 && job.Attempts >= p.cfg.MaxAttempts {
		return true
	}
	if p.cfg.Deadline > 0 && p.clock.Now().Sub(c.started) >= p.cfg.Deadline {
		return true
	}
	return false
}

// failLocked must be called with mu held
func (p *Poller) failLocked(jobID string, job *models.PendingJob, msg string) {
	job.Status = models.JobStatusFailed
	job.Message = msg
	p.dropChain(jobID)
	metrics.RecordJobTerminal(string(models.JobStatusFailed))
}

func (p *Poller) event(t models.JobEventType, job *models.PendingJob, auth session.AuthContext) models.JobEvent {
	return models.JobEvent{
		Type:      t,
		JobID:     job.JobID,
		UserID:    auth.UserID,
		Status:    job.Status,
		Message:   job.Message,
		Timestamp: p.clock.Now(),
	}
}

func (p *Poller) emit(ev models.JobEvent) {
	if err := p.notifier.Notify(p.ctx, ev); err != nil {
		p.log.WithJobID(ev.JobID).WarnWithErr(fmt.Sprintf("Failed to deliver %s", ev.Type), err)
	}
}
