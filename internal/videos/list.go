// Package videos holds the per-user video list shown by the studio.
package videos

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/antiprophet/studio/internal/logging"
	"github.com/antiprophet/studio/internal/metrics"
	"github.com/antiprophet/studio/pkg/models"
)

// Refresh triggers
const (
	TriggerManual       = "manual"
	TriggerJobCompleted = "job_completed"
	TriggerDeleted      = "deleted"
)

// Lister fetches the videos of a user
type Lister interface {
	ListVideos(ctx context.Context, userID string) ([]models.Video, error)
}

// SnapshotStore keeps the last fetched list across restarts
type SnapshotStore interface {
	SetVideoList(ctx context.Context, userID string, videos []models.Video, ttl time.Duration) error
	GetVideoList(ctx context.Context, userID string) ([]models.Video, bool, error)
	DeleteVideoList(ctx context.Context, userID string) error
}

// List is the video list of one user. Refreshes are not ordered against
// each other; whichever finishes last wins.
type List struct {
	userID string
	lister Lister
	store  SnapshotStore
	ttl    time.Duration
	log    *logging.Logger

	mu          sync.RWMutex
	videos      []models.Video
	refreshedAt time.Time
	loaded      bool
}

// New creates an empty list. store may be nil.
func New(userID string, lister Lister, store SnapshotStore, ttl time.Duration, logger *logging.Logger) *List {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &List{
		userID: userID,
		lister: lister,
		store:  store,
		ttl:    ttl,
		log:    logger.WithComponent("videos").WithUserID(userID),
	}
}

// Refresh refetches the list as a manual refresh
func (l *List) Refresh(ctx context.Context) error {
	return l.RefreshWith(ctx, TriggerManual)
}

// RefreshFunc returns a refresh bound to a trigger label
func (l *List) RefreshFunc(trigger string) func(context.Context) error {
	return func(ctx context.Context) error {
		return l.RefreshWith(ctx, trigger)
	}
}

// RefreshWith refetches the list and replaces the snapshot. On error the
// previous snapshot is kept.
func (l *List) RefreshWith(ctx context.Context, trigger string) error {
	videos, err := l.lister.ListVideos(ctx, l.userID)
	if err != nil {
		metrics.RecordVideoListRefresh(trigger, "error")
		l.log.WarnWithErr("Failed to refresh video list", err)
		return err
	}

	l.mu.Lock()
	l.videos = videos
	l.refreshedAt = time.Now()
	l.loaded = true
	l.mu.Unlock()

	metrics.RecordVideoListRefresh(trigger, "success")
	l.log.Debugf("Video list refreshed (%s): %d videos", trigger, len(videos))

	if l.store != nil {
		if err := l.store.SetVideoList(ctx, l.userID, videos, l.ttl); err != nil {
			l.log.WarnWithErr("Failed to cache video list", err)
		}
	}
	return nil
}

// Remove drops a deleted video from the list and forgets the stored
// snapshot, which still names it.
func (l *List) Remove(ctx context.Context, id int64) {
	l.mu.Lock()
	kept := make([]models.Video, 0, len(l.videos))
	for _, v := range l.videos {
		if v.ID != id {
			kept = append(kept, v)
		}
	}
	l.videos = kept
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.DeleteVideoList(ctx, l.userID); err != nil {
			l.log.WarnWithErr("Failed to drop cached video list", err)
		}
	}
}

// Warm seeds an unloaded list from the snapshot store
func (l *List) Warm(ctx context.Context) bool {
	if l.store == nil {
		return false
	}
	videos, ok, err := l.store.GetVideoList(ctx, l.userID)
	if err != nil {
		l.log.WarnWithErr("Failed to read cached video list", err)
		return false
	}
	if !ok {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return false
	}
	l.videos = videos
	l.loaded = true
	return true
}

// Snapshot returns a sorted copy of the list
func (l *List) Snapshot(order models.VideoSortOrder) []models.Video {
	l.mu.RLock()
	out := make([]models.Video, len(l.videos))
	copy(out, l.videos)
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if order == models.VideoSortOldest {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Find returns the video with the given id
func (l *List) Find(id int64) (models.Video, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, v := range l.videos {
		if v.ID == id {
			return v, true
		}
	}
	return models.Video{}, false
}

// RefreshedAt returns when the list was last fetched from the backend
func (l *List) RefreshedAt() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.refreshedAt
}

// Loaded reports whether the list holds a fetched or cached snapshot
func (l *List) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}
