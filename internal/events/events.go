// Package events fans job lifecycle events out to the configured sinks.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/antiprophet/studio/internal/logging"
	"github.com/antiprophet/studio/internal/metrics"
	"github.com/antiprophet/studio/pkg/models"
)

// Notifier receives job events
type Notifier interface {
	Notify(ctx context.Context, event models.JobEvent) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, event models.JobEvent) error

// Notify implements Notifier
func (f NotifierFunc) Notify(ctx context.Context, event models.JobEvent) error {
	return f(ctx, event)
}

// Nop drops every event
var Nop Notifier = NotifierFunc(func(context.Context, models.JobEvent) error { return nil })

// Sink is a named notifier, named for metrics
type Sink struct {
	Name     string
	Notifier Notifier
}

// Multi delivers each event to every sink, in order. A failing sink does not
// stop delivery to the others; the errors are joined.
type Multi struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewMulti creates a fan-out over sinks
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Add registers another sink
func (m *Multi) Add(name string, n Notifier) {
	m.mu.Lock()
	m.sinks = append(m.sinks, Sink{Name: name, Notifier: n})
	m.mu.Unlock()
}

// Len returns the number of sinks
func (m *Multi) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sinks)
}

// Notify implements Notifier
func (m *Multi) Notify(ctx context.Context, event models.JobEvent) error {
	m.mu.RLock()
	sinks := make([]Sink, len(m.sinks))
	copy(sinks, m.sinks)
	m.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		err := s.Notifier.Notify(ctx, event)
		metrics.RecordNotification(s.Name, err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes every event to the structured log
type LogNotifier struct {
	log *logging.Logger
}

// NewLogNotifier creates a log sink
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	return &LogNotifier{log: logger.WithComponent("events")}
}

// Notify implements Notifier
func (n *LogNotifier) Notify(_ context.Context, event models.JobEvent) error {
	details := map[string]interface{}{"user_id": event.UserID}
	if event.Message != "" {
		details["message"] = event.Message
	}
	n.log.LogJobEvent(event.JobID, string(event.Type), string(event.Status), details)
	return nil
}
