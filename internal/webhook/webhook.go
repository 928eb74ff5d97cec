package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antiprophet/studio/internal/config"
	"github.com/antiprophet/studio/internal/logging"
	"github.com/antiprophet/studio/pkg/models"
)

const maxResponseBody = 4096

// Repository defines the interface for webhook delivery bookkeeping
type Repository interface {
	CreateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error
	UpdateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error
	GetPendingDeliveries(ctx context.Context, limit int) ([]*models.WebhookDelivery, error)
}

// Service handles webhook delivery and retry logic
type Service struct {
	client      *http.Client
	repo        Repository
	endpoints   []models.WebhookEndpoint
	retryDelays []time.Duration
	log         *logging.Logger
	wg          sync.WaitGroup
}

// NewService creates a new webhook service
func NewService(cfg config.WebhookConfig, repo Repository, logger *logging.Logger) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		client:      &http.Client{Timeout: timeout},
		repo:        repo,
		endpoints:   cfg.Endpoints,
		retryDelays: cfg.RetryDelays,
		log:         logger.WithComponent("webhook"),
	}
}

// Notify queues a delivery of event to every subscribed endpoint
func (s *Service) Notify(ctx context.Context, event models.JobEvent) error {
	payload := models.WebhookPayload{
		Event:     event.Type,
		Timestamp: time.Now(),
		Data:      event,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	for _, endpoint := range s.endpoints {
		if !endpoint.Subscribed(event.Type) {
			continue
		}

		delivery := &models.WebhookDelivery{
			ID:        uuid.New().String(),
			URL:       endpoint.URL,
			Event:     event.Type,
			Payload:   string(payloadBytes),
			Status:    models.WebhookDeliveryStatusPending,
			CreatedAt: time.Now(),
		}

		if err := s.repo.CreateDelivery(ctx, delivery); err != nil {
			s.log.WarnWithErr("Failed to create delivery", err)
			continue
		}

		// Attempt immediate delivery in background
		s.wg.Add(1)
		go func(endpoint models.WebhookEndpoint, delivery *models.WebhookDelivery) {
			defer s.wg.Done()
			s.deliver(context.Background(), endpoint, delivery)
		}(endpoint, delivery)
	}

	return nil
}

// Wait blocks until background deliveries finished
func (s *Service) Wait() {
	s.wg.Wait()
}

// deliver attempts to deliver a webhook
func (s *Service) deliver(ctx context.Context, endpoint models.WebhookEndpoint, delivery *models.WebhookDelivery) {
	payload := []byte(delivery.Payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		s.markDeliveryFailed(ctx, delivery, 0, fmt.Sprintf("Failed to create request: %v", err))
		return
	}

	// Set headers
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Studio-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", string(delivery.Event))
	req.Header.Set("X-Webhook-Delivery", delivery.ID)

	// Add HMAC signature if secret is configured
	if endpoint.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(payload, endpoint.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.markDeliveryFailed(ctx, delivery, 0, fmt.Sprintf("Failed to send request: %v", err))
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		delivery.Status = models.WebhookDeliveryStatusDelivered
		delivery.StatusCode = resp.StatusCode
		delivery.ResponseBody = string(body)
		delivery.NextRetryAt = nil
		now := time.Now()
		delivery.CompletedAt = &now

		if err := s.repo.UpdateDelivery(ctx, delivery); err != nil {
			s.log.WarnWithErr("Failed to update delivery", err)
		}
		return
	}

	s.markDeliveryFailed(ctx, delivery, resp.StatusCode, string(body))
}

// markDeliveryFailed marks a delivery as failed and schedules retry
func (s *Service) markDeliveryFailed(ctx context.Context, delivery *models.WebhookDelivery, statusCode int, responseBody string) {
	delivery.StatusCode = statusCode
	delivery.ResponseBody = responseBody
	delivery.RetryCount++

	if delivery.RetryCount <= len(s.retryDelays) {
		nextRetry := time.Now().Add(s.retryDelays[delivery.RetryCount-1])
		delivery.NextRetryAt = &nextRetry
		delivery.Status = models.WebhookDeliveryStatusPending
	} else {
		// Max retries exceeded
		delivery.Status = models.WebhookDeliveryStatusFailed
		delivery.NextRetryAt = nil
		now := time.Now()
		delivery.CompletedAt = &now
	}

	s.log.WithField("delivery_id", delivery.ID).
		WithField("status_code", statusCode).
		Warnf("Webhook delivery to %s failed (attempt %d)", delivery.URL, delivery.RetryCount)

	if err := s.repo.UpdateDelivery(ctx, delivery); err != nil {
		s.log.WarnWithErr("Failed to update delivery", err)
	}
}

// Sign generates the HMAC-SHA256 signature header value for a payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// RetryWorker processes pending webhook deliveries until ctx is done
func (s *Service) RetryWorker(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Wait()
			return
		case <-ticker.C:
			s.retryPendingDeliveries(ctx, time.Now())
		}
	}
}

// retryPendingDeliveries retries deliveries whose retry time has come
func (s *Service) retryPendingDeliveries(ctx context.Context, now time.Time) int {
	deliveries, err := s.repo.GetPendingDeliveries(ctx, 100)
	if err != nil {
		s.log.WarnWithErr("Failed to get pending deliveries", err)
		return 0
	}

	retried := 0
	for _, delivery := range deliveries {
		// Skip if not ready for retry
		if delivery.NextRetryAt == nil || now.Before(*delivery.NextRetryAt) {
			continue
		}

		endpoint, ok := s.endpoint(delivery.URL)
		if !ok {
			continue
		}

		retried++
		s.wg.Add(1)
		go func(delivery *models.WebhookDelivery) {
			defer s.wg.Done()
			s.deliver(context.Background(), endpoint, delivery)
		}(delivery)
	}
	return retried
}

func (s *Service) endpoint(url string) (models.WebhookEndpoint, bool) {
	for _, e := range s.endpoints {
		if e.URL == url {
			return e, true
		}
	}
	return models.WebhookEndpoint{}, false
}

// MemoryRepository keeps the delivery log in memory
type MemoryRepository struct {
	mu         sync.Mutex
	deliveries map[string]*models.WebhookDelivery
}

// NewMemoryRepository creates an empty delivery log
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{deliveries: make(map[string]*models.WebhookDelivery)}
}

// CreateDelivery implements Repository
func (r *MemoryRepository) CreateDelivery(_ context.Context, delivery *models.WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.deliveries[delivery.ID]; exists {
		return fmt.Errorf("delivery %s already exists", delivery.ID)
	}
	cp := *delivery
	r.deliveries[delivery.ID] = &cp
	return nil
}

// UpdateDelivery implements Repository
func (r *MemoryRepository) UpdateDelivery(_ context.Context, delivery *models.WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.deliveries[delivery.ID]; !exists {
		return fmt.Errorf("delivery %s not found", delivery.ID)
	}
	cp := *delivery
	r.deliveries[delivery.ID] = &cp
	return nil
}

// GetPendingDeliveries implements Repository
func (r *MemoryRepository) GetPendingDeliveries(_ context.Context, limit int) ([]*models.WebhookDelivery, error) {
	all := r.List()
	var out []*models.WebhookDelivery
	for i := range all {
		if all[i].Status != models.WebhookDeliveryStatusPending {
			continue
		}
		d := all[i]
		out = append(out, &d)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// List returns copies of every delivery, oldest first
func (r *MemoryRepository) List() []models.WebhookDelivery {
	r.mu.Lock()
	out := make([]models.WebhookDelivery, 0, len(r.deliveries))
	for _, d := range r.deliveries {
		out = append(out, *d)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
