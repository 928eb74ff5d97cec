package models

import "time"

// WebhookEndpoint is an outgoing webhook subscription
type WebhookEndpoint struct {
	URL    string         `json:"url" mapstructure:"url"`
	Secret string         `json:"-" mapstructure:"secret"`
	Events []JobEventType `json:"events" mapstructure:"events"`
}

// Subscribed reports whether the endpoint wants events of type t.
// An empty event list subscribes to everything.
func (e WebhookEndpoint) Subscribed(t JobEventType) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, ev := range e.Events {
		if ev == t {
			return true
		}
	}
	return false
}

// WebhookDelivery represents a webhook delivery attempt
type WebhookDelivery struct {
	ID           string       `json:"id"`
	URL          string       `json:"url"`
	Event        JobEventType `json:"event"`
	Payload      string       `json:"payload"`
	Status       string       `json:"status"`
	StatusCode   int          `json:"status_code"`
	ResponseBody string       `json:"response_body,omitempty"`
	RetryCount   int          `json:"retry_count"`
	NextRetryAt  *time.Time   `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// WebhookDeliveryStatus constants
const (
	WebhookDeliveryStatusPending   = "pending"
	WebhookDeliveryStatusDelivered = "delivered"
	WebhookDeliveryStatusFailed    = "failed"
)

// WebhookPayload represents the body sent to webhooks
type WebhookPayload struct {
	Event     JobEventType `json:"event"`
	Timestamp time.Time    `json:"timestamp"`
	Data      JobEvent     `json:"data"`
}
