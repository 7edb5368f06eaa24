package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/relay-guard/internal/domain"
)

// DeadLetterMessage is the broker payload for an exhausted delivery.
type DeadLetterMessage struct {
	DeliveryID    string         `json:"deliveryId"`
	TenantID      string         `json:"tenantId"`
	Provider      string         `json:"provider"`
	Channel       domain.Channel `json:"channel"`
	CorrelationID string         `json:"correlationId,omitempty"`
	AttemptCount  int            `json:"attemptCount"`
	LastError     string         `json:"lastError,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

func (m DeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.DeliveryID) == "" {
		return fmt.Errorf("deliveryId is required")
	}
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("tenantId is required")
	}
	if strings.TrimSpace(m.Provider) == "" {
		return fmt.Errorf("provider is required")
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	return nil
}
