package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryStatus represents the lifecycle state of a delivery record.
type DeliveryStatus string

const (
	DeliveryQueued DeliveryStatus = "queued"
	DeliverySent   DeliveryStatus = "sent"
	DeliveryDLQ    DeliveryStatus = "dlq"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryQueued, DeliverySent, DeliveryDLQ:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliverySent || s == DeliveryDLQ
}

func ParseDeliveryStatusFromString(s string) (DeliveryStatus, error) {
	st := DeliveryStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery status %q", ErrValidation, s)
	}
	return st, nil
}

// Delivery is the persisted lifecycle record for one send request.
// It is owned exclusively by the dispatcher.
type Delivery struct {
	ID                string
	TenantID          string
	Provider          string
	Channel           Channel
	ConfigID          string
	Recipient         string
	TemplateID        *string
	Payload           map[string]any
	CorrelationID     string
	Status            DeliveryStatus
	ProviderMessageID *string
	LastError         *string
	AttemptCount      int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ChannelConfig is the active provider binding for a tenant+channel.
type ChannelConfig struct {
	ID       string
	TenantID string
	Channel  Channel
	Provider string
	Active   bool
}
