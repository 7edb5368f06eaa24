package domain

import (
	"fmt"
	"strings"
)

// Channel represents the delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelChat  Channel = "chat"
	ChannelPush  Channel = "push"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelChat, ChannelPush:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Channels returns every supported channel.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelChat, ChannelPush}
}

// SendRequest is the immutable logical send order handed to the dispatcher.
type SendRequest struct {
	TenantID      string
	Channel       Channel
	Recipient     string
	TemplateID    *string
	Payload       map[string]any
	CorrelationID string
}

func (r SendRequest) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if strings.TrimSpace(r.Recipient) == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if !r.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, r.Channel)
	}
	return nil
}
