package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/relay-guard/internal/domain"
)

// DeadLetterSink receives deliveries whose retries are exhausted.
type DeadLetterSink interface {
	EnqueueDLQ(ctx context.Context, msg DeadLetterMessage) error
	Close() error
}

// DLQName returns the dead-letter queue name for a channel, e.g. dlq.email.
func DLQName(channel domain.Channel) string {
	return fmt.Sprintf("dlq.%s", strings.ToLower(channel.String()))
}

// DLQNames returns the dead-letter queue for every supported channel.
func DLQNames() []string {
	channels := domain.Channels()
	queues := make([]string, 0, len(channels))
	for _, channel := range channels {
		queues = append(queues, DLQName(channel))
	}
	return queues
}

func channelRoutingKey(channel domain.Channel) string {
	return strings.ToLower(channel.String())
}
