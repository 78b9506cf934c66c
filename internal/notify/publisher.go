package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/careops/hospital-scheduling/internal/scheduling"
	"github.com/careops/hospital-scheduling/pkg/logging"
)

// Publisher fans committed booking events out to resource-owning department
// channels over Redis pub/sub. Delivery is fire-and-forget: failures are
// logged and never reach the commit path.
type Publisher struct {
	client *redis.Client
	logger *logging.Logger
}

func NewPublisher(client *redis.Client, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{client: client, logger: logger}
}

// ChannelFor maps a resource kind to its department channel.
func ChannelFor(kind scheduling.ResourceKind) string {
	return fmt.Sprintf("dept:%s:bookings", kind)
}

func (p *Publisher) BookingCommitted(ctx context.Context, kind scheduling.ResourceKind, ev scheduling.BookingEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("notification marshal failed", "event_type", ev.EventType, "error", err)
		return
	}

	channel := ChannelFor(kind)
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Error("notification publish failed",
			"channel", channel, "event_type", ev.EventType, "booking_id", ev.BookingID, "error", err)
		return
	}

	p.logger.Debug("notification published", "channel", channel, "event_type", ev.EventType, "booking_id", ev.BookingID)
}
