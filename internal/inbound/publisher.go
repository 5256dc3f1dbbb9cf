package inbound

import (
	"context"
	"fmt"

	"github.com/wolfman30/leadstitch/pkg/logging"
)

// Publisher enqueues normalized messages for the inbound worker.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("inbound: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// Enqueue validates msg and sends it to the queue.
func (p *Publisher) Enqueue(ctx context.Context, msg Message) error {
	if err := msg.Normalize(); err != nil {
		return err
	}
	body, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("inbound: failed to enqueue message: %w", err)
	}
	p.logger.Debug("inbound message enqueued", "message_id", msg.ID, "direction", msg.Direction)
	return nil
}
