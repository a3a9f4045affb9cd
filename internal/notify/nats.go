package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/sgerhart/logwhisperer/internal/model"
	"github.com/sgerhart/logwhisperer/internal/publisher"
)

// NATS publishes the structured alert through an AlertPublisher
type NATS struct {
	publisher *publisher.AlertPublisher
}

// NewNATS wraps a publisher as a notifier
func NewNATS(p *publisher.AlertPublisher) *NATS {
	return &NATS{publisher: p}
}

func (n *NATS) Name() string {
	return "nats"
}

// Notify publishes a bare alert carrying only title and body
func (n *NATS) Notify(ctx context.Context, title, body string) error {
	return n.NotifyAlert(ctx, &model.Alert{
		ID:    uuid.NewString(),
		Title: title,
		Body:  body,
	})
}

func (n *NATS) NotifyAlert(ctx context.Context, alert *model.Alert) error {
	return n.publisher.Publish(ctx, alert)
}
