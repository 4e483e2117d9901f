package service

import (
	"context"
	"fmt"

	"vita-be/internal/pkg/logger"
	"vita-be/pkg/events"
	pktNats "vita-be/pkg/nats"
)

const (
	NoticeIngestCompleted = "ingest_completed"
	NoticeIngestFailed    = "ingest_failed"

	notificationDurable = "vita-notification-worker"
)

// NotificationDelivery pushes notices to connected clients.
// Typically implemented by the WebSocket Hub.
type NotificationDelivery interface {
	Notify(kind string, payload map[string]interface{})
}

// EventSubscriber is satisfied by *pktNats.Subscriber.
type EventSubscriber interface {
	Subscribe(ctx context.Context, subject, durableName string, handler pktNats.EventHandler) error
}

// NotificationService relays ingestion outcomes from the event bus to every
// connected client, whichever instance ran the job.
type NotificationService struct {
	subscriber EventSubscriber
	delivery   NotificationDelivery
	logger     logger.ILogger
}

func NewNotificationService(sub EventSubscriber, delivery NotificationDelivery, log logger.ILogger) *NotificationService {
	return &NotificationService{
		subscriber: sub,
		delivery:   delivery,
		logger:     log,
	}
}

// Start begins listening to the event bus.
func (s *NotificationService) Start(ctx context.Context) error {
	// NATS wildcards match whole tokens only; other event types are skipped.
	subject := pktNats.SubjectPrefix + "*"
	if err := s.subscriber.Subscribe(ctx, subject, notificationDurable, s.handleEvent); err != nil {
		s.logger.Error("NotificationService", "Failed to start notification subscriber", map[string]interface{}{"error": err.Error()})
		return err
	}
	s.logger.Info("NotificationService", "Notification service started", map[string]interface{}{"subject": subject})
	return nil
}

func (s *NotificationService) handleEvent(_ context.Context, event events.Event) error {
	payload := event.Payload()
	notice := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		notice[k] = v
	}

	var kind string
	switch event.EventType() {
	case events.IngestCompleted:
		kind = NoticeIngestCompleted
		notice["message"] = fmt.Sprintf("Indexed %v chunks into %v (%v total)", payload["chunks"], payload["collection"], payload["total"])
	case events.IngestFailed:
		kind = NoticeIngestFailed
		notice["message"] = fmt.Sprintf("Indexing into %v failed: %v", payload["collection"], payload["error"])
	default:
		s.logger.Debug("NotificationService", "Ignoring event", map[string]interface{}{"type": event.EventType()})
		return nil
	}

	if s.delivery != nil {
		s.delivery.Notify(kind, notice)
	}
	return nil
}
