package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vita-be/internal/pkg/logger"
	"vita-be/pkg/events"
	pktNats "vita-be/pkg/nats"
)

type fakeSubscriber struct {
	subject string
	durable string
	handler pktNats.EventHandler
}

func (f *fakeSubscriber) Subscribe(_ context.Context, subject, durableName string, handler pktNats.EventHandler) error {
	f.subject, f.durable, f.handler = subject, durableName, handler
	return nil
}

type notice struct {
	kind    string
	payload map[string]interface{}
}

type recordingDelivery struct {
	notices []notice
}

func (d *recordingDelivery) Notify(kind string, payload map[string]interface{}) {
	d.notices = append(d.notices, notice{kind: kind, payload: payload})
}

func TestNotificationService_RelaysIngestOutcomes(t *testing.T) {
	sub := &fakeSubscriber{}
	delivery := &recordingDelivery{}
	svc := NewNotificationService(sub, delivery, logger.NewNopLogger())

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, "vita.*", sub.subject)
	require.NotNil(t, sub.handler)

	ctx := context.Background()
	require.NoError(t, sub.handler(ctx, events.New(events.IngestCompleted, map[string]interface{}{
		"job_id": "j1", "collection": "course", "chunks": 4, "total": 10,
	})))
	require.NoError(t, sub.handler(ctx, events.New(events.IngestFailed, map[string]interface{}{
		"job_id": "j2", "collection": "course", "error": "stat ingestion root: missing",
	})))
	require.NoError(t, sub.handler(ctx, events.New(events.SessionStarted, map[string]interface{}{"session_id": "s1"})))

	require.Len(t, delivery.notices, 2)
	assert.Equal(t, NoticeIngestCompleted, delivery.notices[0].kind)
	assert.Equal(t, "Indexed 4 chunks into course (10 total)", delivery.notices[0].payload["message"])
	assert.Equal(t, "j1", delivery.notices[0].payload["job_id"])
	assert.Equal(t, NoticeIngestFailed, delivery.notices[1].kind)
	assert.Equal(t, "Indexing into course failed: stat ingestion root: missing", delivery.notices[1].payload["message"])
}
