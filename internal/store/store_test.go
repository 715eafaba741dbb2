package store

import (
	"context"
	"testing"
	"time"

	"guardian/internal/safety"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *EscalationStore {
	t.Helper()
	s, err := NewEscalationStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestChildRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	child := &safety.ChildRecord{
		Name:        "Sam",
		Age:         9,
		ParentEmail: "parent@example.com",
	}
	require.NoError(t, s.UpsertChild(ctx, child))
	require.NotEmpty(t, child.ID, "missing ID should be generated")

	got, err := s.GetChild(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, child.Name, got.Name)
	assert.Equal(t, child.Age, got.Age)
	assert.Equal(t, child.ParentEmail, got.ParentEmail)

	t.Run("upsert updates in place", func(t *testing.T) {
		child.Age = 10
		require.NoError(t, s.UpsertChild(ctx, child))

		got, err := s.GetChild(ctx, child.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, got.Age)
	})

	t.Run("unknown child errors", func(t *testing.T) {
		_, err := s.GetChild(ctx, "no-such-child")
		assert.Error(t, err)
	})
}

func TestSafetyEventLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev := &safety.SafetyEvent{
		EventType:      "content_flagged",
		Severity:       safety.SeverityEscalate,
		ChildID:        "child-1",
		ConversationID: "conv-1",
		TriggerContent: "where do you live?",
		Reasoning:      "location solicitation",
		Status:         safety.EventStatusOpen,
	}
	require.NoError(t, s.CreateSafetyEvent(ctx, ev))
	require.NotEmpty(t, ev.ID)
	assert.False(t, ev.CreatedAt.IsZero())

	t.Run("open events listed newest first", func(t *testing.T) {
		second := &safety.SafetyEvent{
			EventType:      "content_flagged",
			Severity:       safety.SeverityRedirect,
			ChildID:        "child-1",
			TriggerContent: "later event",
			Status:         safety.EventStatusOpen,
			CreatedAt:      time.Now().Add(time.Minute),
		}
		require.NoError(t, s.CreateSafetyEvent(ctx, second))

		events, err := s.ListOpenEvents(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, second.ID, events[0].ID)
		assert.Equal(t, ev.ID, events[1].ID)
	})

	t.Run("status update removes from open list", func(t *testing.T) {
		now := time.Now()
		require.NoError(t, s.UpdateEventStatus(ctx, ev.ID, safety.EventStatusEscalated, &now))

		events, err := s.ListOpenEvents(ctx, 10)
		require.NoError(t, err)
		for _, e := range events {
			assert.NotEqual(t, ev.ID, e.ID)
		}
	})

	t.Run("updating a missing event errors", func(t *testing.T) {
		assert.Error(t, s.UpdateEventStatus(ctx, "no-such-event", safety.EventStatusEscalated, nil))
	})

	t.Run("list respects limit", func(t *testing.T) {
		events, err := s.ListOpenEvents(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})
}

func TestParentNotificationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := &safety.ParentNotification{
		EventID:        "event-1",
		ChildID:        "child-1",
		ParentEmail:    "parent@example.com",
		Severity:       safety.SeverityEscalate,
		TriggerContent: "trigger",
		ResponseText:   "a caring response",
	}
	require.NoError(t, s.CreateParentNotification(ctx, n))
	require.NotEmpty(t, n.ID)
	assert.Equal(t, safety.DeliveryPending, n.DeliveryStatus, "defaults to pending")

	now := time.Now()
	require.NoError(t, s.UpdateNotificationStatus(ctx, n.ID, safety.DeliveryDelivered, &now))

	t.Run("updating a missing notification errors", func(t *testing.T) {
		assert.Error(t, s.UpdateNotificationStatus(ctx, "no-such-id", safety.DeliveryFailed, nil))
	})
}

func TestStoreImplementsEventStore(t *testing.T) {
	var _ safety.EventStore = newTestStore(t)
}

func TestStoreCreatesParentDirectory(t *testing.T) {
	path := t.TempDir() + "/nested/dir/guardian.db"
	s, err := NewEscalationStore(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateSafetyEvent(context.Background(), &safety.SafetyEvent{
		EventType:      "content_flagged",
		Severity:       safety.SeverityRedirect,
		ChildID:        "c",
		TriggerContent: "x",
		Status:         safety.EventStatusOpen,
	}))
}
