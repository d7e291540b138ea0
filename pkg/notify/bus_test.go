package notify

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/privsense/privsense/pkg/models"
)

func event(jobID uuid.UUID, status models.ScanStatus) models.ScanStatusEvent {
	return models.ScanStatusEvent{JobID: jobID, Status: status, Timestamp: time.Now()}
}

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus(zap.NewNop())
	ch, cancel := bus.Subscribe(8)
	defer cancel()

	jobID := uuid.New()
	sequence := []models.ScanStatus{
		models.ScanStatusPending,
		models.ScanStatusExtractingMetadata,
		models.ScanStatusSampling,
		models.ScanStatusCompleted,
	}
	for _, s := range sequence {
		bus.Publish(event(jobID, s))
	}

	for i, want := range sequence {
		got := <-ch
		if got.Status != want {
			t.Errorf("event %d: got %s, want %s", i, got.Status, want)
		}
	}
}

func TestBus_SlowSubscriberDropsOldest(t *testing.T) {
	bus := NewBus(zap.NewNop())
	ch, cancel := bus.Subscribe(2)
	defer cancel()

	jobID := uuid.New()
	bus.Publish(event(jobID, models.ScanStatusPending))
	bus.Publish(event(jobID, models.ScanStatusExtractingMetadata))
	// Buffer full: this drops PENDING.
	bus.Publish(event(jobID, models.ScanStatusSampling))

	first := <-ch
	if first.Status != models.ScanStatusExtractingMetadata {
		t.Errorf("expected oldest event dropped, first delivered is %s", first.Status)
	}
	second := <-ch
	if second.Status != models.ScanStatusSampling {
		t.Errorf("expected newest event retained, got %s", second.Status)
	}
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := NewBus(zap.NewNop())
	_, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Nobody reads the subscription; publishing must still return.
		for i := 0; i < 1000; i++ {
			bus.Publish(event(uuid.New(), models.ScanStatusSampling))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestBus_CancelIsIdempotent(t *testing.T) {
	bus := NewBus(zap.NewNop())
	_, cancel := bus.Subscribe(1)

	cancel()
	cancel()

	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("expected 0 subscribers after cancel, got %d", n)
	}
	// Publishing to an empty bus is a no-op.
	bus.Publish(event(uuid.New(), models.ScanStatusCompleted))
}
