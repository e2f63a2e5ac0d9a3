package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRejected is returned when the indexer asked for redelivery of an
	// injected event.
	ErrRejected       = errors.New("event rejected by indexer")
	ErrInvalidPayload = errors.New("invalid payload")
)

// ManualIngestService injects admin-supplied events into the indexer loop.
// It is not a high-throughput path; NATS is.
type ManualIngestService struct {
	eventChan chan<- RawEvent
}

func NewManualIngestService(eventChan chan<- RawEvent) *ManualIngestService {
	return &ManualIngestService{eventChan: eventChan}
}

// Inject validates payload, queues it and waits until the loop acks, naks or
// rejects it. The payload uses the NATS wire format of eventType. An event
// behind the last processed log position fails with core.ErrOutOfOrder.
func (s *ManualIngestService) Inject(ctx context.Context, eventType string, payload []byte) error {
	raw := RawEvent{
		Subject:   SubjectPrefix + eventType,
		EventType: eventType,
		Data:      payload,
		Timestamp: time.Now(),
	}
	if _, err := ParseRawEvent(raw, eventType); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	done := make(chan error, 1)
	raw.AckFunc = func() { done <- nil }
	raw.NakFunc = func() { done <- ErrRejected }
	raw.RejectFunc = func(err error) { done <- err }

	select {
	case s.eventChan <- raw:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
