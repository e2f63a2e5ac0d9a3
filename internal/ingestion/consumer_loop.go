package ingestion

import (
	"context"
	"errors"

	"MarginIndexer/internal/core"
	"MarginIndexer/internal/event"
	"MarginIndexer/internal/ledger"

	"github.com/rs/zerolog"
)

// Processor applies one typed event; *core.Indexer implements it.
type Processor interface {
	ProcessEvent(ctx context.Context, evt event.Event) error
}

// ConsumerLoop is the single goroutine that owns the indexer. It parses
// raw events and acknowledges them according to the outcome:
//
//	committed, duplicate, skipped, unparseable -> Ack
//	store failure                               -> Nak (redelivered)
//	invariant violation, log order regression   -> Nak, loop stops
//
// An injected event that regresses log order is rejected through its
// RejectFunc and the loop keeps running.
type ConsumerLoop struct {
	in        <-chan RawEvent
	processor Processor
	logger    zerolog.Logger

	// OnFatal is invoked on an invariant violation or a log order regression
	// of a stream event. The loop stops afterwards.
	OnFatal func(error)
}

func NewConsumerLoop(in <-chan RawEvent, processor Processor, logger zerolog.Logger) *ConsumerLoop {
	return &ConsumerLoop{in: in, processor: processor, logger: logger}
}

func (l *ConsumerLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-l.in:
			if !ok {
				return nil
			}
			if err := l.handle(ctx, raw); err != nil {
				return err
			}
		}
	}
}

func (l *ConsumerLoop) handle(ctx context.Context, raw RawEvent) error {
	evt, err := ParseRawEvent(raw, raw.EventType)
	if err != nil {
		l.logger.Error().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable event")
		ack(raw)
		return nil
	}

	err = l.processor.ProcessEvent(ctx, evt)
	switch {
	case err == nil, core.IsSkip(err):
		ack(raw)
		return nil
	case errors.Is(err, core.ErrOutOfOrder) && raw.RejectFunc != nil:
		raw.RejectFunc(err)
		return nil
	case errors.Is(err, ledger.ErrInvariantViolation), errors.Is(err, core.ErrOutOfOrder):
		l.logger.Error().Err(err).
			Str("event_type", raw.EventType).
			Str("idempotency_key", evt.IdempotencyKey()).
			Msg("stopping consumer loop")
		nak(raw)
		if l.OnFatal != nil {
			l.OnFatal(err)
		}
		return err
	default:
		l.logger.Error().Err(err).
			Str("event_type", raw.EventType).
			Str("idempotency_key", evt.IdempotencyKey()).
			Msg("event processing failed, requesting redelivery")
		nak(raw)
		return nil
	}
}

func ack(raw RawEvent) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}

func nak(raw RawEvent) {
	if raw.NakFunc != nil {
		raw.NakFunc()
	}
}
