package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"MarginIndexer/internal/core"
	"MarginIndexer/internal/ledger"
	"MarginIndexer/internal/observability"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	OutboundStream        = "MARGIN_INDEXER_ACCOUNTS"
	OutboundSubjectPrefix = "margin.indexer.accounts."
)

// messageNamespace seeds the deterministic message ids.
var messageNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("margin-indexer/account-change"))

// Publisher is the narrow JetStream surface the outbound publisher needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes committed account changes to NATS. It reads
// core outputs from a buffered channel the indexer fills without blocking.
type OutboundPublisher struct {
	js        Publisher
	inputChan <-chan core.Output
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// AccountChange is the outbound message for one account touched by an event.
type AccountChange struct {
	ID             string                `json:"id"`
	Sequence       int64                 `json:"sequence"`
	EventType      string                `json:"event_type"`
	IdempotencyKey string                `json:"idempotency_key"`
	BlockNumber    uint64                `json:"block_number"`
	BlockTimestamp uint64                `json:"block_timestamp"`
	StateHash      string                `json:"state_hash"`
	Account        *ledger.MarginAccount `json:"account"`
	TokenValues    []*ledger.TokenValue  `json:"token_values"`
}

func NewOutboundPublisher(js Publisher, inputChan <-chan core.Output, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run publishes until ctx is done or the input channel closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			for _, msg := range BuildAccountChanges(out) {
				if err := op.publish(ctx, msg); err != nil {
					// Non-fatal: consumers can re-read state through the query API.
					op.logger.Warn().Err(err).Int64("sequence", msg.Sequence).Msg("outbound publish failed")
					if op.metrics != nil {
						op.metrics.PublishErrors.Inc()
					}
					continue
				}
				if op.metrics != nil {
					op.metrics.Published.WithLabelValues(msg.EventType).Inc()
				}
			}
		}
	}
}

// BuildAccountChanges groups an output's token values under their account.
// Admin events touch no account and produce no messages.
func BuildAccountChanges(out core.Output) []AccountChange {
	byAccount := make(map[string][]*ledger.TokenValue, len(out.Accounts))
	for _, tv := range out.TokenValues {
		byAccount[tv.AccountID] = append(byAccount[tv.AccountID], tv)
	}

	env := out.Envelope
	msgs := make([]AccountChange, 0, len(out.Accounts))
	for _, a := range out.Accounts {
		msgs = append(msgs, AccountChange{
			ID:             MessageID(env.IdempotencyKey, a.ID).String(),
			Sequence:       env.Sequence,
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			BlockNumber:    env.Log.BlockNumber,
			BlockTimestamp: env.Log.BlockTimestamp,
			StateHash:      hex.EncodeToString(env.StateHash[:]),
			Account:        a,
			TokenValues:    byAccount[a.ID],
		})
	}
	return msgs
}

// MessageID is stable across redeliveries so JetStream can drop duplicates.
func MessageID(idempotencyKey, accountID string) uuid.UUID {
	return uuid.NewSHA1(messageNamespace, []byte(idempotencyKey+"/"+accountID))
}

func (op *OutboundPublisher) publish(ctx context.Context, msg AccountChange) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal account change: %w", err)
	}
	_, err = op.js.Publish(ctx, OutboundSubjectPrefix+msg.EventType, data, jetstream.WithMsgID(msg.ID))
	return err
}

// EnsureOutboundStream creates the outbound stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       OutboundStream,
		Subjects:   []string{OutboundSubjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", OutboundStream).Msg("ensured outbound stream")
	return nil
}
