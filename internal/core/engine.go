package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MarginIndexer/internal/event"
	"MarginIndexer/internal/ledger"
	"MarginIndexer/internal/observability"
	"MarginIndexer/internal/persistence"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Config selects the contracts the indexer accepts events from.
type Config struct {
	MarginAddress common.Address
	// Zero disables the source check for ExpirySet.
	ExpiryAddress common.Address
	TrackSupply   bool

	IdempotencyCapacity int
}

// Output is emitted after an event commits.
type Output struct {
	Envelope    event.EventEnvelope
	Accounts    []*ledger.MarginAccount
	TokenValues []*ledger.TokenValue
}

type outputSink struct {
	name string
	ch   chan<- Output
}

// Indexer is the single-threaded event processor. Each event is applied to
// a unit of work and committed atomically before the next one starts.
type Indexer struct {
	cfg         Config
	store       persistence.Store
	projector   *ledger.Projector
	validator   *ledger.InvariantValidator
	idempotency *IdempotencyChecker
	order       *LogOrderValidator
	hasher      *StateHasher
	sequence    int64 // next sequence to assign

	sinks   []outputSink
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewIndexer(cfg Config, store persistence.Store, metrics *observability.Metrics, logger zerolog.Logger) *Indexer {
	capacity := cfg.IdempotencyCapacity
	if capacity <= 0 {
		capacity = 100_000
	}
	return &Indexer{
		cfg:         cfg,
		store:       store,
		projector:   ledger.NewProjector(cfg.TrackSupply),
		validator:   ledger.NewInvariantValidator(cfg.TrackSupply),
		idempotency: NewIdempotencyChecker(capacity, store, metrics, logger),
		order:       NewLogOrderValidator(),
		hasher:      NewStateHasher(),
		sequence:    1,
		metrics:     metrics,
		logger:      logger,
	}
}

// AttachOutput registers a downstream channel. Sends never block; a full
// channel drops the output.
func (ix *Indexer) AttachOutput(name string, ch chan<- Output) {
	ix.sinks = append(ix.sinks, outputSink{name: name, ch: ch})
}

// Restore resumes from the store's cursor: sequence, chain tip, log
// position and recent idempotency keys.
func (ix *Indexer) Restore(ctx context.Context, recentKeys int) error {
	cur, err := ix.store.LoadCursor(ctx, recentKeys)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if cur == nil {
		ix.logger.Info().Msg("cold start, no processed events")
		return nil
	}
	ix.sequence = cur.Sequence + 1
	ix.hasher.Advance(cur.StateHash)
	ix.order.Accept(cur.Position)
	ix.idempotency.Warm(cur.RecentKeys)

	ix.logger.Info().
		Int64("sequence", cur.Sequence).
		Str("position", cur.Position.String()).
		Int("warm_keys", len(cur.RecentKeys)).
		Msg("restored from cursor")
	return nil
}

// ProcessEvent runs one event to completion. Duplicates return nil. Skipped
// events return an error matching IsSkip and leave state untouched. A log
// order regression returns ErrOutOfOrder without accepting the position. Any
// other error means nothing was committed and the event may be retried.
func (ix *Indexer) ProcessEvent(ctx context.Context, evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	key := evt.IdempotencyKey()
	meta := evt.Log()
	logger := ix.logger.With().
		Str("event_type", eventType).
		Str("idempotency_key", key).
		Uint64("block", meta.BlockNumber).
		Logger()

	isDuplicate := ix.idempotency.IsDuplicate(eventType, key)
	if err := ix.order.Validate(meta.Position(), isDuplicate); err != nil {
		logger.Error().Err(err).Msg("log order regression, event rejected")
		ix.countSkip(eventType, skipReason(err))
		return err
	}
	if isDuplicate {
		logger.Debug().Msg("duplicate event skipped")
		ix.countSkip(eventType, "duplicate")
		return nil
	}

	uow := newUnitOfWork(ctx, ix.store, meta)
	transitions, err := ix.dispatch(uow, evt)
	if err != nil {
		if IsSkip(err) {
			ix.order.Accept(meta.Position())
			ix.idempotency.MarkProcessed(key)
			return ix.skip(logger, eventType, err)
		}
		return fmt.Errorf("%s %s: %w", eventType, key, err)
	}

	if err := ix.checkInvariants(uow.cs); err != nil {
		logger.Error().Err(err).Msg("invariant violated, event not committed")
		return err
	}

	env := event.EventEnvelope{
		Sequence:       ix.sequence,
		IdempotencyKey: key,
		EventType:      evt.EventType(),
		Log:            meta,
		PrevHash:       ix.hasher.Tip(),
	}
	env.StateHash = ix.hasher.Next(env.Sequence, stateDigest(env, uow.cs))
	uow.cs.Envelope = env

	commitStart := time.Now()
	if err := ix.store.Commit(ctx, uow.cs); err != nil {
		if errors.Is(err, persistence.ErrAlreadyProcessed) {
			ix.idempotency.MarkProcessed(key)
			ix.countSkip(eventType, "duplicate")
			logger.Debug().Msg("duplicate rejected by store")
			return nil
		}
		if ix.metrics != nil {
			ix.metrics.CommitErrors.WithLabelValues("commit").Inc()
		}
		return fmt.Errorf("commit %s %s: %w", eventType, key, err)
	}

	ix.hasher.Advance(env.StateHash)
	ix.order.Accept(meta.Position())
	ix.idempotency.MarkProcessed(key)
	ix.sequence++

	ix.emit(Output{Envelope: env, Accounts: uow.cs.Accounts(), TokenValues: uow.cs.TokenValues()})

	if ix.metrics != nil {
		ix.metrics.CommitDuration.Observe(time.Since(commitStart).Seconds())
		ix.metrics.EventsApplied.WithLabelValues(eventType).Inc()
		ix.metrics.EventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		ix.metrics.CoreSequence.Set(float64(env.Sequence))
		ix.metrics.LastBlock.Set(float64(meta.BlockNumber))
		ix.recordTransitions(eventType, transitions)
	}

	logger.Debug().Int64("sequence", env.Sequence).Msg("event committed")
	return nil
}

func (ix *Indexer) skip(logger zerolog.Logger, eventType string, err error) error {
	logger.Warn().Err(err).Msg("event skipped")
	ix.countSkip(eventType, skipReason(err))
	return err
}

func (ix *Indexer) countSkip(eventType, reason string) {
	if ix.metrics != nil {
		ix.metrics.EventsSkipped.WithLabelValues(eventType, reason).Inc()
	}
}

func (ix *Indexer) checkInvariants(cs *persistence.Changeset) error {
	accounts := make(map[string]*ledger.MarginAccount)
	for _, a := range cs.Accounts() {
		if err := ix.validator.ValidateAccount(a); err != nil {
			return err
		}
		accounts[a.ID] = a
	}
	for _, tv := range cs.TokenValues() {
		if err := ix.validator.ValidateTokenValue(accounts[tv.AccountID], tv); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Indexer) emit(out Output) {
	for _, sink := range ix.sinks {
		select {
		case sink.ch <- out:
		default:
			if ix.metrics != nil {
				ix.metrics.OutputDrops.WithLabelValues(sink.name).Inc()
			}
		}
		if ix.metrics != nil {
			ix.metrics.SetChannelMetrics(sink.name, len(sink.ch), cap(sink.ch))
		}
	}
}

func (ix *Indexer) recordTransitions(eventType string, t transitions) {
	if len(t.balance) > 0 {
		ix.metrics.BalanceUpdates.WithLabelValues(eventType).Add(float64(len(t.balance)))
	}
	for _, tr := range t.balance {
		if tr.BorrowEntered {
			ix.metrics.SignTransitions.WithLabelValues("borrow_enter").Inc()
		}
		if tr.BorrowExited {
			ix.metrics.SignTransitions.WithLabelValues("borrow_exit").Inc()
		}
		if tr.SupplyEntered {
			ix.metrics.SignTransitions.WithLabelValues("supply_enter").Inc()
		}
		if tr.SupplyExited {
			ix.metrics.SignTransitions.WithLabelValues("supply_exit").Inc()
		}
	}
	for _, armed := range t.expiry {
		if armed {
			ix.metrics.ExpiryTransitions.WithLabelValues("arm").Inc()
		} else {
			ix.metrics.ExpiryTransitions.WithLabelValues("clear").Inc()
		}
	}
}

// Sequence returns the sequence of the last committed event.
func (ix *Indexer) Sequence() int64 {
	return ix.sequence - 1
}

// StateHash returns the current chain tip.
func (ix *Indexer) StateHash() [32]byte {
	return ix.hasher.Tip()
}
