package ingestion_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"MarginIndexer/internal/core"
	"MarginIndexer/internal/event"
	"MarginIndexer/internal/ingestion"
	"MarginIndexer/internal/ledger"
	"MarginIndexer/internal/observability"
	"MarginIndexer/internal/testutil"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProcessor struct {
	mu   sync.Mutex
	errs []error
	seen []event.Event
}

func (p *scriptedProcessor) ProcessEvent(_ context.Context, evt event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, evt)
	if len(p.errs) == 0 {
		return nil
	}
	err := p.errs[0]
	p.errs = p.errs[1:]
	return err
}

type ackRecorder struct {
	mu      sync.Mutex
	outcome []string
}

func (r *ackRecorder) wrap(raw ingestion.RawEvent) ingestion.RawEvent {
	raw.AckFunc = func() { r.record("ack") }
	raw.NakFunc = func() { r.record("nak") }
	return raw
}

func (r *ackRecorder) record(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = append(r.outcome, s)
}

func depositRaw(t *testing.T) ingestion.RawEvent {
	return rawFromJSON(t, "Deposit", map[string]interface{}{
		"account": accountJSON(testutil.Alice, "0"),
		"update":  parJSON(true, "1"),
	})
}

func TestConsumerLoop_AckPolicy(t *testing.T) {
	proc := &scriptedProcessor{errs: []error{
		nil,
		fmt.Errorf("wrapped: %w", core.ErrMissingReference),
		errors.New("connection refused"),
	}}
	rec := &ackRecorder{}
	in := make(chan ingestion.RawEvent, 8)

	in <- rec.wrap(depositRaw(t))
	in <- rec.wrap(depositRaw(t))
	in <- rec.wrap(depositRaw(t))
	garbage := depositRaw(t)
	garbage.Data = []byte("{not json")
	in <- rec.wrap(garbage)
	close(in)

	loop := ingestion.NewConsumerLoop(in, proc, observability.NewTestLogger(io.Discard, "loop"))
	require.NoError(t, loop.Run(context.Background()))

	assert.Equal(t, []string{"ack", "ack", "nak", "ack"}, rec.outcome)
	assert.Len(t, proc.seen, 3, "unparseable payloads never reach the indexer")
}

func TestConsumerLoop_StopsOnInvariantViolation(t *testing.T) {
	violation := fmt.Errorf("%w: stale flag", ledger.ErrInvariantViolation)
	proc := &scriptedProcessor{errs: []error{violation}}
	rec := &ackRecorder{}
	in := make(chan ingestion.RawEvent, 2)
	in <- rec.wrap(depositRaw(t))
	in <- rec.wrap(depositRaw(t))

	var fatal error
	loop := ingestion.NewConsumerLoop(in, proc, observability.NewTestLogger(io.Discard, "loop"))
	loop.OnFatal = func(err error) { fatal = err }

	err := loop.Run(context.Background())
	require.ErrorIs(t, err, ledger.ErrInvariantViolation)
	assert.Equal(t, err, fatal)
	assert.Equal(t, []string{"nak"}, rec.outcome)
}

func TestConsumerLoop_StopsOnLogOrderRegression(t *testing.T) {
	regression := fmt.Errorf("%w: last=100:0:1 got=100:0:0", core.ErrOutOfOrder)
	proc := &scriptedProcessor{errs: []error{nil, regression}}
	rec := &ackRecorder{}
	in := make(chan ingestion.RawEvent, 3)
	in <- rec.wrap(depositRaw(t))
	in <- rec.wrap(depositRaw(t))
	in <- rec.wrap(depositRaw(t))

	var fatal error
	loop := ingestion.NewConsumerLoop(in, proc, observability.NewTestLogger(io.Discard, "loop"))
	loop.OnFatal = func(err error) { fatal = err }

	err := loop.Run(context.Background())
	require.ErrorIs(t, err, core.ErrOutOfOrder)
	assert.Equal(t, err, fatal)
	assert.Equal(t, []string{"ack", "nak"}, rec.outcome, "the regressed event is never acked")
	assert.Len(t, proc.seen, 2)
}

func TestConsumerLoop_RejectsInjectedRegression(t *testing.T) {
	regression := fmt.Errorf("%w: last=100:0:1 got=100:0:0", core.ErrOutOfOrder)
	proc := &scriptedProcessor{errs: []error{regression}}
	rec := &ackRecorder{}
	in := make(chan ingestion.RawEvent, 2)

	var rejected error
	injected := rec.wrap(depositRaw(t))
	injected.RejectFunc = func(err error) { rejected = err }
	in <- injected
	in <- rec.wrap(depositRaw(t))
	close(in)

	loop := ingestion.NewConsumerLoop(in, proc, observability.NewTestLogger(io.Discard, "loop"))
	loop.OnFatal = func(err error) { t.Fatalf("loop stopped: %v", err) }
	require.NoError(t, loop.Run(context.Background()))

	assert.ErrorIs(t, rejected, core.ErrOutOfOrder)
	assert.Equal(t, []string{"ack"}, rec.outcome, "only the following stream event is acked")
}

func TestManualIngest_WaitsForOutcome(t *testing.T) {
	in := make(chan ingestion.RawEvent)
	proc := &scriptedProcessor{errs: []error{nil, errors.New("store down"), core.ErrOutOfOrder}}
	loop := ingestion.NewConsumerLoop(in, proc, observability.NewTestLogger(io.Discard, "loop"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	svc := ingestion.NewManualIngestService(in)
	payload := depositRaw(t).Data

	require.NoError(t, svc.Inject(ctx, "Deposit", payload))
	assert.ErrorIs(t, svc.Inject(ctx, "Deposit", payload), ingestion.ErrRejected)
	assert.ErrorIs(t, svc.Inject(ctx, "Deposit", payload), core.ErrOutOfOrder)

	err := svc.Inject(ctx, "Deposit", []byte(`{"account":{}}`))
	assert.ErrorIs(t, err, ingestion.ErrInvalidPayload)
}

type capturePublisher struct {
	subjects []string
	payloads [][]byte
	fail     bool
}

func (c *capturePublisher) Publish(_ context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if c.fail {
		return nil, errors.New("no responders")
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, payload)
	return &jetstream.PubAck{Stream: ingestion.OutboundStream}, nil
}

func sampleOutput() core.Output {
	alice := ledger.NewMarginAccount(testutil.Alice, nil)
	bob := ledger.NewMarginAccount(testutil.Bob, nil)
	return core.Output{
		Envelope: event.EventEnvelope{
			Sequence:       9,
			IdempotencyKey: txHash + "-17",
			EventType:      event.EventTypeTransfer,
			Log:            event.LogMeta{BlockNumber: 100},
		},
		Accounts: []*ledger.MarginAccount{alice, bob},
		TokenValues: []*ledger.TokenValue{
			ledger.NewTokenValue(alice.ID, 0, testutil.DAI),
			ledger.NewTokenValue(bob.ID, 0, testutil.DAI),
		},
	}
}

func TestBuildAccountChanges(t *testing.T) {
	msgs := ingestion.BuildAccountChanges(sampleOutput())
	require.Len(t, msgs, 2)

	for _, m := range msgs {
		require.Len(t, m.TokenValues, 1)
		assert.Equal(t, m.Account.ID, m.TokenValues[0].AccountID)
		assert.Equal(t, "Transfer", m.EventType)
		assert.Equal(t, int64(9), m.Sequence)
	}
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)

	again := ingestion.BuildAccountChanges(sampleOutput())
	assert.Equal(t, msgs[0].ID, again[0].ID, "ids are stable across redeliveries")
	parsed, err := uuid.Parse(msgs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestOutboundPublisher_Run(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	pub := &capturePublisher{}
	in := make(chan core.Output, 2)
	in <- sampleOutput()
	close(in)

	op := ingestion.NewOutboundPublisher(pub, in, metrics, observability.NewTestLogger(io.Discard, "pub"))
	require.NoError(t, op.Run(context.Background()))

	assert.Equal(t, []string{"margin.indexer.accounts.Transfer", "margin.indexer.accounts.Transfer"}, pub.subjects)
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.Published.WithLabelValues("Transfer")))

	failing := &capturePublisher{fail: true}
	in = make(chan core.Output, 1)
	in <- sampleOutput()
	close(in)
	op = ingestion.NewOutboundPublisher(failing, in, metrics, observability.NewTestLogger(io.Discard, "pub"))

	done := make(chan error)
	go func() { done <- op.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not drain")
	}
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.PublishErrors))
}
