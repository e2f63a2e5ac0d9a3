package core_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"MarginIndexer/internal/core"
	"MarginIndexer/internal/event"
	"MarginIndexer/internal/ledger"
	"MarginIndexer/internal/observability"
	"MarginIndexer/internal/persistence"
	"MarginIndexer/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	marketDAI  uint64 = 0
	marketWETH uint64 = 1
	marketUSDC uint64 = 2
)

type harness struct {
	t       *testing.T
	ctx     context.Context
	store   *persistence.MemoryStore
	indexer *core.Indexer
	metrics *observability.Metrics
	margin  *testutil.Chain
}

func newHarness(t *testing.T, trackSupply bool) *harness {
	t.Helper()
	store := persistence.NewMemoryStore()
	return newHarnessWithStore(t, store, store, trackSupply)
}

func newHarnessWithStore(t *testing.T, mem *persistence.MemoryStore, store persistence.Store, trackSupply bool) *harness {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	ix := core.NewIndexer(core.Config{
		MarginAddress:       testutil.MarginAddress,
		ExpiryAddress:       testutil.ExpiryAddress,
		TrackSupply:         trackSupply,
		IdempotencyCapacity: 1000,
	}, store, metrics, observability.NewTestLogger(io.Discard, "core-test"))

	return &harness{
		t:       t,
		ctx:     context.Background(),
		store:   mem,
		indexer: ix,
		metrics: metrics,
		margin:  testutil.NewChain(testutil.MarginAddress),
	}
}

func (h *harness) apply(evt event.Event) {
	h.t.Helper()
	require.NoError(h.t, h.indexer.ProcessEvent(h.ctx, evt))
}

func (h *harness) addMarkets() {
	h.t.Helper()
	h.apply(&event.AddMarket{LogMeta: h.margin.Next(), MarketID: marketDAI, Token: testutil.DAI, Name: "Dai", Symbol: "DAI", Decimals: testutil.Decimals(18)})
	h.apply(&event.AddMarket{LogMeta: h.margin.Next(), MarketID: marketWETH, Token: testutil.WETH, Name: "Wrapped Ether", Symbol: "WETH", Decimals: testutil.Decimals(18)})
	h.apply(&event.AddMarket{LogMeta: h.margin.Next(), MarketID: marketUSDC, Token: testutil.USDC, Name: "USD Coin", Symbol: "USDC", Decimals: testutil.Decimals(6)})
}

func (h *harness) account(ref event.AccountRef) *ledger.MarginAccount {
	h.t.Helper()
	a, err := h.store.GetAccount(h.ctx, ledger.AccountID(ref.Owner, ref.Number))
	require.NoError(h.t, err)
	return a
}

func (h *harness) slot(ref event.AccountRef, market uint64) *ledger.TokenValue {
	h.t.Helper()
	id := ledger.TokenValueID(ledger.AccountID(ref.Owner, ref.Number), market)
	tv, err := h.store.GetTokenValue(h.ctx, id)
	require.NoError(h.t, err)
	return tv
}

func (h *harness) trail(ref event.AccountRef, market uint64) []string {
	h.t.Helper()
	id := ledger.TokenValueID(ledger.AccountID(ref.Owner, ref.Number), market)
	txs, err := h.store.ListUpdateTransactions(h.ctx, id)
	require.NoError(h.t, err)
	return txs
}

func wadPar(v int64) event.Par {
	p := event.NewPar(v)
	p.Value = new(uint256.Int).Mul(p.Value, uint256.NewInt(1_000_000_000_000_000_000))
	return p
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// ============================================================================
// Test: Scenarios
// ============================================================================

func TestIndexer_Scenarios1to3_DepositWithdrawToZero(t *testing.T) {
	h := newHarness(t, true)
	h.addMarkets()
	alice := testutil.Account(testutil.Alice, 0)

	h.apply(&event.Deposit{LogMeta: h.margin.Next(), Account: alice, MarketID: marketDAI, Update: wadPar(50)})
	a := h.account(alice)
	assert.True(t, dec("50").Equal(h.slot(alice, marketDAI).ValuePar))
	assert.Equal(t, []uint64{marketDAI}, a.SupplyMarketIDs.IDs())
	assert.Zero(t, a.BorrowMarketIDs.Len())
	assert.True(t, a.HasSupplyValue)
	assert.False(t, a.HasBorrowValue)

	h.apply(&event.Withdraw{LogMeta: h.margin.Next(), Account: alice, MarketID: marketDAI, Update: wadPar(-20)})
	a = h.account(alice)
	assert.True(t, dec("-20").Equal(h.slot(alice, marketDAI).ValuePar))
	assert.Zero(t, a.SupplyMarketIDs.Len())
	assert.Equal(t, []uint64{marketDAI}, a.BorrowMarketIDs.IDs())
	assert.True(t, a.HasBorrowValue)
	assert.False(t, a.HasSupplyValue)

	h.apply(&event.Deposit{LogMeta: h.margin.Next(), Account: alice, MarketID: marketDAI, Update: wadPar(0)})
	a = h.account(alice)
	assert.True(t, h.slot(alice, marketDAI).ValuePar.IsZero())
	assert.Zero(t, a.BorrowMarketIDs.Len())
	assert.Zero(t, a.SupplyMarketIDs.Len())
	assert.False(t, a.HasBorrowValue)
	assert.False(t, a.HasSupplyValue)

	tv := h.slot(alice, marketDAI)
	trail := h.trail(alice, marketDAI)
	assert.Len(t, trail, 3)
	assert.Equal(t, int64(3), tv.UpdateCount)
	assert.Equal(t, trail[2], tv.LastUpdateTransaction)
}

func TestIndexer_Scenario4_TradeAppliesLegsInOrder(t *testing.T) {
	h := newHarness(t, true)
	h.addMarkets()
	alice := testutil.Account(testutil.Alice, 1)
	bob := testutil.Account(testutil.Bob, 0)

	h.apply(&event.Deposit{LogMeta: h.margin.Next(), Account: alice, MarketID: marketDAI, Update: wadPar(10)})

	h.apply(&event.Trade{
		LogMeta:           h.margin.Next(),
		TakerAccount:      bob,
		MakerAccount:      alice,
		InputMarket:       marketDAI,
		OutputMarket:      marketWETH,
		MakerInputUpdate:  wadPar(-5),
		MakerOutputUpdate: wadPar(30),
		TakerInputUpdate:  wadPar(5),
		TakerOutputUpdate: wadPar(-30),
	})

	a := h.account(alice)
	assert.Equal(t, []uint64{marketDAI}, a.BorrowMarketIDs.IDs())
	assert.Equal(t, []uint64{marketWETH}, a.SupplyMarketIDs.IDs())
	assert.True(t, dec("-5").Equal(h.slot(alice, marketDAI).ValuePar))
	assert.True(t, dec("30").Equal(h.slot(alice, marketWETH).ValuePar))

	b := h.account(bob)
	assert.Equal(t, []uint64{marketWETH}, b.BorrowMarketIDs.IDs())
	assert.Equal(t, []uint64{marketDAI}, b.SupplyMarketIDs.IDs())
}

func TestIndexer_Scenario5_ClearWithoutPriorExpiry(t *testing.T) {
	h := newHarness(t, true)
	h.addMarkets()
	alice := testutil.Account(testutil.Alice, 0)

	h.apply(&event.ExpirySet{LogMeta: h.margin.NextFrom(testutil.ExpiryAddress), Account: alice, MarketID: marketWETH, Time: 0})

	a := h.account(alice)
	assert.Zero(t, a.ExpirationMarketIDs.Len())
	assert.False(t, a.HasExpiration)
	assert.False(t, h.slot(alice, marketWETH).IsExpiring())
}

func TestIndexer_Scenario6_ArmThenClear(t *testing.T) {
	h := newHarness(t, true)
	h.addMarkets()
	alice := testutil.Account(testutil.Alice, 0)

	h.apply(&event.ExpirySet{LogMeta: h.margin.NextFrom(testutil.ExpiryAddress), Account: alice, MarketID: marketWETH, Time: 1_800_000_000})
	a := h.account(alice)
	assert.Equal(t, []uint64{marketWETH}, a.ExpirationMarketIDs.IDs())
	assert.True(t, a.HasExpiration)
	tv := h.slot(alice, marketWETH)
	require.NotNil(t, tv.ExpirationTimestamp)
	assert.Equal(t, uint64(1_800_000_000), *tv.ExpirationTimestamp)
	require.NotNil(t, tv.ExpiryAddress)
	assert.Equal(t, testutil.ExpiryAddress, *tv.ExpiryAddress)

	h.apply(&event.ExpirySet{LogMeta: h.margin.NextFrom(testutil.ExpiryAddress), Account: alice, MarketID: marketWETH, Time: 0})
	a = h.account(alice)
	assert.Zero(t, a.ExpirationMarketIDs.Len())
	assert.False(t, a.HasExpiration)
	tv = h.slot(alice, marketWETH)
	assert.Nil(t, tv.ExpirationTimestamp)
	assert.Nil(t, tv.ExpiryAddress)
}

func TestIndexer_TransferWithinOneAccountSharesHandle(t *testing.T) {
	h := newHarness(t, true)
	h.addMarkets()
	alice := testutil.Account(testutil.Alice, 0)

	h.apply(&event.Transfer{
		LogMeta:    h.margin.Next(),
		AccountOne: alice,
		AccountTwo: alice,
		MarketID:   marketDAI,
		UpdateOne:  wadPar(-10),
		UpdateTwo:  wadPar(10),
	})

	a := h.account(alice)
	tv := h.slot(alice, marketDAI)
	assert.True(t, dec("10").Equal(tv.ValuePar))
	assert.Zero(t, a.BorrowMarketIDs.Len(), "second leg must observe the first leg's borrow entry")
	assert.Equal(t, []uint64{marketDAI}, a.SupplyMarketIDs.IDs())
	assert.Len(t, h.trail(alice, marketDAI), 2)
}

func TestIndexer_ScalesByTokenDecimals(t *testing.T) {
	h := newHarness(t, true)
	h.addMarkets()
	alice := testutil.Account(testutil.Alice, 0)

	h.apply(&event.Deposit{LogMeta: h.margin.Next(), Account: alice, MarketID: marketUSDC, Update: event.NewPar(1_500_000)})
	assert.True(t, dec("1.5").Equal(h.slot(alice, marketUSDC).ValuePar))
}

func TestIndexer_TwoWayModeLeavesSupplyEmpty(t *testing.T) {
	h := newHarness(t, false)
	h.addMarkets()
	alice := testutil.Account(testutil.Alice, 0)

	h.apply(&event.Deposit{LogMeta: h.margin.Next(), Account: alice, MarketID: marketDAI, Update: wadPar(50)})
	h.apply(&event.Withdraw{LogMeta: h.margin.Next(), Account: alice, MarketID: marketWETH, Update: wadPar(-1)})

	a := h.account(alice)
	assert.Zero(t, a.SupplyMarketIDs.Len())
	assert.False(t, a.HasSupplyValue)
	assert.Equal(t, []uint64{marketWETH}, a.BorrowMarketIDs.IDs())
}

// ============================================================================
// Test: Delivery guards
// ============================================================================

func TestIndexer_DuplicateIsIgnored(t *testing.T) {
	h := newHarness(t, true)
	h.addMarkets()
	alice := testutil.Account(testutil.Alice, 0)

	dep := &event.Deposit{LogMeta: h.margin.Next(), Account: alice, MarketID: marketDAI, Update: wadPar(50)}
	h.apply(dep)
	seq, tip := h.indexer.Sequence(), h.indexer.StateHash()

	h.apply(dep)

	assert.Equal(t, seq, h.indexer.Sequence())
	assert.Equal(t, tip, h.indexer.StateHash())
	assert.Len(t, h.trail(alice, marketDAI), 1)
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.IdempotencyDuplicates.WithLabelValues("lru")))
}

func TestIndexer_DuplicateFoundInStoreAfterRestart(t *testing.T) {
	h := newHarness(t, true)
	h.addMarkets()
	alice := testutil.Account(testutil.Alice, 0)
	dep := &event.Deposit{LogMeta: h.margin.Next(), Account: alice, MarketID: marketDAI, Update: wadPar(50)}
	h.apply(dep)

	// A fresh indexer without Restore has an empty LRU.
	fresh := newHarnessWithStore(t, h.store, h.store, true)
	require.NoError(t, fresh.indexer.ProcessEvent(fresh.ctx, dep))
	assert.Len(t, h.trail(alice, marketDAI), 1)
	assert.Equal(t, 1.0, promtest.ToFloat64(fresh.metrics.IdempotencyDuplicates.WithLabelValues("store")))
}

func TestIndexer_OutOfOrderIsRejected(t *testing.T) {
	h := newHarness(t, true)
	h.addMarkets()
	alice := testutil.Account(testutil.Alice, 0)

	early := &event.Deposit{LogMeta: h.margin.Next(), Account: alice, MarketID: marketDAI, Update: wadPar(5)}
	late := &event.Deposit{LogMeta: h.margin.Next(), Account: alice, MarketID: marketDAI, Update: wadPar(7)}
	next := &event.Deposit{LogMeta: h.margin.Next(), Account: alice, MarketID: marketDAI, Update: wadPar(9)}

	h.apply(late)
	seq := h.indexer.Sequence()

	err := h.indexer.ProcessEvent(h.ctx, early)
	require.ErrorIs(t, err, core.ErrOutOfOrder)
	assert.False(t, core.IsSkip(err), "a regression must not be acknowledged as a skip")
	assert.True(t, dec("7").Equal(h.slot(alice, marketDAI).ValuePar))
	assert.Equal(t, seq, h.indexer.Sequence())
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.EventsSkipped.WithLabelValues("Deposit", "out_of_order")))

	// The rejected position was not accepted, so the stream continues from late.
	h.apply(next)
	assert.True(t, dec("9").Equal(h.slot(alice, marketDAI).ValuePar))
}

func TestIndexer_UnregisteredMarketIsSkipped(t *testing.T) {
	h := newHarness(t, true)
	alice := testutil.Account(testutil.Alice, 0)

	err := h.indexer.ProcessEvent(h.ctx, &event.Deposit{LogMeta: h.margin.Next(), Account: alice, MarketID: 9, Update: wadPar(1)})
	require.ErrorIs(t, err, core.ErrMissingReference)

	_, err = h.store.GetAccount(h.ctx, ledger.AccountID(alice.Owner, alice.Number))
	assert.ErrorIs(t, err, persistence.ErrNotFound, "a skipped event must not create the account")
	assert.Zero(t, h.indexer.Sequence())

	// The skip advances the log position, so the next event still applies.
	h.addMarkets()
	h.apply(&event.Deposit{LogMeta: h.margin.Next(), Account: alice, MarketID: marketDAI, Update: wadPar(1)})
}

func TestIndexer_SkippedTradeLeavesFirstLegUncommitted(t *testing.T) {
	h := newHarness(t, true)
	h.addMarkets()
	alice := testutil.Account(testutil.Alice, 0)
	bob := testutil.Account(testutil.Bob, 0)

	err := h.indexer.ProcessEvent(h.ctx, &event.Trade{
		LogMeta:           h.margin.Next(),
		TakerAccount:      bob,
		MakerAccount:      alice,
		InputMarket:       marketDAI,
		OutputMarket:      42,
		MakerInputUpdate:  wadPar(-5),
		MakerOutputUpdate: wadPar(30),
	})
	require.ErrorIs(t, err, core.ErrMissingReference)

	_, err = h.store.GetTokenValue(h.ctx, ledger.TokenValueID(ledger.AccountID(alice.Owner, alice.Number), marketDAI))
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestIndexer_InvalidSourceIsSkipped(t *testing.T) {
	h := newHarness(t, true)
	h.addMarkets()
	alice := testutil.Account(testutil.Alice, 0)

	err := h.indexer.ProcessEvent(h.ctx, &event.Deposit{LogMeta: h.margin.NextFrom(testutil.Bob), Account: alice, MarketID: marketDAI, Update: wadPar(1)})
	require.ErrorIs(t, err, core.ErrInvalidSource)

	err = h.indexer.ProcessEvent(h.ctx, &event.ExpirySet{LogMeta: h.margin.Next(), Account: alice, MarketID: marketDAI, Time: 5})
	require.ErrorIs(t, err, core.ErrInvalidSource, "ExpirySet must come from the expiry contract")
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.EventsSkipped.WithLabelValues("ExpirySet", "invalid_source")))
}

func TestIndexer_RemovedMarketRejectsBalances(t *testing.T) {
	h := newHarness(t, true)
	h.addMarkets()
	alice := testutil.Account(testutil.Alice, 0)

	h.apply(&event.RemoveMarket{LogMeta: h.margin.Next(), MarketID: marketWETH, Token: testutil.WETH})

	err := h.indexer.ProcessEvent(h.ctx, &event.Deposit{LogMeta: h.margin.Next(), Account: alice, MarketID: marketWETH, Update: wadPar(1)})
	require.ErrorIs(t, err, core.ErrMissingReference)

	asset, err := h.store.GetAsset(h.ctx, testutil.WETH)
	require.NoError(t, err, "asset records outlive their market")
	assert.Equal(t, "WETH", asset.Symbol)
}

func TestIndexer_RelistingTokenKeepsOneMarket(t *testing.T) {
	h := newHarness(t, true)
	h.addMarkets()
	alice := testutil.Account(testutil.Alice, 0)

	// Same token under a new id: no second mapping, the asset keeps its market.
	h.apply(&event.AddMarket{LogMeta: h.margin.Next(), MarketID: 5, Token: testutil.WETH})
	_, err := h.store.GetMarketToken(h.ctx, 5)
	require.ErrorIs(t, err, persistence.ErrNotFound)
	asset, err := h.store.GetAsset(h.ctx, testutil.WETH)
	require.NoError(t, err)
	assert.Equal(t, marketWETH, asset.MarketID)

	g, err := h.store.GetGlobals(h.ctx, testutil.MarginAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), g.NumberOfMarkets)

	err = h.indexer.ProcessEvent(h.ctx, &event.Deposit{LogMeta: h.margin.Next(), Account: alice, MarketID: 5, Update: wadPar(1)})
	require.ErrorIs(t, err, core.ErrMissingReference)

	h.apply(&event.Deposit{LogMeta: h.margin.Next(), Account: alice, MarketID: marketWETH, Update: wadPar(2)})
	assert.True(t, dec("2").Equal(h.slot(alice, marketWETH).ValuePar))

	// Same token under its own id restores a removed mapping.
	h.apply(&event.RemoveMarket{LogMeta: h.margin.Next(), MarketID: marketWETH, Token: testutil.WETH})
	h.apply(&event.AddMarket{LogMeta: h.margin.Next(), MarketID: marketWETH, Token: testutil.WETH})
	token, err := h.store.GetMarketToken(h.ctx, marketWETH)
	require.NoError(t, err)
	assert.Equal(t, testutil.WETH, token)
}

type failingStore struct {
	*persistence.MemoryStore
	fail bool
}

func (f *failingStore) Commit(ctx context.Context, cs *persistence.Changeset) error {
	if f.fail {
		return errors.New("connection reset")
	}
	return f.MemoryStore.Commit(ctx, cs)
}

func TestIndexer_CommitFailureIsRetryable(t *testing.T) {
	mem := persistence.NewMemoryStore()
	store := &failingStore{MemoryStore: mem}
	h := newHarnessWithStore(t, mem, store, true)
	h.addMarkets()
	alice := testutil.Account(testutil.Alice, 0)

	dep := &event.Deposit{LogMeta: h.margin.Next(), Account: alice, MarketID: marketDAI, Update: wadPar(3)}
	tip := h.indexer.StateHash()

	store.fail = true
	err := h.indexer.ProcessEvent(h.ctx, dep)
	require.Error(t, err)
	assert.False(t, core.IsSkip(err))
	assert.Equal(t, tip, h.indexer.StateHash())

	store.fail = false
	h.apply(dep)
	assert.True(t, dec("3").Equal(h.slot(alice, marketDAI).ValuePar))
}

// ============================================================================
// Test: Administration
// ============================================================================

func TestIndexer_AddMarketAppliesOverridesAndCounts(t *testing.T) {
	h := newHarness(t, true)
	aave := common.HexToAddress("0x7fc66500c84a76ad7e9c93437bfc5ac33e2ddae9")

	h.apply(&event.AddMarket{LogMeta: h.margin.Next(), MarketID: 3, Token: aave})

	asset, err := h.store.GetAsset(h.ctx, aave)
	require.NoError(t, err)
	assert.Equal(t, "Aave Token", asset.Name)
	assert.Equal(t, "AAVE", asset.Symbol)
	assert.Equal(t, uint8(18), asset.Decimals)

	g, err := h.store.GetGlobals(h.ctx, testutil.MarginAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), g.NumberOfMarkets)

	token, err := h.store.GetMarketToken(h.ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, aave, token)
}

func TestIndexer_RiskParameters(t *testing.T) {
	h := newHarness(t, true)
	h.addMarkets()

	h.apply(&event.SetEarningsRate{LogMeta: h.margin.Next(), Value: uint256.NewInt(900_000_000_000_000_000)})
	h.apply(&event.SetLiquidationSpread{LogMeta: h.margin.Next(), Value: uint256.NewInt(50_000_000_000_000_000)})
	h.apply(&event.SetMarginRatio{LogMeta: h.margin.Next(), Value: uint256.NewInt(150_000_000_000_000_000)})
	h.apply(&event.SetMinBorrowedValue{LogMeta: h.margin.Next(), Value: new(uint256.Int).Mul(testutil.Wad(5), testutil.Wad(1))})
	h.apply(&event.SetMarginPremium{LogMeta: h.margin.Next(), MarketID: marketWETH, Value: uint256.NewInt(250_000_000_000_000_000)})
	h.apply(&event.SetSpreadPremium{LogMeta: h.margin.Next(), MarketID: marketWETH, Value: uint256.NewInt(100_000_000_000_000_000)})
	h.apply(&event.SetIsClosing{LogMeta: h.margin.Next(), MarketID: marketWETH, IsClosing: true})

	g, err := h.store.GetGlobals(h.ctx, testutil.MarginAddress)
	require.NoError(t, err)
	assert.True(t, dec("0.9").Equal(g.EarningsRate))
	assert.True(t, dec("1.05").Equal(g.LiquidationReward))
	assert.True(t, dec("1.15").Equal(g.LiquidationRatio))
	assert.True(t, dec("5").Equal(g.MinBorrowedValue))

	r, err := h.store.GetMarketRiskInfo(h.ctx, marketWETH)
	require.NoError(t, err)
	assert.Equal(t, testutil.WETH, r.Token)
	assert.True(t, dec("0.25").Equal(r.MarginPremium))
	assert.True(t, dec("0.1").Equal(r.LiquidationRewardPremium))
	assert.True(t, r.IsBorrowingDisabled)

	err = h.indexer.ProcessEvent(h.ctx, &event.SetIsClosing{LogMeta: h.margin.Next(), MarketID: 77, IsClosing: true})
	assert.ErrorIs(t, err, core.ErrMissingReference)
}

// ============================================================================
// Test: Hash chain and restore
// ============================================================================

func scriptedEvents(chain *testutil.Chain) []event.Event {
	alice := testutil.Account(testutil.Alice, 0)
	bob := testutil.Account(testutil.Bob, 2)
	evts := []event.Event{
		&event.AddMarket{LogMeta: chain.Next(), MarketID: marketDAI, Token: testutil.DAI, Symbol: "DAI", Decimals: testutil.Decimals(18)},
		&event.AddMarket{LogMeta: chain.Next(), MarketID: marketWETH, Token: testutil.WETH, Symbol: "WETH", Decimals: testutil.Decimals(18)},
		&event.Deposit{LogMeta: chain.Next(), Account: alice, MarketID: marketDAI, Update: wadPar(100)},
	}
	chain.NextBlock()
	evts = append(evts,
		&event.Transfer{LogMeta: chain.Next(), AccountOne: alice, AccountTwo: bob, MarketID: marketDAI, UpdateOne: wadPar(60), UpdateTwo: wadPar(40)},
		&event.Withdraw{LogMeta: chain.Next(), Account: bob, MarketID: marketWETH, Update: wadPar(-2)},
		&event.ExpirySet{LogMeta: chain.NextFrom(testutil.ExpiryAddress), Account: bob, MarketID: marketWETH, Time: 1_900_000_000},
	)
	return evts
}

func TestIndexer_HashChainIsDeterministic(t *testing.T) {
	run := func() ([32]byte, []event.EventEnvelope) {
		h := newHarness(t, true)
		for _, evt := range scriptedEvents(testutil.NewChain(testutil.MarginAddress)) {
			h.apply(evt)
		}
		return h.indexer.StateHash(), h.store.Envelopes()
	}

	tipA, envsA := run()
	tipB, envsB := run()
	assert.Equal(t, tipA, tipB)
	assert.NotEqual(t, core.GenesisHash(), tipA)

	require.Len(t, envsA, 6)
	assert.Equal(t, core.GenesisHash(), envsA[0].PrevHash)
	for i := 1; i < len(envsA); i++ {
		assert.Equal(t, envsA[i-1].StateHash, envsA[i].PrevHash, "envelope %d must chain to its predecessor", i)
		assert.Equal(t, int64(i+1), envsA[i].Sequence)
	}
	assert.Equal(t, envsA, envsB)
}

func TestIndexer_RestoreResumesChainAndDedup(t *testing.T) {
	chain := testutil.NewChain(testutil.MarginAddress)
	evts := scriptedEvents(chain)

	h := newHarness(t, true)
	for _, evt := range evts[:4] {
		h.apply(evt)
	}
	tip := h.indexer.StateHash()

	resumed := newHarnessWithStore(t, h.store, h.store, true)
	require.NoError(t, resumed.indexer.Restore(resumed.ctx, 100))
	assert.Equal(t, tip, resumed.indexer.StateHash())
	assert.Equal(t, int64(4), resumed.indexer.Sequence())

	// Redelivery of the whole stream: the first four are known duplicates.
	for _, evt := range evts {
		require.NoError(t, resumed.indexer.ProcessEvent(resumed.ctx, evt))
	}
	assert.Equal(t, int64(6), resumed.indexer.Sequence())
	assert.Equal(t, 4.0, promtest.ToFloat64(resumed.metrics.IdempotencyDuplicates.WithLabelValues("lru")))

	// Same tip as an uninterrupted run.
	full := newHarness(t, true)
	for _, evt := range scriptedEvents(testutil.NewChain(testutil.MarginAddress)) {
		full.apply(evt)
	}
	assert.Equal(t, full.indexer.StateHash(), resumed.indexer.StateHash())
}

func TestIndexer_EmitsOutputs(t *testing.T) {
	h := newHarness(t, true)
	out := make(chan core.Output, 1)
	h.indexer.AttachOutput("test", out)
	h.addMarkets()

	// Three AddMarket outputs, capacity one: two dropped.
	assert.Equal(t, 2.0, promtest.ToFloat64(h.metrics.OutputDrops.WithLabelValues("test")))
	first := <-out
	assert.Equal(t, int64(1), first.Envelope.Sequence)
	assert.Equal(t, event.EventTypeAddMarket, first.Envelope.EventType)

	alice := testutil.Account(testutil.Alice, 0)
	h.apply(&event.Deposit{LogMeta: h.margin.Next(), Account: alice, MarketID: marketDAI, Update: wadPar(1)})
	got := <-out
	require.Len(t, got.Accounts, 1)
	require.Len(t, got.TokenValues, 1)
	assert.Equal(t, ledger.AccountID(alice.Owner, alice.Number), got.Accounts[0].ID)
}
