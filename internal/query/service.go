package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"MarginIndexer/internal/core"
	"MarginIndexer/internal/event"
	"MarginIndexer/internal/ledger"
	"MarginIndexer/internal/persistence"
	"MarginIndexer/internal/projection"
	"MarginIndexer/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = persistence.ErrNotFound
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	integrityPageSize   = 1000
	maxReportedBreaks   = 100
)

// Store is the subset of the persistence layer the query side reads.
type Store interface {
	persistence.Reader
	LoadCursor(ctx context.Context, recent int) (*persistence.Cursor, error)
	ListEnvelopes(ctx context.Context, from int64, limit int) ([]event.EventEnvelope, error)
}

// Status exposes the live position of the indexer.
type Status interface {
	Sequence() int64
	StateHash() [32]byte
}

// QueryService provides read-only access to indexed state. Every response
// carries as_of_sequence, the last committed event at read time.
type QueryService struct {
	store   Store
	history projection.Sink
	status  Status
	margin  common.Address
}

func NewQueryService(store Store, history projection.Sink, status Status, margin common.Address) *QueryService {
	return &QueryService{store: store, history: history, status: status, margin: margin}
}

// GetAccount returns the margin account (owner, number).
func (qs *QueryService) GetAccount(ctx context.Context, owner, number string) (*AccountResponse, error) {
	id, err := accountID(owner, number)
	if err != nil {
		return nil, err
	}
	asOf := qs.status.Sequence()
	a, err := qs.store.GetAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", id, err)
	}
	return &AccountResponse{
		ID:                     a.ID,
		Owner:                  strings.ToLower(a.Owner.Hex()),
		Number:                 a.Number.Dec(),
		BorrowMarketIDs:        a.BorrowMarketIDs.IDs(),
		SupplyMarketIDs:        a.SupplyMarketIDs.IDs(),
		ExpirationMarketIDs:    a.ExpirationMarketIDs.IDs(),
		HasBorrowValue:         a.HasBorrowValue,
		HasSupplyValue:         a.HasSupplyValue,
		HasExpiration:          a.HasExpiration,
		LastUpdatedBlockNumber: a.LastUpdatedBlockNumber,
		LastUpdatedTimestamp:   a.LastUpdatedTimestamp,
		AsOfSequence:           asOf,
	}, nil
}

// GetTokenValue returns one balance slot with its full audit trail.
func (qs *QueryService) GetTokenValue(ctx context.Context, owner, number string, marketID uint64) (*TokenValueResponse, error) {
	id, err := accountID(owner, number)
	if err != nil {
		return nil, err
	}
	asOf := qs.status.Sequence()
	tv, err := qs.store.GetTokenValue(ctx, ledger.TokenValueID(id, marketID))
	if err != nil {
		return nil, fmt.Errorf("token value %s/%d: %w", id, marketID, err)
	}
	trail, err := qs.store.ListUpdateTransactions(ctx, tv.ID)
	if err != nil {
		return nil, fmt.Errorf("audit trail %s: %w", tv.ID, err)
	}
	resp := tokenValueResponse(tv, asOf)
	resp.UpdateTransactions = trail
	return resp, nil
}

// ListTokenValues returns every balance slot of an account ordered by market.
// Audit trails are left out; UpdateCount gives their length.
func (qs *QueryService) ListTokenValues(ctx context.Context, owner, number string) ([]TokenValueResponse, error) {
	id, err := accountID(owner, number)
	if err != nil {
		return nil, err
	}
	asOf := qs.status.Sequence()
	tvs, err := qs.store.ListTokenValues(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]TokenValueResponse, 0, len(tvs))
	for _, tv := range tvs {
		out = append(out, *tokenValueResponse(tv, asOf))
	}
	return out, nil
}

// GetAsset resolves a market id to its asset and risk premiums. A market
// whose premiums were never set reports the defaults.
func (qs *QueryService) GetAsset(ctx context.Context, marketID uint64) (*AssetResponse, error) {
	asOf := qs.status.Sequence()
	token, err := qs.store.GetMarketToken(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("market %d: %w", marketID, err)
	}
	asset, err := qs.store.GetAsset(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", token.Hex(), err)
	}
	risk, err := qs.store.GetMarketRiskInfo(ctx, marketID)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		risk = state.NewMarketRiskInfo(marketID, token)
	case err != nil:
		return nil, err
	}
	return &AssetResponse{
		MarketID:                 marketID,
		Token:                    strings.ToLower(asset.Address.Hex()),
		Name:                     asset.Name,
		Symbol:                   asset.Symbol,
		Decimals:                 asset.Decimals,
		MarginPremium:            risk.MarginPremium,
		LiquidationRewardPremium: risk.LiquidationRewardPremium,
		IsBorrowingDisabled:      risk.IsBorrowingDisabled,
		AsOfSequence:             asOf,
	}, nil
}

// GetGlobals returns the protocol-wide risk parameters of the configured
// margin contract.
func (qs *QueryService) GetGlobals(ctx context.Context) (*GlobalsResponse, error) {
	asOf := qs.status.Sequence()
	g, err := qs.store.GetGlobals(ctx, qs.margin)
	if err != nil {
		return nil, fmt.Errorf("globals: %w", err)
	}
	return &GlobalsResponse{
		Margin:            strings.ToLower(g.ID.Hex()),
		NumberOfMarkets:   g.NumberOfMarkets,
		EarningsRate:      g.EarningsRate,
		LiquidationReward: g.LiquidationReward,
		LiquidationRatio:  g.LiquidationRatio,
		MinBorrowedValue:  g.MinBorrowedValue,
		AsOfSequence:      asOf,
	}, nil
}

func (qs *QueryService) GetStatus(ctx context.Context) (*StatusResponse, error) {
	hash := qs.status.StateHash()
	resp := &StatusResponse{
		Sequence:  qs.status.Sequence(),
		StateHash: hexutil.Encode(hash[:]),
	}
	cur, err := qs.store.LoadCursor(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("cursor: %w", err)
	}
	if cur != nil {
		resp.LastBlockNumber = cur.Position.BlockNumber
		resp.LastTxIndex = cur.Position.TxIndex
		resp.LastLogIndex = cur.Position.LogIndex
	}
	mark, err := qs.history.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	resp.ProjectionWatermark = mark
	resp.ProjectionLag = resp.Sequence - mark
	return resp, nil
}

// BalanceHistory returns the newest balance observations of one slot first.
func (qs *QueryService) BalanceHistory(ctx context.Context, owner, number string, marketID uint64, limit int) (*HistoryResponse, error) {
	id, err := accountID(owner, number)
	if err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	mark, err := qs.history.Watermark(ctx)
	if err != nil {
		return nil, err
	}
	tvID := ledger.TokenValueID(id, marketID)
	rows, err := qs.history.History(ctx, tvID, limit)
	if err != nil {
		return nil, err
	}
	return &HistoryResponse{TokenValueID: tvID, Entries: rows, AsOfSequence: mark}, nil
}

// --- Admin APIs ---

// VerifyIntegrity walks the stored event log and checks that sequences are
// contiguous and that every prev_hash links to the previous state_hash,
// starting from the genesis hash. The stored tip is compared with the live
// indexer tip.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}
	live := qs.status.StateHash()
	prev := core.GenesisHash()
	expected := int64(1)

	for {
		envs, err := qs.store.ListEnvelopes(ctx, expected, integrityPageSize)
		if err != nil {
			return nil, fmt.Errorf("list envelopes: %w", err)
		}
		for _, env := range envs {
			if env.Sequence != expected && len(report.SequenceGaps) < maxReportedBreaks {
				report.SequenceGaps = append(report.SequenceGaps, env.Sequence)
			}
			if env.PrevHash != prev && len(report.HashChainBreaks) < maxReportedBreaks {
				report.HashChainBreaks = append(report.HashChainBreaks, env.Sequence)
			}
			prev = env.StateHash
			expected = env.Sequence + 1
			report.CheckedEvents++
		}
		if len(envs) < integrityPageSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	report.StoredTip = hexutil.Encode(prev[:])
	report.LiveTip = hexutil.Encode(live[:])
	report.TipMatchesLive = prev == live
	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.SequenceGaps) == 0 &&
		report.TipMatchesLive
	return report, nil
}

// --- helpers ---

func accountID(owner, number string) (string, error) {
	if !common.IsHexAddress(owner) {
		return "", fmt.Errorf("%w: owner %q", ErrInvalidArgument, owner)
	}
	n, err := uint256.FromDecimal(number)
	if err != nil {
		return "", fmt.Errorf("%w: account number %q", ErrInvalidArgument, number)
	}
	return ledger.AccountID(common.HexToAddress(owner), n), nil
}

func tokenValueResponse(tv *ledger.TokenValue, asOf int64) *TokenValueResponse {
	resp := &TokenValueResponse{
		ID:                    tv.ID,
		AccountID:             tv.AccountID,
		MarketID:              tv.MarketID,
		Token:                 strings.ToLower(tv.Token.Hex()),
		ValuePar:              tv.ValuePar,
		LastUpdateTransaction: tv.LastUpdateTransaction,
		UpdateCount:           tv.UpdateCount,
		ExpirationTimestamp:   tv.ExpirationTimestamp,
		AsOfSequence:          asOf,
	}
	if tv.ExpiryAddress != nil {
		addr := strings.ToLower(tv.ExpiryAddress.Hex())
		resp.ExpiryAddress = &addr
	}
	return resp
}
