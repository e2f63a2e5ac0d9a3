package query

import (
	"MarginIndexer/internal/projection"

	"github.com/shopspring/decimal"
)

// AccountResponse is one margin account as served by the query API.
type AccountResponse struct {
	ID                     string   `json:"id"`
	Owner                  string   `json:"owner"`
	Number                 string   `json:"number"`
	BorrowMarketIDs        []uint64 `json:"borrow_market_ids"`
	SupplyMarketIDs        []uint64 `json:"supply_market_ids"`
	ExpirationMarketIDs    []uint64 `json:"expiration_market_ids"`
	HasBorrowValue         bool     `json:"has_borrow_value"`
	HasSupplyValue         bool     `json:"has_supply_value"`
	HasExpiration          bool     `json:"has_expiration"`
	LastUpdatedBlockNumber uint64   `json:"last_updated_block_number"`
	LastUpdatedTimestamp   uint64   `json:"last_updated_timestamp"`
	AsOfSequence           int64    `json:"as_of_sequence"`
}

// TokenValueResponse is the balance of one account in one market.
type TokenValueResponse struct {
	ID                    string          `json:"id"`
	AccountID             string          `json:"account_id"`
	MarketID              uint64          `json:"market_id"`
	Token                 string          `json:"token"`
	ValuePar              decimal.Decimal `json:"value_par"`
	LastUpdateTransaction string          `json:"last_update_transaction"`
	UpdateCount           int64           `json:"update_count"`
	UpdateTransactions    []string        `json:"update_transactions,omitempty"` // single-slot lookups only
	ExpirationTimestamp   *uint64         `json:"expiration_timestamp,omitempty"`
	ExpiryAddress         *string         `json:"expiry_address,omitempty"`
	AsOfSequence          int64           `json:"as_of_sequence"`
}

// AssetResponse joins a market's asset record with its risk premiums.
type AssetResponse struct {
	MarketID                 uint64          `json:"market_id"`
	Token                    string          `json:"token"`
	Name                     string          `json:"name"`
	Symbol                   string          `json:"symbol"`
	Decimals                 uint8           `json:"decimals"`
	MarginPremium            decimal.Decimal `json:"margin_premium"`
	LiquidationRewardPremium decimal.Decimal `json:"liquidation_reward_premium"`
	IsBorrowingDisabled      bool            `json:"is_borrowing_disabled"`
	AsOfSequence             int64           `json:"as_of_sequence"`
}

type GlobalsResponse struct {
	Margin            string          `json:"margin"`
	NumberOfMarkets   uint64          `json:"number_of_markets"`
	EarningsRate      decimal.Decimal `json:"earnings_rate"`
	LiquidationReward decimal.Decimal `json:"liquidation_reward"`
	LiquidationRatio  decimal.Decimal `json:"liquidation_ratio"`
	MinBorrowedValue  decimal.Decimal `json:"min_borrowed_value"`
	AsOfSequence      int64           `json:"as_of_sequence"`
}

// StatusResponse reports how far the indexer and the history projection got.
type StatusResponse struct {
	Sequence            int64  `json:"sequence"`
	StateHash           string `json:"state_hash"`
	LastBlockNumber     uint64 `json:"last_block_number"`
	LastTxIndex         uint64 `json:"last_tx_index"`
	LastLogIndex        uint64 `json:"last_log_index"`
	ProjectionWatermark int64  `json:"projection_watermark"`
	ProjectionLag       int64  `json:"projection_lag"`
}

type HistoryResponse struct {
	TokenValueID string           `json:"token_value_id"`
	Entries      []projection.Row `json:"entries"`
	AsOfSequence int64            `json:"as_of_sequence"`
}

// IntegrityReport is the result of replaying the stored hash chain links.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	CheckedEvents   int64   `json:"checked_events"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	SequenceGaps    []int64 `json:"sequence_gaps,omitempty"`
	StoredTip       string  `json:"stored_tip"`
	LiveTip         string  `json:"live_tip"`
	TipMatchesLive  bool    `json:"tip_matches_live"`
}
