package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"MarginIndexer/internal/event"
	"MarginIndexer/internal/ledger"
	"MarginIndexer/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/lib/pq"
)

// PostgresStore persists indexed state in the margin and event_log schemas.
type PostgresStore struct {
	db    *sql.DB
	dedup *PostgresIdempotencyChecker
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:    db,
		dedup: NewPostgresIdempotencyChecker(db),
	}
}

func addrText(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func toInt64s(ids []uint64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func toMarketSet(arr pq.Int64Array) ledger.MarketSet {
	ids := make([]uint64, len(arr))
	for i, id := range arr {
		ids[i] = uint64(id)
	}
	return ledger.NewMarketSet(ids...)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const accountColumns = `id, owner, number, borrow_market_ids, supply_market_ids, expiration_market_ids,
	has_borrow_value, has_supply_value, has_expiration, last_updated_block_number, last_updated_timestamp`

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*ledger.MarginAccount, error) {
	var (
		a                          ledger.MarginAccount
		owner, number              string
		borrow, supply, expiration pq.Int64Array
		block, ts                  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM margin.accounts WHERE id = $1`, id,
	).Scan(&a.ID, &owner, &number, &borrow, &supply, &expiration,
		&a.HasBorrowValue, &a.HasSupplyValue, &a.HasExpiration, &block, &ts)
	if err != nil {
		return nil, notFound(err)
	}

	n, err := uint256.FromDecimal(number)
	if err != nil {
		return nil, fmt.Errorf("account %s number %q: %w", id, number, err)
	}
	a.Owner = common.HexToAddress(owner)
	a.Number = n
	a.BorrowMarketIDs = toMarketSet(borrow)
	a.SupplyMarketIDs = toMarketSet(supply)
	a.ExpirationMarketIDs = toMarketSet(expiration)
	a.LastUpdatedBlockNumber = uint64(block)
	a.LastUpdatedTimestamp = uint64(ts)
	return &a, nil
}

const tokenValueColumns = `id, account_id, market_id, token, value_par, update_count,
	last_update_transaction, expiration_timestamp, expiry_address`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTokenValue(row rowScanner) (*ledger.TokenValue, error) {
	var (
		tv       ledger.TokenValue
		marketID int64
		token    string
		expTs    sql.NullInt64
		expAddr  sql.NullString
	)
	if err := row.Scan(&tv.ID, &tv.AccountID, &marketID, &token, &tv.ValuePar, &tv.UpdateCount,
		&tv.LastUpdateTransaction, &expTs, &expAddr); err != nil {
		return nil, err
	}
	tv.MarketID = uint64(marketID)
	tv.Token = common.HexToAddress(token)
	if expTs.Valid {
		v := uint64(expTs.Int64)
		tv.ExpirationTimestamp = &v
	}
	if expAddr.Valid {
		v := common.HexToAddress(expAddr.String)
		tv.ExpiryAddress = &v
	}
	return &tv, nil
}

func (s *PostgresStore) GetTokenValue(ctx context.Context, id string) (*ledger.TokenValue, error) {
	tv, err := scanTokenValue(s.db.QueryRowContext(ctx,
		`SELECT `+tokenValueColumns+` FROM margin.token_values WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return tv, nil
}

func (s *PostgresStore) ListTokenValues(ctx context.Context, accountID string) ([]*ledger.TokenValue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tokenValueColumns+` FROM margin.token_values WHERE account_id = $1 ORDER BY market_id`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ledger.TokenValue
	for rows.Next() {
		tv, err := scanTokenValue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tv)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListUpdateTransactions(ctx context.Context, tokenValueID string) ([]string, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM margin.token_values WHERE id = $1)`, tokenValueID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id FROM margin.token_value_transactions
		WHERE token_value_id = $1 ORDER BY ordinal`, tokenValueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var txID string
		if err := rows.Scan(&txID); err != nil {
			return nil, err
		}
		out = append(out, txID)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetAsset(ctx context.Context, token common.Address) (*state.Asset, error) {
	var (
		a        state.Asset
		address  string
		marketID int64
		decimals int16
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT address, market_id, name, symbol, decimals FROM margin.assets WHERE address = $1`,
		addrText(token),
	).Scan(&address, &marketID, &a.Name, &a.Symbol, &decimals)
	if err != nil {
		return nil, notFound(err)
	}
	a.Address = common.HexToAddress(address)
	a.MarketID = uint64(marketID)
	a.Decimals = uint8(decimals)
	return &a, nil
}

func (s *PostgresStore) GetMarketToken(ctx context.Context, marketID uint64) (common.Address, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT token FROM margin.market_tokens WHERE market_id = $1`, int64(marketID),
	).Scan(&token)
	if err != nil {
		return common.Address{}, notFound(err)
	}
	return common.HexToAddress(token), nil
}

func (s *PostgresStore) GetMarketRiskInfo(ctx context.Context, marketID uint64) (*state.MarketRiskInfo, error) {
	var (
		r     state.MarketRiskInfo
		token string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token, margin_premium, liquidation_reward_premium, is_borrowing_disabled
		FROM margin.market_risk_info WHERE market_id = $1`, int64(marketID),
	).Scan(&token, &r.MarginPremium, &r.LiquidationRewardPremium, &r.IsBorrowingDisabled)
	if err != nil {
		return nil, notFound(err)
	}
	r.MarketID = marketID
	r.Token = common.HexToAddress(token)
	return &r, nil
}

func (s *PostgresStore) GetGlobals(ctx context.Context, margin common.Address) (*state.ProtocolGlobals, error) {
	var (
		g       state.ProtocolGlobals
		markets int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT number_of_markets, earnings_rate, liquidation_reward, liquidation_ratio, min_borrowed_value
		FROM margin.protocol_globals WHERE id = $1`, addrText(margin),
	).Scan(&markets, &g.EarningsRate, &g.LiquidationReward, &g.LiquidationRatio, &g.MinBorrowedValue)
	if err != nil {
		return nil, notFound(err)
	}
	g.ID = margin
	g.NumberOfMarkets = uint64(markets)
	return &g, nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error) {
	var (
		t         ledger.Transaction
		block, ts int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, block_number, timestamp FROM margin.transactions WHERE id = $1`, id,
	).Scan(&t.ID, &block, &ts)
	if err != nil {
		return nil, notFound(err)
	}
	t.BlockNumber = uint64(block)
	t.Timestamp = uint64(ts)
	return &t, nil
}

// Commit writes the processed-event row first so that a concurrent or
// replayed commit of the same key fails before touching state.
func (s *PostgresStore) Commit(ctx context.Context, cs *Changeset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	env := cs.Envelope
	res, err := tx.ExecContext(ctx, `
		INSERT INTO event_log.processed_events
			(sequence, idempotency_key, event_type, contract, block_number, block_timestamp,
			 tx_hash, tx_index, log_index, state_hash, prev_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		env.Sequence, env.IdempotencyKey, env.EventType.String(), addrText(env.Log.Contract),
		int64(env.Log.BlockNumber), int64(env.Log.BlockTimestamp),
		strings.ToLower(env.Log.TxHash.Hex()), int64(env.Log.TxIndex), int64(env.Log.LogIndex),
		env.StateHash[:], env.PrevHash[:],
	)
	if err != nil {
		return fmt.Errorf("insert processed event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAlreadyProcessed
	}

	for _, t := range cs.Transactions() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO margin.transactions (id, block_number, timestamp)
			VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
			t.ID, int64(t.BlockNumber), int64(t.Timestamp)); err != nil {
			return fmt.Errorf("upsert transaction %s: %w", t.ID, err)
		}
	}

	for _, a := range cs.Assets() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO margin.assets (address, market_id, name, symbol, decimals)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (address) DO UPDATE SET market_id = EXCLUDED.market_id,
				name = EXCLUDED.name, symbol = EXCLUDED.symbol, decimals = EXCLUDED.decimals`,
			addrText(a.Address), int64(a.MarketID), a.Name, a.Symbol, int16(a.Decimals)); err != nil {
			return fmt.Errorf("upsert asset %s: %w", a.Address.Hex(), err)
		}
	}

	for _, m := range cs.MarketChanges() {
		if m.Removed {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM margin.market_tokens WHERE market_id = $1`, int64(m.MarketID))
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO margin.market_tokens (market_id, token) VALUES ($1, $2)
				ON CONFLICT (market_id) DO UPDATE SET token = EXCLUDED.token`,
				int64(m.MarketID), addrText(m.Token))
		}
		if err != nil {
			return fmt.Errorf("write market %d: %w", m.MarketID, err)
		}
	}

	for _, r := range cs.RiskInfos() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO margin.market_risk_info
				(market_id, token, margin_premium, liquidation_reward_premium, is_borrowing_disabled)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (market_id) DO UPDATE SET token = EXCLUDED.token,
				margin_premium = EXCLUDED.margin_premium,
				liquidation_reward_premium = EXCLUDED.liquidation_reward_premium,
				is_borrowing_disabled = EXCLUDED.is_borrowing_disabled`,
			int64(r.MarketID), addrText(r.Token), r.MarginPremium, r.LiquidationRewardPremium,
			r.IsBorrowingDisabled); err != nil {
			return fmt.Errorf("upsert risk info %d: %w", r.MarketID, err)
		}
	}

	if g := cs.Globals(); g != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO margin.protocol_globals
				(id, number_of_markets, earnings_rate, liquidation_reward, liquidation_ratio, min_borrowed_value)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET number_of_markets = EXCLUDED.number_of_markets,
				earnings_rate = EXCLUDED.earnings_rate, liquidation_reward = EXCLUDED.liquidation_reward,
				liquidation_ratio = EXCLUDED.liquidation_ratio, min_borrowed_value = EXCLUDED.min_borrowed_value`,
			addrText(g.ID), int64(g.NumberOfMarkets), g.EarningsRate, g.LiquidationReward,
			g.LiquidationRatio, g.MinBorrowedValue); err != nil {
			return fmt.Errorf("upsert globals: %w", err)
		}
	}

	for _, a := range cs.Accounts() {
		if err := upsertAccount(ctx, tx, a); err != nil {
			return err
		}
	}
	for _, tv := range cs.TokenValues() {
		if err := upsertTokenValue(ctx, tx, tv); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func upsertAccount(ctx context.Context, tx *sql.Tx, a *ledger.MarginAccount) error {
	number := "0"
	if a.Number != nil {
		number = a.Number.Dec()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO margin.accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			borrow_market_ids = EXCLUDED.borrow_market_ids,
			supply_market_ids = EXCLUDED.supply_market_ids,
			expiration_market_ids = EXCLUDED.expiration_market_ids,
			has_borrow_value = EXCLUDED.has_borrow_value,
			has_supply_value = EXCLUDED.has_supply_value,
			has_expiration = EXCLUDED.has_expiration,
			last_updated_block_number = EXCLUDED.last_updated_block_number,
			last_updated_timestamp = EXCLUDED.last_updated_timestamp`,
		a.ID, addrText(a.Owner), number,
		pq.Array(toInt64s(a.BorrowMarketIDs.IDs())),
		pq.Array(toInt64s(a.SupplyMarketIDs.IDs())),
		pq.Array(toInt64s(a.ExpirationMarketIDs.IDs())),
		a.HasBorrowValue, a.HasSupplyValue, a.HasExpiration,
		int64(a.LastUpdatedBlockNumber), int64(a.LastUpdatedTimestamp),
	)
	if err != nil {
		return fmt.Errorf("upsert account %s: %w", a.ID, err)
	}
	return nil
}

func upsertTokenValue(ctx context.Context, tx *sql.Tx, tv *ledger.TokenValue) error {
	var (
		expTs   sql.NullInt64
		expAddr sql.NullString
	)
	if tv.ExpirationTimestamp != nil {
		expTs = sql.NullInt64{Int64: int64(*tv.ExpirationTimestamp), Valid: true}
	}
	if tv.ExpiryAddress != nil {
		expAddr = sql.NullString{String: addrText(*tv.ExpiryAddress), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO margin.token_values (`+tokenValueColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			value_par = EXCLUDED.value_par,
			update_count = EXCLUDED.update_count,
			last_update_transaction = EXCLUDED.last_update_transaction,
			expiration_timestamp = EXCLUDED.expiration_timestamp,
			expiry_address = EXCLUDED.expiry_address`,
		tv.ID, tv.AccountID, int64(tv.MarketID), addrText(tv.Token), tv.ValuePar,
		tv.UpdateCount, tv.LastUpdateTransaction, expTs, expAddr,
	)
	if err != nil {
		return fmt.Errorf("upsert token value %s: %w", tv.ID, err)
	}
	if len(tv.PendingTransactions) == 0 {
		return nil
	}

	// Only the entries recorded by this event are written; the trail is
	// never rewritten.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO margin.token_value_transactions (token_value_id, ordinal, transaction_id)
		SELECT $1, $2 + t.idx - 1, t.transaction_id
		FROM unnest($3::text[]) WITH ORDINALITY AS t(transaction_id, idx)`,
		tv.ID, tv.FirstPendingOrdinal(), pq.Array(tv.PendingTransactions),
	)
	if err != nil {
		return fmt.Errorf("append audit trail %s: %w", tv.ID, err)
	}
	return nil
}

func (s *PostgresStore) IsDuplicate(eventType string, idempotencyKey string) (bool, error) {
	return s.dedup.IsDuplicate(eventType, idempotencyKey)
}

// LoadCursor reads the newest processed event and the recent keys used to
// warm the dedup cache.
func (s *PostgresStore) LoadCursor(ctx context.Context, recent int) (*Cursor, error) {
	var (
		c                      Cursor
		block, txIndex, logIdx int64
		hash                   []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT sequence, block_number, tx_index, log_index, state_hash
		FROM event_log.processed_events
		ORDER BY sequence DESC
		LIMIT 1`,
	).Scan(&c.Sequence, &block, &txIndex, &logIdx, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	if len(hash) != len(c.StateHash) {
		return nil, fmt.Errorf("load cursor: state hash has %d bytes", len(hash))
	}
	copy(c.StateHash[:], hash)
	c.Position = event.LogPosition{
		BlockNumber: uint64(block),
		TxIndex:     uint64(txIndex),
		LogIndex:    uint64(logIdx),
	}

	if recent > 0 {
		rows, err := s.db.QueryContext(ctx, `
			SELECT idempotency_key FROM (
				SELECT sequence, idempotency_key FROM event_log.processed_events
				ORDER BY sequence DESC LIMIT $1
			) recent ORDER BY sequence ASC`, recent)
		if err != nil {
			return nil, fmt.Errorf("load recent keys: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				return nil, err
			}
			c.RecentKeys = append(c.RecentKeys, key)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (s *PostgresStore) ListEnvelopes(ctx context.Context, from int64, limit int) ([]event.EventEnvelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, idempotency_key, event_type, contract, block_number, block_timestamp,
		       tx_hash, tx_index, log_index, state_hash, prev_hash
		FROM event_log.processed_events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2`, from, limit)
	if err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	defer rows.Close()

	out := make([]event.EventEnvelope, 0)
	for rows.Next() {
		var (
			env                           event.EventEnvelope
			eventType, contract, txHash   string
			block, stamp, txIndex, logIdx int64
			stateHash, prevHash           []byte
		)
		if err := rows.Scan(&env.Sequence, &env.IdempotencyKey, &eventType, &contract, &block, &stamp,
			&txHash, &txIndex, &logIdx, &stateHash, &prevHash); err != nil {
			return nil, err
		}
		env.EventType, _ = event.ParseEventType(eventType)
		env.Log = event.LogMeta{
			Contract:       common.HexToAddress(contract),
			BlockNumber:    uint64(block),
			BlockTimestamp: uint64(stamp),
			TxHash:         common.HexToHash(txHash),
			TxIndex:        uint64(txIndex),
			LogIndex:       uint64(logIdx),
		}
		copy(env.StateHash[:], stateHash)
		copy(env.PrevHash[:], prevHash)
		out = append(out, env)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
