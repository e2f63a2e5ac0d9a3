package projection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

const projectionName = "balance_history"

// PostgresSink writes projections.balance_history.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Write(ctx context.Context, rows []Row, watermark int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if len(rows) > 0 {
		// Bulk insert through unnest of parallel arrays.
		var (
			seqs, markets, blocks, stamps []int64
			ids, accounts, types, txs     []string
			values                        []string
		)
		for _, r := range rows {
			seqs = append(seqs, r.Sequence)
			ids = append(ids, r.TokenValueID)
			accounts = append(accounts, r.AccountID)
			markets = append(markets, int64(r.MarketID))
			types = append(types, r.EventType)
			values = append(values, r.ValuePar.String())
			blocks = append(blocks, int64(r.BlockNumber))
			stamps = append(stamps, int64(r.BlockTimestamp))
			txs = append(txs, r.TxHash)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balance_history
				(sequence, token_value_id, account_id, market_id, event_type, value_par, block_number, block_timestamp, tx_hash)
			SELECT * FROM unnest($1::bigint[], $2::text[], $3::text[], $4::bigint[], $5::text[], $6::numeric[], $7::bigint[], $8::bigint[], $9::text[])
			ON CONFLICT (sequence, token_value_id) DO NOTHING
		`, pq.Array(seqs), pq.Array(ids), pq.Array(accounts), pq.Array(markets), pq.Array(types),
			pq.Array(values), pq.Array(blocks), pq.Array(stamps), pq.Array(txs)); err != nil {
			return fmt.Errorf("insert balance history: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection_name) DO UPDATE
		SET last_sequence = GREATEST(projections.watermark.last_sequence, EXCLUDED.last_sequence),
		    updated_at = NOW()
	`, projectionName, watermark); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresSink) History(ctx context.Context, tokenValueID string, limit int) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, token_value_id, account_id, market_id, event_type, value_par, block_number, block_timestamp, tx_hash
		FROM projections.balance_history
		WHERE token_value_id = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, tokenValueID, limit)
	if err != nil {
		return nil, fmt.Errorf("query balance history: %w", err)
	}
	defer rows.Close()

	out := make([]Row, 0)
	for rows.Next() {
		var (
			r                    Row
			market, block, stamp int64
		)
		if err := rows.Scan(&r.Sequence, &r.TokenValueID, &r.AccountID, &market, &r.EventType,
			&r.ValuePar, &block, &stamp, &r.TxHash); err != nil {
			return nil, err
		}
		r.MarketID = uint64(market)
		r.BlockNumber = uint64(block)
		r.BlockTimestamp = uint64(stamp)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresSink) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection_name = $1`, projectionName,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

// Reset clears the projection so it can be refilled from a replay.
func (s *PostgresSink) Reset(ctx context.Context) error {
	for _, stmt := range []string{
		`TRUNCATE projections.balance_history`,
		`DELETE FROM projections.watermark WHERE projection_name = 'balance_history'`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset projection: %w", err)
		}
	}
	return nil
}
