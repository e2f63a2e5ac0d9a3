package projection

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"MarginIndexer/internal/core"

	"github.com/shopspring/decimal"
)

// Row is one balance observation: the value of a token-value slot right
// after the event with Sequence committed.
type Row struct {
	Sequence       int64           `json:"sequence"`
	TokenValueID   string          `json:"token_value_id"`
	AccountID      string          `json:"account_id"`
	MarketID       uint64          `json:"market_id"`
	EventType      string          `json:"event_type"`
	ValuePar       decimal.Decimal `json:"value_par"`
	BlockNumber    uint64          `json:"block_number"`
	BlockTimestamp uint64          `json:"block_timestamp"`
	TxHash         string          `json:"tx_hash"`
}

// RowsFromOutput returns one row per token value the event wrote.
func RowsFromOutput(out core.Output) []Row {
	env := out.Envelope
	rows := make([]Row, 0, len(out.TokenValues))
	for _, tv := range out.TokenValues {
		rows = append(rows, Row{
			Sequence:       env.Sequence,
			TokenValueID:   tv.ID,
			AccountID:      tv.AccountID,
			MarketID:       tv.MarketID,
			EventType:      env.EventType.String(),
			ValuePar:       tv.ValuePar,
			BlockNumber:    env.Log.BlockNumber,
			BlockTimestamp: env.Log.BlockTimestamp,
			TxHash:         strings.ToLower(env.Log.TxHash.Hex()),
		})
	}
	return rows
}

// Sink stores balance history. Writes are idempotent per
// (sequence, token value id).
type Sink interface {
	Write(ctx context.Context, rows []Row, watermark int64) error
	// History returns the newest rows of one token value first.
	History(ctx context.Context, tokenValueID string, limit int) ([]Row, error)
	Watermark(ctx context.Context) (int64, error)
}

// MemorySink keeps history in process for the memory store backend.
type MemorySink struct {
	mu        sync.RWMutex
	entries   []Row
	seen      map[string]struct{}
	watermark int64
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		entries: make([]Row, 0),
		seen:    make(map[string]struct{}),
	}
}

func (s *MemorySink) Write(_ context.Context, rows []Row, watermark int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		key := rowKey(r)
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}
		s.entries = append(s.entries, r)
	}
	if watermark > s.watermark {
		s.watermark = watermark
	}
	return nil
}

func (s *MemorySink) History(_ context.Context, tokenValueID string, limit int) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Row, 0)
	for i := len(s.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if s.entries[i].TokenValueID == tokenValueID {
			result = append(result, s.entries[i])
		}
	}
	return result, nil
}

func (s *MemorySink) Watermark(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermark, nil
}

func rowKey(r Row) string {
	return fmt.Sprintf("%s@%d", r.TokenValueID, r.Sequence)
}
