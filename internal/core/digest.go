package core

import (
	"encoding/binary"

	"MarginIndexer/internal/event"
	"MarginIndexer/internal/persistence"
)

// stateDigest is the canonical encoding of everything event env changed.
// Records appear in changeset order, which is the order the event touched
// them, so equal inputs produce equal digests.
func stateDigest(env event.EventEnvelope, cs *persistence.Changeset) []byte {
	buf := make([]byte, 0, 512)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(env.EventType))
	buf = append(buf, env.IdempotencyKey...)

	for _, a := range cs.Accounts() {
		buf = append(buf, 'A')
		buf = append(buf, a.CanonicalBytes()...)
	}
	for _, tv := range cs.TokenValues() {
		buf = append(buf, 'V')
		buf = append(buf, tv.CanonicalBytes()...)
	}
	for _, a := range cs.Assets() {
		buf = append(buf, 'T')
		buf = append(buf, a.Address[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, a.MarketID)
		buf = append(buf, a.Decimals)
		buf = append(buf, a.Symbol...)
	}
	for _, m := range cs.MarketChanges() {
		buf = append(buf, 'M')
		buf = binary.LittleEndian.AppendUint64(buf, m.MarketID)
		buf = append(buf, m.Token[:]...)
		if m.Removed {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	for _, r := range cs.RiskInfos() {
		buf = append(buf, 'R')
		buf = binary.LittleEndian.AppendUint64(buf, r.MarketID)
		buf = append(buf, r.MarginPremium.String()...)
		buf = append(buf, r.LiquidationRewardPremium.String()...)
		if r.IsBorrowingDisabled {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	if g := cs.Globals(); g != nil {
		buf = append(buf, 'G')
		buf = binary.LittleEndian.AppendUint64(buf, g.NumberOfMarkets)
		for _, d := range []string{g.EarningsRate.String(), g.LiquidationReward.String(), g.LiquidationRatio.String(), g.MinBorrowedValue.String()} {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(d)))
			buf = append(buf, d...)
		}
	}
	return buf
}
