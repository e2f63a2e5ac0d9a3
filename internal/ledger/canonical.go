package ledger

import (
	"encoding/binary"
)

// CanonicalBytes is the deterministic encoding of an account used for state
// hashing.
func (a *MarginAccount) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)
	buf = appendString(buf, a.ID)
	buf = appendMarketSet(buf, &a.BorrowMarketIDs)
	buf = appendMarketSet(buf, &a.SupplyMarketIDs)
	buf = appendMarketSet(buf, &a.ExpirationMarketIDs)
	buf = appendBool(buf, a.HasBorrowValue)
	buf = appendBool(buf, a.HasSupplyValue)
	buf = appendBool(buf, a.HasExpiration)
	buf = binary.LittleEndian.AppendUint64(buf, a.LastUpdatedBlockNumber)
	buf = binary.LittleEndian.AppendUint64(buf, a.LastUpdatedTimestamp)
	return buf
}

// CanonicalBytes is the deterministic encoding of a token value. The balance
// is encoded as its exact decimal string.
func (tv *TokenValue) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)
	buf = appendString(buf, tv.ID)
	buf = binary.LittleEndian.AppendUint64(buf, tv.MarketID)
	buf = append(buf, tv.Token[:]...)
	buf = appendString(buf, tv.ValuePar.String())
	buf = binary.LittleEndian.AppendUint32(buf, uint32(tv.UpdateCount))
	buf = appendString(buf, tv.LastUpdateTransaction)

	buf = appendBool(buf, tv.ExpirationTimestamp != nil)
	if tv.ExpirationTimestamp != nil {
		buf = binary.LittleEndian.AppendUint64(buf, *tv.ExpirationTimestamp)
	}
	buf = appendBool(buf, tv.ExpiryAddress != nil)
	if tv.ExpiryAddress != nil {
		buf = append(buf, tv.ExpiryAddress[:]...)
	}
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendMarketSet(buf []byte, s *MarketSet) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Len()))
	for _, id := range s.ids {
		buf = binary.LittleEndian.AppendUint64(buf, id)
	}
	return buf
}
