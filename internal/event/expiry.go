package event

// ExpirySet arms (Time != 0) or clears (Time == 0) the expiration of one
// account's position in one market. It is emitted by the expiry contract,
// whose address is recorded as the setter.
type ExpirySet struct {
	LogMeta
	Account  AccountRef
	MarketID uint64
	Time     uint64 // unix seconds, 0 clears
}

func (e *ExpirySet) EventType() EventType {
	return EventTypeExpirySet
}
