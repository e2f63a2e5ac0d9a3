package event

// Buy exchanges the taker asset for the maker asset on one account via an
// external exchange wrapper.
type Buy struct {
	LogMeta
	Account     AccountRef
	TakerMarket uint64
	MakerMarket uint64
	TakerUpdate Par
	MakerUpdate Par
}

func (b *Buy) EventType() EventType {
	return EventTypeBuy
}

// BalanceUpdates applies the maker leg first, then the taker leg.
func (b *Buy) BalanceUpdates() []BalanceUpdate {
	return []BalanceUpdate{
		{Account: b.Account, MarketID: b.MakerMarket, NewPar: b.MakerUpdate},
		{Account: b.Account, MarketID: b.TakerMarket, NewPar: b.TakerUpdate},
	}
}

// Sell is the mirror of Buy with the same account-level effects.
type Sell struct {
	LogMeta
	Account     AccountRef
	TakerMarket uint64
	MakerMarket uint64
	TakerUpdate Par
	MakerUpdate Par
}

func (s *Sell) EventType() EventType {
	return EventTypeSell
}

func (s *Sell) BalanceUpdates() []BalanceUpdate {
	return []BalanceUpdate{
		{Account: s.Account, MarketID: s.MakerMarket, NewPar: s.MakerUpdate},
		{Account: s.Account, MarketID: s.TakerMarket, NewPar: s.TakerUpdate},
	}
}

// Trade settles an internal trade between a maker and a taker account.
type Trade struct {
	LogMeta
	TakerAccount      AccountRef
	MakerAccount      AccountRef
	InputMarket       uint64
	OutputMarket      uint64
	TakerInputUpdate  Par
	TakerOutputUpdate Par
	MakerInputUpdate  Par
	MakerOutputUpdate Par
}

func (t *Trade) EventType() EventType {
	return EventTypeTrade
}

// BalanceUpdates: maker input, maker output, taker input, taker output.
func (t *Trade) BalanceUpdates() []BalanceUpdate {
	return []BalanceUpdate{
		{Account: t.MakerAccount, MarketID: t.InputMarket, NewPar: t.MakerInputUpdate},
		{Account: t.MakerAccount, MarketID: t.OutputMarket, NewPar: t.MakerOutputUpdate},
		{Account: t.TakerAccount, MarketID: t.InputMarket, NewPar: t.TakerInputUpdate},
		{Account: t.TakerAccount, MarketID: t.OutputMarket, NewPar: t.TakerOutputUpdate},
	}
}
