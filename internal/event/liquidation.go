package event

// Liquidate seizes held collateral from an undercollateralized (liquid)
// account in exchange for repaying its owed balance from the solid account.
type Liquidate struct {
	LogMeta
	SolidAccount     AccountRef
	LiquidAccount    AccountRef
	HeldMarket       uint64
	OwedMarket       uint64
	SolidHeldUpdate  Par
	SolidOwedUpdate  Par
	LiquidHeldUpdate Par
	LiquidOwedUpdate Par
}

func (l *Liquidate) EventType() EventType {
	return EventTypeLiquidate
}

// BalanceUpdates: liquid held, liquid owed, solid held, solid owed.
func (l *Liquidate) BalanceUpdates() []BalanceUpdate {
	return []BalanceUpdate{
		{Account: l.LiquidAccount, MarketID: l.HeldMarket, NewPar: l.LiquidHeldUpdate},
		{Account: l.LiquidAccount, MarketID: l.OwedMarket, NewPar: l.LiquidOwedUpdate},
		{Account: l.SolidAccount, MarketID: l.HeldMarket, NewPar: l.SolidHeldUpdate},
		{Account: l.SolidAccount, MarketID: l.OwedMarket, NewPar: l.SolidOwedUpdate},
	}
}

// Vaporize clears the owed balance of an account with no collateral left.
// The vaporized account has no held update.
type Vaporize struct {
	LogMeta
	SolidAccount    AccountRef
	VaporAccount    AccountRef
	HeldMarket      uint64
	OwedMarket      uint64
	SolidHeldUpdate Par
	SolidOwedUpdate Par
	VaporOwedUpdate Par
}

func (v *Vaporize) EventType() EventType {
	return EventTypeVaporize
}

// BalanceUpdates: vapor owed, solid held, solid owed.
func (v *Vaporize) BalanceUpdates() []BalanceUpdate {
	return []BalanceUpdate{
		{Account: v.VaporAccount, MarketID: v.OwedMarket, NewPar: v.VaporOwedUpdate},
		{Account: v.SolidAccount, MarketID: v.HeldMarket, NewPar: v.SolidHeldUpdate},
		{Account: v.SolidAccount, MarketID: v.OwedMarket, NewPar: v.SolidOwedUpdate},
	}
}
