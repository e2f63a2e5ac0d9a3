package event

// Deposit sets the balance of one account in one market.
type Deposit struct {
	LogMeta
	Account  AccountRef
	MarketID uint64
	Update   Par
}

func (d *Deposit) EventType() EventType {
	return EventTypeDeposit
}

func (d *Deposit) BalanceUpdates() []BalanceUpdate {
	return []BalanceUpdate{{Account: d.Account, MarketID: d.MarketID, NewPar: d.Update}}
}

// Withdraw sets the balance of one account in one market.
type Withdraw struct {
	LogMeta
	Account  AccountRef
	MarketID uint64
	Update   Par
}

func (w *Withdraw) EventType() EventType {
	return EventTypeWithdraw
}

func (w *Withdraw) BalanceUpdates() []BalanceUpdate {
	return []BalanceUpdate{{Account: w.Account, MarketID: w.MarketID, NewPar: w.Update}}
}

// Transfer moves one asset between two accounts.
type Transfer struct {
	LogMeta
	AccountOne AccountRef
	AccountTwo AccountRef
	MarketID   uint64
	UpdateOne  Par
	UpdateTwo  Par
}

func (t *Transfer) EventType() EventType {
	return EventTypeTransfer
}

func (t *Transfer) BalanceUpdates() []BalanceUpdate {
	return []BalanceUpdate{
		{Account: t.AccountOne, MarketID: t.MarketID, NewPar: t.UpdateOne},
		{Account: t.AccountTwo, MarketID: t.MarketID, NewPar: t.UpdateTwo},
	}
}
