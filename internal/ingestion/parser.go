package ingestion

import (
	"encoding/json"
	"fmt"

	"MarginIndexer/internal/event"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// ParseRawEvent converts a RawEvent into a typed event.Event. eventType is
// the event name as returned by event.EventType.String.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	et, ok := event.ParseEventType(eventType)
	if !ok {
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
	parse, ok := parsers[et]
	if !ok {
		return nil, fmt.Errorf("no parser for event type: %s", eventType)
	}
	evt, err := parse(raw.Data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", eventType, err)
	}
	return evt, nil
}

var parsers = map[event.EventType]func([]byte) (event.Event, error){
	event.EventTypeDeposit:              parseDeposit,
	event.EventTypeWithdraw:             parseWithdraw,
	event.EventTypeTransfer:             parseTransfer,
	event.EventTypeBuy:                  parseBuy,
	event.EventTypeSell:                 parseSell,
	event.EventTypeTrade:                parseTrade,
	event.EventTypeLiquidate:            parseLiquidate,
	event.EventTypeVaporize:             parseVaporize,
	event.EventTypeExpirySet:            parseExpirySet,
	event.EventTypeAddMarket:            parseAddMarket,
	event.EventTypeRemoveMarket:         parseRemoveMarket,
	event.EventTypeSetEarningsRate:      parseGlobal(func(m event.LogMeta, v *uint256.Int) event.Event { return &event.SetEarningsRate{LogMeta: m, Value: v} }),
	event.EventTypeSetLiquidationSpread: parseGlobal(func(m event.LogMeta, v *uint256.Int) event.Event { return &event.SetLiquidationSpread{LogMeta: m, Value: v} }),
	event.EventTypeSetMarginRatio:       parseGlobal(func(m event.LogMeta, v *uint256.Int) event.Event { return &event.SetMarginRatio{LogMeta: m, Value: v} }),
	event.EventTypeSetMinBorrowedValue:  parseGlobal(func(m event.LogMeta, v *uint256.Int) event.Event { return &event.SetMinBorrowedValue{LogMeta: m, Value: v} }),
	event.EventTypeSetMarginPremium:     parseMarketValue(func(m event.LogMeta, id uint64, v *uint256.Int) event.Event { return &event.SetMarginPremium{LogMeta: m, MarketID: id, Value: v} }),
	event.EventTypeSetSpreadPremium:     parseMarketValue(func(m event.LogMeta, id uint64, v *uint256.Int) event.Event { return &event.SetSpreadPremium{LogMeta: m, MarketID: id, Value: v} }),
	event.EventTypeSetIsClosing:         parseSetIsClosing,
}

// --- JSON wire formats ---
// Field names use snake_case to match the upstream log decoder. 256-bit
// integers travel as decimal strings.

type logJSON struct {
	Contract       string `json:"contract"`
	BlockNumber    uint64 `json:"block_number"`
	BlockTimestamp uint64 `json:"block_timestamp"`
	TxHash         string `json:"tx_hash"`
	TxIndex        uint64 `json:"tx_index"`
	LogIndex       uint64 `json:"log_index"`
}

func (j logJSON) meta() (event.LogMeta, error) {
	contract, err := parseAddress("contract", j.Contract)
	if err != nil {
		return event.LogMeta{}, err
	}
	raw, err := hexutil.Decode(j.TxHash)
	if err != nil || len(raw) != common.HashLength {
		return event.LogMeta{}, fmt.Errorf("tx_hash: invalid hash %q", j.TxHash)
	}
	return event.LogMeta{
		Contract:       contract,
		BlockNumber:    j.BlockNumber,
		BlockTimestamp: j.BlockTimestamp,
		TxHash:         common.BytesToHash(raw),
		TxIndex:        j.TxIndex,
		LogIndex:       j.LogIndex,
	}, nil
}

type accountJSON struct {
	Owner  string `json:"owner"`
	Number string `json:"number"`
}

func (j accountJSON) ref(field string) (event.AccountRef, error) {
	owner, err := parseAddress(field+".owner", j.Owner)
	if err != nil {
		return event.AccountRef{}, err
	}
	number, err := parseUint256(field+".number", j.Number)
	if err != nil {
		return event.AccountRef{}, err
	}
	return event.AccountRef{Owner: owner, Number: number}, nil
}

type parJSON struct {
	Sign  bool   `json:"sign"`
	Value string `json:"value"`
}

func (j parJSON) par(field string) (event.Par, error) {
	v, err := parseUint256(field+".value", j.Value)
	if err != nil {
		return event.Par{}, err
	}
	return event.Par{Sign: j.Sign, Value: v}, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

// parseUint256 accepts a base-10 string; empty means zero.
func parseUint256(field, s string) (*uint256.Int, error) {
	if s == "" {
		return uint256.NewInt(0), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

// decoder collects the first error across many field conversions.
type decoder struct {
	err error
}

func (d *decoder) account(field string, j accountJSON) event.AccountRef {
	if d.err != nil {
		return event.AccountRef{}
	}
	ref, err := j.ref(field)
	d.err = err
	return ref
}

func (d *decoder) par(field string, j parJSON) event.Par {
	if d.err != nil {
		return event.Par{}
	}
	p, err := j.par(field)
	d.err = err
	return p
}

func (d *decoder) value(field, s string) *uint256.Int {
	if d.err != nil {
		return nil
	}
	v, err := parseUint256(field, s)
	d.err = err
	return v
}

func decode(data []byte, v interface{ meta() (event.LogMeta, error) }) (event.LogMeta, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return event.LogMeta{}, err
	}
	return v.meta()
}

// --- Balance events ---

type singleUpdateJSON struct {
	logJSON
	Account  accountJSON `json:"account"`
	MarketID uint64      `json:"market_id"`
	Update   parJSON     `json:"update"`
}

func parseDeposit(data []byte) (event.Event, error) {
	var j singleUpdateJSON
	meta, err := decode(data, &j)
	if err != nil {
		return nil, err
	}
	var d decoder
	evt := &event.Deposit{LogMeta: meta, Account: d.account("account", j.Account), MarketID: j.MarketID, Update: d.par("update", j.Update)}
	return evt, d.err
}

func parseWithdraw(data []byte) (event.Event, error) {
	var j singleUpdateJSON
	meta, err := decode(data, &j)
	if err != nil {
		return nil, err
	}
	var d decoder
	evt := &event.Withdraw{LogMeta: meta, Account: d.account("account", j.Account), MarketID: j.MarketID, Update: d.par("update", j.Update)}
	return evt, d.err
}

type transferJSON struct {
	logJSON
	AccountOne accountJSON `json:"account_one"`
	AccountTwo accountJSON `json:"account_two"`
	MarketID   uint64      `json:"market_id"`
	UpdateOne  parJSON     `json:"update_one"`
	UpdateTwo  parJSON     `json:"update_two"`
}

func parseTransfer(data []byte) (event.Event, error) {
	var j transferJSON
	meta, err := decode(data, &j)
	if err != nil {
		return nil, err
	}
	var d decoder
	evt := &event.Transfer{
		LogMeta:    meta,
		AccountOne: d.account("account_one", j.AccountOne),
		AccountTwo: d.account("account_two", j.AccountTwo),
		MarketID:   j.MarketID,
		UpdateOne:  d.par("update_one", j.UpdateOne),
		UpdateTwo:  d.par("update_two", j.UpdateTwo),
	}
	return evt, d.err
}

type exchangeJSON struct {
	logJSON
	Account     accountJSON `json:"account"`
	TakerMarket uint64      `json:"taker_market"`
	MakerMarket uint64      `json:"maker_market"`
	TakerUpdate parJSON     `json:"taker_update"`
	MakerUpdate parJSON     `json:"maker_update"`
}

func parseBuy(data []byte) (event.Event, error) {
	var j exchangeJSON
	meta, err := decode(data, &j)
	if err != nil {
		return nil, err
	}
	var d decoder
	evt := &event.Buy{
		LogMeta:     meta,
		Account:     d.account("account", j.Account),
		TakerMarket: j.TakerMarket,
		MakerMarket: j.MakerMarket,
		TakerUpdate: d.par("taker_update", j.TakerUpdate),
		MakerUpdate: d.par("maker_update", j.MakerUpdate),
	}
	return evt, d.err
}

func parseSell(data []byte) (event.Event, error) {
	var j exchangeJSON
	meta, err := decode(data, &j)
	if err != nil {
		return nil, err
	}
	var d decoder
	evt := &event.Sell{
		LogMeta:     meta,
		Account:     d.account("account", j.Account),
		TakerMarket: j.TakerMarket,
		MakerMarket: j.MakerMarket,
		TakerUpdate: d.par("taker_update", j.TakerUpdate),
		MakerUpdate: d.par("maker_update", j.MakerUpdate),
	}
	return evt, d.err
}

type tradeJSON struct {
	logJSON
	TakerAccount      accountJSON `json:"taker_account"`
	MakerAccount      accountJSON `json:"maker_account"`
	InputMarket       uint64      `json:"input_market"`
	OutputMarket      uint64      `json:"output_market"`
	TakerInputUpdate  parJSON     `json:"taker_input_update"`
	TakerOutputUpdate parJSON     `json:"taker_output_update"`
	MakerInputUpdate  parJSON     `json:"maker_input_update"`
	MakerOutputUpdate parJSON     `json:"maker_output_update"`
}

func parseTrade(data []byte) (event.Event, error) {
	var j tradeJSON
	meta, err := decode(data, &j)
	if err != nil {
		return nil, err
	}
	var d decoder
	evt := &event.Trade{
		LogMeta:           meta,
		TakerAccount:      d.account("taker_account", j.TakerAccount),
		MakerAccount:      d.account("maker_account", j.MakerAccount),
		InputMarket:       j.InputMarket,
		OutputMarket:      j.OutputMarket,
		TakerInputUpdate:  d.par("taker_input_update", j.TakerInputUpdate),
		TakerOutputUpdate: d.par("taker_output_update", j.TakerOutputUpdate),
		MakerInputUpdate:  d.par("maker_input_update", j.MakerInputUpdate),
		MakerOutputUpdate: d.par("maker_output_update", j.MakerOutputUpdate),
	}
	return evt, d.err
}

type liquidateJSON struct {
	logJSON
	SolidAccount     accountJSON `json:"solid_account"`
	LiquidAccount    accountJSON `json:"liquid_account"`
	HeldMarket       uint64      `json:"held_market"`
	OwedMarket       uint64      `json:"owed_market"`
	SolidHeldUpdate  parJSON     `json:"solid_held_update"`
	SolidOwedUpdate  parJSON     `json:"solid_owed_update"`
	LiquidHeldUpdate parJSON     `json:"liquid_held_update"`
	LiquidOwedUpdate parJSON     `json:"liquid_owed_update"`
}

func parseLiquidate(data []byte) (event.Event, error) {
	var j liquidateJSON
	meta, err := decode(data, &j)
	if err != nil {
		return nil, err
	}
	var d decoder
	evt := &event.Liquidate{
		LogMeta:          meta,
		SolidAccount:     d.account("solid_account", j.SolidAccount),
		LiquidAccount:    d.account("liquid_account", j.LiquidAccount),
		HeldMarket:       j.HeldMarket,
		OwedMarket:       j.OwedMarket,
		SolidHeldUpdate:  d.par("solid_held_update", j.SolidHeldUpdate),
		SolidOwedUpdate:  d.par("solid_owed_update", j.SolidOwedUpdate),
		LiquidHeldUpdate: d.par("liquid_held_update", j.LiquidHeldUpdate),
		LiquidOwedUpdate: d.par("liquid_owed_update", j.LiquidOwedUpdate),
	}
	return evt, d.err
}

type vaporizeJSON struct {
	logJSON
	SolidAccount    accountJSON `json:"solid_account"`
	VaporAccount    accountJSON `json:"vapor_account"`
	HeldMarket      uint64      `json:"held_market"`
	OwedMarket      uint64      `json:"owed_market"`
	SolidHeldUpdate parJSON     `json:"solid_held_update"`
	SolidOwedUpdate parJSON     `json:"solid_owed_update"`
	VaporOwedUpdate parJSON     `json:"vapor_owed_update"`
}

func parseVaporize(data []byte) (event.Event, error) {
	var j vaporizeJSON
	meta, err := decode(data, &j)
	if err != nil {
		return nil, err
	}
	var d decoder
	evt := &event.Vaporize{
		LogMeta:         meta,
		SolidAccount:    d.account("solid_account", j.SolidAccount),
		VaporAccount:    d.account("vapor_account", j.VaporAccount),
		HeldMarket:      j.HeldMarket,
		OwedMarket:      j.OwedMarket,
		SolidHeldUpdate: d.par("solid_held_update", j.SolidHeldUpdate),
		SolidOwedUpdate: d.par("solid_owed_update", j.SolidOwedUpdate),
		VaporOwedUpdate: d.par("vapor_owed_update", j.VaporOwedUpdate),
	}
	return evt, d.err
}

// --- Expiry ---

type expirySetJSON struct {
	logJSON
	Account  accountJSON `json:"account"`
	MarketID uint64      `json:"market_id"`
	Time     uint64      `json:"time"`
}

func parseExpirySet(data []byte) (event.Event, error) {
	var j expirySetJSON
	meta, err := decode(data, &j)
	if err != nil {
		return nil, err
	}
	var d decoder
	evt := &event.ExpirySet{LogMeta: meta, Account: d.account("account", j.Account), MarketID: j.MarketID, Time: j.Time}
	return evt, d.err
}

// --- Administration ---

type addMarketJSON struct {
	logJSON
	MarketID uint64 `json:"market_id"`
	Token    string `json:"token"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals *uint8 `json:"decimals"`
}

func parseAddMarket(data []byte) (event.Event, error) {
	var j addMarketJSON
	meta, err := decode(data, &j)
	if err != nil {
		return nil, err
	}
	token, err := parseAddress("token", j.Token)
	if err != nil {
		return nil, err
	}
	return &event.AddMarket{
		LogMeta:  meta,
		MarketID: j.MarketID,
		Token:    token,
		Name:     j.Name,
		Symbol:   j.Symbol,
		Decimals: j.Decimals,
	}, nil
}

type removeMarketJSON struct {
	logJSON
	MarketID uint64 `json:"market_id"`
	Token    string `json:"token"`
}

func parseRemoveMarket(data []byte) (event.Event, error) {
	var j removeMarketJSON
	meta, err := decode(data, &j)
	if err != nil {
		return nil, err
	}
	evt := &event.RemoveMarket{LogMeta: meta, MarketID: j.MarketID}
	if j.Token != "" {
		if evt.Token, err = parseAddress("token", j.Token); err != nil {
			return nil, err
		}
	}
	return evt, nil
}

type valueJSON struct {
	logJSON
	MarketID uint64 `json:"market_id"`
	Value    string `json:"value"`
}

func parseGlobal(build func(event.LogMeta, *uint256.Int) event.Event) func([]byte) (event.Event, error) {
	return func(data []byte) (event.Event, error) {
		var j valueJSON
		meta, err := decode(data, &j)
		if err != nil {
			return nil, err
		}
		var d decoder
		v := d.value("value", j.Value)
		if d.err != nil {
			return nil, d.err
		}
		return build(meta, v), nil
	}
}

func parseMarketValue(build func(event.LogMeta, uint64, *uint256.Int) event.Event) func([]byte) (event.Event, error) {
	return func(data []byte) (event.Event, error) {
		var j valueJSON
		meta, err := decode(data, &j)
		if err != nil {
			return nil, err
		}
		var d decoder
		v := d.value("value", j.Value)
		if d.err != nil {
			return nil, d.err
		}
		return build(meta, j.MarketID, v), nil
	}
}

type setIsClosingJSON struct {
	logJSON
	MarketID  uint64 `json:"market_id"`
	IsClosing bool   `json:"is_closing"`
}

func parseSetIsClosing(data []byte) (event.Event, error) {
	var j setIsClosingJSON
	meta, err := decode(data, &j)
	if err != nil {
		return nil, err
	}
	return &event.SetIsClosing{LogMeta: meta, MarketID: j.MarketID, IsClosing: j.IsClosing}, nil
}
