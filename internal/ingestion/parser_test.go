package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"MarginIndexer/internal/event"
	"MarginIndexer/internal/ingestion"
	"MarginIndexer/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const txHash = "0x9f2c1e5a8b3d4f6071829a3b4c5d6e7f8091a2b3c4d5e6f708192a3b4c5d6e7f"

func rawFromJSON(t *testing.T, eventType string, v map[string]interface{}) ingestion.RawEvent {
	t.Helper()
	payload := map[string]interface{}{
		"contract":        testutil.MarginAddress.Hex(),
		"block_number":    12_000_000,
		"block_timestamp": 1_700_000_000,
		"tx_hash":         txHash,
		"tx_index":        4,
		"log_index":       17,
	}
	for k, val := range v {
		payload[k] = val
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return ingestion.RawEvent{
		Subject:   ingestion.SubjectPrefix + eventType,
		EventType: eventType,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func accountJSON(owner common.Address, number string) map[string]interface{} {
	return map[string]interface{}{"owner": owner.Hex(), "number": number}
}

func parJSON(sign bool, value string) map[string]interface{} {
	return map[string]interface{}{"sign": sign, "value": value}
}

func TestParseDeposit(t *testing.T) {
	raw := rawFromJSON(t, "Deposit", map[string]interface{}{
		"account":   accountJSON(testutil.Alice, "3"),
		"market_id": 2,
		"update":    parJSON(true, "115792089237316195423570985008687907853269984665640564039457584007913129639935"),
	})

	evt, err := ingestion.ParseRawEvent(raw, "Deposit")
	require.NoError(t, err)
	dep, ok := evt.(*event.Deposit)
	require.True(t, ok, "got %T", evt)

	assert.Equal(t, testutil.MarginAddress, dep.Contract)
	assert.Equal(t, uint64(12_000_000), dep.BlockNumber)
	assert.Equal(t, uint64(4), dep.TxIndex)
	assert.Equal(t, uint64(17), dep.LogIndex)
	assert.Equal(t, txHash+"-17", dep.IdempotencyKey())
	assert.Equal(t, testutil.Alice, dep.Account.Owner)
	assert.Equal(t, "3", dep.Account.NumberString())
	assert.Equal(t, uint64(2), dep.MarketID)
	assert.True(t, dep.Update.Sign)
	assert.Equal(t, 256, dep.Update.Value.BitLen(), "max uint256 must survive the wire")
}

func TestParseTrade(t *testing.T) {
	raw := rawFromJSON(t, "Trade", map[string]interface{}{
		"taker_account":       accountJSON(testutil.Bob, "0"),
		"maker_account":       accountJSON(testutil.Alice, "1"),
		"input_market":        0,
		"output_market":       1,
		"taker_input_update":  parJSON(true, "5"),
		"taker_output_update": parJSON(false, "30"),
		"maker_input_update":  parJSON(false, "5"),
		"maker_output_update": parJSON(true, "30"),
	})

	evt, err := ingestion.ParseRawEvent(raw, "Trade")
	require.NoError(t, err)
	tr := evt.(*event.Trade)

	updates := tr.BalanceUpdates()
	require.Len(t, updates, 4)
	assert.Equal(t, testutil.Alice, updates[0].Account.Owner)
	assert.False(t, updates[0].NewPar.Sign)
	assert.Equal(t, uint64(5), updates[0].NewPar.Value.Uint64())
	assert.Equal(t, testutil.Bob, updates[3].Account.Owner)
	assert.False(t, updates[3].NewPar.Sign)
}

func TestParseExpirySetAndAdmin(t *testing.T) {
	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, "ExpirySet", map[string]interface{}{
		"account":   accountJSON(testutil.Alice, "0"),
		"market_id": 1,
		"time":      1_800_000_000,
	}), "ExpirySet")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_800_000_000), evt.(*event.ExpirySet).Time)

	evt, err = ingestion.ParseRawEvent(rawFromJSON(t, "AddMarket", map[string]interface{}{
		"market_id": 3,
		"token":     testutil.USDC.Hex(),
		"symbol":    "USDC",
		"decimals":  6,
	}), "AddMarket")
	require.NoError(t, err)
	add := evt.(*event.AddMarket)
	assert.Equal(t, testutil.USDC, add.Token)
	require.NotNil(t, add.Decimals)
	assert.Equal(t, uint8(6), *add.Decimals)

	evt, err = ingestion.ParseRawEvent(rawFromJSON(t, "AddMarket", map[string]interface{}{
		"market_id": 4,
		"token":     testutil.DAI.Hex(),
	}), "AddMarket")
	require.NoError(t, err)
	assert.Nil(t, evt.(*event.AddMarket).Decimals, "absent decimals stay unset")

	evt, err = ingestion.ParseRawEvent(rawFromJSON(t, "SetMarginPremium", map[string]interface{}{
		"market_id": 1,
		"value":     "250000000000000000",
	}), "SetMarginPremium")
	require.NoError(t, err)
	mp := evt.(*event.SetMarginPremium)
	assert.Equal(t, uint64(1), mp.MarketID)
	assert.Equal(t, uint64(250_000_000_000_000_000), mp.Value.Uint64())

	evt, err = ingestion.ParseRawEvent(rawFromJSON(t, "SetIsClosing", map[string]interface{}{
		"market_id":  1,
		"is_closing": true,
	}), "SetIsClosing")
	require.NoError(t, err)
	assert.True(t, evt.(*event.SetIsClosing).IsClosing)
}

func TestParseEveryEventType(t *testing.T) {
	for et := event.EventTypeDeposit; et <= event.EventTypeSetIsClosing; et++ {
		fields := map[string]interface{}{"token": testutil.DAI.Hex()}
		for _, key := range []string{"account", "account_one", "account_two", "taker_account", "maker_account", "solid_account", "liquid_account", "vapor_account"} {
			fields[key] = accountJSON(testutil.Alice, "0")
		}
		raw := rawFromJSON(t, et.String(), fields)
		evt, err := ingestion.ParseRawEvent(raw, et.String())
		require.NoError(t, err, et.String())
		assert.Equal(t, et, evt.EventType())
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		fields    map[string]interface{}
	}{
		{"unknown type", "FundingSettle", nil},
		{"bad owner", "Deposit", map[string]interface{}{"account": map[string]interface{}{"owner": "0xzz", "number": "0"}}},
		{"negative magnitude", "Deposit", map[string]interface{}{"account": accountJSON(testutil.Alice, "0"), "update": parJSON(false, "-5")}},
		{"overflow", "Withdraw", map[string]interface{}{"account": accountJSON(testutil.Alice, "0"), "update": parJSON(true, "115792089237316195423570985008687907853269984665640564039457584007913129639936")}},
		{"bad account number", "ExpirySet", map[string]interface{}{"account": accountJSON(testutil.Alice, "seven")}},
		{"bad tx hash", "SetEarningsRate", map[string]interface{}{"tx_hash": "0x1234"}},
		{"bad contract", "SetEarningsRate", map[string]interface{}{"contract": "margin"}},
		{"bad token", "AddMarket", map[string]interface{}{"token": "0xnothex"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingestion.ParseRawEvent(rawFromJSON(t, tt.eventType, tt.fields), tt.eventType)
			assert.Error(t, err)
		})
	}
}

func TestEventTypeFromSubject(t *testing.T) {
	name, ok := ingestion.EventTypeFromSubject("margin.events.Deposit")
	assert.True(t, ok)
	assert.Equal(t, "Deposit", name)

	_, ok = ingestion.EventTypeFromSubject("margin.indexer.accounts.Deposit")
	assert.False(t, ok)
	_, ok = ingestion.EventTypeFromSubject("margin.events.a.b")
	assert.False(t, ok)
}

func TestOrderedSubjectsUseOneConsumer(t *testing.T) {
	subjects := ingestion.OrderedSubjects()
	require.Len(t, subjects, 1, "one consumer keeps cross-type log order")
	assert.Equal(t, ingestion.SubjectPrefix+">", subjects[0].Subject)
	assert.Equal(t, ingestion.EventStream, subjects[0].StreamName)
	assert.Empty(t, subjects[0].EventType, "type comes from each message subject")

	for et := event.EventTypeDeposit; et <= event.EventTypeSetIsClosing; et++ {
		name, ok := ingestion.EventTypeFromSubject(ingestion.SubjectPrefix + et.String())
		require.True(t, ok, et.String())
		assert.Equal(t, et.String(), name)
	}
}
