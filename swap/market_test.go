package swap

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/koinu-labs/kins/client"
	"github.com/koinu-labs/kins/internal/util"
	"github.com/koinu-labs/kins/tables"
)

type fakeLedger struct {
	rows []tables.ListingEvent
}

func (f *fakeLedger) AppendListingEvent(event *tables.ListingEvent) error {
	event.Id = uint64(len(f.rows) + 1)
	f.rows = append(f.rows, *event)
	return nil
}

func (f *fakeLedger) LatestListingEvent(assetId string) (tables.ListingEvent, error) {
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].AssetId == assetId {
			return f.rows[i], nil
		}
	}
	return tables.ListingEvent{}, gorm.ErrRecordNotFound
}

func (f *fakeLedger) ActiveListing(assetId string) (tables.ListingEvent, error) {
	event, err := f.LatestListingEvent(assetId)
	if err != nil {
		return event, err
	}
	if event.Status != tables.ListingStatusListed {
		return event, gorm.ErrRecordNotFound
	}
	return event, nil
}

func (f *fakeLedger) SoldEventsByCollection(collection string) ([]tables.ListingEvent, error) {
	var events []tables.ListingEvent
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].Collection == collection && f.rows[i].Status == tables.ListingStatusSold {
			events = append(events, f.rows[i])
		}
	}
	return events, nil
}

type fakeBridge struct {
	unspent    []client.Unspent
	broadcasts []string
}

func (f *fakeBridge) addUnspent(txid string, value uint64) {
	f.unspent = append(f.unspent, client.Unspent{
		TxId:      txid,
		Amount:    client.Amount(client.AmountFromKoinu(value)),
		Spendable: true,
	})
}

func (f *fakeBridge) ListUnspent(_ context.Context, _ ...string) ([]client.Unspent, error) {
	return f.unspent, nil
}

func (f *fakeBridge) SignRawTransactionWithWallet(_ context.Context, rawTx string) (*client.SignResult, error) {
	raw, err := hex.DecodeString(rawTx)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	for _, in := range tx.TxIn {
		if len(in.SignatureScript) == 0 {
			in.SignatureScript = []byte("sig")
		}
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return &client.SignResult{Hex: hex.EncodeToString(buf.Bytes()), Complete: true}, nil
}

func (f *fakeBridge) SendRawTransaction(_ context.Context, rawTx string) (string, error) {
	raw, err := hex.DecodeString(rawTx)
	if err != nil {
		return "", err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", err
	}
	txid := tx.TxHash().String()
	f.broadcasts = append(f.broadcasts, txid)
	return txid, nil
}

func newTestAddress(t *testing.T, seed byte) string {
	t.Helper()
	var raw [32]byte
	raw[31] = seed
	priv, _ := btcec.PrivKeyFromBytes(raw[:])
	addr, err := util.PubKeyAddress(priv.PubKey(), util.ActiveNet)
	require.NoError(t, err)
	return addr
}

func newTestMarket(t *testing.T, ledger *fakeLedger, bridge *fakeBridge) *Market {
	t.Helper()
	market, err := NewMarket(WithLedger(ledger), WithChain(bridge))
	require.NoError(t, err)
	return market
}

func listAsset(t *testing.T, market *Market, assetId, seller string, price uint64) *tables.ListingEvent {
	t.Helper()
	outpoint := client.InscriptionIdToOutpoint(assetId)
	require.NotNil(t, outpoint)
	encoded, err := BuildListingPsbt(outpoint, 100_000, seller, price, util.ActiveNet)
	require.NoError(t, err)

	event, err := market.List(context.Background(), &ListRequest{
		AssetId:    assetId,
		Collection: "shibes",
		Seller:     seller,
		Price:      price,
		Psbt:       encoded,
	})
	require.NoError(t, err)
	return event
}

func TestListAndStatus(t *testing.T) {
	ledger := &fakeLedger{}
	market := newTestMarket(t, ledger, &fakeBridge{})
	seller := newTestAddress(t, 1)
	assetId := fmt.Sprintf("%064x", 9) + "i0"

	event := listAsset(t, market, assetId, seller, 5_000_000)
	require.Equal(t, tables.ListingStatusListed, event.Status)

	status, err := market.Status(assetId)
	require.NoError(t, err)
	require.Equal(t, tables.ListingStatusListed, status.Status)
	require.Equal(t, seller, status.Seller)
	require.EqualValues(t, 5_000_000, status.Price)
}

func TestListRejectsPriceMismatch(t *testing.T) {
	market := newTestMarket(t, &fakeLedger{}, &fakeBridge{})
	seller := newTestAddress(t, 1)
	assetId := fmt.Sprintf("%064x", 9) + "i0"
	outpoint := client.InscriptionIdToOutpoint(assetId)
	encoded, err := BuildListingPsbt(outpoint, 100_000, seller, 5_000_000, util.ActiveNet)
	require.NoError(t, err)

	_, err = market.List(context.Background(), &ListRequest{
		AssetId: assetId,
		Seller:  seller,
		Price:   4_000_000,
		Psbt:    encoded,
	})
	require.ErrorIs(t, err, ErrPriceTamper)
}

func TestBuyCompletesSwap(t *testing.T) {
	ledger := &fakeLedger{}
	bridge := &fakeBridge{}
	bridge.addUnspent(fmt.Sprintf("%064x", 20), 10_000_000)
	market := newTestMarket(t, ledger, bridge)

	seller := newTestAddress(t, 1)
	buyer := newTestAddress(t, 2)
	assetId := fmt.Sprintf("%064x", 9) + "i0"
	listAsset(t, market, assetId, seller, 5_000_000)

	event, err := market.Buy(context.Background(), &BuyRequest{
		AssetId: assetId,
		Buyer:   buyer,
		Price:   5_000_000,
	})
	require.NoError(t, err)
	require.Equal(t, tables.ListingStatusSold, event.Status)
	require.Equal(t, seller, event.Seller)
	require.Equal(t, buyer, event.Buyer)
	require.NotEmpty(t, event.TxId)
	require.Len(t, bridge.broadcasts, 1)

	status, err := market.Status(assetId)
	require.NoError(t, err)
	require.Equal(t, tables.ListingStatusSold, status.Status)

	sold, err := market.SoldByCollection("shibes")
	require.NoError(t, err)
	require.Len(t, sold, 1)
	require.Equal(t, event.TxId, sold[0].TxId)
}

// A buyer who agreed to a different price than the listing carries must be
// stopped before anything is signed or broadcast.
func TestBuyPriceTamperFailsClosed(t *testing.T) {
	ledger := &fakeLedger{}
	bridge := &fakeBridge{}
	bridge.addUnspent(fmt.Sprintf("%064x", 20), 10_000_000)
	market := newTestMarket(t, ledger, bridge)

	seller := newTestAddress(t, 1)
	assetId := fmt.Sprintf("%064x", 9) + "i0"
	listAsset(t, market, assetId, seller, 5_000_000)

	_, err := market.Buy(context.Background(), &BuyRequest{
		AssetId: assetId,
		Buyer:   newTestAddress(t, 2),
		Price:   1_000_000,
	})
	require.ErrorIs(t, err, ErrPriceTamper)
	require.Empty(t, bridge.broadcasts)
	require.Len(t, ledger.rows, 1)
}

func TestBuyNotListed(t *testing.T) {
	market := newTestMarket(t, &fakeLedger{}, &fakeBridge{})
	_, err := market.Buy(context.Background(), &BuyRequest{
		AssetId: fmt.Sprintf("%064x", 9) + "i0",
		Buyer:   newTestAddress(t, 2),
		Price:   5_000_000,
	})
	require.ErrorIs(t, err, ErrNotListed)
}

func TestBuyInsufficientFunds(t *testing.T) {
	ledger := &fakeLedger{}
	market := newTestMarket(t, ledger, &fakeBridge{})
	seller := newTestAddress(t, 1)
	assetId := fmt.Sprintf("%064x", 9) + "i0"
	listAsset(t, market, assetId, seller, 5_000_000)

	_, err := market.Buy(context.Background(), &BuyRequest{
		AssetId: assetId,
		Buyer:   newTestAddress(t, 2),
		Price:   5_000_000,
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Len(t, ledger.rows, 1)
}

func TestUnlistSellerOnly(t *testing.T) {
	ledger := &fakeLedger{}
	market := newTestMarket(t, ledger, &fakeBridge{})
	seller := newTestAddress(t, 1)
	stranger := newTestAddress(t, 3)
	assetId := fmt.Sprintf("%064x", 9) + "i0"
	listAsset(t, market, assetId, seller, 5_000_000)

	_, err := market.Unlist(context.Background(), assetId, stranger)
	require.ErrorIs(t, err, ErrNotSeller)

	event, err := market.Unlist(context.Background(), assetId, seller)
	require.NoError(t, err)
	require.Equal(t, tables.ListingStatusUnlisted, event.Status)

	// the projection reflects the newest row
	_, err = market.Buy(context.Background(), &BuyRequest{
		AssetId: assetId,
		Buyer:   newTestAddress(t, 2),
		Price:   5_000_000,
	})
	require.ErrorIs(t, err, ErrNotListed)
}

// Relisting after an unlist must project the newest listing, not any earlier
// row: list at 100, unlist, list again at 120, and the status is the second
// listing's price.
func TestRelistProjectsLatestListing(t *testing.T) {
	ledger := &fakeLedger{}
	market := newTestMarket(t, ledger, &fakeBridge{})
	seller := newTestAddress(t, 1)
	assetId := fmt.Sprintf("%064x", 9) + "i0"

	listAsset(t, market, assetId, seller, 100_000_000)
	_, err := market.Unlist(context.Background(), assetId, seller)
	require.NoError(t, err)
	listAsset(t, market, assetId, seller, 120_000_000)

	status, err := market.Status(assetId)
	require.NoError(t, err)
	require.Equal(t, tables.ListingStatusListed, status.Status)
	require.EqualValues(t, 120_000_000, status.Price)
	require.Len(t, ledger.rows, 3)
}

func TestSendUntrackedAsset(t *testing.T) {
	ledger := &fakeLedger{}
	bridge := &fakeBridge{}
	bridge.addUnspent(fmt.Sprintf("%064x", 20), 10_000_000)
	market := newTestMarket(t, ledger, bridge)

	assetId := fmt.Sprintf("%064x", 11) + "i0"
	event, err := market.Send(context.Background(), &SendRequest{
		AssetId: assetId,
		From:    newTestAddress(t, 1),
		To:      newTestAddress(t, 2),
	})
	require.NoError(t, err)
	require.Equal(t, tables.ListingStatusSent, event.Status)
	require.NotEmpty(t, event.TxId)
	require.Len(t, ledger.rows, 1)

	status, err := market.Status(assetId)
	require.NoError(t, err)
	require.Equal(t, tables.ListingStatusSent, status.Status)
}
