package swap

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/koinu-labs/kins/client"
	"github.com/koinu-labs/kins/constants"
	"github.com/koinu-labs/kins/dao"
	"github.com/koinu-labs/kins/inscription/log"
	"github.com/koinu-labs/kins/internal/util"
	"github.com/koinu-labs/kins/tables"
)

// Ledger is the append-only marketplace event log. *dao.DB satisfies it.
type Ledger interface {
	AppendListingEvent(event *tables.ListingEvent) error
	LatestListingEvent(assetId string) (tables.ListingEvent, error)
	ActiveListing(assetId string) (tables.ListingEvent, error)
	SoldEventsByCollection(collection string) ([]tables.ListingEvent, error)
}

// ChainBridge is the node surface the swap flows need.
type ChainBridge interface {
	ListUnspent(ctx context.Context, addresses ...string) ([]client.Unspent, error)
	SignRawTransactionWithWallet(ctx context.Context, rawTx string) (*client.SignResult, error)
	SendRawTransaction(ctx context.Context, rawTx string) (string, error)
}

// Market implements the PSBT swap protocol over the ledger and the node.
// Atomicity needs no escrow: the finalized transaction moves the payment and
// the asset as a single on-chain unit. Each call is one request-response with
// no shared in-memory state; everything durable lives in the ledger.
type Market struct {
	ledger       Ledger
	chain        ChainBridge
	params       *chaincfg.Params
	feeRatePerKB uint64
}

type Option func(*Market)

func WithLedger(ledger Ledger) Option {
	return func(m *Market) {
		m.ledger = ledger
	}
}

func WithChain(chain ChainBridge) Option {
	return func(m *Market) {
		m.chain = chain
	}
}

func WithNetParams(params *chaincfg.Params) Option {
	return func(m *Market) {
		m.params = params
	}
}

func WithFeeRatePerKB(rate uint64) Option {
	return func(m *Market) {
		if rate > 0 {
			m.feeRatePerKB = rate
		}
	}
}

func NewMarket(opts ...Option) (*Market, error) {
	m := &Market{
		params:       util.ActiveNet,
		feeRatePerKB: constants.DefaultFeeRatePerKB,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if m.chain == nil {
		return nil, errors.New("chain bridge is required")
	}
	return m, nil
}

// BuildListingPsbt constructs the seller side of a listing: an unsigned
// transaction spending the asset outpoint with output 0 paying the price to
// the seller. The seller signs input 0 with SigHashSingle|AnyOneCanPay so the
// buyer can append funding inputs and outputs without invalidating it.
func BuildListingPsbt(asset *client.OutPoint, assetValue uint64, seller string, price uint64, params *chaincfg.Params) (string, error) {
	hash, err := chainhash.NewHashFromStr(asset.Txid)
	if err != nil {
		return "", err
	}
	sellerScript, err := util.AddressScript(seller, params)
	if err != nil {
		return "", err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, asset.Vout), nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(price), sellerScript))

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return "", err
	}
	packet.Inputs[0].WitnessUtxo = wire.NewTxOut(int64(assetValue), sellerScript)
	packet.Inputs[0].SighashType = txscript.SigHashSingle | txscript.SigHashAnyOneCanPay
	return packet.B64Encode()
}

// ListRequest lists an inscribed asset for sale.
type ListRequest struct {
	AssetId    string
	Collection string
	Seller     string
	Price      uint64
	Psbt       string
}

// List validates the seller's PSBT against the declared price and appends the
// listed row. The PSBT travels with the row so Buy can complete it later.
func (m *Market) List(_ context.Context, req *ListRequest) (*tables.ListingEvent, error) {
	if client.InscriptionIdToOutpoint(req.AssetId) == nil {
		return nil, fmt.Errorf("invalid asset id %q", req.AssetId)
	}
	packet, err := parsePsbt(req.Psbt)
	if err != nil {
		return nil, err
	}
	if err := m.verifyPriceOutput(packet, req.Price, req.Seller); err != nil {
		return nil, err
	}

	event := &tables.ListingEvent{
		AssetId:    req.AssetId,
		Collection: req.Collection,
		Status:     tables.ListingStatusListed,
		Seller:     req.Seller,
		Price:      req.Price,
		Psbt:       []byte(req.Psbt),
		Timestamp:  time.Now(),
	}
	if err := m.ledger.AppendListingEvent(event); err != nil {
		return nil, err
	}
	log.Srv.Infof("listed %s for %d koinu by %s", req.AssetId, req.Price, req.Seller)
	return event, nil
}

// BuyRequest completes a listing.
type BuyRequest struct {
	AssetId     string
	Buyer       string
	Destination string
	Price       uint64
}

// Buy loads the seller's PSBT, verifies the embedded price output against the
// price the buyer agreed to, funds and finalizes the swap, broadcasts it, and
// appends the sold row. Every failure leaves the ledger untouched; there is
// no auto-retry.
func (m *Market) Buy(ctx context.Context, req *BuyRequest) (*tables.ListingEvent, error) {
	listing, err := m.ledger.ActiveListing(req.AssetId)
	if err != nil {
		if dao.IsRecordNotFound(err) {
			return nil, ErrNotListed
		}
		return nil, err
	}
	packet, err := parsePsbt(string(listing.Psbt))
	if err != nil {
		return nil, err
	}
	if listing.Price != req.Price {
		return nil, ErrPriceTamper
	}
	if err := m.verifyPriceOutput(packet, req.Price, listing.Seller); err != nil {
		return nil, err
	}

	tx := packet.UnsignedTx.Copy()
	assetValue := int64(constants.DefaultPostage)
	if packet.Inputs[0].WitnessUtxo != nil {
		assetValue = packet.Inputs[0].WitnessUtxo.Value
	}
	if sig := packet.Inputs[0].FinalScriptSig; len(sig) > 0 {
		tx.TxIn[0].SignatureScript = sig
	}

	destination := req.Destination
	if destination == "" {
		destination = req.Buyer
	}
	destScript, err := util.AddressScript(destination, m.params)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(assetValue, destScript))

	if err := m.fundTransaction(ctx, tx, req.Buyer, req.Price); err != nil {
		return nil, err
	}

	txid, err := m.signAndSend(ctx, tx)
	if err != nil {
		return nil, err
	}

	event := &tables.ListingEvent{
		AssetId:    req.AssetId,
		Collection: listing.Collection,
		Status:     tables.ListingStatusSold,
		Seller:     listing.Seller,
		Buyer:      req.Buyer,
		Price:      req.Price,
		TxId:       txid,
		Timestamp:  time.Now(),
	}
	if err := m.ledger.AppendListingEvent(event); err != nil {
		return nil, err
	}
	log.Srv.Infof("sold %s to %s for %d koinu, tx %s", req.AssetId, req.Buyer, req.Price, txid)
	return event, nil
}

// Unlist appends an unlisted row. Authorization is off-chain: the caller's
// address must equal the seller on the latest listed row.
func (m *Market) Unlist(_ context.Context, assetId, caller string) (*tables.ListingEvent, error) {
	listing, err := m.ledger.ActiveListing(assetId)
	if err != nil {
		if dao.IsRecordNotFound(err) {
			return nil, ErrNotListed
		}
		return nil, err
	}
	if listing.Seller != caller {
		return nil, ErrNotSeller
	}

	event := &tables.ListingEvent{
		AssetId:    assetId,
		Collection: listing.Collection,
		Status:     tables.ListingStatusUnlisted,
		Seller:     listing.Seller,
		Timestamp:  time.Now(),
	}
	if err := m.ledger.AppendListingEvent(event); err != nil {
		return nil, err
	}
	log.Srv.Infof("unlisted %s by %s", assetId, caller)
	return event, nil
}

// SendRequest transfers an asset outside of a sale.
type SendRequest struct {
	AssetId string
	From    string
	To      string
}

// Send moves the asset outpoint to the recipient and appends a sent row. The
// row is appended even when the ledger has never seen the asset.
func (m *Market) Send(ctx context.Context, req *SendRequest) (*tables.ListingEvent, error) {
	outpoint := client.InscriptionIdToOutpoint(req.AssetId)
	if outpoint == nil {
		return nil, fmt.Errorf("invalid asset id %q", req.AssetId)
	}
	hash, err := chainhash.NewHashFromStr(outpoint.Txid)
	if err != nil {
		return nil, err
	}
	toScript, err := util.AddressScript(req.To, m.params)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, outpoint.Vout), nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(constants.DefaultPostage), toScript))
	if err := m.fundTransaction(ctx, tx, req.From, 0); err != nil {
		return nil, err
	}

	txid, err := m.signAndSend(ctx, tx)
	if err != nil {
		return nil, err
	}

	collection := ""
	if latest, lerr := m.ledger.LatestListingEvent(req.AssetId); lerr == nil {
		collection = latest.Collection
	}
	event := &tables.ListingEvent{
		AssetId:    req.AssetId,
		Collection: collection,
		Status:     tables.ListingStatusSent,
		Seller:     req.From,
		Buyer:      req.To,
		TxId:       txid,
		Timestamp:  time.Now(),
	}
	if err := m.ledger.AppendListingEvent(event); err != nil {
		return nil, err
	}
	log.Srv.Infof("sent %s from %s to %s, tx %s", req.AssetId, req.From, req.To, txid)
	return event, nil
}

// Status returns the asset's current state, the latest ledger row.
func (m *Market) Status(assetId string) (tables.ListingEvent, error) {
	return m.ledger.LatestListingEvent(assetId)
}

// SoldByCollection returns every completed sale in a collection, newest first.
func (m *Market) SoldByCollection(collection string) ([]tables.ListingEvent, error) {
	return m.ledger.SoldEventsByCollection(collection)
}

// verifyPriceOutput is the tamper check: output 0 must pay exactly the agreed
// price to the seller. Fails closed on any mismatch.
func (m *Market) verifyPriceOutput(packet *psbt.Packet, price uint64, seller string) error {
	if len(packet.UnsignedTx.TxOut) == 0 || len(packet.UnsignedTx.TxIn) == 0 {
		return ErrPriceTamper
	}
	sellerScript, err := util.AddressScript(seller, m.params)
	if err != nil {
		return err
	}
	out := packet.UnsignedTx.TxOut[0]
	if out.Value != int64(price) || !bytes.Equal(out.PkScript, sellerScript) {
		return ErrPriceTamper
	}
	return nil
}

// fundTransaction appends wallet inputs from addr until target plus the fee
// is covered, plus a change output when it clears dust.
func (m *Market) fundTransaction(ctx context.Context, tx *wire.MsgTx, addr string, target uint64) error {
	unspent, err := m.chain.ListUnspent(ctx, addr)
	if err != nil {
		return err
	}
	sort.Slice(unspent, func(i, j int) bool {
		if unspent[i].Amount != unspent[j].Amount {
			return unspent[i].Amount > unspent[j].Amount
		}
		return unspent[i].TxId < unspent[j].TxId
	})

	changeScript, err := util.AddressScript(addr, m.params)
	if err != nil {
		return err
	}

	var total, fee uint64
	covered := false
	for _, u := range unspent {
		if !u.Spendable {
			continue
		}
		hash, err := chainhash.NewHashFromStr(u.TxId)
		if err != nil {
			return err
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, u.Vout), nil, nil))
		total += u.Amount.Koinu()
		fee = m.estimateFee(len(tx.TxIn), len(tx.TxOut)+1)
		if total >= target+fee {
			covered = true
			break
		}
	}
	if !covered {
		return ErrInsufficientFunds
	}
	if change := total - target - fee; change >= constants.DustLimit {
		tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))
	}
	return nil
}

func (m *Market) signAndSend(ctx context.Context, tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	signed, err := m.chain.SignRawTransactionWithWallet(ctx, hex.EncodeToString(buf.Bytes()))
	if err != nil {
		return "", err
	}
	if !signed.Complete {
		return "", ErrIncompleteSwap
	}
	return m.chain.SendRawTransaction(ctx, signed.Hex)
}

func (m *Market) estimateFee(inputs, outputs int) uint64 {
	size := uint64(10 + inputs*148 + outputs*34)
	return constants.PerTxBaseFee + m.feeRatePerKB*size/1024
}

func parsePsbt(encoded string) (*psbt.Packet, error) {
	return psbt.NewFromRawBytes(strings.NewReader(encoded), true)
}
