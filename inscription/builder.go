package inscription

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/koinu-labs/kins/client"
	"github.com/koinu-labs/kins/constants"
	"github.com/koinu-labs/kins/internal/util"
)

// ChainClient is the node surface the engine needs. *client.Client satisfies
// it; tests substitute an in-memory fake.
type ChainClient interface {
	ListUnspent(ctx context.Context, addresses ...string) ([]client.Unspent, error)
	CreateRawTransaction(ctx context.Context, inputs []client.RawTxInput, outputs map[string]uint64) (string, error)
	SignRawTransactionWithKey(ctx context.Context, rawTx string, keys []string, prevTxs []client.RawTxInput) (*client.SignResult, error)
	SignRawTransactionWithWallet(ctx context.Context, rawTx string) (*client.SignResult, error)
	SendRawTransaction(ctx context.Context, rawTx string) (string, error)
	GetTransaction(ctx context.Context, txid string) (*client.TxStatus, error)
	EstimateFee(ctx context.Context, nBlocks int) (uint64, error)
}

// NewEphemeralKey generates the throwaway key that encumbers a job's lock
// outputs. The key lives only in the job's checkpoint; losing it strands the
// chain's intermediate value, which is why it is serialized before the first
// broadcast.
func NewEphemeralKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// KeyToWIF serializes the ephemeral key for checkpoint storage.
func KeyToWIF(priv *btcec.PrivateKey, params *chaincfg.Params) (string, error) {
	wif, err := btcutil.NewWIF(priv, params, true)
	if err != nil {
		return "", err
	}
	return wif.String(), nil
}

// KeyFromWIF restores the ephemeral key from a checkpoint.
func KeyFromWIF(encoded string) (*btcec.PrivateKey, error) {
	wif, err := btcutil.DecodeWIF(encoded)
	if err != nil {
		return nil, err
	}
	return wif.PrivKey, nil
}

// CommitLockScript is the redeem script of an intermediate hop output:
// spendable only by the job's ephemeral key.
func CommitLockScript(pub *btcec.PublicKey) []byte {
	script := appendDataPush(nil, pub.SerializeCompressed())
	return append(script, txscript.OP_CHECKSIG)
}

// revealLockOverhead is what the key check adds to the reveal redeem script
// beyond the envelope itself: a compressed public key push and OP_CHECKSIG.
const revealLockOverhead = 35

// RevealLockScript is the redeem script of the final commit output. The
// envelope rides in front of the key check inside its unexecuted branch, so
// spending the output publishes the inscription.
func RevealLockScript(envelope *RevealScript, pub *btcec.PublicKey) []byte {
	script := make([]byte, 0, len(envelope.Script())+40)
	script = append(script, envelope.Script()...)
	script = appendDataPush(script, pub.SerializeCompressed())
	return append(script, txscript.OP_CHECKSIG)
}

// AttachLocks fills in the plan's lock redeem scripts: hop locks for every
// segment but the last, the reveal lock for the final segment.
func AttachLocks(plan *ChainPlan, envelope *RevealScript, pub *btcec.PublicKey) {
	plan.Locks = make([][]byte, len(plan.Segments))
	for i := range plan.Segments {
		if i == len(plan.Segments)-1 {
			plan.Locks[i] = RevealLockScript(envelope, pub)
		} else {
			plan.Locks[i] = CommitLockScript(pub)
		}
	}
}

// TxBuilder assembles and signs the chain's transactions through the node.
type TxBuilder struct {
	chain  ChainClient
	params *chaincfg.Params
}

func NewTxBuilder(chain ChainClient, params *chaincfg.Params) *TxBuilder {
	return &TxBuilder{chain: chain, params: params}
}

// BuildCommit assembles and signs commit transaction index. The first commit
// spends wallet outputs and is signed by the node wallet; later commits spend
// the previous lock output and are signed with the ephemeral key, with the
// redeem script supplied out of band since the node has never seen it.
func (b *TxBuilder) BuildCommit(ctx context.Context, plan *ChainPlan, index int, prevTxId, changeAddr, wif string) (string, error) {
	segment := plan.Segments[index]

	inputs := make([]client.RawTxInput, 0, len(segment.Inputs)+1)
	if segment.SpendsPrevious {
		inputs = append(inputs, client.RawTxInput{
			TxId: prevTxId,
			Vout: plan.LockVouts[index-1],
		})
	}
	for _, u := range segment.Inputs {
		inputs = append(inputs, client.RawTxInput{TxId: u.TxId, Vout: u.Vout})
	}

	lockAddr, err := util.ScriptHashAddress(plan.Locks[index], b.params)
	if err != nil {
		return "", err
	}
	outputs := map[string]uint64{lockAddr: plan.SegmentValues[index]}

	if index == 0 {
		walletIn := sumValues(segment.Inputs)
		fee := txFee(estimateTxSize(len(segment.Inputs), 2), plan.FeeRatePerKB)
		if walletIn < plan.SegmentValues[0]+fee {
			return "", ErrInsufficientFunds
		}
		change := walletIn - plan.SegmentValues[0] - fee
		if change >= constants.DustLimit {
			outputs[changeAddr] = change
		}
	}

	rawTx, err := b.chain.CreateRawTransaction(ctx, inputs, outputs)
	if err != nil {
		return "", err
	}
	// The node orders outputs as it pleases, so the lock's vout is read back
	// from the assembled transaction instead of assumed.
	vout, err := b.lockOutputIndex(rawTx, lockAddr)
	if err != nil {
		return "", err
	}
	plan.LockVouts[index] = vout
	if index == len(plan.Segments)-1 {
		plan.TargetCommitOutput = int(vout)
	}

	var result *client.SignResult
	if index == 0 {
		result, err = b.chain.SignRawTransactionWithWallet(ctx, rawTx)
	} else {
		prevTxs, perr := b.prevLockInput(plan, index-1, prevTxId)
		if perr != nil {
			return "", perr
		}
		result, err = b.chain.SignRawTransactionWithKey(ctx, rawTx, []string{wif}, prevTxs)
	}
	if err != nil {
		return "", err
	}
	return signedHex(result)
}

// BuildReveal assembles and signs the reveal transaction: one input spending
// the final lock output, one output paying the inscribed value to destination.
func (b *TxBuilder) BuildReveal(ctx context.Context, plan *ChainPlan, prevTxId, destination, wif string) (string, error) {
	last := len(plan.Segments) - 1
	redeem := plan.Locks[last]

	fee := txFee(estimateTxSize(1, 1)+uint64(len(redeem)), plan.FeeRatePerKB) +
		constants.RevealFeePadding
	if plan.BaseCommitValue < fee+constants.DustLimit {
		return "", ErrInsufficientFunds
	}

	inputs := []client.RawTxInput{{
		TxId: prevTxId,
		Vout: plan.LockVouts[last],
	}}
	outputs := map[string]uint64{destination: plan.BaseCommitValue - fee}

	rawTx, err := b.chain.CreateRawTransaction(ctx, inputs, outputs)
	if err != nil {
		return "", err
	}

	prevTxs, err := b.prevLockInput(plan, last, prevTxId)
	if err != nil {
		return "", err
	}
	result, err := b.chain.SignRawTransactionWithKey(ctx, rawTx, []string{wif}, prevTxs)
	if err != nil {
		return "", err
	}
	return signedHex(result)
}

// prevLockInput describes the lock output of commit lockIndex so the node can
// sign a spend of it.
func (b *TxBuilder) prevLockInput(plan *ChainPlan, lockIndex int, txid string) ([]client.RawTxInput, error) {
	redeem := plan.Locks[lockIndex]
	lockAddr, err := util.ScriptHashAddress(redeem, b.params)
	if err != nil {
		return nil, err
	}
	scriptPubKey, err := util.AddressScript(lockAddr, b.params)
	if err != nil {
		return nil, err
	}
	return []client.RawTxInput{{
		TxId:         txid,
		Vout:         plan.LockVouts[lockIndex],
		ScriptPubKey: hex.EncodeToString(scriptPubKey),
		RedeemScript: hex.EncodeToString(redeem),
		Amount:       client.AmountFromKoinu(plan.SegmentValues[lockIndex]),
	}}, nil
}

// lockOutputIndex locates the output paying lockAddr in a raw transaction.
func (b *TxBuilder) lockOutputIndex(rawTx, lockAddr string) (uint32, error) {
	want, err := util.AddressScript(lockAddr, b.params)
	if err != nil {
		return 0, err
	}
	raw, err := hex.DecodeString(rawTx)
	if err != nil {
		return 0, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return 0, err
	}
	for i, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, want) {
			return uint32(i), nil
		}
	}
	return 0, fmt.Errorf("no output pays lock address %s", lockAddr)
}

func signedHex(result *client.SignResult) (string, error) {
	if result.Complete {
		return result.Hex, nil
	}
	details := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		details = append(details, e.Error)
	}
	if len(details) == 0 {
		details = append(details, "incomplete signature set")
	}
	return "", &SigningError{Detail: strings.Join(details, "; ")}
}
