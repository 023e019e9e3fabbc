package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/koinu-labs/kins/constants"
	"github.com/shopspring/decimal"
)

// PolicyError is a broadcast rejection the caller can correct, typically a
// fee below the node's relay floor. It is distinct from node-internal
// failures so jobs can surface a useful message instead of retrying blindly.
type PolicyError struct {
	Code    btcjson.RPCErrorCode
	Message string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("rejected by node policy (code %d): %s", e.Code, e.Message)
}

// wrapRPCError converts node verify-rejections into PolicyError and passes
// everything else through unchanged.
func wrapRPCError(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case btcjson.ErrRPCTxRejected, btcjson.ErrRPCTxError, btcjson.ErrRPCTxAlreadyInChain:
			return &PolicyError{Code: rpcErr.Code, Message: rpcErr.Message}
		}
	}
	return err
}

// Unspent is one spendable output as reported by listunspent.
type Unspent struct {
	TxId          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Address       string `json:"address"`
	ScriptPubKey  string `json:"scriptPubKey"`
	Amount        Amount `json:"amount"`
	Confirmations int64  `json:"confirmations"`
	Spendable     bool   `json:"spendable"`
}

// RawTxInput references an outpoint in createrawtransaction and
// signrawtransactionwithkey calls.
type RawTxInput struct {
	TxId         string  `json:"txid"`
	Vout         uint32  `json:"vout"`
	ScriptPubKey string  `json:"scriptPubKey,omitempty"`
	RedeemScript string  `json:"redeemScript,omitempty"`
	Amount       float64 `json:"amount,omitempty"`
}

// SignResult is the node's answer to signrawtransactionwithkey.
type SignResult struct {
	Hex      string `json:"hex"`
	Complete bool   `json:"complete"`
	Errors   []struct {
		TxId      string `json:"txid"`
		Vout      uint32 `json:"vout"`
		ScriptSig string `json:"scriptSig"`
		Error     string `json:"error"`
	} `json:"errors"`
}

// TxStatus is the subset of gettransaction the engine cares about.
type TxStatus struct {
	TxId          string `json:"txid"`
	Confirmations int64  `json:"confirmations"`
	Hex           string `json:"hex"`
}

// ListUnspent returns the spendable outputs of the given addresses. An empty
// address list asks for the whole wallet.
func (c *Client) ListUnspent(ctx context.Context, addresses ...string) ([]Unspent, error) {
	unspent := make([]Unspent, 0)
	var err error
	if len(addresses) == 0 {
		err = c.SendRequest(ctx, "listunspent", &unspent)
	} else {
		err = c.SendRequest(ctx, "listunspent", &unspent, 1, 9999999, addresses)
	}
	if err != nil {
		return nil, err
	}
	return unspent, nil
}

// CreateRawTransaction asks the node to assemble an unsigned transaction.
// Output values are given in koinu and converted to whole coins on the wire.
func (c *Client) CreateRawTransaction(ctx context.Context, inputs []RawTxInput, outputs map[string]uint64) (string, error) {
	outs := make(map[string]float64, len(outputs))
	for addr, v := range outputs {
		outs[addr] = AmountFromKoinu(v)
	}
	var rawTx string
	if err := c.SendRequest(ctx, "createrawtransaction", &rawTx, inputs, outs); err != nil {
		return "", err
	}
	return rawTx, nil
}

// SignRawTransactionWithKey signs rawTx with the given WIF keys. prevTxs
// carries the redeem scripts for pay-to-script-hash inputs the node does not
// know about.
func (c *Client) SignRawTransactionWithKey(ctx context.Context, rawTx string, keys []string, prevTxs []RawTxInput) (*SignResult, error) {
	result := &SignResult{}
	var err error
	if len(prevTxs) == 0 {
		err = c.SendRequest(ctx, "signrawtransactionwithkey", result, rawTx, keys)
	} else {
		err = c.SendRequest(ctx, "signrawtransactionwithkey", result, rawTx, keys, prevTxs)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SignRawTransactionWithWallet signs rawTx with the node wallet's own keys.
func (c *Client) SignRawTransactionWithWallet(ctx context.Context, rawTx string) (*SignResult, error) {
	result := &SignResult{}
	if err := c.SendRequest(ctx, "signrawtransactionwithwallet", result, rawTx); err != nil {
		return nil, err
	}
	return result, nil
}

// SendRawTransaction broadcasts the transaction and returns its txid. Policy
// rejections are mapped to *PolicyError.
func (c *Client) SendRawTransaction(ctx context.Context, rawTx string) (string, error) {
	var txid string
	if err := c.SendRequest(ctx, "sendrawtransaction", &txid, rawTx); err != nil {
		return "", wrapRPCError(err)
	}
	return txid, nil
}

// GetTransaction fetches the wallet view of a transaction. Used as the
// idempotency probe after a broadcast timeout: a transaction the node already
// knows must not be submitted again.
func (c *Client) GetTransaction(ctx context.Context, txid string) (*TxStatus, error) {
	status := &TxStatus{}
	if err := c.SendRequest(ctx, "gettransaction", status, txid); err != nil {
		return nil, err
	}
	return status, nil
}

// EstimateFee returns the node's fee estimate in koinu per kilobyte.
func (c *Client) EstimateFee(ctx context.Context, nBlocks int) (uint64, error) {
	fee := new(float64)
	if err := c.SendRequest(ctx, "estimatefee", fee, nBlocks); err != nil {
		return 0, err
	}
	if *fee <= 0 {
		return 0, nil
	}
	return uint64(decimal.NewFromFloat(*fee).
		Mul(decimal.NewFromInt(constants.OneCoin)).IntPart()), nil
}
