package client

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/gogf/gf/v2/util/gconv"
	"github.com/koinu-labs/kins/constants"
	"github.com/shopspring/decimal"
)

// Response is the generic JSON-RPC response envelope returned by the chain
// node.
type Response struct {
	Jsonrpc btcjson.RPCVersion `json:"jsonrpc"`
	Result  interface{}        `json:"result"`
	Error   *btcjson.RPCError  `json:"error"`
	ID      *interface{}       `json:"id"`
}

// Amount is a whole-coin value as reported by the node.
type Amount float64

// Koinu converts a whole-coin amount into koinu without floating point drift.
func (a Amount) Koinu() uint64 {
	return uint64(decimal.NewFromFloat(float64(a)).
		Mul(decimal.NewFromInt(constants.OneCoin)).IntPart())
}

// AmountFromKoinu converts koinu back into the whole-coin representation the
// node expects in createrawtransaction outputs.
func AmountFromKoinu(v uint64) float64 {
	f, _ := decimal.NewFromInt(int64(v)).
		Div(decimal.NewFromInt(constants.OneCoin)).Float64()
	return f
}

// OutPoint identifies one transaction output.
type OutPoint struct {
	Txid string `json:"txid"`
	Vout uint32 `json:"vout"`
}

func (o *OutPoint) String() string {
	return fmt.Sprintf("%s%s%d", o.Txid, constants.OutpointDelimiter, o.Vout)
}

// InscriptionId formats the outpoint as an inscription id.
func (o *OutPoint) InscriptionId() string {
	return fmt.Sprintf("%s%s%d", o.Txid, constants.InscriptionIdDelimiter, o.Vout)
}

// StringToOutpoint parses a txid:vout string, returning nil when the input
// does not match the outpoint format.
func StringToOutpoint(s string) *OutPoint {
	s = strings.ToLower(s)
	if !constants.OutpointRegexp.MatchString(s) {
		return nil
	}
	parts := strings.Split(s, constants.OutpointDelimiter)
	return &OutPoint{
		Txid: parts[0],
		Vout: gconv.Uint32(parts[1]),
	}
}

// InscriptionIdToOutpoint parses an inscription id into the outpoint of its
// reveal transaction.
func InscriptionIdToOutpoint(s string) *OutPoint {
	s = strings.ToLower(s)
	if !constants.InscriptionIdRegexp.MatchString(s) {
		return nil
	}
	parts := strings.Split(s, constants.InscriptionIdDelimiter)
	return &OutPoint{
		Txid: parts[0],
		Vout: gconv.Uint32(parts[1]),
	}
}
