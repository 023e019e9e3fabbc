package util

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// AddressScript is a function that converts a given address to a script.
// It first decodes the address, then generates a pay-to-address script from
// the decoded address.
func AddressScript(address string, params *chaincfg.Params) ([]byte, error) {
	decodeAddress, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(decodeAddress)
}

// ScriptHashAddress wraps a redeem script into its pay-to-script-hash address.
func ScriptHashAddress(redeem []byte, params *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressScriptHash(redeem, params)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

// PubKeyAddress converts a public key into its pay-to-pubkey-hash address.
func PubKeyAddress(pubKey *btcec.PublicKey, params *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(pubKey.SerializeCompressed()), params)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}
