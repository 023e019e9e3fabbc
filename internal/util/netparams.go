package util

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// MainNetParams are the koinu main network parameters. Only the address and
// WIF encoding magics matter here; consensus fields keep their zero values
// because the engine never validates blocks.
var MainNetParams = chaincfg.Params{
	Name:             "mainnet",
	Net:              wire.BitcoinNet(0xd3b6c5a1),
	PubKeyHashAddrID: 0x38,
	ScriptHashAddrID: 0x16,
	PrivateKeyID:     0x9e,
	HDCoinType:       3,
}

// TestNetParams are the koinu test network parameters.
var TestNetParams = chaincfg.Params{
	Name:             "testnet",
	Net:              wire.BitcoinNet(0xd3b6c5b2),
	PubKeyHashAddrID: 0x71,
	ScriptHashAddrID: 0xc4,
	PrivateKeyID:     0xf1,
	HDCoinType:       1,
}

// ActiveNet is the network the process operates on. Defaults to mainnet and
// is switched by the testnet flag during config checking.
var ActiveNet = &MainNetParams

// Address decoding consults the global network registry.
func init() {
	if err := chaincfg.Register(&MainNetParams); err != nil {
		panic(err)
	}
	if err := chaincfg.Register(&TestNetParams); err != nil {
		panic(err)
	}
}
