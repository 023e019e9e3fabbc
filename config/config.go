package config

var (
	// Username chain rpc server user name
	Username string
	// Password chain rpc server password
	Password string
	// Testnet selects the test network parameters
	Testnet bool
	// RpcConnect chain rpc server url
	RpcConnect string
	// RPCCert chain rpc server cert path
	RPCCert string
	// TLSSkipVerify skip verify server tls
	TLSSkipVerify bool
	// FilePath inscription file path
	FilePath string
	// Postage amount of koinu bound to the inscribed output
	Postage uint64
	// FeeRatePerKB fee rate in koinu per kilobyte, 0 means ask the node
	FeeRatePerKB uint64
	// Compress compress inscription content with brotli
	Compress bool
	// CborMetadata cbor metadata file path
	CborMetadata string
	// JsonMetadata json metadata file path
	JsonMetadata string
	// DryRun plan and build but never sign or broadcast
	DryRun bool
	// Destination inscription destination address
	Destination string
	// RpcListen marketplace server listen address
	RpcListen string
	// MysqlAddr job and ledger database addr
	MysqlAddr string
	// MysqlUser job and ledger database user
	MysqlUser string
	// MysqlPassword job and ledger database password
	MysqlPassword string
	// MysqlDBName job and ledger database name
	MysqlDBName string
	// EnablePProf registers pprof handlers on the server
	EnablePProf bool
)
