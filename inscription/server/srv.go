package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/spf13/cobra"

	"github.com/koinu-labs/kins/client"
	"github.com/koinu-labs/kins/config"
	"github.com/koinu-labs/kins/constants"
	"github.com/koinu-labs/kins/dao"
	"github.com/koinu-labs/kins/inscription"
	"github.com/koinu-labs/kins/inscription/log"
	"github.com/koinu-labs/kins/inscription/server/handle"
	"github.com/koinu-labs/kins/internal/signal"
	"github.com/koinu-labs/kins/internal/util"
	"github.com/koinu-labs/kins/swap"
)

var (
	mainNetRPCConnect = "http://localhost:8334"
	testNetRPCConnect = "http://localhost:18334"
)

func init() {
	Cmd.Flags().StringVarP(&config.Username, "user", "u", "", "chain rpc server username")
	Cmd.Flags().StringVarP(&config.Password, "password", "P", "", "chain rpc server password")
	Cmd.Flags().BoolVarP(&config.Testnet, "testnet", "t", false, "koinu testnet")
	Cmd.Flags().StringVarP(&config.RpcConnect, "rpcconnect", "s", mainNetRPCConnect, "the URL of chain RPC server to connect to")
	Cmd.Flags().StringVarP(&config.RPCCert, "rpccert", "c", "", "chain RPC server certificate chain for validation")
	Cmd.Flags().BoolVarP(&config.TLSSkipVerify, "tlsskipverify", "", false, "skip server tls certificate verification")
	Cmd.Flags().StringVarP(&config.RpcListen, "rpclisten", "l", "", "server listen address")
	Cmd.Flags().Uint64VarP(&config.FeeRatePerKB, "feerate", "", 0, "fee rate in koinu per kilobyte, 0 asks the node")
	Cmd.Flags().BoolVarP(&config.Compress, "compress", "", false, "compress inscription content with brotli")
	Cmd.Flags().StringVarP(&config.MysqlAddr, "dbaddr", "", fmt.Sprintf("localhost:%s", constants.DefaultDBListenPort), "job and ledger database address")
	Cmd.Flags().StringVarP(&config.MysqlUser, "dbuser", "", "root", "job and ledger database user")
	Cmd.Flags().StringVarP(&config.MysqlPassword, "dbpass", "", "", "job and ledger database password")
	Cmd.Flags().StringVarP(&config.MysqlDBName, "dbname", "", constants.DefaultDBName, "job and ledger database name")
	Cmd.Flags().BoolVarP(&config.EnablePProf, "pprof", "", false, "enable pprof handlers on the server")
}

// Cmd serves the marketplace API and the inscription job API, with the
// auto-resume supervisor running alongside.
var Cmd = &cobra.Command{
	Use:   "server",
	Short: "inscription job and marketplace server",
	Run: func(cmd *cobra.Command, args []string) {
		if err := srv(); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		<-signal.InterruptHandlersDone
	},
}

func srv() error {
	if config.Testnet {
		util.ActiveNet = &util.TestNetParams
		if config.RpcConnect == mainNetRPCConnect {
			config.RpcConnect = testNetRPCConnect
		}
	}
	logFile := btcutil.AppDataDir(filepath.Join(constants.AppName, "server", "logs", "server.log"), false)
	log.InitLogRotator(logFile)

	cli, err := client.NewClient(
		client.WithClientHost(config.RpcConnect),
		client.WithClientUser(config.Username),
		client.WithClientPassword(config.Password),
		client.WithClientCert(config.RPCCert),
		client.WithTLSSkipVerify(config.TLSSkipVerify),
	)
	if err != nil {
		return err
	}
	db, err := dao.NewDB(
		dao.WithAddr(config.MysqlAddr),
		dao.WithUser(config.MysqlUser),
		dao.WithPassword(config.MysqlPassword),
		dao.WithDBName(config.MysqlDBName),
	)
	if err != nil {
		return err
	}

	inscriber, err := inscription.NewInscriber(
		inscription.WithChainClient(cli),
		inscription.WithJobStore(db),
		inscription.WithNetParams(util.ActiveNet),
		inscription.WithFeeRatePerKB(config.FeeRatePerKB),
		inscription.WithCompression(config.Compress),
	)
	if err != nil {
		return err
	}
	market, err := swap.NewMarket(
		swap.WithLedger(db),
		swap.WithChain(cli),
		swap.WithNetParams(util.ActiveNet),
		swap.WithFeeRatePerKB(config.FeeRatePerKB),
	)
	if err != nil {
		return err
	}

	h, err := handle.New(
		handle.WithAddr(config.RpcListen),
		handle.WithTestNet(config.Testnet),
		handle.WithPProf(config.EnablePProf),
		handle.WithDB(db),
		handle.WithInscriber(inscriber),
		handle.WithMarket(market),
	)
	if err != nil {
		return err
	}
	if err := h.Run(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	signal.AddInterruptHandler(cancel)
	supervisor := inscription.NewSupervisor(inscriber)
	go func() {
		if err := supervisor.Run(ctx); err != nil && ctx.Err() == nil {
			log.Srv.Errorf("supervisor stopped: %v", err)
		}
	}()
	return nil
}
