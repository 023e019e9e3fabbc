package inscription

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
	"github.com/koinu-labs/kins/inscription/log"
	"github.com/koinu-labs/kins/internal/signal"
	"github.com/koinu-labs/kins/internal/util"
	"github.com/koinu-labs/kins/tables"
)

var (
	mainNetRPCConnect = "http://localhost:8334"
	testNetRPCConnect = "http://localhost:18334"
)

func init() {
	registerChainFlags(Cmd)
	Cmd.Flags().StringVarP(&config.FilePath, "filepath", "f", "", "inscription file path")
	Cmd.Flags().StringVarP(&config.Destination, "dest", "", "", "send inscription to <DESTINATION> address")
	Cmd.Flags().Uint64VarP(&config.Postage, "postage", "p", constants.DefaultPostage, "amount of postage to include in the inscription")
	Cmd.Flags().BoolVarP(&config.Compress, "compress", "", false, "compress inscription content with brotli")
	Cmd.Flags().StringVarP(&config.CborMetadata, "cbormetadata", "", "", "include CBOR in file at <METADATA> as inscription metadata")
	Cmd.Flags().StringVarP(&config.JsonMetadata, "jsonmetadata", "", "", "include JSON in file at <METADATA> converted to CBOR as inscription metadata")
	Cmd.Flags().BoolVarP(&config.DryRun, "dryrun", "", false, "don't sign or broadcast transactions")
	if err := Cmd.MarkFlagRequired("filepath"); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := Cmd.MarkFlagRequired("dest"); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	registerChainFlags(ResumeCmd)
}

func registerChainFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&config.Username, "user", "u", "", "chain rpc server username")
	cmd.Flags().StringVarP(&config.Password, "password", "P", "", "chain rpc server password")
	cmd.Flags().BoolVarP(&config.Testnet, "testnet", "t", false, "koinu testnet")
	cmd.Flags().StringVarP(&config.RpcConnect, "rpcconnect", "s", mainNetRPCConnect, "the URL of chain RPC server to connect to")
	cmd.Flags().StringVarP(&config.RPCCert, "rpccert", "c", "", "chain RPC server certificate chain for validation")
	cmd.Flags().BoolVarP(&config.TLSSkipVerify, "tlsskipverify", "", false, "skip server tls certificate verification")
	cmd.Flags().Uint64VarP(&config.FeeRatePerKB, "feerate", "", 0, "fee rate in koinu per kilobyte, 0 asks the node")
	cmd.Flags().StringVarP(&config.MysqlAddr, "dbaddr", "", fmt.Sprintf("localhost:%s", constants.DefaultDBListenPort), "job database address")
	cmd.Flags().StringVarP(&config.MysqlUser, "dbuser", "", "root", "job database user")
	cmd.Flags().StringVarP(&config.MysqlPassword, "dbpass", "", "", "job database password")
	cmd.Flags().StringVarP(&config.MysqlDBName, "dbname", "", constants.DefaultDBName, "job database name")
}

func configCheck() error {
	if config.Testnet {
		util.ActiveNet = &util.TestNetParams
		if config.RpcConnect == mainNetRPCConnect {
			config.RpcConnect = testNetRPCConnect
		}
	}
	// Initialize log rotation. After log rotation has been initialized, the
	// logger variables may be used.
	logFile := btcutil.AppDataDir(filepath.Join(constants.AppName, "logs", "inscription.log"), false)
	log.InitLogRotator(logFile)
	return nil
}

func newChainAndStore() (*client.Client, *dao.DB, error) {
	cli, err := client.NewClient(
		client.WithClientHost(config.RpcConnect),
		client.WithClientUser(config.Username),
		client.WithClientPassword(config.Password),
		client.WithClientCert(config.RPCCert),
		client.WithTLSSkipVerify(config.TLSSkipVerify),
	)
	if err != nil {
		return nil, nil, err
	}
	db, err := dao.NewDB(
		dao.WithAddr(config.MysqlAddr),
		dao.WithUser(config.MysqlUser),
		dao.WithPassword(config.MysqlPassword),
		dao.WithDBName(config.MysqlDBName),
	)
	if err != nil {
		return nil, nil, err
	}
	return cli, db, nil
}

func newInscriberFromConfig(cli *client.Client, db *dao.DB) (*Inscriber, error) {
	metadata, err := util.ParseMetadata(config.CborMetadata, config.JsonMetadata)
	if err != nil {
		return nil, err
	}
	return NewInscriber(
		WithChainClient(cli),
		WithJobStore(db),
		WithNetParams(util.ActiveNet),
		WithPostage(config.Postage),
		WithFeeRatePerKB(config.FeeRatePerKB),
		WithDestination(config.Destination),
		WithJobMetadata(metadata),
		WithCompression(config.Compress),
		WithDryRun(config.DryRun),
	)
}

// Cmd casts one inscription from a file and drives it to completion.
var Cmd = &cobra.Command{
	Use:   "inscribe",
	Short: "inscription casting",
	Run: func(cmd *cobra.Command, args []string) {
		if err := inscribe(); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		signal.SimulateInterrupt()
		<-signal.InterruptHandlersDone
	},
}

// ResumeCmd drives every incomplete job to a terminal state.
var ResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "resume incomplete inscription jobs",
	Run: func(cmd *cobra.Command, args []string) {
		if err := resume(); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		signal.SimulateInterrupt()
		<-signal.InterruptHandlersDone
	},
}

func inscribe() error {
	if err := configCheck(); err != nil {
		return err
	}
	if config.Postage < constants.DustLimit {
		return fmt.Errorf("postage must be greater than or equal %d", constants.DustLimit)
	}
	cli, db, err := newChainAndStore()
	if err != nil {
		return err
	}
	inscriber, err := newInscriberFromConfig(cli, db)
	if err != nil {
		return err
	}

	payload, err := os.ReadFile(config.FilePath)
	if err != nil {
		return err
	}
	job, err := inscriber.CreateJob("", filepath.Base(config.FilePath), payload, config.Destination)
	if err != nil {
		return err
	}

	ctx := context.Background()
	for !job.Status.Terminal() {
		update, err := inscriber.Advance(ctx, job)
		if err != nil {
			return err
		}
		if config.DryRun {
			fmt.Printf("dry run, first commit of %d:\n%s\n", update.TotalCommits, update.RawTx)
			return nil
		}
		if update.Status == tables.JobStatusProcessing {
			fmt.Printf("commit %d/%d: %s\n", update.CurrentCommit, update.TotalCommits, update.TxId)
		}
		if update.Status == tables.JobStatusCompleted {
			fmt.Printf("reveal: %s\n", update.TxId)
			fmt.Printf("inscription: %s\n", update.InscriptionId)
		}
	}
	return nil
}

func resume() error {
	if err := configCheck(); err != nil {
		return err
	}
	cli, db, err := newChainAndStore()
	if err != nil {
		return err
	}
	inscriber, err := newInscriberFromConfig(cli, db)
	if err != nil {
		return err
	}
	return NewSupervisor(inscriber).RunOnce(context.Background())
}
