package inscription

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/koinu-labs/kins/client"
	"github.com/koinu-labs/kins/constants"
	"github.com/koinu-labs/kins/internal/util"
	"github.com/koinu-labs/kins/tables"
)

// fakeChain is a deterministic stand-in for the node: raw transactions are
// real wire.MsgTx serializations so txids are stable across rebuilds of the
// same step.
type fakeChain struct {
	unspent    []client.Unspent
	known      map[string]bool
	broadcasts map[string]int
	walletErr  error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		known:      make(map[string]bool),
		broadcasts: make(map[string]int),
	}
}

func (f *fakeChain) addUnspent(txid string, vout uint32, value uint64) {
	f.unspent = append(f.unspent, client.Unspent{
		TxId:          txid,
		Vout:          vout,
		Address:       "funding-addr",
		Amount:        client.Amount(client.AmountFromKoinu(value)),
		Confirmations: 10,
		Spendable:     true,
	})
}

func (f *fakeChain) ListUnspent(_ context.Context, _ ...string) ([]client.Unspent, error) {
	if f.walletErr != nil {
		return nil, f.walletErr
	}
	return f.unspent, nil
}

func (f *fakeChain) CreateRawTransaction(_ context.Context, inputs []client.RawTxInput, outputs map[string]uint64) (string, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, in := range inputs {
		hash, err := chainhash.NewHashFromStr(in.TxId)
		if err != nil {
			return "", err
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, in.Vout), nil, nil))
	}
	addrs := make([]string, 0, len(outputs))
	for addr := range outputs {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		tx.AddTxOut(wire.NewTxOut(int64(outputs[addr]), fakePkScript(addr)))
	}
	return serializeTx(tx)
}

// fakePkScript mirrors the node: decodable addresses get their real script,
// test placeholders keep their raw bytes.
func fakePkScript(addr string) []byte {
	if script, err := util.AddressScript(addr, util.ActiveNet); err == nil {
		return script
	}
	return []byte(addr)
}

func serializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func (f *fakeChain) sign(rawTx string) (*client.SignResult, error) {
	raw, err := hex.DecodeString(rawTx)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	for _, in := range tx.TxIn {
		in.SignatureScript = []byte("sig")
	}
	signed, err := serializeTx(tx)
	if err != nil {
		return nil, err
	}
	return &client.SignResult{Hex: signed, Complete: true}, nil
}

func (f *fakeChain) SignRawTransactionWithKey(_ context.Context, rawTx string, _ []string, _ []client.RawTxInput) (*client.SignResult, error) {
	return f.sign(rawTx)
}

func (f *fakeChain) SignRawTransactionWithWallet(_ context.Context, rawTx string) (*client.SignResult, error) {
	if f.walletErr != nil {
		return nil, f.walletErr
	}
	return f.sign(rawTx)
}

func (f *fakeChain) SendRawTransaction(_ context.Context, rawTx string) (string, error) {
	txid, err := txidOf(rawTx)
	if err != nil {
		return "", err
	}
	f.broadcasts[txid]++
	f.known[txid] = true
	return txid, nil
}

func (f *fakeChain) GetTransaction(_ context.Context, txid string) (*client.TxStatus, error) {
	if !f.known[txid] {
		return nil, errors.New("transaction not found")
	}
	return &client.TxStatus{TxId: txid, Confirmations: 1}, nil
}

func (f *fakeChain) EstimateFee(_ context.Context, _ int) (uint64, error) {
	return 50_000, nil
}

// fakeStore keeps jobs and blobs in memory with the same ordering semantics
// as the mysql dao. failCheckpointAt makes the n-th SaveJobCheckpoint call
// fail, simulating a crash at that write.
type fakeStore struct {
	jobs             map[string]*tables.InscriptionJob
	blobs            map[string][]byte
	order            []string
	checkpointCalls  int
	failCheckpointAt int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:  make(map[string]*tables.InscriptionJob),
		blobs: make(map[string][]byte),
	}
}

func (s *fakeStore) CreateJob(job *tables.InscriptionJob, body []byte) error {
	clone := *job
	s.jobs[job.Id] = &clone
	s.blobs[job.Id] = body
	s.order = append(s.order, job.Id)
	return nil
}

func (s *fakeStore) GetJob(id string) (tables.InscriptionJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return tables.InscriptionJob{}, errors.New("job not found")
	}
	return *job, nil
}

func (s *fakeStore) GetJobBlob(id string) (tables.FileBlob, error) {
	body, ok := s.blobs[id]
	if !ok {
		return tables.FileBlob{}, errors.New("blob not found")
	}
	return tables.FileBlob{JobId: id, Body: body}, nil
}

func (s *fakeStore) SaveJobCheckpoint(job *tables.InscriptionJob) error {
	s.checkpointCalls++
	if s.failCheckpointAt != 0 && s.checkpointCalls == s.failCheckpointAt {
		return errors.New("database connection lost")
	}
	stored, ok := s.jobs[job.Id]
	if !ok {
		return errors.New("job not found")
	}
	stored.Status = job.Status
	stored.Progress = job.Progress
	stored.CurrentCommit = job.CurrentCommit
	stored.TotalCommits = job.TotalCommits
	stored.ResumeData = append([]byte(nil), job.ResumeData...)
	stored.StartedAt = job.StartedAt
	return nil
}

func (s *fakeStore) MarkJobCompleted(id, inscriptionId string) error {
	job := s.jobs[id]
	if job.Status == tables.JobStatusCompleted {
		return nil
	}
	job.Status = tables.JobStatusCompleted
	job.Progress = 100
	job.InscriptionId = inscriptionId
	return nil
}

func (s *fakeStore) MarkJobFailed(id, message string) error {
	job := s.jobs[id]
	if job.Status == tables.JobStatusCompleted {
		return nil
	}
	job.Status = tables.JobStatusFailed
	job.LastError = message
	return nil
}

func (s *fakeStore) IncompleteJobs() ([]tables.InscriptionJob, error) {
	jobs := make([]tables.InscriptionJob, 0)
	for _, status := range []tables.JobStatus{tables.JobStatusProcessing, tables.JobStatusPending} {
		for _, id := range s.order {
			if s.jobs[id].Status == status {
				jobs = append(jobs, *s.jobs[id])
			}
		}
	}
	return jobs, nil
}

func newTestInscriber(t *testing.T, chain *fakeChain, store *fakeStore, opts ...Option) *Inscriber {
	t.Helper()
	base := []Option{
		WithChainClient(chain),
		WithJobStore(store),
		WithDestination("dest-addr"),
		WithFeeRatePerKB(50_000),
	}
	inscriber, err := NewInscriber(append(base, opts...)...)
	require.NoError(t, err)
	return inscriber
}

func TestCreateJobUnknownExtension(t *testing.T) {
	inscriber := newTestInscriber(t, newFakeChain(), newFakeStore())
	_, err := inscriber.CreateJob("", "payload.xyz", []byte("data"), "")
	require.ErrorIs(t, err, ErrUnknownExtension)
}

func TestCreateJobCompression(t *testing.T) {
	store := newFakeStore()
	inscriber := newTestInscriber(t, newFakeChain(), store, WithCompression(true))

	payload := bytes.Repeat([]byte("compressible text "), 500)
	job, err := inscriber.CreateJob("", "note.txt", payload, "")
	require.NoError(t, err)
	require.Equal(t, "br", job.ContentEncoding)
	require.Equal(t, int64(len(payload)), job.FileSize)

	blob, err := store.GetJobBlob(job.Id)
	require.NoError(t, err)
	require.Less(t, len(blob.Body), len(payload))
}

func TestAdvanceSingleCommitToCompletion(t *testing.T) {
	chain := newFakeChain()
	chain.addUnspent(fmt.Sprintf("%064x", 1), 0, 50_000_000)
	store := newFakeStore()
	inscriber := newTestInscriber(t, chain, store)

	job, err := inscriber.CreateJob("job-1", "pixel.png", []byte{0x89, 0x50, 0x4e, 0x47}, "")
	require.NoError(t, err)

	update, err := inscriber.Advance(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, tables.JobStatusProcessing, update.Status)
	require.Equal(t, 1, update.CurrentCommit)
	require.Equal(t, 1, update.TotalCommits)
	require.NotEmpty(t, update.TxId)
	require.Equal(t, 1, chain.broadcasts[update.TxId])

	update, err = inscriber.Advance(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, tables.JobStatusCompleted, update.Status)
	require.Equal(t, update.TxId+"i0", update.InscriptionId)
	require.EqualValues(t, 100, update.Progress)

	stored, err := store.GetJob(job.Id)
	require.NoError(t, err)
	require.Equal(t, tables.JobStatusCompleted, stored.Status)
	require.Equal(t, update.InscriptionId, stored.InscriptionId)

	// terminal jobs never regress
	again, err := inscriber.Advance(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, tables.JobStatusCompleted, again.Status)
}

func TestAdvanceInsufficientFundsFailsJob(t *testing.T) {
	chain := newFakeChain()
	store := newFakeStore()
	inscriber := newTestInscriber(t, chain, store)

	job, err := inscriber.CreateJob("job-broke", "pixel.png", []byte{1, 2, 3}, "")
	require.NoError(t, err)

	update, err := inscriber.Advance(context.Background(), job)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, tables.JobStatusFailed, update.Status)

	stored, err := store.GetJob(job.Id)
	require.NoError(t, err)
	require.Equal(t, tables.JobStatusFailed, stored.Status)
	require.Contains(t, stored.LastError, "insufficient funds")
}

func TestAdvanceWalletUnavailableDefers(t *testing.T) {
	chain := newFakeChain()
	chain.addUnspent(fmt.Sprintf("%064x", 1), 0, 50_000_000)
	chain.walletErr = &btcjson.RPCError{
		Code:    btcjson.ErrRPCWalletUnlockNeeded,
		Message: "wallet is locked",
	}
	store := newFakeStore()
	inscriber := newTestInscriber(t, chain, store)

	job, err := inscriber.CreateJob("job-locked", "pixel.png", []byte{1, 2, 3}, "")
	require.NoError(t, err)

	_, err = inscriber.Advance(context.Background(), job)
	require.ErrorIs(t, err, ErrWalletUnavailable)

	stored, err := store.GetJob(job.Id)
	require.NoError(t, err)
	require.Equal(t, tables.JobStatusPending, stored.Status)
}

// A crash between "commit k broadcast" and "checkpoint k written" must not
// broadcast commit k a second time on resume: the rebuilt transaction is
// byte-identical, so the node probe finds it and the job moves on.
func TestAdvanceIdempotentResume(t *testing.T) {
	chain := newFakeChain()
	for i := 0; i < 130; i++ {
		chain.addUnspent(fmt.Sprintf("%064x", i+1), 0, 120_000)
	}
	store := newFakeStore()
	inscriber := newTestInscriber(t, chain, store, WithPostage(10_000_000))

	job, err := inscriber.CreateJob("job-chain", "pixel.png", []byte{1, 2, 3, 4}, "")
	require.NoError(t, err)

	update, err := inscriber.Advance(context.Background(), job)
	require.NoError(t, err)
	require.Greater(t, update.TotalCommits, 1)

	beforeCrash := *job
	beforeCrash.ResumeData = append([]byte(nil), job.ResumeData...)

	update, err = inscriber.Advance(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, 2, update.CurrentCommit)
	secondCommit := update.TxId
	require.Equal(t, 1, chain.broadcasts[secondCommit])

	// resume from the stale checkpoint, as if the crash hit before the
	// second checkpoint write
	resumed := beforeCrash
	update, err = inscriber.Advance(context.Background(), &resumed)
	require.NoError(t, err)
	require.Equal(t, 2, update.CurrentCommit)
	require.Equal(t, secondCommit, update.TxId)
	require.Equal(t, 1, chain.broadcasts[secondCommit], "commit broadcast twice")

	// the chain still finishes from the recovered state
	for resumed.Status == tables.JobStatusProcessing {
		update, err = inscriber.Advance(context.Background(), &resumed)
		require.NoError(t, err)
	}
	require.Equal(t, tables.JobStatusCompleted, update.Status)
	for txid, count := range chain.broadcasts {
		require.Equal(t, 1, count, "txid %s", txid)
	}
}

// The funded first commit has two outputs and the node orders them by its own
// rules, so the lock's vout must be read back from the built transaction, not
// assumed. Change addresses on both ends of the sort order force the lock
// output into either position.
func TestCommitLockOutputLocated(t *testing.T) {
	chain := newFakeChain()
	envelope, err := BuildEnvelope([]byte{1, 2, 3}, constants.ContentType("image/png"))
	require.NoError(t, err)

	var seed [32]byte
	seed[31] = 7
	key, _ := btcec.PrivKeyFromBytes(seed[:])
	wif, err := KeyToWIF(key, util.ActiveNet)
	require.NoError(t, err)

	utxos := []UTXO{{
		TxId:          fmt.Sprintf("%064x", 7),
		Value:         50_000_000,
		Confirmations: 5,
		Address:       "funding-addr",
	}}
	redeemSize := uint64(len(envelope.Script())) + revealLockOverhead
	builder := NewTxBuilder(chain, util.ActiveNet)

	for _, changeAddr := range []string{"0-change", "zz-change"} {
		plan, err := Plan(utxos, 1_000_000, 50_000, redeemSize)
		require.NoError(t, err)
		AttachLocks(plan, envelope, key.PubKey())

		rawTx, err := builder.BuildCommit(context.Background(), plan, 0, "", changeAddr, wif)
		require.NoError(t, err)

		raw, err := hex.DecodeString(rawTx)
		require.NoError(t, err)
		tx := wire.NewMsgTx(wire.TxVersion)
		require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))
		require.Len(t, tx.TxOut, 2)

		vout := plan.LockVouts[0]
		require.EqualValues(t, plan.SegmentValues[0], tx.TxOut[vout].Value, "change %s", changeAddr)
		require.Equal(t, int(vout), plan.TargetCommitOutput)
	}
}

// A crash after the first commit broadcasts but before its broadcast is
// recorded must leave a pending job whose checkpoint still names the original
// transaction. Resume probes that txid instead of replanning with a fresh
// key, which would strand the committed value.
func TestAdvanceRecoversFirstCommitAfterCrash(t *testing.T) {
	chain := newFakeChain()
	chain.addUnspent(fmt.Sprintf("%064x", 1), 0, 50_000_000)
	store := newFakeStore()
	store.failCheckpointAt = 2
	inscriber := newTestInscriber(t, chain, store)

	job, err := inscriber.CreateJob("job-crash", "pixel.png", []byte{1, 2, 3}, "")
	require.NoError(t, err)

	_, err = inscriber.Advance(context.Background(), job)
	require.Error(t, err)

	stored, err := store.GetJob(job.Id)
	require.NoError(t, err)
	require.Equal(t, tables.JobStatusPending, stored.Status)
	require.NotEmpty(t, stored.ResumeData)

	update, err := inscriber.Advance(context.Background(), &stored)
	require.NoError(t, err)
	require.Equal(t, tables.JobStatusProcessing, update.Status)
	require.Equal(t, 1, chain.broadcasts[update.TxId], "first commit broadcast twice")

	for stored.Status == tables.JobStatusProcessing {
		update, err = inscriber.Advance(context.Background(), &stored)
		require.NoError(t, err)
	}
	require.Equal(t, tables.JobStatusCompleted, update.Status)
	for txid, count := range chain.broadcasts {
		require.Equal(t, 1, count, "txid %s", txid)
	}
}

func TestDecodeResumeDataRejectsMissingPlan(t *testing.T) {
	_, err := DecodeResumeData([]byte(`{"ephemeralWif":"k"}`))
	require.Error(t, err)
}

func TestAdvanceDryRunBuildsWithoutBroadcast(t *testing.T) {
	chain := newFakeChain()
	chain.addUnspent(fmt.Sprintf("%064x", 1), 0, 50_000_000)
	store := newFakeStore()
	inscriber := newTestInscriber(t, chain, store, WithDryRun(true))

	job, err := inscriber.CreateJob("job-dry", "pixel.png", []byte{1, 2, 3}, "")
	require.NoError(t, err)

	update, err := inscriber.Advance(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, tables.JobStatusPending, update.Status)
	require.NotEmpty(t, update.RawTx)
	require.Empty(t, chain.broadcasts)

	stored, err := store.GetJob(job.Id)
	require.NoError(t, err)
	require.Empty(t, stored.ResumeData)
}

func TestSupervisorDrivesJobsInOrder(t *testing.T) {
	chain := newFakeChain()
	chain.addUnspent(fmt.Sprintf("%064x", 1), 0, 80_000_000)
	chain.addUnspent(fmt.Sprintf("%064x", 2), 0, 80_000_000)
	store := newFakeStore()
	inscriber := newTestInscriber(t, chain, store)

	first, err := inscriber.CreateJob("job-a", "pixel.png", []byte{1}, "")
	require.NoError(t, err)
	second, err := inscriber.CreateJob("job-b", "pixel.png", []byte{2}, "")
	require.NoError(t, err)

	supervisor := NewSupervisor(inscriber)
	require.NoError(t, supervisor.RunOnce(context.Background()))

	for _, id := range []string{first.Id, second.Id} {
		stored, err := store.GetJob(id)
		require.NoError(t, err)
		require.Equal(t, tables.JobStatusCompleted, stored.Status, id)
	}
}

func TestSupervisorDefersOnWalletOutage(t *testing.T) {
	chain := newFakeChain()
	chain.walletErr = &btcjson.RPCError{
		Code:    btcjson.ErrRPCWalletUnlockNeeded,
		Message: "wallet is locked",
	}
	store := newFakeStore()
	inscriber := newTestInscriber(t, chain, store)

	job, err := inscriber.CreateJob("job-wait", "pixel.png", []byte{1}, "")
	require.NoError(t, err)

	supervisor := NewSupervisor(inscriber)
	err = supervisor.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrWalletUnavailable)

	stored, err := store.GetJob(job.Id)
	require.NoError(t, err)
	require.Equal(t, tables.JobStatusPending, stored.Status)
}
