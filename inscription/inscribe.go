package inscription

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"

	"github.com/koinu-labs/kins/client"
	"github.com/koinu-labs/kins/constants"
	"github.com/koinu-labs/kins/inscription/log"
	"github.com/koinu-labs/kins/internal/util"
	"github.com/koinu-labs/kins/tables"
)

// JobStore is the durable job surface the engine needs. *dao.DB satisfies it;
// tests substitute an in-memory fake.
type JobStore interface {
	CreateJob(job *tables.InscriptionJob, body []byte) error
	GetJob(id string) (tables.InscriptionJob, error)
	GetJobBlob(id string) (tables.FileBlob, error)
	SaveJobCheckpoint(job *tables.InscriptionJob) error
	MarkJobCompleted(id, inscriptionId string) error
	MarkJobFailed(id, message string) error
	IncompleteJobs() ([]tables.InscriptionJob, error)
}

// Inscriber drives inscription jobs through their chain of commits and the
// final reveal, one broadcast per Advance call.
type Inscriber struct {
	chain            ChainClient
	store            JobStore
	builder          *TxBuilder
	params           *chaincfg.Params
	postage          uint64
	feeRatePerKB     uint64
	destination      string
	metadata         []byte
	compress         bool
	dryRun           bool
	broadcastRetries int
	retryInterval    time.Duration
}

type Option func(*Inscriber)

func WithChainClient(chain ChainClient) Option {
	return func(i *Inscriber) {
		i.chain = chain
	}
}

func WithJobStore(store JobStore) Option {
	return func(i *Inscriber) {
		i.store = store
	}
}

func WithNetParams(params *chaincfg.Params) Option {
	return func(i *Inscriber) {
		i.params = params
	}
}

// WithPostage sets the value carried by the inscribed output.
func WithPostage(postage uint64) Option {
	return func(i *Inscriber) {
		if postage > 0 {
			i.postage = postage
		}
	}
}

// WithFeeRatePerKB pins the fee rate. Zero defers to the node's estimate.
func WithFeeRatePerKB(rate uint64) Option {
	return func(i *Inscriber) {
		i.feeRatePerKB = rate
	}
}

// WithDestination sets the address receiving the inscribed output.
func WithDestination(destination string) Option {
	return func(i *Inscriber) {
		i.destination = destination
	}
}

// WithJobMetadata embeds CBOR metadata into every envelope this inscriber
// builds.
func WithJobMetadata(metadata []byte) Option {
	return func(i *Inscriber) {
		i.metadata = metadata
	}
}

// WithCompression enables brotli compression of payloads that shrink from it.
func WithCompression(compress bool) Option {
	return func(i *Inscriber) {
		i.compress = compress
	}
}

// WithDryRun stops Advance after building the first commit, before any
// broadcast or checkpoint.
func WithDryRun(dryRun bool) Option {
	return func(i *Inscriber) {
		i.dryRun = dryRun
	}
}

func NewInscriber(opts ...Option) (*Inscriber, error) {
	i := &Inscriber{
		params:           util.ActiveNet,
		postage:          constants.DefaultPostage,
		broadcastRetries: 3,
		retryInterval:    2 * time.Second,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.chain == nil {
		return nil, errors.New("chain client is required")
	}
	if i.store == nil {
		return nil, errors.New("job store is required")
	}
	i.builder = NewTxBuilder(i.chain, i.params)
	return i, nil
}

// CreateJob validates the file, optionally compresses it, and persists the
// pending job with its payload. An empty destination falls back to the
// inscriber's default at chain start. No chain work happens here.
func (i *Inscriber) CreateJob(id, fileName string, payload []byte, destination string) (*tables.InscriptionJob, error) {
	contentType, ok := constants.ContentTypeForExtension(filepath.Ext(fileName))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExtension, fileName)
	}
	if len(payload) > constants.MaxInscriptionSize {
		return nil, ErrPayloadTooLarge
	}

	body := payload
	encoding := ""
	if i.compress {
		if compressed, err := util.BrotliEncode(payload); err == nil && len(compressed) < len(payload) {
			body = compressed
			encoding = util.ContentEncodingBrotli
		}
	}

	if id == "" {
		id = uuid.NewString()
	}
	job := &tables.InscriptionJob{
		Id:              id,
		FileName:        fileName,
		FileSize:        int64(len(payload)),
		ContentType:     contentType.String(),
		ContentEncoding: encoding,
		Destination:     destination,
		Status:          tables.JobStatusPending,
		CreatedAt:       time.Now(),
	}
	if err := i.store.CreateJob(job, body); err != nil {
		return nil, err
	}
	log.Log.Infof("created job %s: %s (%d bytes, %s)", job.Id, fileName, len(payload), contentType)
	return job, nil
}

// Advance performs exactly one broadcast for the job: the next commit, or the
// reveal when every commit is on chain. Terminal jobs are returned unchanged.
func (i *Inscriber) Advance(ctx context.Context, job *tables.InscriptionJob) (*JobUpdate, error) {
	switch job.Status {
	case tables.JobStatusPending:
		return i.startChain(ctx, job)
	case tables.JobStatusProcessing:
		return i.continueChain(ctx, job)
	case tables.JobStatusCompleted, tables.JobStatusFailed:
		return snapshot(job), nil
	default:
		return nil, fmt.Errorf("job %s has unknown status %q", job.Id, job.Status)
	}
}

// startChain plans the whole chain and broadcasts the first commit. A pending
// job that already carries a checkpoint crashed between persisting the first
// commit and recording its broadcast; replaying that transaction, instead of
// replanning with a fresh key, keeps the original txid probeable.
func (i *Inscriber) startChain(ctx context.Context, job *tables.InscriptionJob) (*JobUpdate, error) {
	if len(job.ResumeData) > 0 && !i.dryRun {
		checkpoint, err := DecodeResumeData(job.ResumeData)
		if err != nil {
			return i.failJob(job, err)
		}
		return i.broadcastFirstCommit(ctx, job, checkpoint)
	}

	blob, err := i.store.GetJobBlob(job.Id)
	if err != nil {
		return nil, err
	}

	envOpts := make([]EnvelopeOption, 0, 2)
	if len(i.metadata) > 0 {
		envOpts = append(envOpts, WithMetadata(i.metadata))
	}
	if job.ContentEncoding != "" {
		envOpts = append(envOpts, WithContentEncoding(job.ContentEncoding))
	}
	envelope, err := BuildEnvelope(blob.Body, constants.ContentType(job.ContentType), envOpts...)
	if err != nil {
		return i.failJob(job, err)
	}

	rate := i.feeRatePerKB
	if rate == 0 {
		rate, err = i.chain.EstimateFee(ctx, 6)
		if err != nil {
			return nil, err
		}
		if rate == 0 {
			rate = constants.DefaultFeeRatePerKB
		}
	}

	unspent, err := i.chain.ListUnspent(ctx)
	if err != nil {
		if walletUnavailable(err) {
			return nil, fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
		}
		return nil, err
	}
	utxos := make([]UTXO, 0, len(unspent))
	for _, u := range unspent {
		if !u.Spendable {
			continue
		}
		utxos = append(utxos, UTXO{
			TxId:          u.TxId,
			Vout:          u.Vout,
			Value:         u.Amount.Koinu(),
			Confirmations: u.Confirmations,
			Address:       u.Address,
			ScriptPubKey:  u.ScriptPubKey,
		})
	}

	target := i.postage + rate*uint64(len(envelope.Script()))/1024
	redeemSize := uint64(len(envelope.Script())) + revealLockOverhead
	plan, err := Plan(utxos, target, rate, redeemSize)
	if err != nil {
		return i.failJob(job, err)
	}

	key, err := NewEphemeralKey()
	if err != nil {
		return nil, err
	}
	wif, err := KeyToWIF(key, i.params)
	if err != nil {
		return nil, err
	}
	AttachLocks(plan, envelope, key.PubKey())
	if len(plan.Locks[len(plan.Locks)-1]) > constants.MaxRevealScriptSize {
		return i.failJob(job, ErrScriptTooLarge)
	}

	destination := job.Destination
	if destination == "" {
		destination = i.destination
	}
	if destination == "" {
		return i.failJob(job, errors.New("no destination address for inscription"))
	}
	changeAddr := plan.Segments[0].Inputs[0].Address
	if changeAddr == "" {
		changeAddr = destination
	}

	rawTx, err := i.builder.BuildCommit(ctx, plan, 0, "", changeAddr, wif)
	if err != nil {
		if walletUnavailable(err) {
			return nil, fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
		}
		return i.stepFailed(job, err)
	}

	if i.dryRun {
		return &JobUpdate{
			JobId:        job.Id,
			Status:       job.Status,
			TotalCommits: plan.TotalCommits(),
			RawTx:        rawTx,
		}, nil
	}

	txid, err := txidOf(rawTx)
	if err != nil {
		return nil, err
	}
	checkpoint := &ResumeData{
		EphemeralWIF:   wif,
		FundingAddress: changeAddr,
		Destination:    destination,
		LastTxId:       txid,
		LastRawTx:      rawTx,
		Plan:           plan,
	}
	// The key and the built transaction go durable before the broadcast. A
	// crash in between leaves a pending job whose checkpoint still names the
	// original txid, so resume probes it rather than double spending.
	if err := i.writeCheckpoint(job, checkpoint); err != nil {
		return nil, err
	}
	return i.broadcastFirstCommit(ctx, job, checkpoint)
}

// broadcastFirstCommit submits the checkpointed first commit and moves the
// job to processing.
func (i *Inscriber) broadcastFirstCommit(ctx context.Context, job *tables.InscriptionJob, checkpoint *ResumeData) (*JobUpdate, error) {
	txid, err := i.broadcast(ctx, checkpoint.LastRawTx)
	if err != nil {
		return i.stepFailed(job, err)
	}

	total := checkpoint.Plan.TotalCommits()
	now := time.Now()
	job.Status = tables.JobStatusProcessing
	job.StartedAt = &now
	job.CurrentCommit = 1
	job.TotalCommits = total
	job.Progress = chainProgress(1, total)

	checkpoint.LastTxId = txid
	if err := i.writeCheckpoint(job, checkpoint); err != nil {
		return nil, err
	}
	log.Log.Infof("job %s: commit 1/%d broadcast %s", job.Id, total, txid)
	return stepUpdate(job, txid), nil
}

// continueChain rebuilds the next step from the checkpoint and broadcasts it.
func (i *Inscriber) continueChain(ctx context.Context, job *tables.InscriptionJob) (*JobUpdate, error) {
	if len(job.ResumeData) == 0 {
		return i.failJob(job, errors.New("processing job has no checkpoint"))
	}
	checkpoint, err := DecodeResumeData(job.ResumeData)
	if err != nil {
		return i.failJob(job, err)
	}
	plan := checkpoint.Plan

	if job.CurrentCommit < plan.TotalCommits() {
		index := job.CurrentCommit
		rawTx, err := i.builder.BuildCommit(ctx, plan, index,
			checkpoint.LastTxId, checkpoint.FundingAddress, checkpoint.EphemeralWIF)
		if err != nil {
			return i.stepFailed(job, err)
		}
		txid, err := i.broadcast(ctx, rawTx)
		if err != nil {
			return i.stepFailed(job, err)
		}

		job.CurrentCommit = index + 1
		job.Progress = chainProgress(job.CurrentCommit, plan.TotalCommits())
		checkpoint.LastTxId = txid
		checkpoint.LastRawTx = rawTx
		if err := i.writeCheckpoint(job, checkpoint); err != nil {
			return nil, err
		}
		log.Log.Infof("job %s: commit %d/%d broadcast %s",
			job.Id, job.CurrentCommit, job.TotalCommits, txid)
		return stepUpdate(job, txid), nil
	}

	rawTx, err := i.builder.BuildReveal(ctx, plan,
		checkpoint.LastTxId, checkpoint.Destination, checkpoint.EphemeralWIF)
	if err != nil {
		return i.stepFailed(job, err)
	}
	txid, err := i.broadcast(ctx, rawTx)
	if err != nil {
		return i.stepFailed(job, err)
	}

	inscriptionId := (&client.OutPoint{Txid: txid, Vout: 0}).InscriptionId()
	if err := i.store.MarkJobCompleted(job.Id, inscriptionId); err != nil {
		return nil, err
	}
	job.Status = tables.JobStatusCompleted
	job.Progress = 100
	job.InscriptionId = inscriptionId
	log.Log.Infof("job %s: reveal broadcast %s, inscription %s", job.Id, txid, inscriptionId)

	update := snapshot(job)
	update.TxId = txid
	return update, nil
}

// broadcast submits a signed transaction with bounded retries. The node is
// probed for the transaction first so a step whose previous attempt crashed
// between broadcast and checkpoint is never submitted twice.
func (i *Inscriber) broadcast(ctx context.Context, rawTx string) (string, error) {
	txid, err := txidOf(rawTx)
	if err != nil {
		return "", err
	}
	if i.nodeKnows(ctx, txid) {
		return txid, nil
	}

	var lastErr error
	for attempt := 0; attempt <= i.broadcastRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(i.retryInterval):
			}
		}
		sent, err := i.chain.SendRawTransaction(ctx, rawTx)
		if err == nil {
			return sent, nil
		}
		var policy *client.PolicyError
		if errors.As(err, &policy) {
			if policy.Code == btcjson.ErrRPCTxAlreadyInChain {
				return txid, nil
			}
			return "", err
		}
		lastErr = err
		if i.nodeKnows(ctx, txid) {
			return txid, nil
		}
	}
	return "", &BroadcastTimeoutError{TxId: txid, Err: lastErr}
}

func (i *Inscriber) nodeKnows(ctx context.Context, txid string) bool {
	status, err := i.chain.GetTransaction(ctx, txid)
	return err == nil && status.TxId == txid
}

func (i *Inscriber) writeCheckpoint(job *tables.InscriptionJob, checkpoint *ResumeData) error {
	data, err := checkpoint.Encode()
	if err != nil {
		return err
	}
	job.ResumeData = data
	return i.store.SaveJobCheckpoint(job)
}

// stepFailed decides whether an error ends the job or merely defers it.
// Wallet outages and transient network errors leave the job incomplete for a
// later resume; everything the node has definitively rejected is terminal.
func (i *Inscriber) stepFailed(job *tables.InscriptionJob, err error) (*JobUpdate, error) {
	if errors.Is(err, ErrWalletUnavailable) || !permanentError(err) {
		return nil, err
	}
	return i.failJob(job, err)
}

func (i *Inscriber) failJob(job *tables.InscriptionJob, cause error) (*JobUpdate, error) {
	if err := i.store.MarkJobFailed(job.Id, cause.Error()); err != nil {
		return nil, err
	}
	job.Status = tables.JobStatusFailed
	job.LastError = cause.Error()
	log.Log.Warnf("job %s failed: %v", job.Id, cause)
	return snapshot(job), cause
}

func permanentError(err error) bool {
	if errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrPayloadTooLarge) ||
		errors.Is(err, ErrScriptTooLarge) {
		return true
	}
	var signing *SigningError
	if errors.As(err, &signing) {
		return true
	}
	var policy *client.PolicyError
	if errors.As(err, &policy) {
		return true
	}
	var timeout *BroadcastTimeoutError
	return errors.As(err, &timeout)
}

func walletUnavailable(err error) bool {
	var rpcErr *btcjson.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	switch rpcErr.Code {
	case btcjson.ErrRPCWallet, btcjson.ErrRPCWalletUnlockNeeded:
		return true
	}
	return false
}

// chainProgress counts the reveal as the final step beyond the commits.
func chainProgress(done, totalCommits int) uint8 {
	return uint8(done * 100 / (totalCommits + 1))
}

func snapshot(job *tables.InscriptionJob) *JobUpdate {
	return &JobUpdate{
		JobId:         job.Id,
		Status:        job.Status,
		Progress:      job.Progress,
		CurrentCommit: job.CurrentCommit,
		TotalCommits:  job.TotalCommits,
		InscriptionId: job.InscriptionId,
	}
}

func stepUpdate(job *tables.InscriptionJob, txid string) *JobUpdate {
	update := snapshot(job)
	update.TxId = txid
	return update
}

func txidOf(rawTx string) (string, error) {
	raw, err := hex.DecodeString(rawTx)
	if err != nil {
		return "", err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", err
	}
	return tx.TxHash().String(), nil
}
