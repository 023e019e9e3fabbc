package inscription

import (
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/koinu-labs/kins/tables"
)

// ResumeData is the durable checkpoint of a job mid-chain. It carries
// everything needed to rebuild and continue the chain after a crash: the key,
// the plan, the lock scripts, and the last transaction actually broadcast.
// Written after every successful broadcast, before the next step begins.
type ResumeData struct {
	EphemeralWIF   string     `json:"ephemeralWif"`
	FundingAddress string     `json:"fundingAddress"`
	Destination    string     `json:"destination"`
	LastTxId       string     `json:"lastTxid"`
	LastRawTx      string     `json:"lastRawTx"`
	Locks          []string   `json:"locks"`
	Plan           *ChainPlan `json:"plan"`
}

// Encode serializes the checkpoint. Lock scripts travel hex-encoded alongside
// the plan, which omits them from its own JSON form.
func (r *ResumeData) Encode() ([]byte, error) {
	r.Locks = make([]string, len(r.Plan.Locks))
	for i, lock := range r.Plan.Locks {
		r.Locks[i] = hex.EncodeToString(lock)
	}
	return json.Marshal(r)
}

// DecodeResumeData restores a checkpoint, reattaching the lock scripts to the
// plan.
func DecodeResumeData(data []byte) (*ResumeData, error) {
	r := &ResumeData{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, err
	}
	if r.Plan == nil {
		return nil, errors.New("resume data carries no chain plan")
	}
	r.Plan.Locks = make([][]byte, len(r.Locks))
	for i, lock := range r.Locks {
		raw, err := hex.DecodeString(lock)
		if err != nil {
			return nil, err
		}
		r.Plan.Locks[i] = raw
	}
	return r, nil
}

// JobUpdate reports the outcome of one Advance call.
type JobUpdate struct {
	JobId         string
	Status        tables.JobStatus
	Progress      uint8
	CurrentCommit int
	TotalCommits  int
	TxId          string
	InscriptionId string
	RawTx         string
}
