package inscription

import (
	"sort"

	"github.com/koinu-labs/kins/constants"
)

// Rough per-component transaction sizes in bytes, legacy serialization.
const (
	txOverheadSize = 10
	txInputSize    = 148
	txOutputSize   = 34
)

// UTXO is one spendable wallet output offered to the planner.
type UTXO struct {
	TxId          string
	Vout          uint32
	Value         uint64
	Confirmations int64
	Address       string
	ScriptPubKey  string
}

// Segment is one planned commit transaction. The first segment spends only
// wallet inputs; every later segment additionally consumes the previous
// segment's lock output, consolidating value toward the reveal.
type Segment struct {
	Inputs         []UTXO
	SpendsPrevious bool
}

// ChainPlan is the ordered sequence of commit steps that funds a reveal.
// Locks is populated by the transaction builder once the job's ephemeral key
// exists, and LockVouts is filled in as each commit is assembled, since the
// node decides output ordering; everything else is pure planner output and
// deterministic for identical inputs.
type ChainPlan struct {
	Segments           []Segment `json:"segments"`
	Locks              [][]byte  `json:"-"`
	LockVouts          []uint32  `json:"lockVouts"`
	SegmentValues      []uint64  `json:"segmentValues"`
	TargetCommitOutput int       `json:"targetCommitOutput"`
	BaseCommitValue    uint64    `json:"baseCommitValue"`
	FeeRatePerKB       uint64    `json:"feeRatePerKB"`
}

// TotalCommits returns the number of commit transactions in the plan.
func (p *ChainPlan) TotalCommits() int {
	return len(p.Segments)
}

func estimateTxSize(inputs, outputs int) uint64 {
	return uint64(txOverheadSize + inputs*txInputSize + outputs*txOutputSize)
}

func txFee(size, feeRatePerKB uint64) uint64 {
	return constants.PerTxBaseFee + feeRatePerKB*size/1024
}

// EstimateTotalFee is the user-facing fee quote for inscribing fileCount
// files of combined size totalSize: one flat market fee per file plus the
// rate-proportional cost of the payload bytes.
func EstimateTotalFee(fileCount int, totalSize, feeRatePerKB, marketFee uint64) uint64 {
	return uint64(fileCount)*marketFee + feeRatePerKB*totalSize/1024
}

// Plan computes the minimal ordered chain of commit transactions funding a
// reveal worth targetValue. UTXOs are taken largest first; when one commit
// cannot carry enough inputs, hop segments consolidate the remainder into
// progressively larger intermediate outputs. Ties between equal values go to
// the oldest output to reduce reorg exposure, then to txid for full
// determinism. revealRedeemSize is the byte length of the reveal redeem
// script, which rides in the reveal input and dominates that spend's fee.
func Plan(utxos []UTXO, targetValue, feeRatePerKB, revealRedeemSize uint64) (*ChainPlan, error) {
	if len(utxos) == 0 {
		return nil, ErrInsufficientFunds
	}

	sorted := make([]UTXO, len(utxos))
	copy(sorted, utxos)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Value != sorted[j].Value {
			return sorted[i].Value > sorted[j].Value
		}
		if sorted[i].Confirmations != sorted[j].Confirmations {
			return sorted[i].Confirmations > sorted[j].Confirmations
		}
		if sorted[i].TxId != sorted[j].TxId {
			return sorted[i].TxId < sorted[j].TxId
		}
		return sorted[i].Vout < sorted[j].Vout
	})

	// Value the final commit output must carry: the reveal target plus the
	// cost of spending that output into the reveal transaction, redeem
	// script included.
	revealSpendFee := txFee(estimateTxSize(1, 1)+revealRedeemSize, feeRatePerKB) + constants.RevealFeePadding
	base := targetValue + revealSpendFee

	for n := 1; n <= len(sorted); n++ {
		plan, ok := tryPlan(sorted[:n], base, feeRatePerKB)
		if ok {
			plan.BaseCommitValue = base
			return plan, nil
		}
	}
	return nil, ErrInsufficientFunds
}

// segmentize splits the selected inputs into commit transactions. The first
// commit takes up to MaxCommitInputs wallet inputs; each hop reserves one
// input slot for the previous segment's lock output.
func segmentize(selected []UTXO) []Segment {
	segments := make([]Segment, 0, 1)
	first := selected
	if len(first) > constants.MaxCommitInputs {
		first = selected[:constants.MaxCommitInputs]
	}
	segments = append(segments, Segment{Inputs: first})
	rest := selected[len(first):]
	for len(rest) > 0 {
		take := constants.MaxCommitInputs - 1
		if len(rest) < take {
			take = len(rest)
		}
		segments = append(segments, Segment{Inputs: rest[:take], SpendsPrevious: true})
		rest = rest[take:]
	}
	return segments
}

// tryPlan checks whether the selected inputs can fund a chain ending in a
// lock output of value base, and if so computes every segment's output value
// by walking the chain backward from the reveal.
func tryPlan(selected []UTXO, base, feeRatePerKB uint64) (*ChainPlan, bool) {
	segments := segmentize(selected)
	k := len(segments)
	values := make([]uint64, k)
	values[k-1] = base

	// Walk backward: each segment's incoming lock value is whatever its own
	// output and fee demand beyond the wallet inputs it consumes.
	need := base
	for i := k - 1; i > 0; i-- {
		walletIn := sumValues(segments[i].Inputs)
		// one extra input for the previous lock, one lock output, no change
		fee := txFee(estimateTxSize(len(segments[i].Inputs)+1, 1), feeRatePerKB)
		required := need + fee
		if required <= walletIn {
			// wallet inputs alone already cover this hop; the previous lock
			// still has to exist to chain the transactions, so keep it at
			// the dust floor.
			need = constants.DustLimit
		} else {
			need = required - walletIn
			if need < constants.DustLimit {
				need = constants.DustLimit
			}
		}
		values[i-1] = need
	}

	// First segment: wallet inputs only, lock output plus change.
	walletIn := sumValues(segments[0].Inputs)
	fee := txFee(estimateTxSize(len(segments[0].Inputs), 2), feeRatePerKB)
	if walletIn < need+fee {
		return nil, false
	}

	return &ChainPlan{
		Segments:      segments,
		LockVouts:     make([]uint32, len(segments)),
		SegmentValues: values,
		FeeRatePerKB:  feeRatePerKB,
	}, true
}

func sumValues(utxos []UTXO) (total uint64) {
	for _, u := range utxos {
		total += u.Value
	}
	return
}
