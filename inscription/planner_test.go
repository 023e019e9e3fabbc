package inscription

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/koinu-labs/kins/constants"
)

func makeUTXOs(n int, value uint64) []UTXO {
	utxos := make([]UTXO, 0, n)
	for i := 0; i < n; i++ {
		utxos = append(utxos, UTXO{
			TxId:          fmt.Sprintf("%064x", i+1),
			Vout:          0,
			Value:         value,
			Confirmations: int64(10 + i),
		})
	}
	return utxos
}

func TestPlanSingleCommit(t *testing.T) {
	utxos := []UTXO{{
		TxId:          fmt.Sprintf("%064x", 7),
		Vout:          1,
		Value:         50_000_000,
		Confirmations: 100,
	}}

	plan, err := Plan(utxos, 1_000_000, 50_000, 600)
	require.NoError(t, err)
	require.Equal(t, 1, plan.TotalCommits())
	require.False(t, plan.Segments[0].SpendsPrevious)
	require.Len(t, plan.Segments[0].Inputs, 1)
	require.Equal(t, plan.BaseCommitValue, plan.SegmentValues[0])
	require.Greater(t, plan.BaseCommitValue, uint64(1_000_000))
}

// The final commit output must cover the fee the reveal actually pays, which
// grows with the redeem script carried in its input. Underfunding here would
// surface only after the commits broadcast, with the value already locked.
func TestPlanFundsRevealSpend(t *testing.T) {
	const rate = 50_000
	const redeemSize = 120_000
	utxos := []UTXO{{
		TxId:          fmt.Sprintf("%064x", 3),
		Value:         80_000_000,
		Confirmations: 5,
	}}

	plan, err := Plan(utxos, constants.DustLimit, rate, redeemSize)
	require.NoError(t, err)

	revealFee := txFee(estimateTxSize(1, 1)+redeemSize, rate) + constants.RevealFeePadding
	require.Equal(t, uint64(constants.DustLimit)+revealFee, plan.BaseCommitValue)
}

func TestPlanDeterministic(t *testing.T) {
	utxos := makeUTXOs(30, 3_000_000)
	shuffled := make([]UTXO, len(utxos))
	copy(shuffled, utxos)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	first, err := Plan(utxos, 40_000_000, 50_000, 600)
	require.NoError(t, err)
	second, err := Plan(shuffled, 40_000_000, 50_000, 600)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestPlanPrefersOldestOnEqualValue(t *testing.T) {
	utxos := []UTXO{
		{TxId: fmt.Sprintf("%064x", 2), Value: 50_000_000, Confirmations: 3},
		{TxId: fmt.Sprintf("%064x", 1), Value: 50_000_000, Confirmations: 900},
	}

	plan, err := Plan(utxos, 1_000_000, 50_000, 600)
	require.NoError(t, err)
	require.Len(t, plan.Segments[0].Inputs, 1)
	require.Equal(t, int64(900), plan.Segments[0].Inputs[0].Confirmations)
}

func TestPlanInsufficientFunds(t *testing.T) {
	_, err := Plan(nil, 1_000_000, 50_000, 600)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = Plan(makeUTXOs(3, constants.DustLimit), 100_000_000, 50_000, 600)
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestPlanMultiSegmentChain(t *testing.T) {
	const feeRate = 50_000
	utxos := makeUTXOs(120, 2_000_000)

	plan, err := Plan(utxos, 220_000_000, feeRate, 600)
	require.NoError(t, err)
	require.Greater(t, plan.TotalCommits(), 1)
	require.Len(t, plan.Segments[0].Inputs, constants.MaxCommitInputs)
	require.False(t, plan.Segments[0].SpendsPrevious)

	for i, segment := range plan.Segments[1:] {
		require.True(t, segment.SpendsPrevious, "segment %d", i+1)
		require.LessOrEqual(t, len(segment.Inputs), constants.MaxCommitInputs-1)
	}

	last := plan.TotalCommits() - 1
	require.Equal(t, plan.BaseCommitValue, plan.SegmentValues[last])

	// Every step must pay for itself: incoming value covers the lock output
	// plus the step's fee, and no lock output falls below dust.
	for i, segment := range plan.Segments {
		in := sumValues(segment.Inputs)
		inputs := len(segment.Inputs)
		outputs := 1
		if i == 0 {
			outputs = 2
		} else {
			in += plan.SegmentValues[i-1]
			inputs++
		}
		fee := txFee(estimateTxSize(inputs, outputs), feeRate)
		require.GreaterOrEqual(t, in, plan.SegmentValues[i]+fee, "segment %d underfunded", i)
		require.GreaterOrEqual(t, plan.SegmentValues[i], uint64(constants.DustLimit))
	}
}

func TestEstimateTotalFee(t *testing.T) {
	require.Equal(t, uint64(0), EstimateTotalFee(0, 0, 50_000, constants.PerTxBaseFee))

	fee := EstimateTotalFee(3, 300_000, 50_000, constants.PerTxBaseFee)
	require.Equal(t, uint64(3*constants.PerTxBaseFee+50_000*300_000/1024), fee)
}
