package consensus

import (
	"testing"

	"github.com/lattice-labs/lattice/lib"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	return NewRegistry(lib.DefaultConsensusConfig(), lib.NewNullLogger())
}

// boost raises a validator's reputation by recording perfect rounds
func boost(t *testing.T, r *Registry, address string, rounds int) {
	for i := 0; i < rounds; i++ {
		require.Nil(t, r.RecordMetrics(address, 0, true))
	}
}

func TestRegister(t *testing.T) {
	r := testRegistry(t)
	require.Nil(t, r.Register("val-1", 100))
	v, err := r.Get("val-1")
	require.Nil(t, err)
	require.EqualValues(t, 100, v.Stake)
	require.Equal(t, defaultReputation, v.Reputation)
	require.True(t, v.Active)
	// duplicates are rejected
	err = r.Register("val-1", 50)
	require.NotNil(t, err)
	require.Equal(t, lib.CodeDuplicateValidator, err.Code())
	// unknown lookups error
	_, err = r.Get("val-9")
	require.NotNil(t, err)
	require.Equal(t, lib.CodeUnknownValidator, err.Code())
}

func TestRecordMetrics(t *testing.T) {
	r := testRegistry(t)
	require.Nil(t, r.Register("val-1", 100))
	// perfect rounds pull the reputation up, bounded by 1
	boost(t, r, "val-1", 50)
	v, err := r.Get("val-1")
	require.Nil(t, err)
	require.Greater(t, v.Reputation, 0.9)
	require.LessOrEqual(t, v.Reputation, 1.0)
	require.EqualValues(t, 0, v.LatencyMS)
	// missed, slow rounds pull it down, bounded by 0
	for i := 0; i < 50; i++ {
		require.Nil(t, r.RecordMetrics("val-1", 2000, false))
	}
	v, err = r.Get("val-1")
	require.Nil(t, err)
	require.Less(t, v.Reputation, 0.1)
	require.GreaterOrEqual(t, v.Reputation, 0.0)
	require.Greater(t, v.LatencyMS, 1000.0)
	require.Less(t, v.Participation, 0.1)
}

func TestPenalizeIsMonotonic(t *testing.T) {
	r := testRegistry(t)
	require.Nil(t, r.Register("val-1", 100))
	boost(t, r, "val-1", 10) // reputation near 0.9
	v, _ := r.Get("val-1")
	start := v.Reputation
	require.Nil(t, r.Penalize("val-1", 0.3))
	v, _ = r.Get("val-1")
	require.InDelta(t, start-0.3, v.Reputation, 1e-9)
	require.True(t, v.Active)
	// driving the reputation to zero deactivates permanently
	require.Nil(t, r.Penalize("val-1", 1))
	v, _ = r.Get("val-1")
	require.EqualValues(t, 0, v.Reputation)
	require.False(t, v.Active)
	// no metric recording revives a deactivated validator
	boost(t, r, "val-1", 20)
	v, _ = r.Get("val-1")
	require.EqualValues(t, 0, v.Reputation)
	require.False(t, v.Active)
	// but it stays queryable
	require.Equal(t, []Validator{v}, r.History())
}

func TestPenalizeInvalidSeverity(t *testing.T) {
	r := testRegistry(t)
	require.Nil(t, r.Register("val-1", 100))
	for _, severity := range []float64{0, -0.1, 1.1} {
		err := r.Penalize("val-1", severity)
		require.NotNil(t, err)
		require.Equal(t, lib.CodeInvalidSeverity, err.Code())
	}
}

func TestSelectQuorumProofOfStake(t *testing.T) {
	r := testRegistry(t)
	require.Nil(t, r.Register("val-a", 50))
	require.Nil(t, r.Register("val-b", 200))
	require.Nil(t, r.Register("val-c", 200))
	require.Nil(t, r.Register("val-d", 0)) // unstaked, excluded
	quorum, err := r.SelectQuorum(lib.ProofOfStake)
	require.Nil(t, err)
	require.Len(t, quorum, 3)
	// stake descending, address breaking the tie
	require.Equal(t, "val-b", quorum[0].Address)
	require.Equal(t, "val-c", quorum[1].Address)
	require.Equal(t, "val-a", quorum[2].Address)
}

func TestSelectQuorumPBFT(t *testing.T) {
	r := testRegistry(t)
	for _, address := range []string{"val-a", "val-b", "val-c"} {
		require.Nil(t, r.Register(address, 100))
	}
	// fresh validators sit at 0.5, below the 0.7 floor: no quorum
	_, err := r.SelectQuorum(lib.PBFT)
	require.NotNil(t, err)
	require.Equal(t, lib.CodeNoQuorum, err.Code())
	// raising two of three above the floor meets ceil(2/3 * 3) = 2
	boost(t, r, "val-a", 10)
	boost(t, r, "val-c", 10)
	quorum, err := r.SelectQuorum(lib.PBFT)
	require.Nil(t, err)
	require.Len(t, quorum, 2)
	for _, v := range quorum {
		require.GreaterOrEqual(t, v.Reputation, 0.7)
	}
}

func TestSelectQuorumProofOfWork(t *testing.T) {
	r := testRegistry(t)
	require.Nil(t, r.Register("val-b", 0))
	require.Nil(t, r.Register("val-a", 10))
	quorum, err := r.SelectQuorum(lib.ProofOfWork)
	require.Nil(t, err)
	// every active validator participates, in address order
	require.Equal(t, "val-a", quorum[0].Address)
	require.Equal(t, "val-b", quorum[1].Address)
}

func TestDeactivatedExcludedFromEveryQuorum(t *testing.T) {
	r := testRegistry(t)
	require.Nil(t, r.Register("val-a", 100))
	require.Nil(t, r.Register("val-b", 100))
	boost(t, r, "val-a", 10)
	// two 0.3 penalties drive val-b from its neutral 0.5 to zero and out
	require.Nil(t, r.Penalize("val-b", 0.3))
	require.Nil(t, r.Penalize("val-b", 0.3))
	v, _ := r.Get("val-b")
	require.False(t, v.Active)
	for _, mode := range []lib.ConsensusMode{lib.ProofOfStake, lib.PBFT, lib.ProofOfWork} {
		quorum, err := r.SelectQuorum(mode)
		if err != nil {
			continue
		}
		for _, member := range quorum {
			require.NotEqual(t, "val-b", member.Address)
		}
	}
}

func TestSelectQuorumInvalidMode(t *testing.T) {
	r := testRegistry(t)
	_, err := r.SelectQuorum(lib.ConsensusMode(9))
	require.NotNil(t, err)
	require.Equal(t, lib.CodeInvalidMode, err.Code())
}
