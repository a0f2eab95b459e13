package base

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3/util/key"
)

func TestUpkeepStatusReady(t *testing.T) {
	all := UpkeepStatus{Open: true, IntervalElapsed: true, HasBalance: true,
		HasPlayers: true}
	require.True(t, all.Ready())

	// dropping any single fact makes the predicate fail
	for i := 0; i < 4; i++ {
		status := all
		switch i {
		case 0:
			status.Open = false
		case 1:
			status.IntervalElapsed = false
		case 2:
			status.HasBalance = false
		case 3:
			status.HasPlayers = false
		}
		require.False(t, status.Ready(), "fact %d", i)
	}
	require.False(t, UpkeepStatus{}.Ready())
}

func TestWinnerIndex(t *testing.T) {
	require.Equal(t, 2, WinnerIndex(202, 5))
	require.Equal(t, 1, WinnerIndex(202, 3))
	require.Equal(t, 0, WinnerIndex(0, 7))
	require.Equal(t, 0, WinnerIndex(21, 3))
	require.Equal(t, 4, WinnerIndex(4, 100))
}

func TestIntervalElapsed(t *testing.T) {
	now := time.Now().UnixNano()
	require.True(t, IntervalElapsed(now, now, 0))
	require.False(t, IntervalElapsed(now, now, time.Second))
	last := now - (2 * time.Second).Nanoseconds()
	require.True(t, IntervalElapsed(last, now, time.Second))
	require.True(t, IntervalElapsed(last, now, 2*time.Second))
	require.False(t, IntervalElapsed(last, now, 3*time.Second))
}

func TestEnterDigest(t *testing.T) {
	kp := key.NewKeyPair(cothority.Suite)
	d1, err := EnterDigest(kp.Public, 100)
	require.NoError(t, err)
	d2, err := EnterDigest(kp.Public, 100)
	require.NoError(t, err)
	require.Equal(t, d1, d2)

	// the digest binds the fee, so a signature cannot be replayed for a
	// different payment
	d3, err := EnterDigest(kp.Public, 101)
	require.NoError(t, err)
	require.NotEqual(t, d1, d3)

	other := key.NewKeyPair(cothority.Suite)
	d4, err := EnterDigest(other.Public, 100)
	require.NoError(t, err)
	require.NotEqual(t, d1, d4)
}

func TestAccountID(t *testing.T) {
	kp := key.NewKeyPair(cothority.Suite)
	id1, err := AccountID(kp.Public)
	require.NoError(t, err)
	id2, err := AccountID(kp.Public)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	other := key.NewKeyPair(cothority.Suite)
	id3, err := AccountID(other.Public)
	require.NoError(t, err)
	require.NotEqual(t, id1, id3)
}
