package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemStoreRecentOrderingAndWrap(t *testing.T) {
	m := NewMemStore(3)

	base := time.Unix(1000, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Record(JobOutcome{
			JobID:      uint32(i),
			Succeeded:  true,
			FinishedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	recent, err := m.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 3) // capacity 3, oldest two evicted

	// Most recent (id=4) first.
	require.Equal(t, uint32(4), recent[0].JobID)
	require.Equal(t, uint32(3), recent[1].JobID)
	require.Equal(t, uint32(2), recent[2].JobID)
}

func TestMemStoreRecentRespectsLimit(t *testing.T) {
	m := NewMemStore(10)
	for i := 0; i < 4; i++ {
		require.NoError(t, m.Record(JobOutcome{JobID: uint32(i)}))
	}
	recent, err := m.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, uint32(3), recent[0].JobID)
	require.Equal(t, uint32(2), recent[1].JobID)
}
