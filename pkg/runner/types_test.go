package runner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bonsol-network/prover-node/pkg/input"
)

func TestInflightMapStoreGetDelete(t *testing.T) {
	m := newInflightMap()
	require.Equal(t, 0, m.len())

	p := &InflightProof{ExecutionID: []byte("ex-1"), Expiry: 100, Status: StatusClaiming}
	m.store("ex-1", p)
	require.Equal(t, 1, m.len())

	got, ok := m.get("ex-1")
	require.True(t, ok)
	require.Same(t, p, got)

	m.delete("ex-1")
	require.Equal(t, 0, m.len())
	_, ok = m.get("ex-1")
	require.False(t, ok)
}

func TestInflightMapSnapshotIsIndependentCopy(t *testing.T) {
	m := newInflightMap()
	m.store("ex-1", &InflightProof{Expiry: 100})
	m.store("ex-2", &InflightProof{Expiry: 200})

	snap := m.snapshot()
	require.Len(t, snap, 2)

	m.delete("ex-1")
	require.Len(t, snap, 2, "mutating the map after snapshot must not affect the copy")
	require.Equal(t, 1, m.len())
}

func TestStagingAreaPutGetRemove(t *testing.T) {
	s := newStagingArea()

	_, ok := s.get("ex-1")
	require.False(t, ok)

	v := []input.ProgramInput{
		{Index: 0, State: input.ProgramInputResolved, Bytes: []byte("a")},
		{Index: 1, State: input.ProgramInputResolved, Bytes: []byte("b")},
	}
	s.put("ex-1", v)

	got, ok := s.get("ex-1")
	require.True(t, ok)
	require.Equal(t, v, got)

	s.remove("ex-1")
	_, ok = s.get("ex-1")
	require.False(t, ok)
}

func TestStagingAreaPreservesDenseOrdering(t *testing.T) {
	s := newStagingArea()
	v := make([]input.ProgramInput, 4)
	for i := range v {
		v[i] = input.ProgramInput{Index: i, State: input.ProgramInputResolved, Bytes: []byte{byte(i)}}
	}
	s.put("ex-1", v)

	got, ok := s.get("ex-1")
	require.True(t, ok)
	for i, in := range got {
		require.Equal(t, i, in.Index)
		require.Equal(t, input.ProgramInputResolved, in.State)
	}
}
