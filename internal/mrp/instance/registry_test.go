package instance

import (
	"io"
	"log/slog"
	"testing"

	"github.com/ringmrp/mrpd/internal/mrp/sched"
	"github.com/stretchr/testify/require"
)

func discardScheduler() *sched.Scheduler {
	return sched.New(slog.New(slog.NewTextHandler(io.Discard, nil)), func(owner any, kind sched.Kind) {})
}

func TestRegistryAddFindDelete(t *testing.T) {
	r := NewRegistry(discardScheduler())
	in := New(testKey(), nil, [16]byte{})

	require.NoError(t, r.Add(in))
	require.Error(t, r.Add(in))
	var existsErr *ErrExists
	err := r.Add(in)
	require.ErrorAs(t, err, &existsErr)

	got, ok := r.Find(testKey())
	require.True(t, ok)
	require.Same(t, in, got)

	require.Equal(t, 1, r.Len())

	deleted, err := r.Delete(testKey())
	require.NoError(t, err)
	require.Same(t, in, deleted)
	require.Equal(t, 0, r.Len())

	_, err = r.Delete(testKey())
	require.Error(t, err)
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry(discardScheduler())
	k1 := Key{BridgeIfindex: 1, RingNr: 1}
	k2 := Key{BridgeIfindex: 1, RingNr: 2}
	require.NoError(t, r.Add(New(k1, nil, [16]byte{})))
	require.NoError(t, r.Add(New(k2, nil, [16]byte{})))
	require.Len(t, r.List(), 2)
}
