package engine

import (
	"testing"

	"github.com/Dyastin-0/swapbytes/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDiscoveredAndLost(t *testing.T) {
	r := NewRegistry()

	var lost []types.PeerID
	r.OnLost(func(id types.PeerID) { lost = append(lost, id) })

	assert.True(t, r.Discovered("a"))
	assert.False(t, r.Discovered("a"))
	require.NoError(t, r.ObserveNickname("a", "alice"))

	assert.True(t, r.Lost("a"))
	assert.False(t, r.Lost("a"))
	assert.Equal(t, []types.PeerID{"a"}, lost)

	r.Discovered("a")
	p, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Empty(t, p.Nickname, "a rediscovered peer starts fresh")
}

func TestRegistryLookupByNicknameMostRecentWins(t *testing.T) {
	r := NewRegistry()
	r.Discovered("a")
	r.Discovered("b")
	require.NoError(t, r.ObserveNickname("a", "sam"))
	require.NoError(t, r.ObserveNickname("b", "sam"))

	p, err := r.LookupByNickname("sam")
	require.NoError(t, err)
	assert.Equal(t, types.PeerID("b"), p.ID)

	r.Touch("a")
	p, err = r.LookupByNickname("sam")
	require.NoError(t, err)
	assert.Equal(t, types.PeerID("a"), p.ID)
}

func TestRegistryUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.LookupByNickname("ghost")
	assert.ErrorIs(t, err, ErrPeerUnknown)

	assert.ErrorIs(t, r.ObserveNickname("ghost", "x"), ErrPeerUnknown)
	assert.Equal(t, "ghost", r.Nickname("ghost"))
	assert.Equal(t, "12345678", r.Nickname("1234567890"))
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []types.PeerID{"c", "a", "b"} {
		r.Discovered(id)
	}
	require.NoError(t, r.ObserveNickname("c", "ann"))
	require.NoError(t, r.ObserveNickname("a", "zed"))
	require.NoError(t, r.ObserveNickname("b", "ann"))

	var got []types.PeerID
	for _, p := range r.List() {
		got = append(got, p.ID)
	}
	assert.Equal(t, []types.PeerID{"b", "c", "a"}, got)
	assert.Equal(t, 3, r.Len())
}
