package resolver

import (
	"testing"
	"time"

	"github.com/joeycumines/netreactor/netaddr"
	"github.com/stretchr/testify/require"
)

func TestResolveLoopbackHostname(t *testing.T) {
	t.Parallel()
	r := New(time.Minute)
	defer r.Close()

	addr := r.SyncResolve("localhost")
	require.False(t, addr.IsUnspecified())
	require.True(t, addr.IsLoopback())
}

func TestResolveCachesWithinTimeout(t *testing.T) {
	t.Parallel()
	r := New(time.Minute)
	defer r.Close()

	first := r.SyncResolve("localhost")
	require.False(t, first.IsUnspecified())

	cached, ok := r.lookupCache("localhost")
	require.True(t, ok)
	require.True(t, cached.Equal(first))
}

func TestResolveUnknownHostReturnsUnspecified(t *testing.T) {
	t.Parallel()
	r := New(time.Minute)
	defer r.Close()

	addr := r.SyncResolve("this-host-does-not-exist.invalid")
	require.True(t, addr.IsUnspecified())

	_, ok := r.lookupCache("this-host-does-not-exist.invalid")
	require.False(t, ok, "negative results must not be cached")
}

func TestResolveAsyncCallbackFires(t *testing.T) {
	t.Parallel()
	r := New(0)
	defer r.Close()

	result := make(chan netaddr.Addr, 1)
	r.Resolve("localhost", func(addr netaddr.Addr) { result <- addr })

	select {
	case addr := <-result:
		require.False(t, addr.IsUnspecified())
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
}
