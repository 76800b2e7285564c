//go:build linux || darwin

package netfd

import (
	"errors"
	"testing"
	"time"

	"github.com/joeycumines/netreactor/netaddr"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// retryUntil polls fn, which reports (done, err), until it reports done,
// err is non-nil, or the deadline passes. Used in place of a reactor.Loop
// since these tests exercise the raw, pre-reactor socket primitives.
func retryUntil(t *testing.T, fn func() (bool, error)) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		done, err := fn()
		require.NoError(t, err)
		if done {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func newLoopbackListener(t *testing.T) (*Socket, netaddr.Addr) {
	t.Helper()
	s := CreateNonblockingOrDie(unix.AF_INET)
	s.SetReuseAddr(true)
	s.BindAddress(netaddr.New(0, true, false))
	s.Listen()
	addr := s.LocalAddr()
	require.NotZero(t, addr.ToPort())
	return s, addr
}

func TestSocketListenAcceptConnectRoundTrip(t *testing.T) {
	listener, addr := newLoopbackListener(t)
	defer listener.Close()

	client := CreateNonblockingOrDie(unix.AF_INET)
	defer client.Close()

	err := client.Connect(addr)
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		require.NoError(t, err)
	}

	var server *Socket
	retryUntil(t, func() (bool, error) {
		s, _, acceptErr := listener.Accept()
		if acceptErr != nil {
			if errors.Is(acceptErr, unix.EAGAIN) {
				return false, nil
			}
			return false, acceptErr
		}
		server = s
		return true, nil
	})
	defer server.Close()

	retryUntil(t, func() (bool, error) {
		if gerr := client.GetSocketError(); gerr != nil {
			return false, gerr
		}
		_, werr := client.Write([]byte("x"))
		if werr != nil {
			if errors.Is(werr, unix.EAGAIN) {
				return false, nil
			}
			return false, werr
		}
		return true, nil
	})

	var got []byte
	retryUntil(t, func() (bool, error) {
		buf := make([]byte, 16)
		n, rerr := server.Read(buf)
		if rerr != nil {
			if errors.Is(rerr, unix.EAGAIN) {
				return false, nil
			}
			return false, rerr
		}
		got = buf[:n]
		return true, nil
	})
	require.Equal(t, "x", string(got))

	require.False(t, server.IsSelfConnect())
	require.NotEqual(t, server.LocalAddr().ToPort(), server.PeerAddr().ToPort())
}

func TestSocketCloseIsIdempotent(t *testing.T) {
	s := CreateNonblockingOrDie(unix.AF_INET)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestSocketBindDuplicatePortPanics(t *testing.T) {
	listener, addr := newLoopbackListener(t)
	defer listener.Close()

	other := CreateNonblockingOrDie(unix.AF_INET)
	defer other.Close()
	require.Panics(t, func() { other.BindAddress(addr) })
}

func TestSocketCloseWriteHalfClosesConnection(t *testing.T) {
	listener, addr := newLoopbackListener(t)
	defer listener.Close()

	client := CreateNonblockingOrDie(unix.AF_INET)
	defer client.Close()
	err := client.Connect(addr)
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		require.NoError(t, err)
	}

	var server *Socket
	retryUntil(t, func() (bool, error) {
		s, _, acceptErr := listener.Accept()
		if acceptErr != nil {
			if errors.Is(acceptErr, unix.EAGAIN) {
				return false, nil
			}
			return false, acceptErr
		}
		server = s
		return true, nil
	})
	defer server.Close()

	require.NoError(t, client.CloseWrite())

	retryUntil(t, func() (bool, error) {
		buf := make([]byte, 16)
		n, rerr := server.Read(buf)
		if rerr != nil {
			if errors.Is(rerr, unix.EAGAIN) {
				return false, nil
			}
			return false, rerr
		}
		return n == 0, nil
	})
}
