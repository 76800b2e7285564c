package netaddr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromIPPortRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []string{"127.0.0.1", "10.0.0.5", "0.0.0.0", "255.255.255.255"}
	for _, ip := range cases {
		a, err := FromIPPort(ip, 8080)
		require.NoError(t, err)
		require.Equal(t, ip, a.ToIP())
		require.EqualValues(t, 8080, a.ToPort())
		require.False(t, a.IsIPv6())
	}
}

func TestFromIPPortIPv6(t *testing.T) {
	t.Parallel()
	a, err := FromIPPort("::1", 9)
	require.NoError(t, err)
	require.True(t, a.IsIPv6())
	require.True(t, a.IsLoopback())
}

func TestNewLoopbackOnly(t *testing.T) {
	t.Parallel()
	a := New(80, true, false)
	require.Equal(t, "127.0.0.1", a.ToIP())
}

func TestIsIntranet(t *testing.T) {
	t.Parallel()
	for _, ip := range []string{"10.1.2.3", "172.16.0.1", "192.168.1.1", "127.0.0.1"} {
		a, err := FromIPPort(ip, 0)
		require.NoError(t, err)
		require.Truef(t, a.IsIntranet(), "%s should be intranet", ip)
	}
	pub, err := FromIPPort("8.8.8.8", 0)
	require.NoError(t, err)
	require.False(t, pub.IsIntranet())
}

func TestUnspecified(t *testing.T) {
	t.Parallel()
	require.True(t, Unspecified().IsUnspecified())
	a, _ := FromIPPort("1.2.3.4", 1)
	require.False(t, a.IsUnspecified())
}

func TestEqual(t *testing.T) {
	t.Parallel()
	a, _ := FromIPPort("1.2.3.4", 80)
	b, _ := FromIPPort("1.2.3.4", 80)
	c, _ := FromIPPort("1.2.3.4", 81)
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestInvalidIP(t *testing.T) {
	t.Parallel()
	_, err := FromIPPort("not-an-ip", 1)
	require.Error(t, err)
}
