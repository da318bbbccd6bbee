package ippool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllocateAssignsDistinctAddresses(t *testing.T) {
	p, err := NewMemoryPool("10.8.0.0/30", time.Minute)
	require.NoError(t, err)

	ip1, err := p.Allocate("client1")
	require.NoError(t, err)
	ip2, err := p.Allocate("client2")
	require.NoError(t, err)
	require.NotEqual(t, ip1, ip2)
}

func TestAllocateReturnsSameAddressForSameClient(t *testing.T) {
	p, err := NewMemoryPool("10.8.0.0/29", time.Minute)
	require.NoError(t, err)

	ip1, err := p.Allocate("client1")
	require.NoError(t, err)
	ip2, err := p.Allocate("client1")
	require.NoError(t, err)
	require.Equal(t, ip1, ip2)
}

func TestAllocateExhaustion(t *testing.T) {
	// /30 has two usable host addresses after stripping network/broadcast.
	p, err := NewMemoryPool("10.8.0.0/30", time.Minute)
	require.NoError(t, err)

	_, err = p.Allocate("client1")
	require.NoError(t, err)
	_, err = p.Allocate("client2")
	require.NoError(t, err)

	_, err = p.Allocate("client3")
	require.ErrorIs(t, err, ErrPoolExhausted)
}

func TestReleaseReturnsAddressToFreeList(t *testing.T) {
	p, err := NewMemoryPool("10.8.0.0/30", time.Minute)
	require.NoError(t, err)

	ip1, err := p.Allocate("client1")
	require.NoError(t, err)
	require.NoError(t, p.Release(ip1))

	ip2, err := p.Allocate("client2")
	require.NoError(t, err)
	require.Equal(t, ip1, ip2)
}

func TestReleaseUnknownLease(t *testing.T) {
	p, err := NewMemoryPool("10.8.0.0/30", time.Minute)
	require.NoError(t, err)

	err = p.Release("10.8.0.99")
	require.ErrorIs(t, err, ErrUnknownLease)
}

func TestRenewExtendsExpiry(t *testing.T) {
	p, err := NewMemoryPool("10.8.0.0/30", time.Minute)
	require.NoError(t, err)

	ip, err := p.Allocate("client1")
	require.NoError(t, err)

	exp1, err := p.Renew(ip)
	require.NoError(t, err)
	require.Greater(t, exp1, uint64(0))
}

func TestRenewUnknownLease(t *testing.T) {
	p, err := NewMemoryPool("10.8.0.0/30", time.Minute)
	require.NoError(t, err)

	_, err = p.Renew("10.8.0.99")
	require.ErrorIs(t, err, ErrUnknownLease)
}

func TestDefaultLeaseDuration(t *testing.T) {
	p, err := NewMemoryPool("10.8.0.0/30", 90*time.Second)
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, p.DefaultLeaseDuration())
}
