package link

import (
	"testing"
	"time"

	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeAddressListRoundTrip(t *testing.T) {
	a, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)
	expiry := time.Now().Add(time.Hour)

	encoded, err := encodeAddressList([]multiaddr.Multiaddr{a}, &expiry)
	require.NoError(t, err)

	decoded, gotExpiry, err := decodeAddressList(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, a.String(), decoded[0].String())
	require.NotNil(t, gotExpiry)
	assert.WithinDuration(t, expiry, *gotExpiry, time.Second)
}

func TestDecodeAddressListRejectsGarbage(t *testing.T) {
	_, _, err := decodeAddressList([]byte("not json"))
	assert.Error(t, err)
}

func TestFirstIPAddressPicksUsableEntry(t *testing.T) {
	bad, err := multiaddr.NewMultiaddr("/dns4/example.com/tcp/4001")
	require.NoError(t, err)
	good, err := multiaddr.NewMultiaddr("/ip4/10.0.0.5/udp/9000")
	require.NoError(t, err)

	ip, err := firstIPAddress([]multiaddr.Multiaddr{bad, good})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", ip.IP)
	assert.Equal(t, uint16(9000), ip.Port)
}

func TestFirstIPAddressNoneUsable(t *testing.T) {
	dnsOnly, err := multiaddr.NewMultiaddr("/dns4/example.com/tcp/4001")
	require.NoError(t, err)

	_, err = firstIPAddress([]multiaddr.Multiaddr{dnsOnly})
	assert.ErrorIs(t, err, ErrNoUsableAddress)
}
