// Package link implements the dht.Link/dht.Subscriber collaborator
// interfaces on top of libp2p: host construction, peer registration, and
// JSON-over-stream request/response framing.
package link

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/multiformats/go-multiaddr"

	"github.com/zentalk-labs/zentalk-dht/pkg/dht"
)

// ErrNoUsableAddress is returned when an address list contains no
// multiaddr this process knows how to turn into an IP/port pair.
var ErrNoUsableAddress = errors.New("link: no usable address in list")

// addressListWire is the JSON shape dht.AddressList blobs are encoded in.
// This is link-layer-private: pkg/dht only ever treats AddressList as
// opaque bytes (spec.md §6).
type addressListWire struct {
	Multiaddrs []string   `json:"multiaddrs"`
	Expiry     *time.Time `json:"expiry,omitempty"`
}

// encodeAddressList builds the wire AddressList for a set of multiaddrs.
func encodeAddressList(addrs []multiaddr.Multiaddr, expiry *time.Time) (dht.AddressList, error) {
	wire := addressListWire{Expiry: expiry}
	for _, a := range addrs {
		wire.Multiaddrs = append(wire.Multiaddrs, a.String())
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	return dht.AddressList(raw), nil
}

// decodeAddressList parses a dht.AddressList blob back into multiaddrs.
func decodeAddressList(list dht.AddressList) ([]multiaddr.Multiaddr, *time.Time, error) {
	var wire addressListWire
	if err := json.Unmarshal(list, &wire); err != nil {
		return nil, nil, dht.ErrMalformedWire
	}
	addrs := make([]multiaddr.Multiaddr, 0, len(wire.Multiaddrs))
	for _, s := range wire.Multiaddrs {
		a, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			continue
		}
		addrs = append(addrs, a)
	}
	return addrs, wire.Expiry, nil
}

// firstIPAddress extracts the first IPv4/IPv6 + TCP/UDP port pair found
// among addrs, matching spec.md §6's parse_address_list semantics.
func firstIPAddress(addrs []multiaddr.Multiaddr) (*dht.IPAddress, error) {
	for _, a := range addrs {
		var ip, port string
		multiaddr.ForEach(a, func(c multiaddr.Component) bool {
			switch c.Protocol().Code {
			case multiaddr.P_IP4, multiaddr.P_IP6:
				ip = c.Value()
			case multiaddr.P_TCP, multiaddr.P_UDP:
				port = c.Value()
			}
			return true
		})
		if ip == "" || port == "" {
			continue
		}
		p, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			continue
		}
		return &dht.IPAddress{IP: ip, Port: uint16(p)}, nil
	}
	return nil, ErrNoUsableAddress
}
