package link

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/network"

	"github.com/zentalk-labs/zentalk-dht/pkg/dht"
)

// envelope is the JSON frame exchanged over a query stream, modeled on the
// teacher's RPCMessage{Version, Type, ID, Payload} shape: a request ID for
// correlation plus exactly one of a single query or a bundle.
type envelope struct {
	ID     string      `json:"id"`
	Single *dht.Query  `json:"single,omitempty"`
	Bundle []dht.Query `json:"bundle,omitempty"`
}

type responseEnvelope struct {
	ID       string        `json:"id"`
	Response *dht.Response `json:"response,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func writeEnvelope(w io.Writer, env envelope) error {
	return json.NewEncoder(w).Encode(env)
}

func readEnvelope(r io.Reader) (envelope, error) {
	var env envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return envelope{}, fmt.Errorf("link: decoding request envelope: %w", err)
	}
	return env, nil
}

func writeResponseEnvelope(w io.Writer, env responseEnvelope) error {
	return json.NewEncoder(w).Encode(env)
}

func readResponseEnvelope(r io.Reader) (responseEnvelope, error) {
	var env responseEnvelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return responseEnvelope{}, fmt.Errorf("link: decoding response envelope: %w", err)
	}
	return env, nil
}

// handleStream is the libp2p stream handler registered under ProtocolID.
// It decodes one request envelope, dispatches it to the registered
// dht.Subscriber, and writes back one response envelope, mirroring the
// teacher's one-request-per-stream RPC shape in pkg/meshstorage/rpc.go.
func (l *Link) handleStream(stream network.Stream) {
	defer stream.Close()

	env, err := readEnvelope(stream)
	if err != nil {
		_ = writeResponseEnvelope(stream, responseEnvelope{Error: err.Error()})
		return
	}

	l.mu.RLock()
	sub := l.sub
	l.mu.RUnlock()
	if sub == nil {
		_ = writeResponseEnvelope(stream, responseEnvelope{ID: env.ID, Error: "link: no subscriber registered"})
		return
	}

	peerID, ok := l.peerNodeID(stream.Conn().RemotePeer())
	if !ok && env.Bundle != nil {
		// A bundle's Announce prefix is how an unknown caller gets
		// registered, so derive its node ID from the connection's key.
		if pub := stream.Conn().RemotePublicKey(); pub != nil {
			if raw, err := pub.Raw(); err == nil {
				peerID, ok = nodeIDFromKey(raw), true
			}
		}
	}
	if !ok {
		_ = writeResponseEnvelope(stream, responseEnvelope{ID: env.ID, Error: "link: unknown remote peer"})
		return
	}

	ctx := context.Background()
	var resp dht.Response
	if env.Bundle != nil {
		resp, err = sub.TryConsumeQueryBundle(ctx, peerID, env.Bundle)
	} else if env.Single != nil {
		resp, err = sub.TryConsumeQuery(ctx, peerID, *env.Single)
	} else {
		err = dht.ErrMalformedWire
	}

	out := responseEnvelope{ID: env.ID}
	if err != nil {
		out.Error = err.Error()
	} else {
		out.Response = &resp
	}
	_ = writeResponseEnvelope(stream, out)
}
