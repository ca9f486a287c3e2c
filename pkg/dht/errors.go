package dht

import "errors"

// Error kinds from spec.md §7. Each is a sentinel so callers can
// errors.Is-match without depending on message text, the same pattern the
// teacher uses in pkg/dht/signed_entry.go.
var (
	ErrMalformedWire         = errors.New("dht: malformed wire payload")
	ErrSignatureInvalid      = errors.New("dht: signature invalid")
	ErrExpired               = errors.New("dht: value expired")
	ErrUnsupportedUpdateRule = errors.New("dht: unsupported update rule")
	ErrEmptyOverlayList      = errors.New("dht: empty overlay node list")
	ErrWrongTypeInResult     = errors.New("dht: unexpected payload type in result")
	ErrInternalInvariant     = errors.New("dht: internal invariant violated")
	ErrTransportFailure      = errors.New("dht: transport failure")
	ErrNoNodesAvailable      = errors.New("dht: no nodes available")
)
