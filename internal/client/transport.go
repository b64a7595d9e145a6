package client

// Candidate is one trickled ICE candidate, transport-agnostic.
type Candidate struct {
	Candidate     string
	SDPMid        *string
	SDPMLineIndex *uint16
}

// LinkTransport is the per-link real-time transport capability: offer/answer/
// candidate primitives plus track-level media I/O. Implemented over pion in
// adapters/rtc; faked in tests. Negotiation internals (codecs, ICE, SDP
// contents) stay behind this boundary.
type LinkTransport interface {
	CreateOffer() (string, error)
	ApplyOfferCreateAnswer(offer string) (string, error)
	ApplyAnswer(answer string) error
	AddCandidate(Candidate) error

	AttachLocal(LocalTrack) error
	// ReplaceTrack substitutes the outgoing track of the given kind in
	// place. A track substitution, not a renegotiation: the remote engine
	// never notices as long as kind and codec match.
	ReplaceTrack(LocalTrack) error

	OnCandidate(func(Candidate))
	OnRemoteStream(func(RemoteStream))
	OnConnected(func())
	OnFailed(func())

	Close()
}

// TransportFactory builds one transport per link.
type TransportFactory func() (LinkTransport, error)
