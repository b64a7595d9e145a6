package client

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Role is fixed at link creation and never reassigned: the side that learned
// about the peer from a join notification originates the offer; the side that
// learned about it from an inbound offer originates the answer.
type Role int

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

type NegotiationState int

const (
	StateNew NegotiationState = iota
	StateOfferCreated
	StateAwaitingAnswer
	StateOfferApplied
	StateAnswerCreated
	StateConnected
	StateClosed
	StateFailed
)

func (s NegotiationState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOfferCreated:
		return "offer-created"
	case StateAwaitingAnswer:
		return "awaiting-answer"
	case StateOfferApplied:
		return "offer-applied"
	case StateAnswerCreated:
		return "answer-created"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// terminal states accept no further negotiation input.
func (s NegotiationState) terminal() bool {
	return s == StateClosed || s == StateFailed
}

// SignalKind classifies an outbound negotiation payload at the serialization
// boundary. The variant is the sender's intent, never inferred from shape.
type SignalKind int

const (
	SignalOffer SignalKind = iota
	SignalAnswer
	SignalCandidate
)

// Outbound is one payload the engine wants relayed to its remote peer.
type Outbound struct {
	Kind      SignalKind
	SDP       string
	Candidate Candidate
}

var (
	ErrWrongRole  = errors.New("negotiation input does not match link role")
	ErrBadState   = errors.New("negotiation input not valid in current state")
	ErrLinkClosed = errors.New("link is closed")
)

// Engine is the offer/answer/candidate state machine for a single remote
// participant. It is confined to its peer set's serialization domain: the
// peer set never runs two handlers for the same link concurrently, so the
// engine carries no lock of its own.
type Engine struct {
	role      Role
	state     NegotiationState
	transport LinkTransport
	outbox    func(Outbound)
}

func NewEngine(role Role, transport LinkTransport, outbox func(Outbound)) *Engine {
	e := &Engine{
		role:      role,
		state:     StateNew,
		transport: transport,
		outbox:    outbox,
	}
	transport.OnCandidate(func(c Candidate) {
		outbox(Outbound{Kind: SignalCandidate, Candidate: c})
	})
	return e
}

func (e *Engine) Role() Role              { return e.role }
func (e *Engine) State() NegotiationState { return e.state }

// StartOffer begins the initiator path.
func (e *Engine) StartOffer() error {
	if e.role != Initiator {
		return ErrWrongRole
	}
	if e.state != StateNew {
		return fmt.Errorf("%w: start offer in %s", ErrBadState, e.state)
	}
	sdp, err := e.transport.CreateOffer()
	if err != nil {
		e.fail(err)
		return err
	}
	e.state = StateOfferCreated
	e.outbox(Outbound{Kind: SignalOffer, SDP: sdp})
	e.state = StateAwaitingAnswer
	return nil
}

// ApplyOffer only ever arrives on a responder-path link.
func (e *Engine) ApplyOffer(sdp string) error {
	if e.role != Responder {
		return ErrWrongRole
	}
	if e.state.terminal() {
		return ErrLinkClosed
	}
	if e.state != StateNew {
		return fmt.Errorf("%w: offer in %s", ErrBadState, e.state)
	}
	answer, err := e.transport.ApplyOfferCreateAnswer(sdp)
	if err != nil {
		e.fail(err)
		return err
	}
	e.state = StateOfferApplied
	e.outbox(Outbound{Kind: SignalAnswer, SDP: answer})
	e.state = StateAnswerCreated
	return nil
}

// ApplyAnswer only ever arrives on an initiator-path link.
func (e *Engine) ApplyAnswer(sdp string) error {
	if e.role != Initiator {
		return ErrWrongRole
	}
	if e.state.terminal() {
		return ErrLinkClosed
	}
	if e.state != StateAwaitingAnswer {
		return fmt.Errorf("%w: answer in %s", ErrBadState, e.state)
	}
	if err := e.transport.ApplyAnswer(sdp); err != nil {
		e.fail(err)
		return err
	}
	return nil
}

// AddCandidate is valid on either role at any state from New onward.
// Candidates legitimately race ahead of and behind offer/answer under
// trickling.
func (e *Engine) AddCandidate(c Candidate) error {
	if e.state.terminal() {
		return ErrLinkClosed
	}
	return e.transport.AddCandidate(c)
}

// MarkConnected is driven by the transport's connectivity signal.
// Remote media may already be flowing before this fires.
func (e *Engine) MarkConnected() {
	if e.state.terminal() {
		return
	}
	e.state = StateConnected
}

// MarkFailed records a transport failure. Terminal: there is no retry of the
// same link; recovery arrives only through a fresh peer-left + peer-joined
// cycle driven by the relay.
func (e *Engine) MarkFailed() {
	e.fail(nil)
}

func (e *Engine) fail(err error) {
	if e.state == StateClosed {
		return
	}
	e.state = StateFailed
	log.Warn().Str("module", "client.engine").Str("role", e.role.String()).Err(err).Msg("link failed")
}

// Close releases transport and media-attachment resources.
func (e *Engine) Close() {
	if e.state == StateClosed {
		return
	}
	e.state = StateClosed
	e.transport.Close()
}

// AttachLocal hands a local track to the transport.
func (e *Engine) AttachLocal(t LocalTrack) error {
	return e.transport.AttachLocal(t)
}

// ReplaceTrack hot-swaps the outgoing track of t's kind on a live link.
func (e *Engine) ReplaceTrack(t LocalTrack) error {
	if e.state != StateConnected {
		return fmt.Errorf("%w: replace track in %s", ErrBadState, e.state)
	}
	return e.transport.ReplaceTrack(t)
}
