package relay

import "fmt"

// CallPhase enumerates the per-user call negotiation phases.
type CallPhase int

const (
	PhaseIdle CallPhase = iota
	PhaseRingingOutgoing
	PhaseRingingIncoming
	PhaseConnected
)

func (p CallPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRingingOutgoing:
		return "ringing_outgoing"
	case PhaseRingingIncoming:
		return "ringing_incoming"
	case PhaseConnected:
		return "connected"
	default:
		return fmt.Sprintf("call_phase(%d)", int(p))
	}
}

// CallState is one user's side of a call pairing. Partner is empty exactly
// when Phase is PhaseIdle.
//
// Transitions are pure: methods return the next state and never mutate the
// receiver, so the machine is testable without a registry or transport.
type CallState struct {
	Phase   CallPhase
	Partner string
}

func (s CallState) Idle() bool { return s.Phase == PhaseIdle }

// Busy reports whether the user is party to a pending or active call. A busy
// user bounces new call requests from third parties.
func (s CallState) Busy() bool { return s.Phase != PhaseIdle }

// PairedWith reports whether the user's current pairing (in any phase) is
// with name.
func (s CallState) PairedWith(name string) bool {
	return s.Phase != PhaseIdle && s.Partner == name
}

var (
	errNotIdle     = fmt.Errorf("user already has a pending or active call")
	errNotRinging  = fmt.Errorf("no pending call to accept")
	errWrongCaller = fmt.Errorf("pending call is with a different user")
)

// PlaceCall transitions Idle -> RingingOutgoing(to).
func (s CallState) PlaceCall(to string) (CallState, error) {
	if !s.Idle() {
		return s, errNotIdle
	}
	return CallState{Phase: PhaseRingingOutgoing, Partner: to}, nil
}

// ReceiveCall transitions Idle -> RingingIncoming(from). Recording the
// pending pairing on the callee side is what makes a ringing user busy to
// third-party callers before it has acted on the prompt.
func (s CallState) ReceiveCall(from string) (CallState, error) {
	if !s.Idle() {
		return s, errNotIdle
	}
	return CallState{Phase: PhaseRingingIncoming, Partner: from}, nil
}

// Accept transitions a ringing state into Connected with the same partner.
func (s CallState) Accept(partner string) (CallState, error) {
	switch s.Phase {
	case PhaseRingingIncoming, PhaseRingingOutgoing:
		if s.Partner != partner {
			return s, errWrongCaller
		}
		return CallState{Phase: PhaseConnected, Partner: partner}, nil
	case PhaseConnected:
		if s.Partner != partner {
			return s, errWrongCaller
		}
		return s, nil
	default:
		return s, errNotRinging
	}
}

// End dissolves the pairing regardless of phase. Idempotent from Idle.
func (s CallState) End() CallState {
	return CallState{}
}
