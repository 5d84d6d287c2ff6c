package listing

import "sync"

type State string

type Event string

const (
	StateWaitingForWindow  State = "WAITING_FOR_WINDOW"
	StatePollingForPair    State = "POLLING_FOR_PAIR"
	StatePollingForTrading State = "POLLING_FOR_TRADING"
	StateReady             State = "READY"
	StateAborted           State = "ABORTED"
)

const (
	EventWindowOpen     Event = "WINDOW_OPEN"
	EventPairListed     Event = "PAIR_LISTED"
	EventTradingStarted Event = "TRADING_STARTED"
	EventAbort          Event = "ABORT"
)

type StateMachine struct {
	mu      sync.Mutex
	state   State
	history []State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateWaitingForWindow, history: []State{StateWaitingForWindow}}
}

func (s *StateMachine) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns every state entered so far, in order.
func (s *StateMachine) History() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, len(s.history))
	copy(out, s.history)
	return out
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := nextState(s.state, event)
	if next != s.state {
		s.state = next
		s.history = append(s.history, next)
	}
	return s.state
}

func nextState(current State, event Event) State {
	switch current {
	case StateWaitingForWindow:
		if event == EventWindowOpen {
			return StatePollingForPair
		}
	case StatePollingForPair:
		if event == EventPairListed {
			return StatePollingForTrading
		}
	case StatePollingForTrading:
		if event == EventTradingStarted {
			return StateReady
		}
	case StateReady, StateAborted:
		return current
	}
	if event == EventAbort {
		return StateAborted
	}
	return current
}
