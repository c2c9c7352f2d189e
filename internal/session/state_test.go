package session

import "testing"

func TestCanTransitionHappyPath(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateConnecting, StateActive, true},
		{StateActive, StatePaused, true},
		{StateActive, StateEnded, true},
		{StatePaused, StateActive, true},
		{StatePaused, StateEnded, true},
		{StateConnecting, StateEnded, false},
		{StatePaused, StateConnecting, false},
	}
	for _, c := range cases {
		if got := canTransition(c.from, c.to); got != c.want {
			t.Errorf("canTransition(%v, %v) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestCanTransitionToFailedAlwaysAllowed(t *testing.T) {
	for _, from := range []State{StateConnecting, StateActive, StatePaused} {
		if !canTransition(from, StateFailed) {
			t.Errorf("canTransition(%v, Failed) = false, want true", from)
		}
	}
}

func TestCanTransitionTerminalStatesAreClosed(t *testing.T) {
	for _, from := range []State{StateEnded, StateFailed} {
		if canTransition(from, StateActive) {
			t.Errorf("canTransition(%v, Active) = true, want false", from)
		}
		if canTransition(from, StateFailed) {
			t.Errorf("canTransition(%v, Failed) = true, want false", from)
		}
	}
}
