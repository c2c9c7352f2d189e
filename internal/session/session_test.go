package session

import (
	"testing"
	"time"

	"github.com/breeze-rmm/sessioncore/internal/codec"
)

type stubTarget struct {
	bitrate int
	quality codec.Quality
}

func (s *stubTarget) SetBitrate(kbps int) error {
	s.bitrate = kbps
	return nil
}

func (s *stubTarget) SetQuality(q codec.Quality) error {
	s.quality = q
	return nil
}

func newTestSession(t *testing.T, heartbeatEvery time.Duration) (*Session, *stubTarget) {
	t.Helper()
	target := &stubTarget{}
	s, err := New(Config{
		ID:             "sess-1",
		AgentID:        "agent-1",
		TechnicianID:   "tech-1",
		HeartbeatEvery: heartbeatEvery,
		AdaptiveTarget: target,
		InitialBitrate: 2_000_000,
		MinBitrate:     250_000,
		MaxBitrate:     8_000_000,
		MaxFPS:         60,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, target
}

func TestSessionTransitionRejectsInvalidMove(t *testing.T) {
	s, _ := newTestSession(t, time.Hour)
	if err := s.Transition(StateEnded); err == nil {
		t.Fatal("expected error transitioning Connecting -> Ended directly")
	}
	if err := s.Transition(StateActive); err != nil {
		t.Fatalf("Transition to Active: %v", err)
	}
	if s.State() != StateActive {
		t.Errorf("state = %v, want Active", s.State())
	}
}

func TestSessionTransitionToFailedFromAnyState(t *testing.T) {
	s, _ := newTestSession(t, time.Hour)
	if err := s.Transition(StateFailed); err != nil {
		t.Fatalf("Transition to Failed from Connecting: %v", err)
	}
	if s.State() != StateFailed {
		t.Errorf("state = %v, want Failed", s.State())
	}
}

func TestCheckHeartbeatMissLimitFailsSession(t *testing.T) {
	s, _ := newTestSession(t, time.Millisecond)
	s.Transition(StateActive)

	for i := 0; i < heartbeatMissLimit-1; i++ {
		time.Sleep(2 * time.Millisecond)
		missed, failed := s.CheckHeartbeat()
		if !missed || failed {
			t.Fatalf("miss %d: missed=%v failed=%v, want missed=true failed=false", i+1, missed, failed)
		}
	}

	time.Sleep(2 * time.Millisecond)
	missed, failed := s.CheckHeartbeat()
	if !missed || !failed {
		t.Fatalf("final miss: missed=%v failed=%v, want both true", missed, failed)
	}
	if s.State() != StateFailed {
		t.Errorf("state = %v, want Failed after %d misses", s.State(), heartbeatMissLimit)
	}
}

func TestRecordHeartbeatResetsMissCounter(t *testing.T) {
	s, _ := newTestSession(t, time.Millisecond)
	time.Sleep(2 * time.Millisecond)
	s.CheckHeartbeat()
	s.RecordHeartbeat()

	s.mu.Lock()
	misses := s.heartbeatMisses
	s.mu.Unlock()
	if misses != 0 {
		t.Errorf("heartbeatMisses = %d, want 0 after RecordHeartbeat", misses)
	}
}

func TestUpdateNetworkStatsFeedsAdaptive(t *testing.T) {
	s, target := newTestSession(t, time.Hour)

	for i := 0; i < 10; i++ {
		s.UpdateNetworkStats(350, 10, 0.08, 1500)
		time.Sleep(time.Millisecond)
	}

	stats := s.Stats()
	if stats.PacketLoss != 0.08 {
		t.Errorf("PacketLoss = %v, want 0.08", stats.PacketLoss)
	}
	if target.bitrate == 0 {
		t.Error("expected adaptive controller to have set a bitrate by now")
	}
}

func TestManagerSweepHeartbeatsReportsFailures(t *testing.T) {
	m := NewManager()
	s, _ := newTestSession(t, time.Millisecond)
	s.Transition(StateActive)
	m.Add(s)

	for i := 0; i < heartbeatMissLimit; i++ {
		time.Sleep(2 * time.Millisecond)
		m.SweepHeartbeats()
	}

	failed := m.SweepHeartbeats()
	_ = failed // the session may already be marked failed by the loop above

	got, ok := m.Get(s.ID)
	if !ok {
		t.Fatal("session not found in manager")
	}
	if got.State() != StateFailed {
		t.Errorf("state = %v, want Failed", got.State())
	}
}
