package session

import (
	"sync"
	"time"

	"github.com/breeze-rmm/sessioncore/internal/codec"
)

// DefaultHeartbeatInterval matches §5's timeout table: heartbeat default
// 30s, with a miss threshold of 3 consecutive misses before the session is
// failed.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	heartbeatMissLimit       = 3
)

// Stats mirrors the per-session numbers named in §3: an EWMA-smoothed
// latency plus the raw network-quality signals the adaptive controller
// consumes.
type Stats struct {
	LatencyMs    float64
	BandwidthKbp int
	PacketLoss   float64
	JitterMs     float64
	QualityScore float64
}

// Session tracks one technician<->agent session's lifecycle state,
// heartbeat liveness, and adaptive bitrate, independent of how its frames
// and control messages are actually transported (that's the Relay
// Fabric's job; a Session only decides what the current target quality
// and liveness are).
type Session struct {
	mu sync.Mutex

	ID           string
	AgentID      string
	TechnicianID string

	state           State
	lastHeartbeat   time.Time
	heartbeatMisses int
	heartbeatEvery  time.Duration

	createdAt time.Time
	stats     Stats

	adaptive *AdaptiveBitrate
}

type Config struct {
	ID             string
	AgentID        string
	TechnicianID   string
	HeartbeatEvery time.Duration
	AdaptiveTarget BitrateTarget
	InitialBitrate int
	MinBitrate     int
	MaxBitrate     int
	MaxFPS         int
	OnFPSChange    func(int)
}

// New constructs a Session in StateConnecting. Adaptive bitrate control is
// optional: callers that only need the state machine (e.g. chat-only or
// file-transfer sessions) may leave AdaptiveTarget nil.
func New(cfg Config) (*Session, error) {
	every := cfg.HeartbeatEvery
	if every <= 0 {
		every = DefaultHeartbeatInterval
	}

	s := &Session{
		ID:             cfg.ID,
		AgentID:        cfg.AgentID,
		TechnicianID:   cfg.TechnicianID,
		state:          StateConnecting,
		lastHeartbeat:  time.Now(),
		heartbeatEvery: every,
		createdAt:      time.Now(),
	}

	if cfg.AdaptiveTarget != nil {
		ab, err := NewAdaptiveBitrate(AdaptiveConfig{
			Target:         cfg.AdaptiveTarget,
			InitialBitrate: cfg.InitialBitrate,
			MinBitrate:     cfg.MinBitrate,
			MaxBitrate:     cfg.MaxBitrate,
			MaxFPS:         cfg.MaxFPS,
			OnFPSChange:    cfg.OnFPSChange,
		})
		if err != nil {
			return nil, err
		}
		s.adaptive = ab
	}

	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition attempts to move the session to the given state, enforcing
// §4.7's transition table. Returns a SessionError{Kind:"invalid-state"} on
// a disallowed transition.
func (s *Session) Transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == to {
		return nil
	}
	if !canTransition(s.state, to) {
		return &SessionError{Kind: "invalid-state", Msg: s.state.String() + " -> " + to.String()}
	}
	log.Info("session state transition", "session", s.ID, "from", s.state, "to", to)
	s.state = to
	return nil
}

// RecordHeartbeat resets the miss counter on receipt of a heartbeat, and
// un-fails a session if it hadn't yet been declared failed.
func (s *Session) RecordHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = time.Now()
	s.heartbeatMisses = 0
}

// CheckHeartbeat should be called roughly once per heartbeatEvery tick. It
// reports whether the session just crossed into failure (3 consecutive
// misses) so the caller can propagate a SessionEnd/notification.
func (s *Session) CheckHeartbeat() (missed bool, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.lastHeartbeat) < s.heartbeatEvery {
		return false, false
	}

	s.heartbeatMisses++
	s.lastHeartbeat = time.Now()

	if s.heartbeatMisses < heartbeatMissLimit {
		return true, false
	}

	if s.state != StateEnded && s.state != StateFailed {
		log.Warn("session heartbeat exhausted, failing", "session", s.ID, "misses", s.heartbeatMisses)
		s.state = StateFailed
	}
	return true, true
}

// UpdateNetworkStats feeds one measurement round into both the session's
// stats snapshot and, if configured, the adaptive bitrate controller.
func (s *Session) UpdateNetworkStats(rttMs, jitterMs, packetLoss float64, bandwidthKbps int) {
	s.mu.Lock()
	if s.stats.LatencyMs == 0 {
		s.stats.LatencyMs = rttMs
	} else {
		s.stats.LatencyMs = ewmaAlpha*rttMs + (1-ewmaAlpha)*s.stats.LatencyMs
	}
	s.stats.JitterMs = jitterMs
	s.stats.PacketLoss = packetLoss
	s.stats.BandwidthKbp = bandwidthKbps
	s.stats.QualityScore = qualityScore(rttMs, packetLoss)
	adaptive := s.adaptive
	s.mu.Unlock()

	if adaptive != nil {
		adaptive.Update(time.Duration(rttMs*float64(time.Millisecond)), packetLoss)
	}
}

// qualityScore is a simple 0..1 composite used for display/analytics only;
// it plays no part in the adaptation decision itself, which runs off the
// raw EWMA loss/RTT inputs in AdaptiveBitrate.
func qualityScore(rttMs, packetLoss float64) float64 {
	score := 1.0 - packetLoss*4
	if rttMs > 150 {
		score -= (rttMs - 150) / 1000
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Stats returns a copy of the current stats snapshot.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// CurrentQuality reports the quality tier the adaptive controller last
// selected, or QualityMedium if no adaptive controller is configured.
func (s *Session) CurrentQuality() codec.Quality {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adaptive == nil {
		return codec.QualityMedium
	}
	s.adaptive.mu.Lock()
	defer s.adaptive.mu.Unlock()
	return s.adaptive.targetQuality
}

// Manager tracks all live sessions, keyed by session id.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// All returns a snapshot slice of every tracked session.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// SweepHeartbeats runs CheckHeartbeat across every tracked session; callers
// drive this from a single ticker goroutine rather than one per session,
// matching the fabric's own single-goroutine-per-concern style.
func (m *Manager) SweepHeartbeats() (failedIDs []string) {
	for _, s := range m.All() {
		if _, failed := s.CheckHeartbeat(); failed {
			failedIDs = append(failedIDs, s.ID)
		}
	}
	return failedIDs
}
