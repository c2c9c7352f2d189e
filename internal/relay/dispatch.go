package relay

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/sessioncore/internal/lb"
	"github.com/breeze-rmm/sessioncore/internal/nat"
	"github.com/breeze-rmm/sessioncore/internal/session"
	"github.com/breeze-rmm/sessioncore/pkg/wire"
)

// Dispatch is the fabric's single inbound-message entry point, called from
// each connection's ReadPump callback. It distinguishes the two kinds of
// traffic the same websocket text channel carries (§4.8 "the fabric never
// inspects payload except for session-control frames that wrap the
// media/input frames"):
//
//   - control-plane Envelopes (§6): handled here directly — authentication
//     acks, session open/close, heartbeats, chat.
//   - everything else (binary media frames, and JSON input-plane events
//     that don't carry a recognized "kind"): routed opaquely to the
//     sender's current session peer, unexamined.
func (f *Fabric) Dispatch(fromID string, messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		f.routeOpaque(fromID, Message{Binary: true, Payload: data, Priority: PriorityNormal})
		return
	}

	kind, ok := wire.Peek(data)
	if !ok {
		// Input-plane JSON (inputproto.Event) with no "kind" discriminator;
		// input events are High priority (§4.7) and must never be dropped,
		// except a Paused session rejects input outright (§4.7, §8).
		if f.sessionPaused(fromID) {
			f.replyPausedError(fromID)
			return
		}
		f.routeOpaque(fromID, Message{Payload: data, Priority: PriorityHigh})
		return
	}

	var env wire.Envelope
	// wire.Peek already confirmed this unmarshals; the error path here is
	// unreachable in practice but kept explicit rather than ignored.
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn("malformed control envelope", "from", fromID, "error", err)
		return
	}

	switch kind {
	case wire.KindAuthenticate:
		f.handleAuthenticate(fromID, env)
	case wire.KindAgentRegister:
		f.handleAgentRegister(fromID, env)
	case wire.KindAgentHeartbeat, wire.KindPing:
		f.handleHeartbeat(fromID, env, kind)
	case wire.KindSessionRequest:
		f.handleSessionRequest(fromID, env)
	case wire.KindSessionEnd:
		f.handleSessionEnd(fromID, env)
	case wire.KindSessionPause:
		f.handleSessionPause(fromID, env)
	case wire.KindSessionResume:
		f.handleSessionResume(fromID, env)
	case wire.KindChatMessage:
		f.handleChatMessage(fromID, data)
	case wire.KindPong:
		f.touchParticipant(fromID)
	case wire.KindError:
		var p wire.ErrorPayload
		env.Decode(&p)
		log.Warn("peer reported error", "from", fromID, "code", p.Code, "message", p.Message)
	default:
		log.Debug("unhandled control envelope kind", "kind", kind, "from", fromID)
	}
}

// routeOpaque forwards a message to the sender's current session peer
// without interpreting it, via the same priority-queued Route path a
// control-plane handler uses to relay a decoded message.
func (f *Fabric) routeOpaque(fromID string, msg Message) {
	sessionID, ok := f.sessionFor(fromID)
	if !ok {
		log.Debug("dropping message from participant with no active session", "from", fromID)
		return
	}
	if err := f.Route(sessionID, fromID, msg); err != nil {
		log.Warn("opaque routing failed", "from", fromID, "error", err)
	}
}

func (f *Fabric) touchParticipant(id string) {
	if c, ok := f.connection(id); ok {
		c.touch()
	}
}

// handleAuthenticate always accepts: token issuance and validation belong
// to the external auth collaborator (spec §1 "Out of scope"); the core
// only needs a handshake step to exist so SessionRequest/AgentRegister have
// something to follow.
func (f *Fabric) handleAuthenticate(fromID string, env wire.Envelope) {
	var p wire.AuthenticatePayload
	env.Decode(&p)
	reply, err := wire.Marshal(wire.KindAuthResult, wire.AuthResultPayload{Success: true})
	if err != nil {
		log.Error("failed to build AuthResult", "error", err)
		return
	}
	f.sendTo(fromID, reply)
}

func (f *Fabric) handleAgentRegister(fromID string, env wire.Envelope) {
	var p wire.AgentRegisterPayload
	if err := env.Decode(&p); err != nil {
		log.Warn("malformed AgentRegister", "from", fromID, "error", err)
		return
	}
	f.SetLocation(fromID, lb.LatLon{Lat: p.Latitude, Lon: p.Longitude})
	f.SetNATProfile(fromID, nat.Profile{
		PrivateAddr:     p.PrivateAddr,
		PublicAddr:      p.PublicAddr,
		Kind:            nat.Kind(p.NATKind),
		PreferredRegion: p.Region,
		DiscoveredAt:    time.Now(),
	})
	log.Info("agent registered", "agent", fromID, "region", p.Region, "nat", p.NATKind)
}

func (f *Fabric) handleHeartbeat(fromID string, env wire.Envelope, kind wire.Kind) {
	f.touchParticipant(fromID)
	if sessionID, ok := f.sessionFor(fromID); ok {
		if s, ok := f.SessionState(sessionID); ok {
			s.RecordHeartbeat()
		}
	}
	if kind == wire.KindPing {
		var p wire.PingPayload
		env.Decode(&p)
		reply, err := wire.Marshal(wire.KindPong, wire.PongPayload{TimestampUs: p.TimestampUs})
		if err == nil {
			// Pong is a Low-priority probe, unlike the Critical replies sendTo queues.
			if c, ok := f.connection(fromID); ok {
				c.Enqueue(Message{Payload: reply, Priority: PriorityLow})
			}
		}
	}
}

func (f *Fabric) handleSessionRequest(fromID string, env wire.Envelope) {
	var p wire.SessionRequestPayload
	if err := env.Decode(&p); err != nil {
		log.Warn("malformed SessionRequest", "from", fromID, "error", err)
		return
	}
	f.SetLocation(p.TechnicianID, lb.LatLon{Lat: p.Latitude, Lon: p.Longitude})

	route, err := f.OpenSession(p.AgentID, p.TechnicianID)
	if err != nil {
		code := "route-error"
		if rerr, ok := err.(*RouteError); ok {
			code = rerr.Kind
		}
		reply, merr := wire.Marshal(wire.KindSessionReject, wire.SessionRejectPayload{Code: code, Reason: err.Error()})
		if merr == nil {
			f.sendTo(fromID, reply)
		}
		return
	}

	accept, err := wire.Marshal(wire.KindSessionAccept, wire.SessionAcceptPayload{
		SessionID:      route.SessionID,
		ConnectionType: string(route.ConnectionType),
		RelayNodeID:    route.RelayNodeID,
	})
	if err != nil {
		log.Error("failed to build SessionAccept", "error", err)
		return
	}
	f.sendTo(route.AgentID, accept)
	f.sendTo(route.TechnicianID, accept)
}

func (f *Fabric) handleSessionEnd(fromID string, env wire.Envelope) {
	var p wire.SessionEndPayload
	if err := env.Decode(&p); err != nil || p.SessionID == "" {
		return
	}

	f.mu.RLock()
	route, ok := f.sessions[p.SessionID]
	f.mu.RUnlock()
	if !ok {
		return
	}

	f.EndSession(p.SessionID)

	peer := route.TechnicianID
	if fromID == route.TechnicianID {
		peer = route.AgentID
	}
	notice, err := wire.Marshal(wire.KindSessionEnd, p)
	if err == nil {
		f.sendTo(peer, notice)
	}
}

// sessionPaused reports whether fromID's current session is Paused, the
// only state in which §4.7/§8 require input to be rejected.
func (f *Fabric) sessionPaused(fromID string) bool {
	sessionID, ok := f.sessionFor(fromID)
	if !ok {
		return false
	}
	s, ok := f.SessionState(sessionID)
	if !ok {
		return false
	}
	return s.State() == session.StatePaused
}

// replyPausedError answers a rejected input event with the SessionError
// kind §7 defines for exactly this case.
func (f *Fabric) replyPausedError(fromID string) {
	serr := &session.SessionError{Kind: "paused"}
	reply, err := wire.Marshal(wire.KindError, wire.ErrorPayload{Code: serr.Kind, Message: serr.Error()})
	if err != nil {
		log.Error("failed to build paused-session Error", "error", err)
		return
	}
	f.sendTo(fromID, reply)
}

// handleSessionPause implements §4.7's "Active -> Paused: explicit pause
// from either side". The sender's peer is echoed the same notice so both
// ends agree the session stopped accepting input.
func (f *Fabric) handleSessionPause(fromID string, env wire.Envelope) {
	var p wire.SessionPausePayload
	if err := env.Decode(&p); err != nil || p.SessionID == "" {
		log.Warn("malformed SessionPause", "from", fromID, "error", err)
		return
	}
	s, ok := f.SessionState(p.SessionID)
	if !ok {
		return
	}
	if terr := s.Transition(session.StatePaused); terr != nil {
		log.Warn("session pause transition rejected", "session", p.SessionID, "error", terr)
		return
	}
	f.notifyBothPeers(p.SessionID, wire.KindSessionPause, p)
}

// handleSessionResume implements §4.7's Paused -> Active transition, which
// forces a keyframe: the fabric asks the session's agent connection to
// force one on its next encode rather than trying to splice a keyframe
// request into the media stream it never inspects.
func (f *Fabric) handleSessionResume(fromID string, env wire.Envelope) {
	var p wire.SessionResumePayload
	if err := env.Decode(&p); err != nil || p.SessionID == "" {
		log.Warn("malformed SessionResume", "from", fromID, "error", err)
		return
	}
	s, ok := f.SessionState(p.SessionID)
	if !ok {
		return
	}
	if terr := s.Transition(session.StateActive); terr != nil {
		log.Warn("session resume transition rejected", "session", p.SessionID, "error", terr)
		return
	}
	f.notifyBothPeers(p.SessionID, wire.KindSessionResume, p)

	f.mu.RLock()
	route, ok := f.sessions[p.SessionID]
	f.mu.RUnlock()
	if !ok {
		return
	}
	kf, err := wire.Marshal(wire.KindRequestKeyframe, wire.RequestKeyframePayload{SessionID: p.SessionID})
	if err != nil {
		log.Error("failed to build RequestKeyframe", "error", err)
		return
	}
	f.sendTo(route.AgentID, kf)
}

// notifyBothPeers sends the same envelope to both participants of a
// session, used for pause/resume acks where either side may be the sender.
func (f *Fabric) notifyBothPeers(sessionID string, kind wire.Kind, payload any) {
	f.mu.RLock()
	route, ok := f.sessions[sessionID]
	f.mu.RUnlock()
	if !ok {
		return
	}
	msg, err := wire.Marshal(kind, payload)
	if err != nil {
		log.Error("failed to build notification", "kind", kind, "error", err)
		return
	}
	f.sendTo(route.AgentID, msg)
	f.sendTo(route.TechnicianID, msg)
}

func (f *Fabric) handleChatMessage(fromID string, raw []byte) {
	sessionID, ok := f.sessionFor(fromID)
	if !ok {
		return
	}
	if err := f.Route(sessionID, fromID, Message{Payload: raw, Priority: PriorityNormal}); err != nil {
		log.Warn("chat routing failed", "from", fromID, "error", err)
	}
}

// sendTo enqueues a control-plane message directly to one connection,
// bypassing session-peer routing (used for replies/notifications the
// fabric itself originates rather than forwards).
func (f *Fabric) sendTo(id string, payload []byte) {
	c, ok := f.connection(id)
	if !ok {
		return
	}
	c.Enqueue(Message{Payload: payload, Priority: PriorityCritical})
}
