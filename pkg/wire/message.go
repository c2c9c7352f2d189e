// Package wire defines the JSON control-plane message envelopes exchanged
// between an agent, a technician viewer, and the relay fabric (§6 "Wire —
// control plane"). Every message kind listed there — Authenticate,
// AuthResult, AgentRegister, AgentHeartbeat, SessionRequest, SessionAccept,
// SessionReject, SessionEnd, ChatMessage, Error, Ping, Pong — is modeled as
// a typed payload carried inside a single tagged Envelope, mirroring the
// teacher's own tagged-message style in internal/remote/desktop/input.go
// (a discriminator field plus a per-kind payload) rather than one Go type
// per wire message with no common envelope.
//
// SessionPause/SessionResume/RequestKeyframe extend that set to carry the
// "explicit pause from either side" transition §4.7 requires; they aren't
// named in §6 but match the MessageType variants of the same name in
// original_source/server/src/relay/mod.rs.
package wire

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates an Envelope's payload. Values match §6 exactly.
type Kind string

const (
	KindAuthenticate    Kind = "Authenticate"
	KindAuthResult      Kind = "AuthResult"
	KindAgentRegister   Kind = "AgentRegister"
	KindAgentHeartbeat  Kind = "AgentHeartbeat"
	KindSessionRequest  Kind = "SessionRequest"
	KindSessionAccept   Kind = "SessionAccept"
	KindSessionReject   Kind = "SessionReject"
	KindSessionEnd      Kind = "SessionEnd"
	KindSessionPause    Kind = "SessionPause"
	KindSessionResume   Kind = "SessionResume"
	KindRequestKeyframe Kind = "RequestKeyframe"
	KindChatMessage     Kind = "ChatMessage"
	KindError           Kind = "Error"
	KindPing            Kind = "Ping"
	KindPong            Kind = "Pong"
)

// Envelope is the wire shape of every control-plane message: a kind tag
// plus a raw payload decoded per-kind by the caller. Fields match §3/§6;
// no binary framing lives here (that's internal/codec for media,
// internal/inputproto for the input hot path).
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Wrap marshals payload and builds an Envelope of the given kind.
func Wrap(kind Kind, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Kind: kind}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("wire: marshal %s payload: %w", kind, err)
	}
	return Envelope{Kind: kind, Payload: raw}, nil
}

// Marshal wraps and JSON-encodes payload in one step, the common case for
// callers about to hand bytes to a websocket write.
func Marshal(kind Kind, payload any) ([]byte, error) {
	env, err := Wrap(kind, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode unmarshals the envelope's payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Peek reports whether data looks like a control-plane Envelope (a JSON
// object with a recognized "kind" field) without fully decoding the
// payload. Used by internal/relay to distinguish control-plane traffic
// from opaque input-plane JSON (inputproto.Event) sharing the same
// websocket text-message channel, matching §4.8's "never inspects payload
// except for session-control frames that wrap the media/input frames".
func Peek(data []byte) (Kind, bool) {
	var probe struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", false
	}
	switch probe.Kind {
	case KindAuthenticate, KindAuthResult, KindAgentRegister, KindAgentHeartbeat,
		KindSessionRequest, KindSessionAccept, KindSessionReject, KindSessionEnd,
		KindSessionPause, KindSessionResume, KindRequestKeyframe,
		KindChatMessage, KindError, KindPing, KindPong:
		return probe.Kind, true
	default:
		return "", false
	}
}

// AuthenticatePayload carries the identity credential issued by the
// external auth collaborator (spec §1 "Out of scope"); the core only
// forwards and checks for presence, it does not issue or validate tokens
// itself.
type AuthenticatePayload struct {
	Token    string `json:"token"`
	Identity string `json:"identity"`
}

// AuthResultPayload answers an AuthenticatePayload.
type AuthResultPayload struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// AgentRegisterPayload announces an agent's presence and capabilities to
// the relay fabric at connect time, feeding the NAT/Path Selector and Load
// Balancer inputs named in §4.8/§4.9/§4.10.
type AgentRegisterPayload struct {
	AgentID       string   `json:"agent_id"`
	Region        string   `json:"region"`
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
	NATKind       string   `json:"nat_kind"`
	PublicAddr    string   `json:"public_addr,omitempty"`
	PrivateAddr   string   `json:"private_addr,omitempty"`
	Capabilities  []string `json:"capabilities,omitempty"`
}

// AgentHeartbeatPayload is the periodic liveness signal named in §4.7.
type AgentHeartbeatPayload struct {
	AgentID     string `json:"agent_id"`
	TimestampUs int64  `json:"timestamp_us"`
}

// SessionRequestPayload asks the fabric to open a session between a
// technician and an agent (§4.8 routing decision, step 0: the request that
// triggers it).
type SessionRequestPayload struct {
	AgentID      string  `json:"agent_id"`
	TechnicianID string  `json:"technician_id"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
}

// SessionAcceptPayload reports the route chosen for a newly opened session.
type SessionAcceptPayload struct {
	SessionID      string `json:"session_id"`
	ConnectionType string `json:"connection_type"`
	RelayNodeID    string `json:"relay_node_id,omitempty"`
}

// SessionRejectPayload reports why a SessionRequest could not be granted,
// carrying one of §7's RouteError kinds.
type SessionRejectPayload struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// SessionEndPayload closes a session explicitly (§4.7 "* -> Ended: explicit
// close or clean shutdown").
type SessionEndPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// SessionPausePayload requests (or, echoed back, confirms) the §4.7
// Active->Paused transition for a session. Either peer may send it.
type SessionPausePayload struct {
	SessionID string `json:"session_id"`
}

// SessionResumePayload requests the §4.7 Paused->Active transition, which
// the fabric follows with a RequestKeyframe sent to the session's agent.
type SessionResumePayload struct {
	SessionID string `json:"session_id"`
}

// RequestKeyframePayload asks an agent's encoder to force its next encoded
// frame to be a keyframe, sent by the fabric after a Paused->Active resume.
type RequestKeyframePayload struct {
	SessionID string `json:"session_id"`
}

// ChatMessagePayload is a Normal-priority (§4.7) free-text message routed
// opaquely between the two peers of a session.
type ChatMessagePayload struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// ErrorPayload carries one of §7's error kinds plus a human string, per
// "All errors carry a code and a human string."
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PingPayload / PongPayload are Low-priority (§4.7) liveness probes
// distinct from AgentHeartbeat: heartbeat tracks session liveness, Ping is
// a lighter round-trip-latency probe the adaptive quality controller can
// sample from.
type PingPayload struct {
	TimestampUs int64 `json:"timestamp_us"`
}

type PongPayload struct {
	TimestampUs int64 `json:"timestamp_us"`
}
