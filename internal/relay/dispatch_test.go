package relay

import (
	"testing"
	"time"

	"github.com/breeze-rmm/sessioncore/internal/lb"
	"github.com/breeze-rmm/sessioncore/internal/nat"
	"github.com/breeze-rmm/sessioncore/pkg/wire"
)

// pollMessage retries nextMessage briefly since routing dispatch runs on the
// fabric's worker pool rather than synchronously on the caller's goroutine.
func pollMessage(c *Connection) (Message, bool) {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m, ok := c.nextMessage(); ok {
			return m, true
		}
		time.Sleep(time.Millisecond)
	}
	return Message{}, false
}

// drainQueue discards every message already queued on c, such as the
// hole-punch instruction a direct route sends to both peers on open.
func drainQueue(c *Connection) {
	for {
		if _, ok := c.nextMessage(); !ok {
			return
		}
	}
}

func TestDispatchAgentRegisterStoresLocationAndNAT(t *testing.T) {
	f := NewFabric(lb.New(lb.DefaultConfig()))
	f.mu.Lock()
	f.connections["agent-1"] = NewConnection("agent-1", KindAgent, nil)
	f.mu.Unlock()

	msg, err := wire.Marshal(wire.KindAgentRegister, wire.AgentRegisterPayload{
		AgentID: "agent-1", Region: "us-east", Latitude: 40.7, Longitude: -74.0,
		NATKind: string(nat.KindFullCone), PublicAddr: "1.2.3.4:5000",
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	f.Dispatch("agent-1", 1 /* websocket.TextMessage */, msg)

	f.mu.RLock()
	loc := f.locations["agent-1"]
	profile := f.nats["agent-1"]
	f.mu.RUnlock()

	if loc.Lat != 40.7 || loc.Lon != -74.0 {
		t.Errorf("location = %+v, want (40.7, -74.0)", loc)
	}
	if profile.Kind != nat.KindFullCone {
		t.Errorf("nat kind = %v, want full-cone", profile.Kind)
	}
}

func TestDispatchSessionRequestOpensAndReplies(t *testing.T) {
	f := NewFabric(lb.New(lb.DefaultConfig()))
	f.mu.Lock()
	f.connections["agent-1"] = NewConnection("agent-1", KindAgent, nil)
	f.connections["tech-1"] = NewConnection("tech-1", KindTechnician, nil)
	f.mu.Unlock()
	f.SetNATProfile("agent-1", nat.Profile{PublicAddr: "1.1.1.1:1", Kind: nat.KindFullCone})
	f.SetNATProfile("tech-1", nat.Profile{PublicAddr: "2.2.2.2:2", Kind: nat.KindFullCone})

	msg, err := wire.Marshal(wire.KindSessionRequest, wire.SessionRequestPayload{
		AgentID: "agent-1", TechnicianID: "tech-1",
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	f.Dispatch("tech-1", 1, msg)

	if got := len(f.Sessions()); got != 1 {
		t.Fatalf("sessions = %d, want 1", got)
	}

	agentConn, _ := f.connection("agent-1")
	techConn, _ := f.connection("tech-1")
	if _, ok := agentConn.nextMessage(); !ok {
		t.Error("expected a SessionAccept queued for the agent")
	}
	if _, ok := techConn.nextMessage(); !ok {
		t.Error("expected a SessionAccept queued for the technician")
	}
}

func TestDispatchSessionRequestRejectsUnreachablePeer(t *testing.T) {
	f := NewFabric(lb.New(lb.DefaultConfig()))
	f.mu.Lock()
	f.connections["tech-1"] = NewConnection("tech-1", KindTechnician, nil)
	f.mu.Unlock()

	msg, _ := wire.Marshal(wire.KindSessionRequest, wire.SessionRequestPayload{
		AgentID: "missing-agent", TechnicianID: "tech-1",
	})
	f.Dispatch("tech-1", 1, msg)

	techConn, _ := f.connection("tech-1")
	out, ok := techConn.nextMessage()
	if !ok {
		t.Fatal("expected a SessionReject queued for the technician")
	}
	if kind, ok := wire.Peek(out.Payload); !ok || kind != wire.KindSessionReject {
		t.Errorf("kind = %v, want SessionReject", kind)
	}
}

func TestDispatchBinaryRoutesOpaquelyToSessionPeer(t *testing.T) {
	f := NewFabric(lb.New(lb.DefaultConfig()))
	f.mu.Lock()
	f.connections["agent-1"] = NewConnection("agent-1", KindAgent, nil)
	f.connections["tech-1"] = NewConnection("tech-1", KindTechnician, nil)
	f.mu.Unlock()
	f.SetNATProfile("agent-1", nat.Profile{PublicAddr: "1.1.1.1:1", Kind: nat.KindFullCone})
	f.SetNATProfile("tech-1", nat.Profile{PublicAddr: "2.2.2.2:2", Kind: nat.KindFullCone})

	if _, err := f.OpenSession("agent-1", "tech-1"); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	techConn, _ := f.connection("tech-1")
	drainQueue(techConn)

	f.Dispatch("agent-1", 2 /* websocket.BinaryMessage */, []byte{0xDE, 0xAD, 0xBE, 0xEF})

	out, ok := pollMessage(techConn)
	if !ok {
		t.Fatal("expected the binary frame routed to the technician")
	}
	if !out.Binary {
		t.Error("routed media message should be marked Binary")
	}
}

func TestDispatchUnrecognizedJSONRoutesAsHighPriorityInput(t *testing.T) {
	f := NewFabric(lb.New(lb.DefaultConfig()))
	f.mu.Lock()
	f.connections["agent-1"] = NewConnection("agent-1", KindAgent, nil)
	f.connections["tech-1"] = NewConnection("tech-1", KindTechnician, nil)
	f.mu.Unlock()
	f.SetNATProfile("agent-1", nat.Profile{PublicAddr: "1.1.1.1:1", Kind: nat.KindFullCone})
	f.SetNATProfile("tech-1", nat.Profile{PublicAddr: "2.2.2.2:2", Kind: nat.KindFullCone})
	if _, err := f.OpenSession("agent-1", "tech-1"); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	agentConn, _ := f.connection("agent-1")
	drainQueue(agentConn)

	event := []byte(`{"type":"mouse_move","x":10,"y":20,"timestamp_us":1}`)
	f.Dispatch("tech-1", 1, event)

	out, ok := pollMessage(agentConn)
	if !ok {
		t.Fatal("expected the input event routed to the agent")
	}
	if out.Priority != PriorityHigh {
		t.Errorf("priority = %v, want High", out.Priority)
	}
}

func TestDispatchSessionPauseRejectsSubsequentInput(t *testing.T) {
	f := NewFabric(lb.New(lb.DefaultConfig()))
	f.mu.Lock()
	f.connections["agent-1"] = NewConnection("agent-1", KindAgent, nil)
	f.connections["tech-1"] = NewConnection("tech-1", KindTechnician, nil)
	f.mu.Unlock()
	f.SetNATProfile("agent-1", nat.Profile{PublicAddr: "1.1.1.1:1", Kind: nat.KindFullCone})
	f.SetNATProfile("tech-1", nat.Profile{PublicAddr: "2.2.2.2:2", Kind: nat.KindFullCone})
	route, err := f.OpenSession("agent-1", "tech-1")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	pause, _ := wire.Marshal(wire.KindSessionPause, wire.SessionPausePayload{SessionID: route.SessionID})
	f.Dispatch("tech-1", 1, pause)

	s, ok := f.SessionState(route.SessionID)
	if !ok {
		t.Fatal("expected session state to exist")
	}
	if s.State().String() != "paused" {
		t.Fatalf("state = %v, want paused", s.State())
	}

	// Drain the hole-punch instructions and pause acks queued for both
	// peers before checking for a rejected-input reply.
	agentConn, _ := f.connection("agent-1")
	techConn, _ := f.connection("tech-1")
	drainQueue(agentConn)
	drainQueue(techConn)

	event := []byte(`{"type":"mouse_move","x":10,"y":20,"timestamp_us":1}`)
	f.Dispatch("tech-1", 1, event)

	if _, ok := pollMessage(agentConn); ok {
		t.Error("expected input to be rejected, not routed, while session paused")
	}
	out, ok := techConn.nextMessage()
	if !ok {
		t.Fatal("expected a paused-session Error queued for the sender")
	}
	if kind, ok := wire.Peek(out.Payload); !ok || kind != wire.KindError {
		t.Errorf("kind = %v, want Error", kind)
	}
}

func TestDispatchSessionResumeForcesKeyframe(t *testing.T) {
	f := NewFabric(lb.New(lb.DefaultConfig()))
	f.mu.Lock()
	f.connections["agent-1"] = NewConnection("agent-1", KindAgent, nil)
	f.connections["tech-1"] = NewConnection("tech-1", KindTechnician, nil)
	f.mu.Unlock()
	f.SetNATProfile("agent-1", nat.Profile{PublicAddr: "1.1.1.1:1", Kind: nat.KindFullCone})
	f.SetNATProfile("tech-1", nat.Profile{PublicAddr: "2.2.2.2:2", Kind: nat.KindFullCone})
	route, err := f.OpenSession("agent-1", "tech-1")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	pause, _ := wire.Marshal(wire.KindSessionPause, wire.SessionPausePayload{SessionID: route.SessionID})
	f.Dispatch("tech-1", 1, pause)

	agentConn, _ := f.connection("agent-1")
	techConn, _ := f.connection("tech-1")
	drainQueue(agentConn)
	drainQueue(techConn)

	resume, _ := wire.Marshal(wire.KindSessionResume, wire.SessionResumePayload{SessionID: route.SessionID})
	f.Dispatch("tech-1", 1, resume)

	s, ok := f.SessionState(route.SessionID)
	if !ok || s.State().String() != "active" {
		t.Fatalf("state = %v, want active", s.State())
	}

	sawResumeAck, sawKeyframeReq := false, false
	for i := 0; i < 2; i++ {
		out, ok := agentConn.nextMessage()
		if !ok {
			break
		}
		switch kind, _ := wire.Peek(out.Payload); kind {
		case wire.KindSessionResume:
			sawResumeAck = true
		case wire.KindRequestKeyframe:
			sawKeyframeReq = true
		}
	}
	if !sawResumeAck {
		t.Error("expected a SessionResume ack queued for the agent")
	}
	if !sawKeyframeReq {
		t.Error("expected a RequestKeyframe queued for the agent after resume")
	}
}
