package relay

import (
	"encoding/json"
	"time"

	"github.com/breeze-rmm/sessioncore/internal/nat"
)

const (
	holePunchLeadTime = 1 * time.Second
	holePunchAttempts = 10
	holePunchInterval = 100 * time.Millisecond
)

// HolePunchInstruction is the control-plane message sent to each peer
// telling it when and where to attempt simultaneous-open connects (§4.8
// Hole punching).
type HolePunchInstruction struct {
	Type          string    `json:"type"`
	SessionID     string    `json:"session_id"`
	PeerAddr      string    `json:"peer_addr"`
	CandidatePorts []int    `json:"candidate_ports"`
	StartAt       time.Time `json:"start_at"`
	Attempts      int       `json:"attempts"`
	IntervalMs    int       `json:"interval_ms"`
}

// coordinateHolePunch instructs both peers to attempt simultaneous-open
// connects at a shared future instant. The fabric's job ends at
// instruction delivery; the peers themselves run the retry loop and
// report success back over the control plane (handled by whatever calls
// Route with the resulting session-control message).
func (f *Fabric) coordinateHolePunch(route *SessionRoute, agentNAT, techNAT nat.Profile) {
	startAt := time.Now().Add(holePunchLeadTime)

	agentInstr := HolePunchInstruction{
		Type:           "hole_punch_request",
		SessionID:      route.SessionID,
		PeerAddr:       techNAT.PublicAddr,
		CandidatePorts: techNAT.HolePunchPorts,
		StartAt:        startAt,
		Attempts:       holePunchAttempts,
		IntervalMs:     int(holePunchInterval / time.Millisecond),
	}
	techInstr := agentInstr
	techInstr.PeerAddr = agentNAT.PublicAddr
	techInstr.CandidatePorts = agentNAT.HolePunchPorts

	f.sendInstruction(route.AgentID, agentInstr)
	f.sendInstruction(route.TechnicianID, techInstr)
}

func (f *Fabric) sendInstruction(toID string, instr HolePunchInstruction) {
	conn, ok := f.connection(toID)
	if !ok {
		log.Warn("hole punch instruction dropped: peer not connected", "peer", toID)
		return
	}
	payload, err := json.Marshal(instr)
	if err != nil {
		log.Error("failed to marshal hole punch instruction", "error", err)
		return
	}
	conn.Enqueue(Message{Priority: PriorityCritical, Payload: payload})
}
