// Package relay implements the connection registry, message routing, and
// priority queueing described as the Relay Fabric: it accepts agent and
// technician connections, decides direct-vs-relayed routing per session,
// and forwards messages between the two peers of a session.
package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/breeze-rmm/sessioncore/internal/lb"
	"github.com/breeze-rmm/sessioncore/internal/logging"
	"github.com/breeze-rmm/sessioncore/internal/nat"
	"github.com/breeze-rmm/sessioncore/internal/session"
	"github.com/breeze-rmm/sessioncore/internal/workerpool"
)

var log = logging.L("relay")

// ConnectionType tags how a session's two peers are linked, matching the
// four-way enum named in the original relay design (direct | relayed-tcp |
// relayed-udp | hybrid) rather than the simpler three-way enum used
// elsewhere in that codebase for a narrower direct-connect flow.
type ConnectionType string

const (
	ConnDirect     ConnectionType = "direct"
	ConnRelayedTCP ConnectionType = "relayed-tcp"
	ConnRelayedUDP ConnectionType = "relayed-udp"
	ConnHybrid     ConnectionType = "hybrid"
)

// SessionRoute links a session to its chosen transport (§3 Route).
type SessionRoute struct {
	SessionID      string
	AgentID        string
	TechnicianID   string
	ConnectionType ConnectionType
	RelayNodeID    string // empty for ConnDirect
	CreatedAt      time.Time
	LastActivity   time.Time
}

// RouteError mirrors §7's RouteError kinds for fabric-level failures.
type RouteError struct {
	Kind string
	Msg  string
}

func (e *RouteError) Error() string { return fmt.Sprintf("route error (%s): %s", e.Kind, e.Msg) }

// Fabric is the central connection/session registry. It holds indices into
// connections, not ownership of their I/O goroutines (§9 ownership model):
// each Connection's read/write pumps are driven by its own goroutines,
// started by the HTTP handler that accepted it.
type Fabric struct {
	mu          sync.RWMutex
	connections map[string]*Connection // by participant id
	sessions    map[string]*SessionRoute

	lb   *lb.Balancer
	pool *workerpool.Pool

	// locations are looked up by participant id when a route decision needs
	// agent/viewer geography for the load balancer.
	locations map[string]lb.LatLon
	nats      map[string]nat.Profile

	// sessions owns the route (transport) side of a session; mgr owns the
	// state-machine/heartbeat/adaptive-bitrate side (§4.7). byParticipant
	// lets an inbound message from either connection find its session
	// without the sender naming it, since media/input-plane traffic on the
	// hot path carries no session id of its own.
	mgr           *session.Manager
	byParticipant map[string]string
}

func NewFabric(balancer *lb.Balancer) *Fabric {
	return NewFabricWithQueueSize(balancer, 4096)
}

// NewFabricWithQueueSize is NewFabric with the dispatch worker pool's queue
// capacity set from config.Config.RelayQueueSize rather than the default,
// for deployments that expect sustained high connection counts.
func NewFabricWithQueueSize(balancer *lb.Balancer, queueSize int) *Fabric {
	return &Fabric{
		connections:   make(map[string]*Connection),
		sessions:      make(map[string]*SessionRoute),
		locations:     make(map[string]lb.LatLon),
		nats:          make(map[string]nat.Profile),
		mgr:           session.NewManager(),
		byParticipant: make(map[string]string),
		lb:            balancer,
		pool:          workerpool.New(16, queueSize),
	}
}

// Register adds a connection to the registry, replacing any prior
// connection for the same participant id (a reconnect).
func (f *Fabric) Register(c *Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if old, ok := f.connections[c.ID]; ok {
		old.Close()
	}
	f.connections[c.ID] = c
	log.Info("connection registered", "id", c.ID, "kind", c.Kind)
}

// Unregister removes a connection and closes it.
func (f *Fabric) Unregister(id string) {
	f.mu.Lock()
	c, ok := f.connections[id]
	if ok {
		delete(f.connections, id)
	}
	f.mu.Unlock()
	if ok {
		c.Close()
	}
}

// SetLocation and SetNATProfile feed the inputs the routing decision needs;
// they're populated by agent-registration / heartbeat handling elsewhere.
func (f *Fabric) SetLocation(id string, loc lb.LatLon) {
	f.mu.Lock()
	f.locations[id] = loc
	f.mu.Unlock()
}

func (f *Fabric) SetNATProfile(id string, p nat.Profile) {
	f.mu.Lock()
	f.nats[id] = p
	f.mu.Unlock()
}

func (f *Fabric) connection(id string) (*Connection, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.connections[id]
	return c, ok
}

// OpenSession implements the §4.8 routing decision: look up both peers'
// connection records and NAT profiles, ask the NAT/Path Selector whether
// direct P2P is viable, and otherwise ask the Load Balancer for a relay
// node.
func (f *Fabric) OpenSession(agentID, technicianID string) (*SessionRoute, error) {
	f.mu.RLock()
	_, agentOK := f.connections[agentID]
	_, techOK := f.connections[technicianID]
	agentNAT := f.nats[agentID]
	techNAT := f.nats[technicianID]
	agentLoc := f.locations[agentID]
	techLoc := f.locations[technicianID]
	f.mu.RUnlock()

	if !agentOK {
		return nil, &RouteError{Kind: "peer-unreachable", Msg: "agent " + agentID + " has no registered connection"}
	}
	if !techOK {
		return nil, &RouteError{Kind: "peer-unreachable", Msg: "technician " + technicianID + " has no registered connection"}
	}

	route := &SessionRoute{
		SessionID:    uuid.NewString(),
		AgentID:      agentID,
		TechnicianID: technicianID,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}

	if nat.DirectViable(agentNAT, techNAT) {
		route.ConnectionType = ConnDirect
		f.coordinateHolePunch(route, agentNAT, techNAT)
	} else {
		node, err := f.lb.Select(agentLoc, techLoc)
		if err != nil {
			return nil, &RouteError{Kind: "no-healthy-node", Msg: err.Error()}
		}
		route.ConnectionType = ConnRelayedTCP
		route.RelayNodeID = node.ID
	}

	sess, err := session.New(session.Config{
		ID:           route.SessionID,
		AgentID:      agentID,
		TechnicianID: technicianID,
	})
	if err != nil {
		return nil, &RouteError{Kind: "no-healthy-node", Msg: err.Error()}
	}
	// The fabric only reaches this point after confirming both peers hold a
	// registered connection, which is this session's handshake (§3 Session:
	// "Created by the Relay Fabric at the first successful handshake").
	if terr := sess.Transition(session.StateActive); terr != nil {
		log.Warn("session activation transition rejected", "session", route.SessionID, "error", terr)
	}

	f.mu.Lock()
	f.sessions[route.SessionID] = route
	f.byParticipant[agentID] = route.SessionID
	f.byParticipant[technicianID] = route.SessionID
	f.mu.Unlock()
	f.mgr.Add(sess)

	return route, nil
}

// EndSession removes a session from the registry, clearing both
// participants' session index entries and the state-machine record.
func (f *Fabric) EndSession(sessionID string) {
	f.mu.Lock()
	route, ok := f.sessions[sessionID]
	delete(f.sessions, sessionID)
	if ok {
		if f.byParticipant[route.AgentID] == sessionID {
			delete(f.byParticipant, route.AgentID)
		}
		if f.byParticipant[route.TechnicianID] == sessionID {
			delete(f.byParticipant, route.TechnicianID)
		}
	}
	f.mu.Unlock()
	f.mgr.Remove(sessionID)
}

// sessionFor returns the session id a participant is currently part of, for
// routing opaque media/input-plane traffic that carries no session id of
// its own.
func (f *Fabric) sessionFor(participantID string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	id, ok := f.byParticipant[participantID]
	return id, ok
}

// SessionState returns the session state machine for sessionID, for
// heartbeat/quality-adaptation callers outside this package.
func (f *Fabric) SessionState(sessionID string) (*session.Session, bool) {
	return f.mgr.Get(sessionID)
}

// SweepHeartbeats drives every tracked session's heartbeat-miss check and
// ends any that just failed (§4.7: three consecutive misses -> Failed).
func (f *Fabric) SweepHeartbeats() {
	for _, id := range f.mgr.SweepHeartbeats() {
		log.Warn("session failed heartbeat, ending", "session", id)
		f.EndSession(id)
	}
}

// Route sends a message from one peer of a session to the other, enqueued
// on the destination connection's priority queue. Dispatch runs on the
// worker pool so a slow destination write never blocks the fabric's
// calling goroutine for unrelated sessions.
func (f *Fabric) Route(sessionID, fromID string, msg Message) error {
	f.mu.RLock()
	route, ok := f.sessions[sessionID]
	f.mu.RUnlock()
	if !ok {
		return &RouteError{Kind: "peer-unreachable", Msg: "unknown session " + sessionID}
	}

	toID := route.TechnicianID
	if fromID == route.TechnicianID {
		toID = route.AgentID
	}

	dest, ok := f.connection(toID)
	if !ok {
		return &RouteError{Kind: "peer-unreachable", Msg: "destination " + toID + " not connected"}
	}

	f.pool.Submit(func() {
		dest.Enqueue(msg)
	})
	return nil
}

// Sessions returns a snapshot of active session routes for the admin surface.
func (f *Fabric) Sessions() []SessionRoute {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]SessionRoute, 0, len(f.sessions))
	for _, r := range f.sessions {
		out = append(out, *r)
	}
	return out
}

// ConnectionCount returns the number of registered connections, for health probes.
func (f *Fabric) ConnectionCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.connections)
}
