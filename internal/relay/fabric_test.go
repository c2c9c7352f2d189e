package relay

import (
	"testing"

	"github.com/breeze-rmm/sessioncore/internal/lb"
	"github.com/breeze-rmm/sessioncore/internal/nat"
)

func TestPriorityTierLimits(t *testing.T) {
	if tierLimits[PriorityLow] >= tierLimits[PriorityCritical] {
		t.Error("low tier must have a smaller buffer than critical")
	}
}

func TestOpenSessionRequiresBothConnected(t *testing.T) {
	f := NewFabric(lb.New(lb.DefaultConfig()))
	_, err := f.OpenSession("agent-1", "tech-1")
	if err == nil {
		t.Fatal("expected error when neither peer is registered")
	}
	if err.(*RouteError).Kind != "peer-unreachable" {
		t.Errorf("kind = %q, want peer-unreachable", err.(*RouteError).Kind)
	}
}

func TestOpenSessionPrefersDirectWhenViable(t *testing.T) {
	balancer := lb.New(lb.DefaultConfig())
	f := NewFabric(balancer)

	// Fake connections: we only need registry presence for OpenSession's
	// peer-reachability check, not a live socket.
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
	if route.ConnectionType != ConnDirect {
		t.Errorf("connection type = %v, want Direct", route.ConnectionType)
	}
}

func TestOpenSessionFallsBackToRelayOnSymmetricNAT(t *testing.T) {
	balancer := lb.New(lb.DefaultConfig())
	balancer.UpdateNode(lb.Node{ID: "node-1", Capacity: 100, Load: 10, Health: 0.9})
	f := NewFabric(balancer)

	f.mu.Lock()
	f.connections["agent-1"] = NewConnection("agent-1", KindAgent, nil)
	f.connections["tech-1"] = NewConnection("tech-1", KindTechnician, nil)
	f.mu.Unlock()

	f.SetNATProfile("agent-1", nat.Profile{PublicAddr: "1.1.1.1:1", Kind: nat.KindSymmetric})
	f.SetNATProfile("tech-1", nat.Profile{PublicAddr: "2.2.2.2:2", Kind: nat.KindFullCone})

	route, err := f.OpenSession("agent-1", "tech-1")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if route.ConnectionType == ConnDirect {
		t.Error("symmetric NAT on either side must force a relayed route")
	}
	if route.RelayNodeID != "node-1" {
		t.Errorf("relay node = %q, want node-1", route.RelayNodeID)
	}
}

func TestOpenSessionNoHealthyRelayNode(t *testing.T) {
	balancer := lb.New(lb.DefaultConfig()) // no nodes registered
	f := NewFabric(balancer)

	f.mu.Lock()
	f.connections["agent-1"] = NewConnection("agent-1", KindAgent, nil)
	f.connections["tech-1"] = NewConnection("tech-1", KindTechnician, nil)
	f.mu.Unlock()

	f.SetNATProfile("agent-1", nat.Profile{PublicAddr: "1.1.1.1:1", Kind: nat.KindSymmetric})
	f.SetNATProfile("tech-1", nat.Profile{PublicAddr: "2.2.2.2:2", Kind: nat.KindFullCone})

	_, err := f.OpenSession("agent-1", "tech-1")
	if err == nil {
		t.Fatal("expected RouteError when no relay node is available")
	}
	if err.(*RouteError).Kind != "no-healthy-node" {
		t.Errorf("kind = %q, want no-healthy-node", err.(*RouteError).Kind)
	}
}
