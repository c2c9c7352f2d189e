// Package lb scores relay nodes for a session and picks the best one,
// implementing the Smart Optimal algorithm plus a few configurable
// alternatives.
package lb

import (
	"math"
	"sort"
	"sync"
)

// Algorithm selects the scoring strategy used by Select.
type Algorithm string

const (
	AlgoSmartOptimal       Algorithm = "smart-optimal"
	AlgoRoundRobin         Algorithm = "round-robin"
	AlgoLeastConnections   Algorithm = "least-connections"
	AlgoWeightedRoundRobin Algorithm = "weighted-round-robin"
	AlgoGeographic         Algorithm = "geographic-proximity"
)

// LatLon is a geographic point in degrees.
type LatLon struct {
	Lat float64
	Lon float64
}

// NodeMetrics is the live telemetry for one relay node (§3 Relay node, §4.10 Inputs).
type NodeMetrics struct {
	AvgLatencyMs float64
	CPUUsage     float64
	MemoryUsage  float64
	ErrorRate    float64 // [0,1]
}

// Node is a candidate relay node plus its current metrics and location.
type Node struct {
	ID       string
	Location LatLon
	Capacity int
	Load     int
	Health   float64 // [0,1]
	Metrics  NodeMetrics
}

// HealthThreshold and MaxCapacityRatio gate which nodes are eligible at all,
// independent of the chosen algorithm (§4.10: "MUST NOT be used when a
// node's health is below threshold").
type Config struct {
	Algorithm        Algorithm
	HealthThreshold  float64
	MaxCapacityRatio float64
}

func DefaultConfig() Config {
	return Config{
		Algorithm:        AlgoSmartOptimal,
		HealthThreshold:  0.5,
		MaxCapacityRatio: 0.9,
	}
}

// RouteError reports relay-selection failures (§7 RouteError kinds).
type RouteError struct {
	Kind string
	Msg  string
}

func (e *RouteError) Error() string { return "route error (" + e.Kind + "): " + e.Msg }

func noHealthyNode(msg string) error {
	return &RouteError{Kind: "no-healthy-node", Msg: msg}
}

func (n Node) healthy(cfg Config) bool {
	if n.Health < cfg.HealthThreshold {
		return false
	}
	if n.Capacity <= 0 {
		return false
	}
	ratio := float64(n.Load) / float64(n.Capacity)
	return ratio <= cfg.MaxCapacityRatio
}

// haversineKm computes the great-circle distance between two points in km,
// Earth radius 6371 km, matching the reference relay's distance formula.
func haversineKm(a, b LatLon) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }

	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// score implements the Smart Optimal weighted sum exactly as specified:
// 0.30 health + 0.20 capacity headroom + 0.20 geo + 0.15 latency + 0.15
// reliability. The sum of weights is 1.0; no other term is added.
func score(n Node, agent, viewer LatLon) float64 {
	healthScore := n.Health

	capacityRatio := 0.0
	if n.Capacity > 0 {
		capacityRatio = float64(n.Load) / float64(n.Capacity)
	}
	capacityScore := 1.0 - capacityRatio

	distAgent := haversineKm(n.Location, agent)
	distViewer := haversineKm(n.Location, viewer)
	avgDistKm := (distAgent + distViewer) / 2
	geoScore := 1.0 / (1.0 + avgDistKm/1000.0)

	latencyScore := 1.0 / (1.0 + n.Metrics.AvgLatencyMs/100.0)
	reliabilityScore := 1.0 - n.Metrics.ErrorRate

	return 0.30*healthScore +
		0.20*capacityScore +
		0.20*geoScore +
		0.15*latencyScore +
		0.15*reliabilityScore
}

// Decision records one routing choice for the bounded history (§4.10 Adaptation).
type Decision struct {
	AgentLocation   LatLon
	ViewerLocation  LatLon
	SelectedNode    string
	Success         bool
	SessionDuration float64 // seconds
	QualityScore    float64
}

const maxHistory = 10000

// Balancer holds node metrics and a bounded routing history, selecting a
// relay node per session-open call.
type Balancer struct {
	mu      sync.Mutex
	cfg     Config
	nodes   map[string]Node
	history []Decision
	rrIndex int
}

func New(cfg Config) *Balancer {
	return &Balancer{cfg: cfg, nodes: make(map[string]Node)}
}

// UpdateNode upserts a node's current metrics/location.
func (b *Balancer) UpdateNode(n Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[n.ID] = n
}

func (b *Balancer) healthyNodes() []Node {
	out := make([]Node, 0, len(b.nodes))
	for _, n := range b.nodes {
		if n.healthy(b.cfg) {
			out = append(out, n)
		}
	}
	return out
}

// Select picks a relay node for a session between agent and viewer,
// dispatching on the configured algorithm. It never returns an unhealthy
// node: callers get RouteError(no-healthy-node) instead.
func (b *Balancer) Select(agent, viewer LatLon) (Node, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	candidates := b.healthyNodes()
	if len(candidates) == 0 {
		return Node{}, noHealthyNode("no relay node passes health/capacity thresholds")
	}

	var chosen Node
	switch b.cfg.Algorithm {
	case AlgoRoundRobin, AlgoWeightedRoundRobin:
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
		chosen = candidates[b.rrIndex%len(candidates)]
		b.rrIndex++
	case AlgoLeastConnections:
		chosen = leastLoaded(candidates)
	case AlgoGeographic:
		chosen = nearest(candidates, agent, viewer)
	default: // AlgoSmartOptimal and unset
		chosen = smartOptimal(candidates, agent, viewer)
	}

	return chosen, nil
}

func smartOptimal(candidates []Node, agent, viewer LatLon) Node {
	best := candidates[0]
	bestScore := score(best, agent, viewer)
	for _, n := range candidates[1:] {
		s := score(n, agent, viewer)
		if s > bestScore ||
			(s == bestScore && n.Load < best.Load) ||
			(s == bestScore && n.Load == best.Load && n.ID < best.ID) {
			best = n
			bestScore = s
		}
	}
	return best
}

func leastLoaded(candidates []Node) Node {
	best := candidates[0]
	for _, n := range candidates[1:] {
		if n.Load < best.Load || (n.Load == best.Load && n.ID < best.ID) {
			best = n
		}
	}
	return best
}

func nearest(candidates []Node, agent, viewer LatLon) Node {
	best := candidates[0]
	bestDist := haversineKm(best.Location, agent) + haversineKm(best.Location, viewer)
	for _, n := range candidates[1:] {
		d := haversineKm(n.Location, agent) + haversineKm(n.Location, viewer)
		if d < bestDist || (d == bestDist && n.ID < best.ID) {
			best = n
			bestDist = d
		}
	}
	return best
}

// RecordDecision appends a routing decision to the bounded history,
// dropping the oldest entries once the cap is exceeded.
func (b *Balancer) RecordDecision(d Decision) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, d)
	if len(b.history) > maxHistory {
		b.history = b.history[len(b.history)-maxHistory:]
	}
}

// Analytics summarizes the routing history (§4.10 Adaptation, read-only).
type Analytics struct {
	TotalDecisions  int
	SuccessRate     float64
	AvgDurationSecs float64
}

func (b *Balancer) Analytics() Analytics {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.history) == 0 {
		return Analytics{}
	}
	var successes int
	var totalDuration float64
	for _, d := range b.history {
		if d.Success {
			successes++
		}
		totalDuration += d.SessionDuration
	}
	return Analytics{
		TotalDecisions:  len(b.history),
		SuccessRate:     float64(successes) / float64(len(b.history)),
		AvgDurationSecs: totalDuration / float64(len(b.history)),
	}
}
