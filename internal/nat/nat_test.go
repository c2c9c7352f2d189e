package nat

import (
	"context"
	"testing"
)

type fakeReflector struct {
	responses map[string]string
	errs      map[string]error
}

func (f fakeReflector) Probe(_ CtxLike, addr string) (string, error) {
	if err, ok := f.errs[addr]; ok {
		return "", err
	}
	return f.responses[addr], nil
}

func TestDiscoverFullCone(t *testing.T) {
	r := fakeReflector{responses: map[string]string{
		"r1": "1.2.3.4:5000",
		"r2": "1.2.3.4:5000",
	}}
	p, err := Discover(context.Background(), r, []string{"r1", "r2"}, "10.0.0.1:5000")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if p.Kind != KindFullCone {
		t.Errorf("kind = %v, want FullCone", p.Kind)
	}
	if len(p.HolePunchPorts) == 0 {
		t.Error("expected hole punch candidate ports for a cone NAT")
	}
}

func TestDiscoverSymmetric(t *testing.T) {
	r := fakeReflector{responses: map[string]string{
		"r1": "1.2.3.4:5000",
		"r2": "1.2.3.4:6000",
	}}
	p, err := Discover(context.Background(), r, []string{"r1", "r2"}, "10.0.0.1:5000")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if p.Kind != KindSymmetric {
		t.Errorf("kind = %v, want Symmetric", p.Kind)
	}
	if len(p.HolePunchPorts) != 0 {
		t.Error("symmetric NAT must not produce hole punch candidates")
	}
}

func TestDiscoverUnavailableIsUnknown(t *testing.T) {
	p, err := Discover(context.Background(), fakeReflector{}, nil, "10.0.0.1:5000")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if p.Kind != KindUnknown {
		t.Errorf("kind = %v, want Unknown when no reflectors configured", p.Kind)
	}
}

func TestDirectViableRules(t *testing.T) {
	none := Profile{PublicAddr: "1.1.1.1:1", Kind: KindNone}
	full := Profile{PublicAddr: "1.1.1.1:1", Kind: KindFullCone}
	sym := Profile{PublicAddr: "1.1.1.1:1", Kind: KindSymmetric}
	noAddr := Profile{Kind: KindFullCone}

	if !DirectViable(none, full) {
		t.Error("None+FullCone should be viable")
	}
	if DirectViable(sym, full) {
		t.Error("Symmetric on either side must force relay")
	}
	if DirectViable(full, sym) {
		t.Error("Symmetric on either side must force relay (reversed)")
	}
	if DirectViable(full, noAddr) {
		t.Error("missing public address must not be viable")
	}
}

func TestHolePunchEligibility(t *testing.T) {
	full := Profile{Kind: KindFullCone}
	restricted := Profile{Kind: KindRestrictedCone}
	portRestricted := Profile{Kind: KindPortRestricted}
	sym := Profile{Kind: KindSymmetric}

	if !HolePunchEligible(full, restricted) {
		t.Error("FullCone+RestrictedCone should be hole-punch eligible")
	}
	if !HolePunchEligible(portRestricted, portRestricted) {
		t.Error("PortRestricted+PortRestricted should be hole-punch eligible")
	}
	if HolePunchEligible(full, sym) {
		t.Error("Symmetric must never be hole-punch eligible")
	}
}
