package nat

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// PacketReflector implements Reflector on top of a raw captured reply
// packet rather than a parsed application payload, for environments where
// the agent observes its own reflected probe at the IP layer (e.g. behind
// a packet-capture-based diagnostic helper rather than a library STUN
// client). It decodes the IPv4/UDP layers with gopacket and reports the
// destination address the reflector actually wrote back to, which is what
// NAT classification needs: the address as seen from the far side.
type PacketReflector struct {
	// Capture returns one raw reply frame for a probe sent to addr.
	Capture func(addr string) ([]byte, error)
}

func (p PacketReflector) Probe(_ CtxLike, reflectorAddr string) (string, error) {
	raw, err := p.Capture(reflectorAddr)
	if err != nil {
		return "", err
	}

	pkt := gopacket.NewPacket(raw, layers.LayerTypeIPv4, gopacket.NoCopy)
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if ipLayer == nil || udpLayer == nil {
		return "", fmt.Errorf("nat: reflector reply missing IPv4/UDP layers")
	}

	ip, _ := ipLayer.(*layers.IPv4)
	udp, _ := udpLayer.(*layers.UDP)
	if ip == nil || udp == nil {
		return "", fmt.Errorf("nat: unexpected reflector reply layer types")
	}

	// The reflector echoes back the address it observed for us in the UDP
	// destination fields of its reply envelope.
	return fmt.Sprintf("%s:%d", ip.DstIP.String(), udp.DstPort), nil
}
