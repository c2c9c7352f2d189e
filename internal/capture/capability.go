package capture

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/breeze-rmm/sessioncore/internal/encoder"
)

// Capabilities summarizes what the current host can support, feeding the
// Encoder Selector's hardware-preference branch (§4.4) and the admin
// surface's per-agent capability reporting.
type Capabilities struct {
	CPUCores      int
	CPUModel      string
	TotalMemoryMB uint64
	HasNVENC      bool
	HasWaylandEnv bool
}

// Probe reports host capability via gopsutil rather than re-deriving CPU
// topology by hand. HasNVENC delegates to encoder.DetectGPU, the same
// device-node probe the nvenc backend itself gates on, so admin-surface
// capability reporting and actual encoder selection never disagree.
func Probe() (Capabilities, error) {
	info, err := cpu.Info()
	if err != nil {
		return Capabilities{}, err
	}
	counts, err := cpu.Counts(true)
	if err != nil {
		return Capabilities{}, err
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Capabilities{}, err
	}

	model := ""
	if len(info) > 0 {
		model = info[0].ModelName
	}

	return Capabilities{
		CPUCores:      counts,
		CPUModel:      model,
		TotalMemoryMB: vm.Total / (1024 * 1024),
		HasNVENC:      encoder.DetectGPU(),
		HasWaylandEnv: hasWaylandSession(),
	}, nil
}

func hasWaylandSession() bool {
	return waylandDisplayEnv() != ""
}
