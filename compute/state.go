package compute

import (
	"slices"
	"strconv"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/device"
)

// DeviceState is everything persisted about one device.
type DeviceState struct {
	Record       device.Record      `json:"device" yaml:"device"`
	NIOs         []device.NIORecord `json:"nios,omitempty" yaml:"nios,omitempty"`
	Circuits     []hvman.Circuit    `json:"circuits,omitempty" yaml:"circuits,omitempty"`
	Reservations []int              `json:"udp_ports,omitempty" yaml:"udp_ports,omitempty"`
}

// Assemble groups flat store listings of one module by device, ordered
// by ID. Rows
// belonging to a device that is not in devices are dropped and
// returned as strays so callers can report them.
func Assemble(
	devices []device.Record,
	nios []device.NIORecord,
	circuits []device.CircuitRecord,
	reservations []device.Reservation,
) (states []DeviceState, strays []string) {
	index := make(map[hvman.DeviceID]int, len(devices))
	states = make([]DeviceState, 0, len(devices))
	for _, d := range devices {
		index[d.ID] = len(states)
		states = append(states, DeviceState{Record: d})
	}

	for _, n := range nios {
		i, ok := index[n.DeviceID]
		if !ok || states[i].Record.Kind != n.Kind {
			strays = append(strays, "nio "+n.Name)
			continue
		}
		states[i].NIOs = append(states[i].NIOs, n)
	}
	for _, c := range circuits {
		i, ok := index[c.DeviceID]
		if !ok || states[i].Record.Kind != device.KindSwitch {
			strays = append(strays, "circuit "+c.Circuit.String())
			continue
		}
		states[i].Circuits = append(states[i].Circuits, c.Circuit)
	}
	for _, r := range reservations {
		i, ok := index[r.DeviceID]
		if !ok || states[i].Record.Kind != r.Kind {
			strays = append(strays, "udp reservation "+strconv.Itoa(r.Port))
			continue
		}
		states[i].Reservations = append(states[i].Reservations, r.Port)
	}

	slices.SortFunc(states, func(a, b DeviceState) int { return int(a.Record.ID) - int(b.Record.ID) })
	for i := range states {
		slices.Sort(states[i].Reservations)
	}
	return states, strays
}

// Drift compares the devices a module manages with the names the
// hypervisor reports.
type Drift struct {
	// Missing are managed devices the hypervisor does not report.
	Missing []device.Record
	// Unmanaged are hypervisor devices no managed record names.
	Unmanaged []string
}

// Empty reports whether local and remote agree.
func (d Drift) Empty() bool { return len(d.Missing) == 0 && len(d.Unmanaged) == 0 }

// ComputeDrift is a pure function over the two listings.
func ComputeDrift(local []device.Record, remote []string) Drift {
	remoteSet := make(map[string]bool, len(remote))
	for _, name := range remote {
		remoteSet[name] = true
	}
	localSet := make(map[string]bool, len(local))

	var d Drift
	for _, rec := range local {
		localSet[rec.Name] = true
		if !remoteSet[rec.Name] {
			d.Missing = append(d.Missing, rec)
		}
	}
	for _, name := range remote {
		if !localSet[name] {
			d.Unmanaged = append(d.Unmanaged, name)
		}
	}
	return d
}

// PortsOutsideRange returns the ports not in [start, end].
func PortsOutsideRange(ports []int, start, end int) []int {
	var out []int
	for _, p := range ports {
		if p < start || p > end {
			out = append(out, p)
		}
	}
	return out
}
