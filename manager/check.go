package manager

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/compute"
	"github.com/frobware/go-hvman/device"
)

// Severity indicates the severity of a check finding.
type Severity int

const (
	SeverityOK Severity = iota
	SeverityWarning
	SeverityError
)

// String returns a human-readable label for the severity.
func (s Severity) String() string {
	switch s {
	case SeverityOK:
		return "OK"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the label in JSON and YAML output.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Finding describes a single coherency check result.
type Finding struct {
	Severity    Severity    `json:"severity" yaml:"severity"`
	Kind        device.Kind `json:"kind" yaml:"kind"`
	Category    string      `json:"category" yaml:"category"`
	Description string      `json:"description" yaml:"description"`
}

// CheckReport contains the results of a coherency check.
type CheckReport struct {
	Findings []Finding `json:"findings" yaml:"findings"`
}

// HasErrors returns true if any finding has error severity.
func (r CheckReport) HasErrors() bool {
	return slices.ContainsFunc(r.Findings, func(f Finding) bool { return f.Severity == SeverityError })
}

// HasWarnings returns true if any finding has warning severity.
func (r CheckReport) HasWarnings() bool {
	return slices.ContainsFunc(r.Findings, func(f Finding) bool { return f.Severity == SeverityWarning })
}

// observed is a point-in-time snapshot of one module: what it holds
// in memory, what the store holds and what the hypervisor reports.
// Rules consume it and never reach back into the sources.
type observed struct {
	kind     device.Kind
	managed  []device.Record
	stored   []device.Record
	strays   []string
	remote   []string
	remoteOK bool
	reserved []int
	start    int
	end      int
	workDirs map[hvman.DeviceID]string
}

// rule is a declarative coherency check evaluated over a snapshot.
type rule struct {
	name string
	eval func(s *observed) []Finding
}

func (s *observed) finding(sev Severity, category, format string, args ...any) Finding {
	return Finding{Severity: sev, Kind: s.kind, Category: category, Description: fmt.Sprintf(format, args...)}
}

func checkRules() []rule {
	return []rule{
		{
			name: "hypervisor-missing",
			eval: func(s *observed) []Finding {
				if !s.remoteOK {
					return nil
				}
				var out []Finding
				for _, rec := range compute.ComputeDrift(s.managed, s.remote).Missing {
					out = append(out, s.finding(SeverityError, "hypervisor-missing",
						"%s %d %q is managed but the hypervisor does not report it", s.kind.Label(), rec.ID, rec.Name))
				}
				return out
			},
		},
		{
			name: "hypervisor-unmanaged",
			eval: func(s *observed) []Finding {
				if !s.remoteOK {
					return nil
				}
				var out []Finding
				for _, name := range compute.ComputeDrift(s.managed, s.remote).Unmanaged {
					out = append(out, s.finding(SeverityWarning, "hypervisor-unmanaged",
						"hypervisor reports %s %q that is not managed", s.kind.Label(), name))
				}
				return out
			},
		},
		{
			name: "store-vs-memory",
			eval: func(s *observed) []Finding {
				managed := make(map[hvman.DeviceID]device.Record, len(s.managed))
				for _, rec := range s.managed {
					managed[rec.ID] = rec
				}
				stored := make(map[hvman.DeviceID]device.Record, len(s.stored))
				for _, rec := range s.stored {
					stored[rec.ID] = rec
				}
				var out []Finding
				for _, rec := range s.stored {
					m, ok := managed[rec.ID]
					switch {
					case !ok:
						out = append(out, s.finding(SeverityError, "store-vs-memory",
							"%s %d %q is persisted but no longer managed", s.kind.Label(), rec.ID, rec.Name))
					case m.Name != rec.Name:
						out = append(out, s.finding(SeverityError, "store-vs-memory",
							"%s %d is persisted as %q but managed as %q", s.kind.Label(), rec.ID, rec.Name, m.Name))
					}
				}
				for _, rec := range s.managed {
					if _, ok := stored[rec.ID]; !ok {
						out = append(out, s.finding(SeverityError, "store-vs-memory",
							"%s %d %q is managed but not persisted", s.kind.Label(), rec.ID, rec.Name))
					}
				}
				return out
			},
		},
		{
			name: "stray-row",
			eval: func(s *observed) []Finding {
				var out []Finding
				for _, row := range s.strays {
					out = append(out, s.finding(SeverityError, "stray-row", "persisted %s has no owning device", row))
				}
				return out
			},
		},
		{
			name: "udp-range",
			eval: func(s *observed) []Finding {
				var out []Finding
				for _, port := range compute.PortsOutsideRange(s.reserved, s.start, s.end) {
					out = append(out, s.finding(SeverityWarning, "udp-range",
						"reserved UDP port %d is outside the configured range %d-%d", port, s.start, s.end))
				}
				return out
			},
		},
		{
			name: "workdir",
			eval: func(s *observed) []Finding {
				var out []Finding
				for _, rec := range s.managed {
					dir := s.workDirs[rec.ID]
					if _, err := os.Stat(dir); err != nil {
						out = append(out, s.finding(SeverityWarning, "workdir",
							"%s %d %q working directory %s: %v", s.kind.Label(), rec.ID, rec.Name, dir, err))
					}
				}
				return out
			},
		},
	}
}

// observe gathers the snapshot the rules evaluate. A failing
// hypervisor listing is reported as a finding rather than an error so
// the store side is still checked.
func (r *registry[D]) observe(ctx context.Context) (*observed, []Finding, error) {
	s := &observed{kind: r.v.kind, workDirs: make(map[hvman.DeviceID]string)}

	s.managed = r.records()
	for _, rec := range s.managed {
		s.workDirs[rec.ID] = r.workDir(rec.ID)
	}
	s.start, s.end, s.reserved = r.udpState()

	stored, err := r.store.ListDevices(ctx, r.v.kind)
	if err != nil {
		return nil, nil, fmt.Errorf("list %s devices: %w", r.v.kind, err)
	}
	nios, err := r.store.ListNIOs(ctx, r.v.kind)
	if err != nil {
		return nil, nil, fmt.Errorf("list %s nios: %w", r.v.kind, err)
	}
	var circuits []device.CircuitRecord
	if r.v.kind == device.KindSwitch {
		if circuits, err = r.store.ListCircuits(ctx); err != nil {
			return nil, nil, fmt.Errorf("list circuits: %w", err)
		}
	}
	reservations, err := r.store.ListReservations(ctx, r.v.kind)
	if err != nil {
		return nil, nil, fmt.Errorf("list %s reservations: %w", r.v.kind, err)
	}
	s.stored = stored
	_, s.strays = compute.Assemble(stored, nios, circuits, reservations)

	var findings []Finding
	remote, err := r.listRemote(ctx)
	if err != nil {
		findings = append(findings, s.finding(SeverityError, "hypervisor", "cannot list %s devices: %v", r.v.kind, err))
	} else {
		s.remote, s.remoteOK = remote, true
	}
	return s, findings, nil
}

// Check performs a read-only coherency check of both modules across
// memory, the store and the hypervisor.
func (m *Manager) Check(ctx context.Context) (CheckReport, error) {
	ctx = withOpID(ctx)
	var report CheckReport

	gather := []func(context.Context) (*observed, []Finding, error){
		m.switches.reg.observe,
		m.vms.reg.observe,
	}
	for _, g := range gather {
		s, findings, err := g(ctx)
		if err != nil {
			return report, err
		}
		report.Findings = append(report.Findings, findings...)
		for _, rl := range checkRules() {
			found := rl.eval(s)
			m.logger.DebugContext(ctx, "rule evaluated", "kind", s.kind, "rule", rl.name, "findings", len(found))
			report.Findings = append(report.Findings, found...)
		}
	}

	m.logger.InfoContext(ctx, "check complete", "findings", len(report.Findings),
		"errors", report.HasErrors(), "warnings", report.HasWarnings())
	return report, nil
}
