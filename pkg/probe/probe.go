// Package probe times parse phases and snapshots system-wide CPU and
// memory usage for diagnostics.
package probe

import (
	"fmt"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type (
	cpuFunc func(time.Duration, bool) ([]float64, error)
	ramFunc func() (*mem.VirtualMemoryStat, error)
	nowFunc func() time.Time
)

// Probe accumulates named phase durations. A disabled probe is a
// no-op so call sites need no guards.
type Probe struct {
	enabled bool

	cpu cpuFunc
	ram ramFunc
	now nowFunc

	started map[string]time.Time
	phases  map[string]time.Duration
}

// New returns a probe. When enabled is false every method is a no-op.
func New(enabled bool) *Probe {
	return &Probe{
		enabled: enabled,
		cpu:     cpu.Percent,
		ram:     mem.VirtualMemory,
		now:     time.Now,
		started: map[string]time.Time{},
		phases:  map[string]time.Duration{},
	}
}

// Enabled reports whether the probe records anything.
func (p *Probe) Enabled() bool { return p.enabled }

// Start begins timing a phase.
func (p *Probe) Start(phase string) {
	if !p.enabled {
		return
	}
	p.started[phase] = p.now()
}

// Stop ends timing a phase and accumulates its duration. Stopping a
// phase that was never started is ignored.
func (p *Probe) Stop(phase string) {
	if !p.enabled {
		return
	}
	start, ok := p.started[phase]
	if !ok {
		return
	}
	delete(p.started, phase)
	p.phases[phase] += p.now().Sub(start)
}

// Phase is one timed parse phase.
type Phase struct {
	Name     string
	Duration time.Duration
}

// Snapshot is a point-in-time diagnostics report.
type Snapshot struct {
	Phases []Phase

	CPUUsage int // percent
	RAMUsage int // percent
}

// Snapshot returns the recorded phases sorted by name plus current
// system-wide cpu and memory usage. Resource lookups that fail
// report zero rather than failing the snapshot.
func (p *Probe) Snapshot() Snapshot {
	var s Snapshot
	if !p.enabled {
		return s
	}

	for name, d := range p.phases {
		s.Phases = append(s.Phases, Phase{Name: name, Duration: d})
	}
	sort.Slice(s.Phases, func(i, j int) bool {
		return s.Phases[i].Name < s.Phases[j].Name
	})

	if usage, err := p.cpu(0, false); err == nil && len(usage) > 0 {
		s.CPUUsage = int(usage[0])
	}
	if vm, err := p.ram(); err == nil {
		s.RAMUsage = int(vm.UsedPercent)
	}
	return s
}

// String formats a snapshot for log output.
func (s Snapshot) String() string {
	out := ""
	for _, phase := range s.Phases {
		out += fmt.Sprintf("%s=%v ", phase.Name, phase.Duration)
	}
	return out + fmt.Sprintf("cpu=%d%% ram=%d%%", s.CPUUsage, s.RAMUsage)
}
