package probe

import (
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/require"
)

func TestProbe(t *testing.T) {
	clock := time.Unix(0, 0)
	p := New(true)
	p.now = func() time.Time { return clock }
	p.cpu = func(time.Duration, bool) ([]float64, error) {
		return []float64{25.9}, nil
	}
	p.ram = func() (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{UsedPercent: 40.2}, nil
	}

	p.Start("parse")
	clock = clock.Add(100 * time.Millisecond)
	p.Stop("parse")

	p.Start("samples")
	clock = clock.Add(30 * time.Millisecond)
	p.Stop("samples")

	// Accumulates across repeated phases.
	p.Start("parse")
	clock = clock.Add(50 * time.Millisecond)
	p.Stop("parse")

	s := p.Snapshot()
	require.Equal(t, []Phase{
		{Name: "parse", Duration: 150 * time.Millisecond},
		{Name: "samples", Duration: 30 * time.Millisecond},
	}, s.Phases)
	require.Equal(t, 25, s.CPUUsage)
	require.Equal(t, 40, s.RAMUsage)
	require.Equal(t, "parse=150ms samples=30ms cpu=25% ram=40%", s.String())
}

func TestProbeDisabled(t *testing.T) {
	p := New(false)
	p.Start("parse")
	p.Stop("parse")

	s := p.Snapshot()
	require.Empty(t, s.Phases)
	require.Zero(t, s.CPUUsage)
}

func TestProbeStopWithoutStart(t *testing.T) {
	p := New(true)
	p.Stop("never started")
	require.Empty(t, p.Snapshot().Phases)
}
