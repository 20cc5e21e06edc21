package manager

import (
	"runtime"

	"github.com/prometheus/procfs"
)

// LoadReport is the host-load probe's answer.
type LoadReport struct {
	Overloaded  bool
	Utilization float64
	CanProceed  bool
}

// LoadProbe reports host load. CheckLoad must be cheap; it runs on every
// admission.
type LoadProbe interface {
	CheckLoad() LoadReport
}

// LoadProbeFunc adapts a function to LoadProbe.
type LoadProbeFunc func() LoadReport

func (f LoadProbeFunc) CheckLoad() LoadReport { return f() }

type noLoadProbe struct{}

func (noLoadProbe) CheckLoad() LoadReport { return LoadReport{CanProceed: true} }

// ProcLoadProbe reads the 1 minute load average from /proc and normalises it
// by CPU count.
type ProcLoadProbe struct {
	fs        procfs.FS
	threshold float64
	cpus      int
}

// NewProcLoadProbe returns a probe that reports overload above threshold
// (load per CPU). A threshold <= 0 never reports overload.
func NewProcLoadProbe(threshold float64) (*ProcLoadProbe, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	return &ProcLoadProbe{fs: fs, threshold: threshold, cpus: runtime.NumCPU()}, nil
}

func (p *ProcLoadProbe) CheckLoad() LoadReport {
	la, err := p.fs.LoadAvg()
	if err != nil {
		// An unreadable probe must not take the service down.
		return LoadReport{CanProceed: true}
	}
	util := la.Load1 / float64(max(1, p.cpus))
	over := p.threshold > 0 && util > p.threshold
	return LoadReport{Overloaded: over, Utilization: util, CanProceed: !over}
}
