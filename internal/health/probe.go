package health

import (
	"math"
	"os"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

var (
	selfOnce sync.Once
	self     *process.Process
	selfErr  error
)

func selfProcess() (*process.Process, error) {
	selfOnce.Do(func() {
		self, selfErr = process.NewProcess(int32(os.Getpid()))
	})
	return self, selfErr
}

// ProcessMemoryMB returns the resident set size of the current process in
// megabytes.
func ProcessMemoryMB() (float64, error) {
	p, err := selfProcess()
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return math.Round(float64(info.RSS) / 1024 / 1024), nil
}

// ProcessSource reports this process's CPU and memory share into the server
// group. It is meant for the process hosting the hub.
type ProcessSource struct {
	proc *process.Process
}

func NewProcessSource() *ProcessSource {
	p, err := selfProcess()
	if err != nil {
		return &ProcessSource{}
	}
	// Prime the CPU counter so the first Sample has a baseline.
	_, _ = p.Percent(0)
	return &ProcessSource{proc: p}
}

func (ps *ProcessSource) Sample(s *Snapshot) {
	if ps.proc == nil {
		return
	}
	if cpu, err := ps.proc.Percent(0); err == nil {
		s.Server.CPUUsage = roundTo(cpu, 1)
	}
	if mem, err := ps.proc.MemoryPercent(); err == nil {
		s.Server.MemoryUsage = roundTo(float64(mem), 1)
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
