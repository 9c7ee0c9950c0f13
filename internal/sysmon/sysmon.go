// Package sysmon samples the resource usage of the generator process.
package sysmon

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"

	"loadphase/internal/stats"
)

// Sampler reads RSS and CPU usage of one process through gopsutil.
type Sampler struct {
	proc *process.Process
}

// NewSampler returns a sampler for the current process.
func NewSampler() (*Sampler, error) {
	return NewSamplerForPID(int32(os.Getpid()))
}

func NewSamplerForPID(pid int32) (*Sampler, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}
	return &Sampler{proc: p}, nil
}

// Sample implements stats.ProcessSampler. CPU percent is averaged over the
// lifetime of the process.
func (s *Sampler) Sample() (stats.ProcessUsage, error) {
	var u stats.ProcessUsage

	mem, err := s.proc.MemoryInfo()
	if err != nil {
		return u, fmt.Errorf("memory info: %w", err)
	}
	u.RSSBytes = mem.RSS

	cpu, err := s.proc.CPUPercent()
	if err != nil {
		return u, fmt.Errorf("cpu percent: %w", err)
	}
	u.CPUPercent = cpu

	return u, nil
}
