// Package health samples process CPU and memory usage on a fixed interval
// and logs it at debug level, giving operators a cheap liveness signal
// without standing up a full metrics pipeline. Grounded on gopsutil/v4's
// documented process-sampling API (github.com/shirou/gopsutil/v4); this
// package is its only caller.
package health

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/pathfinderd/pathfinder/internal/logger"
)

const sampleInterval = 30 * time.Second

// Sampler periodically logs this process's CPU and memory footprint.
type Sampler struct {
	proc   *process.Process
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the background sampling goroutine.
func Start() (*Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sampler{proc: proc, cancel: cancel, done: make(chan struct{})}
	go s.run(ctx)
	return s, nil
}

func (s *Sampler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	cpuPct, err := s.proc.CPUPercent()
	if err != nil {
		logger.DebugF("health: cpu sample failed: %v", err)
		return
	}
	mem, err := s.proc.MemoryInfo()
	if err != nil {
		logger.DebugF("health: memory sample failed: %v", err)
		return
	}
	total, err := cpu.Counts(true)
	if err != nil {
		total = 0
	}
	logger.DebugF("health: cpu=%.1f%% rss=%d vms=%d logical_cpus=%d", cpuPct, mem.RSS, mem.VMS, total)
}

// Invoke satisfies internal/event.Callable.
func (s *Sampler) Invoke(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return nil
}
