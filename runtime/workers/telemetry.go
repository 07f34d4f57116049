package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"listing-dm/observability"
)

// TelemetryWorker samples this process's own resource usage and publishes
// it through the Prometheus gauges every 5 seconds.
type TelemetryWorker struct {
	log *slog.Logger
}

func NewTelemetryWorker(log *slog.Logger) *TelemetryWorker {
	return &TelemetryWorker{log: log}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	w.log.Info("Starting telemetry worker")
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rss, cpu, err := getSelfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			observability.ProcessRSS.Set(float64(rss))
			observability.ProcessCPU.Set(cpu)
		}
	}
}

// getSelfStats retrieves memory and CPU usage for the given process.
func getSelfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
