package metrics

import (
	"context"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SystemMetricsConfig configures NewSystemMetrics.
type SystemMetricsConfig struct {
	// DiskPath is the mount point whose usage is reported. Defaults to "/".
	DiskPath string
}

// SystemMetrics reports host and process level gauges gathered with
// gopsutil. Every reading is best effort: a failing reading skips its
// observation for that collection instead of failing the scrape.
type SystemMetrics struct {
	diskPath string
	proc     *process.Process

	cpuUtilization metric.Float64ObservableGauge
	loadAverage    metric.Float64ObservableGauge
	memUsed        metric.Int64ObservableGauge
	memAvailable   metric.Int64ObservableGauge
	memUtilization metric.Float64ObservableGauge
	diskUsed       metric.Int64ObservableGauge
	diskFree       metric.Int64ObservableGauge
	processRSS     metric.Int64ObservableGauge
	processFDs     metric.Int64ObservableGauge
	uptime         metric.Int64ObservableGauge
}

// NewSystemMetrics registers the system instruments and their callback.
func NewSystemMetrics(meter metric.Meter, cfg SystemMetricsConfig) (*SystemMetrics, error) {
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}

	sm := &SystemMetrics{diskPath: cfg.DiskPath}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		sm.proc = proc
	}

	var err error
	if sm.cpuUtilization, err = meter.Float64ObservableGauge(name("system_cpu_utilization"),
		metric.WithDescription("Host CPU utilization percentage since the previous collection"),
		metric.WithUnit("%"),
	); err != nil {
		return nil, err
	}
	if sm.loadAverage, err = meter.Float64ObservableGauge(name("system_load_average"),
		metric.WithDescription("Host load average by window"),
	); err != nil {
		return nil, err
	}
	if sm.memUsed, err = meter.Int64ObservableGauge(name("system_memory_used"),
		metric.WithDescription("Host memory in use"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if sm.memAvailable, err = meter.Int64ObservableGauge(name("system_memory_available"),
		metric.WithDescription("Host memory available for new allocations"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if sm.memUtilization, err = meter.Float64ObservableGauge(name("system_memory_utilization"),
		metric.WithDescription("Host memory utilization percentage"),
		metric.WithUnit("%"),
	); err != nil {
		return nil, err
	}
	if sm.diskUsed, err = meter.Int64ObservableGauge(name("system_disk_used"),
		metric.WithDescription("Used bytes on the monitored mount point"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if sm.diskFree, err = meter.Int64ObservableGauge(name("system_disk_free"),
		metric.WithDescription("Free bytes on the monitored mount point"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if sm.processRSS, err = meter.Int64ObservableGauge(name("process_resident_memory"),
		metric.WithDescription("Resident set size of this process"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if sm.processFDs, err = meter.Int64ObservableGauge(name("process_open_fds"),
		metric.WithDescription("Open file descriptors of this process"),
		metric.WithUnit("{fd}"),
	); err != nil {
		return nil, err
	}
	if sm.uptime, err = meter.Int64ObservableGauge(name("system_uptime"),
		metric.WithDescription("Host uptime"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(sm.collect,
		sm.cpuUtilization, sm.loadAverage,
		sm.memUsed, sm.memAvailable, sm.memUtilization,
		sm.diskUsed, sm.diskFree,
		sm.processRSS, sm.processFDs,
		sm.uptime,
	)
	if err != nil {
		return nil, err
	}

	return sm, nil
}

func (sm *SystemMetrics) collect(ctx context.Context, o metric.Observer) error {
	if percent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percent) > 0 {
		o.ObserveFloat64(sm.cpuUtilization, percent[0])
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		o.ObserveFloat64(sm.loadAverage, avg.Load1, metric.WithAttributes(attribute.String("window", "1m")))
		o.ObserveFloat64(sm.loadAverage, avg.Load5, metric.WithAttributes(attribute.String("window", "5m")))
		o.ObserveFloat64(sm.loadAverage, avg.Load15, metric.WithAttributes(attribute.String("window", "15m")))
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		o.ObserveInt64(sm.memUsed, int64(vm.Used))
		o.ObserveInt64(sm.memAvailable, int64(vm.Available))
		o.ObserveFloat64(sm.memUtilization, vm.UsedPercent)
	}

	if usage, err := disk.UsageWithContext(ctx, sm.diskPath); err == nil {
		attrs := metric.WithAttributes(attribute.String("mountpoint", sm.diskPath))
		o.ObserveInt64(sm.diskUsed, int64(usage.Used), attrs)
		o.ObserveInt64(sm.diskFree, int64(usage.Free), attrs)
	}

	if sm.proc != nil {
		if info, err := sm.proc.MemoryInfoWithContext(ctx); err == nil {
			o.ObserveInt64(sm.processRSS, int64(info.RSS))
		}
		if fds, err := sm.proc.NumFDsWithContext(ctx); err == nil {
			o.ObserveInt64(sm.processFDs, int64(fds))
		}
	}

	if up, err := host.UptimeWithContext(ctx); err == nil {
		o.ObserveInt64(sm.uptime, int64(up))
	}

	return nil
}
