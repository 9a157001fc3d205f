package metrics

import (
	"context"
	"runtime"
	"syscall"

	"go.opentelemetry.io/otel/metric"
)

// memStat is one runtime.MemStats field exposed as a gauge.
type memStat struct {
	name        string
	description string
	read        func(*runtime.MemStats) uint64
}

var memStats = []memStat{
	{"go_memory_heap_alloc", "Bytes of allocated heap objects", func(m *runtime.MemStats) uint64 { return m.HeapAlloc }},
	{"go_memory_heap_sys", "Bytes of heap memory obtained from the OS", func(m *runtime.MemStats) uint64 { return m.HeapSys }},
	{"go_memory_heap_idle", "Bytes in idle heap spans", func(m *runtime.MemStats) uint64 { return m.HeapIdle }},
	{"go_memory_heap_inuse", "Bytes in in-use heap spans", func(m *runtime.MemStats) uint64 { return m.HeapInuse }},
	{"go_memory_stack_inuse", "Bytes in stack spans", func(m *runtime.MemStats) uint64 { return m.StackInuse }},
	{"go_gc_heap_goal", "Heap size target of the next GC cycle", func(m *runtime.MemStats) uint64 { return m.NextGC }},
}

// RuntimeMetrics reports Go process state through asynchronous instruments.
// Values are read in the collection callback, so nothing needs updating by
// hand once NewRuntimeMetrics returns.
type RuntimeMetrics struct {
	memGauges []metric.Int64ObservableGauge

	goroutines  metric.Int64ObservableGauge
	heapObjects metric.Int64ObservableGauge
	allocTotal  metric.Int64ObservableCounter
	gcCount     metric.Int64ObservableCounter
	gcPause     metric.Float64ObservableCounter
	cpuUser     metric.Float64ObservableCounter
	cpuSystem   metric.Float64ObservableCounter
}

// NewRuntimeMetrics registers the runtime instruments and their callback.
func NewRuntimeMetrics(meter metric.Meter) (*RuntimeMetrics, error) {
	rm := &RuntimeMetrics{}
	observables := make([]metric.Observable, 0, len(memStats)+7)

	for _, s := range memStats {
		g, err := meter.Int64ObservableGauge(name(s.name),
			metric.WithDescription(s.description),
			metric.WithUnit("By"),
		)
		if err != nil {
			return nil, err
		}
		rm.memGauges = append(rm.memGauges, g)
		observables = append(observables, g)
	}

	var err error
	if rm.goroutines, err = meter.Int64ObservableGauge(name("go_goroutines"),
		metric.WithDescription("Number of goroutines that currently exist"),
		metric.WithUnit("{goroutine}"),
	); err != nil {
		return nil, err
	}
	if rm.heapObjects, err = meter.Int64ObservableGauge(name("go_memory_heap_objects"),
		metric.WithDescription("Number of allocated heap objects"),
		metric.WithUnit("{object}"),
	); err != nil {
		return nil, err
	}
	if rm.allocTotal, err = meter.Int64ObservableCounter(name("go_memory_alloc"),
		metric.WithDescription("Cumulative bytes allocated for heap objects"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if rm.gcCount, err = meter.Int64ObservableCounter(name("go_gc_cycles"),
		metric.WithDescription("Number of completed GC cycles"),
		metric.WithUnit("{gc}"),
	); err != nil {
		return nil, err
	}
	if rm.gcPause, err = meter.Float64ObservableCounter(name("go_gc_pause"),
		metric.WithDescription("Cumulative time spent in GC stop-the-world pauses"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if rm.cpuUser, err = meter.Float64ObservableCounter(name("process_cpu_user"),
		metric.WithDescription("User CPU time consumed by the process"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if rm.cpuSystem, err = meter.Float64ObservableCounter(name("process_cpu_system"),
		metric.WithDescription("System CPU time consumed by the process"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	observables = append(observables,
		rm.goroutines, rm.heapObjects, rm.allocTotal, rm.gcCount, rm.gcPause, rm.cpuUser, rm.cpuSystem)

	if _, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		rm.collect(o)
		return nil
	}, observables...); err != nil {
		return nil, err
	}

	return rm, nil
}

// collect observes cumulative totals; the SDK derives rates and deltas.
func (rm *RuntimeMetrics) collect(o metric.Observer) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	for i, s := range memStats {
		o.ObserveInt64(rm.memGauges[i], int64(s.read(&m)))
	}

	o.ObserveInt64(rm.goroutines, int64(runtime.NumGoroutine()))
	o.ObserveInt64(rm.heapObjects, int64(m.HeapObjects))
	o.ObserveInt64(rm.allocTotal, int64(m.TotalAlloc))
	o.ObserveInt64(rm.gcCount, int64(m.NumGC))
	o.ObserveFloat64(rm.gcPause, float64(m.PauseTotalNs)/1e9)

	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err == nil {
		o.ObserveFloat64(rm.cpuUser, float64(rusage.Utime.Sec)+float64(rusage.Utime.Usec)/1e6)
		o.ObserveFloat64(rm.cpuSystem, float64(rusage.Stime.Sec)+float64(rusage.Stime.Usec)/1e6)
	}
}

// MemoryUsageMB reports the current heap allocation in megabytes.
func MemoryUsageMB() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.HeapAlloc) / 1024 / 1024
}

// NumGoroutines returns the number of currently active goroutines.
func NumGoroutines() int {
	return runtime.NumGoroutine()
}
