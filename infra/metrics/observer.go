// Package metrics exports collector activity to prometheus.
package metrics

import (
	"time"

	"github.com/SababAosaf/tlxr/domain/scheduler"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tlxr"

// Observer is a scheduler.Observer backed by prometheus collectors.
type Observer struct {
	cycles        *prometheus.CounterVec
	emergencies   prometheus.Counter
	pause         prometheus.Histogram
	stages        *prometheus.CounterVec
	packets       *prometheus.CounterVec
	packetSeconds *prometheus.HistogramVec
	running       prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Observer {
	o := &Observer{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Finished collection cycles by kind.",
		}, []string{"kind"}),
		emergencies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_cycles_total",
			Help:      "Cycles run after an allocation failed despite collecting.",
		}),
		pause: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pause_seconds",
			Help:      "Time mutators spent stopped per cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_opened_total",
			Help:      "Opened work stages.",
		}, []string{"stage"}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Executed work packets by stage.",
		}, []string{"stage"}),
		packetSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "packet_seconds",
			Help:      "Work packet execution time by packet name.",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 10),
		}, []string{"packet"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_running",
			Help:      "1 while a collection is in progress.",
		}),
	}
	reg.MustRegister(o.cycles, o.emergencies, o.pause, o.stages, o.packets, o.packetSeconds, o.running)
	return o
}

func (o *Observer) CycleBegin(*scheduler.Cycle) { o.running.Set(1) }

func (o *Observer) StageOpened(_ *scheduler.Cycle, s scheduler.Stage) {
	o.stages.WithLabelValues(s.String()).Inc()
}

func (o *Observer) StageClosed(*scheduler.Cycle, scheduler.Stage) {}

func (o *Observer) PacketExecuted(_ *scheduler.Cycle, s scheduler.Stage, name string, d time.Duration) {
	o.packets.WithLabelValues(s.String()).Inc()
	o.packetSeconds.WithLabelValues(name).Observe(d.Seconds())
}

func (o *Observer) CycleEnd(c *scheduler.Cycle, pause time.Duration) {
	o.running.Set(0)
	o.cycles.WithLabelValues(c.Kind.String()).Inc()
	if c.Request.Emergency {
		o.emergencies.Inc()
	}
	o.pause.Observe(pause.Seconds())
}

// HeapStats is sampled on every scrape.
type HeapStats func() (usedPages, heapPages int, collections uint64)

// RegisterHeap exports heap occupancy read from stats.
func RegisterHeap(reg prometheus.Registerer, stats HeapStats) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heap_used_pages",
			Help:      "Pages counted against the heap budget.",
		}, func() float64 {
			used, _, _ := stats()
			return float64(used)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heap_pages",
			Help:      "The heap budget in pages.",
		}, func() float64 {
			_, heap, _ := stats()
			return float64(heap)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collections_total",
			Help:      "Collections completed by the plan.",
		}, func() float64 {
			_, _, n := stats()
			return float64(n)
		}),
	)
}
