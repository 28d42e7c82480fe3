package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type stats struct {
	reg *prometheus.Registry

	frames      *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	executions  *prometheus.CounterVec
	keys        *prometheus.CounterVec
	deletions   prometheus.Counter
	desyncs     prometheus.Counter
	evictions   prometheus.Counter
	openPhases  prometheus.Gauge
	ledgerItems prometheus.Gauge
}

func newStats() *stats {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return &stats{
		reg: reg,

		frames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rsa_frames_received",
			Help: "Frames received by kind",
		}, []string{"kind"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rsa_frames_dropped",
			Help: "Frames whose handling failed, by kind",
		}, []string{"kind"}),
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rsa_executions",
			Help: "Signing executions by outcome",
		}, []string{"outcome"}),
		keys: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rsa_group_keys",
			Help: "Group key generations and recoveries by outcome",
		}, []string{"pipeline", "outcome"}),
		deletions: f.NewCounter(prometheus.CounterOpts{
			Name: "rsa_shard_deletions",
			Help: "Shard backends cleared on request",
		}),
		desyncs: f.NewCounter(prometheus.CounterOpts{
			Name: "rsa_protocol_desyncs",
			Help: "Duplicate sum contributions rejected",
		}),
		evictions: f.NewCounter(prometheus.CounterOpts{
			Name: "rsa_phases_evicted",
			Help: "Half-filled exchanges dropped after the idle timeout",
		}),
		openPhases: f.NewGauge(prometheus.GaugeOpts{
			Name: "rsa_open_phases",
			Help: "Exchanges waiting for their second sum",
		}),
		ledgerItems: f.NewGauge(prometheus.GaugeOpts{
			Name: "rsa_ledger_entries",
			Help: "Entries on the ledger",
		}),
	}
}
