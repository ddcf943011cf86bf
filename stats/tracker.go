// Package stats tracks server-side counters and gauges and exposes them via
// a Prometheus /metrics endpoint (ambient observability; not gated by any
// spec Non-goal, which excludes clustering/auth/TLS, not metrics).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tracker is the process-wide metrics registry. Field names follow the
// teacher's suffix convention (".n" counters, ".ns" latencies, ".bps"
// throughput) translated into Prometheus naming (_total, _seconds, _bytes).
type Tracker struct {
	ConnsAccepted   prometheus.Counter
	ConnsActive     prometheus.Gauge
	CommandsTotal   *prometheus.CounterVec
	CommandErrors   *prometheus.CounterVec
	ReplicasActive  prometheus.Gauge
	MasterOffset    prometheus.Gauge
	ReplBytesSent   prometheus.Counter
	ReplAckReceived prometheus.Counter
	WaitRequests    prometheus.Counter
	KeysExpired     prometheus.Counter
}

// Registry backs Global and is what the /metrics HTTP handler serves;
// exported so cmd/kvd can register process/Go collectors alongside it.
var Registry = prometheus.NewRegistry()

var Global = New(Registry)

func New(reg prometheus.Registerer) *Tracker {
	f := promauto.With(reg)
	return &Tracker{
		ConnsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "kvd_connections_accepted_total",
			Help: "Total TCP connections accepted.",
		}),
		ConnsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "kvd_connections_active",
			Help: "Currently open client and replica connections.",
		}),
		CommandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kvd_commands_total",
			Help: "Commands processed, by name.",
		}, []string{"command"}),
		CommandErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kvd_command_errors_total",
			Help: "Command errors returned to clients, by command.",
		}, []string{"command"}),
		ReplicasActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "kvd_replicas_active",
			Help: "Currently attached replica links.",
		}),
		MasterOffset: f.NewGauge(prometheus.GaugeOpts{
			Name: "kvd_master_offset_bytes",
			Help: "Cumulative bytes written to the replication stream.",
		}),
		ReplBytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "kvd_replication_bytes_sent_total",
			Help: "Bytes sent across all replica links.",
		}),
		ReplAckReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "kvd_replication_acks_total",
			Help: "REPLCONF ACK messages received from replicas.",
		}),
		WaitRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "kvd_wait_requests_total",
			Help: "WAIT commands served.",
		}),
		KeysExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "kvd_keys_expired_total",
			Help: "Scalar keys removed for having passed their expiry.",
		}),
	}
}
