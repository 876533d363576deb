package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency. Shared across both binaries.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "nexus",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// TenantTransitionsTotal is the counter for Tenant.status / TenantRuntime.actual_state
// transitions. It is registered, but no code path in this module increments it.
var TenantTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "tenant",
		Name:      "state_transitions_total",
		Help:      "Total number of tenant runtime state transitions by target state.",
	},
	[]string{"state"},
)

// EventBusReconnectsTotal is the counter for pub/sub supervisor reconnect
// attempts. It is registered, but no code path in this module increments it.
var EventBusReconnectsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "eventbus",
		Name:      "reconnects_total",
		Help:      "Total number of event bus pub/sub reconnect attempts.",
	},
)

// BridgeMonitorReconnectsTotal is the counter for bridge monitor reconnect attempts
// across all tenants. It is registered, but no code path in this module increments it.
var BridgeMonitorReconnectsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "bridgemonitor",
		Name:      "reconnects_total",
		Help:      "Total number of bridge monitor WebSocket reconnect attempts across all tenants.",
	},
)

// RunnerComposeInvocationsTotal is the counter for docker compose subcommand invocations
// by verb. It is registered, but no code path in this module increments it.
var RunnerComposeInvocationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "runner",
		Name:      "compose_invocations_total",
		Help:      "Total number of docker compose invocations by subcommand.",
	},
	[]string{"subcommand"},
)

// All returns every Nexus-specific collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		TenantTransitionsTotal,
		EventBusReconnectsTotal,
		BridgeMonitorReconnectsTotal,
		RunnerComposeInvocationsTotal,
	}
}

// NewRegistry creates a Prometheus registry with Go/process collectors plus
// every Nexus collector.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}
