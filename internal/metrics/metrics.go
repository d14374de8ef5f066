// Package metrics exposes distributor state as Prometheus metrics. Clusters
// without a scrape path can point node_exporter's textfile collector at the
// file written by WriteTextfile.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "slotfeed"

// Submission results.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Metrics holds a private registry and every collector the distributor
// updates.
type Metrics struct {
	Registry *prometheus.Registry

	LedgerItems       prometheus.Gauge
	SlotsActive       prometheus.Gauge
	SlotsAvailable    prometheus.Gauge
	SlotsHungry       prometheus.Gauge
	SlotsBound        prometheus.Gauge
	ItemsReclaimed    prometheus.Counter
	ItemsAssigned     prometheus.Counter
	Submissions       *prometheus.CounterVec
	QueryFailures     prometheus.Counter
	Cycles            prometheus.Counter
	LastCycleUnixSecs prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	m := &Metrics{
		Registry:          prometheus.NewRegistry(),
		LedgerItems:       gauge("ledger_items", "Work items not yet assigned to any slot."),
		SlotsActive:       gauge("slots_active", "Slots whose job is running or pending."),
		SlotsAvailable:    gauge("slots_available", "Slots with no live job."),
		SlotsHungry:       gauge("slots_hungry", "Active or fresh slots whose queues are empty."),
		SlotsBound:        gauge("slots_bound", "Slots with a recorded job binding."),
		ItemsReclaimed:    counter("items_reclaimed_total", "Items returned to the ledger from dead slots."),
		ItemsAssigned:     counter("items_assigned_total", "Items written to slot queues."),
		QueryFailures:     counter("scheduler_query_failures_total", "Status queries that could not be answered."),
		Cycles:            counter("cycles_total", "Control loop cycles run."),
		LastCycleUnixSecs: gauge("last_cycle_timestamp_seconds", "Unix time of the last finished cycle."),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Job submissions by result.",
		}, []string{"result"}),
	}
	m.Registry.MustRegister(
		m.LedgerItems, m.SlotsActive, m.SlotsAvailable, m.SlotsHungry, m.SlotsBound,
		m.ItemsReclaimed, m.ItemsAssigned, m.Submissions, m.QueryFailures, m.Cycles,
		m.LastCycleUnixSecs,
	)
	return m
}

// WriteTextfile atomically writes the registry in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics: serve %s: %w", addr, err)
	}
}
