// Package metrics exposes prometheus metrics for package database transactions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder stores all the metrics related to transactions.
type Recorder struct {
	registry *prometheus.Registry

	transactions        *prometheus.CounterVec
	transactionDuration *prometheus.HistogramVec
	inFlight            prometheus.Gauge
	busyRejections      prometheus.Counter
	changes             *prometheus.CounterVec
	repoRefreshes       *prometheus.CounterVec
	packages            *prometheus.GaugeVec
}

type packageCountLabel string

var (
	installed packageCountLabel = "installed"
	available packageCountLabel = "available"
	world     packageCountLabel = "world"
)

// NewRecorder creates a recorder. With register set the metrics are added to
// the recorder's own registry, which Registry returns.
func NewRecorder(register bool) *Recorder {
	transactions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apkdb_transactions_total",
			Help: "Finished transactions, grouped by type and result",
		}, []string{"type", "result"})

	transactionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apkdb_transaction_duration_seconds",
			Help:    "Time from transaction start to finish",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"type"})

	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "apkdb_transaction_in_flight",
			Help: "1 while a transaction is running, 0 otherwise",
		})

	busyRejections := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "apkdb_transaction_busy_rejections_total",
			Help: "Transactions refused because another one was in flight",
		})

	changes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apkdb_package_changes_total",
			Help: "Committed package changes, grouped by 'install', 'remove', 'adjust' and 'failed'",
		}, []string{"kind"})

	repoRefreshes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apkdb_repository_refreshes_total",
			Help: "Repository index refreshes, grouped by status",
		}, []string{"status"})

	packages := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apkdb_packages",
			Help: "Number of packages, grouped by 'installed', 'available' and 'world'",
		}, []string{"count_by"})

	r := &Recorder{
		transactions:        transactions,
		transactionDuration: transactionDuration,
		inFlight:            inFlight,
		busyRejections:      busyRejections,
		changes:             changes,
		repoRefreshes:       repoRefreshes,
		packages:            packages,
	}

	// Tests skip registration and read the collectors directly.
	if register {
		r.registry = prometheus.NewRegistry()
		r.registry.MustRegister(
			transactions,
			transactionDuration,
			inFlight,
			busyRejections,
			changes,
			repoRefreshes,
			packages,
		)
	}
	return r
}

// Registry returns the registry holding the metrics, or nil if they were not
// registered.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes the registered metrics in the text exposition format,
// for the node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r.registry == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}

// TransactionStarted marks a transaction as running.
func (r *Recorder) TransactionStarted() {
	r.inFlight.Set(1)
}

// TransactionFinished records the outcome and duration of a transaction.
func (r *Recorder) TransactionFinished(txnType string, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	r.inFlight.Set(0)
	r.transactions.WithLabelValues(txnType, result).Inc()
	r.transactionDuration.WithLabelValues(txnType).Observe(d.Seconds())
}

// BusyRejected counts a transaction refused with ErrBusy.
func (r *Recorder) BusyRejected() {
	r.busyRejections.Inc()
}

// RecordChanges counts committed changes.
func (r *Recorder) RecordChanges(installs, removes, adjusts, failed int) {
	r.changes.WithLabelValues("install").Add(float64(installs))
	r.changes.WithLabelValues("remove").Add(float64(removes))
	r.changes.WithLabelValues("adjust").Add(float64(adjusts))
	r.changes.WithLabelValues("failed").Add(float64(failed))
}

// RecordRepositoryRefresh counts the refresh outcome of one repository.
func (r *Recorder) RecordRepositoryRefresh(status string) {
	r.repoRefreshes.WithLabelValues(status).Inc()
}

// SetPackageCounts sets the `apkdb_packages` gauges.
func (r *Recorder) SetPackageCounts(installedCount, availableCount, worldCount int) {
	r.packages.WithLabelValues(string(installed)).Set(float64(installedCount))
	r.packages.WithLabelValues(string(available)).Set(float64(availableCount))
	r.packages.WithLabelValues(string(world)).Set(float64(worldCount))
}
