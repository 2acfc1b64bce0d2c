package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	// import
	MoviesImported prometheus.Counter
	ImportErrors   prometheus.Counter
	EventsImported prometheus.Counter
	ImportLatency  prometheus.Histogram

	// ratings stream
	RatingsApplied prometheus.Counter
	RatingsSkipped prometheus.Counter
	RatingsFailed  prometheus.Counter
	TxProduced     prometheus.Counter
	TxAborted      prometheus.Counter

	// recovery
	ReplayApplied      prometheus.Counter
	ReplaySkipped      prometheus.Counter
	TTRSec             prometheus.Gauge
	Lag                prometheus.Gauge
	LastManifestAgeSec prometheus.Gauge
	ChangelogAppended  prometheus.Counter
	SnapshotRecords    prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	out := &Registry{
		reg:            r,
		MoviesImported: prometheus.NewCounter(prometheus.CounterOpts{Name: "movierec_import_movies_total"}),
		ImportErrors:   prometheus.NewCounter(prometheus.CounterOpts{Name: "movierec_import_errors_total"}),
		EventsImported: prometheus.NewCounter(prometheus.CounterOpts{Name: "movierec_import_rating_events_total"}),
		ImportLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "movierec_import_movie_seconds",
			Buckets: prometheus.DefBuckets,
		}),
		RatingsApplied:     prometheus.NewCounter(prometheus.CounterOpts{Name: "movierec_ratings_applied_total"}),
		RatingsSkipped:     prometheus.NewCounter(prometheus.CounterOpts{Name: "movierec_ratings_skipped_total"}),
		RatingsFailed:      prometheus.NewCounter(prometheus.CounterOpts{Name: "movierec_ratings_failed_total"}),
		TxProduced:         prometheus.NewCounter(prometheus.CounterOpts{Name: "movierec_tx_produced_total"}),
		TxAborted:          prometheus.NewCounter(prometheus.CounterOpts{Name: "movierec_tx_aborted_total"}),
		ReplayApplied:      prometheus.NewCounter(prometheus.CounterOpts{Name: "movierec_replay_applied_total"}),
		ReplaySkipped:      prometheus.NewCounter(prometheus.CounterOpts{Name: "movierec_replay_skipped_total"}),
		TTRSec:             prometheus.NewGauge(prometheus.GaugeOpts{Name: "movierec_recovery_ttr_seconds"}),
		Lag:                prometheus.NewGauge(prometheus.GaugeOpts{Name: "movierec_changelog_lag"}),
		LastManifestAgeSec: prometheus.NewGauge(prometheus.GaugeOpts{Name: "movierec_last_manifest_age_seconds"}),
		ChangelogAppended:  prometheus.NewCounter(prometheus.CounterOpts{Name: "movierec_changelog_appended_total"}),
		SnapshotRecords:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "movierec_snapshot_records"}),
	}
	r.MustRegister(
		out.MoviesImported, out.ImportErrors, out.EventsImported, out.ImportLatency,
		out.RatingsApplied, out.RatingsSkipped, out.RatingsFailed, out.TxProduced, out.TxAborted,
		out.ReplayApplied, out.ReplaySkipped, out.TTRSec, out.Lag, out.LastManifestAgeSec,
		out.ChangelogAppended, out.SnapshotRecords,
	)
	return out
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

// Serve exposes /metrics and /healthz on addr. It blocks like http.ListenAndServe.
func (r *Registry) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return http.ListenAndServe(addr, mux)
}
