package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LogEntriesTotal counts log entries by level
	LogEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transe_log_entries_total",
			Help: "Total number of log entries by level",
		},
		[]string{"level"},
	)

	// EpochsTotal counts completed training epochs
	EpochsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transe_epochs_total",
			Help: "Total number of completed training epochs",
		},
	)

	// EpochLoss is the summed margin loss of the last evaluated epoch
	EpochLoss = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transe_epoch_loss",
			Help: "Summed margin-ranking loss of the last evaluated epoch",
		},
		[]string{"split"},
	)

	// MeanRank is the raw mean rank of the last evaluation
	MeanRank = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transe_mean_rank",
			Help: "Raw mean rank of the true tail in the last evaluation",
		},
		[]string{"split"},
	)

	// HitsAt10 is the Hits@10 of the last evaluation
	HitsAt10 = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transe_hits_at_10",
			Help: "Fraction of evaluated triplets whose true tail ranks in the top 10",
		},
		[]string{"split"},
	)

	// EvaluationDurationSeconds measures a full ranking pass over a split
	EvaluationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transe_evaluation_duration_seconds",
			Help:    "Time taken to rank one split",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"split"},
	)

	// CheckpointsSavedTotal counts best-checkpoint writes
	CheckpointsSavedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transe_checkpoints_saved_total",
			Help: "Total number of best checkpoints written",
		},
	)
)

// Handler returns the HTTP handler exposing the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
