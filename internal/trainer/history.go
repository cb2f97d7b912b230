package trainer

import (
	"github.com/cnclabs/transe/internal/metrics"
)

// History keeps the per-evaluation series in the order they were produced
type History struct {
	Epochs        []int
	TrainLoss     []float64
	ValLoss       []float64
	TrainMeanRank []float64
	ValMeanRank   []float64
	TrainHitsAt10 []float64
	ValHitsAt10   []float64
}

// Len returns the number of recorded evaluations
func (h *History) Len() int {
	return len(h.Epochs)
}

func (h *History) append(rec EpochRecord) {
	h.Epochs = append(h.Epochs, rec.Epoch)
	h.TrainLoss = append(h.TrainLoss, rec.TrainLoss)
	h.ValLoss = append(h.ValLoss, rec.ValLoss)
	h.TrainMeanRank = append(h.TrainMeanRank, rec.Train.MeanRank)
	h.ValMeanRank = append(h.ValMeanRank, rec.Val.MeanRank)
	h.TrainHitsAt10 = append(h.TrainHitsAt10, rec.Train.HitsAt10)
	h.ValHitsAt10 = append(h.ValHitsAt10, rec.Val.HitsAt10)
}

// improves reports whether meanRank is strictly below every recorded
// validation mean rank. An empty history is always improved on.
func (h *History) improves(meanRank float64) bool {
	for _, prev := range h.ValMeanRank {
		if !(meanRank < prev) {
			return false
		}
	}
	return true
}

// PrometheusReporter mirrors every evaluated epoch into gauges
type PrometheusReporter struct{}

func (PrometheusReporter) Report(rec EpochRecord) {
	metrics.EpochLoss.WithLabelValues("train").Set(rec.TrainLoss)
	metrics.EpochLoss.WithLabelValues("val").Set(rec.ValLoss)
	metrics.MeanRank.WithLabelValues("train").Set(rec.Train.MeanRank)
	metrics.MeanRank.WithLabelValues("val").Set(rec.Val.MeanRank)
	metrics.HitsAt10.WithLabelValues("train").Set(rec.Train.HitsAt10)
	metrics.HitsAt10.WithLabelValues("val").Set(rec.Val.HitsAt10)
}
