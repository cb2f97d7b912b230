// Package trainer drives TransE optimisation: epochs over sequential
// mini-batches, periodic link-prediction evaluation and best-checkpoint
// tracking.
package trainer

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cnclabs/transe/internal/metrics"
	"github.com/cnclabs/transe/internal/models/transe"
	"github.com/cnclabs/transe/pkg/knowledge"
)

const (
	// DefaultEvalEvery is the evaluation cadence in epochs
	DefaultEvalEvery = 40
	// BestCheckpointName is the file stem of the retained best snapshot
	BestCheckpointName = "best_checkpoint"
)

var ErrInvalidOptions = errors.New("invalid training options")

// Options configures a training run
type Options struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	// EvalEvery evaluates on epochs where epoch%EvalEvery == 0 and epoch != 0.
	// Zero or negative disables evaluation.
	EvalEvery int
	// CheckpointsDir receives the best checkpoint; empty disables saving
	CheckpointsDir string
}

// EpochRecord holds the numbers produced by one evaluated epoch
type EpochRecord struct {
	Epoch      int
	TrainLoss  float64
	ValLoss    float64
	Train      transe.Metrics
	Val        transe.Metrics
	Checkpoint string // path written this epoch, empty if none
}

// Reporter receives every evaluated epoch in order
type Reporter interface {
	Report(rec EpochRecord)
}

// Trainer owns the optimisation state of one run
type Trainer struct {
	model     *transe.TransE
	optimizer *transe.SGD
	grads     *transe.Gradients
	opts      Options
	logger    *zap.Logger
	reporters []Reporter
}

// New creates a trainer for model
func New(model *transe.TransE, opts Options, logger *zap.Logger, reporters ...Reporter) (*Trainer, error) {
	if opts.Epochs < 0 {
		return nil, fmt.Errorf("%w: epochs must be non-negative, got %d", ErrInvalidOptions, opts.Epochs)
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidOptions, opts.BatchSize)
	}
	optimizer, err := transe.NewSGD(opts.LearningRate)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Trainer{
		model:     model,
		optimizer: optimizer,
		grads:     transe.NewGradients(model),
		opts:      opts,
		logger:    logger,
		reporters: reporters,
	}, nil
}

// Run trains for opts.Epochs epochs. val may be nil, in which case no
// evaluation or checkpointing happens.
func (tr *Trainer) Run(train, val *knowledge.Dataset) (*History, error) {
	batches, err := knowledge.NewLoader(train, tr.opts.BatchSize)
	if err != nil {
		return nil, err
	}
	tr.logger.Info("start training",
		zap.Int("epochs", tr.opts.Epochs),
		zap.Int("batch_size", tr.opts.BatchSize),
		zap.Float64("learning_rate", tr.opts.LearningRate),
		zap.Int("eval_every", tr.opts.EvalEvery),
		zap.Int("train_triplets", train.Len()),
		zap.Int("batches_per_epoch", batches.NumBatches()),
	)

	history := &History{}
	for epoch := 0; epoch < tr.opts.Epochs; epoch++ {
		trainLoss, err := tr.trainEpoch(train)
		if err != nil {
			return history, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		metrics.EpochsTotal.Inc()
		tr.logger.Debug("epoch complete", zap.Int("epoch", epoch), zap.Float64("train_loss", trainLoss))

		if val == nil || !tr.shouldEvaluate(epoch) {
			continue
		}

		rec, err := tr.evaluateEpoch(epoch, trainLoss, train, val)
		if err != nil {
			return history, fmt.Errorf("epoch %d: %w", epoch, err)
		}

		if history.improves(rec.Val.MeanRank) && tr.opts.CheckpointsDir != "" {
			path, err := tr.model.SaveCheckpoint(tr.opts.CheckpointsDir, BestCheckpointName)
			if err != nil {
				return history, fmt.Errorf("epoch %d: %w", epoch, err)
			}
			rec.Checkpoint = path
			metrics.CheckpointsSavedTotal.Inc()
		}

		history.append(rec)
		tr.logger.Info("evaluation",
			zap.Int("epoch", epoch),
			zap.Float64("train_loss", rec.TrainLoss),
			zap.Float64("val_loss", rec.ValLoss),
			zap.Float64("train_mean_rank", rec.Train.MeanRank),
			zap.Float64("val_mean_rank", rec.Val.MeanRank),
			zap.Float64("train_hits@10", rec.Train.HitsAt10),
			zap.Float64("val_hits@10", rec.Val.HitsAt10),
			zap.String("checkpoint", rec.Checkpoint),
		)
		for _, r := range tr.reporters {
			r.Report(rec)
		}
	}

	tr.logger.Info("training complete", zap.Int("evaluations", history.Len()))
	return history, nil
}

func (tr *Trainer) shouldEvaluate(epoch int) bool {
	return tr.opts.EvalEvery > 0 && epoch%tr.opts.EvalEvery == 0 && epoch != 0
}

// trainEpoch renormalises entities once, then takes one SGD step per batch
func (tr *Trainer) trainEpoch(ds *knowledge.Dataset) (float64, error) {
	tr.model.NormalizeEntities()

	loader, err := knowledge.NewLoader(ds, tr.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	total := 0.0
	for {
		heads, relations, tails, ok := loader.Next()
		if !ok {
			break
		}
		batch, err := knowledge.MakeTriplets(heads, relations, tails)
		if err != nil {
			return 0, err
		}

		tr.grads.Zero()
		loss, err := tr.model.Backward(batch, tr.grads)
		if err != nil {
			return 0, err
		}
		if err := tr.optimizer.Step(tr.model, tr.grads); err != nil {
			return 0, err
		}
		total += loss
	}
	return total, nil
}

// datasetLoss sums the forward loss over ds without updating the model
func (tr *Trainer) datasetLoss(ds *knowledge.Dataset) (float64, error) {
	loader, err := knowledge.NewLoader(ds, tr.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	total := 0.0
	for {
		heads, relations, tails, ok := loader.Next()
		if !ok {
			break
		}
		batch, err := knowledge.MakeTriplets(heads, relations, tails)
		if err != nil {
			return 0, err
		}
		loss, err := tr.model.Forward(batch)
		if err != nil {
			return 0, err
		}
		total += loss
	}
	return total, nil
}

func (tr *Trainer) evaluateEpoch(epoch int, trainLoss float64, train, val *knowledge.Dataset) (EpochRecord, error) {
	valLoss, err := tr.datasetLoss(val)
	if err != nil {
		return EpochRecord{}, err
	}
	trainMetrics, err := tr.evaluate("train", train)
	if err != nil {
		return EpochRecord{}, err
	}
	valMetrics, err := tr.evaluate("val", val)
	if err != nil {
		return EpochRecord{}, err
	}

	return EpochRecord{
		Epoch:     epoch,
		TrainLoss: trainLoss,
		ValLoss:   valLoss,
		Train:     trainMetrics,
		Val:       valMetrics,
	}, nil
}

func (tr *Trainer) evaluate(split string, ds *knowledge.Dataset) (transe.Metrics, error) {
	start := time.Now()
	m, err := tr.model.Evaluate(ds)
	if err != nil {
		return transe.Metrics{}, fmt.Errorf("evaluate %s: %w", split, err)
	}
	metrics.EvaluationDurationSeconds.WithLabelValues(split).Observe(time.Since(start).Seconds())
	return m, nil
}
