package main

import (
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cnclabs/transe/internal/config"
	"github.com/cnclabs/transe/internal/logging"
	"github.com/cnclabs/transe/internal/metrics"
	"github.com/cnclabs/transe/internal/models/transe"
	"github.com/cnclabs/transe/internal/trainer"
	"github.com/cnclabs/transe/pkg/knowledge"
)

func main() {
	// Define command-line flags
	configPath := flag.String("config-path", "", "YAML file with seed, data and checkpoint settings")
	embeddingDim := flag.Int("embedding-dim", 0, "Dimension of entity and relation embeddings (required)")
	margin := flag.Float64("margin", 0, "Margin for ranking loss (required)")
	distanceNorm := flag.Float64("distance-norm", 0, "Order p of the L-p distance (required)")
	learningRate := flag.Float64("learning-rate", 0.01, "SGD learning rate")
	batchSize := flag.Int("batch-size", 128, "Batch size for training")
	epochs := flag.Int("epochs", 1000, "Number of training epochs")
	evalEvery := flag.Int("eval-every", trainer.DefaultEvalEvery, "Evaluate every N epochs (0 disables)")
	evalCap := flag.Int("eval-cap", transe.DefaultEvalCap, "Maximum triplets ranked per split")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (overrides config)")

	flag.Usage = func() {
		fmt.Println("[TransE]")
		fmt.Println("\tTranslating Embeddings for knowledge graph link prediction")
		fmt.Println()
		fmt.Println("Data layout:")
		fmt.Println("\t<data>/raw/{train,valid,test}.txt, one \"head relation tail\" per line")
		fmt.Println("\t<data>/processed/ is written on first load and reused afterwards")
		fmt.Println()
		fmt.Println("Options Description:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("./train -config-path config.yaml -embedding-dim 50 -margin 1.0 -distance-norm 1 \\")
		fmt.Println("        -learning-rate 0.01 -batch-size 128 -epochs 1000")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("\tTRANSE_SEED, TRANSE_DATA, TRANSE_CHECKPOINTS_DIR, TRANSE_LOG_FORMAT,")
		fmt.Println("\tTRANSE_LOG_LEVEL, TRANSE_METRICS_ADDR override the config file")
	}

	flag.Parse()

	// Check required parameters
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	for _, name := range []string{"embedding-dim", "margin", "distance-norm"} {
		if !set[name] {
			fmt.Printf("Error: -%s is required\n\n", name)
			flag.Usage()
			os.Exit(1)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	logCfg := logging.DefaultConfig()
	logCfg.Format = cfg.LogFormat
	logCfg.Level = cfg.LogLevel
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger, trainFlags{
		dim:          *embeddingDim,
		margin:       *margin,
		distanceNorm: *distanceNorm,
		learningRate: *learningRate,
		batchSize:    *batchSize,
		epochs:       *epochs,
		evalEvery:    *evalEvery,
		evalCap:      *evalCap,
	}); err != nil {
		logger.Error("training failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

type trainFlags struct {
	dim          int
	margin       float64
	distanceNorm float64
	learningRate float64
	batchSize    int
	epochs       int
	evalEvery    int
	evalCap      int
}

func run(cfg config.Config, logger *zap.Logger, f trainFlags) error {
	startTime := time.Now()
	rng := rand.New(rand.NewSource(cfg.Seed))

	if cfg.MetricsAddr != "" {
		go func() {
			logger.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
			if err := http.ListenAndServe(cfg.MetricsAddr, metrics.Handler()); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	logger.Info("loading knowledge graph", zap.String("data", cfg.Data))
	graph, err := knowledge.LoadDir(cfg.Data)
	if err != nil {
		return err
	}
	train, err := knowledge.NewDataset(graph, graph.TrainMask)
	if err != nil {
		return err
	}
	val, err := knowledge.NewDataset(graph, graph.ValMask)
	if err != nil {
		return err
	}
	loadTime := time.Since(startTime)
	logger.Info("knowledge graph loaded",
		zap.Int64("entities", train.EntitiesSize()),
		zap.Int64("relations", train.RelationsSize()),
		zap.Int("train_triplets", train.Len()),
		zap.Int("val_triplets", val.Len()),
		zap.Duration("elapsed", loadTime),
	)

	model, err := transe.New(transe.Options{
		NumEntities:  train.EntitiesSize(),
		NumRelations: train.RelationsSize(),
		Dim:          f.dim,
		Margin:       f.margin,
		DistanceNorm: f.distanceNorm,
		EvalCap:      f.evalCap,
	}, rng)
	if err != nil {
		return err
	}

	logger.Info("model initialised",
		zap.Int("embedding_dim", model.Dim()),
		zap.Float64("margin", f.margin),
		zap.Float64("distance_norm", f.distanceNorm),
	)

	tr, err := trainer.New(model, trainer.Options{
		Epochs:         f.epochs,
		BatchSize:      f.batchSize,
		LearningRate:   f.learningRate,
		EvalEvery:      f.evalEvery,
		CheckpointsDir: cfg.CheckpointsDir,
	}, logger, trainer.PrometheusReporter{})
	if err != nil {
		return err
	}

	trainStartTime := time.Now()
	history, err := tr.Run(train, val)
	if err != nil {
		return err
	}
	trainTime := time.Since(trainStartTime)

	logger.Info("history",
		zap.Ints("epochs", history.Epochs),
		zap.Float64s("train_loss", history.TrainLoss),
		zap.Float64s("val_loss", history.ValLoss),
		zap.Float64s("train_mean_rank", history.TrainMeanRank),
		zap.Float64s("val_mean_rank", history.ValMeanRank),
		zap.Float64s("train_hits@10", history.TrainHitsAt10),
		zap.Float64s("val_hits@10", history.ValHitsAt10),
	)
	logger.Info("timing summary",
		zap.Duration("loading", loadTime),
		zap.Duration("training", trainTime),
		zap.Duration("total", time.Since(startTime)),
	)
	return nil
}
