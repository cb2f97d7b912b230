package main

import (
	"cmp"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/cnclabs/transe/internal/config"
	"github.com/cnclabs/transe/internal/logging"
	"github.com/cnclabs/transe/internal/models/transe"
	"github.com/cnclabs/transe/internal/trainer"
	"github.com/cnclabs/transe/pkg/knowledge"
)

func main() {
	configPath := flag.String("config-path", "", "YAML file with seed, data and checkpoint settings")
	checkpointPath := flag.String("checkpoint-path", "", "Checkpoint to evaluate (default <checkpoints_dir>/best_checkpoint.parquet)")
	embeddingDim := flag.Int("embedding-dim", 0, "Dimension the checkpoint was trained with (required)")
	margin := flag.Float64("margin", 0, "Margin for ranking loss (required)")
	distanceNorm := flag.Float64("distance-norm", 0, "Order p of the L-p distance (required)")
	evalCap := flag.Int("eval-cap", transe.DefaultEvalCap, "Maximum test triplets ranked")
	showWorst := flag.Int("show-worst", 5, "Log the N test triplets whose true tail ranked lowest")

	flag.Usage = func() {
		fmt.Println("[TransE]")
		fmt.Println("\tRank the test split against a trained checkpoint")
		fmt.Println()
		fmt.Println("Options Description:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("./evaluate -config-path config.yaml -checkpoint-path checkpoints/best_checkpoint.parquet \\")
		fmt.Println("           -embedding-dim 50 -distance-norm 1")
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

	logCfg := logging.DefaultConfig()
	logCfg.Format = cfg.LogFormat
	logCfg.Level = cfg.LogLevel
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	path := *checkpointPath
	if path == "" {
		path = filepath.Join(cfg.CheckpointsDir, trainer.BestCheckpointName+transe.CheckpointExt)
	}

	startTime := time.Now()
	graph, err := knowledge.LoadDir(cfg.Data)
	if err != nil {
		logger.Error("failed to load knowledge graph", zap.String("data", cfg.Data), zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	test, err := knowledge.NewDataset(graph, graph.TestMask)
	if err != nil {
		logger.Error("failed to build test split", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	model, err := transe.New(transe.Options{
		NumEntities:    test.EntitiesSize(),
		NumRelations:   test.RelationsSize(),
		Dim:            *embeddingDim,
		Margin:         *margin,
		DistanceNorm:   *distanceNorm,
		EvalCap:        *evalCap,
		CheckpointPath: path,
	}, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		logger.Error("failed to load checkpoint", zap.String("checkpoint", path), zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	ranks, err := model.Ranks(test)
	if err != nil {
		logger.Error("evaluation failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	m := transe.MetricsFromRanks(ranks)

	for _, i := range worstRanked(ranks, *showWorst) {
		t := test.Get(i)
		logger.Info("worst ranked",
			zap.Int("rank", ranks[i]),
			zap.String("head", graph.EntityName(t.Head)),
			zap.String("relation", graph.RelationName(t.Relation)),
			zap.String("tail", graph.EntityName(t.Tail)),
		)
	}

	logger.Info("test results",
		zap.Int("embedding_dim", model.Dim()),
		zap.String("checkpoint", path),
		zap.Int("triplets", m.Count),
		zap.Float64("mean_rank", m.MeanRank),
		zap.Float64("hits@10", m.HitsAt10),
		zap.Duration("elapsed", time.Since(startTime)),
	)
}

// worstRanked returns the indices of the n largest ranks, worst first.
// Equal ranks keep dataset order.
func worstRanked(ranks []int, n int) []int {
	idx := make([]int, len(ranks))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return cmp.Compare(ranks[b], ranks[a])
	})
	if n < 0 {
		n = 0
	}
	if n > len(idx) {
		n = len(idx)
	}
	return idx[:n]
}
