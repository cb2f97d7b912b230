package transe

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"

	"github.com/cnclabs/transe/pkg/knowledge"
)

const (
	// HitsAtK is the cut-off used for the Hits@K metric
	HitsAtK = 10
	// DefaultEvalCap bounds how many triplets of a split are ranked
	DefaultEvalCap = 10000
)

var (
	ErrInvalidOption   = errors.New("invalid model option")
	ErrShapeMismatch   = knowledge.ErrShapeMismatch
	ErrCheckpointShape = errors.New("checkpoint does not match model shape")
)

// Options configures a TransE model
type Options struct {
	NumEntities  int64
	NumRelations int64
	Dim          int
	Margin       float64
	DistanceNorm float64 // order p of the L-p distance
	EvalCap      int     // 0 means DefaultEvalCap
	// CheckpointPath, when set, replaces the random initialisation
	CheckpointPath string
}

// TransE implements the TransE (Translating Embeddings) algorithm
// TransE models relations as translations in the embedding space: h + r ≈ t
// where h is head entity, r is relation, t is tail entity
type TransE struct {
	numEntities  int64
	numRelations int64
	dim          int

	// Row-major embedding tables, rows × dim
	entityEmbeddings   []float64
	relationEmbeddings []float64

	margin       float64
	distanceNorm float64
	evalCap      int

	rng *rand.Rand
}

// Metrics holds link-prediction results for one split
type Metrics struct {
	MeanRank float64
	HitsAt10 float64
	Count    int
}

// New creates a TransE model with uniformly initialised tables, or with
// tables loaded from opts.CheckpointPath when it is set.
func New(opts Options, rng *rand.Rand) (*TransE, error) {
	if opts.NumEntities <= 0 || opts.NumRelations <= 0 {
		return nil, fmt.Errorf("%w: entities=%d relations=%d", ErrInvalidOption, opts.NumEntities, opts.NumRelations)
	}
	if opts.Dim <= 0 {
		return nil, fmt.Errorf("%w: embedding dim must be positive, got %d", ErrInvalidOption, opts.Dim)
	}
	if opts.DistanceNorm <= 0 {
		return nil, fmt.Errorf("%w: distance norm must be positive, got %g", ErrInvalidOption, opts.DistanceNorm)
	}
	if opts.Margin < 0 {
		return nil, fmt.Errorf("%w: margin must be non-negative, got %g", ErrInvalidOption, opts.Margin)
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: nil random source", ErrInvalidOption)
	}

	te := &TransE{
		numEntities:  opts.NumEntities,
		numRelations: opts.NumRelations,
		dim:          opts.Dim,
		margin:       opts.Margin,
		distanceNorm: opts.DistanceNorm,
		evalCap:      opts.EvalCap,
		rng:          rng,
	}
	if te.evalCap <= 0 {
		te.evalCap = DefaultEvalCap
	}

	te.entityEmbeddings = te.initEmbeddings(opts.NumEntities)
	te.relationEmbeddings = te.initEmbeddings(opts.NumRelations)

	if opts.CheckpointPath != "" {
		if err := te.LoadCheckpoint(opts.CheckpointPath); err != nil {
			return nil, err
		}
	}
	return te, nil
}

// initEmbeddings draws every component uniformly from [-6/sqrt(d), 6/sqrt(d)]
func (te *TransE) initEmbeddings(rows int64) []float64 {
	bound := 6 / math.Sqrt(float64(te.dim))
	table := make([]float64, rows*int64(te.dim))
	for i := range table {
		table[i] = (te.rng.Float64()*2 - 1) * bound
	}
	return table
}

// EntitiesSize returns the number of entity rows
func (te *TransE) EntitiesSize() int64 { return te.numEntities }

// RelationsSize returns the number of relation rows
func (te *TransE) RelationsSize() int64 { return te.numRelations }

// Dim returns the embedding dimension
func (te *TransE) Dim() int { return te.dim }

func (te *TransE) entity(id int64) []float64 {
	return te.entityEmbeddings[id*int64(te.dim) : (id+1)*int64(te.dim)]
}

func (te *TransE) relation(id int64) []float64 {
	return te.relationEmbeddings[id*int64(te.dim) : (id+1)*int64(te.dim)]
}

func (te *TransE) checkTriplet(t knowledge.Triplet) error {
	if t.Head < 0 || t.Head >= te.numEntities || t.Tail < 0 || t.Tail >= te.numEntities ||
		t.Relation < 0 || t.Relation >= te.numRelations {
		return fmt.Errorf("%w: triplet (%d, %d, %d) outside %d entities / %d relations",
			knowledge.ErrIDOutOfRange, t.Head, t.Relation, t.Tail, te.numEntities, te.numRelations)
	}
	return nil
}

// norm computes ||x||_p
func (te *TransE) norm(x []float64) float64 {
	switch te.distanceNorm {
	case 1:
		sum := 0.0
		for _, v := range x {
			sum += math.Abs(v)
		}
		return sum
	case 2:
		sum := 0.0
		for _, v := range x {
			sum += v * v
		}
		return math.Sqrt(sum)
	default:
		sum := 0.0
		for _, v := range x {
			sum += math.Pow(math.Abs(v), te.distanceNorm)
		}
		return math.Pow(sum, 1/te.distanceNorm)
	}
}

// offset writes h + r - t into dst
func (te *TransE) offset(dst []float64, t knowledge.Triplet) {
	h, r, tl := te.entity(t.Head), te.relation(t.Relation), te.entity(t.Tail)
	for d := 0; d < te.dim; d++ {
		dst[d] = h[d] + r[d] - tl[d]
	}
}

// Score computes ||h + r - t||_p for every triplet of the batch.
// Lower score = more plausible fact.
func (te *TransE) Score(batch []knowledge.Triplet) ([]float64, error) {
	distances := make([]float64, len(batch))
	diff := make([]float64, te.dim)
	for i, t := range batch {
		if err := te.checkTriplet(t); err != nil {
			return nil, err
		}
		te.offset(diff, t)
		distances[i] = te.norm(diff)
	}
	return distances, nil
}

// Corrupt builds one negative per triplet: a fair coin decides whether the
// head or the tail is replaced by a uniformly drawn entity. Corrupted
// triplets are not checked against known facts.
func (te *TransE) Corrupt(batch []knowledge.Triplet) []knowledge.Triplet {
	corrupted := make([]knowledge.Triplet, len(batch))
	for i, t := range batch {
		replaceHead := te.rng.Float64() < 0.5
		entity := te.rng.Int63n(te.numEntities)
		corrupted[i] = t
		if replaceHead {
			corrupted[i].Head = entity
		} else {
			corrupted[i].Tail = entity
		}
	}
	return corrupted
}

// Loss computes the summed margin-ranking loss
// sum(max(0, margin + pos - neg)).
func (te *TransE) Loss(pos, neg []float64) (float64, error) {
	if len(pos) != len(neg) {
		return 0, fmt.Errorf("%w: %d positive vs %d negative distances", ErrShapeMismatch, len(pos), len(neg))
	}
	loss := 0.0
	for i := range pos {
		loss += math.Max(0, te.margin+pos[i]-neg[i])
	}
	return loss, nil
}

// Forward corrupts the batch and returns the loss without touching any
// gradient state.
func (te *TransE) Forward(batch []knowledge.Triplet) (float64, error) {
	pos, err := te.Score(batch)
	if err != nil {
		return 0, err
	}
	neg, err := te.Score(te.Corrupt(batch))
	if err != nil {
		return 0, err
	}
	return te.Loss(pos, neg)
}

// Backward behaves like Forward and also accumulates the subgradient of
// the loss with respect to both tables into grads.
func (te *TransE) Backward(batch []knowledge.Triplet, grads *Gradients) (float64, error) {
	if grads.dim != te.dim {
		return 0, fmt.Errorf("%w: gradient dim %d, model dim %d", ErrShapeMismatch, grads.dim, te.dim)
	}

	pos, err := te.Score(batch)
	if err != nil {
		return 0, err
	}
	corrupted := te.Corrupt(batch)
	neg, err := te.Score(corrupted)
	if err != nil {
		return 0, err
	}
	loss, err := te.Loss(pos, neg)
	if err != nil {
		return 0, err
	}

	diff := make([]float64, te.dim)
	grad := make([]float64, te.dim)
	for i := range batch {
		if te.margin+pos[i]-neg[i] <= 0 {
			continue
		}

		// positive triplet pulls with +1
		te.offset(diff, batch[i])
		te.normGrad(grad, diff, pos[i])
		grads.addTriplet(batch[i], grad, 1)

		// corrupted triplet pushes with -1
		te.offset(diff, corrupted[i])
		te.normGrad(grad, diff, neg[i])
		grads.addTriplet(corrupted[i], grad, -1)
	}
	return loss, nil
}

// normGrad writes d||x||_p/dx into dst given n = ||x||_p. The gradient is
// zero at x = 0.
func (te *TransE) normGrad(dst, x []float64, n float64) {
	if n == 0 {
		clear(dst)
		return
	}
	switch te.distanceNorm {
	case 1:
		for d, v := range x {
			switch {
			case v > 0:
				dst[d] = 1
			case v < 0:
				dst[d] = -1
			default:
				dst[d] = 0
			}
		}
	case 2:
		for d, v := range x {
			dst[d] = v / n
		}
	default:
		scale := math.Pow(n, te.distanceNorm-1)
		for d, v := range x {
			g := math.Pow(math.Abs(v), te.distanceNorm-1) / scale
			if v < 0 {
				g = -g
			}
			dst[d] = g
		}
	}
}

// NormalizeEntities rescales every entity row to unit L2 norm in place.
// A row of all zeros has no direction and ends up as NaN.
func (te *TransE) NormalizeEntities() {
	for i := int64(0); i < te.numEntities; i++ {
		row := te.entity(i)
		norm := 0.0
		for _, v := range row {
			norm += v * v
		}
		norm = math.Sqrt(norm)
		for d := range row {
			row[d] /= norm
		}
	}
}

// Evaluate ranks the true tail of up to the first evalCap triplets of ds
// against every entity and returns the raw mean rank and Hits@10.
func (te *TransE) Evaluate(ds *knowledge.Dataset) (Metrics, error) {
	ranks, err := te.Ranks(ds)
	if err != nil {
		return Metrics{}, err
	}
	return MetricsFromRanks(ranks), nil
}

// MetricsFromRanks summarises 0-based ranks. An empty slice gives NaN means.
func MetricsFromRanks(ranks []int) Metrics {
	rankSum, hits := 0.0, 0.0
	for _, rank := range ranks {
		rankSum += float64(rank)
		if rank < HitsAtK {
			hits++
		}
	}

	n := float64(len(ranks))
	return Metrics{
		MeanRank: rankSum / n,
		HitsAt10: hits / n,
		Count:    len(ranks),
	}
}

// Ranks returns the 0-based rank of the true tail for each of the first
// evalCap triplets of ds, in dataset order. Candidates are every entity of
// ds sorted by distance to h + r; equal distances keep ascending entity id.
func (te *TransE) Ranks(ds *knowledge.Dataset) ([]int, error) {
	if ds.EntitiesSize() > te.numEntities {
		return nil, fmt.Errorf("%w: dataset has %d entities, model has %d",
			ErrShapeMismatch, ds.EntitiesSize(), te.numEntities)
	}

	triplets := ds.Head(te.evalCap)
	numCandidates := ds.EntitiesSize()

	distances := make([]float64, numCandidates)
	order := make([]int64, numCandidates)
	hr := make([]float64, te.dim)
	diff := make([]float64, te.dim)

	ranks := make([]int, 0, len(triplets))
	for _, t := range triplets {
		if err := te.checkTriplet(t); err != nil {
			return nil, err
		}

		h, r := te.entity(t.Head), te.relation(t.Relation)
		for d := 0; d < te.dim; d++ {
			hr[d] = h[d] + r[d]
		}
		for c := int64(0); c < numCandidates; c++ {
			cand := te.entity(c)
			for d := 0; d < te.dim; d++ {
				diff[d] = hr[d] - cand[d]
			}
			distances[c] = te.norm(diff)
			order[c] = c
		}

		slices.SortStableFunc(order, func(a, b int64) int {
			switch {
			case distances[a] < distances[b]:
				return -1
			case distances[a] > distances[b]:
				return 1
			}
			return 0
		})

		ranks = append(ranks, slices.Index(order, t.Tail))
	}
	return ranks, nil
}

// Predict returns the score of a single triplet
// Lower score = more likely to be true
func (te *TransE) Predict(head, relation, tail int64) (float64, error) {
	scores, err := te.Score([]knowledge.Triplet{{Head: head, Relation: relation, Tail: tail}})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}
