package transe

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnclabs/transe/pkg/knowledge"
)

func newTestModel(t *testing.T, entities, relations int64, dim int, p, margin float64, seed int64) *TransE {
	t.Helper()
	te, err := New(Options{
		NumEntities:  entities,
		NumRelations: relations,
		Dim:          dim,
		Margin:       margin,
		DistanceNorm: p,
	}, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return te
}

func tri(h, r, t int64) knowledge.Triplet {
	return knowledge.Triplet{Head: h, Relation: r, Tail: t}
}

func TestNew_InvalidOptions(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tests := []struct {
		name string
		opts Options
	}{
		{"no entities", Options{NumRelations: 1, Dim: 2, DistanceNorm: 2}},
		{"no relations", Options{NumEntities: 1, Dim: 2, DistanceNorm: 2}},
		{"zero dim", Options{NumEntities: 1, NumRelations: 1, DistanceNorm: 2}},
		{"zero norm", Options{NumEntities: 1, NumRelations: 1, Dim: 2}},
		{"negative margin", Options{NumEntities: 1, NumRelations: 1, Dim: 2, DistanceNorm: 1, Margin: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts, rng)
			require.ErrorIs(t, err, ErrInvalidOption)
		})
	}
}

func TestNew_UniformInitRange(t *testing.T) {
	te := newTestModel(t, 50, 7, 16, 2, 1, 3)
	bound := 6 / math.Sqrt(16)
	for _, v := range te.entityEmbeddings {
		assert.LessOrEqual(t, math.Abs(v), bound)
	}
	for _, v := range te.relationEmbeddings {
		assert.LessOrEqual(t, math.Abs(v), bound)
	}
	assert.Len(t, te.entityEmbeddings, 50*16)
	assert.Len(t, te.relationEmbeddings, 7*16)
}

func TestScore_NonNegativeAndDeterministic(t *testing.T) {
	for _, p := range []float64{1, 2, 3} {
		te := newTestModel(t, 20, 3, 8, p, 1, 42)
		batch := []knowledge.Triplet{tri(0, 0, 1), tri(5, 2, 19), tri(7, 1, 7), tri(3, 0, 3)}

		first, err := te.Score(batch)
		require.NoError(t, err)
		second, err := te.Score(batch)
		require.NoError(t, err)

		assert.Equal(t, first, second, "p=%g", p)
		for _, d := range first {
			assert.GreaterOrEqual(t, d, 0.0)
		}
	}
}

func TestScore_KnownDistances(t *testing.T) {
	te := newTestModel(t, 2, 1, 2, 1, 1, 1)
	copy(te.entityEmbeddings, []float64{0, 0, 3, 4})
	copy(te.relationEmbeddings, []float64{0, 0})

	l1, err := te.Score([]knowledge.Triplet{tri(0, 0, 1)})
	require.NoError(t, err)
	assert.InDelta(t, 7.0, l1[0], 1e-12)

	te.distanceNorm = 2
	l2, err := te.Score([]knowledge.Triplet{tri(0, 0, 1)})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, l2[0], 1e-12)

	te.distanceNorm = 3
	l3, err := te.Score([]knowledge.Triplet{tri(0, 0, 1)})
	require.NoError(t, err)
	assert.InDelta(t, math.Cbrt(27+64), l3[0], 1e-12)
}

func TestScore_OutOfRange(t *testing.T) {
	te := newTestModel(t, 3, 1, 2, 2, 1, 1)
	_, err := te.Score([]knowledge.Triplet{tri(0, 0, 3)})
	require.ErrorIs(t, err, knowledge.ErrIDOutOfRange)
	_, err = te.Score([]knowledge.Triplet{tri(0, 1, 2)})
	require.ErrorIs(t, err, knowledge.ErrIDOutOfRange)
}

func TestCorrupt_ReplacesExactlyOneSide(t *testing.T) {
	te := newTestModel(t, 1000, 4, 1, 2, 1, 7)

	batch := make([]knowledge.Triplet, 1000)
	for i := range batch {
		batch[i] = knowledge.Triplet{Head: int64(i), Relation: int64(i % 4), Tail: int64(999 - i)}
	}
	corrupted := te.Corrupt(batch)
	require.Len(t, corrupted, len(batch))

	exactlyOne, heads, tails := 0, 0, 0
	for i, c := range corrupted {
		src := batch[i]
		assert.Equal(t, src.Relation, c.Relation)

		sameHead, sameTail := c.Head == src.Head, c.Tail == src.Tail
		assert.True(t, sameHead || sameTail, "row %d changed both sides", i)
		if sameHead != sameTail {
			exactlyOne++
		}
		if !sameHead {
			heads++
		}
		if !sameTail {
			tails++
		}
	}

	// a replacement drawn equal to the original id is possible but rare
	assert.GreaterOrEqual(t, exactlyOne, 985)
	assert.InDelta(t, 500, heads, 100)
	assert.InDelta(t, 500, tails, 100)
}

func TestLoss(t *testing.T) {
	te := newTestModel(t, 2, 1, 2, 2, 1, 1)

	loss, err := te.Loss([]float64{0.5, 2.0}, []float64{2.0, 0.5})
	require.NoError(t, err)
	// max(0, 1+0.5-2) + max(0, 1+2-0.5)
	assert.InDelta(t, 2.5, loss, 1e-12)

	zero, err := te.Loss([]float64{0, 1}, []float64{1, 3})
	require.NoError(t, err)
	assert.Equal(t, 0.0, zero)

	_, err = te.Loss([]float64{1}, []float64{1, 2})
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestLoss_Monotonic(t *testing.T) {
	te := newTestModel(t, 2, 1, 2, 2, 1, 1)

	prev := -1.0
	for pos := 0.0; pos <= 4; pos += 0.25 {
		loss, err := te.Loss([]float64{pos}, []float64{2})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, loss, prev)
		prev = loss
	}

	prev = math.Inf(1)
	for neg := 0.0; neg <= 4; neg += 0.25 {
		loss, err := te.Loss([]float64{1}, []float64{neg})
		require.NoError(t, err)
		assert.LessOrEqual(t, loss, prev)
		prev = loss
	}
}

func TestNormalizeEntities(t *testing.T) {
	te := newTestModel(t, 4, 1, 3, 2, 1, 1)
	copy(te.entityEmbeddings, []float64{
		3, 4, 0,
		100, -200, 50,
		1e-12, 0, 0,
		0.1, 0.1, 0.1,
	})
	relations := append([]float64(nil), te.relationEmbeddings...)

	te.NormalizeEntities()

	for i := int64(0); i < 4; i++ {
		row := te.entity(i)
		norm := math.Sqrt(row[0]*row[0] + row[1]*row[1] + row[2]*row[2])
		assert.InDelta(t, 1.0, norm, 1e-9, "row %d", i)
	}
	assert.InDeltaSlice(t, []float64{0.6, 0.8, 0}, te.entity(0), 1e-12)
	assert.Equal(t, relations, te.relationEmbeddings, "relations are never renormalised")
}

func TestNormalizeEntities_ZeroRow(t *testing.T) {
	te := newTestModel(t, 2, 1, 2, 2, 1, 1)
	copy(te.entityEmbeddings, []float64{0, 0, 1, 1})

	te.NormalizeEntities()

	for _, v := range te.entity(0) {
		assert.True(t, math.IsNaN(v), "zero row divides by a zero norm")
	}
	assert.InDelta(t, 1/math.Sqrt2, te.entity(1)[0], 1e-12)
}

func threeEntityModel(t *testing.T) (*TransE, *knowledge.Graph) {
	t.Helper()
	te := newTestModel(t, 3, 1, 2, 2, 1, 1)
	copy(te.entityEmbeddings, []float64{
		0, 0,
		1, 0,
		5, 5,
	})
	copy(te.relationEmbeddings, []float64{1, 0})

	g := knowledge.NewGraph()
	g.NumNodes = 3
	g.Heads = []int64{0, 0}
	g.Relations = []int64{0, 0}
	g.Tails = []int64{1, 2}
	return te, g
}

func TestEvaluate_TrueTailRanksFirst(t *testing.T) {
	te, g := threeEntityModel(t)
	ds, err := knowledge.NewDataset(g, []bool{true, false})
	require.NoError(t, err)

	m, err := te.Evaluate(ds)
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.MeanRank)
	assert.Equal(t, 1.0, m.HitsAt10)
	assert.Equal(t, 1, m.Count)
}

func TestEvaluate_MeanOverTriplets(t *testing.T) {
	te, g := threeEntityModel(t)
	ds, err := knowledge.NewDataset(g, []bool{true, true})
	require.NoError(t, err)

	// (0,0,1) ranks 0; (0,0,2) ranks 2 behind entity 1 (d=0) and entity 0 (d=1)
	m, err := te.Evaluate(ds)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.MeanRank)
	assert.Equal(t, 1.0, m.HitsAt10)
}

func TestRanks_PerTripletInOrder(t *testing.T) {
	te, g := threeEntityModel(t)
	ds, err := knowledge.NewDataset(g, []bool{true, true})
	require.NoError(t, err)

	ranks, err := te.Ranks(ds)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, ranks)
}

func TestRanks_TiesKeepEntityOrder(t *testing.T) {
	te := newTestModel(t, 4, 1, 1, 2, 1, 1)
	// entities 1 and 3 are both at distance 1 from h + r = 0
	copy(te.entityEmbeddings, []float64{0, 1, 5, -1})
	te.relationEmbeddings[0] = 0

	ds, err := knowledge.NewDatasetFromTriplets([]knowledge.Triplet{tri(0, 0, 1), tri(0, 0, 3)}, 4, 1)
	require.NoError(t, err)

	ranks, err := te.Ranks(ds)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ranks)
}

func TestEvaluate_HitsCutoffAndCap(t *testing.T) {
	te := newTestModel(t, 12, 1, 1, 1, 1, 1)
	for i := range te.entityEmbeddings {
		te.entityEmbeddings[i] = float64(i)
	}
	te.relationEmbeddings[0] = 0

	// head 0 ranks candidates 0..11 in id order; tail 11 has rank 11
	ds, err := knowledge.NewDatasetFromTriplets([]knowledge.Triplet{tri(0, 0, 11), tri(0, 0, 0)}, 12, 1)
	require.NoError(t, err)

	m, err := te.Evaluate(ds)
	require.NoError(t, err)
	assert.Equal(t, 5.5, m.MeanRank)
	assert.Equal(t, 0.5, m.HitsAt10)

	te.evalCap = 1
	m, err = te.Evaluate(ds)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Count)
	assert.Equal(t, 11.0, m.MeanRank)
	assert.Equal(t, 0.0, m.HitsAt10)
}

func TestEvaluate_EmptySplit(t *testing.T) {
	te := newTestModel(t, 3, 1, 2, 2, 1, 1)
	ds, err := knowledge.NewDatasetFromTriplets(nil, 3, 1)
	require.NoError(t, err)

	m, err := te.Evaluate(ds)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Count)
	assert.True(t, math.IsNaN(m.MeanRank))
}

func TestBackward_MatchesFiniteDifferences(t *testing.T) {
	const seed = 11
	for _, p := range []float64{2, 3} {
		te := newTestModel(t, 5, 2, 3, p, 10, 5)
		batch := []knowledge.Triplet{tri(0, 0, 1), tri(2, 1, 3), tri(4, 0, 2)}

		te.rng = rand.New(rand.NewSource(seed))
		grads := NewGradients(te)
		_, err := te.Backward(batch, grads)
		require.NoError(t, err)

		lossAt := func() float64 {
			te.rng = rand.New(rand.NewSource(seed))
			loss, err := te.Forward(batch)
			require.NoError(t, err)
			return loss
		}

		const eps = 1e-6
		for id := int64(0); id < te.numEntities; id++ {
			analytic := grads.Entity(id)
			for d := 0; d < te.dim; d++ {
				row := te.entity(id)
				orig := row[d]
				row[d] = orig + eps
				up := lossAt()
				row[d] = orig - eps
				down := lossAt()
				row[d] = orig

				numeric := (up - down) / (2 * eps)
				got := 0.0
				if analytic != nil {
					got = analytic[d]
				}
				assert.InDelta(t, numeric, got, 1e-4, "p=%g entity %d dim %d", p, id, d)
			}
		}
		for id := int64(0); id < te.numRelations; id++ {
			analytic := grads.Relation(id)
			for d := 0; d < te.dim; d++ {
				row := te.relation(id)
				orig := row[d]
				row[d] = orig + eps
				up := lossAt()
				row[d] = orig - eps
				down := lossAt()
				row[d] = orig

				got := 0.0
				if analytic != nil {
					got = analytic[d]
				}
				assert.InDelta(t, (up-down)/(2*eps), got, 1e-4, "p=%g relation %d dim %d", p, id, d)
			}
		}
	}
}

func TestSGDStep(t *testing.T) {
	te := newTestModel(t, 2, 1, 2, 2, 1, 1)
	copy(te.entityEmbeddings, []float64{1, 1, 2, 2})
	copy(te.relationEmbeddings, []float64{0.5, 0.5})

	grads := NewGradients(te)
	grads.addTriplet(knowledge.Triplet{Head: 0, Relation: 0, Tail: 1}, []float64{1, -1}, 1)

	opt, err := NewSGD(0.1)
	require.NoError(t, err)
	require.NoError(t, opt.Step(te, grads))

	assert.InDeltaSlice(t, []float64{0.9, 1.1}, te.entity(0), 1e-12)
	assert.InDeltaSlice(t, []float64{2.1, 1.9}, te.entity(1), 1e-12)
	assert.InDeltaSlice(t, []float64{0.4, 0.6}, te.relation(0), 1e-12)
	assert.Nil(t, grads.Entity(0), "step clears the buffer")

	_, err = NewSGD(0)
	require.ErrorIs(t, err, ErrInvalidOption)
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	te := newTestModel(t, 4, 2, 3, 2, 1, 1)
	for i := range te.entityEmbeddings {
		te.entityEmbeddings[i] = float64(i)*0.125 - 0.7
	}
	for i := range te.relationEmbeddings {
		te.relationEmbeddings[i] = 1.0 / float64(i+3)
	}
	batch := []knowledge.Triplet{tri(0, 0, 1), tri(2, 1, 3), tri(3, 1, 0)}
	before, err := te.Score(batch)
	require.NoError(t, err)

	path, err := te.SaveCheckpoint(filepath.Join(dir, "nested"), "best_checkpoint")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nested", "best_checkpoint.parquet"), path)

	loaded, err := New(Options{
		NumEntities:    4,
		NumRelations:   2,
		Dim:            3,
		Margin:         1,
		DistanceNorm:   2,
		CheckpointPath: path,
	}, rand.New(rand.NewSource(99)))
	require.NoError(t, err)

	after, err := loaded.Score(batch)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, te.entityEmbeddings, loaded.entityEmbeddings)
	assert.Equal(t, te.relationEmbeddings, loaded.relationEmbeddings)
}

func TestCheckpoint_ShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	te := newTestModel(t, 4, 2, 3, 2, 1, 1)
	path, err := te.SaveCheckpoint(dir, "ckpt")
	require.NoError(t, err)

	_, err = New(Options{NumEntities: 5, NumRelations: 2, Dim: 3, DistanceNorm: 2, CheckpointPath: path},
		rand.New(rand.NewSource(1)))
	require.ErrorIs(t, err, ErrCheckpointShape)

	_, err = New(Options{NumEntities: 4, NumRelations: 2, Dim: 4, DistanceNorm: 2, CheckpointPath: path},
		rand.New(rand.NewSource(1)))
	require.ErrorIs(t, err, ErrCheckpointShape)

	_, err = New(Options{NumEntities: 4, NumRelations: 2, Dim: 3, DistanceNorm: 2, CheckpointPath: filepath.Join(dir, "missing.parquet")},
		rand.New(rand.NewSource(1)))
	require.Error(t, err)
}

func TestCheckpoint_DuplicateRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.parquet")
	require.NoError(t, parquet.WriteFile(path, []EmbeddingRecord{
		{Param: EntityParam, Row: 0, Vector: []float64{1, 2}},
		{Param: EntityParam, Row: 0, Vector: []float64{3, 4}},
		{Param: RelationParam, Row: 0, Vector: []float64{5, 6}},
	}))

	_, err := New(Options{NumEntities: 2, NumRelations: 1, Dim: 2, DistanceNorm: 2, CheckpointPath: path},
		rand.New(rand.NewSource(1)))
	require.ErrorIs(t, err, ErrCheckpointShape)
}

func TestCheckpoint_UnknownParam(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unknown.parquet")
	require.NoError(t, parquet.WriteFile(path, []EmbeddingRecord{
		{Param: EntityParam, Row: 0, Vector: []float64{1, 2}},
		{Param: "bias", Row: 0, Vector: []float64{3, 4}},
	}))

	_, err := New(Options{NumEntities: 1, NumRelations: 1, Dim: 2, DistanceNorm: 2, CheckpointPath: path},
		rand.New(rand.NewSource(1)))
	require.ErrorIs(t, err, ErrCheckpointShape)
}

func TestPredict(t *testing.T) {
	te, _ := threeEntityModel(t)
	d, err := te.Predict(0, 0, 2)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(16+25), d, 1e-12)
}
