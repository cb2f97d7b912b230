package knowledge

import (
	"fmt"
)

// Dataset holds the triplets of one split of a graph. Entity and relation
// counts are taken from the full graph so that ranking always covers the
// whole entity universe.
type Dataset struct {
	triplets     []Triplet
	numEntities  int64
	numRelations int64
}

// NewDataset keeps the masked-in edges of g in their original order
func NewDataset(g *Graph, mask []bool) (*Dataset, error) {
	if len(mask) != g.NumEdges() {
		return nil, fmt.Errorf("%w: mask has %d entries, graph has %d edges", ErrMaskLength, len(mask), g.NumEdges())
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	ds := &Dataset{
		numEntities:  g.NumNodes,
		numRelations: g.NumRelations(),
	}
	for i, in := range mask {
		if !in {
			continue
		}
		ds.triplets = append(ds.triplets, Triplet{
			Head:     g.Heads[i],
			Relation: g.Relations[i],
			Tail:     g.Tails[i],
		})
	}
	return ds, nil
}

// NewDatasetFromTriplets builds a split directly from triplets and the
// global counts.
func NewDatasetFromTriplets(triplets []Triplet, numEntities, numRelations int64) (*Dataset, error) {
	for i, t := range triplets {
		if t.Head < 0 || t.Head >= numEntities || t.Tail < 0 || t.Tail >= numEntities ||
			t.Relation < 0 || t.Relation >= numRelations {
			return nil, fmt.Errorf("%w: triplet %d (%d, %d, %d)", ErrIDOutOfRange, i, t.Head, t.Relation, t.Tail)
		}
	}
	return &Dataset{
		triplets:     append([]Triplet(nil), triplets...),
		numEntities:  numEntities,
		numRelations: numRelations,
	}, nil
}

// Len returns the number of triplets in the split
func (ds *Dataset) Len() int {
	return len(ds.triplets)
}

// EntitiesSize returns the number of entities in the full graph
func (ds *Dataset) EntitiesSize() int64 {
	return ds.numEntities
}

// RelationsSize returns the number of relations in the full graph
func (ds *Dataset) RelationsSize() int64 {
	return ds.numRelations
}

// Get returns the triplet at the given index
func (ds *Dataset) Get(idx int) Triplet {
	return ds.triplets[idx]
}

// Head returns up to the first n triplets of the split
func (ds *Dataset) Head(n int) []Triplet {
	if n < 0 || n > len(ds.triplets) {
		n = len(ds.triplets)
	}
	return ds.triplets[:n]
}

// Loader iterates over a dataset in fixed-size sequential batches. The
// last batch may be shorter.
type Loader struct {
	ds        *Dataset
	batchSize int
	pos       int
}

// NewLoader creates a loader starting at the first triplet
func NewLoader(ds *Dataset, batchSize int) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	return &Loader{ds: ds, batchSize: batchSize}, nil
}

// Next returns the columns of the next batch, or ok=false once the split
// is exhausted.
func (l *Loader) Next() (heads, relations, tails []int64, ok bool) {
	if l.pos >= l.ds.Len() {
		return nil, nil, nil, false
	}

	end := l.pos + l.batchSize
	if end > l.ds.Len() {
		end = l.ds.Len()
	}

	n := end - l.pos
	heads = make([]int64, n)
	relations = make([]int64, n)
	tails = make([]int64, n)
	for i, t := range l.ds.triplets[l.pos:end] {
		heads[i] = t.Head
		relations[i] = t.Relation
		tails[i] = t.Tail
	}
	l.pos = end
	return heads, relations, tails, true
}

// NumBatches returns the number of batches in one pass
func (l *Loader) NumBatches() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}
