package knowledge

import (
	"errors"
	"fmt"
)

var (
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrIDOutOfRange  = errors.New("id out of range")
	ErrMaskLength    = errors.New("mask length does not match edge count")
)

// Triplet represents a knowledge graph fact (head, relation, tail)
type Triplet struct {
	Head     int64
	Relation int64
	Tail     int64
}

// MakeTriplets stacks parallel head, relation and tail columns into a
// single contiguous batch ready for scoring.
func MakeTriplets(heads, relations, tails []int64) ([]Triplet, error) {
	if len(heads) != len(relations) || len(heads) != len(tails) {
		return nil, fmt.Errorf("%w: heads=%d relations=%d tails=%d",
			ErrShapeMismatch, len(heads), len(relations), len(tails))
	}

	batch := make([]Triplet, len(heads))
	for i := range heads {
		batch[i] = Triplet{Head: heads[i], Relation: relations[i], Tail: tails[i]}
	}
	return batch, nil
}
