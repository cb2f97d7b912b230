package knowledge

import (
	"fmt"
)

// Graph is the full directed edge list of a knowledge graph together with
// the masks selecting its train, validation and test splits.
type Graph struct {
	// Entity and relation mappings
	EntityHash   map[string]int64
	RelationHash map[string]int64
	EntityKeys   []string
	RelationKeys []string

	// Edges as parallel arrays
	Heads     []int64
	Relations []int64
	Tails     []int64

	NumNodes int64

	TrainMask []bool
	ValMask   []bool
	TestMask  []bool
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{
		EntityHash:   make(map[string]int64),
		RelationHash: make(map[string]int64),
		EntityKeys:   make([]string, 0),
		RelationKeys: make([]string, 0),
	}
}

// NumEdges returns the number of edges across all splits
func (g *Graph) NumEdges() int {
	return len(g.Heads)
}

// NumRelations returns the number of distinct relation types in the full graph
func (g *Graph) NumRelations() int64 {
	seen := make(map[int64]struct{})
	for _, r := range g.Relations {
		seen[r] = struct{}{}
	}
	return int64(len(seen))
}

// Validate checks that the edge arrays are parallel, ids are in range and
// every mask covers the full edge list.
func (g *Graph) Validate() error {
	n := len(g.Heads)
	if len(g.Tails) != n || len(g.Relations) != n {
		return fmt.Errorf("%w: heads=%d relations=%d tails=%d",
			ErrShapeMismatch, n, len(g.Relations), len(g.Tails))
	}

	for name, mask := range map[string][]bool{"train": g.TrainMask, "val": g.ValMask, "test": g.TestMask} {
		if mask != nil && len(mask) != n {
			return fmt.Errorf("%w: %s mask has %d entries, graph has %d edges", ErrMaskLength, name, len(mask), n)
		}
	}

	numRelations := g.NumRelations()
	for i := 0; i < n; i++ {
		if g.Heads[i] < 0 || g.Heads[i] >= g.NumNodes || g.Tails[i] < 0 || g.Tails[i] >= g.NumNodes {
			return fmt.Errorf("%w: edge %d (%d -> %d) with %d nodes", ErrIDOutOfRange, i, g.Heads[i], g.Tails[i], g.NumNodes)
		}
		// relation ids must be dense: 0..NumRelations()-1
		if g.Relations[i] < 0 || g.Relations[i] >= numRelations {
			return fmt.Errorf("%w: edge %d has relation %d with %d relations", ErrIDOutOfRange, i, g.Relations[i], numRelations)
		}
	}
	return nil
}

// addEdge appends an edge and marks it in the mask of the given split
func (g *Graph) addEdge(head, relation, tail int64, split Split) {
	g.Heads = append(g.Heads, head)
	g.Relations = append(g.Relations, relation)
	g.Tails = append(g.Tails, tail)
	g.TrainMask = append(g.TrainMask, split == SplitTrain)
	g.ValMask = append(g.ValMask, split == SplitVal)
	g.TestMask = append(g.TestMask, split == SplitTest)
}

// getOrCreateEntity gets or creates an entity ID
func (g *Graph) getOrCreateEntity(name string) int64 {
	if id, exists := g.EntityHash[name]; exists {
		return id
	}

	id := int64(len(g.EntityKeys))
	g.EntityHash[name] = id
	g.EntityKeys = append(g.EntityKeys, name)
	g.NumNodes = int64(len(g.EntityKeys))
	return id
}

// getOrCreateRelation gets or creates a relation ID
func (g *Graph) getOrCreateRelation(name string) int64 {
	if id, exists := g.RelationHash[name]; exists {
		return id
	}

	id := int64(len(g.RelationKeys))
	g.RelationHash[name] = id
	g.RelationKeys = append(g.RelationKeys, name)
	return id
}

// EntityName returns the name of an entity by ID
func (g *Graph) EntityName(id int64) string {
	if id < 0 || id >= int64(len(g.EntityKeys)) {
		return ""
	}
	return g.EntityKeys[id]
}

// RelationName returns the name of a relation by ID
func (g *Graph) RelationName(id int64) string {
	if id < 0 || id >= int64(len(g.RelationKeys)) {
		return ""
	}
	return g.RelationKeys[id]
}
