package transe

import (
	"fmt"

	"github.com/cnclabs/transe/pkg/knowledge"
)

// Gradients accumulates per-row gradients for both tables. Only rows
// touched since the last Zero are stored, so clearing costs O(touched).
type Gradients struct {
	dim int

	entity   map[int64][]float64
	relation map[int64][]float64

	// touch order keeps Step deterministic
	entityOrder   []int64
	relationOrder []int64
}

// NewGradients creates an empty gradient buffer for a model
func NewGradients(te *TransE) *Gradients {
	return &Gradients{
		dim:      te.dim,
		entity:   make(map[int64][]float64),
		relation: make(map[int64][]float64),
	}
}

// Zero clears every accumulated gradient
func (g *Gradients) Zero() {
	clear(g.entity)
	clear(g.relation)
	g.entityOrder = g.entityOrder[:0]
	g.relationOrder = g.relationOrder[:0]
}

// Entity returns the accumulated gradient of an entity row, nil if untouched
func (g *Gradients) Entity(id int64) []float64 { return g.entity[id] }

// Relation returns the accumulated gradient of a relation row, nil if untouched
func (g *Gradients) Relation(id int64) []float64 { return g.relation[id] }

func (g *Gradients) entityRow(id int64) []float64 {
	row, ok := g.entity[id]
	if !ok {
		row = make([]float64, g.dim)
		g.entity[id] = row
		g.entityOrder = append(g.entityOrder, id)
	}
	return row
}

func (g *Gradients) relationRow(id int64) []float64 {
	row, ok := g.relation[id]
	if !ok {
		row = make([]float64, g.dim)
		g.relation[id] = row
		g.relationOrder = append(g.relationOrder, id)
	}
	return row
}

// addTriplet adds sign * grad to head and relation and subtracts it from
// the tail, the chain rule of h + r - t.
func (g *Gradients) addTriplet(t knowledge.Triplet, grad []float64, sign float64) {
	head := g.entityRow(t.Head)
	for d, v := range grad {
		head[d] += sign * v
	}
	rel := g.relationRow(t.Relation)
	for d, v := range grad {
		rel[d] += sign * v
	}
	tail := g.entityRow(t.Tail)
	for d, v := range grad {
		tail[d] -= sign * v
	}
}

// SGD is plain stochastic gradient descent with a fixed learning rate
type SGD struct {
	LearningRate float64
}

// NewSGD creates an optimizer; the learning rate must be positive
func NewSGD(learningRate float64) (*SGD, error) {
	if learningRate <= 0 {
		return nil, fmt.Errorf("%w: learning rate must be positive, got %g", ErrInvalidOption, learningRate)
	}
	return &SGD{LearningRate: learningRate}, nil
}

// Step applies param -= lr * grad to every touched row and clears grads
func (opt *SGD) Step(te *TransE, grads *Gradients) error {
	if grads.dim != te.dim {
		return fmt.Errorf("%w: gradient dim %d, model dim %d", ErrShapeMismatch, grads.dim, te.dim)
	}

	for _, id := range grads.entityOrder {
		row := te.entity(id)
		for d, v := range grads.entity[id] {
			row[d] -= opt.LearningRate * v
		}
	}
	for _, id := range grads.relationOrder {
		row := te.relation(id)
		for d, v := range grads.relation[id] {
			row[d] -= opt.LearningRate * v
		}
	}

	grads.Zero()
	return nil
}
