// Package graph derives the block-sparsity pattern of a contact problem: an
// undirected multigraph whose nodes are cliques and whose edges are the
// distinct unordered clique pairs coupled by at least one constraint.
//
// Edge order is a stable total order (lexicographic by clique pair),
// independent of the order constraints were added. Downstream block-matrix
// assembly iterates edges in this order, so the order is a correctness
// property: two graphs built from the same constraint list are identical,
// making assembled systems bit-reproducible.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/contactsim/sap/ordering"
)

// ErrCliqueOutOfRange reports a constraint referencing a clique index outside
// [0, numCliques).
var ErrCliqueOutOfRange = errors.New("graph: clique index out of range")

// Edge is an unordered pair of cliques and the constraints acting between
// them, in the order the constraints were added. A self pair (First ==
// Second) holds the constraints involving a single clique.
type Edge struct {
	First, Second int
	// Constraints are indices into the owning problem's constraint list.
	Constraints []int
}

// ContactProblemGraph is the sparsity graph over cliques. Nodes are cliques
// 0..NumCliques()-1, including cliques with no incident edge. Immutable once
// built.
type ContactProblemGraph struct {
	numCliques     int
	numConstraints int
	edges          []Edge
	participating  ordering.PartialPermutation
}

// Builder accumulates constraint incidences and produces a
// ContactProblemGraph. Not safe for concurrent use.
type Builder struct {
	numCliques     int
	numConstraints int
	edgeIndex      map[[2]int]int
	edges          []Edge
}

// NewBuilder returns a Builder for a problem with numCliques cliques.
func NewBuilder(numCliques int) *Builder {
	return &Builder{
		numCliques: numCliques,
		edgeIndex:  make(map[[2]int]int),
	}
}

// AddConstraint records the next constraint as acting on the given clique(s)
// (one or two) and returns its constraint index. Clique indices outside the
// domain are rejected.
func (b *Builder) AddConstraint(cliques ...int) (int, error) {
	if len(cliques) != 1 && len(cliques) != 2 {
		return 0, fmt.Errorf("graph: constraint couples %d cliques, want 1 or 2", len(cliques))
	}
	for _, c := range cliques {
		if c < 0 || c >= b.numCliques {
			return 0, fmt.Errorf("%w: clique %d, graph has %d cliques", ErrCliqueOutOfRange, c, b.numCliques)
		}
	}
	first := cliques[0]
	second := first
	if len(cliques) == 2 {
		second = cliques[1]
	}
	if second < first {
		first, second = second, first
	}
	k := b.numConstraints
	b.numConstraints++
	key := [2]int{first, second}
	if e, ok := b.edgeIndex[key]; ok {
		b.edges[e].Constraints = append(b.edges[e].Constraints, k)
		return k, nil
	}
	b.edgeIndex[key] = len(b.edges)
	b.edges = append(b.edges, Edge{First: first, Second: second, Constraints: []int{k}})
	return k, nil
}

// Build finalizes the accumulated incidences into an immutable graph. The
// Builder may not be reused afterwards.
func (b *Builder) Build() ContactProblemGraph {
	edges := b.edges
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].First != edges[j].First {
			return edges[i].First < edges[j].First
		}
		return edges[i].Second < edges[j].Second
	})

	with := bitset.New(uint(b.numCliques))
	for _, e := range edges {
		with.Set(uint(e.First))
		with.Set(uint(e.Second))
	}
	selected := make([]int, 0, with.Count())
	for i, ok := with.NextSet(0); ok; i, ok = with.NextSet(i + 1) {
		selected = append(selected, int(i))
	}
	participating, err := ordering.NewPartialPermutation(b.numCliques, selected)
	if err != nil {
		panic(err) // selected is ascending and in range by construction
	}

	b.edges = nil
	b.edgeIndex = nil
	return ContactProblemGraph{
		numCliques:     b.numCliques,
		numConstraints: b.numConstraints,
		edges:          edges,
		participating:  participating,
	}
}

// BuildGraph builds the graph for a whole constraint list at once;
// incidences[k] lists the clique(s) of constraint k.
func BuildGraph(numCliques int, incidences [][]int) (ContactProblemGraph, error) {
	b := NewBuilder(numCliques)
	for _, cliques := range incidences {
		if _, err := b.AddConstraint(cliques...); err != nil {
			return ContactProblemGraph{}, err
		}
	}
	return b.Build(), nil
}

// NumCliques returns the number of nodes, counting isolated cliques.
func (g ContactProblemGraph) NumCliques() int { return g.numCliques }

// NumConstraints returns the total number of constraints across all edges.
func (g ContactProblemGraph) NumConstraints() int { return g.numConstraints }

// NumEdges returns the number of distinct clique pairs with constraints.
func (g ContactProblemGraph) NumEdges() int { return len(g.edges) }

// Edge returns the e-th edge in the deterministic edge order. The returned
// value shares the constraint slice; callers must not mutate it.
func (g ContactProblemGraph) Edge(e int) Edge { return g.edges[e] }

// ParticipatingCliques returns the permutation selecting, in ascending clique
// order, the cliques with at least one incident edge.
func (g ContactProblemGraph) ParticipatingCliques() ordering.PartialPermutation {
	return g.participating
}
