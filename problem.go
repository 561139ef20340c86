package sap

import (
	"fmt"

	"github.com/contactsim/sap/algebra"
	"github.com/contactsim/sap/graph"
	"github.com/contactsim/sap/logger"
	"github.com/contactsim/sap/scalar"
)

// Clique is one independently parameterized group of velocity degrees of
// freedom: its generalized mass operator and the velocity it would have over
// the step absent constraint forces. Immutable once added to a problem.
type Clique[T scalar.Scalar[T]] struct {
	mass       algebra.Matrix[T]
	freeMotion algebra.Vector[T]
}

// NumVelocities returns the clique's degree-of-freedom count.
func (c Clique[T]) NumVelocities() int { return len(c.freeMotion) }

// Mass returns the clique's mass operator (square, symmetric PSD).
func (c Clique[T]) Mass() algebra.Matrix[T] { return c.mass }

// FreeMotionVelocity returns the clique's free-motion velocity v*.
func (c Clique[T]) FreeMotionVelocity() algebra.Vector[T] { return c.freeMotion }

// ContactProblem owns the cliques and constraints of one time step's contact
// problem. Cliques and constraints are added incrementally, validated
// eagerly, and frozen by Finalize, which also builds the sparsity graph.
// After Finalize the problem is immutable and safe for concurrent reads.
type ContactProblem[T scalar.Scalar[T]] struct {
	timeStep    float64
	cliques     []Clique[T]
	dofOffsets  []int
	constraints []Constraint[T]
	graph       graph.ContactProblemGraph
	finalized   bool
}

// NewContactProblem returns an empty problem for a step of length timeStep.
func NewContactProblem[T scalar.Scalar[T]](timeStep float64) (*ContactProblem[T], error) {
	if timeStep <= 0 {
		return nil, fmt.Errorf("%w: time step %g, must be positive", ErrInvalidArgument, timeStep)
	}
	return &ContactProblem[T]{timeStep: timeStep}, nil
}

// TimeStep returns the step length the problem was built for.
func (p *ContactProblem[T]) TimeStep() float64 { return p.timeStep }

// AddClique adds a clique with the given mass operator and free-motion
// velocity and returns its index. The mass operator must be square with size
// equal to the free-motion velocity's dimension.
func (p *ContactProblem[T]) AddClique(mass algebra.Matrix[T], freeMotion algebra.Vector[T]) (int, error) {
	if p.finalized {
		return 0, fmt.Errorf("%w: cannot add clique", ErrFinalized)
	}
	if len(freeMotion) == 0 {
		return 0, fmt.Errorf("%w: clique must have at least one velocity", ErrInvalidArgument)
	}
	if mass.Rows() != mass.Cols() {
		return 0, fmt.Errorf("%w: mass operator is %d×%d, must be square", ErrInvalidArgument, mass.Rows(), mass.Cols())
	}
	if mass.Rows() != len(freeMotion) {
		return 0, fmt.Errorf("%w: mass operator size %d, free-motion velocity size %d",
			ErrInvalidArgument, mass.Rows(), len(freeMotion))
	}
	offset := 0
	if n := len(p.cliques); n > 0 {
		offset = p.dofOffsets[n-1] + p.cliques[n-1].NumVelocities()
	}
	p.cliques = append(p.cliques, Clique[T]{mass: mass.Clone(), freeMotion: freeMotion.Clone()})
	p.dofOffsets = append(p.dofOffsets, offset)
	return len(p.cliques) - 1, nil
}

// AddConstraint adds a constraint referencing existing cliques and returns
// its index. The constraint's Jacobian block widths must match the
// referenced cliques' dof counts.
func (p *ContactProblem[T]) AddConstraint(c Constraint[T]) (int, error) {
	if p.finalized {
		return 0, fmt.Errorf("%w: cannot add constraint", ErrFinalized)
	}
	if c == nil {
		return 0, fmt.Errorf("%w: nil constraint", ErrInvalidArgument)
	}
	ne := c.NumConstraintEquations()
	if ne <= 0 {
		return 0, fmt.Errorf("%w: constraint has %d equations", ErrInvalidArgument, ne)
	}
	for i := 0; i < c.NumCliques(); i++ {
		clique := c.Clique(i)
		if clique < 0 || clique >= len(p.cliques) {
			return 0, fmt.Errorf("%w: constraint references clique %d, problem has %d cliques",
				ErrInvalidArgument, clique, len(p.cliques))
		}
		j := c.Jacobian(i)
		if j.Rows() != ne {
			return 0, fmt.Errorf("%w: Jacobian block for clique %d has %d rows, want %d",
				ErrInvalidArgument, clique, j.Rows(), ne)
		}
		if dofs := p.cliques[clique].NumVelocities(); j.Cols() != dofs {
			return 0, fmt.Errorf("%w: Jacobian block for clique %d has %d columns, clique has %d dofs",
				ErrInvalidArgument, clique, j.Cols(), dofs)
		}
	}
	p.constraints = append(p.constraints, c)
	return len(p.constraints) - 1, nil
}

// Finalize freezes the problem and builds the sparsity graph. Finalizing an
// already finalized problem is an error.
func (p *ContactProblem[T]) Finalize() error {
	if p.finalized {
		return fmt.Errorf("%w: already finalized", ErrFinalized)
	}
	b := graph.NewBuilder(len(p.cliques))
	for k, c := range p.constraints {
		cliques := make([]int, c.NumCliques())
		for i := range cliques {
			cliques[i] = c.Clique(i)
		}
		if _, err := b.AddConstraint(cliques...); err != nil {
			return fmt.Errorf("constraint %d: %w", k, err)
		}
	}
	p.graph = b.Build()
	p.finalized = true

	log := logger.Logger()
	log.Debug().
		Int("cliques", len(p.cliques)).
		Int("constraints", len(p.constraints)).
		Int("edges", p.graph.NumEdges()).
		Int("velocities", p.NumVelocities()).
		Float64("timeStep", p.timeStep).
		Msg("contact problem finalized")
	return nil
}

// IsFinalized reports whether Finalize has been called.
func (p *ContactProblem[T]) IsFinalized() bool { return p.finalized }

// NumCliques returns the number of cliques.
func (p *ContactProblem[T]) NumCliques() int { return len(p.cliques) }

// NumConstraints returns the number of constraints.
func (p *ContactProblem[T]) NumConstraints() int { return len(p.constraints) }

// NumVelocities returns the total dof count over all cliques.
func (p *ContactProblem[T]) NumVelocities() int {
	if len(p.cliques) == 0 {
		return 0
	}
	n := len(p.cliques)
	return p.dofOffsets[n-1] + p.cliques[n-1].NumVelocities()
}

// Clique returns the i-th clique.
func (p *ContactProblem[T]) Clique(i int) Clique[T] { return p.cliques[i] }

// VelocityOffset returns the offset of clique i's velocities within the full
// velocity vector.
func (p *ContactProblem[T]) VelocityOffset(i int) int { return p.dofOffsets[i] }

// Constraint returns the k-th constraint.
func (p *ContactProblem[T]) Constraint(k int) Constraint[T] { return p.constraints[k] }

// Graph returns the sparsity graph. The problem must be finalized.
func (p *ContactProblem[T]) Graph() (graph.ContactProblemGraph, error) {
	if !p.finalized {
		return graph.ContactProblemGraph{}, fmt.Errorf("%w: graph not built", ErrNotFinalized)
	}
	return p.graph, nil
}
