package sap

import (
	"errors"
	"fmt"

	"github.com/contactsim/sap/algebra"
	"github.com/contactsim/sap/scalar"
)

var (
	// ErrInvalidArgument reports a configuration error: out-of-range
	// references, dimension mismatches, parameters outside their domain.
	// Always detected at construction/add time, never at evaluation time.
	ErrInvalidArgument = errors.New("sap: invalid argument")

	// ErrFinalized reports an attempt to mutate a finalized problem.
	ErrFinalized = errors.New("sap: problem is finalized")

	// ErrNotFinalized reports a query that requires a finalized problem.
	ErrNotFinalized = errors.New("sap: problem is not finalized")
)

// Constraint is the contract every constraint kind in a contact problem
// satisfies. A constraint couples one or two cliques through a Jacobian
// block per clique and defines, via Project, the set of admissible impulses.
//
// Implementations are immutable after construction and all methods are pure,
// so a single constraint may be evaluated concurrently. Invalid
// configurations must be rejected by constructors with ErrInvalidArgument;
// evaluation methods may assume a valid receiver.
type Constraint[T scalar.Scalar[T]] interface {
	// NumConstraintEquations returns the number of scalar equations,
	// fixed at construction and strictly positive.
	NumConstraintEquations() int

	// NumCliques returns 1 or 2, the number of cliques coupled.
	NumCliques() int

	// Clique returns the problem-level index of the i-th coupled clique,
	// i < NumCliques(). For two-clique constraints the indices are distinct.
	Clique(i int) int

	// Jacobian returns the block for the i-th clique, sized
	// NumConstraintEquations() × (dofs of Clique(i)).
	Jacobian(i int) algebra.Matrix[T]

	// Bias returns the constraint-space bias velocity v̂, length
	// NumConstraintEquations(). The regularized impulse is
	// γ = Project(R⁻¹(v̂ − J·v)).
	Bias() algebra.Vector[T]

	// CalcRegularization returns the diagonal of the regularization R for
	// this constraint, given the per-equation Delassus operator estimate w
	// and the time step.
	CalcRegularization(w algebra.Vector[T], timeStep T) algebra.Vector[T]

	// Project maps the unconstrained impulse y onto the admissible set,
	// under the regularization diagonal R, returning the projected impulse
	// γ and its derivative ∂γ/∂y (NumConstraintEquations() square).
	// Both value and derivative are continuous in y.
	Project(y, r algebra.Vector[T]) (algebra.Vector[T], algebra.Matrix[T])
}

// CalcConstraintVelocity stacks J·v for a constraint given the velocity
// blocks of its own cliques, in Clique order.
func CalcConstraintVelocity[T scalar.Scalar[T]](c Constraint[T], cliqueVelocities ...algebra.Vector[T]) (algebra.Vector[T], error) {
	if len(cliqueVelocities) != c.NumCliques() {
		return nil, fmt.Errorf("%w: got %d velocity blocks, constraint couples %d cliques",
			ErrInvalidArgument, len(cliqueVelocities), c.NumCliques())
	}
	vc := algebra.NewVector[T](c.NumConstraintEquations())
	for i := 0; i < c.NumCliques(); i++ {
		j := c.Jacobian(i)
		if len(cliqueVelocities[i]) != j.Cols() {
			return nil, fmt.Errorf("%w: velocity block %d has %d dofs, Jacobian expects %d",
				ErrInvalidArgument, i, len(cliqueVelocities[i]), j.Cols())
		}
		j.MulVecAdd(vc, cliqueVelocities[i])
	}
	return vc, nil
}

// validateConstraintShape checks the invariants shared by all constraint
// kinds: a positive equation count, one or two distinct clique references
// with non-negative indices, and Jacobian blocks with matching row counts.
func validateConstraintShape[T scalar.Scalar[T]](ne int, cliques []int, jacobians []algebra.Matrix[T]) error {
	if ne <= 0 {
		return fmt.Errorf("%w: constraint must have at least one equation, got %d", ErrInvalidArgument, ne)
	}
	if len(cliques) != 1 && len(cliques) != 2 {
		return fmt.Errorf("%w: constraint couples %d cliques, want 1 or 2", ErrInvalidArgument, len(cliques))
	}
	if len(jacobians) != len(cliques) {
		return fmt.Errorf("%w: %d Jacobian blocks for %d cliques", ErrInvalidArgument, len(jacobians), len(cliques))
	}
	if len(cliques) == 2 && cliques[0] == cliques[1] {
		return fmt.Errorf("%w: clique %d referenced twice by one constraint", ErrInvalidArgument, cliques[0])
	}
	for i, c := range cliques {
		if c < 0 {
			return fmt.Errorf("%w: negative clique index %d", ErrInvalidArgument, c)
		}
		j := jacobians[i]
		if j.IsZero() {
			return fmt.Errorf("%w: missing Jacobian block for clique %d", ErrInvalidArgument, c)
		}
		if j.Rows() != ne {
			return fmt.Errorf("%w: Jacobian block for clique %d has %d rows, want %d",
				ErrInvalidArgument, c, j.Rows(), ne)
		}
		if j.Cols() <= 0 {
			return fmt.Errorf("%w: Jacobian block for clique %d has no columns", ErrInvalidArgument, c)
		}
	}
	return nil
}
