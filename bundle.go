package sap

import (
	"fmt"
	"runtime"

	"github.com/contactsim/sap/algebra"
	"github.com/contactsim/sap/debug"
	"github.com/contactsim/sap/ordering"
	"github.com/contactsim/sap/scalar"
	"golang.org/x/sync/errgroup"
)

// bundleItem is one constraint in bundle order, with its incidences remapped
// to participating-clique (compacted) indices.
type bundleItem[T scalar.Scalar[T]] struct {
	constraint Constraint[T]
	// index is the constraint's position in the problem's constraint list.
	index int
	// offset is the constraint's first equation in the stacked
	// constraint-space vectors.
	offset    int
	cliques   []int // compacted clique indices
	jacobians []algebra.Matrix[T]
}

// ConstraintBundle assembles the block-sparse structure of a finalized
// problem over the compacted index space of its participating cliques: one
// Jacobian block per (constraint, clique) incidence, per-constraint
// regularization R and R⁻¹, and the stacked bias v̂. Constraints are ordered
// by the graph's deterministic edge order, then by original constraint order
// within an edge, so assembly and accumulation are bit-reproducible.
//
// The bundle is immutable after construction; CalcData is pure and safe for
// concurrent calls.
type ConstraintBundle[T scalar.Scalar[T]] struct {
	perm       ordering.PartialPermutation
	dofOffsets []int // per participating clique, into compacted velocities
	nv, nk     int
	items      []bundleItem[T]
	r, rinv    algebra.Vector[T]
	vhat       algebra.Vector[T]
	delassus   algebra.Vector[T]
}

// NewConstraintBundle builds the bundle for a finalized problem.
func NewConstraintBundle[T scalar.Scalar[T]](p *ContactProblem[T]) (*ConstraintBundle[T], error) {
	g, err := p.Graph()
	if err != nil {
		return nil, err
	}
	perm := g.ParticipatingCliques()

	b := &ConstraintBundle[T]{
		perm:       perm,
		dofOffsets: make([]int, perm.PermutedSize()),
	}
	for k := 0; k < perm.PermutedSize(); k++ {
		b.dofOffsets[k] = b.nv
		b.nv += p.Clique(perm.Domain(k)).NumVelocities()
	}

	// The Delassus estimate needs M⁻¹ per participating clique; factor each
	// mass operator once.
	chol := make([]algebra.Cholesky[T], perm.PermutedSize())
	for k := 0; k < perm.PermutedSize(); k++ {
		clique := perm.Domain(k)
		chol[k], err = algebra.Factorize(p.Clique(clique).Mass())
		if err != nil {
			return nil, fmt.Errorf("clique %d mass operator: %w", clique, err)
		}
	}

	dt := scalar.Of[T](p.TimeStep())
	for e := 0; e < g.NumEdges(); e++ {
		for _, k := range g.Edge(e).Constraints {
			c := p.Constraint(k)
			ne := c.NumConstraintEquations()
			item := bundleItem[T]{
				constraint: c,
				index:      k,
				offset:     b.nk,
				cliques:    make([]int, c.NumCliques()),
				jacobians:  make([]algebra.Matrix[T], c.NumCliques()),
			}

			// Per-equation Delassus estimate w = diag(Σ J M⁻¹ Jᵀ).
			w := algebra.NewVector[T](ne)
			for i := 0; i < c.NumCliques(); i++ {
				local, ok := b.perm.Permuted(c.Clique(i))
				if !ok {
					// Cannot happen: a constrained clique participates.
					return nil, fmt.Errorf("%w: clique %d missing from participating set", ErrInvalidArgument, c.Clique(i))
				}
				item.cliques[i] = local
				j := c.Jacobian(i)
				item.jacobians[i] = j

				minvJt := chol[local].SolveMatrix(transpose(j))
				for row := 0; row < ne; row++ {
					acc := w[row]
					for col := 0; col < j.Cols(); col++ {
						acc = acc.Add(j.At(row, col).Mul(minvJt.At(col, row)))
					}
					w[row] = acc
				}
			}

			r := c.CalcRegularization(w, dt)
			if len(r) != ne {
				return nil, fmt.Errorf("%w: constraint %d regularization has %d entries, want %d",
					ErrInvalidArgument, k, len(r), ne)
			}
			one := scalar.One[T]()
			for _, ri := range r {
				b.r = append(b.r, ri)
				b.rinv = append(b.rinv, one.Div(ri))
			}
			b.vhat = append(b.vhat, c.Bias()...)
			b.delassus = append(b.delassus, w...)
			b.items = append(b.items, item)
			b.nk += ne
		}
	}
	return b, nil
}

func transpose[T scalar.Scalar[T]](m algebra.Matrix[T]) algebra.Matrix[T] {
	out := algebra.NewMatrix[T](m.Cols(), m.Rows())
	for i := 0; i < m.Rows(); i++ {
		for j := 0; j < m.Cols(); j++ {
			out.Set(j, i, m.At(i, j))
		}
	}
	return out
}

// NumVelocities returns the compacted velocity dimension.
func (b *ConstraintBundle[T]) NumVelocities() int { return b.nv }

// NumConstraintEquations returns the total number of stacked equations.
func (b *ConstraintBundle[T]) NumConstraintEquations() int { return b.nk }

// NumConstraints returns the number of constraints in the bundle.
func (b *ConstraintBundle[T]) NumConstraints() int { return len(b.items) }

// Constraint returns the i-th constraint in bundle order together with its
// index in the problem's constraint list.
func (b *ConstraintBundle[T]) Constraint(i int) (Constraint[T], int) {
	return b.items[i].constraint, b.items[i].index
}

// ConstraintOffset returns the first stacked-equation index of the i-th
// constraint in bundle order.
func (b *ConstraintBundle[T]) ConstraintOffset(i int) int { return b.items[i].offset }

// ParticipatingCliques returns the permutation from problem cliques to the
// bundle's compacted clique order.
func (b *ConstraintBundle[T]) ParticipatingCliques() ordering.PartialPermutation { return b.perm }

// CliqueVelocityOffset returns the offset of compacted clique k's velocities
// within the compacted velocity vector.
func (b *ConstraintBundle[T]) CliqueVelocityOffset(k int) int { return b.dofOffsets[k] }

// Regularization returns the stacked diagonal of R.
func (b *ConstraintBundle[T]) Regularization() algebra.Vector[T] { return b.r }

// RegularizationInverse returns the stacked diagonal of R⁻¹.
func (b *ConstraintBundle[T]) RegularizationInverse() algebra.Vector[T] { return b.rinv }

// Bias returns the stacked bias velocities v̂.
func (b *ConstraintBundle[T]) Bias() algebra.Vector[T] { return b.vhat }

// DelassusEstimate returns the stacked per-equation Delassus diagonal
// estimate used to build the regularization.
func (b *ConstraintBundle[T]) DelassusEstimate() algebra.Vector[T] { return b.delassus }

// MultiplyByJacobian returns J·v, the stacked constraint velocities at the
// compacted velocities v, touching only the nonzero blocks.
func (b *ConstraintBundle[T]) MultiplyByJacobian(v algebra.Vector[T]) algebra.Vector[T] {
	if len(v) != b.nv {
		panic(fmt.Sprintf("sap: bundle velocity dimension %d, want %d", len(v), b.nv))
	}
	vc := algebra.NewVector[T](b.nk)
	for i := range b.items {
		it := &b.items[i]
		ne := it.constraint.NumConstraintEquations()
		out := vc[it.offset : it.offset+ne]
		for j, local := range it.cliques {
			off := b.dofOffsets[local]
			block := v[off : off+it.jacobians[j].Cols()]
			it.jacobians[j].MulVecAdd(out, block)
		}
	}
	return vc
}

// BundleData is the result of one bundle evaluation at fixed compacted
// velocities.
type BundleData[T scalar.Scalar[T]] struct {
	// ConstraintVelocities is vc = J·v, stacked.
	ConstraintVelocities algebra.Vector[T]
	// UnprojectedImpulses is y = R⁻¹(v̂ − vc), stacked.
	UnprojectedImpulses algebra.Vector[T]
	// Impulses is γ = P(y), stacked.
	Impulses algebra.Vector[T]
	// ImpulseGradients holds ∂γ/∂y per constraint, in bundle order.
	ImpulseGradients []algebra.Matrix[T]
	// GeneralizedForces is Jᵀγ accumulated into compacted clique space.
	GeneralizedForces algebra.Vector[T]
	// RegularizerCost is ½·Σ γᵀRγ.
	RegularizerCost T
}

// CalcData evaluates the bundle at the compacted velocities v. The
// projections of independent constraints run in parallel; all accumulation
// happens in bundle order so results are reproducible bit for bit.
func (b *ConstraintBundle[T]) CalcData(v algebra.Vector[T]) *BundleData[T] {
	data := &BundleData[T]{
		ConstraintVelocities: b.MultiplyByJacobian(v),
		UnprojectedImpulses:  algebra.NewVector[T](b.nk),
		Impulses:             algebra.NewVector[T](b.nk),
		ImpulseGradients:     make([]algebra.Matrix[T], len(b.items)),
		GeneralizedForces:    algebra.NewVector[T](b.nv),
	}
	for i := 0; i < b.nk; i++ {
		data.UnprojectedImpulses[i] = b.rinv[i].Mul(b.vhat[i].Sub(data.ConstraintVelocities[i]))
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range b.items {
		it := &b.items[i]
		i := i
		g.Go(func() error {
			ne := it.constraint.NumConstraintEquations()
			y := data.UnprojectedImpulses[it.offset : it.offset+ne]
			r := b.r[it.offset : it.offset+ne]
			gamma, dPdy := it.constraint.Project(y, r)
			debug.Assert(len(gamma) == ne && dPdy.Rows() == ne && dPdy.Cols() == ne)
			copy(data.Impulses[it.offset:it.offset+ne], gamma)
			data.ImpulseGradients[i] = dPdy
			return nil
		})
	}
	// Projections cannot fail; Wait only synchronizes.
	_ = g.Wait()

	half := scalar.Of[T](0.5)
	cost := scalar.Zero[T]()
	for i := range b.items {
		it := &b.items[i]
		ne := it.constraint.NumConstraintEquations()
		gamma := data.Impulses[it.offset : it.offset+ne]
		for j, local := range it.cliques {
			off := b.dofOffsets[local]
			out := data.GeneralizedForces[off : off+it.jacobians[j].Cols()]
			it.jacobians[j].MulTransVecAdd(out, gamma)
		}
		for e := 0; e < ne; e++ {
			cost = cost.Add(half.Mul(gamma[e]).Mul(b.r[it.offset+e]).Mul(gamma[e]))
		}
	}
	data.RegularizerCost = cost
	return data
}
