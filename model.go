package sap

import (
	"fmt"

	"github.com/contactsim/sap/algebra"
	"github.com/contactsim/sap/logger"
	"github.com/contactsim/sap/ordering"
	"github.com/contactsim/sap/scalar"
)

// Model bridges a finalized ContactProblem and the external Newton solver.
// It compacts the problem onto its participating cliques (cliques with at
// least one constraint; the rest are velocity-free and excluded from the
// optimization), owns the ConstraintBundle over that compacted ordering, and
// exposes the cost, gradient and Hessian evaluators the solver consumes.
//
// A Model is immutable; evaluators are pure functions of their velocity
// argument and may run concurrently on a shared Model.
type Model[T scalar.Scalar[T]] struct {
	problem *ContactProblem[T]
	bundle  *ConstraintBundle[T]
	perm    ordering.PartialPermutation
	masses  []algebra.Matrix[T] // per participating clique
	vStar   algebra.Vector[T]   // compacted free-motion velocities
}

// NewModel builds the model for a finalized problem.
func NewModel[T scalar.Scalar[T]](p *ContactProblem[T]) (*Model[T], error) {
	bundle, err := NewConstraintBundle(p)
	if err != nil {
		return nil, err
	}
	perm := bundle.ParticipatingCliques()

	m := &Model[T]{
		problem: p,
		bundle:  bundle,
		perm:    perm,
		masses:  make([]algebra.Matrix[T], perm.PermutedSize()),
	}
	m.vStar = algebra.NewVector[T](bundle.NumVelocities())
	for k := 0; k < perm.PermutedSize(); k++ {
		clique := p.Clique(perm.Domain(k))
		m.masses[k] = clique.Mass()
		copy(m.vStar[bundle.CliqueVelocityOffset(k):], clique.FreeMotionVelocity())
	}

	log := logger.Logger()
	log.Debug().
		Int("participatingCliques", perm.PermutedSize()).
		Int("velocities", bundle.NumVelocities()).
		Int("equations", bundle.NumConstraintEquations()).
		Msg("sap model built")
	return m, nil
}

// Problem returns the underlying problem.
func (m *Model[T]) Problem() *ContactProblem[T] { return m.problem }

// Bundle returns the constraint bundle over the compacted ordering.
func (m *Model[T]) Bundle() *ConstraintBundle[T] { return m.bundle }

// ParticipatingCliques returns the permutation from problem cliques to the
// compacted participating set.
func (m *Model[T]) ParticipatingCliques() ordering.PartialPermutation { return m.perm }

// NumVelocities returns the compacted velocity dimension.
func (m *Model[T]) NumVelocities() int { return m.bundle.NumVelocities() }

// FreeMotionVelocities returns a copy of the compacted free-motion
// velocities v*.
func (m *Model[T]) FreeMotionVelocities() algebra.Vector[T] { return m.vStar.Clone() }

// VelocitiesFull maps compacted velocities back to the full clique velocity
// vector; non-participating cliques take their free-motion velocities.
func (m *Model[T]) VelocitiesFull(v algebra.Vector[T]) algebra.Vector[T] {
	if len(v) != m.bundle.NumVelocities() {
		panic(fmt.Sprintf("sap: model velocity dimension %d, want %d", len(v), m.bundle.NumVelocities()))
	}
	full := algebra.NewVector[T](m.problem.NumVelocities())
	for i := 0; i < m.problem.NumCliques(); i++ {
		clique := m.problem.Clique(i)
		dst := full[m.problem.VelocityOffset(i) : m.problem.VelocityOffset(i)+clique.NumVelocities()]
		if k, ok := m.perm.Permuted(i); ok {
			off := m.bundle.CliqueVelocityOffset(k)
			copy(dst, v[off:off+clique.NumVelocities()])
		} else {
			copy(dst, clique.FreeMotionVelocity())
		}
	}
	return full
}

// ModelData is one full evaluation of the SAP objective at compacted
// velocities v.
type ModelData[T scalar.Scalar[T]] struct {
	// Cost is ℓ(v) = ½(v−v*)ᵀA(v−v*) + ½ γᵀRγ.
	Cost T
	// MomentumCost is the first term alone.
	MomentumCost T
	// Gradient is ∇ℓ = A(v−v*) − Jᵀγ.
	Gradient algebra.Vector[T]
	// Hessian is the Gauss–Newton approximation A + JᵀGJ, G = ∂γ/∂y·R⁻¹.
	Hessian algebra.Matrix[T]
	// Bundle holds the constraint-space quantities at v.
	Bundle *BundleData[T]
}

// Evaluate computes cost, gradient and Hessian at v in one pass.
func (m *Model[T]) Evaluate(v algebra.Vector[T]) *ModelData[T] {
	if len(v) != m.bundle.NumVelocities() {
		panic(fmt.Sprintf("sap: model velocity dimension %d, want %d", len(v), m.bundle.NumVelocities()))
	}
	nv := m.bundle.NumVelocities()
	data := &ModelData[T]{Bundle: m.bundle.CalcData(v)}

	// Momentum term, blockwise per participating clique.
	dv := v.Sub(m.vStar)
	half := scalar.Of[T](0.5)
	adv := algebra.NewVector[T](nv)
	for k := range m.masses {
		off := m.bundle.CliqueVelocityOffset(k)
		n := m.masses[k].Rows()
		m.masses[k].MulVecAdd(adv[off:off+n], dv[off:off+n])
	}
	data.MomentumCost = half.Mul(dv.Dot(adv))
	data.Cost = data.MomentumCost.Add(data.Bundle.RegularizerCost)

	data.Gradient = adv.Clone()
	data.Gradient.AddScaled(scalar.One[T]().Neg(), data.Bundle.GeneralizedForces)

	data.Hessian = m.calcHessian(data.Bundle)
	return data
}

// CalcCost returns ℓ(v).
func (m *Model[T]) CalcCost(v algebra.Vector[T]) T { return m.Evaluate(v).Cost }

// CalcGradient returns ∇ℓ(v).
func (m *Model[T]) CalcGradient(v algebra.Vector[T]) algebra.Vector[T] {
	return m.Evaluate(v).Gradient
}

// CalcHessian returns the Gauss–Newton Hessian at v.
func (m *Model[T]) CalcHessian(v algebra.Vector[T]) algebra.Matrix[T] {
	return m.Evaluate(v).Hessian
}

// calcHessian assembles A + Σ JᵀGJ touching only the nonzero blocks of J,
// in bundle order.
func (m *Model[T]) calcHessian(bd *BundleData[T]) algebra.Matrix[T] {
	nv := m.bundle.NumVelocities()
	h := algebra.NewMatrix[T](nv, nv)
	for k := range m.masses {
		h.AddBlock(m.bundle.CliqueVelocityOffset(k), m.bundle.CliqueVelocityOffset(k), m.masses[k])
	}

	half := scalar.Of[T](0.5)
	for i := range m.bundle.items {
		it := &m.bundle.items[i]
		ne := it.constraint.NumConstraintEquations()

		// G = ∂γ/∂y·R⁻¹, symmetrized against the smoothing residual.
		dPdy := bd.ImpulseGradients[i]
		g := algebra.NewMatrix[T](ne, ne)
		for a := 0; a < ne; a++ {
			for c := 0; c < ne; c++ {
				v := dPdy.At(a, c).Mul(m.bundle.rinv[it.offset+c])
				vt := dPdy.At(c, a).Mul(m.bundle.rinv[it.offset+a])
				g.Set(a, c, half.Mul(v.Add(vt)))
			}
		}

		for a, la := range it.cliques {
			ja := it.jacobians[a]
			for c, lc := range it.cliques {
				jc := it.jacobians[c]
				block := ja.TransMul(g.Mul(jc))
				h.AddBlock(m.bundle.dofOffsets[la], m.bundle.dofOffsets[lc], block)
			}
		}
	}
	return h
}
