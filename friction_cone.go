package sap

import (
	"fmt"
	"math"

	"github.com/contactsim/sap/algebra"
	"github.com/contactsim/sap/debug"
	"github.com/contactsim/sap/scalar"
)

// Default numerical parameters of the friction-cone projection. See
// FrictionConeParameters for their meaning.
const (
	DefaultBeta         = 1.0
	DefaultSigma        = 1e-3
	DefaultSoftTol      = 1e-7
	DefaultSmoothingTol = 1e-4
)

// FrictionConeParameters collects the physical and numerical parameters of a
// contact point. Zero-valued numerical fields take the package defaults.
type FrictionConeParameters struct {
	// Mu is the Coulomb friction coefficient, μ ≥ 0. With μ = 0 the
	// constraint degenerates to a pure unilateral normal constraint.
	Mu float64
	// Stiffness is the contact compliance, k > 0.
	Stiffness float64
	// DissipationTime is the dissipation time constant, τ ≥ 0.
	DissipationTime float64
	// Beta controls the near-rigid lower bound on the normal
	// regularization, Rn ≥ β²/(4π²)·w.
	Beta float64
	// Sigma scales the tangential regularization, Rt = σ·w.
	Sigma float64
	// SoftTol is the ε of the soft tangential norm ‖yt‖ₛ = √(‖yt‖²+ε²),
	// keeping the tangent direction defined as ‖yt‖ → 0.
	SoftTol float64
	// SmoothingTol is the width of the blending between projection
	// regimes; within a band of this width around each regime boundary
	// the projection interpolates smoothly, keeping ∂γ/∂y continuous.
	SmoothingTol float64
}

func (p *FrictionConeParameters) applyDefaults() {
	if p.Beta == 0 {
		p.Beta = DefaultBeta
	}
	if p.Sigma == 0 {
		p.Sigma = DefaultSigma
	}
	if p.SoftTol == 0 {
		p.SoftTol = DefaultSoftTol
	}
	if p.SmoothingTol == 0 {
		p.SmoothingTol = DefaultSmoothingTol
	}
}

// FrictionCone is the Coulomb friction constraint at one contact point: two
// tangential equations followed by one normal equation, with admissible
// impulses {‖γₜ‖ ≤ μ·γₙ, γₙ ≥ 0}. Immutable after construction.
type FrictionCone[T scalar.Scalar[T]] struct {
	params    FrictionConeParameters
	cliques   []int
	jacobians []algebra.Matrix[T]
	bias      algebra.Vector[T]
}

// NewFrictionCone builds a friction-cone constraint acting on one or two
// cliques. jacobians[i] is the 3×(dofs of cliques[i]) block mapping clique
// velocities to contact-frame velocities (t₁, t₂, n). bias is the
// constraint-space bias velocity v̂; nil means zero.
func NewFrictionCone[T scalar.Scalar[T]](params FrictionConeParameters, cliques []int, jacobians []algebra.Matrix[T], bias algebra.Vector[T]) (*FrictionCone[T], error) {
	params.applyDefaults()
	if params.Mu < 0 {
		return nil, fmt.Errorf("%w: friction coefficient μ = %g < 0", ErrInvalidArgument, params.Mu)
	}
	if params.Stiffness <= 0 {
		return nil, fmt.Errorf("%w: stiffness k = %g, must be positive", ErrInvalidArgument, params.Stiffness)
	}
	if params.DissipationTime < 0 {
		return nil, fmt.Errorf("%w: dissipation time τ = %g < 0", ErrInvalidArgument, params.DissipationTime)
	}
	if err := validateConstraintShape(3, cliques, jacobians); err != nil {
		return nil, err
	}
	if bias == nil {
		bias = algebra.NewVector[T](3)
	} else if len(bias) != 3 {
		return nil, fmt.Errorf("%w: bias has %d entries, want 3", ErrInvalidArgument, len(bias))
	}
	c := &FrictionCone[T]{
		params:    params,
		cliques:   append([]int(nil), cliques...),
		jacobians: make([]algebra.Matrix[T], len(jacobians)),
		bias:      bias.Clone(),
	}
	for i := range jacobians {
		c.jacobians[i] = jacobians[i].Clone()
	}
	return c, nil
}

// Parameters returns the constraint parameters, with defaults applied.
func (c *FrictionCone[T]) Parameters() FrictionConeParameters { return c.params }

func (c *FrictionCone[T]) NumConstraintEquations() int { return 3 }

func (c *FrictionCone[T]) NumCliques() int { return len(c.cliques) }

func (c *FrictionCone[T]) Clique(i int) int { return c.cliques[i] }

func (c *FrictionCone[T]) Jacobian(i int) algebra.Matrix[T] { return c.jacobians[i] }

func (c *FrictionCone[T]) Bias() algebra.Vector[T] { return c.bias }

// CalcRegularization implements the near-rigid regularization: Rt = σ·w and
// Rn = max(β²/(4π²)·w, 1/(δt·(δt+τ)·k)), with w the root-mean-square of the
// per-equation Delassus estimate.
func (c *FrictionCone[T]) CalcRegularization(w algebra.Vector[T], timeStep T) algebra.Vector[T] {
	n := scalar.Of[T](float64(len(w)))
	wrms := w.Dot(w).Div(n).Sqrt()

	rt := scalar.Of[T](c.params.Sigma).Mul(wrms)

	beta2 := c.params.Beta * c.params.Beta / (4 * math.Pi * math.Pi)
	rnNearRigid := scalar.Of[T](beta2).Mul(wrms)
	tau := scalar.Of[T](c.params.DissipationTime)
	k := scalar.Of[T](c.params.Stiffness)
	rnCompliant := scalar.One[T]().Div(timeStep.Mul(timeStep.Add(tau)).Mul(k))
	rn := rnNearRigid.Max(rnCompliant)

	return algebra.Vector[T]{rt, rt, rn}
}

// softMax returns a smooth upper envelope of max(a, b) together with its
// partial derivatives: ½(a+b+√((a−b)²+δ²)).
func softMax[T scalar.Scalar[T]](a, b, delta T) (m, dmda, dmdb T) {
	half := scalar.Of[T](0.5)
	d := a.Sub(b)
	s := d.Mul(d).Add(delta.Mul(delta)).Sqrt()
	m = half.Mul(a.Add(b).Add(s))
	dmda = half.Mul(scalar.One[T]().Add(d.Div(s)))
	dmdb = half.Mul(scalar.One[T]().Sub(d.Div(s)))
	return m, dmda, dmdb
}

// softMinOne returns a smooth version of min(1, q) and its derivative in q.
func softMinOne[T scalar.Scalar[T]](q, delta T) (c, dcdq T) {
	half := scalar.Of[T](0.5)
	one := scalar.One[T]()
	d := one.Sub(q)
	s := d.Mul(d).Add(delta.Mul(delta)).Sqrt()
	c = half.Mul(one.Add(q).Sub(s))
	dcdq = half.Mul(one.Add(d.Div(s)))
	return c, dcdq
}

// Project maps y = (yt₁, yt₂, yn) onto the friction cone regularized by
// R = (Rt, Rt, Rn). The three classical regimes are recovered away from
// their boundaries:
//
//   - no contact: yn below the polar-cone boundary ⇒ γ = 0;
//   - sliding:    γₙ = (yn + μ̂‖yt‖)/(1+μ̂μ), ‖γₜ‖ = μ·γₙ along yt;
//   - sticking:   y inside the cone ⇒ γ = y;
//
// with μ̂ = μ·Rt/Rn. Regime boundaries are blended over SmoothingTol and the
// tangential norm is softened over SoftTol, so γ and ∂γ/∂y are continuous
// everywhere, including ‖yt‖ → 0 and μ = 0.
func (c *FrictionCone[T]) Project(y, r algebra.Vector[T]) (algebra.Vector[T], algebra.Matrix[T]) {
	debug.Assert(len(y) == 3 && len(r) == 3)
	zero := scalar.Zero[T]()
	delta := scalar.Of[T](c.params.SmoothingTol)
	yn := y[2]

	gamma := algebra.NewVector[T](3)
	dPdy := algebra.NewMatrix[T](3, 3)

	if c.params.Mu == 0 {
		// Pure unilateral constraint: γ = (0, 0, max(0, yn)) smoothed.
		gn, _, dgndyn := softMax(zero, yn, delta)
		gamma[2] = gn
		dPdy.Set(2, 2, dgndyn)
		return gamma, dPdy
	}

	mu := scalar.Of[T](c.params.Mu)
	muHat := mu.Mul(r[0]).Div(r[2])
	one := scalar.One[T]()
	f := one.Div(one.Add(muHat.Mul(mu)))

	// Soft tangential norm and direction; ‖that‖ < 1 near yt = 0, which is
	// exactly the regularized no-slip direction.
	eps := scalar.Of[T](c.params.SoftTol)
	yr := y[0].Mul(y[0]).Add(y[1].Mul(y[1])).Add(eps.Mul(eps)).Sqrt()
	that := algebra.Vector[T]{y[0].Div(yr), y[1].Div(yr)}

	// Normal impulse: the exact projection is
	// γₙ = max(0, max(yn, ξ)) with ξ the cone-surface value; both maxima
	// are blended so ∂γₙ/∂y stays continuous across regime changes.
	xi := f.Mul(yn.Add(muHat.Mul(yr)))
	m1, w1a, w1b := softMax(yn, xi, delta)
	gn, _, w2 := softMax(zero, m1, delta)

	dgndyn := w2.Mul(w1a.Add(w1b.Mul(f)))
	dgndytCoeff := w2.Mul(w1b).Mul(f).Mul(muHat) // times that_j

	// Tangential impulse: γₜ = min(1, μ·γₙ/‖yt‖)·yt blended, preserving
	// the direction of yt and clamping its magnitude to the cone.
	q := mu.Mul(gn).Div(yr)
	cf, dcdq := softMinOne(q, delta)

	dqdyn := mu.Mul(dgndyn).Div(yr)
	// dq/dyt_j = μ·dγₙ/dyt_j/‖yt‖ − q·that_j/‖yt‖
	dqdyt := algebra.NewVector[T](2)
	for j := 0; j < 2; j++ {
		dqdyt[j] = mu.Mul(dgndytCoeff).Mul(that[j]).Div(yr).Sub(q.Mul(that[j]).Div(yr))
	}

	gamma[0] = cf.Mul(y[0])
	gamma[1] = cf.Mul(y[1])
	gamma[2] = gn

	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			v := y[i].Mul(dcdq).Mul(dqdyt[j])
			if i == j {
				v = v.Add(cf)
			}
			dPdy.Set(i, j, v)
		}
		dPdy.Set(i, 2, y[i].Mul(dcdq).Mul(dqdyn))
		dPdy.Set(2, i, dgndytCoeff.Mul(that[i]))
	}
	dPdy.Set(2, 2, dgndyn)

	return gamma, dPdy
}
