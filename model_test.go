package sap

import (
	"math"
	"testing"

	"github.com/contactsim/sap/algebra"
	"github.com/contactsim/sap/scalar"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// buildPairProblem is the generic two-clique fixture: masses 1 and 2 with
// free velocities +1 and −1, one contact with the given friction.
func buildPairProblem[T scalar.Scalar[T]](t *testing.T, params FrictionConeParameters) *ContactProblem[T] {
	t.Helper()
	assert := require.New(t)

	p, err := NewContactProblem[T](0.01)
	assert.NoError(err)
	_, err = p.AddClique(algebra.MatrixOf[T](1, 1, []float64{1}), algebra.VectorOf[T]([]float64{1}))
	assert.NoError(err)
	_, err = p.AddClique(algebra.MatrixOf[T](1, 1, []float64{2}), algebra.VectorOf[T]([]float64{-1}))
	assert.NoError(err)

	c, err := NewFrictionCone[T](params, []int{0, 1}, []algebra.Matrix[T]{
		algebra.MatrixOf[T](3, 1, []float64{0, 0, -1}),
		algebra.MatrixOf[T](3, 1, []float64{0, 0, 1}),
	}, nil)
	assert.NoError(err)
	_, err = p.AddConstraint(c)
	assert.NoError(err)
	assert.NoError(p.Finalize())
	return p
}

// newton drives the model's evaluators to a stationary point, the way the
// external solver would.
func newton(t *testing.T, m *Model[scalar.Real], v algebra.Vector[scalar.Real]) (algebra.Vector[scalar.Real], *ModelData[scalar.Real]) {
	t.Helper()
	var data *ModelData[scalar.Real]
	for iter := 0; iter < 50; iter++ {
		data = m.Evaluate(v)
		gradNorm := data.Gradient.Norm().Float64()
		if gradNorm < 1e-8 {
			return v, data
		}
		ch, err := algebra.Factorize(data.Hessian)
		require.NoError(t, err)
		neg := data.Gradient.Clone()
		for i := range neg {
			neg[i] = neg[i].Neg()
		}
		dv := ch.Solve(neg)
		v = v.Clone().AddScaled(scalar.One[scalar.Real](), dv)
	}
	t.Fatalf("newton did not converge; |grad| = %g", data.Gradient.Norm().Float64())
	return nil, nil
}

func TestModelBasics(t *testing.T) {
	assert := require.New(t)

	p := buildTestProblem(t) // four cliques, clique 3 unconstrained
	m, err := NewModel(p)
	assert.NoError(err)

	assert.Equal(3, m.NumVelocities())
	assert.Equal(3, m.ParticipatingCliques().PermutedSize())
	assert.Same(p, m.Problem())

	// compacted v* gathers the participating cliques' free velocities
	assert.Equal([]float64{1, -1, 0.5}, m.FreeMotionVelocities().Floats())

	// mapping back: participating cliques take v, clique 3 keeps v* = 3
	full := m.VelocitiesFull(algebra.VectorOf[scalar.Real]([]float64{7, 8, 9}))
	assert.Equal([]float64{7, 8, 9, 3}, full.Floats())

	assert.Panics(func() { m.VelocitiesFull(algebra.VectorOf[scalar.Real]([]float64{1})) })
}

func TestModelRequiresFinalizedProblem(t *testing.T) {
	assert := require.New(t)

	p, err := NewContactProblem[scalar.Real](0.01)
	assert.NoError(err)
	_, err = NewModel(p)
	assert.ErrorIs(err, ErrNotFinalized)
}

func TestModelCostAtFreeMotion(t *testing.T) {
	assert := require.New(t)

	p := buildPairProblem[scalar.Real](t, FrictionConeParameters{Mu: 0, Stiffness: 1e10, Beta: 1e-3})
	m, err := NewModel(p)
	assert.NoError(err)

	vstar := m.FreeMotionVelocities()
	data := m.Evaluate(vstar)
	// momentum term vanishes at v*, the regularizer does not (contact active)
	assert.InDelta(0.0, data.MomentumCost.Float64(), 1e-12)
	assert.Greater(data.Bundle.RegularizerCost.Float64(), 0.0)
	assert.InDelta(data.Bundle.RegularizerCost.Float64(), data.Cost.Float64(), 1e-12)
}

// TestModelImpact: the two cliques reach a common contact velocity and the
// constraint impulse transfers momentum without creating any.
func TestModelImpact(t *testing.T) {
	assert := require.New(t)

	p := buildPairProblem[scalar.Real](t, FrictionConeParameters{Mu: 0, Stiffness: 1e10, Beta: 1e-3})
	m, err := NewModel(p)
	assert.NoError(err)

	v, data := newton(t, m, m.FreeMotionVelocities())
	v0, v1 := v[0].Float64(), v[1].Float64()

	// common contact velocity, up to the contact's regularization
	assert.InDelta(v0, v1, 1e-4)
	// analytic solution of the rigid limit: v = (m0·1 + m1·(−1))/(m0+m1)
	assert.InDelta(-1.0/3.0, v0, 1e-4)

	// momentum conservation: Δp sums to zero across the pair
	dp0 := 1 * (v0 - 1)
	dp1 := 2 * (v1 + 1)
	assert.InDelta(0.0, dp0+dp1, 1e-9)

	// the impulse is the momentum actually transferred
	gamma := data.Bundle.Impulses[2].Float64()
	assert.InDelta(-dp0, gamma, 1e-6)
	assert.InDelta(4.0/3.0, gamma, 1e-3)
}

func TestModelHessianSymmetricPositiveDefinite(t *testing.T) {
	assert := require.New(t)

	p := buildPairProblem[scalar.Real](t, FrictionConeParameters{Mu: 0.5, Stiffness: 100})
	m, err := NewModel(p)
	assert.NoError(err)

	for _, vs := range [][]float64{{1, -1}, {0.2, 0.1}, {-3, 5}} {
		h := m.CalcHessian(algebra.VectorOf[scalar.Real](vs))
		for i := 0; i < h.Rows(); i++ {
			for j := 0; j < h.Cols(); j++ {
				assert.InDelta(h.At(j, i).Float64(), h.At(i, j).Float64(), 1e-10)
			}
		}
		_, err := algebra.Factorize(h)
		assert.NoError(err)
	}
}

// TestModelGradientAgainstDual cross-checks the analytic gradient with
// forward-mode differentiation of the cost through the entire pipeline.
func TestModelGradientAgainstDual(t *testing.T) {
	assert := require.New(t)

	params := FrictionConeParameters{Mu: 0.5, Stiffness: 100, DissipationTime: 0.05}
	realP := buildPairProblem[scalar.Real](t, params)
	dualP := buildPairProblem[scalar.Dual](t, params)

	mReal, err := NewModel(realP)
	assert.NoError(err)
	mDual, err := NewModel(dualP)
	assert.NoError(err)

	for _, vs := range [][]float64{{1, -1}, {0.3, -0.2}, {-0.5, 0.4}} {
		grad := mReal.CalcGradient(algebra.VectorOf[scalar.Real](vs))
		for i := range vs {
			v := algebra.NewVector[scalar.Dual](len(vs))
			for j := range vs {
				if i == j {
					v[j] = scalar.Var(vs[j])
				} else {
					v[j] = scalar.Const(vs[j])
				}
			}
			// The analytic gradient uses the projection identity
			// ∇ℓ_R = −Jᵀγ, which the regime smoothing perturbs at the
			// smoothing scale; the two agree to that tolerance.
			dCost := mDual.CalcCost(v).Deriv()
			assert.InDelta(grad[i].Float64(), dCost, 1e-5, "v=%v dof=%d", vs, i)
		}
	}
}

// TestModelConcurrentEvaluation: a single model evaluated from many
// goroutines returns identical results.
func TestModelConcurrentEvaluation(t *testing.T) {
	assert := require.New(t)

	p := buildTestProblem(t)
	m, err := NewModel(p)
	assert.NoError(err)

	v := algebra.VectorOf[scalar.Real]([]float64{0.4, -0.6, 1.2})
	want := m.Evaluate(v)

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for iter := 0; iter < 25; iter++ {
				data := m.Evaluate(v)
				if data.Cost.Float64() != want.Cost.Float64() {
					t.Errorf("cost mismatch: %v != %v", data.Cost, want.Cost)
				}
				for i := range data.Gradient {
					if data.Gradient[i] != want.Gradient[i] {
						t.Errorf("gradient mismatch at %d", i)
					}
				}
			}
			return nil
		})
	}
	assert.NoError(g.Wait())
}

func TestModelGradientIsDescentDirectionSource(t *testing.T) {
	assert := require.New(t)

	p := buildPairProblem[scalar.Real](t, FrictionConeParameters{Mu: 0.5, Stiffness: 100})
	m, err := NewModel(p)
	assert.NoError(err)

	// finite-difference check of the gradient at a generic point
	v := algebra.VectorOf[scalar.Real]([]float64{0.3, -0.2})
	grad := m.CalcGradient(v)
	const h = 1e-6
	for i := range v {
		vp := v.Clone()
		vm := v.Clone()
		vp[i] = vp[i].Add(scalar.Real(h))
		vm[i] = vm[i].Sub(scalar.Real(h))
		fd := (m.CalcCost(vp).Float64() - m.CalcCost(vm).Float64()) / (2 * h)
		assert.InDelta(fd, grad[i].Float64(), 1e-5)
	}
	// and the cost decreases along −∇ℓ
	step := grad.Clone()
	for i := range step {
		step[i] = step[i].Neg().Mul(scalar.Real(1e-4))
	}
	less := m.CalcCost(v.Clone().AddScaled(scalar.One[scalar.Real](), step)).Float64()
	assert.Less(less, m.CalcCost(v).Float64())
}

func TestModelFullRoundTripVelocity(t *testing.T) {
	assert := require.New(t)

	p := buildPairProblem[scalar.Real](t, FrictionConeParameters{Mu: 0, Stiffness: 1e10, Beta: 1e-3})
	m, err := NewModel(p)
	assert.NoError(err)

	v, _ := newton(t, m, m.FreeMotionVelocities())
	full := m.VelocitiesFull(v)
	assert.Len(full, p.NumVelocities())
	assert.False(math.IsNaN(full[0].Float64()))
	assert.Equal(v.Floats(), full.Floats()) // all cliques participate here
}
