package sap

import (
	"math"
	"testing"

	"github.com/contactsim/sap/algebra"
	"github.com/contactsim/sap/scalar"
	"github.com/stretchr/testify/require"
)

func newTestCone[T scalar.Scalar[T]](t *testing.T, mu float64) *FrictionCone[T] {
	t.Helper()
	j := algebra.MatrixOf[T](3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
	c, err := NewFrictionCone[T](FrictionConeParameters{
		Mu:        mu,
		Stiffness: 1e6,
	}, []int{0}, []algebra.Matrix[T]{j}, nil)
	require.NoError(t, err)
	return c
}

func TestFrictionConeConstruction(t *testing.T) {
	assert := require.New(t)

	j := algebra.MatrixOf[scalar.Real](3, 2, []float64{1, 0, 0, 1, 0, 0})

	_, err := NewFrictionCone[scalar.Real](FrictionConeParameters{Mu: -0.1, Stiffness: 1},
		[]int{0}, []algebra.Matrix[scalar.Real]{j}, nil)
	assert.ErrorIs(err, ErrInvalidArgument)

	_, err = NewFrictionCone[scalar.Real](FrictionConeParameters{Mu: 0.5},
		[]int{0}, []algebra.Matrix[scalar.Real]{j}, nil)
	assert.ErrorIs(err, ErrInvalidArgument) // zero stiffness

	_, err = NewFrictionCone[scalar.Real](FrictionConeParameters{Mu: 0.5, Stiffness: 1, DissipationTime: -1},
		[]int{0}, []algebra.Matrix[scalar.Real]{j}, nil)
	assert.ErrorIs(err, ErrInvalidArgument)

	// wrong Jacobian row count
	bad := algebra.MatrixOf[scalar.Real](2, 2, []float64{1, 0, 0, 1})
	_, err = NewFrictionCone[scalar.Real](FrictionConeParameters{Mu: 0.5, Stiffness: 1},
		[]int{0}, []algebra.Matrix[scalar.Real]{bad}, nil)
	assert.ErrorIs(err, ErrInvalidArgument)

	// same clique twice
	_, err = NewFrictionCone[scalar.Real](FrictionConeParameters{Mu: 0.5, Stiffness: 1},
		[]int{1, 1}, []algebra.Matrix[scalar.Real]{j, j}, nil)
	assert.ErrorIs(err, ErrInvalidArgument)

	// bad bias length
	_, err = NewFrictionCone[scalar.Real](FrictionConeParameters{Mu: 0.5, Stiffness: 1},
		[]int{0}, []algebra.Matrix[scalar.Real]{j}, algebra.VectorOf[scalar.Real]([]float64{1, 2}))
	assert.ErrorIs(err, ErrInvalidArgument)

	// defaults applied
	c, err := NewFrictionCone[scalar.Real](FrictionConeParameters{Mu: 0.5, Stiffness: 1},
		[]int{0}, []algebra.Matrix[scalar.Real]{j}, nil)
	assert.NoError(err)
	assert.Equal(DefaultBeta, c.Parameters().Beta)
	assert.Equal(DefaultSigma, c.Parameters().Sigma)
}

func TestProjectSticking(t *testing.T) {
	assert := require.New(t)
	c := newTestCone[scalar.Real](t, 0.5)
	r := algebra.VectorOf[scalar.Real]([]float64{0.2, 0.2, 0.2})

	// strictly inside the cone: ‖yt‖ = 0.141 < μ·yn = 0.5
	y := algebra.VectorOf[scalar.Real]([]float64{0.1, 0.1, 1.0})
	gamma, dPdy := c.Project(y, r)

	for i := 0; i < 3; i++ {
		assert.InDelta(y[i].Float64(), gamma[i].Float64(), 1e-6)
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			assert.InDelta(want, dPdy.At(i, j).Float64(), 1e-3)
		}
	}
}

func TestProjectSliding(t *testing.T) {
	assert := require.New(t)
	c := newTestCone[scalar.Real](t, 0.5)
	// Rt = Rn so the regularized cone coincides with the physical one.
	r := algebra.VectorOf[scalar.Real]([]float64{0.2, 0.2, 0.2})

	// outside the cone, positive normal: ‖yt‖ = 1 > μ·yn = 0.25
	y := algebra.VectorOf[scalar.Real]([]float64{1.0, 0, 0.5})
	gamma, _ := c.Project(y, r)

	// γₙ = (yn + μ̂‖yt‖)/(1+μ̂μ) = (0.5 + 0.5)/1.25 = 0.8
	assert.InDelta(0.8, gamma[2].Float64(), 1e-4)
	// on the cone boundary: ‖γₜ‖ = μ·γₙ, along yt
	gt := math.Hypot(gamma[0].Float64(), gamma[1].Float64())
	assert.InDelta(0.5*gamma[2].Float64(), gt, 1e-4)
	assert.InDelta(0.0, gamma[1].Float64(), 1e-9)
	assert.Greater(gamma[0].Float64(), 0.0)
}

func TestProjectNoContact(t *testing.T) {
	assert := require.New(t)
	c := newTestCone[scalar.Real](t, 0.5)
	r := algebra.VectorOf[scalar.Real]([]float64{0.2, 0.2, 0.2})

	// non-positive normal beyond the polar boundary
	y := algebra.VectorOf[scalar.Real]([]float64{0.2, 0, -1.0})
	gamma, dPdy := c.Project(y, r)

	for i := 0; i < 3; i++ {
		assert.InDelta(0.0, gamma[i].Float64(), 1e-6)
		for j := 0; j < 3; j++ {
			assert.InDelta(0.0, dPdy.At(i, j).Float64(), 1e-3)
		}
	}
}

func TestProjectFrictionlessDegeneracy(t *testing.T) {
	assert := require.New(t)
	c := newTestCone[scalar.Real](t, 0)
	r := algebra.VectorOf[scalar.Real]([]float64{0.2, 0.2, 0.2})

	// μ = 0: pure unilateral normal constraint, zero tangential set.
	y := algebra.VectorOf[scalar.Real]([]float64{3.0, -2.0, 1.0})
	gamma, dPdy := c.Project(y, r)
	assert.Equal(0.0, gamma[0].Float64())
	assert.Equal(0.0, gamma[1].Float64())
	assert.InDelta(1.0, gamma[2].Float64(), 1e-6)
	assert.InDelta(1.0, dPdy.At(2, 2).Float64(), 1e-3)

	y = algebra.VectorOf[scalar.Real]([]float64{3.0, -2.0, -1.0})
	gamma, _ = c.Project(y, r)
	assert.InDelta(0.0, gamma[2].Float64(), 1e-6)
}

func TestProjectNearZeroTangential(t *testing.T) {
	assert := require.New(t)
	c := newTestCone[scalar.Real](t, 0.5)
	r := algebra.VectorOf[scalar.Real]([]float64{0.2, 0.2, 0.2})

	// vanishing tangential impulse must not divide by zero
	for _, yt := range []float64{0, 1e-15, 1e-10} {
		y := algebra.VectorOf[scalar.Real]([]float64{yt, 0, 1.0})
		gamma, dPdy := c.Project(y, r)
		assert.False(math.IsNaN(gamma[0].Float64()))
		assert.False(math.IsNaN(dPdy.At(0, 0).Float64()))
		assert.InDelta(1.0, gamma[2].Float64(), 1e-6)
		assert.InDelta(yt, gamma[0].Float64(), 1e-9)
	}

	// vanishing tangential and non-positive normal: no-contact fallback
	y := algebra.VectorOf[scalar.Real]([]float64{0, 0, -0.5})
	gamma, _ := c.Project(y, r)
	for i := 0; i < 3; i++ {
		assert.InDelta(0.0, gamma[i].Float64(), 1e-6)
	}
}

// TestProjectDerivativeMatchesDual verifies that the returned ∂γ/∂y is the
// exact derivative of the projection by propagating dual numbers along a
// trajectory that crosses all three regimes.
func TestProjectDerivativeMatchesDual(t *testing.T) {
	assert := require.New(t)
	cReal := newTestCone[scalar.Real](t, 0.5)
	cDual := newTestCone[scalar.Dual](t, 0.5)
	r := algebra.VectorOf[scalar.Real]([]float64{0.2, 0.2, 0.2})
	rDual := algebra.VectorOf[scalar.Dual]([]float64{0.2, 0.2, 0.2})

	// y(s) = (0.6·s, 0.1, 2·s − 1): no contact for small s, then sliding,
	// then sticking; includes points inside the blending bands.
	yOf := func(s float64) [3]float64 {
		return [3]float64{0.6 * s, 0.1, 2*s - 1}
	}
	ydot := [3]float64{0.6, 0, 2}

	for s := 0.05; s < 1.0; s += 0.0317 {
		y := yOf(s)
		gamma, dPdy := cReal.Project(algebra.VectorOf[scalar.Real](y[:]), r)

		yD := algebra.Vector[scalar.Dual]{
			{Real: y[0], Emag: ydot[0]},
			{Real: y[1], Emag: ydot[1]},
			{Real: y[2], Emag: ydot[2]},
		}
		gammaD, _ := cDual.Project(yD, rDual)

		for i := 0; i < 3; i++ {
			assert.InDelta(gamma[i].Float64(), gammaD[i].Float64(), 1e-12)
			// chain rule: dγᵢ/ds = Σⱼ ∂γᵢ/∂yⱼ · dyⱼ/ds
			want := 0.0
			for j := 0; j < 3; j++ {
				want += dPdy.At(i, j).Float64() * ydot[j]
			}
			assert.InDelta(want, gammaD[i].Deriv(), 1e-9, "s=%g i=%d", s, i)
		}
	}
}

// TestProjectDerivativeContinuity samples the analytic derivative densely
// across the sticking/sliding boundary and checks there is no jump: the
// change between consecutive samples stays bounded by the sampling step over
// the blending width.
func TestProjectDerivativeContinuity(t *testing.T) {
	assert := require.New(t)
	c := newTestCone[scalar.Real](t, 0.5)
	r := algebra.VectorOf[scalar.Real]([]float64{0.2, 0.2, 0.2})

	// y(s) = (s, 0, 1) crosses the cone surface at s = μ·yn = 0.5.
	check := func(lo, hi, step, maxJump float64) {
		var prev algebra.Matrix[scalar.Real]
		for s := lo; s <= hi; s += step {
			_, dPdy := c.Project(algebra.VectorOf[scalar.Real]([]float64{s, 0, 1}), r)
			if !prev.IsZero() {
				for i := 0; i < 3; i++ {
					for j := 0; j < 3; j++ {
						jump := math.Abs(dPdy.At(i, j).Float64() - prev.At(i, j).Float64())
						assert.LessOrEqual(jump, maxJump, "s=%g (%d,%d)", s, i, j)
					}
				}
			}
			prev = dPdy
		}
	}
	// across the sticking/sliding boundary
	check(0.499, 0.501, 1e-5, 0.25)
	// across the sliding/no-contact boundary of y(s) = (0.2, 0, s)
	var prev algebra.Matrix[scalar.Real]
	for s := -0.12; s <= -0.08; s += 1e-5 {
		_, dPdy := c.Project(algebra.VectorOf[scalar.Real]([]float64{0.2, 0, s}), r)
		if !prev.IsZero() {
			for i := 0; i < 3; i++ {
				for j := 0; j < 3; j++ {
					jump := math.Abs(dPdy.At(i, j).Float64() - prev.At(i, j).Float64())
					assert.LessOrEqual(jump, 0.25, "s=%g (%d,%d)", s, i, j)
				}
			}
		}
		prev = dPdy
	}
}

func TestCalcRegularization(t *testing.T) {
	assert := require.New(t)

	j := algebra.MatrixOf[scalar.Real](3, 1, []float64{0, 0, 1})
	soft, err := NewFrictionCone[scalar.Real](FrictionConeParameters{
		Mu:              0.5,
		Stiffness:       10,
		DissipationTime: 0.1,
	}, []int{0}, []algebra.Matrix[scalar.Real]{j}, nil)
	assert.NoError(err)

	w := algebra.VectorOf[scalar.Real]([]float64{1.5, 1.5, 1.5})
	dt := scalar.Real(0.01)
	r := soft.CalcRegularization(w, dt)

	assert.Len(r, 3)
	// Rt = σ·w
	assert.InDelta(DefaultSigma*1.5, r[0].Float64(), 1e-12)
	assert.InDelta(r[0].Float64(), r[1].Float64(), 1e-15)
	// compliant branch dominates for soft contact:
	// 1/(δt(δt+τ)k) = 1/(0.01·0.11·10) ≈ 90.9 > β²/4π²·w
	assert.InDelta(1/(0.01*0.11*10), r[2].Float64(), 1e-9)

	// stiff contact switches to the near-rigid bound
	stiff, err := NewFrictionCone[scalar.Real](FrictionConeParameters{
		Mu:        0.5,
		Stiffness: 1e12,
	}, []int{0}, []algebra.Matrix[scalar.Real]{j}, nil)
	assert.NoError(err)
	r = stiff.CalcRegularization(w, dt)
	assert.InDelta(1.5/(4*math.Pi*math.Pi), r[2].Float64(), 1e-9)
}
