package scalar

import "gonum.org/v1/gonum/num/dual"

// Dual is a forward-mode differentiable realization of Scalar carrying one
// derivative seed. Arithmetic delegates to gonum.org/v1/gonum/num/dual, so
// d/dx propagates through every operation, including Sqrt and the regime
// branches of the cone projection.
type Dual dual.Number

// Var returns v as a Dual seeded as the differentiation variable (dv/dv = 1).
func Var(v float64) Dual { return Dual{Real: v, Emag: 1} }

// Const returns v as a Dual constant (zero derivative).
func Const(v float64) Dual { return Dual{Real: v} }

// Deriv returns the derivative part of a.
func (a Dual) Deriv() float64 { return a.Emag }

func (a Dual) Add(b Dual) Dual { return Dual(dual.Add(dual.Number(a), dual.Number(b))) }
func (a Dual) Sub(b Dual) Dual { return Dual(dual.Sub(dual.Number(a), dual.Number(b))) }
func (a Dual) Mul(b Dual) Dual { return Dual(dual.Mul(dual.Number(a), dual.Number(b))) }
func (a Dual) Div(b Dual) Dual { return Dual(dual.Mul(dual.Number(a), dual.Inv(dual.Number(b)))) }

func (a Dual) Neg() Dual  { return Dual{Real: -a.Real, Emag: -a.Emag} }
func (a Dual) Abs() Dual  { return Dual(dual.Abs(dual.Number(a))) }
func (a Dual) Sqrt() Dual { return Dual(dual.Sqrt(dual.Number(a))) }

func (a Dual) Max(b Dual) Dual {
	if a.Real < b.Real {
		return b
	}
	return a
}

func (a Dual) Less(b Dual) bool { return a.Real < b.Real }

func (a Dual) Float64() float64 { return a.Real }

func (Dual) OfFloat(f float64) Dual { return Dual{Real: f} }
