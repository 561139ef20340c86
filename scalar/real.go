package scalar

import "math"

// Real is the plain float64 realization of Scalar.
type Real float64

func (a Real) Add(b Real) Real { return a + b }
func (a Real) Sub(b Real) Real { return a - b }
func (a Real) Mul(b Real) Real { return a * b }
func (a Real) Div(b Real) Real { return a / b }
func (a Real) Neg() Real       { return -a }

func (a Real) Abs() Real  { return Real(math.Abs(float64(a))) }
func (a Real) Sqrt() Real { return Real(math.Sqrt(float64(a))) }

func (a Real) Max(b Real) Real {
	if a < b {
		return b
	}
	return a
}

func (a Real) Less(b Real) bool { return a < b }

func (a Real) Float64() float64 { return float64(a) }

func (Real) OfFloat(f float64) Real { return Real(f) }
