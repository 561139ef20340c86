// Package scalar defines the scalar capability every numeric routine in this
// module is generic over, together with its two realizations: Real, a plain
// float64, and Dual, a forward-mode differentiable number backed by
// gonum's dual package.
//
// Code written once against Scalar[T] evaluates with either realization, so
// the contact formulation and its derivatives share a single code path.
package scalar

// Scalar is the method set required of a scalar type T. All methods are value
// methods returning new values; implementations must not mutate receivers.
type Scalar[T any] interface {
	Add(T) T
	Sub(T) T
	Mul(T) T
	Div(T) T
	Neg() T
	Abs() T
	Sqrt() T
	Max(T) T

	// Less compares by value; for differentiable types the comparison
	// ignores derivative information.
	Less(T) bool

	// Float64 returns the value part, discarding any derivative information.
	Float64() float64

	// OfFloat mints a constant of type T in the receiver's context. The
	// receiver's value is irrelevant; the zero value of T works.
	OfFloat(float64) T
}

// Of returns the constant f as a T.
func Of[T Scalar[T]](f float64) T {
	var z T
	return z.OfFloat(f)
}

// Zero returns the additive identity of T.
func Zero[T Scalar[T]]() T {
	var z T
	return z.OfFloat(0)
}

// One returns the multiplicative identity of T.
func One[T Scalar[T]]() T {
	var z T
	return z.OfFloat(1)
}
