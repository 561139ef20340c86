// Package algebra provides the small dense linear-algebra kernel the contact
// formulation needs, generic over the scalar type. It is deliberately not a
// general-purpose library: only the operations the assembly and evaluators
// use are implemented. For float64 data the package bridges to
// gonum.org/v1/gonum/mat at the boundaries.
package algebra

import (
	"fmt"

	"github.com/contactsim/sap/scalar"
)

// Vector is a dense column vector of scalars.
type Vector[T scalar.Scalar[T]] []T

// NewVector returns a zero vector of dimension n.
func NewVector[T scalar.Scalar[T]](n int) Vector[T] {
	return make(Vector[T], n)
}

// VectorOf converts a float64 slice into a Vector.
func VectorOf[T scalar.Scalar[T]](data []float64) Vector[T] {
	v := make(Vector[T], len(data))
	for i, f := range data {
		v[i] = scalar.Of[T](f)
	}
	return v
}

// Floats returns the value parts of v as a float64 slice.
func (v Vector[T]) Floats() []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i].Float64()
	}
	return out
}

// Clone returns a copy of v.
func (v Vector[T]) Clone() Vector[T] {
	out := make(Vector[T], len(v))
	copy(out, v)
	return out
}

// Dot returns vᵀw. Panics on dimension mismatch.
func (v Vector[T]) Dot(w Vector[T]) T {
	if len(v) != len(w) {
		panic(fmt.Sprintf("algebra: dot dimension mismatch %d≠%d", len(v), len(w)))
	}
	acc := scalar.Zero[T]()
	for i := range v {
		acc = acc.Add(v[i].Mul(w[i]))
	}
	return acc
}

// AddScaled sets v = v + alpha*w in place and returns v.
func (v Vector[T]) AddScaled(alpha T, w Vector[T]) Vector[T] {
	if len(v) != len(w) {
		panic(fmt.Sprintf("algebra: axpy dimension mismatch %d≠%d", len(v), len(w)))
	}
	for i := range v {
		v[i] = v[i].Add(alpha.Mul(w[i]))
	}
	return v
}

// Sub returns v - w as a new vector.
func (v Vector[T]) Sub(w Vector[T]) Vector[T] {
	if len(v) != len(w) {
		panic(fmt.Sprintf("algebra: sub dimension mismatch %d≠%d", len(v), len(w)))
	}
	out := make(Vector[T], len(v))
	for i := range v {
		out[i] = v[i].Sub(w[i])
	}
	return out
}

// Norm returns the Euclidean norm of v.
func (v Vector[T]) Norm() T {
	return v.Dot(v).Sqrt()
}
