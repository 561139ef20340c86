package algebra

import (
	"errors"
	"fmt"

	"github.com/contactsim/sap/scalar"
)

// ErrNotPositiveDefinite is returned when a Cholesky factorization meets a
// non-positive pivot.
var ErrNotPositiveDefinite = errors.New("algebra: matrix is not positive definite")

// Cholesky is the lower-triangular factor L of a symmetric positive-definite
// matrix, A = L·Lᵀ. The factorization is generic over the scalar type so
// derivative information flows through solves.
type Cholesky[T scalar.Scalar[T]] struct {
	n int
	l []T // row-major lower triangle, full n×n storage
}

// Factorize computes the Cholesky factorization of a, reading its lower
// triangle. Returns ErrNotPositiveDefinite if a pivot is not positive.
func Factorize[T scalar.Scalar[T]](a Matrix[T]) (Cholesky[T], error) {
	if a.Rows() != a.Cols() {
		return Cholesky[T]{}, fmt.Errorf("algebra: factorize %d×%d matrix: not square", a.Rows(), a.Cols())
	}
	n := a.Rows()
	l := make([]T, n*n)
	zero := scalar.Zero[T]()
	for j := 0; j < n; j++ {
		d := a.At(j, j)
		for k := 0; k < j; k++ {
			d = d.Sub(l[j*n+k].Mul(l[j*n+k]))
		}
		if !zero.Less(d) {
			return Cholesky[T]{}, ErrNotPositiveDefinite
		}
		d = d.Sqrt()
		l[j*n+j] = d
		for i := j + 1; i < n; i++ {
			s := a.At(i, j)
			for k := 0; k < j; k++ {
				s = s.Sub(l[i*n+k].Mul(l[j*n+k]))
			}
			l[i*n+j] = s.Div(d)
		}
	}
	return Cholesky[T]{n: n, l: l}, nil
}

// Solve returns x with A·x = b.
func (c Cholesky[T]) Solve(b Vector[T]) Vector[T] {
	if len(b) != c.n {
		panic(fmt.Sprintf("algebra: solve dimension mismatch %d≠%d", len(b), c.n))
	}
	// forward substitution L·y = b
	y := make(Vector[T], c.n)
	for i := 0; i < c.n; i++ {
		s := b[i]
		for k := 0; k < i; k++ {
			s = s.Sub(c.l[i*c.n+k].Mul(y[k]))
		}
		y[i] = s.Div(c.l[i*c.n+i])
	}
	// back substitution Lᵀ·x = y
	x := y
	for i := c.n - 1; i >= 0; i-- {
		s := x[i]
		for k := i + 1; k < c.n; k++ {
			s = s.Sub(c.l[k*c.n+i].Mul(x[k]))
		}
		x[i] = s.Div(c.l[i*c.n+i])
	}
	return x
}

// SolveMatrix returns X with A·X = B, column by column.
func (c Cholesky[T]) SolveMatrix(b Matrix[T]) Matrix[T] {
	if b.Rows() != c.n {
		panic(fmt.Sprintf("algebra: solve dimension mismatch %d≠%d", b.Rows(), c.n))
	}
	out := NewMatrix[T](c.n, b.Cols())
	col := make(Vector[T], c.n)
	for j := 0; j < b.Cols(); j++ {
		for i := 0; i < c.n; i++ {
			col[i] = b.At(i, j)
		}
		x := c.Solve(col)
		for i := 0; i < c.n; i++ {
			out.Set(i, j, x[i])
		}
	}
	return out
}
