package algebra

import (
	"fmt"

	"github.com/contactsim/sap/scalar"
	"gonum.org/v1/gonum/mat"
)

// Matrix is a dense row-major matrix of scalars.
type Matrix[T scalar.Scalar[T]] struct {
	rows, cols int
	data       []T
}

// NewMatrix returns a zero r×c matrix.
func NewMatrix[T scalar.Scalar[T]](r, c int) Matrix[T] {
	if r < 0 || c < 0 {
		panic(fmt.Sprintf("algebra: negative matrix dimension %d×%d", r, c))
	}
	return Matrix[T]{rows: r, cols: c, data: make([]T, r*c)}
}

// MatrixOf builds an r×c matrix from row-major float64 data.
func MatrixOf[T scalar.Scalar[T]](r, c int, data []float64) Matrix[T] {
	if len(data) != r*c {
		panic(fmt.Sprintf("algebra: matrix data length %d, want %d", len(data), r*c))
	}
	m := NewMatrix[T](r, c)
	for i, f := range data {
		m.data[i] = scalar.Of[T](f)
	}
	return m
}

// FromMat converts any gonum matrix into a Matrix.
func FromMat[T scalar.Scalar[T]](src mat.Matrix) Matrix[T] {
	r, c := src.Dims()
	m := NewMatrix[T](r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.data[i*c+j] = scalar.Of[T](src.At(i, j))
		}
	}
	return m
}

// ToMat returns the value parts of m as a gonum dense matrix.
func (m Matrix[T]) ToMat() *mat.Dense {
	out := mat.NewDense(m.rows, m.cols, nil)
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			out.Set(i, j, m.data[i*m.cols+j].Float64())
		}
	}
	return out
}

// ToSym returns m as a gonum symmetric matrix, reading the upper triangle.
// Panics if m is not square.
func (m Matrix[T]) ToSym() *mat.SymDense {
	if m.rows != m.cols {
		panic(fmt.Sprintf("algebra: ToSym on %d×%d matrix", m.rows, m.cols))
	}
	out := mat.NewSymDense(m.rows, nil)
	for i := 0; i < m.rows; i++ {
		for j := i; j < m.cols; j++ {
			out.SetSym(i, j, m.data[i*m.cols+j].Float64())
		}
	}
	return out
}

// Rows returns the number of rows.
func (m Matrix[T]) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m Matrix[T]) Cols() int { return m.cols }

// IsZero reports whether m has no storage (the zero Matrix value).
func (m Matrix[T]) IsZero() bool { return m.data == nil }

// At returns m[i,j].
func (m Matrix[T]) At(i, j int) T { return m.data[i*m.cols+j] }

// Set assigns m[i,j] = v.
func (m Matrix[T]) Set(i, j int, v T) { m.data[i*m.cols+j] = v }

// Clone returns a deep copy of m.
func (m Matrix[T]) Clone() Matrix[T] {
	out := Matrix[T]{rows: m.rows, cols: m.cols, data: make([]T, len(m.data))}
	copy(out.data, m.data)
	return out
}

// MulVec returns m·x.
func (m Matrix[T]) MulVec(x Vector[T]) Vector[T] {
	if len(x) != m.cols {
		panic(fmt.Sprintf("algebra: mulvec dimension mismatch %d≠%d", len(x), m.cols))
	}
	out := NewVector[T](m.rows)
	for i := 0; i < m.rows; i++ {
		acc := scalar.Zero[T]()
		row := m.data[i*m.cols : (i+1)*m.cols]
		for j := range row {
			acc = acc.Add(row[j].Mul(x[j]))
		}
		out[i] = acc
	}
	return out
}

// MulVecAdd accumulates y += m·x in place.
func (m Matrix[T]) MulVecAdd(y, x Vector[T]) {
	if len(x) != m.cols || len(y) != m.rows {
		panic(fmt.Sprintf("algebra: mulvecadd dimensions (%d,%d) for %d×%d", len(y), len(x), m.rows, m.cols))
	}
	for i := 0; i < m.rows; i++ {
		row := m.data[i*m.cols : (i+1)*m.cols]
		acc := y[i]
		for j := range row {
			acc = acc.Add(row[j].Mul(x[j]))
		}
		y[i] = acc
	}
}

// MulTransVecAdd accumulates y += mᵀ·x in place.
func (m Matrix[T]) MulTransVecAdd(y, x Vector[T]) {
	if len(x) != m.rows || len(y) != m.cols {
		panic(fmt.Sprintf("algebra: multransvecadd dimensions (%d,%d) for %d×%d", len(y), len(x), m.rows, m.cols))
	}
	for i := 0; i < m.rows; i++ {
		row := m.data[i*m.cols : (i+1)*m.cols]
		for j := range row {
			y[j] = y[j].Add(row[j].Mul(x[i]))
		}
	}
}

// Mul returns m·b.
func (m Matrix[T]) Mul(b Matrix[T]) Matrix[T] {
	if m.cols != b.rows {
		panic(fmt.Sprintf("algebra: mul dimension mismatch %d×%d by %d×%d", m.rows, m.cols, b.rows, b.cols))
	}
	out := NewMatrix[T](m.rows, b.cols)
	for i := 0; i < m.rows; i++ {
		for k := 0; k < m.cols; k++ {
			a := m.data[i*m.cols+k]
			for j := 0; j < b.cols; j++ {
				out.data[i*b.cols+j] = out.data[i*b.cols+j].Add(a.Mul(b.data[k*b.cols+j]))
			}
		}
	}
	return out
}

// TransMul returns mᵀ·b.
func (m Matrix[T]) TransMul(b Matrix[T]) Matrix[T] {
	if m.rows != b.rows {
		panic(fmt.Sprintf("algebra: transmul dimension mismatch %d×%d by %d×%d", m.rows, m.cols, b.rows, b.cols))
	}
	out := NewMatrix[T](m.cols, b.cols)
	for k := 0; k < m.rows; k++ {
		for i := 0; i < m.cols; i++ {
			a := m.data[k*m.cols+i]
			for j := 0; j < b.cols; j++ {
				out.data[i*b.cols+j] = out.data[i*b.cols+j].Add(a.Mul(b.data[k*b.cols+j]))
			}
		}
	}
	return out
}

// AddBlock accumulates src into m starting at (i0, j0).
func (m Matrix[T]) AddBlock(i0, j0 int, src Matrix[T]) {
	if i0+src.rows > m.rows || j0+src.cols > m.cols {
		panic(fmt.Sprintf("algebra: block (%d,%d)+%d×%d exceeds %d×%d", i0, j0, src.rows, src.cols, m.rows, m.cols))
	}
	for i := 0; i < src.rows; i++ {
		for j := 0; j < src.cols; j++ {
			k := (i0+i)*m.cols + j0 + j
			m.data[k] = m.data[k].Add(src.data[i*src.cols+j])
		}
	}
}

// Trace returns the sum of diagonal entries. Panics if m is not square.
func (m Matrix[T]) Trace() T {
	if m.rows != m.cols {
		panic(fmt.Sprintf("algebra: trace of %d×%d matrix", m.rows, m.cols))
	}
	acc := scalar.Zero[T]()
	for i := 0; i < m.rows; i++ {
		acc = acc.Add(m.data[i*m.cols+i])
	}
	return acc
}

// Identity returns the n×n identity.
func Identity[T scalar.Scalar[T]](n int) Matrix[T] {
	m := NewMatrix[T](n, n)
	one := scalar.One[T]()
	for i := 0; i < n; i++ {
		m.data[i*n+i] = one
	}
	return m
}
