package sap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/contactsim/sap/algebra"
	"github.com/contactsim/sap/scalar"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/sync/errgroup"
)

// Snapshot format: a fixed-size binary header holding section lengths,
// followed by two CBOR (core deterministic encoding) sections for cliques
// and constraints. Deterministic encoding makes snapshots of the same
// problem byte-identical, so they can be diffed and used as regression
// fixtures.

const snapshotVersion = 1

type snapshotHeader struct {
	version        uint32
	bodyLen        uint64
	cliquesLen     uint64
	constraintsLen uint64
}

func (h snapshotHeader) toBytes() []byte {
	buf := make([]byte, 4+8+8+8)
	binary.LittleEndian.PutUint32(buf[0:4], h.version)
	binary.LittleEndian.PutUint64(buf[4:12], h.bodyLen)
	binary.LittleEndian.PutUint64(buf[12:20], h.cliquesLen)
	binary.LittleEndian.PutUint64(buf[20:28], h.constraintsLen)
	return buf
}

func (h *snapshotHeader) fromReader(r io.Reader) error {
	buf := make([]byte, 4+8+8+8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("%w: %v", errShortSnapshot, err)
	}
	h.version = binary.LittleEndian.Uint32(buf[0:4])
	h.bodyLen = binary.LittleEndian.Uint64(buf[4:12])
	h.cliquesLen = binary.LittleEndian.Uint64(buf[12:20])
	h.constraintsLen = binary.LittleEndian.Uint64(buf[20:28])
	if h.version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", h.version)
	}
	return nil
}

// Constraint kinds with a serialized form. The constraint set is closed, so
// the enum is exhaustive.
const (
	kindFrictionCone uint8 = iota + 1
)

type serializedClique struct {
	Dofs       int       `cbor:"1,keyasint"`
	Mass       []float64 `cbor:"2,keyasint"` // row-major Dofs×Dofs
	FreeMotion []float64 `cbor:"3,keyasint"`
}

type serializedConstraint struct {
	Kind      uint8       `cbor:"1,keyasint"`
	Cliques   []int       `cbor:"2,keyasint"`
	Jacobians [][]float64 `cbor:"3,keyasint"` // row-major blocks
	Cols      []int       `cbor:"4,keyasint"`
	Bias      []float64   `cbor:"5,keyasint"`

	Mu           float64 `cbor:"6,keyasint"`
	Stiffness    float64 `cbor:"7,keyasint"`
	Dissipation  float64 `cbor:"8,keyasint"`
	Beta         float64 `cbor:"9,keyasint"`
	Sigma        float64 `cbor:"10,keyasint"`
	SoftTol      float64 `cbor:"11,keyasint"`
	SmoothingTol float64 `cbor:"12,keyasint"`
}

type serializedProblem struct {
	TimeStep float64 `cbor:"1,keyasint"`
}

func matrixFloats[T scalar.Scalar[T]](m algebra.Matrix[T]) []float64 {
	out := make([]float64, 0, m.Rows()*m.Cols())
	for i := 0; i < m.Rows(); i++ {
		for j := 0; j < m.Cols(); j++ {
			out = append(out, m.At(i, j).Float64())
		}
	}
	return out
}

// WriteTo serializes a finalized problem. Only the value parts of the
// scalars are written; derivative information does not survive a round trip.
func (p *ContactProblem[T]) WriteTo(w io.Writer) (int64, error) {
	if !p.finalized {
		return 0, fmt.Errorf("%w: cannot snapshot", ErrNotFinalized)
	}
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return 0, err
	}

	var cliques, constraints []byte
	var g errgroup.Group
	g.Go(func() error {
		scs := make([]serializedClique, len(p.cliques))
		for i, c := range p.cliques {
			scs[i] = serializedClique{
				Dofs:       c.NumVelocities(),
				Mass:       matrixFloats(c.mass),
				FreeMotion: c.freeMotion.Floats(),
			}
		}
		var err error
		cliques, err = em.Marshal(scs)
		return err
	})
	g.Go(func() error {
		scs := make([]serializedConstraint, len(p.constraints))
		for k, c := range p.constraints {
			fc, ok := c.(*FrictionCone[T])
			if !ok {
				return fmt.Errorf("%w: constraint %d has unserializable kind %T", ErrInvalidArgument, k, c)
			}
			params := fc.Parameters()
			sc := serializedConstraint{
				Kind:         kindFrictionCone,
				Cliques:      append([]int(nil), fc.cliques...),
				Bias:         fc.bias.Floats(),
				Mu:           params.Mu,
				Stiffness:    params.Stiffness,
				Dissipation:  params.DissipationTime,
				Beta:         params.Beta,
				Sigma:        params.Sigma,
				SoftTol:      params.SoftTol,
				SmoothingTol: params.SmoothingTol,
			}
			for _, j := range fc.jacobians {
				sc.Jacobians = append(sc.Jacobians, matrixFloats(j))
				sc.Cols = append(sc.Cols, j.Cols())
			}
			scs[k] = sc
		}
		var err error
		constraints, err = em.Marshal(scs)
		return err
	})
	body, err := em.Marshal(serializedProblem{TimeStep: p.timeStep})
	if err != nil {
		return 0, err
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	h := snapshotHeader{
		version:        snapshotVersion,
		bodyLen:        uint64(len(body)),
		cliquesLen:     uint64(len(cliques)),
		constraintsLen: uint64(len(constraints)),
	}
	var written int64
	for _, section := range [][]byte{h.toBytes(), body, cliques, constraints} {
		n, err := w.Write(section)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// ReadContactProblemFrom deserializes a snapshot written by WriteTo and
// returns the reconstructed, finalized problem.
func ReadContactProblemFrom[T scalar.Scalar[T]](r io.Reader) (*ContactProblem[T], error) {
	dm, err := cbor.DecOptions{MaxArrayElements: 134217728}.DecMode()
	if err != nil {
		return nil, err
	}

	var h snapshotHeader
	if err := h.fromReader(r); err != nil {
		return nil, err
	}

	readSection := func(n uint64) ([]byte, error) {
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: %v", errShortSnapshot, err)
		}
		return buf, nil
	}
	bodyBuf, err := readSection(h.bodyLen)
	if err != nil {
		return nil, err
	}
	cliquesBuf, err := readSection(h.cliquesLen)
	if err != nil {
		return nil, err
	}
	constraintsBuf, err := readSection(h.constraintsLen)
	if err != nil {
		return nil, err
	}

	var body serializedProblem
	if err := dm.Unmarshal(bodyBuf, &body); err != nil {
		return nil, fmt.Errorf("snapshot body: %w", err)
	}
	var cliques []serializedClique
	if err := dm.Unmarshal(cliquesBuf, &cliques); err != nil {
		return nil, fmt.Errorf("snapshot cliques: %w", err)
	}
	var constraints []serializedConstraint
	if err := dm.Unmarshal(constraintsBuf, &constraints); err != nil {
		return nil, fmt.Errorf("snapshot constraints: %w", err)
	}

	p, err := NewContactProblem[T](body.TimeStep)
	if err != nil {
		return nil, err
	}
	for i, sc := range cliques {
		if len(sc.Mass) != sc.Dofs*sc.Dofs || len(sc.FreeMotion) != sc.Dofs {
			return nil, fmt.Errorf("%w: snapshot clique %d has inconsistent sizes", ErrInvalidArgument, i)
		}
		mass := algebra.MatrixOf[T](sc.Dofs, sc.Dofs, sc.Mass)
		if _, err := p.AddClique(mass, algebra.VectorOf[T](sc.FreeMotion)); err != nil {
			return nil, fmt.Errorf("snapshot clique %d: %w", i, err)
		}
	}
	for k, sc := range constraints {
		if sc.Kind != kindFrictionCone {
			return nil, fmt.Errorf("%w: snapshot constraint %d has unknown kind %d", ErrInvalidArgument, k, sc.Kind)
		}
		if len(sc.Jacobians) != len(sc.Cliques) || len(sc.Cols) != len(sc.Cliques) {
			return nil, fmt.Errorf("%w: snapshot constraint %d has inconsistent blocks", ErrInvalidArgument, k)
		}
		jacobians := make([]algebra.Matrix[T], len(sc.Jacobians))
		for i, data := range sc.Jacobians {
			if sc.Cols[i] <= 0 || len(data)%sc.Cols[i] != 0 {
				return nil, fmt.Errorf("%w: snapshot constraint %d block %d malformed", ErrInvalidArgument, k, i)
			}
			jacobians[i] = algebra.MatrixOf[T](len(data)/sc.Cols[i], sc.Cols[i], data)
		}
		fc, err := NewFrictionCone(FrictionConeParameters{
			Mu:              sc.Mu,
			Stiffness:       sc.Stiffness,
			DissipationTime: sc.Dissipation,
			Beta:            sc.Beta,
			Sigma:           sc.Sigma,
			SoftTol:         sc.SoftTol,
			SmoothingTol:    sc.SmoothingTol,
		}, sc.Cliques, jacobians, algebra.VectorOf[T](sc.Bias))
		if err != nil {
			return nil, fmt.Errorf("snapshot constraint %d: %w", k, err)
		}
		if _, err := p.AddConstraint(fc); err != nil {
			return nil, fmt.Errorf("snapshot constraint %d: %w", k, err)
		}
	}
	if err := p.Finalize(); err != nil {
		return nil, err
	}
	return p, nil
}

var errShortSnapshot = errors.New("sap: truncated snapshot")
