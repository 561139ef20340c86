// Package ordering provides PartialPermutation, a mapping from a fixed index
// domain onto a compacted, reordered subset of it. It is the single
// indirection used wherever a sparse subset of indices (participating
// cliques, active equations) must be addressed densely without renumbering
// the original domain.
package ordering

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

var (
	// ErrIndexOutOfRange reports a selected index outside [0, domainSize).
	ErrIndexOutOfRange = errors.New("ordering: index out of range")
	// ErrDuplicateIndex reports a domain index selected more than once.
	ErrDuplicateIndex = errors.New("ordering: duplicate index")
)

// None is returned by Permuted for domain indices outside the permuted subset.
const None = -1

// PartialPermutation maps a domain of size N onto a compacted range of size
// M ≤ N. It is bijective on its selected subset and undefined elsewhere.
// The zero value is the empty permutation over an empty domain. Value type;
// safe to copy and to share between goroutines.
type PartialPermutation struct {
	forward []int // domain index -> compacted index, or None
	inverse []int // compacted index -> domain index
}

// NewPartialPermutation builds the permutation mapping selected[k] -> k for
// every k. Selected indices must be distinct and within [0, domainSize).
func NewPartialPermutation(domainSize int, selected []int) (PartialPermutation, error) {
	if domainSize < 0 {
		return PartialPermutation{}, fmt.Errorf("%w: negative domain size %d", ErrIndexOutOfRange, domainSize)
	}
	forward := make([]int, domainSize)
	for i := range forward {
		forward[i] = None
	}
	seen := bitset.New(uint(domainSize))
	inverse := make([]int, len(selected))
	for k, d := range selected {
		if d < 0 || d >= domainSize {
			return PartialPermutation{}, fmt.Errorf("%w: selected index %d, domain size %d", ErrIndexOutOfRange, d, domainSize)
		}
		if seen.Test(uint(d)) {
			return PartialPermutation{}, fmt.Errorf("%w: selected index %d appears twice", ErrDuplicateIndex, d)
		}
		seen.Set(uint(d))
		forward[d] = k
		inverse[k] = d
	}
	return PartialPermutation{forward: forward, inverse: inverse}, nil
}

// Identity returns the full permutation mapping every index to itself.
func Identity(n int) PartialPermutation {
	selected := make([]int, n)
	for i := range selected {
		selected[i] = i
	}
	p, err := NewPartialPermutation(n, selected)
	if err != nil {
		panic(err) // cannot fail on 0..n-1
	}
	return p
}

// DomainSize returns N, the size of the original domain.
func (p PartialPermutation) DomainSize() int { return len(p.forward) }

// PermutedSize returns M, the size of the compacted range.
func (p PartialPermutation) PermutedSize() int { return len(p.inverse) }

// Participates reports whether domain index i is in the permuted subset.
func (p PartialPermutation) Participates(i int) bool { return p.forward[i] != None }

// Permuted returns the compacted index of domain index i, or (None, false)
// if i is not in the subset.
func (p PartialPermutation) Permuted(i int) (int, bool) {
	k := p.forward[i]
	return k, k != None
}

// Domain returns the domain index mapped to compacted index k.
func (p PartialPermutation) Domain(k int) int { return p.inverse[k] }

// Compose returns the permutation q∘p: domain indices of p mapped through p,
// then through q. q's domain size must equal p's permuted size.
func (p PartialPermutation) Compose(q PartialPermutation) (PartialPermutation, error) {
	if q.DomainSize() != p.PermutedSize() {
		return PartialPermutation{}, fmt.Errorf("%w: compose domain %d with range %d",
			ErrIndexOutOfRange, q.DomainSize(), p.PermutedSize())
	}
	selected := make([]int, 0, q.PermutedSize())
	for k := 0; k < q.PermutedSize(); k++ {
		selected = append(selected, p.Domain(q.Domain(k)))
	}
	return NewPartialPermutation(p.DomainSize(), selected)
}

// Apply gathers the selected entries of full (indexed by domain) into a dense
// slice indexed by compacted position.
func Apply[T any](p PartialPermutation, full []T) []T {
	out := make([]T, p.PermutedSize())
	for k := range out {
		out[k] = full[p.inverse[k]]
	}
	return out
}

// Scatter writes the compacted entries back to their domain positions in
// full, leaving unselected positions untouched.
func Scatter[T any](p PartialPermutation, compact, full []T) {
	for k, d := range p.inverse {
		full[d] = compact[k]
	}
}
