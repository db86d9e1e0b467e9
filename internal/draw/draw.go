// Package draw computes Secret Santa assignments as permutations without fixed points.
package draw

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

const (
	AlgorithmRejection = "rejection"
	AlgorithmSattolo   = "sattolo"

	DefaultMaxAttempts = 10000
)

var ErrTooFew = errors.New("too few participants to draw")

// Source supplies uniform integers in [0, n). *rand.Rand satisfies it.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

type Options struct {
	// Algorithm is AlgorithmRejection (default) or AlgorithmSattolo.
	Algorithm string
	// AllowMutual permits 2-cycles (A gives to B and B gives to A).
	AllowMutual bool
	// MaxAttempts bounds rejection sampling before falling back to Sattolo.
	MaxAttempts int
	Rand        Source
}

// Result is a permutation where Perm[i] is the receiver index for giver i.
type Result struct {
	Perm      []int
	Algorithm string
	Attempts  int
}

// MinParticipants is the smallest group a draw accepts under the given mutual-pair policy.
func MinParticipants(allowMutual bool) int {
	if allowMutual {
		return 2
	}
	return 3
}

// Derange returns a random permutation of n elements with no fixed points.
func Derange(n int, opts Options) (Result, error) {
	if need := MinParticipants(opts.AllowMutual); n < need {
		return Result{}, fmt.Errorf("%w: have %d, need %d", ErrTooFew, n, need)
	}
	src := opts.Rand
	if src == nil {
		src = globalSource{}
	}
	switch opts.Algorithm {
	case "", AlgorithmRejection:
		maxAttempts := opts.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = DefaultMaxAttempts
		}
		perm := make([]int, n)
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			for i := range perm {
				perm[i] = i
			}
			shuffle(perm, src)
			if IsDerangement(perm, opts.AllowMutual) {
				return Result{Perm: perm, Algorithm: AlgorithmRejection, Attempts: attempt}, nil
			}
		}
		return Result{Perm: Sattolo(n, src), Algorithm: AlgorithmSattolo, Attempts: maxAttempts + 1}, nil
	case AlgorithmSattolo:
		return Result{Perm: Sattolo(n, src), Algorithm: AlgorithmSattolo, Attempts: 1}, nil
	default:
		return Result{}, fmt.Errorf("unknown draw algorithm %q", opts.Algorithm)
	}
}

// Sattolo returns a uniformly random cyclic permutation: a single n-cycle.
func Sattolo(n int, src Source) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := src.IntN(i)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

func shuffle(perm []int, src Source) {
	for i := len(perm) - 1; i > 0; i-- {
		j := src.IntN(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}
}

// IsDerangement reports whether perm is a permutation with no fixed point and,
// unless allowMutual is set, no 2-cycle.
func IsDerangement(perm []int, allowMutual bool) bool {
	seen := make([]bool, len(perm))
	for i, j := range perm {
		if j < 0 || j >= len(perm) || seen[j] || j == i {
			return false
		}
		seen[j] = true
		if !allowMutual && perm[j] == i {
			return false
		}
	}
	return true
}
