package retry

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"golang.org/x/exp/constraints"
)

// Strategy decides how long to wait before attempt n+1. The second return
// value reports that no further attempts are allowed.
type Strategy interface {
	Sleep(attempt uint) (time.Duration, bool)
}

type never struct{}

func NewNever() Strategy {
	return &never{}
}

func (*never) Sleep(uint) (time.Duration, bool) {
	return 0, true
}

// Entropy maps an upper bound to a jittered delay in [0, bound).
type Entropy func(int64) int64

type exponentialBackOff struct {
	base        time.Duration
	max         time.Duration
	maxAttempts uint
	entropy     Entropy
}

// NewExponentialBackOff doubles base on every attempt, caps it at max and
// applies entropy. A nil entropy means full jitter.
func NewExponentialBackOff(base time.Duration, max time.Duration, maxAttempts uint, entropy Entropy) Strategy {
	if entropy == nil {
		entropy = rand.Int63n
	}
	return &exponentialBackOff{
		base:        base,
		max:         max,
		maxAttempts: maxAttempts,
		entropy:     entropy,
	}
}

func (eb *exponentialBackOff) Sleep(attempt uint) (time.Duration, bool) {
	if attempt >= eb.maxAttempts {
		return 0, true
	}

	limit := int64(eb.max)
	if attempt < 63 {
		if delay, err := checkedMulInt64(1<<attempt, int64(eb.base)); err == nil {
			limit = smaller(delay, limit)
		}
	}
	if limit <= 0 {
		return 0, false
	}
	return time.Duration(eb.entropy(limit)), false
}

func smaller[T constraints.Ordered](l T, r T) T {
	if l > r {
		return r
	}
	return l
}

var ErrOverflow = errors.New("overflow")

func checkedMulInt64(l int64, r int64) (int64, error) {
	if l == 0 || r == 0 {
		return 0, nil
	}
	if l > math.MaxInt64/r {
		return 0, ErrOverflow
	}
	return l * r, nil
}
