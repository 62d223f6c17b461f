// Package sizing converts the unsigned sizes and offsets of zip records into
// the signed integers Go I/O works with, reporting overflow instead of
// wrapping.
package sizing

import (
	"io"
	"math"
)

// ToInt returns v as an int, or overflowErr when it does not fit.
func ToInt(v uint64, overflowErr error) (int, error) {
	if v > math.MaxInt {
		return 0, overflowErr
	}
	return int(v), nil
}

// ToInt64 returns v as an int64, or overflowErr when it does not fit.
func ToInt64(v uint64, overflowErr error) (int64, error) {
	if v > math.MaxInt64 {
		return 0, overflowErr
	}
	return int64(v), nil
}

// Within reports whether [off, off+n) lies inside [0, size).
func Within(off, n, size int64) bool {
	return off >= 0 && n >= 0 && off <= size && n <= size-off
}

// ReadAllWithLimit reads r to the end, failing with overflowErr once more
// than limit bytes have been seen.
func ReadAllWithLimit(r io.Reader, limit uint64, overflowErr error) ([]byte, error) {
	if limit >= math.MaxInt64 {
		return nil, overflowErr
	}
	data, err := io.ReadAll(io.LimitReader(r, int64(limit)+1)) //nolint:gosec // checked above
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) > limit {
		return nil, overflowErr
	}
	return data, nil
}
