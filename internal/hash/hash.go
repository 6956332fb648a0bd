// Package hash provides deterministic bucket assignment for percentage
// rollouts.
package hash

import (
	"github.com/zeebo/xxh3"
)

// Buckets is the size of the bucketing domain.
const Buckets = 100

// Bucket maps a subject id to an integer in [0, Buckets). The mapping is
// pure and stable across process restarts: no randomness, no per-process
// seed. A subject admitted at percentage P therefore stays admitted at any
// P' >= P.
func Bucket(subjectID string) int {
	return int(xxh3.HashString(subjectID) % Buckets)
}

// Admitted reports whether the subject falls inside the given rollout
// percentage.
func Admitted(subjectID string, percentage int) bool {
	if percentage <= 0 {
		return false
	}
	if percentage >= Buckets {
		return true
	}
	return Bucket(subjectID) < percentage
}
