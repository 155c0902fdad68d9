// Package secret compares lobby passwords without leaking timing information.
package secret

import (
	"crypto/subtle"

	"lukechampine.com/blake3"
)

// Equal reports whether two secrets match. Both inputs are hashed to a
// fixed-size digest first so the comparison time does not depend on
// where they differ or on their lengths.
func Equal(got, want string) bool {
	a := blake3.Sum256([]byte(got))
	b := blake3.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
