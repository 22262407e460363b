package encoding

import (
	"errors"
	"math/big"
	"strings"
)

// ErrInvalidNumber is returned when a decimal string cannot be canonicalized.
var ErrInvalidNumber = errors.New("invalid decimal number")

// CanonicalDecimal normalizes an arbitrary-precision decimal integer string so
// value-equal numbers always produce identical bytes: no leading zeros, no
// plus sign, "-0" folded to "0". Content addressing hashes exactly the bytes
// that are stored, so canonicalization has to happen before ingestion.
func CanonicalDecimal(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrInvalidNumber
	}

	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return "", ErrInvalidNumber
	}

	return n.String(), nil
}
