package decode

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// NumberDecoder decodes arbitrary-precision decimal integers as fixed-width
// digit limbs. The subtype "dec<N>" selects N digits per limb, default 18.
// The source must already be in canonical form (no leading zeros, at most one
// leading '-'); encoding.CanonicalDecimal produces it. Canonicalizing here
// would change the stored bytes and break bit-perfect reconstruction, so the
// decoder only validates.
type NumberDecoder struct {
	limb int64
}

// NewNumberDecoder parses the subtype and returns a number decoder.
func NewNumberDecoder(subtype string) (*NumberDecoder, error) {
	limb := int64(18)
	if subtype != "" {
		raw, ok := strings.CutPrefix(subtype, "dec")
		if !ok {
			return nil, fmt.Errorf("%w: number subtype %q, want \"dec<digits>\"", ErrBadSubtype, subtype)
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: number limb width %q", ErrBadSubtype, raw)
		}
		limb = n
	}
	return &NumberDecoder{limb: limb}, nil
}

func (d *NumberDecoder) Total(src Source) (uint64, bool) {
	return uint64((src.Size() + d.limb - 1) / d.limb), true
}

func (d *NumberDecoder) Decode(ctx context.Context, src Source, offset, count uint64) ([]Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	window, err := readWindow(src, int64(offset)*d.limb, int64(count)*d.limb)
	if err != nil {
		return nil, err
	}

	units := make([]Unit, 0, count)
	for i := int64(0); i < int64(len(window)); i += d.limb {
		end := i + d.limb
		if end > int64(len(window)) {
			end = int64(len(window))
		}
		limb := window[i:end]
		pos := offset + uint64(i/d.limb)

		if err := validateLimb(limb, pos == 0); err != nil {
			return nil, fmt.Errorf("%w: number limb at unit %d: %v", ErrMalformedUnit, pos, err)
		}

		units = append(units, Unit{Pos: pos, Value: limb})
	}

	return units, nil
}

// validateLimb accepts decimal digits, plus a sign on the first limb only.
func validateLimb(limb []byte, first bool) error {
	for i, b := range limb {
		if b >= '0' && b <= '9' {
			continue
		}
		if b == '-' && first && i == 0 && len(limb) > 1 {
			continue
		}
		return fmt.Errorf("unexpected byte 0x%02x at position %d", b, i)
	}
	if len(limb) == 0 {
		return fmt.Errorf("empty limb")
	}
	return nil
}
