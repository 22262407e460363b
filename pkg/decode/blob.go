package decode

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// BlobDecoder decodes opaque binary data as fixed-size byte units. The
// subtype "u<N>" selects N bytes per unit; the empty subtype decodes single
// bytes, which gives the finest possible dedup granularity at the cost of
// more units.
type BlobDecoder struct {
	unitSize int64
}

// NewBlobDecoder parses the subtype and returns a blob decoder.
func NewBlobDecoder(subtype string) (*BlobDecoder, error) {
	size := int64(1)
	if subtype != "" {
		raw, ok := strings.CutPrefix(subtype, "u")
		if !ok {
			return nil, fmt.Errorf("%w: blob subtype %q, want \"u<bytes>\"", ErrBadSubtype, subtype)
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: blob unit size %q", ErrBadSubtype, raw)
		}
		size = n
	}
	return &BlobDecoder{unitSize: size}, nil
}

func (d *BlobDecoder) Total(src Source) (uint64, bool) {
	return uint64((src.Size() + d.unitSize - 1) / d.unitSize), true
}

func (d *BlobDecoder) Decode(ctx context.Context, src Source, offset, count uint64) ([]Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	window, err := readWindow(src, int64(offset)*d.unitSize, int64(count)*d.unitSize)
	if err != nil {
		return nil, err
	}

	units := make([]Unit, 0, count)
	for i := int64(0); i < int64(len(window)); i += d.unitSize {
		end := i + d.unitSize
		if end > int64(len(window)) {
			end = int64(len(window))
		}
		units = append(units, Unit{
			Pos:   offset + uint64(i/d.unitSize),
			Value: window[i:end],
		})
	}

	return units, nil
}
