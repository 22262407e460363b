package decode

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/liliang-cn/sqatom/internal/encoding"
)

// TensorDecoder decodes raw model weight buffers as rows of float32 values.
// The subtype "f32x<width>" fixes the row width, e.g. "f32x128" for a weight
// matrix with 128 columns. Each unit is one row; the row's floats are also
// exposed as a vector so ingestion can project and index them.
type TensorDecoder struct {
	width int64
}

// NewTensorDecoder parses the subtype and returns a tensor decoder.
func NewTensorDecoder(subtype string) (*TensorDecoder, error) {
	raw, ok := strings.CutPrefix(subtype, "f32x")
	if !ok {
		return nil, fmt.Errorf("%w: tensor subtype %q, want \"f32x<width>\"", ErrBadSubtype, subtype)
	}
	width, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || width <= 0 {
		return nil, fmt.Errorf("%w: tensor row width %q", ErrBadSubtype, raw)
	}
	return &TensorDecoder{width: width}, nil
}

// rowBytes is the stride of one full row.
func (d *TensorDecoder) rowBytes() int64 { return d.width * 4 }

func (d *TensorDecoder) Total(src Source) (uint64, bool) {
	rb := d.rowBytes()
	return uint64((src.Size() + rb - 1) / rb), true
}

func (d *TensorDecoder) Decode(ctx context.Context, src Source, offset, count uint64) ([]Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	rb := d.rowBytes()
	window, err := readWindow(src, int64(offset)*rb, int64(count)*rb)
	if err != nil {
		return nil, err
	}

	units := make([]Unit, 0, count)
	for i := int64(0); i < int64(len(window)); i += rb {
		end := i + rb
		if end > int64(len(window)) {
			end = int64(len(window))
		}
		row := window[i:end]
		if len(row)%4 != 0 {
			return nil, fmt.Errorf("%w: tensor row at unit %d has %d trailing bytes", ErrMalformedUnit, offset+uint64(i/rb), len(row)%4)
		}

		vec, err := encoding.Float32sFromBytes(row)
		if err != nil {
			return nil, fmt.Errorf("%w: tensor row at unit %d: %v", ErrMalformedUnit, offset+uint64(i/rb), err)
		}

		units = append(units, Unit{
			Pos:    offset + uint64(i/rb),
			Value:  row,
			Vector: vec,
		})
	}

	return units, nil
}
