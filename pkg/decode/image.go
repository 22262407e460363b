package decode

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ImageDecoder decodes raw pixel buffers as scanline units. The subtype
// "rgba8:<width>x<height>" fixes the geometry; each unit is one scanline of
// width*4 bytes. Format parsing beyond raw RGBA is a front-door concern and
// stays out of this layer.
type ImageDecoder struct {
	width  int64
	height int64
}

// NewImageDecoder parses the subtype and returns an image decoder.
func NewImageDecoder(subtype string) (*ImageDecoder, error) {
	raw, ok := strings.CutPrefix(subtype, "rgba8:")
	if !ok {
		return nil, fmt.Errorf("%w: image subtype %q, want \"rgba8:<w>x<h>\"", ErrBadSubtype, subtype)
	}

	w, h, ok := strings.Cut(raw, "x")
	if !ok {
		return nil, fmt.Errorf("%w: image geometry %q", ErrBadSubtype, raw)
	}

	width, err := strconv.ParseInt(w, 10, 64)
	if err != nil || width <= 0 {
		return nil, fmt.Errorf("%w: image width %q", ErrBadSubtype, w)
	}
	height, err := strconv.ParseInt(h, 10, 64)
	if err != nil || height <= 0 {
		return nil, fmt.Errorf("%w: image height %q", ErrBadSubtype, h)
	}

	return &ImageDecoder{width: width, height: height}, nil
}

// stride is the byte length of one scanline.
func (d *ImageDecoder) stride() int64 { return d.width * 4 }

func (d *ImageDecoder) Total(src Source) (uint64, bool) {
	return uint64(d.height), true
}

func (d *ImageDecoder) Decode(ctx context.Context, src Source, offset, count uint64) ([]Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count == 0 || offset >= uint64(d.height) {
		return nil, nil
	}
	if offset+count > uint64(d.height) {
		count = uint64(d.height) - offset
	}

	stride := d.stride()
	window, err := readWindow(src, int64(offset)*stride, int64(count)*stride)
	if err != nil {
		return nil, err
	}
	if int64(len(window)) != int64(count)*stride {
		return nil, fmt.Errorf("%w: image source truncated at scanline %d", ErrMalformedUnit, offset+uint64(int64(len(window))/stride))
	}

	units := make([]Unit, 0, count)
	for i := int64(0); i < int64(len(window)); i += stride {
		units = append(units, Unit{
			Pos:   offset + uint64(i/stride),
			Value: window[i : i+stride],
		})
	}

	return units, nil
}
