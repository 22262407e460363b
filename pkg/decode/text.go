package decode

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// TextDecoder decodes UTF-8 documents as fixed-size byte segments. Segment
// boundaries are byte positions, not rune positions, so unit geometry stays
// derivable from the offset alone; a rune split across two segments is fine
// for reconstruction and only exempted from validation. Subtype "seg<N>"
// selects the segment size, default 512 bytes.
type TextDecoder struct {
	segSize int64
}

// NewTextDecoder parses the subtype and returns a text decoder.
func NewTextDecoder(subtype string) (*TextDecoder, error) {
	size := int64(512)
	if subtype != "" {
		raw, ok := strings.CutPrefix(subtype, "seg")
		if !ok {
			return nil, fmt.Errorf("%w: text subtype %q, want \"seg<bytes>\"", ErrBadSubtype, subtype)
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: text segment size %q", ErrBadSubtype, raw)
		}
		size = n
	}
	return &TextDecoder{segSize: size}, nil
}

func (d *TextDecoder) Total(src Source) (uint64, bool) {
	return uint64((src.Size() + d.segSize - 1) / d.segSize), true
}

func (d *TextDecoder) Decode(ctx context.Context, src Source, offset, count uint64) ([]Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	window, err := readWindow(src, int64(offset)*d.segSize, int64(count)*d.segSize)
	if err != nil {
		return nil, err
	}

	units := make([]Unit, 0, count)
	for i := int64(0); i < int64(len(window)); i += d.segSize {
		end := i + d.segSize
		if end > int64(len(window)) {
			end = int64(len(window))
		}
		seg := window[i:end]
		pos := offset + uint64(i/d.segSize)

		if !validInterior(seg) {
			return nil, fmt.Errorf("%w: text segment at unit %d is not UTF-8", ErrMalformedUnit, pos)
		}

		units = append(units, Unit{Pos: pos, Value: seg})
	}

	return units, nil
}

// validInterior checks UTF-8 validity of a segment while tolerating a rune
// split across its boundaries: leading continuation bytes and a trailing
// incomplete rune belong to neighboring segments.
func validInterior(seg []byte) bool {
	start := 0
	for start < len(seg) && start < utf8.UTFMax-1 && isContinuation(seg[start]) {
		start++
	}

	end := len(seg)
	for tail := 1; tail < utf8.UTFMax && end-tail >= start; tail++ {
		b := seg[end-tail]
		if isContinuation(b) {
			continue
		}
		// Found the start byte of the trailing rune. Drop it from the check
		// only if the rune is genuinely truncated by the segment boundary.
		if r, size := utf8.DecodeRune(seg[end-tail:]); r == utf8.RuneError && size <= 1 {
			end -= tail
		}
		break
	}

	return utf8.Valid(seg[start:end])
}

func isContinuation(b byte) bool { return b&0xC0 == 0x80 }
