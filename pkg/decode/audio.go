package decode

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// AudioDecoder decodes PCM16 little-endian sample streams as fixed frame
// blocks. The subtype "pcm16:<frames>" selects frames per unit, default 1024.
// Each unit also carries its samples normalized to [-1,1] as a vector, so
// audio blocks can be projected and indexed like any other embedding.
type AudioDecoder struct {
	frames int64
}

// NewAudioDecoder parses the subtype and returns an audio decoder.
func NewAudioDecoder(subtype string) (*AudioDecoder, error) {
	frames := int64(1024)
	if subtype != "" {
		raw, ok := strings.CutPrefix(subtype, "pcm16:")
		if !ok {
			return nil, fmt.Errorf("%w: audio subtype %q, want \"pcm16:<frames>\"", ErrBadSubtype, subtype)
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: audio frame count %q", ErrBadSubtype, raw)
		}
		frames = n
	}
	return &AudioDecoder{frames: frames}, nil
}

// blockBytes is the stride of one full unit.
func (d *AudioDecoder) blockBytes() int64 { return d.frames * 2 }

func (d *AudioDecoder) Total(src Source) (uint64, bool) {
	bb := d.blockBytes()
	return uint64((src.Size() + bb - 1) / bb), true
}

func (d *AudioDecoder) Decode(ctx context.Context, src Source, offset, count uint64) ([]Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	bb := d.blockBytes()
	window, err := readWindow(src, int64(offset)*bb, int64(count)*bb)
	if err != nil {
		return nil, err
	}

	units := make([]Unit, 0, count)
	for i := int64(0); i < int64(len(window)); i += bb {
		end := i + bb
		if end > int64(len(window)) {
			end = int64(len(window))
		}
		block := window[i:end]
		pos := offset + uint64(i/bb)
		if len(block)%2 != 0 {
			return nil, fmt.Errorf("%w: audio block at unit %d splits a sample", ErrMalformedUnit, pos)
		}

		vec := make([]float32, len(block)/2)
		for j := range vec {
			s := int16(binary.LittleEndian.Uint16(block[j*2:]))
			vec[j] = float32(s) / 32768
		}

		units = append(units, Unit{Pos: pos, Value: block, Vector: vec})
	}

	return units, nil
}
