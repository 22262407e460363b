// Package decode defines the streaming per-modality decoding contract used by
// governed ingestion.
//
// A Decoder turns a window of a byte source into a bounded slice of units
// without reading anything outside the window, and is resumable purely from
// (source, offset): there is no hidden state between calls, which is what
// makes chunked ingestion safe to interrupt and retry. Unit values are the
// exact source bytes for their window, so ordered unit resolution
// reconstructs the original object bit for bit.
package decode

import (
	"context"
	"errors"
	"fmt"
)

// Modality names understood by For. Job metadata selects the decoder; there
// is no type hierarchy behind this.
const (
	ModalityBlob   = "blob"
	ModalityTensor = "tensor"
	ModalityText   = "text"
	ModalityImage  = "image"
	ModalityAudio  = "audio"
	ModalityNumber = "number"
)

var (
	// ErrUnknownModality is returned by For when no decoder matches.
	ErrUnknownModality = errors.New("unknown modality")

	// ErrBadSubtype is returned when a subtype string cannot be parsed.
	ErrBadSubtype = errors.New("invalid decoder subtype")

	// ErrMalformedUnit is returned when window bytes violate the modality's
	// encoding (non-digit in a number, broken UTF-8 in text, short row).
	ErrMalformedUnit = errors.New("malformed unit")
)

// Unit is one atomic element produced by a decoder.
type Unit struct {
	// Pos is the absolute unit index within the source.
	Pos uint64

	// Value holds the canonical bytes of the unit, exactly as they appear
	// in the source.
	Value []byte

	// Vector is set by embedding-capable modalities (tensor rows, audio
	// frames) and feeds the spatial projector. Nil otherwise.
	Vector []float32
}

// Decoder lazily decodes a bounded window of units from a source.
type Decoder interface {
	// Decode returns at most count units starting at absolute unit offset.
	// Fewer than count units means the source is exhausted. Decode must not
	// read source bytes beyond what the window requires.
	Decode(ctx context.Context, src Source, offset, count uint64) ([]Unit, error)

	// Total reports the number of units in the source, when the modality's
	// geometry allows computing it from the source size alone.
	Total(src Source) (uint64, bool)
}

// For selects a decoder by modality and subtype.
func For(modality, subtype string) (Decoder, error) {
	switch modality {
	case ModalityBlob:
		return NewBlobDecoder(subtype)
	case ModalityTensor:
		return NewTensorDecoder(subtype)
	case ModalityText:
		return NewTextDecoder(subtype)
	case ModalityImage:
		return NewImageDecoder(subtype)
	case ModalityAudio:
		return NewAudioDecoder(subtype)
	case ModalityNumber:
		return NewNumberDecoder(subtype)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModality, modality)
	}
}
