package encoding

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Raw embedding vectors can reach tens of kilobytes for high-dimension models,
// so blobs above CompressThreshold are stored as zstd frames. The first byte of
// every stored blob is a tag so small vectors skip compression entirely.
const (
	blobTagRaw  = 0x00
	blobTagZstd = 0x01

	// CompressThreshold is the blob size in bytes above which vectors are
	// compressed at rest.
	CompressThreshold = 1024
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// CompressBlob wraps data in a tagged frame, compressing it when it is large
// enough to be worth the CPU.
func CompressBlob(data []byte) []byte {
	if len(data) <= CompressThreshold {
		out := make([]byte, 1+len(data))
		out[0] = blobTagRaw
		copy(out[1:], data)
		return out
	}

	compressed := zstdEncoder.EncodeAll(data, make([]byte, 1, len(data)/2))
	compressed[0] = blobTagZstd
	return compressed
}

// DecompressBlob reverses CompressBlob.
func DecompressBlob(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty blob frame")
	}

	switch data[0] {
	case blobTagRaw:
		out := make([]byte, len(data)-1)
		copy(out, data[1:])
		return out, nil
	case blobTagZstd:
		out, err := zstdDecoder.DecodeAll(data[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress blob: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown blob frame tag 0x%02x", data[0])
	}
}
