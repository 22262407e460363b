package encoding

import (
	"bytes"
	"math"
	"testing"
)

func TestVectorEncoding(t *testing.T) {
	tests := []struct {
		name   string
		vector []float32
	}{
		{
			name:   "simple vector",
			vector: []float32{1.0, 2.0, 3.0},
		},
		{
			name:   "empty vector",
			vector: []float32{},
		},
		{
			name:   "single element",
			vector: []float32{42.0},
		},
		{
			name:   "large vector",
			vector: make([]float32, 1000),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if len(tt.vector) == 1000 {
				for i := range tt.vector {
					tt.vector[i] = float32(i) * 0.1
				}
			}

			encoded, err := EncodeVector(tt.vector)
			if err != nil {
				t.Fatalf("EncodeVector() error = %v", err)
			}

			decoded, err := DecodeVector(encoded)
			if err != nil {
				t.Fatalf("DecodeVector() error = %v", err)
			}

			if len(decoded) != len(tt.vector) {
				t.Fatalf("decoded length = %d, want %d", len(decoded), len(tt.vector))
			}
			for i := range decoded {
				if decoded[i] != tt.vector[i] {
					t.Errorf("decoded[%d] = %v, want %v", i, decoded[i], tt.vector[i])
				}
			}
		})
	}
}

func TestEncodeVectorNil(t *testing.T) {
	if _, err := EncodeVector(nil); err == nil {
		t.Error("expected error for nil vector")
	}
}

func TestDecodeVectorTruncated(t *testing.T) {
	encoded, err := EncodeVector([]float32{1, 2, 3})
	if err != nil {
		t.Fatalf("EncodeVector() error = %v", err)
	}

	if _, err := DecodeVector(encoded[:len(encoded)-2]); err == nil {
		t.Error("expected error for truncated data")
	}
	if _, err := DecodeVector([]byte{0x01}); err == nil {
		t.Error("expected error for short header")
	}
}

func TestFloat32Bytes(t *testing.T) {
	vals := []float32{0, -1.5, 3.25, float32(math.Pi)}

	raw := Float32Bytes(vals)
	if len(raw) != 16 {
		t.Fatalf("raw length = %d, want 16", len(raw))
	}

	back, err := Float32sFromBytes(raw)
	if err != nil {
		t.Fatalf("Float32sFromBytes() error = %v", err)
	}
	for i := range vals {
		if back[i] != vals[i] {
			t.Errorf("back[%d] = %v, want %v", i, back[i], vals[i])
		}
	}

	if _, err := Float32sFromBytes(raw[:7]); err == nil {
		t.Error("expected error for non-multiple-of-4 input")
	}
}

func TestValidateVector(t *testing.T) {
	tests := []struct {
		name    string
		vector  []float32
		wantErr bool
	}{
		{name: "valid", vector: []float32{1, 2, 3}},
		{name: "nil", vector: nil, wantErr: true},
		{name: "empty", vector: []float32{}, wantErr: true},
		{name: "nan", vector: []float32{1, float32(math.NaN())}, wantErr: true},
		{name: "inf", vector: []float32{float32(math.Inf(1))}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVector(tt.vector)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVector() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCompressBlobRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{name: "small stays raw", size: 64},
		{name: "boundary", size: CompressThreshold},
		{name: "large compresses", size: 64 * 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.size)
			for i := range data {
				data[i] = byte(i % 7) // repetitive, compressible
			}

			framed := CompressBlob(data)
			back, err := DecompressBlob(framed)
			if err != nil {
				t.Fatalf("DecompressBlob() error = %v", err)
			}
			if !bytes.Equal(back, data) {
				t.Error("round trip mismatch")
			}

			if tt.size > CompressThreshold && len(framed) >= tt.size {
				t.Errorf("compressible blob did not shrink: %d -> %d", tt.size, len(framed))
			}
		})
	}
}

func TestDecompressBlobBadInput(t *testing.T) {
	if _, err := DecompressBlob(nil); err == nil {
		t.Error("expected error for empty frame")
	}
	if _, err := DecompressBlob([]byte{0xFF, 1, 2}); err == nil {
		t.Error("expected error for unknown tag")
	}
}

func TestCanonicalDecimal(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: "12345", want: "12345"},
		{name: "leading zeros", in: "00042", want: "42"},
		{name: "negative", in: "-0099", want: "-99"},
		{name: "negative zero", in: "-0", want: "0"},
		{name: "plus sign", in: "+7", want: "7"},
		{name: "whitespace", in: "  15  ", want: "15"},
		{name: "empty", in: "", wantErr: true},
		{name: "not a number", in: "12a3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalDecimal(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CanonicalDecimal(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("CanonicalDecimal(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
