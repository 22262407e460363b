package decode

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/liliang-cn/sqatom/internal/encoding"
)

func TestForSelectsDecoder(t *testing.T) {
	tests := []struct {
		name     string
		modality string
		subtype  string
		wantErr  error
	}{
		{name: "blob default", modality: ModalityBlob},
		{name: "blob sized", modality: ModalityBlob, subtype: "u4096"},
		{name: "tensor", modality: ModalityTensor, subtype: "f32x128"},
		{name: "text default", modality: ModalityText},
		{name: "image", modality: ModalityImage, subtype: "rgba8:16x9"},
		{name: "audio default", modality: ModalityAudio},
		{name: "number default", modality: ModalityNumber},
		{name: "unknown", modality: "video", wantErr: ErrUnknownModality},
		{name: "tensor missing width", modality: ModalityTensor, wantErr: ErrBadSubtype},
		{name: "blob garbage subtype", modality: ModalityBlob, subtype: "x9", wantErr: ErrBadSubtype},
		{name: "image garbage geometry", modality: ModalityImage, subtype: "rgba8:wide", wantErr: ErrBadSubtype},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := For(tt.modality, tt.subtype)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("For() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("For() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBlobDecoderWindows(t *testing.T) {
	src := NewBytesSource([]byte("0123456789"))
	d, err := NewBlobDecoder("")
	if err != nil {
		t.Fatalf("NewBlobDecoder() error = %v", err)
	}

	total, ok := d.Total(src)
	if !ok || total != 10 {
		t.Fatalf("Total() = %d,%v, want 10,true", total, ok)
	}

	ctx := context.Background()

	units, err := d.Decode(ctx, src, 0, 4)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(units) != 4 || units[0].Pos != 0 || string(units[3].Value) != "3" {
		t.Errorf("unexpected first window: %+v", units)
	}

	// Resumption is pure (source, offset): same units regardless of history.
	units, err = d.Decode(ctx, src, 8, 4)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("tail window length = %d, want 2", len(units))
	}
	if units[0].Pos != 8 || string(units[1].Value) != "9" {
		t.Errorf("unexpected tail window: %+v", units)
	}

	units, err = d.Decode(ctx, src, 10, 4)
	if err != nil {
		t.Fatalf("Decode() past end error = %v", err)
	}
	if len(units) != 0 {
		t.Errorf("expected no units past end, got %d", len(units))
	}
}

func TestBlobDecoderMultiByteUnits(t *testing.T) {
	src := NewBytesSource([]byte("aabbccd"))
	d, err := NewBlobDecoder("u2")
	if err != nil {
		t.Fatalf("NewBlobDecoder() error = %v", err)
	}

	total, _ := d.Total(src)
	if total != 4 {
		t.Fatalf("Total() = %d, want 4", total)
	}

	units, err := d.Decode(context.Background(), src, 0, 10)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(units) != 4 {
		t.Fatalf("unit count = %d, want 4", len(units))
	}
	if string(units[3].Value) != "d" {
		t.Errorf("short tail unit = %q, want \"d\"", units[3].Value)
	}
}

func TestTensorDecoderRows(t *testing.T) {
	rows := [][]float32{
		{1, 2, 3},
		{4, 5, 6},
		{7, 8, 9},
	}
	var buf bytes.Buffer
	for _, row := range rows {
		buf.Write(encoding.Float32Bytes(row))
	}
	src := NewBytesSource(buf.Bytes())

	d, err := NewTensorDecoder("f32x3")
	if err != nil {
		t.Fatalf("NewTensorDecoder() error = %v", err)
	}

	total, _ := d.Total(src)
	if total != 3 {
		t.Fatalf("Total() = %d, want 3", total)
	}

	units, err := d.Decode(context.Background(), src, 1, 5)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("unit count = %d, want 2", len(units))
	}
	if units[0].Pos != 1 {
		t.Errorf("Pos = %d, want 1", units[0].Pos)
	}
	for i, want := range rows[1] {
		if units[0].Vector[i] != want {
			t.Errorf("Vector[%d] = %v, want %v", i, units[0].Vector[i], want)
		}
	}
	if !bytes.Equal(units[0].Value, encoding.Float32Bytes(rows[1])) {
		t.Error("row value bytes differ from source bytes")
	}
}

func TestTextDecoderSegments(t *testing.T) {
	text := "héllo wörld, this is a ünicode document"
	src := NewBytesSource([]byte(text))

	d, err := NewTextDecoder("seg7")
	if err != nil {
		t.Fatalf("NewTextDecoder() error = %v", err)
	}

	units, err := d.Decode(context.Background(), src, 0, 100)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	// Concatenated segment values must reproduce the source exactly even
	// when a multi-byte rune straddles a boundary.
	var rebuilt bytes.Buffer
	for _, u := range units {
		rebuilt.Write(u.Value)
	}
	if rebuilt.String() != text {
		t.Errorf("rebuilt text = %q, want %q", rebuilt.String(), text)
	}
}

func TestTextDecoderRejectsBinary(t *testing.T) {
	src := NewBytesSource([]byte{'a', 'b', 0xFF, 0xFE, 0xFD, 'c', 'd', 'e'})
	d, err := NewTextDecoder("seg8")
	if err != nil {
		t.Fatalf("NewTextDecoder() error = %v", err)
	}

	if _, err := d.Decode(context.Background(), src, 0, 1); !errors.Is(err, ErrMalformedUnit) {
		t.Errorf("Decode() error = %v, want ErrMalformedUnit", err)
	}
}

func TestImageDecoderScanlines(t *testing.T) {
	const w, h = 4, 3
	pixels := make([]byte, w*h*4)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	src := NewBytesSource(pixels)

	d, err := NewImageDecoder("rgba8:4x3")
	if err != nil {
		t.Fatalf("NewImageDecoder() error = %v", err)
	}

	total, _ := d.Total(src)
	if total != h {
		t.Fatalf("Total() = %d, want %d", total, h)
	}

	units, err := d.Decode(context.Background(), src, 1, 10)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("unit count = %d, want 2", len(units))
	}
	if !bytes.Equal(units[0].Value, pixels[16:32]) {
		t.Error("scanline bytes differ from source")
	}
}

func TestImageDecoderTruncatedSource(t *testing.T) {
	src := NewBytesSource(make([]byte, 20)) // 3x2 needs 24 bytes
	d, err := NewImageDecoder("rgba8:3x2")
	if err != nil {
		t.Fatalf("NewImageDecoder() error = %v", err)
	}

	if _, err := d.Decode(context.Background(), src, 0, 2); !errors.Is(err, ErrMalformedUnit) {
		t.Errorf("Decode() error = %v, want ErrMalformedUnit", err)
	}
}

func TestAudioDecoderBlocks(t *testing.T) {
	// 6 samples: 0, max, min, 1, -1, 0
	pcm := []byte{
		0x00, 0x00,
		0xFF, 0x7F,
		0x00, 0x80,
		0x01, 0x00,
		0xFF, 0xFF,
		0x00, 0x00,
	}
	src := NewBytesSource(pcm)

	d, err := NewAudioDecoder("pcm16:4")
	if err != nil {
		t.Fatalf("NewAudioDecoder() error = %v", err)
	}

	total, _ := d.Total(src)
	if total != 2 {
		t.Fatalf("Total() = %d, want 2", total)
	}

	units, err := d.Decode(context.Background(), src, 0, 2)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("unit count = %d, want 2", len(units))
	}

	vec := units[0].Vector
	if vec[0] != 0 || vec[2] != -1 {
		t.Errorf("unexpected normalized samples: %v", vec)
	}
	if vec[1] <= 0.99 || vec[1] > 1 {
		t.Errorf("max sample normalized to %v, want ~1", vec[1])
	}
	if len(units[1].Vector) != 2 {
		t.Errorf("tail block sample count = %d, want 2", len(units[1].Vector))
	}
}

func TestNumberDecoderLimbs(t *testing.T) {
	src := NewBytesSource([]byte("-123456789012345"))
	d, err := NewNumberDecoder("dec6")
	if err != nil {
		t.Fatalf("NewNumberDecoder() error = %v", err)
	}

	total, _ := d.Total(src)
	if total != 3 {
		t.Fatalf("Total() = %d, want 3", total)
	}

	units, err := d.Decode(context.Background(), src, 0, 10)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("unit count = %d, want 3", len(units))
	}
	if string(units[0].Value) != "-12345" {
		t.Errorf("first limb = %q", units[0].Value)
	}
	if string(units[2].Value) != "2345" {
		t.Errorf("tail limb = %q", units[2].Value)
	}
}

func TestNumberDecoderRejectsNonDigits(t *testing.T) {
	d, err := NewNumberDecoder("dec4")
	if err != nil {
		t.Fatalf("NewNumberDecoder() error = %v", err)
	}

	tests := []struct {
		name string
		data string
	}{
		{name: "letter", data: "12a4"},
		{name: "sign past first limb", data: "1234-678"},
		{name: "sign mid limb", data: "12-4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewBytesSource([]byte(tt.data))
			if _, err := d.Decode(context.Background(), src, 0, 10); !errors.Is(err, ErrMalformedUnit) {
				t.Errorf("Decode(%q) error = %v, want ErrMalformedUnit", tt.data, err)
			}
		})
	}
}

func TestDecodeHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, _ := NewBlobDecoder("")
	if _, err := d.Decode(ctx, NewBytesSource([]byte("xyz")), 0, 3); err == nil {
		t.Error("expected context error")
	}
}
