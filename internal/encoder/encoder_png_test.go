package encoder

import (
	"bytes"
	"image/png"
	"testing"
)

func TestPNGBackend_RoundTripsRGBA(t *testing.T) {
	b, err := newPNGBackend(Config{Width: 4, Height: 2})
	if err != nil {
		t.Fatalf("newPNGBackend: %v", err)
	}
	if err := b.Initialize(4, 2, 30); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	frame := make([]byte, 4*2*4)
	for i := range frame {
		frame[i] = byte(i)
	}

	out, err := b.Encode(frame)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decoded output is not a valid PNG: %v", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 2 {
		t.Fatalf("decoded image is %dx%d, want 4x2", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestPNGBackend_RejectsWrongFrameSize(t *testing.T) {
	b, _ := newPNGBackend(Config{Width: 4, Height: 2})
	if err := b.Initialize(4, 2, 30); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := b.Encode([]byte{0x01, 0x02}); err == nil {
		t.Fatalf("expected error for mismatched frame size")
	}
}

func TestPNGBackend_RejectsOversizeResolution(t *testing.T) {
	b, _ := newPNGBackend(Config{})
	err := b.Initialize(100000, 100000, 30)
	if err == nil {
		t.Fatalf("expected unsupported-size error")
	}
	var ee *EncodeError
	if !asEncodeError(err, &ee) || ee.Kind != "unsupported-size" {
		t.Fatalf("expected EncodeError(unsupported-size), got %v", err)
	}
}

func TestPNGBackend_AlwaysHealthy(t *testing.T) {
	b, _ := newPNGBackend(Config{})
	if !b.Healthy() {
		t.Fatalf("png backend should always report healthy")
	}
}

func asEncodeError(err error, target **EncodeError) bool {
	if ee, ok := err.(*EncodeError); ok {
		*target = ee
		return true
	}
	return false
}
