package encoder

import (
	"errors"
	"sync"
	"testing"

	"github.com/breeze-rmm/sessioncore/internal/codec"
)

// fakeBackend is a test double satisfying the backend contract; it fails
// Encode when failNext is set, letting tests drive the 3-consecutive-
// failure demotion path deterministically.
type fakeBackend struct {
	mu       sync.Mutex
	c        codec.Codec
	failNext bool
	closed   bool
	keyframe int
}

func registerFake(t *testing.T, c codec.Codec) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{c: c}
	RegisterBackend(c, func(cfg Config) (backend, error) { return fb, nil })
	return fb
}

func (f *fakeBackend) Initialize(width, height, fps int) error { return nil }
func (f *fakeBackend) Encode(frame []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return nil, errors.New("injected failure")
	}
	return []byte{0x01, 0x02}, nil
}
func (f *fakeBackend) AdjustBitrate(kbps int) error { return nil }
func (f *fakeBackend) RequestKeyframe() error {
	f.mu.Lock()
	f.keyframe++
	f.mu.Unlock()
	return nil
}
func (f *fakeBackend) Info() Info { return Info{Name: "fake", Codec: f.c} }
func (f *fakeBackend) Healthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}
func (f *fakeBackend) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
func (f *fakeBackend) SetPixelFormat(pf PixelFormat) {}

func TestVideoEncoder_FirstFrameIsKeyframe(t *testing.T) {
	registerFake(t, codec.CodecH264)
	enc, err := New(Config{Codec: codec.CodecH264, Bitrate: 1000, FPS: 30, Width: 640, Height: 480}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer enc.Close()

	_, keyframe, err := enc.Encode([]byte{0xAA})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !keyframe {
		t.Fatalf("expected first encoded frame to be a keyframe")
	}
}

func TestVideoEncoder_KeyframeCadence(t *testing.T) {
	registerFake(t, codec.CodecH264)
	enc, err := New(Config{Codec: codec.CodecH264, Bitrate: 1000, FPS: 2, Width: 640, Height: 480}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer enc.Close()

	// keyframeEvery(2) == 4: frames 1 and 5 should be keyframes, 2-4 not.
	wantKey := []bool{true, false, false, false, true}
	for i, want := range wantKey {
		_, keyframe, err := enc.Encode([]byte{0xAA})
		if err != nil {
			t.Fatalf("Encode[%d]: %v", i, err)
		}
		if keyframe != want {
			t.Fatalf("frame %d: keyframe=%v, want %v", i, keyframe, want)
		}
	}
}

func TestVideoEncoder_DemotesAfterThreeFailures(t *testing.T) {
	primary := registerFake(t, codec.CodecH264)
	registerFake(t, codec.CodecPng)

	var demotedFrom, demotedTo codec.Codec
	enc, err := New(Config{Codec: codec.CodecH264, Bitrate: 1000, FPS: 30, Width: 640, Height: 480}, func(from, to codec.Codec) {
		demotedFrom, demotedTo = from, to
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer enc.Close()

	if _, _, err := enc.Encode([]byte{0xAA}); err != nil {
		t.Fatalf("warmup encode: %v", err)
	}

	primary.mu.Lock()
	primary.failNext = true
	primary.mu.Unlock()

	for i := 0; i < 3; i++ {
		if _, _, err := enc.Encode([]byte{0xAA}); err == nil {
			t.Fatalf("expected failure on attempt %d", i)
		}
	}

	if demotedFrom != codec.CodecH264 || demotedTo != codec.CodecPng {
		t.Fatalf("expected demotion h264->png, got %v->%v", demotedFrom, demotedTo)
	}
	if enc.Info().Codec != codec.CodecPng {
		t.Fatalf("encoder did not switch backend: %v", enc.Info().Codec)
	}

	// The frame right after demotion must be a keyframe.
	_, keyframe, err := enc.Encode([]byte{0xAA})
	if err != nil {
		t.Fatalf("post-demotion encode: %v", err)
	}
	if !keyframe {
		t.Fatalf("expected post-demotion frame to be a keyframe")
	}
}

func TestVideoEncoder_RequestKeyframeResetsCadence(t *testing.T) {
	registerFake(t, codec.CodecH264)
	enc, err := New(Config{Codec: codec.CodecH264, Bitrate: 1000, FPS: 30, Width: 640, Height: 480}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer enc.Close()

	if _, _, err := enc.Encode([]byte{0xAA}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, _, err := enc.Encode([]byte{0xAA}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.RequestKeyframe(); err != nil {
		t.Fatalf("RequestKeyframe: %v", err)
	}
	_, keyframe, err := enc.Encode([]byte{0xAA})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !keyframe {
		t.Fatalf("expected keyframe immediately after RequestKeyframe")
	}
}

func TestNew_InvalidBitrateRejected(t *testing.T) {
	registerFake(t, codec.CodecH264)
	if _, err := New(Config{Codec: codec.CodecH264, Bitrate: 0, FPS: 30}, nil); err != ErrInvalidBitrate {
		t.Fatalf("expected ErrInvalidBitrate, got %v", err)
	}
}

func TestNew_UnregisteredCodecFails(t *testing.T) {
	registryMu.Lock()
	delete(registry, codec.CodecJpeg)
	registryMu.Unlock()

	if _, err := New(Config{Codec: codec.CodecJpeg, Bitrate: 1000, FPS: 30}, nil); err == nil {
		t.Fatalf("expected error for unregistered codec")
	}
}
