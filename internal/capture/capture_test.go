package capture

import (
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"
)

type stubSource struct {
	img     *image.RGBA
	calls   atomic.Int32
	tight   bool
	changes uint32
}

func (s *stubSource) Capture() (*image.RGBA, error) {
	s.calls.Add(1)
	return s.img, nil
}

func (s *stubSource) CaptureRegion(x, y, width, height int) (*image.RGBA, error) {
	return s.img, nil
}

func (s *stubSource) Bounds() (int, int, error) {
	return s.img.Bounds().Dx(), s.img.Bounds().Dy(), nil
}

func (s *stubSource) Close() error { return nil }

func (s *stubSource) TightLoop() bool { return s.tight }

func TestOpenTriesCandidatesInOrder(t *testing.T) {
	saved := registry
	defer func() { registry = saved }()
	registry = map[Backend]Factory{}

	Register(Backend("always-fails"), func(cfg Config) (Source, Backend, error) {
		return nil, "", errors.New("boom")
	})
	Register(Backend("works"), func(cfg Config) (Source, Backend, error) {
		return &stubSource{img: image.NewRGBA(image.Rect(0, 0, 1, 1))}, Backend("works"), nil
	})

	_, got, err := Open(DefaultConfig(), []Backend{"always-fails", "works"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != "works" {
		t.Errorf("backend = %v, want works", got)
	}
}

func TestOpenReturnsErrorWhenAllFail(t *testing.T) {
	saved := registry
	defer func() { registry = saved }()
	registry = map[Backend]Factory{}
	Register(Backend("bad"), func(cfg Config) (Source, Backend, error) {
		return nil, "", errors.New("nope")
	})

	_, _, err := Open(DefaultConfig(), []Backend{"bad"})
	if err == nil {
		t.Fatal("expected error when every backend fails")
	}
	if err.(*CaptureError).Kind != "backend-unavailable" {
		t.Errorf("kind = %q, want backend-unavailable", err.(*CaptureError).Kind)
	}
}

func TestPacerStopsWhenCallbackReturnsFalse(t *testing.T) {
	src := &stubSource{img: image.NewRGBA(image.Rect(0, 0, 4, 4))}
	p := NewPacer(src, 1000)

	got := 0
	done := make(chan struct{})
	go func() {
		p.Run(func(*image.RGBA) bool {
			got++
			return got < 3
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pacer did not stop after onFrame returned false")
	}
	if got != 3 {
		t.Errorf("frames delivered = %d, want 3", got)
	}
}

func TestPacerStop(t *testing.T) {
	src := &stubSource{img: image.NewRGBA(image.Rect(0, 0, 2, 2))}
	p := NewPacer(src, 1000)

	done := make(chan struct{})
	go func() {
		p.Run(func(*image.RGBA) bool { return true })
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	p.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pacer did not stop after Stop()")
	}
}
