package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/breeze-rmm/sessioncore/internal/codec"
)

// pngMaxPixels bounds the image-based fallback generously; it has no real
// hardware ceiling, but §8 requires every backend to reject frames beyond
// some declared max_resolution.
const pngMaxPixels = 7680 * 4320 // 8K

func init() {
	RegisterBackend(codec.CodecPng, newPNGBackend)
}

// pngBackend is the §4.3 "Image-based fallback": lossless, no inter-frame
// dependence, every frame is a keyframe. It never fails at runtime (no
// driver, no GPU context) so it is also the terminal link in the
// demotion chain.
type pngBackend struct {
	mu            sync.Mutex
	width, height int
	bitrate       int
	pf            PixelFormat
}

func newPNGBackend(cfg Config) (backend, error) {
	return &pngBackend{width: cfg.Width, height: cfg.Height, bitrate: cfg.Bitrate}, nil
}

func (p *pngBackend) Initialize(width, height, fps int) error {
	if width*height > pngMaxPixels {
		return &EncodeError{Kind: "unsupported-size", Msg: fmt.Sprintf("%dx%d exceeds png max resolution", width, height)}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.width, p.height = width, height
	return nil
}

func (p *pngBackend) Encode(frame []byte) ([]byte, error) {
	p.mu.Lock()
	width, height, pf := p.width, p.height, p.pf
	p.mu.Unlock()

	if width <= 0 || height <= 0 {
		return nil, &EncodeError{Kind: "encoder-lost", Msg: "png backend not initialized"}
	}
	want := width * height * 4
	if len(frame) != want {
		return nil, &EncodeError{Kind: "unsupported-format", Msg: fmt.Sprintf("expected %d bytes for %dx%d RGBA, got %d", want, width, height, len(frame))}
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	switch pf {
	case PixelFormatBGRA:
		bgraToRGBAInto(img.Pix, frame)
	default:
		copy(img.Pix, frame)
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, &EncodeError{Kind: "encoder-lost", Msg: err.Error()}
	}
	return buf.Bytes(), nil
}

// bgraToRGBAInto swaps the R/B channels in place into dst, matching the
// capture layer's own BGRA->RGBA conversion convention (see
// internal/capture's X11 fast path).
func bgraToRGBAInto(dst, src []byte) {
	for i := 0; i+3 < len(src); i += 4 {
		dst[i+0] = src[i+2]
		dst[i+1] = src[i+1]
		dst[i+2] = src[i+0]
		dst[i+3] = src[i+3]
	}
}

func (p *pngBackend) AdjustBitrate(kbps int) error {
	p.mu.Lock()
	p.bitrate = kbps
	p.mu.Unlock()
	return nil
}

// RequestKeyframe is a no-op: every PNG frame is already a keyframe.
func (p *pngBackend) RequestKeyframe() error { return nil }

func (p *pngBackend) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Info{Name: "png", Hardware: false, Codec: codec.CodecPng, Bitrate: p.bitrate}
}

// Healthy is always true: no driver or GPU context to lose.
func (p *pngBackend) Healthy() bool { return true }

func (p *pngBackend) Close() error { return nil }

func (p *pngBackend) SetPixelFormat(pf PixelFormat) {
	p.mu.Lock()
	p.pf = pf
	p.mu.Unlock()
}
