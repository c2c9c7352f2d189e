// Package encoder implements the Video Encoder and Encoder Selector:
// pluggable backends per codec family (NVENC hardware, software x264-style,
// PNG fallback) behind one contract, generalized from
// internal/remote/desktop's VideoEncoder/encoderBackend/backendFactory
// registry (encoder.go).
package encoder

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/breeze-rmm/sessioncore/internal/codec"
	"github.com/breeze-rmm/sessioncore/internal/logging"
)

var log = logging.L("encoder")

// PixelFormat describes the raw frame's input byte order (§3 Raw frame).
type PixelFormat int

const (
	PixelFormatRGBA PixelFormat = iota
	PixelFormatBGRA
	PixelFormatRGB
	PixelFormatBGR
	PixelFormatNV12
)

var (
	ErrInvalidCodec   = errors.New("encoder: invalid codec")
	ErrInvalidQuality = errors.New("encoder: invalid quality")
	ErrInvalidBitrate = errors.New("encoder: invalid bitrate")
	ErrInvalidFPS     = errors.New("encoder: invalid fps")
	ErrNotInitialized = errors.New("encoder: not initialized")
)

// EncodeError mirrors §7's EncodeError kinds.
type EncodeError struct {
	Kind string
	Msg  string
}

func (e *EncodeError) Error() string { return fmt.Sprintf("encode error (%s): %s", e.Kind, e.Msg) }

// Config configures one VideoEncoder instance.
type Config struct {
	Codec   codec.Codec
	Quality codec.Quality
	Bitrate int
	FPS     int
	Width   int
	Height  int
}

func DefaultConfig() Config {
	return Config{
		Codec:   codec.CodecH264,
		Quality: codec.QualityMedium,
		Bitrate: 2_500_000,
		FPS:     30,
	}
}

// Info is returned by get_info() (§4.3 contract).
type Info struct {
	Name        string
	Hardware    bool
	Codec       codec.Codec
	Bitrate     int
	FPS         int
	Placeholder bool
}

// backend is the contract every codec family implements (§4.3 Contract).
type backend interface {
	Initialize(width, height, fps int) error
	Encode(frame []byte) ([]byte, error)
	AdjustBitrate(kbps int) error
	RequestKeyframe() error
	Info() Info
	Healthy() bool
	Close() error
	SetPixelFormat(pf PixelFormat)
}

// keyframeEvery matches §4.3's "keyframe every 2*fps frames" default policy.
func keyframeEvery(fps int) int {
	if fps <= 0 {
		fps = 30
	}
	return 2 * fps
}

type backendFactory func(cfg Config) (backend, error)

var (
	registryMu sync.Mutex
	registry   = map[codec.Codec]backendFactory{}
)

// RegisterBackend wires a codec family's constructor; platform-specific
// files (NVENC, software libx264-style, PNG) call this from an init().
func RegisterBackend(c codec.Codec, f backendFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[c] = f
}

func newBackend(cfg Config) (backend, error) {
	registryMu.Lock()
	factory, ok := registry[cfg.Codec]
	registryMu.Unlock()
	if !ok {
		return nil, &EncodeError{Kind: "unsupported-format", Msg: "no backend registered for codec " + cfg.Codec.String()}
	}
	return factory(cfg)
}

// VideoEncoder wraps one active backend, handling demotion-after-failure
// and keyframe cadence; identical to the teacher's VideoEncoder shape but
// driven by codec.Codec/codec.Quality instead of the teacher's local
// Codec/QualityPreset enums.
type VideoEncoder struct {
	mu                sync.Mutex
	cfg               Config
	b                 backend
	framesSinceKey    int
	consecutiveErrors int
	onDemote          func(from, to codec.Codec)
}

// New constructs a VideoEncoder for the exact codec in cfg (no fallback
// selection here; use Selector for preference-driven selection).
func New(cfg Config, onDemote func(from, to codec.Codec)) (*VideoEncoder, error) {
	if cfg.Bitrate <= 0 {
		return nil, ErrInvalidBitrate
	}
	if cfg.FPS <= 0 {
		return nil, ErrInvalidFPS
	}
	b, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	if err := b.Initialize(cfg.Width, cfg.Height, cfg.FPS); err != nil {
		return nil, err
	}
	return &VideoEncoder{cfg: cfg, b: b, onDemote: onDemote}, nil
}

// Encode produces one compressed frame, inserting a keyframe on cadence or
// on first use, and demoting to the next-preferred codec after 3
// consecutive encode failures (§4.3 Failure modes).
func (v *VideoEncoder) Encode(raw []byte) (payload []byte, keyframe bool, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.b == nil {
		return nil, false, ErrNotInitialized
	}

	forceKey := v.framesSinceKey == 0 || v.framesSinceKey >= keyframeEvery(v.cfg.FPS)
	if forceKey {
		if err := v.b.RequestKeyframe(); err != nil {
			log.Warn("keyframe request failed", "error", err)
		}
	}

	out, encErr := v.b.Encode(raw)
	if encErr != nil {
		v.consecutiveErrors++
		if v.consecutiveErrors >= 3 {
			v.demoteLocked()
		}
		return nil, false, &EncodeError{Kind: "backend-failure", Msg: encErr.Error()}
	}

	v.consecutiveErrors = 0
	if forceKey {
		v.framesSinceKey = 1
	} else {
		v.framesSinceKey++
	}
	return out, forceKey, nil
}

// demoteLocked swaps to the next codec in the MaxCompatibility chain when
// the current backend has failed 3 frames in a row. Caller holds v.mu.
func (v *VideoEncoder) demoteLocked() {
	next := demotionTarget(v.cfg.Codec)
	if next == v.cfg.Codec {
		return
	}
	log.Warn("encoder demoted after repeated failures", "from", v.cfg.Codec, "to", next)
	newCfg := v.cfg
	newCfg.Codec = next
	b, err := newBackend(newCfg)
	if err != nil {
		log.Error("demotion target unavailable", "target", next, "error", err)
		return
	}
	if err := b.Initialize(newCfg.Width, newCfg.Height, newCfg.FPS); err != nil {
		log.Error("demotion target init failed", "target", next, "error", err)
		return
	}
	old := v.b
	from := v.cfg.Codec
	v.b = b
	v.cfg = newCfg
	v.consecutiveErrors = 0
	v.framesSinceKey = 0
	if old != nil {
		old.Close()
	}
	if v.onDemote != nil {
		v.onDemote(from, next)
	}
}

// demotionTarget is the compatibility fallback chain, ending at Png which
// never fails (it has no GPU/driver dependency).
func demotionTarget(c codec.Codec) codec.Codec {
	switch c {
	case codec.CodecNvencH264, codec.CodecNvencH265, codec.CodecNvencAV1:
		return codec.CodecH264
	case codec.CodecH264, codec.CodecH265:
		return codec.CodecPng
	default:
		return codec.CodecPng
	}
}

func (v *VideoEncoder) AdjustBitrate(kbps int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.b == nil {
		return ErrNotInitialized
	}
	if err := v.b.AdjustBitrate(kbps); err != nil {
		return err
	}
	v.cfg.Bitrate = kbps
	return nil
}

func (v *VideoEncoder) RequestKeyframe() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.b == nil {
		return ErrNotInitialized
	}
	v.framesSinceKey = 0
	return v.b.RequestKeyframe()
}

func (v *VideoEncoder) Info() Info {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.b == nil {
		return Info{Placeholder: true}
	}
	return v.b.Info()
}

func (v *VideoEncoder) Healthy() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.b != nil && v.b.Healthy()
}

func (v *VideoEncoder) SetPixelFormat(pf PixelFormat) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.b != nil {
		v.b.SetPixelFormat(pf)
	}
}

func (v *VideoEncoder) Close() error {
	v.mu.Lock()
	b := v.b
	v.b = nil
	v.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Close()
}

// DetectGPU reports whether an NVIDIA device is present on this host,
// independent of whether the nvenc build tag is active — callers use it to
// populate Capabilities before the nvenc backends are even compiled in, so
// Capabilities.HasGPU reflects hardware reality rather than the build tag.
// When nvenc isn't built, the Selector simply skips NVENC candidates with a
// "no backend registered" warning instead of ever reaching this host's GPU.
func DetectGPU() bool {
	for _, p := range []string{"/dev/nvidia0", "/dev/nvidiactl"} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// SetBitrate/SetQuality implement session.BitrateTarget so a VideoEncoder
// can be driven directly by internal/session's AdaptiveBitrate controller.
func (v *VideoEncoder) SetBitrate(kbps int) error { return v.AdjustBitrate(kbps) }

func (v *VideoEncoder) SetQuality(q codec.Quality) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cfg.Quality = q
	return nil
}
