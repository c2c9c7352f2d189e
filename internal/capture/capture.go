// Package capture implements the Capture Source: screen-capture variants
// that feed raw frames to the Video Encoder, generalized from
// internal/remote/desktop's ScreenCapturer family to the session-core
// Capture Source contract (§4.2).
package capture

import (
	"errors"
	"image"
	"time"

	"github.com/breeze-rmm/sessioncore/internal/logging"
)

var log = logging.L("capture")

// Source is the Capture Source contract: produce a frame on demand, report
// screen bounds, and release resources on Close.
type Source interface {
	Capture() (*image.RGBA, error)
	CaptureRegion(x, y, width, height int) (*image.RGBA, error)
	Bounds() (width, height int, err error)
	Close() error
}

// BGRAProvider is implemented by sources that hand back BGRA pixel data in
// image.RGBA.Pix, letting the encoder skip a BGRA->RGBA conversion.
type BGRAProvider interface {
	IsBGRA() bool
}

// TightLoopHint is implemented by sources that internally block until a new
// frame is ready, letting the caller skip its own pacing ticker.
type TightLoopHint interface {
	TightLoop() bool
}

// FrameChangeHint lets a source report "nothing changed" without a full
// pixel compare; Capture returning (nil, nil) means skip this tick.
type FrameChangeHint interface {
	AccumulatedFrames() uint32
}

// CursorProvider reports cursor position for independent cursor streaming.
type CursorProvider interface {
	CursorPosition() (x, y int32, visible bool)
}

// DesktopSwitchNotifier reports desktop-session transitions (e.g. a Linux
// greeter/lock-screen switch) so the caller can force a keyframe and reset
// cursor offsets.
type DesktopSwitchNotifier interface {
	ConsumeDesktopSwitch() bool
}

var (
	ErrNotSupported     = errors.New("capture: not supported in this session environment")
	ErrPermissionDenied = errors.New("capture: permission denied")
	ErrDisplayNotFound  = errors.New("capture: display not found")
)

// CaptureError mirrors §7's CaptureError kinds.
type CaptureError struct {
	Kind string
	Msg  string
}

func (e *CaptureError) Error() string { return "capture error (" + e.Kind + "): " + e.Msg }

// Config configures which display/region a Source captures.
type Config struct {
	DisplayIndex int
	ScaleFactor  float64
}

func DefaultConfig() Config {
	return Config{DisplayIndex: 0, ScaleFactor: 1.0}
}

// Backend identifies which capture variant produced a Source, per §4.2's
// three variants: X11 fast path, Wayland portal path, external-tool
// fallback.
type Backend string

const (
	BackendX11           Backend = "x11"
	BackendWaylandPortal Backend = "wayland-portal"
	BackendExternalTool  Backend = "external-tool"
)

// Factory constructs a Source for a given backend preference order, falling
// through to the next candidate on failure (§4.2 failure modes: a backend
// that can't initialize is skipped, not fatal, unless every candidate
// fails).
type Factory func(cfg Config) (Source, Backend, error)

var registry = map[Backend]Factory{}

// Register adds a backend constructor; platform-specific files call this
// from an init().
func Register(b Backend, f Factory) {
	registry[b] = f
}

// Open tries each backend in preference order and returns the first Source
// that initializes successfully.
func Open(cfg Config, preference []Backend) (Source, Backend, error) {
	if len(preference) == 0 {
		preference = []Backend{BackendX11, BackendWaylandPortal, BackendExternalTool}
	}
	var lastErr error
	for _, b := range preference {
		factory, ok := registry[b]
		if !ok {
			continue
		}
		src, got, err := factory(cfg)
		if err == nil {
			log.Info("capture source opened", "backend", got)
			return src, got, nil
		}
		log.Warn("capture backend failed, trying next", "backend", b, "error", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNotSupported
	}
	return nil, "", &CaptureError{Kind: "backend-unavailable", Msg: lastErr.Error()}
}

// Pacer drives a capture loop at a target frame rate unless the source
// implements TightLoopHint (in which case Capture itself blocks until a
// frame is ready and no ticker is needed).
type Pacer struct {
	src      Source
	interval time.Duration
	stop     chan struct{}
}

func NewPacer(src Source, fps int) *Pacer {
	if fps <= 0 {
		fps = 30
	}
	return &Pacer{src: src, interval: time.Second / time.Duration(fps), stop: make(chan struct{})}
}

// Run invokes onFrame for every captured frame until Stop is called or
// onFrame returns false. Frames with no change (FrameChangeHint reporting
// zero accumulated frames, or Capture returning nil,nil) are skipped
// without invoking onFrame.
func (p *Pacer) Run(onFrame func(*image.RGBA) bool) {
	tight, isTight := p.src.(TightLoopHint)
	useTicker := !isTight || !tight.TightLoop()

	var ticker *time.Ticker
	if useTicker {
		ticker = time.NewTicker(p.interval)
		defer ticker.Stop()
	}

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		if useTicker {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
			}
		}

		if changer, ok := p.src.(FrameChangeHint); ok && changer.AccumulatedFrames() == 0 {
			continue
		}

		img, err := p.src.Capture()
		if err != nil {
			log.Warn("capture failed", "error", err)
			continue
		}
		if img == nil {
			continue
		}
		if !onFrame(img) {
			return
		}
	}
}

func (p *Pacer) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
}
