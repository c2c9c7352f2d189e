// Package inject implements the Input Injector: a capability-set
// abstraction, with platform/compositor-specific variants, that applies
// validated input events (see internal/inputproto) to the local OS (§4.5).
//
// Generalized from internal/remote/desktop's InputHandler family — that
// type only covered an xdotool fallback and the platform-native
// input_{linux,darwin,windows}.go files; this package promotes the same
// idea to a registered-backend selector matching internal/capture's shape,
// and adds the Wayland portal path, clipboard, and block_user_input that
// the teacher's InputHandler never exposed.
package inject

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/sessioncore/internal/inputproto"
	"github.com/breeze-rmm/sessioncore/internal/logging"
)

var log = logging.L("inject")

// ClickKind distinguishes the press/release/click/double variants named in
// §4.5 for Injector.Button.
type ClickKind string

const (
	Press   ClickKind = "press"
	Release ClickKind = "release"
	Click   ClickKind = "click"
	Double  ClickKind = "double"
)

// KeyAction distinguishes press/release/stroke for Injector.Key.
type KeyAction string

const (
	KeyPress  KeyAction = "press"
	KeyRelease KeyAction = "release"
	KeyStroke KeyAction = "stroke"
)

// Injector is the Input Injector contract (§4.5). Every method either
// succeeds or returns an *inputproto.InputError with one of §7's InputError
// kinds (not-initialized, invalid-coords, key-mapping-failed, tool-missing,
// blocked), or the kind "invalid" for an unknown click kind or key action
// and an empty key combination.
type Injector interface {
	MoveAbsolute(x, y int) error
	MoveRelative(dx, dy int) error
	Button(kind ClickKind, button inputproto.MouseButton, x, y int) error
	Scroll(direction inputproto.ScrollDirection, clicks int) error
	Key(action KeyAction, key string, mods inputproto.Modifiers) error
	TypeText(text string) error
	Combination(keys []string) error
	ClipboardSet(text string) error
	ClipboardGet() (string, error)
	BlockUserInput(block bool) error
	IsHealthy() bool
	Close() error
}

// Backend identifies which injector variant is active, mirroring
// capture.Backend's naming (§4.5's four variants plus a platform-native
// catch-all).
type Backend string

const (
	BackendX11Native      Backend = "x11-native"
	BackendWaylandPortal  Backend = "wayland-portal"
	BackendExternalTool   Backend = "external-tool"
	BackendPlatformNative Backend = "platform-native"
)

// Config carries the environment details an injector backend may need at
// open time; unlike capture.Config this has no per-call variant, since
// §4.5 says the injector is "selected once per process."
type Config struct {
	// ScreenWidth/ScreenHeight bound absolute-position conversion for
	// backends whose native protocol is relative-only (the Wayland virtual
	// pointer). Zero means "unknown"; such backends clamp to a best guess.
	ScreenWidth  int
	ScreenHeight int
}

// Factory constructs an Injector for the current environment, or returns an
// error if the backend isn't viable here.
type Factory func(cfg Config) (Injector, error)

var (
	registryMu sync.Mutex
	registry   = map[Backend]Factory{}
)

// Register adds a backend constructor; platform-specific files call this
// from an init().
func Register(b Backend, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[b] = f
}

// Open tries each backend in preference order and returns the first
// Injector that initializes successfully. An empty preference tries X11
// native, Wayland portal, external tool, then platform native. Per §4.5 "chosen once at
// start-up", callers are expected to call this exactly once per process and
// hold onto the result.
func Open(cfg Config, preference []Backend) (Injector, Backend, error) {
	registryMu.Lock()
	candidates := make([]Backend, 0, len(preference))
	candidates = append(candidates, preference...)
	if len(candidates) == 0 {
		candidates = append(candidates, BackendX11Native, BackendWaylandPortal, BackendExternalTool, BackendPlatformNative)
	}
	factories := make(map[Backend]Factory, len(registry))
	for k, v := range registry {
		factories[k] = v
	}
	registryMu.Unlock()

	var lastErr error
	for _, b := range candidates {
		factory, ok := factories[b]
		if !ok {
			continue
		}
		injector, err := factory(cfg)
		if err == nil {
			log.Info("input injector opened", "backend", b)
			return injector, b, nil
		}
		log.Warn("input injector backend failed, trying next", "backend", b, "error", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no input injector backend registered")
	}
	return nil, "", inputErr("not-initialized", "all injector backends failed: %v", lastErr)
}

func inputErr(kind, format string, args ...any) *inputproto.InputError {
	return &inputproto.InputError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// blocked is a process-wide record of the last BlockUserInput request, kept
// for admin/status reporting. It is not consulted by dispatch: injected
// events always flow (§4.5), so the actual local-input suppression lives in
// each backend's BlockUserInput (X11: XGrabPointer/XGrabKeyboard plus
// XTestGrabControl; Wayland and the external-tool fallback: documented
// no-ops, §9 open question).
var blocked atomic.Bool

// SetBlocked records the process-wide input-blocking state for reporting.
func SetBlocked(b bool) {
	blocked.Store(b)
	log.Info("user input block toggled", "blocked", b)
}

// Blocked reports the last-recorded process-wide block state.
func Blocked() bool {
	return blocked.Load()
}

// cursor tracks the last-known pointer position so MoveRelative can be
// implemented on backends (Wayland virtual-pointer, some external tools)
// that only support relative motion natively, mirroring §4.5's X11 native
// note: "Maintains (current_x, current_y) for relative moves."
type cursor struct {
	mu   sync.Mutex
	x, y int
	init bool
}

func (c *cursor) set(x, y int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.x, c.y = x, y
	c.init = true
}

func (c *cursor) add(dx, dy int) (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.x += dx
	c.y += dy
	c.init = true
	return c.x, c.y
}

func (c *cursor) get() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.x, c.y
}

func validateCoords(x, y int) error {
	if x < 0 || y < 0 {
		return inputErr("invalid-coords", "coordinates must be non-negative, got (%d, %d)", x, y)
	}
	return nil
}
