//go:build linux

package inject

/*
#cgo CFLAGS: -I/usr/include
#cgo LDFLAGS: -lX11 -lXtst

#include <X11/Xlib.h>
#include <X11/extensions/XTest.h>
#include <X11/keysym.h>
#include <stdlib.h>

static Display* xtestOpen() {
    return XOpenDisplay(NULL);
}

static int xtestMotion(Display* d, int x, int y) {
    int ok = XTestFakeMotionEvent(d, -1, x, y, 0);
    XFlush(d);
    return ok ? 0 : 1;
}

static int xtestRelMotion(Display* d, int dx, int dy) {
    int ok = XTestFakeRelativeMotionEvent(d, dx, dy, 0);
    XFlush(d);
    return ok ? 0 : 1;
}

static int xtestButton(Display* d, unsigned int button, int press) {
    int ok = XTestFakeButtonEvent(d, button, press ? True : False, 0);
    XFlush(d);
    return ok ? 0 : 1;
}

static int xtestKeycode(Display* d, unsigned int keycode, int press) {
    int ok = XTestFakeKeyEvent(d, keycode, press ? True : False, 0);
    XFlush(d);
    return ok ? 0 : 1;
}

static unsigned int xtestKeysymToKeycode(Display* d, const char* name) {
    KeySym sym = XStringToKeysym(name);
    if (sym == NoSymbol) {
        return 0;
    }
    return XKeysymToKeycode(d, sym);
}

// x11GrabInput takes an active (server) grab of the pointer and keyboard on
// the root window, then enables XTestGrabControl so XTEST-synthesized events
// bypass the grab we just took. This is how the local physical user's input
// is suppressed while the technician's injected events keep flowing.
static int x11GrabInput(Display* d) {
    Window root = DefaultRootWindow(d);
    int pg = XGrabPointer(d, root, False,
        ButtonPressMask | ButtonReleaseMask | PointerMotionMask,
        GrabModeAsync, GrabModeAsync, None, None, CurrentTime);
    int kg = XGrabKeyboard(d, root, False, GrabModeAsync, GrabModeAsync, CurrentTime);
    XTestGrabControl(d, True);
    XFlush(d);
    if (pg != GrabSuccess || kg != GrabSuccess) {
        return 1;
    }
    return 0;
}

static void x11UngrabInput(Display* d) {
    XTestGrabControl(d, False);
    XUngrabPointer(d, CurrentTime);
    XUngrabKeyboard(d, CurrentTime);
    XFlush(d);
}
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/breeze-rmm/sessioncore/internal/inputproto"
)

func init() {
	Register(BackendX11Native, func(cfg Config) (Injector, error) {
		inj, err := newX11Injector()
		if err != nil {
			return nil, err
		}
		return inj, nil
	})
}

// x11Injector drives the X11 test/fake-input extension (XTEST), §4.5's
// "X11 native injection" variant. It keeps (current_x, current_y) itself
// because XTestFakeRelativeMotionEvent moves relative to the pointer's
// actual on-screen position, which this injector does not otherwise track.
type x11Injector struct {
	mu      sync.Mutex
	display *C.Display
	cur     cursor
	healthy bool
}

func newX11Injector() (*x11Injector, error) {
	d := C.xtestOpen()
	if d == nil {
		return nil, inputErr("not-initialized", "XOpenDisplay failed (is DISPLAY set?)")
	}
	return &x11Injector{display: d, healthy: true}, nil
}

func (x *x11Injector) MoveAbsolute(px, py int) error {
	if err := validateCoords(px, py); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if C.xtestMotion(x.display, C.int(px), C.int(py)) != 0 {
		return inputErr("not-initialized", "XTestFakeMotionEvent failed")
	}
	x.cur.set(px, py)
	return nil
}

func (x *x11Injector) MoveRelative(dx, dy int) error {
	if abs(dx) > maxRelDelta || abs(dy) > maxRelDelta {
		return inputErr("invalid-coords", "relative delta exceeds %d px: (%d, %d)", maxRelDelta, dx, dy)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if C.xtestRelMotion(x.display, C.int(dx), C.int(dy)) != 0 {
		return inputErr("not-initialized", "XTestFakeRelativeMotionEvent failed")
	}
	x.cur.add(dx, dy)
	return nil
}

func x11ButtonCode(b inputproto.MouseButton) C.uint {
	switch b {
	case inputproto.ButtonRight:
		return 3
	case inputproto.ButtonMiddle:
		return 2
	case inputproto.ButtonX1:
		return 8
	case inputproto.ButtonX2:
		return 9
	default:
		return 1
	}
}

func (x *x11Injector) Button(kind ClickKind, button inputproto.MouseButton, px, py int) error {
	if (kind == Click || kind == Double) && (px != 0 || py != 0) {
		if err := x.MoveAbsolute(px, py); err != nil {
			return err
		}
	}
	btn := x11ButtonCode(button)

	x.mu.Lock()
	defer x.mu.Unlock()

	press := func() error {
		if C.xtestButton(x.display, btn, 1) != 0 {
			return inputErr("not-initialized", "XTestFakeButtonEvent press failed")
		}
		return nil
	}
	release := func() error {
		if C.xtestButton(x.display, btn, 0) != 0 {
			return inputErr("not-initialized", "XTestFakeButtonEvent release failed")
		}
		return nil
	}

	switch kind {
	case Press:
		return press()
	case Release:
		return release()
	case Click:
		if err := press(); err != nil {
			return err
		}
		return release()
	case Double:
		for i := 0; i < 2; i++ {
			if err := press(); err != nil {
				return err
			}
			if err := release(); err != nil {
				return err
			}
		}
		return nil
	default:
		return inputErr("invalid", "unknown click kind %q", kind)
	}
}

func (x *x11Injector) Scroll(direction inputproto.ScrollDirection, clicks int) error {
	if clicks > maxScrollClicks {
		return inputErr("invalid-coords", "scroll clicks %d exceeds max %d", clicks, maxScrollClicks)
	}
	var btn C.uint
	switch direction {
	case inputproto.ScrollDown:
		btn = 5
	case inputproto.ScrollLeft:
		btn = 6
	case inputproto.ScrollRight:
		btn = 7
	default:
		btn = 4 // up
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for i := 0; i < clicks; i++ {
		if C.xtestButton(x.display, btn, 1) != 0 || C.xtestButton(x.display, btn, 0) != 0 {
			return inputErr("not-initialized", "scroll button event failed")
		}
	}
	return nil
}

// modifierKeycode returns the XTEST keycode for a modifier name.
func (x *x11Injector) modifierKeycode(name string) C.uint {
	cname := C.CString(namedKeyX11[name])
	defer C.free(unsafe.Pointer(cname))
	return C.xtestKeysymToKeycode(x.display, cname)
}

// heldModifiers returns the names of the held modifier keys in press order
// (ctrl, alt, shift, meta). Key presses them before the main key and
// releases them in reverse order after it, per §4.5: "Modifier keys are applied by
// synthesizing extra press/release around the main event in the correct
// order (modifiers pressed first, main key, main key release, modifiers
// released last)."
func (x *x11Injector) heldModifiers(mods inputproto.Modifiers) []string {
	var names []string
	if mods.Ctrl {
		names = append(names, "ctrl")
	}
	if mods.Alt {
		names = append(names, "alt")
	}
	if mods.Shift {
		names = append(names, "shift")
	}
	if mods.Meta {
		names = append(names, "meta")
	}
	return names
}

func (x *x11Injector) keycodeForKey(key string) (C.uint, error) {
	if code, ok := namedKeyX11[key]; ok {
		cname := C.CString(code)
		defer C.free(unsafe.Pointer(cname))
		kc := C.xtestKeysymToKeycode(x.display, cname)
		if kc == 0 {
			return 0, inputErr("key-mapping-failed", "no keycode for named key %q", key)
		}
		return kc, nil
	}
	if k, ok := runeToKeyString(key); ok {
		cname := C.CString(k)
		defer C.free(unsafe.Pointer(cname))
		kc := C.xtestKeysymToKeycode(x.display, cname)
		if kc == 0 {
			return 0, inputErr("key-mapping-failed", "no keycode for %q", key)
		}
		return kc, nil
	}
	return 0, inputErr("key-mapping-failed", "unmapped key %q", key)
}

// runeToKeyString turns a single-character key string into an X11 keysym
// name (XStringToKeysym accepts single ASCII chars for the common case).
func runeToKeyString(key string) (string, bool) {
	runes := []rune(key)
	if len(runes) != 1 {
		return "", false
	}
	return string(runes[0]), true
}

func (x *x11Injector) Key(action KeyAction, key string, mods inputproto.Modifiers) error {
	kc, err := x.keycodeForKey(key)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	modNames := x.heldModifiers(mods)
	pressMods := func() error {
		for _, m := range modNames {
			mc := x.modifierKeycode(m)
			if mc == 0 {
				continue
			}
			if C.xtestKeycode(x.display, mc, 1) != 0 {
				return inputErr("not-initialized", "modifier press failed")
			}
		}
		return nil
	}
	releaseMods := func() error {
		for i := len(modNames) - 1; i >= 0; i-- {
			mc := x.modifierKeycode(modNames[i])
			if mc == 0 {
				continue
			}
			if C.xtestKeycode(x.display, mc, 0) != 0 {
				return inputErr("not-initialized", "modifier release failed")
			}
		}
		return nil
	}

	switch action {
	case KeyPress:
		if err := pressMods(); err != nil {
			return err
		}
		return toErr(C.xtestKeycode(x.display, kc, 1))
	case KeyRelease:
		if err := toErr(C.xtestKeycode(x.display, kc, 0)); err != nil {
			return err
		}
		return releaseMods()
	case KeyStroke:
		if err := pressMods(); err != nil {
			return err
		}
		if err := toErr(C.xtestKeycode(x.display, kc, 1)); err != nil {
			return err
		}
		if err := toErr(C.xtestKeycode(x.display, kc, 0)); err != nil {
			return err
		}
		return releaseMods()
	default:
		return inputErr("invalid", "unknown key action %q", action)
	}
}

func toErr(code C.int) error {
	if code != 0 {
		return inputErr("not-initialized", "XTestFakeKeyEvent failed")
	}
	return nil
}

func (x *x11Injector) TypeText(text string) error {
	return typeTextWith(text, func(r rune) error {
		k, ok := runeToKey(r)
		if !ok {
			return inputErr("key-mapping-failed", "unmapped character %q", r)
		}
		mods := inputproto.Modifiers{Shift: k.shift}
		return x.Key(KeyStroke, string(r), mods)
	})
}

func (x *x11Injector) Combination(keys []string) error {
	return combinationWith(keys, func(key string, press bool) error {
		kc, err := x.keycodeForKey(key)
		if err != nil {
			return err
		}
		x.mu.Lock()
		defer x.mu.Unlock()
		return toErr(C.xtestKeycode(x.display, kc, boolToC(press)))
	})
}

func boolToC(b bool) C.int {
	if b {
		return 1
	}
	return 0
}

func (x *x11Injector) ClipboardSet(text string) error {
	return clipboardSetExternal(text)
}

func (x *x11Injector) ClipboardGet() (string, error) {
	return clipboardGetExternal()
}

// BlockUserInput grabs (or releases) the pointer and keyboard on the root
// window so the local physical user's events stop reaching clients, while
// XTestGrabControl keeps this injector's own synthesized events flowing
// through regardless of grab state (§4.5: "injected events proceed; local
// user input is suppressed when the platform supports it"). The grab is
// best-effort: a window manager or another client already holding a grab can
// make XGrabPointer/XGrabKeyboard fail, so a partial grab is logged rather
// than returned as an error.
func (x *x11Injector) BlockUserInput(block bool) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if block {
		if C.x11GrabInput(x.display) != 0 {
			log.Warn("x11 input grab did not fully succeed; local input suppression may be incomplete")
		}
	} else {
		C.x11UngrabInput(x.display)
	}
	SetBlocked(block)
	return nil
}

func (x *x11Injector) IsHealthy() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.healthy && x.display != nil
}

func (x *x11Injector) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.display != nil {
		C.XCloseDisplay(x.display)
		x.display = nil
	}
	x.healthy = false
	return nil
}

var _ Injector = (*x11Injector)(nil)
