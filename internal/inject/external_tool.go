//go:build linux

package inject

import (
	"os/exec"
	"strconv"
	"strings"

	"github.com/breeze-rmm/sessioncore/internal/inputproto"
)

func init() {
	Register(BackendExternalTool, func(cfg Config) (Injector, error) {
		tool, err := detectExternalInjectTool()
		if err != nil {
			return nil, err
		}
		return &externalToolInjector{tool: tool}, nil
	})
}

type externalInjectTool string

const (
	toolXdotool externalInjectTool = "xdotool"
	toolYdotool externalInjectTool = "ydotool"
	toolWtype   externalInjectTool = "wtype"
	toolWlrctl  externalInjectTool = "wlrctl"
)

func detectExternalInjectTool() (externalInjectTool, error) {
	for _, t := range []externalInjectTool{toolYdotool, toolXdotool, toolWlrctl, toolWtype} {
		if _, err := exec.LookPath(string(t)); err == nil {
			return t, nil
		}
	}
	return "", inputErr("tool-missing", "no external injection tool (ydotool, xdotool, wlrctl, wtype) found in PATH")
}

// externalToolInjector is §4.5's "external-tool fallback" variant: each
// call is a separate child process, so latency is accepted as degraded
// relative to the native backends. Chosen last, after X11 native and
// Wayland portal injection both fail to initialize.
type externalToolInjector struct {
	tool externalInjectTool
	cur  cursor
}

func (e *externalToolInjector) run(args ...string) error {
	if err := exec.Command(string(e.tool), args...).Run(); err != nil {
		return inputErr("not-initialized", "%s %s: %v", e.tool, strings.Join(args, " "), err)
	}
	return nil
}

func (e *externalToolInjector) MoveAbsolute(x, y int) error {
	if err := validateCoords(x, y); err != nil {
		return err
	}
	e.cur.set(x, y)
	switch e.tool {
	case toolXdotool:
		return e.run("mousemove", strconv.Itoa(x), strconv.Itoa(y))
	case toolYdotool:
		return e.run("mousemove", "-a", "-x", strconv.Itoa(x), "-y", strconv.Itoa(y))
	case toolWlrctl:
		return e.run("pointer", "move", strconv.Itoa(x), strconv.Itoa(y))
	default:
		return inputErr("tool-missing", "%s does not support absolute pointer motion", e.tool)
	}
}

func (e *externalToolInjector) MoveRelative(dx, dy int) error {
	if abs(dx) > maxRelDelta || abs(dy) > maxRelDelta {
		return inputErr("invalid-coords", "relative delta exceeds %d px: (%d, %d)", maxRelDelta, dx, dy)
	}
	x, y := e.cur.add(dx, dy)
	switch e.tool {
	case toolXdotool:
		return e.run("mousemove_relative", "--", strconv.Itoa(dx), strconv.Itoa(dy))
	case toolYdotool:
		return e.run("mousemove", strconv.Itoa(dx), strconv.Itoa(dy))
	case toolWlrctl:
		return e.run("pointer", "move", strconv.Itoa(x), strconv.Itoa(y))
	default:
		return inputErr("tool-missing", "%s does not support relative pointer motion", e.tool)
	}
}

func externalButtonArg(tool externalInjectTool, b inputproto.MouseButton) string {
	switch tool {
	case toolXdotool:
		switch b {
		case inputproto.ButtonRight:
			return "3"
		case inputproto.ButtonMiddle:
			return "2"
		default:
			return "1"
		}
	case toolYdotool:
		switch b {
		case inputproto.ButtonRight:
			return "0x1"
		case inputproto.ButtonMiddle:
			return "0x2"
		default:
			return "0x0"
		}
	default:
		switch b {
		case inputproto.ButtonRight:
			return "right"
		case inputproto.ButtonMiddle:
			return "middle"
		default:
			return "left"
		}
	}
}

func (e *externalToolInjector) Button(kind ClickKind, button inputproto.MouseButton, x, y int) error {
	if (kind == Click || kind == Double) && (x != 0 || y != 0) {
		if err := e.MoveAbsolute(x, y); err != nil {
			return err
		}
	}
	arg := externalButtonArg(e.tool, button)

	click := func() error {
		switch e.tool {
		case toolXdotool:
			return e.run("click", arg)
		case toolYdotool:
			return e.run("click", arg)
		case toolWlrctl:
			return e.run("pointer", "click", arg)
		default:
			return inputErr("tool-missing", "%s does not support a mouse click", e.tool)
		}
	}
	press := func(down bool) error {
		action := "mousedown"
		if !down {
			action = "mouseup"
		}
		switch e.tool {
		case toolXdotool:
			return e.run(action, arg)
		default:
			return inputErr("tool-missing", "%s does not support separate press/release", e.tool)
		}
	}

	switch kind {
	case Click:
		return click()
	case Double:
		if err := click(); err != nil {
			return err
		}
		return click()
	case Press:
		return press(true)
	case Release:
		return press(false)
	default:
		return inputErr("invalid", "unknown click kind %q", kind)
	}
}

func (e *externalToolInjector) Scroll(direction inputproto.ScrollDirection, clicks int) error {
	if clicks > maxScrollClicks {
		return inputErr("invalid-coords", "scroll clicks %d exceeds max %d", clicks, maxScrollClicks)
	}
	btn := "4"
	if direction == inputproto.ScrollDown {
		btn = "5"
	}
	if e.tool != toolXdotool {
		return inputErr("tool-missing", "%s does not support scroll wheel events", e.tool)
	}
	for i := 0; i < clicks; i++ {
		if err := e.run("click", btn); err != nil {
			return err
		}
	}
	return nil
}

func (e *externalToolInjector) keyArg(key string) (string, error) {
	if name, ok := xdotoolKeyNames[key]; ok {
		return name, nil
	}
	if runes := []rune(key); len(runes) == 1 {
		if _, ok := runeToKey(runes[0]); ok {
			return string(runes[0]), nil
		}
	}
	return "", inputErr("key-mapping-failed", "unmapped key %q", key)
}

var xdotoolKeyNames = map[string]string{
	"enter": "Return", "return": "Return", "tab": "Tab", "space": "space",
	"backspace": "BackSpace", "escape": "Escape", "esc": "Escape",
	"delete": "Delete", "del": "Delete", "home": "Home", "end": "End",
	"pageup": "Page_Up", "pagedown": "Page_Down",
	"up": "Up", "down": "Down", "left": "Left", "right": "Right",
	"ctrl": "ctrl", "control": "ctrl", "alt": "alt", "shift": "shift",
	"meta": "super", "super": "super", "win": "super", "cmd": "super",
}

func modifierPrefix(mods inputproto.Modifiers) []string {
	var out []string
	if mods.Ctrl {
		out = append(out, "ctrl")
	}
	if mods.Alt {
		out = append(out, "alt")
	}
	if mods.Shift {
		out = append(out, "shift")
	}
	if mods.Meta {
		out = append(out, "super")
	}
	return out
}

func (e *externalToolInjector) Key(action KeyAction, key string, mods inputproto.Modifiers) error {
	arg, err := e.keyArg(key)
	if err != nil {
		return err
	}
	if e.tool != toolXdotool {
		if action == KeyStroke {
			return e.run("key", arg)
		}
		return inputErr("tool-missing", "%s only supports a combined key stroke", e.tool)
	}
	combo := strings.Join(append(modifierPrefix(mods), arg), "+")
	switch action {
	case KeyPress:
		return e.run("keydown", combo)
	case KeyRelease:
		return e.run("keyup", combo)
	default:
		return e.run("key", combo)
	}
}

func (e *externalToolInjector) TypeText(text string) error {
	if len(text) > maxTextLen {
		return inputErr("invalid-coords", "text length %d exceeds max %d", len(text), maxTextLen)
	}
	if text == "" {
		return nil
	}
	switch e.tool {
	case toolXdotool:
		return e.run("type", "--clearmodifiers", text)
	case toolWtype:
		return e.run(text)
	default:
		return typeTextWith(text, func(r rune) error {
			if _, ok := runeToKey(r); !ok {
				return inputErr("key-mapping-failed", "unmapped character %q", r)
			}
			return e.Key(KeyStroke, string(r), inputproto.Modifiers{})
		})
	}
}

func (e *externalToolInjector) Combination(keys []string) error {
	return combinationWith(keys, func(key string, press bool) error {
		action := KeyPress
		if !press {
			action = KeyRelease
		}
		return e.Key(action, key, inputproto.Modifiers{})
	})
}

func (e *externalToolInjector) ClipboardSet(text string) error {
	return clipboardSetExternal(text)
}

func (e *externalToolInjector) ClipboardGet() (string, error) {
	return clipboardGetExternal()
}

// BlockUserInput is a no-op on this backend: shelling out to xdotool/
// ydotool/wlrctl/wtype gives no way to grab or inhibit the local user's
// input, only to inject synthetic events, which is the half of §4.5 this
// backend already does unconditionally.
func (e *externalToolInjector) BlockUserInput(block bool) error {
	log.Warn("block_user_input is a best-effort no-op on the external-tool injector backend", "requested", block)
	SetBlocked(block)
	return nil
}

func (e *externalToolInjector) IsHealthy() bool {
	_, err := exec.LookPath(string(e.tool))
	return err == nil
}

func (e *externalToolInjector) Close() error { return nil }

var _ Injector = (*externalToolInjector)(nil)
