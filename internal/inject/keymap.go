package inject

// charKey is one entry of the documented per-character mapping table
// required by §4.5 ("type_text ... per-character mapping is a documented
// table"). Evdev follows Linux's <linux/input-event-codes.h> numbering,
// grounded on the teacher pack's VK->evdev table
// (helixml-helix/api/pkg/desktop/vk_evdev.go), rekeyed here by rune instead
// of Windows VK code since type_text works from UTF-8 text, not VK codes.
type charKey struct {
	evdev int
	shift bool
}

// evdev key codes used below, named for readability.
const (
	evKeyA      = 30
	evKeyB      = 48
	evKeyC      = 46
	evKeyD      = 32
	evKeyE      = 18
	evKeyF      = 33
	evKeyG      = 34
	evKeyH      = 35
	evKeyI      = 23
	evKeyJ      = 36
	evKeyK      = 37
	evKeyL      = 38
	evKeyM      = 50
	evKeyN      = 49
	evKeyO      = 24
	evKeyP      = 25
	evKeyQ      = 16
	evKeyR      = 19
	evKeyS      = 31
	evKeyT      = 20
	evKeyU      = 22
	evKeyV      = 47
	evKeyW      = 17
	evKeyX      = 45
	evKeyY      = 21
	evKeyZ      = 44
	evKey0      = 11
	evKey1      = 2
	evKey2      = 3
	evKey3      = 4
	evKey4      = 5
	evKey5      = 6
	evKey6      = 7
	evKey7      = 8
	evKey8      = 9
	evKey9      = 10
	evKeySpace  = 57
	evKeyEnter  = 28
	evKeyTab    = 15
	evKeyBack   = 14
	evKeyEsc    = 1
	evKeyDel    = 111
	evKeyHome   = 102
	evKeyEnd    = 107
	evKeyPgUp   = 104
	evKeyPgDn   = 109
	evKeyUp     = 103
	evKeyDown   = 108
	evKeyLeft   = 105
	evKeyRight  = 106
	evKeyMinus  = 12
	evKeyEqual  = 13
	evKeyLBrace = 26
	evKeyRBrace = 27
	evKeySemi   = 39
	evKeyApos   = 40
	evKeyGrave  = 41
	evKeyBslash = 43
	evKeyComma  = 51
	evKeyDot    = 52
	evKeySlash  = 53
)

// charTable maps a lowercase/unshifted rune to its evdev keycode; uppercase
// letters and shifted punctuation reuse the same evdev code with shift=true
// (see runeToKey below), exactly mirroring a US QWERTY layout shift rule.
var charTable = map[rune]int{
	'a': evKeyA, 'b': evKeyB, 'c': evKeyC, 'd': evKeyD, 'e': evKeyE,
	'f': evKeyF, 'g': evKeyG, 'h': evKeyH, 'i': evKeyI, 'j': evKeyJ,
	'k': evKeyK, 'l': evKeyL, 'm': evKeyM, 'n': evKeyN, 'o': evKeyO,
	'p': evKeyP, 'q': evKeyQ, 'r': evKeyR, 's': evKeyS, 't': evKeyT,
	'u': evKeyU, 'v': evKeyV, 'w': evKeyW, 'x': evKeyX, 'y': evKeyY,
	'z': evKeyZ,
	'0': evKey0, '1': evKey1, '2': evKey2, '3': evKey3, '4': evKey4,
	'5': evKey5, '6': evKey6, '7': evKey7, '8': evKey8, '9': evKey9,
	' ':  evKeySpace,
	'\n': evKeyEnter,
	'\t': evKeyTab,
	'-':  evKeyMinus, '=': evKeyEqual,
	'[': evKeyLBrace, ']': evKeyRBrace,
	';': evKeySemi, '\'': evKeyApos, '`': evKeyGrave,
	'\\': evKeyBslash, ',': evKeyComma, '.': evKeyDot, '/': evKeySlash,
}

// shiftedTable maps a rune that requires Shift to the unshifted rune whose
// evdev code it shares (e.g. '!' is Shift+'1').
var shiftedTable = map[rune]rune{
	'!': '1', '@': '2', '#': '3', '$': '4', '%': '5',
	'^': '6', '&': '7', '*': '8', '(': '9', ')': '0',
	'_': '-', '+': '=',
	'{': '[', '}': ']',
	':': ';', '"': '\'', '~': '`',
	'|': '\\', '<': ',', '>': '.', '?': '/',
}

// runeToKey resolves r to a charKey, or reports ok=false for a character not
// present in the documented table (§4.5: "unmapped characters fail with
// InputError(key-mapping-failed)").
func runeToKey(r rune) (charKey, bool) {
	if r >= 'A' && r <= 'Z' {
		lower := r - 'A' + 'a'
		if code, ok := charTable[lower]; ok {
			return charKey{evdev: code, shift: true}, true
		}
		return charKey{}, false
	}
	if base, ok := shiftedTable[r]; ok {
		code, ok := charTable[base]
		return charKey{evdev: code, shift: true}, ok
	}
	if code, ok := charTable[r]; ok {
		return charKey{evdev: code, shift: false}, true
	}
	return charKey{}, false
}

// namedKeyEvdev maps the named keys used by Injector.Key / Combination (the
// same vocabulary as inputproto.Event.Key) to evdev codes, for backends that
// need evdev rather than an X11 keysym string.
var namedKeyEvdev = map[string]int{
	"enter": evKeyEnter, "return": evKeyEnter,
	"tab": evKeyTab, "space": evKeySpace,
	"backspace": evKeyBack, "escape": evKeyEsc, "esc": evKeyEsc,
	"delete": evKeyDel, "del": evKeyDel,
	"home": evKeyHome, "end": evKeyEnd,
	"pageup": evKeyPgUp, "pagedown": evKeyPgDn,
	"up": evKeyUp, "down": evKeyDown, "left": evKeyLeft, "right": evKeyRight,
	"shift": 42, "ctrl": 29, "control": 29, "alt": 56,
	"meta": 125, "super": 125, "win": 125, "cmd": 125,
}

// namedKeyX11 maps the same named-key vocabulary to X11 keysym strings
// (suitable for XStringToKeysym), used by the X11 native backend.
var namedKeyX11 = map[string]string{
	"enter": "Return", "return": "Return",
	"tab": "Tab", "space": "space",
	"backspace": "BackSpace", "escape": "Escape", "esc": "Escape",
	"delete": "Delete", "del": "Delete",
	"home": "Home", "end": "End",
	"pageup": "Page_Up", "pagedown": "Page_Down",
	"up": "Up", "down": "Down", "left": "Left", "right": "Right",
	"shift": "Shift_L", "ctrl": "Control_L", "control": "Control_L",
	"alt": "Alt_L", "meta": "Super_L", "super": "Super_L",
	"win": "Super_L", "cmd": "Super_L",
}
