package inject

import (
	"testing"

	"github.com/breeze-rmm/sessioncore/internal/inputproto"
)

func TestRuneToKeyLowercase(t *testing.T) {
	k, ok := runeToKey('a')
	if !ok {
		t.Fatal("expected 'a' to be mapped")
	}
	if k.evdev != evKeyA || k.shift {
		t.Errorf("got %+v, want evdev=%d shift=false", k, evKeyA)
	}
}

func TestRuneToKeyUppercaseNeedsShift(t *testing.T) {
	k, ok := runeToKey('A')
	if !ok {
		t.Fatal("expected 'A' to be mapped")
	}
	if k.evdev != evKeyA || !k.shift {
		t.Errorf("got %+v, want evdev=%d shift=true", k, evKeyA)
	}
}

func TestRuneToKeyShiftedPunctuation(t *testing.T) {
	k, ok := runeToKey('!')
	if !ok {
		t.Fatal("expected '!' to be mapped via shift table")
	}
	if k.evdev != evKey1 || !k.shift {
		t.Errorf("got %+v, want evdev=%d shift=true", k, evKey1)
	}
}

func TestRuneToKeyUnmapped(t *testing.T) {
	if _, ok := runeToKey('€'); ok {
		t.Error("expected unmapped rune to report ok=false")
	}
}

func TestTypeTextWithEmptyIsNoop(t *testing.T) {
	called := false
	if err := typeTextWith("", func(r rune) error { called = true; return nil }); err != nil {
		t.Fatalf("empty text should be a no-op success: %v", err)
	}
	if called {
		t.Error("stroke callback should not run for empty text")
	}
}

func TestTypeTextWithTooLong(t *testing.T) {
	text := make([]byte, maxTextLen+1)
	err := typeTextWith(string(text), func(r rune) error { return nil })
	if err == nil {
		t.Fatal("expected error for text exceeding max length")
	}
}

func TestTypeTextWithStopsOnUnmappedChar(t *testing.T) {
	count := 0
	err := typeTextWith("ab€c", func(r rune) error {
		count++
		if r == '€' {
			return inputErr("key-mapping-failed", "unmapped character %q", r)
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected key-mapping-failed error")
	}
	if ie, ok := err.(*inputproto.InputError); !ok || ie.Kind != "key-mapping-failed" {
		t.Errorf("err = %v, want InputError(key-mapping-failed)", err)
	}
	if count != 3 {
		t.Errorf("stroke callback ran %d times, want 3 (stops at the failing char)", count)
	}
}

func TestCombinationWithEmptyIsInvalid(t *testing.T) {
	err := combinationWith(nil, func(key string, press bool) error { return nil })
	if err == nil {
		t.Fatal("expected error for empty combination")
	}
	if ie, ok := err.(*inputproto.InputError); !ok || ie.Kind != "invalid" {
		t.Errorf("err = %v, want InputError(invalid)", err)
	}
}

func TestCombinationWithTooManyKeys(t *testing.T) {
	keys := make([]string, maxComboKeys+1)
	for i := range keys {
		keys[i] = "a"
	}
	if err := combinationWith(keys, func(key string, press bool) error { return nil }); err == nil {
		t.Error("expected error for combination exceeding max keys")
	}
}

func TestCombinationWithPressOrderThenReverseRelease(t *testing.T) {
	var order []string
	keys := []string{"ctrl", "alt", "delete"}
	err := combinationWith(keys, func(key string, press bool) error {
		if press {
			order = append(order, "press:"+key)
		} else {
			order = append(order, "release:"+key)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{
		"press:ctrl", "press:alt", "press:delete",
		"release:delete", "release:alt", "release:ctrl",
	}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestCursorMoveAbsoluteThenAbsoluteIsIdempotent(t *testing.T) {
	var c cursor
	c.set(100, 200)
	c.set(100, 200)
	x, y := c.get()
	if x != 100 || y != 200 {
		t.Errorf("got (%d, %d), want (100, 200)", x, y)
	}
}

func TestCursorRelativeAccumulates(t *testing.T) {
	var c cursor
	c.set(0, 0)
	c.add(10, -5)
	c.add(10, -5)
	x, y := c.get()
	if x != 20 || y != -10 {
		t.Errorf("got (%d, %d), want (20, -10)", x, y)
	}
}

func TestBlockUserInputRoundTrip(t *testing.T) {
	if Blocked() {
		t.Fatal("expected unblocked initial state")
	}
	SetBlocked(true)
	if !Blocked() {
		t.Fatal("expected blocked after SetBlocked(true)")
	}
	SetBlocked(false)
	if Blocked() {
		t.Fatal("expected unblocked after SetBlocked(false)")
	}
}

func TestValidateCoordsRejectsNegative(t *testing.T) {
	if err := validateCoords(-1, 5); err == nil {
		t.Fatal("expected error for negative x")
	}
	if err := validateCoords(5, 5); err != nil {
		t.Errorf("unexpected error for valid coords: %v", err)
	}
}
