package inject

import "time"

const (
	maxRelDelta     = 10000
	maxScrollClicks = 100
	maxTextLen      = 10000
	maxComboKeys    = 10
)

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// typeTextWith implements §4.5's type_text contract: "for each char:
// (keycode, modifiers) = map(char); stroke(keycode, modifiers);
// sleep(10 ms)". strokeRune performs the backend-specific keycode lookup
// and stroke; typeTextWith owns validation, the empty-string no-op (§8
// boundary: type_text("") is a no-op success), and the inter-character
// delay.
func typeTextWith(text string, strokeRune func(r rune) error) error {
	if len(text) > maxTextLen {
		return inputErr("invalid-coords", "text length %d exceeds max %d", len(text), maxTextLen)
	}
	if text == "" {
		return nil
	}
	for _, r := range text {
		if err := strokeRune(r); err != nil {
			return err
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// combinationWith implements §4.5's combination([keys]) contract: press
// each key in order, then release in reverse order. pressRelease is called
// once per key per phase with press=true then press=false.
func combinationWith(keys []string, pressRelease func(key string, press bool) error) error {
	if len(keys) == 0 {
		return inputErr("invalid", "key combination must name at least one key")
	}
	if len(keys) > maxComboKeys {
		return inputErr("invalid-coords", "combination has %d keys, exceeds max %d", len(keys), maxComboKeys)
	}
	for _, k := range keys {
		if err := pressRelease(k, true); err != nil {
			return err
		}
	}
	for i := len(keys) - 1; i >= 0; i-- {
		if err := pressRelease(keys[i], false); err != nil {
			return err
		}
	}
	return nil
}
